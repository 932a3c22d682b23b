// Package urban ingests the urban map layers from OpenStreetMap through the
// Overpass API, scoped to the municipality's bounding box: transport stops
// (replaced wholesale per source on every run), road segments, and points of
// interest.
package urban

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/fetch"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

const sourceName = "osm_overpass"

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Geometry []overpassPoint   `json:"geometry"`
}

// overpassPoint is one vertex of a way fetched with "out geom".
type overpassPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Connector struct {
	engine *connector.Engine
}

func New(engine *connector.Engine) *Connector {
	return &Connector{engine: engine}
}

func (c *Connector) JobName() string { return "urban_transport_stops_fetch" }

func (c *Connector) Run(ctx context.Context, referencePeriod string, opts connector.RunOptions) connector.Result {
	meta := connector.JobMeta{
		JobName:         c.JobName(),
		Source:          sourceName,
		Dataset:         "transport_stops",
		Wave:            "MVP-6",
		ReferencePeriod: referencePeriod,
	}
	return c.engine.Execute(ctx, meta, opts, c.step)
}

func (c *Connector) step(ctx context.Context, rc connector.RunContext) (*connector.Outcome, error) {
	out := &connector.Outcome{Details: store.JSONMap{}}
	settings := c.engine.Settings()
	storage := c.engine.Storage()

	muni, err := storage.Territories.GetMunicipality(ctx, settings.MunicipalityIBGECode)
	if err != nil {
		return nil, err
	}

	box, err := storage.Territories.BoundingBox(ctx, muni.TerritoryID)
	if err != nil {
		out.Blocked = true
		out.BlockReason = "municipality has no geometry to derive a bounding box from"
		out.Checks = append(out.Checks, check("urban_overpass_resolved", store.CheckWarn, out.BlockReason))
		return out, nil
	}

	query := overpassQuery(box)
	body := "data=" + url.QueryEscape(query)
	raw, _, err := c.engine.Fetch().DownloadBytes(ctx, settings.OverpassURL, fetch.DownloadOptions{
		Method:               "POST",
		Body:                 body,
		MinBytes:             32,
		ExpectedContentTypes: []string{"application/json"},
	})
	if err != nil {
		out.Blocked = true
		out.BlockReason = fmt.Sprintf("overpass query failed: %v", err)
		out.Checks = append(out.Checks, check("urban_overpass_resolved", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("urban_overpass_resolved", store.CheckPass, settings.OverpassURL))

	var resp overpassResponse
	if err := fetch.DecodeJSON(raw, &resp); err != nil {
		return nil, fmt.Errorf("overpass response not decodable: %w", err)
	}
	out.RowsExtracted = int64(len(resp.Elements))

	stops := classifyStops(resp.Elements)
	if len(stops) == 0 {
		out.Blocked = true
		out.BlockReason = "bounding box contains no mapped transport stops"
		out.Checks = append(out.Checks, check("urban_stops_loaded", store.CheckWarn, out.BlockReason))
		return out, nil
	}

	// Road segments and POIs are supplementary layers: an Overpass failure
	// there degrades to a warning instead of blocking the stop load.
	roads := c.fetchRoads(ctx, box, out)
	pois := c.fetchPOIs(ctx, box, out)

	if rc.DryRun {
		byMode := map[string]int{}
		for _, s := range stops {
			byMode[s.Mode]++
		}
		for mode, n := range byMode {
			out.Preview = append(out.Preview, connector.PreviewRow{IndicatorCode: "stops_" + mode, Value: float64(n), Rows: n})
		}
		out.Preview = append(out.Preview,
			connector.PreviewRow{IndicatorCode: "road_segments", Value: float64(len(roads)), Rows: len(roads)},
			connector.PreviewRow{IndicatorCode: "pois", Value: float64(len(pois)), Rows: len(pois)},
		)
		return out, nil
	}

	err = storage.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := storage.Urban.ReplaceTransportStops(ctx, tx, sourceName, stops); err != nil {
			return err
		}
		for i := range roads {
			if err := storage.Urban.UpsertRoadSegment(ctx, tx, &roads[i]); err != nil {
				return err
			}
		}
		for i := range pois {
			if err := storage.Urban.UpsertPOI(ctx, tx, &pois[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("urban layer load failed: %w", err)
	}
	out.RowsWritten = int64(len(stops) + len(roads) + len(pois))
	out.TablesWritten = []string{"urban_transport_stop"}
	if len(roads) > 0 {
		out.TablesWritten = append(out.TablesWritten, "urban_road_segment")
	}
	if len(pois) > 0 {
		out.TablesWritten = append(out.TablesWritten, "urban_poi")
	}
	out.Checks = append(out.Checks, check("urban_stops_loaded", store.CheckPass, fmt.Sprintf("stops=%d", len(stops))))
	out.Details["road_segments"] = len(roads)
	out.Details["pois"] = len(pois)

	art, err := c.engine.Bronze().PersistRawBytes(bronze.Request{
		Source:          sourceName,
		Dataset:         "transport_stops",
		ReferencePeriod: rc.ReferencePeriod,
		RunID:           rc.RunID,
		RawBytes:        raw,
		Extension:       ".json",
		URI:             settings.OverpassURL,
		Origin:          connector.OriginRemote,
		TerritoryScope:  settings.MunicipalityIBGECode,
		TablesWritten:   out.TablesWritten,
		RowsWritten:     len(stops),
		Notes:           out.Warnings,
	})
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("bronze artifact not persisted: %v", err))
	} else {
		out.Bronze = &art
	}
	return out, nil
}

// fetchRoads pulls the classified road network as ways with inline geometry.
func (c *Connector) fetchRoads(ctx context.Context, box *store.BBox, out *connector.Outcome) []store.RoadSegment {
	resp, err := c.queryOverpass(ctx, roadsQuery(box))
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("road layer skipped: %v", err))
		out.Checks = append(out.Checks, check("urban_roads_loaded", store.CheckWarn, err.Error()))
		return nil
	}

	var segments []store.RoadSegment
	for _, el := range resp.Elements {
		if el.Type != "way" || len(el.Geometry) < 2 {
			continue
		}
		line := make(orb.LineString, 0, len(el.Geometry))
		for _, p := range el.Geometry {
			line = append(line, orb.Point{p.Lon, p.Lat})
		}
		segments = append(segments, store.RoadSegment{
			SegmentID:    fmt.Sprintf("osm:way:%d", el.ID),
			Source:       sourceName,
			Name:         el.Tags["name"],
			HighwayClass: el.Tags["highway"],
			GeometryWKT:  wkt.MarshalString(line),
		})
	}
	out.Checks = append(out.Checks, check("urban_roads_loaded", store.CheckPass, fmt.Sprintf("segments=%d", len(segments))))
	return segments
}

// fetchPOIs pulls amenity nodes relevant to service-coverage analysis.
func (c *Connector) fetchPOIs(ctx context.Context, box *store.BBox, out *connector.Outcome) []store.POI {
	resp, err := c.queryOverpass(ctx, poisQuery(box))
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("poi layer skipped: %v", err))
		out.Checks = append(out.Checks, check("urban_pois_loaded", store.CheckWarn, err.Error()))
		return nil
	}

	var pois []store.POI
	for _, el := range resp.Elements {
		if el.Type != "node" || (el.Lat == 0 && el.Lon == 0) {
			continue
		}
		pois = append(pois, store.POI{
			POIID:       fmt.Sprintf("osm:node:%d", el.ID),
			Source:      sourceName,
			Name:        el.Tags["name"],
			Category:    el.Tags["amenity"],
			GeometryWKT: wkt.MarshalString(orb.Point{el.Lon, el.Lat}),
		})
	}
	out.Checks = append(out.Checks, check("urban_pois_loaded", store.CheckPass, fmt.Sprintf("pois=%d", len(pois))))
	return pois
}

func (c *Connector) queryOverpass(ctx context.Context, query string) (*overpassResponse, error) {
	raw, _, err := c.engine.Fetch().DownloadBytes(ctx, c.engine.Settings().OverpassURL, fetch.DownloadOptions{
		Method:               "POST",
		Body:                 "data=" + url.QueryEscape(query),
		MinBytes:             32,
		ExpectedContentTypes: []string{"application/json"},
	})
	if err != nil {
		return nil, err
	}
	var resp overpassResponse
	if err := fetch.DecodeJSON(raw, &resp); err != nil {
		return nil, fmt.Errorf("overpass response not decodable: %w", err)
	}
	return &resp, nil
}

// overpassQuery selects the node types that represent boarding points inside
// the bbox (Overpass order: south, west, north, east).
func overpassQuery(box *store.BBox) string {
	bbox := fmt.Sprintf("%f,%f,%f,%f", box.MinLat, box.MinLon, box.MaxLat, box.MaxLon)
	return fmt.Sprintf(`[out:json][timeout:90];(`+
		`node["highway"="bus_stop"](%s);`+
		`node["public_transport"~"platform|stop_position|station"](%s);`+
		`node["railway"~"station|halt|tram_stop"](%s);`+
		`node["amenity"="bus_station"](%s);`+
		`node["amenity"="ferry_terminal"](%s);`+
		`);out body;`, bbox, bbox, bbox, bbox, bbox)
}

// roadsQuery selects the classified road network; "out geom" inlines the way
// vertices so no separate node lookup is needed.
func roadsQuery(box *store.BBox) string {
	bbox := fmt.Sprintf("%f,%f,%f,%f", box.MinLat, box.MinLon, box.MaxLat, box.MaxLon)
	return fmt.Sprintf(`[out:json][timeout:120];(`+
		`way["highway"~"motorway|trunk|primary|secondary|tertiary|residential|unclassified|service"](%s);`+
		`);out geom;`, bbox)
}

func poisQuery(box *store.BBox) string {
	bbox := fmt.Sprintf("%f,%f,%f,%f", box.MinLat, box.MinLon, box.MaxLat, box.MaxLon)
	return fmt.Sprintf(`[out:json][timeout:90];(`+
		`node["amenity"~"school|hospital|clinic|pharmacy|marketplace|townhall|police|fire_station|community_centre"](%s);`+
		`);out body;`, bbox)
}

func classifyStops(elements []overpassElement) []store.TransportStop {
	var out []store.TransportStop
	for _, el := range elements {
		if el.Type != "node" || (el.Lat == 0 && el.Lon == 0) {
			continue
		}
		out = append(out, store.TransportStop{
			StopID:      fmt.Sprintf("osm:node:%d", el.ID),
			Source:      sourceName,
			Name:        el.Tags["name"],
			Mode:        classifyMode(el.Tags),
			GeometryWKT: wkt.MarshalString(orb.Point{el.Lon, el.Lat}),
		})
	}
	return out
}

// classifyMode maps OSM tags to the platform's mode set; combinations of rail
// and road tags collapse to multimodal.
func classifyMode(tags map[string]string) string {
	rail := tags["railway"] != "" || strings.Contains(tags["public_transport"], "station") && tags["train"] == "yes"
	bus := tags["highway"] == "bus_stop" || tags["amenity"] == "bus_station" || tags["bus"] == "yes"
	ferry := tags["amenity"] == "ferry_terminal" || tags["ferry"] == "yes"

	switch {
	case rail && bus:
		return store.ModeMultimodal
	case ferry:
		return store.ModeFerry
	case rail:
		return store.ModeRail
	case bus:
		return store.ModeBus
	case tags["public_transport"] != "":
		return store.ModeRoad
	default:
		return store.ModeOther
	}
}

func check(name, status, details string) store.PipelineCheck {
	return store.PipelineCheck{CheckName: name, Status: status, Details: details}
}

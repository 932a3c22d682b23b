package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type UrbanStore struct {
	db *sqlx.DB
}

func (us *UrbanStore) UpsertRoadSegment(ctx context.Context, ext sqlx.ExtContext, seg *RoadSegment) error {
	seg.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO urban_road_segment (
		segment_id,
		source,
		name,
		highway_class,
		geometry,
		updated_at
	) VALUES (
		:segment_id,
		:source,
		:name,
		:highway_class,
		ST_GeomFromText(:geometry_wkt, 4326),
		:updated_at
	)
	ON CONFLICT (segment_id, source) DO UPDATE SET
		name = EXCLUDED.name,
		highway_class = EXCLUDED.highway_class,
		geometry = EXCLUDED.geometry,
		updated_at = EXCLUDED.updated_at`

	_, err := sqlx.NamedExecContext(ctx, ext, query, seg)
	if err != nil {
		return fmt.Errorf("road segment upsert failed for %s: %w", seg.SegmentID, err)
	}
	return nil
}

func (us *UrbanStore) UpsertPOI(ctx context.Context, ext sqlx.ExtContext, poi *POI) error {
	poi.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO urban_poi (
		poi_id,
		source,
		name,
		category,
		geometry,
		updated_at
	) VALUES (
		:poi_id,
		:source,
		:name,
		:category,
		ST_GeomFromText(:geometry_wkt, 4326),
		:updated_at
	)
	ON CONFLICT (poi_id, source) DO UPDATE SET
		name = EXCLUDED.name,
		category = EXCLUDED.category,
		geometry = EXCLUDED.geometry,
		updated_at = EXCLUDED.updated_at`

	_, err := sqlx.NamedExecContext(ctx, ext, query, poi)
	if err != nil {
		return fmt.Errorf("poi upsert failed for %s: %w", poi.POIID, err)
	}
	return nil
}

// ReplaceTransportStops swaps the full stop set for a source: delete then
// insert, inside the caller's transaction.
func (us *UrbanStore) ReplaceTransportStops(ctx context.Context, ext sqlx.ExtContext, source string, stops []TransportStop) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM urban_transport_stop WHERE source = $1`, source); err != nil {
		return fmt.Errorf("transport stop sweep failed for source %s: %w", source, err)
	}

	query := `INSERT INTO urban_transport_stop (
		stop_id,
		source,
		name,
		mode,
		geometry,
		updated_at
	) VALUES (
		:stop_id,
		:source,
		:name,
		:mode,
		ST_GeomFromText(:geometry_wkt, 4326),
		:updated_at
	)`

	now := time.Now().UTC()
	for i := range stops {
		stops[i].Source = source
		stops[i].UpdatedAt = now
		if _, err := sqlx.NamedExecContext(ctx, ext, query, &stops[i]); err != nil {
			return fmt.Errorf("transport stop insert failed for %s: %w", stops[i].StopID, err)
		}
	}
	return nil
}

// Package tse ingests electoral open data: the electorate profile and the
// per-municipality/zone vote detail, discovered through the CKAN portal.
// Electoral zones and sections have no published geometry, so their
// dim_territory rows are synthetic proxies anchored to a representative point
// of the municipality.
package tse

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/encoding/charmap"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

// NaoInformado marks missing dimension values in electorate facts.
const NaoInformado = "NAO_INFORMADO"

type ckanResource struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

type ckanPackage struct {
	Success bool `json:"success"`
	Result  struct {
		Name      string         `json:"name"`
		Resources []ckanResource `json:"resources"`
	} `json:"result"`
}

// findPackage walks package ids <prefix>-<year> downward from the requested
// year to the configured oldest acceptable year, returning the first hit and
// the year it landed on.
func (c *Connector) findPackage(ctx context.Context, prefix string, year int) (*ckanPackage, int, []string) {
	settings := c.engine.Settings()
	var warnings []string

	for y := year; y >= settings.TSECkanOldestYear; y-- {
		uri := fmt.Sprintf("%s/api/3/action/package_show", strings.TrimRight(settings.TSECkanBaseURL, "/"))
		var pkg ckanPackage
		err := c.engine.Fetch().GetJSON(ctx, uri, nil, map[string]string{"id": fmt.Sprintf("%s-%d", prefix, y)}, &pkg)
		if err == nil && pkg.Success && len(pkg.Result.Resources) > 0 {
			if y != year {
				warnings = append(warnings, fmt.Sprintf("package %s-%d unavailable; fell back to %d", prefix, year, y))
			}
			return &pkg, y, warnings
		}
		warnings = append(warnings, fmt.Sprintf("package %s-%d not found", prefix, y))
	}
	return nil, 0, warnings
}

// pickResource returns the first resource whose normalized name carries every
// keyword, preferring zipped CSVs.
func pickResource(pkg *ckanPackage, keywords ...string) *ckanResource {
	var matches []ckanResource
	for _, res := range pkg.Result.Resources {
		key := decode.NormalizeKey(res.Name)
		ok := true
		for _, kw := range keywords {
			if !strings.Contains(key, decode.NormalizeKey(kw)) {
				ok = false
				break
			}
		}
		if ok {
			matches = append(matches, res)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		zi := strings.EqualFold(matches[i].Format, "zip")
		zj := strings.EqualFold(matches[j].Format, "zip")
		if zi != zj {
			return zi
		}
		return matches[i].Name < matches[j].Name
	})
	return &matches[0]
}

// streamZippedCSV streams the archive member whose name carries the hint (or
// the first CSV member) row by row without materializing the table. Headers
// arrive normalized; fn gets a name->index map plus each record.
func streamZippedCSV(raw []byte, memberHint string, fn func(cols map[string]int, record []string) error) error {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return fmt.Errorf("archive not readable: %w", err)
	}

	var members []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		members = append(members, f)
	}
	if len(members) == 0 {
		return fmt.Errorf("archive carries no CSV member")
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })

	chosen := members[0]
	if memberHint != "" {
		want := decode.NormalizeKey(memberHint)
		for _, f := range members {
			if strings.Contains(decode.NormalizeKey(f.Name), want) {
				chosen = f
				break
			}
		}
	}

	rc, err := chosen.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	reader := csv.NewReader(charmap.Windows1252.NewDecoder().Reader(rc))
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("CSV header not readable: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[decode.NormalizeKey(h)] = i
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("CSV row not readable: %w", err)
		}
		if err := fn(cols, record); err != nil {
			return err
		}
	}
}

func field(cols map[string]int, record []string, names ...string) string {
	for _, n := range names {
		if i, ok := cols[n]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
	}
	return ""
}

func parseCount(s string) (int64, bool) {
	v, ok := decode.ParseDecimal(s)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

// normalizeRowYear applies the outlier rewrite: years outside [1900, max] are
// replaced with the requested year and counted.
func normalizeRowYear(raw string, requested, max int, rewritten *int64) (int, bool) {
	digits := decode.DigitsOnly(raw)
	if len(digits) < 4 {
		return requested, true
	}
	y, err := strconv.Atoi(digits[:4])
	if err != nil {
		return requested, true
	}
	if y < 1900 || y > max {
		*rewritten++
		return requested, true
	}
	return y, true
}

// ensureZoneTerritory upserts the synthetic electoral-zone row. The geometry
// is the municipality's representative point, marked proxy in metadata.
func (c *Connector) ensureZoneTerritory(ctx context.Context, tx *sqlx.Tx, muni *store.Territory, zone, pointWKT string) (string, error) {
	settings := c.engine.Settings()
	t := &store.Territory{
		Level:                store.LevelElectoralZone,
		ParentTerritoryID:    sql.NullString{String: muni.TerritoryID, Valid: true},
		CanonicalKey:         fmt.Sprintf("tse:zone:%s:%s", settings.MunicipalityIBGECode, zone),
		SourceSystem:         "tse",
		SourceEntityID:       zone,
		TSEZone:              zone,
		Name:                 fmt.Sprintf("Zona Eleitoral %s", zone),
		NormalizedName:       "zona_eleitoral_" + zone,
		UF:                   settings.UF,
		MunicipalityIBGECode: settings.MunicipalityIBGECode,
		SRID:                 settings.CRSEpsg,
		Metadata:             store.JSONMap{"official_status": "proxy"},
	}
	if pointWKT != "" {
		t.GeometryWKT = sql.NullString{String: pointWKT, Valid: true}
	}
	return c.engine.Storage().Territories.UpsertTerritory(ctx, tx, t)
}

func (c *Connector) ensureSectionTerritory(ctx context.Context, tx *sqlx.Tx, zoneID, zone, section, pointWKT string, metadata store.JSONMap) (string, error) {
	settings := c.engine.Settings()
	if metadata == nil {
		metadata = store.JSONMap{}
	}
	metadata["official_status"] = "proxy"

	t := &store.Territory{
		Level:                store.LevelElectoralSection,
		ParentTerritoryID:    sql.NullString{String: zoneID, Valid: true},
		CanonicalKey:         fmt.Sprintf("tse:section:%s:%s:%s", settings.MunicipalityIBGECode, zone, section),
		SourceSystem:         "tse",
		SourceEntityID:       zone + "-" + section,
		TSEZone:              zone,
		TSESection:           section,
		Name:                 fmt.Sprintf("Secao %s (Zona %s)", section, zone),
		NormalizedName:       fmt.Sprintf("secao_%s_zona_%s", section, zone),
		UF:                   settings.UF,
		MunicipalityIBGECode: settings.MunicipalityIBGECode,
		SRID:                 settings.CRSEpsg,
		Metadata:             metadata,
	}
	if pointWKT != "" {
		t.GeometryWKT = sql.NullString{String: pointWKT, Valid: true}
	}
	return c.engine.Storage().Territories.UpsertTerritory(ctx, tx, t)
}

// matchesMunicipality compares UF and the accent-folded municipality name.
func (c *Connector) matchesMunicipality(uf, name string) bool {
	settings := c.engine.Settings()
	if !strings.EqualFold(strings.TrimSpace(uf), settings.UF) {
		return false
	}
	return decode.NormalizeKey(name) == decode.NormalizeKey(settings.MunicipalityName)
}

// Connector is the shared base of the electorate and results jobs.
type Connector struct {
	engine *connector.Engine
	job    string
	step   connector.StepFunc
	meta   connector.JobMeta
}

func (c *Connector) JobName() string { return c.job }

func (c *Connector) Run(ctx context.Context, referencePeriod string, opts connector.RunOptions) connector.Result {
	meta := c.meta
	meta.ReferencePeriod = referencePeriod
	return c.engine.Execute(ctx, meta, opts, c.step)
}

func check(name, status, details string) store.PipelineCheck {
	return store.PipelineCheck{CheckName: name, Status: status, Details: details}
}

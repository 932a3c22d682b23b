// Package ibge loads the official territorial meshes (municipality, district,
// census sector) from UF-scoped shapefile archives into dim_territory.
package ibge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/jmoiron/sqlx"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/fetch"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

// Level URI templates on the IBGE geo mirror. The meshes ship in SIRGAS 2000
// (EPSG 4674), which is also the platform default, so no reprojection happens
// here; a differing CRS_EPSG is recorded on the rows as-is.
var levelTemplates = map[string]string{
	store.LevelMunicipality: "https://geoftp.ibge.gov.br/organizacao_do_territorio/malhas_territoriais/malhas_municipais/municipio_{reference_period}/UFs/{uf}/{uf}_Municipios_{reference_period}.zip",
	store.LevelDistrict:     "https://geoftp.ibge.gov.br/organizacao_do_territorio/malhas_territoriais/malhas_de_setores_censitarios__divisoes_intramunicipais/{reference_period}/malha_com_atributos/distritos/shp/UF/{uf}/{uf}_distritos.zip",
	store.LevelCensusSector: "https://geoftp.ibge.gov.br/organizacao_do_territorio/malhas_territoriais/malhas_de_setores_censitarios__divisoes_intramunicipais/{reference_period}/malha_com_atributos/setores/shp/UF/{uf}/{uf}_setores.zip",
}

var levelOrder = []string{store.LevelMunicipality, store.LevelDistrict, store.LevelCensusSector}

type Connector struct {
	engine *connector.Engine
}

func New(engine *connector.Engine) *Connector {
	return &Connector{engine: engine}
}

func (c *Connector) JobName() string { return "ibge_geometries_fetch" }

func (c *Connector) Run(ctx context.Context, referencePeriod string, opts connector.RunOptions) connector.Result {
	meta := connector.JobMeta{
		JobName:         c.JobName(),
		Source:          "ibge",
		Dataset:         "territorial_mesh",
		Wave:            "MVP-1",
		ReferencePeriod: referencePeriod,
	}
	return c.engine.Execute(ctx, meta, opts, c.step)
}

type levelLoad struct {
	level    string
	features []feature
	raw      []byte
	uri      string
	origin   string
}

type feature struct {
	code string
	name string
	geom orb.Geometry
}

func (c *Connector) step(ctx context.Context, rc connector.RunContext) (*connector.Outcome, error) {
	const component = "IBGEConnector"
	out := &connector.Outcome{Details: store.JSONMap{}}
	settings := c.engine.Settings()

	var loads []levelLoad
	for _, level := range levelOrder {
		load, warns := c.fetchLevel(ctx, rc, level)
		out.Warnings = append(out.Warnings, warns...)
		if load == nil {
			continue
		}
		loads = append(loads, *load)
	}
	if len(loads) == 0 {
		out.Blocked = true
		out.BlockReason = "no territorial mesh could be fetched for any level"
		out.Checks = append(out.Checks, check("ibge_source_resolved", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("ibge_source_resolved", store.CheckPass, fmt.Sprintf("levels=%d", len(loads))))

	// The municipality polygon must be present; districts and sectors hang off
	// of it.
	var muniFeature *feature
	var muniLoad *levelLoad
	for i := range loads {
		if loads[i].level != store.LevelMunicipality {
			continue
		}
		muniLoad = &loads[i]
		f, matchedByName := selectMunicipality(loads[i].features, settings.MunicipalityIBGECode, settings.MunicipalityName)
		if f != nil {
			muniFeature = f
			if matchedByName {
				out.Warnings = append(out.Warnings, fmt.Sprintf("municipality %s matched by name only; mesh carries no code %s", settings.MunicipalityName, settings.MunicipalityIBGECode))
			}
		}
	}
	if muniFeature == nil {
		out.Blocked = true
		out.BlockReason = fmt.Sprintf("municipality %s not present in the mesh", settings.MunicipalityIBGECode)
		out.Checks = append(out.Checks, check("ibge_municipality_geometry_loaded", store.CheckFail, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("ibge_municipality_geometry_loaded", store.CheckPass, "code="+muniFeature.code))

	rowsPerLevel := map[string]int{}
	for _, load := range loads {
		if load.level == store.LevelMunicipality {
			rowsPerLevel[load.level] = 1
			continue
		}
		count := 0
		for _, f := range load.features {
			if strings.HasPrefix(f.code, settings.MunicipalityIBGECode) {
				count++
			}
		}
		rowsPerLevel[load.level] = count
	}
	out.RowsExtracted = int64(rowsPerLevel[store.LevelMunicipality] + rowsPerLevel[store.LevelDistrict] + rowsPerLevel[store.LevelCensusSector])

	if rc.DryRun {
		for level, n := range rowsPerLevel {
			out.Preview = append(out.Preview, connector.PreviewRow{IndicatorCode: "territories_" + level, Value: float64(n), Rows: n})
		}
		return out, nil
	}

	storage := c.engine.Storage()
	err := storage.WithTx(ctx, func(tx *sqlx.Tx) error {
		muniID, err := c.upsertFeature(ctx, tx, store.LevelMunicipality, *muniFeature, "")
		if err != nil {
			return err
		}
		out.RowsWritten++

		for _, load := range loads {
			if load.level == store.LevelMunicipality {
				continue
			}
			for _, f := range load.features {
				if !strings.HasPrefix(f.code, settings.MunicipalityIBGECode) {
					continue
				}
				if _, err := c.upsertFeature(ctx, tx, load.level, f, muniID); err != nil {
					return err
				}
				out.RowsWritten++
			}
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("territorial mesh load failed: %w", err)
	}
	out.TablesWritten = []string{"dim_territory"}
	out.Details["rows_per_level"] = rowsPerLevel
	out.Checks = append(out.Checks, check("ibge_territories_loaded", store.CheckPass, fmt.Sprintf("rows=%d", out.RowsWritten)))

	c.engine.Logger().Info(component, "Mesh loaded: municipality=%s rows=%d", settings.MunicipalityIBGECode, out.RowsWritten)

	art, err := c.engine.Bronze().PersistRawBytes(bronze.Request{
		Source:          "ibge",
		Dataset:         "territorial_mesh",
		ReferencePeriod: rc.ReferencePeriod,
		RunID:           rc.RunID,
		RawBytes:        muniLoad.raw,
		Extension:       ".zip",
		URI:             muniLoad.uri,
		Origin:          muniLoad.origin,
		TerritoryScope:  settings.MunicipalityIBGECode,
		TablesWritten:   out.TablesWritten,
		RowsWritten:     int(out.RowsWritten),
		Notes:           out.Warnings,
	})
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("bronze artifact not persisted: %v", err))
	} else {
		out.Bronze = &art
	}
	return out, nil
}

// fetchLevel downloads one level's archive, falling back to the manual drop.
// An unavailable district or sector mesh is a warning, not a failure.
func (c *Connector) fetchLevel(ctx context.Context, rc connector.RunContext, level string) (*levelLoad, []string) {
	settings := c.engine.Settings()
	var warnings []string

	uri := strings.NewReplacer(
		"{reference_period}", rc.ReferenceYear,
		"{uf}", strings.ToUpper(settings.UF),
	).Replace(levelTemplates[level])

	raw, _, err := c.engine.Fetch().DownloadBytes(ctx, uri, fetch.DownloadOptions{MinBytes: 1024})
	if err == nil {
		features, parseErr := parseShapefileZip(raw)
		if parseErr == nil {
			return &levelLoad{level: level, features: features, raw: raw, uri: uri, origin: connector.OriginRemote}, warnings
		}
		warnings = append(warnings, fmt.Sprintf("mesh archive for %s not parseable: %v", level, parseErr))
	} else {
		warnings = append(warnings, fmt.Sprintf("mesh for level %s unavailable: %v", level, err))
	}

	manual := manualMeshFor(settings.ManualDir("ibge"), level)
	if manual == "" {
		return nil, warnings
	}
	raw, err = os.ReadFile(manual)
	if err != nil {
		return nil, append(warnings, fmt.Sprintf("manual mesh %s not readable: %v", manual, err))
	}
	features, err := parseShapefileZip(raw)
	if err != nil {
		return nil, append(warnings, fmt.Sprintf("manual mesh %s not parseable: %v", manual, err))
	}
	return &levelLoad{level: level, features: features, raw: raw, uri: "file://" + manual, origin: connector.OriginManual}, warnings
}

func manualMeshFor(dir, level string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	keyword := map[string]string{
		store.LevelMunicipality: "municipio",
		store.LevelDistrict:     "distrito",
		store.LevelCensusSector: "setor",
	}[level]

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ".zip" {
			continue
		}
		if strings.Contains(decode.NormalizeKey(e.Name()), keyword) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

func (c *Connector) upsertFeature(ctx context.Context, tx *sqlx.Tx, level string, f feature, parentID string) (string, error) {
	settings := c.engine.Settings()

	geomWKT := sql.NullString{}
	if f.geom != nil {
		geomWKT = sql.NullString{String: wkt.MarshalString(f.geom), Valid: true}
	}

	t := &store.Territory{
		Level:                level,
		CanonicalKey:         fmt.Sprintf("ibge:%s:%s", level, f.code),
		SourceSystem:         "ibge",
		SourceEntityID:       f.code,
		IBGEGeocode:          f.code,
		Name:                 f.name,
		NormalizedName:       decode.NormalizeKey(f.name),
		UF:                   settings.UF,
		MunicipalityIBGECode: settings.MunicipalityIBGECode,
		GeometryWKT:          geomWKT,
		SRID:                 settings.CRSEpsg,
		Metadata:             store.JSONMap{"mesh_level": level},
	}
	if parentID != "" {
		t.ParentTerritoryID = sql.NullString{String: parentID, Valid: true}
	}
	return c.engine.Storage().Territories.UpsertTerritory(ctx, tx, t)
}

// selectMunicipality prefers the code match; the name fallback is reported so
// operators notice code drift between mesh vintages.
func selectMunicipality(features []feature, code, name string) (*feature, bool) {
	for i := range features {
		if decode.DigitsOnly(features[i].code) == code {
			return &features[i], false
		}
	}
	want := decode.NormalizeKey(name)
	if want == "" {
		return nil, false
	}
	for i := range features {
		if decode.NormalizeKey(features[i].name) == want {
			return &features[i], true
		}
	}
	return nil, false
}

func check(name, status, details string) store.PipelineCheck {
	return store.PipelineCheck{CheckName: name, Status: status, Details: details}
}

package tse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/fetch"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

// NewElectorate builds the electorate-profile connector: CKAN discovery with
// year fallback, municipality and zone aggregation, optional section-level
// enrichment from the polling-place file.
func NewElectorate(engine *connector.Engine) *Connector {
	c := &Connector{
		engine: engine,
		job:    "tse_electorate_fetch",
		meta: connector.JobMeta{
			JobName: "tse_electorate_fetch",
			Source:  "tse",
			Dataset: "electorate_profile",
			Wave:    "MVP-1",
		},
	}
	c.step = c.electorateStep
	return c
}

type dimKey struct {
	year int
	sex  string
	age  string
	edu  string
}

type zoneDimKey struct {
	zone string
	dim  dimKey
}

type sectionInfo struct {
	zone    string
	section string
	voters  int64
	place   string
}

func (c *Connector) electorateStep(ctx context.Context, rc connector.RunContext) (*connector.Outcome, error) {
	out := &connector.Outcome{Details: store.JSONMap{}}
	settings := c.engine.Settings()
	storage := c.engine.Storage()

	requestedYear, err := strconv.Atoi(rc.ReferenceYear)
	if err != nil {
		return nil, fmt.Errorf("reference year %q not numeric", rc.ReferenceYear)
	}
	maxYear := time.Now().UTC().Year() + 1

	muni, err := storage.Territories.GetMunicipality(ctx, settings.MunicipalityIBGECode)
	if err != nil {
		return nil, err
	}

	pkg, _, warns := c.findPackage(ctx, "eleitorado", requestedYear)
	out.Warnings = append(out.Warnings, warns...)
	if pkg == nil {
		out.Blocked = true
		out.BlockReason = "no electorate package available back to the configured oldest year"
		out.Checks = append(out.Checks, check("tse_source_resolved", store.CheckWarn, out.BlockReason))
		return out, nil
	}

	res := pickResource(pkg, "perfil_eleitorado")
	if res == nil {
		out.Blocked = true
		out.BlockReason = fmt.Sprintf("package %s has no electorate-profile resource", pkg.Result.Name)
		out.Checks = append(out.Checks, check("tse_source_resolved", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("tse_source_resolved", store.CheckPass, res.URL))

	raw, _, err := c.engine.Fetch().DownloadBytes(ctx, res.URL, fetch.DownloadOptions{MinBytes: 1024})
	if err != nil {
		return nil, fmt.Errorf("electorate resource download failed: %w", err)
	}

	muniAgg := map[dimKey]int64{}
	zoneAgg := map[zoneDimKey]int64{}
	var rowsSeen, rewritten int64

	err = streamZippedCSV(raw, settings.UF, func(cols map[string]int, record []string) error {
		rowsSeen++
		if !c.matchesMunicipality(field(cols, record, "sg_uf", "uf"), field(cols, record, "nm_municipio", "municipio")) {
			return nil
		}
		voters, ok := parseCount(field(cols, record, "qt_eleitores_perfil", "qt_eleitores", "quantidade"))
		if !ok || voters < 0 {
			return nil
		}
		year, _ := normalizeRowYear(field(cols, record, "ano_eleicao", "ano"), requestedYear, maxYear, &rewritten)

		dim := dimKey{
			year: year,
			sex:  orNaoInformado(field(cols, record, "ds_genero", "genero", "sexo")),
			age:  orNaoInformado(field(cols, record, "ds_faixa_etaria", "faixa_etaria")),
			edu:  orNaoInformado(field(cols, record, "ds_grau_escolaridade", "grau_escolaridade", "escolaridade")),
		}
		muniAgg[dim] += voters

		if zone := field(cols, record, "nr_zona", "zona"); zone != "" {
			zoneAgg[zoneDimKey{zone: zone, dim: dim}] += voters
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("electorate stream failed: %w", err)
	}
	out.RowsExtracted = rowsSeen

	if len(muniAgg) == 0 {
		out.Blocked = true
		out.BlockReason = fmt.Sprintf("municipality %s absent from the electorate profile", settings.MunicipalityName)
		out.Checks = append(out.Checks, check("tse_municipality_row_found", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("tse_municipality_row_found", store.CheckPass, fmt.Sprintf("dims=%d zones=%d", len(muniAgg), len(zoneAgg))))

	sections, sectionWarns := c.loadSections(ctx, pkg, settings.UF)
	out.Warnings = append(out.Warnings, sectionWarns...)

	if rewritten > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%d rows carried an implausible election year and were rewritten to %d", rewritten, requestedYear))
	}
	out.Details["outlier_year_rows_rewritten"] = rewritten

	if rc.DryRun {
		out.Preview = append(out.Preview,
			connector.PreviewRow{IndicatorCode: "electorate_municipality_dims", Value: float64(len(muniAgg)), Rows: len(muniAgg)},
			connector.PreviewRow{IndicatorCode: "electorate_zone_dims", Value: float64(len(zoneAgg)), Rows: len(zoneAgg)},
			connector.PreviewRow{IndicatorCode: "electorate_sections", Value: float64(len(sections)), Rows: len(sections)},
		)
		return out, nil
	}

	pointWKT, err := storage.Territories.RepresentativePointWKT(ctx, muni.TerritoryID)
	if err != nil {
		pointWKT = ""
		out.Warnings = append(out.Warnings, "municipality has no geometry yet; proxy territories created without a point")
	}

	now := time.Now().UTC()
	err = storage.WithTx(ctx, func(tx *sqlx.Tx) error {
		for dim, voters := range muniAgg {
			fact := &store.ElectorateFact{
				TerritoryID:   muni.TerritoryID,
				ReferenceYear: dim.year,
				Sex:           dim.sex,
				AgeRange:      dim.age,
				Education:     dim.edu,
				Voters:        voters,
				UpdatedAt:     now,
			}
			if err := storage.Electorate.UpsertElectorateFact(ctx, tx, fact); err != nil {
				return err
			}
			out.RowsWritten++
		}

		zoneIDs := map[string]string{}
		for zk, voters := range zoneAgg {
			zoneID, ok := zoneIDs[zk.zone]
			if !ok {
				var err error
				zoneID, err = c.ensureZoneTerritory(ctx, tx, muni, zk.zone, pointWKT)
				if err != nil {
					return err
				}
				zoneIDs[zk.zone] = zoneID
			}
			fact := &store.ElectorateFact{
				TerritoryID:   zoneID,
				ReferenceYear: zk.dim.year,
				Sex:           zk.dim.sex,
				AgeRange:      zk.dim.age,
				Education:     zk.dim.edu,
				Voters:        voters,
				UpdatedAt:     now,
			}
			if err := storage.Electorate.UpsertElectorateFact(ctx, tx, fact); err != nil {
				return err
			}
			out.RowsWritten++
		}

		for _, sec := range sections {
			zoneID, ok := zoneIDs[sec.zone]
			if !ok {
				var err error
				zoneID, err = c.ensureZoneTerritory(ctx, tx, muni, sec.zone, pointWKT)
				if err != nil {
					return err
				}
				zoneIDs[sec.zone] = zoneID
			}
			meta := store.JSONMap{}
			if sec.place != "" {
				meta["polling_place"] = sec.place
			}
			sectionID, err := c.ensureSectionTerritory(ctx, tx, zoneID, sec.zone, sec.section, pointWKT, meta)
			if err != nil {
				return err
			}
			fact := &store.ElectorateFact{
				TerritoryID:   sectionID,
				ReferenceYear: requestedYear,
				Sex:           NaoInformado,
				AgeRange:      NaoInformado,
				Education:     NaoInformado,
				Voters:        sec.voters,
				UpdatedAt:     now,
			}
			if err := storage.Electorate.UpsertElectorateFact(ctx, tx, fact); err != nil {
				return err
			}
			out.RowsWritten++
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("electorate load failed: %w", err)
	}
	out.TablesWritten = []string{"dim_territory", "fact_electorate"}
	out.Checks = append(out.Checks, check("tse_electorate_rows_loaded", store.CheckPass, fmt.Sprintf("rows=%d", out.RowsWritten)))

	art, err := c.engine.Bronze().PersistRawBytes(bronze.Request{
		Source:          "tse",
		Dataset:         "electorate_profile",
		ReferencePeriod: rc.ReferencePeriod,
		RunID:           rc.RunID,
		RawBytes:        raw,
		Extension:       ".zip",
		URI:             res.URL,
		Origin:          connector.OriginRemote,
		TerritoryScope:  settings.MunicipalityIBGECode,
		DatasetVersion:  pkg.Result.Name,
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

// loadSections pulls the polling-place file when the package carries one. The
// enrichment is optional: any failure downgrades to a warning.
func (c *Connector) loadSections(ctx context.Context, pkg *ckanPackage, uf string) ([]sectionInfo, []string) {
	res := pickResource(pkg, "eleitorado_local_votacao")
	if res == nil {
		return nil, nil
	}

	raw, _, err := c.engine.Fetch().DownloadBytes(ctx, res.URL, fetch.DownloadOptions{MinBytes: 1024})
	if err != nil {
		return nil, []string{fmt.Sprintf("polling-place resource unavailable: %v", err)}
	}

	agg := map[string]*sectionInfo{}
	err = streamZippedCSV(raw, uf, func(cols map[string]int, record []string) error {
		if !c.matchesMunicipality(field(cols, record, "sg_uf", "uf"), field(cols, record, "nm_municipio", "municipio")) {
			return nil
		}
		zone := field(cols, record, "nr_zona", "zona")
		section := field(cols, record, "nr_secao", "secao")
		if zone == "" || section == "" {
			return nil
		}
		voters, ok := parseCount(field(cols, record, "qt_eleitor_secao", "qt_eleitor", "qt_eleitores"))
		if !ok || voters < 0 {
			voters = 0
		}
		key := zone + ":" + section
		info, exists := agg[key]
		if !exists {
			info = &sectionInfo{zone: zone, section: section}
			agg[key] = info
		}
		info.voters += voters
		if place := field(cols, record, "nm_local_votacao", "local_votacao"); place != "" {
			info.place = place
		}
		return nil
	})
	if err != nil {
		return nil, []string{fmt.Sprintf("polling-place stream failed: %v", err)}
	}

	out := make([]sectionInfo, 0, len(agg))
	for _, info := range agg {
		out = append(out, *info)
	}
	return out, nil
}

func orNaoInformado(s string) string {
	if s == "" {
		return NaoInformado
	}
	return s
}

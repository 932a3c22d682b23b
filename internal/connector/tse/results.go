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

// NewResults builds the election-results connector over the per-UF
// municipality/zone vote detail resource.
func NewResults(engine *connector.Engine) *Connector {
	c := &Connector{
		engine: engine,
		job:    "tse_results_fetch",
		meta: connector.JobMeta{
			JobName: "tse_results_fetch",
			Source:  "tse",
			Dataset: "election_results",
			Wave:    "MVP-1",
		},
	}
	c.step = c.resultsStep
	return c
}

// The six metrics, with the column aliases the vote-detail vintages use.
var resultMetricColumns = []struct {
	metric     string
	candidates []string
}{
	{store.MetricTurnout, []string{"qt_comparecimento", "comparecimento"}},
	{store.MetricAbstention, []string{"qt_abstencoes", "abstencoes"}},
	{store.MetricVotesTotal, []string{"qt_votos", "qt_total_votos", "total_votos"}},
	{store.MetricVotesValid, []string{"qt_votos_validos", "votos_validos"}},
	{store.MetricVotesBlank, []string{"qt_votos_brancos", "votos_brancos"}},
	{store.MetricVotesNull, []string{"qt_votos_nulos", "votos_nulos"}},
}

type resultKey struct {
	year   int
	round  int
	office string
	metric string
}

type zoneResultKey struct {
	zone string
	key  resultKey
}

func (c *Connector) resultsStep(ctx context.Context, rc connector.RunContext) (*connector.Outcome, error) {
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

	pkg, _, warns := c.findPackage(ctx, "resultados", requestedYear)
	out.Warnings = append(out.Warnings, warns...)
	if pkg == nil {
		out.Blocked = true
		out.BlockReason = "no results package available back to the configured oldest year"
		out.Checks = append(out.Checks, check("tse_results_source_resolved", store.CheckWarn, out.BlockReason))
		return out, nil
	}

	res := pickResource(pkg, "detalhe_votacao_munzona")
	if res == nil {
		out.Blocked = true
		out.BlockReason = fmt.Sprintf("package %s has no vote-detail resource", pkg.Result.Name)
		out.Checks = append(out.Checks, check("tse_results_source_resolved", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("tse_results_source_resolved", store.CheckPass, res.URL))

	raw, _, err := c.engine.Fetch().DownloadBytes(ctx, res.URL, fetch.DownloadOptions{MinBytes: 1024})
	if err != nil {
		return nil, fmt.Errorf("vote-detail resource download failed: %w", err)
	}

	muniAgg := map[resultKey]float64{}
	zoneAgg := map[zoneResultKey]float64{}
	var rowsSeen, rewritten int64

	err = streamZippedCSV(raw, settings.UF, func(cols map[string]int, record []string) error {
		rowsSeen++
		if !c.matchesMunicipality(field(cols, record, "sg_uf", "uf"), field(cols, record, "nm_municipio", "municipio")) {
			return nil
		}

		year, _ := normalizeRowYear(field(cols, record, "ano_eleicao", "ano"), requestedYear, maxYear, &rewritten)
		round := 1
		if r, ok := parseCount(field(cols, record, "nr_turno", "turno")); ok && r > 0 {
			round = int(r)
		}
		office := field(cols, record, "ds_cargo", "cargo")
		if office == "" {
			office = NaoInformado
		}
		zone := field(cols, record, "nr_zona", "zona")

		for _, mc := range resultMetricColumns {
			v, ok := decodeValue(cols, record, mc.candidates)
			if !ok || v < 0 {
				continue
			}
			key := resultKey{year: year, round: round, office: office, metric: mc.metric}
			muniAgg[key] += v
			if zone != "" {
				zoneAgg[zoneResultKey{zone: zone, key: key}] += v
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vote-detail stream failed: %w", err)
	}
	out.RowsExtracted = rowsSeen

	if len(muniAgg) == 0 {
		out.Blocked = true
		out.BlockReason = fmt.Sprintf("municipality %s absent from the vote detail", settings.MunicipalityName)
		out.Checks = append(out.Checks, check("tse_results_municipality_row_found", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("tse_results_municipality_row_found", store.CheckPass, fmt.Sprintf("metrics=%d zones=%d", len(muniAgg), len(zoneAgg))))

	if rewritten > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%d rows carried an implausible election year and were rewritten to %d", rewritten, requestedYear))
	}
	out.Details["outlier_year_rows_rewritten"] = rewritten

	if rc.DryRun {
		out.Preview = append(out.Preview,
			connector.PreviewRow{IndicatorCode: "election_result_municipality_metrics", Value: float64(len(muniAgg)), Rows: len(muniAgg)},
			connector.PreviewRow{IndicatorCode: "election_result_zone_metrics", Value: float64(len(zoneAgg)), Rows: len(zoneAgg)},
		)
		return out, nil
	}

	pointWKT, err := storage.Territories.RepresentativePointWKT(ctx, muni.TerritoryID)
	if err != nil {
		pointWKT = ""
	}

	now := time.Now().UTC()
	err = storage.WithTx(ctx, func(tx *sqlx.Tx) error {
		for key, value := range muniAgg {
			fact := &store.ElectionResultFact{
				TerritoryID:   muni.TerritoryID,
				ElectionYear:  key.year,
				ElectionRound: key.round,
				Office:        key.office,
				Metric:        key.metric,
				Value:         value,
				UpdatedAt:     now,
			}
			if err := storage.ElectionResults.UpsertElectionResultFact(ctx, tx, fact); err != nil {
				return err
			}
			out.RowsWritten++
		}

		zoneIDs := map[string]string{}
		for zk, value := range zoneAgg {
			zoneID, ok := zoneIDs[zk.zone]
			if !ok {
				var err error
				zoneID, err = c.ensureZoneTerritory(ctx, tx, muni, zk.zone, pointWKT)
				if err != nil {
					return err
				}
				zoneIDs[zk.zone] = zoneID
			}
			fact := &store.ElectionResultFact{
				TerritoryID:   zoneID,
				ElectionYear:  zk.key.year,
				ElectionRound: zk.key.round,
				Office:        zk.key.office,
				Metric:        zk.key.metric,
				Value:         value,
				UpdatedAt:     now,
			}
			if err := storage.ElectionResults.UpsertElectionResultFact(ctx, tx, fact); err != nil {
				return err
			}
			out.RowsWritten++
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("election results load failed: %w", err)
	}
	out.TablesWritten = []string{"dim_territory", "fact_election_result"}
	out.Checks = append(out.Checks, check("tse_results_rows_loaded", store.CheckPass, fmt.Sprintf("rows=%d", out.RowsWritten)))

	art, err := c.engine.Bronze().PersistRawBytes(bronze.Request{
		Source:          "tse",
		Dataset:         "election_results",
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

func decodeValue(cols map[string]int, record []string, candidates []string) (float64, bool) {
	raw := field(cols, record, candidates...)
	if raw == "" {
		return 0, false
	}
	v, ok := parseCount(raw)
	return float64(v), ok
}

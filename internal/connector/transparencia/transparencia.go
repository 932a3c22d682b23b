// Package transparencia ingests federal social-program payouts from the
// Portal da Transparencia REST API: a fixed endpoint catalog, one query per
// calendar month, page-walked until empty, aggregated into per-endpoint
// indicators. The API key is mandatory; its absence blocks the run instead of
// failing it.
package transparencia

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

const maxPages = 300

// endpoint describes one API surface and the indicator codes derived from it.
type endpoint struct {
	path       string
	codePrefix string
	name       string
	// monthParam is the query key carrying YYYYMM; a few endpoints use a
	// year-only key instead.
	monthParam string
	yearParam  string
}

var endpoints = []endpoint{
	{path: "/novo-bolsa-familia-por-municipio", codePrefix: "TRANSP_BOLSA_FAMILIA", name: "Bolsa Familia", monthParam: "mesAno"},
	{path: "/bpc-por-municipio", codePrefix: "TRANSP_BPC", name: "BPC", monthParam: "mesAno"},
	{path: "/auxilio-brasil-por-municipio", codePrefix: "TRANSP_AUXILIO_BRASIL", name: "Auxilio Brasil", monthParam: "mesAno"},
	{path: "/seguro-defeso-por-municipio", codePrefix: "TRANSP_SEGURO_DEFESO", name: "Seguro Defeso", monthParam: "mesAno"},
	{path: "/garantia-safra-por-municipio", codePrefix: "TRANSP_GARANTIA_SAFRA", name: "Garantia Safra", monthParam: "mesAno"},
	{path: "/peti-por-municipio", codePrefix: "TRANSP_PETI", name: "PETI", monthParam: "mesAno"},
	{path: "/convenios", codePrefix: "TRANSP_CONVENIOS", name: "Convenios", yearParam: "ano"},
}

type aggregation struct {
	valueTotal  float64
	records     int64
	distinctNIS map[string]bool
}

type Connector struct {
	engine *connector.Engine
}

func New(engine *connector.Engine) *Connector {
	return &Connector{engine: engine}
}

func (c *Connector) JobName() string { return "transparencia_social_programs_fetch" }

func (c *Connector) Run(ctx context.Context, referencePeriod string, opts connector.RunOptions) connector.Result {
	meta := connector.JobMeta{
		JobName:         c.JobName(),
		Source:          "transparencia",
		Dataset:         "social_programs",
		Wave:            "MVP-5",
		ReferencePeriod: referencePeriod,
	}
	return c.engine.Execute(ctx, meta, opts, c.step)
}

func (c *Connector) step(ctx context.Context, rc connector.RunContext) (*connector.Outcome, error) {
	out := &connector.Outcome{Details: store.JSONMap{}}
	settings := c.engine.Settings()
	storage := c.engine.Storage()

	if settings.PortalTransparenciaAPIKey == "" {
		out.Blocked = true
		out.BlockReason = "PORTAL_TRANSPARENCIA_API_KEY is not configured"
		out.Checks = append(out.Checks, check("transparencia_api_key_present", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("transparencia_api_key_present", store.CheckPass, "key configured"))

	muni, err := storage.Territories.GetMunicipality(ctx, settings.MunicipalityIBGECode)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"chave-api-dados": settings.PortalTransparenciaAPIKey}
	base := strings.TrimRight(settings.PortalTransparenciaBase, "/")

	aggs := map[string]*aggregation{}
	var rowsSeen int64
	reachedAny := false

	for _, ep := range endpoints {
		agg := &aggregation{distinctNIS: map[string]bool{}}
		aggs[ep.codePrefix] = agg

		epRows, err := c.collectEndpoint(ctx, base, ep, rc.ReferenceYear, headers, agg)
		rowsSeen += epRows
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("endpoint %s failed: %v", ep.path, err))
			continue
		}
		reachedAny = true
	}
	out.RowsExtracted = rowsSeen

	if !reachedAny {
		out.Blocked = true
		out.BlockReason = "every endpoint of the fixed catalog failed"
		out.Checks = append(out.Checks, check("transparencia_source_resolved", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("transparencia_source_resolved", store.CheckPass, fmt.Sprintf("rows=%d", rowsSeen)))

	indicators := buildIndicators(aggs)
	if len(indicators) == 0 {
		out.Blocked = true
		out.BlockReason = "no endpoint produced records for this municipality and period"
		out.Checks = append(out.Checks, check("transparencia_indicator_rows_loaded", store.CheckWarn, out.BlockReason))
		return out, nil
	}

	if rc.DryRun {
		for _, ind := range indicators {
			out.Preview = append(out.Preview, connector.PreviewRow{
				IndicatorCode: ind.IndicatorCode,
				IndicatorName: ind.IndicatorName,
				Category:      "social",
				Unit:          ind.Unit,
				Value:         ind.Value,
			})
		}
		return out, nil
	}

	err = storage.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, ind := range indicators {
			fact := ind
			fact.TerritoryID = muni.TerritoryID
			fact.Source = "transparencia"
			fact.Dataset = "social_programs"
			fact.Category = "social"
			fact.ReferencePeriod = rc.ReferencePeriod
			if err := storage.Indicators.UpsertIndicator(ctx, tx, &fact); err != nil {
				return err
			}
			out.RowsWritten++
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("social-program load failed: %w", err)
	}
	out.TablesWritten = []string{"fact_indicator"}
	out.Checks = append(out.Checks, check("transparencia_indicator_rows_loaded", store.CheckPass, fmt.Sprintf("rows=%d", out.RowsWritten)))

	// REST responses have no single raw payload; the bronze artifact is a JSON
	// summary of the aggregations.
	summary, _ := json.MarshalIndent(summarize(aggs), "", "  ")
	art, err := c.engine.Bronze().PersistRawBytes(bronze.Request{
		Source:          "transparencia",
		Dataset:         "social_programs",
		ReferencePeriod: rc.ReferencePeriod,
		RunID:           rc.RunID,
		RawBytes:        summary,
		Extension:       ".json",
		URI:             base,
		Origin:          connector.OriginRemote,
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

// collectEndpoint walks every month of the year page by page until an empty
// page or the page cap.
func (c *Connector) collectEndpoint(ctx context.Context, base string, ep endpoint, year string, headers map[string]string, agg *aggregation) (int64, error) {
	settings := c.engine.Settings()

	months := []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "10", "11", "12"}
	if ep.yearParam != "" {
		months = []string{""}
	}

	var rows int64
	var lastErr error
	succeeded := false

	for _, month := range months {
		for page := 1; page <= maxPages; page++ {
			params := map[string]string{
				"codigoIbge": settings.MunicipalityIBGECode,
				"pagina":     fmt.Sprintf("%d", page),
			}
			if ep.yearParam != "" {
				params[ep.yearParam] = year
			} else {
				params[ep.monthParam] = year + month
			}

			var batch []map[string]any
			if err := c.engine.Fetch().GetJSON(ctx, base+ep.path, headers, params, &batch); err != nil {
				lastErr = err
				break
			}
			succeeded = true
			if len(batch) == 0 {
				break
			}

			for _, row := range batch {
				rows++
				agg.records++
				agg.valueTotal += extractValue(row)
				if nis := extractNIS(row); nis != "" {
					agg.distinctNIS[nis] = true
				}
			}
		}
	}

	if !succeeded && lastErr != nil {
		return rows, lastErr
	}
	return rows, nil
}

// extractValue sums the numeric fields whose key mentions "valor".
func extractValue(row map[string]any) float64 {
	var total float64
	for key, v := range row {
		if !strings.Contains(decode.NormalizeKey(key), "valor") {
			continue
		}
		switch t := v.(type) {
		case json.Number:
			if f, err := t.Float64(); err == nil {
				total += f
			}
		case float64:
			total += t
		case string:
			if f, ok := decode.ParseDecimal(t); ok {
				total += f
			}
		}
	}
	return total
}

// extractNIS finds a beneficiary identifier for the distinct count, looking
// into one level of nesting ("titularBolsaFamilia": {"nis": ...}).
func extractNIS(row map[string]any) string {
	for key, v := range row {
		k := decode.NormalizeKey(key)
		if strings.Contains(k, "nis") {
			if s, ok := stringish(v); ok && s != "" {
				return s
			}
		}
		if nested, ok := v.(map[string]any); ok {
			if s := extractNIS(nested); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringish(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return fmt.Sprintf("%.0f", t), true
	}
	return "", false
}

func buildIndicators(aggs map[string]*aggregation) []store.IndicatorFact {
	var out []store.IndicatorFact
	for _, ep := range endpoints {
		agg := aggs[ep.codePrefix]
		if agg == nil || agg.records == 0 {
			continue
		}
		out = append(out,
			store.IndicatorFact{IndicatorCode: ep.codePrefix + "_VALUE_TOTAL", IndicatorName: ep.name + ": valor total", Unit: "BRL", Value: agg.valueTotal},
			store.IndicatorFact{IndicatorCode: ep.codePrefix + "_RECORDS", IndicatorName: ep.name + ": registros", Unit: "registros", Value: float64(agg.records)},
		)
		if len(agg.distinctNIS) > 0 {
			out = append(out, store.IndicatorFact{IndicatorCode: ep.codePrefix + "_BENEFICIARIES", IndicatorName: ep.name + ": beneficiarios distintos", Unit: "pessoas", Value: float64(len(agg.distinctNIS))})
		}
	}
	return out
}

func summarize(aggs map[string]*aggregation) map[string]any {
	out := map[string]any{}
	for code, agg := range aggs {
		out[code] = map[string]any{
			"value_total":  agg.valueTotal,
			"records":      agg.records,
			"distinct_nis": len(agg.distinctNIS),
		}
	}
	return out
}

func check(name, status, details string) store.PipelineCheck {
	return store.PipelineCheck{CheckName: name, Status: status, Details: details}
}

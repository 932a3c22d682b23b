package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

type IndicatorStore struct {
	db *sqlx.DB
}

// UpsertIndicator writes one scalar indicator on the conflict key
// (territory_id, source, dataset, indicator_code, category, reference_period),
// updating name, unit and value in place on re-runs.
func (is *IndicatorStore) UpsertIndicator(ctx context.Context, ext sqlx.ExtContext, f *IndicatorFact) error {
	f.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO fact_indicator (
		territory_id,
		source,
		dataset,
		indicator_code,
		indicator_name,
		category,
		unit,
		value,
		reference_period,
		updated_at
	) VALUES (
		:territory_id,
		:source,
		:dataset,
		:indicator_code,
		:indicator_name,
		:category,
		:unit,
		:value,
		:reference_period,
		:updated_at
	)
	ON CONFLICT (territory_id, source, dataset, indicator_code, category, reference_period) DO UPDATE SET
		indicator_name = EXCLUDED.indicator_name,
		unit = EXCLUDED.unit,
		value = EXCLUDED.value,
		updated_at = EXCLUDED.updated_at`

	_, err := sqlx.NamedExecContext(ctx, ext, query, f)
	if err != nil {
		return fmt.Errorf("indicator upsert failed for %s/%s: %w", f.Dataset, f.IndicatorCode, err)
	}
	return nil
}

func (is *IndicatorStore) List(ctx context.Context, filter IndicatorFilter) ([]IndicatorFact, error) {
	var conds []string
	var args []any

	add := func(cond, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", cond, len(args)))
	}
	add("source", filter.Source)
	add("dataset", filter.Dataset)
	add("indicator_code", filter.IndicatorCode)
	add("category", filter.Category)
	add("reference_period", filter.ReferencePeriod)
	add("territory_id", filter.TerritoryID)

	query := `SELECT territory_id, source, dataset, indicator_code, indicator_name,
		category, unit, value, reference_period, updated_at
	FROM fact_indicator`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY source, dataset, indicator_code, reference_period DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	var out []IndicatorFact
	if err := sqlx.SelectContext(ctx, is.db, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestByTerritory returns, for each (territory, indicator) pair in the
// municipality, the value of the most recent reference period. The ranking
// layer builds its composite scores from this set.
func (is *IndicatorStore) LatestByTerritory(ctx context.Context, municipalityCode string) ([]IndicatorFact, error) {
	query := `SELECT DISTINCT ON (f.territory_id, f.source, f.dataset, f.indicator_code, f.category)
		f.territory_id, f.source, f.dataset, f.indicator_code, f.indicator_name,
		f.category, f.unit, f.value, f.reference_period, f.updated_at
	FROM fact_indicator f
	JOIN dim_territory t ON t.territory_id = f.territory_id
	WHERE t.municipality_ibge_code = $1
	ORDER BY f.territory_id, f.source, f.dataset, f.indicator_code, f.category, f.reference_period DESC`

	var out []IndicatorFact
	if err := sqlx.SelectContext(ctx, is.db, &out, query, municipalityCode); err != nil {
		return nil, err
	}
	return out, nil
}

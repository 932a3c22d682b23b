package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type ElectorateStore struct {
	db *sqlx.DB
}

// UpsertElectorateFact writes one electorate cell on the conflict key
// (territory_id, reference_year, sex, age_range, education).
func (es *ElectorateStore) UpsertElectorateFact(ctx context.Context, ext sqlx.ExtContext, f *ElectorateFact) error {
	if f.Voters < 0 {
		return fmt.Errorf("electorate fact cannot carry negative voters (%d)", f.Voters)
	}
	f.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO fact_electorate (
		territory_id,
		reference_year,
		sex,
		age_range,
		education,
		voters,
		updated_at
	) VALUES (
		:territory_id,
		:reference_year,
		:sex,
		:age_range,
		:education,
		:voters,
		:updated_at
	)
	ON CONFLICT (territory_id, reference_year, sex, age_range, education) DO UPDATE SET
		voters = EXCLUDED.voters,
		updated_at = EXCLUDED.updated_at`

	_, err := sqlx.NamedExecContext(ctx, ext, query, f)
	if err != nil {
		return fmt.Errorf("electorate upsert failed for year %d: %w", f.ReferenceYear, err)
	}
	return nil
}

type ElectionResultStore struct {
	db *sqlx.DB
}

// UpsertElectionResultFact writes one result metric on the conflict key
// (territory_id, election_year, election_round, office, metric).
func (rs *ElectionResultStore) UpsertElectionResultFact(ctx context.Context, ext sqlx.ExtContext, f *ElectionResultFact) error {
	if f.Value < 0 {
		return fmt.Errorf("election result metric %s cannot be negative (%f)", f.Metric, f.Value)
	}
	f.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO fact_election_result (
		territory_id,
		election_year,
		election_round,
		office,
		metric,
		value,
		updated_at
	) VALUES (
		:territory_id,
		:election_year,
		:election_round,
		:office,
		:metric,
		:value,
		:updated_at
	)
	ON CONFLICT (territory_id, election_year, election_round, office, metric) DO UPDATE SET
		value = EXCLUDED.value,
		updated_at = EXCLUDED.updated_at`

	_, err := sqlx.NamedExecContext(ctx, ext, query, f)
	if err != nil {
		return fmt.Errorf("election result upsert failed for %s/%s: %w", f.Office, f.Metric, err)
	}
	return nil
}

type SocialStore struct {
	db *sqlx.DB
}

// Tables accepted by UpsertSocialFact. The table name comes from connector
// definitions, never from user input.
var socialFactTables = map[string]bool{
	"fact_social_protection":         true,
	"fact_social_assistance_network": true,
}

// UpsertSocialFact writes one wide row per (territory, source, dataset,
// reference_period); the named metrics travel in a JSONB column keyed by
// metric code.
func (ss *SocialStore) UpsertSocialFact(ctx context.Context, ext sqlx.ExtContext, table string, f *SocialFact) error {
	if !socialFactTables[table] {
		return fmt.Errorf("unknown social fact table %q", table)
	}
	f.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`INSERT INTO %s (
		territory_id,
		source,
		dataset,
		reference_period,
		metrics,
		metadata,
		updated_at
	) VALUES (
		:territory_id,
		:source,
		:dataset,
		:reference_period,
		:metrics,
		:metadata,
		:updated_at
	)
	ON CONFLICT (territory_id, source, dataset, reference_period) DO UPDATE SET
		metrics = EXCLUDED.metrics,
		metadata = %s.metadata || EXCLUDED.metadata,
		updated_at = EXCLUDED.updated_at`, table, table)

	_, err := sqlx.NamedExecContext(ctx, ext, query, f)
	if err != nil {
		return fmt.Errorf("social fact upsert into %s failed: %w", table, err)
	}
	return nil
}

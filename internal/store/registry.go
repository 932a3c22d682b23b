package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type RegistryStore struct {
	db *sqlx.DB
}

// List returns registry entries, optionally restricted to a status set. The
// orchestrator intersects the result with its job filters.
func (rs *RegistryStore) List(ctx context.Context, statuses []string) ([]ConnectorRegistryEntry, error) {
	query := `SELECT job_name, source, wave, status, description
	FROM ops.connector_registry`

	var out []ConnectorRegistryEntry
	if len(statuses) == 0 {
		if err := sqlx.SelectContext(ctx, rs.db, &out, query+" ORDER BY job_name"); err != nil {
			return nil, err
		}
		return out, nil
	}

	query += ` WHERE status = ANY($1) ORDER BY job_name`
	if err := sqlx.SelectContext(ctx, rs.db, &out, query, pq.Array(statuses)); err != nil {
		return nil, err
	}
	return out, nil
}

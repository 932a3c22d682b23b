package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type TerritoryStore struct {
	db *sqlx.DB
}

// ErrTerritoryNotFound signals a missing dim_territory row; for the
// municipality itself this is a configuration error.
var ErrTerritoryNotFound = errors.New("territory not found")

// UpsertTerritory inserts or updates a territory on its natural key
// (level, ibge_geocode, tse_zone, tse_section, municipality_ibge_code) and
// returns the surrogate id. Geometry is written from WKT in the row's SRID.
func (ts *TerritoryStore) UpsertTerritory(ctx context.Context, ext sqlx.ExtContext, t *Territory) (string, error) {
	if t.TerritoryID == "" {
		t.TerritoryID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `INSERT INTO dim_territory (
		territory_id,
		level,
		parent_territory_id,
		canonical_key,
		source_system,
		source_entity_id,
		ibge_geocode,
		tse_zone,
		tse_section,
		name,
		normalized_name,
		uf,
		municipality_ibge_code,
		geometry,
		metadata,
		created_at,
		updated_at
	) VALUES (
		:territory_id,
		:level,
		:parent_territory_id,
		:canonical_key,
		:source_system,
		:source_entity_id,
		:ibge_geocode,
		:tse_zone,
		:tse_section,
		:name,
		:normalized_name,
		:uf,
		:municipality_ibge_code,
		CASE WHEN CAST(:geometry_wkt AS text) IS NULL THEN NULL ELSE ST_GeomFromText(:geometry_wkt, :srid) END,
		:metadata,
		:created_at,
		:updated_at
	)
	ON CONFLICT (level, ibge_geocode, tse_zone, tse_section, municipality_ibge_code) DO UPDATE SET
		parent_territory_id = COALESCE(EXCLUDED.parent_territory_id, dim_territory.parent_territory_id),
		name = EXCLUDED.name,
		normalized_name = EXCLUDED.normalized_name,
		geometry = COALESCE(EXCLUDED.geometry, dim_territory.geometry),
		metadata = dim_territory.metadata || EXCLUDED.metadata,
		updated_at = EXCLUDED.updated_at
	RETURNING territory_id`

	rows, err := sqlx.NamedQueryContext(ctx, ext, query, t)
	if err != nil {
		return "", fmt.Errorf("territory upsert failed for %s: %w", t.CanonicalKey, err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&t.TerritoryID); err != nil {
			return "", err
		}
	}
	return t.TerritoryID, rows.Err()
}

func (ts *TerritoryStore) GetMunicipality(ctx context.Context, ibgeCode string) (*Territory, error) {
	query := `SELECT territory_id, level, parent_territory_id, canonical_key, source_system,
		source_entity_id, ibge_geocode, tse_zone, tse_section, name, normalized_name, uf,
		municipality_ibge_code, ST_AsText(geometry) AS geometry_wkt,
		COALESCE(ST_SRID(geometry), 0) AS srid, metadata, created_at, updated_at
	FROM dim_territory
	WHERE level = $1 AND municipality_ibge_code = $2`

	var t Territory
	err := sqlx.GetContext(ctx, ts.db, &t, query, LevelMunicipality, ibgeCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: municipality %s", ErrTerritoryNotFound, ibgeCode)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (ts *TerritoryStore) GetByCanonicalKey(ctx context.Context, key string) (*Territory, error) {
	query := `SELECT territory_id, level, parent_territory_id, canonical_key, source_system,
		source_entity_id, ibge_geocode, tse_zone, tse_section, name, normalized_name, uf,
		municipality_ibge_code, ST_AsText(geometry) AS geometry_wkt,
		COALESCE(ST_SRID(geometry), 0) AS srid, metadata, created_at, updated_at
	FROM dim_territory
	WHERE canonical_key = $1`

	var t Territory
	err := sqlx.GetContext(ctx, ts.db, &t, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: canonical key %s", ErrTerritoryNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// BoundingBox returns the geometry envelope used to scope Overpass queries.
func (ts *TerritoryStore) BoundingBox(ctx context.Context, territoryID string) (*BBox, error) {
	query := `SELECT ST_XMin(geometry) AS min_lon, ST_YMin(geometry) AS min_lat,
		ST_XMax(geometry) AS max_lon, ST_YMax(geometry) AS max_lat
	FROM dim_territory
	WHERE territory_id = $1 AND geometry IS NOT NULL`

	var box BBox
	err := sqlx.GetContext(ctx, ts.db, &box, query, territoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: territory %s has no geometry", ErrTerritoryNotFound, territoryID)
	}
	if err != nil {
		return nil, err
	}
	return &box, nil
}

// RepresentativePointWKT returns a point guaranteed to fall inside the
// territory geometry; synthetic zone/section territories inherit it.
func (ts *TerritoryStore) RepresentativePointWKT(ctx context.Context, territoryID string) (string, error) {
	query := `SELECT ST_AsText(ST_PointOnSurface(geometry))
	FROM dim_territory
	WHERE territory_id = $1 AND geometry IS NOT NULL`

	var wkt string
	err := ts.db.GetContext(ctx, &wkt, query, territoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: territory %s has no geometry", ErrTerritoryNotFound, territoryID)
	}
	return wkt, err
}

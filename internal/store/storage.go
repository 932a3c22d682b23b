package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Storage bundles the per-table repositories, mirroring the schema: one
// territorial dimension, the fact tables, the urban map layers, and the ops
// bookkeeping consumed by the orchestrator and the read API.
type Storage struct {
	Territories interface {
		UpsertTerritory(ctx context.Context, ext sqlx.ExtContext, t *Territory) (string, error)
		GetMunicipality(ctx context.Context, ibgeCode string) (*Territory, error)
		GetByCanonicalKey(ctx context.Context, key string) (*Territory, error)
		BoundingBox(ctx context.Context, territoryID string) (*BBox, error)
		RepresentativePointWKT(ctx context.Context, territoryID string) (string, error)
	}

	Indicators interface {
		UpsertIndicator(ctx context.Context, ext sqlx.ExtContext, f *IndicatorFact) error
		List(ctx context.Context, filter IndicatorFilter) ([]IndicatorFact, error)
		LatestByTerritory(ctx context.Context, municipalityCode string) ([]IndicatorFact, error)
	}

	Electorate interface {
		UpsertElectorateFact(ctx context.Context, ext sqlx.ExtContext, f *ElectorateFact) error
	}

	ElectionResults interface {
		UpsertElectionResultFact(ctx context.Context, ext sqlx.ExtContext, f *ElectionResultFact) error
	}

	Social interface {
		UpsertSocialFact(ctx context.Context, ext sqlx.ExtContext, table string, f *SocialFact) error
	}

	Urban interface {
		UpsertRoadSegment(ctx context.Context, ext sqlx.ExtContext, seg *RoadSegment) error
		UpsertPOI(ctx context.Context, ext sqlx.ExtContext, poi *POI) error
		ReplaceTransportStops(ctx context.Context, ext sqlx.ExtContext, source string, stops []TransportStop) error
	}

	Ops interface {
		InsertRun(ctx context.Context, run *PipelineRun) error
		ReplaceChecks(ctx context.Context, runID string, checks []PipelineCheck) error
		LatestRunFor(ctx context.Context, jobName, referencePeriod string) (*PipelineRun, error)
		ListRuns(ctx context.Context, filter RunFilter) ([]PipelineRun, error)
		ChecksForRun(ctx context.Context, runID string) ([]PipelineCheck, error)
	}

	Registry interface {
		List(ctx context.Context, statuses []string) ([]ConnectorRegistryEntry, error)
	}

	db *sqlx.DB
}

// BBox is a territory envelope in the territory SRID.
type BBox struct {
	MinLon float64 `db:"min_lon"`
	MinLat float64 `db:"min_lat"`
	MaxLon float64 `db:"max_lon"`
	MaxLat float64 `db:"max_lat"`
}

// IndicatorFilter narrows indicator listings for the read API.
type IndicatorFilter struct {
	Source          string
	Dataset         string
	IndicatorCode   string
	Category        string
	ReferencePeriod string
	TerritoryID     string
	Limit           int
}

// RunFilter narrows ops listings.
type RunFilter struct {
	JobName         string
	Source          string
	Wave            string
	Status          string
	ReferencePeriod string
	Limit           int
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		Territories:     &TerritoryStore{db: db},
		Indicators:      &IndicatorStore{db: db},
		Electorate:      &ElectorateStore{db: db},
		ElectionResults: &ElectionResultStore{db: db},
		Social:          &SocialStore{db: db},
		Urban:           &UrbanStore{db: db},
		Ops:             &OpsStore{db: db},
		Registry:        &RegistryStore{db: db},
		db:              db,
	}
}

// DB exposes the underlying pool for transaction scoping.
func (s *Storage) DB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside one transaction, committing on success and rolling
// back on error. Connectors use it so all fact upserts of a run land together.
func (s *Storage) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transaction begin failed: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Territory levels of the territorial dimension.
const (
	LevelMunicipality     = "municipality"
	LevelDistrict         = "district"
	LevelCensusSector     = "census_sector"
	LevelElectoralZone    = "electoral_zone"
	LevelElectoralSection = "electoral_section"
)

// Run statuses. Blocked means the connector completed but found no data for
// this scope or period; failed means an unhandled error.
const (
	StatusSuccess = "success"
	StatusBlocked = "blocked"
	StatusFailed  = "failed"
)

// Check statuses.
const (
	CheckPass = "pass"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// Connector registry statuses.
const (
	RegistryImplemented = "implemented"
	RegistryPartial     = "partial"
	RegistryBlocked     = "blocked"
	RegistryNotStarted  = "not_started"
)

// JSONMap stores open key/value metadata as JSONB.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// Territory represents the 'dim_territory' table.
type Territory struct {
	TerritoryID          string         `db:"territory_id"`
	Level                string         `db:"level"`
	ParentTerritoryID    sql.NullString `db:"parent_territory_id"`
	CanonicalKey         string         `db:"canonical_key"`
	SourceSystem         string         `db:"source_system"`
	SourceEntityID       string         `db:"source_entity_id"`
	IBGEGeocode          string         `db:"ibge_geocode"`
	TSEZone              string         `db:"tse_zone"`
	TSESection           string         `db:"tse_section"`
	Name                 string         `db:"name"`
	NormalizedName       string         `db:"normalized_name"`
	UF                   string         `db:"uf"`
	MunicipalityIBGECode string         `db:"municipality_ibge_code"`
	GeometryWKT          sql.NullString `db:"geometry_wkt"`
	SRID                 int            `db:"srid"`
	Metadata             JSONMap        `db:"metadata"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

// IndicatorFact represents the 'fact_indicator' table.
type IndicatorFact struct {
	TerritoryID     string    `db:"territory_id"`
	Source          string    `db:"source"`
	Dataset         string    `db:"dataset"`
	IndicatorCode   string    `db:"indicator_code"`
	IndicatorName   string    `db:"indicator_name"`
	Category        string    `db:"category"`
	Unit            string    `db:"unit"`
	Value           float64   `db:"value"`
	ReferencePeriod string    `db:"reference_period"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// ElectorateFact represents the 'fact_electorate' table. NAO_INFORMADO marks
// missing dimension values.
type ElectorateFact struct {
	TerritoryID   string    `db:"territory_id"`
	ReferenceYear int       `db:"reference_year"`
	Sex           string    `db:"sex"`
	AgeRange      string    `db:"age_range"`
	Education     string    `db:"education"`
	Voters        int64     `db:"voters"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ElectionResultFact represents the 'fact_election_result' table.
type ElectionResultFact struct {
	TerritoryID   string    `db:"territory_id"`
	ElectionYear  int       `db:"election_year"`
	ElectionRound int       `db:"election_round"`
	Office        string    `db:"office"`
	Metric        string    `db:"metric"`
	Value         float64   `db:"value"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Election result metrics.
const (
	MetricTurnout    = "turnout"
	MetricAbstention = "abstention"
	MetricVotesTotal = "votes_total"
	MetricVotesValid = "votes_valid"
	MetricVotesBlank = "votes_blank"
	MetricVotesNull  = "votes_null"
)

// SocialFact is one wide typed row per (territory, source, dataset, period);
// named metrics land in dedicated columns on the target table, everything
// else in metadata.
type SocialFact struct {
	TerritoryID     string    `db:"territory_id"`
	Source          string    `db:"source"`
	Dataset         string    `db:"dataset"`
	ReferencePeriod string    `db:"reference_period"`
	Metrics         JSONMap   `db:"metrics"`
	Metadata        JSONMap   `db:"metadata"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// RoadSegment represents the 'urban_road_segment' table (SRID 4326).
type RoadSegment struct {
	SegmentID    string    `db:"segment_id"`
	Source       string    `db:"source"`
	Name         string    `db:"name"`
	HighwayClass string    `db:"highway_class"`
	GeometryWKT  string    `db:"geometry_wkt"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// POI represents the 'urban_poi' table (SRID 4326).
type POI struct {
	POIID       string    `db:"poi_id"`
	Source      string    `db:"source"`
	Name        string    `db:"name"`
	Category    string    `db:"category"`
	GeometryWKT string    `db:"geometry_wkt"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// TransportStop represents the 'urban_transport_stop' table (SRID 4326).
// Rows are replaced wholesale per source per run.
type TransportStop struct {
	StopID      string    `db:"stop_id"`
	Source      string    `db:"source"`
	Name        string    `db:"name"`
	Mode        string    `db:"mode"`
	GeometryWKT string    `db:"geometry_wkt"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Transport stop modes classified from OSM tags.
const (
	ModeBus        = "bus"
	ModeRail       = "rail"
	ModeFerry      = "ferry"
	ModeRoad       = "road"
	ModeMultimodal = "multimodal"
	ModeOther      = "other"
)

// PipelineRun represents the 'ops.pipeline_runs' table. One row per run id,
// insert-only.
type PipelineRun struct {
	RunID           string         `db:"run_id"`
	JobName         string         `db:"job_name"`
	Source          string         `db:"source"`
	Dataset         string         `db:"dataset"`
	Wave            string         `db:"wave"`
	ReferencePeriod string         `db:"reference_period"`
	StartedAtUTC    time.Time      `db:"started_at_utc"`
	FinishedAtUTC   time.Time      `db:"finished_at_utc"`
	DurationSeconds float64        `db:"duration_seconds"`
	Status          string         `db:"status"`
	RowsExtracted   int64          `db:"rows_extracted"`
	RowsLoaded      int64          `db:"rows_loaded"`
	WarningsCount   int            `db:"warnings_count"`
	ErrorsCount     int            `db:"errors_count"`
	BronzePath      sql.NullString `db:"bronze_path"`
	ManifestPath    sql.NullString `db:"manifest_path"`
	ChecksumSHA256  sql.NullString `db:"checksum_sha256"`
	Details         JSONMap        `db:"details"`
}

// PipelineCheck represents the 'ops.pipeline_checks' table. The set for a run
// id is always replaced in full.
type PipelineCheck struct {
	CheckID        string          `db:"check_id"`
	RunID          string          `db:"run_id"`
	CheckName      string          `db:"check_name"`
	Status         string          `db:"status"`
	Details        string          `db:"details"`
	ObservedValue  sql.NullFloat64 `db:"observed_value"`
	ThresholdValue sql.NullFloat64 `db:"threshold_value"`
	CreatedAtUTC   time.Time       `db:"created_at_utc"`
}

// ConnectorRegistryEntry represents the 'ops.connector_registry' table, the
// orchestrator's allowlist.
type ConnectorRegistryEntry struct {
	JobName     string `db:"job_name"`
	Source      string `db:"source"`
	Wave        string `db:"wave"`
	Status      string `db:"status"`
	Description string `db:"description"`
}

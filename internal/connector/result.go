package connector

import (
	"context"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

// Result summarizes one connector run for CLI output and orchestrator reports.
type Result struct {
	Job             string       `json:"job"`
	Source          string       `json:"source"`
	Dataset         string       `json:"dataset"`
	ReferencePeriod string       `json:"reference_period"`
	Status          string       `json:"status"`
	RunID           string       `json:"run_id"`
	DurationSeconds float64      `json:"duration_seconds"`
	RowsExtracted   int64        `json:"rows_extracted"`
	RowsWritten     int64        `json:"rows_written"`
	Warnings        []string     `json:"warnings,omitempty"`
	Errors          []string     `json:"errors,omitempty"`
	BronzePath      string       `json:"bronze_path,omitempty"`
	ManifestPath    string       `json:"manifest_path,omitempty"`
	Preview         []PreviewRow `json:"preview,omitempty"`
}

// PreviewRow is one would-be indicator shown by dry runs instead of writing.
type PreviewRow struct {
	IndicatorCode string  `json:"indicator_code"`
	IndicatorName string  `json:"indicator_name"`
	Category      string  `json:"category"`
	Unit          string  `json:"unit"`
	Value         float64 `json:"value"`
	Rows          int     `json:"rows"`
}

// JobMeta identifies a run for the ops tables. Bespoke connectors fill it
// directly; tabular connectors derive it from their Definition.
type JobMeta struct {
	JobName         string
	Source          string
	Dataset         string
	Wave            string
	ReferencePeriod string
}

// Outcome is what a connector step hands back to the shared run lifecycle.
// Blocked signals "completed, nothing to load for this scope or period".
type Outcome struct {
	RowsExtracted int64
	RowsWritten   int64
	TablesWritten []string
	Bronze        *bronze.Artifact
	Checks        []store.PipelineCheck
	Warnings      []string
	Preview       []PreviewRow
	Blocked       bool
	BlockReason   string
	Details       store.JSONMap
}

// StepFunc is the body of a connector run. The lifecycle around it (run id,
// timing, run row, check replacement, status mapping) is shared.
type StepFunc func(ctx context.Context, rc RunContext) (*Outcome, error)

// RunContext carries the per-run identifiers into a step.
type RunContext struct {
	RunID           string
	ReferencePeriod string
	ReferenceYear   string
	DryRun          bool
}

// RunOptions tune a single connector invocation.
type RunOptions struct {
	DryRun bool
}

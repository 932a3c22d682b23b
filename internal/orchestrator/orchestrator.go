package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/logger"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

// Options mirror the backfill CLI flags.
type Options struct {
	Periods          []string
	Jobs             []string
	ExcludeJobs      []string
	ReprocessJobs    []string
	ReprocessPeriods []string
	IncludePartial   bool
	SkipDBT          bool
	SkipQuality      bool
	StaleAfterHours  int
	Force            bool
	DryRun           bool
	AllowBlocked     bool
	AllowGoverned    bool
	TimeoutSeconds   int
	OutputJSON       string
}

// ExecutionEntry is one connector invocation in the report.
type ExecutionEntry struct {
	JobName string           `json:"job_name"`
	Period  string           `json:"period"`
	Result  connector.Result `json:"result"`
}

// HookResult records one post-load command.
type HookResult struct {
	Name    string `json:"name"`
	Period  string `json:"period"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// Report is the machine-readable backfill outcome.
type Report struct {
	GeneratedAtUTC  time.Time        `json:"generated_at_utc"`
	Periods         []string         `json:"periods"`
	StaleAfterHours int              `json:"stale_after_hours"`
	DryRun          bool             `json:"dry_run"`
	Plan            []PlanEntry      `json:"plan"`
	Executions      []ExecutionEntry `json:"executions"`
	PostLoad        []HookResult     `json:"post_load"`
	Skipped         int              `json:"skipped"`
	Succeeded       int              `json:"succeeded"`
	Blocked         int              `json:"blocked"`
	Failed          int              `json:"failed"`
	ExitCode        int              `json:"exit_code"`
	Warnings        []string         `json:"warnings,omitempty"`
}

// Orchestrator owns the registry-driven backfill. Post-load commands are
// exec'd so the transformation layer stays an external collaborator.
type Orchestrator struct {
	storage   *store.Storage
	runners   map[string]connector.Runner
	appLogger *logger.Logger

	DBTCommand     []string
	QualityCommand []string
}

func New(storage *store.Storage, runners []connector.Runner, appLogger *logger.Logger) *Orchestrator {
	byName := make(map[string]connector.Runner, len(runners))
	for _, r := range runners {
		byName[r.JobName()] = r
	}
	return &Orchestrator{
		storage:        storage,
		runners:        byName,
		appLogger:      appLogger,
		DBTCommand:     []string{"dbt", "build"},
		QualityCommand: []string{"quality-suite"},
	}
}

// Backfill plans and (unless dry-run) executes the selected (job, period)
// pairs, then the post-load hooks, and assembles the report.
func (o *Orchestrator) Backfill(ctx context.Context, opts Options) (*Report, error) {
	const component = "Orchestrator"

	if opts.StaleAfterHours < 1 {
		opts.StaleAfterHours = 168
	}
	if len(opts.Periods) == 0 {
		return nil, fmt.Errorf("at least one reference period is required")
	}

	report := &Report{
		GeneratedAtUTC:  time.Now().UTC(),
		Periods:         opts.Periods,
		StaleAfterHours: opts.StaleAfterHours,
		DryRun:          opts.DryRun,
	}

	jobs, warns, err := o.selectJobs(ctx, opts)
	if err != nil {
		return nil, err
	}
	report.Warnings = append(report.Warnings, warns...)

	reprocessJobs := toSet(opts.ReprocessJobs)
	reprocessPeriods := toSet(opts.ReprocessPeriods)
	now := time.Now().UTC()

	for _, period := range opts.Periods {
		for _, job := range jobs {
			latest, err := o.storage.Ops.LatestRunFor(ctx, job, period)
			if err != nil {
				return nil, fmt.Errorf("ops history lookup failed for %s/%s: %w", job, period, err)
			}
			reprocess := reprocessJobs[job] || reprocessPeriods[period]
			execute, reason, age := Decide(latest, reprocess, opts.Force, opts.StaleAfterHours, now)
			report.Plan = append(report.Plan, PlanEntry{
				JobName: job, Period: period, Execute: execute, Reason: reason, AgeHours: age,
			})
			if !execute {
				report.Skipped++
			}
		}
	}

	if opts.DryRun {
		report.ExitCode = 0
		return report, o.writeReport(report, opts.OutputJSON)
	}

	successPeriods := map[string]bool{}
	for _, entry := range report.Plan {
		if !entry.Execute {
			continue
		}
		runner := o.runners[entry.JobName]

		o.appLogger.Info(component, "Executing: job=%s period=%s reason=%s", entry.JobName, entry.Period, entry.Reason)

		runCtx := ctx
		var cancel context.CancelFunc
		if opts.TimeoutSeconds > 0 {
			runCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSeconds)*time.Second)
		}
		result := runner.Run(runCtx, entry.Period, connector.RunOptions{})
		if cancel != nil {
			cancel()
		}

		report.Executions = append(report.Executions, ExecutionEntry{
			JobName: entry.JobName, Period: entry.Period, Result: result,
		})
		switch result.Status {
		case store.StatusSuccess:
			report.Succeeded++
			successPeriods[entry.Period] = true
		case store.StatusBlocked:
			report.Blocked++
		default:
			report.Failed++
		}
	}

	report.PostLoad = o.runPostLoad(ctx, successPeriods, opts)
	report.ExitCode = exitCode(report, opts.AllowBlocked)

	return report, o.writeReport(report, opts.OutputJSON)
}

// selectJobs intersects the registry allowlist with the CLI filters.
func (o *Orchestrator) selectJobs(ctx context.Context, opts Options) ([]string, []string, error) {
	statuses := []string{store.RegistryImplemented}
	if opts.IncludePartial {
		statuses = append(statuses, store.RegistryPartial)
	}
	entries, err := o.storage.Registry.List(ctx, statuses)
	if err != nil {
		return nil, nil, fmt.Errorf("connector registry unavailable: %w", err)
	}

	allow := map[string]bool{}
	for _, e := range entries {
		allow[e.JobName] = true
	}

	requested := toSet(opts.Jobs)
	excluded := toSet(opts.ExcludeJobs)

	var warnings []string
	var selected []string
	for job := range allow {
		if len(requested) > 0 && !requested[job] {
			continue
		}
		if excluded[job] {
			continue
		}
		if GovernedConnectors[job] && !opts.AllowGoverned {
			warnings = append(warnings, fmt.Sprintf("governed connector %s excluded; pass --allow-governed-sources to include it", job))
			continue
		}
		if _, known := o.runners[job]; !known {
			warnings = append(warnings, fmt.Sprintf("registry lists %s but no runner is wired for it", job))
			continue
		}
		selected = append(selected, job)
	}
	for job := range requested {
		if !allow[job] {
			warnings = append(warnings, fmt.Sprintf("requested job %s is not in the registry allowlist", job))
		}
	}

	sort.Strings(selected)
	return orderJobs(selected), warnings, nil
}

// runPostLoad executes dbt and the quality suite once per period that had at
// least one successful connector run.
func (o *Orchestrator) runPostLoad(ctx context.Context, successPeriods map[string]bool, opts Options) []HookResult {
	const component = "Orchestrator"

	var periods []string
	for p := range successPeriods {
		periods = append(periods, p)
	}
	sort.Strings(periods)

	var out []HookResult
	for _, period := range periods {
		for _, hook := range []struct {
			name    string
			skipped bool
			argv    []string
		}{
			{"dbt_build", opts.SkipDBT, o.DBTCommand},
			{"quality_suite", opts.SkipQuality, o.QualityCommand},
		} {
			result := HookResult{Name: hook.name, Period: period, Skipped: hook.skipped}
			if !hook.skipped && len(hook.argv) > 0 {
				cmd := exec.CommandContext(ctx, hook.argv[0], hook.argv[1:]...)
				cmd.Env = append(os.Environ(), "REFERENCE_PERIOD="+period)
				if err := cmd.Run(); err != nil {
					result.Error = err.Error()
					o.appLogger.Warn(component, "Post-load hook failed: name=%s period=%s error=%v", hook.name, period, err)
				}
			}
			out = append(out, result)
		}
	}
	return out
}

func exitCode(report *Report, allowBlocked bool) int {
	if report.Failed > 0 {
		return 1
	}
	if report.Blocked > 0 && !allowBlocked {
		return 1
	}
	return 0
}

func (o *Orchestrator) writeReport(report *Report, path string) error {
	if path == "" {
		return nil
	}
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("report not writable at %s: %w", path, err)
	}
	return nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		if i != "" {
			out[i] = true
		}
	}
	return out
}

package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/catalog"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/config"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/fetch"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/logger"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/territory"
)

// Engine owns the shared run lifecycle: run ids, timing, the ops run row, the
// check set, and status mapping. Tabular connectors run entirely inside it;
// bespoke connectors supply a StepFunc and reuse the same lifecycle.
type Engine struct {
	storage   *store.Storage
	fetch     *fetch.Client
	bronze    *bronze.Store
	settings  *config.Settings
	appLogger *logger.Logger
}

func NewEngine(storage *store.Storage, fetchClient *fetch.Client, bronzeStore *bronze.Store, settings *config.Settings, appLogger *logger.Logger) *Engine {
	return &Engine{
		storage:   storage,
		fetch:     fetchClient,
		bronze:    bronzeStore,
		settings:  settings,
		appLogger: appLogger,
	}
}

// Accessors for bespoke connector packages.
func (e *Engine) Storage() *store.Storage    { return e.storage }
func (e *Engine) Fetch() *fetch.Client       { return e.fetch }
func (e *Engine) Bronze() *bronze.Store      { return e.bronze }
func (e *Engine) Settings() *config.Settings { return e.settings }
func (e *Engine) Logger() *logger.Logger     { return e.appLogger }

// Execute wraps a step with the run lifecycle. The run row is written even
// when the step fails; dry runs write nothing.
func (e *Engine) Execute(ctx context.Context, meta JobMeta, opts RunOptions, step StepFunc) Result {
	const component = "ConnectorEngine"

	runID := uuid.NewString()
	started := time.Now().UTC()

	result := Result{
		Job:             meta.JobName,
		Source:          meta.Source,
		Dataset:         meta.Dataset,
		ReferencePeriod: meta.ReferencePeriod,
		RunID:           runID,
	}

	year, yearErr := ParseReferenceYear(meta.ReferencePeriod)

	var outcome *Outcome
	var stepErr error
	if yearErr != nil {
		stepErr = yearErr
	} else {
		e.appLogger.Info(component, "Run started: job=%s period=%s run_id=%s dry_run=%t", meta.JobName, meta.ReferencePeriod, runID, opts.DryRun)
		outcome, stepErr = step(ctx, RunContext{
			RunID:           runID,
			ReferencePeriod: meta.ReferencePeriod,
			ReferenceYear:   year,
			DryRun:          opts.DryRun,
		})
	}

	finished := time.Now().UTC()
	result.DurationSeconds = finished.Sub(started).Seconds()

	if outcome == nil {
		outcome = &Outcome{}
	}
	result.Warnings = outcome.Warnings
	result.RowsExtracted = outcome.RowsExtracted
	result.RowsWritten = outcome.RowsWritten
	result.Preview = outcome.Preview
	if outcome.Bronze != nil {
		result.BronzePath = outcome.Bronze.LocalPath
		result.ManifestPath = outcome.Bronze.ManifestPath
	}

	switch {
	case stepErr != nil:
		result.Status = store.StatusFailed
		result.Errors = append(result.Errors, stepErr.Error())
		e.appLogger.Error(component, "Run failed: job=%s run_id=%s error=%v", meta.JobName, runID, stepErr)
	case outcome.Blocked:
		result.Status = store.StatusBlocked
		if outcome.BlockReason != "" {
			result.Warnings = append(result.Warnings, outcome.BlockReason)
		}
		e.appLogger.Warn(component, "Run blocked: job=%s run_id=%s reason=%s", meta.JobName, runID, outcome.BlockReason)
	default:
		result.Status = store.StatusSuccess
		e.appLogger.Info(component, "Run succeeded: job=%s run_id=%s rows_written=%d duration=%.1fs", meta.JobName, runID, result.RowsWritten, result.DurationSeconds)
	}

	if opts.DryRun {
		return result
	}

	details := outcome.Details
	if details == nil {
		details = store.JSONMap{}
	}
	if len(result.Errors) > 0 {
		details["error"] = result.Errors[0]
	}
	if len(result.Warnings) > 0 {
		details["warnings"] = result.Warnings
	}
	if len(outcome.TablesWritten) > 0 {
		details["tables_written"] = outcome.TablesWritten
	}

	run := &store.PipelineRun{
		RunID:           runID,
		JobName:         meta.JobName,
		Source:          meta.Source,
		Dataset:         meta.Dataset,
		Wave:            meta.Wave,
		ReferencePeriod: meta.ReferencePeriod,
		StartedAtUTC:    started,
		FinishedAtUTC:   finished,
		DurationSeconds: result.DurationSeconds,
		Status:          result.Status,
		RowsExtracted:   result.RowsExtracted,
		RowsLoaded:      result.RowsWritten,
		WarningsCount:   len(result.Warnings),
		ErrorsCount:     len(result.Errors),
		Details:         details,
	}
	if outcome.Bronze != nil {
		run.BronzePath = sql.NullString{String: outcome.Bronze.LocalPath, Valid: true}
		run.ManifestPath = sql.NullString{String: outcome.Bronze.ManifestPath, Valid: true}
		run.ChecksumSHA256 = sql.NullString{String: outcome.Bronze.ChecksumSHA256, Valid: true}
	}

	if err := e.storage.Ops.InsertRun(ctx, run); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("run row not recorded: %v", err))
		e.appLogger.Error(component, "Run row insert failed: run_id=%s error=%v", runID, err)
	}
	if len(outcome.Checks) > 0 {
		if err := e.storage.Ops.ReplaceChecks(ctx, runID, outcome.Checks); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("checks not recorded: %v", err))
			e.appLogger.Error(component, "Check replacement failed: run_id=%s error=%v", runID, err)
		}
	}

	return result
}

// Run executes a tabular/social connector described by a Definition.
func (e *Engine) Run(ctx context.Context, def Definition, referencePeriod string, opts RunOptions) Result {
	meta := JobMeta{
		JobName:         def.JobName,
		Source:          def.Source,
		Dataset:         def.DatasetName,
		Wave:            def.Wave,
		ReferencePeriod: referencePeriod,
	}

	if err := def.Validate(); err != nil {
		return e.Execute(ctx, meta, opts, func(context.Context, RunContext) (*Outcome, error) {
			return nil, err
		})
	}
	return e.Execute(ctx, meta, opts, e.tabularStep(def))
}

func (e *Engine) tabularStep(def Definition) StepFunc {
	return func(ctx context.Context, rc RunContext) (*Outcome, error) {
		out := &Outcome{Details: store.JSONMap{}}

		muni, err := e.storage.Territories.GetMunicipality(ctx, e.settings.MunicipalityIBGECode)
		if err != nil {
			if errors.Is(err, store.ErrTerritoryNotFound) {
				return nil, fmt.Errorf("municipality %s missing from the territorial dimension; run the territory connector first", e.settings.MunicipalityIBGECode)
			}
			return nil, err
		}

		renderCtx := catalog.RenderContext{
			ReferencePeriod:       rc.ReferencePeriod,
			MunicipalityIBGECode:  e.settings.MunicipalityIBGECode,
			MunicipalityIBGECode6: e.settings.MunicipalityIBGECode6(),
		}
		chain, warns := e.buildSourceChain(def, renderCtx)
		out.Warnings = append(out.Warnings, warns...)
		if len(chain) == 0 {
			out.Blocked = true
			out.BlockReason = "no remote resources or manual files configured"
			out.Checks = append(out.Checks, checkFail(def.Source+"_source_resolved", out.BlockReason))
			return out, nil
		}

		resolved, warns := e.resolveDataset(ctx, def, chain)
		out.Warnings = append(out.Warnings, warns...)
		if resolved == nil {
			out.Blocked = true
			out.BlockReason = "every configured source failed to resolve"
			out.Checks = append(out.Checks, checkFail(def.Source+"_source_resolved", out.BlockReason))
			return out, nil
		}
		out.Checks = append(out.Checks, checkPass(def.Source+"_source_resolved", fmt.Sprintf("origin=%s uri=%s", resolved.Origin, resolved.URI)))
		out.Details["origin"] = resolved.Origin
		out.Details["uri"] = resolved.URI

		values, res, evalWarns := e.evaluateResolved(def, rc, resolved)
		out.Warnings = append(out.Warnings, evalWarns...)

		// A remote payload that scoped or aggregated down to nothing gets one
		// second chance from the manual drop before blocking.
		if len(values) == 0 && resolved.Origin == OriginRemote {
			manualOnly := manualCandidates(chain)
			if len(manualOnly) > 0 {
				out.Warnings = append(out.Warnings, "remote payload produced no indicator rows; retrying from the manual drop")
				if manual, manualWarns := e.resolveDataset(ctx, def, manualOnly); manual != nil {
					out.Warnings = append(out.Warnings, manualWarns...)
					resolved = manual
					values, res, evalWarns = e.evaluateResolved(def, rc, resolved)
					out.Warnings = append(out.Warnings, evalWarns...)
				}
			}
		}

		out.RowsExtracted = int64(res.Count)

		switch res.Kind {
		case territory.MatchNone:
			out.Blocked = true
			out.BlockReason = fmt.Sprintf("municipality %s not found in the dataset", e.settings.MunicipalityIBGECode)
			out.Checks = append(out.Checks, checkFail(def.Source+"_municipality_row_found", out.BlockReason))
			e.persistResolvedBronze(def, rc, resolved, out)
			return out, nil
		case territory.MatchEmptyByYear:
			out.Blocked = true
			out.BlockReason = fmt.Sprintf("dataset carries no rows for reference year %s", rc.ReferenceYear)
			out.Checks = append(out.Checks, checkWarn(def.Source+"_municipality_row_found", out.BlockReason))
			e.persistResolvedBronze(def, rc, resolved, out)
			return out, nil
		}
		out.Checks = append(out.Checks, checkPass(def.Source+"_municipality_row_found", fmt.Sprintf("matched_by=%s rows=%d", res.Kind, res.Count)))

		if len(values) == 0 {
			out.Blocked = true
			out.BlockReason = "no metric produced a value"
			out.Checks = append(out.Checks, checkFail(def.Source+"_indicator_rows_loaded", out.BlockReason))
			e.persistResolvedBronze(def, rc, resolved, out)
			return out, nil
		}

		if rc.DryRun {
			for _, mv := range values {
				out.Preview = append(out.Preview, PreviewRow{
					IndicatorCode: mv.Spec.Code,
					IndicatorName: mv.Spec.Name,
					Category:      mv.Spec.Category,
					Unit:          mv.Spec.Unit,
					Value:         mv.Value,
					Rows:          mv.Rows,
				})
			}
			return out, nil
		}

		now := time.Now().UTC()
		tables := map[string]bool{"fact_indicator": true}
		err = e.storage.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, mv := range values {
				fact := &store.IndicatorFact{
					TerritoryID:     muni.TerritoryID,
					Source:          def.Source,
					Dataset:         def.DatasetName,
					IndicatorCode:   mv.Spec.Code,
					IndicatorName:   mv.Spec.Name,
					Category:        mv.Spec.Category,
					Unit:            mv.Spec.Unit,
					Value:           mv.Value,
					ReferencePeriod: rc.ReferencePeriod,
					UpdatedAt:       now,
				}
				if err := e.storage.Indicators.UpsertIndicator(ctx, tx, fact); err != nil {
					return err
				}
				out.RowsWritten++
			}

			if def.FactDatasetName != "" {
				metrics := store.JSONMap{}
				for _, mv := range values {
					metrics[mv.Spec.Code] = mv.Value
				}
				fact := &store.SocialFact{
					TerritoryID:     muni.TerritoryID,
					Source:          def.Source,
					Dataset:         def.FactDatasetName,
					ReferencePeriod: rc.ReferencePeriod,
					Metrics:         metrics,
					Metadata:        store.JSONMap{"origin": resolved.Origin},
					UpdatedAt:       now,
				}
				if err := e.storage.Social.UpsertSocialFact(ctx, tx, def.SocialFactTable, fact); err != nil {
					return err
				}
				tables[def.SocialFactTable] = true
				out.RowsWritten++
			}
			return nil
		})
		if err != nil {
			return out, fmt.Errorf("fact load failed: %w", err)
		}
		for t := range tables {
			out.TablesWritten = append(out.TablesWritten, t)
		}

		out.Checks = append(out.Checks, checkPassObserved(def.Source+"_indicator_rows_loaded",
			fmt.Sprintf("metrics=%d", len(values)), float64(len(values)), 1))

		e.persistResolvedBronze(def, rc, resolved, out)

		return out, nil
	}
}

// persistResolvedBronze snapshots a payload that made it through decoding.
// Blocked runs keep their artifact too, so every run row that points at a
// dataset carries a verifiable bronze path. Dry runs write nothing.
func (e *Engine) persistResolvedBronze(def Definition, rc RunContext, resolved *ResolvedDataset, out *Outcome) {
	if rc.DryRun {
		return
	}
	art, err := e.bronze.PersistRawBytes(bronze.Request{
		Source:          def.Source,
		Dataset:         def.DatasetName,
		ReferencePeriod: rc.ReferencePeriod,
		RunID:           rc.RunID,
		RawBytes:        resolved.RawBytes,
		Extension:       resolved.Suffix,
		URI:             resolved.URI,
		Origin:          resolved.Origin,
		TerritoryScope:  e.settings.MunicipalityIBGECode,
		TablesWritten:   out.TablesWritten,
		RowsWritten:     int(out.RowsWritten),
		Notes:           out.Warnings,
	})
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("bronze artifact not persisted: %v", err))
		return
	}
	out.Bronze = &art
}

// evaluateResolved scopes the decoded table to the municipality and reference
// year, then evaluates every metric spec against the surviving rows.
func (e *Engine) evaluateResolved(def Definition, rc RunContext, resolved *ResolvedDataset) ([]MetricValue, territory.Resolution, []string) {
	var warnings []string

	df := decode.NormalizeColumns(resolved.DF)
	target := territory.Target{
		IBGECode: e.settings.MunicipalityIBGECode,
		Name:     e.settings.MunicipalityName,
	}
	res := territory.Resolve(df, target,
		normalizeKeys(def.MunicipalityCodeColumns),
		normalizeKeys(def.MunicipalityNameColumns),
		resolved.FileName)

	yearCols := normalizeKeys(def.ReferenceYearColumns)
	if def.OnOutlierYear != "" {
		var outliers int
		res, outliers = territory.FilterReferenceYearWithOutliers(res, yearCols, rc.ReferenceYear,
			time.Now().UTC().Year(), def.OnOutlierYear == OutlierRewrite)
		if outliers > 0 {
			warnings = append(warnings, fmt.Sprintf("%d rows carried an implausible reference year (policy %s)", outliers, def.OnOutlierYear))
		}
	} else {
		res = territory.FilterReferenceYear(res, yearCols, rc.ReferenceYear)
	}

	if res.Kind == territory.MatchNone || res.Kind == territory.MatchEmptyByYear {
		return nil, res, warnings
	}

	var values []MetricValue
	for _, spec := range def.MetricSpecs {
		mv, ok, warn := EvaluateMetric(res.Rows, spec)
		if !ok {
			if warn != "" {
				warnings = append(warnings, warn)
			}
			continue
		}
		values = append(values, mv)
	}
	return values, res, warnings
}

func manualCandidates(chain []sourceCandidate) []sourceCandidate {
	var out []sourceCandidate
	for _, c := range chain {
		if c.origin == OriginManual {
			out = append(out, c)
		}
	}
	return out
}

func normalizeKeys(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, decode.NormalizeKey(c))
	}
	return out
}

func checkPass(name, details string) store.PipelineCheck {
	return store.PipelineCheck{CheckName: name, Status: store.CheckPass, Details: details}
}

func checkWarn(name, details string) store.PipelineCheck {
	return store.PipelineCheck{CheckName: name, Status: store.CheckWarn, Details: details}
}

func checkFail(name, details string) store.PipelineCheck {
	return store.PipelineCheck{CheckName: name, Status: store.CheckFail, Details: details}
}

func checkPassObserved(name, details string, observed, threshold float64) store.PipelineCheck {
	return store.PipelineCheck{
		CheckName:      name,
		Status:         store.CheckPass,
		Details:        details,
		ObservedValue:  sql.NullFloat64{Float64: observed, Valid: true},
		ThresholdValue: sql.NullFloat64{Float64: threshold, Valid: true},
	}
}

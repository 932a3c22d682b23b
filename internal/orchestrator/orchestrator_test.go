package orchestrator

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/logger"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

// fakeRunner records invocations and returns a canned status.
type fakeRunner struct {
	job    string
	status string
	calls  int
}

func (f *fakeRunner) JobName() string { return f.job }

func (f *fakeRunner) Run(ctx context.Context, referencePeriod string, opts connector.RunOptions) connector.Result {
	f.calls++
	return connector.Result{
		Job:             f.job,
		ReferencePeriod: referencePeriod,
		Status:          f.status,
	}
}

func testOrchestrator(t *testing.T, runners ...connector.Runner) (*Orchestrator, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	storage := store.NewStorage(sqlx.NewDb(mockDB, "sqlmock"))
	orch := New(storage, runners, logger.New(logger.LevelError))
	// Post-load hooks are external programs; keep them out of unit tests.
	orch.DBTCommand = nil
	orch.QualityCommand = nil
	return orch, mock
}

func timeNowUTC() time.Time { return time.Now().UTC() }

func registryRows(jobs ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"job_name", "source", "wave", "status", "description"})
	for _, j := range jobs {
		rows.AddRow(j, "src", "MVP-1", store.RegistryImplemented, "")
	}
	return rows
}

func expectNoHistory(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM ops.pipeline_runs").WillReturnRows(sqlmock.NewRows([]string{"run_id"}))
}

func TestBackfillDryRunPlansWithoutExecuting(t *testing.T) {
	runner := &fakeRunner{job: "sidra_indicators_fetch", status: store.StatusSuccess}
	orch, mock := testOrchestrator(t, runner)

	mock.ExpectQuery("FROM ops.connector_registry").WillReturnRows(registryRows("sidra_indicators_fetch"))
	expectNoHistory(mock)

	report, err := orch.Backfill(context.Background(), Options{Periods: []string{"2025"}, DryRun: true})
	if err != nil {
		t.Fatalf("Backfill returned error: %v", err)
	}

	if len(report.Plan) != 1 {
		t.Fatalf("expected 1 plan entry, got %d", len(report.Plan))
	}
	if !report.Plan[0].Execute || report.Plan[0].Reason != "no_previous_run" {
		t.Errorf("unexpected plan entry: %+v", report.Plan[0])
	}
	if runner.calls != 0 {
		t.Errorf("dry run must not execute connectors, got %d calls", runner.calls)
	}
	if report.ExitCode != 0 {
		t.Errorf("dry run exit code must be 0, got %d", report.ExitCode)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestBackfillExecutesAndCountsStatuses(t *testing.T) {
	ok := &fakeRunner{job: "sidra_indicators_fetch", status: store.StatusSuccess}
	blocked := &fakeRunner{job: "snis_sanitation_fetch", status: store.StatusBlocked}
	orch, mock := testOrchestrator(t, ok, blocked)

	mock.ExpectQuery("FROM ops.connector_registry").
		WillReturnRows(registryRows("sidra_indicators_fetch", "snis_sanitation_fetch"))
	expectNoHistory(mock)
	expectNoHistory(mock)

	report, err := orch.Backfill(context.Background(), Options{Periods: []string{"2025"}})
	if err != nil {
		t.Fatalf("Backfill returned error: %v", err)
	}

	if ok.calls != 1 || blocked.calls != 1 {
		t.Errorf("expected each runner once, got %d and %d", ok.calls, blocked.calls)
	}
	if report.Succeeded != 1 || report.Blocked != 1 || report.Failed != 0 {
		t.Errorf("unexpected counts: %+v", report)
	}
	if report.ExitCode != 1 {
		t.Errorf("a blocked run must fail the exit code by default, got %d", report.ExitCode)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestBackfillAllowBlockedRelaxesExitCode(t *testing.T) {
	blocked := &fakeRunner{job: "sidra_indicators_fetch", status: store.StatusBlocked}
	orch, mock := testOrchestrator(t, blocked)

	mock.ExpectQuery("FROM ops.connector_registry").WillReturnRows(registryRows("sidra_indicators_fetch"))
	expectNoHistory(mock)

	report, err := orch.Backfill(context.Background(), Options{Periods: []string{"2025"}, AllowBlocked: true})
	if err != nil {
		t.Fatalf("Backfill returned error: %v", err)
	}
	if report.ExitCode != 0 {
		t.Errorf("allow-blocked must accept blocked runs, got exit code %d", report.ExitCode)
	}
}

func TestBackfillExcludesGovernedConnectors(t *testing.T) {
	governed := &fakeRunner{job: "cecad_social_protection_fetch", status: store.StatusSuccess}
	orch, mock := testOrchestrator(t, governed)

	mock.ExpectQuery("FROM ops.connector_registry").WillReturnRows(registryRows("cecad_social_protection_fetch"))

	report, err := orch.Backfill(context.Background(), Options{Periods: []string{"2025"}})
	if err != nil {
		t.Fatalf("Backfill returned error: %v", err)
	}

	if governed.calls != 0 {
		t.Errorf("governed connector must not run without --allow-governed-sources")
	}
	if len(report.Warnings) == 0 {
		t.Error("expected a warning about the excluded governed connector")
	}
}

func TestBackfillSkipsFreshRuns(t *testing.T) {
	runner := &fakeRunner{job: "sidra_indicators_fetch", status: store.StatusSuccess}
	orch, mock := testOrchestrator(t, runner)

	mock.ExpectQuery("FROM ops.connector_registry").WillReturnRows(registryRows("sidra_indicators_fetch"))

	latest := sqlmock.NewRows([]string{
		"run_id", "job_name", "source", "dataset", "wave", "reference_period",
		"started_at_utc", "finished_at_utc", "duration_seconds", "status",
		"rows_extracted", "rows_loaded", "warnings_count", "errors_count",
		"bronze_path", "manifest_path", "checksum_sha256", "details",
	}).AddRow(
		"22222222-2222-2222-2222-222222222222", "sidra_indicators_fetch", "sidra", "population", "MVP-1", "2025",
		timeNowUTC(), timeNowUTC(), 1.0, store.StatusSuccess,
		1, 1, 0, 0,
		nil, nil, nil, []byte(`{}`),
	)
	mock.ExpectQuery("FROM ops.pipeline_runs").WillReturnRows(latest)

	report, err := orch.Backfill(context.Background(), Options{Periods: []string{"2025"}})
	if err != nil {
		t.Fatalf("Backfill returned error: %v", err)
	}

	if runner.calls != 0 {
		t.Errorf("fresh success must be skipped, got %d calls", runner.calls)
	}
	if report.Skipped != 1 {
		t.Errorf("expected 1 skipped pair, got %d", report.Skipped)
	}
}

func TestBackfillRequiresPeriods(t *testing.T) {
	orch, _ := testOrchestrator(t)
	if _, err := orch.Backfill(context.Background(), Options{}); err == nil {
		t.Fatal("expected an error without periods")
	}
}

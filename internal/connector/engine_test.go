package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/config"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/fetch"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/logger"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

func testEngine(t *testing.T, dataRoot string) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	settings := &config.Settings{
		MunicipalityIBGECode:  "3121605",
		MunicipalityName:      "Diamantina",
		UF:                    "MG",
		DataRoot:              dataRoot,
		RequestTimeoutSeconds: 5,
	}

	appLogger := logger.New(logger.LevelError)
	storage := store.NewStorage(sqlx.NewDb(mockDB, "sqlmock"))
	client := fetch.NewClient(5, 0, 0.01, appLogger)
	bronzeStore := bronze.NewStore(settings.BronzeDir())

	return NewEngine(storage, client, bronzeStore, settings, appLogger), mock
}

func expectMunicipality(mock sqlmock.Sqlmock) {
	rows := sqlmock.NewRows([]string{
		"territory_id", "level", "parent_territory_id", "canonical_key", "source_system",
		"source_entity_id", "ibge_geocode", "tse_zone", "tse_section", "name",
		"normalized_name", "uf", "municipality_ibge_code", "geometry_wkt", "srid",
		"metadata", "created_at", "updated_at",
	}).AddRow(
		"11111111-1111-1111-1111-111111111111", store.LevelMunicipality, nil, "ibge:municipality:3121605", "ibge",
		"3121605", "3121605", "", "", "Diamantina",
		"diamantina", "MG", "3121605", nil, 0,
		[]byte(`{}`), time.Now(), time.Now(),
	)
	mock.ExpectQuery("FROM dim_territory").WillReturnRows(rows)
}

func writeTestDefinition(t *testing.T, dataRoot, remoteURI, manualCSV string) Definition {
	t.Helper()

	catalogPath := filepath.Join(dataRoot, "sidra_catalog.yml")
	catalogBody := "resources:\n  - uri: \"" + remoteURI + "\"\n    extension: \".csv\"\n"
	if err := os.WriteFile(catalogPath, []byte(catalogBody), 0o644); err != nil {
		t.Fatalf("catalog fixture write failed: %v", err)
	}

	manualDir := filepath.Join(dataRoot, "manual", "sidra")
	if err := os.MkdirAll(manualDir, 0o755); err != nil {
		t.Fatalf("manual dir create failed: %v", err)
	}
	if manualCSV != "" {
		if err := os.WriteFile(filepath.Join(manualDir, "pop_2025.csv"), []byte(manualCSV), 0o644); err != nil {
			t.Fatalf("manual fixture write failed: %v", err)
		}
	}

	return Definition{
		JobName:                 "sidra_indicators_fetch",
		Source:                  "sidra",
		DatasetName:             "population",
		Wave:                    "MVP-1",
		CatalogPath:             catalogPath,
		ManualDir:               manualDir,
		MunicipalityCodeColumns: []string{"codigo_municipio"},
		MunicipalityNameColumns: []string{"municipio"},
		MetricSpecs: []MetricSpec{
			{Code: "SIDRA_POP_TOTAL", Name: "Populacao residente", Unit: "pessoas", Category: "demographics", Candidates: []string{"populacao", "valor"}, Aggregator: AggFirst},
		},
	}
}

func TestRunFallsBackToManualAfterRemote404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dataRoot := t.TempDir()
	engine, mock := testEngine(t, dataRoot)
	def := writeTestDefinition(t, dataRoot, srv.URL+"/missing.csv",
		"codigo_municipio;municipio;populacao\n3121605;Diamantina;45780\n")

	expectMunicipality(mock)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fact_indicator").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO ops.pipeline_runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM ops.pipeline_checks").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO ops.pipeline_checks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ops.pipeline_checks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ops.pipeline_checks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result := engine.Run(context.Background(), def, "2025", RunOptions{})
	if result.Status != store.StatusSuccess {
		t.Fatalf("expected success, got %s (errors=%v)", result.Status, result.Errors)
	}
	if result.RowsWritten != 1 {
		t.Errorf("expected 1 indicator row, got %d", result.RowsWritten)
	}

	found404 := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "404") {
			found404 = true
		}
	}
	if !found404 {
		t.Errorf("expected a warning about the remote 404, got %v", result.Warnings)
	}

	if !strings.HasSuffix(result.BronzePath, ".csv") {
		t.Errorf("expected a .csv bronze artifact, got %s", result.BronzePath)
	}
	if _, err := os.Stat(result.BronzePath); err != nil {
		t.Errorf("bronze artifact not on disk: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	dataRoot := t.TempDir()
	engine, mock := testEngine(t, dataRoot)
	def := writeTestDefinition(t, dataRoot, "http://127.0.0.1:1/unreachable.csv",
		"codigo_municipio;municipio;populacao\n3121605;Diamantina;45780\n")

	expectMunicipality(mock)

	result := engine.Run(context.Background(), def, "2025", RunOptions{DryRun: true})
	if result.Status != store.StatusSuccess {
		t.Fatalf("expected success, got %s (errors=%v)", result.Status, result.Errors)
	}
	if len(result.Preview) != 1 {
		t.Fatalf("expected 1 preview row, got %d", len(result.Preview))
	}
	if result.Preview[0].Value != 45780 {
		t.Errorf("expected preview value 45780, got %v", result.Preview[0].Value)
	}
	if result.RowsWritten != 0 {
		t.Errorf("dry run must not write rows, got %d", result.RowsWritten)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("dry run touched the database: %v", err)
	}
}

func TestRunBlocksWhenMunicipalityAbsent(t *testing.T) {
	dataRoot := t.TempDir()
	engine, mock := testEngine(t, dataRoot)
	def := writeTestDefinition(t, dataRoot, "http://127.0.0.1:1/unreachable.csv",
		"codigo_municipio;municipio;populacao\n3106200;Belo Horizonte;2315560\n")

	expectMunicipality(mock)
	mock.ExpectExec("INSERT INTO ops.pipeline_runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM ops.pipeline_checks").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO ops.pipeline_checks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ops.pipeline_checks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result := engine.Run(context.Background(), def, "2025", RunOptions{})
	if result.Status != store.StatusBlocked {
		t.Fatalf("expected blocked, got %s (errors=%v)", result.Status, result.Errors)
	}

	// The payload decoded before the block, so the run keeps its artifact.
	if !strings.HasSuffix(result.BronzePath, ".csv") {
		t.Errorf("expected a .csv bronze artifact for the blocked run, got %q", result.BronzePath)
	}
	if _, err := os.Stat(result.BronzePath); err != nil {
		t.Errorf("blocked run's bronze artifact not on disk: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestRunFailsOnInvalidPeriod(t *testing.T) {
	dataRoot := t.TempDir()
	engine, mock := testEngine(t, dataRoot)
	def := writeTestDefinition(t, dataRoot, "http://127.0.0.1:1/unreachable.csv", "")

	mock.ExpectExec("INSERT INTO ops.pipeline_runs").WillReturnResult(sqlmock.NewResult(0, 1))

	result := engine.Run(context.Background(), def, "bad", RunOptions{})
	if result.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

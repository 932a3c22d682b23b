package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/config"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

func testApp(t *testing.T) (*application, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	return &application{
		addr:     ":0",
		settings: &config.Settings{MunicipalityIBGECode: "3121605"},
		store:    store.NewStorage(sqlx.NewDb(mockDB, "sqlmock")),
	}, mock
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := testApp(t)
	srv := httptest.NewServer(app.mount())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("health body not parseable: %v", err)
	}
	if body["status"] != "available" || body["municipality"] != "3121605" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestListRunsEndpoint(t *testing.T) {
	app, mock := testApp(t)
	srv := httptest.NewServer(app.mount())
	defer srv.Close()

	rows := sqlmock.NewRows([]string{
		"run_id", "job_name", "source", "dataset", "wave", "reference_period",
		"started_at_utc", "finished_at_utc", "duration_seconds", "status",
		"rows_extracted", "rows_loaded", "warnings_count", "errors_count",
		"bronze_path", "manifest_path", "checksum_sha256", "details",
	}).AddRow(
		"33333333-3333-3333-3333-333333333333", "sidra_indicators_fetch", "sidra", "population", "MVP-1", "2025",
		time.Now(), time.Now(), 2.5, store.StatusSuccess,
		1, 1, 0, 0,
		nil, nil, nil, []byte(`{}`),
	)
	mock.ExpectQuery("FROM ops.pipeline_runs").WillReturnRows(rows)

	resp, err := http.Get(srv.URL + "/v1/ops/runs?job_name=sidra_indicators_fetch")
	if err != nil {
		t.Fatalf("runs request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body ListRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("runs body not parseable: %v", err)
	}
	if !body.Success || len(body.Data) != 1 {
		t.Fatalf("unexpected runs response: success=%v len=%d", body.Success, len(body.Data))
	}
	if body.Data[0].JobName != "sidra_indicators_fetch" {
		t.Errorf("unexpected run row: %+v", body.Data[0])
	}
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	app, _ := testApp(t)
	srv := httptest.NewServer(app.mount())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/ops/runs?limit=abc")
	if err != nil {
		t.Fatalf("runs request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad limit, got %d", resp.StatusCode)
	}
}

func TestRunChecksEndpoint(t *testing.T) {
	app, mock := testApp(t)
	srv := httptest.NewServer(app.mount())
	defer srv.Close()

	rows := sqlmock.NewRows([]string{
		"check_id", "run_id", "check_name", "status", "details",
		"observed_value", "threshold_value", "created_at_utc",
	}).AddRow(
		"44444444-4444-4444-4444-444444444444", "33333333-3333-3333-3333-333333333333",
		"sidra_source_resolved", store.CheckPass, "origin=manual",
		nil, nil, time.Now(),
	)
	mock.ExpectQuery("FROM ops.pipeline_checks").WillReturnRows(rows)

	resp, err := http.Get(srv.URL + "/v1/ops/runs/33333333-3333-3333-3333-333333333333/checks")
	if err != nil {
		t.Fatalf("checks request failed: %v", err)
	}
	defer resp.Body.Close()

	var body GetRunChecksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("checks body not parseable: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].CheckName != "sidra_source_resolved" {
		t.Errorf("unexpected checks response: %+v", body.Data)
	}
}

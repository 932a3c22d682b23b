package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/logger"
)

func testClient(maxRetries int) *Client {
	return NewClient(5, maxRetries, 0.01, logger.New(logger.LevelError))
}

func TestDownloadBytesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("codigo;valor\n3121605;1\n"))
	}))
	defer srv.Close()

	raw, _, err := testClient(3).DownloadBytes(context.Background(), srv.URL, DownloadOptions{})
	if err != nil {
		t.Fatalf("DownloadBytes returned error: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected a payload after retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDownloadBytesDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := testClient(3).DownloadBytes(context.Background(), srv.URL, DownloadOptions{})
	if err == nil {
		t.Fatal("expected an error for 404")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single attempt for a 4xx, got %d", got)
	}
}

func TestDownloadBytesRejectsSmallPayloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tiny"))
	}))
	defer srv.Close()

	_, _, err := testClient(0).DownloadBytes(context.Background(), srv.URL, DownloadOptions{MinBytes: 64})
	if !errors.Is(err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
}

func TestDownloadBytesRejectsUnexpectedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>error page</html>"))
	}))
	defer srv.Close()

	_, _, err := testClient(0).DownloadBytes(context.Background(), srv.URL, DownloadOptions{
		ExpectedContentTypes: []string{"application/json"},
	})
	if !errors.Is(err, ErrContentType) {
		t.Fatalf("expected ErrContentType, got %v", err)
	}
}

func TestDownloadBytesDetectsLoginWall(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/auth?require_login=1", http.StatusFound)
	})
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("login"))
	})

	_, _, err := testClient(0).DownloadBytes(context.Background(), srv.URL+"/data", DownloadOptions{})
	if !errors.Is(err, ErrLoginWall) {
		t.Fatalf("expected ErrLoginWall, got %v", err)
	}
}

func TestGetJSONDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pagina") != "1" {
			t.Errorf("expected pagina=1, got %s", r.URL.RawQuery)
		}
		if r.Header.Get("chave-api-dados") != "secret" {
			t.Errorf("expected api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"valor": 123.45}]`))
	}))
	defer srv.Close()

	var out []map[string]any
	err := testClient(0).GetJSON(context.Background(), srv.URL,
		map[string]string{"chave-api-dados": "secret"},
		map[string]string{"pagina": "1"},
		&out)
	if err != nil {
		t.Fatalf("GetJSON returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
}

func TestDecodeJSONUsesNumbers(t *testing.T) {
	var out map[string]any
	if err := DecodeJSON([]byte(`{"valor": 45780}`), &out); err != nil {
		t.Fatalf("DecodeJSON returned error: %v", err)
	}
	if _, ok := out["valor"].(json.Number); !ok {
		t.Errorf("expected json.Number, got %T", out["valor"])
	}
}

package bronze

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestPersistRawBytesWritesPayloadAndManifest(t *testing.T) {
	store := NewStore(t.TempDir())

	art, err := store.PersistRawBytes(Request{
		Source:          "sidra",
		Dataset:         "population",
		ReferencePeriod: "2025",
		RunID:           "run-1",
		RawBytes:        []byte("codigo_municipio;populacao\n3121605;45780\n"),
		Extension:       ".csv",
		URI:             "https://example.gov.br/pop.csv",
		Origin:          "remote",
		TerritoryScope:  "3121605",
		RowsWritten:     1,
		TablesWritten:   []string{"fact_indicator"},
		Checks:          map[string]string{"sidra_source_resolved": "pass"},
	})
	if err != nil {
		t.Fatalf("PersistRawBytes returned error: %v", err)
	}

	wantPath := filepath.Join(store.Root, "sidra", "population", "2025", "run-1.csv")
	if art.LocalPath != wantPath {
		t.Errorf("unexpected payload path: %s", art.LocalPath)
	}
	if _, err := os.Stat(art.LocalPath); err != nil {
		t.Fatalf("payload not written: %v", err)
	}

	raw, err := os.ReadFile(art.ManifestPath)
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("manifest not parseable: %v", err)
	}
	if m.ChecksumSHA256 != art.ChecksumSHA256 {
		t.Errorf("manifest checksum %s does not match artifact %s", m.ChecksumSHA256, art.ChecksumSHA256)
	}
	if m.Origin != "remote" || m.RowsWritten != 1 {
		t.Errorf("manifest fields not carried: %+v", m)
	}

	if err := Verify(art); err != nil {
		t.Errorf("Verify failed on a fresh artifact: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	store := NewStore(t.TempDir())

	art, err := store.PersistRawBytes(Request{
		Source:          "tse",
		Dataset:         "electorate_profile",
		ReferencePeriod: "2024",
		RunID:           "run-2",
		RawBytes:        []byte("original"),
		Extension:       ".zip",
	})
	if err != nil {
		t.Fatalf("PersistRawBytes returned error: %v", err)
	}

	if err := os.WriteFile(art.LocalPath, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper write failed: %v", err)
	}
	if err := Verify(art); err == nil {
		t.Fatal("expected a checksum mismatch")
	}
}

func TestPersistRawBytesRequiresRunID(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.PersistRawBytes(Request{Source: "sidra"}); err == nil {
		t.Fatal("expected an error without a run id")
	}
}

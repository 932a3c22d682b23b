// Package bronze persists immutable raw payload snapshots plus a JSON manifest
// describing how each one was obtained and processed.
package bronze

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Artifact points at the stored payload and its manifest.
type Artifact struct {
	LocalPath      string `json:"local_path"`
	ManifestPath   string `json:"manifest_path"`
	ChecksumSHA256 string `json:"checksum_sha256"`
}

// Manifest is the sidecar record written next to every artifact.
type Manifest struct {
	RunID           string            `json:"run_id"`
	Source          string            `json:"source"`
	Dataset         string            `json:"dataset"`
	ReferencePeriod string            `json:"reference_period"`
	URI             string            `json:"uri"`
	Origin          string            `json:"origin"`
	Extension       string            `json:"extension"`
	ChecksumSHA256  string            `json:"checksum_sha256"`
	SizeBytes       int               `json:"size_bytes"`
	TerritoryScope  string            `json:"territory_scope"`
	DatasetVersion  string            `json:"dataset_version"`
	TablesWritten   []string          `json:"tables_written"`
	RowsWritten     int               `json:"rows_written"`
	Checks          map[string]string `json:"checks"`
	Notes           []string          `json:"notes"`
	CreatedAtUTC    time.Time         `json:"created_at_utc"`
}

// Store writes artifacts under <root>/<source>/<dataset>/<period>/<run_id><ext>.
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

// Request carries everything PersistRawBytes records.
type Request struct {
	Source          string
	Dataset         string
	ReferencePeriod string
	RunID           string
	RawBytes        []byte
	Extension       string
	URI             string
	Origin          string
	TerritoryScope  string
	DatasetVersion  string
	Checks          map[string]string
	Notes           []string
	TablesWritten   []string
	RowsWritten     int
}

// PersistRawBytes stores the payload and its manifest, returning the artifact
// descriptor. The path is deterministic per run id; the write is once-only
// from the caller's perspective.
func (s *Store) PersistRawBytes(req Request) (Artifact, error) {
	if req.RunID == "" {
		return Artifact{}, fmt.Errorf("bronze artifact requires a run id")
	}
	ext := req.Extension
	if ext == "" {
		ext = ".bin"
	}

	dir := filepath.Join(s.Root, req.Source, req.Dataset, req.ReferencePeriod)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("bronze dir %s not creatable: %w", dir, err)
	}

	sum := sha256.Sum256(req.RawBytes)
	checksum := hex.EncodeToString(sum[:])

	localPath := filepath.Join(dir, req.RunID+ext)
	if err := os.WriteFile(localPath, req.RawBytes, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("bronze payload write failed: %w", err)
	}

	manifest := Manifest{
		RunID:           req.RunID,
		Source:          req.Source,
		Dataset:         req.Dataset,
		ReferencePeriod: req.ReferencePeriod,
		URI:             req.URI,
		Origin:          req.Origin,
		Extension:       ext,
		ChecksumSHA256:  checksum,
		SizeBytes:       len(req.RawBytes),
		TerritoryScope:  req.TerritoryScope,
		DatasetVersion:  req.DatasetVersion,
		TablesWritten:   req.TablesWritten,
		RowsWritten:     req.RowsWritten,
		Checks:          req.Checks,
		Notes:           req.Notes,
		CreatedAtUTC:    time.Now().UTC(),
	}

	manifestPath := filepath.Join(dir, req.RunID+".manifest.json")
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Artifact{}, err
	}
	if err := os.WriteFile(manifestPath, encoded, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("bronze manifest write failed: %w", err)
	}

	return Artifact{LocalPath: localPath, ManifestPath: manifestPath, ChecksumSHA256: checksum}, nil
}

// Verify recomputes the payload checksum against the stored one.
func Verify(art Artifact) error {
	raw, err := os.ReadFile(art.LocalPath)
	if err != nil {
		return fmt.Errorf("bronze payload missing: %w", err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != art.ChecksumSHA256 {
		return fmt.Errorf("bronze payload checksum mismatch at %s", art.LocalPath)
	}
	return nil
}

// Prune removes artifacts older than the retention window.
func (s *Store) Prune(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	err := filepath.Walk(s.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if os.IsNotExist(err) {
		return removed, nil
	}
	return removed, err
}

// Package decode turns the heterogeneous raw payloads produced by public-data
// sources (CSV with unknown encoding and delimiter, raw OOXML workbooks,
// nested ZIP archives, JSON envelopes, GeoJSON) into string dataframes keyed
// by normalized column names.
package decode

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
)

// Options tune format-specific behaviour of LoadDataFrame.
type Options struct {
	// PreferredZipEntries ranks archive members by normalized stem containment.
	PreferredZipEntries []string
	// SheetHint selects an XLSX sheet whose name contains it.
	SheetHint string
}

var supportedSuffixes = map[string]bool{
	".csv": true, ".txt": true, ".xlsx": true,
	".json": true, ".geojson": true, ".zip": true,
}

// ErrUnsupportedXLS marks the legacy-Excel capability gap: converting .xls
// requires an out-of-process Excel host, which this platform does not assume.
var ErrUnsupportedXLS = fmt.Errorf("legacy .xls payloads require an external Excel conversion host")

// LoadDataFrame is the single decoder entry point. Dispatch is by file suffix;
// ZIP archives recurse into their best tabular member. All resulting columns
// are normalized to lower-snake ASCII.
func LoadDataFrame(raw []byte, suffix string, opts Options) (dataframe.DataFrame, error) {
	df, err := loadRaw(raw, strings.ToLower(suffix), opts)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	if df.Error() != nil {
		return dataframe.DataFrame{}, df.Error()
	}
	return NormalizeColumns(df), nil
}

// LoadSheetRows exposes positional worksheet access for connectors that
// address cells by column letter rather than header name (INEP sinopse).
func LoadSheetRows(raw []byte, sheetHint string) ([][]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("xlsx is not a readable archive: %w", err)
	}
	shared, err := readSharedStrings(zr)
	if err != nil {
		return nil, err
	}
	sheetPath, err := resolveSheetPath(zr, sheetHint)
	if err != nil {
		return nil, err
	}
	return readSheetRows(zr, sheetPath, shared)
}

func loadRaw(raw []byte, suffix string, opts Options) (dataframe.DataFrame, error) {
	switch suffix {
	case ".zip":
		return readZip(raw, opts)
	case ".csv", ".txt":
		return readCSV(raw)
	case ".xlsx":
		return readXLSX(raw, opts.SheetHint)
	case ".xls":
		return dataframe.DataFrame{}, ErrUnsupportedXLS
	case ".json", ".geojson":
		return readJSON(raw)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("unsupported payload suffix %q", suffix)
	}
}

// readZip picks the archive member to decode: first a member whose normalized
// stem contains a preferred name, else the first supported member in sorted
// order. Archives without any tabular member are refused.
func readZip(raw []byte, opts Options) (dataframe.DataFrame, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("zip payload not readable: %w", err)
	}

	var candidates []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if supportedSuffixes[strings.ToLower(filepath.Ext(f.Name))] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("archive contains no supported tabular member")
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })

	chosen := candidates[0]
	for _, pref := range opts.PreferredZipEntries {
		want := NormalizeKey(pref)
		for _, f := range candidates {
			stem := strings.TrimSuffix(filepath.Base(f.Name), filepath.Ext(f.Name))
			if strings.Contains(NormalizeKey(stem), want) {
				chosen = f
				goto picked
			}
		}
	}
picked:

	rc, err := chosen.Open()
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	defer rc.Close()

	inner := &bytes.Buffer{}
	if _, err := inner.ReadFrom(rc); err != nil {
		return dataframe.DataFrame{}, err
	}

	return loadRaw(inner.Bytes(), strings.ToLower(filepath.Ext(chosen.Name)), opts)
}

package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/catalog"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/fetch"
)

// Origin marks where a resolved dataset came from.
const (
	OriginRemote = "remote"
	OriginManual = "manual"
)

// ResolvedDataset is the first source in the chain that decoded into a table.
type ResolvedDataset struct {
	DF       dataframe.DataFrame
	RawBytes []byte
	Suffix   string
	Origin   string
	URI      string
	FileName string
}

// sourceCandidate is one lazy step of the resolution chain.
type sourceCandidate struct {
	origin   string
	uri      string
	path     string
	method   string
	body     string
	suffix   string
	fileName string
}

// buildSourceChain lists catalog remotes (rendered for this period and
// municipality) followed by manual files sorted newest-first. PreferManualFirst
// reverses the two groups.
func (e *Engine) buildSourceChain(def Definition, renderCtx catalog.RenderContext) ([]sourceCandidate, []string) {
	var warnings []string
	var remotes, manuals []sourceCandidate

	if def.CatalogPath != "" {
		cat, err := catalog.Load(def.CatalogPath)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("catalog unavailable: %v", err))
		} else {
			for _, res := range cat.Resources {
				rendered := res.Rendered(renderCtx)
				suffix := rendered.Extension
				if suffix == "" {
					suffix = strings.ToLower(filepath.Ext(strippedURIPath(rendered.URI)))
				}
				if suffix != "" && !strings.HasPrefix(suffix, ".") {
					suffix = "." + suffix
				}
				remotes = append(remotes, sourceCandidate{
					origin:   OriginRemote,
					uri:      rendered.URI,
					method:   rendered.Method,
					body:     rendered.BodyTemplate,
					suffix:   suffix,
					fileName: filepath.Base(strippedURIPath(rendered.URI)),
				})
			}
		}
	}

	if def.ManualDir != "" {
		entries, err := os.ReadDir(def.ManualDir)
		if err == nil {
			type manualFile struct {
				path string
				mod  int64
			}
			var files []manualFile
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				ext := strings.ToLower(filepath.Ext(entry.Name()))
				switch ext {
				case ".csv", ".txt", ".xlsx", ".xls", ".zip", ".json", ".geojson":
				default:
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				files = append(files, manualFile{path: filepath.Join(def.ManualDir, entry.Name()), mod: info.ModTime().UnixNano()})
			}
			sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })
			for _, f := range files {
				manuals = append(manuals, sourceCandidate{
					origin:   OriginManual,
					path:     f.path,
					suffix:   strings.ToLower(filepath.Ext(f.path)),
					fileName: filepath.Base(f.path),
				})
			}
		}
	}

	if def.PreferManualFirst {
		return append(manuals, remotes...), warnings
	}
	return append(remotes, manuals...), warnings
}

// resolveDataset walks the chain and returns the first candidate that decodes
// into a non-empty table, collecting one warning per failed attempt.
func (e *Engine) resolveDataset(ctx context.Context, def Definition, chain []sourceCandidate) (*ResolvedDataset, []string) {
	const component = "SourceResolver"
	var warnings []string

	for _, cand := range chain {
		resolved, err := e.tryCandidate(ctx, def, cand)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s source %s failed: %v", cand.origin, cand.displayName(), err))
			e.appLogger.Warn(component, "Source attempt failed: job=%s origin=%s ref=%s error=%v", def.JobName, cand.origin, cand.displayName(), err)
			continue
		}
		e.appLogger.Info(component, "Source resolved: job=%s origin=%s ref=%s rows=%d", def.JobName, cand.origin, cand.displayName(), resolved.DF.Nrow())
		return resolved, warnings
	}
	return nil, warnings
}

func (e *Engine) tryCandidate(ctx context.Context, def Definition, cand sourceCandidate) (*ResolvedDataset, error) {
	var raw []byte
	var err error

	switch cand.origin {
	case OriginRemote:
		raw, _, err = e.fetch.DownloadBytes(ctx, cand.uri, downloadOptionsFor(cand))
		if err != nil {
			return nil, err
		}
	case OriginManual:
		raw, err = os.ReadFile(cand.path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown source origin %q", cand.origin)
	}

	suffix := cand.suffix
	if suffix == "" {
		suffix = ".csv"
	}

	df, err := decode.LoadDataFrame(raw, suffix, decode.Options{
		PreferredZipEntries: def.PreferredZipEntries,
		SheetHint:           def.SheetHint,
	})
	if err != nil {
		return nil, err
	}
	if df.Nrow() == 0 {
		return nil, fmt.Errorf("decoded table is empty")
	}

	return &ResolvedDataset{
		DF:       df,
		RawBytes: raw,
		Suffix:   suffix,
		Origin:   cand.origin,
		URI:      cand.referenceURI(),
		FileName: cand.fileName,
	}, nil
}

func downloadOptionsFor(cand sourceCandidate) fetch.DownloadOptions {
	return fetch.DownloadOptions{
		Method:   cand.method,
		Body:     cand.body,
		MinBytes: 64,
	}
}

func (c sourceCandidate) displayName() string {
	if c.origin == OriginManual {
		return c.path
	}
	return c.uri
}

func (c sourceCandidate) referenceURI() string {
	if c.origin == OriginManual {
		return "file://" + c.path
	}
	return c.uri
}

func strippedURIPath(uri string) string {
	if idx := strings.IndexAny(uri, "?#"); idx >= 0 {
		uri = uri[:idx]
	}
	return uri
}

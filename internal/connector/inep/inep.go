// Package inep ingests the school-census sinopse: the index page is scraped
// for yearly ZIP links, the nearest year at or below the requested one wins,
// and the workbook is addressed positionally (geocode in column D, name in
// column C).
package inep

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/net/html"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/catalog"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/fetch"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/territory"
)

const sheetHint = "educacao basica 1.1"

var yearToken = regexp.MustCompile(`(19|20)\d{2}`)

type Connector struct {
	engine *connector.Engine
}

func New(engine *connector.Engine) *Connector {
	return &Connector{engine: engine}
}

func (c *Connector) JobName() string { return "inep_school_census_fetch" }

func (c *Connector) Run(ctx context.Context, referencePeriod string, opts connector.RunOptions) connector.Result {
	meta := connector.JobMeta{
		JobName:         c.JobName(),
		Source:          "inep",
		Dataset:         "school_census",
		Wave:            "MVP-2",
		ReferencePeriod: referencePeriod,
	}
	return c.engine.Execute(ctx, meta, opts, c.step)
}

func (c *Connector) step(ctx context.Context, rc connector.RunContext) (*connector.Outcome, error) {
	out := &connector.Outcome{Details: store.JSONMap{}}
	settings := c.engine.Settings()
	storage := c.engine.Storage()

	requestedYear, err := strconv.Atoi(rc.ReferenceYear)
	if err != nil {
		return nil, fmt.Errorf("reference year %q not numeric", rc.ReferenceYear)
	}

	muni, err := storage.Territories.GetMunicipality(ctx, settings.MunicipalityIBGECode)
	if err != nil {
		return nil, err
	}

	raw, uri, origin, year, warns := c.resolveSinopse(ctx, requestedYear)
	out.Warnings = append(out.Warnings, warns...)
	if raw == nil {
		out.Blocked = true
		out.BlockReason = "no sinopse archive available at or below the requested year"
		out.Checks = append(out.Checks, check("inep_source_resolved", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("inep_source_resolved", store.CheckPass, fmt.Sprintf("year=%d uri=%s", year, uri)))
	if year != requestedYear {
		out.Warnings = append(out.Warnings, fmt.Sprintf("sinopse for %d unavailable; using %d", requestedYear, year))
	}
	out.Details["sinopse_year"] = year

	workbook, err := extractWorkbook(raw)
	if err != nil {
		return nil, fmt.Errorf("sinopse archive has no readable workbook: %w", err)
	}

	rows, err := decode.LoadSheetRows(workbook, sheetHint)
	if err != nil {
		return nil, fmt.Errorf("sinopse sheet not readable: %w", err)
	}
	out.RowsExtracted = int64(len(rows))

	value, matched, ok := findEnrolment(rows, territory.Target{
		IBGECode: settings.MunicipalityIBGECode,
		Name:     settings.MunicipalityName,
	})
	if !ok {
		out.Blocked = true
		out.BlockReason = fmt.Sprintf("municipality %s not present in the sinopse sheet", settings.MunicipalityIBGECode)
		out.Checks = append(out.Checks, check("inep_municipality_row_found", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("inep_municipality_row_found", store.CheckPass, "matched_by="+matched))
	if matched == "name" {
		out.Warnings = append(out.Warnings, "municipality matched by name; sheet carries no usable geocode")
	}

	if rc.DryRun {
		out.Preview = append(out.Preview, connector.PreviewRow{
			IndicatorCode: "INEP_ENROLMENT_TOTAL",
			IndicatorName: "Matriculas na educacao basica",
			Unit:          "matriculas",
			Category:      "education",
			Value:         value,
			Rows:          1,
		})
		return out, nil
	}

	err = storage.WithTx(ctx, func(tx *sqlx.Tx) error {
		fact := &store.IndicatorFact{
			TerritoryID:     muni.TerritoryID,
			Source:          "inep",
			Dataset:         "school_census",
			IndicatorCode:   "INEP_ENROLMENT_TOTAL",
			IndicatorName:   "Matriculas na educacao basica",
			Category:        "education",
			Unit:            "matriculas",
			Value:           value,
			ReferencePeriod: rc.ReferencePeriod,
		}
		return storage.Indicators.UpsertIndicator(ctx, tx, fact)
	})
	if err != nil {
		return out, fmt.Errorf("school-census load failed: %w", err)
	}
	out.RowsWritten = 1
	out.TablesWritten = []string{"fact_indicator"}
	out.Checks = append(out.Checks, check("inep_indicator_rows_loaded", store.CheckPass, "rows=1"))

	art, err := c.engine.Bronze().PersistRawBytes(bronze.Request{
		Source:          "inep",
		Dataset:         "school_census",
		ReferencePeriod: rc.ReferencePeriod,
		RunID:           rc.RunID,
		RawBytes:        raw,
		Extension:       ".zip",
		URI:             uri,
		Origin:          origin,
		TerritoryScope:  settings.MunicipalityIBGECode,
		DatasetVersion:  strconv.Itoa(year),
		TablesWritten:   out.TablesWritten,
		RowsWritten:     1,
		Notes:           out.Warnings,
	})
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("bronze artifact not persisted: %v", err))
	} else {
		out.Bronze = &art
	}
	return out, nil
}

// resolveSinopse scrapes the index page for sinopse ZIP links and downloads
// the nearest year at or below the requested one, falling back to the manual
// drop when the scrape or download fails.
func (c *Connector) resolveSinopse(ctx context.Context, requestedYear int) ([]byte, string, string, int, []string) {
	settings := c.engine.Settings()
	var warnings []string

	cat, err := catalog.Load("configs/inep_catalog.yml")
	if err == nil && len(cat.Resources) > 0 {
		indexURI := cat.Resources[0].URI
		page, _, err := c.engine.Fetch().DownloadBytes(ctx, indexURI, fetch.DownloadOptions{MinBytes: 256})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sinopse index page unavailable: %v", err))
		} else {
			link, year := pickSinopseLink(page, indexURI, requestedYear)
			if link == "" {
				warnings = append(warnings, "sinopse index page lists no usable ZIP link")
			} else {
				raw, _, err := c.engine.Fetch().DownloadBytes(ctx, link, fetch.DownloadOptions{MinBytes: 1024})
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("sinopse archive download failed: %v", err))
				} else {
					return raw, link, connector.OriginRemote, year, warnings
				}
			}
		}
	} else if err != nil {
		warnings = append(warnings, fmt.Sprintf("catalog unavailable: %v", err))
	}

	path, year := manualSinopse(settings.ManualDir("inep"), requestedYear)
	if path == "" {
		return nil, "", "", 0, warnings
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", "", 0, append(warnings, fmt.Sprintf("manual sinopse %s not readable: %v", path, err))
	}
	return raw, "file://" + path, connector.OriginManual, year, warnings
}

// pickSinopseLink tokenizes the index HTML and returns the sinopse ZIP href
// with the largest year not exceeding the requested one.
func pickSinopseLink(page []byte, baseURI string, requestedYear int) (string, int) {
	base, err := url.Parse(baseURI)
	if err != nil {
		return "", 0
	}

	bestYear := 0
	bestLink := ""
	tokenizer := html.NewTokenizer(bytes.NewReader(page))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := tokenizer.TagName()
		if string(name) != "a" || !hasAttr {
			continue
		}
		for {
			key, val, more := tokenizer.TagAttr()
			if string(key) == "href" {
				href := string(val)
				key := decode.NormalizeKey(href)
				if strings.HasSuffix(strings.ToLower(href), ".zip") && strings.Contains(key, "sinopse") {
					if y := linkYear(href); y > bestYear && y <= requestedYear {
						if resolved, err := base.Parse(href); err == nil {
							bestYear = y
							bestLink = resolved.String()
						}
					}
				}
			}
			if !more {
				break
			}
		}
	}
	return bestLink, bestYear
}

func linkYear(href string) int {
	match := yearToken.FindString(filepath.Base(href))
	if match == "" {
		return 0
	}
	y, _ := strconv.Atoi(match)
	return y
}

func manualSinopse(dir string, requestedYear int) (string, int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0
	}
	bestYear := 0
	bestPath := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".zip" && ext != ".xlsx" {
			continue
		}
		if y := linkYear(e.Name()); y > bestYear && y <= requestedYear {
			bestYear = y
			bestPath = filepath.Join(dir, e.Name())
		}
	}
	return bestPath, bestYear
}

// extractWorkbook returns the first XLSX member of the archive; an XLSX
// payload passes through unchanged.
func extractWorkbook(raw []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("payload is not a readable archive: %w", err)
	}

	// An XLSX is itself a ZIP; the OOXML content-types entry tells them apart.
	for _, f := range zr.File {
		if f.Name == "[Content_Types].xml" {
			return raw, nil
		}
	}

	var names []string
	byName := map[string]*zip.File{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.ToLower(filepath.Ext(f.Name)) != ".xlsx" {
			continue
		}
		names = append(names, f.Name)
		byName[f.Name] = f
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("archive carries no workbook")
	}
	sort.Strings(names)

	rc, err := byName[names[0]].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// findEnrolment locates the municipality row (geocode in column D, display
// name in column C) and takes the first numeric cell to the right of it.
func findEnrolment(rows [][]string, target territory.Target) (float64, string, bool) {
	code7 := decode.DigitsOnly(target.IBGECode)
	code6 := code7
	if len(code7) == 7 {
		code6 = code7[:6]
	}
	wantName := decode.NormalizeKey(target.Name)

	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		matched := ""
		if d := decode.DigitsOnly(row[3]); d != "" && (d == code7 || d == code6) {
			matched = "code"
		} else if wantName != "" && decode.NormalizeKey(row[2]) == wantName {
			matched = "name"
		}
		if matched == "" {
			continue
		}
		for _, cell := range row[4:] {
			if v, ok := decode.ParseDecimal(cell); ok {
				return v, matched, true
			}
		}
	}
	return 0, "", false
}

func check(name, status, details string) store.PipelineCheck {
	return store.PipelineCheck{CheckName: name, Status: status, Details: details}
}

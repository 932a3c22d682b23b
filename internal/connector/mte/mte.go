// Package mte ingests labor microdata from the ministry mirror: the portal is
// probed first (its login wall is a known condition, not an error), then the
// FTP tree is walked for the newest monthly .7z of the requested year, with
// the manual drop as the last resort.
package mte

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/go-gota/gota/dataframe"
	"github.com/jlaffaye/ftp"
	"github.com/jmoiron/sqlx"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/bronze"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/connector"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/fetch"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/territory"
)

const ftpBasePath = "pdet/microdados/NOVO CAGED"

type Connector struct {
	engine *connector.Engine
	ftp    *fetch.FTPClient
}

func New(engine *connector.Engine) *Connector {
	s := engine.Settings()
	return &Connector{
		engine: engine,
		ftp:    fetch.NewFTPClient(s.MTEFTPHost, s.RequestTimeoutSeconds, engine.Logger()),
	}
}

func (c *Connector) JobName() string { return "mte_labor_fetch" }

func (c *Connector) Run(ctx context.Context, referencePeriod string, opts connector.RunOptions) connector.Result {
	meta := connector.JobMeta{
		JobName:         c.JobName(),
		Source:          "mte",
		Dataset:         "labor_movements",
		Wave:            "MVP-2",
		ReferencePeriod: referencePeriod,
	}
	return c.engine.Execute(ctx, meta, opts, c.step)
}

func (c *Connector) step(ctx context.Context, rc connector.RunContext) (*connector.Outcome, error) {
	out := &connector.Outcome{Details: store.JSONMap{}}
	settings := c.engine.Settings()
	storage := c.engine.Storage()

	muni, err := storage.Territories.GetMunicipality(ctx, settings.MunicipalityIBGECode)
	if err != nil {
		return nil, err
	}

	remoteOK := c.probePortal(ctx, out)

	var raw []byte
	var uri, origin, suffix string
	if remoteOK {
		raw, uri, suffix, err = c.fetchFromFTP(ctx, rc.ReferenceYear)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("ftp microdata unavailable: %v", err))
		} else {
			origin = connector.OriginRemote
		}
	}

	if raw == nil {
		raw, uri, suffix = manualDataset(settings.ManualDir("mte"))
		if raw == nil {
			out.Blocked = true
			out.BlockReason = "no remote microdata access and no manual dataset"
			out.Checks = append(out.Checks,
				check("mte_manual_dataset_available", store.CheckWarn, "manual drop is empty"))
			return out, nil
		}
		origin = connector.OriginManual
		out.Checks = append(out.Checks, check("mte_manual_dataset_available", store.CheckPass, uri))
	}

	table, tableSuffix, err := decodeDataset(raw, suffix)
	if err != nil {
		return nil, fmt.Errorf("labor dataset not decodable: %w", err)
	}

	df := decode.NormalizeColumns(table)
	res := territory.Resolve(df, territory.Target{
		IBGECode: settings.MunicipalityIBGECode,
		Name:     settings.MunicipalityName,
	}, []string{"municipio", "codigo_municipio", "cod_municipio"}, []string{"nome_municipio"}, filepath.Base(uri))
	out.RowsExtracted = int64(df.Nrow())

	if res.Kind == territory.MatchNone {
		out.Blocked = true
		out.BlockReason = fmt.Sprintf("municipality %s absent from the labor microdata", settings.MunicipalityIBGECode)
		out.Checks = append(out.Checks, check("mte_municipality_row_found", store.CheckWarn, out.BlockReason))
		return out, nil
	}
	out.Checks = append(out.Checks, check("mte_municipality_row_found", store.CheckPass, fmt.Sprintf("matched_by=%s rows=%d", res.Kind, res.Count)))

	admissions, dismissals, balance := tallyMovements(res)
	total := int64(res.Count)

	indicators := []store.IndicatorFact{
		{IndicatorCode: "MTE_ADMISSIONS", IndicatorName: "Admissoes no periodo", Value: float64(admissions)},
		{IndicatorCode: "MTE_DISMISSALS", IndicatorName: "Desligamentos no periodo", Value: float64(dismissals)},
		{IndicatorCode: "MTE_BALANCE", IndicatorName: "Saldo de movimentacoes", Value: float64(balance)},
		{IndicatorCode: "MTE_MOVEMENTS_TOTAL", IndicatorName: "Movimentacoes totais", Value: float64(total)},
	}

	if rc.DryRun {
		for _, ind := range indicators {
			out.Preview = append(out.Preview, connector.PreviewRow{
				IndicatorCode: ind.IndicatorCode,
				IndicatorName: ind.IndicatorName,
				Category:      "labor",
				Unit:          "movimentacoes",
				Value:         ind.Value,
				Rows:          res.Count,
			})
		}
		return out, nil
	}

	err = storage.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, ind := range indicators {
			fact := &store.IndicatorFact{
				TerritoryID:     muni.TerritoryID,
				Source:          "mte",
				Dataset:         "labor_movements",
				IndicatorCode:   ind.IndicatorCode,
				IndicatorName:   ind.IndicatorName,
				Category:        "labor",
				Unit:            "movimentacoes",
				Value:           ind.Value,
				ReferencePeriod: rc.ReferencePeriod,
			}
			if err := storage.Indicators.UpsertIndicator(ctx, tx, fact); err != nil {
				return err
			}
			out.RowsWritten++
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("labor load failed: %w", err)
	}
	out.TablesWritten = []string{"fact_indicator"}
	out.Checks = append(out.Checks, check("mte_indicator_rows_loaded", store.CheckPass, fmt.Sprintf("rows=%d", out.RowsWritten)))

	art, err := c.engine.Bronze().PersistRawBytes(bronze.Request{
		Source:          "mte",
		Dataset:         "labor_movements",
		ReferencePeriod: rc.ReferencePeriod,
		RunID:           rc.RunID,
		RawBytes:        raw,
		Extension:       tableSuffix,
		URI:             uri,
		Origin:          origin,
		TerritoryScope:  settings.MunicipalityIBGECode,
		TablesWritten:   out.TablesWritten,
		RowsWritten:     int(out.RowsWritten),
		Notes:           out.Warnings,
	})
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("bronze artifact not persisted: %v", err))
	} else {
		out.Bronze = &art
	}
	return out, nil
}

// probePortal checks whether the microdata portal answers without a login
// wall. Either way the run proceeds; the check records the access state.
func (c *Connector) probePortal(ctx context.Context, out *connector.Outcome) bool {
	settings := c.engine.Settings()
	_, _, err := c.engine.Fetch().DownloadBytes(ctx, settings.MTEPortalURL, fetch.DownloadOptions{MinBytes: 128})
	switch {
	case errors.Is(err, fetch.ErrLoginWall):
		out.Warnings = append(out.Warnings, "microdata portal sits behind a login wall")
		out.Checks = append(out.Checks, check("mte_remote_microdata_access", store.CheckWarn, "portal redirects to login"))
		return false
	case err != nil:
		out.Warnings = append(out.Warnings, fmt.Sprintf("microdata portal probe failed: %v", err))
		out.Checks = append(out.Checks, check("mte_remote_microdata_access", store.CheckWarn, err.Error()))
		return true // portal flakiness does not gate the FTP path
	default:
		out.Checks = append(out.Checks, check("mte_remote_microdata_access", store.CheckPass, "portal reachable"))
		return true
	}
}

// fetchFromFTP walks <base>/<year>/<month>/ and retrieves the newest .7z.
func (c *Connector) fetchFromFTP(ctx context.Context, year string) ([]byte, string, string, error) {
	yearPath := ftpBasePath + "/" + year
	months, err := c.ftp.List(yearPath)
	if err != nil {
		return nil, "", "", err
	}

	var monthNames []string
	for _, e := range months {
		if e.Type == ftp.EntryTypeFolder {
			monthNames = append(monthNames, e.Name)
		}
	}
	if len(monthNames) == 0 {
		return nil, "", "", fmt.Errorf("year directory %s lists no months", yearPath)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(monthNames)))

	for _, month := range monthNames {
		monthPath := yearPath + "/" + month
		files, err := c.ftp.List(monthPath)
		if err != nil {
			continue
		}
		var archives []string
		for _, e := range files {
			if strings.HasSuffix(strings.ToLower(e.Name), ".7z") {
				archives = append(archives, e.Name)
			}
		}
		if len(archives) == 0 {
			continue
		}
		sort.Sort(sort.Reverse(sort.StringSlice(archives)))

		path := monthPath + "/" + archives[0]
		raw, err := c.ftp.Retrieve(path)
		if err != nil {
			return nil, "", "", err
		}
		return raw, "ftp://" + c.engine.Settings().MTEFTPHost + "/" + path, ".7z", nil
	}
	return nil, "", "", fmt.Errorf("no .7z archive under %s", yearPath)
}

func manualDataset(dir string) ([]byte, string, string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", ""
	}

	type candidate struct {
		path string
		mod  int64
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".7z", ".csv", ".txt", ".zip":
		default:
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{path: filepath.Join(dir, e.Name()), mod: info.ModTime().UnixNano()})
	}
	if len(files) == 0 {
		return nil, "", ""
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })

	raw, err := os.ReadFile(files[0].path)
	if err != nil {
		return nil, "", ""
	}
	return raw, "file://" + files[0].path, strings.ToLower(filepath.Ext(files[0].path))
}

// decodeDataset turns the payload into a dataframe, extracting the first
// tabular member of a .7z archive first.
func decodeDataset(raw []byte, suffix string) (dataframe.DataFrame, string, error) {
	if suffix == ".7z" {
		inner, name, err := extract7z(raw)
		if err != nil {
			return dataframe.DataFrame{}, "", err
		}
		raw = inner
		suffix = strings.ToLower(filepath.Ext(name))
		if suffix == "" {
			suffix = ".txt"
		}
	}
	table, err := decode.LoadDataFrame(raw, suffix, decode.Options{})
	return table, suffix, err
}

func extract7z(raw []byte) ([]byte, string, error) {
	zr, err := sevenzip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, "", fmt.Errorf("7z archive not readable: %w", err)
	}

	var names []string
	byName := map[string]*sevenzip.File{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		if ext != ".csv" && ext != ".txt" {
			continue
		}
		names = append(names, f.Name)
		byName[f.Name] = f
	}
	if len(names) == 0 {
		return nil, "", fmt.Errorf("7z archive carries no tabular member")
	}
	sort.Strings(names)

	rc, err := byName[names[0]].Open()
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	inner, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("7z member %s not extractable: %w", names[0], err)
	}
	return inner, names[0], nil
}

// tallyMovements counts admissions (+1) and dismissals (-1) from the movement
// balance column.
func tallyMovements(res territory.Resolution) (admissions, dismissals, balance int64) {
	names := res.Rows.Names()
	col := ""
	for _, cand := range []string{"saldomovimentacao", "saldo_movimentacao", "saldo"} {
		for _, n := range names {
			if n == cand {
				col = n
				break
			}
		}
		if col != "" {
			break
		}
	}
	if col == "" {
		return 0, 0, 0
	}

	for _, raw := range res.Rows.Col(col).Records() {
		v, ok := decode.ParseDecimal(raw)
		if !ok {
			continue
		}
		switch {
		case v > 0:
			admissions++
			balance++
		case v < 0:
			dismissals++
			balance--
		}
	}
	return admissions, dismissals, balance
}

func check(name, status, details string) store.PipelineCheck {
	return store.PipelineCheck{CheckName: name, Status: status, Details: details}
}

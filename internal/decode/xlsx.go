package decode

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// readXLSX parses an OOXML workbook without a spreadsheet library: shared
// strings first, then workbook + rels to pick a sheet, then a streaming walk
// of sheetData rows. sheetHint selects the sheet whose name contains it
// (accent-folded); otherwise the first sheet wins.
func readXLSX(raw []byte, sheetHint string) (dataframe.DataFrame, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx is not a readable archive: %w", err)
	}

	shared, err := readSharedStrings(zr)
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	sheetPath, err := resolveSheetPath(zr, sheetHint)
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	rows, err := readSheetRows(zr, sheetPath, shared)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	if len(rows) < 2 {
		return dataframe.DataFrame{}, fmt.Errorf("worksheet %s has no data rows", sheetPath)
	}

	df := dataframe.LoadRecords(rows, dataframe.DefaultType(series.String), dataframe.DetectTypes(false))
	return df, df.Error()
}

type sstXML struct {
	Items []sstItem `xml:"si"`
}

type sstItem struct {
	Text string   `xml:"t"`
	Runs []string `xml:"r>t"`
}

func readSharedStrings(zr *zip.Reader) ([]string, error) {
	f := findZipEntry(zr, "xl/sharedStrings.xml")
	if f == nil {
		return nil, nil // workbooks with only inline/numeric cells
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var sst sstXML
	if err := xml.NewDecoder(rc).Decode(&sst); err != nil {
		return nil, fmt.Errorf("shared strings parse failed: %w", err)
	}

	out := make([]string, len(sst.Items))
	for i, si := range sst.Items {
		if len(si.Runs) > 0 {
			out[i] = strings.Join(si.Runs, "")
		} else {
			out[i] = si.Text
		}
	}
	return out, nil
}

type workbookXML struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"id,attr"`
	} `xml:"sheets>sheet"`
}

type relsXML struct {
	Rels []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

func resolveSheetPath(zr *zip.Reader, sheetHint string) (string, error) {
	wbFile := findZipEntry(zr, "xl/workbook.xml")
	if wbFile == nil {
		return "", fmt.Errorf("workbook.xml missing from xlsx")
	}
	rc, err := wbFile.Open()
	if err != nil {
		return "", err
	}
	var wb workbookXML
	err = xml.NewDecoder(rc).Decode(&wb)
	rc.Close()
	if err != nil {
		return "", fmt.Errorf("workbook parse failed: %w", err)
	}
	if len(wb.Sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}

	relTargets := map[string]string{}
	if relFile := findZipEntry(zr, "xl/_rels/workbook.xml.rels"); relFile != nil {
		rrc, err := relFile.Open()
		if err != nil {
			return "", err
		}
		var rels relsXML
		err = xml.NewDecoder(rrc).Decode(&rels)
		rrc.Close()
		if err != nil {
			return "", fmt.Errorf("workbook rels parse failed: %w", err)
		}
		for _, rel := range rels.Rels {
			relTargets[rel.ID] = rel.Target
		}
	}

	chosen := wb.Sheets[0]
	if sheetHint != "" {
		hint := NormalizeKey(sheetHint)
		for _, sheet := range wb.Sheets {
			if strings.Contains(NormalizeKey(sheet.Name), hint) {
				chosen = sheet
				break
			}
		}
	}

	target := relTargets[chosen.RID]
	if target == "" {
		// Fall back to the conventional layout when rels are absent.
		target = fmt.Sprintf("worksheets/sheet%d.xml", 1+indexOfSheet(wb, chosen.RID))
	}
	if !strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "xl/") {
		target = path.Join("xl", target)
	}
	return strings.TrimPrefix(target, "/"), nil
}

func indexOfSheet(wb workbookXML, rid string) int {
	for i, s := range wb.Sheets {
		if s.RID == rid {
			return i
		}
	}
	return 0
}

// readSheetRows streams sheetData/row/c cells, expanding A1 references into
// column indexes and resolving shared/inline/raw values.
func readSheetRows(zr *zip.Reader, sheetPath string, shared []string) ([][]string, error) {
	f := findZipEntry(zr, sheetPath)
	if f == nil {
		return nil, fmt.Errorf("worksheet %s missing from xlsx", sheetPath)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)

	var rows [][]string
	var current []string
	maxCols := 0

	var cellRef, cellType string
	var cellValue strings.Builder
	var inValue, inInlineStr bool

	flushCell := func() {
		col := columnIndex(cellRef)
		for len(current) <= col {
			current = append(current, "")
		}
		val := cellValue.String()
		if cellType == "s" {
			if idx, ok := atoiSafe(val); ok && idx >= 0 && idx < len(shared) {
				val = shared[idx]
			}
		}
		current[col] = val
		cellValue.Reset()
		cellRef, cellType = "", ""
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("worksheet stream error: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				current = nil
			case "c":
				cellRef, cellType = "", ""
				cellValue.Reset()
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "r":
						cellRef = attr.Value
					case "t":
						cellType = attr.Value
					}
				}
			case "is":
				inInlineStr = cellType == "inlineStr"
			case "v":
				inValue = true
			case "t":
				if inInlineStr {
					inValue = true
				}
			}
		case xml.CharData:
			if inValue {
				cellValue.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "is":
				inInlineStr = false
			case "c":
				flushCell()
			case "row":
				if len(current) > maxCols {
					maxCols = len(current)
				}
				rows = append(rows, current)
				current = nil
			}
		}
	}

	// Square the grid: gota requires uniform record widths.
	for i := range rows {
		for len(rows[i]) < maxCols {
			rows[i] = append(rows[i], "")
		}
	}
	return rows, nil
}

// columnIndex expands the letter part of an A1 reference ("D7" -> 3).
func columnIndex(ref string) int {
	idx := 0
	seen := false
	for _, r := range ref {
		if r >= 'A' && r <= 'Z' {
			idx = idx*26 + int(r-'A') + 1
			seen = true
		} else if r >= 'a' && r <= 'z' {
			idx = idx*26 + int(r-'a') + 1
			seen = true
		} else {
			break
		}
	}
	if !seen {
		return 0
	}
	return idx - 1
}

func atoiSafe(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func findZipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

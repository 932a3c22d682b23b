package decode

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var csvSeparators = []rune{';', ',', '\t', '|'}

var csvEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"utf-8", unicode.UTF8},
	// Windows-1252 covers the Latin-1 range plus the punctuation government
	// sources actually emit.
	{"latin1", charmap.Windows1252},
}

type csvCandidate struct {
	df   dataframe.DataFrame
	cols int
	rows int
}

// readCSV sniffs encoding and delimiter by scoring every combination on
// (#columns, #rows) and returning the widest parse. Files whose payload starts
// with an INMET-style "data;hora" header get their preamble rows skipped.
func readCSV(raw []byte) (dataframe.DataFrame, error) {
	if skipped, ok := stripINMETPreamble(raw); ok {
		raw = skipped
	}

	best := csvCandidate{cols: -1, rows: -1}
	for _, enc := range csvEncodings {
		decoded, err := io.ReadAll(enc.enc.NewDecoder().Reader(bytes.NewReader(raw)))
		if err != nil {
			continue
		}
		for _, sep := range csvSeparators {
			df := dataframe.ReadCSV(bytes.NewReader(decoded),
				dataframe.WithDelimiter(sep),
				dataframe.WithLazyQuotes(true),
				dataframe.DefaultType(series.String),
				dataframe.DetectTypes(false),
			)
			if df.Error() != nil {
				continue
			}
			cand := csvCandidate{df: df, cols: df.Ncol(), rows: df.Nrow()}
			if cand.cols > best.cols || (cand.cols == best.cols && cand.rows > best.rows) {
				best = cand
			}
		}
	}

	if best.cols <= 0 || best.rows == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("csv payload yielded no parseable table")
	}
	return best.df, nil
}

// stripINMETPreamble drops the station-metadata preamble INMET climate exports
// carry before the "Data;Hora" header line.
func stripINMETPreamble(raw []byte) ([]byte, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > 16 {
			break
		}
	}

	for i, line := range lines {
		folded := strings.ToLower(FoldAccents(strings.TrimSpace(line)))
		if strings.HasPrefix(folded, "data;hora") {
			if i == 0 {
				return nil, false
			}
			rest := append([]string{}, lines[i:]...)
			// Everything after the scanned window is untouched payload.
			full := strings.Join(rest, "\n")
			if idx := bytes.Index(raw, []byte(line)); idx >= 0 {
				return raw[idx:], true
			}
			return []byte(full), true
		}
	}
	return nil, false
}

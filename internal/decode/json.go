package decode

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// readJSON accepts the envelope shapes seen across government APIs: a bare
// array, CKAN's {result:{records}}, generic {records}, and GeoJSON/ArcGIS
// {features} where each feature's attributes or properties become a row. A
// plain object falls back to a single-row table.
func readJSON(raw []byte) (dataframe.DataFrame, error) {
	var top any
	if err := json.Unmarshal(raw, &top); err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("json payload not parseable: %w", err)
	}

	switch v := top.(type) {
	case []any:
		return rowsToDataFrame(asRowMaps(v))
	case map[string]any:
		if records, ok := v["records"].([]any); ok {
			return rowsToDataFrame(asRowMaps(records))
		}
		if result, ok := v["result"].(map[string]any); ok {
			if records, ok := result["records"].([]any); ok {
				return rowsToDataFrame(asRowMaps(records))
			}
		}
		if features, ok := v["features"].([]any); ok {
			return rowsToDataFrame(featureRows(features))
		}
		return rowsToDataFrame([]map[string]any{v})
	default:
		return dataframe.DataFrame{}, fmt.Errorf("json payload has unsupported top-level type")
	}
}

func asRowMaps(items []any) []map[string]any {
	rows := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows
}

// featureRows flattens GeoJSON properties or ArcGIS attributes; the feature
// itself is the row when neither envelope is present. Point coordinates are
// preserved as lon/lat columns so urban connectors can build geometries.
func featureRows(features []any) []map[string]any {
	rows := make([]map[string]any, 0, len(features))
	for _, f := range features {
		fm, ok := f.(map[string]any)
		if !ok {
			continue
		}

		var row map[string]any
		if attrs, ok := fm["attributes"].(map[string]any); ok {
			row = copyMap(attrs)
		} else if props, ok := fm["properties"].(map[string]any); ok {
			row = copyMap(props)
		} else {
			row = copyMap(fm)
		}

		if geom, ok := fm["geometry"].(map[string]any); ok {
			if coords, ok := geom["coordinates"].([]any); ok && len(coords) >= 2 {
				if lon, ok := coords[0].(float64); ok {
					row["_lon"] = lon
				}
				if lat, ok := coords[1].(float64); ok {
					row["_lat"] = lat
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func rowsToDataFrame(rows []map[string]any) (dataframe.DataFrame, error) {
	if len(rows) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("json payload has no records")
	}

	colSet := map[string]struct{}{}
	for _, row := range rows {
		for k := range row {
			colSet[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for k := range colSet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	records := make([][]string, 0, len(rows)+1)
	records = append(records, cols)
	for _, row := range rows {
		rec := make([]string, len(cols))
		for i, col := range cols {
			rec[i] = stringifyJSONValue(row[col])
		}
		records = append(records, rec)
	}

	df := dataframe.LoadRecords(records, dataframe.DefaultType(series.String), dataframe.DetectTypes(false))
	return df, df.Error()
}

func stringifyJSONValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

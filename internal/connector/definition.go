// Package connector implements the generic ingestion pipeline shared by the
// tabular and social connectors: catalog -> fetch -> decode -> municipality
// filter -> aggregate -> upsert, with per-run observability and bronze
// artifacts. Bespoke connectors reuse the same run lifecycle through RunSteps.
package connector

import (
	"fmt"
	"strings"
)

// Aggregator reduces the candidate values of a metric to one number.
type Aggregator string

const (
	AggSum   Aggregator = "sum"
	AggAvg   Aggregator = "avg"
	AggMax   Aggregator = "max"
	AggMin   Aggregator = "min"
	AggFirst Aggregator = "first"
	AggCount Aggregator = "count"
)

// OutlierYearPolicy decides what happens to rows whose reference year falls
// outside [1900, current+1].
type OutlierYearPolicy string

const (
	OutlierRewrite OutlierYearPolicy = "rewrite_to_requested"
	OutlierDrop    OutlierYearPolicy = "drop"
)

// MetricSpec declares one indicator extracted from a source table.
type MetricSpec struct {
	Code       string
	Name       string
	Unit       string
	Category   string
	Candidates []string // column aliases, first match wins
	Aggregator Aggregator
	RowFilters map[string][]string // normalized column -> allowed values
}

// Definition is the declarative description of a tabular/social connector.
type Definition struct {
	JobName         string
	Source          string
	DatasetName     string
	FactDatasetName string // when set, a wide social-fact row is also written
	SocialFactTable string
	Wave            string

	CatalogPath       string
	ManualDir         string
	PreferManualFirst bool

	MetricSpecs []MetricSpec

	ReferenceYearColumns    []string
	MunicipalityCodeColumns []string
	MunicipalityNameColumns []string

	PreferredZipEntries []string
	SheetHint           string

	OnOutlierYear OutlierYearPolicy
}

// Validate catches definition mistakes before a run starts.
func (d Definition) Validate() error {
	if d.JobName == "" || d.Source == "" || d.DatasetName == "" {
		return fmt.Errorf("connector definition needs job_name, source and dataset_name")
	}
	if len(d.MetricSpecs) == 0 {
		return fmt.Errorf("connector %s declares no metric specs", d.JobName)
	}
	for _, m := range d.MetricSpecs {
		if m.Code == "" || len(m.Candidates) == 0 {
			return fmt.Errorf("connector %s has a metric spec without code or candidates", d.JobName)
		}
		switch m.Aggregator {
		case AggSum, AggAvg, AggMax, AggMin, AggFirst, AggCount:
		default:
			return fmt.Errorf("connector %s metric %s uses unknown aggregator %q", d.JobName, m.Code, m.Aggregator)
		}
	}
	if d.FactDatasetName != "" && d.SocialFactTable == "" {
		return fmt.Errorf("connector %s sets fact_dataset_name without a social fact table", d.JobName)
	}
	return nil
}

// ParseReferenceYear extracts the 4-digit year of a reference period.
func ParseReferenceYear(referencePeriod string) (string, error) {
	trimmed := strings.TrimSpace(referencePeriod)
	if len(trimmed) < 4 {
		return "", fmt.Errorf("reference period %q has no 4-digit year", referencePeriod)
	}
	year := trimmed[:4]
	for _, r := range year {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("reference period %q has no 4-digit year", referencePeriod)
		}
	}
	return year, nil
}

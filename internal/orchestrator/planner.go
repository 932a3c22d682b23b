// Package orchestrator plans and runs incremental backfills: it decides per
// (job, period) pair whether to execute based on the ops history, fans out to
// the connectors in a fixed order, and triggers the post-load jobs.
package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

// JobOrder fixes the execution sequence: territories before everything that
// needs a municipality row, urban layers last. Jobs not listed run afterwards
// in name order.
var JobOrder = []string{
	"ibge_geometries_fetch",
	"tse_electorate_fetch",
	"tse_results_fetch",
	"sidra_indicators_fetch",
	"datasus_health_fetch",
	"inep_school_census_fetch",
	"mte_labor_fetch",
	"senatran_fleet_fetch",
	"snis_sanitation_fetch",
	"inmet_climate_fetch",
	"anatel_connectivity_fetch",
	"aneel_energy_fetch",
	"cecad_social_protection_fetch",
	"censosuas_network_fetch",
	"transparencia_social_programs_fetch",
	"urban_transport_stops_fetch",
}

// GovernedConnectors touch person-level registries and stay out of backfills
// unless explicitly allowed.
var GovernedConnectors = map[string]bool{
	"cecad_social_protection_fetch": true,
	"censosuas_network_fetch":       true,
}

// PlanEntry is one (job, period) decision.
type PlanEntry struct {
	JobName  string  `json:"job_name"`
	Period   string  `json:"period"`
	Execute  bool    `json:"execute"`
	Reason   string  `json:"reason"`
	AgeHours float64 `json:"age_hours,omitempty"`
}

// Decide is the freshness state machine. It is a pure function of the latest
// run so the whole decision table is testable without a database.
func Decide(latest *store.PipelineRun, reprocess, force bool, staleAfterHours int, now time.Time) (bool, string, float64) {
	if force {
		return true, "forced", ageHours(latest, now)
	}
	if latest == nil {
		return true, "no_previous_run", 0
	}
	if reprocess {
		return true, "reprocess_selected", ageHours(latest, now)
	}
	if latest.Status != store.StatusSuccess {
		return true, "latest_status_" + latest.Status, ageHours(latest, now)
	}

	age := ageHours(latest, now)
	if age >= float64(staleAfterHours) {
		return true, fmt.Sprintf("stale_success_ge_%dh", staleAfterHours), age
	}
	return false, fmt.Sprintf("fresh_success_lt_%dh", staleAfterHours), age
}

func ageHours(latest *store.PipelineRun, now time.Time) float64 {
	if latest == nil {
		return 0
	}
	return now.Sub(latest.StartedAtUTC).Hours()
}

// orderJobs sorts the selected jobs by JobOrder position, unknown jobs after
// the known ones in name order.
func orderJobs(jobs []string) []string {
	position := map[string]int{}
	for i, j := range JobOrder {
		position[j] = i
	}

	out := append([]string(nil), jobs...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iKnown := position[out[i]]
		pj, jKnown := position[out[j]]
		switch {
		case iKnown && jKnown:
			return pi < pj
		case iKnown:
			return true
		case jKnown:
			return false
		default:
			return out[i] < out[j]
		}
	})
	return out
}

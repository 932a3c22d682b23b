package orchestrator

import (
	"math"
	"testing"
	"time"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

func runStartedAgo(status string, hours float64, now time.Time) *store.PipelineRun {
	return &store.PipelineRun{
		JobName:         "sidra_indicators_fetch",
		ReferencePeriod: "2024",
		Status:          status,
		StartedAtUTC:    now.Add(-time.Duration(hours * float64(time.Hour))),
	}
}

func TestDecideDecisionTable(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		latest      *store.PipelineRun
		reprocess   bool
		force       bool
		wantExecute bool
		wantReason  string
	}{
		{"no history", nil, false, false, true, "no_previous_run"},
		{"forced", runStartedAgo(store.StatusSuccess, 1, now), false, true, true, "forced"},
		{"forced without history", nil, false, true, true, "forced"},
		{"reprocess selected", runStartedAgo(store.StatusSuccess, 1, now), true, false, true, "reprocess_selected"},
		{"latest failed", runStartedAgo(store.StatusFailed, 1, now), false, false, true, "latest_status_failed"},
		{"latest blocked", runStartedAgo(store.StatusBlocked, 1, now), false, false, true, "latest_status_blocked"},
		{"stale success", runStartedAgo(store.StatusSuccess, 200, now), false, false, true, "stale_success_ge_168h"},
		{"fresh success", runStartedAgo(store.StatusSuccess, 10, now), false, false, false, "fresh_success_lt_168h"},
		{"boundary is stale", runStartedAgo(store.StatusSuccess, 168, now), false, false, true, "stale_success_ge_168h"},
	}

	for _, c := range cases {
		execute, reason, _ := Decide(c.latest, c.reprocess, c.force, 168, now)
		if execute != c.wantExecute || reason != c.wantReason {
			t.Errorf("%s: Decide = (%v, %s), want (%v, %s)", c.name, execute, reason, c.wantExecute, c.wantReason)
		}
	}
}

func TestDecideReportsAge(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	latest := runStartedAgo(store.StatusSuccess, 200, now)

	execute, reason, age := Decide(latest, false, false, 168, now)
	if !execute || reason != "stale_success_ge_168h" {
		t.Fatalf("unexpected decision: (%v, %s)", execute, reason)
	}
	if math.Abs(age-200) > 0.01 {
		t.Errorf("expected age near 200h, got %v", age)
	}
}

func TestOrderJobsFollowsFixedSequence(t *testing.T) {
	ordered := orderJobs([]string{
		"urban_transport_stops_fetch",
		"sidra_indicators_fetch",
		"ibge_geometries_fetch",
		"zzz_custom_fetch",
		"aaa_custom_fetch",
	})

	want := []string{
		"ibge_geometries_fetch",
		"sidra_indicators_fetch",
		"urban_transport_stops_fetch",
		"aaa_custom_fetch",
		"zzz_custom_fetch",
	}
	for i, j := range want {
		if ordered[i] != j {
			t.Fatalf("position %d: expected %s, got %s (full order %v)", i, j, ordered[i], ordered)
		}
	}
}

func TestGovernedConnectorsListed(t *testing.T) {
	if !GovernedConnectors["cecad_social_protection_fetch"] || !GovernedConnectors["censosuas_network_fetch"] {
		t.Fatal("governed connector set must cover the person-level registries")
	}
}

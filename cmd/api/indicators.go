package main

import (
	"net/http"
	"strconv"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/rank"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/response"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

type ListIndicatorsResponse = response.APIResponse[[]store.IndicatorFact]
type PriorityRankingResponse = response.APIResponse[[]rank.Entry]

func (app *application) handleListIndicators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.IndicatorFilter{
		Source:          q.Get("source"),
		Dataset:         q.Get("dataset"),
		IndicatorCode:   q.Get("indicator_code"),
		Category:        q.Get("category"),
		ReferencePeriod: q.Get("reference_period"),
		TerritoryID:     q.Get("territory_id"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = n
	}

	data, err := app.store.Indicators.List(r.Context(), filter)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list indicators: "+err.Error())
		return
	}

	resp := &ListIndicatorsResponse{
		Success: true,
		Data:    data,
		Message: "Successfully listed indicators",
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

func (app *application) handleGetPriorityRanking(w http.ResponseWriter, r *http.Request) {
	facts, err := app.store.Indicators.LatestByTerritory(r.Context(), app.settings.MunicipalityIBGECode)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load latest indicators: "+err.Error())
		return
	}

	entries := rank.ComputePriority(facts)

	resp := &PriorityRankingResponse{
		Success: true,
		Data:    entries,
		Message: "Successfully computed priority ranking",
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/response"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

type ListRunsResponse = response.APIResponse[[]store.PipelineRun]
type GetRunChecksResponse = response.APIResponse[[]store.PipelineCheck]

func (app *application) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.RunFilter{
		JobName:         q.Get("job_name"),
		Source:          q.Get("source"),
		Wave:            q.Get("wave"),
		Status:          q.Get("status"),
		ReferencePeriod: q.Get("reference_period"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = n
	}

	data, err := app.store.Ops.ListRuns(r.Context(), filter)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list pipeline runs: "+err.Error())
		return
	}

	resp := &ListRunsResponse{
		Success: true,
		Data:    data,
		Message: "Successfully listed pipeline runs",
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

func (app *application) handleGetRunChecks(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		writeJSONError(w, http.StatusBadRequest, "run id is required")
		return
	}

	data, err := app.store.Ops.ChecksForRun(r.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to get run checks: "+err.Error())
		return
	}

	resp := &GetRunChecksResponse{
		Success: true,
		Data:    data,
		Message: "Successfully retrieved run checks",
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

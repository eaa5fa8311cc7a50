package server

import (
	"net/http"
	"strings"

	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/service/timeseries"
)

// emissionsQuery reads the shared query parameters of the emissions endpoints.
func emissionsQuery(r *http.Request) timeseries.Query {
	q := r.URL.Query()
	return timeseries.Query{
		Owner:  r.PathValue("owner"),
		Repo:   r.PathValue("repo"),
		Bucket: q.Get("bucket"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		TZ:     q.Get("tz"),
		Filters: model.Filters{
			Branch:   strings.TrimSpace(q.Get("branch")),
			Event:    strings.TrimSpace(q.Get("event")),
			Workflow: strings.TrimSpace(q.Get("workflow")),
		},
	}
}

// HandleRepoEmissions handles GET /v1/repos/{owner}/{repo}/emissions.
func (h *Handlers) HandleRepoEmissions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	report, err := h.emissions.RepoEmissions(ctx, emissionsQuery(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleOwnerEmissions handles GET /v1/owners/{owner}/emissions.
func (h *Handlers) HandleOwnerEmissions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	report, err := h.emissions.OwnerEmissions(ctx, emissionsQuery(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleGetRun handles GET /v1/repos/{owner}/{repo}/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	key := model.RunKey{
		RepoFullName: r.PathValue("owner") + "/" + r.PathValue("repo"),
		RunID:        strings.TrimSpace(r.PathValue("run_id")),
	}
	if key.RunID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id is required")
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	run, err := h.store.GetRun(ctx, key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := model.RunResponse{WorkflowRun: run}
	if g, ok := run.EmissionsGrams(); ok {
		resp.EmissionsG = &g
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleLatestLanguages handles GET /v1/repos/{owner}/{repo}/languages.
func (h *Handlers) HandleLatestLanguages(w http.ResponseWriter, r *http.Request) {
	if h.languages == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "language snapshots are not enabled")
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	snap, err := h.languages.Latest(ctx, r.PathValue("owner")+"/"+r.PathValue("repo"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

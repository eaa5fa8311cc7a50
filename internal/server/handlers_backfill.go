package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

// HandleBackfill handles POST /v1/owners/{owner}/backfill.
//
// The backfill runs in the background under the server's lifetime, not the
// request's, and the response carries the batch id its runs are tagged with.
func (h *Handlers) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	if h.backfill == nil || h.adminAPIKey == "" {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "backfill is not enabled")
		return
	}
	if !h.authorizedAdmin(r) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid or missing admin key")
		return
	}

	owner := strings.TrimSpace(r.PathValue("owner"))
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "owner is required")
		return
	}

	h.bgMu.Lock()
	if h.draining {
		h.bgMu.Unlock()
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "server is shutting down")
		return
	}
	h.bgWG.Add(1)
	h.bgMu.Unlock()

	batchID := h.backfill.NewBatch()
	go func() {
		defer h.bgWG.Done()
		res, err := h.backfill.RunBatch(h.bgCtx, owner, batchID)
		if err != nil {
			h.logger.Error("backfill failed", "owner", owner, "batch_id", batchID, "error", err)
			return
		}
		h.logger.Info("backfill finished",
			"owner", owner,
			"batch_id", batchID,
			"repos", res.ReposSeen,
			"runs", res.RunsSeen,
			"failed", res.RunsFailed+res.ReposFailed,
		)
	}()

	h.logger.Info("backfill scheduled", "owner", owner, "batch_id", batchID,
		"request_id", RequestIDFromContext(r.Context()))
	writeJSON(w, r, http.StatusAccepted, model.BackfillAccepted{BatchID: batchID, Owner: owner})
}

func (h *Handlers) authorizedAdmin(r *http.Request) bool {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.adminAPIKey)) == 1
}

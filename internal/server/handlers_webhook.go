package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/webhook"
)

// HandleGitHubWebhook handles POST /webhooks/github.
//
// workflow_run deliveries are upserted synchronously so the provider's
// retry policy covers store failures. Pushes to the default branch record a
// language snapshot when a provider client is configured.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "failed to read request body")
		return
	}

	if err := webhook.ValidateSignature(h.webhookSecret, r.Header.Get("X-Hub-Signature-256"), body); err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, err.Error())
		return
	}

	ev, err := webhook.Parse(r.Header.Get("X-GitHub-Event"), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	switch e := ev.(type) {
	case webhook.WorkflowRunEvent:
		outcome, err := h.runs.Upsert(ctx, e.Run)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, model.WebhookResponse{
			Event:  e.Type(),
			Result: string(outcome),
			RunID:  e.Run.RunID,
			Repo:   e.Run.RepoFullName,
		})

	case webhook.PushEvent:
		resp := model.WebhookResponse{Event: e.Type(), Result: "ignored", Repo: e.Repository.FullName}
		if h.languages == nil || !h.languages.CanCapture() || !e.ToDefaultBranch() {
			writeJSON(w, r, http.StatusOK, resp)
			return
		}
		if _, err := h.languages.Snapshot(ctx, e.Repository, e.CommitSHA, ""); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		resp.Result = "snapshot"
		writeJSON(w, r, http.StatusOK, resp)

	case webhook.PingEvent:
		writeJSON(w, r, http.StatusOK, model.WebhookResponse{Event: e.Type(), Result: "pong"})

	default:
		writeJSON(w, r, http.StatusOK, model.WebhookResponse{Event: ev.Type(), Result: "ignored"})
	}
}

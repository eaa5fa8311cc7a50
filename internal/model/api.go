package model

import "time"

// APIResponse wraps all successful HTTP responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError wraps all error HTTP responses.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta carries request-scoped metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUpstream      = "UPSTREAM_ERROR"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Event  string `json:"event"`
	Result string `json:"result"`
	RunID  string `json:"run_id,omitempty"`
	Repo   string `json:"repo,omitempty"`
}

// BackfillAccepted is returned when an asynchronous backfill is scheduled.
type BackfillAccepted struct {
	BatchID string `json:"batch_id"`
	Owner   string `json:"owner"`
}

// RunResponse is a stored run plus derived fields.
type RunResponse struct {
	WorkflowRun
	EmissionsG *float64 `json:"emissions_g,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
	Backend string `json:"backend"`
	GitHub  string `json:"github"`
	Uptime  int64  `json:"uptime_seconds"`
}

// Package webhook decodes GitHub webhook deliveries into typed events.
//
// workflow_run payloads are decoded leniently: every field except the
// repository name and run id may be missing or null, and the id may be a
// JSON number or a numeric string. Other event types use the go-github
// payload types.
package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

// Event types the service acts on.
const (
	TypeWorkflowRun = "workflow_run"
	TypePush        = "push"
	TypePing        = "ping"
)

// Event is a decoded delivery.
type Event interface {
	Type() string
}

// WorkflowRunEvent carries one observation of a workflow run.
type WorkflowRunEvent struct {
	Action string
	Run    model.ObservedRun
}

func (WorkflowRunEvent) Type() string { return TypeWorkflowRun }

// PushEvent is a push to a branch.
type PushEvent struct {
	Repository model.Repository
	Ref        string
	CommitSHA  string
	Deleted    bool
}

func (PushEvent) Type() string { return TypePush }

// ToDefaultBranch reports whether the push updated the repository's
// default branch.
func (p PushEvent) ToDefaultBranch() bool {
	return !p.Deleted && p.Repository.DefaultBranch != "" &&
		p.Ref == "refs/heads/"+p.Repository.DefaultBranch
}

// PingEvent is sent when a hook is created.
type PingEvent struct {
	Zen    string
	HookID int64
}

func (PingEvent) Type() string { return TypePing }

// UnknownEvent is any event type the service ignores.
type UnknownEvent struct {
	Name string
}

func (e UnknownEvent) Type() string { return e.Name }

// ValidateSignature checks the X-Hub-Signature-256 header against payload.
// An empty secret disables the check.
func ValidateSignature(secret, signature string, payload []byte) error {
	if secret == "" {
		return nil
	}
	if signature == "" {
		return &model.ValidationError{Field: "signature", Message: "is missing"}
	}
	if err := gh.ValidateSignature(signature, payload, []byte(secret)); err != nil {
		return &model.ValidationError{Field: "signature", Message: "does not match payload"}
	}
	return nil
}

// Parse decodes payload according to eventType.
func Parse(eventType string, payload []byte) (Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, &model.ValidationError{Field: "event", Message: "type header is missing"}
	}
	switch eventType {
	case TypeWorkflowRun:
		return parseWorkflowRun(payload)
	case TypePush:
		return parsePush(payload)
	case TypePing:
		return parsePing(payload)
	default:
		return UnknownEvent{Name: eventType}, nil
	}
}

type workflowRunPayload struct {
	Action     string `json:"action"`
	Repository *struct {
		FullName string `json:"full_name"`
		Private  bool   `json:"private"`
	} `json:"repository"`
	WorkflowRun *struct {
		ID           json.Number `json:"id"`
		Name         string      `json:"name"`
		HeadBranch   string      `json:"head_branch"`
		HeadSHA      string      `json:"head_sha"`
		RunStartedAt string      `json:"run_started_at"`
		CreatedAt    string      `json:"created_at"`
		UpdatedAt    string      `json:"updated_at"`
		Status       string      `json:"status"`
		Conclusion   string      `json:"conclusion"`
		Event        string      `json:"event"`
	} `json:"workflow_run"`
}

func parseWorkflowRun(payload []byte) (Event, error) {
	var p workflowRunPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &model.ValidationError{Field: "payload", Message: fmt.Sprintf("is not valid JSON: %v", err)}
	}
	if p.Repository == nil || strings.TrimSpace(p.Repository.FullName) == "" {
		return nil, &model.ValidationError{Field: "repository.full_name", Message: "is required"}
	}
	if p.WorkflowRun == nil || p.WorkflowRun.ID.String() == "" {
		return nil, &model.ValidationError{Field: "workflow_run.id", Message: "is required"}
	}

	wr := p.WorkflowRun
	obs := model.ObservedRun{
		RepoFullName: p.Repository.FullName,
		RunID:        wr.ID.String(),
		IsPrivate:    p.Repository.Private,
		Status:       model.ParseRunStatus(wr.Status),
		Conclusion:   model.StringPtr(wr.Conclusion),
		Branch:       model.StringPtr(wr.HeadBranch),
		Event:        model.StringPtr(wr.Event),
		WorkflowName: model.StringPtr(wr.Name),
		CommitSHA:    model.StringPtr(wr.HeadSHA),
	}
	obs.StartedAt = model.ParseTimestamp(wr.RunStartedAt)
	if obs.StartedAt == nil {
		obs.StartedAt = model.ParseTimestamp(wr.CreatedAt)
	}
	// Timestamp is left for Normalize, which anchors it on the start time.
	if obs.Status == model.RunStatusCompleted {
		obs.CompletedAt = model.ParseTimestamp(wr.UpdatedAt)
	}
	return WorkflowRunEvent{Action: p.Action, Run: obs}, nil
}

func parsePush(payload []byte) (Event, error) {
	raw, err := gh.ParseWebHook(TypePush, payload)
	if err != nil {
		return nil, &model.ValidationError{Field: "payload", Message: fmt.Sprintf("is not a valid push event: %v", err)}
	}
	e := raw.(*gh.PushEvent)
	repo := e.GetRepo()
	if repo.GetFullName() == "" {
		return nil, &model.ValidationError{Field: "repository.full_name", Message: "is required"}
	}
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = repo.GetOwner().GetName()
	}
	if owner == "" {
		owner, _, _ = strings.Cut(repo.GetFullName(), "/")
	}
	return PushEvent{
		Repository: model.Repository{
			Owner:         owner,
			Name:          repo.GetName(),
			FullName:      repo.GetFullName(),
			Private:       repo.GetPrivate(),
			Archived:      repo.GetArchived(),
			DefaultBranch: repo.GetDefaultBranch(),
		},
		Ref:       e.GetRef(),
		CommitSHA: e.GetAfter(),
		Deleted:   e.GetDeleted(),
	}, nil
}

func parsePing(payload []byte) (Event, error) {
	raw, err := gh.ParseWebHook(TypePing, payload)
	if err != nil {
		return nil, &model.ValidationError{Field: "payload", Message: fmt.Sprintf("is not a valid ping event: %v", err)}
	}
	e := raw.(*gh.PingEvent)
	return PingEvent{Zen: e.GetZen(), HookID: e.GetHookID()}, nil
}

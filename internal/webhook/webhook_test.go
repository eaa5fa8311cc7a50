package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

const completedPayload = `{
  "action": "completed",
  "repository": {"full_name": "acme/api", "private": true},
  "workflow_run": {
    "id": 9876543210,
    "name": "CI",
    "head_branch": "main",
    "head_sha": "abc123",
    "event": "push",
    "status": "completed",
    "conclusion": "success",
    "created_at": "2024-01-01T00:00:00Z",
    "run_started_at": "2024-01-01T00:00:00Z",
    "updated_at": "2024-01-01T00:10:00Z"
  }
}`

func TestParseCompletedWorkflowRun(t *testing.T) {
	ev, err := Parse("workflow_run", []byte(completedPayload))
	require.NoError(t, err)
	wr, ok := ev.(WorkflowRunEvent)
	require.True(t, ok)

	assert.Equal(t, "completed", wr.Action)
	run := wr.Run
	assert.Equal(t, "acme/api", run.RepoFullName)
	assert.Equal(t, "9876543210", run.RunID)
	assert.True(t, run.IsPrivate)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, "success", *run.Conclusion)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *run.StartedAt)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC), *run.CompletedAt)
	assert.Equal(t, "abc123", *run.CommitSHA)
}

func TestParseSparseWorkflowRun(t *testing.T) {
	payload := `{"action":"requested","repository":{"full_name":"acme/api"},
		"workflow_run":{"id":"42","status":"queued","conclusion":null,"created_at":"2024-01-01T00:00:00Z","name":null}}`
	ev, err := Parse("workflow_run", []byte(payload))
	require.NoError(t, err)
	run := ev.(WorkflowRunEvent).Run

	assert.Equal(t, "42", run.RunID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Nil(t, run.Conclusion)
	assert.Nil(t, run.WorkflowName)
	assert.Nil(t, run.CompletedAt)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *run.StartedAt)
	assert.True(t, run.Timestamp.IsZero())
}

func TestParseInProgressHasNoCompletion(t *testing.T) {
	payload := `{"repository":{"full_name":"acme/api"},
		"workflow_run":{"id":1,"status":"in_progress","updated_at":"2024-01-01T00:05:00Z","run_started_at":"bogus"}}`
	ev, err := Parse("workflow_run", []byte(payload))
	require.NoError(t, err)
	run := ev.(WorkflowRunEvent).Run
	assert.Nil(t, run.CompletedAt)
	assert.Nil(t, run.StartedAt)
	assert.True(t, run.Timestamp.IsZero())

	// Without a start time the record is stamped with the observation time.
	now := time.Date(2024, 1, 1, 0, 7, 0, 0, time.UTC)
	assert.Equal(t, now, run.Normalize(now).Timestamp)
}

func TestParseCompletedTimestampFollowsStart(t *testing.T) {
	payload := `{"repository":{"full_name":"acme/api"},
		"workflow_run":{"id":1,"status":"completed","run_started_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:10:00Z"}}`
	ev, err := Parse("workflow_run", []byte(payload))
	require.NoError(t, err)
	run := ev.(WorkflowRunEvent).Run.Normalize(time.Now())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), run.Timestamp)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC), *run.CompletedAt)
}

func TestParseWorkflowRunValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"malformed", `{"repository":`},
		{"no repository", `{"workflow_run":{"id":1}}`},
		{"empty full name", `{"repository":{"full_name":" "},"workflow_run":{"id":1}}`},
		{"no run", `{"repository":{"full_name":"acme/api"}}`},
		{"null id", `{"repository":{"full_name":"acme/api"},"workflow_run":{"id":null}}`},
		{"non-numeric id", `{"repository":{"full_name":"acme/api"},"workflow_run":{"id":"abc"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("workflow_run", []byte(tt.payload))
			require.Error(t, err)
			assert.True(t, model.IsValidation(err))
		})
	}
}

func TestParseMissingEventType(t *testing.T) {
	_, err := Parse(" ", []byte(`{}`))
	assert.True(t, model.IsValidation(err))
}

func TestParsePush(t *testing.T) {
	payload := `{"ref":"refs/heads/main","after":"def456","deleted":false,
		"repository":{"name":"api","full_name":"acme/api","private":true,"default_branch":"main","owner":{"name":"acme"}}}`
	ev, err := Parse("push", []byte(payload))
	require.NoError(t, err)
	push := ev.(PushEvent)

	assert.Equal(t, model.Repository{Owner: "acme", Name: "api", FullName: "acme/api", Private: true, DefaultBranch: "main"}, push.Repository)
	assert.Equal(t, "def456", push.CommitSHA)
	assert.True(t, push.ToDefaultBranch())

	push.Ref = "refs/heads/feature"
	assert.False(t, push.ToDefaultBranch())
	push.Ref, push.Deleted = "refs/heads/main", true
	assert.False(t, push.ToDefaultBranch())
}

func TestParsePushRequiresRepository(t *testing.T) {
	_, err := Parse("push", []byte(`{"ref":"refs/heads/main"}`))
	assert.True(t, model.IsValidation(err))
}

func TestParsePingAndUnknown(t *testing.T) {
	ev, err := Parse("ping", []byte(`{"zen":"Keep it logically awesome.","hook_id":7}`))
	require.NoError(t, err)
	assert.Equal(t, PingEvent{Zen: "Keep it logically awesome.", HookID: 7}, ev)

	ev, err = Parse("issues", []byte(`not even json`))
	require.NoError(t, err)
	assert.Equal(t, "issues", ev.Type())
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	payload := []byte(completedPayload)

	assert.NoError(t, ValidateSignature("", "", payload))
	assert.NoError(t, ValidateSignature("s3cret", sign("s3cret", payload), payload))

	err := ValidateSignature("s3cret", sign("other", payload), payload)
	assert.True(t, model.IsValidation(err))

	err = ValidateSignature("s3cret", "", payload)
	assert.True(t, model.IsValidation(err))
}

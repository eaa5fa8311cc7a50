package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

func newTestClient(t *testing.T, username string, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New("token", username, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestListRepositoriesForUserWithPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"name":"web","full_name":"acme/web","owner":{"login":"acme"}}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/users/acme/repos?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[{"name":"api","full_name":"acme/api","private":true,"default_branch":"main","owner":{"login":"acme"}}]`)
	})
	mux.HandleFunc("GET /orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, "", mux)

	repos, err := c.ListRepositories(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, model.Repository{Owner: "acme", Name: "api", FullName: "acme/api", Private: true, DefaultBranch: "main"}, repos[0])
	assert.Equal(t, "acme/web", repos[1].FullName)
}

func TestListRepositoriesForOrgDeduplicates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name":"api","full_name":"acme/api"}]`)
	})
	mux.HandleFunc("GET /orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name":"api","full_name":"acme/api"},{"name":"infra","full_name":"acme/infra","archived":true}]`)
	})
	c := newTestClient(t, "", mux)

	repos, err := c.ListRepositories(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "acme", repos[0].Owner)
	assert.True(t, repos[1].Archived)
}

func TestListRepositoriesAuthenticatedUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "owner", r.URL.Query().Get("affiliation"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[{"name":"secret","full_name":"me/secret","private":true,"owner":{"login":"me"}},
			{"name":"shared","full_name":"other/shared","owner":{"login":"other"}}]`)
	})
	mux.HandleFunc("GET /orgs/me/repos", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, "Me", mux)

	repos, err := c.ListRepositories(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "me/secret", repos[0].FullName)
	assert.True(t, repos[0].Private)
}

func TestListRepositoriesBothFail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, "", mux)

	_, err := c.ListRepositories(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestListWorkflowRuns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/api/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/api/actions/runs?page=3>; rel="next"`, r.Host))
		fmt.Fprint(w, `{"total_count":2,"workflow_runs":[
			{"id":101,"name":"CI","head_branch":"main","head_sha":"abc","event":"push","status":"completed","conclusion":"success",
			 "created_at":"2024-01-01T00:00:00Z","run_started_at":"2024-01-01T00:01:00Z","updated_at":"2024-01-01T00:11:00Z"},
			{"id":102,"status":"in_progress","created_at":"2024-01-02T00:00:00Z","updated_at":"2024-01-02T00:05:00Z"}
		]}`)
	})
	c := newTestClient(t, "", mux)

	runs, next, err := c.ListWorkflowRuns(context.Background(), model.Repository{Owner: "acme", Name: "api", FullName: "acme/api", Private: true}, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
	require.Len(t, runs, 2)

	done := runs[0]
	assert.Equal(t, "101", done.RunID)
	assert.True(t, done.IsPrivate)
	assert.Equal(t, model.RunStatusCompleted, done.Status)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), *done.StartedAt)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 11, 0, 0, time.UTC), *done.CompletedAt)
	assert.Equal(t, "CI", *done.WorkflowName)
	assert.True(t, done.Timestamp.IsZero(), "timestamp is derived from the start time on upsert")

	running := runs[1]
	assert.Equal(t, model.RunStatusInProgress, running.Status)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), *running.StartedAt)
	assert.Nil(t, running.CompletedAt)
	assert.Nil(t, running.WorkflowName)
}

func TestListLanguages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/api/languages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Go":12345,"Dockerfile":210}`)
	})
	c := newTestClient(t, "", mux)

	langs, err := c.ListLanguages(context.Background(), "acme", "api")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Go": 12345, "Dockerfile": 210}, langs)
}

func TestToObservedRunUnknownStatus(t *testing.T) {
	obs := ToObservedRun("acme/api", false, &gh.WorkflowRun{ID: gh.Int64(7), Status: gh.String("waiting")})
	assert.Equal(t, "7", obs.RunID)
	assert.Equal(t, model.RunStatusUnknown, obs.Status)
	assert.Nil(t, obs.StartedAt)

	missing := ToObservedRun("acme/api", false, &gh.WorkflowRun{})
	assert.Empty(t, missing.RunID)
}

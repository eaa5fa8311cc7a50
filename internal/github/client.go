// Package github adapts the GitHub REST API to the repository, workflow run
// and language listings the backfill and language services consume.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

const perPage = 100

// Client lists repositories, workflow runs and languages.
type Client struct {
	gh       *gh.Client
	username string
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the client at a different API root, such as a GitHub
// Enterprise server or a test server.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.baseURL = u }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// New creates a Client. token may be empty for unauthenticated access to
// public data. username names the token's account; listing that owner
// includes its private repositories.
func New(token, username string, opts ...Option) (*Client, error) {
	cfg := clientConfig{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(&cfg)
	}

	client := gh.NewClient(cfg.httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if cfg.baseURL != "" {
		base := cfg.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github: parse base url: %w", err)
		}
		client.BaseURL = u
	}
	return &Client{gh: client, username: username}, nil
}

// ListRepositories returns every repository of owner, whether owner is a
// user or an organization. It fails only if both lookups fail.
func (c *Client) ListRepositories(ctx context.Context, owner string) ([]model.Repository, error) {
	userRepos, userErr := c.listUserRepos(ctx, owner)
	orgRepos, orgErr := c.listOrgRepos(ctx, owner)
	if userErr != nil && orgErr != nil {
		return nil, fmt.Errorf("github: list repositories of %s: %w", owner, errors.Join(userErr, orgErr))
	}

	seen := make(map[string]bool)
	var out []model.Repository
	for _, r := range append(userRepos, orgRepos...) {
		repo := toRepository(r)
		if repo.FullName == "" || seen[repo.FullName] {
			continue
		}
		// The authenticated listing includes repositories the account can
		// reach in other namespaces.
		if !strings.EqualFold(repo.Owner, owner) {
			continue
		}
		seen[repo.FullName] = true
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (c *Client) listUserRepos(ctx context.Context, owner string) ([]*gh.Repository, error) {
	var all []*gh.Repository
	if c.username != "" && strings.EqualFold(c.username, owner) {
		opts := &gh.RepositoryListByAuthenticatedUserOptions{
			Affiliation: "owner",
			ListOptions: gh.ListOptions{PerPage: perPage},
		}
		for {
			repos, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
			if err != nil {
				return nil, err
			}
			all = append(all, repos...)
			if resp.NextPage == 0 {
				return all, nil
			}
			opts.Page = resp.NextPage
		}
	}

	opts := &gh.RepositoryListByUserOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	for {
		repos, resp, err := c.gh.Repositories.ListByUser(ctx, owner, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, repos...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) listOrgRepos(ctx context.Context, owner string) ([]*gh.Repository, error) {
	var all []*gh.Repository
	opts := &gh.RepositoryListByOrgOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	for {
		repos, resp, err := c.gh.Repositories.ListByOrg(ctx, owner, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, repos...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListWorkflowRuns returns one page of repo's workflow runs and the next
// page number, or 0 when there are no more.
func (c *Client) ListWorkflowRuns(ctx context.Context, repo model.Repository, page int) ([]model.ObservedRun, int, error) {
	opts := &gh.ListWorkflowRunsOptions{ListOptions: gh.ListOptions{PerPage: perPage, Page: page}}
	runs, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, repo.Owner, repo.Name, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("github: list workflow runs of %s page %d: %w", repo.FullName, page, err)
	}
	out := make([]model.ObservedRun, 0, len(runs.WorkflowRuns))
	for _, r := range runs.WorkflowRuns {
		out = append(out, ToObservedRun(repo.FullName, repo.Private, r))
	}
	return out, resp.NextPage, nil
}

// ListLanguages returns the byte count per language of owner/name.
func (c *Client) ListLanguages(ctx context.Context, owner, name string) (map[string]int64, error) {
	langs, _, err := c.gh.Repositories.ListLanguages(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("github: list languages of %s/%s: %w", owner, name, err)
	}
	out := make(map[string]int64, len(langs))
	for lang, n := range langs {
		out[lang] = int64(n)
	}
	return out, nil
}

// ToObservedRun converts an API workflow run. The start time is the run's
// start, else its creation; a completed run's completion time is its last
// update.
func ToObservedRun(repoFullName string, private bool, r *gh.WorkflowRun) model.ObservedRun {
	obs := model.ObservedRun{
		RepoFullName: repoFullName,
		RunID:        strconv.FormatInt(r.GetID(), 10),
		IsPrivate:    private,
		Status:       model.ParseRunStatus(r.GetStatus()),
		Conclusion:   model.StringPtr(r.GetConclusion()),
		Branch:       model.StringPtr(r.GetHeadBranch()),
		Event:        model.StringPtr(r.GetEvent()),
		WorkflowName: model.StringPtr(r.GetName()),
		CommitSHA:    model.StringPtr(r.GetHeadSHA()),
	}
	if r.GetID() == 0 {
		obs.RunID = ""
	}
	switch {
	case r.RunStartedAt != nil:
		obs.StartedAt = utc(r.RunStartedAt.Time)
	case r.CreatedAt != nil:
		obs.StartedAt = utc(r.CreatedAt.Time)
	}
	if r.UpdatedAt != nil && obs.Status == model.RunStatusCompleted {
		obs.CompletedAt = utc(r.UpdatedAt.Time)
	}
	return obs
}

func toRepository(r *gh.Repository) model.Repository {
	owner := r.GetOwner().GetLogin()
	if owner == "" {
		owner, _, _ = strings.Cut(r.GetFullName(), "/")
	}
	return model.Repository{
		Owner:         owner,
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Private:       r.GetPrivate(),
		Archived:      r.GetArchived(),
		DefaultBranch: r.GetDefaultBranch(),
	}
}

func utc(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

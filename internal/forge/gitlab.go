package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/catherinevee/driftcert/internal/logger"
	"github.com/catherinevee/driftcert/internal/metrics"
	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/retry"
)

const (
	perPage          = 100
	probeConcurrency = 25
	requestTimeout   = 30 * time.Second
)

// Credentials carries forge authentication. Token wins over user/password.
type Credentials struct {
	Token    string
	User     string
	Password string
}

// GitLabClient talks to a GitLab-compatible forge REST API and uses the git
// CLI for wire operations.
type GitLabClient struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	git     *gitRunner
	log     logger.Logger
}

// NewGitLabClient creates a forge client for the given API base URL
func NewGitLabClient(baseURL string, creds Credentials, tempRoot string) *GitLabClient {
	return &GitLabClient{
		baseURL: baseURL,
		creds:   creds,
		http:    &http.Client{Timeout: requestTimeout},
		git:     newGitRunner(creds, tempRoot),
		log:     logger.New("forge"),
	}
}

// httpStatusError keeps the status code in the message so the retry policy
// can classify it.
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("forge: unexpected status %d: %s", e.Status, e.Body)
}

// ListGroupProjects enumerates projects with pagination, falling back to the
// user namespace when the group endpoint returns 404.
func (c *GitLabClient) ListGroupProjects(ctx context.Context, group string) ([]models.Project, error) {
	projects, err := c.listProjects(ctx, fmt.Sprintf("groups/%s/projects", url.PathEscape(group)), true)
	if err == nil {
		return projects, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	c.log.Debug("group not found, retrying as user namespace", logger.String("group", group))
	return c.listProjects(ctx, fmt.Sprintf("users/%s/projects", url.PathEscape(group)), false)
}

func (c *GitLabClient) listProjects(ctx context.Context, path string, includeSubgroups bool) ([]models.Project, error) {
	var all []models.Project
	for page := 1; ; page++ {
		query := url.Values{
			"per_page": {strconv.Itoa(perPage)},
			"page":     {strconv.Itoa(page)},
			"archived": {"false"},
		}
		if includeSubgroups {
			query.Set("include_subgroups", "true")
		}

		var batch []models.Project
		if err := c.getJSON(ctx, path+"?"+query.Encode(), &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// ProjectHasBranch checks branch existence, short-circuiting on the default branch
func (c *GitLabClient) ProjectHasBranch(ctx context.Context, project models.Project, branch string) (bool, error) {
	if project.DefaultBranch == branch {
		return true, nil
	}
	path := fmt.Sprintf("projects/%d/repository/branches/%s", project.ID, url.PathEscape(branch))
	var out struct {
		Name string `json:"name"`
	}
	err := c.getJSON(ctx, path, &out)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Name == branch, nil
}

// FilterProjectsWithBranch probes projects in parallel with bounded workers
func (c *GitLabClient) FilterProjectsWithBranch(ctx context.Context, projects []models.Project, branch string) ([]models.Project, error) {
	keep := make([]bool, len(projects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i := range projects {
		i := i
		g.Go(func() error {
			has, err := c.ProjectHasBranch(gctx, projects[i], branch)
			if err != nil {
				return err
			}
			keep[i] = has
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Project
	for i, ok := range keep {
		if ok {
			out = append(out, projects[i])
		}
	}
	return out, nil
}

// getJSON issues a GET with retries on 429/5xx and decodes the JSON response
func (c *GitLabClient) getJSON(ctx context.Context, path string, v interface{}) error {
	attempt := 0
	return retry.Do(ctx, retry.ForgeAPIConfig(), func() error {
		attempt++
		if attempt > 1 {
			metrics.ForgeRequestRetries.Inc()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v4/"+path, nil)
		if err != nil {
			return err
		}
		if c.creds.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.creds.Token)
		} else if c.creds.User != "" {
			req.SetBasicAuth(c.creds.User, c.creds.Password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(v)
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrAuth
		case resp.StatusCode == http.StatusForbidden:
			return ErrPermission
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &httpStatusError{Status: resp.StatusCode, Body: string(body)}
		}
	})
}

// SparseCheckout delegates to the git runner
func (c *GitLabClient) SparseCheckout(ctx context.Context, repoURL, branch string, patterns []string, envFilter string) (*CheckoutResult, error) {
	return c.git.sparseCheckout(ctx, repoURL, branch, patterns, envFilter)
}

// Cleanup removes a checkout directory on all paths
func (c *GitLabClient) Cleanup(result *CheckoutResult) {
	c.git.cleanup(result)
}

// ListTree delegates to the git runner
func (c *GitLabClient) ListTree(ctx context.Context, repoURL, branch string) ([]TreeEntry, error) {
	return c.git.listTree(ctx, repoURL, branch)
}

// CreateOrphanBranch delegates to the git runner
func (c *GitLabClient) CreateOrphanBranch(ctx context.Context, repoURL, srcBranch, newBranch string, patterns []string, envFilter string) error {
	return c.git.createOrphanBranch(ctx, repoURL, srcBranch, newBranch, patterns, envFilter)
}

// DeleteBranch delegates to the git runner
func (c *GitLabClient) DeleteBranch(ctx context.Context, repoURL, branch string) error {
	return c.git.deleteBranch(ctx, repoURL, branch)
}

package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"mrmonitor/internal/domain"
	"mrmonitor/internal/retry"
)

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the client configuration.
type Config struct {
	BaseURL string
	Token   string
}

// Client talks to the GitLab REST API. All calls are pure request/response;
// transient failures are retried with the shared backoff policy, everything
// else propagates as a classified *domain.APIError.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPClient
	retry      retry.Policy
	logger     *slog.Logger
}

// NewClient creates a new GitLab client.
// Uses dependency injection for HTTPClient (IoC).
func NewClient(cfg Config, httpClient HTTPClient, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	policy := retry.NewPolicy(domain.IsTransient)
	policy.RateLimited = isRateLimited
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		retry:      policy,
		logger:     logger,
	}
}

// User is the authenticated GitLab user.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Approvals is the approval summary for a merge request: the derived rule
// state plus the usernames that already approved.
type Approvals struct {
	State      domain.ApprovalState
	ApprovedBy []string
}

// CurrentUser retrieves the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "CurrentUser", "/api/v4/user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ResolveProject looks up the numeric project ID for an owner/repo pair.
func (c *Client) ResolveProject(ctx context.Context, owner, repo string) (int, error) {
	path := "/api/v4/projects/" + url.PathEscape(owner+"/"+repo)

	var project struct {
		ID int `json:"id"`
	}
	if err := c.get(ctx, "ResolveProject", path, nil, &project); err != nil {
		return 0, err
	}
	return project.ID, nil
}

// OpenMergeRequests lists open merge requests for a project. When authorID
// is non-zero only that author's requests are returned. The returned facts
// carry identity fields only; status facts are fetched separately.
func (c *Client) OpenMergeRequests(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
	params := url.Values{}
	params.Set("state", "opened")
	params.Set("per_page", "50")
	if authorID != 0 {
		params.Set("author_id", fmt.Sprintf("%d", authorID))
	}
	path := fmt.Sprintf("/api/v4/projects/%d/merge_requests", projectID)

	var glMRs []glMergeRequest
	if err := c.get(ctx, "OpenMergeRequests", path, params, &glMRs); err != nil {
		return nil, err
	}

	facts := make([]domain.MergeRequestFact, len(glMRs))
	for i, mr := range glMRs {
		facts[i] = convertMergeRequest(repoName, projectID, mr)
	}
	return facts, nil
}

// PipelineStatus determines the pipeline state for a merge request by source
// SHA, falling back to the request's head pipeline when the SHA lookup comes
// back empty (happens right after a rebase).
func (c *Client) PipelineStatus(ctx context.Context, projectID, iid int, sha string) (domain.PipelineStatus, string, error) {
	params := url.Values{}
	params.Set("sha", sha)
	path := fmt.Sprintf("/api/v4/projects/%d/pipelines", projectID)

	var pipelines []glPipeline
	if err := c.get(ctx, "PipelineStatus", path, params, &pipelines); err != nil {
		return "", "", err
	}
	if len(pipelines) > 0 {
		return convertPipelineStatus(pipelines[0].Status), pipelines[0].WebURL, nil
	}

	var mr glMergeRequest
	mrPath := fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d", projectID, iid)
	if err := c.get(ctx, "PipelineStatus", mrPath, nil, &mr); err != nil {
		return "", "", err
	}
	if mr.HeadPipeline == nil {
		return domain.PipelineNone, "", nil
	}

	var pipeline glPipeline
	pipelinePath := fmt.Sprintf("/api/v4/projects/%d/pipelines/%d", projectID, mr.HeadPipeline.ID)
	if err := c.get(ctx, "PipelineStatus", pipelinePath, nil, &pipeline); err != nil {
		return "", "", err
	}
	return convertPipelineStatus(pipeline.Status), pipeline.WebURL, nil
}

// ApprovalState checks the approval rules left on a merge request. The
// Coverage-Check rule is tracked apart from ordinary reviewer approvals.
func (c *Client) ApprovalState(ctx context.Context, projectID, iid int) (Approvals, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d/approvals", projectID, iid)

	var glApprovals glApprovals
	if err := c.get(ctx, "ApprovalState", path, nil, &glApprovals); err != nil {
		return Approvals{}, err
	}

	needsCoverage := false
	needsOther := false
	for _, rule := range glApprovals.ApprovalRulesLeft {
		if rule.Name == "Coverage-Check" {
			needsCoverage = true
		} else {
			needsOther = true
		}
	}

	approvals := Approvals{
		State: domain.ApprovalState{
			ApprovedByAll:          glApprovals.Approved,
			ApprovedExceptCoverage: !needsOther && (!glApprovals.Approved || needsCoverage),
			NeedsCoverageCheck:     needsCoverage,
		},
	}
	for _, a := range glApprovals.ApprovedBy {
		approvals.ApprovedBy = append(approvals.ApprovedBy, a.User.Username)
	}
	return approvals, nil
}

// ConflictState reports whether a merge request has conflicts blocking the
// merge, asking GitLab to recheck the merge status.
func (c *Client) ConflictState(ctx context.Context, projectID, iid int) (bool, error) {
	params := url.Values{}
	params.Set("with_merge_status_recheck", "true")
	path := fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d", projectID, iid)

	var mr glMergeRequest
	if err := c.get(ctx, "ConflictState", path, params, &mr); err != nil {
		return false, err
	}
	return mr.DetailedMergeStatus == "conflict" ||
		mr.MergeStatus == "cannot_be_merged" ||
		mr.HasConflicts, nil
}

// UnresolvedThreadCount counts discussion threads whose opening note is
// still unresolved.
func (c *Client) UnresolvedThreadCount(ctx context.Context, projectID, iid int) (int, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d/discussions", projectID, iid)

	var discussions []glDiscussion
	if err := c.get(ctx, "UnresolvedThreadCount", path, nil, &discussions); err != nil {
		return 0, err
	}

	count := 0
	for _, d := range discussions {
		if len(d.Notes) == 0 {
			continue
		}
		if d.Notes[0].Resolved != nil && !*d.Notes[0].Resolved {
			count++
		}
	}
	return count, nil
}

// AddReviewers assigns the given usernames as reviewers, merging with the
// reviewers already on the request to avoid clobbering them.
func (c *Client) AddReviewers(ctx context.Context, projectID, iid int, usernames []string) error {
	if len(usernames) == 0 {
		return nil
	}

	mrPath := fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d", projectID, iid)
	var mr glMergeRequest
	if err := c.get(ctx, "AddReviewers", mrPath, nil, &mr); err != nil {
		return err
	}

	current := make(map[int]bool, len(mr.Reviewers))
	ids := make([]int, 0, len(mr.Reviewers)+len(usernames))
	for _, r := range mr.Reviewers {
		current[r.ID] = true
		ids = append(ids, r.ID)
	}

	added := 0
	for _, username := range usernames {
		id, err := c.lookupUserID(ctx, username)
		if err != nil {
			c.logger.Warn("could not resolve reviewer", "username", username, "error", err)
			continue
		}
		if !current[id] {
			ids = append(ids, id)
			added++
		}
	}
	if added == 0 {
		return nil
	}

	body := map[string]any{"reviewer_ids": ids}
	if err := c.do(ctx, "AddReviewers", http.MethodPut, mrPath, nil, body, nil); err != nil {
		return err
	}
	c.logger.Info("added reviewers", "iid", iid, "usernames", usernames)
	return nil
}

func (c *Client) lookupUserID(ctx context.Context, username string) (int, error) {
	params := url.Values{}
	params.Set("username", username)

	var users []User
	if err := c.get(ctx, "LookupUser", "/api/v4/users", params, &users); err != nil {
		return 0, err
	}
	if len(users) == 0 {
		return 0, domain.NewAPIError(domain.ErrNotFound, "LookupUser", 0,
			fmt.Errorf("no user named %q", username))
	}
	return users[0].ID, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, result any) error {
	return c.do(ctx, op, http.MethodGet, path, params, nil, result)
}

// do performs one API call under the retry policy.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body, result any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return c.retry.Do(ctx, func() error {
		return c.doOnce(ctx, op, method, reqURL, body, result)
	})
}

func (c *Client) doOnce(ctx context.Context, op, method, reqURL string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return domain.NewAPIError(domain.ErrMalformed, op, 0, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return domain.NewAPIError(domain.ErrMalformed, op, 0, err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.NewAPIError(domain.ErrTransient, op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyStatus(op, resp.StatusCode, payload)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return domain.NewAPIError(domain.ErrMalformed, op, 0,
			fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func classifyStatus(op string, status int, payload []byte) error {
	err := fmt.Errorf("API returned status %d: %s", status, string(payload))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewAPIError(domain.ErrAuth, op, status, err)
	case status == http.StatusNotFound:
		return domain.NewAPIError(domain.ErrNotFound, op, status, err)
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.NewAPIError(domain.ErrTransient, op, status, err)
	default:
		return domain.NewAPIError(domain.ErrMalformed, op, status, err)
	}
}

func isRateLimited(err error) bool {
	var apiErr *domain.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

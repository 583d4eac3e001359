package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prsentry/prsentry/pkg/logger"
)

const (
	requestTimeout = 30 * time.Second
	maxRetries     = 2
	retryBackoff   = 500 * time.Millisecond
)

// GiteaClient talks to the Gitea REST API v1.
type GiteaClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewGiteaClient(baseURL, token string) *GiteaClient {
	return &GiteaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type giteaUser struct {
	Login string `json:"login"`
}

type giteaBranchRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type giteaPullRequest struct {
	Number    int            `json:"number"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	State     string         `json:"state"`
	User      giteaUser      `json:"user"`
	Head      giteaBranchRef `json:"head"`
	Base      giteaBranchRef `json:"base"`
	HTMLURL   string         `json:"html_url"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (pr *giteaPullRequest) toPullRequest() *PullRequest {
	return &PullRequest{
		Number:     pr.Number,
		Title:      pr.Title,
		Body:       pr.Body,
		State:      pr.State,
		AuthorName: pr.User.Login,
		HeadBranch: pr.Head.Ref,
		BaseBranch: pr.Base.Ref,
		HeadSHA:    pr.Head.SHA,
		HTMLURL:    pr.HTMLURL,
		UpdatedAt:  pr.UpdatedAt,
	}
}

func (c *GiteaClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	var pr giteaPullRequest
	if err := c.getJSON(ctx, path, &pr); err != nil {
		return nil, err
	}
	return pr.toPullRequest(), nil
}

func (c *GiteaClient) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d.diff", owner, repo, number)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, "text/plain")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *GiteaClient) ListPullRequests(ctx context.Context, owner, repo, state string) ([]PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=%s&limit=50", owner, repo, url.QueryEscape(state))
	var raw []giteaPullRequest
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	prs := make([]PullRequest, 0, len(raw))
	for i := range raw {
		prs = append(prs, *raw[i].toPullRequest())
	}
	return prs, nil
}

func (c *GiteaClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	payload := map[string]string{"body": body}
	var comment Comment
	if err := c.postJSON(ctx, path, payload, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

func (c *GiteaClient) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/comments/%d", owner, repo, commentID)
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPatch, path, payload, "application/json")
	return err
}

// CreateReview submits a PR review with line-anchored comments. Gitea
// rejects the whole review when any anchor is invalid, so callers degrade
// to a plain comment on APIError 422.
func (c *GiteaClient) CreateReview(ctx context.Context, owner, repo string, number int, summary string, comments []ReviewComment) error {
	type reviewComment struct {
		Path    string `json:"path"`
		Body    string `json:"body"`
		NewLine int    `json:"new_position,omitempty"`
		OldLine int    `json:"old_position,omitempty"`
	}
	payload := struct {
		Event    string          `json:"event"`
		Body     string          `json:"body"`
		Comments []reviewComment `json:"comments,omitempty"`
	}{
		Event: "COMMENT",
		Body:  summary,
	}
	for _, cm := range comments {
		payload.Comments = append(payload.Comments, reviewComment{
			Path:    cm.Path,
			Body:    cm.Body,
			NewLine: cm.NewLine,
			OldLine: cm.OldLine,
		})
	}

	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, number)
	return c.postJSON(ctx, path, payload, nil)
}

func (c *GiteaClient) CreateCommitStatus(ctx context.Context, owner, repo, sha string, state CommitStatusState, description, statusContext string) error {
	path := fmt.Sprintf("/repos/%s/%s/statuses/%s", owner, repo, sha)
	payload := map[string]string{
		"state":       string(state),
		"description": description,
		"context":     statusContext,
	}
	return c.postJSON(ctx, path, payload, nil)
}

func (c *GiteaClient) ListWebhooks(ctx context.Context, owner, repo string) ([]Webhook, error) {
	type giteaHook struct {
		ID     int64             `json:"id"`
		Active bool              `json:"active"`
		Events []string          `json:"events"`
		Config map[string]string `json:"config"`
	}
	path := fmt.Sprintf("/repos/%s/%s/hooks", owner, repo)
	var raw []giteaHook
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	hooks := make([]Webhook, 0, len(raw))
	for _, h := range raw {
		hooks = append(hooks, Webhook{
			ID:     h.ID,
			URL:    h.Config["url"],
			Active: h.Active,
			Events: h.Events,
		})
	}
	return hooks, nil
}

func (c *GiteaClient) CreateWebhook(ctx context.Context, owner, repo, targetURL, secret string, events []string) (*Webhook, error) {
	path := fmt.Sprintf("/repos/%s/%s/hooks", owner, repo)
	payload := map[string]interface{}{
		"type":   "gitea",
		"active": true,
		"events": events,
		"config": map[string]string{
			"url":          targetURL,
			"content_type": "json",
			"secret":       secret,
		},
	}
	var created struct {
		ID     int64             `json:"id"`
		Active bool              `json:"active"`
		Events []string          `json:"events"`
		Config map[string]string `json:"config"`
	}
	if err := c.postJSON(ctx, path, payload, &created); err != nil {
		return nil, err
	}
	return &Webhook{
		ID:     created.ID,
		URL:    created.Config["url"],
		Active: created.Active,
		Events: created.Events,
	}, nil
}

func (c *GiteaClient) DeleteWebhook(ctx context.Context, owner, repo string, hookID int64) error {
	path := fmt.Sprintf("/repos/%s/%s/hooks/%d", owner, repo, hookID)
	_, err := c.doRequest(ctx, http.MethodDelete, path, nil, "application/json")
	return err
}

// CloneURL embeds the API token so private repositories clone without
// separate credential plumbing. The result must never be logged verbatim.
func (c *GiteaClient) CloneURL(owner, repo string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Sprintf("%s/%s/%s.git", c.baseURL, owner, repo)
	}
	if c.token != "" {
		u.User = url.UserPassword("oauth2", c.token)
	}
	u.Path = fmt.Sprintf("/%s/%s.git", owner, repo)
	return u.String()
}

func (c *GiteaClient) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, "application/json")
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *GiteaClient) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := c.doRequest(ctx, http.MethodPost, path, data, "application/json")
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// doRequest issues one API call with a bounded retry on 5xx and transport
// errors. 4xx responses return immediately since retrying cannot help.
func (c *GiteaClient) doRequest(ctx context.Context, method, path string, body []byte, accept string) ([]byte, error) {
	fullURL := c.baseURL + "/api/v1" + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return nil, err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "token "+c.token)
		}
		req.Header.Set("Accept", accept)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    extractAPIMessage(respBody),
		}
		if resp.StatusCode < 500 {
			return nil, apiErr
		}
		lastErr = apiErr
		logger.Warn().
			Int("status", resp.StatusCode).
			Str("method", method).
			Str("path", path).
			Int("attempt", attempt+1).
			Msg("hosting api request failed, retrying")
	}

	return nil, lastErr
}

// extractAPIMessage pulls the human-readable message out of a Gitea error
// body, falling back to the raw text.
func extractAPIMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "no response body"
	}
	return msg
}

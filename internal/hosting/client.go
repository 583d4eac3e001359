// Package hosting abstracts the git hosting server behind a narrow client
// interface so the review pipeline never speaks the hosting REST dialect
// directly.
package hosting

import (
	"context"
	"fmt"
	"time"
)

// PullRequest is the subset of PR metadata the pipeline consumes.
type PullRequest struct {
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	State      string    `json:"state"`
	AuthorName string    `json:"author_name"`
	HeadBranch string    `json:"head_branch"`
	BaseBranch string    `json:"base_branch"`
	HeadSHA    string    `json:"head_sha"`
	HTMLURL    string    `json:"html_url"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Comment is an issue-level comment on a PR.
type Comment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// ReviewComment is one line-anchored comment inside a review submission.
type ReviewComment struct {
	Path    string
	NewLine int
	OldLine int
	Body    string
}

// CommitStatusState follows the hosting server's status vocabulary.
type CommitStatusState string

const (
	StatusPending CommitStatusState = "pending"
	StatusSuccess CommitStatusState = "success"
	StatusFailure CommitStatusState = "failure"
	StatusError   CommitStatusState = "error"
)

// Webhook descriptor, used by the repository registration flow.
type Webhook struct {
	ID     int64  `json:"id"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
	Events []string
}

// APIError carries the hosting server's HTTP failure detail. Callers branch
// on StatusCode; 4xx means the request is wrong, 5xx means the server is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hosting api error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a hosting 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 404
}

// Client is the operations façade over the hosting server. All blocking
// calls take a context.
type Client interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
	ListPullRequests(ctx context.Context, owner, repo, state string) ([]PullRequest, error)

	CreateComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error)
	UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error
	CreateReview(ctx context.Context, owner, repo string, number int, summary string, comments []ReviewComment) error
	CreateCommitStatus(ctx context.Context, owner, repo, sha string, state CommitStatusState, description, statusContext string) error

	ListWebhooks(ctx context.Context, owner, repo string) ([]Webhook, error)
	CreateWebhook(ctx context.Context, owner, repo, targetURL, secret string, events []string) (*Webhook, error)
	DeleteWebhook(ctx context.Context, owner, repo string, hookID int64) error

	CloneURL(owner, repo string) string
}

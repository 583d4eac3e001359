// Package provider defines the pluggable review engine contract and the
// engines that implement it. Every engine normalizes its output into the
// same Result schema, takes its full configuration per call, and never
// touches process-wide state, so concurrent reviews cannot interfere.
package provider

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Config is the resolved per-call engine configuration. It is passed by
// value into every analysis call; engines must not cache it or write it to
// any shared location.
type Config struct {
	Engine  string
	Model   string
	BaseURL string
	APIKey  string
	CLIPath string
	Timeout time.Duration
}

// Request carries the review context an engine needs beyond the diff.
type Request struct {
	FocusAreas []string
	PRTitle    string
	PRBody     string
	PRAuthor   string
	Config     Config
}

// InlineComment is one line-level finding. At least one of NewLine/OldLine
// is set by well-formed engine output; entries with neither are dropped
// during parsing.
type InlineComment struct {
	Path       string `json:"path"`
	NewLine    *int   `json:"new_line"`
	OldLine    *int   `json:"old_line"`
	Severity   string `json:"severity"`
	Comment    string `json:"comment"`
	Suggestion string `json:"suggestion"`
}

// BuildBody assembles the markdown body posted for this comment.
// Suggestions containing code are expected to already be fenced; BuildBody
// fences bare suggestions defensively so review output stays readable.
func (c *InlineComment) BuildBody() string {
	var parts []string
	if c.Severity != "" {
		parts = append(parts, "**Severity**: "+c.Severity)
	}
	if text := strings.TrimSpace(c.Comment); text != "" {
		parts = append(parts, text)
	}
	if s := strings.TrimSpace(c.Suggestion); s != "" {
		if !strings.Contains(s, "```") {
			s = "```suggestion\n" + s + "\n```"
		}
		parts = append(parts, "**Suggestion**:\n"+s)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// Usage holds engine resource metadata. Token counts are estimates when the
// engine does not report real ones.
type Usage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	APICalls     int    `json:"api_calls"`
}

// Result is the normalized review output. The schema is identical across
// all engines.
type Result struct {
	SummaryMarkdown string          `json:"summary_markdown"`
	OverallSeverity string          `json:"overall_severity"` // critical, high, medium, low, info
	InlineComments  []InlineComment `json:"inline_comments"`
	Usage           Usage           `json:"usage"`
	RawOutput       string          `json:"-"`
	EngineName      string          `json:"engine"`
	Success         bool            `json:"success"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// SummaryText returns the markdown shown to the PR author.
func (r *Result) SummaryText() string {
	if s := strings.TrimSpace(r.SummaryMarkdown); s != "" {
		return s
	}
	return strings.TrimSpace(r.RawOutput)
}

// IndicatesFailure reports whether the review found problems severe enough
// to mark the commit status as failed.
func (r *Result) IndicatesFailure() bool {
	switch strings.ToLower(r.OverallSeverity) {
	case "critical", "high", "blocker", "failure":
		return true
	}
	for _, c := range r.InlineComments {
		switch strings.ToLower(c.Severity) {
		case "critical", "high", "blocker":
			return true
		}
	}
	return false
}

// FailedResult builds the Result recorded when an engine invocation fails.
// The pipeline still delivers it to feedback channels, so the message is
// redacted here rather than at each call site.
func FailedResult(engineName string, err error) *Result {
	return &Result{
		EngineName:   engineName,
		Success:      false,
		ErrorMessage: Redact(err.Error()),
	}
}

// Engine is the review provider contract. AnalyzeFull requires a
// materialized workspace; AnalyzeDiffOnly works from the diff alone and is
// the degraded mode used when cloning fails.
type Engine interface {
	Name() string
	AnalyzeFull(ctx context.Context, workspacePath, diff string, req *Request) (*Result, error)
	AnalyzeDiffOnly(ctx context.Context, diff string, req *Request) (*Result, error)
}

var credentialRe = regexp.MustCompile(`(?i)(token|key|secret|authorization|password)\s*[:=]\s*\S+`)

// Redact strips credential-looking values from text destined for logs,
// session records or PR comments.
func Redact(s string) string {
	s = credentialRe.ReplaceAllString(s, "$1=[REDACTED]")
	if len(s) > 500 {
		s = s[:500] + "..."
	}
	return s
}

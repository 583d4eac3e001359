package provider

import (
	"fmt"
	"strings"
)

// maxEmbeddedDiffChars bounds the diff size when it has to be embedded in
// the prompt text instead of streamed via stdin.
const maxEmbeddedDiffChars = 200_000

var focusDescriptions = map[string]string{
	"quality":     "code quality and best practices",
	"security":    "security vulnerabilities (SQL injection, XSS, command injection, etc.)",
	"performance": "performance problems and optimization opportunities",
	"logic":       "logic errors and potential bugs",
}

// buildReviewPrompt renders the shared review instructions. When embedDiff
// is non-empty the diff is inlined (for engines that cannot read stdin);
// otherwise the prompt states the diff arrives on stdin.
func buildReviewPrompt(req *Request, embedDiff string) string {
	focus := make([]string, 0, len(req.FocusAreas))
	for _, f := range req.FocusAreas {
		if desc, ok := focusDescriptions[f]; ok {
			focus = append(focus, desc)
		} else {
			focus = append(focus, f)
		}
	}

	var b strings.Builder
	if embedDiff != "" {
		b.WriteString("Review the following pull request diff.\n\n")
	} else {
		b.WriteString("Review the pull request diff provided on stdin.\n\n")
	}

	fmt.Fprintf(&b, "**PR information:**\n- Title: %s\n- Description: %s\n- Author: %s\n\n",
		orNA(req.PRTitle), orNA(req.PRBody), orNA(req.PRAuthor))
	fmt.Fprintf(&b, "**Review focus:**\n%s\n\n", strings.Join(focus, ", "))

	if embedDiff != "" {
		diff := embedDiff
		if len(diff) > maxEmbeddedDiffChars {
			diff = diff[:maxEmbeddedDiffChars] + "\n\n... (diff truncated)"
		}
		fmt.Fprintf(&b, "**Diff:**\n```diff\n%s\n```\n\n", diff)
	}

	b.WriteString(`Cover these points:
1. Overall assessment: risk and positive impact of the change
2. Findings, ordered by severity, with reasoning
3. Actionable improvement suggestions
4. Things worth keeping

Output requirements (strict):
- Output exactly one JSON object, no surrounding text, comments, or code fences
- "summary_markdown" holds the report in markdown
- "overall_severity" is one of: critical, high, medium, low, info
- "inline_comments" has at most 5 entries, each with an exact "path" plus
  "new_line" (added line) or "old_line" (removed line), a "comment", and
  optional "suggestion" and "severity"
- any code inside "suggestion" must be a fenced markdown code block
- drop findings you cannot pin to a diff line

JSON shape:
{
  "summary_markdown": "### Overall assessment\n...",
  "overall_severity": "medium",
  "inline_comments": [
    {
      "path": "internal/server/main.go",
      "new_line": 123,
      "old_line": null,
      "severity": "high",
      "comment": "describe the problem and its impact",
      "suggestion": "replace with:\n` + "```go\nresult := safeCall(input)\n```" + `"
    }
  ]
}
`)
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

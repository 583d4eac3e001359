package provider

import (
	"strings"
	"testing"
)

func TestParseOutputDirectJSON(t *testing.T) {
	output := `{
		"summary_markdown": "### Looks fine",
		"overall_severity": "low",
		"inline_comments": [
			{"path": "main.go", "new_line": 10, "severity": "low", "comment": "nit"}
		]
	}`

	result := parseOutput("claude_code", output)
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if !result.Success {
		t.Error("expected success")
	}
	if result.SummaryMarkdown != "### Looks fine" {
		t.Errorf("summary = %q", result.SummaryMarkdown)
	}
	if result.OverallSeverity != "low" {
		t.Errorf("severity = %q", result.OverallSeverity)
	}
	if len(result.InlineComments) != 1 {
		t.Fatalf("inline comments = %d, want 1", len(result.InlineComments))
	}
	c := result.InlineComments[0]
	if c.Path != "main.go" || c.NewLine == nil || *c.NewLine != 10 {
		t.Errorf("unexpected comment: %+v", c)
	}
	if result.EngineName != "claude_code" {
		t.Errorf("engine = %q", result.EngineName)
	}
}

func TestParseOutputFencedJSON(t *testing.T) {
	output := "Here is the review:\n```json\n" +
		`{"summary_markdown": "ok", "overall_severity": "info", "inline_comments": []}` +
		"\n```\nDone."

	result := parseOutput("codex_cli", output)
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.SummaryMarkdown != "ok" {
		t.Errorf("summary = %q", result.SummaryMarkdown)
	}
}

func TestParseOutputBraceScan(t *testing.T) {
	output := `The model says: {"summary": "brace scan works", "overall_severity": "medium"} trailing text`

	result := parseOutput("openai_api", output)
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.SummaryMarkdown != "brace scan works" {
		t.Errorf("summary = %q", result.SummaryMarkdown)
	}
	if result.OverallSeverity != "medium" {
		t.Errorf("severity = %q", result.OverallSeverity)
	}
}

func TestParseOutputRepairsTrailingComma(t *testing.T) {
	output := `{"summary_markdown": "repaired", "overall_severity": "low", "inline_comments": [],}`

	result := parseOutput("gemini", output)
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.SummaryMarkdown != "repaired" {
		t.Errorf("summary = %q", result.SummaryMarkdown)
	}
}

func TestParseOutputPlainTextFallback(t *testing.T) {
	output := "The change looks reasonable, no issues found."

	result := parseOutput("ollama", output)
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.SummaryMarkdown != output {
		t.Errorf("summary = %q, want raw text", result.SummaryMarkdown)
	}
	if len(result.InlineComments) != 0 {
		t.Errorf("inline comments = %d, want 0", len(result.InlineComments))
	}
}

func TestParseOutputEmpty(t *testing.T) {
	if result := parseOutput("claude_code", "   \n  "); result != nil {
		t.Errorf("expected nil for blank output, got %+v", result)
	}
}

func TestParseOutputDropsInvalidComments(t *testing.T) {
	output := `{
		"summary_markdown": "mixed",
		"overall_severity": "medium",
		"inline_comments": [
			{"path": "a.go", "new_line": 5, "comment": "kept"},
			{"path": "", "new_line": 5, "comment": "no path"},
			{"path": "b.go", "comment": "no line"},
			{"path": "c.go", "new_line": 7, "comment": ""},
			{"path": "d.go", "old_line": 3, "comment": "old side kept"}
		]
	}`

	result := parseOutput("claude_code", output)
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if len(result.InlineComments) != 2 {
		t.Fatalf("inline comments = %d, want 2", len(result.InlineComments))
	}
	if result.InlineComments[0].Comment != "kept" {
		t.Errorf("first = %+v", result.InlineComments[0])
	}
	if result.InlineComments[1].OldLine == nil || *result.InlineComments[1].OldLine != 3 {
		t.Errorf("second = %+v", result.InlineComments[1])
	}
}

func TestParseOutputBareLineField(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantNew  bool
		wantLine int
	}{
		{
			name:     "defaults to new side",
			payload:  `{"summary": "s", "inline_comments": [{"path": "a.go", "line": 12, "comment": "x"}]}`,
			wantNew:  true,
			wantLine: 12,
		},
		{
			name:     "old side marker",
			payload:  `{"summary": "s", "inline_comments": [{"path": "a.go", "line": 8, "line_type": "old", "comment": "x"}]}`,
			wantNew:  false,
			wantLine: 8,
		},
		{
			name:     "numeric string",
			payload:  `{"summary": "s", "inline_comments": [{"path": "a.go", "line": "21", "comment": "x"}]}`,
			wantNew:  true,
			wantLine: 21,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseOutput("test", tt.payload)
			if result == nil || len(result.InlineComments) != 1 {
				t.Fatalf("expected one comment, got %+v", result)
			}
			c := result.InlineComments[0]
			if tt.wantNew {
				if c.NewLine == nil || *c.NewLine != tt.wantLine {
					t.Errorf("new_line = %v, want %d", c.NewLine, tt.wantLine)
				}
			} else {
				if c.OldLine == nil || *c.OldLine != tt.wantLine {
					t.Errorf("old_line = %v, want %d", c.OldLine, tt.wantLine)
				}
			}
		})
	}
}

func TestParseOutputAlternateSummaryKeys(t *testing.T) {
	output := `{"report": "alternate key", "severity": "high"}`

	result := parseOutput("test", output)
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.SummaryMarkdown != "alternate key" {
		t.Errorf("summary = %q", result.SummaryMarkdown)
	}
	if result.OverallSeverity != "high" {
		t.Errorf("severity = %q", result.OverallSeverity)
	}
}

func TestParseOutputKeepsRawOutput(t *testing.T) {
	output := `{"summary_markdown": "s", "overall_severity": "info"}`
	result := parseOutput("test", output)
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if !strings.Contains(result.RawOutput, "summary_markdown") {
		t.Errorf("raw output not preserved: %q", result.RawOutput)
	}
}

package provider

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

type rawInlineComment struct {
	Path       string          `json:"path"`
	Body       string          `json:"body"`
	Comment    string          `json:"comment"`
	Line       json.RawMessage `json:"line"`
	LineType   string          `json:"line_type"`
	NewLine    json.RawMessage `json:"new_line"`
	OldLine    json.RawMessage `json:"old_line"`
	Severity   string          `json:"severity"`
	Suggestion string          `json:"suggestion"`
}

type rawResult struct {
	SummaryMarkdown string             `json:"summary_markdown"`
	Summary         string             `json:"summary"`
	Report          string             `json:"report"`
	OverallSeverity string             `json:"overall_severity"`
	Severity        string             `json:"severity"`
	InlineComments  []rawInlineComment `json:"inline_comments"`
}

// parseOutput turns raw engine stdout into a Result. Engines are told to
// emit bare JSON but routinely wrap it in prose or fences, or emit JSON
// with trailing commas; extraction tries a direct decode, a jsonrepair
// pass, a fenced block, and finally a brace scan. If nothing decodes, the
// raw text becomes the summary so a sloppy engine still produces a usable
// review instead of an error.
func parseOutput(engineName, output string) *Result {
	sanitized := strings.TrimSpace(output)
	if sanitized == "" {
		return nil
	}

	raw := extractJSON(sanitized)
	if raw == nil {
		return &Result{
			SummaryMarkdown: sanitized,
			RawOutput:       sanitized,
			EngineName:      engineName,
			Success:         true,
		}
	}

	summary := strings.TrimSpace(firstNonEmpty(raw.SummaryMarkdown, raw.Summary, raw.Report))
	if summary == "" {
		summary = sanitized
	}

	result := &Result{
		SummaryMarkdown: summary,
		OverallSeverity: strings.TrimSpace(firstNonEmpty(raw.OverallSeverity, raw.Severity)),
		RawOutput:       sanitized,
		EngineName:      engineName,
		Success:         true,
	}
	for i := range raw.InlineComments {
		if c := convertInlineComment(&raw.InlineComments[i]); c != nil {
			result.InlineComments = append(result.InlineComments, *c)
		}
	}
	return result
}

func extractJSON(text string) *rawResult {
	if r := decodeResult(text); r != nil {
		return r
	}

	if repaired, err := jsonrepair.JSONRepair(text); err == nil {
		if r := decodeResult(repaired); r != nil {
			return r
		}
	}

	if m := codeBlockRe.FindStringSubmatch(text); m != nil {
		if r := decodeResult(m[1]); r != nil {
			return r
		}
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first != -1 && last > first {
		return decodeResult(text[first : last+1])
	}
	return nil
}

func decodeResult(text string) *rawResult {
	var r rawResult
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil
	}
	if r.SummaryMarkdown == "" && r.Summary == "" && r.Report == "" && len(r.InlineComments) == 0 {
		return nil
	}
	return &r
}

func convertInlineComment(raw *rawInlineComment) *InlineComment {
	path := strings.TrimSpace(raw.Path)
	comment := strings.TrimSpace(firstNonEmpty(raw.Comment, raw.Body))
	if path == "" || comment == "" {
		return nil
	}

	newLine := coerceLine(raw.NewLine)
	oldLine := coerceLine(raw.OldLine)
	if newLine == nil && oldLine == nil {
		// Engines sometimes emit a bare "line" with an optional side marker.
		line := coerceLine(raw.Line)
		if line == nil {
			return nil
		}
		if strings.EqualFold(raw.LineType, "old") {
			oldLine = line
		} else {
			newLine = line
		}
	}

	return &InlineComment{
		Path:       path,
		NewLine:    newLine,
		OldLine:    oldLine,
		Severity:   strings.ToLower(strings.TrimSpace(raw.Severity)),
		Comment:    comment,
		Suggestion: strings.TrimSpace(raw.Suggestion),
	}
}

// coerceLine accepts numbers and numeric strings, rejects null and junk.
func coerceLine(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, convErr := strconv.Atoi(strings.TrimSpace(s)); convErr == nil {
			return &v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

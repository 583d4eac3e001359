package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// outputSchema constrains codex exec to the shared result shape. The CLI
// enforces it server-side, which removes most parsing fallbacks from the
// happy path.
const outputSchema = `{
  "type": "object",
  "properties": {
    "summary_markdown": {"type": "string"},
    "overall_severity": {"type": "string", "enum": ["critical", "high", "medium", "low", "info"]},
    "inline_comments": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "path": {"type": "string"},
          "new_line": {"type": ["integer", "null"]},
          "old_line": {"type": ["integer", "null"]},
          "severity": {"type": "string"},
          "comment": {"type": "string"},
          "suggestion": {"type": "string"}
        },
        "required": ["path", "comment"],
        "additionalProperties": false
      }
    }
  },
  "required": ["summary_markdown", "overall_severity", "inline_comments"],
  "additionalProperties": false
}`

// CodexCLIEngine drives codex exec. The CLI cannot take the diff on stdin
// together with a prompt, so the diff is embedded in the prompt text.
type CodexCLIEngine struct{}

func NewCodexCLIEngine() Engine { return &CodexCLIEngine{} }

func (e *CodexCLIEngine) Name() string { return "codex_cli" }

func (e *CodexCLIEngine) AnalyzeFull(ctx context.Context, workspacePath, diff string, req *Request) (*Result, error) {
	return e.run(ctx, workspacePath, diff, req)
}

func (e *CodexCLIEngine) AnalyzeDiffOnly(ctx context.Context, diff string, req *Request) (*Result, error) {
	return e.run(ctx, "", diff, req)
}

func (e *CodexCLIEngine) run(ctx context.Context, workspacePath, diff string, req *Request) (*Result, error) {
	cliPath := req.Config.CLIPath
	if cliPath == "" {
		cliPath = "codex"
	}

	timeout := req.Config.Timeout
	if timeout <= 0 {
		timeout = defaultClaudeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Isolated CODEX_HOME per call: codex persists auth and session state
	// under its home dir and concurrent reviews must not share it.
	home, err := os.MkdirTemp("", "codex-home-*")
	if err != nil {
		return nil, fmt.Errorf("create engine home dir: %w", err)
	}
	defer os.RemoveAll(home)

	schemaPath := filepath.Join(home, "output-schema.json")
	if err := os.WriteFile(schemaPath, []byte(outputSchema), 0o600); err != nil {
		return nil, fmt.Errorf("write output schema: %w", err)
	}

	prompt := buildReviewPrompt(req, diff)

	args := []string{
		"exec",
		"--sandbox", "read-only",
		"--skip-git-repo-check",
		"--color", "never",
		"--output-schema", schemaPath,
	}
	if workspacePath != "" {
		args = append(args, "--cd", workspacePath)
	}
	if req.Config.Model != "" {
		args = append(args, "--model", req.Config.Model)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, cliPath, args...)
	cmd.Env = buildCodexEnv(home, &req.Config)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if runErr := cmd.Run(); runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("codex cli timed out after %s", timeout)
		}
		detail := extractCLIError(stderr.String(), stdout.String())
		return nil, fmt.Errorf("codex cli failed: %s", Redact(detail))
	}

	result := parseOutput(e.Name(), stdout.String())
	if result == nil {
		return nil, errors.New("codex cli produced no output")
	}
	result.Usage = estimateUsage(req.Config.Model, prompt, result.RawOutput)
	return result, nil
}

func buildCodexEnv(home string, cfg *Config) []string {
	env := append(os.Environ(), "CODEX_HOME="+home)
	if cfg.BaseURL != "" {
		env = append(env, "OPENAI_BASE_URL="+cfg.BaseURL)
	}
	if cfg.APIKey != "" {
		env = append(env, "CODEX_API_KEY="+cfg.APIKey, "OPENAI_API_KEY="+cfg.APIKey)
	}
	return env
}

package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const defaultClaudeTimeout = 15 * time.Minute

// ClaudeCodeEngine drives the claude CLI in non-interactive mode. The diff
// is streamed on stdin and the working directory is the PR workspace, so
// the CLI can open surrounding files for context.
type ClaudeCodeEngine struct{}

func NewClaudeCodeEngine() Engine { return &ClaudeCodeEngine{} }

func (e *ClaudeCodeEngine) Name() string { return "claude_code" }

func (e *ClaudeCodeEngine) AnalyzeFull(ctx context.Context, workspacePath, diff string, req *Request) (*Result, error) {
	return e.run(ctx, workspacePath, diff, req)
}

func (e *ClaudeCodeEngine) AnalyzeDiffOnly(ctx context.Context, diff string, req *Request) (*Result, error) {
	return e.run(ctx, "", diff, req)
}

func (e *ClaudeCodeEngine) run(ctx context.Context, workspacePath, diff string, req *Request) (*Result, error) {
	cliPath := req.Config.CLIPath
	if cliPath == "" {
		cliPath = "claude"
	}

	timeout := req.Config.Timeout
	if timeout <= 0 {
		timeout = defaultClaudeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Each invocation gets its own config dir so concurrent reviews never
	// share CLI session state or credentials on disk.
	configDir, err := os.MkdirTemp("", "claude-cfg-*")
	if err != nil {
		return nil, fmt.Errorf("create engine config dir: %w", err)
	}
	defer os.RemoveAll(configDir)

	prompt := buildReviewPrompt(req, "")

	cmd := exec.CommandContext(ctx, cliPath, "-p", prompt, "--output-format", "text")
	if workspacePath != "" {
		cmd.Dir = workspacePath
	}
	cmd.Stdin = strings.NewReader(diff)
	cmd.Env = buildClaudeEnv(configDir, &req.Config)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("claude cli timed out after %s", timeout)
		}
		detail := extractCLIError(stderr.String(), stdout.String())
		return nil, fmt.Errorf("claude cli failed: %s", Redact(detail))
	}

	result := parseOutput(e.Name(), stdout.String())
	if result == nil {
		return nil, fmt.Errorf("claude cli produced no output (ran %s)", elapsed.Round(time.Second))
	}
	result.Usage = estimateUsage(req.Config.Model, prompt+diff, result.RawOutput)
	return result, nil
}

// buildClaudeEnv produces a minimal environment for the CLI. Passing the
// token via ANTHROPIC_AUTH_TOKEN keeps it out of the argument list, which
// is visible in the process table.
func buildClaudeEnv(configDir string, cfg *Config) []string {
	env := append(os.Environ(),
		"CLAUDE_CONFIG_DIR="+configDir,
	)
	if cfg.BaseURL != "" {
		env = append(env, "ANTHROPIC_BASE_URL="+cfg.BaseURL)
	}
	if cfg.APIKey != "" {
		env = append(env, "ANTHROPIC_AUTH_TOKEN="+cfg.APIKey)
	}
	if cfg.Model != "" {
		env = append(env, "ANTHROPIC_MODEL="+cfg.Model)
	}
	return env
}

// extractCLIError picks the most actionable line out of CLI stderr, falling
// back to stdout when stderr is empty.
func extractCLIError(stderr, stdout string) string {
	for _, source := range []string{stderr, stdout} {
		lines := strings.Split(strings.TrimSpace(source), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(lines[i])
			if line == "" {
				continue
			}
			lower := strings.ToLower(line)
			if strings.Contains(lower, "error") || strings.Contains(lower, "failed") ||
				strings.Contains(lower, "invalid") || strings.Contains(lower, "denied") {
				return line
			}
		}
		if trimmed := strings.TrimSpace(source); trimmed != "" {
			tail := strings.Split(trimmed, "\n")
			return strings.TrimSpace(tail[len(tail)-1])
		}
	}
	return "no diagnostic output"
}

// estimateUsage approximates token counts when the engine does not report
// them. Four characters per token is the usual rule of thumb.
func estimateUsage(model, input, output string) Usage {
	return Usage{
		Model:        model,
		InputTokens:  len(input) / 4,
		OutputTokens: len(output) / 4,
		APICalls:     1,
	}
}

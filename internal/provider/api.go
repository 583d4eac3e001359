package provider

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

const (
	defaultAPITimeout    = 5 * time.Minute
	maxListedFiles       = 200
	defaultAnthropicName = "claude-sonnet-4-20250514"
	defaultOpenAIName    = "gpt-4o"
	defaultOllamaName    = "llama3"
	defaultGeminiName    = "gemini-2.5-flash"
)

// apiEngine shares the glue common to the HTTP-backed engines: API engines
// cannot open workspace files, so "full" analysis embeds the diff plus a
// tree listing of the checkout, and diff-only analysis embeds the diff
// alone.
type apiEngine struct {
	name string
	call func(ctx context.Context, cfg *Config, prompt string) (string, Usage, error)
}

func (e *apiEngine) Name() string { return e.name }

func (e *apiEngine) AnalyzeFull(ctx context.Context, workspacePath, diff string, req *Request) (*Result, error) {
	prompt := buildReviewPrompt(req, diff)
	if listing := listWorkspaceFiles(workspacePath); listing != "" {
		prompt += "\n**Repository files at the PR head:**\n```\n" + listing + "\n```\n"
	}
	return e.invoke(ctx, prompt, req)
}

func (e *apiEngine) AnalyzeDiffOnly(ctx context.Context, diff string, req *Request) (*Result, error) {
	return e.invoke(ctx, buildReviewPrompt(req, diff), req)
}

func (e *apiEngine) invoke(ctx context.Context, prompt string, req *Request) (*Result, error) {
	timeout := req.Config.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	content, usage, err := e.call(ctx, &req.Config, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %s", e.name, Redact(err.Error()))
	}

	result := parseOutput(e.name, content)
	if result == nil {
		return nil, fmt.Errorf("%s returned an empty response", e.name)
	}
	if usage.Model == "" {
		usage.Model = req.Config.Model
	}
	if usage.APICalls == 0 {
		usage.APICalls = 1
	}
	result.Usage = usage
	return result, nil
}

// NewOpenAIEngine reviews through the chat completions API. Any
// OpenAI-compatible endpoint works when BaseURL is set.
func NewOpenAIEngine() Engine {
	return &apiEngine{name: "openai_api", call: callOpenAI}
}

func callOpenAI(ctx context.Context, cfg *Config, prompt string) (string, Usage, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIName
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in response")
	}

	usage := Usage{
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		APICalls:     1,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// NewAnthropicEngine reviews through the Anthropic messages API.
func NewAnthropicEngine() Engine {
	return &apiEngine{name: "anthropic_api", call: callAnthropic}
}

func callAnthropic(ctx context.Context, cfg *Config, prompt string) (string, Usage, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicName
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", Usage{}, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	usage := Usage{
		Model:        model,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		APICalls:     1,
	}
	return content.String(), usage, nil
}

// NewOllamaEngine reviews through a local or remote Ollama server.
func NewOllamaEngine() Engine {
	return &apiEngine{name: "ollama", call: callOllama}
}

func callOllama(ctx context.Context, cfg *Config, prompt string) (string, Usage, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", Usage{}, fmt.Errorf("invalid base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	model := cfg.Model
	if model == "" {
		model = defaultOllamaName
	}

	var content strings.Builder
	usage := Usage{Model: model, APICalls: 1}
	err = client.Chat(ctx, &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Options: map[string]interface{}{
			"temperature": 0.3,
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			usage.InputTokens = resp.Metrics.PromptEvalCount
			usage.OutputTokens = resp.Metrics.EvalCount
		}
		return nil
	})
	if err != nil {
		return "", Usage{}, err
	}
	return content.String(), usage, nil
}

// NewGeminiEngine reviews through the Google Gemini API.
func NewGeminiEngine() Engine {
	return &apiEngine{name: "gemini", call: callGemini}
}

func callGemini(ctx context.Context, cfg *Config, prompt string) (string, Usage, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("client init: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiName
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", Usage{}, err
	}

	usage := Usage{Model: model, APICalls: 1}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return resp.Text(), usage, nil
}

// listWorkspaceFiles returns a sorted, bounded listing of the checkout for
// prompt context. Errors degrade to an empty listing rather than failing
// the review.
func listWorkspaceFiles(root string) string {
	if root == "" {
		return ""
	}
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		files = append(files, rel)
		if len(files) >= maxListedFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if len(files) == 0 {
		return ""
	}
	sort.Strings(files)
	if len(files) >= maxListedFiles {
		files = append(files, "... (listing truncated)")
	}
	return strings.Join(files, "\n")
}

package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/hosting"
	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/internal/provider"
	"github.com/prsentry/prsentry/internal/repows"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(
		&models.Repository{},
		&models.ModelConfig{},
		&models.ReviewSession{},
		&models.InlineComment{},
		&models.UsageStat{},
		&models.WebhookDelivery{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeHostingClient records every call for assertions.
type fakeHostingClient struct {
	mu sync.Mutex

	pr       *hosting.PullRequest
	diff     string
	diffErr  error
	prErr    error
	reviewErr error

	comments       []string
	updatedBodies  map[int64]string
	reviews        int
	statuses       []hosting.CommitStatusState
	statusDescs    []string
	nextCommentID  int64
}

func newFakeHostingClient() *fakeHostingClient {
	return &fakeHostingClient{
		pr: &hosting.PullRequest{
			Number:     7,
			Title:      "Add feature",
			AuthorName: "alice",
			HeadBranch: "feature",
			BaseBranch: "main",
			HeadSHA:    "abc123",
		},
		diff:          "diff --git a/x.go b/x.go\n+change\n",
		updatedBodies: map[int64]string{},
		nextCommentID: 100,
	}
}

func (f *fakeHostingClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*hosting.PullRequest, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	return f.pr, nil
}

func (f *fakeHostingClient) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	return f.diff, f.diffErr
}

func (f *fakeHostingClient) ListPullRequests(ctx context.Context, owner, repo, state string) ([]hosting.PullRequest, error) {
	return nil, nil
}

func (f *fakeHostingClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*hosting.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	f.nextCommentID++
	return &hosting.Comment{ID: f.nextCommentID, Body: body}, nil
}

func (f *fakeHostingClient) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedBodies[commentID] = body
	return nil
}

func (f *fakeHostingClient) CreateReview(ctx context.Context, owner, repo string, number int, summary string, comments []hosting.ReviewComment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reviewErr != nil {
		return f.reviewErr
	}
	f.reviews++
	return nil
}

func (f *fakeHostingClient) CreateCommitStatus(ctx context.Context, owner, repo, sha string, state hosting.CommitStatusState, description, statusContext string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, state)
	f.statusDescs = append(f.statusDescs, description)
	return nil
}

func (f *fakeHostingClient) ListWebhooks(ctx context.Context, owner, repo string) ([]hosting.Webhook, error) {
	return nil, nil
}

func (f *fakeHostingClient) CreateWebhook(ctx context.Context, owner, repo, targetURL, secret string, events []string) (*hosting.Webhook, error) {
	return &hosting.Webhook{ID: 1}, nil
}

func (f *fakeHostingClient) DeleteWebhook(ctx context.Context, owner, repo string, hookID int64) error {
	return nil
}

func (f *fakeHostingClient) CloneURL(owner, repo string) string {
	return fmt.Sprintf("https://git.example.com/%s/%s.git", owner, repo)
}

// fakeWorkspaces hands out fake workspaces and tracks releases.
type fakeWorkspaces struct {
	mu         sync.Mutex
	acquireErr error
	acquired   int
	released   int
}

func (f *fakeWorkspaces) Acquire(ctx context.Context, cloneURL, repoFullName, ref string, prNumber int) (*repows.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	return &repows.Workspace{RootPath: "/tmp/fake-ws", RepoFullName: repoFullName, Ref: ref}, nil
}

func (f *fakeWorkspaces) Release(ws *repows.Workspace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ws != nil {
		f.released++
	}
}

// fakeEngine returns a canned result or error and remembers which mode ran.
type fakeEngine struct {
	result *provider.Result
	err    error

	mu        sync.Mutex
	fullCalls int
	diffCalls int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) AnalyzeFull(ctx context.Context, workspacePath, diff string, req *provider.Request) (*provider.Result, error) {
	f.mu.Lock()
	f.fullCalls++
	f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeEngine) AnalyzeDiffOnly(ctx context.Context, diff string, req *provider.Request) (*provider.Result, error) {
	f.mu.Lock()
	f.diffCalls++
	f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeEngine) calls() (full, diff int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullCalls, f.diffCalls
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Review.DefaultEngine = "fake"
	cfg.Review.DefaultModel = "test-model"
	return cfg
}

func newTestEngine(t *testing.T, client hosting.Client, workspaces WorkspaceManager, fake *fakeEngine) (*ReviewEngine, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	registry := provider.NewRegistry()
	registry.Register("fake", func() provider.Engine { return fake })
	return NewReviewEngine(db, testConfig(), client, workspaces, registry), db
}

func successResult() *provider.Result {
	line := 3
	return &provider.Result{
		SummaryMarkdown: "### All good",
		OverallSeverity: "low",
		InlineComments: []provider.InlineComment{
			{Path: "x.go", NewLine: &line, Severity: "low", Comment: "nit"},
		},
		EngineName: "fake",
		Success:    true,
	}
}

func baseTrigger() *ReviewTrigger {
	return &ReviewTrigger{
		Owner:      "alice",
		Repo:       "web",
		PRNumber:   7,
		Kind:       TriggerManual,
		Features:   []string{FeatureComment, FeatureStatus},
		FocusAreas: []string{FocusSecurity},
	}
}

func lastSession(t *testing.T, db *gorm.DB) *models.ReviewSession {
	t.Helper()
	var session models.ReviewSession
	if err := db.Order("id DESC").First(&session).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	return &session
}

func TestRunSuccessFullMode(t *testing.T) {
	client := newFakeHostingClient()
	workspaces := &fakeWorkspaces{}
	fake := &fakeEngine{result: successResult()}
	engine, db := newTestEngine(t, client, workspaces, fake)

	if err := engine.Run(context.Background(), baseTrigger()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	session := lastSession(t, db)
	if session.Success == nil || !*session.Success {
		t.Error("session should be successful")
	}
	if session.AnalysisMode != ModeFull {
		t.Errorf("analysis mode = %q", session.AnalysisMode)
	}
	if session.CompletedAt == nil || session.DurationSeconds == nil {
		t.Error("session not finalized")
	}
	if session.InlineCommentsCount != 1 {
		t.Errorf("inline count = %d", session.InlineCommentsCount)
	}
	if session.PRTitle != "Add feature" || session.HeadSHA != "abc123" {
		t.Errorf("pr metadata = %+v", session)
	}

	if full, diff := fake.calls(); full != 1 || diff != 0 {
		t.Errorf("engine calls full=%d diff=%d", full, diff)
	}
	if workspaces.acquired != 1 || workspaces.released != 1 {
		t.Errorf("workspace acquired=%d released=%d", workspaces.acquired, workspaces.released)
	}

	// Placeholder comment posted, then updated in place with the result.
	if len(client.comments) != 1 {
		t.Fatalf("comments = %v", client.comments)
	}
	if len(client.updatedBodies) != 1 {
		t.Fatalf("updates = %v", client.updatedBodies)
	}
	for _, body := range client.updatedBodies {
		if !strings.Contains(body, "All good") {
			t.Errorf("final comment = %q", body)
		}
	}

	// Pending then success statuses.
	if len(client.statuses) != 2 || client.statuses[0] != hosting.StatusPending || client.statuses[1] != hosting.StatusSuccess {
		t.Errorf("statuses = %v", client.statuses)
	}

	var inline []models.InlineComment
	db.Find(&inline)
	if len(inline) != 1 || inline[0].FilePath != "x.go" {
		t.Errorf("persisted inline comments = %+v", inline)
	}

	var usage models.UsageStat
	if err := db.First(&usage).Error; err != nil {
		t.Fatalf("usage stat: %v", err)
	}
	if usage.EngineCalls != 1 || usage.CloneOperations != 1 || usage.HostingAPICalls == 0 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestRunEmptyDiffShortCircuits(t *testing.T) {
	client := newFakeHostingClient()
	client.diff = "   \n"
	workspaces := &fakeWorkspaces{}
	fake := &fakeEngine{result: successResult()}
	engine, db := newTestEngine(t, client, workspaces, fake)

	if err := engine.Run(context.Background(), baseTrigger()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	session := lastSession(t, db)
	if session.Success == nil || !*session.Success {
		t.Error("empty diff should succeed")
	}
	if session.InlineCommentsCount != 0 {
		t.Errorf("inline count = %d", session.InlineCommentsCount)
	}
	if full, diff := fake.calls(); full+diff != 0 {
		t.Error("engine must not run on empty diff")
	}
	if workspaces.acquired != 0 {
		t.Error("no workspace needed for empty diff")
	}
}

func TestRunCloneFailureDegradesToDiffOnly(t *testing.T) {
	client := newFakeHostingClient()
	workspaces := &fakeWorkspaces{
		acquireErr: &repows.CloneError{Repo: "alice/web", Ref: "feature", Detail: "auth failed"},
	}
	fake := &fakeEngine{result: successResult()}
	engine, db := newTestEngine(t, client, workspaces, fake)

	if err := engine.Run(context.Background(), baseTrigger()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	session := lastSession(t, db)
	if session.AnalysisMode != ModeDiff {
		t.Errorf("analysis mode = %q, want diff", session.AnalysisMode)
	}
	if session.Success == nil || !*session.Success {
		t.Error("degraded run should still succeed")
	}
	if full, diff := fake.calls(); full != 0 || diff != 1 {
		t.Errorf("engine calls full=%d diff=%d", full, diff)
	}
}

func TestRunEngineFailureStillDispatchesStatus(t *testing.T) {
	client := newFakeHostingClient()
	workspaces := &fakeWorkspaces{}
	fake := &fakeEngine{err: errors.New("engine exploded: api_key=sk-secret123")}
	engine, db := newTestEngine(t, client, workspaces, fake)

	if err := engine.Run(context.Background(), baseTrigger()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	session := lastSession(t, db)
	if session.Success == nil || *session.Success {
		t.Error("session should be failed")
	}
	if session.ErrorMessage == "" {
		t.Error("error message missing")
	}
	if strings.Contains(session.ErrorMessage, "sk-secret123") {
		t.Errorf("credential leaked into session: %q", session.ErrorMessage)
	}

	// Status channel still reports, with error state.
	if len(client.statuses) != 2 || client.statuses[1] != hosting.StatusError {
		t.Errorf("statuses = %v", client.statuses)
	}
	// Comment channel carries the failure notice, redacted.
	for _, body := range client.updatedBodies {
		if strings.Contains(body, "sk-secret123") {
			t.Errorf("credential leaked into comment: %q", body)
		}
		if !strings.Contains(body, "review failed") {
			t.Errorf("failure comment = %q", body)
		}
	}

	// Workspace still released on the failure path.
	if workspaces.released != 1 {
		t.Errorf("released = %d", workspaces.released)
	}
}

func TestRunUnknownEngineFailsWithoutSideEffects(t *testing.T) {
	client := newFakeHostingClient()
	workspaces := &fakeWorkspaces{}
	fake := &fakeEngine{result: successResult()}
	engine, db := newTestEngine(t, client, workspaces, fake)

	trigger := baseTrigger()
	trigger.Override = &EngineOverride{Engine: "no_such_engine"}

	if err := engine.Run(context.Background(), trigger); err != nil {
		t.Fatalf("Run: %v", err)
	}

	session := lastSession(t, db)
	if session.Success == nil || *session.Success {
		t.Error("session should be failed")
	}
	if !strings.Contains(session.ErrorMessage, "no_such_engine") {
		t.Errorf("error message = %q", session.ErrorMessage)
	}
	if len(client.comments) != 0 || len(client.statuses) != 0 || client.reviews != 0 {
		t.Error("unknown engine must cause no PR side effects")
	}
}

func TestRunHighSeverityMarksStatusFailure(t *testing.T) {
	client := newFakeHostingClient()
	result := successResult()
	result.OverallSeverity = "critical"
	fake := &fakeEngine{result: result}
	engine, _ := newTestEngine(t, client, &fakeWorkspaces{}, fake)

	if err := engine.Run(context.Background(), baseTrigger()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(client.statuses) != 2 || client.statuses[1] != hosting.StatusFailure {
		t.Errorf("statuses = %v", client.statuses)
	}
}

func TestRunReviewChannelPostsInlineReview(t *testing.T) {
	client := newFakeHostingClient()
	fake := &fakeEngine{result: successResult()}
	engine, _ := newTestEngine(t, client, &fakeWorkspaces{}, fake)

	trigger := baseTrigger()
	trigger.Features = []string{FeatureReview}

	if err := engine.Run(context.Background(), trigger); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if client.reviews != 1 {
		t.Errorf("reviews = %d, want 1", client.reviews)
	}
	if len(client.comments) != 0 {
		t.Errorf("comments = %v, comment channel disabled", client.comments)
	}
}

func TestRunReviewRejectedFallsBackToComment(t *testing.T) {
	client := newFakeHostingClient()
	client.reviewErr = &hosting.APIError{StatusCode: 422, Message: "invalid line anchor"}
	fake := &fakeEngine{result: successResult()}
	engine, _ := newTestEngine(t, client, &fakeWorkspaces{}, fake)

	trigger := baseTrigger()
	trigger.Features = []string{FeatureReview}

	if err := engine.Run(context.Background(), trigger); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if client.reviews != 0 {
		t.Errorf("reviews = %d", client.reviews)
	}
	if len(client.comments) != 1 || !strings.Contains(client.comments[0], "Line-level findings") {
		t.Errorf("fallback comments = %v", client.comments)
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	client := newFakeHostingClient()
	fake := &fakeEngine{result: successResult()}
	engine, db := newTestEngine(t, client, &fakeWorkspaces{}, fake)

	repo := models.Repository{Owner: "alice", Name: "web", Enabled: true}
	db.Create(&repo)

	// Builtin only.
	cfg, source := engine.resolveConfig(repo.ID, nil)
	if source != SourceBuiltin || cfg.Engine != "fake" {
		t.Errorf("builtin: engine=%q source=%q", cfg.Engine, source)
	}

	// Global default overrides builtin.
	db.Create(&models.ModelConfig{Engine: "codex_cli", Model: "o4", IsDefault: true, IsActive: true})
	cfg, source = engine.resolveConfig(repo.ID, nil)
	if source != SourceGlobalDefault || cfg.Engine != "codex_cli" || cfg.Model != "o4" {
		t.Errorf("global: engine=%q model=%q source=%q", cfg.Engine, cfg.Model, source)
	}

	// Repo config overrides global.
	db.Create(&models.ModelConfig{RepositoryID: &repo.ID, Engine: "ollama", Model: "llama3", IsActive: true})
	cfg, source = engine.resolveConfig(repo.ID, nil)
	if source != SourceRepoConfig || cfg.Engine != "ollama" {
		t.Errorf("repo: engine=%q source=%q", cfg.Engine, source)
	}

	// Header override beats everything; unset fields inherit.
	cfg, source = engine.resolveConfig(repo.ID, &EngineOverride{Engine: "claude_code"})
	if source != SourceOverride || cfg.Engine != "claude_code" {
		t.Errorf("override: engine=%q source=%q", cfg.Engine, source)
	}
	if cfg.Model != "llama3" {
		t.Errorf("override model should inherit repo config, got %q", cfg.Model)
	}

	// A credentials-only override still counts as an override.
	cfg, source = engine.resolveConfig(repo.ID, &EngineOverride{APIKey: "sk-header"})
	if source != SourceOverride {
		t.Errorf("api-key override: source=%q, want %q", source, SourceOverride)
	}
	if cfg.Engine != "ollama" || cfg.APIKey != "sk-header" {
		t.Errorf("api-key override: engine=%q key=%q", cfg.Engine, cfg.APIKey)
	}
}

func TestRunConcurrentTriggersIndependent(t *testing.T) {
	client := newFakeHostingClient()
	workspaces := &fakeWorkspaces{}
	fake := &fakeEngine{result: successResult()}
	engine, db := newTestEngine(t, client, workspaces, fake)

	var wg sync.WaitGroup
	for pr := 1; pr <= 3; pr++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			trigger := baseTrigger()
			trigger.PRNumber = n
			if err := engine.Run(context.Background(), trigger); err != nil {
				t.Errorf("Run(pr=%d): %v", n, err)
			}
		}(pr)
	}
	wg.Wait()

	var count int64
	db.Model(&models.ReviewSession{}).Count(&count)
	if count != 3 {
		t.Errorf("sessions = %d, want 3", count)
	}
	if workspaces.released != workspaces.acquired {
		t.Errorf("acquired=%d released=%d", workspaces.acquired, workspaces.released)
	}
	if full, diff := fake.calls(); full != 3 || diff != 0 {
		t.Errorf("engine calls full=%d diff=%d", full, diff)
	}
}

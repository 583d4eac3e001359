package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/hosting"
	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/internal/provider"
	"github.com/prsentry/prsentry/internal/repows"
	"github.com/prsentry/prsentry/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const statusContext = "prsentry/review"

// Analysis modes recorded on the session.
const (
	ModeFull = "full"
	ModeDiff = "diff"
)

// Config sources, highest precedence first.
const (
	SourceOverride      = "override"
	SourceRepoConfig    = "repo_config"
	SourceGlobalDefault = "global_default"
	SourceBuiltin       = "builtin"
)

// WorkspaceManager is the slice of repows.Manager the engine needs,
// extracted so tests can substitute a fake.
type WorkspaceManager interface {
	Acquire(ctx context.Context, cloneURL, repoFullName, ref string, prNumber int) (*repows.Workspace, error)
	Release(ws *repows.Workspace)
}

// ReviewEngine runs one review per trigger: resolve configuration, acquire
// a workspace, fetch the diff, invoke the analysis engine, dispatch
// feedback, clean up, and persist the outcome. Each Run owns its session
// exclusively from creation to completion.
type ReviewEngine struct {
	db         *gorm.DB
	cfg        *config.Config
	client     hosting.Client
	workspaces WorkspaceManager
	registry   *provider.Registry
	sessions   *SessionService
	repos      *RepoRegistry
}

func NewReviewEngine(
	db *gorm.DB,
	cfg *config.Config,
	client hosting.Client,
	workspaces WorkspaceManager,
	registry *provider.Registry,
) *ReviewEngine {
	return &ReviewEngine{
		db:         db,
		cfg:        cfg,
		client:     client,
		workspaces: workspaces,
		registry:   registry,
		sessions:   NewSessionService(db),
		repos:      NewRepoRegistry(db, client),
	}
}

// Run executes the full review pipeline for one trigger. Errors after the
// session exists are recorded on the session; the returned error only
// signals the task layer, which does not retry.
func (e *ReviewEngine) Run(ctx context.Context, trigger *ReviewTrigger) error {
	trigger.Normalize()

	log := logger.With("review").With().
		Str("repo", trigger.RepoFullName()).
		Int("pr", trigger.PRNumber).
		Str("kind", trigger.Kind).
		Logger()

	repo, err := e.repos.GetOrCreate(trigger.Owner, trigger.Repo)
	if err != nil {
		log.Error().Err(err).Msg("repository lookup failed")
		return err
	}
	if !repo.Enabled {
		log.Info().Msg("repository disabled, skipping review")
		return nil
	}

	engineCfg, source := e.resolveConfig(repo.ID, trigger.Override)

	session := &models.ReviewSession{
		RepositoryID: repo.ID,
		PRNumber:     trigger.PRNumber,
		TriggerKind:  trigger.Kind,
		Engine:       engineCfg.Engine,
		Model:        engineCfg.Model,
		ConfigSource: source,
		Features:     joinList(trigger.Features),
		FocusAreas:   joinList(trigger.FocusAreas),
		AnalysisMode: ModeFull,
	}
	if err := e.sessions.Create(session); err != nil {
		log.Error().Err(err).Msg("session create failed")
		return err
	}

	// Unknown engine fails before any PR side effect.
	engine, err := e.registry.Resolve(engineCfg.Engine)
	if err != nil {
		log.Error().Err(err).Msg("engine resolution failed")
		return e.sessions.Finalize(session, false, err.Error())
	}

	usage := &models.UsageStat{RepositoryID: repo.ID, ReviewSessionID: session.ID}
	defer func() {
		if err := e.sessions.SaveUsage(usage); err != nil {
			log.Warn().Err(err).Msg("usage stat write failed")
		}
	}()

	pr, err := e.client.GetPullRequest(ctx, trigger.Owner, trigger.Repo, trigger.PRNumber)
	usage.HostingAPICalls++
	if err != nil {
		log.Error().Err(err).Msg("pull request fetch failed")
		return e.sessions.Finalize(session, false, "pull request fetch failed: "+err.Error())
	}

	session.PRTitle = pr.Title
	session.PRAuthor = pr.AuthorName
	session.HeadBranch = pr.HeadBranch
	session.BaseBranch = pr.BaseBranch
	session.HeadSHA = pr.HeadSHA
	if err := e.sessions.Update(session); err != nil {
		log.Warn().Err(err).Msg("session update failed")
	}

	placeholder := e.announceStart(ctx, trigger, pr, usage, &log)

	diff, err := e.client.GetPullRequestDiff(ctx, trigger.Owner, trigger.Repo, trigger.PRNumber)
	usage.HostingAPICalls++
	if err != nil {
		msg := "diff fetch failed: " + err.Error()
		log.Error().Err(err).Msg("diff fetch failed")
		e.reportFailure(ctx, trigger, pr, placeholder, msg, usage, &log)
		return e.sessions.Finalize(session, false, msg)
	}
	session.DiffSizeBytes = len(diff)

	if strings.TrimSpace(diff) == "" {
		log.Info().Msg("empty diff, nothing to review")
		session.SummaryMarkdown = "No code changes to review."
		e.dispatchFeedback(ctx, trigger, pr, placeholder, &provider.Result{
			SummaryMarkdown: session.SummaryMarkdown,
			OverallSeverity: "info",
			EngineName:      engineCfg.Engine,
			Success:         true,
		}, usage, &log)
		return e.sessions.Finalize(session, true, "")
	}

	// Full-context analysis wants a checkout; clone failure degrades to
	// diff-only instead of failing the run.
	var workspace *repows.Workspace
	cloneURL := e.client.CloneURL(trigger.Owner, trigger.Repo)
	workspace, err = e.workspaces.Acquire(ctx, cloneURL, trigger.RepoFullName(), pr.HeadBranch, trigger.PRNumber)
	usage.CloneOperations++
	if err != nil {
		var cloneErr *repows.CloneError
		var diskErr *repows.DiskSpaceError
		if errors.As(err, &cloneErr) || errors.As(err, &diskErr) {
			log.Warn().Err(err).Msg("workspace unavailable, degrading to diff-only analysis")
			session.AnalysisMode = ModeDiff
			workspace = nil
		} else {
			msg := "workspace acquisition failed: " + err.Error()
			e.reportFailure(ctx, trigger, pr, placeholder, msg, usage, &log)
			return e.sessions.Finalize(session, false, msg)
		}
	}
	defer e.workspaces.Release(workspace)

	result := e.analyze(ctx, engine, workspace, diff, trigger, pr, engineCfg, &log)
	usage.EngineCalls++
	usage.InputTokens = result.Usage.InputTokens
	usage.OutputTokens = result.Usage.OutputTokens

	session.OverallSeverity = result.OverallSeverity
	session.SummaryMarkdown = result.SummaryMarkdown
	session.InlineCommentsCount = len(result.InlineComments)

	if result.Success {
		if err := e.sessions.SaveInlineComments(session.ID, result.InlineComments); err != nil {
			log.Warn().Err(err).Msg("inline comment persistence failed")
		}
	}

	e.dispatchFeedback(ctx, trigger, pr, placeholder, result, usage, &log)

	if !result.Success {
		return e.sessions.Finalize(session, false, result.ErrorMessage)
	}
	return e.sessions.Finalize(session, true, "")
}

// analyze invokes the engine in the selected mode. Engine errors never
// propagate; they become a failed Result the feedback step can still
// deliver.
func (e *ReviewEngine) analyze(
	ctx context.Context,
	engine provider.Engine,
	workspace *repows.Workspace,
	diff string,
	trigger *ReviewTrigger,
	pr *hosting.PullRequest,
	engineCfg provider.Config,
	log *zerolog.Logger,
) *provider.Result {
	req := &provider.Request{
		FocusAreas: trigger.FocusAreas,
		PRTitle:    pr.Title,
		PRBody:     pr.Body,
		PRAuthor:   pr.AuthorName,
		Config:     engineCfg,
	}

	var result *provider.Result
	var err error
	if workspace != nil {
		result, err = engine.AnalyzeFull(ctx, workspace.RootPath, diff, req)
	} else {
		result, err = engine.AnalyzeDiffOnly(ctx, diff, req)
	}
	if err != nil {
		log.Error().Err(errRedacted(err)).Str("engine", engine.Name()).Msg("analysis failed")
		return provider.FailedResult(engine.Name(), err)
	}
	log.Info().
		Str("engine", engine.Name()).
		Str("severity", result.OverallSeverity).
		Int("inline_comments", len(result.InlineComments)).
		Msg("analysis complete")
	return result
}

// announceStart posts the placeholder comment and the pending commit status
// for the enabled channels. Failures here never stop the review.
func (e *ReviewEngine) announceStart(
	ctx context.Context,
	trigger *ReviewTrigger,
	pr *hosting.PullRequest,
	usage *models.UsageStat,
	log *zerolog.Logger,
) *hosting.Comment {
	var placeholder *hosting.Comment

	if HasFeature(trigger.Features, FeatureComment) {
		comment, err := e.client.CreateComment(ctx, trigger.Owner, trigger.Repo, trigger.PRNumber,
			":hourglass_flowing_sand: Reviewing this pull request, results will appear here.")
		usage.HostingAPICalls++
		if err != nil {
			log.Warn().Err(err).Msg("placeholder comment failed")
		} else {
			placeholder = comment
		}
	}

	if HasFeature(trigger.Features, FeatureStatus) && pr.HeadSHA != "" {
		err := e.client.CreateCommitStatus(ctx, trigger.Owner, trigger.Repo, pr.HeadSHA,
			hosting.StatusPending, "review in progress", statusContext)
		usage.HostingAPICalls++
		if err != nil {
			log.Warn().Err(err).Msg("pending status failed")
		}
	}

	return placeholder
}

// dispatchFeedback writes the result to each enabled channel. Channels are
// independent: one failure is logged and the rest still run.
func (e *ReviewEngine) dispatchFeedback(
	ctx context.Context,
	trigger *ReviewTrigger,
	pr *hosting.PullRequest,
	placeholder *hosting.Comment,
	result *provider.Result,
	usage *models.UsageStat,
	log *zerolog.Logger,
) {
	if HasFeature(trigger.Features, FeatureComment) {
		body := e.commentBody(result)
		var err error
		if placeholder != nil {
			err = e.client.UpdateComment(ctx, trigger.Owner, trigger.Repo, placeholder.ID, body)
		} else {
			_, err = e.client.CreateComment(ctx, trigger.Owner, trigger.Repo, trigger.PRNumber, body)
		}
		usage.HostingAPICalls++
		if err != nil {
			log.Warn().Err(err).Msg("comment feedback failed")
		}
	}

	if HasFeature(trigger.Features, FeatureReview) && result.Success && len(result.InlineComments) > 0 {
		e.dispatchReview(ctx, trigger, result, usage, log)
	}

	if HasFeature(trigger.Features, FeatureStatus) && pr.HeadSHA != "" {
		state := hosting.StatusSuccess
		description := "review passed"
		switch {
		case !result.Success:
			state = hosting.StatusError
			description = "review could not complete"
		case result.IndicatesFailure():
			state = hosting.StatusFailure
			description = "review found " + strings.ToLower(result.OverallSeverity) + " severity issues"
		}

		err := e.client.CreateCommitStatus(ctx, trigger.Owner, trigger.Repo, pr.HeadSHA, state, description, statusContext)
		usage.HostingAPICalls++
		if err != nil {
			log.Warn().Err(err).Msg("status feedback failed")
		}
	}
}

// dispatchReview submits inline findings as a PR review. The hosting server
// rejects the whole review when a line anchor no longer exists, so a 422
// degrades to a plain comment carrying the findings.
func (e *ReviewEngine) dispatchReview(
	ctx context.Context,
	trigger *ReviewTrigger,
	result *provider.Result,
	usage *models.UsageStat,
	log *zerolog.Logger,
) {
	comments := make([]hosting.ReviewComment, 0, len(result.InlineComments))
	for i := range result.InlineComments {
		c := &result.InlineComments[i]
		rc := hosting.ReviewComment{Path: c.Path, Body: c.BuildBody()}
		if c.NewLine != nil {
			rc.NewLine = *c.NewLine
		}
		if c.OldLine != nil {
			rc.OldLine = *c.OldLine
		}
		comments = append(comments, rc)
	}

	err := e.client.CreateReview(ctx, trigger.Owner, trigger.Repo, trigger.PRNumber,
		"Automated review findings", comments)
	usage.HostingAPICalls++
	if err == nil {
		return
	}

	var apiErr *hosting.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 422 {
		log.Warn().Msg("review anchors rejected, posting findings as comment")
		_, fallbackErr := e.client.CreateComment(ctx, trigger.Owner, trigger.Repo, trigger.PRNumber,
			inlineFindingsBody(result.InlineComments))
		usage.HostingAPICalls++
		if fallbackErr != nil {
			log.Warn().Err(fallbackErr).Msg("review fallback comment failed")
		}
		return
	}
	log.Warn().Err(err).Msg("review feedback failed")
}

// reportFailure tells the PR the review could not run, honoring the enabled
// channels, before the session is finalized as failed.
func (e *ReviewEngine) reportFailure(
	ctx context.Context,
	trigger *ReviewTrigger,
	pr *hosting.PullRequest,
	placeholder *hosting.Comment,
	message string,
	usage *models.UsageStat,
	log *zerolog.Logger,
) {
	e.dispatchFeedback(ctx, trigger, pr, placeholder, &provider.Result{
		Success:      false,
		ErrorMessage: provider.Redact(message),
	}, usage, log)
}

func (e *ReviewEngine) commentBody(result *provider.Result) string {
	if !result.Success {
		return fmt.Sprintf(":x: **Automated review failed**\n\n%s", provider.Redact(result.ErrorMessage))
	}

	var b strings.Builder
	b.WriteString("## Automated Code Review\n\n")
	if result.OverallSeverity != "" {
		fmt.Fprintf(&b, "**Overall severity**: %s\n\n", result.OverallSeverity)
	}
	b.WriteString(result.SummaryText())
	if result.EngineName != "" {
		fmt.Fprintf(&b, "\n\n---\n*Reviewed by %s*", result.EngineName)
	}
	return b.String()
}

func inlineFindingsBody(comments []provider.InlineComment) string {
	var b strings.Builder
	b.WriteString("### Line-level findings\n\n")
	for i := range comments {
		c := &comments[i]
		line := 0
		side := "new"
		if c.NewLine != nil {
			line = *c.NewLine
		} else if c.OldLine != nil {
			line = *c.OldLine
			side = "old"
		}
		fmt.Fprintf(&b, "- **%s** (%s line %d): %s\n", c.Path, side, line, c.Comment)
	}
	return b.String()
}

// resolveConfig merges engine settings by precedence: per-call override,
// repository config, global default config, then built-in defaults. The
// returned source names the highest layer that contributed any setting.
func (e *ReviewEngine) resolveConfig(repoID uint, override *EngineOverride) (provider.Config, string) {
	cfg := provider.Config{
		Engine:  e.cfg.Review.DefaultEngine,
		Model:   e.cfg.Review.DefaultModel,
		BaseURL: e.cfg.Review.BaseURL,
		APIKey:  e.cfg.Review.APIKey,
		Timeout: time.Duration(e.cfg.Review.EngineTimeoutSeconds) * time.Second,
	}
	source := SourceBuiltin

	var global models.ModelConfig
	if err := e.db.Where("repository_id IS NULL AND is_default = ? AND is_active = ?", true, true).
		First(&global).Error; err == nil {
		applyModelConfig(&cfg, &global)
		source = SourceGlobalDefault
	}

	var repoCfg models.ModelConfig
	if err := e.db.Where("repository_id = ? AND is_active = ?", repoID, true).
		First(&repoCfg).Error; err == nil {
		applyModelConfig(&cfg, &repoCfg)
		source = SourceRepoConfig
	}

	if override != nil && (override.Engine != "" || override.Model != "" || override.BaseURL != "" || override.APIKey != "") {
		if override.Engine != "" {
			cfg.Engine = override.Engine
		}
		if override.Model != "" {
			cfg.Model = override.Model
		}
		if override.BaseURL != "" {
			cfg.BaseURL = override.BaseURL
		}
		if override.APIKey != "" {
			cfg.APIKey = override.APIKey
		}
		source = SourceOverride
	}

	switch cfg.Engine {
	case "claude_code":
		cfg.CLIPath = e.cfg.Review.ClaudeCLIPath
	case "codex_cli":
		cfg.CLIPath = e.cfg.Review.CodexCLIPath
	}

	return cfg, source
}

func applyModelConfig(cfg *provider.Config, mc *models.ModelConfig) {
	if mc.Engine != "" {
		cfg.Engine = mc.Engine
	}
	if mc.Model != "" {
		cfg.Model = mc.Model
	}
	if mc.BaseURL != "" {
		cfg.BaseURL = mc.BaseURL
	}
	if mc.APIKey != "" {
		cfg.APIKey = mc.APIKey
	}
}

func errRedacted(err error) error {
	return errors.New(provider.Redact(err.Error()))
}

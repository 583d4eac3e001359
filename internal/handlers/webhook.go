package handlers

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/internal/services"
	"github.com/prsentry/prsentry/pkg/logger"
	"github.com/prsentry/prsentry/pkg/response"
)

// Gitea webhook headers.
const (
	headerEvent     = "X-Gitea-Event"
	headerSignature = "X-Gitea-Signature"

	headerFeatures = "X-Review-Features"
	headerFocus    = "X-Review-Focus"

	headerEngine  = "X-Review-Engine"
	headerModel   = "X-Review-Model"
	headerBaseURL = "X-Review-Base-URL"
	headerAPIKey  = "X-Review-API-Key"
)

// PR actions that trigger an automatic review.
var reviewedPRActions = map[string]bool{
	"opened":       true,
	"synchronized": true,
	"synchronize":  true,
	"reopened":     true,
}

type giteaRepository struct {
	Name  string `json:"name"`
	Owner struct {
		Login    string `json:"login"`
		Username string `json:"username"`
	} `json:"owner"`
	FullName string `json:"full_name"`
}

func (r *giteaRepository) ownerName() string {
	if r.Owner.Login != "" {
		return r.Owner.Login
	}
	return r.Owner.Username
}

type giteaWebhookPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest *struct {
		Number int `json:"number"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Issue *struct {
		Number      int              `json:"number"`
		PullRequest *json.RawMessage `json:"pull_request"`
	} `json:"issue"`
	Comment *struct {
		Body string `json:"body"`
	} `json:"comment"`
	Repository giteaRepository `json:"repository"`
	Sender     struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// WebhookHandler is the inbound entry point: verify, classify, schedule.
// It answers fast and never runs a review inline.
type WebhookHandler struct {
	cfg        *config.Config
	queue      services.TaskQueue
	repos      *services.RepoRegistry
	deliveries *services.DeliveryLog
}

func NewWebhookHandler(
	cfg *config.Config,
	queue services.TaskQueue,
	repos *services.RepoRegistry,
	deliveries *services.DeliveryLog,
) *WebhookHandler {
	return &WebhookHandler{
		cfg:        cfg,
		queue:      queue,
		repos:      repos,
		deliveries: deliveries,
	}
}

// Handle processes one webhook delivery. Responses: 202 when a review is
// scheduled, 200 when the event is valid but ignored, 401 on a bad
// signature, 400 on a malformed payload.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "unreadable request body")
		return
	}

	event := c.GetHeader(headerEvent)
	audit := &models.WebhookDelivery{
		Event:    event,
		ClientIP: c.ClientIP(),
	}
	defer h.deliveries.Record(audit)

	var payload giteaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		audit.Outcome = services.DeliveryMalformed
		audit.Detail = "invalid JSON payload"
		response.BadRequest(c, "invalid JSON payload")
		return
	}

	owner := payload.Repository.ownerName()
	audit.Action = payload.Action
	audit.Owner = owner
	audit.Repo = payload.Repository.Name

	secret := h.repos.WebhookSecret(owner, payload.Repository.Name, h.cfg.Webhook.Secret)
	if !services.VerifySignature(secret, body, c.GetHeader(headerSignature)) {
		audit.Outcome = services.DeliveryRejected
		audit.Detail = "signature mismatch"
		logger.Warn().
			Str("repo", owner+"/"+payload.Repository.Name).
			Str("ip", c.ClientIP()).
			Msg("webhook signature rejected")
		response.Unauthorized(c, "invalid webhook signature")
		return
	}

	switch event {
	case "pull_request":
		h.handlePullRequest(c, &payload, audit)
	case "issue_comment":
		h.handleIssueComment(c, &payload, audit)
	default:
		audit.Outcome = services.DeliveryIgnored
		audit.Detail = "unhandled event type"
		response.OK(c, "event ignored")
	}
}

func (h *WebhookHandler) handlePullRequest(c *gin.Context, payload *giteaWebhookPayload, audit *models.WebhookDelivery) {
	if payload.PullRequest == nil {
		audit.Outcome = services.DeliveryMalformed
		audit.Detail = "pull_request event without pull request object"
		response.BadRequest(c, "missing pull request payload")
		return
	}
	if !reviewedPRActions[payload.Action] {
		audit.Outcome = services.DeliveryIgnored
		audit.Detail = "action does not trigger review"
		response.OK(c, "action ignored")
		return
	}

	number := payload.PullRequest.Number
	if number == 0 {
		number = payload.Number
	}
	audit.PRNumber = number

	trigger := &services.ReviewTrigger{
		Owner:      payload.Repository.ownerName(),
		Repo:       payload.Repository.Name,
		PRNumber:   number,
		HeadSHA:    payload.PullRequest.Head.SHA,
		Kind:       services.TriggerAutomatic,
		Actor:      payload.Sender.Login,
		Features:   services.ParseFeatureList(c.GetHeader(headerFeatures)),
		FocusAreas: services.ParseFocusList(c.GetHeader(headerFocus)),
		Override:   engineOverrideFromHeaders(c),
	}

	h.schedule(c, trigger, audit)
}

func (h *WebhookHandler) handleIssueComment(c *gin.Context, payload *giteaWebhookPayload, audit *models.WebhookDelivery) {
	if payload.Action != "created" || payload.Comment == nil || payload.Issue == nil {
		audit.Outcome = services.DeliveryIgnored
		audit.Detail = "not a new comment"
		response.OK(c, "comment ignored")
		return
	}
	// Comments on plain issues cannot trigger reviews.
	if payload.Issue.PullRequest == nil {
		audit.Outcome = services.DeliveryIgnored
		audit.Detail = "comment not on a pull request"
		response.OK(c, "comment ignored")
		return
	}

	cmd, ok := services.ParseCommand(payload.Comment.Body, h.cfg.Webhook.BotUsername)
	if !ok {
		audit.Outcome = services.DeliveryIgnored
		audit.Detail = "not a review command"
		response.OK(c, "no command found")
		return
	}

	audit.PRNumber = payload.Issue.Number

	trigger := &services.ReviewTrigger{
		Owner:      payload.Repository.ownerName(),
		Repo:       payload.Repository.Name,
		PRNumber:   payload.Issue.Number,
		Kind:       services.TriggerManual,
		Actor:      payload.Sender.Login,
		Features:   cmd.Features,
		FocusAreas: cmd.FocusAreas,
		Override:   engineOverrideFromHeaders(c),
	}

	h.schedule(c, trigger, audit)
}

func (h *WebhookHandler) schedule(c *gin.Context, trigger *services.ReviewTrigger, audit *models.WebhookDelivery) {
	if err := h.queue.Enqueue(trigger); err != nil {
		audit.Outcome = services.DeliveryMalformed
		audit.Detail = "enqueue failed"
		logger.Error().Err(err).
			Str("repo", trigger.RepoFullName()).
			Int("pr", trigger.PRNumber).
			Msg("review enqueue failed")
		response.ServerError(c, "could not schedule review")
		return
	}

	audit.Outcome = services.DeliveryScheduled
	logger.Info().
		Str("repo", trigger.RepoFullName()).
		Int("pr", trigger.PRNumber).
		Str("kind", trigger.Kind).
		Strs("features", trigger.Features).
		Msg("review scheduled")

	response.Accepted(c, gin.H{
		"repo":      trigger.RepoFullName(),
		"pr_number": trigger.PRNumber,
		"kind":      trigger.Kind,
	})
}

func engineOverrideFromHeaders(c *gin.Context) *services.EngineOverride {
	override := &services.EngineOverride{
		Engine:  strings.TrimSpace(c.GetHeader(headerEngine)),
		Model:   strings.TrimSpace(c.GetHeader(headerModel)),
		BaseURL: strings.TrimSpace(c.GetHeader(headerBaseURL)),
		APIKey:  strings.TrimSpace(c.GetHeader(headerAPIKey)),
	}
	if override.Engine == "" && override.Model == "" && override.BaseURL == "" && override.APIKey == "" {
		return nil
	}
	return override
}

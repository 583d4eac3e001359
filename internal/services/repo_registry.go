package services

import (
	"context"
	"errors"

	"github.com/prsentry/prsentry/internal/hosting"
	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/pkg/logger"
	"gorm.io/gorm"
)

// Webhook events the service subscribes to when registering hooks.
var webhookEvents = []string{"pull_request", "issue_comment"}

// RepoRegistry tracks the repositories this service reviews and their
// webhook registrations.
type RepoRegistry struct {
	db     *gorm.DB
	client hosting.Client
}

func NewRepoRegistry(db *gorm.DB, client hosting.Client) *RepoRegistry {
	return &RepoRegistry{db: db, client: client}
}

// GetOrCreate returns the repository row, creating it on first contact so
// webhook deliveries from unconfigured repositories still get sessions.
func (r *RepoRegistry) GetOrCreate(owner, name string) (*models.Repository, error) {
	var repo models.Repository
	err := r.db.Where("owner = ? AND name = ?", owner, name).First(&repo).Error
	if err == nil {
		return &repo, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	repo = models.Repository{Owner: owner, Name: name, Enabled: true}
	if err := r.db.Create(&repo).Error; err != nil {
		// Lost a create race; the row exists now.
		if lookupErr := r.db.Where("owner = ? AND name = ?", owner, name).First(&repo).Error; lookupErr == nil {
			return &repo, nil
		}
		return nil, err
	}

	logger.Info().Str("repo", repo.FullName()).Msg("repository registered")
	return &repo, nil
}

// Get returns the repository row or nil when unknown.
func (r *RepoRegistry) Get(owner, name string) (*models.Repository, error) {
	var repo models.Repository
	err := r.db.Where("owner = ? AND name = ?", owner, name).First(&repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// WebhookSecret returns the per-repository secret when one is configured,
// otherwise the given global fallback.
func (r *RepoRegistry) WebhookSecret(owner, name, globalSecret string) string {
	repo, err := r.Get(owner, name)
	if err != nil || repo == nil || repo.WebhookSecret == "" {
		return globalSecret
	}
	return repo.WebhookSecret
}

// EnsureWebhook registers the callback URL on the hosting server unless an
// active hook for it already exists.
func (r *RepoRegistry) EnsureWebhook(ctx context.Context, owner, name, callbackURL, secret string) error {
	hooks, err := r.client.ListWebhooks(ctx, owner, name)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		if h.URL == callbackURL && h.Active {
			return nil
		}
	}

	created, err := r.client.CreateWebhook(ctx, owner, name, callbackURL, secret, webhookEvents)
	if err != nil {
		return err
	}
	logger.Info().
		Str("repo", owner+"/"+name).
		Int64("hook_id", created.ID).
		Msg("webhook registered")
	return nil
}

// RemoveWebhook deletes hooks pointing at the callback URL.
func (r *RepoRegistry) RemoveWebhook(ctx context.Context, owner, name, callbackURL string) error {
	hooks, err := r.client.ListWebhooks(ctx, owner, name)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		if h.URL != callbackURL {
			continue
		}
		if err := r.client.DeleteWebhook(ctx, owner, name, h.ID); err != nil {
			return err
		}
	}
	return nil
}

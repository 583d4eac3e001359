// Package repows manages short-lived git checkouts for pull request
// reviews. Each review gets its own directory under the configured work
// root; directories are removed as soon as the review finishes and a
// sweeper reclaims anything a crashed worker left behind.
package repows

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prsentry/prsentry/pkg/logger"
)

// CloneError marks a clone failure the pipeline can recover from by
// degrading to diff-only analysis.
type CloneError struct {
	Repo   string
	Ref    string
	Detail string
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone %s@%s failed: %s", e.Repo, e.Ref, e.Detail)
}

// DiskSpaceError is returned when the work root does not have room for
// another checkout. Unlike CloneError it indicates a host problem, not a
// repository problem.
type DiskSpaceError struct {
	AvailableMB int64
	RequiredMB  int64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space: %dMB available, %dMB required", e.AvailableMB, e.RequiredMB)
}

// Workspace is one materialized checkout.
type Workspace struct {
	RootPath     string
	RepoFullName string
	Ref          string
	CreatedAt    time.Time
}

// Manager owns the work root directory.
type Manager struct {
	workRoot     string
	cloneTimeout time.Duration
	minDiskMB    int64
}

func NewManager(workRoot string, cloneTimeout time.Duration, minDiskMB int64) (*Manager, error) {
	if err := os.MkdirAll(workRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create work root %s: %w", workRoot, err)
	}
	return &Manager{
		workRoot:     workRoot,
		cloneTimeout: cloneTimeout,
		minDiskMB:    minDiskMB,
	}, nil
}

// Acquire shallow-clones the given ref into a fresh directory. The caller
// must Release the workspace when done, including on error paths.
func (m *Manager) Acquire(ctx context.Context, cloneURL, repoFullName, ref string, prNumber int) (*Workspace, error) {
	if err := m.checkDiskSpace(); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.workRoot, workspaceDirName(repoFullName, prNumber))
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("prepare workspace dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cloneTimeout)
	defer cancel()

	// Shallow single-branch clone keeps both transfer size and disk
	// footprint proportional to the PR head, not repository history.
	cmd := exec.CommandContext(ctx, "git", "clone",
		"--depth=1", "--single-branch", "--branch", ref,
		cloneURL, dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(dir)
		detail := strings.TrimSpace(string(output))
		if ctx.Err() == context.DeadlineExceeded {
			detail = fmt.Sprintf("timed out after %s", m.cloneTimeout)
		}
		return nil, &CloneError{
			Repo:   repoFullName,
			Ref:    ref,
			Detail: redactCloneURL(detail, cloneURL),
		}
	}

	logger.Debug().
		Str("repo", repoFullName).
		Str("ref", ref).
		Str("dir", dir).
		Msg("workspace acquired")

	return &Workspace{
		RootPath:     dir,
		RepoFullName: repoFullName,
		Ref:          ref,
		CreatedAt:    time.Now(),
	}, nil
}

// Release removes the workspace directory. Safe to call on a nil workspace
// and idempotent, so defers on every code path are cheap.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil || ws.RootPath == "" {
		return
	}
	// Never remove anything outside the work root.
	if !strings.HasPrefix(filepath.Clean(ws.RootPath), filepath.Clean(m.workRoot)+string(os.PathSeparator)) {
		logger.Warn().Str("dir", ws.RootPath).Msg("refusing to remove directory outside work root")
		return
	}
	if err := os.RemoveAll(ws.RootPath); err != nil {
		logger.Warn().Err(err).Str("dir", ws.RootPath).Msg("workspace cleanup failed")
	}
}

// SweepStale removes workspace directories older than maxAge. It is run on
// a schedule to reclaim checkouts orphaned by crashes or kills.
func (m *Manager) SweepStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.workRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read work root: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(m.workRoot, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("stale workspace removal failed")
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("swept stale workspaces")
	}
	return removed, nil
}

func (m *Manager) checkDiskSpace() error {
	if m.minDiskMB <= 0 {
		return nil
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.workRoot, &stat); err != nil {
		// Statfs failing is not worth blocking reviews over.
		logger.Warn().Err(err).Msg("disk space check failed")
		return nil
	}
	availableMB := int64(stat.Bavail) * stat.Bsize / (1024 * 1024)
	if availableMB < m.minDiskMB {
		return &DiskSpaceError{AvailableMB: availableMB, RequiredMB: m.minDiskMB}
	}
	return nil
}

// workspaceDirName builds a unique directory name. The uuid suffix lets
// concurrent reviews of the same PR coexist.
func workspaceDirName(repoFullName string, prNumber int) string {
	safe := strings.NewReplacer("/", "_", ".", "_").Replace(repoFullName)
	return fmt.Sprintf("%s_pr%d_%s", safe, prNumber, uuid.NewString()[:8])
}

// redactCloneURL strips embedded credentials from git output before it
// reaches logs or session records.
func redactCloneURL(detail, cloneURL string) string {
	u, err := url.Parse(cloneURL)
	if err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			clean := *u
			clean.User = url.User(u.User.Username())
			detail = strings.ReplaceAll(detail, cloneURL, clean.String())
			detail = strings.ReplaceAll(detail, u.User.String(), u.User.Username())
		}
	}
	return detail
}

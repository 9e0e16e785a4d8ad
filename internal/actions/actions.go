// Package actions runs the OS-level collaborators behind user actions:
// opening URLs, checking out branches, copying text.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"mrmonitor/internal/domain"
)

const (
	statusTimeout   = 5 * time.Second
	checkoutTimeout = 10 * time.Second
)

// Runner executes actions against the local machine.
type Runner struct {
	repos  map[string]domain.Repository
	logger *slog.Logger

	// run is swappable in tests.
	run func(ctx context.Context, dir, name string, args ...string) (string, error)
}

// NewRunner creates a runner for the configured repositories.
func NewRunner(repos []domain.Repository, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]domain.Repository, len(repos))
	for _, r := range repos {
		byName[r.Name] = r
	}
	return &Runner{repos: byName, logger: logger, run: runCommand}
}

// OpenURL opens the URL in the default browser.
func (r *Runner) OpenURL(url string) error {
	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	if _, err := r.run(ctx, "", opener, url); err != nil {
		return fmt.Errorf("could not open %s: %w", url, err)
	}
	r.logger.Info("opened url", "url", url)
	return nil
}

// CheckoutBranch checks the branch out in the repository's local clone.
// Refuses when the working tree is dirty; switching branches must never eat
// uncommitted work.
func (r *Runner) CheckoutBranch(repository, branch string) error {
	repo, ok := r.repos[repository]
	if !ok || repo.LocalPath == "" {
		return fmt.Errorf("no local path configured for %s", repository)
	}
	if _, err := os.Stat(repo.LocalPath); err != nil {
		return fmt.Errorf("%s path does not exist: %s", repository, repo.LocalPath)
	}

	statusCtx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	out, err := r.run(statusCtx, repo.LocalPath, "git", "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("git status failed in %s: %w", repository, err)
	}
	if strings.TrimSpace(out) != "" {
		return fmt.Errorf("can't checkout because %s isn't clean", repository)
	}

	checkoutCtx, cancel := context.WithTimeout(context.Background(), checkoutTimeout)
	defer cancel()
	if _, err := r.run(checkoutCtx, repo.LocalPath, "git", "checkout", branch); err != nil {
		return fmt.Errorf("failed to checkout %s in %s: %w", branch, repository, err)
	}
	r.logger.Info("checked out branch", "repo", repository, "branch", branch)
	return nil
}

// Copy puts text on the clipboard using the first available clipboard tool.
func (r *Runner) Copy(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	for _, tool := range clipboardTools() {
		if _, err := exec.LookPath(tool); err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, tool)
		cmd.Stdin = strings.NewReader(text)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s failed: %w", tool, err)
		}
		return nil
	}
	return fmt.Errorf("no clipboard tool available")
}

func clipboardTools() []string {
	if runtime.GOOS == "darwin" {
		return []string{"pbcopy"}
	}
	return []string{"wl-copy", "xclip", "xsel"}
}

func runCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return "", err
		}
		return "", fmt.Errorf("%s: %w", msg, err)
	}
	return string(out), nil
}

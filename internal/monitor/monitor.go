// Package monitor drives the fixed-interval poll cycle: fetch facts per
// repository, aggregate them into snapshots, and hand ready requests to the
// notifier.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mrmonitor/internal/domain"
	"mrmonitor/internal/gitlab"
	"mrmonitor/internal/notify"
	"mrmonitor/internal/status"
)

// CodeHost is the slice of the code-hosting API the monitor needs.
type CodeHost interface {
	OpenMergeRequests(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error)
	PipelineStatus(ctx context.Context, projectID, iid int, sha string) (domain.PipelineStatus, string, error)
	ApprovalState(ctx context.Context, projectID, iid int) (gitlab.Approvals, error)
	ConflictState(ctx context.Context, projectID, iid int) (bool, error)
	UnresolvedThreadCount(ctx context.Context, projectID, iid int) (int, error)
}

// Notifier decides whether a ready request earns a reminder.
type Notifier interface {
	NotifyIfDue(ctx context.Context, snapshot domain.StatusSnapshot, fact domain.MergeRequestFact, today time.Time) notify.Outcome
}

// Config holds the monitor's tuning knobs.
type Config struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Workers        int
	// AuthorID scopes listing to one author's requests; zero means everyone.
	AuthorID int
}

// Monitor owns the poll loop and the published snapshot state. Aggregation,
// ledger checks, and notifications all run on the loop goroutine; workers
// only fetch.
type Monitor struct {
	repos    []domain.Repository
	host     CodeHost
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	stopChan    chan struct{}
	refreshChan chan struct{}
	wg          sync.WaitGroup
	runMu       sync.Mutex
	running     bool

	mu          sync.RWMutex
	byRepo      map[string][]domain.StatusSnapshot
	facts       map[string][]domain.MergeRequestFact
	lastUpdated time.Time
	statusLine  string
	banner      string
}

// New creates a monitor.
// Follows Dependency Injection - accepts dependencies via constructor.
func New(repos []domain.Repository, host CodeHost, notifier Notifier, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Monitor{
		repos:       repos,
		host:        host,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		stopChan:    make(chan struct{}),
		refreshChan: make(chan struct{}, 1),
		byRepo:      make(map[string][]domain.StatusSnapshot),
		facts:       make(map[string][]domain.MergeRequestFact),
		statusLine:  "Initializing...",
	}
}

// Start begins the poll loop. Non-blocking.
func (m *Monitor) Start() {
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return
	}
	m.running = true
	m.runMu.Unlock()

	m.logger.Info("monitor starting", "interval", m.cfg.PollInterval, "repos", len(m.repos))
	m.wg.Add(1)
	go m.loop()
}

// Stop stops the loop cooperatively: an in-flight cycle finishes or times
// out, nothing is killed mid-call.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	m.runMu.Unlock()

	close(m.stopChan)
	m.wg.Wait()
	m.logger.Info("monitor stopped")
}

// RefreshNow requests an immediate cycle without waiting for the ticker.
func (m *Monitor) RefreshNow() {
	select {
	case m.refreshChan <- struct{}{}:
	default: // one is already queued
	}
}

// Snapshots returns the current snapshots ordered by (repository, id).
func (m *Monitor) Snapshots() []domain.StatusSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []domain.StatusSnapshot
	for _, snapshots := range m.byRepo {
		all = append(all, snapshots...)
	}
	status.SortSnapshots(all)
	return all
}

// Status returns the human-readable refresh status for the presentation layer.
func (m *Monitor) Status() domain.RefreshStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.RefreshStatus{
		StatusLine:  m.statusLine,
		LastUpdated: m.lastUpdated,
		Banner:      m.banner,
	}
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stopChan
		cancel()
	}()

	m.runCycle(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCycle(ctx)
		case <-m.refreshChan:
			m.runCycle(ctx)
		case <-m.stopChan:
			return
		}
	}
}

type repoResult struct {
	repo    domain.Repository
	facts   []domain.MergeRequestFact
	err     error
	authErr bool
}

// runCycle fetches every repository through the bounded worker pool, joins
// the results, then aggregates and notifies on this goroutine. A cycle never
// terminates the loop; failures are logged and the next interval proceeds.
func (m *Monitor) runCycle(ctx context.Context) {
	results := make([]repoResult, len(m.repos))
	sem := make(chan struct{}, m.cfg.Workers)
	var wg sync.WaitGroup

	for i, repo := range m.repos {
		wg.Add(1)
		go func(i int, repo domain.Repository) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = repoResult{repo: repo, err: ctx.Err()}
				return
			}
			results[i] = m.fetchRepo(ctx, repo)
		}(i, repo)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	for _, res := range results {
		if res.authErr {
			m.logger.Error("authentication failed, aborting cycle", "repo", res.repo.Name, "error", res.err)
			m.mu.Lock()
			m.banner = "Authentication with the code host failed. Check the token."
			m.mu.Unlock()
			return
		}
	}

	today := m.now()
	total := 0

	m.mu.Lock()
	m.banner = ""
	m.mu.Unlock()

	for _, res := range results {
		if res.err != nil {
			// keep the previous snapshots for this repository visible
			m.logger.Error("repository fetch failed", "repo", res.repo.Name, "error", res.err)
			continue
		}

		snapshots := make([]domain.StatusSnapshot, len(res.facts))
		for i, fact := range res.facts {
			snapshots[i] = status.Aggregate(fact)
		}

		m.mu.Lock()
		m.byRepo[res.repo.Name] = snapshots
		m.facts[res.repo.Name] = res.facts
		m.mu.Unlock()

		for i, snapshot := range snapshots {
			if snapshot.Ready {
				m.notifier.NotifyIfDue(ctx, snapshot, res.facts[i], today)
			}
		}
	}

	m.mu.Lock()
	for _, snapshots := range m.byRepo {
		total += len(snapshots)
	}
	m.lastUpdated = m.now()
	if total == 0 {
		m.statusLine = "No open merge requests"
	} else {
		m.statusLine = fmt.Sprintf("Last updated %s, %d MRs", m.lastUpdated.Format("15:04"), total)
	}
	m.mu.Unlock()
}

// fetchRepo lists a repository's open requests and fetches the four status
// facts for each, every call under its own timeout. A failed fact fetch
// marks only that fact; a 404 on the request drops it as merged/removed.
func (m *Monitor) fetchRepo(ctx context.Context, repo domain.Repository) repoResult {
	res := repoResult{repo: repo}

	facts, err := m.listOpen(ctx, repo)
	if err != nil {
		res.err = err
		res.authErr = domain.IsAuth(err)
		return res
	}

	kept := facts[:0]
	for i := range facts {
		fact := &facts[i]
		if removed := m.fetchFacts(ctx, fact); removed {
			m.logger.Info("merge request gone, dropping", "repo", repo.Name, "mr", fact.ID)
			continue
		}
		if domain.IsAuth(fact.Pipeline.Err) || domain.IsAuth(fact.Approval.Err) ||
			domain.IsAuth(fact.Conflict.Err) || domain.IsAuth(fact.Threads.Err) {
			res.err = fmt.Errorf("auth failure on %s!%d", repo.Name, fact.ID)
			res.authErr = true
			return res
		}
		kept = append(kept, *fact)
	}
	res.facts = kept
	return res
}

func (m *Monitor) listOpen(ctx context.Context, repo domain.Repository) ([]domain.MergeRequestFact, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	return m.host.OpenMergeRequests(callCtx, repo.Name, repo.ProjectID, m.cfg.AuthorID)
}

// fetchFacts populates the four status facts of one request. Returns true
// when the request itself is gone (404) and should be dropped.
func (m *Monitor) fetchFacts(ctx context.Context, fact *domain.MergeRequestFact) bool {
	log := m.logger.With("repo", fact.Repository, "mr", fact.ID)

	m.withTimeout(ctx, func(callCtx context.Context) {
		pipelineStatus, webURL, err := m.host.PipelineStatus(callCtx, fact.ProjectID, fact.ID, fact.SHA)
		fact.Pipeline = domain.PipelineFact{Status: pipelineStatus, WebURL: webURL, Err: err}
	})
	m.withTimeout(ctx, func(callCtx context.Context) {
		approvals, err := m.host.ApprovalState(callCtx, fact.ProjectID, fact.ID)
		fact.Approval = domain.ApprovalFact{State: approvals.State, Err: err}
		if err == nil {
			markApproved(fact.Reviewers, approvals.ApprovedBy)
		}
	})
	m.withTimeout(ctx, func(callCtx context.Context) {
		conflict, err := m.host.ConflictState(callCtx, fact.ProjectID, fact.ID)
		fact.Conflict = domain.ConflictFact{Conflict: conflict, Err: err}
	})
	m.withTimeout(ctx, func(callCtx context.Context) {
		unresolved, err := m.host.UnresolvedThreadCount(callCtx, fact.ProjectID, fact.ID)
		fact.Threads = domain.ThreadsFact{Unresolved: unresolved, Err: err}
	})

	for _, err := range []error{fact.Pipeline.Err, fact.Approval.Err, fact.Conflict.Err, fact.Threads.Err} {
		if err == nil {
			continue
		}
		if domain.IsNotFound(err) {
			return true
		}
		log.Warn("fact fetch degraded", "error", err)
	}
	return false
}

func (m *Monitor) withTimeout(ctx context.Context, fn func(context.Context)) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	fn(callCtx)
}

func markApproved(reviewers []domain.Reviewer, approvedBy []string) {
	approved := make(map[string]bool, len(approvedBy))
	for _, username := range approvedBy {
		approved[username] = true
	}
	for i := range reviewers {
		if approved[reviewers[i].Username] {
			reviewers[i].Approved = true
		}
	}
}

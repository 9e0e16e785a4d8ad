package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrmonitor/internal/domain"
	"mrmonitor/internal/gitlab"
	"mrmonitor/internal/notify"
)

// mockHost is a test double for CodeHost.
type mockHost struct {
	openFunc     func(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error)
	pipelineFunc func(ctx context.Context, projectID, iid int, sha string) (domain.PipelineStatus, string, error)
	approvalFunc func(ctx context.Context, projectID, iid int) (gitlab.Approvals, error)
	conflictFunc func(ctx context.Context, projectID, iid int) (bool, error)
	threadsFunc  func(ctx context.Context, projectID, iid int) (int, error)
}

func (m *mockHost) OpenMergeRequests(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
	if m.openFunc != nil {
		return m.openFunc(ctx, repoName, projectID, authorID)
	}
	return nil, nil
}

func (m *mockHost) PipelineStatus(ctx context.Context, projectID, iid int, sha string) (domain.PipelineStatus, string, error) {
	if m.pipelineFunc != nil {
		return m.pipelineFunc(ctx, projectID, iid, sha)
	}
	return domain.PipelineSuccess, "", nil
}

func (m *mockHost) ApprovalState(ctx context.Context, projectID, iid int) (gitlab.Approvals, error) {
	if m.approvalFunc != nil {
		return m.approvalFunc(ctx, projectID, iid)
	}
	return gitlab.Approvals{}, nil
}

func (m *mockHost) ConflictState(ctx context.Context, projectID, iid int) (bool, error) {
	if m.conflictFunc != nil {
		return m.conflictFunc(ctx, projectID, iid)
	}
	return false, nil
}

func (m *mockHost) UnresolvedThreadCount(ctx context.Context, projectID, iid int) (int, error) {
	if m.threadsFunc != nil {
		return m.threadsFunc(ctx, projectID, iid)
	}
	return 0, nil
}

// recordingNotifier captures which requests were handed to the notifier.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifyIfDue(ctx context.Context, snapshot domain.StatusSnapshot, fact domain.MergeRequestFact, today time.Time) notify.Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fact.Key())
	return notify.OutcomeSent
}

func fact(repo string, id int) domain.MergeRequestFact {
	return domain.MergeRequestFact{Repository: repo, ProjectID: 1, ID: id, SHA: "abc"}
}

func repos(names ...string) []domain.Repository {
	out := make([]domain.Repository, len(names))
	for i, name := range names {
		out[i] = domain.Repository{Name: name, ProjectID: 1}
	}
	return out
}

// TestRunCycle_SnapshotOrdering tests repository/ID display ordering.
// Follows AAA (Arrange, Act, Assert) pattern.
func TestRunCycle_SnapshotOrdering(t *testing.T) {
	// Arrange
	host := &mockHost{
		openFunc: func(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
			if repoName == "alpha" {
				return []domain.MergeRequestFact{fact("alpha", 3), fact("alpha", 1)}, nil
			}
			return []domain.MergeRequestFact{fact("beta", 2)}, nil
		},
	}
	m := New(repos("beta", "alpha"), host, &recordingNotifier{}, Config{}, nil)

	// Act
	m.runCycle(context.Background())
	snapshots := m.Snapshots()

	// Assert
	require.Len(t, snapshots, 3)
	assert.Equal(t, "alpha", snapshots[0].Repository)
	assert.Equal(t, 1, snapshots[0].ID)
	assert.Equal(t, "alpha", snapshots[1].Repository)
	assert.Equal(t, 3, snapshots[1].ID)
	assert.Equal(t, "beta", snapshots[2].Repository)
	assert.Equal(t, 2, snapshots[2].ID)
}

// TestRunCycle_PartialFailureIsolation tests that one failed fact fetch
// degrades one pill of one request, leaving everything else populated.
func TestRunCycle_PartialFailureIsolation(t *testing.T) {
	// Arrange
	host := &mockHost{
		openFunc: func(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
			return []domain.MergeRequestFact{fact("app", 1), fact("app", 2)}, nil
		},
		threadsFunc: func(ctx context.Context, projectID, iid int) (int, error) {
			if iid == 1 {
				return 0, domain.NewAPIError(domain.ErrTransient, "UnresolvedThreadCount", 502, errors.New("bad gateway"))
			}
			return 2, nil
		},
	}
	m := New(repos("app"), host, &recordingNotifier{}, Config{}, nil)

	// Act
	m.runCycle(context.Background())
	snapshots := m.Snapshots()

	// Assert
	require.Len(t, snapshots, 2)
	assert.Contains(t, pillLabels(snapshots[0]), "Threads ?")
	assert.True(t, snapshots[0].Ready, "degraded thread fact must not corrupt readiness")
	assert.Contains(t, pillLabels(snapshots[1]), "2 Threads")
}

// TestRunCycle_FailingRepoKeepsPreviousData tests that one repository's
// failure leaves its last snapshots visible and the other repository fresh.
func TestRunCycle_FailingRepoKeepsPreviousData(t *testing.T) {
	// Arrange
	broken := false
	host := &mockHost{
		openFunc: func(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
			if repoName == "flaky" && broken {
				return nil, domain.NewAPIError(domain.ErrTransient, "OpenMergeRequests", 500, errors.New("boom"))
			}
			if repoName == "flaky" {
				return []domain.MergeRequestFact{fact("flaky", 9)}, nil
			}
			return []domain.MergeRequestFact{fact("steady", 1)}, nil
		},
	}
	m := New(repos("flaky", "steady"), host, &recordingNotifier{}, Config{}, nil)
	m.runCycle(context.Background())
	require.Len(t, m.Snapshots(), 2)

	// Act
	broken = true
	m.runCycle(context.Background())
	snapshots := m.Snapshots()

	// Assert
	require.Len(t, snapshots, 2, "flaky repo's previous data must stay visible")
	assert.Empty(t, m.Status().Banner)
}

// TestRunCycle_AuthErrorAbortsCycle tests the auth banner and that previous
// snapshots survive the aborted cycle.
func TestRunCycle_AuthErrorAbortsCycle(t *testing.T) {
	// Arrange
	authFail := false
	notifier := &recordingNotifier{}
	host := &mockHost{
		openFunc: func(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
			if authFail {
				return nil, domain.NewAPIError(domain.ErrAuth, "OpenMergeRequests", 401, errors.New("unauthorized"))
			}
			return []domain.MergeRequestFact{fact("app", 1)}, nil
		},
	}
	m := New(repos("app"), host, notifier, Config{}, nil)
	m.runCycle(context.Background())
	notified := len(notifier.calls)

	// Act
	authFail = true
	m.runCycle(context.Background())

	// Assert
	assert.NotEmpty(t, m.Status().Banner)
	assert.Len(t, m.Snapshots(), 1, "previous snapshots remain after an aborted cycle")
	assert.Len(t, notifier.calls, notified, "no notifications during an aborted cycle")
}

// TestRunCycle_NotFoundDropsRequest tests that a 404 on a fact removes the
// request from the snapshot list.
func TestRunCycle_NotFoundDropsRequest(t *testing.T) {
	// Arrange
	host := &mockHost{
		openFunc: func(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
			return []domain.MergeRequestFact{fact("app", 1), fact("app", 2)}, nil
		},
		conflictFunc: func(ctx context.Context, projectID, iid int) (bool, error) {
			if iid == 1 {
				return false, domain.NewAPIError(domain.ErrNotFound, "ConflictState", 404, errors.New("merged"))
			}
			return false, nil
		},
	}
	m := New(repos("app"), host, &recordingNotifier{}, Config{}, nil)

	// Act
	m.runCycle(context.Background())
	snapshots := m.Snapshots()

	// Assert
	require.Len(t, snapshots, 1)
	assert.Equal(t, 2, snapshots[0].ID)
}

// TestRunCycle_NotifiesOnlyReadyRequests tests notifier gating.
func TestRunCycle_NotifiesOnlyReadyRequests(t *testing.T) {
	// Arrange
	notifier := &recordingNotifier{}
	host := &mockHost{
		openFunc: func(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
			return []domain.MergeRequestFact{fact("app", 1), fact("app", 2)}, nil
		},
		pipelineFunc: func(ctx context.Context, projectID, iid int, sha string) (domain.PipelineStatus, string, error) {
			if iid == 1 {
				return domain.PipelineFailed, "", nil
			}
			return domain.PipelineSuccess, "", nil
		},
	}
	m := New(repos("app"), host, notifier, Config{}, nil)

	// Act
	m.runCycle(context.Background())

	// Assert
	assert.Equal(t, []string{"app!2"}, notifier.calls)
}

// TestRunCycle_MarksApprovedReviewers tests that approved_by usernames flip
// the reviewer approval flags used for recipient selection.
func TestRunCycle_MarksApprovedReviewers(t *testing.T) {
	// Arrange
	var captured domain.MergeRequestFact
	notifier := &captureNotifier{target: &captured}
	host := &mockHost{
		openFunc: func(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
			f := fact("app", 1)
			f.Reviewers = []domain.Reviewer{
				{Name: "Bo", Username: "bo"},
				{Name: "Ana", Username: "ana"},
			}
			return []domain.MergeRequestFact{f}, nil
		},
		approvalFunc: func(ctx context.Context, projectID, iid int) (gitlab.Approvals, error) {
			return gitlab.Approvals{ApprovedBy: []string{"bo"}}, nil
		},
	}
	m := New(repos("app"), host, notifier, Config{}, nil)

	// Act
	m.runCycle(context.Background())

	// Assert
	require.Len(t, captured.Reviewers, 2)
	assert.True(t, captured.Reviewers[0].Approved)
	assert.False(t, captured.Reviewers[1].Approved)
}

// TestRunCycle_StatusLine tests the presentation status line.
func TestRunCycle_StatusLine(t *testing.T) {
	// Arrange
	host := &mockHost{
		openFunc: func(ctx context.Context, repoName string, projectID, authorID int) ([]domain.MergeRequestFact, error) {
			return []domain.MergeRequestFact{fact("app", 1), fact("app", 2)}, nil
		},
	}
	m := New(repos("app"), host, &recordingNotifier{}, Config{}, nil)
	m.now = func() time.Time { return time.Date(2026, 8, 29, 14, 5, 0, 0, time.Local) }

	// Act
	m.runCycle(context.Background())

	// Assert
	assert.Equal(t, "Last updated 14:05, 2 MRs", m.Status().StatusLine)

	// And with nothing open
	empty := New(repos("app"), &mockHost{}, &recordingNotifier{}, Config{}, nil)
	empty.runCycle(context.Background())
	assert.Equal(t, "No open merge requests", empty.Status().StatusLine)
}

// TestStartStop tests cooperative shutdown.
func TestStartStop(t *testing.T) {
	// Arrange
	host := &mockHost{}
	m := New(repos("app"), host, &recordingNotifier{}, Config{PollInterval: time.Hour}, nil)

	// Act
	m.Start()
	m.Start() // second call is a no-op
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	// Assert
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

type captureNotifier struct {
	target *domain.MergeRequestFact
}

func (n *captureNotifier) NotifyIfDue(ctx context.Context, snapshot domain.StatusSnapshot, fact domain.MergeRequestFact, today time.Time) notify.Outcome {
	*n.target = fact
	return notify.OutcomeSkipped
}

func pillLabels(s domain.StatusSnapshot) []string {
	out := make([]string, len(s.Pills))
	for i, p := range s.Pills {
		out[i] = p.Label
	}
	return out
}

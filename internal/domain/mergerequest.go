package domain

import "fmt"

// PipelineStatus represents the state of the pipeline attached to a merge request.
type PipelineStatus string

const (
	PipelineSuccess   PipelineStatus = "success"
	PipelineFailed    PipelineStatus = "failed"
	PipelineRunning   PipelineStatus = "running"
	PipelinePending   PipelineStatus = "pending"
	PipelineCancelled PipelineStatus = "cancelled"
	PipelineSkipped   PipelineStatus = "skipped"
	PipelineNone      PipelineStatus = "none"
)

// InProgress returns true while the pipeline has not reached a final state.
func (s PipelineStatus) InProgress() bool {
	return s == PipelineRunning || s == PipelinePending
}

// Reviewer is a person assigned to review a merge request.
type Reviewer struct {
	Name     string
	Username string
	Approved bool
}

// ApprovalState summarizes the approval rules left on a merge request.
// Coverage-Check is a dedicated approval rule tracked separately so an
// otherwise-approved request can still surface the pending coverage review.
type ApprovalState struct {
	ApprovedByAll          bool
	ApprovedExceptCoverage bool
	NeedsCoverageCheck     bool
}

// PipelineFact is the pipeline status fact with its own failure marker.
type PipelineFact struct {
	Status PipelineStatus
	WebURL string
	Err    error
}

// ApprovalFact is the approval state fact with its own failure marker.
type ApprovalFact struct {
	State ApprovalState
	Err   error
}

// ConflictFact is the merge-conflict fact with its own failure marker.
type ConflictFact struct {
	Conflict bool
	Err      error
}

// ThreadsFact is the unresolved-discussion count fact with its own failure marker.
type ThreadsFact struct {
	Unresolved int
	Err        error
}

// MergeRequestFact is the raw per-request data pulled from the code host
// during one poll cycle. It carries one independently fetched result per
// status fact: a failed fetch marks only that fact, never the whole request.
// Facts are replaced wholesale every cycle; no identity persists across cycles.
type MergeRequestFact struct {
	Repository   string
	ProjectID    int
	ID           int
	Title        string
	Author       string
	SourceBranch string
	TargetBranch string
	WebURL       string
	SHA          string
	Labels       []string
	Reviewers    []Reviewer

	Pipeline PipelineFact
	Approval ApprovalFact
	Conflict ConflictFact
	Threads  ThreadsFact
}

// Key returns the composite identity used by the notification ledger.
func (f MergeRequestFact) Key() string {
	return Key(f.Repository, f.ID)
}

// Key builds the composite "repository!id" identity for a merge request.
func Key(repository string, id int) string {
	return fmt.Sprintf("%s!%d", repository, id)
}

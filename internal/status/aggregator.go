// Package status derives display snapshots from raw merge request facts.
package status

import (
	"fmt"
	"sort"

	"mrmonitor/internal/domain"
)

// Pill colors (Material palette, same values the desktop client renders).
const (
	colorRed     = "#F44336"
	colorBlue    = "#2196F3"
	colorOrange  = "#FF9800"
	colorGrey    = "#9E9E9E"
	colorBrown   = "#795548"
	colorPurple  = "#9C27B0"
	colorGreen   = "#4CAF50"
	colorAmber   = "#FFC107"
	colorCyan    = "#00BCD4"
	colorUnknown = "#607D8B"
)

const maxTitleRunes = 50

// pipelineRule maps one pipeline status to its pill. Rules are evaluated
// top to bottom; the first match wins, which makes the priority order
// auditable in one place.
type pipelineRule struct {
	matches func(domain.PipelineStatus) bool
	label   string
	color   string
	withURL bool
}

var pipelineRules = []pipelineRule{
	{matches: is(domain.PipelineFailed), label: "Pipeline Failed", color: colorRed, withURL: true},
	{matches: domain.PipelineStatus.InProgress, label: "Running", color: colorBlue, withURL: true},
	{matches: is(domain.PipelineCancelled), label: "Cancelled", color: colorOrange, withURL: true},
	{matches: is(domain.PipelineSkipped), label: "Skipped", color: colorGrey, withURL: true},
	{matches: is(domain.PipelineNone), label: "No Pipeline", color: colorBrown},
}

func is(want domain.PipelineStatus) func(domain.PipelineStatus) bool {
	return func(got domain.PipelineStatus) bool { return got == want }
}

// Aggregate combines the independently fetched facts of one merge request
// into an immutable status snapshot. A fact that failed to fetch degrades to
// an unknown pill for that fact only; the rest of the snapshot stays intact.
func Aggregate(fact domain.MergeRequestFact) domain.StatusSnapshot {
	snapshot := domain.StatusSnapshot{
		Repository:  fact.Repository,
		ID:          fact.ID,
		Title:       truncate(fact.Title),
		Branch:      fact.SourceBranch,
		WebURL:      fact.WebURL,
		PipelineURL: fact.Pipeline.WebURL,
		Ready:       ready(fact),
	}

	snapshot.Pills = append(snapshot.Pills, pipelinePill(fact.Pipeline)...)
	snapshot.Pills = append(snapshot.Pills, conflictPill(fact.Conflict)...)
	snapshot.Pills = append(snapshot.Pills, threadsPill(fact.Threads)...)
	snapshot.Pills = append(snapshot.Pills, approvalPills(fact.Approval)...)
	return snapshot
}

// ready means the pipeline succeeded and the request merges cleanly. An
// unknown pipeline or conflict fact is never ready. Threads and approvals do
// not gate readiness; they only shape the recipient set.
func ready(fact domain.MergeRequestFact) bool {
	if fact.Pipeline.Err != nil || fact.Conflict.Err != nil {
		return false
	}
	return fact.Pipeline.Status == domain.PipelineSuccess && !fact.Conflict.Conflict
}

func pipelinePill(fact domain.PipelineFact) []domain.Pill {
	if fact.Err != nil {
		return []domain.Pill{{Label: "Pipeline ?", Color: colorUnknown}}
	}
	for _, rule := range pipelineRules {
		if rule.matches(fact.Status) {
			pill := domain.Pill{Label: rule.label, Color: rule.color}
			if rule.withURL {
				pill.URL = fact.WebURL
			}
			return []domain.Pill{pill}
		}
	}
	// success carries no pipeline pill; readiness says it all
	return nil
}

func conflictPill(fact domain.ConflictFact) []domain.Pill {
	if fact.Err != nil {
		return []domain.Pill{{Label: "Merge ?", Color: colorUnknown}}
	}
	if fact.Conflict {
		return []domain.Pill{{Label: "Conflict", Color: colorOrange}}
	}
	return nil
}

func threadsPill(fact domain.ThreadsFact) []domain.Pill {
	if fact.Err != nil {
		return []domain.Pill{{Label: "Threads ?", Color: colorUnknown}}
	}
	if fact.Unresolved == 0 {
		return nil
	}
	label := fmt.Sprintf("%d Threads", fact.Unresolved)
	if fact.Unresolved == 1 {
		label = "1 Thread"
	}
	return []domain.Pill{{Label: label, Color: colorPurple}}
}

func approvalPills(fact domain.ApprovalFact) []domain.Pill {
	if fact.Err != nil {
		return []domain.Pill{{Label: "Approvals ?", Color: colorUnknown}}
	}

	switch {
	case fact.State.ApprovedByAll:
		return []domain.Pill{{Label: "Approved", Color: colorGreen}}
	case fact.State.ApprovedExceptCoverage:
		pills := []domain.Pill{{Label: "Approved", Color: colorGreen}}
		if fact.State.NeedsCoverageCheck {
			pills = append(pills, domain.Pill{Label: "Coverage", Color: colorCyan})
		}
		return pills
	case fact.State.NeedsCoverageCheck:
		return []domain.Pill{
			{Label: "Needs Approval", Color: colorAmber},
			{Label: "Coverage", Color: colorCyan},
		}
	default:
		return []domain.Pill{{Label: "Needs Approval", Color: colorAmber}}
	}
}

// SortSnapshots orders snapshots by repository name, then request ID.
// Stable display order across poll cycles.
func SortSnapshots(snapshots []domain.StatusSnapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		if snapshots[i].Repository != snapshots[j].Repository {
			return snapshots[i].Repository < snapshots[j].Repository
		}
		return snapshots[i].ID < snapshots[j].ID
	})
}

func truncate(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	return string(runes[:maxTitleRunes]) + "..."
}

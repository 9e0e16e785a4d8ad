package gitlab

import "mrmonitor/internal/domain"

// GitLab API response types
type glUserRef struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type glMergeRequest struct {
	IID                 int         `json:"iid"`
	Title               string      `json:"title"`
	WebURL              string      `json:"web_url"`
	SHA                 string      `json:"sha"`
	SourceBranch        string      `json:"source_branch"`
	TargetBranch        string      `json:"target_branch"`
	Labels              []string    `json:"labels"`
	Author              glUserRef   `json:"author"`
	Reviewers           []glUserRef `json:"reviewers"`
	MergeStatus         string      `json:"merge_status"`
	DetailedMergeStatus string      `json:"detailed_merge_status"`
	HasConflicts        bool        `json:"has_conflicts"`
	HeadPipeline        *struct {
		ID int `json:"id"`
	} `json:"head_pipeline"`
}

type glPipeline struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	WebURL string `json:"web_url"`
}

type glApprovals struct {
	Approved          bool `json:"approved"`
	ApprovalRulesLeft []struct {
		Name string `json:"name"`
	} `json:"approval_rules_left"`
	ApprovedBy []struct {
		User glUserRef `json:"user"`
	} `json:"approved_by"`
}

type glDiscussion struct {
	Notes []struct {
		Resolved *bool `json:"resolved"`
	} `json:"notes"`
}

// convertMergeRequest converts a GitLab merge request to the domain fact,
// identity fields only.
func convertMergeRequest(repoName string, projectID int, mr glMergeRequest) domain.MergeRequestFact {
	reviewers := make([]domain.Reviewer, len(mr.Reviewers))
	for i, r := range mr.Reviewers {
		reviewers[i] = domain.Reviewer{Name: r.Name, Username: r.Username}
	}
	return domain.MergeRequestFact{
		Repository:   repoName,
		ProjectID:    projectID,
		ID:           mr.IID,
		Title:        mr.Title,
		Author:       mr.Author.Name,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		WebURL:       mr.WebURL,
		SHA:          mr.SHA,
		Labels:       mr.Labels,
		Reviewers:    reviewers,
	}
}

// convertPipelineStatus converts a GitLab status to the domain enum.
func convertPipelineStatus(glStatus string) domain.PipelineStatus {
	switch glStatus {
	case "success":
		return domain.PipelineSuccess
	case "failed":
		return domain.PipelineFailed
	case "running":
		return domain.PipelineRunning
	case "pending", "created", "waiting_for_resource", "preparing":
		return domain.PipelinePending
	case "canceled", "cancelled":
		return domain.PipelineCancelled
	case "skipped", "manual":
		return domain.PipelineSkipped
	case "":
		return domain.PipelineNone
	default:
		return domain.PipelineStatus(glStatus)
	}
}

package domain

import "time"

// Pill is a small colored badge summarizing one status fact.
type Pill struct {
	Label string `json:"label"`
	Color string `json:"color"`
	URL   string `json:"url,omitempty"`
}

// StatusSnapshot is the derived, immutable view of a merge request for one
// poll cycle. Owned by the aggregator; consumed read-only by the
// presentation layer and the notifier.
type StatusSnapshot struct {
	Repository  string `json:"repository"`
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Branch      string `json:"branch"`
	WebURL      string `json:"web_url"`
	PipelineURL string `json:"pipeline_url,omitempty"`
	Pills       []Pill `json:"pills"`

	// Ready means the pipeline succeeded and the request merges cleanly.
	// Approvals and open threads affect who gets notified, not readiness.
	Ready bool `json:"ready"`
}

// RefreshStatus is what the presentation layer pulls alongside snapshots.
type RefreshStatus struct {
	StatusLine  string    `json:"status_line"`
	LastUpdated time.Time `json:"last_updated"`
	Banner      string    `json:"banner,omitempty"`
}

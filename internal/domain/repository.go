package domain

// Repository is a monitored GitLab repository.
// Configured externally; immutable for the process lifetime.
type Repository struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	LocalPath string `json:"local_path,omitempty"`

	// Resolved at startup from URL.
	Owner     string `json:"-"`
	Project   string `json:"-"`
	ProjectID int    `json:"-"`
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mrmonitor/internal/domain"
)

// Settings holds application configuration.
// Follows Single Responsibility - only holds configuration data.
// Tokens are NOT configured here; they come from the environment loader in
// the composition root.
type Settings struct {
	PollIntervalSeconds   int `yaml:"poll_interval_seconds"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	Workers               int `yaml:"workers"`

	GitLabURL string `yaml:"gitlab_url"`
	SlackURL  string `yaml:"slack_url"`

	Channel           string   `yaml:"channel"`
	CoverageReviewers []string `yaml:"coverage_reviewers"`

	LedgerPath      string `yaml:"ledger_path"`
	PersonCachePath string `yaml:"person_cache_path"`

	ListenAddr       string `yaml:"listen_addr"`
	RepositoriesFile string `yaml:"repositories_file"`

	// AllAuthors lifts the default scoping to the authenticated user's own
	// merge requests.
	AllAuthors bool `yaml:"all_authors"`
}

// LoadSettings reads the YAML settings file. A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	s := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	applyDefaults(s)
	return s, nil
}

func defaults() *Settings {
	s := &Settings{}
	applyDefaults(s)
	return s
}

func applyDefaults(s *Settings) {
	if s.PollIntervalSeconds <= 0 {
		s.PollIntervalSeconds = 30
	}
	if s.RequestTimeoutSeconds <= 0 {
		s.RequestTimeoutSeconds = 30
	}
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.GitLabURL == "" {
		s.GitLabURL = getEnvOrDefault("GITLAB_URL", "https://gitlab.com")
	}
	if s.SlackURL == "" {
		s.SlackURL = "https://slack.com"
	}
	if s.Channel == "" {
		s.Channel = "#merge-requests"
	}
	if s.LedgerPath == "" {
		s.LedgerPath = "state/notified.json"
	}
	if s.PersonCachePath == "" {
		s.PersonCachePath = "state/person_translations.json"
	}
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.RepositoriesFile == "" {
		s.RepositoriesFile = "repositories.json"
	}
}

// PollInterval returns the poll interval as a duration.
func (s *Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// RequestTimeout returns the per-call timeout as a duration.
func (s *Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

type repositoriesFile struct {
	Repositories []domain.Repository `json:"repositories"`
}

// LoadRepositories reads the JSON repository list and resolves owner/project
// from each remote URL. Entries with unrecognized URLs are rejected so a typo
// fails loudly at startup instead of silently dropping a repository.
func LoadRepositories(path string) ([]domain.Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read repositories: %w", err)
	}

	var file repositoriesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse repositories: %w", err)
	}

	for i := range file.Repositories {
		repo := &file.Repositories[i]
		owner, project, err := ParseGitLabURL(repo.URL)
		if err != nil {
			return nil, fmt.Errorf("repository %q: %w", repo.Name, err)
		}
		repo.Owner = owner
		repo.Project = project
		repo.LocalPath = ExpandHome(repo.LocalPath)
	}
	return file.Repositories, nil
}

var (
	sshRemote   = regexp.MustCompile(`^git@([^:]+):([^/]+)/(.+?)(\.git)?$`)
	httpsRemote = regexp.MustCompile(`^https://([^/]+)/([^/]+)/(.+?)(\.git)?$`)
)

// ParseGitLabURL extracts owner and project name from a GitLab remote URL,
// accepting both SSH and HTTPS forms.
func ParseGitLabURL(remote string) (owner, project string, err error) {
	if m := sshRemote.FindStringSubmatch(remote); m != nil {
		return m[2], m[3], nil
	}
	if m := httpsRemote.FindStringSubmatch(remote); m != nil {
		return m[2], m[3], nil
	}
	return "", "", fmt.Errorf("unrecognized remote URL %q", remote)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

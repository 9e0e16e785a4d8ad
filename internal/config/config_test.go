package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadSettings_MissingFile tests that defaults apply without a file.
// Follows AAA (Arrange, Act, Assert) pattern.
func TestLoadSettings_MissingFile(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "settings.yaml")

	// Act
	s, err := LoadSettings(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 30, s.PollIntervalSeconds)
	assert.Equal(t, 4, s.Workers)
	assert.Equal(t, "https://gitlab.com", s.GitLabURL)
	assert.Equal(t, ":8080", s.ListenAddr)
}

// TestLoadSettings_File tests YAML parsing with partial overrides.
func TestLoadSettings_File(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
poll_interval_seconds: 60
channel: "#squad-pr"
coverage_reviewers: [cara, dev]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// Act
	s, err := LoadSettings(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 60, s.PollIntervalSeconds)
	assert.Equal(t, "#squad-pr", s.Channel)
	assert.Equal(t, []string{"cara", "dev"}, s.CoverageReviewers)
	// untouched fields keep their defaults
	assert.Equal(t, 30, s.RequestTimeoutSeconds)
}

// TestLoadSettings_Invalid tests that broken YAML is an error.
func TestLoadSettings_Invalid(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [nope"), 0o644))

	// Act
	_, err := LoadSettings(path)

	// Assert
	assert.Error(t, err)
}

// TestLoadRepositories tests JSON parsing and URL resolution.
func TestLoadRepositories(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "repositories.json")
	content := `{"repositories": [
		{"name": "app", "url": "git@gitlab.com:acme/app.git", "local_path": "/work/app"},
		{"name": "web", "url": "https://gitlab.com/acme/webapp"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// Act
	repos, err := LoadRepositories(path)

	// Assert
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "acme", repos[0].Owner)
	assert.Equal(t, "app", repos[0].Project)
	assert.Equal(t, "/work/app", repos[0].LocalPath)
	assert.Equal(t, "webapp", repos[1].Project)
}

// TestLoadRepositories_BadURL tests that a typo fails loudly at startup.
func TestLoadRepositories_BadURL(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "repositories.json")
	content := `{"repositories": [{"name": "app", "url": "ftp://white.noise"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// Act
	_, err := LoadRepositories(path)

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app")
}

// TestParseGitLabURL tests SSH and HTTPS remote forms.
func TestParseGitLabURL(t *testing.T) {
	tests := []struct {
		remote  string
		owner   string
		project string
		wantErr bool
	}{
		{"git@gitlab.com:acme/app.git", "acme", "app", false},
		{"git@gitlab.com:acme/app", "acme", "app", false},
		{"https://gitlab.com/acme/app.git", "acme", "app", false},
		{"https://gitlab.com/acme/app", "acme", "app", false},
		{"not-a-remote", "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.remote, func(t *testing.T) {
			owner, project, err := ParseGitLabURL(tc.remote)

			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.owner, owner)
			assert.Equal(t, tc.project, project)
		})
	}
}

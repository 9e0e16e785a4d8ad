package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrmonitor/internal/domain"
)

type call struct {
	dir  string
	name string
	args []string
}

func fakeRun(t *testing.T, calls *[]call, outputs map[string]string, fail map[string]error) func(ctx context.Context, dir, name string, args ...string) (string, error) {
	t.Helper()
	return func(ctx context.Context, dir, name string, args ...string) (string, error) {
		*calls = append(*calls, call{dir: dir, name: name, args: args})
		key := name
		if len(args) > 0 {
			key += " " + args[0]
		}
		if err, ok := fail[key]; ok {
			return "", err
		}
		return outputs[key], nil
	}
}

func newTestRunner(t *testing.T, calls *[]call, outputs map[string]string, fail map[string]error) *Runner {
	t.Helper()
	repo := domain.Repository{Name: "app", LocalPath: t.TempDir()}
	r := NewRunner([]domain.Repository{repo}, nil)
	r.run = fakeRun(t, calls, outputs, fail)
	return r
}

// TestCheckoutBranch_CleanTree tests the status-then-checkout sequence.
// Follows AAA (Arrange, Act, Assert) pattern.
func TestCheckoutBranch_CleanTree(t *testing.T) {
	// Arrange
	var calls []call
	r := newTestRunner(t, &calls, map[string]string{"git status": ""}, nil)

	// Act
	err := r.CheckoutBranch("app", "feature/widget")

	// Assert
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"status", "--porcelain"}, calls[0].args)
	assert.Equal(t, []string{"checkout", "feature/widget"}, calls[1].args)
}

// TestCheckoutBranch_DirtyTree tests that a dirty tree blocks checkout.
func TestCheckoutBranch_DirtyTree(t *testing.T) {
	// Arrange
	var calls []call
	r := newTestRunner(t, &calls, map[string]string{"git status": " M main.go\n"}, nil)

	// Act
	err := r.CheckoutBranch("app", "feature/widget")

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "isn't clean")
	assert.Len(t, calls, 1, "checkout must not run on a dirty tree")
}

// TestCheckoutBranch_NoLocalPath tests the unconfigured-repository error.
func TestCheckoutBranch_NoLocalPath(t *testing.T) {
	// Arrange
	var calls []call
	r := newTestRunner(t, &calls, nil, nil)

	// Act
	err := r.CheckoutBranch("unknown", "main")

	// Assert
	assert.Error(t, err)
	assert.Empty(t, calls)
}

// TestCheckoutBranch_GitFailure tests error propagation from git itself.
func TestCheckoutBranch_GitFailure(t *testing.T) {
	// Arrange
	var calls []call
	r := newTestRunner(t, &calls, map[string]string{"git status": ""},
		map[string]error{"git checkout": errors.New("pathspec did not match")})

	// Act
	err := r.CheckoutBranch("app", "gone-branch")

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone-branch")
}

// TestOpenURL tests opener invocation.
func TestOpenURL(t *testing.T) {
	// Arrange
	var calls []call
	r := newTestRunner(t, &calls, nil, nil)

	// Act
	err := r.OpenURL("https://gitlab.com/acme/app/-/merge_requests/42")

	// Assert
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"https://gitlab.com/acme/app/-/merge_requests/42"}, calls[0].args)
}

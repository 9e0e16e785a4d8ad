package dashboard

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrmonitor/internal/domain"
)

// mockMonitor is a test double for Monitor.
type mockMonitor struct {
	snapshots []domain.StatusSnapshot
	status    domain.RefreshStatus
	refreshed bool
}

func (m *mockMonitor) Snapshots() []domain.StatusSnapshot { return m.snapshots }
func (m *mockMonitor) Status() domain.RefreshStatus       { return m.status }
func (m *mockMonitor) RefreshNow()                        { m.refreshed = true }

// mockActions is a test double for ActionRunner.
type mockActions struct {
	opened   string
	checkout [2]string
	copied   string
	err      error
}

func (m *mockActions) OpenURL(url string) error { m.opened = url; return m.err }
func (m *mockActions) CheckoutBranch(repository, branch string) error {
	m.checkout = [2]string{repository, branch}
	return m.err
}
func (m *mockActions) Copy(text string) error { m.copied = text; return m.err }

// TestStatus tests the pull boundary payload.
// Follows AAA (Arrange, Act, Assert) pattern.
func TestStatus(t *testing.T) {
	// Arrange
	monitor := &mockMonitor{
		snapshots: []domain.StatusSnapshot{{Repository: "app", ID: 42, Ready: true}},
		status: domain.RefreshStatus{
			StatusLine:  "Last updated 14:05, 1 MRs",
			LastUpdated: time.Date(2026, 8, 29, 14, 5, 0, 0, time.UTC),
		},
	}
	h := NewHandler(monitor, &mockActions{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()

	// Act
	h.Router().ServeHTTP(rec, req)

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"status_line":"Last updated 14:05, 1 MRs"`)
	assert.Contains(t, body, `"repository":"app"`)
	assert.Contains(t, body, `"ready":true`)
}

// TestStatus_EmptySnapshots tests that the list renders as [] rather than null.
func TestStatus_EmptySnapshots(t *testing.T) {
	// Arrange
	h := NewHandler(&mockMonitor{}, &mockActions{}, nil)
	rec := httptest.NewRecorder()

	// Act
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	// Assert
	assert.Contains(t, rec.Body.String(), `"snapshots":[]`)
}

// TestRefresh tests the on-demand refresh trigger.
func TestRefresh(t *testing.T) {
	// Arrange
	monitor := &mockMonitor{}
	h := NewHandler(monitor, &mockActions{}, nil)
	rec := httptest.NewRecorder()

	// Act
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))

	// Assert
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, monitor.refreshed)
}

// TestCheckout tests action forwarding and error mapping.
func TestCheckout(t *testing.T) {
	// Arrange
	actions := &mockActions{}
	h := NewHandler(&mockMonitor{}, actions, nil)
	body := strings.NewReader(`{"repository": "app", "branch": "feature/widget"}`)
	rec := httptest.NewRecorder()

	// Act
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/actions/checkout", body))

	// Assert
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, [2]string{"app", "feature/widget"}, actions.checkout)

	// And a failing checkout surfaces as 409
	actions.err = errors.New("working tree not clean")
	rec = httptest.NewRecorder()
	body = strings.NewReader(`{"repository": "app", "branch": "main"}`)
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/actions/checkout", body))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "working tree not clean")
}

// TestOpenURL_Validation tests the required-field check.
func TestOpenURL_Validation(t *testing.T) {
	// Arrange
	h := NewHandler(&mockMonitor{}, &mockActions{}, nil)
	rec := httptest.NewRecorder()

	// Act
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/actions/open",
		strings.NewReader(`{}`)))

	// Assert
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestHealthz tests liveness.
func TestHealthz(t *testing.T) {
	h := NewHandler(&mockMonitor{}, &mockActions{}, nil)
	rec := httptest.NewRecorder()

	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

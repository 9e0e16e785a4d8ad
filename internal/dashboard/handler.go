// Package dashboard exposes the pull boundary the presentation client polls:
// current snapshots plus a status line, and the action requests it dispatches
// back to OS-level collaborators.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mrmonitor/internal/domain"
)

// Monitor is the slice of the poll loop the handler reads from.
type Monitor interface {
	Snapshots() []domain.StatusSnapshot
	Status() domain.RefreshStatus
	RefreshNow()
}

// ActionRunner forwards user actions to OS-level collaborators.
type ActionRunner interface {
	OpenURL(url string) error
	CheckoutBranch(repository, branch string) error
	Copy(text string) error
}

// Handler serves the presentation boundary over HTTP.
type Handler struct {
	monitor Monitor
	actions ActionRunner
	r       *chi.Mux
	logger  *slog.Logger
}

// NewHandler creates the handler and registers its routes.
func NewHandler(monitor Monitor, actions ActionRunner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{monitor: monitor, actions: actions, r: chi.NewRouter(), logger: logger}
	h.routes()
	return h
}

// Router returns the HTTP handler.
func (h *Handler) Router() http.Handler { return h.r }

func (h *Handler) routes() {
	h.r.Get("/healthz", h.health)
	h.r.Get("/api/status", h.status)
	h.r.Post("/api/refresh", h.refresh)
	h.r.Post("/api/actions/open", h.openURL)
	h.r.Post("/api/actions/checkout", h.checkout)
	h.r.Post("/api/actions/copy", h.copyText)
}

type statusResponse struct {
	domain.RefreshStatus
	Snapshots []domain.StatusSnapshot `json:"snapshots"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	snapshots := h.monitor.Snapshots()
	if snapshots == nil {
		snapshots = []domain.StatusSnapshot{}
	}
	h.writeJSON(w, statusResponse{
		RefreshStatus: h.monitor.Status(),
		Snapshots:     snapshots,
	}, http.StatusOK)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	h.monitor.RefreshNow()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) openURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		h.writeError(w, "url is required", http.StatusBadRequest)
		return
	}
	if err := h.actions.OpenURL(req.URL); err != nil {
		h.logger.Error("open url failed", "url", req.URL, "error", err)
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Repository string `json:"repository"`
		Branch     string `json:"branch"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Repository == "" || req.Branch == "" {
		h.writeError(w, "repository and branch are required", http.StatusBadRequest)
		return
	}
	if err := h.actions.CheckoutBranch(req.Repository, req.Branch); err != nil {
		h.logger.Error("checkout failed", "repo", req.Repository, "branch", req.Branch, "error", err)
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) copyText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.actions.Copy(req.Text); err != nil {
		h.logger.Error("copy failed", "error", err)
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, map[string]string{"error": message}, code)
}

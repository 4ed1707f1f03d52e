package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/zapito/internal/domain"
)

// AdminStore is the read side used by the operator endpoints.
type AdminStore interface {
	ListStats(ctx context.Context) ([]domain.StatCounter, error)
	ListStaff(ctx context.Context, kind domain.StaffKind) ([]*domain.Staff, error)
	GetSession(ctx context.Context, userID string) (*domain.Session, error)
}

// SessionClearer resets a user's conversation.
type SessionClearer interface {
	ClearState(ctx context.Context, userID string) error
}

// AdminHandler serves /api operator endpoints.
type AdminHandler struct {
	store    AdminStore
	sessions SessionClearer
}

// NewAdminHandler creates the operator handler.
func NewAdminHandler(store AdminStore, sessions SessionClearer) *AdminHandler {
	return &AdminHandler{store: store, sessions: sessions}
}

// RegisterRoutes mounts the /api routes behind mw.
func (h *AdminHandler) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(mw...)
		r.Get("/stats", h.Stats)
		r.Get("/staff", h.Staff)
		r.Get("/sessions/{userID}", h.GetSession)
		r.Delete("/sessions/{userID}", h.ResetSession)
	})
}

// Stats lists the event counters.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ListStats(r.Context())
	if err != nil {
		slog.Error("Failed to list stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list stats")
		return
	}
	if stats == nil {
		stats = []domain.StatCounter{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

// Staff lists both staff pools.
func (h *AdminHandler) Staff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellers, err := h.store.ListStaff(ctx, domain.StaffSeller)
	if err != nil {
		slog.Error("Failed to list sellers", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list staff")
		return
	}
	agents, err := h.store.ListStaff(ctx, domain.StaffSupport)
	if err != nil {
		slog.Error("Failed to list support agents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list staff")
		return
	}
	if sellers == nil {
		sellers = []*domain.Staff{}
	}
	if agents == nil {
		agents = []*domain.Staff{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sellers":        sellers,
		"support_agents": agents,
	})
}

// GetSession returns one user's session.
func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, err := h.store.GetSession(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to get session", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, sess)
}

// ResetSession deletes one user's session.
func (h *AdminHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.sessions.ClearState(r.Context(), userID); err != nil {
		slog.Error("Failed to reset session", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

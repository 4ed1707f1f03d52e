// Package session tracks the per-user conversation state.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/zapito/internal/domain"
	"github.com/ashureev/zapito/internal/shared"
	"github.com/ashureev/zapito/internal/store"
)

// Tracker reads and writes conversation sessions.
type Tracker struct {
	repo   store.Repository
	retry  shared.RetryPolicy
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker creates a session tracker. Pass nil logger for default.
func NewTracker(repo store.Repository, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		repo:   repo,
		retry:  shared.DefaultRetryPolicy,
		now:    time.Now,
		logger: logger.With("component", "session"),
	}
}

// Get returns the user's session, creating it in the default state on first
// contact.
func (t *Tracker) Get(ctx context.Context, userID string) (*domain.Session, error) {
	var session *domain.Session
	err := shared.RetryOnConflict(ctx, t.retry, "get session", func() error {
		s, err := t.repo.GetSession(ctx, userID)
		if err != nil {
			return err
		}
		if s == nil {
			s, err = t.repo.CreateSession(ctx, domain.NewSession(userID, t.now()))
			if err != nil {
				return err
			}
			t.logger.Info("session created", "user_id", userID, "state", s.State)
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", userID, err)
	}
	return session, nil
}

// GetState returns only the current state of the user's session.
func (t *Tracker) GetState(ctx context.Context, userID string) (domain.State, error) {
	s, err := t.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.State, nil
}

// UpdateState upserts the session state. The assigned staff is only replaced
// when staff is non-nil. Last writer wins.
func (t *Tracker) UpdateState(ctx context.Context, userID string, state domain.State, staff *domain.StaffRef) error {
	err := shared.RetryOnConflict(ctx, t.retry, "update session", func() error {
		return t.repo.UpsertSession(ctx, userID, state, staff)
	})
	if err != nil {
		return fmt.Errorf("update session %s: %w", userID, err)
	}
	return nil
}

// CompareAndUpdate writes the new state only if the session has not changed
// since it was read. Returns store.ErrStaleSession otherwise.
func (t *Tracker) CompareAndUpdate(ctx context.Context, current *domain.Session, state domain.State, staff *domain.StaffRef) error {
	err := shared.RetryOnConflict(ctx, t.retry, "compare and update session", func() error {
		return t.repo.CompareAndSwapSession(ctx, current.UserID, current.Version, state, staff)
	})
	if err != nil {
		return fmt.Errorf("update session %s: %w", current.UserID, err)
	}
	return nil
}

// ClearState deletes the session entirely.
func (t *Tracker) ClearState(ctx context.Context, userID string) error {
	err := shared.RetryOnConflict(ctx, t.retry, "clear session", func() error {
		return t.repo.DeleteSession(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("clear session %s: %w", userID, err)
	}
	t.logger.Info("session cleared", "user_id", userID)
	return nil
}

// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/zapito/internal/domain"
)

var (
	// ErrNoStaff is returned by rotation when the pool has no eligible record.
	ErrNoStaff = errors.New("no eligible staff found")

	// ErrStaleSession is returned when a compare-and-swap update loses to a
	// concurrent writer.
	ErrStaleSession = errors.New("session was modified concurrently")
)

// Repository defines the interface for persisting sessions, staff pools,
// stat counters and the outbound message log.
type Repository interface {
	// GetSession retrieves a session by user ID. Returns nil, nil if absent.
	GetSession(ctx context.Context, userID string) (*domain.Session, error)

	// CreateSession inserts a session if none exists and returns the stored row.
	CreateSession(ctx context.Context, session *domain.Session) (*domain.Session, error)

	// UpsertSession sets the state and, when staff is non-nil, the assigned staff.
	UpsertSession(ctx context.Context, userID string, state domain.State, staff *domain.StaffRef) error

	// CompareAndSwapSession updates the session only if its version still
	// equals expectedVersion. A missing row is inserted when expectedVersion is 0.
	CompareAndSwapSession(ctx context.Context, userID string, expectedVersion int64, state domain.State, staff *domain.StaffRef) error

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, userID string) error

	// DeleteIdleSessions removes sessions not updated within idle.
	DeleteIdleSessions(ctx context.Context, idle time.Duration) (int64, error)

	// RotateSeller picks the seller with the fewest assignments, increments
	// its counter and returns the updated record.
	RotateSeller(ctx context.Context) (*domain.Staff, error)

	// RotateSupportAgent does the same for the support pool of one sector.
	RotateSupportAgent(ctx context.Context, sector string) (*domain.Staff, error)

	// UpsertStaff creates or updates a staff record keyed by kind, name and sector.
	UpsertStaff(ctx context.Context, staff *domain.Staff) error

	// ListStaff returns the records of one pool in rotation order.
	ListStaff(ctx context.Context, kind domain.StaffKind) ([]*domain.Staff, error)

	// IncrementStat bumps an event counter, creating it when missing.
	IncrementStat(ctx context.Context, key string) error

	// ListStats returns all counters ordered by key.
	ListStats(ctx context.Context) ([]domain.StatCounter, error)

	// RecordOutbound appends an outbound delivery attempt.
	RecordOutbound(ctx context.Context, msg *domain.OutboundMessage) error

	// CleanupOutbound removes outbound log rows older than the retention window.
	CleanupOutbound(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

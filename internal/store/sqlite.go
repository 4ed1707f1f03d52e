package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/zapito/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY on lock upgrades
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		staff_kind TEXT,
		staff_id INTEGER,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sellers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		link TEXT NOT NULL,
		assignments INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sellers_rotation ON sellers(assignments, id);

	CREATE TABLE IF NOT EXISTS support_agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		sector TEXT NOT NULL,
		link TEXT NOT NULL,
		assignments INTEGER NOT NULL DEFAULT 0,
		UNIQUE(name, sector)
	);
	CREATE INDEX IF NOT EXISTS idx_support_rotation ON support_agents(sector, assignments, id);

	CREATE TABLE IF NOT EXISTS stats (
		key TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS outbound_messages (
		id TEXT PRIMARY KEY,
		recipient TEXT NOT NULL,
		kind TEXT NOT NULL,
		template TEXT,
		status TEXT NOT NULL,
		error TEXT,
		provider_message_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outbound_created ON outbound_messages(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session by user ID.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	query := `
		SELECT user_id, state, staff_kind, staff_id, version, created_at, updated_at
		FROM sessions WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var session domain.Session
	var state string
	var staffKind sql.NullString
	var staffID sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&session.UserID, &state, &staffKind, &staffID, &session.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.State = domain.ParseState(state)
	if staffKind.Valid && staffID.Valid {
		session.Staff = &domain.StaffRef{Kind: domain.StaffKind(staffKind.String), ID: staffID.Int64}
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	return &session, nil
}

// CreateSession inserts the session unless one already exists, then returns
// whatever is stored.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO sessions (user_id, state, version, created_at, updated_at)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT(user_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		session.UserID, string(session.State),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	stored, err := s.GetSession(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("session %s missing after insert", session.UserID)
	}
	return stored, nil
}

func staffArgs(staff *domain.StaffRef) (interface{}, interface{}) {
	if staff == nil {
		return nil, nil
	}
	return string(staff.Kind), staff.ID
}

// UpsertSession sets the state and optionally the assigned staff.
func (s *SQLiteStore) UpsertSession(ctx context.Context, userID string, state domain.State, staff *domain.StaffRef) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO sessions (user_id, state, staff_kind, staff_id, version, created_at, updated_at)
	VALUES (?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		state = excluded.state,
		staff_kind = COALESCE(excluded.staff_kind, sessions.staff_kind),
		staff_id = COALESCE(excluded.staff_id, sessions.staff_id),
		version = sessions.version + 1,
		updated_at = excluded.updated_at`

	kind, id := staffArgs(staff)
	now := time.Now().Unix()

	if _, err := s.db.ExecContext(ctx, query, userID, string(state), kind, id, now, now); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// CompareAndSwapSession updates the session only if its version matches.
func (s *SQLiteStore) CompareAndSwapSession(ctx context.Context, userID string, expectedVersion int64, state domain.State, staff *domain.StaffRef) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	kind, id := staffArgs(staff)
	now := time.Now().Unix()

	var (
		result sql.Result
		err    error
	)
	if expectedVersion == 0 {
		result, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, state, staff_kind, staff_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
			userID, string(state), kind, id, now, now)
	} else {
		result, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = ?,
			staff_kind = COALESCE(?, staff_kind),
			staff_id = COALESCE(?, staff_id),
			version = version + 1,
			updated_at = ?
		WHERE user_id = ? AND version = ?`,
			string(state), kind, id, now, userID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("compare and swap session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("CompareAndSwapSession affected 0 rows", "user_id", userID, "expected_version", expectedVersion)
		return ErrStaleSession
	}
	return nil
}

// DeleteSession removes a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteIdleSessions removes sessions whose last update is older than idle.
func (s *SQLiteStore) DeleteIdleSessions(ctx context.Context, idle time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-idle).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	return result.RowsAffected()
}

// RotateSeller increments and returns the seller with the fewest assignments.
// The pick and the increment are a single statement, so concurrent callers
// never observe the same pre-increment row.
func (s *SQLiteStore) RotateSeller(ctx context.Context) (*domain.Staff, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	UPDATE sellers SET assignments = assignments + 1
	WHERE id = (SELECT id FROM sellers ORDER BY assignments ASC, id ASC LIMIT 1)
	RETURNING id, name, link, assignments`

	staff := domain.Staff{Kind: domain.StaffSeller}
	err := s.db.QueryRowContext(ctx, query).Scan(&staff.ID, &staff.Name, &staff.Link, &staff.Assignments)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rotate seller: %w", ErrNoStaff)
	}
	if err != nil {
		return nil, fmt.Errorf("rotate seller: %w", err)
	}
	return &staff, nil
}

// RotateSupportAgent increments and returns the least-assigned agent of a sector.
func (s *SQLiteStore) RotateSupportAgent(ctx context.Context, sector string) (*domain.Staff, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	UPDATE support_agents SET assignments = assignments + 1
	WHERE id = (
		SELECT id FROM support_agents WHERE sector = ?
		ORDER BY assignments ASC, id ASC LIMIT 1
	)
	RETURNING id, name, sector, link, assignments`

	staff := domain.Staff{Kind: domain.StaffSupport}
	err := s.db.QueryRowContext(ctx, query, sector).Scan(
		&staff.ID, &staff.Name, &staff.Sector, &staff.Link, &staff.Assignments,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rotate support agent for %q: %w", sector, ErrNoStaff)
	}
	if err != nil {
		return nil, fmt.Errorf("rotate support agent: %w", err)
	}
	return &staff, nil
}

// UpsertStaff creates or updates a staff record. Existing assignment counters
// are preserved.
func (s *SQLiteStore) UpsertStaff(ctx context.Context, staff *domain.Staff) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var row *sql.Row
	switch staff.Kind {
	case domain.StaffSeller:
		row = s.db.QueryRowContext(ctx, `
		INSERT INTO sellers (name, link, assignments) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET link = excluded.link
		RETURNING id, assignments`,
			staff.Name, staff.Link, staff.Assignments)
	case domain.StaffSupport:
		if staff.Sector == "" {
			return fmt.Errorf("upsert support agent %q: sector is required", staff.Name)
		}
		row = s.db.QueryRowContext(ctx, `
		INSERT INTO support_agents (name, sector, link, assignments) VALUES (?, ?, ?, ?)
		ON CONFLICT(name, sector) DO UPDATE SET link = excluded.link
		RETURNING id, assignments`,
			staff.Name, staff.Sector, staff.Link, staff.Assignments)
	default:
		return fmt.Errorf("upsert staff: unknown kind %q", staff.Kind)
	}

	if err := row.Scan(&staff.ID, &staff.Assignments); err != nil {
		return fmt.Errorf("upsert %s %q: %w", staff.Kind, staff.Name, err)
	}
	return nil
}

// ListStaff returns one pool in rotation order.
func (s *SQLiteStore) ListStaff(ctx context.Context, kind domain.StaffKind) ([]*domain.Staff, error) {
	var query string
	switch kind {
	case domain.StaffSeller:
		query = `SELECT id, name, '', link, assignments FROM sellers ORDER BY assignments ASC, id ASC`
	case domain.StaffSupport:
		query = `SELECT id, name, sector, link, assignments FROM support_agents ORDER BY sector ASC, assignments ASC, id ASC`
	default:
		return nil, fmt.Errorf("list staff: unknown kind %q", kind)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query staff: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close staff rows", "error", closeErr)
		}
	}()

	var out []*domain.Staff
	for rows.Next() {
		staff := domain.Staff{Kind: kind}
		if err := rows.Scan(&staff.ID, &staff.Name, &staff.Sector, &staff.Link, &staff.Assignments); err != nil {
			return nil, fmt.Errorf("scan staff row: %w", err)
		}
		out = append(out, &staff)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staff: %w", err)
	}
	return out, nil
}

// IncrementStat bumps a counter, creating it when missing.
func (s *SQLiteStore) IncrementStat(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO stats (key, count) VALUES (?, 1)
	ON CONFLICT(key) DO UPDATE SET count = stats.count + 1`
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("increment stat %q: %w", key, err)
	}
	return nil
}

// ListStats returns all counters ordered by key.
func (s *SQLiteStore) ListStats(ctx context.Context) ([]domain.StatCounter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, count FROM stats ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close stats rows", "error", closeErr)
		}
	}()

	var out []domain.StatCounter
	for rows.Next() {
		var c domain.StatCounter
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("scan stat row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return out, nil
}

// RecordOutbound appends an outbound delivery attempt.
func (s *SQLiteStore) RecordOutbound(ctx context.Context, msg *domain.OutboundMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO outbound_messages (id, recipient, kind, template, status, error, provider_message_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	nullable := func(v string) interface{} {
		if v == "" {
			return nil
		}
		return v
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.To, string(msg.Kind), nullable(msg.Template), msg.Status,
		nullable(msg.Error), nullable(msg.ProviderMessageID), msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record outbound message: %w", err)
	}
	return nil
}

// CleanupOutbound removes outbound log rows older than retention.
func (s *SQLiteStore) CleanupOutbound(ctx context.Context, retention time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-retention).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM outbound_messages WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup outbound messages: %w", err)
	}
	return result.RowsAffected()
}

var _ Repository = (*SQLiteStore)(nil)

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirechat-signaling/internal/store"
)

// Schema creates the tables used by the store. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS room_settings (
	room_id      TEXT PRIMARY KEY,
	waiting_room BOOLEAN NOT NULL DEFAULT 0,
	capacity     INTEGER NOT NULL DEFAULT 0,
	auto_admit   BOOLEAN NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS admission_decisions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id      TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	display_name TEXT NOT NULL,
	status       TEXT NOT NULL,
	reviewer     TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	requested_at DATETIME NOT NULL,
	decided_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_admission_decisions_room ON admission_decisions(room_id, id DESC);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== SettingsStore implementation ====

// GetRoomSettings retrieves the admission settings of a room.
func (s *SQLiteStore) GetRoomSettings(ctx context.Context, roomID string) (*store.RoomSettings, error) {
	query := `
		SELECT room_id, waiting_room, capacity, auto_admit, updated_at
		FROM room_settings
		WHERE room_id = ?
	`
	var rs store.RoomSettings
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(
		&rs.RoomID,
		&rs.WaitingRoom,
		&rs.Capacity,
		&rs.AutoAdmit,
		&rs.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query room settings: %w", err)
	}
	return &rs, nil
}

// SaveRoomSettings inserts or replaces the admission settings of a room.
func (s *SQLiteStore) SaveRoomSettings(ctx context.Context, rs *store.RoomSettings) error {
	if rs.UpdatedAt.IsZero() {
		rs.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO room_settings (room_id, waiting_room, capacity, auto_admit, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			waiting_room = excluded.waiting_room,
			capacity     = excluded.capacity,
			auto_admit   = excluded.auto_admit,
			updated_at   = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, rs.RoomID, rs.WaitingRoom, rs.Capacity, rs.AutoAdmit, rs.UpdatedAt); err != nil {
		return fmt.Errorf("upsert room settings: %w", err)
	}
	return nil
}

// ==== AdmissionLog implementation ====

// RecordDecision appends an admission decision to the audit log.
func (s *SQLiteStore) RecordDecision(ctx context.Context, rec *store.AdmissionRecord) error {
	query := `
		INSERT INTO admission_decisions
			(room_id, candidate_id, user_id, display_name, status, reviewer, reason, requested_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		rec.RoomID,
		rec.CandidateID,
		rec.UserID,
		rec.DisplayName,
		string(rec.Status),
		rec.Reviewer,
		rec.Reason,
		rec.RequestedAt.UTC(),
		rec.DecidedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListDecisions returns the newest decisions of a room first.
func (s *SQLiteStore) ListDecisions(ctx context.Context, roomID string, limit int) ([]*store.AdmissionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, room_id, candidate_id, user_id, display_name, status, reviewer, reason, requested_at, decided_at
		FROM admission_decisions
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var records []*store.AdmissionRecord
	for rows.Next() {
		var rec store.AdmissionRecord
		var status string
		if err := rows.Scan(
			&rec.ID,
			&rec.RoomID,
			&rec.CandidateID,
			&rec.UserID,
			&rec.DisplayName,
			&status,
			&rec.Reviewer,
			&rec.Reason,
			&rec.RequestedAt,
			&rec.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.Status = store.DecisionStatus(status)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return records, nil
}

var _ store.Store = (*SQLiteStore)(nil)

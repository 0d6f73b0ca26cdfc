package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RoomSettings holds the persisted admission configuration of a room.
type RoomSettings struct {
	RoomID      string
	WaitingRoom bool
	// Capacity is the maximum number of pending admission requests.
	Capacity  int
	AutoAdmit bool
	UpdatedAt time.Time
}

// DecisionStatus is the terminal state of an admission request.
type DecisionStatus string

const (
	DecisionApproved   DecisionStatus = "approved"
	DecisionDenied     DecisionStatus = "denied"
	DecisionWithdrawn  DecisionStatus = "withdrawn"
	DecisionSuperseded DecisionStatus = "superseded"
)

// AdmissionRecord is an audit entry for a resolved admission request.
type AdmissionRecord struct {
	ID          int64
	RoomID      string
	CandidateID string
	UserID      string
	DisplayName string
	Status      DecisionStatus
	Reviewer    string
	Reason      string
	RequestedAt time.Time
	DecidedAt   time.Time
}

// SettingsStore handles room settings persistence.
type SettingsStore interface {
	// GetRoomSettings returns the stored settings or ErrNotFound.
	GetRoomSettings(ctx context.Context, roomID string) (*RoomSettings, error)

	// SaveRoomSettings inserts or replaces the settings of a room.
	SaveRoomSettings(ctx context.Context, settings *RoomSettings) error
}

// AdmissionLog handles the admission decision audit trail.
type AdmissionLog interface {
	// RecordDecision appends a resolved request.
	RecordDecision(ctx context.Context, rec *AdmissionRecord) error

	// ListDecisions returns the newest decisions of a room first.
	ListDecisions(ctx context.Context, roomID string, limit int) ([]*AdmissionRecord, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	SettingsStore
	AdmissionLog

	// Close closes the underlying database connection.
	Close() error
}

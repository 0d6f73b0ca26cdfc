package admission

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
)

// Status is the lifecycle state of an admission request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Outcome is what a join attempt gets back from RequestToJoin.
type Outcome string

const (
	OutcomeWaiting  Outcome = "waiting"
	OutcomeAdmitted Outcome = "admitted"
	OutcomeDenied   Outcome = "denied"
)

// Reasons reported to candidates whose request ended without a host decision.
const (
	ReasonFull       = "waiting room is full"
	ReasonSuperseded = "superseded by a newer request"
)

// Candidate is a user asking to enter a room. ID becomes the participant id
// once admitted.
type Candidate struct {
	ID          string
	UserID      string
	DisplayName string
	RoomID      string
	Role        core.Role
	Message     string
}

// Request is a pending or resolved admission request.
type Request struct {
	Candidate
	RequestedAt time.Time
	Status      Status
	Reviewer    string
	Reason      string

	seq   uint64
	timer *clock.Timer
}

// Decision is the answer to a join attempt.
type Decision struct {
	Outcome Outcome
	Message string
}

// Settings is the admission configuration of one room.
type Settings struct {
	Enabled bool `json:"enabled"`
	// Capacity bounds the number of pending requests; zero means unbounded.
	Capacity  int  `json:"capacity"`
	AutoAdmit bool `json:"autoAdmit"`
}

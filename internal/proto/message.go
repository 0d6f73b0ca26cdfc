package proto

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
)

const ProtocolVersion = 1

// ErrCodeUnsupportedVersion is sent when a client asks for another protocol version.
const ErrCodeUnsupportedVersion = "unsupported_version"

// Client to server message types.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeNegotiation = "negotiation"
	TypeMediaState  = "media-state"
	TypeHeartbeat   = "heartbeat"
	TypeAdmit       = "admit"
	TypeDeny        = "deny"
	TypeAdmitAll    = "admit-all"
)

// Server to client message types.
const (
	TypeJoined           = "joined"
	TypeMembershipDelta  = "membership-delta"
	TypeWaiting          = "waiting"
	TypeAdmitted         = "admitted"
	TypeDenied           = "denied"
	TypeAdmissionRequest = "admission-request"
	TypeAdmitAllResult   = "admit-all-result"
	TypeError            = "error"
)

// Message is the flat JSON envelope exchanged on the signaling socket.
// Every message carries type, roomId and timestamp; the remaining fields are
// per-type.
type Message struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId,omitempty"`
	Timestamp int64  `json:"timestamp"`

	// join
	UserID      string    `json:"userId,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Role        core.Role `json:"role,omitempty"`
	// RequestMessage is an optional note shown to hosts while waiting.
	RequestMessage string `json:"requestMessage,omitempty"`

	// leave, media-state echo
	ParticipantID string `json:"participantId,omitempty"`

	// negotiation
	FromParticipantID string          `json:"fromParticipantId,omitempty"`
	ToParticipantID   string          `json:"toParticipantId,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`

	// media-state
	Partial *core.MediaPatch  `json:"partial,omitempty"`
	State   *core.Participant `json:"state,omitempty"`

	// membership-delta
	Joined *core.Participant `json:"joined,omitempty"`
	Left   string            `json:"left,omitempty"`

	// joined snapshot
	Self         *core.Participant  `json:"self,omitempty"`
	Participants []core.Participant `json:"participants,omitempty"`

	// admission
	CandidateID string `json:"candidateId,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Count       int    `json:"count,omitempty"`

	Error *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Now returns the current wire timestamp (unix milliseconds).
func Now() int64 {
	return time.Now().UnixMilli()
}

// Stamp sets the timestamp from t if it is not already set.
func (m *Message) Stamp(t time.Time) *Message {
	if m.Timestamp == 0 {
		m.Timestamp = t.UnixMilli()
	}
	return m
}

// ErrorMessage builds an error reply from a domain error.
func ErrorMessage(roomID string, err error) *Message {
	ce := core.AsCoreError(err)
	return &Message{
		Type:   TypeError,
		RoomID: roomID,
		Error:  &Error{Code: ce.Code, Msg: ce.Message},
	}
}

// Err converts an error reply back into a domain error. Returns nil for other messages.
func (m *Message) Err() error {
	if m.Type != TypeError || m.Error == nil {
		return nil
	}
	return &core.CoreError{Code: m.Error.Code, Message: m.Error.Msg}
}

package proto

import (
	"encoding/json"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
)

// Validate checks that m carries the fields its type requires. Server-originated
// types are rejected when received from a client.
func (m *Message) Validate() error {
	if m.Type == "" {
		return core.ValidationError("type is required")
	}

	switch m.Type {
	case TypeHeartbeat:
		return nil
	case TypeAdmitAll:
		if m.RoomID == "" {
			return core.ValidationError("roomId is required")
		}
		return nil
	}

	if m.RoomID == "" {
		return core.ValidationError("roomId is required")
	}

	switch m.Type {
	case TypeJoin:
		if m.UserID == "" {
			return core.ValidationError("userId is required")
		}
		if m.DisplayName == "" {
			return core.ValidationError("displayName is required")
		}
		if m.Role == "" {
			return core.ValidationError("role is required")
		}
		if !m.Role.Valid() {
			return core.ValidationError("unknown role " + string(m.Role))
		}
	case TypeLeave:
		if m.ParticipantID == "" {
			return core.ValidationError("participantId is required")
		}
	case TypeNegotiation:
		if m.ToParticipantID == "" {
			return core.ValidationError("toParticipantId is required")
		}
		if len(m.Payload) == 0 {
			return core.ValidationError("payload is required")
		}
		if !json.Valid(m.Payload) {
			return core.ValidationError("payload must be JSON")
		}
	case TypeMediaState:
		if m.Partial == nil {
			return core.ValidationError("partial state is required")
		}
	case TypeAdmit, TypeDeny:
		if m.CandidateID == "" {
			return core.ValidationError("candidateId is required")
		}
	default:
		return core.ValidationError("unknown message type " + m.Type)
	}
	return nil
}

package http

import (
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/vovakirdan/wirechat-signaling/internal/admission"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

// decodeMessage parses one inbound frame. Malformed JSON is a validation error
// so the connection survives it.
func decodeMessage(data []byte) (*proto.Message, error) {
	var msg proto.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, core.ValidationError("malformed JSON")
		}
		return nil, core.ValidationError("invalid message: " + err.Error())
	}
	return &msg, nil
}

// statusFor maps domain error codes to HTTP statuses.
func statusFor(err error) int {
	switch core.AsCoreError(err).Code {
	case core.ErrCodeValidation:
		return stdhttp.StatusBadRequest
	case core.ErrCodeNotFound:
		return stdhttp.StatusNotFound
	case core.ErrCodeCapacity:
		return stdhttp.StatusConflict
	case core.ErrCodeForbidden:
		return stdhttp.StatusForbidden
	case core.ErrCodeTimeout:
		return stdhttp.StatusGatewayTimeout
	case core.ErrCodeConnectionLost:
		return stdhttp.StatusGone
	default:
		return stdhttp.StatusInternalServerError
	}
}

// PendingResponse represents a waiting candidate in API responses.
type PendingResponse struct {
	CandidateID string `json:"candidate_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Message     string `json:"message,omitempty"`
	RequestedAt string `json:"requested_at"`
}

// AdmissionResponse represents the waiting room of a room.
type AdmissionResponse struct {
	RoomID   string             `json:"room_id"`
	Settings admission.Settings `json:"settings"`
	Pending  []PendingResponse  `json:"pending"`
}

func admissionResponse(roomID string, settings admission.Settings, pending []admission.Request) AdmissionResponse {
	resp := AdmissionResponse{
		RoomID:   roomID,
		Settings: settings,
		Pending:  make([]PendingResponse, 0, len(pending)),
	}
	for _, req := range pending {
		resp.Pending = append(resp.Pending, PendingResponse{
			CandidateID: req.ID,
			UserID:      req.UserID,
			DisplayName: req.DisplayName,
			Message:     req.Message,
			RequestedAt: req.RequestedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

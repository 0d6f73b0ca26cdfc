package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/admission"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/relay"
)

const defaultDecisionLimit = 50

// PresenceReader reads membership mirrored by other signaling nodes.
type PresenceReader interface {
	Participants(ctx context.Context, roomID string) ([]core.Participant, error)
	Rooms(ctx context.Context) ([]string, error)
}

const (
	sourceLocal    = "local"
	sourcePresence = "presence"
)

// RoomHandlers provides HTTP handlers for room inspection and host controls.
type RoomHandlers struct {
	relay    *relay.Relay
	presence PresenceReader
	log      *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance. presence may be nil.
func NewRoomHandlers(rel *relay.Relay, presence PresenceReader, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		relay:    rel,
		presence: presence,
		log:      logger,
	}
}

// ParticipantsResponse lists the participants of a room.
type ParticipantsResponse struct {
	RoomID       string             `json:"room_id"`
	Source       string             `json:"source"`
	Participants []core.Participant `json:"participants"`
}

// RoomsResponse lists rooms with at least one participant.
type RoomsResponse struct {
	Rooms []string `json:"rooms"`
}

// DenyRequest represents the deny request body.
type DenyRequest struct {
	Reason string `json:"reason" binding:"max=256"`
}

// AdmitAllResponse reports how many candidates were admitted.
type AdmitAllResponse struct {
	Count int `json:"count"`
}

// DecisionResponse represents one resolved admission request.
type DecisionResponse struct {
	CandidateID string `json:"candidate_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	Reviewer    string `json:"reviewer,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RequestedAt string `json:"requested_at"`
	DecidedAt   string `json:"decided_at"`
}

// ListRooms returns the rooms hosted here merged with mirrored ones.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	seen := make(map[string]struct{})
	for _, id := range h.relay.Registry().Rooms() {
		seen[id] = struct{}{}
	}
	if h.presence != nil {
		mirrored, err := h.presence.Rooms(c.Request.Context())
		if err != nil {
			h.log.Warn().Err(err).Msg("read mirrored rooms")
		}
		for _, id := range mirrored {
			seen[id] = struct{}{}
		}
	}

	rooms := make([]string, 0, len(seen))
	for id := range seen {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	c.JSON(http.StatusOK, RoomsResponse{Rooms: rooms})
}

// ListParticipants returns the current participants of a room. Rooms not
// hosted on this node are looked up in the presence mirror.
// GET /api/rooms/:roomId/participants
func (h *RoomHandlers) ListParticipants(c *gin.Context) {
	roomID := c.Param("roomId")
	participants, err := h.relay.ListParticipants(roomID)
	if err == nil {
		c.JSON(http.StatusOK, ParticipantsResponse{RoomID: roomID, Source: sourceLocal, Participants: participants})
		return
	}
	if !errors.Is(err, core.ErrNotFound) || h.presence == nil {
		h.writeError(c, err)
		return
	}

	mirrored, perr := h.presence.Participants(c.Request.Context(), roomID)
	if perr != nil {
		h.log.Warn().Err(perr).Str("room_id", roomID).Msg("read mirrored participants")
	}
	if len(mirrored) == 0 {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ParticipantsResponse{RoomID: roomID, Source: sourcePresence, Participants: mirrored})
}

// GetAdmission returns the waiting-room settings and queue of a room.
// GET /api/rooms/:roomId/admission
func (h *RoomHandlers) GetAdmission(c *gin.Context) {
	roomID := c.Param("roomId")
	ctl, ok := h.admission(c)
	if !ok {
		return
	}
	if _, err := h.reviewer(c, roomID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, admissionResponse(roomID, ctl.Settings(c.Request.Context(), roomID), ctl.Pending(roomID)))
}

// UpdateAdmission replaces the waiting-room settings of a room.
// PUT /api/rooms/:roomId/admission
func (h *RoomHandlers) UpdateAdmission(c *gin.Context) {
	roomID := c.Param("roomId")
	ctl, ok := h.admission(c)
	if !ok {
		return
	}
	reviewer, err := h.reviewer(c, roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var settings admission.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		h.log.Debug().Err(err).Msg("invalid admission settings")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := ctl.UpdateSettings(c.Request.Context(), roomID, reviewer.ID, settings); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, admissionResponse(roomID, ctl.Settings(c.Request.Context(), roomID), ctl.Pending(roomID)))
}

// Admit approves one waiting candidate.
// POST /api/rooms/:roomId/admission/:candidateId/admit
func (h *RoomHandlers) Admit(c *gin.Context) {
	roomID := c.Param("roomId")
	reviewer, err := h.reviewer(c, roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.relay.Admit(c.Request.Context(), roomID, reviewer.ID, c.Param("candidateId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Deny rejects one waiting candidate.
// POST /api/rooms/:roomId/admission/:candidateId/deny
func (h *RoomHandlers) Deny(c *gin.Context) {
	roomID := c.Param("roomId")
	reviewer, err := h.reviewer(c, roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var req DenyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}
	if err := h.relay.Deny(c.Request.Context(), roomID, reviewer.ID, c.Param("candidateId"), req.Reason); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AdmitAll approves every waiting candidate of a room.
// POST /api/rooms/:roomId/admission/admit-all
func (h *RoomHandlers) AdmitAll(c *gin.Context) {
	roomID := c.Param("roomId")
	reviewer, err := h.reviewer(c, roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	n, err := h.relay.AdmitAll(c.Request.Context(), roomID, reviewer.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AdmitAllResponse{Count: n})
}

// ListDecisions returns the newest resolved requests of a room.
// GET /api/rooms/:roomId/admission/decisions?limit=
func (h *RoomHandlers) ListDecisions(c *gin.Context) {
	roomID := c.Param("roomId")
	ctl, ok := h.admission(c)
	if !ok {
		return
	}
	if _, err := h.reviewer(c, roomID); err != nil {
		h.writeError(c, err)
		return
	}

	limit := defaultDecisionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	records, err := ctl.Decisions(c.Request.Context(), roomID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := make([]DecisionResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, DecisionResponse{
			CandidateID: rec.CandidateID,
			UserID:      rec.UserID,
			DisplayName: rec.DisplayName,
			Status:      string(rec.Status),
			Reviewer:    rec.Reviewer,
			Reason:      rec.Reason,
			RequestedAt: rec.RequestedAt.UTC().Format(time.RFC3339),
			DecidedAt:   rec.DecidedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RoomHandlers) admission(c *gin.Context) (*admission.Controller, bool) {
	ctl := h.relay.Admission()
	if ctl == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "waiting room is disabled"})
		return nil, false
	}
	return ctl, true
}

// reviewer resolves the caller to a host or moderator participant of roomID.
func (h *RoomHandlers) reviewer(c *gin.Context, roomID string) (core.Participant, error) {
	userID := c.GetString(ContextKeyUserID)
	if userID == "" {
		return core.Participant{}, core.ForbiddenError("unauthenticated")
	}
	return h.relay.Reviewer(roomID, userID)
}

func (h *RoomHandlers) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	}
	ce := core.AsCoreError(err)
	c.JSON(status, ErrorResponse{Error: ce.Message, Code: ce.Code})
}

package relay

import (
	"context"

	"github.com/vovakirdan/wirechat-signaling/internal/admission"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

var _ admission.Gateway = (*Relay)(nil)

// Promote registers the candidate as a participant, hands it the membership
// snapshot and announces it to the rest of the room.
func (r *Relay) Promote(_ context.Context, req admission.Request) error {
	conn := r.Conn(req.ID)
	if conn == nil || conn.Closed() {
		return core.ConnectionLostError("candidate connection closed")
	}
	wasWaiting := conn.isWaiting()

	role := req.Role
	if role == "" {
		role = core.RoleParticipant
	}
	p := core.Participant{
		ID:          req.ID,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Role:        role,
	}

	attached := false
	res, err := r.registry.Join(req.RoomID, p, func(res core.JoinResult) {
		if attached = conn.setJoined(req.RoomID); !attached {
			return
		}
		self := res.Participant
		if wasWaiting {
			conn.Send(r.stamp(&proto.Message{Type: proto.TypeAdmitted, RoomID: req.RoomID, CandidateID: req.ID}))
		}
		conn.Send(r.stamp(&proto.Message{
			Type:         proto.TypeJoined,
			RoomID:       req.RoomID,
			Self:         &self,
			Participants: res.Snapshot,
		}))
		if res.Added {
			delta := r.stamp(&proto.Message{Type: proto.TypeMembershipDelta, RoomID: req.RoomID, Joined: &self})
			r.broadcast(res.Snapshot, self.ID, delta)
		}
	})
	if err != nil {
		return err
	}
	if !attached {
		// The connection closed while joining and was never announced.
		if _, err := r.registry.Leave(req.RoomID, req.ID, nil); err != nil {
			r.log.Debug().Err(err).Str("participant_id", req.ID).Msg("undo join")
		}
		return core.ConnectionLostError("candidate connection closed")
	}

	if res.Added {
		r.log.Info().Str("room_id", req.RoomID).Str("participant_id", req.ID).Str("user_id", req.UserID).
			Str("role", string(res.Participant.Role)).Int("members", len(res.Snapshot)).Msg("participant joined")
	}
	return nil
}

// NotifyReviewers tells the hosts and moderators of a room about a new request.
func (r *Relay) NotifyReviewers(req admission.Request) {
	participants, err := r.registry.ListParticipants(req.RoomID)
	if err != nil {
		r.log.Debug().Str("room_id", req.RoomID).Msg("no reviewers online")
		return
	}

	msg := r.stamp(&proto.Message{
		Type:           proto.TypeAdmissionRequest,
		RoomID:         req.RoomID,
		CandidateID:    req.ID,
		UserID:         req.UserID,
		DisplayName:    req.DisplayName,
		RequestMessage: req.Message,
	})
	for _, p := range participants {
		if p.Role.CanReview() {
			r.deliver(p.ID, msg)
		}
	}
}

// NotifyDenied tells a waiting candidate its request was turned down.
func (r *Relay) NotifyDenied(req admission.Request, reason string) {
	conn := r.Conn(req.ID)
	if conn == nil {
		return
	}
	conn.clearWaiting()
	r.reply(conn, &proto.Message{Type: proto.TypeDenied, RoomID: req.RoomID, CandidateID: req.ID, Reason: reason})
}

package relay

import (
	"context"

	"github.com/vovakirdan/wirechat-signaling/internal/admission"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

// Handle processes one inbound message from conn. Transports call it
// sequentially per connection, which keeps each connection's messages in
// arrival order. Errors are replied to the sender and also returned.
func (r *Relay) Handle(ctx context.Context, conn *Conn, msg *proto.Message) error {
	conn.touch(r.clock.Now())

	err := msg.Validate()
	if err == nil {
		switch msg.Type {
		case proto.TypeJoin:
			err = r.handleJoin(ctx, conn, msg)
		case proto.TypeLeave:
			err = r.handleLeave(conn, msg)
		case proto.TypeNegotiation:
			err = r.handleNegotiation(conn, msg)
		case proto.TypeMediaState:
			err = r.handleMediaState(conn, msg)
		case proto.TypeHeartbeat:
			r.reply(conn, &proto.Message{Type: proto.TypeHeartbeat, RoomID: msg.RoomID})
		case proto.TypeAdmit, proto.TypeDeny, proto.TypeAdmitAll:
			err = r.handleReview(ctx, conn, msg)
		}
	}

	if err != nil {
		r.log.Debug().Err(err).Str("conn_id", conn.ID).Str("type", msg.Type).Msg("message rejected")
		r.reply(conn, proto.ErrorMessage(msg.RoomID, err))
	}
	return err
}

func (r *Relay) handleJoin(ctx context.Context, conn *Conn, msg *proto.Message) error {
	if roomID, joined := conn.Room(); roomID != "" {
		if joined && roomID == msg.RoomID {
			// Idempotent re-join: resend the snapshot.
			return r.Promote(ctx, admission.Request{Candidate: r.candidate(conn, msg)})
		}
		return core.ValidationError("connection already belongs to room " + roomID)
	}

	cand := r.candidate(conn, msg)
	if r.admission == nil || cand.Role.CanReview() || !r.admission.Settings(ctx, msg.RoomID).Enabled {
		return r.Promote(ctx, admission.Request{Candidate: cand, Status: admission.StatusApproved})
	}

	conn.setWaiting(msg.RoomID)
	dec, err := r.admission.RequestToJoin(ctx, cand)
	if err != nil {
		conn.clearWaiting()
		return err
	}
	if conn.Closed() {
		// Disconnected while the request was being filed.
		r.admission.Withdraw(ctx, conn.ID)
		return nil
	}

	switch dec.Outcome {
	case admission.OutcomeWaiting:
		r.reply(conn, &proto.Message{Type: proto.TypeWaiting, RoomID: msg.RoomID, CandidateID: conn.ID, Reason: dec.Message})
	case admission.OutcomeDenied:
		conn.clearWaiting()
		r.reply(conn, &proto.Message{Type: proto.TypeDenied, RoomID: msg.RoomID, CandidateID: conn.ID, Reason: dec.Message})
	}
	return nil
}

// candidate builds the admission candidate for a join. The identity provider's
// values win over what the client claims.
func (r *Relay) candidate(conn *Conn, msg *proto.Message) admission.Candidate {
	cand := admission.Candidate{
		ID:          conn.ID,
		UserID:      msg.UserID,
		DisplayName: msg.DisplayName,
		RoomID:      msg.RoomID,
		Role:        msg.Role,
		Message:     msg.RequestMessage,
	}
	if conn.Identity.UserID != "" {
		cand.UserID = conn.Identity.UserID
	}
	if conn.Identity.DisplayName != "" {
		cand.DisplayName = conn.Identity.DisplayName
	}
	return cand
}

// joinedRoom returns the room conn is a participant of, checking it matches roomID.
func (r *Relay) joinedRoom(conn *Conn, roomID string) (string, error) {
	current, joined := conn.Room()
	if !joined || current != roomID {
		return "", core.NotFoundError("not a participant of room " + roomID)
	}
	return current, nil
}

func (r *Relay) handleLeave(conn *Conn, msg *proto.Message) error {
	roomID, err := r.joinedRoom(conn, msg.RoomID)
	if err != nil {
		return err
	}
	if msg.ParticipantID != conn.ID {
		return core.NotFoundError("participant not found")
	}

	if _, err := r.registry.Leave(roomID, conn.ID, r.broadcastLeft(conn.ID)); err != nil {
		return err
	}
	conn.clearJoined()
	r.log.Info().Str("room_id", roomID).Str("participant_id", conn.ID).Msg("participant left")
	return nil
}

func (r *Relay) handleNegotiation(conn *Conn, msg *proto.Message) error {
	roomID, err := r.joinedRoom(conn, msg.RoomID)
	if err != nil {
		return err
	}
	// Only the sender's room is searched; targets elsewhere are unknown.
	if _, err := r.registry.Participant(roomID, msg.ToParticipantID); err != nil {
		return err
	}

	target := r.Conn(msg.ToParticipantID)
	if target == nil || target.Closed() {
		r.log.Debug().Str("room_id", roomID).Str("from", conn.ID).Str("to", msg.ToParticipantID).
			Msg("negotiation target gone, dropping")
		return nil
	}

	fwd := &proto.Message{
		Type:              proto.TypeNegotiation,
		RoomID:            roomID,
		Timestamp:         msg.Timestamp,
		FromParticipantID: conn.ID,
		ToParticipantID:   msg.ToParticipantID,
		Payload:           msg.Payload,
	}
	if !target.Send(r.stamp(fwd)) {
		r.log.Warn().Str("room_id", roomID).Str("to", msg.ToParticipantID).Msg("negotiation dropped, buffer full")
	}
	return nil
}

func (r *Relay) handleMediaState(conn *Conn, msg *proto.Message) error {
	roomID, err := r.joinedRoom(conn, msg.RoomID)
	if err != nil {
		return err
	}

	_, err = r.registry.UpdateMediaState(roomID, conn.ID, *msg.Partial, func(res core.MediaResult) {
		state := res.Participant
		out := r.stamp(&proto.Message{
			Type:          proto.TypeMediaState,
			RoomID:        roomID,
			ParticipantID: state.ID,
			Partial:       msg.Partial,
			State:         &state,
		})
		r.broadcast(res.Snapshot, state.ID, out)
	})
	return err
}

func (r *Relay) handleReview(ctx context.Context, conn *Conn, msg *proto.Message) error {
	roomID, err := r.joinedRoom(conn, msg.RoomID)
	if err != nil {
		return err
	}
	if err := r.checkReviewer(roomID, conn.ID); err != nil {
		return err
	}

	switch msg.Type {
	case proto.TypeAdmit:
		return r.Admit(ctx, roomID, conn.ID, msg.CandidateID)
	case proto.TypeDeny:
		return r.Deny(ctx, roomID, conn.ID, msg.CandidateID, msg.Reason)
	default:
		n, err := r.AdmitAll(ctx, roomID, conn.ID)
		r.reply(conn, &proto.Message{Type: proto.TypeAdmitAllResult, RoomID: roomID, Count: n})
		return err
	}
}

package relay

import (
	"context"

	"github.com/vovakirdan/wirechat-signaling/internal/admission"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
)

// Reviewer returns the participant through which userID may review admission
// requests of a room: one of its participants holding the host or moderator role.
func (r *Relay) Reviewer(roomID, userID string) (core.Participant, error) {
	participants, err := r.registry.ListParticipants(roomID)
	if err != nil {
		return core.Participant{}, err
	}
	for _, p := range participants {
		if p.UserID == userID && p.Role.CanReview() {
			return p, nil
		}
	}
	return core.Participant{}, core.ForbiddenError("only hosts and moderators can review admission requests")
}

// Admit approves a waiting candidate of roomID on behalf of reviewerID.
func (r *Relay) Admit(ctx context.Context, roomID, reviewerID, candidateID string) error {
	ctl, err := r.reviewFor(roomID, reviewerID, candidateID)
	if err != nil {
		return err
	}
	return ctl.Admit(ctx, candidateID, reviewerID)
}

// Deny rejects a waiting candidate of roomID on behalf of reviewerID.
func (r *Relay) Deny(ctx context.Context, roomID, reviewerID, candidateID, reason string) error {
	ctl, err := r.reviewFor(roomID, reviewerID, candidateID)
	if err != nil {
		return err
	}
	return ctl.Deny(ctx, candidateID, reviewerID, reason)
}

// AdmitAll approves every waiting candidate of roomID in arrival order.
func (r *Relay) AdmitAll(ctx context.Context, roomID, reviewerID string) (int, error) {
	ctl, err := r.reviewFor(roomID, reviewerID, "")
	if err != nil {
		return 0, err
	}
	return ctl.AdmitAll(ctx, roomID, reviewerID)
}

func (r *Relay) reviewFor(roomID, reviewerID, candidateID string) (*admission.Controller, error) {
	if r.admission == nil {
		return nil, core.NotFoundError("admission control is disabled")
	}
	if err := r.checkReviewer(roomID, reviewerID); err != nil {
		return nil, err
	}
	if candidateID != "" {
		if err := r.checkCandidateRoom(candidateID, roomID); err != nil {
			return nil, err
		}
	}
	return r.admission, nil
}

func (r *Relay) checkReviewer(roomID, reviewerID string) error {
	if r.admission == nil {
		return core.NotFoundError("admission control is disabled")
	}
	self, err := r.registry.Participant(roomID, reviewerID)
	if err != nil {
		return err
	}
	if !self.Role.CanReview() {
		return core.ForbiddenError("only hosts and moderators can review admission requests")
	}
	return nil
}

// checkCandidateRoom rejects decisions on requests that belong to another room.
// Resolved requests are let through so the controller can treat them as no-ops.
func (r *Relay) checkCandidateRoom(candidateID, roomID string) error {
	req, err := r.admission.Request(candidateID)
	if err != nil {
		return nil
	}
	if req.RoomID != roomID {
		return core.NotFoundError("admission request not found")
	}
	return nil
}

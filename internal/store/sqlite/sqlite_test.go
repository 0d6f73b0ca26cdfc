package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-signaling/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoomSettingsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRoomSettings(ctx, "R1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.SaveRoomSettings(ctx, &store.RoomSettings{RoomID: "R1", WaitingRoom: true, Capacity: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetRoomSettings(ctx, "R1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.WaitingRoom || got.Capacity != 2 || got.AutoAdmit {
		t.Fatalf("unexpected settings: %+v", got)
	}

	if err := s.SaveRoomSettings(ctx, &store.RoomSettings{RoomID: "R1", WaitingRoom: true, Capacity: 5, AutoAdmit: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.GetRoomSettings(ctx, "R1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Capacity != 5 || !got.AutoAdmit {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestDecisionLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		candidate string
		status    store.DecisionStatus
	}{
		{candidate: "c1", status: store.DecisionApproved},
		{candidate: "c2", status: store.DecisionDenied},
		{candidate: "c3", status: store.DecisionWithdrawn},
	}
	for _, tt := range tests {
		rec := &store.AdmissionRecord{
			RoomID:      "R1",
			CandidateID: tt.candidate,
			UserID:      "u-" + tt.candidate,
			DisplayName: tt.candidate,
			Status:      tt.status,
			Reviewer:    "host",
			RequestedAt: now,
			DecidedAt:   now,
		}
		if err := s.RecordDecision(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", tt.candidate, err)
		}
		if rec.ID == 0 {
			t.Fatalf("expected id to be assigned")
		}
	}

	other := &store.AdmissionRecord{RoomID: "R2", CandidateID: "x", UserID: "x", DisplayName: "x", Status: store.DecisionApproved, RequestedAt: now, DecidedAt: now}
	if err := s.RecordDecision(ctx, other); err != nil {
		t.Fatalf("record other room: %v", err)
	}

	got, err := s.ListDecisions(ctx, "R1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].CandidateID != "c3" || got[1].CandidateID != "c2" {
		t.Fatalf("expected newest first, got %s, %s", got[0].CandidateID, got[1].CandidateID)
	}
	if got[1].Status != store.DecisionDenied {
		t.Fatalf("unexpected status %q", got[1].Status)
	}
}

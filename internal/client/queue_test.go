package client

import (
	"testing"

	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

func TestOutboxDropsOldest(t *testing.T) {
	q := newOutbox(2)

	for _, id := range []string{"1", "2", "3"} {
		q.push(&proto.Message{Type: proto.TypeNegotiation, ToParticipantID: id})
	}
	out := q.drain()
	if len(out) != 2 || out[0].ToParticipantID != "2" || out[1].ToParticipantID != "3" {
		t.Fatalf("unexpected queue contents: %+v", out)
	}
	if q.len() != 0 {
		t.Fatalf("drain should empty the queue")
	}
}

func TestOutboxSkipsHeartbeats(t *testing.T) {
	q := newOutbox(4)
	q.push(&proto.Message{Type: proto.TypeHeartbeat})
	q.push(&proto.Message{Type: proto.TypeMediaState})
	q.push(&proto.Message{Type: proto.TypeHeartbeat})

	out := q.drain()
	if len(out) != 1 || out[0].Type != proto.TypeMediaState {
		t.Fatalf("heartbeats must not be queued: %+v", out)
	}
}

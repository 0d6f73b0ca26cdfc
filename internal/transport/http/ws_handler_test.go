package http

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "GET", "/health", "", nil)
	if status != 200 || string(body) != "ok" {
		t.Fatalf("unexpected health response: %d %q", status, body)
	}
}

func TestWSJoinAndMembershipDelta(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	alice := ts.dialAnonymous(ctx, t, "alice")
	bob := ts.dialAnonymous(ctx, t, "bob")

	joined := joinRoom(ctx, t, alice, "standup", "alice")
	if joined.Self == nil || joined.Self.Role != core.RoleHost {
		t.Fatalf("expected first joiner to be host, got %+v", joined.Self)
	}

	bobJoined := joinRoom(ctx, t, bob, "standup", "bob")
	if len(bobJoined.Participants) != 2 {
		t.Fatalf("expected snapshot of 2, got %d", len(bobJoined.Participants))
	}

	delta := readUntil(ctx, t, alice, proto.TypeMembershipDelta)
	if delta.Joined == nil || delta.Joined.UserID != "bob" {
		t.Fatalf("expected bob in delta, got %+v", delta)
	}

	bob.Close(websocket.StatusNormalClosure, "bye")
	left := readUntil(ctx, t, alice, proto.TypeMembershipDelta)
	if left.Left != bobJoined.Self.ID {
		t.Fatalf("expected %s to leave, got %+v", bobJoined.Self.ID, left)
	}
}

func TestWSNegotiationRelay(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	alice := ts.dialAnonymous(ctx, t, "alice")
	bob := ts.dialAnonymous(ctx, t, "bob")
	a := joinRoom(ctx, t, alice, "r1", "alice")
	b := joinRoom(ctx, t, bob, "r1", "bob")

	send(ctx, t, alice, &proto.Message{
		Type:              proto.TypeNegotiation,
		RoomID:            "r1",
		FromParticipantID: a.Self.ID,
		ToParticipantID:   b.Self.ID,
		Payload:           []byte(`{"sdp":"offer"}`),
	})
	got := readUntil(ctx, t, bob, proto.TypeNegotiation)
	if string(got.Payload) != `{"sdp":"offer"}` || got.FromParticipantID != a.Self.ID {
		t.Fatalf("unexpected negotiation: %+v", got)
	}
}

func TestWSMalformedFrameKeepsConnection(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := ts.dialAnonymous(ctx, t, "alice")
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	errMsg := readUntil(ctx, t, conn, proto.TypeError)
	if errMsg.Error == nil || errMsg.Error.Code != core.ErrCodeValidation {
		t.Fatalf("expected validation error, got %+v", errMsg.Error)
	}

	send(ctx, t, conn, &proto.Message{Type: proto.TypeHeartbeat})
	readUntil(ctx, t, conn, proto.TypeHeartbeat)
}

func TestWSTokenAuth(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, ts.wsURL(url.Values{"token": {ts.token(t, "carol")}}), nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	joined := joinRoom(ctx, t, conn, "r1", "spoofed")
	if joined.Self.UserID != "carol" {
		t.Fatalf("expected identity from token, got %q", joined.Self.UserID)
	}

	_, resp, err := websocket.Dial(ctx, ts.wsURL(url.Values{"token": {"not-a-jwt"}}), nil)
	if err == nil {
		t.Fatal("expected dial with bad token to fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestProtocolVersionMismatch(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, ts.wsURL(url.Values{
		"user": {"alice"},
		"v":    {"99"},
	}), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var msg proto.Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != proto.TypeError || msg.Error == nil || msg.Error.Code != proto.ErrCodeUnsupportedVersion {
		t.Fatalf("expected unsupported_version error, got %+v", msg)
	}

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/admission"
	"github.com/vovakirdan/wirechat-signaling/internal/auth"
	"github.com/vovakirdan/wirechat-signaling/internal/config"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
	"github.com/vovakirdan/wirechat-signaling/internal/relay"
)

const testSecret = "test-secret-key-for-jwt-signing"

type testServer struct {
	*httptest.Server
	relay *relay.Relay
	auth  *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil, nil)
}

// newTestServerWith overrides the authenticator and presence reader. A nil
// authn uses the JWT service with anonymous access enabled.
func newTestServerWith(t *testing.T, authn auth.Authenticator, presence PresenceReader) *testServer {
	t.Helper()

	logger := zerolog.Nop()
	cfg := config.Default()
	cfg.Server.RateLimit = 0

	reg := core.NewRegistry(core.WithFirstJoinerHost(true))
	ctl := admission.New(admission.Config{AutoAdmitDelay: 10 * time.Millisecond}, nil, &logger)
	rel := relay.New(reg, ctl, relay.Config{HeartbeatTimeout: time.Minute}, &logger)

	authService := auth.NewService(&auth.JWTConfig{
		Secret: []byte(testSecret),
		Issuer: "wirechat-test",
		TTL:    time.Hour,
	}, true)

	if authn == nil {
		authn = authService
	}
	server := NewServer(rel, authn, presence, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, relay: rel, auth: authService}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.auth.IssueToken(userID, userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (ts *testServer) wsURL(query url.Values) string {
	u := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// dialAnonymous opens a socket as a self-declared user.
func (ts *testServer) dialAnonymous(ctx context.Context, t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, ts.wsURL(url.Values{"user": {user}, "name": {user}}), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, msg *proto.Message) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
}

// readUntil reads messages until one of type typ arrives.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string) *proto.Message {
	t.Helper()
	for {
		var msg proto.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if msg.Type == typ {
			return &msg
		}
	}
}

func joinRoom(ctx context.Context, t *testing.T, conn *websocket.Conn, room, user string) *proto.Message {
	t.Helper()
	send(ctx, t, conn, &proto.Message{
		Type:        proto.TypeJoin,
		RoomID:      room,
		UserID:      user,
		DisplayName: user,
		Role:        core.RoleParticipant,
	})
	return readUntil(ctx, t, conn, proto.TypeJoined)
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := stdhttp.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := stdhttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

// requestJoin sends a join without waiting for the outcome.
func requestJoin(ctx context.Context, t *testing.T, conn *websocket.Conn, room, user string) {
	t.Helper()
	send(ctx, t, conn, &proto.Message{
		Type:        proto.TypeJoin,
		RoomID:      room,
		UserID:      user,
		DisplayName: user,
		Role:        core.RoleParticipant,
	})
}

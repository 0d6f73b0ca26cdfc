package http

import (
	"context"
	"net/http"
	"testing"

	"github.com/vovakirdan/wirechat-signaling/internal/auth"
)

// staticAuth accepts one fixed token and no anonymous callers.
type staticAuth struct {
	token    string
	identity auth.Identity
}

func (a staticAuth) Verify(_ context.Context, token string) (auth.Identity, error) {
	if token != a.token {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	return a.identity, nil
}

func (staticAuth) AllowAnonymous() bool { return false }

func (staticAuth) Anonymous(string, string) (auth.Identity, error) {
	return auth.Identity{}, auth.ErrUnauthenticated
}

func TestCustomAuthenticator(t *testing.T) {
	ts := newTestServerWith(t, staticAuth{token: "svc-token", identity: auth.Identity{UserID: "svc", DisplayName: "Service"}}, nil)

	if status, body := ts.do(t, "GET", "/api/rooms", "svc-token", nil); status != http.StatusOK {
		t.Fatalf("expected 200 for the accepted token, got %d: %s", status, body)
	}
	if status, _ := ts.do(t, "GET", "/api/rooms", ts.token(t, "alice"), nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token the authenticator rejects, got %d", status)
	}
	if status, _ := ts.do(t, "GET", "/api/rooms?user=bob", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous access, got %d", status)
	}

	resp, err := http.Get(ts.URL + "/ws?user=bob&name=bob")
	if err != nil {
		t.Fatalf("ws request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected ws upgrade to be refused with 401, got %d", resp.StatusCode)
	}
}

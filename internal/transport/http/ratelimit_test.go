package http

import (
	"errors"
	"net/http"
	"testing"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
)

func TestRateLimiter(t *testing.T) {
	disabled := newRateLimiter(0)
	if !disabled.allow() {
		t.Fatal("disabled limiter must allow")
	}

	rl := newRateLimiter(60)
	for i := 0; i < 6; i++ {
		if !rl.allow() {
			t.Fatalf("message %d within burst was limited", i)
		}
	}
	if rl.allow() {
		t.Fatal("expected limiter to reject past the burst")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", core.ValidationError("bad"), http.StatusBadRequest},
		{"not found", core.NotFoundError("gone"), http.StatusNotFound},
		{"capacity", core.CapacityError("full"), http.StatusConflict},
		{"forbidden", core.ForbiddenError("no"), http.StatusForbidden},
		{"timeout", core.TimeoutError("slow"), http.StatusGatewayTimeout},
		{"connection lost", core.ConnectionLostError("closed"), http.StatusGone},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Fatalf("statusFor = %d, want %d", got, tt.want)
			}
		})
	}
}

package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/auth"
	"github.com/vovakirdan/wirechat-signaling/internal/config"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
	"github.com/vovakirdan/wirechat-signaling/internal/relay"
	"github.com/vovakirdan/wirechat-signaling/internal/utils"
)

const (
	reasonClientGone = "client disconnected"
	flushTimeout     = time.Second
)

// WSHandler upgrades HTTP connections and bridges them to relay.Conn.
type WSHandler struct {
	relay *relay.Relay
	authn auth.Authenticator
	cfg   config.ServerConfig
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(rel *relay.Relay, authn auth.Authenticator, cfg config.ServerConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{relay: rel, authn: authn, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	identity, err := authenticate(r, h.authn)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws unauthenticated")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !supportedVersion(r.URL.Query().Get("v")) {
		_ = wsjson.Write(ctx, conn, &proto.Message{
			Type:      proto.TypeError,
			Timestamp: proto.Now(),
			Error: &proto.Error{
				Code: proto.ErrCodeUnsupportedVersion,
				Msg:  "server speaks protocol version " + strconv.Itoa(proto.ProtocolVersion),
			},
		})
		conn.Close(websocket.StatusPolicyViolation, "unsupported protocol version")
		return
	}

	rc := h.relay.NewConn(utils.NewID(), relay.Identity{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
	})
	rc.OnClose(cancel)
	h.relay.Register(rc)
	defer h.relay.Disconnect(rc, reasonClientGone)

	h.log.Debug().Str("conn_id", rc.ID).Str("user_id", identity.UserID).Msg("ws connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, rc)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, rc)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if closed := rc.CloseReason(); closed != "" {
		reason = closed
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", rc.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, rc *relay.Conn) error {
	limiter := newRateLimiter(h.cfg.RateLimit)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		msg, err := decodeMessage(data)
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", rc.ID).Msg("bad inbound frame")
			reply := proto.ErrorMessage("", err)
			reply.Timestamp = proto.Now()
			rc.Send(reply)
			continue
		}
		if msg.Type != proto.TypeHeartbeat && !limiter.allow() {
			rc.Send(&proto.Message{
				Type:      proto.TypeError,
				RoomID:    msg.RoomID,
				Timestamp: proto.Now(),
				Error:     &proto.Error{Code: errCodeRateLimited, Msg: "rate limit exceeded"},
			})
			continue
		}

		// Errors are already replied to the sender by the relay.
		_ = h.relay.Handle(ctx, rc, msg)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, rc *relay.Conn) error {
	for {
		select {
		case msg := <-rc.Events:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				h.log.Error().Err(err).Str("conn_id", rc.ID).Msg("write ws message")
				return err
			}
		case <-rc.Done():
			h.flush(conn, rc)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush writes what the relay queued before it dropped the connection.
func (h *WSHandler) flush(conn *websocket.Conn, rc *relay.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case msg := <-rc.Events:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// supportedVersion accepts a missing version as the current one.
func supportedVersion(v string) bool {
	if v == "" {
		return true
	}
	n, err := strconv.Atoi(v)
	return err == nil && n == proto.ProtocolVersion
}

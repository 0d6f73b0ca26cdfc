package relay

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/admission"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

// Config holds relay tunables.
type Config struct {
	// HeartbeatTimeout is how long a connection may stay silent before it is
	// considered gone.
	HeartbeatTimeout time.Duration
	// SweepInterval is how often idle connections are looked for.
	SweepInterval time.Duration
	// ConnBuffer is the outbound buffer size of each connection.
	ConnBuffer int
}

// Relay terminates client connections, interprets signaling messages and
// keeps the registry and remote peers consistent. It holds no membership of
// its own; it always reads through the registry.
type Relay struct {
	registry  *core.Registry
	admission *admission.Controller
	cfg       Config
	clock     clock.Clock
	log       *zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// Option configures a Relay.
type Option func(*Relay)

// WithClock sets the clock used for liveness and timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Relay) { r.clock = c }
}

// New constructs a relay. ctl may be nil, in which case every join is admitted
// directly. When set, the relay installs itself as the controller's gateway.
func New(registry *core.Registry, ctl *admission.Controller, cfg Config, logger *zerolog.Logger, opts ...Option) *Relay {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.HeartbeatTimeout / 3
	}
	r := &Relay{
		registry:  registry,
		admission: ctl,
		cfg:       cfg,
		clock:     clock.New(),
		log:       logger,
		conns:     make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(r)
	}
	if ctl != nil {
		ctl.SetGateway(r)
	}
	return r
}

// Registry returns the room registry the relay reads through.
func (r *Relay) Registry() *core.Registry {
	return r.registry
}

// Admission returns the admission controller, or nil when disabled.
func (r *Relay) Admission() *admission.Controller {
	return r.admission
}

// NewConn builds a connection sized by the relay configuration.
func (r *Relay) NewConn(id string, identity Identity) *Conn {
	return NewConn(id, identity, r.cfg.ConnBuffer)
}

// Register makes a connection addressable.
func (r *Relay) Register(conn *Conn) {
	conn.touch(r.clock.Now())

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	r.log.Debug().Str("conn_id", conn.ID).Str("user_id", conn.Identity.UserID).Msg("connection registered")
}

// Conn returns a registered connection by id.
func (r *Relay) Conn(id string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// ConnCount returns the number of registered connections.
func (r *Relay) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ListParticipants returns the room snapshot from the registry.
func (r *Relay) ListParticipants(roomID string) ([]core.Participant, error) {
	return r.registry.ListParticipants(roomID)
}

// Disconnect removes a connection and everything it held: its participant
// (broadcasting the departure) and any pending admission request. Safe to
// call more than once.
func (r *Relay) Disconnect(conn *Conn, reason string) {
	roomID, joined, waiting, first := conn.markClosed(reason)
	if !first {
		return
	}

	r.mu.Lock()
	if r.conns[conn.ID] == conn {
		delete(r.conns, conn.ID)
	}
	r.mu.Unlock()

	if joined {
		if _, err := r.registry.Leave(roomID, conn.ID, r.broadcastLeft(conn.ID)); err != nil {
			r.log.Debug().Err(err).Str("conn_id", conn.ID).Msg("disconnect: leave")
		}
	}
	if waiting && r.admission != nil {
		r.admission.Withdraw(context.Background(), conn.ID)
	}

	conn.runOnClose()
	r.log.Info().Str("conn_id", conn.ID).Str("room_id", roomID).Str("reason", reason).Msg("connection closed")
}

// deliver sends msg to one participant. Failures are logged and never
// propagate to the caller so that one slow or closed peer cannot abort a broadcast.
func (r *Relay) deliver(participantID string, msg *proto.Message) bool {
	conn := r.Conn(participantID)
	if conn == nil {
		r.log.Debug().Str("participant_id", participantID).Str("type", msg.Type).Msg("deliver: no connection")
		return false
	}
	if !conn.Send(msg) {
		r.log.Warn().Str("participant_id", participantID).Str("type", msg.Type).Msg("deliver: dropped")
		return false
	}
	return true
}

// broadcast sends msg to every participant of snapshot except exclude.
func (r *Relay) broadcast(snapshot []core.Participant, exclude string, msg *proto.Message) {
	for _, p := range snapshot {
		if p.ID == exclude {
			continue
		}
		r.deliver(p.ID, msg)
	}
}

func (r *Relay) broadcastLeft(participantID string) func(core.LeaveResult) {
	return func(res core.LeaveResult) {
		msg := r.stamp(&proto.Message{
			Type:   proto.TypeMembershipDelta,
			RoomID: res.Participant.RoomID,
			Left:   participantID,
		})
		r.broadcast(res.Remaining, participantID, msg)
	}
}

func (r *Relay) stamp(msg *proto.Message) *proto.Message {
	return msg.Stamp(r.clock.Now())
}

func (r *Relay) reply(conn *Conn, msg *proto.Message) {
	if !conn.Send(r.stamp(msg)) {
		r.log.Warn().Str("conn_id", conn.ID).Str("type", msg.Type).Msg("reply dropped")
	}
}

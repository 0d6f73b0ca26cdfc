package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

// ErrRateLimited is returned when a send comes sooner than the minimum send
// interval allows. The message is dropped, not queued.
var ErrRateLimited = errors.New("send dropped by rate limiter")

// Config describes the room a session joins and how it stays connected.
type Config struct {
	// Servers are signaling URLs, tried in the order the selection policy picks.
	Servers []string

	RoomID         string
	UserID         string
	DisplayName    string
	Role           core.Role
	RequestMessage string

	SubscribeTimeout  time.Duration
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	MinSendInterval   time.Duration
	QueueSize         int
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Role == "" {
		c.Role = core.RoleParticipant
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = 10 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Session keeps one user connected to one room: it dials, joins, reconnects
// with backoff, and turns server messages into events.
type Session struct {
	cfg      Config
	dialer   Dialer
	listener Listener
	clock    clock.Clock
	log      *zerolog.Logger
	quality  QualityPolicy
	servers  ServerSelectionPolicy
	limiter  *rate.Limiter

	// sendMu orders writes so a flushed queue goes out before new sends.
	sendMu sync.Mutex

	mu            sync.Mutex
	state         State
	transport     Transport
	participantID string
	roster        map[string]core.Participant
	outbox        *outbox
	grade         Quality
	stats         NetworkStats
	pingSent      time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock driving timeouts, backoff and heartbeats.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the session logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithQualityPolicy replaces the default quality thresholds.
func WithQualityPolicy(p QualityPolicy) Option {
	return func(s *Session) { s.quality = p }
}

// WithServerSelection replaces the round-robin server choice.
func WithServerSelection(p ServerSelectionPolicy) Option {
	return func(s *Session) { s.servers = p }
}

// New constructs a disconnected session.
func New(cfg Config, dialer Dialer, listener Listener, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	if listener == nil {
		listener = ListenerFunc(func(Event) {})
	}
	nop := zerolog.Nop()
	s := &Session{
		cfg:      cfg,
		dialer:   dialer,
		listener: listener,
		clock:    clock.New(),
		log:      &nop,
		quality:  DefaultQualityPolicy(),
		servers:  RoundRobin{},
		roster:   make(map[string]core.Participant),
		outbox:   newOutbox(cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}

	limit := rate.Inf
	if cfg.MinSendInterval > 0 {
		limit = rate.Every(cfg.MinSendInterval)
	}
	s.limiter = rate.NewLimiter(limit, 1)
	return s
}

// Connect starts connecting in the background. Progress is reported through
// StateChanged events. ctx bounds the whole session.
func (s *Session) Connect(ctx context.Context) error {
	if len(s.cfg.Servers) == 0 {
		return core.ValidationError("at least one server is required")
	}
	if s.cfg.RoomID == "" || s.cfg.UserID == "" || s.cfg.DisplayName == "" {
		return core.ValidationError("roomId, userId and displayName are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return core.ValidationError("session already started")
		}
	}
	s.startLocked(ctx)
	return nil
}

// Retry restarts a session that reached StateFailed.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailed {
		return core.ValidationError("retry is only possible after the session failed")
	}
	s.startLocked(ctx)
	return nil
}

func (s *Session) startLocked(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
}

// Close disconnects and waits for the background loop to stop. It must not
// be called from a Listener.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.transition(StateDisconnected, nil)
	return nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ParticipantID is the server-assigned id of the current connection, empty
// until joined.
func (s *Session) ParticipantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantID
}

// Participants returns the other participants of the room in join order.
func (s *Session) Participants() []core.Participant {
	s.mu.Lock()
	out := make([]core.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, p)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Quality returns the latest quality grade.
func (s *Session) Quality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grade
}

// SendNegotiationMessage relays an opaque payload to another participant.
func (s *Session) SendNegotiationMessage(ctx context.Context, to string, payload []byte) error {
	return s.send(ctx, &proto.Message{Type: proto.TypeNegotiation, ToParticipantID: to, Payload: payload}, true)
}

// UpdateMediaState publishes a change of the local media state.
func (s *Session) UpdateMediaState(ctx context.Context, patch core.MediaPatch) error {
	return s.send(ctx, &proto.Message{Type: proto.TypeMediaState, Partial: &patch}, true)
}

// Admit lets a waiting candidate in. Requires the host or moderator role.
func (s *Session) Admit(ctx context.Context, candidateID string) error {
	return s.send(ctx, &proto.Message{Type: proto.TypeAdmit, CandidateID: candidateID}, true)
}

// Deny turns a waiting candidate away.
func (s *Session) Deny(ctx context.Context, candidateID, reason string) error {
	return s.send(ctx, &proto.Message{Type: proto.TypeDeny, CandidateID: candidateID, Reason: reason}, true)
}

// AdmitAll lets every waiting candidate in. The count arrives as AdmitAllCompleted.
func (s *Session) AdmitAll(ctx context.Context) error {
	return s.send(ctx, &proto.Message{Type: proto.TypeAdmitAll}, true)
}

// Leave announces the departure when connected and closes the session.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	pid, state := s.participantID, s.state
	s.mu.Unlock()

	var err error
	if state == StateConnected && pid != "" {
		err = s.send(ctx, &proto.Message{Type: proto.TypeLeave, ParticipantID: pid}, false)
	}
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// ReportNetworkStats feeds measurements from the media layer into the quality
// policy. Heartbeat bookkeeping stays with the session.
func (s *Session) ReportNetworkStats(stats NetworkStats) {
	s.mu.Lock()
	if stats.RTT > 0 {
		s.stats.RTT = stats.RTT
	}
	s.stats.PacketLoss = stats.PacketLoss
	s.stats.Jitter = stats.Jitter
	current := s.stats
	s.mu.Unlock()

	s.assess(current)
}

// send writes msg now when connected and queues it otherwise. limited sends
// go through the rate limiter first.
func (s *Session) send(ctx context.Context, msg *proto.Message, limited bool) error {
	msg.RoomID = s.cfg.RoomID
	if err := msg.Validate(); err != nil {
		return err
	}
	if limited && !s.limiter.AllowN(s.clock.Now(), 1) {
		s.log.Debug().Str("type", msg.Type).Msg("send rate limited")
		return ErrRateLimited
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	state, t := s.state, s.transport
	if state == StateFailed {
		s.mu.Unlock()
		return core.ConnectionLostError("session failed, call Retry to reconnect")
	}
	if state.queues() || t == nil {
		dropped := s.outbox.push(msg)
		s.mu.Unlock()
		if dropped > 0 {
			s.log.Warn().Int("dropped", dropped).Msg("outbound queue full, dropped oldest")
		}
		return nil
	}
	s.mu.Unlock()

	if err := s.write(ctx, t, msg); err != nil {
		return core.ConnectionLostError("send: " + err.Error())
	}
	return nil
}

// write sends one message. Callers hold sendMu.
func (s *Session) write(ctx context.Context, t Transport, msg *proto.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return t.Send(ctx, msg.Stamp(s.clock.Now()))
}

func (s *Session) transition(to State, err error) {
	s.transitionRetry(to, 0, 0, err)
}

func (s *Session) transitionRetry(to State, attempt int, delay time.Duration, err error) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	ev := s.log.Debug()
	if err != nil {
		ev = s.log.Info().Err(err)
	}
	ev.Str("room_id", s.cfg.RoomID).Str("from", from.String()).Str("to", to.String()).Msg("session state changed")
	s.emit(StateChanged{From: from, To: to, Attempt: attempt, Delay: delay, Err: err})
}

func (s *Session) assess(stats NetworkStats) {
	s.setQuality(s.quality.Evaluate(stats), stats)
}

func (s *Session) setQuality(q Quality, stats NetworkStats) {
	s.mu.Lock()
	if s.grade == q {
		s.mu.Unlock()
		return
	}
	s.grade = q
	s.mu.Unlock()

	s.emit(ConnectionQualityChanged{Quality: q, Stats: stats})
}

func (s *Session) emit(e Event) {
	s.listener.HandleEvent(e)
}

// newBackoff yields BaseDelay, 2*BaseDelay, ... and stops after retries delays.
func (s *Session) newBackoff(retries int) retry.Backoff {
	b := retry.NewExponential(s.cfg.BaseDelay)
	if s.cfg.MaxDelay > 0 {
		b = retry.WithCappedDuration(s.cfg.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(retries), b)
}

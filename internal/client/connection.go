package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

var errDenied = errors.New("admission denied")

// run drives the session until ctx ends, admission is denied or reconnection
// gives up.
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// The first dial of a session counts against MaxAttempts; after a loss
	// every one of the next MaxAttempts dials gets its own retry slot.
	backoff := s.newBackoff(s.cfg.MaxAttempts - 1)
	failures, retries := 0, 0
	for {
		connected, err := s.connectOnce(ctx, retries)
		if ctx.Err() != nil {
			s.transition(StateDisconnected, nil)
			return
		}
		if errors.Is(err, errDenied) {
			s.transition(StateDisconnected, err)
			return
		}
		if connected {
			failures, retries = 0, 0
			backoff = s.newBackoff(s.cfg.MaxAttempts)
			s.emit(ConnectionLost{Err: err})
		} else {
			failures++
		}

		delay, stop := backoff.Next()
		if stop {
			s.log.Warn().Err(err).Int("attempts", failures).Str("room_id", s.cfg.RoomID).Msg("giving up reconnecting")
			s.transition(StateFailed, err)
			s.emit(ConnectionFailed{Attempts: failures, Err: err})
			return
		}
		retries++

		timer := s.clock.Timer(delay)
		s.transitionRetry(StateReconnecting, retries, delay, err)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.transition(StateDisconnected, nil)
			return
		case <-timer.C:
		}
	}
}

// connectOnce dials, joins and serves one connection. connected reports
// whether the join was confirmed before the connection ended.
func (s *Session) connectOnce(ctx context.Context, attempt int) (connected bool, err error) {
	url := s.servers.Select(s.cfg.Servers, attempt)
	s.transition(StateConnecting, nil)

	dialCtx, cancelDial := context.WithTimeout(ctx, s.cfg.SubscribeTimeout)
	t, err := s.dialer.Dial(dialCtx, url)
	cancelDial()
	if err != nil {
		return false, core.ConnectionLostError(fmt.Sprintf("connect %s: %v", url, err))
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		_ = t.Close()
		s.detach()
	}()

	inbound := make(chan *proto.Message, 16)
	readErr := make(chan error, 1)
	go s.readLoop(connCtx, t, inbound, readErr)

	joined, err := s.subscribe(connCtx, t, inbound, readErr)
	if err != nil {
		return false, err
	}
	return true, s.serve(connCtx, t, joined, inbound, readErr)
}

func (s *Session) readLoop(ctx context.Context, t Transport, inbound chan<- *proto.Message, readErr chan<- error) {
	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// subscribe sends the join and waits for the room to confirm it. A waiting
// room reply stops the clock: approval may take as long as the host needs,
// and heartbeats keep the parked connection alive meanwhile.
func (s *Session) subscribe(ctx context.Context, t Transport, inbound <-chan *proto.Message, readErr <-chan error) (*proto.Message, error) {
	timer := s.clock.Timer(s.cfg.SubscribeTimeout)
	defer timer.Stop()
	var (
		ticker     *clock.Ticker
		heartbeats <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	s.transition(StateSubscribing, nil)

	join := &proto.Message{
		Type:           proto.TypeJoin,
		RoomID:         s.cfg.RoomID,
		UserID:         s.cfg.UserID,
		DisplayName:    s.cfg.DisplayName,
		Role:           s.cfg.Role,
		RequestMessage: s.cfg.RequestMessage,
	}
	s.sendMu.Lock()
	err := s.write(ctx, t, join)
	s.sendMu.Unlock()
	if err != nil {
		return nil, core.ConnectionLostError("send join: " + err.Error())
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-readErr:
			return nil, core.ConnectionLostError("transport closed: " + err.Error())
		case <-timer.C:
			return nil, core.TimeoutError(fmt.Sprintf("join not confirmed within %s", s.cfg.SubscribeTimeout))
		case <-heartbeats:
			if err := s.heartbeat(ctx, t); err != nil {
				return nil, core.ConnectionLostError("heartbeat: " + err.Error())
			}
		case msg := <-inbound:
			switch msg.Type {
			case proto.TypeJoined:
				return msg, nil
			case proto.TypeWaiting:
				timer.Stop()
				if ticker == nil {
					ticker = s.clock.Ticker(s.cfg.HeartbeatInterval)
					heartbeats = ticker.C
				}
				s.emit(AdmissionChanged{Status: AdmissionWaiting, Reason: msg.Reason})
			case proto.TypeAdmitted:
				s.emit(AdmissionChanged{Status: AdmissionAdmitted})
			case proto.TypeDenied:
				s.emit(AdmissionChanged{Status: AdmissionDenied, Reason: msg.Reason})
				return nil, fmt.Errorf("%w: %s", errDenied, msg.Reason)
			case proto.TypeHeartbeat:
				s.heartbeatAck()
			case proto.TypeError:
				return nil, msg.Err()
			default:
				s.log.Debug().Str("type", msg.Type).Msg("ignoring message before join confirmation")
			}
		}
	}
}

func (s *Session) serve(ctx context.Context, t Transport, joined *proto.Message, inbound <-chan *proto.Message, readErr <-chan error) error {
	ticker := s.clock.Ticker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	s.establish(ctx, t, joined)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return core.ConnectionLostError("transport closed: " + err.Error())
		case msg := <-inbound:
			s.dispatch(msg)
		case <-ticker.C:
			if err := s.heartbeat(ctx, t); err != nil {
				s.mu.Lock()
				stats := s.stats
				s.mu.Unlock()
				s.setQuality(QualityLost, stats)
				return core.ConnectionLostError("heartbeat: " + err.Error())
			}
		}
	}
}

// establish switches to StateConnected and flushes the queue in send order.
// Nothing can be sent in between because sendMu is held.
func (s *Session) establish(ctx context.Context, t Transport, joined *proto.Message) {
	s.sendMu.Lock()
	s.mu.Lock()
	from := s.state
	s.state = StateConnected
	s.transport = t
	s.pingSent = time.Time{}
	s.stats.MissedHeartbeats = 0
	if joined.Self != nil {
		s.participantID = joined.Self.ID
	}
	added, removed := s.resetRosterLocked(joined.Participants)
	queued := s.outbox.drain()
	s.mu.Unlock()

	flushed := 0
	for i, msg := range queued {
		if _, err := json.Marshal(msg); err != nil {
			s.log.Warn().Err(err).Str("type", msg.Type).Msg("dropping unencodable queued message")
			continue
		}
		if err := s.write(ctx, t, msg); err != nil {
			// Keep the rest for the next connection.
			s.mu.Lock()
			for _, rest := range queued[i:] {
				s.outbox.push(rest)
			}
			s.mu.Unlock()
			s.log.Warn().Err(err).Int("unsent", len(queued)-i).Msg("flush queued messages")
			break
		}
		flushed++
	}
	s.sendMu.Unlock()

	s.log.Info().Str("room_id", s.cfg.RoomID).Str("participant_id", s.ParticipantID()).
		Int("flushed", flushed).Msg("session connected")
	s.emit(StateChanged{From: from, To: StateConnected})
	for _, p := range removed {
		s.emit(ParticipantLeft{Participant: p})
	}
	for _, p := range added {
		s.emit(ParticipantJoined{Participant: p})
	}
}

// detach forgets the transport of a connection that ended.
func (s *Session) detach() {
	s.mu.Lock()
	s.transport = nil
	s.mu.Unlock()
}

func (s *Session) heartbeat(ctx context.Context, t Transport) error {
	s.mu.Lock()
	missed := !s.pingSent.IsZero()
	if missed {
		s.stats.MissedHeartbeats++
	}
	s.pingSent = s.clock.Now()
	stats := s.stats
	s.mu.Unlock()

	if missed {
		s.assess(stats)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.write(ctx, t, &proto.Message{Type: proto.TypeHeartbeat, RoomID: s.cfg.RoomID})
}

func (s *Session) heartbeatAck() {
	s.mu.Lock()
	if s.pingSent.IsZero() {
		s.mu.Unlock()
		return
	}
	s.stats.RTT = s.clock.Since(s.pingSent)
	s.stats.MissedHeartbeats = 0
	s.pingSent = time.Time{}
	stats := s.stats
	s.mu.Unlock()

	s.assess(stats)
}

func (s *Session) dispatch(msg *proto.Message) {
	switch msg.Type {
	case proto.TypeMembershipDelta:
		if msg.Joined != nil {
			p := *msg.Joined
			s.mu.Lock()
			s.roster[p.ID] = p
			s.mu.Unlock()
			s.emit(ParticipantJoined{Participant: p})
		}
		if msg.Left != "" {
			s.mu.Lock()
			p, ok := s.roster[msg.Left]
			delete(s.roster, msg.Left)
			s.mu.Unlock()
			if !ok {
				p = core.Participant{ID: msg.Left, RoomID: msg.RoomID}
			}
			s.emit(ParticipantLeft{Participant: p})
		}
	case proto.TypeMediaState:
		if msg.State == nil {
			return
		}
		p := *msg.State
		s.mu.Lock()
		s.roster[p.ID] = p
		s.mu.Unlock()
		var partial core.MediaPatch
		if msg.Partial != nil {
			partial = *msg.Partial
		}
		s.emit(MediaStateChanged{Participant: p, Partial: partial})
	case proto.TypeNegotiation:
		s.emit(NegotiationReceived{From: msg.FromParticipantID, Payload: msg.Payload})
	case proto.TypeAdmissionRequest:
		s.emit(AdmissionRequested{
			CandidateID: msg.CandidateID,
			UserID:      msg.UserID,
			DisplayName: msg.DisplayName,
			Message:     msg.RequestMessage,
		})
	case proto.TypeAdmitAllResult:
		s.emit(AdmitAllCompleted{Count: msg.Count})
	case proto.TypeHeartbeat:
		s.heartbeatAck()
	case proto.TypeJoined:
		s.mu.Lock()
		added, removed := s.resetRosterLocked(msg.Participants)
		s.mu.Unlock()
		for _, p := range removed {
			s.emit(ParticipantLeft{Participant: p})
		}
		for _, p := range added {
			s.emit(ParticipantJoined{Participant: p})
		}
	case proto.TypeError:
		s.emit(ServerError{Err: msg.Err()})
	default:
		s.log.Debug().Str("type", msg.Type).Msg("ignoring message")
	}
}

// resetRosterLocked replaces the roster with a fresh snapshot and returns the
// differences. The local participant is never part of the roster.
func (s *Session) resetRosterLocked(snapshot []core.Participant) (added, removed []core.Participant) {
	next := make(map[string]core.Participant, len(snapshot))
	for _, p := range snapshot {
		if p.ID == s.participantID {
			continue
		}
		next[p.ID] = p
		if _, ok := s.roster[p.ID]; !ok {
			added = append(added, p)
		}
	}
	for id, p := range s.roster {
		if _, ok := next[id]; !ok {
			removed = append(removed, p)
		}
	}
	s.roster = next
	return added, removed
}

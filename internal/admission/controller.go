package admission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/store"
)

const resolvedHistory = 4096

// Gateway is how the controller reaches participants and the registry.
type Gateway interface {
	// Promote joins an approved candidate into its room and tells it so.
	Promote(ctx context.Context, req Request) error
	// NotifyReviewers tells the room's hosts and moderators about a new request.
	NotifyReviewers(req Request)
	// NotifyDenied tells a candidate its request was turned down.
	NotifyDenied(req Request, reason string)
}

// Config holds controller tunables.
type Config struct {
	Defaults       Settings
	AutoAdmitDelay time.Duration
}

// Controller gates room entry through a pending-request workflow.
type Controller struct {
	mu       sync.Mutex
	pending  map[string]*Request // candidate id -> request
	resolved map[string]Status
	order    []string // resolved ids, oldest first
	settings map[string]Settings
	seq      uint64

	cfg     Config
	gateway Gateway
	store   store.Store
	clock   clock.Clock
	log     *zerolog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock that schedules auto-admission.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithStore persists settings and decisions. Without a store settings live in memory.
func WithStore(st store.Store) Option {
	return func(ctl *Controller) { ctl.store = st }
}

// New constructs a controller.
func New(cfg Config, gateway Gateway, logger *zerolog.Logger, opts ...Option) *Controller {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	c := &Controller{
		pending:  make(map[string]*Request),
		resolved: make(map[string]Status),
		settings: make(map[string]Settings),
		cfg:      cfg,
		gateway:  gateway,
		clock:    clock.New(),
		log:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetGateway replaces the gateway. The relay and the controller reference each
// other, so the relay installs itself after construction.
func (c *Controller) SetGateway(g Gateway) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gateway = g
}

// Settings returns the effective settings of a room.
func (c *Controller) Settings(ctx context.Context, roomID string) Settings {
	c.mu.Lock()
	s, ok := c.settings[roomID]
	c.mu.Unlock()
	if ok {
		return s
	}

	s = c.cfg.Defaults
	if c.store != nil {
		rs, err := c.store.GetRoomSettings(ctx, roomID)
		switch {
		case err == nil:
			s = Settings{Enabled: rs.WaitingRoom, Capacity: rs.Capacity, AutoAdmit: rs.AutoAdmit}
		case errors.Is(err, store.ErrNotFound):
		default:
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("load room settings")
			return s
		}
	}

	c.mu.Lock()
	if cached, ok := c.settings[roomID]; ok {
		s = cached
	} else {
		c.settings[roomID] = s
	}
	c.mu.Unlock()
	return s
}

// UpdateSettings stores new settings for a room. Turning the waiting room off
// admits everyone still waiting.
func (c *Controller) UpdateSettings(ctx context.Context, roomID, reviewer string, s Settings) error {
	if roomID == "" {
		return core.ValidationError("roomId is required")
	}
	if s.Capacity < 0 {
		return core.ValidationError("capacity must not be negative")
	}
	if c.store != nil {
		err := c.store.SaveRoomSettings(ctx, &store.RoomSettings{
			RoomID:      roomID,
			WaitingRoom: s.Enabled,
			Capacity:    s.Capacity,
			AutoAdmit:   s.AutoAdmit,
			UpdatedAt:   c.clock.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}

	c.mu.Lock()
	c.settings[roomID] = s
	c.mu.Unlock()

	c.log.Info().Str("room_id", roomID).Bool("enabled", s.Enabled).Int("capacity", s.Capacity).
		Bool("auto_admit", s.AutoAdmit).Msg("admission settings updated")

	if !s.Enabled || s.AutoAdmit {
		if _, err := c.AdmitAll(ctx, roomID, reviewer); err != nil {
			return err
		}
	}
	return nil
}

// RequestToJoin admits the candidate directly when the room has no waiting
// room, rejects it when the waiting room is full, and otherwise parks it as
// pending. A second request for the same user and room replaces the first.
func (c *Controller) RequestToJoin(ctx context.Context, cand Candidate) (Decision, error) {
	if cand.ID == "" || cand.RoomID == "" || cand.UserID == "" {
		return Decision{}, core.ValidationError("candidate id, roomId and userId are required")
	}

	settings := c.Settings(ctx, cand.RoomID)
	if !settings.Enabled {
		req := Request{Candidate: cand, RequestedAt: c.clock.Now(), Status: StatusApproved}
		if err := c.gateway.Promote(ctx, req); err != nil {
			return Decision{}, err
		}
		return Decision{Outcome: OutcomeAdmitted, Message: "admitted"}, nil
	}

	c.mu.Lock()
	prior := c.findLocked(cand.RoomID, cand.UserID)
	waiting := c.countLocked(cand.RoomID)
	if prior != nil {
		waiting--
	}
	if settings.Capacity > 0 && waiting >= settings.Capacity {
		c.mu.Unlock()
		c.log.Info().Str("room_id", cand.RoomID).Str("user_id", cand.UserID).Msg("waiting room full")
		return Decision{Outcome: OutcomeDenied, Message: ReasonFull}, nil
	}

	if prior != nil {
		c.resolveLocked(prior, StatusDenied, "", ReasonSuperseded)
	}

	c.seq++
	req := &Request{
		Candidate:   cand,
		RequestedAt: c.clock.Now(),
		Status:      StatusPending,
		seq:         c.seq,
	}
	c.pending[cand.ID] = req
	if settings.AutoAdmit {
		id := cand.ID
		req.timer = c.clock.AfterFunc(c.cfg.AutoAdmitDelay, func() {
			if _, err := c.admit(context.Background(), id, "auto"); err != nil {
				c.log.Warn().Err(err).Str("candidate_id", id).Msg("auto admit failed")
			}
		})
	}
	snapshot := *req
	c.mu.Unlock()

	if prior != nil {
		c.log.Info().Str("room_id", cand.RoomID).Str("candidate_id", prior.ID).Msg("admission request superseded")
		c.record(ctx, *prior, store.DecisionSuperseded)
		if prior.ID != cand.ID {
			c.gateway.NotifyDenied(*prior, ReasonSuperseded)
		}
	}

	c.gateway.NotifyReviewers(snapshot)
	c.log.Info().Str("room_id", cand.RoomID).Str("candidate_id", cand.ID).Str("user_id", cand.UserID).
		Msg("admission request pending")
	return Decision{Outcome: OutcomeWaiting, Message: "waiting for host approval"}, nil
}

// Admit approves a pending request and promotes the candidate. Admitting an
// already resolved request is a no-op.
func (c *Controller) Admit(ctx context.Context, candidateID, reviewer string) error {
	_, err := c.admit(ctx, candidateID, reviewer)
	return err
}

func (c *Controller) admit(ctx context.Context, candidateID, reviewer string) (bool, error) {
	c.mu.Lock()
	req, ok := c.pending[candidateID]
	if !ok {
		_, done := c.resolved[candidateID]
		c.mu.Unlock()
		if done {
			return false, nil
		}
		return false, core.NotFoundError("admission request not found")
	}
	c.resolveLocked(req, StatusApproved, reviewer, "")
	snapshot := *req
	c.mu.Unlock()

	c.record(ctx, snapshot, store.DecisionApproved)
	if err := c.gateway.Promote(ctx, snapshot); err != nil {
		c.log.Warn().Err(err).Str("candidate_id", candidateID).Msg("promote admitted candidate")
		return false, err
	}
	c.log.Info().Str("room_id", snapshot.RoomID).Str("candidate_id", candidateID).Str("reviewer", reviewer).
		Msg("candidate admitted")
	return true, nil
}

// Deny rejects a pending request. Denying an already resolved request is a no-op.
func (c *Controller) Deny(ctx context.Context, candidateID, reviewer, reason string) error {
	c.mu.Lock()
	req, ok := c.pending[candidateID]
	if !ok {
		_, done := c.resolved[candidateID]
		c.mu.Unlock()
		if done {
			return nil
		}
		return core.NotFoundError("admission request not found")
	}
	c.resolveLocked(req, StatusDenied, reviewer, reason)
	snapshot := *req
	c.mu.Unlock()

	c.record(ctx, snapshot, store.DecisionDenied)
	c.gateway.NotifyDenied(snapshot, reason)
	c.log.Info().Str("room_id", snapshot.RoomID).Str("candidate_id", candidateID).Str("reviewer", reviewer).
		Msg("candidate denied")
	return nil
}

// AdmitAll admits every pending candidate of a room in arrival order.
// Candidates whose promotion fails are skipped. Cancelling ctx stops the loop
// between candidates.
func (c *Controller) AdmitAll(ctx context.Context, roomID, reviewer string) (int, error) {
	ids := make([]string, 0)
	for _, req := range c.Pending(roomID) {
		ids = append(ids, req.ID)
	}

	admitted := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return admitted, err
		}
		ok, err := c.admit(ctx, id, reviewer)
		if err != nil {
			c.log.Debug().Err(err).Str("candidate_id", id).Msg("admit all: skipping candidate")
			continue
		}
		if ok {
			admitted++
		}
	}
	return admitted, nil
}

// Withdraw drops a pending request whose candidate went away.
func (c *Controller) Withdraw(ctx context.Context, candidateID string) bool {
	c.mu.Lock()
	req, ok := c.pending[candidateID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.resolveLocked(req, StatusDenied, "", "withdrawn")
	snapshot := *req
	c.mu.Unlock()

	c.record(ctx, snapshot, store.DecisionWithdrawn)
	c.log.Debug().Str("room_id", snapshot.RoomID).Str("candidate_id", candidateID).Msg("admission request withdrawn")
	return true
}

// Pending returns the pending requests of a room in arrival order.
func (c *Controller) Pending(roomID string) []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Request, 0)
	for _, req := range c.pending {
		if req.RoomID == roomID {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Request returns a pending request by candidate id.
func (c *Controller) Request(candidateID string) (Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[candidateID]
	if !ok {
		return Request{}, core.NotFoundError("admission request not found")
	}
	return *req, nil
}

// Decisions returns the audit trail of a room, newest first.
func (c *Controller) Decisions(ctx context.Context, roomID string, limit int) ([]*store.AdmissionRecord, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.ListDecisions(ctx, roomID, limit)
}

func (c *Controller) findLocked(roomID, userID string) *Request {
	for _, req := range c.pending {
		if req.RoomID == roomID && req.UserID == userID {
			return req
		}
	}
	return nil
}

func (c *Controller) countLocked(roomID string) int {
	n := 0
	for _, req := range c.pending {
		if req.RoomID == roomID {
			n++
		}
	}
	return n
}

// resolveLocked moves req out of the pending set and remembers the outcome so
// repeated decisions are no-ops.
func (c *Controller) resolveLocked(req *Request, status Status, reviewer, reason string) {
	delete(c.pending, req.ID)
	if req.timer != nil {
		req.timer.Stop()
		req.timer = nil
	}
	req.Status = status
	req.Reviewer = reviewer
	req.Reason = reason

	if _, seen := c.resolved[req.ID]; !seen {
		c.order = append(c.order, req.ID)
	}
	c.resolved[req.ID] = status
	if len(c.order) > resolvedHistory {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.resolved, oldest)
	}
}

func (c *Controller) record(ctx context.Context, req Request, status store.DecisionStatus) {
	if c.store == nil {
		return
	}
	err := c.store.RecordDecision(ctx, &store.AdmissionRecord{
		RoomID:      req.RoomID,
		CandidateID: req.ID,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Status:      status,
		Reviewer:    req.Reviewer,
		Reason:      req.Reason,
		RequestedAt: req.RequestedAt,
		DecidedAt:   c.clock.Now(),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("candidate_id", req.ID).Msg("record admission decision")
	}
}

package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/store"
	"github.com/vovakirdan/wirechat-signaling/internal/store/sqlite"
)

// fakeGateway promotes candidates straight into a registry.
type fakeGateway struct {
	reg *core.Registry

	mu       sync.Mutex
	promoted []string
	reviewed []string
	denied   map[string]string
	failFor  map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		reg:     core.NewRegistry(),
		denied:  make(map[string]string),
		failFor: make(map[string]bool),
	}
}

func (g *fakeGateway) Promote(_ context.Context, req Request) error {
	g.mu.Lock()
	fail := g.failFor[req.ID]
	g.mu.Unlock()
	if fail {
		return core.ConnectionLostError("candidate connection closed")
	}

	_, err := g.reg.Join(req.RoomID, core.Participant{
		ID:          req.ID,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Role:        core.RoleParticipant,
	}, nil)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.promoted = append(g.promoted, req.ID)
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) NotifyReviewers(req Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reviewed = append(g.reviewed, req.ID)
}

func (g *fakeGateway) NotifyDenied(req Request, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.denied[req.ID] = reason
}

func (g *fakeGateway) promotedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.promoted...)
}

func newTestController(t *testing.T, defaults Settings, opts ...Option) (*Controller, *fakeGateway) {
	t.Helper()

	gw := newFakeGateway()
	logger := zerolog.Nop()
	ctl := New(Config{Defaults: defaults, AutoAdmitDelay: 500 * time.Millisecond}, gw, &logger, opts...)
	return ctl, gw
}

func candidate(id, user string) Candidate {
	return Candidate{ID: id, UserID: user, DisplayName: user, RoomID: "R1", Role: core.RoleParticipant}
}

func TestRequestToJoinDisabledAdmitsImmediately(t *testing.T) {
	ctl, gw := newTestController(t, Settings{})

	dec, err := ctl.RequestToJoin(context.Background(), candidate("c1", "alice"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if dec.Outcome != OutcomeAdmitted {
		t.Fatalf("expected admitted, got %s", dec.Outcome)
	}
	if gw.reg.Count("R1") != 1 {
		t.Fatalf("expected candidate to be promoted")
	}
	if len(ctl.Pending("R1")) != 0 {
		t.Fatalf("disabled rooms must not keep pending requests")
	}
}

func TestWaitingRoomCapacityScenario(t *testing.T) {
	ctl, gw := newTestController(t, Settings{Enabled: true, Capacity: 2})
	ctx := context.Background()

	want := []Outcome{OutcomeWaiting, OutcomeWaiting, OutcomeDenied}
	for i, user := range []string{"alice", "bob", "carol"} {
		dec, err := ctl.RequestToJoin(ctx, candidate("c"+user, user))
		if err != nil {
			t.Fatalf("request %s: %v", user, err)
		}
		if dec.Outcome != want[i] {
			t.Fatalf("request %s: expected %s, got %s", user, want[i], dec.Outcome)
		}
	}

	pending := ctl.Pending("R1")
	if len(pending) != 2 || pending[0].ID != "calice" || pending[1].ID != "cbob" {
		t.Fatalf("denied request must not enter the pending set: %+v", pending)
	}

	if err := ctl.Admit(ctx, "calice", "host"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	list, err := gw.reg.ListParticipants("R1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "calice" {
		t.Fatalf("expected exactly alice in the room, got %+v", list)
	}
	if len(gw.reviewed) != 2 {
		t.Fatalf("expected reviewers notified twice, got %d", len(gw.reviewed))
	}
}

func TestAdmitIsIdempotent(t *testing.T) {
	ctl, gw := newTestController(t, Settings{Enabled: true})
	ctx := context.Background()

	if _, err := ctl.RequestToJoin(ctx, candidate("c1", "alice")); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := ctl.Admit(ctx, "c1", "host"); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if err := ctl.Admit(ctx, "c1", "host"); err != nil {
		t.Fatalf("second admit must be a no-op, got %v", err)
	}
	if gw.reg.Count("R1") != 1 || len(gw.promotedIDs()) != 1 {
		t.Fatalf("second admit changed membership")
	}
}

func TestResolvedRequestsCannotBeRedecided(t *testing.T) {
	ctl, gw := newTestController(t, Settings{Enabled: true})
	ctx := context.Background()

	if _, err := ctl.RequestToJoin(ctx, candidate("c1", "alice")); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := ctl.Deny(ctx, "c1", "host", "not today"); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if gw.denied["c1"] != "not today" {
		t.Fatalf("candidate not notified with reason: %+v", gw.denied)
	}

	if err := ctl.Admit(ctx, "c1", "host"); err != nil {
		t.Fatalf("admit after deny must be a no-op, got %v", err)
	}
	if err := ctl.Deny(ctx, "c1", "host", ""); err != nil {
		t.Fatalf("second deny must be a no-op, got %v", err)
	}
	if gw.reg.Count("R1") != 0 {
		t.Fatalf("denied candidate was promoted")
	}
}

func TestDecisionsOnUnknownCandidate(t *testing.T) {
	ctl, _ := newTestController(t, Settings{Enabled: true})
	ctx := context.Background()

	if err := ctl.Admit(ctx, "ghost", "host"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on admit, got %v", err)
	}
	if err := ctl.Deny(ctx, "ghost", "host", ""); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on deny, got %v", err)
	}
}

func TestDuplicateRequestReplacesPrior(t *testing.T) {
	ctl, gw := newTestController(t, Settings{Enabled: true, Capacity: 1})
	ctx := context.Background()

	if _, err := ctl.RequestToJoin(ctx, candidate("c1", "alice")); err != nil {
		t.Fatalf("first request: %v", err)
	}
	dec, err := ctl.RequestToJoin(ctx, candidate("c2", "alice"))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if dec.Outcome != OutcomeWaiting {
		t.Fatalf("replacement must not count against capacity, got %s", dec.Outcome)
	}

	pending := ctl.Pending("R1")
	if len(pending) != 1 || pending[0].ID != "c2" {
		t.Fatalf("expected only the newer request pending, got %+v", pending)
	}
	if gw.denied["c1"] != ReasonSuperseded {
		t.Fatalf("expected prior candidate to be told it was superseded, got %+v", gw.denied)
	}
	if err := ctl.Admit(ctx, "c1", "host"); err != nil {
		t.Fatalf("admitting a superseded request must be a no-op, got %v", err)
	}
	if gw.reg.Count("R1") != 0 {
		t.Fatalf("superseded request was promoted")
	}
}

func TestAdmitAllInArrivalOrderSkipsFailures(t *testing.T) {
	ctl, gw := newTestController(t, Settings{Enabled: true})
	ctx := context.Background()

	for _, user := range []string{"alice", "bob", "carol", "dave"} {
		if _, err := ctl.RequestToJoin(ctx, candidate("c"+user, user)); err != nil {
			t.Fatalf("request %s: %v", user, err)
		}
	}
	gw.failFor["cbob"] = true

	n, err := ctl.AdmitAll(ctx, "R1", "host")
	if err != nil {
		t.Fatalf("admit all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 admitted, got %d", n)
	}

	got := gw.promotedIDs()
	want := []string{"calice", "ccarol", "cdave"}
	if len(got) != len(want) {
		t.Fatalf("unexpected promotions %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected arrival order %v, got %v", want, got)
		}
	}
	if len(ctl.Pending("R1")) != 0 {
		t.Fatalf("pending set should be drained")
	}
}

func TestAdmitAllStopsWhenCancelled(t *testing.T) {
	ctl, gw := newTestController(t, Settings{Enabled: true})

	for _, user := range []string{"alice", "bob"} {
		if _, err := ctl.RequestToJoin(context.Background(), candidate("c"+user, user)); err != nil {
			t.Fatalf("request %s: %v", user, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := ctl.AdmitAll(ctx, "R1", "host")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 0 || gw.reg.Count("R1") != 0 {
		t.Fatalf("cancelled admit all must not promote anyone")
	}
	if len(ctl.Pending("R1")) != 2 {
		t.Fatalf("cancelled admit all must leave requests pending")
	}
}

func TestAutoAdmitAfterDelay(t *testing.T) {
	mock := clock.NewMock()
	ctl, gw := newTestController(t, Settings{Enabled: true, AutoAdmit: true}, WithClock(mock))

	dec, err := ctl.RequestToJoin(context.Background(), candidate("c1", "alice"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if dec.Outcome != OutcomeWaiting {
		t.Fatalf("auto admit still starts in the waiting state, got %s", dec.Outcome)
	}
	if gw.reg.Count("R1") != 0 {
		t.Fatalf("candidate admitted before the delay elapsed")
	}

	mock.Add(500 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for gw.reg.Count("R1") != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("candidate was not auto admitted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWithdrawDropsPending(t *testing.T) {
	ctl, _ := newTestController(t, Settings{Enabled: true})
	ctx := context.Background()

	if _, err := ctl.RequestToJoin(ctx, candidate("c1", "alice")); err != nil {
		t.Fatalf("request: %v", err)
	}
	if !ctl.Withdraw(ctx, "c1") {
		t.Fatalf("expected withdraw to remove the request")
	}
	if ctl.Withdraw(ctx, "c1") {
		t.Fatalf("second withdraw must report nothing removed")
	}
	if _, err := ctl.Request("c1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected request to be gone, got %v", err)
	}
}

func TestSettingsPersistAndDecisionsAreLogged(t *testing.T) {
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctl, _ := newTestController(t, Settings{}, WithStore(st))
	ctx := context.Background()

	if err := ctl.UpdateSettings(ctx, "R1", "host", Settings{Enabled: true, Capacity: 3}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	rs, err := st.GetRoomSettings(ctx, "R1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if !rs.WaitingRoom || rs.Capacity != 3 {
		t.Fatalf("settings not persisted: %+v", rs)
	}

	if _, err := ctl.RequestToJoin(ctx, candidate("c1", "alice")); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := ctl.Deny(ctx, "c1", "host", "full"); err != nil {
		t.Fatalf("deny: %v", err)
	}

	decisions, err := ctl.Decisions(ctx, "R1", 10)
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Status != store.DecisionDenied || decisions[0].Reviewer != "host" {
		t.Fatalf("unexpected audit trail: %+v", decisions)
	}
}

func TestDisablingWaitingRoomAdmitsPending(t *testing.T) {
	ctl, gw := newTestController(t, Settings{Enabled: true})
	ctx := context.Background()

	if _, err := ctl.RequestToJoin(ctx, candidate("c1", "alice")); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := ctl.UpdateSettings(ctx, "R1", "host", Settings{Enabled: false}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if gw.reg.Count("R1") != 1 {
		t.Fatalf("expected pending candidate to be admitted when the waiting room is disabled")
	}
}

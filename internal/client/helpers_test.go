package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

var errClosed = errors.New("transport closed")

type fakeTransport struct {
	in     chan *proto.Message
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	sent     []*proto.Message
	failSend func(*proto.Message) error
	// onJoin, when set, answers a join message.
	onJoin func(*proto.Message) *proto.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan *proto.Message, 32),
		closed: make(chan struct{}),
	}
}

// joinedReply answers joins with a snapshot holding the joiner and others.
func joinedReply(selfID string, others ...core.Participant) func(*proto.Message) *proto.Message {
	return func(join *proto.Message) *proto.Message {
		self := core.Participant{ID: selfID, UserID: join.UserID, DisplayName: join.DisplayName, Role: join.Role, RoomID: join.RoomID}
		snapshot := append(append([]core.Participant{}, others...), self)
		return &proto.Message{Type: proto.TypeJoined, RoomID: join.RoomID, Self: &self, Participants: snapshot}
	}
}

func (t *fakeTransport) Send(_ context.Context, msg *proto.Message) error {
	select {
	case <-t.closed:
		return errClosed
	default:
	}

	t.mu.Lock()
	fail, onJoin := t.failSend, t.onJoin
	t.mu.Unlock()
	if fail != nil {
		if err := fail(msg); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.mu.Unlock()

	if msg.Type == proto.TypeJoin && onJoin != nil {
		t.in <- onJoin(msg)
	}
	return nil
}

func (t *fakeTransport) Receive(ctx context.Context) (*proto.Message, error) {
	select {
	case msg := <-t.in:
		return msg, nil
	case <-t.closed:
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) push(msg *proto.Message) {
	t.in <- msg
}

func (t *fakeTransport) sentOfType(typ string) []*proto.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*proto.Message, 0)
	for _, msg := range t.sent {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

type dialResult struct {
	transport Transport
	err       error
}

// fakeDialer hands out queued results; with none queued it fails.
type fakeDialer struct {
	clock *clock.Mock

	mu      sync.Mutex
	results []dialResult
	dials   []time.Time
	urls    []string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, d.clock.Now())
	d.urls = append(d.urls, url)
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	res := d.results[0]
	d.results = d.results[1:]
	return res.transport, res.err
}

func (d *fakeDialer) queue(t Transport) {
	d.mu.Lock()
	d.results = append(d.results, dialResult{transport: t})
	d.mu.Unlock()
}

func (d *fakeDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials...)
}

type recorder struct {
	events chan Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 256)}
}

func (r *recorder) HandleEvent(e Event) {
	r.events <- e
}

// mustEvent waits for the first event of type T accepted by match, discarding
// others on the way.
func mustEvent[T Event](t *testing.T, r *recorder, match func(T) bool) T {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-r.events:
			if ev, ok := e.(T); ok && (match == nil || match(ev)) {
				return ev
			}
		case <-timeout:
			var zero T
			t.Fatalf("expected event %T not received", zero)
			return zero
		}
	}
}

func mustState(t *testing.T, r *recorder, to State) StateChanged {
	t.Helper()
	return mustEvent(t, r, func(e StateChanged) bool { return e.To == to })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func testConfig() Config {
	return Config{
		Servers:           []string{"ws://a/ws", "ws://b/ws"},
		RoomID:            "room",
		UserID:            "alice",
		DisplayName:       "Alice",
		BaseDelay:         time.Second,
		MaxAttempts:       4,
		SubscribeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

func newTestSession(t *testing.T, cfg Config) (*Session, *fakeDialer, *recorder, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	dialer := &fakeDialer{clock: mock}
	rec := newRecorder()
	s := New(cfg, dialer, rec, WithClock(mock))
	t.Cleanup(func() { _ = s.Close() })
	return s, dialer, rec, mock
}

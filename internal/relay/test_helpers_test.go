package relay

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/admission"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

func mustMessage(t *testing.T, ch <-chan *proto.Message, typ string) *proto.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case msg := <-ch:
			if msg == nil {
				continue
			}
			if msg.Type == typ {
				return msg
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected message type %q not received", typ)
	return nil
}

// drain returns everything currently buffered on ch.
func drain(ch <-chan *proto.Message) []*proto.Message {
	var out []*proto.Message
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

type testRelay struct {
	*Relay
	clock *clock.Mock
}

func newTestRelay(t *testing.T, withAdmission bool) *testRelay {
	t.Helper()

	mock := clock.NewMock()
	logger := zerolog.Nop()
	reg := core.NewRegistry(core.WithClock(mock))

	var ctl *admission.Controller
	if withAdmission {
		ctl = admission.New(admission.Config{AutoAdmitDelay: time.Second}, nil, &logger, admission.WithClock(mock))
	}
	r := New(reg, ctl, Config{HeartbeatTimeout: 30 * time.Second, SweepInterval: 10 * time.Second}, &logger, WithClock(mock))
	return &testRelay{Relay: r, clock: mock}
}

func (tr *testRelay) connect(id, user string) *Conn {
	conn := tr.NewConn(id, Identity{UserID: user, DisplayName: user})
	tr.Register(conn)
	return conn
}

func (tr *testRelay) join(t *testing.T, conn *Conn, room string, role core.Role) {
	t.Helper()
	err := tr.Handle(context.Background(), conn, &proto.Message{
		Type:        proto.TypeJoin,
		RoomID:      room,
		UserID:      conn.Identity.UserID,
		DisplayName: conn.Identity.DisplayName,
		Role:        role,
	})
	if err != nil {
		t.Fatalf("join %s: %v", conn.ID, err)
	}
}

// approve admits a pending candidate as an out-of-band reviewer.
func (tr *testRelay) approve(ctx context.Context, candidateID string) error {
	return tr.Admission().Admit(ctx, candidateID, "test")
}

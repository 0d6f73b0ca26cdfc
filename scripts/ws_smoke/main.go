package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run joins two anonymous users to one room and checks that the second is
// announced to the first and that an offer is relayed between them.
func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	room := flag.String("room", "smoke", "room name")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	alice, err := dial(ctx, *addr, "smoke-alice")
	if err != nil {
		return err
	}
	defer alice.Close(websocket.StatusNormalClosure, "bye")

	bob, err := dial(ctx, *addr, "smoke-bob")
	if err != nil {
		return err
	}
	defer bob.Close(websocket.StatusNormalClosure, "bye")

	a, err := join(ctx, alice, *room, "smoke-alice")
	if err != nil {
		return err
	}
	fmt.Printf("alice joined as %s (%s)\n", a.Self.ID, a.Self.Role)

	b, err := join(ctx, bob, *room, "smoke-bob")
	if err != nil {
		return err
	}
	fmt.Printf("bob joined as %s, snapshot has %d participants\n", b.Self.ID, len(b.Participants))

	delta, err := await(ctx, alice, proto.TypeMembershipDelta)
	if err != nil {
		return err
	}
	fmt.Printf("alice saw %s join\n", delta.Joined.ID)

	offer := &proto.Message{
		Type:              proto.TypeNegotiation,
		RoomID:            *room,
		FromParticipantID: a.Self.ID,
		ToParticipantID:   b.Self.ID,
		Payload:           []byte(`{"type":"offer","sdp":"smoke"}`),
	}
	if err := wsjson.Write(ctx, alice, offer); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	got, err := await(ctx, bob, proto.TypeNegotiation)
	if err != nil {
		return err
	}
	fmt.Printf("bob received %s from %s\n", got.Payload, got.FromParticipantID)
	return nil
}

func dial(ctx context.Context, addr, user string) (*websocket.Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(proto.ProtocolVersion))
	q.Set("user", user)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", user, err)
	}
	return conn, nil
}

func join(ctx context.Context, conn *websocket.Conn, room, user string) (*proto.Message, error) {
	err := wsjson.Write(ctx, conn, &proto.Message{
		Type:        proto.TypeJoin,
		RoomID:      room,
		UserID:      user,
		DisplayName: user,
		Role:        core.RoleParticipant,
	})
	if err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}
	return await(ctx, conn, proto.TypeJoined)
}

func await(ctx context.Context, conn *websocket.Conn, typ string) (*proto.Message, error) {
	for {
		var msg proto.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", typ, err)
		}
		if err := msg.Err(); err != nil {
			return nil, fmt.Errorf("server error: %w", err)
		}
		if msg.Type == typ {
			return &msg, nil
		}
	}
}

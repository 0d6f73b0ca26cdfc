package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

const maxMessageBytes = 1 << 20

// Transport is one open connection to a signaling server.
type Transport interface {
	Send(ctx context.Context, msg *proto.Message) error
	Receive(ctx context.Context) (*proto.Message, error)
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer dials signaling servers over WebSocket.
type WSDialer struct {
	// Token is sent as a bearer token when set.
	Token string
	// User and Name declare an anonymous identity when no token is set.
	User       string
	Name       string
	HTTPClient *http.Client
}

func (d WSDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(proto.ProtocolVersion))
	if d.Token == "" && d.User != "" {
		q.Set("user", d.User)
		q.Set("name", d.Name)
	}
	u.RawQuery = q.Encode()

	opts := &websocket.DialOptions{HTTPClient: d.HTTPClient}
	if d.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + d.Token}}
	}

	conn, _, err := websocket.Dial(ctx, u.String(), opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	conn.SetReadLimit(maxMessageBytes)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, msg *proto.Message) error {
	return wsjson.Write(ctx, t.conn, msg)
}

func (t *wsTransport) Receive(ctx context.Context) (*proto.Message, error) {
	var msg proto.Message
	if err := wsjson.Read(ctx, t.conn, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}

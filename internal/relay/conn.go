package relay

import (
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-signaling/internal/proto"
)

// Identity is the verified user behind a connection, supplied by the identity provider.
type Identity struct {
	UserID      string
	DisplayName string
}

// Conn is one client connection as seen by the relay. Events is drained only
// by the transport writer that owns the socket.
type Conn struct {
	ID       string
	Identity Identity
	Events   chan *proto.Message

	mu          sync.Mutex
	roomID      string
	joined      bool
	waiting     bool
	closed      bool
	lastSeen    time.Time
	onClose     func()
	done        chan struct{}
	dropped     uint64
	closeReason string
}

// NewConn constructs a connection with a bounded outbound buffer.
func NewConn(id string, identity Identity, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 64
	}
	return &Conn{
		ID:       id,
		Identity: identity,
		Events:   make(chan *proto.Message, buffer),
		done:     make(chan struct{}),
	}
}

// Send enqueues msg without blocking. It returns false when the connection is
// closed or its buffer is full.
func (c *Conn) Send(msg *proto.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Events <- msg:
		return true
	default:
		c.dropped++
		return false
	}
}

// Done is closed once the relay has disconnected this connection.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// OnClose registers the transport hook run when the relay drops the connection.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Closed reports whether the connection has been disconnected.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Room returns the room the connection joined or is waiting for, and whether it is joined.
func (c *Conn) Room() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.joined
}

// CloseReason is the reason recorded when the relay disconnected the connection.
func (c *Conn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *Conn) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *Conn) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Conn) isWaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting
}

func (c *Conn) setWaiting(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.waiting = true
}

func (c *Conn) clearWaiting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting = false
	if !c.joined {
		c.roomID = ""
	}
}

// setJoined records membership. It fails if the connection closed meanwhile,
// in which case the caller must undo the registry join.
func (c *Conn) setJoined(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.roomID = roomID
	c.joined = true
	c.waiting = false
	return true
}

func (c *Conn) clearJoined() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = false
	c.roomID = ""
}

// markClosed flips the connection to closed exactly once and returns what it
// still held.
func (c *Conn) markClosed(reason string) (roomID string, joined, waiting, first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false, false, false
	}
	c.closed = true
	c.closeReason = reason
	close(c.done)
	return c.roomID, c.joined, c.waiting, true
}

func (c *Conn) runOnClose() {
	c.mu.Lock()
	fn := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}


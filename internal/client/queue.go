package client

import "github.com/vovakirdan/wirechat-signaling/internal/proto"

// outbox holds messages sent while the session is not connected. When full the
// oldest message is dropped.
type outbox struct {
	items []*proto.Message
	max   int
}

func newOutbox(max int) *outbox {
	if max <= 0 {
		max = 64
	}
	return &outbox{max: max}
}

// push appends msg and reports how many messages were dropped to make room.
// Heartbeats are never held.
func (q *outbox) push(msg *proto.Message) (dropped int) {
	if msg.Type == proto.TypeHeartbeat {
		return 0
	}
	for len(q.items) >= q.max {
		q.items[0] = nil
		q.items = q.items[1:]
		dropped++
	}
	q.items = append(q.items, msg)
	return dropped
}

// drain returns the held messages in send order and empties the queue.
func (q *outbox) drain() []*proto.Message {
	out := q.items
	q.items = nil
	return out
}

func (q *outbox) len() int {
	return len(q.items)
}

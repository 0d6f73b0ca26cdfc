package core

import (
	"sort"
	"sync"
)

// Room groups the participants of one session. All mutation happens through
// Registry while mu is held; a room whose last participant left is marked
// deleted and never reused.
type Room struct {
	ID string

	mu      sync.Mutex
	members map[string]*member
	seq     uint64
	deleted bool
}

type member struct {
	participant Participant
	seq         uint64
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[string]*member),
	}
}

// addLocked inserts a participant. Returns false if the id is already present.
func (r *Room) addLocked(p Participant) bool {
	if _, exists := r.members[p.ID]; exists {
		return false
	}
	r.seq++
	r.members[p.ID] = &member{participant: p, seq: r.seq}
	return true
}

// removeLocked deletes a participant. Returns false if it was not present.
func (r *Room) removeLocked(id string) (Participant, bool) {
	m, exists := r.members[id]
	if !exists {
		return Participant{}, false
	}
	delete(r.members, id)
	return m.participant, true
}

// snapshotLocked returns the participants ordered by join time.
func (r *Room) snapshotLocked() []Participant {
	ms := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i].participant.JoinedAt, ms[j].participant.JoinedAt
		if a.Equal(b) {
			return ms[i].seq < ms[j].seq
		}
		return a.Before(b)
	})

	out := make([]Participant, len(ms))
	for i, m := range ms {
		out[i] = m.participant
	}
	return out
}

// emptyLocked returns true if no participants are in the room.
func (r *Room) emptyLocked() bool {
	return len(r.members) == 0
}

func (r *Room) hasRoleLocked(role Role) bool {
	for _, m := range r.members {
		if m.participant.Role == role {
			return true
		}
	}
	return false
}

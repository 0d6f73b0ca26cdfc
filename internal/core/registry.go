package core

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
)

// Observer is notified of committed membership changes. Calls happen while
// the room's writer lock is held, so implementations must not block.
type Observer interface {
	ParticipantJoined(p Participant)
	ParticipantLeft(p Participant, roomDeleted bool)
}

// JoinResult describes a committed join.
type JoinResult struct {
	Participant Participant
	Snapshot    []Participant
	// Added is false when the participant was already present (idempotent join).
	Added bool
	// Created is true for exactly one join per room lifetime.
	Created bool
}

// LeaveResult describes a committed leave.
type LeaveResult struct {
	Participant Participant
	Remaining   []Participant
	RoomDeleted bool
}

// MediaResult describes a committed media-state update.
type MediaResult struct {
	Participant Participant
	Snapshot    []Participant
}

// Registry is the authoritative in-memory map of rooms to participants.
// Mutations are serialized per room; commit callbacks run under the room's
// lock so that anything they enqueue is ordered the same way the room
// accepted the mutations.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	clock     clock.Clock
	observers []Observer

	firstJoinerHost bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock used to stamp JoinedAt.
func WithClock(c clock.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithObserver registers an observer for membership changes.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithFirstJoinerHost promotes a joiner to host when the room has no host yet.
// Viewers are never promoted.
func WithFirstJoinerHost(enabled bool) RegistryOption {
	return func(r *Registry) { r.firstJoinerHost = enabled }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms: make(map[string]*Room),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// getOrCreate returns the live room for id, creating it if absent.
func (r *Registry) getOrCreate(id string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		room = newRoom(id)
		r.rooms[id] = room
	}
	return room
}

func (r *Registry) get(id string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[id]
}

// dropLocked removes a room whose last participant left. Caller holds room.mu.
func (r *Registry) dropLocked(room *Room) {
	room.deleted = true
	r.mu.Lock()
	if r.rooms[room.ID] == room {
		delete(r.rooms, room.ID)
	}
	r.mu.Unlock()
}

// Join adds p to the room, creating the room if needed. Joining twice with the
// same participant id is a no-op that still reports the current snapshot.
func (r *Registry) Join(roomID string, p Participant, commit func(JoinResult)) (JoinResult, error) {
	if roomID == "" {
		return JoinResult{}, ValidationError("roomId is required")
	}
	if p.ID == "" {
		return JoinResult{}, ValidationError("participant id is required")
	}
	p.RoomID = roomID
	if p.JoinedAt.IsZero() {
		p.JoinedAt = r.clock.Now()
	}

	for {
		room := r.getOrCreate(roomID)
		room.mu.Lock()
		if room.deleted {
			// Lost a race with the last leave; the map no longer points at this room.
			room.mu.Unlock()
			continue
		}

		res := JoinResult{Created: room.emptyLocked()}
		if r.firstJoinerHost && p.Role != RoleViewer && p.Role != RoleHost && !room.hasRoleLocked(RoleHost) {
			if _, exists := room.members[p.ID]; !exists {
				p.Role = RoleHost
			}
		}
		if room.addLocked(p) {
			res.Added = true
			res.Participant = p
			for _, o := range r.observers {
				o.ParticipantJoined(p)
			}
		} else {
			res.Participant = room.members[p.ID].participant
		}
		res.Snapshot = room.snapshotLocked()
		if commit != nil {
			commit(res)
		}
		room.mu.Unlock()
		return res, nil
	}
}

// Leave removes a participant. The room is deleted together with its last
// participant, under the same lock.
func (r *Registry) Leave(roomID, participantID string, commit func(LeaveResult)) (LeaveResult, error) {
	room := r.get(roomID)
	if room == nil {
		return LeaveResult{}, NotFoundError("room not found")
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.deleted {
		return LeaveResult{}, NotFoundError("room not found")
	}

	p, ok := room.removeLocked(participantID)
	if !ok {
		return LeaveResult{}, NotFoundError("participant not found")
	}

	res := LeaveResult{Participant: p}
	if room.emptyLocked() {
		r.dropLocked(room)
		res.RoomDeleted = true
	} else {
		res.Remaining = room.snapshotLocked()
	}
	for _, o := range r.observers {
		o.ParticipantLeft(p, res.RoomDeleted)
	}
	if commit != nil {
		commit(res)
	}
	return res, nil
}

// UpdateMediaState applies a partial media update to a participant.
func (r *Registry) UpdateMediaState(roomID, participantID string, patch MediaPatch, commit func(MediaResult)) (Participant, error) {
	room := r.get(roomID)
	if room == nil {
		return Participant{}, NotFoundError("room not found")
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.deleted {
		return Participant{}, NotFoundError("room not found")
	}

	m, ok := room.members[participantID]
	if !ok {
		return Participant{}, NotFoundError("participant not found")
	}
	m.participant.Media = patch.Apply(m.participant.Media)
	if commit != nil {
		commit(MediaResult{Participant: m.participant, Snapshot: room.snapshotLocked()})
	}
	return m.participant, nil
}

// ListParticipants returns the room's participants ordered by JoinedAt.
// Rooms without participants do not exist.
func (r *Registry) ListParticipants(roomID string) ([]Participant, error) {
	room := r.get(roomID)
	if room == nil {
		return nil, NotFoundError("room not found")
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.deleted || room.emptyLocked() {
		return nil, NotFoundError("room not found")
	}
	return room.snapshotLocked(), nil
}

// Participant returns a single participant of a room.
func (r *Registry) Participant(roomID, participantID string) (Participant, error) {
	room := r.get(roomID)
	if room == nil {
		return Participant{}, NotFoundError("room not found")
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	m, ok := room.members[participantID]
	if room.deleted || !ok {
		return Participant{}, NotFoundError("participant not found")
	}
	return m.participant, nil
}

// HasRole reports whether any participant of the room holds role.
func (r *Registry) HasRole(roomID string, role Role) bool {
	room := r.get(roomID)
	if room == nil {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return !room.deleted && room.hasRoleLocked(role)
}

// Count returns the number of participants in a room, zero if it does not exist.
func (r *Registry) Count(roomID string) int {
	room := r.get(roomID)
	if room == nil {
		return 0
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.deleted {
		return 0
	}
	return len(room.members)
}

// Rooms returns the ids of all non-empty rooms, sorted.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	candidates := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		candidates = append(candidates, room)
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(candidates))
	for _, room := range candidates {
		room.mu.Lock()
		if !room.deleted && !room.emptyLocked() {
			ids = append(ids, room.ID)
		}
		room.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// Package presence mirrors room membership into redis so other processes
// (dashboards, a second signaling node's REST API) can see who is online.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/config"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
)

const defaultBuffer = 1024

// Connect opens a redis client and checks that the server answers.
func Connect(ctx context.Context, cfg config.PresenceConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

type update struct {
	participant core.Participant
	joined      bool
	roomDeleted bool
}

// Mirror is a core.Observer that copies membership changes to redis. Observer
// calls only enqueue; Run applies them in order.
type Mirror struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	log     *zerolog.Logger
	updates chan update
	dropped atomic.Uint64
}

var _ core.Observer = (*Mirror)(nil)

// NewMirror builds a mirror writing keys under prefix. Room keys expire after
// ttl unless refreshed by further joins.
func NewMirror(client *redis.Client, prefix string, ttl time.Duration, logger *zerolog.Logger) *Mirror {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Mirror{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		log:     logger,
		updates: make(chan update, defaultBuffer),
	}
}

func (m *Mirror) ParticipantJoined(p core.Participant) {
	m.enqueue(update{participant: p, joined: true})
}

func (m *Mirror) ParticipantLeft(p core.Participant, roomDeleted bool) {
	m.enqueue(update{participant: p, roomDeleted: roomDeleted})
}

func (m *Mirror) enqueue(u update) {
	select {
	case m.updates <- u:
	default:
		m.dropped.Add(1)
		m.log.Warn().Str("room_id", u.participant.RoomID).Msg("presence update dropped, buffer full")
	}
}

// Dropped returns the number of updates lost to a full buffer.
func (m *Mirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Run applies queued updates until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-m.updates:
			if err := m.apply(ctx, u); err != nil {
				m.log.Warn().Err(err).Str("room_id", u.participant.RoomID).
					Str("participant_id", u.participant.ID).Msg("presence update failed")
			}
		}
	}
}

func (m *Mirror) roomsKey() string {
	return m.prefix + "rooms"
}

func (m *Mirror) roomKey(roomID string) string {
	return m.prefix + "room:" + roomID + ":participants"
}

func (m *Mirror) apply(ctx context.Context, u update) error {
	p := u.participant
	key := m.roomKey(p.RoomID)

	pipe := m.client.TxPipeline()
	if u.joined {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal participant: %w", err)
		}
		pipe.HSet(ctx, key, p.ID, data)
		pipe.SAdd(ctx, m.roomsKey(), p.RoomID)
		if m.ttl > 0 {
			pipe.Expire(ctx, key, m.ttl)
		}
	} else {
		pipe.HDel(ctx, key, p.ID)
		if u.roomDeleted {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, m.roomsKey(), p.RoomID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec presence pipeline: %w", err)
	}
	return nil
}

// Participants returns the mirrored participants of a room in join order.
func (m *Mirror) Participants(ctx context.Context, roomID string) ([]core.Participant, error) {
	fields, err := m.client.HGetAll(ctx, m.roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read room presence: %w", err)
	}

	out := make([]core.Participant, 0, len(fields))
	for id, raw := range fields {
		var p core.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			m.log.Warn().Err(err).Str("participant_id", id).Msg("skipping malformed presence entry")
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

// Rooms returns the ids of rooms with mirrored participants.
func (m *Mirror) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := m.client.SMembers(ctx, m.roomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read rooms: %w", err)
	}
	sort.Strings(rooms)
	return rooms, nil
}

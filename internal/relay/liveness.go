package relay

import "context"

const (
	reasonHeartbeatTimeout = "heartbeat timeout"
	reasonShutdown         = "server shutting down"
)

// Run evicts connections that stopped sending anything for longer than the
// heartbeat timeout. It blocks until ctx is cancelled, then disconnects
// everyone.
func (r *Relay) Run(ctx context.Context) {
	ticker := r.clock.Ticker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.disconnectAll(reasonShutdown)
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Relay) sweep() {
	now := r.clock.Now()

	r.mu.RLock()
	stale := make([]*Conn, 0)
	for _, conn := range r.conns {
		if now.Sub(conn.idleSince()) > r.cfg.HeartbeatTimeout {
			stale = append(stale, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range stale {
		r.log.Info().Str("conn_id", conn.ID).Msg("connection missed heartbeats")
		r.Disconnect(conn, reasonHeartbeatTimeout)
	}
}

func (r *Relay) disconnectAll(reason string) {
	r.mu.RLock()
	all := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		all = append(all, conn)
	}
	r.mu.RUnlock()

	for _, conn := range all {
		r.Disconnect(conn, reason)
	}
}

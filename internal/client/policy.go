package client

import "time"

// Quality is a coarse connection quality grade.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityExcellent
	QualityGood
	QualityPoor
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityPoor:
		return "poor"
	case QualityLost:
		return "lost"
	default:
		return "unknown"
	}
}

// NetworkStats are measurements of the signaling link. The session fills RTT
// and MissedHeartbeats from heartbeat round trips; callers may report richer
// stats from their media stack through Session.ReportNetworkStats.
type NetworkStats struct {
	RTT              time.Duration
	PacketLoss       float64 // fraction, 0..1
	Jitter           time.Duration
	MissedHeartbeats int
}

// QualityPolicy grades network measurements.
type QualityPolicy interface {
	Evaluate(NetworkStats) Quality
}

// ThresholdQuality grades by fixed RTT and loss thresholds.
type ThresholdQuality struct {
	GoodRTT  time.Duration
	PoorRTT  time.Duration
	GoodLoss float64
	PoorLoss float64
	// MaxMissed heartbeats before the link is considered lost.
	MaxMissed int
}

// DefaultQualityPolicy returns the thresholds used when none is configured.
func DefaultQualityPolicy() ThresholdQuality {
	return ThresholdQuality{
		GoodRTT:   150 * time.Millisecond,
		PoorRTT:   400 * time.Millisecond,
		GoodLoss:  0.01,
		PoorLoss:  0.05,
		MaxMissed: 3,
	}
}

func (p ThresholdQuality) Evaluate(s NetworkStats) Quality {
	switch {
	case p.MaxMissed > 0 && s.MissedHeartbeats >= p.MaxMissed:
		return QualityLost
	case s.RTT <= p.GoodRTT && s.PacketLoss <= p.GoodLoss && s.MissedHeartbeats == 0:
		return QualityExcellent
	case s.RTT <= p.PoorRTT && s.PacketLoss <= p.PoorLoss:
		return QualityGood
	default:
		return QualityPoor
	}
}

// ServerSelectionPolicy picks the signaling URL for a connection attempt.
// attempt counts from zero and resets after a successful connection.
type ServerSelectionPolicy interface {
	Select(servers []string, attempt int) string
}

// RoundRobin walks the server list, moving on after every failed attempt.
type RoundRobin struct{}

func (RoundRobin) Select(servers []string, attempt int) string {
	if len(servers) == 0 {
		return ""
	}
	if attempt < 0 {
		attempt = 0
	}
	return servers[attempt%len(servers)]
}

// Package stats tracks session and parsing counters.
package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stats tracks line processing statistics for one cluster session.
type Stats struct {
	TotalLines     uint64
	Spots          uint64
	ParseFailures  uint64
	StatusMessages uint64
	Keepalives     uint64
	Reconnects     uint64
	Overlays       uint64
	LookupFailures uint64

	LastSpotTime time.Time

	mu sync.RWMutex
}

// New creates a new Stats instance.
func New() *Stats {
	return &Stats{LastSpotTime: time.Now()}
}

// IncrementTotalLines counts one inbound line.
func (s *Stats) IncrementTotalLines() { atomic.AddUint64(&s.TotalLines, 1) }

// IncrementSpots counts one successfully parsed spot.
func (s *Stats) IncrementSpots() { atomic.AddUint64(&s.Spots, 1) }

// IncrementParseFailures counts one spot line that failed to parse.
func (s *Stats) IncrementParseFailures() { atomic.AddUint64(&s.ParseFailures, 1) }

// IncrementStatusMessages counts one non-spot status line.
func (s *Stats) IncrementStatusMessages() { atomic.AddUint64(&s.StatusMessages, 1) }

// IncrementKeepalives counts one keepalive command sent.
func (s *Stats) IncrementKeepalives() { atomic.AddUint64(&s.Keepalives, 1) }

// IncrementReconnects counts one reconnect attempt.
func (s *Stats) IncrementReconnects() { atomic.AddUint64(&s.Reconnects, 1) }

// IncrementOverlays counts one overlay segment added to the store.
func (s *Stats) IncrementOverlays() { atomic.AddUint64(&s.Overlays, 1) }

// IncrementLookupFailures counts one failed geolocation lookup.
func (s *Stats) IncrementLookupFailures() { atomic.AddUint64(&s.LookupFailures, 1) }

// UpdateLastSpotTime records the arrival of a spot.
func (s *Stats) UpdateLastSpotTime() {
	s.mu.Lock()
	s.LastSpotTime = time.Now()
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"total_lines":     atomic.LoadUint64(&s.TotalLines),
		"spots":           atomic.LoadUint64(&s.Spots),
		"parse_failures":  atomic.LoadUint64(&s.ParseFailures),
		"status_messages": atomic.LoadUint64(&s.StatusMessages),
		"keepalives":      atomic.LoadUint64(&s.Keepalives),
		"reconnects":      atomic.LoadUint64(&s.Reconnects),
		"overlays":        atomic.LoadUint64(&s.Overlays),
		"lookup_failures": atomic.LoadUint64(&s.LookupFailures),
	}
}

// LogPeriodically emits a summary line on every tick until the context is
// cancelled, with a final summary on the way out.
func (s *Stats) LogPeriodically(ctx context.Context, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log(logger)
			return
		case <-ticker.C:
			s.log(logger)
		}
	}
}

func (s *Stats) log(logger *zap.Logger) {
	s.mu.RLock()
	lastSpot := s.LastSpotTime
	s.mu.RUnlock()

	snap := s.Snapshot()
	logger.Info("session statistics",
		zap.Uint64("total_lines", snap["total_lines"]),
		zap.Uint64("spots", snap["spots"]),
		zap.Uint64("parse_failures", snap["parse_failures"]),
		zap.Uint64("status_messages", snap["status_messages"]),
		zap.Uint64("keepalives", snap["keepalives"]),
		zap.Uint64("reconnects", snap["reconnects"]),
		zap.Uint64("overlays", snap["overlays"]),
		zap.Uint64("lookup_failures", snap["lookup_failures"]),
		zap.Time("last_spot", lastSpot),
	)
}

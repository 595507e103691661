// Package spotstore owns the bounded in-memory collections published to the
// UI: accepted spots, derived map overlay segments, and session status
// lines. All mutation funnels through one mutex so the transport goroutine,
// the lookup callbacks and UI commands never race.
package spotstore

import (
	"sync"

	"github.com/dxwatch/dxwatch/internal/band"
	"github.com/dxwatch/dxwatch/internal/types"
)

const (
	maxSpots    = 100
	maxOverlays = 50
	maxStatus   = 200
)

// Store is the single owner of the spot, overlay and status collections and
// of the band filter set.
type Store struct {
	mu       sync.RWMutex
	spots    []types.Spot           // newest first
	overlays []types.OverlaySegment // insertion order, oldest first
	status   []string               // FIFO
	bands    map[int]bool
}

// New returns a Store with every known band enabled, plus the unknown-band
// bucket so out-of-range spots are still shown until filtered away.
func New() *Store {
	bands := make(map[int]bool, len(band.Known)+1)
	for _, b := range band.Known {
		bands[b] = true
	}
	bands[band.Unknown] = true
	return &Store{bands: bands}
}

// Insert adds a spot at the head of the sequence and evicts the tail once
// the collection exceeds its capacity. Spots on a disabled band are
// silently dropped; the return value reports whether the spot was kept.
func (s *Store) Insert(sp types.Spot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bands[band.FromFrequency(sp.FrequencyKHz)] {
		return false
	}
	s.spots = append([]types.Spot{sp}, s.spots...)
	if len(s.spots) > maxSpots {
		s.spots = s.spots[:maxSpots]
	}
	return true
}

// SetBandFilter enables or disables one band. The clear-all UI sentinel is
// deliberately a no-op. Disabling a band removes the existing overlays of
// that band; re-enabling does not restore them.
func (s *Store) SetBandFilter(b int, enabled bool) {
	if b == band.ClearAll {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if enabled {
		s.bands[b] = true
		return
	}
	delete(s.bands, b)
	kept := s.overlays[:0]
	for _, o := range s.overlays {
		if o.Band != b {
			kept = append(kept, o)
		}
	}
	s.overlays = kept
}

// BandEnabled reports whether a band currently passes the filter.
func (s *Store) BandEnabled(b int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bands[b]
}

// AddOverlay appends a segment if its band is enabled, evicting the oldest
// once the collection exceeds its capacity. Reports whether the segment was
// kept.
func (s *Store) AddOverlay(o types.OverlaySegment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bands[o.Band] {
		return false
	}
	s.overlays = append(s.overlays, o)
	if len(s.overlays) > maxOverlays {
		s.overlays = s.overlays[len(s.overlays)-maxOverlays:]
	}
	return true
}

// AppendStatus adds one human-readable status line, evicting from the front
// once the log exceeds its capacity.
func (s *Store) AppendStatus(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = append(s.status, msg)
	if len(s.status) > maxStatus {
		s.status = s.status[len(s.status)-maxStatus:]
	}
}

// Spots returns a copy of the spot sequence, most recent first.
func (s *Store) Spots() []types.Spot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Spot, len(s.spots))
	copy(out, s.spots)
	return out
}

// Overlays returns a copy of the overlay segments in insertion order.
func (s *Store) Overlays() []types.OverlaySegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.OverlaySegment, len(s.overlays))
	copy(out, s.overlays)
	return out
}

// StatusMessages returns a copy of the status log, oldest first.
func (s *Store) StatusMessages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.status))
	copy(out, s.status)
	return out
}

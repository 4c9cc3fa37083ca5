// Package store keeps the most recent window of decoded points for rendering.
//
// Store holds two index-aligned scalar buffers, positions and colours, each
// bounded to 3*maxPoints floats. Appending past capacity evicts the oldest
// whole points from both buffers. Colours are either absent for the entire
// retained window or present for every retained point: once any coloured
// frame arrives, uncoloured points are padded with DefaultColor.
package store

import (
	"sync"
)

// DefaultColor is used for points that arrive without colour while the
// window holds coloured points.
var DefaultColor = [3]float32{1, 1, 1}

// Snapshot is an owned copy of the store contents in arrival order.
type Snapshot struct {
	Points  []float32
	Colors  []float32
	Version uint64
}

// PointCount returns the number of xyz triples in the snapshot.
func (s Snapshot) PointCount() int { return len(s.Points) / 3 }

// Store is a bounded FIFO of points and colours. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	maxPoints int
	points    *ring
	colors    *ring
	version   uint64
	evicted   uint64
}

// New creates a store that retains at most maxPoints points.
func New(maxPoints int) *Store {
	if maxPoints < 0 {
		maxPoints = 0
	}
	return &Store{
		maxPoints: maxPoints,
		points:    newRing(3 * maxPoints),
		colors:    newRing(3 * maxPoints),
	}
}

// Append adds a decoded frame and returns the number of points evicted to
// make room. Trailing scalars that do not form a whole triple are ignored;
// colour triples beyond the frame's point count are discarded.
func (s *Store) Append(points, colors []float32) int {
	np := len(points) / 3
	if np == 0 {
		return 0
	}
	points = points[:3*np]
	nc := len(colors) / 3
	if nc > np {
		nc = np
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.points.len() / 3
	coloured := s.colors.len() > 0
	if nc > 0 && !coloured && before > 0 {
		s.colors.fill(DefaultColor[:], before)
		coloured = true
	}

	s.points.push(points)
	switch {
	case nc > 0:
		s.colors.push(colors[:3*nc])
		s.colors.fill(DefaultColor[:], np-nc)
	case coloured:
		s.colors.fill(DefaultColor[:], np)
	}

	evicted := before + np - s.points.len()/3
	s.evicted += uint64(evicted)
	s.version++
	return evicted
}

// Snapshot returns a copy of the retained points and colours.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Points:  make([]float32, s.points.len()),
		Colors:  make([]float32, s.colors.len()),
		Version: s.version,
	}
	s.points.copyTo(snap.Points)
	s.colors.copyTo(snap.Colors)
	return snap
}

// Clear empties both buffers.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points.reset()
	s.colors.reset()
	s.version++
}

// Len returns the number of retained points.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points.len() / 3
}

// Version increments on every Append and Clear. Readers use it to skip
// copying an unchanged window.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Evicted returns the total number of points evicted since creation.
func (s *Store) Evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// MaxPoints returns the point capacity.
func (s *Store) MaxPoints() int { return s.maxPoints }

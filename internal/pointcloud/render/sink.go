package render

import (
	"sync"
	"time"
)

// Frame is one render hand-off: an owned copy of the point window. Sinks
// share the same Frame and must treat its slices as read-only.
type Frame struct {
	Points     []float32
	Colors     []float32
	Version    uint64
	FrameCount uint64
	At         time.Time
}

// PointCount returns the number of xyz triples in the frame.
func (f Frame) PointCount() int { return len(f.Points) / 3 }

// Sink consumes render frames. Present is called from the render goroutine
// and should return quickly.
type Sink interface {
	Present(Frame)
}

// MultiSink presents each frame to every sink in order.
type MultiSink []Sink

func (m MultiSink) Present(f Frame) {
	for _, s := range m {
		if s != nil {
			s.Present(f)
		}
	}
}

// Surface keeps the most recent frame for readers that poll, such as the
// HTTP snapshot handlers. Readers detect a new frame by its Version.
type Surface struct {
	mu       sync.RWMutex
	latest   Frame
	has      bool
	presents uint64
}

// NewSurface creates an empty surface.
func NewSurface() *Surface {
	return &Surface{}
}

// Present replaces the current frame.
func (s *Surface) Present(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = f
	s.has = true
	s.presents++
}

// Latest returns the current frame and whether one has been presented.
func (s *Surface) Latest() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.has
}

// Presents returns how many frames have been presented.
func (s *Surface) Presents() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presents
}

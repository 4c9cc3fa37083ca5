package render

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// fpsWindow is the number of frame intervals averaged by FPSCounter.
const fpsWindow = 100

// FPSCounter reports the achieved render rate over a rolling window of frame
// intervals.
type FPSCounter struct {
	mu      sync.Mutex
	samples []float64 // seconds
	next    int
}

// NewFPSCounter creates an empty counter.
func NewFPSCounter() *FPSCounter {
	return &FPSCounter{samples: make([]float64, 0, fpsWindow)}
}

// Add records one frame interval.
func (c *FPSCounter) Add(delta time.Duration) {
	if delta <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := delta.Seconds()
	if len(c.samples) < fpsWindow {
		c.samples = append(c.samples, s)
		return
	}
	c.samples[c.next] = s
	c.next = (c.next + 1) % fpsWindow
}

// FPS returns the average frames per second over the window, or 0.
func (c *FPSCounter) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 {
		return 0
	}
	mean := stat.Mean(c.samples, nil)
	if mean <= 0 {
		return 0
	}
	return 1 / mean
}

// Jitter returns the standard deviation of frame intervals in the window.
func (c *FPSCounter) Jitter() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) < 2 {
		return 0
	}
	return time.Duration(stat.StdDev(c.samples, nil) * float64(time.Second))
}

// Reset clears the window.
func (c *FPSCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = c.samples[:0]
	c.next = 0
}

// Package render drives rendering at a fixed target rate from an irregular
// host tick source, and hands store snapshots to render sinks.
package render

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/lidar.console/internal/timeutil"
)

// DefaultFPS is the target render rate when none is configured.
const DefaultFPS = 25

// DefaultHostInterval approximates a 60Hz display refresh.
const DefaultHostInterval = time.Second / 60

// ErrInvalidRate is returned by SetRate for non-positive or absurd rates.
var ErrInvalidRate = errors.New("invalid frame rate")

// Callback is invoked once per fired render tick with the time since the
// previous scheduled frame and a monotonically increasing frame count.
type Callback func(delta time.Duration, frameCount uint64)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Clock        timeutil.Clock
	TargetFPS    float64
	HostInterval time.Duration
}

// Controller fires a callback at most TargetFPS times per second. It is fed
// by host ticks that may arrive faster, slower or unevenly; each fired frame
// carries the overshoot forward so the long-run rate matches the target.
type Controller struct {
	clock        timeutil.Clock
	hostInterval time.Duration

	mu         sync.Mutex
	fps        float64
	interval   time.Duration
	running    bool
	last       time.Time
	frameCount uint64
	cb         Callback
	ticker     timeutil.Ticker
	stopCh     chan struct{}
	done       chan struct{}
}

// NewController creates a stopped controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.HostInterval <= 0 {
		cfg.HostInterval = DefaultHostInterval
	}
	c := &Controller{clock: cfg.Clock, hostInterval: cfg.HostInterval}
	if err := c.SetRate(cfg.TargetFPS); err != nil {
		_ = c.SetRate(DefaultFPS)
	}
	return c
}

// SetRate changes the target rate. It takes effect on the next host tick.
func (c *Controller) SetRate(fps float64) error {
	if !(fps > 0 && fps <= 1000) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, fps)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
	c.interval = time.Duration(float64(time.Second) / fps)
	return nil
}

// Rate returns the target rate and the derived frame interval.
func (c *Controller) Rate() (float64, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps, c.interval
}

// Start begins scheduling cb from host ticks. Starting a running controller
// is a no-op.
func (c *Controller) Start(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.cb = cb
	c.last = c.clock.Now()
	c.frameCount = 0
	c.ticker = c.clock.NewTicker(c.hostInterval)
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.ticker, c.stopCh, c.done)
}

// Stop cancels scheduling. A Tick that begins after Stop returns never fires
// the callback. A tick accepted before Stop may still be running its
// callback, or about to call it. For ticks delivered by the scheduling
// goroutine, Done is closed once that callback has returned; hosts that call
// Tick themselves wait for their own Tick calls to return.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.frameCount = 0
	c.ticker.Stop()
	close(c.stopCh)
}

// Done is closed once the scheduling goroutine started by the latest Start
// has exited. It returns a closed channel if the controller never started.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Running reports whether the controller is scheduling frames.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// FrameCount returns the number of frames fired since Start.
func (c *Controller) FrameCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameCount
}

func (c *Controller) loop(ticker timeutil.Ticker, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C():
			c.Tick(now)
		}
	}
}

// Tick processes one host tick at time now and reports whether the callback
// fired. The scheduling goroutine calls it for every host tick; tests and
// hosts with their own refresh loop may call it directly. The running check
// and the callback are not atomic with respect to Stop.
func (c *Controller) Tick(now time.Time) bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	delta := now.Sub(c.last)
	if delta < 0 {
		c.last = now
		c.mu.Unlock()
		return false
	}
	if delta < c.interval {
		c.mu.Unlock()
		return false
	}
	c.last = now.Add(-(delta % c.interval))
	c.frameCount++
	n, cb := c.frameCount, c.cb
	c.mu.Unlock()

	if cb != nil {
		cb(delta, n)
	}
	return true
}

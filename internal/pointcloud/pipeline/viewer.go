// Package pipeline wires the point cloud stages together: subscription,
// decode, bounded storage and fixed-rate rendering.
//
// A Viewer owns every stage for one console session. Close tears them down
// in a fixed order (render scheduling, subscription, decode worker, store)
// so no late frame or tick touches a stage that is already gone.
package pipeline

import (
	"sync"
	"time"

	"github.com/banshee-data/lidar.console/internal/pointcloud/decode"
	"github.com/banshee-data/lidar.console/internal/pointcloud/render"
	"github.com/banshee-data/lidar.console/internal/pointcloud/store"
	"github.com/banshee-data/lidar.console/internal/timeutil"
)

// DefaultMaxPoints is the default ring buffer size in points.
const DefaultMaxPoints = 300000

// Options configures a Viewer.
type Options struct {
	MaxPoints    int
	TargetFPS    float64
	HostInterval time.Duration
	Clock        timeutil.Clock

	Topic       string
	MessageType string
	// Supporting subscriptions that share the point cloud lifecycle.
	Extra []TopicHandler

	// Decode configures the worker manager. A zero value uses
	// decode.DefaultConfig(16).
	Decode decode.Config
	// Sinks receive every rendered frame in addition to the Viewer's own
	// Surface.
	Sinks []render.Sink
	Stats Stats
}

// DebugInfo summarises the pipeline for the console's debug panel.
type DebugInfo struct {
	FPS             float64 `json:"fps"`
	FrameJitterMs   float64 `json:"frame_jitter_ms"`
	TargetFPS       float64 `json:"target_fps"`
	PointCount      int     `json:"point_count"`
	MaxPoints       int     `json:"max_points"`
	EvictedPoints   uint64  `json:"evicted_points"`
	WorkerSupported bool    `json:"worker_supported"`
	WorkerLoaded    bool    `json:"worker_loaded"`
	WorkerState     string  `json:"worker_state"`
	DecodedWith     string  `json:"decoded_with"`
	Attached        bool    `json:"attached"`
	Epoch           uint64  `json:"epoch"`
	FrameCount      uint64  `json:"frame_count"`
}

// Viewer is the owned context for one point cloud session.
type Viewer struct {
	store     *store.Store
	manager   *decode.Manager
	lifecycle *Lifecycle
	rate      *render.Controller
	surface   *render.Surface
	sink      render.Sink
	fps       *render.FPSCounter
	stats     Stats

	mu          sync.Mutex
	lastVersion uint64
	presented   bool
	unbind      func()
	started     bool
	closed      bool
}

// NewViewer builds a stopped viewer on top of t.
func NewViewer(t Transport, opts Options) *Viewer {
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = DefaultMaxPoints
	}
	if opts.Stats == nil {
		opts.Stats = noopStats{}
	}
	dcfg := opts.Decode
	if dcfg.Primary == nil && dcfg.Fallback == nil {
		defaults := decode.DefaultConfig(16)
		defaults.Recorder = dcfg.Recorder
		defaults.Decode = dcfg.Decode
		if dcfg.MaxRestarts > 0 {
			defaults.MaxRestarts = dcfg.MaxRestarts
		}
		dcfg = defaults
	}
	if dcfg.Recorder == nil {
		dcfg.Recorder = opts.Stats
	}

	st := store.New(opts.MaxPoints)
	lc := newLifecycle(t, opts.Topic, opts.MessageType, opts.Extra, st, opts.Stats)
	mgr := decode.NewManager(dcfg, lc)
	lc.setManager(mgr)

	surface := render.NewSurface()
	sinks := append(render.MultiSink{surface}, opts.Sinks...)

	return &Viewer{
		store:     st,
		manager:   mgr,
		lifecycle: lc,
		rate: render.NewController(render.ControllerConfig{
			Clock:        opts.Clock,
			TargetFPS:    opts.TargetFPS,
			HostInterval: opts.HostInterval,
		}),
		surface: surface,
		sink:    sinks,
		fps:     render.NewFPSCounter(),
		stats:   opts.Stats,
	}
}

// Start spawns the decode worker, follows the transport's connection state
// and begins fixed-rate rendering.
func (v *Viewer) Start() {
	v.mu.Lock()
	if v.started || v.closed {
		v.mu.Unlock()
		return
	}
	v.started = true
	v.mu.Unlock()

	v.manager.Start()
	unbind := v.lifecycle.Bind()
	v.mu.Lock()
	v.unbind = unbind
	v.mu.Unlock()
	v.rate.Start(v.renderTick)
}

// Close stops rendering, detaches, terminates the decode worker and clears
// the store, in that order. It is safe to call more than once.
func (v *Viewer) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	unbind := v.unbind
	v.unbind = nil
	v.mu.Unlock()

	v.rate.Stop()
	<-v.rate.Done()

	if unbind != nil {
		unbind()
	}
	v.lifecycle.Detach()
	v.manager.Close()
	v.store.Clear()
}

func (v *Viewer) renderTick(delta time.Duration, frameCount uint64) {
	v.fps.Add(delta)
	v.stats.RenderTick(delta)

	version := v.store.Version()
	v.mu.Lock()
	unchanged := v.presented && version == v.lastVersion
	v.mu.Unlock()
	if unchanged {
		return
	}

	snap := v.store.Snapshot()
	v.mu.Lock()
	v.lastVersion = snap.Version
	v.presented = true
	v.mu.Unlock()

	v.sink.Present(render.Frame{
		Points:     snap.Points,
		Colors:     snap.Colors,
		Version:    snap.Version,
		FrameCount: frameCount,
		At:         time.Now(),
	})
	v.stats.FramePresented(snap.PointCount())
}

// DebugInfo returns the current pipeline summary.
func (v *Viewer) DebugInfo() DebugInfo {
	fps, _ := v.rate.Rate()
	return DebugInfo{
		FPS:             v.fps.FPS(),
		FrameJitterMs:   float64(v.fps.Jitter()) / float64(time.Millisecond),
		TargetFPS:       fps,
		PointCount:      v.store.Len(),
		MaxPoints:       v.store.MaxPoints(),
		EvictedPoints:   v.store.Evicted(),
		WorkerSupported: v.manager.WorkerSupported(),
		WorkerLoaded:    v.manager.WorkerLoaded(),
		WorkerState:     v.manager.State().String(),
		DecodedWith:     string(v.manager.LastPath()),
		Attached:        v.lifecycle.Attached(),
		Epoch:           v.lifecycle.Epoch(),
		FrameCount:      v.rate.FrameCount(),
	}
}

// Store returns the viewer's point store.
func (v *Viewer) Store() *store.Store { return v.store }

// Surface returns the latest rendered frame holder.
func (v *Viewer) Surface() *render.Surface { return v.surface }

// Lifecycle returns the subscription lifecycle.
func (v *Viewer) Lifecycle() *Lifecycle { return v.lifecycle }

// Manager returns the decode worker manager.
func (v *Viewer) Manager() *decode.Manager { return v.manager }

// Rate returns the frame rate controller.
func (v *Viewer) Rate() *render.Controller { return v.rate }

// Package decode routes raw frames either to an isolated decode worker or,
// when no worker is ready, to a synchronous decode on the caller.
//
// The manager spawns a primary worker at Start. A worker becomes usable only
// after its READY handshake; until then frames are decoded synchronously. If
// the worker faults the manager spawns a fallback worker, up to MaxRestarts
// times, after which every frame for the session is decoded synchronously.
// Each worker carries a generation number and results from a superseded
// generation are discarded.
package decode

import (
	"sync"
	"time"

	"github.com/banshee-data/lidar.console/internal/monitoring"
	"github.com/banshee-data/lidar.console/internal/pointcloud/wire"
)

var logf = monitoring.Tagged("Decode")

// Path labels which decode route produced a frame.
type Path string

const (
	PathWorker   Path = "worker"
	PathFallback Path = "fallback-worker"
	PathSync     Path = "no worker"
)

// State is the worker manager state.
type State int

const (
	StateIdle State = iota
	StateNoWorkerSupport
	StateInitializing
	StateReady
	StateFailed
	StateFallbackInitializing
	StateFallbackReady
	StateFallbackFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNoWorkerSupport:
		return "no-worker-support"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateFallbackInitializing:
		return "fallback-initializing"
	case StateFallbackReady:
		return "fallback-ready"
	case StateFallbackFailed:
		return "fallback-failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink receives decoded frames. The frame is released back to the decode
// pool when Deliver returns, so implementations must copy what they keep.
type Sink interface {
	Deliver(epoch uint64, frame wire.DecodedFrame, path Path)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(epoch uint64, frame wire.DecodedFrame, path Path)

func (f SinkFunc) Deliver(epoch uint64, frame wire.DecodedFrame, path Path) { f(epoch, frame, path) }

// Recorder observes manager activity. Implementations must not call back
// into the manager.
type Recorder interface {
	Decoded(path Path, points int, elapsed time.Duration)
	DecodeFailed(path Path, err error)
	Dropped()
	StateChanged(state State)
}

type noopRecorder struct{}

func (noopRecorder) Decoded(Path, int, time.Duration) {}
func (noopRecorder) DecodeFailed(Path, error)         {}
func (noopRecorder) Dropped()                         {}
func (noopRecorder) StateChanged(State)               {}

// Config configures a Manager.
type Config struct {
	// Primary spawns the preferred worker. Nil means workers are unsupported.
	Primary Spawner
	// Fallback spawns the replacement after a primary fault. Nil disables it.
	Fallback Spawner
	// MaxRestarts bounds fallback spawns per session. Default 1.
	MaxRestarts int
	// Decode is used on the synchronous path. Default wire.Decode.
	Decode DecodeFunc
	// Recorder observes decode activity. Default is a no-op.
	Recorder Recorder
}

// DefaultConfig returns goroutine-backed primary and fallback workers.
func DefaultConfig(inbox int) Config {
	return Config{
		Primary:     GoroutineSpawner(wire.Decode, inbox),
		Fallback:    GoroutineSpawner(wire.Decode, inbox),
		MaxRestarts: 1,
	}
}

// Manager owns the decode worker and its state machine.
type Manager struct {
	cfg  Config
	sink Sink

	mu       sync.Mutex
	state    State
	worker   Worker
	path     Path
	gen      uint64
	restarts int
	lastPath Path

	wg sync.WaitGroup
}

// NewManager creates a manager that delivers decoded frames to sink.
func NewManager(cfg Config, sink Sink) *Manager {
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 1
	}
	if cfg.Decode == nil {
		cfg.Decode = wire.Decode
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	return &Manager{cfg: cfg, sink: sink, state: StateIdle}
}

// Start spawns the primary worker. Frames submitted before it reports READY
// are decoded synchronously.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return
	}
	m.spawnPrimaryLocked()
}

// Renew gives a session whose workers have all failed a fresh primary worker.
// It has no effect in any other state.
func (m *Manager) Renew() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFailed && m.state != StateFallbackFailed {
		return
	}
	m.restarts = 0
	m.spawnPrimaryLocked()
}

// Submit routes a frame to the ready worker, or decodes it on the calling
// goroutine when no worker is ready. A frame offered to a worker whose inbox
// is full is dropped.
func (m *Manager) Submit(job Job) {
	m.mu.Lock()
	state, w := m.state, m.worker
	m.mu.Unlock()

	switch state {
	case StateClosed:
		return
	case StateReady, StateFallbackReady:
		if !w.Post(job) {
			m.cfg.Recorder.Dropped()
		}
		return
	}

	start := time.Now()
	frame, err := m.cfg.Decode(job.Frame)
	m.handleResult(job.Epoch, frame, time.Since(start), err, PathSync)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// WorkerSupported reports whether isolated workers are available at all.
func (m *Manager) WorkerSupported() bool {
	return m.State() != StateNoWorkerSupport
}

// WorkerLoaded reports whether frames are currently routed to a worker.
func (m *Manager) WorkerLoaded() bool {
	s := m.State()
	return s == StateReady || s == StateFallbackReady
}

// LastPath returns the route that produced the most recent frame.
func (m *Manager) LastPath() Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPath
}

// Close terminates the worker and waits for its message loop to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	w := m.worker
	m.worker = nil
	m.gen++
	m.setStateLocked(StateClosed)
	m.mu.Unlock()

	if w != nil {
		w.Terminate()
	}
	m.wg.Wait()
}

func (m *Manager) spawnPrimaryLocked() {
	if m.cfg.Primary == nil {
		m.setStateLocked(StateNoWorkerSupport)
		return
	}
	w, err := m.cfg.Primary()
	switch {
	case err == ErrWorkerUnsupported:
		m.setStateLocked(StateNoWorkerSupport)
		return
	case err != nil:
		logf("primary worker spawn failed: %v", err)
		m.setStateLocked(StateFailed)
		m.spawnFallbackLocked()
		return
	}
	m.attachLocked(w, PathWorker, StateInitializing)
}

func (m *Manager) spawnFallbackLocked() {
	if m.cfg.Fallback == nil || m.restarts >= m.cfg.MaxRestarts {
		m.setStateLocked(StateFallbackFailed)
		logf("no decode worker available, decoding synchronously")
		return
	}
	m.restarts++
	w, err := m.cfg.Fallback()
	if err != nil {
		logf("fallback worker spawn failed: %v", err)
		m.setStateLocked(StateFallbackFailed)
		return
	}
	m.attachLocked(w, PathFallback, StateFallbackInitializing)
}

func (m *Manager) attachLocked(w Worker, path Path, state State) {
	m.gen++
	m.worker = w
	m.path = path
	m.setStateLocked(state)

	gen := m.gen
	m.wg.Add(1)
	go m.watch(gen, w, path)
}

func (m *Manager) watch(gen uint64, w Worker, path Path) {
	defer m.wg.Done()
	for msg := range w.Messages() {
		switch msg.Kind {
		case MessageReady:
			m.onReady(gen)
		case MessageResult:
			if !m.current(gen) {
				msg.Frame.Release()
				continue
			}
			m.handleResult(msg.Epoch, msg.Frame, msg.Elapsed, msg.Err, path)
		case MessageError:
			m.onFault(gen, msg.Err)
			return
		}
	}
	m.onFault(gen, errWorkerExited)
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) onReady(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	switch m.state {
	case StateInitializing:
		m.setStateLocked(StateReady)
	case StateFallbackInitializing:
		m.setStateLocked(StateFallbackReady)
	}
}

func (m *Manager) onFault(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	w := m.worker
	m.worker = nil
	m.gen++
	if w != nil {
		w.Terminate()
	}

	logf("%s crashed: %v", m.path, err)
	if m.path == PathWorker {
		m.setStateLocked(StateFailed)
	}
	m.spawnFallbackLocked()
}

func (m *Manager) handleResult(epoch uint64, frame wire.DecodedFrame, elapsed time.Duration, err error, path Path) {
	defer frame.Release()
	if err != nil {
		m.cfg.Recorder.DecodeFailed(path, err)
		logf("dropped frame (%s): %v", path, err)
		return
	}
	m.mu.Lock()
	m.lastPath = path
	m.mu.Unlock()

	m.cfg.Recorder.Decoded(path, frame.PointCount(), elapsed)
	if m.sink != nil {
		m.sink.Deliver(epoch, frame, path)
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.cfg.Recorder.StateChanged(s)
}

package decode

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar.console/internal/monitoring"
	"github.com/banshee-data/lidar.console/internal/pointcloud/wire"
)

func init() {
	monitoring.SetLogger(nil)
}

type delivery struct {
	epoch  uint64
	points []float32
	path   Path
}

type collectingSink struct {
	mu  sync.Mutex
	got []delivery
}

func (s *collectingSink) Deliver(epoch uint64, frame wire.DecodedFrame, path Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, delivery{epoch: epoch, points: append([]float32(nil), frame.Points...), path: path})
}

func (s *collectingSink) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.got...)
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type countingRecorder struct {
	decoded atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func (r *countingRecorder) Decoded(Path, int, time.Duration) { r.decoded.Add(1) }
func (r *countingRecorder) DecodeFailed(Path, error)         { r.failed.Add(1) }
func (r *countingRecorder) Dropped()                         { r.dropped.Add(1) }
func (r *countingRecorder) StateChanged(State)               {}

// fakeWorker is driven entirely by the test.
type fakeWorker struct {
	out        chan Message
	posted     chan Job
	terminated atomic.Bool
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{out: make(chan Message, 8), posted: make(chan Job, 8)}
}

func (w *fakeWorker) Post(job Job) bool {
	select {
	case w.posted <- job:
		return true
	default:
		return false
	}
}

func (w *fakeWorker) Messages() <-chan Message { return w.out }
func (w *fakeWorker) Terminate()               { w.terminated.Store(true) }

// fakeSpawner hands out pre-built fake workers in order.
type fakeSpawner struct {
	mu      sync.Mutex
	workers []*fakeWorker
	spawned int
}

func (s *fakeSpawner) spawn() (Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spawned >= len(s.workers) {
		return nil, errors.New("no more workers")
	}
	w := s.workers[s.spawned]
	s.spawned++
	return w, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned
}

func frameOf(x float32) *wire.RawFrame {
	return wire.Encode([]wire.Point{{X: x, Y: x, Z: x}}, wire.ColorNone, false)
}

func decodedOf(t *testing.T, x float32) wire.DecodedFrame {
	t.Helper()
	f, err := wire.Decode(frameOf(x))
	require.NoError(t, err)
	return f
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, time.Second, time.Millisecond,
		"state never reached %s (last %s)", want, m.State())
}

func TestManager_NoWorkerSupport(t *testing.T) {
	for name, primary := range map[string]Spawner{"nil": nil, "unsupported": UnsupportedSpawner} {
		t.Run(name, func(t *testing.T) {
			sink := &collectingSink{}
			m := NewManager(Config{Primary: primary}, sink)
			m.Start()
			defer m.Close()

			assert.Equal(t, StateNoWorkerSupport, m.State())
			assert.False(t, m.WorkerSupported())

			m.Submit(Job{Epoch: 3, Frame: frameOf(1)})
			got := sink.deliveries()
			require.Len(t, got, 1)
			assert.Equal(t, PathSync, got[0].path)
			assert.Equal(t, uint64(3), got[0].epoch)
			assert.Equal(t, []float32{1, 1, 1}, got[0].points)
			assert.Equal(t, PathSync, m.LastPath())
		})
	}
}

func TestManager_SyncUntilReady(t *testing.T) {
	primary := newFakeWorker()
	spawner := &fakeSpawner{workers: []*fakeWorker{primary}}
	sink := &collectingSink{}
	m := NewManager(Config{Primary: spawner.spawn}, sink)
	m.Start()
	defer func() {
		close(primary.out)
		m.Close()
	}()

	assert.Equal(t, StateInitializing, m.State())
	m.Submit(Job{Epoch: 1, Frame: frameOf(1)})
	require.Equal(t, 1, sink.count())
	assert.Equal(t, PathSync, sink.deliveries()[0].path)
	assert.Empty(t, primary.posted)

	primary.out <- Message{Kind: MessageReady}
	waitState(t, m, StateReady)
	assert.True(t, m.WorkerLoaded())

	m.Submit(Job{Epoch: 1, Frame: frameOf(2)})
	job := <-primary.posted
	assert.Equal(t, uint64(1), job.Epoch)

	primary.out <- Message{Kind: MessageResult, Epoch: job.Epoch, Frame: decodedOf(t, 2)}
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, PathWorker, sink.deliveries()[1].path)
}

func TestManager_FailoverThenSynchronous(t *testing.T) {
	primary, fallback := newFakeWorker(), newFakeWorker()
	spawner := &fakeSpawner{workers: []*fakeWorker{primary, fallback}}
	sink := &collectingSink{}
	m := NewManager(Config{Primary: spawner.spawn, Fallback: spawner.spawn}, sink)
	m.Start()
	defer m.Close()

	primary.out <- Message{Kind: MessageReady}
	waitState(t, m, StateReady)

	primary.out <- Message{Kind: MessageError, Err: errors.New("boom")}
	waitState(t, m, StateFallbackInitializing)
	assert.True(t, primary.terminated.Load())

	fallback.out <- Message{Kind: MessageReady}
	waitState(t, m, StateFallbackReady)

	m.Submit(Job{Frame: frameOf(5)})
	<-fallback.posted
	fallback.out <- Message{Kind: MessageResult, Frame: decodedOf(t, 5)}
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, PathFallback, sink.deliveries()[0].path)

	close(fallback.out)
	waitState(t, m, StateFallbackFailed)
	assert.Equal(t, 2, spawner.count(), "only one fallback is spawned")

	m.Submit(Job{Frame: frameOf(6)})
	require.Equal(t, 2, sink.count())
	assert.Equal(t, PathSync, sink.deliveries()[1].path)
}

func TestManager_CrashIsLoggedWithTag(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	primary := newFakeWorker()
	spawner := &fakeSpawner{workers: []*fakeWorker{primary}}
	m := NewManager(Config{Primary: spawner.spawn}, &collectingSink{})
	m.Start()
	defer m.Close()

	primary.out <- Message{Kind: MessageError, Err: errors.New("boom")}
	waitState(t, m, StateFallbackFailed)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, lines, "[Decode] worker crashed: boom")
	assert.Contains(t, lines, "[Decode] no decode worker available, decoding synchronously")
}

func TestManager_MaxRestarts(t *testing.T) {
	workers := []*fakeWorker{newFakeWorker(), newFakeWorker(), newFakeWorker()}
	spawner := &fakeSpawner{workers: workers}
	m := NewManager(Config{Primary: spawner.spawn, Fallback: spawner.spawn, MaxRestarts: 2}, &collectingSink{})
	m.Start()
	defer m.Close()

	close(workers[0].out)
	waitState(t, m, StateFallbackInitializing)
	close(workers[1].out)
	require.Eventually(t, func() bool { return spawner.count() == 3 }, time.Second, time.Millisecond)
	waitState(t, m, StateFallbackInitializing)
	close(workers[2].out)
	waitState(t, m, StateFallbackFailed)
}

func TestManager_PrimarySpawnErrorUsesFallback(t *testing.T) {
	fallback := newFakeWorker()
	failing := func() (Worker, error) { return nil, errors.New("no threads") }
	spawner := &fakeSpawner{workers: []*fakeWorker{fallback}}
	m := NewManager(Config{Primary: failing, Fallback: spawner.spawn}, &collectingSink{})
	m.Start()
	defer func() {
		close(fallback.out)
		m.Close()
	}()

	assert.Equal(t, StateFallbackInitializing, m.State())
}

func TestManager_StaleResultsDiscarded(t *testing.T) {
	primary := newFakeWorker()
	spawner := &fakeSpawner{workers: []*fakeWorker{primary}}
	sink := &collectingSink{}
	m := NewManager(Config{Primary: spawner.spawn}, sink)
	m.Start()
	primary.out <- Message{Kind: MessageReady}
	waitState(t, m, StateReady)

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	waitState(t, m, StateClosed)

	primary.out <- Message{Kind: MessageResult, Frame: decodedOf(t, 9)}
	close(primary.out)
	<-closed

	assert.Equal(t, 0, sink.count())
	assert.True(t, primary.terminated.Load())

	m.Submit(Job{Frame: frameOf(1)})
	assert.Equal(t, 0, sink.count(), "closed manager ignores frames")
}

func TestManager_RenewAfterTerminalFailure(t *testing.T) {
	first, second := newFakeWorker(), newFakeWorker()
	spawner := &fakeSpawner{workers: []*fakeWorker{first, second}}
	m := NewManager(Config{Primary: spawner.spawn}, &collectingSink{})
	m.Start()
	defer func() {
		close(second.out)
		m.Close()
	}()

	close(first.out)
	waitState(t, m, StateFallbackFailed)

	m.Renew()
	assert.Equal(t, StateInitializing, m.State())
	second.out <- Message{Kind: MessageReady}
	waitState(t, m, StateReady)

	m.Renew()
	assert.Equal(t, StateReady, m.State(), "renew is a no-op while healthy")
}

func TestManager_InboxFullDropsFrame(t *testing.T) {
	primary := newFakeWorker()
	primary.posted = make(chan Job) // unbuffered, never read
	spawner := &fakeSpawner{workers: []*fakeWorker{primary}}
	rec := &countingRecorder{}
	m := NewManager(Config{Primary: spawner.spawn, Recorder: rec}, &collectingSink{})
	m.Start()
	defer func() {
		close(primary.out)
		m.Close()
	}()
	primary.out <- Message{Kind: MessageReady}
	waitState(t, m, StateReady)

	m.Submit(Job{Frame: frameOf(1)})
	assert.Equal(t, int64(1), rec.dropped.Load())
}

func TestGoroutineWorker_EndToEnd(t *testing.T) {
	sink := &collectingSink{}
	rec := &countingRecorder{}
	cfg := DefaultConfig(4)
	cfg.Recorder = rec
	m := NewManager(cfg, sink)
	m.Start()
	defer m.Close()
	waitState(t, m, StateReady)

	m.Submit(Job{Epoch: 7, Frame: frameOf(3)})
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	got := sink.deliveries()[0]
	assert.Equal(t, PathWorker, got.path)
	assert.Equal(t, uint64(7), got.epoch)
	assert.Equal(t, []float32{3, 3, 3}, got.points)

	bad := frameOf(1)
	bad.Data = bad.Data[:4]
	m.Submit(Job{Frame: bad})
	require.Eventually(t, func() bool { return rec.failed.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateReady, m.State(), "a malformed frame does not fault the worker")
}

func TestGoroutineWorker_PanicTriggersFallback(t *testing.T) {
	var calls atomic.Int32
	panicky := func(f *wire.RawFrame) (wire.DecodedFrame, error) {
		calls.Add(1)
		panic("corrupt decoder state")
	}
	sink := &collectingSink{}
	m := NewManager(Config{
		Primary:  GoroutineSpawner(panicky, 2),
		Fallback: GoroutineSpawner(wire.Decode, 2),
	}, sink)
	m.Start()
	defer m.Close()
	waitState(t, m, StateReady)

	m.Submit(Job{Frame: frameOf(1)})
	waitState(t, m, StateFallbackReady)
	assert.Equal(t, int32(1), calls.Load())

	m.Submit(Job{Frame: frameOf(2)})
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, PathFallback, sink.deliveries()[0].path)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "fallback-ready", StateFallbackReady.String())
	assert.Equal(t, "unknown", State(99).String())
}

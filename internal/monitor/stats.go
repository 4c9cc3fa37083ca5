package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/lidar.console/internal/pointcloud/decode"
	"github.com/banshee-data/lidar.console/internal/pointcloud/pipeline"
)

// StatsSnapshot is one logging interval of pipeline throughput.
type StatsSnapshot struct {
	FramesPerSec  float64   `json:"frames_per_sec"`
	DecodedPerSec float64   `json:"decoded_per_sec"`
	PointsPerSec  float64   `json:"points_per_sec"`
	Malformed     int64     `json:"malformed"`
	DecodeErrors  int64     `json:"decode_errors"`
	Dropped       int64     `json:"dropped"`
	Evicted       int64     `json:"evicted"`
	MeanDecodeMs  float64   `json:"mean_decode_ms"`
	WorkerState   string    `json:"worker_state"`
	LastError     string    `json:"last_error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// PipelineStats counts pipeline events per interval and forwards every
// event to an optional downstream pipeline.Stats, such as the Prometheus
// collectors.
type PipelineStats struct {
	next pipeline.Stats

	mu           sync.Mutex
	received     int64
	malformed    int64
	decoded      int64
	decodeErrors int64
	dropped      int64
	points       int64
	evicted      int64
	decodeTime   time.Duration
	workerState  string
	lastError    string
	lastReset    time.Time
	startTime    time.Time
	latest       *StatsSnapshot
}

var _ pipeline.Stats = (*PipelineStats)(nil)

// NewPipelineStats creates a PipelineStats forwarding to next, which may
// be nil.
func NewPipelineStats(next pipeline.Stats) *PipelineStats {
	now := time.Now()
	return &PipelineStats{
		next:        next,
		workerState: decode.StateIdle.String(),
		lastReset:   now,
		startTime:   now,
	}
}

func (ps *PipelineStats) FrameReceived() {
	ps.mu.Lock()
	ps.received++
	ps.mu.Unlock()
	if ps.next != nil {
		ps.next.FrameReceived()
	}
}

func (ps *PipelineStats) FrameMalformed(err error) {
	ps.mu.Lock()
	ps.malformed++
	ps.lastError = err.Error()
	ps.mu.Unlock()
	if ps.next != nil {
		ps.next.FrameMalformed(err)
	}
}

func (ps *PipelineStats) Decoded(path decode.Path, points int, elapsed time.Duration) {
	ps.mu.Lock()
	ps.decoded++
	ps.points += int64(points)
	ps.decodeTime += elapsed
	ps.mu.Unlock()
	if ps.next != nil {
		ps.next.Decoded(path, points, elapsed)
	}
}

func (ps *PipelineStats) DecodeFailed(path decode.Path, err error) {
	ps.mu.Lock()
	ps.decodeErrors++
	ps.lastError = fmt.Sprintf("%s: %v", path, err)
	ps.mu.Unlock()
	if ps.next != nil {
		ps.next.DecodeFailed(path, err)
	}
}

func (ps *PipelineStats) Dropped() {
	ps.mu.Lock()
	ps.dropped++
	ps.mu.Unlock()
	if ps.next != nil {
		ps.next.Dropped()
	}
}

func (ps *PipelineStats) StateChanged(state decode.State) {
	ps.mu.Lock()
	prev := ps.workerState
	ps.workerState = state.String()
	ps.mu.Unlock()
	if prev != state.String() {
		log.Printf("[PointCloud] decode worker %s -> %s", prev, state)
	}
	if ps.next != nil {
		ps.next.StateChanged(state)
	}
}

func (ps *PipelineStats) PointsEvicted(n int) {
	ps.mu.Lock()
	ps.evicted += int64(n)
	ps.mu.Unlock()
	if ps.next != nil {
		ps.next.PointsEvicted(n)
	}
}

func (ps *PipelineStats) RenderTick(delta time.Duration) {
	if ps.next != nil {
		ps.next.RenderTick(delta)
	}
}

func (ps *PipelineStats) FramePresented(points int) {
	if ps.next != nil {
		ps.next.FramePresented(points)
	}
}

// GetAndReset returns the current interval's snapshot and starts a new
// interval.
func (ps *PipelineStats) GetAndReset() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	secs := now.Sub(ps.lastReset).Seconds()
	if secs <= 0 {
		secs = 1e-9
	}
	snap := StatsSnapshot{
		FramesPerSec:  float64(ps.received) / secs,
		DecodedPerSec: float64(ps.decoded) / secs,
		PointsPerSec:  float64(ps.points) / secs,
		Malformed:     ps.malformed,
		DecodeErrors:  ps.decodeErrors,
		Dropped:       ps.dropped,
		Evicted:       ps.evicted,
		WorkerState:   ps.workerState,
		LastError:     ps.lastError,
		Timestamp:     now,
	}
	if ps.decoded > 0 {
		snap.MeanDecodeMs = float64(ps.decodeTime) / float64(ps.decoded) / float64(time.Millisecond)
	}

	ps.received, ps.malformed, ps.decoded, ps.decodeErrors = 0, 0, 0, 0
	ps.dropped, ps.points, ps.evicted, ps.decodeTime = 0, 0, 0, 0
	ps.lastReset = now
	return snap
}

// LogStats logs the interval's throughput and keeps it for the web
// interface. Idle intervals are not logged.
func (ps *PipelineStats) LogStats() {
	snap := ps.GetAndReset()

	ps.mu.Lock()
	ps.latest = &snap
	ps.mu.Unlock()

	if snap.FramesPerSec == 0 && snap.Dropped == 0 && snap.Malformed == 0 {
		return
	}
	msg := fmt.Sprintf("PointCloud stats (/sec): %.1f frames, %.1f decoded, %s points, %.2f ms/decode, worker=%s",
		snap.FramesPerSec, snap.DecodedPerSec, FormatWithCommas(int64(snap.PointsPerSec)), snap.MeanDecodeMs, snap.WorkerState)
	if snap.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", snap.Dropped)
	}
	if snap.Malformed > 0 || snap.DecodeErrors > 0 {
		msg += fmt.Sprintf(", %d malformed, %d decode errors", snap.Malformed, snap.DecodeErrors)
	}
	if snap.Evicted > 0 {
		msg += fmt.Sprintf(", %s evicted", FormatWithCommas(snap.Evicted))
	}
	log.Print(msg)
}

// Run calls LogStats every interval until ctx is cancelled.
func (ps *PipelineStats) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ps.LogStats()
		}
	}
}

// GetUptime returns the time since the stats were created
func (ps *PipelineStats) GetUptime() time.Duration {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return time.Since(ps.startTime)
}

// GetLatestSnapshot returns the most recently logged interval, or nil.
func (ps *PipelineStats) GetLatestSnapshot() *StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.latest == nil {
		return nil
	}
	snapshot := *ps.latest
	return &snapshot
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}

package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar.console/internal/pointcloud/decode"
)

// countingStats records how many events reached it.
type countingStats struct {
	events map[string]int
}

func newCountingStats() *countingStats { return &countingStats{events: map[string]int{}} }

func (c *countingStats) Decoded(decode.Path, int, time.Duration) { c.events["decoded"]++ }
func (c *countingStats) DecodeFailed(decode.Path, error)         { c.events["decode_failed"]++ }
func (c *countingStats) Dropped()                                { c.events["dropped"]++ }
func (c *countingStats) StateChanged(decode.State)               { c.events["state"]++ }
func (c *countingStats) FrameReceived()                          { c.events["received"]++ }
func (c *countingStats) FrameMalformed(error)                    { c.events["malformed"]++ }
func (c *countingStats) PointsEvicted(int)                       { c.events["evicted"]++ }
func (c *countingStats) RenderTick(time.Duration)                { c.events["tick"]++ }
func (c *countingStats) FramePresented(int)                      { c.events["presented"]++ }

func TestPipelineStatsForwards(t *testing.T) {
	next := newCountingStats()
	ps := NewPipelineStats(next)

	ps.FrameReceived()
	ps.FrameMalformed(errors.New("short"))
	ps.Decoded(decode.PathWorker, 10, time.Millisecond)
	ps.DecodeFailed(decode.PathFallback, errors.New("bad"))
	ps.Dropped()
	ps.StateChanged(decode.StateReady)
	ps.PointsEvicted(5)
	ps.RenderTick(40 * time.Millisecond)
	ps.FramePresented(10)

	for _, k := range []string{"received", "malformed", "decoded", "decode_failed", "dropped", "state", "evicted", "tick", "presented"} {
		assert.Equal(t, 1, next.events[k], k)
	}
}

func TestPipelineStatsNilNext(t *testing.T) {
	ps := NewPipelineStats(nil)
	assert.NotPanics(t, func() {
		ps.FrameReceived()
		ps.RenderTick(time.Millisecond)
		ps.FramePresented(1)
		ps.StateChanged(decode.StateFailed)
	})
}

func TestGetAndReset(t *testing.T) {
	ps := NewPipelineStats(nil)
	ps.FrameReceived()
	ps.FrameReceived()
	ps.Decoded(decode.PathWorker, 100, 2*time.Millisecond)
	ps.Decoded(decode.PathWorker, 300, 4*time.Millisecond)
	ps.Dropped()
	ps.PointsEvicted(50)
	ps.DecodeFailed(decode.PathSync, errors.New("truncated"))
	ps.StateChanged(decode.StateFallbackReady)

	snap := ps.GetAndReset()
	assert.Greater(t, snap.FramesPerSec, 0.0)
	assert.Greater(t, snap.PointsPerSec, snap.DecodedPerSec)
	assert.Equal(t, int64(1), snap.Dropped)
	assert.Equal(t, int64(50), snap.Evicted)
	assert.Equal(t, int64(1), snap.DecodeErrors)
	assert.InDelta(t, 3.0, snap.MeanDecodeMs, 1e-9)
	assert.Equal(t, decode.StateFallbackReady.String(), snap.WorkerState)
	assert.Equal(t, "no worker: truncated", snap.LastError)

	snap = ps.GetAndReset()
	assert.Equal(t, 0.0, snap.FramesPerSec)
	assert.Equal(t, int64(0), snap.Evicted)
	assert.Equal(t, 0.0, snap.MeanDecodeMs)
	// Worker state and the last error persist across intervals.
	assert.Equal(t, decode.StateFallbackReady.String(), snap.WorkerState)
	assert.NotEmpty(t, snap.LastError)
}

func TestLogStatsKeepsLatest(t *testing.T) {
	ps := NewPipelineStats(nil)
	assert.Nil(t, ps.GetLatestSnapshot())

	ps.FrameReceived()
	ps.LogStats()
	first := ps.GetLatestSnapshot()
	require.NotNil(t, first)
	assert.Greater(t, first.FramesPerSec, 0.0)

	// Idle intervals are still recorded.
	ps.LogStats()
	idle := ps.GetLatestSnapshot()
	require.NotNil(t, idle)
	assert.Equal(t, 0.0, idle.FramesPerSec)
}

func TestRunStopsOnCancel(t *testing.T) {
	ps := NewPipelineStats(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ps.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ps.GetLatestSnapshot() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// A non-positive interval returns immediately.
	ps.Run(context.Background(), 0)
}

func TestFormatWithCommas(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{300000, "300,000"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatWithCommas(tt.in))
	}
}

func TestUptime(t *testing.T) {
	ps := NewPipelineStats(nil)
	assert.GreaterOrEqual(t, ps.GetUptime(), time.Duration(0))
}

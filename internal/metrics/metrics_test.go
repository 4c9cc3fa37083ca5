package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar.console/internal/pointcloud/decode"
	"github.com/banshee-data/lidar.console/internal/pointcloud/pipeline"
)

var _ pipeline.Stats = (*Metrics)(nil)

func TestCounters(t *testing.T) {
	m := New()

	m.FrameReceived()
	m.FrameReceived()
	m.FrameMalformed(errors.New("bad"))
	m.Decoded(decode.PathWorker, 100, 2*time.Millisecond)
	m.Decoded(decode.PathFallback, 50, time.Millisecond)
	m.DecodeFailed(decode.PathWorker, errors.New("short"))
	m.Dropped()
	m.PointsEvicted(30)
	m.RenderTick(40 * time.Millisecond)
	m.FramePresented(120)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesMalformed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDecoded.WithLabelValues(string(decode.PathWorker))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDecoded.WithLabelValues(string(decode.PathFallback))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeFailures.WithLabelValues(string(decode.PathWorker))))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.pointsDecoded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.pointsEvicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.renderTicks))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.pointsPresented))
}

func TestStateIsExclusive(t *testing.T) {
	m := New()
	m.StateChanged(decode.StateInitializing)
	m.StateChanged(decode.StateReady)

	assert.Equal(t, 1, testutil.CollectAndCount(m.workerState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerState.WithLabelValues(decode.StateReady.String())))

	m.ConnectionChanged("connecting")
	m.ConnectionChanged("connected")
	assert.Equal(t, 1, testutil.CollectAndCount(m.connectionStatus))
}

func TestHandler(t *testing.T) {
	m := New()
	m.FrameReceived()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "lidar_console_frames_received_total 1"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

// Package metrics exports the console's pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/lidar.console/internal/pointcloud/decode"
)

const namespace = "lidar_console"

// Metrics holds the Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived   prometheus.Counter
	framesMalformed  prometheus.Counter
	framesDecoded    *prometheus.CounterVec
	decodeFailures   *prometheus.CounterVec
	framesDropped    prometheus.Counter
	decodeSeconds    *prometheus.HistogramVec
	pointsDecoded    prometheus.Counter
	pointsEvicted    prometheus.Counter
	renderTicks      prometheus.Counter
	renderInterval   prometheus.Histogram
	pointsPresented  prometheus.Gauge
	workerState      *prometheus.GaugeVec
	connectionStatus *prometheus.GaugeVec
}

// New creates and registers the console collectors, plus the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Point cloud messages received from the transport",
		}),
		framesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Point cloud messages whose payload could not be read",
		}),
		framesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Frames decoded, by decode path",
		}, []string{"path"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Frames rejected by the decoder, by decode path",
		}, []string{"path"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the decode worker was busy",
		}),
		decodeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Time spent decoding one frame",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"path"}),
		pointsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_decoded_total",
			Help:      "Points decoded across all frames",
		}),
		pointsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_evicted_total",
			Help:      "Points evicted from the ring buffer",
		}),
		renderTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_ticks_total",
			Help:      "Render ticks fired by the frame rate controller",
		}),
		renderInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_interval_seconds",
			Help:      "Time between consecutive render ticks",
			Buckets:   []float64{0.005, 0.01, 0.02, 0.033, 0.04, 0.05, 0.1, 0.25, 1},
		}),
		pointsPresented: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "points_presented",
			Help:      "Points in the most recently rendered frame",
		}),
		workerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decode_worker_state",
			Help:      "1 for the decode manager's current state, 0 otherwise",
		}, []string{"state"}),
		connectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "1 for the transport's current status, 0 otherwise",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.framesMalformed,
		m.framesDecoded,
		m.decodeFailures,
		m.framesDropped,
		m.decodeSeconds,
		m.pointsDecoded,
		m.pointsEvicted,
		m.renderTicks,
		m.renderInterval,
		m.pointsPresented,
		m.workerState,
		m.connectionStatus,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived() { m.framesReceived.Inc() }

func (m *Metrics) FrameMalformed(error) { m.framesMalformed.Inc() }

func (m *Metrics) Decoded(path decode.Path, points int, elapsed time.Duration) {
	m.framesDecoded.WithLabelValues(string(path)).Inc()
	m.decodeSeconds.WithLabelValues(string(path)).Observe(elapsed.Seconds())
	m.pointsDecoded.Add(float64(points))
}

func (m *Metrics) DecodeFailed(path decode.Path, _ error) {
	m.decodeFailures.WithLabelValues(string(path)).Inc()
}

func (m *Metrics) Dropped() { m.framesDropped.Inc() }

// StateChanged marks state as the only active worker state.
func (m *Metrics) StateChanged(state decode.State) {
	m.workerState.Reset()
	m.workerState.WithLabelValues(state.String()).Set(1)
}

func (m *Metrics) PointsEvicted(n int) { m.pointsEvicted.Add(float64(n)) }

func (m *Metrics) RenderTick(delta time.Duration) {
	m.renderTicks.Inc()
	if delta > 0 {
		m.renderInterval.Observe(delta.Seconds())
	}
}

func (m *Metrics) FramePresented(points int) { m.pointsPresented.Set(float64(points)) }

// ConnectionChanged marks status as the only active connection status.
func (m *Metrics) ConnectionChanged(status string) {
	m.connectionStatus.Reset()
	m.connectionStatus.WithLabelValues(status).Set(1)
}

// Package monitor serves the console's HTTP interface: health and status
// JSON, snapshot renders of the point window, device control endpoints,
// Prometheus metrics and the tsweb debug page.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/lidar.console/internal/device"
	"github.com/banshee-data/lidar.console/internal/httputil"
	"github.com/banshee-data/lidar.console/internal/pointcloud/pipeline"
	"github.com/banshee-data/lidar.console/internal/pointcloud/render"
	"github.com/banshee-data/lidar.console/internal/stream"
	"github.com/banshee-data/lidar.console/internal/telemetry"
	"github.com/banshee-data/lidar.console/internal/units"
	"github.com/banshee-data/lidar.console/internal/version"
	"tailscale.com/tsweb"
)

// PointSource is the part of the point cloud viewer the web server reads.
// *pipeline.Viewer satisfies it.
type PointSource interface {
	Surface() *render.Surface
	DebugInfo() pipeline.DebugInfo
}

// WebServer handles the HTTP interface of the console.
type WebServer struct {
	address    string
	points     PointSource
	telemetry  *telemetry.State
	device     *device.Client
	stats      *PipelineStats
	metrics    http.Handler
	connection func() string
	stream     func() stream.PublisherStats
	speedUnits string
	startTime  time.Time
	server     *http.Server
}

// WebServerConfig contains configuration options for the web server. Every
// collaborator is optional; endpoints backed by a missing one answer 503.
type WebServerConfig struct {
	Address    string
	Points     PointSource
	Telemetry  *telemetry.State
	Device     *device.Client
	Stats      *PipelineStats
	Metrics    http.Handler
	Connection func() string
	Stream     func() stream.PublisherStats
	// SpeedUnits selects the units of Status.Speed; empty means m/s.
	SpeedUnits string
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:    config.Address,
		points:     config.Points,
		telemetry:  config.Telemetry,
		device:     config.Device,
		stats:      config.Stats,
		metrics:    config.Metrics,
		connection: config.Connection,
		stream:     config.Stream,
		speedUnits: config.SpeedUnits,
		startTime:  time.Now(),
	}

	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return ws
}

// Handler returns the server's route multiplexer.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Monitor] starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Println("[Monitor] shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Monitor] HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("[Monitor] HTTP server force close error: %v", err)
		}
	}

	log.Printf("[Monitor] HTTP server routine stopped")
	return nil
}

// Close closes the server immediately.
func (ws *WebServer) Close() error {
	return ws.server.Close()
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/pointcloud/snapshot.png", ws.handleSnapshotPNG)
	mux.HandleFunc("/api/pointcloud/chart", ws.handleSnapshotChart)
	mux.HandleFunc("/api/telemetry/trajectory", ws.handleTrajectory)
	mux.HandleFunc("/api/telemetry/keyframe", ws.handleKeyframe)
	ws.attachDeviceRoutes(mux)

	if ws.metrics != nil {
		mux.Handle("/metrics", ws.metrics)
	}
	ws.attachDebugRoutes(mux)

	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":    "ok",
		"service":   "lidar-console",
		"version":   version.Get(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status is the body of /api/status.
type Status struct {
	Version    version.Info           `json:"version"`
	Connection string                 `json:"connection"`
	Uptime     string                 `json:"uptime"`
	Pipeline   *pipeline.DebugInfo    `json:"pipeline,omitempty"`
	Telemetry  *telemetry.Snapshot    `json:"telemetry,omitempty"`
	Speed      *units.Speed           `json:"speed,omitempty"`
	Throughput *StatsSnapshot         `json:"throughput,omitempty"`
	Stream     *stream.PublisherStats `json:"stream,omitempty"`
	Device     string                 `json:"device_breaker,omitempty"`
}

// Status collects the debug panel data.
func (ws *WebServer) Status() Status {
	st := Status{
		Version:    version.Get(),
		Connection: "unknown",
		Uptime:     time.Since(ws.startTime).Round(time.Second).String(),
	}
	if ws.connection != nil {
		st.Connection = ws.connection()
	}
	if ws.points != nil {
		info := ws.points.DebugInfo()
		st.Pipeline = &info
	}
	if ws.telemetry != nil {
		snap := ws.telemetry.Snapshot()
		st.Telemetry = &snap
		if snap.Pose != nil {
			sp := units.NewSpeed(snap.Pose.SpeedMPS, ws.speedUnits)
			st.Speed = &sp
		}
	}
	if ws.stats != nil {
		st.Throughput = ws.stats.GetLatestSnapshot()
	}
	if ws.stream != nil {
		ps := ws.stream()
		st.Stream = &ps
	}
	if ws.device != nil {
		st.Device = ws.device.BreakerState()
	}
	return st
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, ws.Status())
}

func (ws *WebServer) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.telemetry == nil {
		httputil.ServiceUnavailable(w, "telemetry not configured")
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"positions": ws.telemetry.Trajectory(),
	})
}

func (ws *WebServer) handleKeyframe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.telemetry == nil {
		httputil.ServiceUnavailable(w, "telemetry not configured")
		return
	}
	kf := ws.telemetry.Keyframe()
	if kf == nil {
		httputil.NotFound(w, "no keyframe received")
		return
	}
	w.Header().Set("Content-Type", keyframeContentType(kf.Format))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(kf.Data)
}

// keyframeContentType maps a sensor_msgs/CompressedImage format such as
// "rgb8; jpeg compressed bgr8" to a MIME type.
func keyframeContentType(format string) string {
	if strings.Contains(strings.ToLower(format), "png") {
		return "image/png"
	}
	return "image/jpeg"
}

// attachDebugRoutes registers the tsweb debug page. tsweb restricts it to
// loopback and tailnet callers.
func (ws *WebServer) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KV("Version", version.Get().String())
	debug.KVFunc("Uptime", func() any {
		return time.Since(ws.startTime).Round(time.Second).String()
	})
	debug.KVFunc("Connection", func() any {
		if ws.connection == nil {
			return "unknown"
		}
		return ws.connection()
	})
	if ws.points != nil {
		debug.KVFunc("FPS", func() any {
			info := ws.points.DebugInfo()
			return fmt.Sprintf("%.1f (target %.0f)", info.FPS, info.TargetFPS)
		})
		debug.KVFunc("Points", func() any {
			info := ws.points.DebugInfo()
			return fmt.Sprintf("%s / %s", FormatWithCommas(int64(info.PointCount)), FormatWithCommas(int64(info.MaxPoints)))
		})
		debug.KVFunc("Frames presented", func() any {
			return FormatWithCommas(int64(ws.points.Surface().Presents()))
		})
		debug.KVFunc("Decoder", func() any {
			info := ws.points.DebugInfo()
			return fmt.Sprintf("%s (%s)", info.DecodedWith, info.WorkerState)
		})
	}
	if ws.telemetry != nil {
		debug.KVFunc("Speed", func() any {
			if st := ws.Status(); st.Speed != nil {
				return st.Speed.String()
			}
			return "no odometry"
		})
	}
	if ws.device != nil {
		debug.KVFunc("Device breaker", func() any { return ws.device.BreakerState() })
	}

	debug.HandleFunc("status", "Console status as JSON", ws.handleStatus)
	debug.URL("/api/pointcloud/chart", "Point cloud scatter chart")
	debug.URL("/api/pointcloud/snapshot.png", "Top-down point cloud render")
	if ws.metrics != nil {
		debug.URL("/metrics", "Prometheus metrics")
	}
}

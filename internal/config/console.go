// Package config loads the console configuration: a JSON file whose fields
// are all optional, overlaid by LIDAR_CONSOLE_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/banshee-data/lidar.console/internal/units"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultConfigPath is the path to the canonical console defaults file.
const DefaultConfigPath = "config/console.defaults.json"

// Compression modes accepted for rosbridge subscriptions.
const (
	CompressionNone = "none"
	CompressionCBOR = "cbor"
)

// ConsoleConfig is the root console configuration. Fields left nil fall
// back to the defaults returned by the Get* methods.
type ConsoleConfig struct {
	// Transport
	RosbridgeURL *string `json:"rosbridge_url,omitempty"`
	Compression  *string `json:"compression,omitempty"` // "none" or "cbor"
	Reconnect    *bool   `json:"reconnect,omitempty"`

	// Point cloud pipeline
	PointCloudTopic   *string  `json:"pointcloud_topic,omitempty"`
	PointCloudType    *string  `json:"pointcloud_type,omitempty"`
	MaxPointNumber    *int     `json:"max_point_number,omitempty"`
	TargetFPS         *float64 `json:"target_fps,omitempty"`
	HostRefreshHz     *float64 `json:"host_refresh_hz,omitempty"`
	WorkerInbox       *int     `json:"worker_inbox,omitempty"`
	MaxWorkerRestarts *int     `json:"max_worker_restarts,omitempty"`

	// Supporting topics
	OdometryTopic       *string `json:"odometry_topic,omitempty"`
	BatteryTopic        *string `json:"battery_topic,omitempty"`
	StorageTopic        *string `json:"storage_topic,omitempty"`
	DriverStatusTopic   *string `json:"driver_status_topic,omitempty"`
	DurationTopic       *string `json:"duration_topic,omitempty"`
	KeyframeTopic       *string `json:"keyframe_topic,omitempty"`
	MaxTrajectoryLength *int    `json:"max_trajectory_length,omitempty"`
	SpeedUnits          *string `json:"speed_units,omitempty"` // mps, kmph, kph or mph

	// Device services
	ServiceTimeout *string `json:"service_timeout,omitempty"` // duration string like "5s"

	// Serving
	StatsInterval  *string `json:"stats_interval,omitempty"` // duration string like "5s"
	Listen         *string `json:"listen,omitempty"`
	GRPCListen     *string `json:"grpc_listen,omitempty"`
	GRPCMaxClients *int    `json:"grpc_max_clients,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConsoleConfig returns a ConsoleConfig with all fields set to nil.
func EmptyConsoleConfig() *ConsoleConfig {
	return &ConsoleConfig{}
}

// LoadConsoleConfig loads a ConsoleConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadConsoleConfig(path string) (*ConsoleConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConsoleConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. It panics if the file
// cannot be loaded and is intended for test setup.
func MustLoadDefaultConfig() *ConsoleConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/pointcloud/*
	}
	for _, path := range candidates {
		if cfg, err := LoadConsoleConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *ConsoleConfig) Validate() error {
	if c.RosbridgeURL != nil {
		u, err := url.Parse(*c.RosbridgeURL)
		if err != nil {
			return fmt.Errorf("invalid rosbridge_url %q: %w", *c.RosbridgeURL, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("rosbridge_url must use ws:// or wss://, got %q", *c.RosbridgeURL)
		}
		if u.Host == "" {
			return fmt.Errorf("rosbridge_url %q has no host", *c.RosbridgeURL)
		}
	}

	if c.Compression != nil && *c.Compression != CompressionNone && *c.Compression != CompressionCBOR {
		return fmt.Errorf("compression must be %q or %q, got %q", CompressionNone, CompressionCBOR, *c.Compression)
	}

	if c.PointCloudTopic != nil && *c.PointCloudTopic == "" {
		return fmt.Errorf("pointcloud_topic must not be empty")
	}

	if c.MaxPointNumber != nil && *c.MaxPointNumber <= 0 {
		return fmt.Errorf("max_point_number must be positive, got %d", *c.MaxPointNumber)
	}

	if c.TargetFPS != nil && (*c.TargetFPS <= 0 || *c.TargetFPS > 240) {
		return fmt.Errorf("target_fps must be in (0, 240], got %g", *c.TargetFPS)
	}

	if c.HostRefreshHz != nil && *c.HostRefreshHz <= 0 {
		return fmt.Errorf("host_refresh_hz must be positive, got %g", *c.HostRefreshHz)
	}

	if c.WorkerInbox != nil && *c.WorkerInbox <= 0 {
		return fmt.Errorf("worker_inbox must be positive, got %d", *c.WorkerInbox)
	}

	if c.MaxWorkerRestarts != nil && *c.MaxWorkerRestarts < 0 {
		return fmt.Errorf("max_worker_restarts must be non-negative, got %d", *c.MaxWorkerRestarts)
	}

	if c.MaxTrajectoryLength != nil && *c.MaxTrajectoryLength <= 0 {
		return fmt.Errorf("max_trajectory_length must be positive, got %d", *c.MaxTrajectoryLength)
	}

	if c.SpeedUnits != nil && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of %s, got %q", units.ValidUnitsString(), *c.SpeedUnits)
	}

	if c.GRPCMaxClients != nil && *c.GRPCMaxClients < 0 {
		return fmt.Errorf("grpc_max_clients must be non-negative, got %d", *c.GRPCMaxClients)
	}

	for name, v := range map[string]*string{
		"service_timeout": c.ServiceTimeout,
		"stats_interval":  c.StatsInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// GetRosbridgeURL returns the rosbridge websocket URL or the default.
func (c *ConsoleConfig) GetRosbridgeURL() string {
	return stringOr(c.RosbridgeURL, "ws://192.168.1.10:9090")
}

// GetCompression returns the subscription compression or the default.
func (c *ConsoleConfig) GetCompression() string {
	return stringOr(c.Compression, CompressionNone)
}

// GetReconnect reports whether the console keeps reconnecting to rosbridge.
func (c *ConsoleConfig) GetReconnect() bool {
	if c.Reconnect == nil {
		return true
	}
	return *c.Reconnect
}

// GetPointCloudTopic returns the point cloud topic or the default.
func (c *ConsoleConfig) GetPointCloudTopic() string {
	return stringOr(c.PointCloudTopic, "/lidar_out")
}

// GetPointCloudType returns the point cloud message type or the default.
func (c *ConsoleConfig) GetPointCloudType() string {
	return stringOr(c.PointCloudType, "sensor_msgs/PointCloud2")
}

// GetMaxPointNumber returns the ring buffer size in points or the default.
func (c *ConsoleConfig) GetMaxPointNumber() int {
	if c.MaxPointNumber == nil {
		return 300000
	}
	return *c.MaxPointNumber
}

// GetTargetFPS returns the render rate or the default.
func (c *ConsoleConfig) GetTargetFPS() float64 {
	if c.TargetFPS == nil {
		return 25
	}
	return *c.TargetFPS
}

// GetHostRefreshInterval returns the host tick interval derived from
// host_refresh_hz.
func (c *ConsoleConfig) GetHostRefreshInterval() time.Duration {
	hz := 60.0
	if c.HostRefreshHz != nil && *c.HostRefreshHz > 0 {
		hz = *c.HostRefreshHz
	}
	return time.Duration(float64(time.Second) / hz)
}

// GetWorkerInbox returns the decode worker inbox capacity or the default.
func (c *ConsoleConfig) GetWorkerInbox() int {
	if c.WorkerInbox == nil {
		return 16
	}
	return *c.WorkerInbox
}

// GetMaxWorkerRestarts returns the fallback spawn budget or the default.
func (c *ConsoleConfig) GetMaxWorkerRestarts() int {
	if c.MaxWorkerRestarts == nil {
		return 1
	}
	return *c.MaxWorkerRestarts
}

// GetOdometryTopic returns the odometry topic or the default.
func (c *ConsoleConfig) GetOdometryTopic() string {
	return stringOr(c.OdometryTopic, "/Odometry")
}

// GetBatteryTopic returns the battery topic or the default.
func (c *ConsoleConfig) GetBatteryTopic() string {
	return stringOr(c.BatteryTopic, "/battery")
}

// GetStorageTopic returns the storage topic or the default.
func (c *ConsoleConfig) GetStorageTopic() string {
	return stringOr(c.StorageTopic, "/storage")
}

// GetDriverStatusTopic returns the driver status topic or the default.
func (c *ConsoleConfig) GetDriverStatusTopic() string {
	return stringOr(c.DriverStatusTopic, "/driver_status")
}

// GetDurationTopic returns the project duration topic or the default.
func (c *ConsoleConfig) GetDurationTopic() string {
	return stringOr(c.DurationTopic, "/project_duration")
}

// GetKeyframeTopic returns the keyframe image topic or the default.
func (c *ConsoleConfig) GetKeyframeTopic() string {
	return stringOr(c.KeyframeTopic, "/keyframe")
}

// GetMaxTrajectoryLength returns the trajectory bound or the default.
func (c *ConsoleConfig) GetMaxTrajectoryLength() int {
	if c.MaxTrajectoryLength == nil {
		return 10000
	}
	return *c.MaxTrajectoryLength
}

// GetServiceTimeout returns the per-call device service timeout.
func (c *ConsoleConfig) GetServiceTimeout() time.Duration {
	return durationOr(c.ServiceTimeout, 5*time.Second)
}

// GetStatsInterval returns the throughput logging interval. Zero disables
// periodic logging.
func (c *ConsoleConfig) GetStatsInterval() time.Duration {
	return durationOr(c.StatsInterval, 5*time.Second)
}

// GetListen returns the HTTP listen address or the default.
func (c *ConsoleConfig) GetListen() string {
	return stringOr(c.Listen, ":8080")
}

// GetGRPCListen returns the snapshot stream listen address. An explicit
// empty string disables the stream.
func (c *ConsoleConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return "localhost:50061"
	}
	return *c.GRPCListen
}

// GetGRPCMaxClients returns the snapshot stream client limit or the default.
func (c *ConsoleConfig) GetGRPCMaxClients() int {
	if c.GRPCMaxClients == nil {
		return 5
	}
	return *c.GRPCMaxClients
}

// GetSpeedUnits returns the odometry speed display units or the default.
func (c *ConsoleConfig) GetSpeedUnits() string {
	return stringOr(c.SpeedUnits, units.MPS)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIDAR_CONSOLE_"

// LoadEnv reads .env files into the process environment without replacing
// variables that are already set. With no paths, ".env" is used. Missing
// files are skipped.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields of c from LIDAR_CONSOLE_* variables, e.g.
// LIDAR_CONSOLE_ROSBRIDGE_URL or LIDAR_CONSOLE_MAX_POINT_NUMBER, and
// validates the result.
func ApplyEnv(c *ConsoleConfig) error {
	return applyEnv(c, os.LookupEnv)
}

func applyEnv(c *ConsoleConfig, lookup func(string) (string, bool)) error {
	strs := map[string]**string{
		"ROSBRIDGE_URL":       &c.RosbridgeURL,
		"COMPRESSION":         &c.Compression,
		"POINTCLOUD_TOPIC":    &c.PointCloudTopic,
		"POINTCLOUD_TYPE":     &c.PointCloudType,
		"ODOMETRY_TOPIC":      &c.OdometryTopic,
		"BATTERY_TOPIC":       &c.BatteryTopic,
		"STORAGE_TOPIC":       &c.StorageTopic,
		"DRIVER_STATUS_TOPIC": &c.DriverStatusTopic,
		"DURATION_TOPIC":      &c.DurationTopic,
		"KEYFRAME_TOPIC":      &c.KeyframeTopic,
		"SPEED_UNITS":         &c.SpeedUnits,
		"SERVICE_TIMEOUT":     &c.ServiceTimeout,
		"STATS_INTERVAL":      &c.StatsInterval,
		"LISTEN":              &c.Listen,
		"GRPC_LISTEN":         &c.GRPCListen,
	}
	for key, field := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*field = ptrString(v)
		}
	}

	ints := map[string]**int{
		"MAX_POINT_NUMBER":      &c.MaxPointNumber,
		"WORKER_INBOX":          &c.WorkerInbox,
		"MAX_WORKER_RESTARTS":   &c.MaxWorkerRestarts,
		"MAX_TRAJECTORY_LENGTH": &c.MaxTrajectoryLength,
		"GRPC_MAX_CLIENTS":      &c.GRPCMaxClients,
	}
	for key, field := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*field = ptrInt(n)
	}

	floats := map[string]**float64{
		"TARGET_FPS":      &c.TargetFPS,
		"HOST_REFRESH_HZ": &c.HostRefreshHz,
	}
	for key, field := range floats {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*field = ptrFloat64(f)
	}

	if v, ok := lookup(EnvPrefix + "RECONNECT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sRECONNECT: %w", EnvPrefix, err)
		}
		c.Reconnect = ptrBool(b)
	}

	return c.Validate()
}

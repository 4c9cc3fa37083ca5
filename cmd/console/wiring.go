package main

import (
	"github.com/banshee-data/lidar.console/internal/config"
	"github.com/banshee-data/lidar.console/internal/pointcloud/decode"
	"github.com/banshee-data/lidar.console/internal/pointcloud/pipeline"
	"github.com/banshee-data/lidar.console/internal/pointcloud/render"
	"github.com/banshee-data/lidar.console/internal/telemetry"
)

// viewerOptions builds the point cloud pipeline options from cfg.
func viewerOptions(cfg *config.ConsoleConfig, extra []pipeline.TopicHandler, sinks []render.Sink, stats pipeline.Stats) pipeline.Options {
	dcfg := decode.DefaultConfig(cfg.GetWorkerInbox())
	if restarts := cfg.GetMaxWorkerRestarts(); restarts == 0 {
		dcfg.Fallback = nil
	} else {
		dcfg.MaxRestarts = restarts
	}

	return pipeline.Options{
		MaxPoints:    cfg.GetMaxPointNumber(),
		TargetFPS:    cfg.GetTargetFPS(),
		HostInterval: cfg.GetHostRefreshInterval(),
		Topic:        cfg.GetPointCloudTopic(),
		MessageType:  cfg.GetPointCloudType(),
		Extra:        extra,
		Decode:       dcfg,
		Sinks:        sinks,
		Stats:        stats,
	}
}

// telemetryHandlers returns the supporting subscriptions for state, moved to
// the topics named in cfg.
func telemetryHandlers(cfg *config.ConsoleConfig, state *telemetry.State) []pipeline.TopicHandler {
	topics := map[string]string{
		telemetry.TopicOdometry:        cfg.GetOdometryTopic(),
		telemetry.TopicBattery:         cfg.GetBatteryTopic(),
		telemetry.TopicStorage:         cfg.GetStorageTopic(),
		telemetry.TopicDriverStatus:    cfg.GetDriverStatusTopic(),
		telemetry.TopicProjectDuration: cfg.GetDurationTopic(),
		telemetry.TopicKeyframe:        cfg.GetKeyframeTopic(),
	}
	handlers := state.Handlers()
	for i := range handlers {
		if t, ok := topics[handlers[i].Topic]; ok {
			handlers[i].Topic = t
		}
	}
	return handlers
}

package synthetic

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/banshee-data/lidar.console/internal/pointcloud/pipeline"
	"github.com/banshee-data/lidar.console/internal/telemetry"
	"github.com/banshee-data/lidar.console/internal/timeutil"
)

// SourceConfig configures a Source.
type SourceConfig struct {
	Topic     string
	FrameRate float64 // frames per second
	// TelemetryEvery publishes telemetry on every Nth frame. Zero disables it.
	TelemetryEvery int
	Clock          timeutil.Clock
}

// DefaultSourceConfig returns a 10 Hz source on the default topic.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Topic:          pipeline.DefaultTopic,
		FrameRate:      10,
		TelemetryEvery: 5,
	}
}

// Source publishes generated frames and telemetry on a Transport.
type Source struct {
	cfg       SourceConfig
	gen       *Generator
	transport *Transport
	startedAt time.Time
}

// NewSource returns a Source publishing gen's frames on t.
func NewSource(t *Transport, gen *Generator, cfg SourceConfig) *Source {
	if cfg.Topic == "" {
		cfg.Topic = pipeline.DefaultTopic
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 10
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Source{cfg: cfg, gen: gen, transport: t, startedAt: cfg.Clock.Now()}
}

// Run marks the transport connected and publishes until ctx is cancelled,
// then marks it disconnected.
func (s *Source) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / s.cfg.FrameRate)
	ticker := s.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	s.transport.SetConnected(true)
	defer s.transport.SetConnected(false)
	log.Printf("[Synthetic] publishing %d points at %.1f Hz on %s",
		s.gen.PointsPerFrame, s.cfg.FrameRate, s.cfg.Topic)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Synthetic] stopped after %d frames", s.gen.FrameCount())
			return nil
		case <-ticker.C():
			s.Step()
		}
	}
}

// Step publishes one frame, plus telemetry when due.
func (s *Source) Step() {
	if _, err := s.transport.Publish(s.cfg.Topic, s.gen.NextFrame()); err != nil {
		log.Printf("[Synthetic] publish frame: %v", err)
		return
	}
	n := s.gen.FrameCount()
	if s.cfg.TelemetryEvery > 0 && n%uint64(s.cfg.TelemetryEvery) == 0 {
		s.publishTelemetry(n)
	}
}

func (s *Source) publishTelemetry(frames uint64) {
	now := s.cfg.Clock.Now()
	x, y, z := s.gen.PoseAt(frames)
	stamp := map[string]interface{}{"sec": now.Unix(), "nanosec": uint32(now.Nanosecond())}
	elapsed := now.Sub(s.startedAt)

	msgs := []struct {
		topic string
		v     interface{}
	}{
		{telemetry.TopicOdometry, map[string]interface{}{
			"header": map[string]interface{}{"stamp": stamp, "frame_id": "odom"},
			"pose": map[string]interface{}{"pose": map[string]interface{}{
				"position":    map[string]float64{"x": x, "y": y, "z": z},
				"orientation": map[string]float64{"x": 0, "y": 0, "z": 0, "w": 1},
			}},
		}},
		// Drains one percent per simulated minute and wraps.
		{telemetry.TopicBattery, map[string]float64{
			"percentage": 100 - math.Mod(elapsed.Minutes(), 100),
			"voltage":    12.6,
		}},
		{telemetry.TopicStorage, map[string]string{"data": "synthetic"}},
		{telemetry.TopicDriverStatus, map[string]uint8{"data": 0x0f}},
		{telemetry.TopicProjectDuration, map[string]float64{"data": elapsed.Seconds()}},
	}
	for _, m := range msgs {
		if _, err := s.transport.Publish(m.topic, m.v); err != nil {
			log.Printf("[Synthetic] publish %s: %v", m.topic, err)
		}
	}
}

// Command console is the LiDAR scanner operator console. It subscribes to
// the scanner's point cloud over rosbridge, keeps a bounded window of recent
// points, renders it at a fixed rate and serves status, snapshots and device
// control over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/banshee-data/lidar.console/internal/config"
	"github.com/banshee-data/lidar.console/internal/device"
	"github.com/banshee-data/lidar.console/internal/metrics"
	"github.com/banshee-data/lidar.console/internal/monitor"
	"github.com/banshee-data/lidar.console/internal/monitoring"
	"github.com/banshee-data/lidar.console/internal/pointcloud/pipeline"
	"github.com/banshee-data/lidar.console/internal/pointcloud/render"
	"github.com/banshee-data/lidar.console/internal/rosbridge"
	"github.com/banshee-data/lidar.console/internal/stream"
	"github.com/banshee-data/lidar.console/internal/synthetic"
	"github.com/banshee-data/lidar.console/internal/telemetry"
	"github.com/banshee-data/lidar.console/internal/version"
)

var (
	configPath      = flag.String("config", "", "Path to console JSON config (default "+config.DefaultConfigPath+" if present)")
	envFiles        = flag.String("env", ".env", "Comma-separated .env files to load before applying LIDAR_CONSOLE_* overrides")
	listen          = flag.String("listen", "", "HTTP listen address (overrides config)")
	rosbridgeURL    = flag.String("rosbridge", "", "rosbridge websocket URL (overrides config)")
	syntheticMode   = flag.Bool("synthetic", false, "Feed the console from a synthetic point cloud instead of a scanner")
	syntheticPoints = flag.Int("synthetic-points", 5000, "Points per synthetic frame")
	quiet           = flag.Bool("quiet", false, "Suppress library diagnostic logging")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("console: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig layers the JSON config, .env files, LIDAR_CONSOLE_* variables
// and command-line flags, in that order.
func loadConfig() (*config.ConsoleConfig, error) {
	cfg := config.EmptyConsoleConfig()
	path := *configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		loaded, err := config.LoadConsoleConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		log.Printf("loaded config from %s", path)
	}

	if *envFiles != "" {
		if err := config.LoadEnv(strings.Split(*envFiles, ",")...); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if *listen != "" {
		cfg.Listen = listen
	}
	if *rosbridgeURL != "" {
		cfg.RosbridgeURL = rosbridgeURL
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.ConsoleConfig) error {
	log.Printf("starting %s", version.Get())

	prom := metrics.New()
	stats := monitor.NewPipelineStats(prom)
	state := telemetry.NewState(cfg.GetMaxTrajectoryLength())

	var (
		transport  pipeline.Transport
		devices    *device.Client
		connection func() string
		background []func(context.Context) error
	)

	if *syntheticMode {
		st := synthetic.NewTransport()
		gen := synthetic.NewGenerator(*syntheticPoints)
		scfg := synthetic.DefaultSourceConfig()
		scfg.Topic = cfg.GetPointCloudTopic()
		source := synthetic.NewSource(st, gen, scfg)
		st.OnConnectionChange(func(up bool) {
			if up {
				prom.ConnectionChanged(string(rosbridge.StatusConnected))
			} else {
				prom.ConnectionChanged(string(rosbridge.StatusDisconnected))
			}
		})
		transport = st
		connection = func() string {
			if st.IsConnected() {
				return "synthetic"
			}
			return string(rosbridge.StatusDisconnected)
		}
		background = append(background, source.Run)
		log.Printf("synthetic mode: %d points per frame at %.0f Hz", *syntheticPoints, scfg.FrameRate)
	} else {
		rcfg := rosbridge.DefaultConfig()
		rcfg.URL = cfg.GetRosbridgeURL()
		rcfg.Compression = cfg.GetCompression()
		client := rosbridge.NewClient(rcfg)
		client.OnConnectionChange(func(s rosbridge.Status) {
			prom.ConnectionChanged(string(s))
			log.Printf("[Rosbridge] %s: %s", client.URL(), s)
		})
		transport = pipeline.NewRosbridgeTransport(client)
		devices = device.NewClient(client, device.Options{Timeout: cfg.GetServiceTimeout()})
		connection = func() string { return string(client.Status()) }
		if cfg.GetReconnect() {
			background = append(background, client.Run)
		} else {
			background = append(background, func(ctx context.Context) error {
				if err := client.Connect(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				client.Disconnect()
				return nil
			})
		}
	}

	var (
		sinks     []render.Sink
		publisher *stream.Publisher
	)
	if addr := cfg.GetGRPCListen(); addr != "" {
		pcfg := stream.DefaultConfig()
		pcfg.ListenAddr = addr
		pcfg.MaxClients = cfg.GetGRPCMaxClients()
		publisher = stream.NewPublisher(pcfg)
		if err := publisher.Start(); err != nil {
			return fmt.Errorf("start snapshot stream: %w", err)
		}
		defer publisher.Stop()
		sinks = append(sinks, publisher)
	}

	viewer := pipeline.NewViewer(transport, viewerOptions(cfg, telemetryHandlers(cfg, state), sinks, stats))
	viewer.Start()
	defer viewer.Close()
	log.Printf("[PointCloud] viewing %s (max %s points, %.0f fps)",
		cfg.GetPointCloudTopic(), monitor.FormatWithCommas(int64(cfg.GetMaxPointNumber())), cfg.GetTargetFPS())

	wsCfg := monitor.WebServerConfig{
		Address:    cfg.GetListen(),
		Points:     viewer,
		Telemetry:  state,
		Device:     devices,
		Stats:      stats,
		Metrics:    prom.Handler(),
		Connection: connection,
		SpeedUnits: cfg.GetSpeedUnits(),
	}
	if publisher != nil {
		wsCfg.Stream = publisher.Stats
	}
	web := monitor.NewWebServer(wsCfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		errOnce.Do(func() { runErr = err })
		cancel()
	}

	background = append(background,
		web.Start,
		func(ctx context.Context) error {
			stats.Run(ctx, cfg.GetStatsInterval())
			return nil
		},
	)
	for _, fn := range background {
		wg.Add(1)
		go func(fn func(context.Context) error) {
			defer wg.Done()
			fail(fn(ctx))
		}(fn)
	}

	<-ctx.Done()
	wg.Wait()
	return runErr
}

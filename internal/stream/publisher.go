// Package stream serves rendered point windows to remote viewers over a
// server-streaming gRPC call.
//
// The Publisher is a render.Sink. Each presented frame is queued for a
// broadcast goroutine which hands it to every connected client; slow
// clients lose snapshots instead of stalling the render tick.
package stream

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/lidar.console/internal/pointcloud/render"
)

// Config holds configuration for the snapshot gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// QueueSize bounds frames waiting for broadcast.
	QueueSize int

	// ClientBuffer bounds frames waiting for one client.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   5,
		QueueSize:    8,
		ClientBuffer: 2,
	}
}

// Publisher manages the gRPC server and snapshot streaming.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	frameChan chan render.Frame
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	latest   render.Frame
	hasFrame bool
	latestMu sync.RWMutex

	// Stats
	frameCount     atomic.Uint64
	sentCount      atomic.Uint64
	clientCount    atomic.Int32
	droppedFrames  atomic.Uint64
	lastStatsTime  time.Time
	lastFrameCount uint64
	lastStatsMu    sync.Mutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id      string
	frameCh chan render.Frame
}

var _ SnapshotServer = (*Publisher)(nil)
var _ render.Sink = (*Publisher)(nil)

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	return &Publisher{
		config:    cfg,
		frameChan: make(chan render.Frame, cfg.QueueSize),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start binds ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	// Full-resolution windows run to several MB.
	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterSnapshotServer(p.server, p)

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[Stream] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[Stream] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)

	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}
	p.wg.Wait()
	log.Printf("[Stream] gRPC server stopped")
}

// Present queues a rendered frame for broadcast. It never blocks.
func (p *Publisher) Present(f render.Frame) {
	p.latestMu.Lock()
	p.latest = f
	p.hasFrame = true
	p.latestMu.Unlock()

	if !p.running.Load() || p.clientCount.Load() == 0 {
		return
	}
	select {
	case p.frameChan <- f:
		count := p.frameCount.Add(1)
		p.logPeriodicStats(count, f.PointCount())
	default:
		dropped := p.droppedFrames.Add(1)
		if dropped%100 == 1 {
			log.Printf("[Stream] dropped frame version=%d (total dropped: %d), queue full", f.Version, dropped)
		}
	}
}

func (p *Publisher) logPeriodicStats(frameCount uint64, pointCount int) {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := time.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
		return
	}
	elapsed := now.Sub(p.lastStatsTime)
	if elapsed >= 5*time.Second {
		frames := frameCount - p.lastFrameCount
		log.Printf("[Stream] Stats: fps=%.1f frames=%d sent=%d dropped=%d clients=%d last_frame: points=%d",
			float64(frames)/elapsed.Seconds(), frames, p.sentCount.Load(), p.droppedFrames.Load(),
			p.clientCount.Load(), pointCount)
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frameChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				select {
				case client.frameCh <- frame:
				default:
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient() (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "snapshot stream limit of %d clients reached", p.config.MaxClients)
	}
	c := &clientStream{
		id:      uuid.NewString(),
		frameCh: make(chan render.Frame, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	log.Printf("[Stream] Client connected: %s (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; !ok {
		return
	}
	delete(p.clients, id)
	n := p.clientCount.Add(-1)
	log.Printf("[Stream] Client disconnected: %s (remaining: %d)", id, n)
}

// StreamSnapshots sends the latest frame on connect, then every frame
// presented afterwards, until the client goes away or the server stops.
func (p *Publisher) StreamSnapshots(req *wrapperspb.UInt32Value, stream SnapshotStream) error {
	client, err := p.addClient()
	if err != nil {
		return err
	}
	defer p.removeClient(client.id)

	limit := int(req.GetValue())
	send := func(f render.Frame) error {
		snap := Snapshot{Version: f.Version, Points: f.Points, Colors: f.Colors}.Limit(limit)
		if err := stream.Send(wrapperspb.Bytes(Pack(snap))); err != nil {
			return err
		}
		p.sentCount.Add(1)
		return nil
	}

	p.latestMu.RLock()
	latest, ok := p.latest, p.hasFrame
	p.latestMu.RUnlock()
	if ok {
		if err := send(latest); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case f := <-client.frameCh:
			if err := send(f); err != nil {
				return err
			}
		}
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:  p.frameCount.Load(),
		SentCount:   p.sentCount.Load(),
		Dropped:     p.droppedFrames.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount  uint64 `json:"frame_count"`
	SentCount   uint64 `json:"sent_count"`
	Dropped     uint64 `json:"dropped"`
	ClientCount int32  `json:"client_count"`
	Running     bool   `json:"running"`
}

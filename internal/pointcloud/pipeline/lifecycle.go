package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/lidar.console/internal/monitoring"
	"github.com/banshee-data/lidar.console/internal/pointcloud/decode"
	"github.com/banshee-data/lidar.console/internal/pointcloud/store"
	"github.com/banshee-data/lidar.console/internal/pointcloud/wire"
)

var logf = monitoring.Tagged("PointCloud")

// ErrTransportUnavailable is returned by Attach when the transport is down.
var ErrTransportUnavailable = errors.New("transport unavailable")

// Default topic for the scanner point cloud.
const (
	DefaultTopic       = "/lidar_out"
	DefaultMessageType = "sensor_msgs/PointCloud2"
)

// TopicHandler is a supporting subscription attached and detached together
// with the point cloud topic.
type TopicHandler struct {
	Topic  string
	Type   string
	Handle func(Decoder) error
	// Reset, if set, runs on detach.
	Reset func()
}

// submitter is the part of decode.Manager the lifecycle drives.
type submitter interface {
	Submit(job decode.Job)
	Renew()
}

// Lifecycle owns the point cloud subscription. Every attachment gets a new
// epoch; decoded frames tagged with an older epoch never reach the store.
type Lifecycle struct {
	transport   Transport
	topic       string
	messageType string
	extra       []TopicHandler
	store       *store.Store
	stats       Stats

	mu       sync.Mutex
	manager  submitter
	attached bool
	epoch    uint64
	unsubs   []func() error
}

func newLifecycle(t Transport, topic, msgType string, extra []TopicHandler, st *store.Store, stats Stats) *Lifecycle {
	if topic == "" {
		topic = DefaultTopic
	}
	if msgType == "" {
		msgType = DefaultMessageType
	}
	return &Lifecycle{
		transport:   t,
		topic:       topic,
		messageType: msgType,
		extra:       extra,
		store:       st,
		stats:       stats,
	}
}

func (l *Lifecycle) setManager(m submitter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.manager = m
}

// Attach subscribes to the point cloud topic and every supporting topic.
// Attaching while attached first performs a full Detach.
func (l *Lifecycle) Attach() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.attached {
		l.detachLocked()
	}
	if !l.transport.IsConnected() {
		return ErrTransportUnavailable
	}

	l.epoch++
	epoch := l.epoch
	if l.manager != nil {
		l.manager.Renew()
	}

	unsub, err := l.transport.Subscribe(l.topic, l.messageType, func(d Decoder) { l.onFrame(epoch, d) })
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.topic, err)
	}
	l.unsubs = append(l.unsubs, unsub)

	for _, h := range l.extra {
		h := h
		unsub, err := l.transport.Subscribe(h.Topic, h.Type, func(d Decoder) { l.onSupporting(epoch, h, d) })
		if err != nil {
			l.releaseLocked()
			return fmt.Errorf("subscribe %s: %w", h.Topic, err)
		}
		l.unsubs = append(l.unsubs, unsub)
	}

	l.attached = true
	logf("attached to %s (epoch %d)", l.topic, epoch)
	return nil
}

// Detach unregisters every handler and clears the store. Detaching while
// detached is a no-op.
func (l *Lifecycle) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.attached {
		return
	}
	l.detachLocked()
}

func (l *Lifecycle) detachLocked() {
	l.releaseLocked()
	l.attached = false
	l.epoch++
	l.store.Clear()
	for _, h := range l.extra {
		if h.Reset != nil {
			h.Reset()
		}
	}
	logf("detached from %s", l.topic)
}

func (l *Lifecycle) releaseLocked() {
	for _, unsub := range l.unsubs {
		if err := unsub(); err != nil {
			logf("unsubscribe failed: %v", err)
		}
	}
	l.unsubs = nil
}

// Bind attaches whenever the transport reports connected and detaches when
// it drops. The returned func stops following the transport.
func (l *Lifecycle) Bind() func() {
	return l.transport.OnConnectionChange(func(connected bool) {
		if !connected {
			l.Detach()
			return
		}
		if err := l.Attach(); err != nil {
			logf("attach failed: %v", err)
		}
	})
}

// Attached reports whether the subscription is live.
func (l *Lifecycle) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attached
}

// Epoch returns the current attachment epoch.
func (l *Lifecycle) Epoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

func (l *Lifecycle) current(epoch uint64) (submitter, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.manager, l.attached && epoch == l.epoch
}

func (l *Lifecycle) onFrame(epoch uint64, d Decoder) {
	m, ok := l.current(epoch)
	if !ok || m == nil {
		return
	}
	l.stats.FrameReceived()

	var frame wire.RawFrame
	if err := d.Decode(&frame); err != nil {
		l.stats.FrameMalformed(err)
		logf("unreadable %s message: %v", l.topic, err)
		return
	}
	m.Submit(decode.Job{Epoch: epoch, Frame: &frame})
}

func (l *Lifecycle) onSupporting(epoch uint64, h TopicHandler, d Decoder) {
	if _, ok := l.current(epoch); !ok {
		return
	}
	if err := h.Handle(d); err != nil {
		logf("%s handler: %v", h.Topic, err)
	}
}

// Deliver appends a decoded frame to the store if it belongs to the live
// attachment. It implements decode.Sink.
func (l *Lifecycle) Deliver(epoch uint64, frame wire.DecodedFrame, _ decode.Path) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.attached || epoch != l.epoch {
		return
	}
	if evicted := l.store.Append(frame.Points, frame.Colors); evicted > 0 {
		l.stats.PointsEvicted(evicted)
	}
}

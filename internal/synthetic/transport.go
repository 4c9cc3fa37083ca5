package synthetic

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/lidar.console/internal/pointcloud/pipeline"
	"github.com/banshee-data/lidar.console/internal/rosbridge"
)

type subscriber struct {
	topic   string
	handler func(pipeline.Decoder)
}

// Transport is an in-process pipeline.Transport. Published values are CBOR
// encoded and handed to subscribers as rosbridge messages, so handlers see
// the same payloads they would from a scanner.
type Transport struct {
	mu        sync.Mutex
	connected bool
	subs      map[int]subscriber
	listeners map[int]func(bool)
	next      int
}

// NewTransport returns a disconnected transport.
func NewTransport() *Transport {
	return &Transport{
		subs:      make(map[int]subscriber),
		listeners: make(map[int]func(bool)),
	}
}

// SetConnected changes connectivity and notifies listeners on change.
func (t *Transport) SetConnected(connected bool) {
	t.mu.Lock()
	if t.connected == connected {
		t.mu.Unlock()
		return
	}
	t.connected = connected
	fns := make([]func(bool), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Subscribe(topic, _ string, handler func(pipeline.Decoder)) (func() error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, rosbridge.ErrNotConnected
	}
	t.next++
	id := t.next
	t.subs[id] = subscriber{topic: topic, handler: handler}
	return func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
		return nil
	}, nil
}

func (t *Transport) OnConnectionChange(fn func(bool)) func() {
	t.mu.Lock()
	t.next++
	id := t.next
	t.listeners[id] = fn
	connected := t.connected
	t.mu.Unlock()

	fn(connected)
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

// Publish encodes v and delivers it to every subscriber of topic. It
// returns the number of handlers reached.
func (t *Transport) Publish(topic string, v interface{}) (int, error) {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", topic, err)
	}

	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return 0, rosbridge.ErrNotConnected
	}
	var handlers []func(pipeline.Decoder)
	for _, s := range t.subs {
		if s.topic == topic {
			handlers = append(handlers, s.handler)
		}
	}
	t.mu.Unlock()

	msg := rosbridge.NewCBORMessage(topic, payload)
	for _, h := range handlers {
		h(msg)
	}
	return len(handlers), nil
}

// SubscriberCount returns how many handlers are registered for topic.
func (t *Transport) SubscriberCount(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.subs {
		if s.topic == topic {
			n++
		}
	}
	return n
}

package pipeline

import (
	"github.com/banshee-data/lidar.console/internal/rosbridge"
)

// Decoder is a received message whose payload is decoded on demand.
type Decoder interface {
	Decode(v interface{}) error
}

// Transport is the pub/sub link the pipeline subscribes through.
type Transport interface {
	IsConnected() bool
	// Subscribe registers handler for topic and returns a func that
	// removes it.
	Subscribe(topic, msgType string, handler func(Decoder)) (unsubscribe func() error, err error)
	// OnConnectionChange calls fn with the current connectivity and on
	// every change until the returned cancel func is called.
	OnConnectionChange(fn func(connected bool)) (cancel func())
}

type rosbridgeTransport struct {
	client *rosbridge.Client
}

// NewRosbridgeTransport adapts a rosbridge client to Transport.
func NewRosbridgeTransport(c *rosbridge.Client) Transport {
	return &rosbridgeTransport{client: c}
}

func (t *rosbridgeTransport) IsConnected() bool {
	return t.client.IsConnected()
}

func (t *rosbridgeTransport) Subscribe(topic, msgType string, handler func(Decoder)) (func() error, error) {
	sub, err := t.client.Subscribe(topic, msgType, func(m rosbridge.Message) { handler(m) })
	if err != nil {
		return nil, err
	}
	return func() error { return t.client.Unsubscribe(sub) }, nil
}

func (t *rosbridgeTransport) OnConnectionChange(fn func(bool)) func() {
	return t.client.OnConnectionChange(func(s rosbridge.Status) {
		fn(s == rosbridge.StatusConnected)
	})
}

package rosbridge

import (
	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rosbridge v2 operations used by the console.
const (
	opPublish         = "publish"
	opSubscribe       = "subscribe"
	opUnsubscribe     = "unsubscribe"
	opCallService     = "call_service"
	opServiceResponse = "service_response"
	opStatus          = "status"
)

// Compression values accepted by the subscribe op.
const (
	CompressionNone = "none"
	CompressionCBOR = "cbor"
)

type subscribeOp struct {
	Op           string `json:"op"`
	ID           string `json:"id"`
	Topic        string `json:"topic"`
	Type         string `json:"type,omitempty"`
	Compression  string `json:"compression,omitempty"`
	ThrottleRate int    `json:"throttle_rate"`
	QueueLength  int    `json:"queue_length"`
}

type unsubscribeOp struct {
	Op    string `json:"op"`
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

type callServiceOp struct {
	Op      string      `json:"op"`
	ID      string      `json:"id"`
	Service string      `json:"service"`
	Type    string      `json:"type,omitempty"`
	Args    interface{} `json:"args,omitempty"`
}

// inbound is the subset of server ops the client handles, as JSON text.
type inbound struct {
	Op      string              `json:"op"`
	ID      string              `json:"id"`
	Topic   string              `json:"topic"`
	Service string              `json:"service"`
	Msg     jsoniter.RawMessage `json:"msg"`
	Values  jsoniter.RawMessage `json:"values"`
	Result  *bool               `json:"result"`
	Level   string              `json:"level"`
}

// inboundCBOR is the same envelope delivered as a binary CBOR frame.
type inboundCBOR struct {
	Op      string          `cbor:"op"`
	ID      string          `cbor:"id"`
	Topic   string          `cbor:"topic"`
	Service string          `cbor:"service"`
	Msg     cbor.RawMessage `cbor:"msg"`
	Values  cbor.RawMessage `cbor:"values"`
	Result  *bool           `cbor:"result"`
	Level   string          `cbor:"level"`
}

// Message is one published topic message. The payload is decoded lazily so
// handlers only pay for the fields they read.
type Message struct {
	Topic string
	raw   []byte
	cbor  bool
}

// NewJSONMessage wraps a JSON-encoded message payload.
func NewJSONMessage(topic string, payload []byte) Message {
	return Message{Topic: topic, raw: payload}
}

// NewCBORMessage wraps a CBOR-encoded message payload.
func NewCBORMessage(topic string, payload []byte) Message {
	return Message{Topic: topic, raw: payload, cbor: true}
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v interface{}) error {
	if m.cbor {
		return cbor.Unmarshal(m.raw, v)
	}
	return json.Unmarshal(m.raw, v)
}

// Size returns the encoded payload size in bytes.
func (m Message) Size() int { return len(m.raw) }

// serviceResult is a service_response waiting for its caller.
type serviceResult struct {
	values []byte
	cbor   bool
	ok     bool
	err    error
}

func (r serviceResult) decode(v interface{}) error {
	if v == nil || len(r.values) == 0 {
		return nil
	}
	if r.cbor {
		return cbor.Unmarshal(r.values, v)
	}
	return json.Unmarshal(r.values, v)
}

func cborUnmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

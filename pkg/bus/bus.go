// Package bus is a topic based publish/subscribe client. Messages are JSON
// documents routed by topic; there is no delivery guarantee beyond what the
// broker provides for a live subscription.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Publish when no broker connection could
	// be established.
	ErrNotConnected = errors.New("bus: not connected")
	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("bus: client closed")
)

// AckMode selects how deliveries of one subscription are acknowledged.
type AckMode int

const (
	// AutoAck acknowledges on delivery. Used for low-value notifications.
	AutoAck AckMode = iota
	// ManualAck acknowledges after the handler returns nil and negatively
	// acknowledges on error, requeueing a message once.
	ManualAck
)

func (m AckMode) String() string {
	if m == ManualAck {
		return "manual"
	}
	return "auto"
}

// Message is a single delivery received from a subscription.
type Message struct {
	Topic       string
	Body        []byte
	Redelivered bool
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode %s message: %w", m.Topic, err)
	}
	return nil
}

// Handler processes one message. Returning an error on a ManualAck
// subscription causes the message to be negatively acknowledged.
type Handler func(ctx context.Context, msg Message) error

// Publisher publishes a message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, message any) error
}

// Subscriber registers a handler for every message delivered on a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, mode AckMode, handler Handler) error
}

// Bus is the full client surface used by services.
type Bus interface {
	Publisher
	Subscriber
}

// Encode serializes a message. Byte slices and json.RawMessage are sent as is.
func Encode(message any) ([]byte, error) {
	switch m := message.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		body, err := json.Marshal(message)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		return body, nil
	}
}

// Package bus provides the message bus that carries pipeline channels between
// the orchestrator process and content processes.
// It supports publish/subscribe and request/reply.
// The default implementation uses NATS, with an in-memory option for tests and
// for running the multiprocess topology inside one binary.
package bus

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when no subscribers are available to handle a request.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is the transport interface between processes.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Messages of one subscription are handled sequentially, in publish order.
	// Supports wildcards: "constellation.pipeline.*" matches "constellation.pipeline.1-4".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a single response (request/reply pattern).
	// Only start-up code may use it; actor loops never block on the bus.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
// For request/reply, return data to send as response; return nil for no response.
type MessageHandler func(msg *Message) []byte

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string // Set if sender expects a response
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Empty selects the in-memory bus.
	URL string `yaml:"url"`

	// Name is a client identifier for debugging/monitoring.
	Name string `yaml:"name"`

	// Timeout is the default timeout for operations.
	Timeout time.Duration `yaml:"timeout"`

	// Prefix is the first token of every subject.
	Prefix string `yaml:"prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:    "constellation",
		Timeout: 5 * time.Second,
		Prefix:  "constellation",
	}
}

// Open returns a NATS bus when cfg.URL is set and an in-memory bus otherwise.
func Open(cfg Config) (MessageBus, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return NewMemoryBus(), nil
	}
	return NewNATSBus(cfg)
}

// Subject joins tokens into a subject.
func Subject(tokens ...string) string {
	return strings.Join(tokens, ".")
}

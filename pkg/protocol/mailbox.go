// Package protocol defines the asynchronous channel contract between the
// actors of a browsing session: the orchestrator, the compositor and every
// pipeline. Actors own one Mailbox each and talk only by sending value-typed
// messages; request/response is a message carrying a one-shot reply.
//
// Messages on one channel arrive in send order. Nothing is promised across
// channels.
package protocol

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/telemetry"
)

// ErrDisconnected is returned by Send once the receiving actor is gone.
var ErrDisconnected = errors.New("receiver disconnected")

// Sender is the sending half of an actor channel.
type Sender[T any] interface {
	Send(msg T) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc[T any] func(msg T) error

func (f SenderFunc[T]) Send(msg T) error { return f(msg) }

// Mailbox is an unbounded FIFO inbox. Send never blocks, so no actor ever
// waits on a slow peer. The owning actor selects on Ready and then takes
// everything queued with Drain.
type Mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	notify chan struct{}
	closed bool
}

// NewMailbox returns an open, empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Send enqueues msg. It returns ErrDisconnected after Close.
func (m *Mailbox[T]) Send(msg T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrDisconnected
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Ready is signalled whenever messages may be waiting.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.notify
}

// Drain removes and returns every queued message in arrival order.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.queue
	m.queue = nil
	return batch
}

// Len reports the number of queued messages.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close disconnects the mailbox. Messages already queued remain drainable.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Send delivers msg through s. A failure means the peer is already gone: it is
// logged and counted, never escalated. The return value reports delivery.
func Send[T any](log *zap.Logger, target string, s Sender[T], msg T) bool {
	if s == nil {
		log.Debug("dropping message for absent receiver",
			zap.String("target", target),
			zap.String("message", Name(msg)),
		)
		telemetry.RecordDroppedMessage(target)
		return false
	}
	if err := s.Send(msg); err != nil {
		log.Debug("peer disconnected, message dropped",
			zap.String("target", target),
			zap.String("message", Name(msg)),
			zap.Error(err),
		)
		telemetry.RecordDroppedMessage(target)
		return false
	}
	return true
}

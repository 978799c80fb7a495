package protocol

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/ids"
)

// Subjects names the bus subjects of one session.
//
// Everything addressed to a content host shares the host's subject tree and
// is read by one subscription, so launch and pipeline traffic from the
// orchestrator arrive in send order. Replies travel on the constellation and
// compositor subjects, each read by one subscription.
type Subjects struct {
	Prefix string
}

func (s Subjects) HostAll(host string) string {
	return bus.Subject(s.Prefix, "host", host, ">")
}

func (s Subjects) HostLaunch(host string) string {
	return bus.Subject(s.Prefix, "host", host, "launch")
}

func (s Subjects) HostPing(host string) string {
	return bus.Subject(s.Prefix, "host", host, "ping")
}

func (s Subjects) HostPipeline(host string, id ids.PipelineID) string {
	return bus.Subject(s.Prefix, "host", host, "pipeline", id.Slug())
}

func (s Subjects) Constellation() string {
	return bus.Subject(s.Prefix, "constellation")
}

func (s Subjects) Compositor() string {
	return bus.Subject(s.Prefix, "compositor")
}

// BusSender publishes encoded messages to one subject.
type BusSender[T any] struct {
	ctx     context.Context
	bus     bus.MessageBus
	subject string
}

// NewBusSender returns a Sender publishing to subject.
func NewBusSender[T any](ctx context.Context, b bus.MessageBus, subject string) *BusSender[T] {
	return &BusSender[T]{ctx: ctx, bus: b, subject: subject}
}

// Send encodes and publishes msg. Publishing to a closed bus is reported as
// ErrDisconnected; a peer process that is gone is not detectable here.
func (s *BusSender[T]) Send(msg T) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := s.bus.Publish(s.ctx, s.subject, data); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Subject returns the subject messages are published to.
func (s *BusSender[T]) Subject() string { return s.subject }

// Forward decodes every message on subject and hands those of type T to
// target, in arrival order. Undecodable or foreign messages are logged and
// dropped.
func Forward[T any](ctx context.Context, b bus.MessageBus, subject string, target Sender[T], log *zap.Logger) (bus.Subscription, error) {
	return b.Subscribe(ctx, subject, func(m *bus.Message) []byte {
		decoded, err := Decode(m.Data)
		if err != nil {
			log.Warn("dropping undecodable message", zap.String("subject", m.Subject), zap.Error(err))
			return nil
		}
		msg, ok := decoded.(T)
		if !ok {
			log.Warn("dropping message for another actor",
				zap.String("subject", m.Subject),
				zap.String("message", Name(decoded)),
			)
			return nil
		}
		Send(log, subject, target, msg)
		return nil
	})
}

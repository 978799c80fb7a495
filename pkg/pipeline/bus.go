package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/protocol"
)

var pong = []byte("pong")

// BusLauncher starts pipelines inside a content host reached over the bus.
// Sends to a pipeline are publications; a host that died is only noticed
// through the exit handshake deadline.
type BusLauncher struct {
	ctx      context.Context
	bus      bus.MessageBus
	subjects protocol.Subjects
	host     string
	log      *zap.Logger
	subs     []bus.Subscription
}

// NewBusLauncher waits until host answers a ping, then routes every reply
// published by its pipelines into peers.
func NewBusLauncher(ctx context.Context, b bus.MessageBus, subjects protocol.Subjects, host string, peers Peers, timeout time.Duration, log *zap.Logger) (*BusLauncher, error) {
	log = logging.For(log, logging.CategoryBus).With(zap.String("host", host))
	if err := waitForHost(ctx, b, subjects.HostPing(host), timeout); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDisconnected, "content host unreachable").WithContext("host", host)
	}

	l := &BusLauncher{ctx: ctx, bus: b, subjects: subjects, host: host, log: log}
	constellationSub, err := protocol.Forward(ctx, b, subjects.Constellation(), peers.Constellation, log)
	if err != nil {
		return nil, fmt.Errorf("subscribe constellation: %w", err)
	}
	l.subs = append(l.subs, constellationSub)
	compositorSub, err := protocol.Forward(ctx, b, subjects.Compositor(), peers.Compositor, log)
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("subscribe compositor: %w", err)
	}
	l.subs = append(l.subs, compositorSub)
	log.Info("content host connected")
	return l, nil
}

// waitForHost pings until the host answers or timeout passes. The host
// process may still be starting, so missing responders are retried.
func waitForHost(ctx context.Context, b bus.MessageBus, subject string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := b.Request(ctx, subject, nil, 200*time.Millisecond)
		if err == nil {
			return nil
		}
		lastErr = err
		if !stderrors.Is(err, bus.ErrNoResponders) && !stderrors.Is(err, bus.ErrTimeout) {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = bus.ErrTimeout
	}
	return lastErr
}

func (l *BusLauncher) Launch(spec protocol.LaunchPipeline) (protocol.Sender[protocol.PipelineMsg], error) {
	data, err := protocol.Encode(spec)
	if err != nil {
		return nil, err
	}
	if err := l.bus.Publish(l.ctx, l.subjects.HostLaunch(l.host), data); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrDisconnected, err)
	}
	return protocol.NewBusSender[protocol.PipelineMsg](l.ctx, l.bus, l.subjects.HostPipeline(l.host, spec.Pipeline)), nil
}

// Close stops routing replies.
func (l *BusLauncher) Close() error {
	var errs []error
	for _, sub := range l.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	l.subs = nil
	return stderrors.Join(errs...)
}

// Host runs the pipelines of one content process. Everything addressed to
// the host arrives on a single subscription, so a launch is always handled
// before the messages for the pipeline it starts.
type Host struct {
	id       string
	bus      bus.MessageBus
	subjects protocol.Subjects
	cfg      Config
	base     *zap.Logger
	log      *zap.Logger
	peers    Peers

	mu     sync.Mutex
	actors map[ids.PipelineID]*Actor
	wg     sync.WaitGroup
}

// NewHost returns a host named id. Its pipelines publish replies on the
// session's constellation and compositor subjects.
func NewHost(ctx context.Context, b bus.MessageBus, subjects protocol.Subjects, id string, cfg Config, log *zap.Logger) *Host {
	return &Host{
		id:       id,
		bus:      b,
		subjects: subjects,
		cfg:      cfg,
		base:     log,
		log:      logging.For(log, logging.CategoryBus).With(zap.String("host", id)),
		peers: Peers{
			Constellation: protocol.NewBusSender[protocol.ConstellationMsg](ctx, b, subjects.Constellation()),
			Compositor:    protocol.NewBusSender[protocol.CompositorMsg](ctx, b, subjects.Compositor()),
		},
		actors: make(map[ids.PipelineID]*Actor),
	}
}

// Serve handles host traffic until ctx is done, then waits for its pipelines.
func (h *Host) Serve(ctx context.Context) error {
	prefix := strings.TrimSuffix(h.subjects.HostAll(h.id), ">")
	sub, err := h.bus.Subscribe(ctx, h.subjects.HostAll(h.id), func(m *bus.Message) []byte {
		return h.route(ctx, strings.TrimPrefix(m.Subject, prefix), m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe host: %w", err)
	}
	h.log.Info("content host serving")

	<-ctx.Done()
	_ = sub.Unsubscribe()
	h.wg.Wait()
	h.log.Info("content host stopped")
	return nil
}

// Running reports how many pipelines the host is running.
func (h *Host) Running() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.actors)
}

func (h *Host) route(ctx context.Context, rest string, data []byte) []byte {
	switch {
	case rest == "ping":
		return pong
	case rest == "launch":
		h.launch(ctx, data)
	case strings.HasPrefix(rest, "pipeline."):
		h.deliver(strings.TrimPrefix(rest, "pipeline."), data)
	default:
		h.log.Warn("unknown host subject", zap.String("subject", rest))
	}
	return nil
}

func (h *Host) launch(ctx context.Context, data []byte) {
	decoded, err := protocol.Decode(data)
	if err != nil {
		h.log.Warn("dropping undecodable launch", zap.Error(err))
		return
	}
	spec, ok := decoded.(protocol.LaunchPipeline)
	if !ok {
		h.log.Warn("unexpected message on launch subject", zap.String("message", protocol.Name(decoded)))
		return
	}

	actor := NewActor(spec, h.cfg, h.peers, h.base)
	h.mu.Lock()
	h.actors[spec.Pipeline] = actor
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		actor.Run(ctx)
		h.mu.Lock()
		delete(h.actors, spec.Pipeline)
		h.mu.Unlock()
	}()
}

func (h *Host) deliver(slug string, data []byte) {
	id, err := ids.ParsePipelineID(slug)
	if err != nil {
		h.log.Warn("malformed pipeline subject", zap.String("slug", slug), zap.Error(err))
		return
	}
	decoded, err := protocol.Decode(data)
	if err != nil {
		h.log.Warn("dropping undecodable message", zap.Stringer("pipeline", id), zap.Error(err))
		return
	}
	msg, ok := decoded.(protocol.PipelineMsg)
	if !ok {
		h.log.Warn("dropping non-pipeline message", zap.Stringer("pipeline", id), zap.String("message", protocol.Name(decoded)))
		return
	}

	h.mu.Lock()
	actor, ok := h.actors[id]
	h.mu.Unlock()
	if !ok {
		h.log.Debug("message for pipeline not running here", zap.Stringer("pipeline", id), zap.String("message", protocol.Name(msg)))
		return
	}
	protocol.Send(h.log, "pipeline", protocol.Sender[protocol.PipelineMsg](actor.Inbox()), msg)
}

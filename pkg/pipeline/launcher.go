package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// Launcher starts pipeline actors and returns the channel that reaches them.
// A launched pipeline reports back on the peers the launcher was built with.
type Launcher interface {
	Launch(spec protocol.LaunchPipeline) (protocol.Sender[protocol.PipelineMsg], error)
	Close() error
}

// LocalLauncher runs every pipeline as a goroutine of this process, reached
// through its mailbox.
type LocalLauncher struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	peers  Peers
	log    *zap.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewLocalLauncher returns a launcher whose pipelines stop when ctx is done.
func NewLocalLauncher(ctx context.Context, cfg Config, peers Peers, log *zap.Logger) *LocalLauncher {
	ctx, cancel := context.WithCancel(ctx)
	return &LocalLauncher{ctx: ctx, cancel: cancel, cfg: cfg, peers: peers, log: log}
}

func (l *LocalLauncher) Launch(spec protocol.LaunchPipeline) (protocol.Sender[protocol.PipelineMsg], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, browser.ErrUnavailable
	}
	actor := NewActor(spec, l.cfg, l.peers, l.log)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		actor.Run(l.ctx)
	}()
	return actor.Inbox(), nil
}

// Close stops every running pipeline and waits for them.
func (l *LocalLauncher) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
	return nil
}

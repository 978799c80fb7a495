package pipeline

import (
	stderrors "errors"
	"sync/atomic"

	"github.com/odvcencio/constellation/pkg/protocol"
)

// Pool spreads launches over several launchers in turn. A launcher that
// fails is skipped for that launch; the launch fails only when all of them do.
type Pool struct {
	launchers []Launcher
	next      atomic.Uint64
}

// NewPool returns a pool over launchers. It must not be empty.
func NewPool(launchers ...Launcher) *Pool {
	return &Pool{launchers: launchers}
}

func (p *Pool) Launch(spec protocol.LaunchPipeline) (protocol.Sender[protocol.PipelineMsg], error) {
	n := uint64(len(p.launchers))
	start := p.next.Add(1) - 1
	var errs []error
	for k := range n {
		sender, err := p.launchers[(start+k)%n].Launch(spec)
		if err == nil {
			return sender, nil
		}
		errs = append(errs, err)
	}
	return nil, stderrors.Join(errs...)
}

// Close closes every launcher.
func (p *Pool) Close() error {
	var errs []error
	for _, l := range p.launchers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

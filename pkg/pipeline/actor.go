// Package pipeline runs the script and layout actors of a browsing session.
// Each pipeline is a simulated document: it paints, creates nested browsing
// contexts, animates and answers readiness queries according to its URL, and
// honours the exit handshake exactly once.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/protocol"
)

const (
	constellationTarget = "constellation"
	compositorTarget    = "compositor"
)

// Peers are the channels a pipeline reports on.
type Peers struct {
	Constellation protocol.Sender[protocol.ConstellationMsg]
	Compositor    protocol.Sender[protocol.CompositorMsg]
}

// Actor is one pipeline. Its state is touched from Run only.
type Actor struct {
	spec  protocol.LaunchPipeline
	cfg   Config
	inbox *protocol.Mailbox[protocol.PipelineMsg]
	peers Peers
	log   *zap.Logger
	gen   *ids.Generator
	doc   document

	epoch     ids.Epoch
	painted   ids.Epoch
	throttled bool
	loaded    bool
	animating bool
	iframes   []ids.BrowsingContextID
}

// NewActor prepares a pipeline for spec. Nested ids come from spec.Namespace.
func NewActor(spec protocol.LaunchPipeline, cfg Config, peers Peers, log *zap.Logger) *Actor {
	return &Actor{
		spec:      spec,
		cfg:       cfg,
		inbox:     protocol.NewMailbox[protocol.PipelineMsg](),
		peers:     peers,
		log:       logging.For(log, logging.CategoryPipeline).With(zap.Stringer("pipeline", spec.Pipeline)),
		gen:       ids.NewGenerator(spec.Namespace),
		doc:       parseDocument(spec.URL),
		throttled: spec.Throttled,
	}
}

// Inbox returns the pipeline's mailbox.
func (a *Actor) Inbox() *protocol.Mailbox[protocol.PipelineMsg] {
	return a.inbox
}

// Run loads the document and serves messages until the pipeline exits, dies
// or ctx is cancelled. The mailbox is closed on return, so later sends report
// a disconnected peer.
func (a *Actor) Run(ctx context.Context) {
	defer a.inbox.Close()

	load := time.NewTimer(a.cfg.LoadDelay)
	defer load.Stop()

	var ticker *time.Ticker
	var ticks <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-load.C:
			if !a.load() {
				a.log.Warn("document crashed")
				return
			}
			if a.animating && a.cfg.AnimationInterval > 0 {
				ticker = time.NewTicker(a.cfg.AnimationInterval)
				ticks = ticker.C
			}
		case <-ticks:
			a.tick()
		case <-a.inbox.Ready():
			for _, msg := range a.inbox.Drain() {
				if !a.handle(msg) {
					return
				}
			}
		}
	}
}

// load performs first paint and the document's scripted behaviour. It reports
// false when the document crashes.
func (a *Actor) load() bool {
	a.loaded = true
	a.paint()
	a.toConstellation(protocol.ActivateDocument{Pipeline: a.spec.Pipeline})

	for range a.doc.iframes {
		child := a.gen.NextBrowsingContextID()
		a.iframes = append(a.iframes, child)
		a.toConstellation(protocol.ScriptNewIFrame{
			Parent:   a.spec.Pipeline,
			Context:  child,
			Pipeline: a.gen.NextPipelineID(),
			URL:      "about:blank",
		})
	}
	a.toConstellation(protocol.PipelineLoadComplete{Pipeline: a.spec.Pipeline})

	if a.doc.animate {
		a.animating = true
		a.toConstellation(protocol.AnimationState{Pipeline: a.spec.Pipeline, Animating: true})
	}
	if a.doc.detach && len(a.iframes) > 0 {
		a.toConstellation(protocol.RemoveIFrame{Parent: a.spec.Pipeline, Context: a.iframes[0]})
		a.iframes = a.iframes[1:]
	}
	if a.doc.crash {
		return false
	}
	if a.doc.close {
		a.toConstellation(protocol.ClosePipeline{Pipeline: a.spec.Pipeline})
	}
	a.log.Debug("document loaded", zap.String("url", a.spec.URL), zap.Int("iframes", a.doc.iframes))
	return true
}

func (a *Actor) handle(msg protocol.PipelineMsg) bool {
	switch m := msg.(type) {
	case protocol.ExitPipeline:
		a.toConstellation(protocol.ScriptExited{Pipeline: a.spec.Pipeline})
		a.log.Debug("pipeline exited", zap.Uint64("epoch", uint64(a.epoch)))
		return false
	case protocol.ResizePipeline:
		a.spec.Viewport = m.Viewport
		if a.loaded {
			a.paint()
		}
	case protocol.SetThrottled:
		a.throttled = m.Throttled
	case protocol.QueryReadiness:
		a.toConstellation(protocol.ReadinessEpoch{Query: m.Query, Pipeline: a.spec.Pipeline, Epoch: a.epoch})
	case protocol.TickAnimation:
		a.tick()
	case protocol.EpochPainted:
		if m.Epoch > a.painted {
			a.painted = m.Epoch
		}
	default:
		a.log.Warn("unhandled pipeline message", zap.String("message", protocol.Name(msg)))
	}
	return true
}

func (a *Actor) tick() {
	if !a.animating || a.throttled {
		return
	}
	a.paint()
}

// paint hands a new display list to the compositor.
func (a *Actor) paint() {
	a.epoch = a.epoch.Next()
	protocol.Send(a.log, compositorTarget, a.peers.Compositor, protocol.CompositorMsg(protocol.DisplayListReceived{
		WebView:  a.spec.WebView,
		Pipeline: a.spec.Pipeline,
		Epoch:    a.epoch,
	}))
}

func (a *Actor) toConstellation(msg protocol.ConstellationMsg) {
	protocol.Send(a.log, constellationTarget, a.peers.Constellation, msg)
}

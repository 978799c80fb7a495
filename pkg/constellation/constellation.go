// Package constellation implements the orchestrator of a browsing session.
// It owns the browsing-context tree and every pipeline handle, translates
// embedder requests into pipeline launches and teardowns, runs the two-phase
// exit handshake with the compositor and answers the compositor's screenshot
// readiness queries.
package constellation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/browsingcontext"
	"github.com/odvcencio/constellation/pkg/chaos"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

const (
	compositorTarget = "compositor"
	pipelineTarget   = "pipeline"

	minLivenessInterval = 10 * time.Millisecond
)

// Options carries the configuration the orchestrator reads at start-up.
type Options struct {
	Viewport browser.Viewport
	// ExitTimeout bounds how long a pipeline may take to answer ExitPipeline
	// before it is treated as disconnected.
	ExitTimeout time.Duration
	// HardFail turns invariant violations into panics.
	HardFail bool
	Events   *telemetry.Hub
}

// DefaultOptions returns options matching the default configuration.
func DefaultOptions() Options {
	return Options{
		Viewport:    browser.DefaultViewport(),
		ExitTimeout: pipeline.DefaultConfig().ExitTimeout,
	}
}

// Constellation is the orchestrator actor. Apart from the embedder methods,
// which only send into its mailbox, all state is touched from Run only.
type Constellation struct {
	opts       Options
	log        *zap.Logger
	inbox      *protocol.Mailbox[protocol.ConstellationMsg]
	compositor protocol.Sender[protocol.CompositorMsg]
	launcher   pipeline.Launcher
	chaos      *chaos.Injector
	events     *telemetry.Hub

	gen        *ids.Generator
	namespaces *ids.Namespaces
	tree       *browsingcontext.Tree
	viewport   browser.Viewport

	webviews  map[ids.WebViewID]*webviewState
	pipelines map[ids.PipelineID]*handle
	closing   map[ids.BrowsingContextID]struct{}
	queries   map[uint64]*readinessQuery
	nextQuery uint64

	exiting      bool
	shutdownSent bool
	done         chan struct{}
}

type webviewState struct {
	visible bool
	closing bool
}

type exitPhase int

const (
	phaseRunning exitPhase = iota
	// phaseExiting: ExitPipeline sent, waiting for ScriptExited.
	phaseExiting
	// phaseReleasing: PipelineExited sent, waiting for the compositor's ack.
	phaseReleasing
)

type handle struct {
	id      ids.PipelineID
	context ids.BrowsingContextID
	webview ids.WebViewID
	url     string
	sender  protocol.Sender[protocol.PipelineMsg]

	phase    exitPhase
	deadline time.Time
	// discard is set when the close came from the context or webview going
	// away; such pipelines are never replaced by a crash page.
	discard bool
	outcome string

	activated bool
	throttled bool
	animating bool
}

// New constructs the orchestrator. inbox is created by the caller so that the
// launcher and compositor can hold its sending half first.
func New(inbox *protocol.Mailbox[protocol.ConstellationMsg], compositor protocol.Sender[protocol.CompositorMsg], launcher pipeline.Launcher, injector *chaos.Injector, opts Options, log *zap.Logger) *Constellation {
	log = logging.For(log, logging.CategoryConstellation)
	if opts.ExitTimeout <= 0 {
		opts.ExitTimeout = pipeline.DefaultConfig().ExitTimeout
	}
	namespaces := ids.NewNamespaces()
	gen := ids.NewGenerator(ids.ConstellationNamespace)
	return &Constellation{
		opts:       opts,
		log:        log,
		inbox:      inbox,
		compositor: compositor,
		launcher:   launcher,
		chaos:      injector,
		events:     opts.Events,
		gen:        gen,
		namespaces: namespaces,
		tree:       browsingcontext.NewTree(gen, log),
		viewport:   opts.Viewport,
		webviews:   make(map[ids.WebViewID]*webviewState),
		pipelines:  make(map[ids.PipelineID]*handle),
		closing:    make(map[ids.BrowsingContextID]struct{}),
		queries:    make(map[uint64]*readinessQuery),
		done:       make(chan struct{}),
	}
}

// Sender returns the sending half of the orchestrator's mailbox.
func (c *Constellation) Sender() protocol.Sender[protocol.ConstellationMsg] {
	return c.inbox
}

// Done is closed when Run returns.
func (c *Constellation) Done() <-chan struct{} {
	return c.done
}

// Events returns the session event hub. It may be nil.
func (c *Constellation) Events() *telemetry.Hub {
	return c.events
}

// NewWebView opens a top-level session loading url. The id is usable at once;
// requests for it that race the open are ordered behind it in the mailbox.
func (c *Constellation) NewWebView(url string) ids.WebViewID {
	id := c.gen.NextWebViewID()
	c.post(protocol.NewWebView{WebView: id, URL: url})
	return id
}

// LoadURL navigates webview to url.
func (c *Constellation) LoadURL(webview ids.WebViewID, url string) {
	c.post(protocol.LoadURL{WebView: webview, URL: url})
}

// GoBack moves one entry back in the webview's session history.
func (c *Constellation) GoBack(webview ids.WebViewID) {
	c.post(protocol.TraverseHistory{WebView: webview, Delta: -1})
}

// GoForward moves one entry forward in the webview's session history.
func (c *Constellation) GoForward(webview ids.WebViewID) {
	c.post(protocol.TraverseHistory{WebView: webview, Delta: 1})
}

// CloseWebView closes webview and every pipeline under it.
func (c *Constellation) CloseWebView(webview ids.WebViewID) {
	c.post(protocol.CloseWebView{WebView: webview})
}

// SetVisibility shows or hides webview. Hidden webviews are throttled.
func (c *Constellation) SetVisibility(webview ids.WebViewID, visible bool) {
	c.post(protocol.SetWebViewVisibility{WebView: webview, Visible: visible})
}

// Resize changes the shared viewport.
func (c *Constellation) Resize(viewport browser.Viewport) {
	c.post(protocol.ResizeWebView{Viewport: viewport})
}

// Exit starts global shutdown. Done is closed once the compositor stopped.
func (c *Constellation) Exit() {
	c.post(protocol.Exit{})
}

func (c *Constellation) post(msg protocol.ConstellationMsg) {
	protocol.Send(c.log, "constellation", protocol.Sender[protocol.ConstellationMsg](c.inbox), msg)
}

// Run processes messages until global shutdown completes or ctx is cancelled.
func (c *Constellation) Run(ctx context.Context) error {
	defer close(c.done)

	var chaosTicks <-chan time.Time
	if c.chaos != nil && c.chaos.Enabled() {
		ticker := time.NewTicker(c.chaos.Interval())
		defer ticker.Stop()
		chaosTicks = ticker.C
		c.log.Info("chaos ticking", zap.Duration("interval", c.chaos.Interval()), zap.Uint64("seed", c.chaos.Seed()))
	}
	liveness := time.NewTicker(max(c.opts.ExitTimeout/4, minLivenessInterval))
	defer liveness.Stop()

	c.log.Info("constellation started", zap.Int("width", c.viewport.Width), zap.Int("height", c.viewport.Height))
	for {
		select {
		case <-ctx.Done():
			c.inbox.Close()
			return ctx.Err()
		case <-chaosTicks:
			c.handle(protocol.ChaosTick{})
		case <-liveness.C:
			c.handle(protocol.LivenessTick{})
		case <-c.inbox.Ready():
			for _, msg := range c.inbox.Drain() {
				if !c.handle(msg) {
					c.inbox.Close()
					c.log.Info("constellation stopped")
					return nil
				}
			}
		}
	}
}

// handle applies one message. It returns false once shutdown completed.
func (c *Constellation) handle(msg protocol.ConstellationMsg) bool {
	switch m := msg.(type) {
	case protocol.NewWebView:
		c.newWebView(m)
	case protocol.LoadURL:
		c.loadURL(m)
	case protocol.TraverseHistory:
		c.traverseHistory(m)
	case protocol.CloseWebView:
		c.closeWebView(m.WebView)
	case protocol.SetWebViewVisibility:
		c.setVisibility(m)
	case protocol.ResizeWebView:
		c.resize(m.Viewport)
	case protocol.Exit:
		c.exit()
	case protocol.ActivateDocument:
		c.activateDocument(m.Pipeline)
	case protocol.PipelineLoadComplete:
		c.loadComplete(m.Pipeline)
	case protocol.ScriptNewIFrame:
		c.newIFrame(m)
	case protocol.RemoveIFrame:
		c.removeIFrame(m)
	case protocol.ClosePipeline:
		c.closePipeline(m.Pipeline, false)
	case protocol.ScriptExited:
		c.scriptExited(m.Pipeline, telemetry.OutcomeExited)
	case protocol.ReadinessEpoch:
		c.readinessEpoch(m)
	case protocol.AnimationState:
		c.animationState(m)
	case protocol.GetScreenshotReadiness:
		c.screenshotReadiness(m.WebView)
	case protocol.CompositorExitAck:
		c.compositorExitAck(m.Pipeline)
	case protocol.EpochsPainted:
		c.epochsPainted(m.Epochs)
	case protocol.CompositorStopped:
		if c.compositorStopped() {
			return false
		}
	case protocol.ChaosTick:
		c.chaosTick()
	case protocol.LivenessTick:
		c.livenessTick(time.Now())
	default:
		c.log.Warn("unhandled constellation message", zap.String("message", protocol.Name(msg)))
	}
	if c.opts.HardFail {
		if err := c.tree.Validate(); err != nil {
			c.violation(errors.Wrap(err, errors.ErrCodeProtocolViolation, "tree invariant broken").
				WithContext("message", protocol.Name(msg)))
		}
	}
	return true
}

// violation reports a broken protocol invariant. The session degrades
// gracefully unless hard_fail is configured.
func (c *Constellation) violation(err *errors.Error) {
	telemetry.RecordInvariantViolation()
	c.log.Error("protocol violation", zap.Error(err))
	if c.opts.HardFail {
		panic(err)
	}
}

func (c *Constellation) toCompositor(msg protocol.CompositorMsg) bool {
	return protocol.Send(c.log, compositorTarget, c.compositor, msg)
}

// toPipeline sends msg to a running pipeline. A failed send is an observed
// disconnect and starts the pipeline's teardown.
func (c *Constellation) toPipeline(h *handle, msg protocol.PipelineMsg) bool {
	if h.phase != phaseRunning {
		return false
	}
	if protocol.Send(c.log, pipelineTarget, h.sender, msg) {
		return true
	}
	c.log.Warn("pipeline disconnected", zap.Stringer("pipeline", h.id))
	c.closePipeline(h.id, false)
	return false
}

func (c *Constellation) publish(t telemetry.EventType, webview ids.WebViewID, pipeline ids.PipelineID, data map[string]any) {
	ev := telemetry.Event{Type: t, Data: data}
	if webview.Valid() {
		ev.WebView = webview.Slug()
	}
	if pipeline.Valid() {
		ev.Pipeline = pipeline.Slug()
	}
	c.events.Publish(ev)
}

// Package compositor implements the single compositor actor of a browsing
// session. It records display-list epochs, presents frames through a
// Rasterizer, runs the screenshot readiness protocol and is the receiving end
// of the pipeline exit handshake.
package compositor

import (
	"context"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/epoch"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

const constellationTarget = "constellation"

// maxTombstones bounds how many exited pipelines are remembered for webviews
// that stay open.
const maxTombstones = 1024

// Compositor owns every piece of its state; all of it is touched from Run only.
type Compositor struct {
	log           *zap.Logger
	inbox         *protocol.Mailbox[protocol.CompositorMsg]
	raster        Rasterizer
	constellation protocol.Sender[protocol.ConstellationMsg]
	events        *telemetry.Hub

	tracker  *epoch.Tracker
	webviews map[ids.WebViewID]*webview
	owners   map[ids.PipelineID]ids.WebViewID
	// exited maps a tombstoned pipeline to its webview; tombstones lists them
	// oldest first.
	exited     map[ids.PipelineID]ids.WebViewID
	tombstones []ids.PipelineID

	screenshots        []*screenshotRequest
	repaintOutstanding bool
	stopped            bool
	done               chan struct{}
}

type webview struct {
	root    ids.PipelineID
	visible bool
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithEvents publishes screenshot outcomes to hub.
func WithEvents(hub *telemetry.Hub) Option {
	return func(c *Compositor) {
		c.events = hub
	}
}

// New constructs a compositor reading inbox. The mailbox is created by the
// caller so that the rasterizer and the orchestrator can hold its sending half
// before the compositor exists.
func New(inbox *protocol.Mailbox[protocol.CompositorMsg], raster Rasterizer, constellation protocol.Sender[protocol.ConstellationMsg], log *zap.Logger, opts ...Option) *Compositor {
	log = logging.For(log, logging.CategoryCompositor)
	c := &Compositor{
		log:           log,
		inbox:         inbox,
		raster:        raster,
		constellation: constellation,
		tracker:       epoch.NewTracker(log),
		webviews:      make(map[ids.WebViewID]*webview),
		owners:        make(map[ids.PipelineID]ids.WebViewID),
		exited:        make(map[ids.PipelineID]ids.WebViewID),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sender returns the sending half of the compositor's mailbox.
func (c *Compositor) Sender() protocol.Sender[protocol.CompositorMsg] {
	return c.inbox
}

// Done is closed when Run returns.
func (c *Compositor) Done() <-chan struct{} {
	return c.done
}

// RequestScreenshot queues a screenshot of webview. rect nil captures the
// whole viewport. callback runs exactly once on the compositor's loop, or on
// the calling goroutine when the compositor is already gone.
func (c *Compositor) RequestScreenshot(webview ids.WebViewID, rect *browser.Rect, callback protocol.ScreenshotCallback) {
	err := c.inbox.Send(protocol.TakeScreenshot{WebView: webview, Rect: rect, Callback: callback})
	if err != nil {
		telemetry.RecordScreenshot(telemetry.ScreenshotGone)
		callback(nil, browser.ErrWebViewDoesNotExist)
	}
}

// Dispatch runs fn on the compositor's loop with the graphics context
// current. It reports whether the task was queued.
func (c *Compositor) Dispatch(fn func(Rasterizer)) bool {
	task := protocol.NewTask(func(resource any) {
		fn(resource.(Rasterizer))
	})
	return c.inbox.Send(protocol.Dispatch{Task: task}) == nil
}

// Run processes messages until Shutdown is handled or ctx is cancelled.
func (c *Compositor) Run(ctx context.Context) error {
	defer close(c.done)
	c.log.Info("compositor started")
	for {
		select {
		case <-ctx.Done():
			c.inbox.Close()
			c.abandon(nil)
			return ctx.Err()
		case <-c.inbox.Ready():
			msgs := c.inbox.Drain()
			for i, msg := range msgs {
				if !c.handle(msg) {
					c.shutdown(msgs[i+1:])
					c.log.Info("compositor stopped")
					return nil
				}
			}
		}
	}
}

// handle applies one message. It returns false on Shutdown; the caller then
// runs shutdown with whatever was queued behind it.
func (c *Compositor) handle(msg protocol.CompositorMsg) bool {
	if c.stopped {
		c.log.Warn("message after shutdown", zap.String("message", protocol.Name(msg)))
		return false
	}
	switch m := msg.(type) {
	case protocol.AddWebView:
		c.addWebView(m)
	case protocol.RemoveWebView:
		c.removeWebView(m.WebView)
	case protocol.ReplaceVisibleTree:
		c.replaceVisibleTree(m)
	case protocol.PipelineVisibilityChanged:
		c.pipelineVisibility(m)
	case protocol.AnimationStateChanged:
		c.log.Debug("animation state changed",
			zap.Stringer("pipeline", m.Pipeline),
			zap.Bool("animating", m.Animating),
		)
	case protocol.LoadComplete:
		c.log.Debug("load complete", zap.Stringer("webview", m.WebView))
	case protocol.DisplayListReceived:
		c.displayList(m)
	case protocol.PipelineExited:
		c.pipelineExited(m)
	case protocol.TakeScreenshot:
		c.takeScreenshot(m)
	case protocol.ScreenshotReadiness:
		c.screenshotReadiness(m)
	case protocol.FrameReady:
		c.frameReady()
	case protocol.Resize:
		c.raster.Resize(m.Viewport)
		c.generateFrame()
	case protocol.Dispatch:
		c.dispatch(m.Task)
	case protocol.Shutdown:
		c.stopped = true
		return false
	default:
		c.log.Warn("unhandled compositor message", zap.String("message", protocol.Name(msg)))
	}
	return true
}

func (c *Compositor) addWebView(m protocol.AddWebView) {
	if _, ok := c.webviews[m.WebView]; ok {
		c.log.Debug("webview already registered", zap.Stringer("webview", m.WebView))
		return
	}
	c.webviews[m.WebView] = &webview{visible: m.Visible}
	c.log.Debug("webview added", zap.Stringer("webview", m.WebView), zap.Bool("visible", m.Visible))
}

func (c *Compositor) removeWebView(id ids.WebViewID) {
	if _, ok := c.webviews[id]; !ok {
		return
	}
	delete(c.webviews, id)
	c.raster.RemoveWebView(id)
	c.log.Debug("webview removed", zap.Stringer("webview", id))
	c.evaluate()
	c.forgetTombstones(id)
}

func (c *Compositor) replaceVisibleTree(m protocol.ReplaceVisibleTree) {
	wv, ok := c.webviews[m.WebView]
	if !ok {
		c.log.Debug("visible tree for unknown webview", zap.Stringer("webview", m.WebView))
		return
	}
	wv.root = m.Root
	c.owners[m.Root] = m.WebView
	c.raster.SetWebView(m.WebView, m.Root, wv.visible)
	c.generateFrame()
}

func (c *Compositor) pipelineVisibility(m protocol.PipelineVisibilityChanged) {
	owner, ok := c.owners[m.Pipeline]
	if !ok {
		return
	}
	wv, ok := c.webviews[owner]
	if !ok || wv.root != m.Pipeline {
		return
	}
	if wv.visible == m.Visible {
		return
	}
	wv.visible = m.Visible
	c.raster.SetWebView(owner, wv.root, wv.visible)
	c.generateFrame()
}

func (c *Compositor) displayList(m protocol.DisplayListReceived) {
	if _, gone := c.exited[m.Pipeline]; gone {
		c.log.Debug("display list from exited pipeline", zap.Stringer("pipeline", m.Pipeline))
		return
	}
	if _, ok := c.webviews[m.WebView]; !ok {
		c.log.Debug("display list for unknown webview",
			zap.Stringer("webview", m.WebView),
			zap.Stringer("pipeline", m.Pipeline),
		)
		return
	}
	if !c.tracker.Record(m.Pipeline, m.Epoch) {
		return
	}
	c.owners[m.Pipeline] = m.WebView
	c.raster.SubmitDisplayList(m.WebView, m.Pipeline, m.Epoch)
	c.generateFrame()
	c.evaluate()
}

// pipelineExited releases everything tied to the pipeline before acking.
func (c *Compositor) pipelineExited(m protocol.PipelineExited) {
	c.raster.RemovePipeline(m.Pipeline)
	c.tracker.Forget(m.Pipeline)
	c.tombstone(m.Pipeline, m.WebView)
	delete(c.owners, m.Pipeline)
	c.log.Debug("pipeline exited", zap.Stringer("pipeline", m.Pipeline))
	c.evaluate()
	m.Ack.Done()
}

// tombstone remembers an exited pipeline so that late display lists and
// readiness replies naming it are recognised. A pipeline of a webview that is
// already gone needs no tombstone: everything addressed to that webview is
// ignored or cancelled anyway.
func (c *Compositor) tombstone(pipeline ids.PipelineID, webview ids.WebViewID) {
	if _, ok := c.exited[pipeline]; ok {
		return
	}
	if _, open := c.webviews[webview]; webview.Valid() && !open {
		return
	}
	c.exited[pipeline] = webview
	c.tombstones = append(c.tombstones, pipeline)
	if len(c.tombstones) > maxTombstones {
		delete(c.exited, c.tombstones[0])
		c.tombstones = c.tombstones[1:]
	}
}

func (c *Compositor) forgetTombstones(webview ids.WebViewID) {
	kept := c.tombstones[:0]
	for _, pipeline := range c.tombstones {
		if c.exited[pipeline] == webview {
			delete(c.exited, pipeline)
			continue
		}
		kept = append(kept, pipeline)
	}
	c.tombstones = kept
}

func (c *Compositor) frameReady() {
	painted, err := c.raster.Composite()
	c.tracker.FramePresented()
	c.repaintOutstanding = false
	if err != nil {
		c.log.Warn("composite failed", zap.Error(err))
	} else {
		telemetry.RecordFramePresented()
		if len(painted) > 0 {
			protocol.Send(c.log, constellationTarget, c.constellation, protocol.ConstellationMsg(protocol.EpochsPainted{Epochs: painted}))
		}
	}
	if c.framePending() {
		return
	}
	c.captureWaiting()
}

func (c *Compositor) dispatch(task protocol.Task) {
	if err := c.raster.MakeCurrent(); err != nil {
		c.log.Warn("dropping dispatched task, graphics context unavailable", zap.Error(err))
		return
	}
	if !task.Run(c.raster) {
		c.log.Debug("dispatched task did not run")
	}
}

// shutdown resolves everything still outstanding, including rest, the
// messages queued behind Shutdown, before telling the orchestrator.
func (c *Compositor) shutdown(rest []protocol.CompositorMsg) {
	c.stopped = true
	c.inbox.Close()
	c.abandon(rest)
	protocol.Send(c.log, constellationTarget, c.constellation, protocol.ConstellationMsg(protocol.CompositorStopped{}))
}

// generateFrame asks the rasterizer for a frame and counts it as pending until
// FrameReady presents it.
func (c *Compositor) generateFrame() {
	c.tracker.FrameAccepted()
	c.raster.GenerateFrame()
}

func (c *Compositor) framePending() bool {
	return c.tracker.HasPendingFrames() || c.raster.HasPendingFrames()
}

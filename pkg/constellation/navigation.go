package constellation

import (
	"slices"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/browsingcontext"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

func (c *Constellation) newWebView(m protocol.NewWebView) {
	if c.exiting {
		c.log.Debug("ignoring new webview during shutdown", zap.Stringer("webview", m.WebView))
		return
	}
	if _, ok := c.webviews[m.WebView]; ok {
		c.violation(errors.New(errors.ErrCodeDuplicateID, "webview already open").
			WithContext("webview", m.WebView.String()))
		return
	}
	pid := c.gen.NextPipelineID()
	ctxID, err := c.tree.CreateContext(browsingcontext.NewContext{
		ID:              m.WebView.BrowsingContext(),
		InitialPipeline: pid,
		InitialURL:      m.URL,
		Policy:          browsingcontext.NewGroup,
	})
	if err != nil {
		c.log.Error("creating top-level context failed", zap.Stringer("webview", m.WebView), zap.Error(err))
		return
	}
	c.webviews[m.WebView] = &webviewState{visible: true}
	c.toCompositor(protocol.AddWebView{WebView: m.WebView, Visible: true})
	c.publish(telemetry.EventWebViewOpened, m.WebView, pid, map[string]any{"url": m.URL})
	c.launch(pid, ctxID, m.WebView, m.URL, false)
}

// launch starts the actor for a pipeline already inserted in the tree. A
// launch failure is handled like a disconnect.
func (c *Constellation) launch(pid ids.PipelineID, ctxID ids.BrowsingContextID, webview ids.WebViewID, url string, throttled bool) {
	h := &handle{
		id:        pid,
		context:   ctxID,
		webview:   webview,
		url:       url,
		throttled: throttled,
	}
	c.pipelines[pid] = h
	telemetry.RecordPipelineLaunched()

	sender, err := c.launcher.Launch(protocol.LaunchPipeline{
		Pipeline:  pid,
		Context:   ctxID,
		WebView:   webview,
		Namespace: c.namespaces.Next(),
		URL:       url,
		Viewport:  c.viewport,
		Throttled: throttled,
	})
	if err != nil {
		c.log.Warn("pipeline launch failed", zap.Stringer("pipeline", pid), zap.String("url", url), zap.Error(err))
		c.closePipeline(pid, false)
		return
	}
	h.sender = sender
	c.log.Debug("pipeline launched",
		zap.Stringer("pipeline", pid),
		zap.Stringer("context", ctxID),
		zap.String("url", url),
	)
	c.publish(telemetry.EventPipelineLaunched, webview, pid, map[string]any{"url": url})
}

func (c *Constellation) openWebView(id ids.WebViewID) (*webviewState, *browsingcontext.BrowsingContext, bool) {
	ws, ok := c.webviews[id]
	if !ok || ws.closing {
		c.log.Debug("request for unknown webview", zap.Stringer("webview", id))
		return nil, nil, false
	}
	top, ok := c.tree.TopLevel(id)
	if !ok {
		return nil, nil, false
	}
	return ws, top, true
}

// loadURL starts a new pipeline in the top-level context. Forward history is
// pruned right away; the new pipeline becomes the current entry when its
// document activates.
func (c *Constellation) loadURL(m protocol.LoadURL) {
	ws, top, ok := c.openWebView(m.WebView)
	if !ok {
		return
	}
	for _, pruned := range c.tree.PruneForward(top.ID) {
		c.closePipeline(pruned, true)
	}
	pid := c.gen.NextPipelineID()
	if err := c.tree.AddPipeline(pid, top.ID, m.URL); err != nil {
		c.log.Error("adding navigation pipeline failed", zap.Stringer("webview", m.WebView), zap.Error(err))
		return
	}
	c.publish(telemetry.EventNavigated, m.WebView, pid, map[string]any{"url": m.URL})
	c.launch(pid, top.ID, m.WebView, m.URL, !ws.visible)
}

func (c *Constellation) traverseHistory(m protocol.TraverseHistory) {
	ws, top, ok := c.openWebView(m.WebView)
	if !ok {
		return
	}
	target, err := c.tree.TraverseHistory(top.ID, m.Delta)
	if err != nil {
		c.log.Debug("history traversal rejected", zap.Stringer("webview", m.WebView), zap.Int("delta", m.Delta), zap.Error(err))
		return
	}
	if h, ok := c.pipelines[target]; !ok || h.phase != phaseRunning {
		c.log.Debug("history entry is closing", zap.Stringer("pipeline", target))
		return
	}
	c.makeCurrent(top, target, ws.visible)
	c.publish(telemetry.EventNavigated, m.WebView, target, map[string]any{"delta": m.Delta})
}

// activateDocument handles a pipeline's first paint.
func (c *Constellation) activateDocument(pid ids.PipelineID) {
	h, ok := c.pipelines[pid]
	if !ok || h.phase != phaseRunning {
		c.log.Debug("activation of closing pipeline", zap.Stringer("pipeline", pid))
		return
	}
	h.activated = true
	ctx, ok := c.tree.Context(h.context)
	if !ok {
		return
	}
	visible := true
	if ws, ok := c.webviews[h.webview]; ok {
		visible = ws.visible
	}
	if ctx.Pipeline != pid {
		c.makeCurrent(ctx, pid, visible)
		return
	}
	if ctx.IsTopLevel() {
		c.toCompositor(protocol.ReplaceVisibleTree{WebView: h.webview, Root: pid})
	}
}

// makeCurrent switches ctx's current entry to pid. The previous entry stays in
// history, throttled.
func (c *Constellation) makeCurrent(ctx *browsingcontext.BrowsingContext, pid ids.PipelineID, visible bool) {
	prev := ctx.Pipeline
	if err := c.tree.UpdateCurrentEntry(ctx.ID, pid); err != nil {
		c.log.Warn("updating current entry failed", zap.Stringer("pipeline", pid), zap.Error(err))
		return
	}
	if prev.Valid() && prev != pid {
		c.throttleSubtree(prev, true)
	}
	c.throttleSubtree(pid, !visible)
	if ctx.IsTopLevel() {
		c.toCompositor(protocol.ReplaceVisibleTree{WebView: ctx.TopLevel, Root: pid})
	}
}

// throttleSubtree sets the throttled state of pid and of everything nested
// under it. Only fully active pipelines of a visible webview run unthrottled.
func (c *Constellation) throttleSubtree(pid ids.PipelineID, throttled bool) {
	c.setThrottled(pid, throttled)
	p, ok := c.tree.Pipeline(pid)
	if !ok {
		return
	}
	for _, child := range slices.Clone(p.Children) {
		active := make(map[ids.PipelineID]bool)
		if !throttled {
			for nested := range c.tree.FullyActivePipelines(child) {
				active[nested.ID] = true
			}
		}
		for nested := range c.tree.AllPipelines(child) {
			c.setThrottled(nested.ID, !active[nested.ID])
		}
	}
}

func (c *Constellation) setThrottled(pid ids.PipelineID, throttled bool) {
	h, ok := c.pipelines[pid]
	if !ok || h.throttled == throttled {
		return
	}
	h.throttled = throttled
	c.toPipeline(h, protocol.SetThrottled{Pipeline: pid, Throttled: throttled})
}

func (c *Constellation) setVisibility(m protocol.SetWebViewVisibility) {
	ws, top, ok := c.openWebView(m.WebView)
	if !ok || ws.visible == m.Visible {
		return
	}
	ws.visible = m.Visible
	c.tree.SetFlag(top.ID, browsingcontext.FlagThrottled, !m.Visible)
	if top.Pipeline.Valid() {
		c.throttleSubtree(top.Pipeline, !m.Visible)
		c.toCompositor(protocol.PipelineVisibilityChanged{Pipeline: top.Pipeline, Visible: m.Visible})
	}
}

func (c *Constellation) resize(viewport browser.Viewport) {
	c.viewport = viewport
	for _, h := range c.pipelines {
		c.toPipeline(h, protocol.ResizePipeline{Pipeline: h.id, Viewport: viewport})
	}
	c.toCompositor(protocol.Resize{Viewport: viewport})
}

func (c *Constellation) loadComplete(pid ids.PipelineID) {
	h, ok := c.pipelines[pid]
	if !ok || h.phase != phaseRunning {
		return
	}
	top, ok := c.tree.TopLevel(h.webview)
	if !ok || top.Pipeline != pid {
		return
	}
	c.toCompositor(protocol.LoadComplete{WebView: h.webview})
	c.publish(telemetry.EventLoadComplete, h.webview, pid, map[string]any{"url": h.url})
}

func (c *Constellation) animationState(m protocol.AnimationState) {
	h, ok := c.pipelines[m.Pipeline]
	if !ok || h.phase != phaseRunning || h.animating == m.Animating {
		return
	}
	h.animating = m.Animating
	c.toCompositor(protocol.AnimationStateChanged{WebView: h.webview, Pipeline: m.Pipeline, Animating: m.Animating})
}

func (c *Constellation) newIFrame(m protocol.ScriptNewIFrame) {
	parent, ok := c.pipelines[m.Parent]
	if !ok || parent.phase != phaseRunning {
		c.log.Debug("iframe from closing pipeline", zap.Stringer("parent", m.Parent))
		return
	}
	ctxID, err := c.tree.CreateContext(browsingcontext.NewContext{
		ID:              m.Context,
		ParentPipeline:  m.Parent,
		InitialPipeline: m.Pipeline,
		InitialURL:      m.URL,
		Policy:          browsingcontext.InheritParent,
	})
	if err != nil {
		c.violation(errors.Wrap(err, errors.ErrCodeProtocolViolation, "iframe rejected").
			WithContext("parent", m.Parent.String()))
		return
	}
	// Nested documents of an inactive or hidden parent start throttled.
	c.launch(m.Pipeline, ctxID, parent.webview, m.URL, parent.throttled)
}

func (c *Constellation) removeIFrame(m protocol.RemoveIFrame) {
	ctx, ok := c.tree.Context(m.Context)
	if !ok {
		c.log.Debug("removing unknown iframe", zap.Stringer("context", m.Context))
		return
	}
	if ctx.ParentPipeline != m.Parent {
		c.violation(errors.New(errors.ErrCodeProtocolViolation, "iframe removed by a pipeline that does not own it").
			WithContext("context", m.Context.String()).
			WithContext("parent", m.Parent.String()))
		return
	}
	c.closeContext(m.Context)
}

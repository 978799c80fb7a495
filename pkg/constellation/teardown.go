package constellation

import (
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/chaos"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

// closePipeline starts the exit handshake of pid. A close cannot be
// cancelled; repeating it only widens discard.
func (c *Constellation) closePipeline(pid ids.PipelineID, discard bool) {
	h, ok := c.pipelines[pid]
	if !ok {
		telemetry.RecordStaleReference()
		c.log.Debug("close of unknown pipeline", zap.Stringer("pipeline", pid))
		return
	}
	if discard {
		h.discard = true
	}
	if h.phase != phaseRunning {
		return
	}
	c.beginClose(h)
	if !protocol.Send(c.log, pipelineTarget, h.sender, protocol.PipelineMsg(protocol.ExitPipeline{Pipeline: pid})) {
		c.scriptExited(pid, telemetry.OutcomeDisconnected)
	}
}

// beginClose marks h as exiting and closes every context its document created.
func (c *Constellation) beginClose(h *handle) {
	h.phase = phaseExiting
	h.deadline = time.Now().Add(c.opts.ExitTimeout)
	c.log.Debug("closing pipeline", zap.Stringer("pipeline", h.id), zap.Bool("discard", h.discard))
	c.abandonQueries(h.id)
	if p, ok := c.tree.Pipeline(h.id); ok {
		for _, child := range slices.Clone(p.Children) {
			c.closeContext(child)
		}
	}
}

// scriptExited moves pid to the second phase of teardown: the compositor must
// release the pipeline before its bookkeeping is dropped.
func (c *Constellation) scriptExited(pid ids.PipelineID, outcome string) {
	h, ok := c.pipelines[pid]
	if !ok {
		c.log.Debug("exit of unknown pipeline", zap.Stringer("pipeline", pid))
		return
	}
	switch h.phase {
	case phaseRunning:
		c.violation(errors.New(errors.ErrCodeProtocolViolation, "pipeline exited without being asked").
			WithContext("pipeline", pid.String()))
		c.beginClose(h)
	case phaseReleasing:
		if h.outcome == telemetry.OutcomeExited {
			c.violation(errors.New(errors.ErrCodeProtocolViolation, "duplicate ScriptExited").
				WithContext("pipeline", pid.String()))
		} else {
			c.log.Debug("late exit after deadline", zap.Stringer("pipeline", pid), zap.String("outcome", h.outcome))
		}
		return
	}

	h.phase = phaseReleasing
	h.outcome = outcome
	ack := protocol.NewAck(func() {
		_ = c.inbox.Send(protocol.CompositorExitAck{Pipeline: pid})
	})
	if !c.toCompositor(protocol.PipelineExited{Pipeline: pid, WebView: h.webview, Ack: ack}) {
		c.pipelineRemoved(h)
	}
}

func (c *Constellation) compositorExitAck(pid ids.PipelineID) {
	h, ok := c.pipelines[pid]
	if !ok || h.phase != phaseReleasing {
		c.violation(errors.New(errors.ErrCodeProtocolViolation, "exit ack for a pipeline that was not released").
			WithContext("pipeline", pid.String()))
		return
	}
	c.pipelineRemoved(h)
}

// pipelineRemoved drops the last trace of a pipeline once both handshake
// phases completed.
func (c *Constellation) pipelineRemoved(h *handle) {
	delete(c.pipelines, h.id)
	p, _ := c.tree.RemovePipeline(h.id)
	telemetry.RecordPipelineClosed(h.outcome)
	c.log.Debug("pipeline removed", zap.Stringer("pipeline", h.id), zap.String("outcome", h.outcome))
	c.publish(telemetry.EventPipelineClosed, h.webview, h.id, map[string]any{"outcome": h.outcome})

	if p != nil && p.Active && !h.discard {
		c.recoverCrash(h)
	}
	c.releaseContext(h.context)
	c.maybeShutdown()
}

// recoverCrash loads the crash page in place of a current entry that went
// away while its context stays open.
func (c *Constellation) recoverCrash(h *handle) {
	if c.exiting {
		return
	}
	if _, closing := c.closing[h.context]; closing {
		return
	}
	ws, ok := c.webviews[h.webview]
	if !ok || ws.closing {
		return
	}
	ctx, ok := c.tree.Context(h.context)
	if !ok {
		return
	}
	if h.url == pipeline.CrashURL {
		c.log.Warn("crash page went away, leaving context empty", zap.Stringer("context", h.context))
		return
	}

	pid := c.gen.NextPipelineID()
	if err := c.tree.AddPipeline(pid, ctx.ID, pipeline.CrashURL); err != nil {
		c.log.Error("adding crash page failed", zap.Stringer("context", ctx.ID), zap.Error(err))
		return
	}
	if err := c.tree.UpdateCurrentEntry(ctx.ID, pid); err != nil {
		c.log.Error("activating crash page failed", zap.Stringer("context", ctx.ID), zap.Error(err))
		return
	}
	throttled := !ws.visible
	if parent, ok := c.pipelines[ctx.ParentPipeline]; ok {
		throttled = parent.throttled
	}
	c.log.Warn("pipeline crashed, loading crash page",
		zap.Stringer("pipeline", h.id),
		zap.Stringer("replacement", pid),
		zap.String("outcome", h.outcome),
	)
	c.publish(telemetry.EventPipelineCrashed, h.webview, h.id, map[string]any{
		"outcome":     h.outcome,
		"replacement": pid.Slug(),
	})
	c.launch(pid, ctx.ID, h.webview, pipeline.CrashURL, throttled)
}

// closeContext closes every pipeline bound to ctxID, history and pruned
// entries alike. The context is removed once none is left.
func (c *Constellation) closeContext(ctxID ids.BrowsingContextID) {
	if _, ok := c.tree.Context(ctxID); !ok {
		return
	}
	c.closing[ctxID] = struct{}{}
	for _, pid := range c.boundTo(ctxID) {
		c.closePipeline(pid, true)
	}
	c.releaseContext(ctxID)
}

func (c *Constellation) boundTo(ctxID ids.BrowsingContextID) []ids.PipelineID {
	var bound []ids.PipelineID
	for id, h := range c.pipelines {
		if h.context == ctxID {
			bound = append(bound, id)
		}
	}
	slices.SortFunc(bound, ids.ComparePipelines)
	return bound
}

func (c *Constellation) releaseContext(ctxID ids.BrowsingContextID) {
	if _, closing := c.closing[ctxID]; !closing {
		return
	}
	if len(c.boundTo(ctxID)) > 0 {
		return
	}
	delete(c.closing, ctxID)
	ctx, ok := c.tree.RemoveContext(ctxID)
	if !ok || !ctx.IsTopLevel() {
		return
	}
	delete(c.webviews, ctx.TopLevel)
	c.log.Info("webview closed", zap.Stringer("webview", ctx.TopLevel))
	c.publish(telemetry.EventWebViewClosed, ctx.TopLevel, ids.PipelineID{}, nil)
}

func (c *Constellation) closeWebView(id ids.WebViewID) {
	ws, ok := c.webviews[id]
	if !ok || ws.closing {
		c.log.Debug("close of unknown webview", zap.Stringer("webview", id))
		return
	}
	ws.closing = true
	c.toCompositor(protocol.RemoveWebView{WebView: id})
	c.closeContext(id.BrowsingContext())
}

// livenessTick times out pipelines that never answered ExitPipeline.
func (c *Constellation) livenessTick(now time.Time) {
	var expired []ids.PipelineID
	for id, h := range c.pipelines {
		if h.phase == phaseExiting && now.After(h.deadline) {
			expired = append(expired, id)
		}
	}
	slices.SortFunc(expired, ids.ComparePipelines)
	for _, id := range expired {
		c.log.Warn("pipeline did not answer exit, treating as disconnected",
			zap.Stringer("pipeline", id),
			zap.Duration("timeout", c.opts.ExitTimeout),
		)
		c.scriptExited(id, telemetry.OutcomeTimedOut)
	}
	c.expireQueries(now)
}

// chaosTick offers every running pipeline to the injector. The victim is
// closed through the ordinary ClosePipeline path.
func (c *Constellation) chaosTick() {
	if c.chaos == nil || !c.chaos.Enabled() || c.exiting {
		return
	}
	candidates := make([]chaos.Candidate, 0, len(c.pipelines))
	for _, h := range c.pipelines {
		if h.phase != phaseRunning {
			continue
		}
		candidates = append(candidates, chaos.Candidate{
			Pipeline: h.id,
			Pending:  !h.activated,
			Hidden:   h.throttled,
		})
	}
	victim, ok := c.chaos.Pick(candidates)
	if !ok {
		return
	}
	telemetry.RecordChaosClose()
	webview := c.pipelines[victim].webview
	c.log.Info("chaos closing pipeline", zap.Stringer("pipeline", victim), zap.Stringer("webview", webview))
	c.publish(telemetry.EventChaosClose, webview, victim, nil)
	c.post(protocol.ClosePipeline{Pipeline: victim})
}

// exit closes every webview. Shutdown reaches the compositor once the last
// pipeline completed its handshake.
func (c *Constellation) exit() {
	if c.exiting {
		return
	}
	c.exiting = true
	c.log.Info("shutdown requested", zap.Int("webviews", len(c.webviews)), zap.Int("pipelines", len(c.pipelines)))
	webviews := slices.SortedFunc(maps.Keys(c.webviews), ids.CompareWebViews)
	for _, id := range webviews {
		c.closeWebView(id)
	}
	for _, id := range slices.SortedFunc(maps.Keys(c.pipelines), ids.ComparePipelines) {
		c.closePipeline(id, true)
	}
	c.maybeShutdown()
}

func (c *Constellation) maybeShutdown() {
	if !c.exiting || c.shutdownSent || len(c.pipelines) > 0 {
		return
	}
	c.shutdownSent = true
	c.log.Info("all pipelines exited, stopping compositor")
	if !c.toCompositor(protocol.Shutdown{}) {
		c.post(protocol.CompositorStopped{})
	}
}

// compositorStopped reports whether the loop may end.
func (c *Constellation) compositorStopped() bool {
	if !c.shutdownSent {
		c.violation(errors.New(errors.ErrCodeProtocolViolation, "compositor stopped before shutdown"))
		return false
	}
	c.publish(telemetry.EventShutdownComplete, ids.WebViewID{}, ids.PipelineID{}, nil)
	return true
}

func (c *Constellation) epochsPainted(epochs map[ids.PipelineID]ids.Epoch) {
	for _, pid := range slices.SortedFunc(maps.Keys(epochs), ids.ComparePipelines) {
		h, ok := c.pipelines[pid]
		if !ok {
			continue
		}
		c.toPipeline(h, protocol.EpochPainted{Pipeline: pid, Epoch: epochs[pid]})
	}
}

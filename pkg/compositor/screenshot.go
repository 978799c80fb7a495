package compositor

import (
	"context"
	"fmt"
	"image"
	"slices"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

// Phase is the progress of a screenshot request. Phases only move forward.
type Phase int

const (
	// PhaseConstellationRequest waits for the orchestrator to report the
	// epochs the webview's pipelines must reach.
	PhaseConstellationRequest Phase = iota
	// PhaseWaitingOnPipelineDisplayLists waits until every expected epoch has
	// been recorded.
	PhaseWaitingOnPipelineDisplayLists
	// PhaseWaitingOnFrame waits for a frame with no newer frame pending.
	PhaseWaitingOnFrame
	phaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseConstellationRequest:
		return "constellation_request"
	case PhaseWaitingOnPipelineDisplayLists:
		return "waiting_on_display_lists"
	case PhaseWaitingOnFrame:
		return "waiting_on_frame"
	case phaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type screenshotRequest struct {
	id       ulid.ULID
	webview  ids.WebViewID
	rect     *browser.Rect
	callback protocol.ScreenshotCallback
	phase    Phase
	expected map[ids.PipelineID]ids.Epoch
	span     trace.Span
}

func (r *screenshotRequest) advance(to Phase) {
	if to <= r.phase {
		return
	}
	r.phase = to
	r.span.AddEvent("phase", trace.WithAttributes(telemetry.AttrPhase.String(to.String())))
}

func (c *Compositor) takeScreenshot(m protocol.TakeScreenshot) {
	req := &screenshotRequest{
		id:       ulid.Make(),
		webview:  m.WebView,
		rect:     m.Rect,
		callback: m.Callback,
		phase:    PhaseConstellationRequest,
	}
	attrs := []attribute.KeyValue{
		telemetry.AttrRequestID.String(req.id.String()),
		telemetry.AttrWebView.String(m.WebView.String()),
	}
	if m.Rect != nil {
		attrs = append(attrs, telemetry.AttrRect.IntSlice([]int{m.Rect.X, m.Rect.Y, m.Rect.Width, m.Rect.Height}))
	}
	_, req.span = telemetry.StartSpan(context.Background(), "compositor.screenshot", trace.WithAttributes(attrs...))

	if _, ok := c.webviews[m.WebView]; !ok {
		c.finish(req, nil, browser.ErrWebViewDoesNotExist)
		return
	}
	if !protocol.Send(c.log, constellationTarget, c.constellation, protocol.ConstellationMsg(protocol.GetScreenshotReadiness{WebView: m.WebView})) {
		c.finish(req, nil, browser.ErrWebViewDoesNotExist)
		return
	}
	c.screenshots = append(c.screenshots, req)
	c.log.Debug("screenshot requested",
		zap.Stringer("request", req.id),
		zap.Stringer("webview", m.WebView),
	)
}

// screenshotReadiness applies the orchestrator's answer to every request of
// the webview still waiting for one.
func (c *Compositor) screenshotReadiness(m protocol.ScreenshotReadiness) {
	for _, req := range c.screenshots {
		if req.webview != m.WebView || req.phase != PhaseConstellationRequest {
			continue
		}
		req.expected = m.Expected
		req.span.SetAttributes(telemetry.AttrExpected.Int(len(m.Expected)))
		req.advance(PhaseWaitingOnPipelineDisplayLists)
	}
	c.evaluate()
}

// evaluate re-derives every request's state from current state, so the
// result does not depend on the order epochs and readiness replies arrived in.
func (c *Compositor) evaluate() {
	entered := false
	for _, req := range c.screenshots {
		if req.phase == phaseDone {
			continue
		}
		if _, ok := c.webviews[req.webview]; !ok {
			c.finish(req, nil, browser.ErrWebViewDoesNotExist)
			continue
		}
		if req.phase != PhaseWaitingOnPipelineDisplayLists {
			continue
		}
		if len(req.expected) == 0 || c.anyExited(req.expected) {
			c.finish(req, nil, browser.ErrWebViewDoesNotExist)
			continue
		}
		if c.displayListsReady(req.expected) {
			req.advance(PhaseWaitingOnFrame)
			entered = true
		}
	}
	c.compact()

	if entered && !c.framePending() && !c.repaintOutstanding {
		c.repaintOutstanding = true
		c.log.Debug("requesting repaint for screenshot")
		c.generateFrame()
	}
}

func (c *Compositor) anyExited(expected map[ids.PipelineID]ids.Epoch) bool {
	for pipeline := range expected {
		if _, gone := c.exited[pipeline]; gone {
			return true
		}
	}
	return false
}

func (c *Compositor) displayListsReady(expected map[ids.PipelineID]ids.Epoch) bool {
	for pipeline, want := range expected {
		if !c.tracker.IsReady(pipeline, want) {
			return false
		}
	}
	return true
}

// captureWaiting reads back every request waiting on a frame. It runs after a
// frame was presented with nothing newer pending.
func (c *Compositor) captureWaiting() {
	for _, req := range c.screenshots {
		if req.phase != PhaseWaitingOnFrame {
			continue
		}
		if _, ok := c.webviews[req.webview]; !ok {
			c.finish(req, nil, browser.ErrWebViewDoesNotExist)
			continue
		}
		img, err := c.capture(req)
		c.finish(req, img, err)
	}
	c.compact()
}

func (c *Compositor) capture(req *screenshotRequest) (*image.RGBA, error) {
	if err := c.raster.MakeCurrent(); err != nil {
		return nil, &browser.ReadbackError{Stage: "make_current", Err: err}
	}
	viewport := c.raster.Viewport()
	rect := viewport.Bounds()
	if req.rect != nil {
		rect = req.rect.Intersect(rect)
	}
	var area image.Rectangle
	if !rect.Empty() {
		area = rect.FlipY(viewport.Height)
	}
	img, err := c.raster.ReadToImage(area)
	if err != nil {
		return nil, &browser.ReadbackError{Stage: "read_pixels", Err: err}
	}
	return img, nil
}

// finish resolves req. It is the only place a callback runs.
func (c *Compositor) finish(req *screenshotRequest, img *image.RGBA, err error) {
	if req.phase == phaseDone {
		return
	}
	from := req.phase
	req.phase = phaseDone

	outcome := telemetry.ScreenshotOK
	switch {
	case err == nil:
	case browser.IsWebViewGone(err):
		outcome = telemetry.ScreenshotGone
	default:
		outcome = telemetry.ScreenshotReadback
	}
	telemetry.RecordScreenshot(outcome)

	fields := []zap.Field{
		zap.Stringer("request", req.id),
		zap.Stringer("webview", req.webview),
		zap.Stringer("phase", from),
		zap.String("outcome", outcome),
	}
	if err != nil {
		req.span.RecordError(err)
		req.span.SetStatus(codes.Error, outcome)
		c.log.Info("screenshot failed", append(fields, zap.Error(err))...)
	} else {
		c.log.Debug("screenshot captured", fields...)
	}
	req.span.End()

	c.events.Publish(telemetry.Event{
		Type:    telemetry.EventScreenshotDone,
		WebView: req.webview.String(),
		Data:    map[string]any{"request": req.id.String(), "outcome": outcome},
	})

	if req.callback != nil {
		req.callback(img, err)
	}
}

func (c *Compositor) compact() {
	c.screenshots = slices.DeleteFunc(c.screenshots, func(r *screenshotRequest) bool {
		return r.phase == phaseDone
	})
}

// abandon resolves every outstanding request when the compositor stops.
// Queued screenshots fail with ErrWebViewDoesNotExist and queued exits are
// still released and acknowledged.
func (c *Compositor) abandon(rest []protocol.CompositorMsg) {
	for _, req := range c.screenshots {
		c.finish(req, nil, browser.ErrWebViewDoesNotExist)
	}
	c.screenshots = nil
	for _, msg := range append(rest, c.inbox.Drain()...) {
		switch m := msg.(type) {
		case protocol.TakeScreenshot:
			if m.Callback != nil {
				telemetry.RecordScreenshot(telemetry.ScreenshotGone)
				m.Callback(nil, browser.ErrWebViewDoesNotExist)
			}
		case protocol.PipelineExited:
			c.pipelineExited(m)
		default:
			c.log.Debug("dropping message after shutdown", zap.String("message", protocol.Name(msg)))
		}
	}
}

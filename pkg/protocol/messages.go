package protocol

import (
	"fmt"
	"image"
	"strings"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/ids"
)

// ScreenshotCallback receives the outcome of a screenshot request exactly
// once: pixels, or an error matching browser.ErrWebViewDoesNotExist or
// browser.ErrReadbackFailed.
type ScreenshotCallback func(img *image.RGBA, err error)

// CompositorMsg is a message handled by the compositor actor.
type CompositorMsg interface{ compositorMsg() }

// AddWebView registers a top-level session with the compositor.
type AddWebView struct {
	WebView ids.WebViewID
	Visible bool
}

// RemoveWebView drops a top-level session. Pending screenshots for it fail.
type RemoveWebView struct {
	WebView ids.WebViewID
}

// ReplaceVisibleTree installs Root as the pipeline painted for WebView. Sent
// on the first paint of a navigation.
type ReplaceVisibleTree struct {
	WebView ids.WebViewID
	Root    ids.PipelineID
}

// PipelineVisibilityChanged reports that a pipeline was shown or hidden.
type PipelineVisibilityChanged struct {
	Pipeline ids.PipelineID
	Visible  bool
}

// AnimationStateChanged reports that a pipeline started or stopped animating.
type AnimationStateChanged struct {
	WebView   ids.WebViewID
	Pipeline  ids.PipelineID
	Animating bool
}

// LoadComplete reports that the webview's current document finished loading.
type LoadComplete struct {
	WebView ids.WebViewID
}

// DisplayListReceived is published by a pipeline's layout for every new
// display list it hands to the compositor.
type DisplayListReceived struct {
	WebView  ids.WebViewID
	Pipeline ids.PipelineID
	Epoch    ids.Epoch
}

// PipelineExited is the second phase of pipeline teardown. The compositor
// releases every resource tied to Pipeline and only then calls Ack.Done.
type PipelineExited struct {
	Pipeline ids.PipelineID
	WebView  ids.WebViewID
	Ack      Ack
}

// TakeScreenshot queues a screenshot request. Rect nil means the full viewport.
type TakeScreenshot struct {
	WebView  ids.WebViewID
	Rect     *browser.Rect
	Callback ScreenshotCallback
}

// ScreenshotReadiness answers GetScreenshotReadiness with the epoch each
// pipeline of the webview must reach before the page counts as stable.
type ScreenshotReadiness struct {
	WebView  ids.WebViewID
	Expected map[ids.PipelineID]ids.Epoch
}

// FrameReady is sent by the rasterizer when a generated frame can be presented.
type FrameReady struct{}

// Resize changes the rendering surface.
type Resize struct {
	Viewport browser.Viewport
}

// Dispatch runs Task on the compositor's loop after making its graphics
// context current.
type Dispatch struct {
	Task Task
}

// Shutdown is the terminal compositor message. It is sent exactly once, after
// every pipeline has completed its exit handshake.
type Shutdown struct{}

func (AddWebView) compositorMsg()                {}
func (RemoveWebView) compositorMsg()             {}
func (ReplaceVisibleTree) compositorMsg()        {}
func (PipelineVisibilityChanged) compositorMsg() {}
func (AnimationStateChanged) compositorMsg()     {}
func (LoadComplete) compositorMsg()              {}
func (DisplayListReceived) compositorMsg()       {}
func (PipelineExited) compositorMsg()            {}
func (TakeScreenshot) compositorMsg()            {}
func (ScreenshotReadiness) compositorMsg()       {}
func (FrameReady) compositorMsg()                {}
func (Resize) compositorMsg()                    {}
func (Dispatch) compositorMsg()                  {}
func (Shutdown) compositorMsg()                  {}

// ConstellationMsg is a message handled by the orchestrator actor.
type ConstellationMsg interface{ constellationMsg() }

// Embedder requests.

// NewWebView opens a top-level session. WebView is minted by the caller.
type NewWebView struct {
	WebView ids.WebViewID
	URL     string
}

// LoadURL navigates the webview's top-level context.
type LoadURL struct {
	WebView ids.WebViewID
	URL     string
}

// TraverseHistory moves Delta entries through the top-level session history.
type TraverseHistory struct {
	WebView ids.WebViewID
	Delta   int
}

// CloseWebView closes a top-level session and all its pipelines.
type CloseWebView struct {
	WebView ids.WebViewID
}

// SetWebViewVisibility shows or hides a top-level session.
type SetWebViewVisibility struct {
	WebView ids.WebViewID
	Visible bool
}

// ResizeWebView resizes the shared viewport.
type ResizeWebView struct {
	Viewport browser.Viewport
}

// Exit starts global shutdown.
type Exit struct{}

// Pipeline reports.

// ActivateDocument is sent on a pipeline's first paint; it makes the pipeline
// the current entry of its browsing context.
type ActivateDocument struct {
	Pipeline ids.PipelineID
}

// PipelineLoadComplete reports that a pipeline's document finished loading.
type PipelineLoadComplete struct {
	Pipeline ids.PipelineID
}

// ScriptNewIFrame reports an iframe created by Parent's document. The context
// and pipeline ids come from Parent's own namespace.
type ScriptNewIFrame struct {
	Parent   ids.PipelineID
	Context  ids.BrowsingContextID
	Pipeline ids.PipelineID
	URL      string
}

// RemoveIFrame reports that Parent's document removed a nested context.
type RemoveIFrame struct {
	Parent  ids.PipelineID
	Context ids.BrowsingContextID
}

// ClosePipeline asks for Pipeline to be torn down.
type ClosePipeline struct {
	Pipeline ids.PipelineID
}

// ScriptExited acknowledges ExitPipeline. A pipeline sends it exactly once.
type ScriptExited struct {
	Pipeline ids.PipelineID
}

// ReadinessEpoch answers QueryReadiness.
type ReadinessEpoch struct {
	Query    uint64
	Pipeline ids.PipelineID
	Epoch    ids.Epoch
}

// AnimationState reports whether a pipeline is animating.
type AnimationState struct {
	Pipeline  ids.PipelineID
	Animating bool
}

// Compositor reports.

// GetScreenshotReadiness asks which epochs the webview's pipelines must reach.
type GetScreenshotReadiness struct {
	WebView ids.WebViewID
}

// CompositorExitAck is the compositor's reply to PipelineExited.
type CompositorExitAck struct {
	Pipeline ids.PipelineID
}

// EpochsPainted lists, per pipeline, the epoch a just-presented frame showed.
type EpochsPainted struct {
	Epochs map[ids.PipelineID]ids.Epoch
}

// CompositorStopped is sent after the compositor handled Shutdown.
type CompositorStopped struct{}

// Timers.

// ChaosTick drives the fault-injection hook.
type ChaosTick struct{}

// LivenessTick drives the exit-handshake deadline check.
type LivenessTick struct{}

func (NewWebView) constellationMsg()             {}
func (LoadURL) constellationMsg()                {}
func (TraverseHistory) constellationMsg()        {}
func (CloseWebView) constellationMsg()           {}
func (SetWebViewVisibility) constellationMsg()   {}
func (ResizeWebView) constellationMsg()          {}
func (Exit) constellationMsg()                   {}
func (ActivateDocument) constellationMsg()       {}
func (PipelineLoadComplete) constellationMsg()   {}
func (ScriptNewIFrame) constellationMsg()        {}
func (RemoveIFrame) constellationMsg()           {}
func (ClosePipeline) constellationMsg()          {}
func (ScriptExited) constellationMsg()           {}
func (ReadinessEpoch) constellationMsg()         {}
func (AnimationState) constellationMsg()         {}
func (GetScreenshotReadiness) constellationMsg() {}
func (CompositorExitAck) constellationMsg()      {}
func (EpochsPainted) constellationMsg()          {}
func (CompositorStopped) constellationMsg()      {}
func (ChaosTick) constellationMsg()              {}
func (LivenessTick) constellationMsg()           {}

// PipelineMsg is a message handled by a pipeline actor.
type PipelineMsg interface{ pipelineMsg() }

// ExitPipeline is the first phase of teardown. The pipeline stops and answers
// with ScriptExited.
type ExitPipeline struct {
	Pipeline ids.PipelineID
}

// ResizePipeline changes the pipeline's viewport.
type ResizePipeline struct {
	Pipeline ids.PipelineID
	Viewport browser.Viewport
}

// SetThrottled pauses or resumes animation for hidden or inactive pipelines.
type SetThrottled struct {
	Pipeline  ids.PipelineID
	Throttled bool
}

// QueryReadiness asks for the pipeline's current display-list epoch.
type QueryReadiness struct {
	Pipeline ids.PipelineID
	Query    uint64
}

// TickAnimation advances one animation step.
type TickAnimation struct {
	Pipeline ids.PipelineID
}

// EpochPainted tells a pipeline that Epoch reached the screen.
type EpochPainted struct {
	Pipeline ids.PipelineID
	Epoch    ids.Epoch
}

func (ExitPipeline) pipelineMsg()   {}
func (ResizePipeline) pipelineMsg() {}
func (SetThrottled) pipelineMsg()   {}
func (QueryReadiness) pipelineMsg() {}
func (TickAnimation) pipelineMsg()  {}
func (EpochPainted) pipelineMsg()   {}

// LaunchPipeline asks a content host to start a pipeline actor.
type LaunchPipeline struct {
	Pipeline  ids.PipelineID
	Context   ids.BrowsingContextID
	WebView   ids.WebViewID
	Namespace ids.Namespace
	URL       string
	Viewport  browser.Viewport
	Throttled bool
}

// Name returns the bare type name of a message, for logs.
func Name(msg any) string {
	name := fmt.Sprintf("%T", msg)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

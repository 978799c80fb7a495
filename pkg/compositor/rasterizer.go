package compositor

import (
	"image"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/ids"
)

// Rasterizer is the presentation layer the compositor drives. Every method is
// called from the compositor's loop only.
//
// GenerateFrame starts building a frame from the submitted display lists;
// the implementation later sends protocol.FrameReady to the compositor, which
// then calls Composite to present it. Surfaces use a bottom-left origin.
//
//go:generate mockgen -package=compositor -destination=mock_rasterizer_test.go github.com/odvcencio/constellation/pkg/compositor Rasterizer
type Rasterizer interface {
	MakeCurrent() error
	HasPendingFrames() bool
	SetWebView(webview ids.WebViewID, root ids.PipelineID, visible bool)
	RemoveWebView(webview ids.WebViewID)
	SubmitDisplayList(webview ids.WebViewID, pipeline ids.PipelineID, epoch ids.Epoch)
	GenerateFrame()
	// Composite presents one generated frame and returns the epoch painted for
	// each root pipeline on screen.
	Composite() (map[ids.PipelineID]ids.Epoch, error)
	ReadToImage(rect image.Rectangle) (*image.RGBA, error)
	Resize(viewport browser.Viewport)
	RemovePipeline(pipeline ids.PipelineID)
	Viewport() browser.Viewport
}

// Package rasterizer provides a software Rasterizer for the compositor: an
// RGBA framebuffer that paints every visible webview as one band of colour
// derived from its root pipeline and the epoch of that pipeline's latest
// display list.
package rasterizer

import (
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/compositor"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/protocol"
)

var _ compositor.Rasterizer = (*Software)(nil)

// ErrNoFrame is returned by Composite when no generated frame is waiting.
var ErrNoFrame = errors.New("no frame pending")

// Software keeps its framebuffer bottom-left-origin, like a GL surface: row 0
// of fb is the bottom row of the viewport.
type Software struct {
	mu   sync.Mutex
	log  *zap.Logger
	sink protocol.Sender[protocol.CompositorMsg]

	viewport browser.Viewport
	fb       *image.RGBA
	webviews map[ids.WebViewID]*surface
	lists    map[ids.PipelineID]ids.Epoch
	pending  int

	failCurrent error
	failRead    error
}

type surface struct {
	root    ids.PipelineID
	visible bool
}

// New returns a rasterizer that reports generated frames to sink.
func New(viewport browser.Viewport, sink protocol.Sender[protocol.CompositorMsg], log *zap.Logger) *Software {
	return &Software{
		log:      logging.For(log, logging.CategoryRasterizer),
		sink:     sink,
		viewport: viewport,
		fb:       image.NewRGBA(image.Rect(0, 0, viewport.Width, viewport.Height)),
		webviews: make(map[ids.WebViewID]*surface),
		lists:    make(map[ids.PipelineID]ids.Epoch),
	}
}

// FailMakeCurrent makes every later MakeCurrent return err. nil restores it.
func (s *Software) FailMakeCurrent(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCurrent = err
}

// FailReadback makes every later ReadToImage return err. nil restores it.
func (s *Software) FailReadback(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRead = err
}

func (s *Software) MakeCurrent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failCurrent
}

func (s *Software) HasPendingFrames() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

func (s *Software) SetWebView(webview ids.WebViewID, root ids.PipelineID, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webviews[webview] = &surface{root: root, visible: visible}
}

func (s *Software) RemoveWebView(webview ids.WebViewID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.webviews, webview)
}

func (s *Software) SubmitDisplayList(_ ids.WebViewID, pipeline ids.PipelineID, epoch ids.Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch > s.lists[pipeline] {
		s.lists[pipeline] = epoch
	}
}

// GenerateFrame queues a frame and notifies the compositor. The notification
// is a message, so the compositor presents the frame on a later loop turn.
func (s *Software) GenerateFrame() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
	protocol.Send(s.log, "compositor", s.sink, protocol.CompositorMsg(protocol.FrameReady{}))
}

// Composite paints the oldest pending frame and returns, per visible root
// pipeline that has a display list, the epoch shown.
func (s *Software) Composite() (map[ids.PipelineID]ids.Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == 0 {
		return nil, ErrNoFrame
	}
	s.pending--

	clear(s.fb.Pix)
	order := make([]ids.WebViewID, 0, len(s.webviews))
	for id, sf := range s.webviews {
		if sf.visible {
			order = append(order, id)
		}
	}
	if len(order) == 0 {
		return nil, nil
	}
	slices.SortFunc(order, ids.CompareWebViews)

	painted := make(map[ids.PipelineID]ids.Epoch, len(order))
	height := s.viewport.Height
	band := height / len(order)
	for i, id := range order {
		root := s.webviews[id].root
		epoch, ok := s.lists[root]
		if !ok {
			continue
		}
		painted[root] = epoch
		top := i * band
		bottom := top + band
		if i == len(order)-1 {
			bottom = height
		}
		blue := tint(root, epoch)
		for y := top; y < bottom; y++ {
			row := height - 1 - y
			for x := 0; x < s.viewport.Width; x++ {
				s.fb.SetRGBA(x, row, Pixel(x, y, blue))
			}
		}
	}
	return painted, nil
}

// ReadToImage copies rect, given in bottom-left-origin surface coordinates,
// into a new top-left-origin image. Parts of rect outside the surface are
// clipped away.
func (s *Software) ReadToImage(rect image.Rectangle) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead != nil {
		return nil, s.failRead
	}
	rect = rect.Intersect(s.fb.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for j := 0; j < rect.Dy(); j++ {
		src := s.fb.PixOffset(rect.Min.X, rect.Max.Y-1-j)
		dst := out.PixOffset(0, j)
		copy(out.Pix[dst:dst+4*rect.Dx()], s.fb.Pix[src:src+4*rect.Dx()])
	}
	return out, nil
}

func (s *Software) Resize(viewport browser.Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = viewport
	s.fb = image.NewRGBA(image.Rect(0, 0, viewport.Width, viewport.Height))
	s.log.Debug("surface resized", zap.Int("width", viewport.Width), zap.Int("height", viewport.Height))
}

func (s *Software) RemovePipeline(pipeline ids.PipelineID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, pipeline)
}

func (s *Software) Viewport() browser.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// Pixel is the colour painted at top-left-origin (x, y) of a band whose
// display list tints blue.
func Pixel(x, y int, blue uint8) color.RGBA {
	return color.RGBA{R: uint8(x), G: uint8(y), B: blue, A: 0xff}
}

// tint returns the blue channel painted for root at epoch.
func tint(root ids.PipelineID, epoch ids.Epoch) uint8 {
	var buf [16]byte
	ns, idx := root.Parts()
	binary.LittleEndian.PutUint32(buf[0:], uint32(ns))
	binary.LittleEndian.PutUint32(buf[4:], idx)
	binary.LittleEndian.PutUint64(buf[8:], uint64(epoch))
	return uint8(xxhash.Sum64(buf[:]))
}

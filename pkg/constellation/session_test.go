package constellation_test

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/chaos"
	"github.com/odvcencio/constellation/pkg/compositor"
	"github.com/odvcencio/constellation/pkg/constellation"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/rasterizer"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

var sessionView = browser.Viewport{Width: 64, Height: 48, DeviceScaleFactor: 1}

type session struct {
	c      *constellation.Constellation
	comp   *compositor.Compositor
	events <-chan telemetry.Event
}

// startSession runs a whole in-process session: orchestrator, compositor,
// software rasterizer and goroutine pipelines.
func startSession(t *testing.T, chaosCfg chaos.Config) *session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	log := zap.NewNop()
	hub := telemetry.NewHub()
	events, unsubscribe := hub.Subscribe()

	constellationBox := protocol.NewMailbox[protocol.ConstellationMsg]()
	compositorBox := protocol.NewMailbox[protocol.CompositorMsg]()
	raster := rasterizer.New(sessionView, compositorBox, log)
	comp := compositor.New(compositorBox, raster, constellationBox, log, compositor.WithEvents(hub))
	launcher := pipeline.NewLocalLauncher(ctx, pipeline.Config{
		LoadDelay:         time.Millisecond,
		AnimationInterval: 5 * time.Millisecond,
		ExitTimeout:       time.Second,
	}, pipeline.Peers{Constellation: constellationBox, Compositor: compositorBox}, log)
	c := constellation.New(constellationBox, compositorBox, launcher, chaos.New(chaosCfg, log), constellation.Options{
		Viewport:    sessionView,
		ExitTimeout: time.Second,
		Events:      hub,
	}, log)

	go func() { _ = comp.Run(ctx) }()
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-c.Done()
		<-comp.Done()
		_ = launcher.Close()
		unsubscribe()
	})
	return &session{c: c, comp: comp, events: events}
}

func (s *session) waitFor(t *testing.T, kind telemetry.EventType, webview ids.WebViewID) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.events:
			if ev.Type == kind && ev.WebView == webview.Slug() {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event for %s", kind, webview)
		}
	}
}

type shot struct {
	img *image.RGBA
	err error
}

func (s *session) screenshot(t *testing.T, webview ids.WebViewID, rect *browser.Rect) shot {
	t.Helper()
	results := make(chan shot, 1)
	s.comp.RequestScreenshot(webview, rect, func(img *image.RGBA, err error) {
		results <- shot{img: img, err: err}
	})
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("screenshot never resolved")
		return shot{}
	}
}

func (s *session) exit(t *testing.T) {
	t.Helper()
	s.c.Exit()
	select {
	case <-s.c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	select {
	case <-s.comp.Done():
	case <-time.After(time.Second):
		t.Fatal("compositor did not stop")
	}
}

func TestSession_ScreenshotOfLoadedPage(t *testing.T) {
	s := startSession(t, chaos.DefaultConfig())
	wv := s.c.NewWebView("about:blank?iframes=2")
	s.waitFor(t, telemetry.EventLoadComplete, wv)

	full := s.screenshot(t, wv, nil)
	require.NoError(t, full.err)
	assert.Equal(t, image.Rect(0, 0, sessionView.Width, sessionView.Height), full.img.Bounds())

	part := s.screenshot(t, wv, &browser.Rect{X: 4, Y: 2, Width: 10, Height: 6})
	require.NoError(t, part.err)
	assert.Equal(t, 10, part.img.Bounds().Dx())
	assert.Equal(t, 6, part.img.Bounds().Dy())
	// The software rasterizer encodes coordinates in red and green.
	px := part.img.RGBAAt(0, 0)
	assert.Equal(t, uint8(4), px.R)
	assert.Equal(t, uint8(2), px.G)

	s.exit(t)
}

func TestSession_ScreenshotOfClosedWebView(t *testing.T) {
	s := startSession(t, chaos.DefaultConfig())
	wv := s.c.NewWebView("about:blank")
	s.waitFor(t, telemetry.EventLoadComplete, wv)
	s.c.CloseWebView(wv)
	s.waitFor(t, telemetry.EventWebViewClosed, wv)

	r := s.screenshot(t, wv, nil)
	assert.ErrorIs(t, r.err, browser.ErrWebViewDoesNotExist)
	assert.Nil(t, r.img)

	s.exit(t)
}

func TestSession_ExitAfterNavigation(t *testing.T) {
	s := startSession(t, chaos.DefaultConfig())
	wv := s.c.NewWebView("about:blank?iframes=1&animate=1")
	s.waitFor(t, telemetry.EventLoadComplete, wv)
	s.c.LoadURL(wv, "about:blank?iframes=2")
	s.waitFor(t, telemetry.EventLoadComplete, wv)
	s.c.GoBack(wv)

	s.exit(t)
}

func TestSession_ChaosRunStillShutsDown(t *testing.T) {
	probability := 0.5
	seed := uint64(3)
	cfg := chaos.DefaultConfig()
	cfg.Probability = &probability
	cfg.Seed = &seed
	cfg.Interval = 2 * time.Millisecond

	s := startSession(t, cfg)
	for range 3 {
		s.c.NewWebView("about:blank?iframes=2&animate=1")
	}
	time.Sleep(100 * time.Millisecond)

	s.exit(t)
}

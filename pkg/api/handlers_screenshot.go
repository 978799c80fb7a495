package api

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

type screenshotResult struct {
	img *image.RGBA
	err error
}

// handleScreenshot waits for the compositor to capture a frame in which every
// pipeline of the webview has painted, then returns it as PNG. The optional
// x, y, width and height parameters select a rectangle; scale in (0, 1]
// shrinks the result.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	id, ok := webViewParam(w, r)
	if !ok {
		return
	}
	rect, err := parseRect(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scale, err := parseScale(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "screenshot rate limit exceeded")
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "api.screenshot")
	defer span.End()
	span.SetAttributes(telemetry.AttrWebView.String(id.Slug()))
	if rect != nil {
		span.SetAttributes(telemetry.AttrRect.String(fmt.Sprintf("%d,%d %dx%d", rect.X, rect.Y, rect.Width, rect.Height)))
	}

	results := make(chan screenshotResult, 1)
	s.screenshots.RequestScreenshot(id, rect, func(img *image.RGBA, err error) {
		results <- screenshotResult{img: img, err: err}
	})

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	var res screenshotResult
	select {
	case res = <-results:
	case <-timer.C:
		span.SetStatus(codes.Error, "timeout")
		writeError(w, http.StatusGatewayTimeout, "screenshot did not resolve in time")
		return
	case <-ctx.Done():
		return
	}

	switch {
	case browser.IsWebViewGone(res.err):
		span.SetStatus(codes.Error, res.err.Error())
		writeError(w, http.StatusNotFound, res.err.Error())
		return
	case res.err != nil:
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		s.log.Warn("screenshot failed", zap.String("webview", id.Slug()), zap.Error(res.err))
		writeError(w, http.StatusInternalServerError, res.err.Error())
		return
	}

	img := res.img
	if scale < 1 {
		img = scaleImage(img, scale)
	}
	span.SetAttributes(
		attribute.Int("constellation.screenshot.width", img.Bounds().Dx()),
		attribute.Int("constellation.screenshot.height", img.Bounds().Dy()),
	)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeError(w, http.StatusInternalServerError, "encoding png: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func scaleImage(src *image.RGBA, scale float64) *image.RGBA {
	b := src.Bounds()
	w := max(1, int(float64(b.Dx())*scale+0.5))
	h := max(1, int(float64(b.Dy())*scale+0.5))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// parseRect returns nil when no rectangle parameter is present.
func parseRect(r *http.Request) (*browser.Rect, error) {
	q := r.URL.Query()
	keys := []string{"x", "y", "width", "height"}
	present := 0
	for _, k := range keys {
		if q.Has(k) {
			present++
		}
	}
	if present == 0 {
		return nil, nil
	}
	if present != len(keys) {
		return nil, errors.New("x, y, width and height must be given together")
	}
	vals := make([]int, len(keys))
	for i, k := range keys {
		v, err := strconv.Atoi(q.Get(k))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", k, err)
		}
		vals[i] = v
	}
	rect := &browser.Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	if rect.Empty() {
		return nil, errors.New("width and height must be positive")
	}
	return rect, nil
}

func parseScale(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("scale")
	if raw == "" {
		return 1, nil
	}
	scale, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid scale: %w", err)
	}
	if scale <= 0 || scale > 1 {
		return 0, errors.New("scale must be within (0, 1]")
	}
	return scale, nil
}

// Package api exposes a running session over HTTP for automation harnesses.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

// Session is the embedder surface the API drives. Every call is
// fire-and-forget; results surface as events.
type Session interface {
	NewWebView(url string) ids.WebViewID
	LoadURL(webview ids.WebViewID, url string)
	GoBack(webview ids.WebViewID)
	GoForward(webview ids.WebViewID)
	SetVisibility(webview ids.WebViewID, visible bool)
	CloseWebView(webview ids.WebViewID)
	Resize(viewport browser.Viewport)
}

// Screenshotter resolves screenshot requests through the compositor.
type Screenshotter interface {
	RequestScreenshot(webview ids.WebViewID, rect *browser.Rect, callback protocol.ScreenshotCallback)
}

// Server is the automation API server.
type Server struct {
	session     Session
	screenshots Screenshotter
	events      *telemetry.Hub
	limiter     *rate.Limiter
	timeout     time.Duration
	log         *zap.Logger
	router      chi.Router
	httpServer  *http.Server
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to listen on (default: 127.0.0.1:7878)
	Address string

	Session     Session
	Screenshots Screenshotter

	// Events backs the SSE stream (optional)
	Events *telemetry.Hub

	// ScreenshotRate and ScreenshotBurst bound screenshot requests; a zero
	// rate disables limiting.
	ScreenshotRate  float64
	ScreenshotBurst int

	// ScreenshotTimeout bounds how long a request waits for the compositor
	// (default: 10s)
	ScreenshotTimeout time.Duration

	Logger *zap.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:7878"
	}
	if cfg.ScreenshotTimeout <= 0 {
		cfg.ScreenshotTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		session:     cfg.Session,
		screenshots: cfg.Screenshots,
		events:      cfg.Events,
		timeout:     cfg.ScreenshotTimeout,
		log:         cfg.Logger,
	}
	if cfg.ScreenshotRate > 0 {
		burst := cfg.ScreenshotBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ScreenshotRate), burst)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)

	// Health and metrics
	router.Get("/healthz", s.handleHealthz)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Put("/viewport", s.handleResize)
		r.Get("/events", s.handleStream)
		r.Route("/webviews", func(r chi.Router) {
			r.Post("/", s.handleCreateWebView)
			r.Route("/{webview}", func(r chi.Router) {
				r.Delete("/", s.handleCloseWebView)
				r.Post("/navigate", s.handleNavigate)
				r.Post("/back", s.handleBack)
				r.Post("/forward", s.handleForward)
				r.Put("/visibility", s.handleVisibility)
				r.Get("/screenshot", s.handleScreenshot)
			})
		})
	})
	s.router = router

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("automation api listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Helpers
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

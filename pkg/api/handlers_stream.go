package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/odvcencio/constellation/pkg/telemetry"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
var heartbeatInterval = 30 * time.Second

// handleStream provides an SSE stream of session events. Clients can narrow
// it with ?type=<prefix> and ?webview=<id>.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event hub not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	typePrefix := r.URL.Query().Get("type")
	webview := r.URL.Query().Get("webview")

	events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	if !writeEvent(w, telemetry.Event{
		Type:      "connected",
		Timestamp: time.Now(),
		Data:      map[string]any{"type": typePrefix, "webview": webview},
	}) {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !writeEvent(w, telemetry.Event{Type: "heartbeat", Timestamp: time.Now()}) {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if typePrefix != "" && !strings.HasPrefix(string(ev.Type), typePrefix) {
				continue
			}
			if webview != "" && ev.WebView != webview {
				continue
			}
			if !writeEvent(w, ev) {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev telemetry.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	_, err = w.Write([]byte("data: " + string(data) + "\n\n"))
	return err == nil
}

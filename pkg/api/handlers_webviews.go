package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/ids"
)

// CreateWebViewRequest opens a top-level webview.
type CreateWebViewRequest struct {
	URL string `json:"url"`
}

// NavigateRequest loads a URL in an open webview.
type NavigateRequest struct {
	URL string `json:"url"`
}

// VisibilityRequest shows or hides a webview.
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// WebViewResponse names the webview a request acted on.
type WebViewResponse struct {
	WebView string `json:"webview"`
	Status  string `json:"status"`
}

func (s *Server) handleCreateWebView(w http.ResponseWriter, r *http.Request) {
	var req CreateWebViewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	id := s.session.NewWebView(url)
	writeJSON(w, http.StatusCreated, WebViewResponse{WebView: id.Slug(), Status: "opening"})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	id, ok := webViewParam(w, r)
	if !ok {
		return
	}
	var req NavigateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	s.session.LoadURL(id, url)
	writeJSON(w, http.StatusAccepted, WebViewResponse{WebView: id.Slug(), Status: "navigating"})
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	id, ok := webViewParam(w, r)
	if !ok {
		return
	}
	s.session.GoBack(id)
	writeJSON(w, http.StatusAccepted, WebViewResponse{WebView: id.Slug(), Status: "traversing"})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	id, ok := webViewParam(w, r)
	if !ok {
		return
	}
	s.session.GoForward(id)
	writeJSON(w, http.StatusAccepted, WebViewResponse{WebView: id.Slug(), Status: "traversing"})
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	id, ok := webViewParam(w, r)
	if !ok {
		return
	}
	var req VisibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.session.SetVisibility(id, req.Visible)
	status := "hidden"
	if req.Visible {
		status = "visible"
	}
	writeJSON(w, http.StatusAccepted, WebViewResponse{WebView: id.Slug(), Status: status})
}

func (s *Server) handleCloseWebView(w http.ResponseWriter, r *http.Request) {
	id, ok := webViewParam(w, r)
	if !ok {
		return
	}
	s.session.CloseWebView(id)
	writeJSON(w, http.StatusAccepted, WebViewResponse{WebView: id.Slug(), Status: "closing"})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var vp browser.Viewport
	if err := decodeJSON(r, &vp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if vp.Width <= 0 || vp.Height <= 0 {
		writeError(w, http.StatusBadRequest, "width and height must be positive")
		return
	}
	if vp.DeviceScaleFactor == 0 {
		vp.DeviceScaleFactor = 1
	}
	s.session.Resize(vp)
	writeJSON(w, http.StatusAccepted, vp)
}

func webViewParam(w http.ResponseWriter, r *http.Request) (ids.WebViewID, bool) {
	id, err := ids.ParseWebViewID(chi.URLParam(r, "webview"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return ids.WebViewID{}, false
	}
	return id, true
}

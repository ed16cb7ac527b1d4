package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
	"github.com/kawishanedirisinghe/Remote-browser/internal/telemetry"
)

func (s *Server) screenshot(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := s.requireURL(w, r)
	if !ok {
		return
	}
	fullPage := boolParam(r, "full_page", s.cfg.Capture.FullPageDefault)

	result, ok := s.render(w, r, capture.KindScreenshot, capture.RenderRequest{
		URL:      rawURL,
		FullPage: fullPage,
	})
	if !ok {
		return
	}
	s.writeBinary(w, "image/png", result.Body)
}

func (s *Server) pageHTML(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := s.requireURL(w, r)
	if !ok {
		return
	}

	if !boolParam(r, "render", true) {
		resp, err := s.fetcher.Fetch(r.Context(), capture.FetchRequest{URL: rawURL})
		if err != nil {
			s.writeError(w, http.StatusBadGateway, fmt.Sprintf("fetch error: %v", err))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"url": resp.URL, "html": string(resp.Body)})
		return
	}

	result, ok := s.render(w, r, capture.KindHTML, capture.RenderRequest{URL: rawURL})
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": rawURL, "html": string(result.Body)})
}

func (s *Server) pageEval(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := s.requireURL(w, r)
	if !ok {
		return
	}
	script := r.URL.Query().Get("script")
	if script == "" {
		script = r.PostFormValue("script")
	}
	if script == "" {
		s.writeError(w, http.StatusBadRequest, "script is required")
		return
	}

	telemetry.IncActiveSessions()
	defer telemetry.DecActiveSessions()

	result, err := s.renderer.Evaluate(r.Context(), capture.RenderRequest{
		URL:    rawURL,
		Script: script,
	})
	if err != nil {
		telemetry.ObserveCapture("eval", "error", 0)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("browser error: %v", err))
		return
	}
	telemetry.ObserveCapture("eval", "success", result.Duration)
	s.writeJSON(w, http.StatusOK, map[string]any{"result": result.Result})
}

func (s *Server) pagePDF(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := s.requireURL(w, r)
	if !ok {
		return
	}

	result, ok := s.render(w, r, capture.KindPDF, capture.RenderRequest{URL: rawURL})
	if !ok {
		return
	}
	s.writeBinary(w, "application/pdf", result.Body)
}

// render runs one synchronous capture and writes the error response on
// failure. The boolean reports whether the caller should continue.
func (s *Server) render(
	w http.ResponseWriter,
	r *http.Request,
	kind capture.Kind,
	req capture.RenderRequest,
) (capture.RenderResult, bool) {
	telemetry.IncActiveSessions()
	defer telemetry.DecActiveSessions()

	var (
		result capture.RenderResult
		err    error
	)
	switch kind {
	case capture.KindScreenshot:
		result, err = s.renderer.Screenshot(r.Context(), req)
	case capture.KindPDF:
		result, err = s.renderer.PDF(r.Context(), req)
	default:
		result, err = s.renderer.HTML(r.Context(), req)
	}
	if err != nil {
		telemetry.ObserveCapture(string(kind), "error", 0)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("browser error: %v", err))
		return capture.RenderResult{}, false
	}
	telemetry.ObserveCapture(string(kind), "success", result.Duration)
	return result, true
}

func (s *Server) requireURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return "", false
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		s.writeError(w, http.StatusBadRequest, "url must start with http:// or https://")
		return "", false
	}
	return rawURL, true
}

func (s *Server) writeBinary(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write binary response failed", zap.Error(err))
	}
}

func boolParam(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return parsed
}

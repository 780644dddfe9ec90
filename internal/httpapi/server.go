// Package httpapi is the synchronous HTTP surface: analyze, quote and preview
// a single upload without going through the order store.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/printquote/internal/coverage"
	"github.com/local/printquote/internal/filetype"
	"github.com/local/printquote/internal/imagerender"
	"github.com/local/printquote/internal/metrics"
	"github.com/local/printquote/internal/quote"
	"github.com/local/printquote/internal/statuscheck"
)

const (
	maxUpload      = 64 << 20
	defaultOrderID = "LOCAL"
)

type Analyzer interface {
	Analyze(data []byte, filename string) (*coverage.Analysis, error)
}

type PreviewRenderer interface {
	Render(data []byte, orderID string, a coverage.Analysis) ([]byte, error)
}

type HealthChecker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Server struct {
	analyzer Analyzer
	preview  PreviewRenderer
	health   HealthChecker
}

// New builds the handlers. health may be nil, in which case /health reports
// liveness only.
func New(a Analyzer, p PreviewRenderer, health HealthChecker) *Server {
	return &Server{analyzer: a, preview: p, health: health}
}

// RegisterRoutes mounts every endpoint on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /health", instrument("health", s.handleHealth))
	mux.Handle("POST /analyze", instrument("analyze", s.handleAnalyze))
	mux.Handle("POST /quote", instrument("quote", s.handleQuote))
	mux.Handle("POST /preview", instrument("preview", s.handlePreview))
	mux.Handle("GET /metrics", metrics.Handler())
}

// Handler returns a ServeMux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"ok": true}
	if s.health != nil {
		body["deps"] = s.health.Summary(r.Context())
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	data, name, ok := readUpload(w, r)
	if !ok {
		return
	}
	a, err := s.analyzer.Analyze(data, name)
	if err != nil {
		writeAnalysisError(w, "analyze", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "analysis": a})
}

// handleQuote never rejects its body. Each field is read on its own: numbers
// may arrive as JSON numbers or numeric strings, and a field that does not
// parse is left at its zero value without discarding the rest.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil {
		log.Debug().Err(err).Msg("quote request body unreadable")
	}
	opts, a := parseQuoteRequest(body)
	q := quote.Calculate(opts, a)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "quote": q})
}

func parseQuoteRequest(body []byte) (quote.Options, coverage.Analysis) {
	root := object(body)
	options := object(object(root["order"])["options"])
	fields := object(root["analysis"])

	opts := quote.Options{
		Color:    text(options["color"]),
		Delivery: text(options["delivery"]),
	}
	var a coverage.Analysis
	if v, ok := number(fields["pages"]); ok && v >= 1 && v <= math.MaxInt32 {
		a.Pages = int(v)
	}
	if v, ok := number(fields["coverage_pct"]); ok {
		a.CoveragePct = v
	}
	if pm := object(fields["page_mm"]); pm != nil {
		wMM, _ := number(pm["w"])
		hMM, _ := number(pm["h"])
		a.PageMM = &coverage.PageSize{W: wMM, H: hMM}
	}
	return opts, a
}

// object returns nil unless raw is a JSON object.
func object(raw []byte) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}

func text(raw json.RawMessage) string {
	var v string
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v
}

// number accepts a finite JSON number or a string holding one.
func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v float64
	if json.Unmarshal(raw, &v) != nil {
		var str string
		if json.Unmarshal(raw, &str) != nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return 0, false
		}
		v = f
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, name, ok := readUpload(w, r)
	if !ok {
		return
	}
	orderID := r.FormValue("orderId")
	if orderID == "" {
		orderID = defaultOrderID
	}
	a, err := s.analyzer.Analyze(data, name)
	if err != nil {
		writeAnalysisError(w, "preview", err)
		return
	}
	pdf, err := s.preview.Render(data, orderID, *a)
	if err != nil {
		writeAnalysisError(w, "preview", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="preview.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// readUpload returns the multipart "file" field and its client filename. It
// writes the error response itself when the field is missing.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return nil, "", false
		}
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file")
		return nil, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read file")
		return nil, "", false
	}
	return data, hdr.Filename, true
}

func writeAnalysisError(w http.ResponseWriter, route string, err error) {
	switch {
	case filetype.IsUnsupported(err):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case imagerender.IsDecodeError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Error().Err(err).Str("route", route).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		metrics.IncHTTP(route, strconv.Itoa(rec.code))
	})
}

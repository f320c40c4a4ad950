// Package handler serves the analysis pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/sheetaudit/internal/analysis"
	"github.com/pavelanni/sheetaudit/internal/diff"
	"github.com/pavelanni/sheetaudit/internal/history"
	"github.com/pavelanni/sheetaudit/internal/llm"
	"github.com/pavelanni/sheetaudit/internal/metrics"
	"github.com/pavelanni/sheetaudit/internal/report"
)

// Reviewer gives second opinions on suspected answers.
type Reviewer interface {
	ReviewSuspects(ctx context.Context, rows []diff.Row) []llm.CellOpinion
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	analyzer  *analysis.Analyzer
	template  *analysis.Template
	history   history.Store
	reviewer  Reviewer
	metrics   *metrics.Recorder
	maxUpload int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithReviewer attaches second opinions to suspected answers.
func WithReviewer(r Reviewer) Option { return func(h *Handler) { h.reviewer = r } }

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Recorder) Option { return func(h *Handler) { h.metrics = m } }

// WithMaxUpload caps the size of an uploaded submission.
func WithMaxUpload(n int64) Option { return func(h *Handler) { h.maxUpload = n } }

// New creates a new Handler.
func New(a *analysis.Analyzer, tmpl *analysis.Template, hist history.Store, opts ...Option) (*Handler, error) {
	if a == nil || tmpl == nil || hist == nil {
		return nil, errors.New("handler needs an analyzer, a template and a history store")
	}
	h := &Handler{analyzer: a, template: tmpl, history: hist, maxUpload: 20 << 20}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	if h.metrics != nil {
		r.Use(h.observe)
		r.Handle("/metrics", h.metrics.Handler())
	}
	r.Get("/healthz", h.handleHealth)
	r.Post("/analyze", h.handleAnalyze)
	r.Get("/students", h.handleStudents)
	r.Get("/students/{id}/history", h.handleHistory)
	r.Get("/students/{id}/timeline", h.handleTimeline)
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveRequest(r.Method, route, status, time.Since(start))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	sub, err := analysis.ReadSubmission(hdr.Filename, file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	defer sub.Close()

	res, err := h.analyzer.Analyze(r.Context(), sub, h.template)
	switch {
	case errors.Is(err, analysis.ErrUnreadableDocument):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		slog.Error("analysis failed", "file", hdr.Filename, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rep := report.Build(res)
	if h.reviewer != nil {
		rep.AttachOpinions(h.reviewer.ReviewSuspects(r.Context(), res.Diff.Matrix))
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.WriteText(r.Context(), w, rep); err != nil {
			slog.Error("write report", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.history.Students(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

// loadHistory writes the error response itself and returns ok=false when
// nothing should be rendered.
func (h *Handler) loadHistory(w http.ResponseWriter, r *http.Request) (string, []history.Entry, bool) {
	id := chi.URLParam(r, "id")
	entries, err := h.history.Load(r.Context(), id)
	switch {
	case errors.Is(err, history.ErrInvalidStudent):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", nil, false
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", nil, false
	case len(entries) == 0:
		http.Error(w, "no submission for student "+id, http.StatusNotFound)
		return "", nil, false
	}
	return id, entries, true
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, entries, ok := h.loadHistory(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		StudentID string          `json:"student_id"`
		Entries   []history.Entry `json:"entries"`
	}{id, entries})
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, entries, ok := h.loadHistory(w, r)
	if !ok {
		return
	}
	tl := history.BuildTimeline(entries)
	cells := make([]report.CellHistory, 0, len(tl))
	addrs := tl.Addresses()
	if r.URL.Query().Get("changed") == "true" {
		addrs = tl.Changed()
	}
	for _, a := range addrs {
		cells = append(cells, report.CellHistory{Cell: a, Points: tl[a]})
	}
	writeJSON(w, http.StatusOK, struct {
		StudentID string               `json:"student_id"`
		Attempts  int                  `json:"attempts"`
		Cells     []report.CellHistory `json:"cells"`
	}{id, len(entries), cells})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

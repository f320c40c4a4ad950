// Package metrics exposes analysis and HTTP counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/sheetaudit/internal/analysis"
)

// Recorder implements analysis.Observer.
type Recorder struct {
	gatherer prometheus.Gatherer

	analyses        *prometheus.CounterVec
	verdicts        *prometheus.CounterVec
	signatureIssues *prometheus.CounterVec
	failures        prometheus.Counter
	persistFailures prometheus.Counter

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var _ analysis.Observer = (*Recorder)(nil)

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		gatherer: reg,
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sheetaudit_analyses_total",
			Help: "Submissions analyzed, by authenticity verdict.",
		}, []string{"authenticity"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sheetaudit_verdicts_total",
			Help: "Classified answer cells, by verdict class.",
		}, []string{"class"}),
		signatureIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sheetaudit_signature_issues_total",
			Help: "Signature verification issues, by code.",
		}, []string{"code"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sheetaudit_analysis_failures_total",
			Help: "Submissions that could not be analyzed.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sheetaudit_persist_failures_total",
			Help: "History or audit writes that failed.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sheetaudit_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sheetaudit_http_latency_seconds",
			Help:    "Latency distribution of HTTP requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(r.analyses, r.verdicts, r.signatureIssues, r.failures, r.persistFailures, r.requests, r.latency)
	return r
}

// ObserveResult counts a finished analysis.
func (r *Recorder) ObserveResult(res *analysis.Result) {
	r.analyses.WithLabelValues(string(res.Authenticity)).Inc()
	for _, row := range res.Diff.Matrix {
		r.verdicts.WithLabelValues(string(row.Verdict.Class)).Inc()
	}
	for _, is := range res.Verification.Issues {
		r.signatureIssues.WithLabelValues(string(is.Code)).Inc()
	}
	if n := len(res.PersistErrors); n > 0 {
		r.persistFailures.Add(float64(n))
	}
}

// ObserveFailure counts a submission that could not be analyzed.
func (r *Recorder) ObserveFailure(error) { r.failures.Inc() }

// ObserveRequest records one served HTTP request.
func (r *Recorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the scrape endpoint.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	otpIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "univote_otp_issued_total",
		Help: "Passcodes generated and persisted.",
	})

	ballotsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "univote_ballots_accepted_total",
		Help: "Ballots accepted and recorded.",
	})
)

var registerOnce sync.Once

// Init registers metrics in the default registry. Safe to call once at startup.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			otpIssuedTotal, ballotsAcceptedTotal)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountOTPIssued bumps the issued-passcode counter.
func CountOTPIssued() { otpIssuedTotal.Inc() }

// CountBallotAccepted bumps the accepted-ballot counter.
func CountBallotAccepted() { ballotsAcceptedTotal.Inc() }

// knownPaths are the service routes; everything else collapses to "/other"
// to keep label cardinality bounded.
var knownPaths = map[string]struct{}{
	"/":                {},
	"/healthz":         {},
	"/readyz":          {},
	"/metrics":         {},
	"/v1/info":         {},
	"/v1/otp/request":  {},
	"/v1/otp/verify":   {},
	"/v1/ballots":      {},
	"/v1/election":     {},
	"/v1/results":      {},
	"/v1/admin/login":  {},
	"/v1/admin/logout": {},
	"/v1/admin/voting": {},
}

// CanonicalPath maps a request path to its metric label.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "/other"
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

package collect

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chosenoffset/mal/pkg/mal/sample"
)

// DefaultBuckets are the latency bucket bounds, in milliseconds.
var DefaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, math.Inf(1)}

type requestKey struct {
	path string
	code int
}

type latency struct {
	sumMs   float64
	buckets []int64 // cumulative counts, one per bound
}

// HTTPMetrics is a middleware that counts requests per path and status
// code and records latency histograms per path.
type HTTPMetrics struct {
	pending int64

	mu        sync.Mutex
	requests  map[requestKey]int64
	latencies map[string]*latency
	bounds    []float64
	now       func() time.Time
}

// NewHTTPMetrics uses bounds as latency bucket bounds in milliseconds; nil
// selects DefaultBuckets. The last bound should be +Inf.
func NewHTTPMetrics(bounds []float64) *HTTPMetrics {
	if len(bounds) == 0 {
		bounds = DefaultBuckets
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &HTTPMetrics{
		requests:  make(map[requestKey]int64),
		latencies: make(map[string]*latency),
		bounds:    b,
		now:       time.Now,
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(data)
}

// Middleware wraps next and records every request it serves.
func (h *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := h.now()
		atomic.AddInt64(&h.pending, 1)
		defer atomic.AddInt64(&h.pending, -1)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		h.Observe(r.URL.Path, wrapped.statusCode, h.now().Sub(start))
	})
}

// Observe records one finished request.
func (h *HTTPMetrics) Observe(path string, code int, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.requests[requestKey{path: path, code: code}]++
	l, ok := h.latencies[path]
	if !ok {
		l = &latency{buckets: make([]int64, len(h.bounds))}
		h.latencies[path] = l
	}
	l.sumMs += ms
	for i, bound := range h.bounds {
		if ms <= bound {
			l.buckets[i]++
		}
	}
}

// Reset clears every counter.
func (h *HTTPMetrics) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = make(map[requestKey]int64)
	h.latencies = make(map[string]*latency)
	atomic.StoreInt64(&h.pending, 0)
}

// Collect renders the counters as families:
//
//	http_requests_total{path,code}
//	http_request_duration_ms_sum{path}
//	http_request_duration_ms_bucket{path,le}
//	http_requests_pending
func (h *HTTPMetrics) Collect() sample.Snapshot {
	ts := h.now().UnixMilli()

	h.mu.Lock()
	defer h.mu.Unlock()

	var totals, sums, buckets []sample.Sample
	for k, n := range h.requests {
		totals = append(totals, sample.Sample{
			Name:      "http_requests_total",
			Labels:    map[string]string{"path": k.path, "code": strconv.Itoa(k.code)},
			Value:     float64(n),
			Timestamp: ts,
		})
	}
	for path, l := range h.latencies {
		sums = append(sums, sample.Sample{
			Name:      "http_request_duration_ms_sum",
			Labels:    map[string]string{"path": path},
			Value:     l.sumMs,
			Timestamp: ts,
		})
		for i, bound := range h.bounds {
			buckets = append(buckets, sample.Sample{
				Name:      "http_request_duration_ms_bucket",
				Labels:    map[string]string{"path": path, "le": strconv.FormatFloat(bound, 'f', -1, 64)},
				Value:     float64(l.buckets[i]),
				Timestamp: ts,
			})
		}
	}

	return sample.Snapshot{
		"http_requests_total":             sample.New(totals...),
		"http_request_duration_ms_sum":    sample.New(sums...),
		"http_request_duration_ms_bucket": sample.New(buckets...),
		"http_requests_pending": sample.New(sample.Sample{
			Name:      "http_requests_pending",
			Labels:    map[string]string{},
			Value:     float64(atomic.LoadInt64(&h.pending)),
			Timestamp: ts,
		}),
	}
}

package collect

import (
	"runtime"
	"sync"
	"time"

	"github.com/chosenoffset/mal/pkg/mal/sample"
)

// RuntimeStats is one reading of the Go runtime.
type RuntimeStats struct {
	HeapAlloc    uint64    `json:"heap_alloc"`
	HeapSys      uint64    `json:"heap_sys"`
	HeapIdle     uint64    `json:"heap_idle"`
	HeapInuse    uint64    `json:"heap_inuse"`
	HeapObjects  uint64    `json:"heap_objects"`
	StackInuse   uint64    `json:"stack_inuse"`
	Sys          uint64    `json:"sys"`
	NumGC        uint32    `json:"num_gc"`
	PauseTotalNs uint64    `json:"pause_total_ns"`
	GCCPUFrac    float64   `json:"gc_cpu_fraction"`
	NumGoroutine int       `json:"num_goroutine"`
	NumCgoCall   int64     `json:"num_cgo_call"`
	Timestamp    time.Time `json:"timestamp"`
}

// RuntimeCollector samples runtime statistics on a ticker and exposes the
// latest reading as sample families.
type RuntimeCollector struct {
	mu              sync.RWMutex
	current         RuntimeStats
	history         []RuntimeStats
	maxHistory      int
	collectInterval time.Duration
	stopCh          chan struct{}
	running         bool
	labels          map[string]string
}

// NewRuntimeCollector keeps up to maxHistory readings. Labels are attached
// to every sample it produces, e.g. {"instance": "api-1"}.
func NewRuntimeCollector(maxHistory int, collectInterval time.Duration, labels map[string]string) *RuntimeCollector {
	if maxHistory <= 0 {
		maxHistory = 1
	}
	if labels == nil {
		labels = map[string]string{}
	}
	return &RuntimeCollector{
		history:         make([]RuntimeStats, 0, maxHistory),
		maxHistory:      maxHistory,
		collectInterval: collectInterval,
		stopCh:          make(chan struct{}),
		labels:          labels,
	}
}

func (rc *RuntimeCollector) Start() {
	rc.mu.Lock()
	if rc.running {
		rc.mu.Unlock()
		return
	}
	rc.running = true
	stop := rc.stopCh
	rc.mu.Unlock()

	rc.sample()
	go rc.collectLoop(stop)
}

func (rc *RuntimeCollector) Stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.running {
		return
	}
	rc.running = false
	close(rc.stopCh)
	rc.stopCh = make(chan struct{})
}

func (rc *RuntimeCollector) collectLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(rc.collectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.sample()
		case <-stop:
			return
		}
	}
}

func (rc *RuntimeCollector) sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := RuntimeStats{
		HeapAlloc:    m.HeapAlloc,
		HeapSys:      m.HeapSys,
		HeapIdle:     m.HeapIdle,
		HeapInuse:    m.HeapInuse,
		HeapObjects:  m.HeapObjects,
		StackInuse:   m.StackInuse,
		Sys:          m.Sys,
		NumGC:        m.NumGC,
		PauseTotalNs: m.PauseTotalNs,
		GCCPUFrac:    m.GCCPUFraction,
		NumGoroutine: runtime.NumGoroutine(),
		NumCgoCall:   runtime.NumCgoCall(),
		Timestamp:    time.Now(),
	}

	rc.mu.Lock()
	rc.current = stats
	rc.history = append(rc.history, stats)
	if len(rc.history) > rc.maxHistory {
		copy(rc.history, rc.history[1:])
		rc.history = rc.history[:rc.maxHistory]
	}
	rc.mu.Unlock()
}

// Current returns the latest reading, taking one first if the collector
// has never sampled.
func (rc *RuntimeCollector) Current() RuntimeStats {
	rc.mu.RLock()
	cur := rc.current
	rc.mu.RUnlock()
	if cur.Timestamp.IsZero() {
		rc.sample()
		rc.mu.RLock()
		cur = rc.current
		rc.mu.RUnlock()
	}
	return cur
}

// History returns a copy of the retained readings, oldest first.
func (rc *RuntimeCollector) History() []RuntimeStats {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	history := make([]RuntimeStats, len(rc.history))
	copy(history, rc.history)
	return history
}

// Collect renders the latest reading as families:
//
//	go_heap_alloc_bytes, go_heap_sys_bytes, go_heap_objects,
//	go_stack_inuse_bytes, go_sys_bytes, go_gc_count,
//	go_gc_pause_total_ns, go_gc_cpu_fraction, go_goroutines,
//	go_cgo_calls, go_memory_bytes{area}
func (rc *RuntimeCollector) Collect() sample.Snapshot {
	s := rc.Current()
	ts := s.Timestamp.UnixMilli()

	one := func(name string, v float64) *sample.SampleFamily {
		return sample.New(sample.Sample{Name: name, Labels: rc.withLabels(nil), Value: v, Timestamp: ts})
	}
	area := func(name string, v uint64) sample.Sample {
		return sample.Sample{
			Name:      "go_memory_bytes",
			Labels:    rc.withLabels(map[string]string{"area": name}),
			Value:     float64(v),
			Timestamp: ts,
		}
	}

	return sample.Snapshot{
		"go_heap_alloc_bytes":  one("go_heap_alloc_bytes", float64(s.HeapAlloc)),
		"go_heap_sys_bytes":    one("go_heap_sys_bytes", float64(s.HeapSys)),
		"go_heap_objects":      one("go_heap_objects", float64(s.HeapObjects)),
		"go_stack_inuse_bytes": one("go_stack_inuse_bytes", float64(s.StackInuse)),
		"go_sys_bytes":         one("go_sys_bytes", float64(s.Sys)),
		"go_gc_count":          one("go_gc_count", float64(s.NumGC)),
		"go_gc_pause_total_ns": one("go_gc_pause_total_ns", float64(s.PauseTotalNs)),
		"go_gc_cpu_fraction":   one("go_gc_cpu_fraction", s.GCCPUFrac),
		"go_goroutines":        one("go_goroutines", float64(s.NumGoroutine)),
		"go_cgo_calls":         one("go_cgo_calls", float64(s.NumCgoCall)),
		"go_memory_bytes": sample.New(
			area("heap_alloc", s.HeapAlloc),
			area("heap_idle", s.HeapIdle),
			area("heap_inuse", s.HeapInuse),
			area("stack_inuse", s.StackInuse),
		),
	}
}

func (rc *RuntimeCollector) withLabels(extra map[string]string) map[string]string {
	out := make(map[string]string, len(rc.labels)+len(extra))
	for k, v := range rc.labels {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects counters for recommendation and cache operations.
type Metrics struct {
	mu sync.Mutex

	requestTotal  atomic.Int64
	requestFailed atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	coalesced     atomic.Int64
	fallbacks     atomic.Int64
	invalidations atomic.Int64

	methodMetrics map[string]*MethodMetrics
}

// MethodMetrics represents generation metrics for a specific method.
type MethodMetrics struct {
	generationCount atomic.Int64
	totalDuration   atomic.Int64 // milliseconds
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{methodMetrics: make(map[string]*MethodMetrics)}
}

var globalMetrics = NewMetrics()

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

// RecordRequest records a recommendation request.
func (m *Metrics) RecordRequest() {
	m.requestTotal.Add(1)
}

// RecordFailure records a request that returned an error.
func (m *Metrics) RecordFailure() {
	m.requestFailed.Add(1)
}

// RecordCacheHit records a request served from a fresh cached record.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a request that found no fresh cached record.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordCoalesced records a caller that joined an in-flight generation.
func (m *Metrics) RecordCoalesced() {
	m.coalesced.Add(1)
}

// RecordFallback records a remote failure answered by the local heuristic.
func (m *Metrics) RecordFallback() {
	m.fallbacks.Add(1)
}

// RecordInvalidation records an invalidation event observed by a subscriber.
func (m *Metrics) RecordInvalidation() {
	m.invalidations.Add(1)
}

// RecordGeneration records one generation by method and its duration.
func (m *Metrics) RecordGeneration(method string, duration time.Duration) {
	mm := m.getMethodMetrics(method)
	mm.generationCount.Add(1)
	mm.totalDuration.Add(duration.Milliseconds())
}

func (m *Metrics) getMethodMetrics(method string) *MethodMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	mm, ok := m.methodMetrics[method]
	if !ok {
		mm = &MethodMetrics{}
		m.methodMetrics[method] = mm
	}
	return mm
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.requestTotal.Store(0)
	m.requestFailed.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.coalesced.Store(0)
	m.fallbacks.Store(0)
	m.invalidations.Store(0)

	m.mu.Lock()
	m.methodMetrics = make(map[string]*MethodMetrics)
	m.mu.Unlock()
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	methods := make(map[string]*MethodMetricsSnapshot, len(m.methodMetrics))
	for method, mm := range m.methodMetrics {
		count := mm.generationCount.Load()
		total := mm.totalDuration.Load()
		snap := &MethodMetricsSnapshot{GenerationCount: count, TotalDuration: total}
		if count > 0 {
			snap.AverageDuration = total / count
		}
		methods[method] = snap
	}

	return &MetricsSnapshot{
		RequestTotal:  m.requestTotal.Load(),
		RequestFailed: m.requestFailed.Load(),
		CacheHits:     m.cacheHits.Load(),
		CacheMisses:   m.cacheMisses.Load(),
		Coalesced:     m.coalesced.Load(),
		Fallbacks:     m.fallbacks.Load(),
		Invalidations: m.invalidations.Load(),
		Methods:       methods,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RequestTotal  int64                             `json:"requestTotal"`
	RequestFailed int64                             `json:"requestFailed"`
	CacheHits     int64                             `json:"cacheHits"`
	CacheMisses   int64                             `json:"cacheMisses"`
	Coalesced     int64                             `json:"coalesced"`
	Fallbacks     int64                             `json:"fallbacks"`
	Invalidations int64                             `json:"invalidations"`
	Methods       map[string]*MethodMetricsSnapshot `json:"methods"`
}

// MethodMetricsSnapshot represents generation metrics for a specific method.
type MethodMetricsSnapshot struct {
	GenerationCount int64 `json:"generationCount"`
	TotalDuration   int64 `json:"totalDurationMs"`
	AverageDuration int64 `json:"averageDurationMs"`
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (s *MetricsSnapshot) HitRate() float64 {
	lookups := s.CacheHits + s.CacheMisses
	if lookups == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(lookups) * 100.0
}

// SuccessRate returns the success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.RequestTotal == 0 {
		return 100.0
	}
	return float64(s.RequestTotal-s.RequestFailed) / float64(s.RequestTotal) * 100.0
}

// MethodNames returns the recorded generation methods in sorted order.
func (s *MetricsSnapshot) MethodNames() []string {
	names := make([]string, 0, len(s.Methods))
	for name := range s.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package history

import (
	"runtime"
	"strings"
	"sync"
	"time"
)

// AppMetrics records request and operation outcomes for the HTTP app.
type AppMetrics interface {
	RecordRequest(method, path string, status int, latencyMS int64)
	RecordList(assetRef string, latencyMS int64, itemCount int, err error)
	RecordDiff(assetRef string, latencyMS int64, entryCount int, err error)
	RecordMutation(assetRef, op string, latencyMS int64, err error)
	Snapshot() MetricsSnapshot
}

type RouteStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMinMS int64 `json:"latency_min_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
}

type ListStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
	TotalItems   int64 `json:"total_items"`
}

type DiffStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
	TotalEntries int64 `json:"total_entries"`
}

type MutationStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
}

type RecentRequest struct {
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

type RuntimeStats struct {
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	Goroutines     int    `json:"goroutines"`
	NumGC          uint32 `json:"num_gc"`
}

type MetricsSnapshot struct {
	RouteStats     map[string]RouteStats    `json:"route_stats"`
	ListStats      map[string]ListStats     `json:"list_stats"`
	DiffStats      map[string]DiffStats     `json:"diff_stats"`
	MutationStats  map[string]MutationStats `json:"mutation_stats"`
	RecentRequests []RecentRequest          `json:"recent_requests"`
	Runtime        RuntimeStats             `json:"runtime"`
	UptimeSeconds  int64                    `json:"uptime_seconds"`
	StartTime      time.Time                `json:"start_time"`
}

// NoopAppMetrics is used when metrics are disabled.
type NoopAppMetrics struct{}

func (NoopAppMetrics) RecordRequest(method, path string, status int, latencyMS int64) {}

func (NoopAppMetrics) RecordList(assetRef string, latencyMS int64, itemCount int, err error) {}

func (NoopAppMetrics) RecordDiff(assetRef string, latencyMS int64, entryCount int, err error) {}

func (NoopAppMetrics) RecordMutation(assetRef, op string, latencyMS int64, err error) {}

func (NoopAppMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{}
}

const appMetricsRecentCapacity = 200

// InMemAppMetrics records metrics into local maps and a ring buffer of
// recent requests.
type InMemAppMetrics struct {
	mu sync.Mutex

	routeStats    map[string]RouteStats
	listStats     map[string]ListStats
	diffStats     map[string]DiffStats
	mutationStats map[string]MutationStats

	recent      []RecentRequest
	recentNext  int
	recentCount int

	startTime time.Time
}

func NewInMemAppMetrics() *InMemAppMetrics {
	return &InMemAppMetrics{
		routeStats:    make(map[string]RouteStats),
		listStats:     make(map[string]ListStats),
		diffStats:     make(map[string]DiffStats),
		mutationStats: make(map[string]MutationStats),
		recent:        make([]RecentRequest, appMetricsRecentCapacity),
		startTime:     time.Now().UTC(),
	}
}

func (m *InMemAppMetrics) RecordRequest(method, path string, status int, latencyMS int64) {
	if m == nil {
		return
	}

	method = strings.TrimSpace(strings.ToUpper(method))
	path = strings.TrimSpace(path)
	if method == "" {
		method = "UNKNOWN"
	}
	if path == "" {
		path = "/"
	}
	key := method + " " + path

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.routeStats[key]
	stats.Count++
	if status >= 400 {
		stats.ErrorCount++
	}
	stats.LatencySumMS += latencyMS
	if stats.Count == 1 || latencyMS < stats.LatencyMinMS {
		stats.LatencyMinMS = latencyMS
	}
	if latencyMS > stats.LatencyMaxMS {
		stats.LatencyMaxMS = latencyMS
	}
	m.routeStats[key] = stats

	m.recent[m.recentNext] = RecentRequest{
		Method:    method,
		Path:      path,
		Status:    status,
		LatencyMS: latencyMS,
		Timestamp: time.Now().UTC(),
	}
	m.recentNext = (m.recentNext + 1) % appMetricsRecentCapacity
	if m.recentCount < appMetricsRecentCapacity {
		m.recentCount++
	}
}

func (m *InMemAppMetrics) RecordList(assetRef string, latencyMS int64, itemCount int, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.listStats[assetRef]
	stats.Count++
	if err != nil {
		stats.ErrorCount++
	}
	stats.LatencySumMS += latencyMS
	if latencyMS > stats.LatencyMaxMS {
		stats.LatencyMaxMS = latencyMS
	}
	stats.TotalItems += int64(itemCount)
	m.listStats[assetRef] = stats
}

func (m *InMemAppMetrics) RecordDiff(assetRef string, latencyMS int64, entryCount int, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.diffStats[assetRef]
	stats.Count++
	if err != nil {
		stats.ErrorCount++
	}
	stats.LatencySumMS += latencyMS
	if latencyMS > stats.LatencyMaxMS {
		stats.LatencyMaxMS = latencyMS
	}
	stats.TotalEntries += int64(entryCount)
	m.diffStats[assetRef] = stats
}

func (m *InMemAppMetrics) RecordMutation(assetRef, op string, latencyMS int64, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := op + " " + assetRef
	stats := m.mutationStats[key]
	stats.Count++
	if err != nil {
		stats.ErrorCount++
	}
	stats.LatencySumMS += latencyMS
	if latencyMS > stats.LatencyMaxMS {
		stats.LatencyMaxMS = latencyMS
	}
	m.mutationStats[key] = stats
}

func (m *InMemAppMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		RouteStats:    make(map[string]RouteStats, len(m.routeStats)),
		ListStats:     make(map[string]ListStats, len(m.listStats)),
		DiffStats:     make(map[string]DiffStats, len(m.diffStats)),
		MutationStats: make(map[string]MutationStats, len(m.mutationStats)),
		StartTime:     m.startTime,
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
	}
	for k, v := range m.routeStats {
		snap.RouteStats[k] = v
	}
	for k, v := range m.listStats {
		snap.ListStats[k] = v
	}
	for k, v := range m.diffStats {
		snap.DiffStats[k] = v
	}
	for k, v := range m.mutationStats {
		snap.MutationStats[k] = v
	}

	snap.RecentRequests = make([]RecentRequest, 0, m.recentCount)
	start := m.recentNext - m.recentCount
	for i := 0; i < m.recentCount; i++ {
		idx := (start + i + appMetricsRecentCapacity) % appMetricsRecentCapacity
		snap.RecentRequests = append(snap.RecentRequests, m.recent[idx])
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snap.Runtime = RuntimeStats{
		HeapAllocBytes: mem.HeapAlloc,
		Goroutines:     runtime.NumGoroutine(),
		NumGC:          mem.NumGC,
	}
	return snap
}

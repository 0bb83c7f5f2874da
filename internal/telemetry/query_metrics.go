// Package telemetry keeps in-process query statistics for the MCP server.
// Nothing leaves the process; index_status reports a snapshot.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/hybridrag/internal/store"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one answered (or failed) search call.
type QueryEvent struct {
	Mode        string
	Query       string
	ResultCount int
	Latency     time.Duration
	Failed      bool
}

// RingBuffer is a fixed-capacity FIFO that overwrites its oldest item.
// It is not safe for concurrent use; QueryMetrics guards it.
type RingBuffer[T any] struct {
	items []T
	head  int
	size  int
}

// NewRingBuffer creates a buffer holding at most capacity items.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (b *RingBuffer[T]) Add(item T) {
	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *RingBuffer[T]) Items() []T {
	out := make([]T, 0, b.size)
	start := (b.head - b.size + len(b.items)) % len(b.items)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

// Len returns the number of buffered items.
func (b *RingBuffer[T]) Len() int { return b.size }

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Since           time.Time               `json:"since"`
	TotalQueries    int64                   `json:"total_queries"`
	FailedQueries   int64                   `json:"failed_queries"`
	ModeCounts      map[string]int64        `json:"mode_counts"`
	Latency         map[LatencyBucket]int64 `json:"latency"`
	ZeroResultCount int64                   `json:"zero_result_count"`
	ZeroResults     []string                `json:"zero_result_queries"`
	TopTerms        []TermCount             `json:"top_terms"`
	RepeatCount     int64                   `json:"repeat_count"`
}

// ZeroResultRate is the fraction of successful queries with no results.
func (s Snapshot) ZeroResultRate() float64 {
	ok := s.TotalQueries - s.FailedQueries
	if ok <= 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(ok)
}

// Config sizes the bounded collections.
type Config struct {
	TopTerms      int
	ZeroResults   int
	RecentQueries int
}

// DefaultConfig returns the sizes used by the server.
func DefaultConfig() Config {
	return Config{TopTerms: 100, ZeroResults: 50, RecentQueries: 500}
}

// QueryMetrics aggregates query events. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	since      time.Time
	total      int64
	failed     int64
	modes      map[string]int64
	latency    map[LatencyBucket]int64
	zeroCount  int64
	zero       *RingBuffer[string]
	terms      *lru.Cache[string, int64]
	recent     *lru.Cache[string, struct{}]
	repeats    int64
}

// NewQueryMetrics creates a collector. Zero sizes take the defaults.
func NewQueryMetrics(cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTerms <= 0 {
		cfg.TopTerms = def.TopTerms
	}
	if cfg.ZeroResults <= 0 {
		cfg.ZeroResults = def.ZeroResults
	}
	if cfg.RecentQueries <= 0 {
		cfg.RecentQueries = def.RecentQueries
	}

	// lru.New only fails for non-positive sizes.
	terms, _ := lru.New[string, int64](cfg.TopTerms)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueries)

	return &QueryMetrics{
		since:      time.Now(),
		modes:      make(map[string]int64),
		latency:    make(map[LatencyBucket]int64),
		zero:       NewRingBuffer[string](cfg.ZeroResults),
		terms:      terms,
		recent:     recent,
	}
}

// Record adds one event.
func (m *QueryMetrics) Record(e QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.modes[e.Mode]++
	m.latency[LatencyToBucket(e.Latency)]++
	if e.Failed {
		m.failed++
		return
	}

	if e.ResultCount == 0 {
		m.zeroCount++
		m.zero.Add(e.Query)
	}

	// Terms use the index tokenizer so they line up with BM25 vocabulary.
	for _, term := range store.Tokenize(e.Query) {
		count, _ := m.terms.Get(term)
		m.terms.Add(term, count+1)
	}

	key := queryKey(e.Mode, e.Query)
	if _, seen := m.recent.Get(key); seen {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})
}

func queryKey(mode, query string) string {
	sum := sha256.Sum256([]byte(mode + "\x00" + strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns a copy of the current metrics. Top terms are ordered by
// count, then term.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Since:           m.since,
		TotalQueries:    m.total,
		FailedQueries:   m.failed,
		ModeCounts:      make(map[string]int64, len(m.modes)),
		Latency:         make(map[LatencyBucket]int64, len(m.latency)),
		ZeroResultCount: m.zeroCount,
		ZeroResults:     m.zero.Items(),
		RepeatCount:     m.repeats,
	}
	for k, v := range m.modes {
		s.ModeCounts[k] = v
	}
	for k, v := range m.latency {
		s.Latency[k] = v
	}

	for _, term := range m.terms.Keys() {
		if count, ok := m.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: count})
		}
	}
	sort.Slice(s.TopTerms, func(i, j int) bool {
		if s.TopTerms[i].Count != s.TopTerms[j].Count {
			return s.TopTerms[i].Count > s.TopTerms[j].Count
		}
		return s.TopTerms[i].Term < s.TopTerms[j].Term
	})
	return s
}

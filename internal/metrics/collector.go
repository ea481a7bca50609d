// Package metrics provides in-memory statistics about chat exchanges.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for exchanges that report usage)
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// nil if no tokens were reported
	TotalInputTokens  *int64
	TotalOutputTokens *int64
}

// Snapshot is the collector state at a point in time.
type Snapshot struct {
	UptimeSeconds  float64
	Exchange       *OperationSnapshot
	ToolCall       *OperationSnapshot
	Chunks         int64
	Anomalies      int64
	StreamFailures int64
	Cancelled      int64
}

// Operation names for the collector.
const (
	OpExchange = "exchange"
	OpToolCall = "tool_call"
)

// Collector aggregates exchange statistics. All methods are thread-safe and
// a nil *Collector ignores every call.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics

	chunks         int64
	anomalies      int64
	streamFailures int64
	cancelled      int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordTiming(c.getOrCreate(op), duration)
}

// RecordExchange records a finished exchange with its token usage.
func (c *Collector) RecordExchange(duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(OpExchange)
	c.recordTiming(m, duration)
	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
}

func (c *Collector) recordTiming(m *OperationMetrics, duration time.Duration) {
	m.Count++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// IncChunks counts one applied stream event.
func (c *Collector) IncChunks() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunks++
	c.mu.Unlock()
}

// IncAnomalies counts one dropped tool protocol event.
func (c *Collector) IncAnomalies() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.anomalies++
	c.mu.Unlock()
}

// IncStreamFailures counts one exchange that ended in an error.
func (c *Collector) IncStreamFailures() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamFailures++
	c.mu.Unlock()
}

// IncCancelled counts one exchange superseded by a rebind or removal.
func (c *Collector) IncCancelled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cancelled++
	c.mu.Unlock()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if m.TotalInputTokens > 0 || m.TotalOutputTokens > 0 {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:  time.Since(c.startTime).Seconds(),
		Exchange:       snapshotOp(c.ops[OpExchange]),
		ToolCall:       snapshotOp(c.ops[OpToolCall]),
		Chunks:         c.chunks,
		Anomalies:      c.anomalies,
		StreamFailures: c.streamFailures,
		Cancelled:      c.cancelled,
	}
}

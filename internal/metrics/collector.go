// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the full runtime statistics at a point in time.
type Snapshot struct {
	UptimeSeconds    float64            `json:"uptime_seconds"`
	AttachmentUpload *OperationSnapshot `json:"attachment_upload,omitempty"`
	RowAppend        *OperationSnapshot `json:"row_append,omitempty"`
	QueueDrain       *OperationSnapshot `json:"queue_drain,omitempty"`
	SessionSave      *OperationSnapshot `json:"session_save,omitempty"`
	RemoteFetch      *OperationSnapshot `json:"remote_fetch,omitempty"`
}

// Operation names for the collector.
const (
	OpAttachmentUpload = "attachment_upload"
	OpRowAppend        = "row_append"
	OpQueueDrain       = "queue_drain"
	OpSessionSave      = "session_save"
	OpRemoteFetch      = "remote_fetch"
)

// Recorder is the write side of Collector, accepted by components that time their I/O.
type Recorder interface {
	RecordTiming(op string, duration time.Duration)
	RecordError(op string)
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

var _ Recorder = (*Collector)(nil)

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
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordError counts a failed operation.
func (c *Collector) RecordError(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(op).Errors++
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || (m.Count == 0 && m.Errors == 0) {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
	}
	if m.Count > 0 {
		snap.AvgTimeMs = float64(m.TotalTime.Milliseconds()) / float64(m.Count)
		snap.MinTimeMs = m.MinTime.Milliseconds()
		snap.MaxTimeMs = m.MaxTime.Milliseconds()
	}
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:    time.Since(c.startTime).Seconds(),
		AttachmentUpload: snapshotOp(c.ops[OpAttachmentUpload]),
		RowAppend:        snapshotOp(c.ops[OpRowAppend]),
		QueueDrain:       snapshotOp(c.ops[OpQueueDrain]),
		SessionSave:      snapshotOp(c.ops[OpSessionSave]),
		RemoteFetch:      snapshotOp(c.ops[OpRemoteFetch]),
	}
}

// Nop discards everything. It is the default for components built without a collector.
type Nop struct{}

func (Nop) RecordTiming(string, time.Duration) {}
func (Nop) RecordError(string)                 {}

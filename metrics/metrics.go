// Package metrics provides hooks for counting conflict and replay activity.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector receives conflict, resolution and replay events.
type Collector interface {
	// RecordConflict counts a newly recorded conflict of recordType.
	RecordConflict(recordType string)

	// RecordResolution records a resolution attempt. outcome is one of
	// "resolved", "manual", "already_resolved" or "error".
	RecordResolution(recordType, outcome string, duration time.Duration)

	// RecordReplication counts a push of a resolved or queued record.
	RecordReplication(success bool)

	// RecordReplay records the result of one replay pass.
	RecordReplay(completed, retried, failed int)

	// RecordError counts an error by operation and code.
	RecordError(operation, code string)
}

// NoOp is a Collector that does nothing.
type NoOp struct{}

func (NoOp) RecordConflict(string)                          {}
func (NoOp) RecordResolution(string, string, time.Duration) {}
func (NoOp) RecordReplication(bool)                         {}
func (NoOp) RecordReplay(int, int, int)                     {}
func (NoOp) RecordError(string, string)                     {}

// OrNoOp returns c, or NoOp when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NoOp{}
	}
	return c
}

// Memory is an in-process Collector with atomic counters. It serves a JSON
// snapshot over HTTP.
type Memory struct {
	conflictsTotal atomic.Int64
	replicatedOK   atomic.Int64
	replicatedErr  atomic.Int64
	replayDone     atomic.Int64
	replayRetried  atomic.Int64
	replayFailed   atomic.Int64
	resolveNanos   atomic.Int64
	lastReplay     atomic.Value // time.Time

	mu          sync.Mutex
	conflicts   map[string]int64
	resolutions map[string]int64
	errors      map[string]int64
}

var _ Collector = (*Memory)(nil)

// NewMemory returns an empty Memory collector.
func NewMemory() *Memory {
	return &Memory{
		conflicts:   make(map[string]int64),
		resolutions: make(map[string]int64),
		errors:      make(map[string]int64),
	}
}

func (m *Memory) RecordConflict(recordType string) {
	m.conflictsTotal.Add(1)
	m.mu.Lock()
	m.conflicts[recordType]++
	m.mu.Unlock()
}

func (m *Memory) RecordResolution(recordType, outcome string, duration time.Duration) {
	m.resolveNanos.Add(int64(duration))
	m.mu.Lock()
	m.resolutions[recordType+"/"+outcome]++
	m.mu.Unlock()
}

func (m *Memory) RecordReplication(success bool) {
	if success {
		m.replicatedOK.Add(1)
		return
	}
	m.replicatedErr.Add(1)
}

func (m *Memory) RecordReplay(completed, retried, failed int) {
	m.replayDone.Add(int64(completed))
	m.replayRetried.Add(int64(retried))
	m.replayFailed.Add(int64(failed))
	m.lastReplay.Store(time.Now())
}

func (m *Memory) RecordError(operation, code string) {
	m.mu.Lock()
	m.errors[operation+"/"+code]++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of the Memory counters.
type Snapshot struct {
	Conflicts         int64            `json:"conflicts"`
	ConflictsByType   map[string]int64 `json:"conflicts_by_type"`
	Resolutions       map[string]int64 `json:"resolutions"`
	ResolveTimeMs     int64            `json:"resolve_time_ms"`
	Replicated        int64            `json:"replicated"`
	ReplicationErrors int64            `json:"replication_errors"`
	ReplayCompleted   int64            `json:"replay_completed"`
	ReplayRetried     int64            `json:"replay_retried"`
	ReplayFailed      int64            `json:"replay_failed"`
	Errors            map[string]int64 `json:"errors"`
	LastReplay        string           `json:"last_replay,omitempty"`
}

// Snapshot copies the current counters.
func (m *Memory) Snapshot() Snapshot {
	s := Snapshot{
		Conflicts:         m.conflictsTotal.Load(),
		ResolveTimeMs:     time.Duration(m.resolveNanos.Load()).Milliseconds(),
		Replicated:        m.replicatedOK.Load(),
		ReplicationErrors: m.replicatedErr.Load(),
		ReplayCompleted:   m.replayDone.Load(),
		ReplayRetried:     m.replayRetried.Load(),
		ReplayFailed:      m.replayFailed.Load(),
	}
	if last, ok := m.lastReplay.Load().(time.Time); ok {
		s.LastReplay = last.Format(time.RFC3339)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s.ConflictsByType = copyCounts(m.conflicts)
	s.Resolutions = copyCounts(m.resolutions)
	s.Errors = copyCounts(m.errors)
	return s
}

// ServeHTTP writes the snapshot as JSON.
func (m *Memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := json.Marshal(m.Snapshot())
	if err != nil {
		http.Error(w, "failed to encode metrics: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package cli

import (
	"encoding/json"
	"time"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/strategy"
)

// ConflictView is the JSON form of a conflict.
type ConflictView struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	RecordID      string          `json:"record_id"`
	Status        string          `json:"status"`
	Resolution    string          `json:"resolution,omitempty"`
	ChangedFields []string        `json:"changed_fields,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	NeedsReview   bool            `json:"needs_review,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Local         json.RawMessage `json:"local,omitempty"`
	Remote        json.RawMessage `json:"remote,omitempty"`
	Merged        json.RawMessage `json:"merged,omitempty"`
}

func newConflictView(c *ledger.Conflict, withPayloads bool) ConflictView {
	v := ConflictView{
		ID:            c.ID,
		Type:          string(c.Type),
		RecordID:      c.RecordID,
		Status:        string(c.Status),
		Resolution:    string(c.Resolution),
		ChangedFields: c.ChangedFields,
		LastError:     c.LastError,
		NeedsReview:   c.NeedsReview,
		Timestamp:     c.Timestamp,
		UpdatedAt:     c.UpdatedAt,
	}
	if withPayloads {
		v.Local = rawPayload(c.Local)
		v.Remote = rawPayload(c.Remote)
		v.Merged = rawPayload(c.Merged)
	}
	return v
}

// SyncEntryView is the JSON form of a sync log entry.
type SyncEntryView struct {
	ID            string    `json:"id"`
	Operation     string    `json:"operation"`
	Type          string    `json:"type"`
	RecordID      string    `json:"record_id"`
	ConflictID    string    `json:"conflict_id,omitempty"`
	Status        string    `json:"status"`
	RetryCount    int       `json:"retry_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func newSyncEntryView(e *ledger.SyncLogEntry) SyncEntryView {
	return SyncEntryView{
		ID:            e.ID,
		Operation:     string(e.Operation),
		Type:          string(e.Type),
		RecordID:      e.RecordID,
		ConflictID:    e.ConflictID,
		Status:        string(e.Status),
		RetryCount:    e.RetryCount,
		NextAttemptAt: e.NextAttemptAt,
		Error:         e.Error,
		Timestamp:     e.Timestamp,
	}
}

// StrategyView is the JSON form of a strategy binding.
type StrategyView struct {
	Type      string    `json:"type"`
	Strategy  string    `json:"strategy"`
	Resolver  string    `json:"resolver,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func newStrategyView(t record.Type, b strategy.Binding) StrategyView {
	return StrategyView{
		Type:      string(t),
		Strategy:  string(b.Kind),
		Resolver:  b.Resolver,
		UpdatedAt: b.UpdatedAt,
	}
}

func rawPayload(p record.Payload) json.RawMessage {
	if record.IsAbsent(p) {
		return nil
	}
	data, err := record.Encode(p)
	if err != nil {
		return nil
	}
	return data
}

// Package remote defines the write API of the remote record repository and
// simple implementations for tests and offline operation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// Repository is the remote record store that resolved versions and queued
// operations are pushed to.
type Repository interface {
	PutRecord(ctx context.Context, collection record.Type, recordID string, payload record.Payload) error
	DeleteRecord(ctx context.Context, collection record.Type, recordID string) error
}

// ErrOffline is returned by Offline for every call.
var ErrOffline = errors.New("remote repository is offline")

// Offline is a Repository that always fails with a retryable ErrOffline.
type Offline struct{}

var _ Repository = Offline{}

func (Offline) PutRecord(context.Context, record.Type, string, record.Payload) error {
	return syncErrors.NewNetworkError(syncErrors.OpReplicate, ErrOffline)
}

func (Offline) DeleteRecord(context.Context, record.Type, string) error {
	return syncErrors.NewNetworkError(syncErrors.OpReplicate, ErrOffline)
}

// Call is one recorded Memory operation.
type Call struct {
	Op         string
	Collection record.Type
	RecordID   string
}

// Memory is an in-process Repository. FailNext and SetOffline let tests
// script remote failures.
type Memory struct {
	mu      sync.Mutex
	records map[string]record.Payload
	calls   []Call
	offline bool
	fail    []error
}

var _ Repository = (*Memory)(nil)

// NewMemory returns an empty, online Memory repository.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]record.Payload)}
}

func key(collection record.Type, recordID string) string {
	return string(collection) + "/" + recordID
}

// SetOffline toggles whether every call fails with ErrOffline.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// FailNext queues errors returned by the next calls, one per call.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	m.fail = append(m.fail, errs...)
	m.mu.Unlock()
}

func (m *Memory) beforeCall(op string, collection record.Type, recordID string) error {
	m.calls = append(m.calls, Call{Op: op, Collection: collection, RecordID: recordID})
	if m.offline {
		return syncErrors.NewNetworkError(syncErrors.OpReplicate, ErrOffline)
	}
	if len(m.fail) > 0 {
		err := m.fail[0]
		m.fail = m.fail[1:]
		return err
	}
	return nil
}

func (m *Memory) PutRecord(ctx context.Context, collection record.Type, recordID string, payload record.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Check(collection, payload); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpReplicate, err)
	}
	if record.IsAbsent(payload) {
		return syncErrors.NewValidationError(syncErrors.OpReplicate, fmt.Errorf("put %s/%s: payload is required", collection, recordID))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeCall("put", collection, recordID); err != nil {
		return err
	}
	m.records[key(collection, recordID)] = record.Clone(payload)
	return nil
}

func (m *Memory) DeleteRecord(ctx context.Context, collection record.Type, recordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeCall("delete", collection, recordID); err != nil {
		return err
	}
	delete(m.records, key(collection, recordID))
	return nil
}

// Get returns a copy of the stored record.
func (m *Memory) Get(collection record.Type, recordID string) (record.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[key(collection, recordID)]
	return record.Clone(p), ok
}

// Calls returns every operation attempted so far, including failed ones.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Package store persists run snapshots so a restarted scheduler can rebuild
// job histories.
package store

import (
	"context"
	"embed"
	"sync"

	"jobsched/internal/job"
)

//go:embed migrations
var migrations embed.FS

// Store keeps the latest snapshot of every run, grouped by job.
type Store interface {
	// Save upserts the snapshot by run id. A new run is appended after all
	// runs of the job saved so far.
	Save(ctx context.Context, jobName string, snap job.Snapshot) error
	// Load returns the job's snapshots in the order runs were first saved.
	Load(ctx context.Context, jobName string) ([]job.Snapshot, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Memory is a Store that lives as long as the process.
type Memory struct {
	mu   sync.RWMutex
	runs map[string][]job.Snapshot
	pos  map[string]map[string]int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string][]job.Snapshot),
		pos:  make(map[string]map[string]int),
	}
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, jobName string, snap job.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.pos[jobName]
	if !ok {
		idx = make(map[string]int)
		m.pos[jobName] = idx
	}
	if i, ok := idx[snap.ID]; ok {
		m.runs[jobName][i] = snap
		return nil
	}
	idx[snap.ID] = len(m.runs[jobName])
	m.runs[jobName] = append(m.runs[jobName], snap)
	return nil
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, jobName string) ([]job.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]job.Snapshot(nil), m.runs[jobName]...), nil
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }

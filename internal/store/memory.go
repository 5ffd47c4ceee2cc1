// Package store implements the pipeline's persistence collaborator
// (pkg/pipeline.Store) against two backends: an in-process Memory store for
// local_cli/dev runs and a Postgres-backed store for production, both
// sharing the same content-addressed BlobStore for bundle storage.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tarsy-labs/forge/pkg/artifact"
)

// Memory is a map-backed Store, safe for concurrent use. It never persists
// anything across process restarts; it exists for local_cli mode and tests.
type Memory struct {
	mu    sync.RWMutex
	runs  map[string]*artifact.RunRecord
	blobs *BlobStore
}

// NewMemory builds a Memory store, using blobRoot for bundle storage.
func NewMemory(blobRoot string) (*Memory, error) {
	blobs, err := NewBlobStore(blobRoot)
	if err != nil {
		return nil, err
	}
	return &Memory{runs: make(map[string]*artifact.RunRecord), blobs: blobs}, nil
}

// CreateRun implements pipeline.Store.
func (m *Memory) CreateRun(ctx context.Context, run artifact.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.RunID]; exists {
		return fmt.Errorf("memory store: run %q already exists", run.RunID)
	}
	cp := run
	m.runs[run.RunID] = &cp
	return nil
}

// UpdateRunStatus implements pipeline.Store.
func (m *Memory) UpdateRunStatus(ctx context.Context, runID string, status artifact.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("memory store: unknown run %q", runID)
	}
	run.Status = status
	return nil
}

// CreateArtifactRecord implements pipeline.Store.
func (m *Memory) CreateArtifactRecord(ctx context.Context, runID string, record artifact.ArtifactRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("memory store: unknown run %q", runID)
	}
	run.Artifacts = append(run.Artifacts, record)
	return nil
}

// StoreCodeBundle implements pipeline.Store.
func (m *Memory) StoreCodeBundle(ctx context.Context, runID string, stage artifact.StageTag, code artifact.GeneratedCode) (string, error) {
	return m.blobs.Put(code)
}

// LoadCodeBundle implements pipeline.Store.
func (m *Memory) LoadCodeBundle(ctx context.Context, handle string) (artifact.GeneratedCode, error) {
	return m.blobs.Get(handle)
}

// Run returns a copy of the current state of runID, for tests. The bool
// reports whether the run exists.
func (m *Memory) Run(runID string) (artifact.RunRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return artifact.RunRecord{}, false
	}
	return *run, true
}

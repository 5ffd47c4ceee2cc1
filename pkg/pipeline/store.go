package pipeline

import (
	"context"
	"time"

	"github.com/tarsy-labs/forge/pkg/artifact"
)

// Store is the persistence collaborator's contract. Concrete backends live
// under internal/store; the pipeline only ever calls through this
// interface.
type Store interface {
	CreateRun(ctx context.Context, run artifact.RunRecord) error
	UpdateRunStatus(ctx context.Context, runID string, status artifact.RunStatus) error
	CreateArtifactRecord(ctx context.Context, runID string, record artifact.ArtifactRecord) error
	StoreCodeBundle(ctx context.Context, runID string, stage artifact.StageTag, code artifact.GeneratedCode) (string, error)
	LoadCodeBundle(ctx context.Context, handle string) (artifact.GeneratedCode, error)
}

// persistArtifact records a stage artifact, offloading a GeneratedCode
// payload to the bundle store and persisting a BundleSummary in its place
// so a large generated bundle never bloats the artifact record itself.
func persistArtifact(ctx context.Context, store Store, runID string, stage artifact.StageTag, content any) error {
	if store == nil {
		return nil
	}
	if code, ok := content.(artifact.GeneratedCode); ok {
		handle, err := store.StoreCodeBundle(ctx, runID, stage, code)
		if err != nil {
			return err
		}
		content = artifact.BundleSummary{
			Handle:       handle,
			Paths:        code.SortedPaths(),
			FileCount:    len(code.Files),
			Dependencies: code.Dependencies,
		}
	}
	return store.CreateArtifactRecord(ctx, runID, artifact.ArtifactRecord{Stage: stage, Content: content, Timestamp: time.Now()})
}

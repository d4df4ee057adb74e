package artifacts

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	apperrors "ccsml/internal/errors"
)

// Store is the artifact namespace shared by training and prediction runs.
type Store interface {
	// Begin starts a new generation. Nothing saved through the batch is
	// visible to Open until Commit succeeds.
	Begin(ctx context.Context) (Batch, error)
	// Open returns a reader pinned to the current generation. It fails with
	// ARTIFACT_NOT_FOUND when no generation has been committed.
	Open(ctx context.Context) (Reader, error)
}

// Batch stages the artifacts of one training run.
type Batch interface {
	Save(ctx context.Context, key string, a Artifact) error
	Commit(ctx context.Context) (Manifest, error)
	Rollback(ctx context.Context) error
}

// Reader loads artifacts from one committed generation.
type Reader interface {
	Manifest() Manifest
	Load(ctx context.Context, key string) (Artifact, error)
}

// Manifest describes a committed generation.
type Manifest struct {
	Generation string                   `json:"generation"`
	CreatedAt  time.Time                `json:"created_at"`
	Entries    map[string]ManifestEntry `json:"entries"`
}

// ManifestEntry describes one artifact in a generation.
type ManifestEntry struct {
	Kind     Kind   `json:"kind"`
	File     string `json:"file,omitempty"`
	Checksum string `json:"checksum"`
	Size     int    `json:"size"`
}

// Has reports whether the generation holds key.
func (m Manifest) Has(key string) bool {
	_, ok := m.Entries[key]
	return ok
}

// Keys returns the artifact keys in sorted order.
func (m Manifest) Keys() []string {
	return slices.Sorted(maps.Keys(m.Entries))
}

// LoadAs loads key and asserts its concrete type.
func LoadAs[T Artifact](ctx context.Context, r Reader, key string) (T, error) {
	var zero T
	a, err := r.Load(ctx, key)
	if err != nil {
		return zero, err
	}
	typed, ok := a.(T)
	if !ok {
		return zero, apperrors.NewStorageError(fmt.Sprintf("load %q", key),
			fmt.Errorf("artifact has kind %q, not the requested type %T", a.Kind(), zero))
	}
	return typed, nil
}

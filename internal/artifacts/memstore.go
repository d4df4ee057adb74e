package artifacts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "ccsml/internal/errors"
)

// MemoryStore is an in-process Store. Artifacts still go through the codec so
// a loaded artifact never aliases the saved one.
type MemoryStore struct {
	mu          sync.RWMutex
	generations map[string]map[string]*Envelope
	manifests   map[string]Manifest
	current     string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		generations: make(map[string]map[string]*Envelope),
		manifests:   make(map[string]Manifest),
	}
}

// Begin starts a staged generation.
func (s *MemoryStore) Begin(ctx context.Context) (Batch, error) {
	return &memBatch{
		store:    s,
		gen:      uuid.NewString(),
		envelope: make(map[string]*Envelope),
	}, nil
}

// Open pins a reader to the current generation.
func (s *MemoryStore) Open(ctx context.Context) (Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == "" {
		return nil, apperrors.NewArtifactNotFoundError(currentFile).
			WithContext("reason", "no training run has been committed")
	}
	return &memReader{
		envelopes: s.generations[s.current],
		manifest:  s.manifests[s.current],
		cache:     make(map[string]Artifact),
	}, nil
}

type memBatch struct {
	store    *MemoryStore
	gen      string
	envelope map[string]*Envelope
	done     bool
}

func (b *memBatch) Save(ctx context.Context, key string, a Artifact) error {
	if b.done {
		return apperrors.NewStorageError("save "+key, fmt.Errorf("batch already finished"))
	}
	if err := validKey(key); err != nil {
		return err
	}
	env, err := Encode(key, a)
	if err != nil {
		return err
	}
	b.envelope[key] = env
	return nil
}

func (b *memBatch) Commit(ctx context.Context) (Manifest, error) {
	if b.done {
		return Manifest{}, apperrors.NewStorageError("commit", fmt.Errorf("batch already finished"))
	}
	b.done = true

	entries := make(map[string]ManifestEntry, len(b.envelope))
	for key, env := range b.envelope {
		entries[key] = ManifestEntry{Kind: env.Kind, Checksum: env.Checksum, Size: len(env.Blob)}
	}
	manifest := Manifest{Generation: b.gen, CreatedAt: time.Now().UTC(), Entries: entries}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if prev := b.store.current; prev != "" {
		// keep only current and previous, like a FileStore with retain 2
		for gen := range b.store.generations {
			if gen != prev {
				delete(b.store.generations, gen)
				delete(b.store.manifests, gen)
			}
		}
	}
	b.store.generations[b.gen] = b.envelope
	b.store.manifests[b.gen] = manifest
	b.store.current = b.gen
	return manifest, nil
}

func (b *memBatch) Rollback(ctx context.Context) error {
	b.done = true
	return nil
}

type memReader struct {
	envelopes map[string]*Envelope
	manifest  Manifest

	mu    sync.Mutex
	cache map[string]Artifact
}

func (r *memReader) Manifest() Manifest { return r.manifest }

func (r *memReader) Load(ctx context.Context, key string) (Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.cache[key]; ok {
		return a, nil
	}
	env, ok := r.envelopes[key]
	if !ok {
		return nil, apperrors.NewArtifactNotFoundError(key).
			WithContext("generation", r.manifest.Generation)
	}
	a, err := Decode(env)
	if err != nil {
		return nil, err
	}
	r.cache[key] = a
	return a, nil
}

package artifacts

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "ccsml/internal/errors"
)

const (
	currentFile     = "CURRENT"
	manifestFile    = "MANIFEST.json"
	generationsDir  = "generations"
	artifactExt     = ".art"
	minRetained     = 2
	filePermissions = 0644
	dirPermissions  = 0755
)

// FileStore keeps each generation in its own directory under root and points
// at the current one through the CURRENT file:
//
//	root/CURRENT
//	root/generations/<id>/MANIFEST.json
//	root/generations/<id>/scaler.art
//	root/generations/<id>/model/0.art
type FileStore struct {
	root   string
	retain int
	logger *slog.Logger

	commitMu sync.Mutex
}

// NewFileStore creates the store directory if needed. retain is the number of
// committed generations kept on disk and is raised to 2 if lower.
func NewFileStore(root string, retain int, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retain < minRetained {
		retain = minRetained
	}
	if err := os.MkdirAll(filepath.Join(root, generationsDir), dirPermissions); err != nil {
		return nil, apperrors.NewStorageError("create artifact directory", err)
	}
	return &FileStore{
		root:   root,
		retain: retain,
		logger: logger.With(slog.String("component", "artifact_store")),
	}, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

// CurrentPath is the file whose replacement signals a new generation.
func (s *FileStore) CurrentPath() string { return filepath.Join(s.root, currentFile) }

func (s *FileStore) generationPath(gen string) string {
	return filepath.Join(s.root, generationsDir, gen)
}

// Begin starts a new generation directory.
func (s *FileStore) Begin(ctx context.Context) (Batch, error) {
	gen := uuid.NewString()
	dir := s.generationPath(gen)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, apperrors.NewStorageError("create generation directory", err)
	}
	s.logger.DebugContext(ctx, "generation started", slog.String("generation", gen))
	return &fileBatch{
		store:   s,
		gen:     gen,
		dir:     dir,
		entries: make(map[string]ManifestEntry),
	}, nil
}

// Open pins a reader to the current generation. Every artifact is decoded
// up front, so the reader keeps working after later commits prune its
// generation directory.
func (s *FileStore) Open(ctx context.Context) (Reader, error) {
	gen, err := s.current()
	if err != nil {
		return nil, err
	}
	manifest, err := readManifest(s.generationPath(gen))
	if err != nil {
		return nil, err
	}
	r := &fileReader{
		dir:      s.generationPath(gen),
		manifest: manifest,
		cache:    make(map[string]Artifact, len(manifest.Entries)),
	}
	for _, key := range manifest.Keys() {
		if _, err := r.Load(ctx, key); err != nil {
			return nil, err
		}
	}
	s.logger.DebugContext(ctx, "generation opened",
		slog.String("generation", gen),
		slog.Int("artifacts", len(r.cache)))
	return r, nil
}

func (s *FileStore) current() (string, error) {
	data, err := os.ReadFile(s.CurrentPath())
	if errors.Is(err, fs.ErrNotExist) {
		return "", apperrors.NewArtifactNotFoundError(currentFile).
			WithContext("reason", "no training run has been committed")
	}
	if err != nil {
		return "", apperrors.NewStorageError("read current generation", err)
	}
	gen := strings.TrimSpace(string(data))
	if gen == "" {
		return "", apperrors.NewArtifactNotFoundError(currentFile)
	}
	return gen, nil
}

func (s *FileStore) swapCurrent(gen string) error {
	tmp, err := os.CreateTemp(s.root, ".current-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(gen + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.CurrentPath())
}

// prune removes committed generations beyond the retention count, oldest
// first, and abandoned directories without a manifest. The current and the
// previous generation are never removed.
func (s *FileStore) prune(ctx context.Context, current string) {
	entries, err := os.ReadDir(filepath.Join(s.root, generationsDir))
	if err != nil {
		s.logger.WarnContext(ctx, "prune skipped", slog.String("error", err.Error()))
		return
	}

	type committed struct {
		gen string
		at  time.Time
	}
	var gens []committed
	for _, e := range entries {
		if !e.IsDir() || e.Name() == current {
			continue
		}
		m, err := readManifest(s.generationPath(e.Name()))
		if err != nil {
			// an uncommitted batch may still be writing; only remove stale ones
			if info, statErr := e.Info(); statErr == nil && time.Since(info.ModTime()) > time.Hour {
				os.RemoveAll(s.generationPath(e.Name()))
			}
			continue
		}
		gens = append(gens, committed{gen: e.Name(), at: m.CreatedAt})
	}

	sort.Slice(gens, func(i, j int) bool { return gens[i].at.After(gens[j].at) })
	keep := s.retain - 1
	for i := keep; i < len(gens); i++ {
		if err := os.RemoveAll(s.generationPath(gens[i].gen)); err != nil {
			s.logger.WarnContext(ctx, "failed to prune generation",
				slog.String("generation", gens[i].gen),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.DebugContext(ctx, "generation pruned", slog.String("generation", gens[i].gen))
	}
}

func readManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, apperrors.NewArtifactNotFoundError(manifestFile)
	}
	if err != nil {
		return Manifest{}, apperrors.NewStorageError("read manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, apperrors.NewStorageError("parse manifest", err)
	}
	return m, nil
}

type fileBatch struct {
	store   *FileStore
	gen     string
	dir     string
	entries map[string]ManifestEntry
	done    bool
}

func (b *fileBatch) Save(ctx context.Context, key string, a Artifact) error {
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

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return apperrors.NewStorageError("encode envelope "+key, err)
	}

	rel := filepath.FromSlash(key) + artifactExt
	path := filepath.Join(b.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return apperrors.NewStorageError("create artifact directory", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), filePermissions); err != nil {
		return apperrors.NewStorageError("write artifact "+key, err)
	}

	b.entries[key] = ManifestEntry{
		Kind:     env.Kind,
		File:     filepath.ToSlash(rel),
		Checksum: env.Checksum,
		Size:     len(env.Blob),
	}
	b.store.logger.DebugContext(ctx, "artifact staged",
		slog.String("generation", b.gen),
		slog.String("key", key),
		slog.String("kind", string(env.Kind)))
	return nil
}

func (b *fileBatch) Commit(ctx context.Context) (Manifest, error) {
	if b.done {
		return Manifest{}, apperrors.NewStorageError("commit", fmt.Errorf("batch already finished"))
	}
	b.done = true

	manifest := Manifest{
		Generation: b.gen,
		CreatedAt:  time.Now().UTC(),
		Entries:    b.entries,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, apperrors.NewStorageError("encode manifest", err)
	}
	if err := os.WriteFile(filepath.Join(b.dir, manifestFile), data, filePermissions); err != nil {
		return Manifest{}, apperrors.NewStorageError("write manifest", err)
	}

	b.store.commitMu.Lock()
	defer b.store.commitMu.Unlock()
	if err := b.store.swapCurrent(b.gen); err != nil {
		return Manifest{}, apperrors.NewStorageError("swap current generation", err)
	}

	b.store.logger.InfoContext(ctx, "generation committed",
		slog.String("generation", b.gen),
		slog.Int("artifacts", len(b.entries)))
	b.store.prune(ctx, b.gen)
	return manifest, nil
}

func (b *fileBatch) Rollback(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	if err := os.RemoveAll(b.dir); err != nil {
		return apperrors.NewStorageError("remove generation", err)
	}
	b.store.logger.InfoContext(ctx, "generation rolled back", slog.String("generation", b.gen))
	return nil
}

type fileReader struct {
	dir      string
	manifest Manifest

	mu    sync.Mutex
	cache map[string]Artifact
}

func (r *fileReader) Manifest() Manifest { return r.manifest }

// Load serves key from memory. Loaded artifacts are shared between callers
// and must be treated as read-only.
func (r *fileReader) Load(ctx context.Context, key string) (Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.cache[key]; ok {
		return a, nil
	}
	entry, ok := r.manifest.Entries[key]
	if !ok {
		return nil, apperrors.NewArtifactNotFoundError(key).
			WithContext("generation", r.manifest.Generation)
	}

	data, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(entry.File)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewArtifactNotFoundError(key).
			WithContext("generation", r.manifest.Generation)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("read artifact "+key, err)
	}

	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, apperrors.NewStorageError("decode envelope "+key, err)
	}
	if env.Checksum != entry.Checksum {
		return nil, apperrors.NewStorageError("load "+key, fmt.Errorf("manifest checksum does not match artifact"))
	}
	a, err := Decode(&env)
	if err != nil {
		return nil, err
	}
	r.cache[key] = a
	return a, nil
}

// validKey rejects keys that would escape the generation directory.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, `\`) {
		return apperrors.NewValidationError(fmt.Sprintf("invalid artifact key %q", key))
	}
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmartio/datamart/internal/logger"
	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
	"github.com/dmartio/datamart/pkg/index"
	"github.com/dmartio/datamart/pkg/metrics"
	"github.com/dmartio/datamart/pkg/payload"
)

// Store is the storage core. It owns the path resolver, orchestrates the
// payload backend and the index projector, and serializes writers per
// entity with an advisory keyed mutex.
//
// The projector is kept eventually consistent: a failed index write is
// logged and never fails the filesystem operation, because the filesystem
// is the source of truth and the index can be rebuilt.
type Store struct {
	paths     Paths
	payloads  payload.Store
	projector index.Projector
	metrics   metrics.StoreMetrics
	log       zerolog.Logger
	locks     *keyedMutex

	// indexingCache memoizes per-space indexing flags read from the space
	// descriptor. Lazily populated, read-mostly.
	indexingMu    sync.RWMutex
	indexingCache map[string]bool
}

// New wires the storage core. metrics may be nil (no-op); projector and
// payloads must be provided.
func New(root string, payloads payload.Store, projector index.Projector, m metrics.StoreMetrics) *Store {
	return &Store{
		paths:         Paths{Root: root},
		payloads:      payloads,
		projector:     projector,
		metrics:       m,
		log:           logger.Store(),
		locks:         newKeyedMutex(),
		indexingCache: make(map[string]bool),
	}
}

// Paths exposes the path resolver, e.g. for adapters that stream payload
// files directly.
func (s *Store) Paths() Paths { return s.paths }

// record reports an operation outcome to the metrics sink, if any.
func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(operation, time.Since(start), err)
	}
}

// Load reads an entity's metadata file into its typed shape.
func (s *Store) Load(ctx context.Context, space, subpath, shortname string, rt core.ResourceType) (core.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, filename, err := s.paths.MetaPath(space, subpath, shortname, rt)
	if err != nil {
		return nil, err
	}
	return s.readMeta(filepath.Join(dir, filename), shortname, rt)
}

// readMeta deserializes a metadata file into a fresh typed entity.
func (s *Store) readMeta(path, shortname string, rt core.ResourceType) (core.Resource, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, api.NotFound("entity not found", path)
	}
	if err != nil {
		return nil, api.Internal("reading metadata file", err)
	}

	res, err := core.NewResource(rt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return nil, api.Internal(fmt.Sprintf("malformed metadata file %s", path), err)
	}

	base := res.Base()
	if base.Shortname == "" {
		base.Shortname = shortname
	}
	return res, nil
}

// writeMeta serializes an entity to its metadata file via a temp file and
// rename, so readers never observe a half-written record. Empty fields are
// omitted from the JSON so defaults do not leak into later attribute
// reconstruction.
func (s *Store) writeMeta(dir, filename string, res core.Resource) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return api.Internal("creating metadata directory", err)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return api.Internal("serializing metadata", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filename+".tmp-*")
	if err != nil {
		return api.Internal("creating temporary metadata file", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return api.Internal("writing metadata file", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, filename)); err != nil {
		_ = os.Remove(tmpName)
		return api.Internal("finalizing metadata file", err)
	}
	return nil
}

// Create persists a new entity. The target must not already exist.
func (s *Store) Create(ctx context.Context, space, subpath string, res core.Resource) (err error) {
	start := time.Now()
	defer func() { s.record("Create", start, err) }()
	if err = ctx.Err(); err != nil {
		return err
	}

	base := res.Base()
	if err = ValidateShortname(base.Shortname); err != nil {
		return err
	}

	rt := core.ResourceTypeOf(res)
	dir, filename, err := s.paths.MetaPath(space, subpath, base.Shortname, rt)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(entityKey(space, subpath, base.Shortname))
	defer unlock()

	metaPath := filepath.Join(dir, filename)
	if _, statErr := os.Stat(metaPath); statErr == nil {
		return api.AlreadyExists("entity already exists", metaPath)
	}

	if err = s.writeMeta(dir, filename, res); err != nil {
		return err
	}

	s.projectMeta(ctx, space, subpath, res)
	return nil
}

// Update overwrites an existing entity's metadata, refreshing updated_at.
func (s *Store) Update(ctx context.Context, space, subpath string, res core.Resource) (err error) {
	start := time.Now()
	defer func() { s.record("Update", start, err) }()
	if err = ctx.Err(); err != nil {
		return err
	}

	base := res.Base()
	rt := core.ResourceTypeOf(res)
	dir, filename, err := s.paths.MetaPath(space, subpath, base.Shortname, rt)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(entityKey(space, subpath, base.Shortname))
	defer unlock()

	metaPath := filepath.Join(dir, filename)
	if _, statErr := os.Stat(metaPath); statErr != nil {
		return api.NotFound("entity not found", metaPath)
	}

	base.Touch()
	if err = s.writeMeta(dir, filename, res); err != nil {
		return err
	}

	s.projectMeta(ctx, space, subpath, res)
	return nil
}

// Delete removes an entity's metadata file, every payload companion
// sharing its filename stem, and the now-empty enclosing directory.
// A non-empty directory is never force-deleted.
func (s *Store) Delete(ctx context.Context, space, subpath string, res core.Resource) (err error) {
	start := time.Now()
	defer func() { s.record("Delete", start, err) }()
	if err = ctx.Err(); err != nil {
		return err
	}

	base := res.Base()
	rt := core.ResourceTypeOf(res)
	dir, filename, err := s.paths.MetaPath(space, subpath, base.Shortname, rt)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(entityKey(space, subpath, base.Shortname))
	defer unlock()

	metaPath := filepath.Join(dir, filename)
	if _, statErr := os.Stat(metaPath); statErr != nil {
		return api.NotFound("entity not found", metaPath)
	}
	if err = os.Remove(metaPath); err != nil {
		return api.Internal("deleting metadata file", err)
	}

	payloadDir, dirErr := s.paths.PayloadDir(space, subpath, rt)
	if dirErr == nil {
		if _, delErr := s.payloads.DeleteStem(ctx, payloadDir, base.Shortname); delErr != nil {
			s.log.Warn().Err(delErr).Str("space", space).Str("shortname", base.Shortname).
				Msg("failed to delete payload companions")
		}
	}

	// The entity's own metadata directory first, then, for folders, the
	// directory the folder named.
	removeIfEmpty(dir)
	if rt == core.TypeFolder {
		removeIfEmpty(filepath.Dir(dir))
	}

	s.dropFromIndex(ctx, space, subpath, res)
	return nil
}

// removeIfEmpty removes dir when it contains nothing. os.Remove refuses
// non-empty directories, which is exactly the contract.
func removeIfEmpty(dir string) {
	_ = os.Remove(dir)
}

// projectMeta pushes an entity into the space's meta index. Index failures
// are logged, never propagated: the index is a rebuildable derivation.
func (s *Store) projectMeta(ctx context.Context, space, subpath string, res core.Resource) {
	if s.projector == nil || !s.indexingEnabled(ctx, space) {
		return
	}
	subpath = CleanSubpath(subpath)
	if err := s.projector.IndexMeta(ctx, space, subpath, res); err != nil {
		s.log.Warn().Err(err).Str("space", space).Str("subpath", subpath).
			Str("shortname", res.Base().Shortname).Msg("index projection failed")
	}
}

// dropFromIndex removes an entity's meta document and, when it carried a
// schema-bound payload, its payload document.
func (s *Store) dropFromIndex(ctx context.Context, space, subpath string, res core.Resource) {
	if s.projector == nil || !s.indexingEnabled(ctx, space) {
		return
	}
	subpath = CleanSubpath(subpath)
	base := res.Base()

	if err := s.projector.Delete(ctx, space, index.MetaIndexName, subpath, base.Shortname); err != nil {
		s.log.Warn().Err(err).Str("space", space).Str("shortname", base.Shortname).
			Msg("index document delete failed")
	}
	if base.Payload != nil && base.Payload.SchemaShortname != "" {
		if err := s.projector.Delete(ctx, space, base.Payload.SchemaShortname, subpath, base.Shortname); err != nil {
			s.log.Warn().Err(err).Str("space", space).Str("shortname", base.Shortname).
				Msg("payload index document delete failed")
		}
	}
}

// indexingEnabled reports whether the space has indexing enabled, reading
// the space descriptor on first use. A space without a descriptor indexes
// by default.
func (s *Store) indexingEnabled(ctx context.Context, space string) bool {
	s.indexingMu.RLock()
	enabled, cached := s.indexingCache[space]
	s.indexingMu.RUnlock()
	if cached {
		return enabled
	}

	enabled = true
	if res, err := s.Load(ctx, space, "/", space, core.TypeSpace); err == nil {
		if sp, ok := res.(*core.Space); ok {
			enabled = sp.IndexingEnabled
		}
	}

	s.indexingMu.Lock()
	s.indexingCache[space] = enabled
	s.indexingMu.Unlock()
	return enabled
}

// SetSpaceIndexing flips the space's indexing flag, persisting it on the
// space descriptor. This is the only space descriptor field mutable at
// runtime.
func (s *Store) SetSpaceIndexing(ctx context.Context, space string, enabled bool) (err error) {
	start := time.Now()
	defer func() { s.record("SetSpaceIndexing", start, err) }()

	res, err := s.Load(ctx, space, "/", space, core.TypeSpace)
	if err != nil {
		return err
	}
	sp, ok := res.(*core.Space)
	if !ok {
		return api.Internal("space descriptor has unexpected type", nil)
	}

	sp.IndexingEnabled = enabled
	if err = s.Update(ctx, space, "/", sp); err != nil {
		return err
	}

	s.indexingMu.Lock()
	s.indexingCache[space] = enabled
	s.indexingMu.Unlock()
	return nil
}

// Close releases the payload backend and the projector.
func (s *Store) Close() error {
	var firstErr error
	if err := s.payloads.Close(); err != nil {
		firstErr = err
	}
	if s.projector != nil {
		if err := s.projector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

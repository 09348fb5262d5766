package incremental

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	// MetaFileName is the file holding metadata, the dependency graph and output paths.
	MetaFileName = "_build_meta.json"

	// ExportsDirName is the directory holding one export shard per document.
	ExportsDirName = "_exports"
)

// NowFunc defines a function that returns the current time.
type NowFunc func() time.Time

// Option defines a function that configures a Cache.
type Option func(*Cache)

// Cache is the build state of a documentation project persisted across builds.
//
// On disk it is a metadata file plus a sharded tree of per-document export
// records. Export shards are written only for documents that changed since the
// last load; the metadata file is rewritten atomically on every save.
type Cache struct {
	dir        string
	fs         afero.Fs
	nowFunc    NowFunc
	logger     *slog.Logger
	recorder   Recorder
	versioning *Versioning
	algorithm  Algorithm
	mu         sync.RWMutex

	state        *State
	dirty        map[DocPath]struct{} // exports modified since load
	metadata     *Metadata
	settingsHash string
	loaded       bool
	saved        bool
}

// Open creates a cache rooted at dir. Nothing is read until Load is called.
// The directory is created if it doesn't exist.
func Open(dir string, options ...Option) (*Cache, error) {
	cache := &Cache{
		dir:        dir,
		fs:         afero.NewOsFs(),
		nowFunc:    time.Now,
		logger:     slog.Default(),
		recorder:   NoopRecorder{},
		versioning: DefaultVersioning(),
		algorithm:  DefaultAlgorithm,
	}

	for _, option := range options {
		option(cache)
	}

	if _, err := ParseAlgorithm(string(cache.algorithm)); err != nil {
		return nil, err
	}
	if err := cache.fs.MkdirAll(cache.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache.state = NewState(cache.algorithm)
	cache.dirty = make(map[DocPath]struct{})
	return cache, nil
}

// OpenTemp creates an in-memory cache for testing.
func OpenTemp() *Cache {
	cache, err := Open("", WithFs(afero.NewMemMapFs()))
	if err != nil {
		panic(fmt.Sprintf("failed to create temp cache: %v", err))
	}
	return cache
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Algorithm returns the hash algorithm used by this run.
func (c *Cache) Algorithm() Algorithm { return c.algorithm }

// Hasher returns a content hasher for this run's algorithm on the cache filesystem.
func (c *Cache) Hasher() *Hasher {
	return &Hasher{fs: c.fs, algorithm: c.algorithm}
}

// ChangeDetector returns a detector wired to the cache's filesystem, logger and recorder.
func (c *Cache) ChangeDetector() *ChangeDetector {
	return NewChangeDetector(c.Hasher(), c.logger, c.recorder)
}

// Propagator returns a propagator wired to the cache's logger and recorder.
func (c *Cache) Propagator() *DirtyPropagator {
	p := NewDirtyPropagator(c.logger, c.recorder)
	p.now = c.nowFunc
	return p
}

// SetExports stores the exports of a document and marks its shard for writing.
func (c *Cache) SetExports(e *DocumentExports) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.state.SetExports(e); err != nil {
		return err
	}
	c.dirty[e.Path()] = struct{}{}
	return nil
}

// Exports returns the current exports of doc, or nil.
func (c *Cache) Exports(doc DocPath) *DocumentExports {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Exports(doc)
}

// AllExports returns a copy of the current exports map.
func (c *Cache) AllExports() map[DocPath]*DocumentExports {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.AllExports()
}

// PreviousExports returns the exports as they were when the cache was loaded.
func (c *Cache) PreviousExports() map[DocPath]*DocumentExports {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.AllPreviousExports()
}

// Graph returns the dependency graph. Callers must not mutate it concurrently.
func (c *Cache) Graph() *Graph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Graph()
}

// SetOutputPath records where the rendered output of doc lives.
func (c *Cache) SetOutputPath(doc DocPath, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SetOutputPath(doc, path)
}

// OutputPath returns the cached output path of doc, "" when unknown.
func (c *Cache) OutputPath(doc DocPath) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.OutputPath(doc)
}

// Metadata returns the metadata read by the last successful Load, or nil.
func (c *Cache) Metadata() *Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.metadata == nil {
		return nil
	}
	m := *c.metadata
	return &m
}

// SettingsHash returns the settings hash of the loaded or last saved cache.
func (c *Cache) SettingsHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settingsHash
}

// RequiresFullRebuild reports whether the loaded state was hashed with a
// different algorithm than this run uses.
func (c *Cache) RequiresFullRebuild() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.RequiresFullRebuild(c.algorithm)
}

// ExtractState returns a copy of the in-memory state for hand-off to a coordinator.
func (c *Cache) ExtractState() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// MergeState folds a worker's state into the cache. Entries already present
// win. Merged exports are marked for writing on the next save.
// MergeState must not be called concurrently.
func (c *Cache) MergeState(s *State) error {
	if s == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var added []DocPath
	for doc := range s.exports {
		if _, ok := c.state.exports[doc]; !ok {
			added = append(added, doc)
		}
	}
	if err := c.state.Merge(s); err != nil {
		return err
	}
	for _, doc := range added {
		c.dirty[doc] = struct{}{}
	}
	return nil
}

// RemoveDocument purges doc from memory and deletes its shard file if present.
func (c *Cache) RemoveDocument(doc DocPath) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.RemoveDocument(doc)
	delete(c.dirty, doc)

	if err := c.removeShard(doc); err != nil {
		return fmt.Errorf("failed to remove shard of %s: %w", doc, err)
	}
	c.logger.Debug("Removed document from cache", logDoc(doc))
	return nil
}

// Clear removes every persisted file and resets the in-memory state.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fs.RemoveAll(c.exportsDir()); err != nil {
		return fmt.Errorf("failed to remove exports: %w", err)
	}
	if err := c.fs.Remove(c.metaPath()); err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to remove metadata: %w", err)
	}

	c.state = NewState(c.algorithm)
	c.dirty = make(map[DocPath]struct{})
	c.metadata = nil
	c.settingsHash = ""
	c.loaded = false
	c.saved = false
	return nil
}

// Close releases any resources. Currently a no-op.
func (c *Cache) Close() error {
	return nil
}

// metaPath returns the path to the metadata file.
func (c *Cache) metaPath() string {
	return filepath.Join(c.dir, MetaFileName)
}

// exportsDir returns the root of the shard tree.
func (c *Cache) exportsDir() string {
	return filepath.Join(c.dir, ExportsDirName)
}

// now returns the current time.
func (c *Cache) now() time.Time {
	return c.nowFunc()
}

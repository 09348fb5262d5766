package incremental

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Save persists the cache.
//
// Export shards are written only for documents set or merged since the last
// load. When nothing was loaded, the first save replaces the whole shard tree,
// so shards of a rejected or unread cache never come back. The metadata file,
// holding the graph and output paths, is then rewritten atomically as one unit.
func (c *Cache) Save(settingsHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	toWrite := c.dirty
	if !c.loaded && !c.saved {
		if err := c.fs.RemoveAll(c.exportsDir()); err != nil {
			return fmt.Errorf("failed to remove stale exports: %w", err)
		}
		toWrite = make(map[DocPath]struct{}, len(c.state.exports))
		for doc := range c.state.exports {
			toWrite[doc] = struct{}{}
		}
	}

	written := 0
	for _, doc := range sortedPaths(toWrite) {
		e := c.state.exports[doc]
		if e == nil {
			continue
		}
		if err := c.writeShard(e); err != nil {
			return fmt.Errorf("failed to write shard of %s: %w", doc, err)
		}
		written++
	}
	c.recorder.AddShardWrites(written)

	meta := c.versioning.CreateMetadata(settingsHash)
	meta.CreatedAt = c.now().Unix()
	meta.HashAlgorithm = string(c.algorithm)
	if err := c.writeMeta(meta); err != nil {
		return err
	}

	c.dirty = make(map[DocPath]struct{})
	c.metadata = &meta
	c.settingsHash = settingsHash
	c.state.hashAlgorithm = c.algorithm
	c.saved = true

	c.logger.Info("Saved cache",
		logDir(c.dir),
		logCount(written),
		logDurationMS(float64(c.now().Sub(start).Microseconds())/1000))
	return nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it into place.
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

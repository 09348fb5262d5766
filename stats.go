package incremental

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stats represents statistics about the persisted cache.
type Stats struct {
	Documents    int           // Documents held in memory
	Edges        int           // Dependency edges held in memory
	Shards       int           // Shard files on disk
	ShardDirs    int           // Distinct shard directories on disk
	TotalSize    int64         // Size of all shard files plus metadata in bytes
	Dirty        int           // Documents waiting to be written by Save
	Age          time.Duration // Age of the loaded or last saved metadata
	Algorithm    Algorithm     // Algorithm of the loaded or current state
	SettingsHash string        // Settings hash of the loaded or last saved cache
}

// Stats walks the shard tree and returns statistics about the cache.
func (c *Cache) Stats() (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		Documents:    len(c.state.exports),
		Edges:        c.state.graph.EdgeCount(),
		Dirty:        len(c.dirty),
		Algorithm:    c.state.HashAlgorithm(),
		SettingsHash: c.settingsHash,
	}

	dirs := make(map[string]struct{})
	err := c.walkShards(func(file, _ string, info os.FileInfo) error {
		stats.Shards++
		stats.TotalSize += info.Size()
		dirs[filepath.Dir(file)] = struct{}{}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to walk shards: %w", err)
	}
	stats.ShardDirs = len(dirs)

	if info, err := c.fs.Stat(c.metaPath()); err == nil {
		stats.TotalSize += info.Size()
	}
	if c.metadata != nil {
		stats.Age = c.now().Sub(time.Unix(c.metadata.CreatedAt, 0))
	}

	return stats, nil
}

// OrphanShards returns the number of shard files whose document is not held in memory.
func (c *Cache) OrphanShards() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	files, err := c.orphanShards()
	return len(files), err
}

// PruneOrphans removes shard files whose document is not held in memory, such
// as shards left behind when a process died between deleting a document and
// saving. Returns the number of files removed.
func (c *Cache) PruneOrphans() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	toRemove, err := c.orphanShards()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, file := range toRemove {
		if err := c.fs.Remove(file); err != nil && !isNotExist(err) {
			return count, fmt.Errorf("failed to remove shard %s: %w", filepath.Base(file), err)
		}
		count++
		c.logger.Debug("Pruned orphan shard", logShard(filepath.Base(file)))
	}

	if count > 0 {
		c.logger.Info("Pruned orphan shards", logDir(c.exportsDir()), logCount(count))
	}
	return count, nil
}

func (c *Cache) orphanShards() ([]string, error) {
	known := make(map[string]struct{}, len(c.state.exports))
	for doc := range c.state.exports {
		known[shardKey(doc)] = struct{}{}
	}

	var orphans []string
	err := c.walkShards(func(file, name string, _ os.FileInfo) error {
		if _, ok := known[name]; !ok {
			orphans = append(orphans, file)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk shards: %w", err)
	}
	return orphans, nil
}

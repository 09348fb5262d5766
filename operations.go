package incremental

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// shardRecord is the on-disk form of one document's exports: the exports
// fields plus the original document path.
type shardRecord struct {
	Path *string `json:"path"`
	ExportsData
}

// shardKey returns the hex MD5 of the document path used as shard file name.
func shardKey(doc DocPath) string {
	sum := md5.Sum([]byte(doc))
	return hex.EncodeToString(sum[:])
}

// shardPath returns the shard file of a document:
// <dir>/_exports/<first 2 hex chars>/<md5 of path>.json.
func (c *Cache) shardPath(doc DocPath) string {
	key := shardKey(doc)
	return filepath.Join(c.exportsDir(), key[:2], key+".json")
}

// writeShard persists the exports of one document.
func (c *Cache) writeShard(e *DocumentExports) error {
	path := e.Path().String()
	data, err := json.Marshal(shardRecord{Path: &path, ExportsData: e.Data()})
	if err != nil {
		return fmt.Errorf("failed to marshal exports: %w", err)
	}

	shard := c.shardPath(e.Path())
	if err := c.fs.MkdirAll(filepath.Dir(shard), 0o755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	return writeFileAtomic(c.fs, shard, data)
}

// removeShard deletes the shard of doc if it exists.
func (c *Cache) removeShard(doc DocPath) error {
	shard := c.shardPath(doc)
	if err := c.fs.Remove(shard); err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

// readShard reads and validates one shard file. name is the shard's key.
func (c *Cache) readShard(file, name string) (*DocumentExports, error) {
	raw, err := afero.ReadFile(c.fs, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard %s: %w", name, err)
	}

	var rec shardRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: shard %s: %w", ErrMalformedCache, name, err)
	}
	if rec.Path == nil {
		return nil, fmt.Errorf("%w: shard %s: missing path", ErrMalformedCache, name)
	}
	if shardKey(DocPath(*rec.Path)) != name {
		return nil, fmt.Errorf("%w: shard %s: path does not match file name", ErrMalformedCache, name)
	}
	if rec.DocumentPath != *rec.Path {
		return nil, fmt.Errorf("%w: shard %s: documentPath does not match path", ErrMalformedCache, name)
	}

	e, err := NewDocumentExports(rec.ExportsData)
	if err != nil {
		return nil, fmt.Errorf("%w: shard %s: %w", ErrMalformedCache, name, err)
	}
	return e, nil
}

// loadShards reads every shard under the exports directory into state.
func (c *Cache) loadShards(state *State) error {
	count := 0
	err := c.walkShards(func(file, name string, _ os.FileInfo) error {
		count++
		if count > MaxDocuments {
			return fmt.Errorf("%w: %w", ErrMalformedCache, limitError("exports count", count, MaxDocuments))
		}
		e, err := c.readShard(file, name)
		if err != nil {
			return err
		}
		if existing := state.exports[e.Path()]; existing != nil {
			return fmt.Errorf("%w: duplicate shard for %q", ErrMalformedCache, e.Path())
		}
		return state.SetExports(e)
	})
	if err != nil {
		return err
	}
	c.logger.Debug("Read export shards", logDir(c.exportsDir()), logCount(count))
	return nil
}

// walkShards calls fn for every file that looks like a shard:
// a 32 hex char .json file inside a directory named after its first two chars.
// Other files are ignored.
func (c *Cache) walkShards(fn func(file, name string, info os.FileInfo) error) error {
	root := c.exportsDir()
	exists, err := afero.DirExists(c.fs, root)
	if err != nil || !exists {
		return err
	}

	return afero.Walk(c.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip directories
		if info.IsDir() {
			return nil
		}

		// Only process .json files
		base := filepath.Base(path)
		if !strings.HasSuffix(base, ".json") {
			return nil
		}

		name := strings.TrimSuffix(base, ".json")
		if !isShardName(name) || filepath.Base(filepath.Dir(path)) != name[:2] {
			return nil
		}
		return fn(path, name, info)
	})
}

func isShardName(name string) bool {
	if len(name) != md5.Size*2 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil && strings.ToLower(name) == name
}

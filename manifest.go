package incremental

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/afero"
)

// buildMeta is the content of the metadata file.
// Exports is only present in caches written in the legacy monolithic layout.
type buildMeta struct {
	Metadata     json.RawMessage            `json:"metadata"`
	Dependencies *GraphData                 `json:"dependencies"`
	Outputs      map[string]string          `json:"outputs"`
	Exports      map[string]json.RawMessage `json:"exports,omitempty"`
}

// Load reads the persisted cache.
//
// It returns false with a nil error when there is no usable cache: the
// metadata file is absent, unparseable, or written by an incompatible version.
// Validation failures in an otherwise compatible cache and I/O failures on
// existing files are returned as errors; callers should fall back to a full
// rebuild in both cases.
func (c *Cache) Load() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()
	ok, err := c.load()
	switch {
	case err != nil:
		c.recorder.IncLoad(LoadError)
		c.logger.Error("Failed to load cache", logDir(c.dir), logError(err))
		return false, err
	case !ok:
		return false, nil
	}

	c.recorder.IncLoad(LoadHit)
	c.logger.Info("Loaded cache",
		logDir(c.dir),
		logCount(len(c.state.exports)),
		logAlgorithm(c.state.HashAlgorithm()),
		logDurationMS(float64(c.now().Sub(start).Microseconds())/1000))
	return true, nil
}

func (c *Cache) load() (bool, error) {
	raw, err := afero.ReadFile(c.fs, c.metaPath())
	if err != nil {
		if isNotExist(err) {
			c.recorder.IncLoad(LoadCold)
			c.logger.Debug("No cache found, starting cold", logDir(c.dir))
			return false, nil
		}
		return false, fmt.Errorf("failed to read metadata: %w", err)
	}

	var file buildMeta
	if err := json.Unmarshal(raw, &file); err != nil {
		c.invalid("metadata file is not valid JSON", err)
		return false, nil
	}
	meta, err := ParseMetadata(file.Metadata)
	if err != nil {
		c.invalid("metadata record is malformed", err)
		return false, nil
	}
	if !c.versioning.IsCacheValid(meta) {
		c.recorder.IncLoad(LoadInvalid)
		c.logger.Warn("Cache written by an incompatible version, starting cold",
			logDir(c.dir),
			"version", meta.Version,
			"runtime_version", meta.RuntimeVersion,
			"package_version", meta.PackageVersion)
		return false, nil
	}

	var algorithm Algorithm
	if meta.HashAlgorithm != "" {
		if algorithm, err = ParseAlgorithm(meta.HashAlgorithm); err != nil {
			return false, fmt.Errorf("%w: metadata: %w", ErrMalformedCache, err)
		}
	}

	state := NewState(algorithm)
	if file.Dependencies != nil {
		if state.graph, err = GraphFromData(*file.Dependencies); err != nil {
			return false, err
		}
	}
	if err := state.loadOutputs(file.Outputs); err != nil {
		return false, err
	}

	exists, err := afero.DirExists(c.fs, c.exportsDir())
	if err != nil {
		return false, fmt.Errorf("failed to check exports directory: %w", err)
	}
	if exists {
		err = c.loadShards(state)
	} else {
		err = loadLegacyExports(state, file.Exports)
	}
	if err != nil {
		return false, err
	}

	state.SetPreviousExports(state.exports)
	c.state = state
	c.dirty = make(map[DocPath]struct{})
	if !exists {
		// Inline exports move to shards on the next save.
		for doc := range state.exports {
			c.dirty[doc] = struct{}{}
		}
	}
	c.metadata = meta
	c.settingsHash = meta.SettingsHash
	c.loaded = true
	return true, nil
}

func (c *Cache) invalid(msg string, err error) {
	c.recorder.IncLoad(LoadInvalid)
	c.logger.Warn("Unusable cache, starting cold: "+msg, logDir(c.dir), logError(err))
}

// loadLegacyExports reads exports stored inline in the metadata file.
func loadLegacyExports(state *State, raw map[string]json.RawMessage) error {
	if len(raw) > MaxDocuments {
		return fmt.Errorf("%w: %w", ErrMalformedCache, limitError("exports count", len(raw), MaxDocuments))
	}
	exports := make(map[string]*DocumentExports, len(raw))
	for key, rec := range raw {
		e := new(DocumentExports)
		if err := json.Unmarshal(rec, e); err != nil {
			return fmt.Errorf("exports of %q: %w", key, err)
		}
		exports[key] = e
	}
	return state.loadExports(exports)
}

// writeMeta writes the metadata file atomically.
func (c *Cache) writeMeta(meta Metadata) error {
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	deps := c.state.graph.ToData()
	outputs := make(map[string]string, len(c.state.outputs))
	for doc, p := range c.state.outputs {
		outputs[doc.String()] = p
	}

	data, err := json.MarshalIndent(buildMeta{
		Metadata:     metaRaw,
		Dependencies: &deps,
		Outputs:      outputs,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal build metadata: %w", err)
	}
	return writeFileAtomic(c.fs, c.metaPath(), data)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

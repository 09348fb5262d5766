package incremental

import (
	"log/slog"

	"github.com/spf13/afero"
)

// WithFs sets a custom filesystem for the cache.
// This is primarily useful for testing with in-memory filesystems.
//
// Example:
//
//	cache, err := incremental.Open("build/.cache", incremental.WithFs(afero.NewMemMapFs()))
func WithFs(fs afero.Fs) Option {
	return func(c *Cache) {
		c.fs = fs
	}
}

// WithNowFunc sets a custom time function for the cache.
// This is primarily useful for testing with deterministic timestamps.
func WithNowFunc(nowFunc NowFunc) Option {
	return func(c *Cache) {
		c.nowFunc = nowFunc
	}
}

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder. The default records nothing.
func WithRecorder(recorder Recorder) Option {
	return func(c *Cache) {
		if recorder != nil {
			c.recorder = recorder
		}
	}
}

// WithAlgorithm sets the content hash algorithm for this run.
// Open fails for unknown algorithms.
//
// Note: a cache saved with another algorithm loads, but RequiresFullRebuild reports true.
func WithAlgorithm(algorithm Algorithm) Option {
	return func(c *Cache) {
		c.algorithm = algorithm
	}
}

// WithVersioning sets the compatibility rules used to accept a persisted cache.
func WithVersioning(v *Versioning) Option {
	return func(c *Cache) {
		if v != nil {
			c.versioning = v
		}
	}
}

package commands

import (
	"fmt"
	"time"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct{}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	sess, err := openSession(g, root)
	if err != nil {
		return err
	}
	if sess.loadErr != nil {
		fmt.Fprintf(g.Out, "cache: %s (unusable: %v)\n", sess.cfg.CacheDir, sess.loadErr)
		return nil
	}
	if !sess.loaded {
		fmt.Fprintf(g.Out, "cache: %s (cold, no usable cache)\n", sess.cfg.CacheDir)
		return nil
	}

	meta := sess.cache.Metadata()
	stats, err := sess.cache.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(g.Out, "cache:           %s\n", sess.cfg.CacheDir)
	fmt.Fprintf(g.Out, "format version:  %d\n", meta.Version)
	fmt.Fprintf(g.Out, "runtime version: %s\n", meta.RuntimeVersion)
	fmt.Fprintf(g.Out, "package version: %s\n", meta.PackageVersion)
	fmt.Fprintf(g.Out, "algorithm:       %s\n", stats.Algorithm)
	fmt.Fprintf(g.Out, "settings hash:   %s\n", meta.SettingsHash)
	fmt.Fprintf(g.Out, "created:         %s\n", time.Unix(meta.CreatedAt, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(g.Out, "documents:       %d\n", stats.Documents)
	fmt.Fprintf(g.Out, "edges:           %d\n", stats.Edges)
	fmt.Fprintf(g.Out, "shards:          %d in %d directories\n", stats.Shards, stats.ShardDirs)
	fmt.Fprintf(g.Out, "size:            %d bytes\n", stats.TotalSize)
	if sess.cache.RequiresFullRebuild() {
		fmt.Fprintf(g.Out, "note:            cache was hashed with another algorithm, next build is full\n")
	}
	return nil
}

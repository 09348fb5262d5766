package commands

import (
	"fmt"
	"slices"

	"github.com/gophersatwork/incremental"
)

// PruneCmd implements the 'prune' command.
type PruneCmd struct {
	DryRun bool `help:"Only report what would be removed"`
}

func (p *PruneCmd) Run(g *Global, root *CLI) error {
	sess, err := openSession(g, root)
	if err != nil {
		return err
	}
	if sess.loadErr != nil {
		if p.DryRun {
			fmt.Fprintf(g.Out, "cache unusable (%v), prune would clear it\n", sess.loadErr)
			return nil
		}
		if err := sess.cache.Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Fprintln(g.Out, "cleared unusable cache")
		return nil
	}
	if !sess.loaded {
		fmt.Fprintln(g.Out, "no usable cache, nothing to prune")
		return nil
	}

	docs, err := sess.cfg.Discover(g.Fs)
	if err != nil {
		return err
	}
	var stale []incremental.DocPath
	for doc := range sess.cache.AllExports() {
		if !slices.Contains(docs, doc) {
			stale = append(stale, doc)
		}
	}
	slices.Sort(stale)

	if p.DryRun {
		orphans, err := sess.cache.OrphanShards()
		if err != nil {
			return err
		}
		for _, doc := range stale {
			fmt.Fprintf(g.Out, "stale: %s\n", doc)
		}
		fmt.Fprintf(g.Out, "%d stale documents, %d orphaned shards\n", len(stale), orphans)
		return nil
	}

	for _, doc := range stale {
		if err := sess.cache.RemoveDocument(doc); err != nil {
			return err
		}
	}
	removed, err := sess.cache.PruneOrphans()
	if err != nil {
		return err
	}
	if err := sess.cache.Save(sess.cache.SettingsHash()); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	fmt.Fprintf(g.Out, "removed %d stale documents and %d orphaned shards\n", len(stale), removed)
	return nil
}

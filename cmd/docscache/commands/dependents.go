package commands

import (
	"fmt"

	"github.com/gophersatwork/incremental"
)

// DependentsCmd implements the 'dependents' command.
type DependentsCmd struct {
	Document string `arg:"" help:"Document path relative to the source directory"`
	Direct   bool   `help:"Only list documents importing the document directly"`
}

func (d *DependentsCmd) Run(g *Global, root *CLI) error {
	doc := incremental.DocPath(d.Document)
	if err := doc.Validate(); err != nil {
		return err
	}

	sess, err := openSession(g, root)
	if err != nil {
		return err
	}
	if sess.loadErr != nil {
		return fmt.Errorf("cache in %s is unusable: %w", sess.cfg.CacheDir, sess.loadErr)
	}
	if !sess.loaded {
		return fmt.Errorf("no usable cache in %s", sess.cfg.CacheDir)
	}

	graph := sess.cache.Graph()
	var deps []incremental.DocPath
	if d.Direct {
		deps = graph.Dependents(doc)
	} else {
		for _, p := range graph.PropagateDirty([]incremental.DocPath{doc}) {
			if p != doc {
				deps = append(deps, p)
			}
		}
	}

	for _, p := range deps {
		fmt.Fprintln(g.Out, p)
	}
	g.logger().Debug("Listed dependents", "doc", doc.String(), "count", len(deps))
	return nil
}

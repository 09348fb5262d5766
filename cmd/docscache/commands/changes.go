package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gophersatwork/incremental"
)

// ChangesCmd implements the 'changes' command.
type ChangesCmd struct {
	JSON    bool `help:"Print the report as JSON"`
	Metrics bool `help:"Print collected metrics after the report"`
}

// changesReport is the output of the changes command.
type changesReport struct {
	Changes           incremental.ChangeDetectionResult `json:"changes"`
	FullRebuild       bool                              `json:"fullRebuild"`
	Reason            string                            `json:"reason,omitempty"`
	DocumentsToRender []incremental.DocPath             `json:"documentsToRender"`
	PropagatedFrom    []incremental.DocPath             `json:"propagatedFrom"`
}

func (c *ChangesCmd) Run(g *Global, root *CLI) error {
	sess, err := openSession(g, root)
	if err != nil {
		return err
	}
	report, err := buildChangesReport(g, sess)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		printChangesReport(g, report)
	}

	if c.Metrics && g.Registry != nil {
		return printMetrics(g.Out, g.Registry)
	}
	return nil
}

func buildChangesReport(g *Global, sess *session) (changesReport, error) {
	docs, err := sess.cfg.Discover(g.Fs)
	if err != nil {
		return changesReport{}, err
	}

	previous := sess.cache.PreviousExports()
	changes, err := sess.cache.ChangeDetector().DetectChangesWithResolver(docs, previous, sess.cfg.Resolver())
	if err != nil {
		return changesReport{}, fmt.Errorf("detect changes: %w", err)
	}
	report := changesReport{Changes: changes}

	settingsHash, err := sess.cfg.SettingsKey(g.Fs).Hash()
	if err != nil {
		return changesReport{}, fmt.Errorf("settings hash: %w", err)
	}
	detector, err := incremental.NewGlobalInvalidationDetector(sess.cfg.GlobalPatterns)
	if err != nil {
		return changesReport{}, err
	}

	switch {
	case sess.loadErr != nil:
		report.FullRebuild, report.Reason = true, "cache unusable: "+sess.loadErr.Error()
	case !sess.loaded:
		report.FullRebuild, report.Reason = true, "no usable cache"
	case sess.cache.RequiresFullRebuild():
		report.FullRebuild, report.Reason = true, "hash algorithm changed"
	case detector.RequiresFullRebuild(changes, settingsHash, sess.cache.SettingsHash()):
		report.FullRebuild, report.Reason = true, "settings or global files changed"
	}

	if report.FullRebuild {
		report.DocumentsToRender = docs
		report.PropagatedFrom = []incremental.DocPath{}
		return report, nil
	}

	// Exports of the current build are not known before parsing, so only the
	// export-agnostic propagation is possible here.
	seeds := changes.Changed()
	result, err := sess.cache.Propagator().PropagateSimple(seeds, sess.cache.Graph())
	if err != nil {
		return changesReport{}, err
	}
	current := make(map[incremental.DocPath]struct{}, len(docs))
	for _, d := range docs {
		current[d] = struct{}{}
	}
	report.DocumentsToRender = []incremental.DocPath{}
	for _, d := range result.DocumentsToRender() {
		if _, ok := current[d]; ok {
			report.DocumentsToRender = append(report.DocumentsToRender, d)
		}
	}
	report.PropagatedFrom = result.PropagatedFrom()

	g.logger().Debug("Change report built",
		slog.Int("documents", len(docs)),
		slog.Int("render", len(report.DocumentsToRender)),
		slog.Bool("full_rebuild", report.FullRebuild))
	return report, nil
}

func printChangesReport(g *Global, r changesReport) {
	printList := func(label string, docs []incremental.DocPath) {
		fmt.Fprintf(g.Out, "%s (%d)\n", label, len(docs))
		for _, d := range docs {
			fmt.Fprintf(g.Out, "  %s\n", d)
		}
	}
	printList("dirty", r.Changes.Dirty)
	printList("new", r.Changes.New)
	printList("deleted", r.Changes.Deleted)
	fmt.Fprintf(g.Out, "clean (%d)\n", len(r.Changes.Clean))
	if r.FullRebuild {
		fmt.Fprintf(g.Out, "full rebuild required: %s\n", r.Reason)
	}
	printList("to render", r.DocumentsToRender)
}

package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/gophersatwork/incremental"
)

// Global carries what every command needs. Tests swap in an in-memory filesystem.
type Global struct {
	Fs       afero.Fs
	Out      io.Writer
	Logger   *slog.Logger
	Registry *prom.Registry
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"docscache.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Status     StatusCmd     `cmd:"" help:"Show cache metadata and statistics"`
	Changes    ChangesCmd    `cmd:"" help:"Classify documents against the cache and report what would be rendered"`
	Dependents DependentsCmd `cmd:"" help:"List every document that transitively depends on a document"`
	Prune      PruneCmd      `cmd:"" help:"Remove cached documents whose sources are gone and orphaned shards, or clear an unusable cache"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func (g *Global) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// session is a loaded configuration plus its opened cache.
type session struct {
	cfg     *incremental.Config
	cache   *incremental.Cache
	loaded  bool
	loadErr error // why a present cache could not be used
}

// openSession loads the configuration, opens the cache and loads it.
// A cold or unusable cache is not an error; loaded and loadErr report it.
func openSession(g *Global, root *CLI) (*session, error) {
	cfg, err := incremental.LoadConfig(g.Fs, root.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	algorithm, err := cfg.Algorithm()
	if err != nil {
		return nil, err
	}

	opts := []incremental.Option{
		incremental.WithFs(g.Fs),
		incremental.WithLogger(g.logger()),
		incremental.WithAlgorithm(algorithm),
	}
	if g.Registry != nil {
		opts = append(opts, incremental.WithRecorder(incremental.NewPrometheusRecorder(g.Registry)))
	}
	if cfg.PackageVersion != incremental.PackageVersion {
		opts = append(opts, incremental.WithVersioning(incremental.NewVersioning(runtime.Version(), cfg.PackageVersion)))
	}

	cache, err := incremental.Open(cfg.CacheDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	sess := &session{cfg: cfg, cache: cache}
	sess.loaded, sess.loadErr = cache.Load()
	if sess.loadErr != nil {
		g.logger().Warn("Cache unusable, treating it as cold",
			slog.String(incremental.LogKeyDir, cfg.CacheDir), slog.String(incremental.LogKeyError, sess.loadErr.Error()))
	}
	return sess, nil
}

// printMetrics writes every gathered sample as "name{labels} value".
func printMetrics(w io.Writer, reg *prom.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for i, lp := range m.GetLabel() {
				if i > 0 {
					labels += ","
				}
				labels += fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
			}
			if labels != "" {
				labels = "{" + labels + "}"
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), labels, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(w, "%s_count%s %d\n", mf.GetName(), labels, m.GetHistogram().GetSampleCount())
			}
		}
	}
	return nil
}

package incremental_test

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/afero"

	"github.com/gophersatwork/incremental"
)

const configFile = "docscache.yaml"

const baseConfig = `source_dir: docs
cache_dir: build/.cache
settings:
  theme: plain
`

// siteBuilder is a toy documentation build on top of the cache. Documents are
// plain text: the first line is the title, ".. _name:" lines declare anchors
// and "import: path" lines declare dependencies.
type siteBuilder struct {
	t       *testing.T
	fs      afero.Fs
	isDebug bool
}

type buildReport struct {
	changes incremental.ChangeDetectionResult
	full    bool
	result  incremental.PropagationResult
}

func (b *siteBuilder) build() buildReport {
	b.t.Helper()

	cfg, err := incremental.LoadConfig(b.fs, configFile)
	if err != nil {
		b.t.Fatalf("Failed to load config: %v", err)
	}
	docs, err := cfg.Discover(b.fs)
	if err != nil {
		b.t.Fatalf("Failed to discover documents: %v", err)
	}
	settingsHash, err := cfg.SettingsKey(b.fs).Hash()
	if err != nil {
		b.t.Fatalf("Failed to hash settings: %v", err)
	}

	cache, err := incremental.Open(cfg.CacheDir,
		incremental.WithFs(b.fs),
		incremental.WithNowFunc(fixedNowFunc),
		incremental.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		b.t.Fatalf("Failed to open cache: %v", err)
	}
	loaded, err := cache.Load()
	if err != nil {
		b.t.Fatalf("Failed to load cache: %v", err)
	}

	previous := cache.PreviousExports()
	changes, err := cache.ChangeDetector().DetectChangesWithResolver(docs, previous, cfg.Resolver())
	if err != nil {
		b.t.Fatalf("Failed to detect changes: %v", err)
	}
	detector, err := incremental.NewGlobalInvalidationDetector(cfg.GlobalPatterns)
	if err != nil {
		b.t.Fatalf("Failed to build detector: %v", err)
	}
	full := !loaded || cache.RequiresFullRebuild() ||
		detector.RequiresFullRebuild(changes, settingsHash, cache.SettingsHash())

	if b.isDebug {
		spew.Dump(changes)
	}

	toParse := append(slices.Clone(changes.Dirty), changes.New...)
	if full {
		toParse = docs
	}
	for _, doc := range toParse {
		b.parse(cache, cfg.Resolver()(doc), doc)
	}

	var result incremental.PropagationResult
	if full {
		result, err = incremental.NewPropagationResult(docs, nil, nil)
	} else {
		result, err = cache.Propagator().Propagate(changes, cache.Graph(), previous, cache.AllExports())
	}
	if err != nil {
		b.t.Fatalf("Failed to propagate: %v", err)
	}

	for _, doc := range changes.Deleted {
		if err := cache.RemoveDocument(doc); err != nil {
			b.t.Fatalf("Failed to remove %s: %v", doc, err)
		}
	}
	for _, doc := range result.DocumentsToRender() {
		out := "html/" + strings.TrimSuffix(doc.String(), filepath.Ext(doc.String())) + ".html"
		if err := cache.SetOutputPath(doc, out); err != nil {
			b.t.Fatalf("Failed to record output of %s: %v", doc, err)
		}
	}
	if err := cache.Save(settingsHash); err != nil {
		b.t.Fatalf("Failed to save cache: %v", err)
	}

	if b.isDebug {
		printDirTree(b.fs, cfg.CacheDir)
	}
	return buildReport{changes: changes, full: full, result: result}
}

func (b *siteBuilder) parse(cache *incremental.Cache, file string, doc incremental.DocPath) {
	b.t.Helper()

	content, err := afero.ReadFile(b.fs, file)
	if err != nil {
		b.t.Fatalf("Failed to read %s: %v", file, err)
	}
	info, err := b.fs.Stat(file)
	if err != nil {
		b.t.Fatalf("Failed to stat %s: %v", file, err)
	}

	lines := strings.Split(string(content), "\n")
	title := lines[0]
	anchors := map[string]string{}
	var imports []incremental.DocPath
	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, ".. _") && strings.HasSuffix(line, ":"):
			anchors[strings.TrimSuffix(strings.TrimPrefix(line, ".. _"), ":")] = title
		case strings.HasPrefix(line, "import: "):
			imports = append(imports, incremental.DocPath(strings.TrimPrefix(line, "import: ")))
		}
	}

	exports, err := cache.Hasher().NewExports(doc, content, info.ModTime().Unix(), anchors, nil, nil, title)
	if err != nil {
		b.t.Fatalf("Failed to build exports of %s: %v", doc, err)
	}
	if err := cache.SetExports(exports); err != nil {
		b.t.Fatalf("Failed to store exports of %s: %v", doc, err)
	}

	graph := cache.Graph()
	graph.ClearImportsFor(doc)
	for _, imp := range imports {
		graph.AddImport(doc, imp)
	}
}

// writeDoc writes a source file and pins its modification time to step.
func writeDoc(t *testing.T, fs afero.Fs, path, content string, step int) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	mtime := time.Unix(1_700_000_000+int64(step)*60, 0)
	if err := fs.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Failed to set times of %s: %v", path, err)
	}
}

func assertDocs(t *testing.T, what string, got []incremental.DocPath, want ...incremental.DocPath) {
	t.Helper()
	if want == nil {
		want = []incremental.DocPath{}
	}
	if got == nil {
		got = []incremental.DocPath{}
	}
	if !slices.Equal(got, want) {
		t.Fatalf("Unexpected %s. Expected %v, but got %v", what, want, got)
	}
}

func TestIncrementalSiteBuild(t *testing.T) {
	isDebug := false // Set to true when you want to troubleshoot issues visually.
	memFs := afero.NewMemMapFs()
	builder := &siteBuilder{t: t, fs: memFs, isDebug: isDebug}

	if err := afero.WriteFile(memFs, configFile, []byte(baseConfig), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	writeDoc(t, memFs, "docs/index.rst", "Welcome\n.. _intro:\nhello", 1)
	writeDoc(t, memFs, "docs/chapter1.rst", "Chapter 1\nimport: index.rst\n.. _setup:\nsee intro", 1)
	writeDoc(t, memFs, "docs/chapter2.rst", "Chapter 2\nimport: chapter1.rst\nsee setup", 1)

	// Cold cache: everything is new and rendered.
	report := builder.build()
	if !report.full {
		t.Fatalf("Expected a full build on a cold cache")
	}
	assertDocs(t, "new documents", report.changes.New, "chapter1.rst", "chapter2.rst", "index.rst")
	assertDocs(t, "rendered documents", report.result.DocumentsToRender(), "chapter1.rst", "chapter2.rst", "index.rst")

	// Nothing touched: everything is skipped.
	report = builder.build()
	if report.full {
		t.Fatalf("Expected an incremental build")
	}
	assertDocs(t, "clean documents", report.changes.Clean, "chapter1.rst", "chapter2.rst", "index.rst")
	assertDocs(t, "rendered documents", report.result.DocumentsToRender())
	assertDocs(t, "skipped documents", report.result.DocumentsToSkip(), "chapter1.rst", "chapter2.rst", "index.rst")

	// A body edit that keeps the exports renders the document alone.
	writeDoc(t, memFs, "docs/chapter2.rst", "Chapter 2\nimport: chapter1.rst\nsee setup again", 2)
	report = builder.build()
	assertDocs(t, "dirty documents", report.changes.Dirty, "chapter2.rst")
	assertDocs(t, "rendered documents", report.result.DocumentsToRender(), "chapter2.rst")
	assertDocs(t, "propagation sources", report.result.PropagatedFrom())

	// A new anchor in index reaches chapter1, whose own exports are unchanged.
	writeDoc(t, memFs, "docs/index.rst", "Welcome\n.. _intro:\n.. _faq:\nhello", 3)
	report = builder.build()
	assertDocs(t, "dirty documents", report.changes.Dirty, "index.rst")
	assertDocs(t, "rendered documents", report.result.DocumentsToRender(), "chapter1.rst", "index.rst")
	assertDocs(t, "skipped documents", report.result.DocumentsToSkip(), "chapter2.rst")
	assertDocs(t, "propagation sources", report.result.PropagatedFrom(), "index.rst")

	// Deleting chapter1 renders what imported it.
	if err := memFs.Remove("docs/chapter1.rst"); err != nil {
		t.Fatalf("Failed to delete chapter1: %v", err)
	}
	report = builder.build()
	assertDocs(t, "deleted documents", report.changes.Deleted, "chapter1.rst")
	assertDocs(t, "rendered documents", report.result.DocumentsToRender(), "chapter2.rst")
	assertDocs(t, "propagation sources", report.result.PropagatedFrom(), "chapter1.rst")

	// A settings change forces a full rebuild.
	newConfig := strings.Replace(baseConfig, "theme: plain", "theme: dark", 1)
	if err := afero.WriteFile(memFs, configFile, []byte(newConfig), 0o644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}
	report = builder.build()
	if !report.full {
		t.Fatalf("Expected a full build after a settings change")
	}
	assertDocs(t, "rendered documents", report.result.DocumentsToRender(), "chapter2.rst", "index.rst")

	// So does a change under a global directory.
	writeDoc(t, memFs, "docs/_templates/layout.rst", "Layout", 4)
	report = builder.build()
	if !report.full {
		t.Fatalf("Expected a full build after a template change")
	}
	assertDocs(t, "new documents", report.changes.New, "_templates/layout.rst")
	assertDocs(t, "rendered documents", report.result.DocumentsToRender(), "_templates/layout.rst", "chapter2.rst", "index.rst")

	// What the last build saved is what the next one sees.
	cache, err := incremental.Open("build/.cache", incremental.WithFs(memFs))
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	if ok, err := cache.Load(); err != nil || !ok {
		t.Fatalf("Expected a usable cache, got %v, %v", ok, err)
	}
	if e := cache.Exports("chapter1.rst"); e != nil {
		t.Fatalf("Expected chapter1 to be purged, got %v", e)
	}
	if !cache.Exports("index.rst").HasAnchor("faq") {
		t.Fatalf("Expected index to export the faq anchor")
	}
	if got := cache.OutputPath("index.rst"); got != "html/index.html" {
		t.Fatalf("Unexpected output path. Expected %q, but got %q", "html/index.html", got)
	}
}

func TestCorruptCacheFallsBackToFullBuild(t *testing.T) {
	memFs := afero.NewMemMapFs()
	builder := &siteBuilder{t: t, fs: memFs}

	if err := afero.WriteFile(memFs, configFile, []byte(baseConfig), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	writeDoc(t, memFs, "docs/index.rst", "Welcome\n.. _intro:\nhello", 1)
	builder.build()

	metaPath := filepath.Join("build", ".cache", incremental.MetaFileName)
	if err := afero.WriteFile(memFs, metaPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to corrupt metadata: %v", err)
	}

	report := builder.build()
	if !report.full {
		t.Fatalf("Expected a full build after metadata corruption")
	}
	assertDocs(t, "new documents", report.changes.New, "index.rst")
	assertDocs(t, "rendered documents", report.result.DocumentsToRender(), "index.rst")

	// The rebuild repaired the cache.
	report = builder.build()
	if report.full {
		t.Fatalf("Expected an incremental build once the cache is rewritten")
	}
	assertDocs(t, "rendered documents", report.result.DocumentsToRender())
}

func printDirTree(fs afero.Fs, path string) error {
	err := afero.Walk(fs, path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if p == path {
			return nil
		}

		rel, _ := filepath.Rel(path, p)
		depth := strings.Count(rel, string(os.PathSeparator))
		indent := strings.Repeat("│   ", depth)

		if info.IsDir() {
			fmt.Printf("%s├── %s/\n", indent, info.Name())
		} else {
			fmt.Printf("%s├── %s (%d bytes)\n", indent, info.Name(), info.Size())
		}

		return nil
	})
	if err != nil {
		log.Fatalf("Failed to inspect the folder: %v", err)
	}

	return nil
}

func fixedNowFunc() time.Time {
	return time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
}

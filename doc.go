/*
	Package incremental decides, across repeated builds of a documentation project, which documents must be re-rendered.

It combines content hashing, a dependency graph between documents and dirty-state
propagation through that graph, and persists everything between builds in a small
on-disk cache.

# Overview

A documentation build parses every source document into an abstract tree, then
renders it. Most builds only touch a handful of files, so re-rendering everything
is wasted work. incremental records, for every document, the surface it exposes to
other documents (anchors, section titles, citations, title) together with two
digests: one over the raw content and one over that exported surface. A document
whose content changed but whose exports did not is re-rendered alone; its
dependents are kept.

# Core Architecture

The cache directory holds:
  - _build_meta.json - metadata, the dependency graph and output paths
  - _exports/<2 hex>/<md5 of path>.json - one export record per document

Export records are written only for documents that changed since the last load.
The metadata file is small and rewritten atomically on every save.

# Components

  - Hasher: 128-bit XXH3 content digests (32 hex chars), SHA-256 as fallback
  - Versioning: rejects caches from another format, Go minor or package major version
  - Graph: bidirectional import graph with bounded size and cycle-safe traversal
  - ChangeDetector: modification-time fast path, content hash otherwise
  - GlobalInvalidationDetector: settings and template changes that force a full rebuild
  - DirtyPropagator: export-hash gated propagation producing a PropagationResult
  - Cache and State: persistence, and fan-out/fan-in for partitioned builds

# Basic Usage

Opening and loading a cache:

	cache, err := incremental.Open("build/.cache")
	if err != nil {
	    log.Fatalf("Failed to open cache: %v", err)
	}
	loaded, err := cache.Load()
	if err != nil || !loaded || cache.RequiresFullRebuild() {
	    // full rebuild
	}

Classifying documents and deciding what to render:

	changes, err := cache.ChangeDetector().DetectChanges(docs, cache.PreviousExports())
	if err != nil {
	    return err
	}
	// parse dirty and new documents, then for each:
	//   cache.Graph().ClearImportsFor(doc)
	//   cache.Graph().AddImport(doc, target)
	//   cache.SetExports(exports)
	result, err := cache.Propagator().Propagate(changes, cache.Graph(), cache.PreviousExports(), cache.AllExports())
	if err != nil {
	    return err
	}
	for _, doc := range result.DocumentsToRender() {
	    // render doc
	}

Saving for the next build:

	settingsHash, err := incremental.NewSettingsKey(nil).File("conf.py").Dir("_templates").Hash()
	if err != nil {
	    return err
	}
	if err := cache.Save(settingsHash); err != nil {
	    return err
	}

# Error Handling

Missing data is normal and reported with sentinel values: Load returns false
for an absent or incompatible cache, HashFile returns "" for a missing file,
OutputPath returns "" for an unknown document. Malformed cache data and limit
violations are errors wrapping ErrMalformedCache or ErrLimitExceeded; callers
should treat them as "cache unusable" and rebuild fully.

Multiple validation problems in one record are reported together in a
*ValidationError:

	var verr *incremental.ValidationError
	if errors.As(err, &verr) {
	    for _, e := range verr.Errors {
	        log.Printf("  - %v", e)
	    }
	}

# Concurrency

Mutation is single-writer. Graph, State, ChangeDetector and DirtyPropagator are
not safe for concurrent mutation. Parallel builds partition documents, build one
State per partition and merge them sequentially; BuildPartitioned does exactly
that on top of errgroup.

# Testing

Use WithFs with an in-memory filesystem and WithNowFunc for deterministic timestamps:

	cache, err := incremental.Open("cache", incremental.WithFs(afero.NewMemMapFs()))
*/
package incremental

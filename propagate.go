package incremental

import (
	"log/slog"
	"time"
)

// MaxPropagationVisits caps the number of documents one propagation visits.
// Past the cap propagation stops early instead of failing.
const MaxPropagationVisits = 100_000

// DirtyPropagator turns a change classification into a render decision.
//
// Dirtiness flows from a document to its dependents only when the document's
// exported surface changed. A document whose body changed but whose anchors,
// titles and citations did not is re-rendered alone.
type DirtyPropagator struct {
	logger   *slog.Logger
	recorder Recorder
	now      NowFunc
}

// NewDirtyPropagator creates a propagator. A nil logger selects slog.Default and
// a nil recorder disables metrics.
func NewDirtyPropagator(logger *slog.Logger, recorder Recorder) *DirtyPropagator {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &DirtyPropagator{logger: logger, recorder: recorder, now: time.Now}
}

// Propagate computes which documents must be rendered.
//
// Dirty and new documents are rendered. Dependents of deleted documents are
// rendered. From there the walk follows dependents only through documents
// whose exports hash differs between oldExports and newExports; a document
// missing on either side counts as changed.
func (p *DirtyPropagator) Propagate(changes ChangeDetectionResult, graph *Graph, oldExports, newExports map[DocPath]*DocumentExports) (PropagationResult, error) {
	start := p.now()
	if graph == nil {
		graph = NewGraph()
	}

	deleted := pathSet(changes.Deleted)
	dirty := pathSet(changes.Dirty)
	for _, doc := range changes.New {
		dirty[doc] = struct{}{}
	}
	propagatedFrom := make(map[DocPath]struct{})

	for _, doc := range changes.Deleted {
		for _, dep := range graph.Dependents(doc) {
			if _, gone := deleted[dep]; gone {
				continue
			}
			dirty[dep] = struct{}{}
			propagatedFrom[doc] = struct{}{}
		}
	}

	queue := newPathQueue(sortedPaths(dirty))
	visited := make(map[DocPath]struct{}, len(dirty))
	for {
		doc, ok := queue.pop()
		if !ok {
			break
		}
		if _, seen := visited[doc]; seen {
			continue
		}
		if len(visited) >= MaxPropagationVisits {
			p.logger.Warn("Propagation visit cap reached, stopping early",
				logCount(MaxPropagationVisits), slog.Int("pending", queue.len()+1))
			break
		}
		visited[doc] = struct{}{}

		if !oldExports[doc].ExportsChanged(newExports[doc]) {
			p.logger.Debug("Exports unchanged, dependents kept", logDoc(doc))
			continue
		}
		for _, dep := range graph.Dependents(doc) {
			if _, gone := deleted[dep]; gone {
				continue
			}
			propagatedFrom[doc] = struct{}{}
			if _, already := dirty[dep]; already {
				continue
			}
			dirty[dep] = struct{}{}
			queue.push(dep)
		}
	}

	result, err := NewPropagationResult(sortedPaths(dirty), changes.Clean, sortedPaths(propagatedFrom))
	if err != nil {
		return PropagationResult{}, err
	}

	elapsed := p.now().Sub(start)
	p.recorder.ObservePropagation(result.RenderCount(), result.SkipCount(), elapsed)
	p.logger.Debug("Propagation finished",
		slog.Int("render", result.RenderCount()),
		slog.Int("skip", result.SkipCount()),
		logDurationMS(float64(elapsed.Microseconds())/1000))
	return result, nil
}

// PropagateSimple renders the dirty documents and every transitive dependent,
// without comparing exports. Use it when the exports of the current build are
// not known yet.
func (p *DirtyPropagator) PropagateSimple(dirty []DocPath, graph *Graph) (PropagationResult, error) {
	start := p.now()
	if graph == nil {
		graph = NewGraph()
	}

	render := graph.PropagateDirty(dirty)
	var sources []DocPath
	for _, doc := range sortedPaths(pathSet(dirty)) {
		if len(graph.dependents[doc]) > 0 {
			sources = append(sources, doc)
		}
	}

	result, err := NewPropagationResult(render, nil, sources)
	if err != nil {
		return PropagationResult{}, err
	}
	p.recorder.ObservePropagation(result.RenderCount(), 0, p.now().Sub(start))
	return result, nil
}

package incremental

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// Graph records "document imports from document" relationships in both directions.
//
// imports[A] contains B when A imports from B; dependents[B] then contains A.
// The two maps always mirror each other, self-edges are never stored and empty
// sets are removed. Graph is not safe for concurrent mutation.
type Graph struct {
	imports    map[DocPath]map[DocPath]struct{}
	dependents map[DocPath]map[DocPath]struct{}
	degree     map[DocPath]int // in+out degree; its key set is the document set
	edges      int
}

// GraphData is the serialized form of a Graph.
type GraphData struct {
	Imports    map[string][]string `json:"imports"`
	Dependents map[string][]string `json:"dependents"`
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		imports:    make(map[DocPath]map[DocPath]struct{}),
		dependents: make(map[DocPath]map[DocPath]struct{}),
		degree:     make(map[DocPath]int),
	}
}

// AddImport records that from imports from to.
// Self-imports and existing edges are accepted as no-ops.
// It returns false, leaving the graph untouched, when the edge would breach
// MaxTotalEdges, MaxImportsPerDocument or MaxDocuments. Callers must then fall
// back to a full rebuild rather than drop the edge.
func (g *Graph) AddImport(from, to DocPath) bool {
	if from == to {
		return true
	}
	if _, ok := g.imports[from][to]; ok {
		return true
	}
	if g.edges >= MaxTotalEdges {
		return false
	}
	if len(g.imports[from]) >= MaxImportsPerDocument {
		return false
	}

	newDocs := 0
	if g.degree[from] == 0 {
		newDocs++
	}
	if g.degree[to] == 0 {
		newDocs++
	}
	if len(g.degree)+newDocs > MaxDocuments {
		return false
	}

	g.link(from, to)
	return true
}

// HasImport reports whether the edge from → to exists.
func (g *Graph) HasImport(from, to DocPath) bool {
	_, ok := g.imports[from][to]
	return ok
}

// Imports returns the documents doc imports from, sorted.
func (g *Graph) Imports(doc DocPath) []DocPath {
	return sortedPaths(g.imports[doc])
}

// Dependents returns the documents importing from doc, sorted.
func (g *Graph) Dependents(doc DocPath) []DocPath {
	return sortedPaths(g.dependents[doc])
}

// Documents returns every document with at least one edge, sorted.
func (g *Graph) Documents() []DocPath {
	docs := make([]DocPath, 0, len(g.degree))
	for d := range g.degree {
		docs = append(docs, d)
	}
	slices.Sort(docs)
	return docs
}

// DocumentCount returns the number of distinct documents in the graph.
func (g *Graph) DocumentCount() int { return len(g.degree) }

// EdgeCount returns the number of import edges.
func (g *Graph) EdgeCount() int { return g.edges }

// PropagateDirty returns the seeds plus every document that transitively
// depends on one of them, sorted. Each document is visited once, so cycles terminate.
func (g *Graph) PropagateDirty(seeds []DocPath) []DocPath {
	visited := make(map[DocPath]struct{}, len(seeds))
	for doc := range g.PropagateDirtySeq(seeds) {
		visited[doc] = struct{}{}
	}
	return sortedPaths(visited)
}

// PropagateDirtySeq yields the same documents as PropagateDirty in
// breadth-first order without materializing the result.
func (g *Graph) PropagateDirtySeq(seeds []DocPath) iter.Seq[DocPath] {
	return func(yield func(DocPath) bool) {
		visited := make(map[DocPath]struct{}, len(seeds))
		queue := newPathQueue(nil)
		for _, s := range seeds {
			if _, ok := visited[s]; ok {
				continue
			}
			visited[s] = struct{}{}
			queue.push(s)
		}

		for {
			doc, ok := queue.pop()
			if !ok {
				return
			}
			if !yield(doc) {
				return
			}
			for dep := range g.dependents[doc] {
				if _, seen := visited[dep]; seen {
					continue
				}
				visited[dep] = struct{}{}
				queue.push(dep)
			}
		}
	}
}

// RemoveDocument removes doc and every edge touching it in O(degree).
func (g *Graph) RemoveDocument(doc DocPath) {
	for _, to := range sortedPaths(g.imports[doc]) {
		g.unlink(doc, to)
	}
	for _, from := range sortedPaths(g.dependents[doc]) {
		g.unlink(from, doc)
	}
}

// ClearImportsFor removes the outgoing edges of doc, keeping edges into it.
// Used before recording the imports of a re-parsed document.
func (g *Graph) ClearImportsFor(doc DocPath) {
	for _, to := range sortedPaths(g.imports[doc]) {
		g.unlink(doc, to)
	}
}

// Merge adds every edge of other to g. Limits are not enforced; call
// ValidateLimits afterwards when bounds matter. Merge is not safe to call
// concurrently.
func (g *Graph) Merge(other *Graph) {
	if other == nil {
		return
	}
	for from, tos := range other.imports {
		for to := range tos {
			if _, ok := g.imports[from][to]; !ok {
				g.link(from, to)
			}
		}
	}
}

// ValidateLimits checks the document, per-document and total edge bounds.
func (g *Graph) ValidateLimits() error {
	if len(g.degree) > MaxDocuments {
		return limitError("document count", len(g.degree), MaxDocuments)
	}
	if g.edges > MaxTotalEdges {
		return limitError("total edges", g.edges, MaxTotalEdges)
	}
	for from, tos := range g.imports {
		if len(tos) > MaxImportsPerDocument {
			return fmt.Errorf("document %q: %w", from, limitError("imports", len(tos), MaxImportsPerDocument))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	c := NewGraph()
	c.Merge(g)
	return c
}

// ToData returns the serialized form with sorted edge lists.
func (g *Graph) ToData() GraphData {
	return GraphData{
		Imports:    adjacencyData(g.imports),
		Dependents: adjacencyData(g.dependents),
	}
}

// GraphFromData rebuilds a Graph from persisted data, re-validating every bound
// before materializing anything. The data is untrusted.
func GraphFromData(data GraphData) (*Graph, error) {
	if err := checkAdjacencyBounds("imports", data.Imports, true); err != nil {
		return nil, err
	}
	if err := checkAdjacencyBounds("dependents", data.Dependents, false); err != nil {
		return nil, err
	}

	g := NewGraph()
	for from, tos := range data.Imports {
		for _, to := range tos {
			if from != to {
				g.linkOnce(DocPath(from), DocPath(to))
			}
		}
	}
	// Dependents normally mirror imports exactly; union them so a half-written
	// file still yields a consistent graph.
	for to, froms := range data.Dependents {
		for _, from := range froms {
			if from != to {
				g.linkOnce(DocPath(from), DocPath(to))
			}
		}
	}

	if err := g.ValidateLimits(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCache, err)
	}
	return g, nil
}

// MarshalJSON implements json.Marshaler.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.ToData())
}

// UnmarshalJSON implements json.Unmarshaler. Non-array values and non-string
// edge targets are rejected.
func (g *Graph) UnmarshalJSON(b []byte) error {
	var data GraphData
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("%w: dependency graph: %w", ErrMalformedCache, err)
	}
	parsed, err := GraphFromData(data)
	if err != nil {
		return err
	}
	*g = *parsed
	return nil
}

func (g *Graph) link(from, to DocPath) {
	if g.imports[from] == nil {
		g.imports[from] = make(map[DocPath]struct{})
	}
	if g.dependents[to] == nil {
		g.dependents[to] = make(map[DocPath]struct{})
	}
	g.imports[from][to] = struct{}{}
	g.dependents[to][from] = struct{}{}
	g.degree[from]++
	g.degree[to]++
	g.edges++
}

func (g *Graph) linkOnce(from, to DocPath) {
	if _, ok := g.imports[from][to]; !ok {
		g.link(from, to)
	}
}

func (g *Graph) unlink(from, to DocPath) {
	if _, ok := g.imports[from][to]; !ok {
		return
	}
	delete(g.imports[from], to)
	if len(g.imports[from]) == 0 {
		delete(g.imports, from)
	}
	delete(g.dependents[to], from)
	if len(g.dependents[to]) == 0 {
		delete(g.dependents, to)
	}
	g.release(from)
	g.release(to)
	g.edges--
}

func (g *Graph) release(doc DocPath) {
	g.degree[doc]--
	if g.degree[doc] <= 0 {
		delete(g.degree, doc)
	}
}

func adjacencyData(adj map[DocPath]map[DocPath]struct{}) map[string][]string {
	out := make(map[string][]string, len(adj))
	for doc, set := range adj {
		list := make([]string, 0, len(set))
		for _, p := range sortedPaths(set) {
			list = append(list, p.String())
		}
		out[doc.String()] = list
	}
	return out
}

// checkAdjacencyBounds runs the cheap size checks on raw adjacency data.
// The per-document cap only applies to the imports side.
func checkAdjacencyBounds(field string, adj map[string][]string, perDocument bool) error {
	if len(adj) > MaxDocuments {
		return fmt.Errorf("%w: %s: %w", ErrMalformedCache, field, limitError("document count", len(adj), MaxDocuments))
	}
	total := 0
	for doc, list := range adj {
		if err := DocPath(doc).Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformedCache, field, err)
		}
		if perDocument && len(list) > MaxImportsPerDocument {
			return fmt.Errorf("%w: %s of %q: %w", ErrMalformedCache, field, doc, limitError("imports", len(list), MaxImportsPerDocument))
		}
		total += len(list)
		if total > MaxTotalEdges {
			return fmt.Errorf("%w: %s: %w", ErrMalformedCache, field, limitError("total edges", total, MaxTotalEdges))
		}
		for _, target := range list {
			if err := DocPath(target).Validate(); err != nil {
				return fmt.Errorf("%w: %s of %q: %w", ErrMalformedCache, field, doc, err)
			}
		}
	}
	return nil
}

package incremental

import (
	"encoding/json"
	"fmt"
	"maps"
)

// State holds the exports, dependency graph and output paths of one build run,
// plus the exports of the previous build used for change detection.
//
// Mutating methods are not safe for concurrent use. Workers in a partitioned
// build each own a State; the coordinator merges them one after another.
type State struct {
	exports         map[DocPath]*DocumentExports
	previousExports map[DocPath]*DocumentExports
	outputs         map[DocPath]string
	graph           *Graph
	hashAlgorithm   Algorithm // "" for state written before the algorithm was recorded
}

// NewState creates an empty State recording algorithm as the hash algorithm.
func NewState(algorithm Algorithm) *State {
	return &State{
		exports:         make(map[DocPath]*DocumentExports),
		previousExports: make(map[DocPath]*DocumentExports),
		outputs:         make(map[DocPath]string),
		graph:           NewGraph(),
		hashAlgorithm:   algorithm,
	}
}

// SetExports stores the exports of a document, replacing any earlier value.
func (s *State) SetExports(e *DocumentExports) error {
	if e == nil {
		return ErrNilExports
	}
	if err := e.Path().Validate(); err != nil {
		return err
	}
	if _, ok := s.exports[e.Path()]; !ok && len(s.exports) >= MaxDocuments {
		return limitError("exports count", len(s.exports)+1, MaxDocuments)
	}
	s.exports[e.Path()] = e
	return nil
}

// Exports returns the current exports of doc, or nil.
func (s *State) Exports(doc DocPath) *DocumentExports {
	return s.exports[doc]
}

// AllExports returns a copy of the current exports map.
func (s *State) AllExports() map[DocPath]*DocumentExports {
	return maps.Clone(s.exports)
}

// PreviousExports returns the exports of doc from the previous build, or nil.
func (s *State) PreviousExports(doc DocPath) *DocumentExports {
	return s.previousExports[doc]
}

// AllPreviousExports returns a copy of the previous build's exports map.
func (s *State) AllPreviousExports() map[DocPath]*DocumentExports {
	return maps.Clone(s.previousExports)
}

// SetPreviousExports replaces the previous build's exports.
func (s *State) SetPreviousExports(prev map[DocPath]*DocumentExports) {
	s.previousExports = maps.Clone(prev)
	if s.previousExports == nil {
		s.previousExports = make(map[DocPath]*DocumentExports)
	}
}

// Graph returns the dependency graph. The graph is owned by the State.
func (s *State) Graph() *Graph {
	return s.graph
}

// SetOutputPath records where the rendered output of doc lives.
func (s *State) SetOutputPath(doc DocPath, path string) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if len(path) > MaxStringLength {
		return limitError("output path length", len(path), MaxStringLength)
	}
	if _, ok := s.outputs[doc]; !ok && len(s.outputs) >= MaxDocuments {
		return limitError("output path count", len(s.outputs)+1, MaxDocuments)
	}
	s.outputs[doc] = path
	return nil
}

// OutputPath returns the recorded output path of doc, "" when unknown.
func (s *State) OutputPath(doc DocPath) string {
	return s.outputs[doc]
}

// Outputs returns a copy of the output path map.
func (s *State) Outputs() map[DocPath]string {
	return maps.Clone(s.outputs)
}

// RemoveDocument drops doc from exports, outputs and the graph.
func (s *State) RemoveDocument(doc DocPath) {
	delete(s.exports, doc)
	delete(s.outputs, doc)
	s.graph.RemoveDocument(doc)
}

// Documents returns every document with exports, sorted.
func (s *State) Documents() []DocPath {
	docs := make(map[DocPath]struct{}, len(s.exports))
	for doc := range s.exports {
		docs[doc] = struct{}{}
	}
	return sortedPaths(docs)
}

// HashAlgorithm returns the algorithm the state's hashes were computed with.
// State that recorded none is assumed to use LegacyAlgorithm.
func (s *State) HashAlgorithm() Algorithm {
	if s.hashAlgorithm == "" {
		return LegacyAlgorithm
	}
	return s.hashAlgorithm
}

// RequiresFullRebuild reports whether the state's hashes cannot be compared
// with hashes computed by current.
func (s *State) RequiresFullRebuild(current Algorithm) bool {
	return s.HashAlgorithm() != current
}

// Merge folds other into s. On conflicting exports or output paths the value
// already in s wins. Limits are checked against the merged result before s is
// touched, so a rejected merge leaves s unchanged.
// Merge must not be called concurrently.
func (s *State) Merge(other *State) error {
	if other == nil {
		return nil
	}

	exports := maps.Clone(s.exports)
	for doc, e := range other.exports {
		if _, ok := exports[doc]; ok {
			continue
		}
		if len(exports) >= MaxDocuments {
			return limitError("exports count", len(exports)+1, MaxDocuments)
		}
		exports[doc] = e
	}
	outputs := maps.Clone(s.outputs)
	for doc, p := range other.outputs {
		if _, ok := outputs[doc]; ok {
			continue
		}
		if len(outputs) >= MaxDocuments {
			return limitError("output path count", len(outputs)+1, MaxDocuments)
		}
		outputs[doc] = p
	}
	graph := s.graph.Clone()
	graph.Merge(other.graph)
	if err := graph.ValidateLimits(); err != nil {
		return err
	}

	s.exports = exports
	s.outputs = outputs
	// Keep the graph pointer stable for callers holding Graph().
	*s.graph = *graph
	return nil
}

// Clone returns a deep copy. Exports values are immutable and shared.
func (s *State) Clone() *State {
	return &State{
		exports:         maps.Clone(s.exports),
		previousExports: maps.Clone(s.previousExports),
		outputs:         maps.Clone(s.outputs),
		graph:           s.graph.Clone(),
		hashAlgorithm:   s.hashAlgorithm,
	}
}

type stateJSON struct {
	HashAlgorithm string                      `json:"hashAlgorithm,omitempty"`
	Exports       map[string]*DocumentExports `json:"exports"`
	Dependencies  GraphData                   `json:"dependencies"`
	Outputs       map[string]string           `json:"outputs"`
}

// MarshalJSON implements json.Marshaler. Previous exports are not included.
func (s *State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		HashAlgorithm: string(s.hashAlgorithm),
		Exports:       make(map[string]*DocumentExports, len(s.exports)),
		Dependencies:  s.graph.ToData(),
		Outputs:       make(map[string]string, len(s.outputs)),
	}
	for doc, e := range s.exports {
		out.Exports[doc.String()] = e
	}
	for doc, p := range s.outputs {
		out.Outputs[doc.String()] = p
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler with the same validation as a cache load.
func (s *State) UnmarshalJSON(b []byte) error {
	var in stateJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return fmt.Errorf("%w: state: %w", ErrMalformedCache, err)
	}

	var algorithm Algorithm
	if in.HashAlgorithm != "" {
		a, err := ParseAlgorithm(in.HashAlgorithm)
		if err != nil {
			return err
		}
		algorithm = a
	}

	graph, err := GraphFromData(in.Dependencies)
	if err != nil {
		return err
	}

	parsed := NewState(algorithm)
	parsed.graph = graph
	if err := parsed.loadExports(in.Exports); err != nil {
		return err
	}
	if err := parsed.loadOutputs(in.Outputs); err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// loadExports installs exports read from untrusted data. Keys must match the
// records' own document paths.
func (s *State) loadExports(exports map[string]*DocumentExports) error {
	if len(exports) > MaxDocuments {
		return fmt.Errorf("%w: %w", ErrMalformedCache, limitError("exports count", len(exports), MaxDocuments))
	}
	for key, e := range exports {
		if e == nil {
			return fmt.Errorf("%w: exports of %q is null", ErrMalformedCache, key)
		}
		if e.Path().String() != key {
			return fmt.Errorf("%w: exports key %q holds document %q", ErrMalformedCache, key, e.Path())
		}
		if err := s.SetExports(e); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedCache, err)
		}
	}
	return nil
}

func (s *State) loadOutputs(outputs map[string]string) error {
	if len(outputs) > MaxDocuments {
		return fmt.Errorf("%w: %w", ErrMalformedCache, limitError("output path count", len(outputs), MaxDocuments))
	}
	for doc, p := range outputs {
		if err := s.SetOutputPath(DocPath(doc), p); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedCache, err)
		}
	}
	return nil
}

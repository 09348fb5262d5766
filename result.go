package incremental

import (
	"encoding/json"
	"slices"
)

// PropagationResult is the render decision handed to the renderer.
// DocumentsToRender is authoritative: everything else may be served from
// previously rendered output.
// Values are immutable; accessors return copies.
type PropagationResult struct {
	toRender       []DocPath
	toSkip         []DocPath
	propagatedFrom []DocPath
	render         map[DocPath]struct{}
}

// NewPropagationResult builds a result from render and skip sets.
// Documents present in both are rendered. Every list is deduplicated and sorted.
func NewPropagationResult(toRender, toSkip, propagatedFrom []DocPath) (PropagationResult, error) {
	render := pathSet(toRender)
	skip := pathSet(toSkip)
	for doc := range render {
		delete(skip, doc)
	}
	if n := len(render) + len(skip); n > MaxDocuments {
		return PropagationResult{}, limitError("propagation result size", n, MaxDocuments)
	}
	if len(propagatedFrom) > MaxDocuments {
		return PropagationResult{}, limitError("propagation sources", len(propagatedFrom), MaxDocuments)
	}
	return PropagationResult{
		toRender:       sortedPaths(render),
		toSkip:         sortedPaths(skip),
		propagatedFrom: sortedPaths(pathSet(propagatedFrom)),
		render:         render,
	}, nil
}

// DocumentsToRender returns the documents that must be (re)rendered.
func (r PropagationResult) DocumentsToRender() []DocPath {
	return slices.Clone(r.toRender)
}

// DocumentsToSkip returns the clean documents whose cached output can be reused.
func (r PropagationResult) DocumentsToSkip() []DocPath {
	return slices.Clone(r.toSkip)
}

// PropagatedFrom returns the documents whose exported surface changed (or which
// were deleted) and so triggered re-rendering of their dependents.
func (r PropagationResult) PropagatedFrom() []DocPath {
	return slices.Clone(r.propagatedFrom)
}

// ShouldRender reports whether doc must be rendered.
func (r PropagationResult) ShouldRender(doc DocPath) bool {
	_, ok := r.render[doc]
	return ok
}

// RenderCount returns the number of documents to render.
func (r PropagationResult) RenderCount() int { return len(r.toRender) }

// SkipCount returns the number of documents to skip.
func (r PropagationResult) SkipCount() int { return len(r.toSkip) }

type propagationResultJSON struct {
	DocumentsToRender []DocPath `json:"documentsToRender"`
	DocumentsToSkip   []DocPath `json:"documentsToSkip"`
	PropagatedFrom    []DocPath `json:"propagatedFrom"`
}

// MarshalJSON implements json.Marshaler.
func (r PropagationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(propagationResultJSON{
		DocumentsToRender: nonNilPaths(r.toRender),
		DocumentsToSkip:   nonNilPaths(r.toSkip),
		PropagatedFrom:    nonNilPaths(r.propagatedFrom),
	})
}

func nonNilPaths(p []DocPath) []DocPath {
	if p == nil {
		return []DocPath{}
	}
	return p
}

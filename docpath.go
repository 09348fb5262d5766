package incremental

import (
	"fmt"
	"slices"
	"unicode"
)

// Bounds applied to in-memory state and to everything read back from disk.
const (
	// MaxDocuments is the maximum number of distinct documents tracked by a
	// graph, a cache or a propagation result.
	MaxDocuments = 100_000

	// MaxImportsPerDocument is the maximum number of outgoing import edges of one document.
	MaxImportsPerDocument = 1_000

	// MaxTotalEdges is the maximum number of edges in a dependency graph.
	MaxTotalEdges = 2_000_000

	// MaxStringLength is the maximum length in bytes of any persisted string field.
	MaxStringLength = 65_536

	// MaxCollectionItems is the maximum number of items in a persisted map or list field.
	MaxCollectionItems = 10_000

	// MaxTimestamp is the upper bound accepted for lastModified (2100-01-01T00:00:00Z).
	MaxTimestamp = 4_102_444_800
)

// DocPath identifies a document by its relative source path.
// It is always serialized as a string, including purely numeric paths.
type DocPath string

// String returns the path as a plain string.
func (p DocPath) String() string {
	return string(p)
}

// Validate checks that the path is non-empty, bounded and free of control characters.
func (p DocPath) Validate() error {
	if p == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDocPath)
	}
	return p.validateChars()
}

// validateChars runs the checks that also apply to the empty path.
func (p DocPath) validateChars() error {
	if len(p) > MaxStringLength {
		return fmt.Errorf("%w: %w", ErrInvalidDocPath, limitError("path length", len(p), MaxStringLength))
	}
	for _, r := range string(p) {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control character %U", ErrInvalidDocPath, r)
		}
	}
	return nil
}

// sortedPaths returns the members of a path set in lexical order.
func sortedPaths(set map[DocPath]struct{}) []DocPath {
	paths := make([]DocPath, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// pathSet builds a set from a list of paths.
func pathSet(paths []DocPath) map[DocPath]struct{} {
	set := make(map[DocPath]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

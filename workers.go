package incremental

import (
	"context"
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// PartitionFunc builds the state for one partition of documents.
// It owns state exclusively and must not retain it after returning.
type PartitionFunc func(ctx context.Context, docs []DocPath, state *State) error

// BuildPartitioned splits docs into at most workers contiguous partitions,
// runs fn on each concurrently with its own State, then merges the partial
// states one after another in partition order. On conflicting entries the
// earlier partition wins.
// workers <= 0 uses the number of CPUs.
func BuildPartitioned(ctx context.Context, docs []DocPath, workers int, algorithm Algorithm, fn PartitionFunc) (*State, error) {
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	sorted := slices.Clone(docs)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	partitions := partition(sorted, workers)
	states := make([]*State, len(partitions))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, part := range partitions {
		states[i] = NewState(algorithm)
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			if err := fn(groupCtx, part, states[i]); err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := NewState(algorithm)
	for i, s := range states {
		if err := merged.Merge(s); err != nil {
			return nil, fmt.Errorf("merge partition %d: %w", i, err)
		}
	}
	return merged, nil
}

// partition splits docs into at most n contiguous, nearly equal chunks.
func partition(docs []DocPath, n int) [][]DocPath {
	if len(docs) == 0 {
		return nil
	}
	n = min(n, len(docs))
	parts := make([][]DocPath, 0, n)
	size, rest := len(docs)/n, len(docs)%n
	start := 0
	for i := range n {
		end := start + size
		if i < rest {
			end++
		}
		parts = append(parts, docs[start:end:end])
		start = end
	}
	return parts
}

package resolver

import (
	"context"
	"fmt"

	"github.com/zomboidtools/modfetch/internal/logger"
)

// MetadataSource supplies dependency metadata for a Workshop item.
type MetadataSource interface {
	Dependencies(ctx context.Context, id string) ([]string, error)
}

// Warning is a non-fatal diagnostic produced during closure expansion.
// Unresolvable metadata never blocks the seed item from being fetched.
type Warning struct {
	ItemID  string
	Message string
}

// Resolver expands a set of seed items into the full transitive closure of
// required items.
type Resolver struct {
	source MetadataSource
	log    *logger.Logger
}

// New creates a new Resolver backed by the given metadata source.
func New(source MetadataSource, log *logger.Logger) *Resolver {
	return &Resolver{source: source, log: log}
}

// Resolve returns the direct dependency ids of a single item.
func (r *Resolver) Resolve(ctx context.Context, id string) ([]string, error) {
	return r.source.Dependencies(ctx, id)
}

// ExpandClosure performs a breadth-first traversal over Resolve, producing
// a deduplicated list containing each reachable id exactly once: seeds
// first in their given order, then dependencies in discovery order. The
// order is deterministic for a fixed dependency graph.
//
// Cycles are tolerated: an id already in the closure is not re-resolved,
// and the revisit is reported as a warning. Failed metadata lookups are
// also warnings, never errors.
func (r *Resolver) ExpandClosure(ctx context.Context, seeds []string) ([]string, []Warning) {
	var (
		closure  []string
		warnings []Warning
		queue    []string
		seen     = make(map[string]bool, len(seeds))
	)

	for _, id := range seeds {
		if seen[id] {
			continue
		}
		seen[id] = true
		closure = append(closure, id)
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		deps, err := r.source.Dependencies(ctx, id)
		if err != nil {
			warnings = append(warnings, Warning{
				ItemID:  id,
				Message: fmt.Sprintf("dependency metadata unavailable: %v", err),
			})
			r.log.WithField("item", id).WithError(err).
				Warn("could not resolve dependencies, item proceeds without them")
			continue
		}

		for _, dep := range deps {
			if seen[dep] {
				if dep == id {
					continue
				}
				warnings = append(warnings, Warning{
					ItemID:  dep,
					Message: fmt.Sprintf("already in closure (cycle via %s)", id),
				})
				continue
			}
			seen[dep] = true
			closure = append(closure, dep)
			queue = append(queue, dep)
		}
	}

	return closure, warnings
}

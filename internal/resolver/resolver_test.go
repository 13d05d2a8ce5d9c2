package resolver

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomboidtools/modfetch/internal/logger"
)

// fakeSource serves a fixed dependency graph.
type fakeSource struct {
	graph map[string][]string
	fail  map[string]error
	calls int
}

func (f *fakeSource) Dependencies(_ context.Context, id string) ([]string, error) {
	f.calls++
	if err, ok := f.fail[id]; ok {
		return nil, err
	}
	return f.graph[id], nil
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Output: io.Discard})
}

func TestExpandClosureIncludesTransitiveDeps(t *testing.T) {
	source := &fakeSource{graph: map[string][]string{
		"B": {"A"},
		"A": {},
	}}
	r := New(source, testLogger())

	closure, warnings := r.ExpandClosure(context.Background(), []string{"B"})

	assert.Equal(t, []string{"B", "A"}, closure)
	assert.Empty(t, warnings)
}

func TestExpandClosureDeduplicates(t *testing.T) {
	// diamond: both seeds require C
	source := &fakeSource{graph: map[string][]string{
		"A": {"C"},
		"B": {"C"},
	}}
	r := New(source, testLogger())

	closure, _ := r.ExpandClosure(context.Background(), []string{"A", "B", "A"})

	assert.Equal(t, []string{"A", "B", "C"}, closure)
}

func TestExpandClosureIsIdempotent(t *testing.T) {
	source := &fakeSource{graph: map[string][]string{
		"A": {"B", "C"},
		"B": {"D"},
	}}
	r := New(source, testLogger())

	once, _ := r.ExpandClosure(context.Background(), []string{"A"})
	twice, _ := r.ExpandClosure(context.Background(), once)

	assert.ElementsMatch(t, once, twice)
}

func TestExpandClosureBreaksCycles(t *testing.T) {
	source := &fakeSource{graph: map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": {"A"}, // cycle back to the seed
		"D": {"D"}, // self-loop
	}}
	r := New(source, testLogger())

	closure, warnings := r.ExpandClosure(context.Background(), []string{"A", "D"})

	require.ElementsMatch(t, []string{"A", "B", "C", "D"}, closure)
	assert.NotEmpty(t, warnings, "cycle revisit must be reported as a diagnostic")

	// determinism for a fixed graph
	again, _ := r.ExpandClosure(context.Background(), []string{"A", "D"})
	assert.Equal(t, closure, again)
}

func TestExpandClosureToleratesMissingMetadata(t *testing.T) {
	source := &fakeSource{
		graph: map[string][]string{"B": {"C"}},
		fail:  map[string]error{"A": errors.New("api unavailable")},
	}
	r := New(source, testLogger())

	closure, warnings := r.ExpandClosure(context.Background(), []string{"A", "B"})

	// the seed still proceeds to fetch despite unresolvable metadata
	assert.Equal(t, []string{"A", "B", "C"}, closure)
	require.Len(t, warnings, 1)
	assert.Equal(t, "A", warnings[0].ItemID)
}

func TestResolveDelegatesToSource(t *testing.T) {
	source := &fakeSource{graph: map[string][]string{"A": {"B", "C"}}}
	r := New(source, testLogger())

	deps, err := r.Resolve(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, deps)
}

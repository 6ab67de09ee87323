// Package integration drives the end-to-end scenarios the fuzzing runtime's
// unit tests can't exercise on their own: a full fuzzer loop against a
// scripted harness, across corpus, feedback, scheduler, mutator, and stage
// packages together, composing corpus/feedback/scheduler/mutator/stage
// against a scripted fake target rather than any single package's own
// unit tests.
package integration

import (
	"bytes"
	"context"
	"testing"

	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/corefuzz/corefuzz/internal/feedback"
	"github.com/corefuzz/corefuzz/internal/fuzzer"
	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/corefuzz/corefuzz/internal/mutator"
	"github.com/corefuzz/corefuzz/internal/observer"
	"github.com/corefuzz/corefuzz/internal/runstate"
	"github.com/corefuzz/corefuzz/internal/scheduler"
	"github.com/corefuzz/corefuzz/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor drives a caller-supplied classify function and toggles a
// coverage byte whenever interesting signals fire, so MaxMapFeedback sees
// genuine novelty without a real compiled target.
type scriptedExecutor struct {
	edges    *observer.Edges
	classify func(data []byte) (observer.ExitKind, byte)
}

func newScriptedExecutor(mapSize int, classify func([]byte) (observer.ExitKind, byte)) *scriptedExecutor {
	return &scriptedExecutor{edges: observer.NewEdges("edges", mapSize), classify: classify}
}

func (e *scriptedExecutor) Observers() []observer.Observer       { return []observer.Observer{e.edges} }
func (e *scriptedExecutor) PreExecObservers()                    { e.edges.PreExec() }
func (e *scriptedExecutor) PostExecObservers(observer.ExitKind) {}
func (e *scriptedExecutor) RunTarget(ctx context.Context, in *input.Input) observer.ExitKind {
	kind, signal := e.classify(in.Bytes())
	e.edges.Map[0] = signal
	return kind
}

func newEngine(t *testing.T, ex *scriptedExecutor, objective feedback.Feedback) (*fuzzer.Fuzzer, *runstate.State) {
	t.Helper()
	solutions, err := corpus.NewSolutions(t.TempDir())
	require.NoError(t, err)

	st := runstate.New(corpus.NewInMemory(), solutions, 1<<16)
	fb := feedback.NewMaxMapFeedback("coverage", "edges", 64)
	mut := mutator.NewHavoc(mutator.PNGDictionary, 8)

	f := fuzzer.New(st, ex, scheduler.NewQueue(), mut,
		[]stage.Stage{stage.NewMutationalStage()}, fb, objective)
	f.EdgesHandle = "edges"
	return f, st
}

// S1 — Discover a single new edge: an empty corpus seeded with [0x00], a
// harness that crashes iff the input contains 0xFF. Repeated havoc mutation
// must eventually produce a crashing input.
func TestS1DiscoverSingleNewEdge(t *testing.T) {
	ex := newScriptedExecutor(64, func(data []byte) (observer.ExitKind, byte) {
		if bytes.IndexByte(data, 0xFF) >= 0 {
			return observer.Crash, 1
		}
		return observer.Ok, 0
	})
	objective := feedback.ShortCircuitOr("objective", feedback.NewCrashFeedback(), feedback.NewTimeoutFeedback())
	f, st := newEngine(t, ex, objective)

	seed := corpus.NewTestcase(input.New([]byte{0x00}))
	_, err := st.Corpus.Add(seed)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 20000 && st.Solutions.Count() == 0; i++ {
		require.NoError(t, f.FuzzOne(ctx))
	}

	require.GreaterOrEqual(t, st.Solutions.Count(), 1, "expected at least one solution after bounded mutation")
	id, ok := st.Solutions.First()
	require.True(t, ok)
	tc, ok := st.Solutions.Get(id)
	require.True(t, ok)
	cause, ok := tc.CrashCause()
	require.True(t, ok)
	assert.Equal(t, corpus.CauseCrash, cause.Kind)
}

// S3 — PNG dictionary: an empty corpus, a harness that reports a coverage
// gain only when the candidate starts with the PNG magic. The havoc
// mutator's dictionary splice must eventually produce an input beginning
// with the magic bytes.
func TestS3PNGDictionaryDiscovery(t *testing.T) {
	magic := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	ex := newScriptedExecutor(64, func(data []byte) (observer.ExitKind, byte) {
		if bytes.HasPrefix(data, magic) {
			return observer.Ok, 1
		}
		return observer.Ok, 0
	})
	objective := feedback.ShortCircuitOr("objective", feedback.NewCrashFeedback())
	f, st := newEngine(t, ex, objective)

	seed := corpus.NewTestcase(input.New(nil))
	_, err := st.Corpus.Add(seed)
	require.NoError(t, err)

	ctx := context.Background()
	found := false
	for i := 0; i < 20000 && !found; i++ {
		require.NoError(t, f.FuzzOne(ctx))
		for _, id := range st.Corpus.Ids() {
			tc, ok := st.Corpus.Get(id)
			if ok && bytes.HasPrefix(tc.Input.Bytes(), magic) {
				found = true
				break
			}
		}
	}

	assert.True(t, found, "expected a corpus entry starting with the PNG magic within bounded iterations")
}

// S5 — Objective OR order: CrashFeedback OR TimeoutFeedback, firing a
// timeout. The stored solution's crash cause must be Timeout, and the
// CrashFeedback leaf must never have reported interesting (short-circuit
// evaluation order, not eager).
func TestS5ObjectiveShortCircuitOrder(t *testing.T) {
	crash := feedback.NewCrashFeedback()
	timeout := feedback.NewTimeoutFeedback()
	objective := feedback.ShortCircuitOr("objective", crash, timeout)

	ex := newScriptedExecutor(64, func([]byte) (observer.ExitKind, byte) { return observer.Timeout, 0 })
	f, st := newEngine(t, ex, objective)

	seed := corpus.NewTestcase(input.New([]byte("seed")))
	_, err := st.Corpus.Add(seed)
	require.NoError(t, err)

	require.NoError(t, f.FuzzOne(context.Background()))

	// One FuzzOne runs the mutational stage's 16 iterations; every
	// candidate times out, so each one is stored as a solution.
	require.Equal(t, 16, st.Solutions.Count())
	id, ok := st.Solutions.First()
	require.True(t, ok)
	tc, ok := st.Solutions.Get(id)
	require.True(t, ok)
	cause, ok := tc.CrashCause()
	require.True(t, ok)
	assert.Equal(t, corpus.CauseTimeout, cause.Kind)
}

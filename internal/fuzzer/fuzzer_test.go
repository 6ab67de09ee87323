package fuzzer

import (
	"context"
	"testing"

	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/corefuzz/corefuzz/internal/feedback"
	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/corefuzz/corefuzz/internal/mutator"
	"github.com/corefuzz/corefuzz/internal/observer"
	"github.com/corefuzz/corefuzz/internal/runstate"
	"github.com/corefuzz/corefuzz/internal/scheduler"
	"github.com/corefuzz/corefuzz/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor lets tests script the exit kind a run produces without
// spinning up a real in-process harness.
type fakeExecutor struct {
	edges    *observer.Edges
	classify func(data []byte) observer.ExitKind
}

func newFakeExecutor(classify func([]byte) observer.ExitKind) *fakeExecutor {
	return &fakeExecutor{edges: observer.NewEdges("edges", 64), classify: classify}
}

func (f *fakeExecutor) Observers() []observer.Observer       { return []observer.Observer{f.edges} }
func (f *fakeExecutor) PreExecObservers()                    { f.edges.PreExec() }
func (f *fakeExecutor) PostExecObservers(observer.ExitKind) {}
func (f *fakeExecutor) RunTarget(ctx context.Context, in *input.Input) observer.ExitKind {
	return f.classify(in.Bytes())
}

func newFuzzer(t *testing.T, dir string, classify func([]byte) observer.ExitKind) *Fuzzer {
	t.Helper()
	solutions, err := corpus.NewSolutions(dir)
	require.NoError(t, err)

	st := runstate.New(corpus.NewInMemory(), solutions, 1<<16)
	ex := newFakeExecutor(classify)

	max := feedback.NewMaxMapFeedback("coverage", "edges", 64)
	crash := feedback.NewCrashFeedback()

	f := New(st, ex, scheduler.NewQueue(), mutator.NewHavoc(nil, 2),
		[]stage.Stage{stage.NewMutationalStage()}, max, crash)
	f.EdgesHandle = "edges"
	return f
}

func TestEvaluateExecutionRoutesCrashToSolutions(t *testing.T) {
	f := newFuzzer(t, t.TempDir(), func([]byte) observer.ExitKind { return observer.Ok })

	isSolution, id, added, err := f.EvaluateExecution(context.Background(), input.New([]byte("x")), observer.Crash)
	require.NoError(t, err)
	assert.True(t, isSolution)
	assert.True(t, added)

	tc, ok := f.State.Solutions.Get(id)
	require.True(t, ok)
	cause, ok := tc.CrashCause()
	require.True(t, ok)
	assert.Equal(t, corpus.CauseCrash, cause.Kind)
}

func TestEvaluateExecutionAddsNovelCoverageToCorpus(t *testing.T) {
	f := newFuzzer(t, t.TempDir(), func([]byte) observer.ExitKind { return observer.Ok })
	f.Executor.Observers()[0].(*observer.Edges).Map[3] = 5

	isSolution, id, added, err := f.EvaluateExecution(context.Background(), input.New([]byte("y")), observer.Ok)
	require.NoError(t, err)
	assert.False(t, isSolution)
	assert.True(t, added)

	_, ok := f.State.Corpus.Get(id)
	assert.True(t, ok)
}

func TestFuzzOneRunsStagesAgainstScheduledEntry(t *testing.T) {
	f := newFuzzer(t, t.TempDir(), func([]byte) observer.ExitKind { return observer.Ok })

	seed := corpus.NewTestcase(input.New([]byte("seed")))
	id, err := f.State.Corpus.Add(seed)
	require.NoError(t, err)
	require.NoError(t, f.Scheduler.OnAdd(f.State.Corpus, id))

	require.NoError(t, f.FuzzOne(context.Background()))
	assert.Greater(t, f.State.Executions(), uint64(0))
}

func TestFuzzLoopStopsOnEmptyCorpus(t *testing.T) {
	f := newFuzzer(t, t.TempDir(), func([]byte) observer.ExitKind { return observer.Ok })
	err := f.FuzzLoop(context.Background())
	assert.Error(t, err)
}

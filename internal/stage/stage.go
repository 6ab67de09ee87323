// Package stage implements the units of work a fuzz_one iteration performs
// against one scheduled corpus entry: stacked mutation and execution,
// input minimization, and secondary tracer execution. It depends only on
// the executor/mutator/scheduler/observer/runstate leaves, never on the
// fuzzer package that owns EvaluateExecution, so the two packages compose
// without an import cycle — fuzzer holds a []stage.Stage and satisfies
// stage.Evaluator itself.
package stage

import (
	"context"

	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/corefuzz/corefuzz/internal/errs"
	"github.com/corefuzz/corefuzz/internal/executor"
	"github.com/corefuzz/corefuzz/internal/feedback"
	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/corefuzz/corefuzz/internal/mutator"
	"github.com/corefuzz/corefuzz/internal/observer"
	"github.com/corefuzz/corefuzz/internal/runstate"
	"github.com/corefuzz/corefuzz/internal/scheduler"
)

// Evaluator is the callback every stage drives a fresh candidate through
// after the stage itself has run the observers' post-exec pass: decide
// whether the input is novel or a solution, and (if so) insert it into the
// corpus or solutions store.
type Evaluator interface {
	EvaluateExecution(ctx context.Context, in *input.Input, kind observer.ExitKind) (isSolution bool, newID corpus.Id, added bool, err error)
}

// Deps bundles the collaborators every stage needs. A single Deps value is
// shared across the whole stage set for one worker.
type Deps struct {
	State     *runstate.State
	Executor  executor.Executor
	Scheduler scheduler.Scheduler
	Mutator   mutator.Mutator
	Evaluator Evaluator
}

// Stage performs one unit of work against the scheduled corpus entry id.
type Stage interface {
	Name() string
	Perform(ctx context.Context, d *Deps, id corpus.Id) error
}

func observersByName(obs []observer.Observer) feedback.Observers {
	m := make(feedback.Observers, len(obs))
	for _, o := range obs {
		m[o.Name()] = o
	}
	return m
}

const defaultIterations = 16

// powerAware is the optional extra a Scheduler may implement to scale a
// MutationalStage's iteration budget by per-path execution frequency
// (scheduler.PowerQueue). Plain round-robin schedulers don't implement it,
// and the stage falls back to a fixed iteration count.
type powerAware interface {
	Iterations(nFuzzCount uint32) int
}

const nFuzzTag = "n_fuzz"

func iterationsFor(sched scheduler.Scheduler, tc *corpus.Testcase) int {
	pa, ok := sched.(powerAware)
	if !ok {
		return defaultIterations
	}
	n, _ := tc.Metadata[nFuzzTag].(uint32)
	return pa.Iterations(n)
}

// MutationalStage is the classic "mutate the scheduled input N times,
// execute, evaluate" loop (fuzz_one's mutational stage in the reference
// runtime), generalized over any Mutator/Scheduler pair.
type MutationalStage struct{}

// NewMutationalStage builds the stock mutate-execute-evaluate stage.
func NewMutationalStage() *MutationalStage { return &MutationalStage{} }

func (s *MutationalStage) Name() string { return "mutational" }

func (s *MutationalStage) Perform(ctx context.Context, d *Deps, id corpus.Id) error {
	tc, ok := d.State.Corpus.Get(id)
	if !ok {
		return errs.New(errs.IllegalState, "mutational stage: unknown corpus id")
	}

	iterations := iterationsFor(d.Scheduler, tc)
	for i := 0; i < iterations; i++ {
		if d.State.Stopping() {
			return nil
		}
		res := d.Mutator.Mutate(tc.Input, d.State.MaxSize)
		if res.Skipped {
			continue
		}

		d.Executor.PreExecObservers()
		kind := d.Executor.RunTarget(ctx, res.Input)
		d.Executor.PostExecObservers(kind)
		d.State.IncExecutions()

		_, _, added, err := d.Evaluator.EvaluateExecution(ctx, res.Input, kind)
		if err != nil {
			return err
		}
		d.Mutator.PostExec(res.Input, added)
	}
	return nil
}

// defaultTminRuns is the default minimization budget ("run tmin for N
// runs"), counting only non-skipped mutation attempts.
const defaultTminRuns = 1024

// TminStage implements the reference minimizer: repeatedly mutate the
// scheduled input through the worker's own Mutator, keep the result only
// when the fuzzer's own evaluate path found nothing new and the execution
// path's edges hash still equals the baseline capture h0, restarting the
// attempt budget every time a shrink is accepted, and finally replacing
// the corpus entry in place.
type TminStage struct {
	// EqualityHandle names the Edges observer the minimizer compares
	// against h0 (normally the same handle the coverage MaxMapFeedback
	// reads from).
	EqualityHandle string
	// Runs bounds how many non-skipped mutation attempts the minimizer
	// spends before giving up; zero means defaultTminRuns.
	Runs int
}

// NewTminStage builds a minimizer bound to the named edges observer.
func NewTminStage(equalityHandle string) *TminStage {
	return &TminStage{EqualityHandle: equalityHandle, Runs: defaultTminRuns}
}

func (s *TminStage) Name() string { return "tmin" }

func (s *TminStage) Perform(ctx context.Context, d *Deps, id corpus.Id) error {
	tc, ok := d.State.Corpus.Get(id)
	if !ok {
		return errs.New(errs.IllegalState, "tmin stage: unknown corpus id")
	}

	initialHash := tc.Input.Hash()
	minimized, err := s.minimize(ctx, d, tc.Input)
	if err != nil {
		return err
	}
	if minimized.Hash() == initialHash {
		return nil
	}

	prev := tc
	replacement := corpus.NewTestcase(minimized)
	replacement.ParentID = id
	replacement.Favored = prev.Favored
	if _, err := d.State.Corpus.Replace(id, replacement); err != nil {
		return err
	}
	return d.Scheduler.OnReplace(d.State.Corpus, id, prev)
}

// minimize runs the shrink loop. orig_max_size is saved and restored around
// the call so later stages see the worker's normal size ceiling again.
// Every candidate is produced by d.Mutator and judged by d.Evaluator, the
// same collaborators the mutational stage drives, so a shrink attempt that
// happens to discover a new corpus entry or solution is credited to the
// fuzzer exactly as it would be outside minimization.
func (s *TminStage) minimize(ctx context.Context, d *Deps, base *input.Input) (*input.Input, error) {
	origMaxSize := d.State.MaxSize
	defer func() { d.State.MaxSize = origMaxSize }()
	d.State.MaxSize = base.Len()

	d.Executor.PreExecObservers()
	kind := d.Executor.RunTarget(ctx, base)
	d.Executor.PostExecObservers(kind)
	d.State.IncExecutions()
	if kind != observer.Ok {
		return base, errs.New(errs.IllegalState, "tmin: base input did not run cleanly")
	}

	var h0 [32]byte
	for _, o := range d.Executor.Observers() {
		if e, ok := o.(*observer.Edges); ok {
			h0 = e.Hash()
			break
		}
	}
	eq := feedback.NewObserverEqualityFeedback(s.EqualityHandle, h0)

	runs := s.Runs
	if runs <= 0 {
		runs = defaultTminRuns
	}

	cur := base
	// attempts bounds total loop iterations (including skipped mutations
	// and growing candidates, neither of which consumes a "run") so a
	// mutator that always declines can't spin the stage forever.
	maxAttempts := runs * 8

	for i, attempts := 0, 0; i < runs && attempts < maxAttempts; attempts++ {
		if d.State.Stopping() {
			break
		}

		res := d.Mutator.Mutate(cur, cur.Len())
		if res.Skipped {
			continue // a skipped mutation does not consume a run
		}
		if res.Input.Len() >= cur.Len() {
			i++ // an increasing/equal mutation consumes a run, no reset
			continue
		}

		corpusBefore := d.State.Corpus.Count()
		solutionsBefore := d.State.Solutions.Count()

		d.Executor.PreExecObservers()
		candKind := d.Executor.RunTarget(ctx, res.Input)
		obsMap := observersByName(d.Executor.Observers())
		d.Executor.PostExecObservers(candKind)
		d.State.IncExecutions()

		_, _, _, err := d.Evaluator.EvaluateExecution(ctx, res.Input, candKind)
		if err != nil {
			return cur, err
		}
		d.Mutator.PostExec(res.Input, false)

		foundNothingNew := d.State.Corpus.Count() == corpusBefore && d.State.Solutions.Count() == solutionsBefore
		if foundNothingNew && candKind == observer.Ok && eq.IsInteresting(obsMap, candKind) {
			cur = res.Input
			d.State.MaxSize = cur.Len()
			i = 0 // a qualifying mutation resets the run budget
			continue
		}
		i++
	}
	return cur, nil
}

// TracingStage runs the scheduled input through a separately instrumented
// tracer executor (e.g. a CmpLog-style build) to enrich testcase metadata.
// It follows a no_retry restart policy: a crash or timeout during tracing is
// observed and recorded, not retried.
type TracingStage struct {
	Tracer executor.Executor
}

// NewTracingStage builds a tracing stage bound to the secondary executor.
func NewTracingStage(tracer executor.Executor) *TracingStage {
	return &TracingStage{Tracer: tracer}
}

func (s *TracingStage) Name() string { return "tracing" }

func (s *TracingStage) Perform(ctx context.Context, d *Deps, id corpus.Id) error {
	tc, ok := d.State.Corpus.Get(id)
	if !ok {
		return errs.New(errs.IllegalState, "tracing stage: unknown corpus id")
	}

	s.Tracer.PreExecObservers()
	kind := s.Tracer.RunTarget(ctx, tc.Input)
	s.Tracer.PostExecObservers(kind)
	d.State.IncExecutions()

	if kind != observer.Ok {
		// no_retry: record the outcome and move on, the mutational stage
		// will re-discover this path through its own executor if it
		// matters.
		tc.SetMetadata("tracing_exit_kind", kind.String())
		return nil
	}
	if t, ok := s.Tracer.(*executor.Tracing); ok {
		if trace := t.LastTrace(); len(trace) > 0 {
			tc.SetMetadata("trace", trace)
		}
	}
	return nil
}

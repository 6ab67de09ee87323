// Package fuzzer implements the orchestrator that drives one worker's fuzz
// loop: pick a scheduled corpus entry, run it through the stage set, and
// decide — via EvaluateExecution — whether each executed candidate earns a
// place in the corpus or the solutions store.
package fuzzer

import (
	"context"
	"sync"

	"github.com/corefuzz/corefuzz/internal/corelog"
	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/corefuzz/corefuzz/internal/errs"
	"github.com/corefuzz/corefuzz/internal/executor"
	"github.com/corefuzz/corefuzz/internal/feedback"
	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/corefuzz/corefuzz/internal/mutator"
	"github.com/corefuzz/corefuzz/internal/observer"
	"github.com/corefuzz/corefuzz/internal/runstate"
	"github.com/corefuzz/corefuzz/internal/scheduler"
	"github.com/corefuzz/corefuzz/internal/stage"
)

// pathRecorder is the optional extra a Scheduler may implement to track
// per-path execution frequency (scheduler.PowerQueue). Plain round-robin
// schedulers don't implement it; RecordPath is then a no-op.
type pathRecorder interface {
	RecordPath(mapBytes []byte) uint32
}

// Fuzzer wires one worker's State, Executor, Scheduler, and stage set
// together with the objective/feedback pair that decides interestingness.
type Fuzzer struct {
	State       *runstate.State
	Executor    executor.Executor
	Scheduler   scheduler.Scheduler
	Mutator     mutator.Mutator
	Stages      []stage.Stage
	Feedback    feedback.Feedback
	Objective   feedback.Feedback
	EdgesHandle string // observer handle recorded into the scheduler's n_fuzz table

	// OnNewTestcase/OnSolution notify the event bus of newly discovered
	// corpus entries and crashes, matching the reference runtime's
	// fire-and-forget event emission on every interesting execution.
	OnNewTestcase func(id corpus.Id, tc *corpus.Testcase)
	OnSolution    func(id corpus.Id, tc *corpus.Testcase)

	// mu serializes every Executor/State access across FuzzOne and
	// IngestRemote, which a worker's poll goroutine drives concurrently
	// with the main fuzz loop.
	mu sync.Mutex
}

// New builds a Fuzzer from its collaborators. stages is copied so callers
// can't mutate the slice backing array out from under the fuzzer.
func New(st *runstate.State, ex executor.Executor, sched scheduler.Scheduler, mut mutator.Mutator, stages []stage.Stage, fb, objective feedback.Feedback) *Fuzzer {
	cp := make([]stage.Stage, len(stages))
	copy(cp, stages)
	return &Fuzzer{State: st, Executor: ex, Scheduler: sched, Mutator: mut, Stages: cp, Feedback: fb, Objective: objective}
}

// EvaluateExecution implements stage.Evaluator: objective is checked first
// (a crashing input is always a solution, regardless of novelty), then
// feedback decides whether the input earns a corpus slot. This order
// matches the reference fuzz harness's evaluate_execution: objectives never
// get demoted to ordinary corpus entries.
func (f *Fuzzer) EvaluateExecution(ctx context.Context, in *input.Input, kind observer.ExitKind) (isSolution bool, newID corpus.Id, added bool, err error) {
	obs := observersByName(f.Executor.Observers())

	var nFuzz uint32
	recorded := false
	if rec, ok := f.Scheduler.(pathRecorder); ok {
		if m := mapByHandle(obs, f.EdgesHandle); m != nil {
			nFuzz, recorded = rec.RecordPath(m), true
		}
	}

	if f.Objective != nil && f.Objective.IsInteresting(obs, kind) {
		tc := corpus.NewTestcase(in)
		f.Objective.AppendMetadata(tc)
		id, err := f.State.Solutions.Add(tc)
		if err != nil {
			return true, 0, false, err
		}
		if f.OnSolution != nil {
			f.OnSolution(id, tc)
		}
		return true, id, true, nil
	}

	if f.Feedback == nil || !f.Feedback.IsInteresting(obs, kind) {
		return false, 0, false, nil
	}

	tc := corpus.NewTestcase(in)
	f.Feedback.AppendMetadata(tc)
	if recorded {
		tc.SetMetadata("n_fuzz", nFuzz)
	}

	id, err := f.State.Corpus.Add(tc)
	if err != nil {
		return false, 0, false, err
	}
	if err := f.Scheduler.OnAdd(f.State.Corpus, id); err != nil {
		return false, id, true, err
	}
	if f.OnNewTestcase != nil {
		f.OnNewTestcase(id, tc)
	}
	return false, id, true, nil
}

func observersByName(obs []observer.Observer) feedback.Observers {
	m := make(feedback.Observers, len(obs))
	for _, o := range obs {
		m[o.Name()] = o
	}
	return m
}

func mapByHandle(obs feedback.Observers, handle string) []byte {
	switch v := obs[handle].(type) {
	case *observer.Edges:
		return v.Map
	case *observer.HitCounts:
		return v.Map
	case *observer.IndexTracking:
		return v.Map
	default:
		return nil
	}
}

// FuzzOne schedules the next corpus entry and drives it through every
// stage once, in order.
func (f *Fuzzer) FuzzOne(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, err := f.Scheduler.Next(f.State.Corpus)
	if err != nil {
		return err
	}
	f.State.CorpusID = id

	deps := &stage.Deps{
		State:     f.State,
		Executor:  f.Executor,
		Scheduler: f.Scheduler,
		Mutator:   f.Mutator,
		Evaluator: f,
	}
	for _, s := range f.Stages {
		if err := s.Perform(ctx, deps, id); err != nil {
			return err
		}
	}
	return nil
}

// IngestRemote re-executes a testcase another node's event bus publish
// announced as interesting, through this worker's own Executor, and feeds
// the result through EvaluateExecution exactly as FuzzOne would. This is how
// a NewTestcase/Solution event amplifies across the fleet: every worker
// independently judges the shared candidate against its own coverage map
// and objective rather than trusting the originating node's verdict.
func (f *Fuzzer) IngestRemote(ctx context.Context, in *input.Input) (added bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Executor.PreExecObservers()
	kind := f.Executor.RunTarget(ctx, in)
	f.Executor.PostExecObservers(kind)
	f.State.IncExecutions()

	_, _, added, err = f.EvaluateExecution(ctx, in, kind)
	return added, err
}

// FuzzLoop repeatedly calls FuzzOne until ctx is cancelled or the worker's
// State is marked stopping (cooperative shutdown, mirroring the launcher's
// restart/shutdown contract).
func (f *Fuzzer) FuzzLoop(ctx context.Context) error {
	for {
		if f.State.Stopping() {
			return errs.ErrShuttingDown
		}
		select {
		case <-ctx.Done():
			return errs.ErrShuttingDown
		default:
		}
		if err := f.FuzzOne(ctx); err != nil {
			if errs.Is(err, errs.Empty) {
				corelog.Logf(1, "fuzz loop: %v", err)
				return err
			}
			corelog.Logf(0, "fuzz loop iteration error: %v", err)
		}
	}
}

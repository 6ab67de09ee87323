// Package feedback implements the composable is_interesting predicates that
// decide whether an executed input is worth keeping (feedback) or counts as
// a solution (objective) — the same contract serves both roles, split into
// independently testable leaves and combinators.
package feedback

import (
	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/corefuzz/corefuzz/internal/observer"
)

// Observers is the name -> Observer lookup a Feedback resolves its handles
// against; feedbacks hold only string handles, never the observers
// themselves — observers live in the executor.
type Observers map[string]observer.Observer

// Feedback is a predicate over one execution's observers and exit kind.
// Implementations may be stateful (MaxMapFeedback keeps a novelty map);
// repeated calls with identical observer contents must be deterministic.
type Feedback interface {
	Name() string
	IsInteresting(obs Observers, kind observer.ExitKind) bool
	AppendMetadata(tc *corpus.Testcase)
}

// eagerOr evaluates every child so each stateful leaf updates its novelty
// map, then returns true if any child was true. Required for MaxMapFeedback
// to never miss an update.
type eagerOr struct {
	name     string
	children []Feedback
}

// EagerOr composes children with eager evaluation (feedback_or).
func EagerOr(name string, children ...Feedback) Feedback {
	return &eagerOr{name: name, children: children}
}

func (f *eagerOr) Name() string { return f.name }

func (f *eagerOr) IsInteresting(obs Observers, kind observer.ExitKind) bool {
	interesting := false
	for _, c := range f.children {
		if c.IsInteresting(obs, kind) {
			interesting = true
		}
	}
	return interesting
}

func (f *eagerOr) AppendMetadata(tc *corpus.Testcase) {
	for _, c := range f.children {
		c.AppendMetadata(tc)
	}
}

// shortCircuitOr evaluates children in order and stops at the first true
// (feedback_or_fast); used for objectives where evaluation order matters
// (crash checked before timeout).
type shortCircuitOr struct {
	name     string
	children []Feedback
	lastHit  Feedback
}

// ShortCircuitOr composes children with short-circuit evaluation
// (feedback_or_fast).
func ShortCircuitOr(name string, children ...Feedback) Feedback {
	return &shortCircuitOr{name: name, children: children}
}

func (f *shortCircuitOr) Name() string { return f.name }

func (f *shortCircuitOr) IsInteresting(obs Observers, kind observer.ExitKind) bool {
	f.lastHit = nil
	for _, c := range f.children {
		if c.IsInteresting(obs, kind) {
			f.lastHit = c
			return true
		}
	}
	return false
}

func (f *shortCircuitOr) AppendMetadata(tc *corpus.Testcase) {
	if f.lastHit != nil {
		f.lastHit.AppendMetadata(tc)
	}
}

// LastHit returns the leaf that satisfied the most recent IsInteresting
// call, or nil; exposed so tests can verify short-circuit order (S5).
func (f *shortCircuitOr) LastHit() Feedback { return f.lastHit }

// MaxMapFeedback tracks, per map index, the best hit count seen across the
// whole fuzzing run (a global property of the feedback, not of any single
// input) and reports interesting whenever any index strictly improves.
type MaxMapFeedback struct {
	name       string
	handle     string
	best       []byte
	initilized bool
}

// NewMaxMapFeedback builds a MaxMapFeedback bound to the named edges
// observer. mapSize must match the observer's map length.
func NewMaxMapFeedback(name, observerHandle string, mapSize int) *MaxMapFeedback {
	return &MaxMapFeedback{name: name, handle: observerHandle, best: make([]byte, mapSize)}
}

func (f *MaxMapFeedback) Name() string { return f.name }

func (f *MaxMapFeedback) IsInteresting(obs Observers, _ observer.ExitKind) bool {
	o, ok := obs[f.handle]
	if !ok {
		return false
	}
	m := mapOf(o)
	if m == nil {
		return false
	}
	interesting := false
	for i, v := range m {
		if i >= len(f.best) {
			break
		}
		if v > f.best[i] {
			f.best[i] = v
			interesting = true
		}
	}
	f.initilized = true
	return interesting
}

func (f *MaxMapFeedback) AppendMetadata(*corpus.Testcase) {}

// mapOf extracts the underlying byte map from an observer.Observer, looking
// through the HitCounts/IndexTracking wrappers down to the raw Edges map.
func mapOf(o observer.Observer) []byte {
	switch v := o.(type) {
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

// TimeFeedback is metadata-only: it never vetoes interestingness, it just
// records the last execution's wall-clock duration onto the testcase.
type TimeFeedback struct {
	name   string
	handle string
	last   struct {
		ns int64
		ok bool
	}
}

// NewTimeFeedback builds a TimeFeedback bound to the named time observer.
func NewTimeFeedback(name, observerHandle string) *TimeFeedback {
	return &TimeFeedback{name: name, handle: observerHandle}
}

func (f *TimeFeedback) Name() string { return f.name }

func (f *TimeFeedback) IsInteresting(obs Observers, _ observer.ExitKind) bool {
	if t, ok := obs[f.handle].(*observer.Time); ok {
		f.last.ns = int64(t.Last)
		f.last.ok = true
	}
	return false
}

func (f *TimeFeedback) AppendMetadata(tc *corpus.Testcase) {
	if f.last.ok {
		tc.SetMetadata("exec_time_ns", f.last.ns)
	}
}

// CrashFeedback is an objective leaf: true iff the exit kind is Crash.
type CrashFeedback struct{ name string }

// NewCrashFeedback builds the canonical crash objective leaf.
func NewCrashFeedback() *CrashFeedback { return &CrashFeedback{name: "crash"} }

func (f *CrashFeedback) Name() string { return f.name }

func (f *CrashFeedback) IsInteresting(_ Observers, kind observer.ExitKind) bool {
	return kind == observer.Crash
}

func (f *CrashFeedback) AppendMetadata(tc *corpus.Testcase) {
	tc.SetCrashCause(corpus.CauseCrash)
}

// TimeoutFeedback is an objective leaf: true iff the exit kind is Timeout.
type TimeoutFeedback struct{ name string }

// NewTimeoutFeedback builds the canonical timeout objective leaf.
func NewTimeoutFeedback() *TimeoutFeedback { return &TimeoutFeedback{name: "timeout"} }

func (f *TimeoutFeedback) Name() string { return f.name }

func (f *TimeoutFeedback) IsInteresting(_ Observers, kind observer.ExitKind) bool {
	return kind == observer.Timeout
}

func (f *TimeoutFeedback) AppendMetadata(tc *corpus.Testcase) {
	tc.SetCrashCause(corpus.CauseTimeout)
}

// OomFeedback is an objective leaf: true iff the exit kind is Oom.
type OomFeedback struct{ name string }

// NewOomFeedback builds the canonical OOM objective leaf.
func NewOomFeedback() *OomFeedback { return &OomFeedback{name: "oom"} }

func (f *OomFeedback) Name() string { return f.name }

func (f *OomFeedback) IsInteresting(_ Observers, kind observer.ExitKind) bool {
	return kind == observer.Oom
}

func (f *OomFeedback) AppendMetadata(tc *corpus.Testcase) {
	tc.SetCrashCause(corpus.CauseOom)
}

// ObserverEqualityFeedback is bound to a fixed target hash h0 (captured once,
// at tmin start) and reports interesting iff the named edges observer's
// current hash still equals h0. Used by the tmin stage to detect that a
// mutated, shrunk input preserves the original execution path.
type ObserverEqualityFeedback struct {
	name   string
	handle string
	target [32]byte
}

// NewObserverEqualityFeedback binds the feedback to handle and the target
// hash captured from the base input's first execution.
func NewObserverEqualityFeedback(handle string, target [32]byte) *ObserverEqualityFeedback {
	return &ObserverEqualityFeedback{name: "observer_equality", handle: handle, target: target}
}

func (f *ObserverEqualityFeedback) Name() string { return f.name }

func (f *ObserverEqualityFeedback) IsInteresting(obs Observers, _ observer.ExitKind) bool {
	e, ok := obs[f.handle].(*observer.Edges)
	if !ok {
		return false
	}
	return e.Hash() == f.target
}

func (f *ObserverEqualityFeedback) AppendMetadata(*corpus.Testcase) {}

// Package observer implements the passive sensors the executor drives
// around each harness run: the edges coverage map and the wall-clock time
// observer, built around an AFL-style coverage bitmap and hit-count
// bucketing scheme.
package observer

import (
	"crypto/sha256"
	"time"
)

// ExitKind is the outcome classification of a single executor run.
type ExitKind int

const (
	Ok ExitKind = iota
	Crash
	Timeout
	Oom
)

func (e ExitKind) String() string {
	switch e {
	case Ok:
		return "ok"
	case Crash:
		return "crash"
	case Timeout:
		return "timeout"
	case Oom:
		return "oom"
	default:
		return "unknown"
	}
}

// Observer is a named slot the executor drives once per execution.
type Observer interface {
	Name() string
	PreExec()
	PostExec(kind ExitKind)
}

// DefaultMapSize is the default edges map size (the coverage-map ABI
// specifies 65,536 entries).
const DefaultMapSize = 65536

// Edges is the coverage observer: a shared, fixed-size byte map of hit
// counts. Target-side instrumentation is expected to write into Map
// in-place between PreExec and PostExec; Edges itself only resets it.
type Edges struct {
	name string
	Map  []byte
}

// NewEdges allocates an Edges observer with the given map size.
func NewEdges(name string, size int) *Edges {
	if size <= 0 {
		size = DefaultMapSize
	}
	return &Edges{name: name, Map: make([]byte, size)}
}

func (e *Edges) Name() string { return e.name }

// PreExec zeroes the shared map before the next run writes into it.
func (e *Edges) PreExec() {
	for i := range e.Map {
		e.Map[i] = 0
	}
}

// PostExec is a no-op: the map is already populated by instrumentation.
func (e *Edges) PostExec(ExitKind) {}

// Hash returns a stable digest of the current map contents, used by
// ObserverEqualityFeedback and the tmin stage's h0 comparison.
func (e *Edges) Hash() [32]byte {
	return sha256.Sum256(e.Map)
}

// HitCountBucket classifies a raw hit count into one of the nine AFL-style
// buckets (0,1,2,3,4-7,8-15,16-31,32-127,>=128) so the feedback treats close
// counts as equivalent.
func HitCountBucket(count byte) byte {
	switch {
	case count == 0:
		return 0
	case count == 1:
		return 1
	case count == 2:
		return 2
	case count == 3:
		return 3
	case count <= 7:
		return 4
	case count <= 15:
		return 5
	case count <= 31:
		return 6
	case count <= 127:
		return 7
	default:
		return 8
	}
}

// HitCounts wraps an Edges observer, rewriting each map entry in place to
// its bucket id after every execution.
type HitCounts struct {
	*Edges
}

// NewHitCounts wraps e with bucketed hit-count post-processing.
func NewHitCounts(e *Edges) *HitCounts {
	return &HitCounts{Edges: e}
}

func (h *HitCounts) PostExec(kind ExitKind) {
	h.Edges.PostExec(kind)
	for i, v := range h.Map {
		h.Map[i] = HitCountBucket(v)
	}
}

// IndexTracking wraps an Edges observer, additionally recording the set of
// indices touched this execution, to speed up downstream scheduling (e.g.
// the minimizer scheduler's favored-set computation).
type IndexTracking struct {
	*Edges
	Touched []int
}

// NewIndexTracking wraps e with an index-tracking sidecar.
func NewIndexTracking(e *Edges) *IndexTracking {
	return &IndexTracking{Edges: e}
}

func (it *IndexTracking) PostExec(kind ExitKind) {
	it.Edges.PostExec(kind)
	it.Touched = it.Touched[:0]
	for i, v := range it.Map {
		if v != 0 {
			it.Touched = append(it.Touched, i)
		}
	}
}

// PathHash computes the AFL-style path hash of the observer map used to
// index SchedulerMetadata.n_fuzz: a 32-bit FNV-1a (xor then multiply)
// reduction of the map contents into a single uint32, reduced by the
// caller modulo 2^21.
func PathHash(m []byte) uint32 {
	var h uint32 = 2166136261
	for _, b := range m {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}

// Time captures the wall-clock duration of the last execution. It never
// vetoes interestingness; TimeFeedback only reads it for metadata.
type Time struct {
	name  string
	start time.Time
	Last  time.Duration
}

// NewTime creates a Time observer.
func NewTime(name string) *Time {
	return &Time{name: name}
}

func (t *Time) Name() string { return t.name }

func (t *Time) PreExec() { t.start = time.Now() }

func (t *Time) PostExec(ExitKind) { t.Last = time.Since(t.start) }

// Package scheduler implements the corpus-entry selection policies: plain
// round-robin, the power-schedule variant that tracks per-path execution
// frequency, and a favored-set minimizer wrapper, pinned to the exact
// semantics of schedulers/powersched.rs (n_fuzz, SchedulerMetadata) from
// the reference implementation this runtime's behavior follows.
package scheduler

import (
	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/corefuzz/corefuzz/internal/errs"
	"github.com/corefuzz/corefuzz/internal/observer"
)

const emptyCorpusMsg = "No entries in corpus. This often implies the target is not properly instrumented."

// Scheduler picks the next corpus entry to fuzz and is notified of corpus
// mutations so it can maintain its own bookkeeping.
type Scheduler interface {
	Next(c corpus.Corpus) (corpus.Id, error)
	OnAdd(c corpus.Corpus, id corpus.Id) error
	OnRemove(c corpus.Corpus, id corpus.Id, removed *corpus.Testcase) error
	OnReplace(c corpus.Corpus, id corpus.Id, previous *corpus.Testcase) error
}

// Queue is the plain round-robin scheduler.
type Queue struct {
	cycles uint64
}

// NewQueue creates a round-robin scheduler.
func NewQueue() *Queue { return &Queue{} }

// Cycles returns how many times the scheduler has wrapped back to First().
func (q *Queue) Cycles() uint64 { return q.cycles }

func (q *Queue) Next(c corpus.Corpus) (corpus.Id, error) {
	cur, hasCur := c.Current()
	var next corpus.Id
	var ok bool
	if hasCur {
		next, ok = c.Next(cur)
	}
	if !hasCur || !ok {
		next, ok = c.First()
		if !ok {
			return 0, errs.New(errs.Empty, emptyCorpusMsg)
		}
		if hasCur {
			q.cycles++
		}
	}
	c.SetCurrent(next)
	return next, nil
}

func (q *Queue) OnAdd(corpus.Corpus, corpus.Id) error                        { return nil }
func (q *Queue) OnRemove(corpus.Corpus, corpus.Id, *corpus.Testcase) error   { return nil }
func (q *Queue) OnReplace(corpus.Corpus, corpus.Id, *corpus.Testcase) error  { return nil }

// PowerSchedule is the closed set of power-schedule strategy tags.
type PowerSchedule int

const (
	Explore PowerSchedule = iota
	Exploit
	Fast
	Coe
	Lin
	Quad
)

// NFuzzSize is the fixed size of the n_fuzz path-frequency array (2^21).
const NFuzzSize = 1 << 21

// Metadata is the state-scoped singleton power-schedule bookkeeping,
// mirroring schedulers/powersched.rs's SchedulerMetadata field-for-field.
type Metadata struct {
	Strategy      PowerSchedule
	ExecTime      int64 // calibration exec time, nanoseconds
	Cycles        uint64
	BitmapSize    uint64
	BitmapSizeLog uint64
	BitmapEntries uint64
	QueueCycles   uint64
	NFuzz         []uint32 // length NFuzzSize, saturating counters
}

// NewMetadata allocates a Metadata with a zeroed n_fuzz array of the
// mandated size.
func NewMetadata(strat PowerSchedule) *Metadata {
	return &Metadata{Strategy: strat, NFuzz: make([]uint32, NFuzzSize)}
}

// PowerQueue has the same scheduling order as Queue; additionally, every
// evaluated execution's observer map is hashed into n_fuzz[hash%2^21]++.
// on_remove/on_replace deliberately do not revert n_fuzz entries — this is
// a documented statistical imprecision inherited from the source schedule,
// not a bug.
type PowerQueue struct {
	Queue
	Meta *Metadata
}

// NewPowerQueue creates a power-schedule scheduler with the given strategy.
func NewPowerQueue(strat PowerSchedule) *PowerQueue {
	return &PowerQueue{Meta: NewMetadata(strat)}
}

// RecordPath hashes an observer map and bumps the corresponding n_fuzz
// counter, saturating at MaxUint32. Returns the per-path count after the
// bump, which the mutational stage uses to scale its iteration budget.
func (p *PowerQueue) RecordPath(mapBytes []byte) uint32 {
	idx := observer.PathHash(mapBytes) % NFuzzSize
	if p.Meta.NFuzz[idx] != ^uint32(0) {
		p.Meta.NFuzz[idx]++
	}
	return p.Meta.NFuzz[idx]
}

// Iterations computes the mutational-stage iteration budget for a given
// per-path n_fuzz count, scaled by the power-schedule strategy.
func (p *PowerQueue) Iterations(nFuzzCount uint32) int {
	const base = 16
	switch p.Meta.Strategy {
	case Exploit:
		return base * 4
	case Fast:
		if nFuzzCount == 0 {
			return base * 2
		}
		return max(1, base*2/int(nFuzzCount))
	case Coe, Lin:
		if nFuzzCount == 0 {
			return base
		}
		return max(1, base/int(1+nFuzzCount/4))
	case Quad:
		if nFuzzCount == 0 {
			return base
		}
		d := 1 + int(nFuzzCount)*int(nFuzzCount)
		return max(1, base*base/d)
	default: // Explore
		return base
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// OnRemove and OnReplace intentionally do nothing beyond the embedded
// Queue's no-ops: n_fuzz is never reverted, per the source's documented
// imprecision.
func (p *PowerQueue) OnRemove(c corpus.Corpus, id corpus.Id, removed *corpus.Testcase) error {
	return p.Queue.OnRemove(c, id, removed)
}

func (p *PowerQueue) OnReplace(c corpus.Corpus, id corpus.Id, previous *corpus.Testcase) error {
	return p.Queue.OnReplace(c, id, previous)
}

// IndexesLenTimeMinimizer wraps an inner scheduler with AFL-style favored
// selection: each map index is owned by the entry with the lowest score
// (input length x exec_time_ns), and among owners it prefers the lowest
// score, tie-broken by lower id.
type IndexesLenTimeMinimizer struct {
	inner    Scheduler
	topRated map[int]corpus.Id
	score    map[corpus.Id]float64
}

// NewIndexesLenTimeMinimizer wraps inner with favored-set bookkeeping.
func NewIndexesLenTimeMinimizer(inner Scheduler) *IndexesLenTimeMinimizer {
	return &IndexesLenTimeMinimizer{
		inner:    inner,
		topRated: make(map[int]corpus.Id),
		score:    make(map[corpus.Id]float64),
	}
}

// RecordPath forwards to the wrapped scheduler when it tracks per-path
// n_fuzz frequency (PowerQueue), so wrapping a PowerQueue in a minimizer
// doesn't silently lose power-schedule iteration scaling.
func (m *IndexesLenTimeMinimizer) RecordPath(mapBytes []byte) uint32 {
	if pr, ok := m.inner.(interface{ RecordPath([]byte) uint32 }); ok {
		return pr.RecordPath(mapBytes)
	}
	return 0
}

// Iterations forwards to the wrapped scheduler's power-schedule iteration
// count, or the mutational stage's default when inner isn't power-aware.
func (m *IndexesLenTimeMinimizer) Iterations(nFuzzCount uint32) int {
	if pa, ok := m.inner.(interface{ Iterations(uint32) int }); ok {
		return pa.Iterations(nFuzzCount)
	}
	return 16
}

// touchedIndices reads back the []int index set stored on the testcase
// under this tag; an entry without the tag owns no index.
const touchedIndicesTag = "touched_indices"

func touchedIndices(tc *corpus.Testcase) []int {
	v, ok := tc.Metadata[touchedIndicesTag]
	if !ok {
		return nil
	}
	idx, _ := v.([]int)
	return idx
}

func execNanos(tc *corpus.Testcase) float64 {
	if v, ok := tc.Metadata["exec_time_ns"]; ok {
		if ns, ok := v.(int64); ok {
			return float64(ns)
		}
	}
	return 1
}

// OnAdd recomputes favored ownership for every index the new entry touched.
func (m *IndexesLenTimeMinimizer) OnAdd(c corpus.Corpus, id corpus.Id) error {
	if err := m.inner.OnAdd(c, id); err != nil {
		return err
	}
	tc, ok := c.Get(id)
	if !ok {
		return errs.New(errs.IllegalState, "minimizer: on_add for unknown id")
	}
	score := float64(tc.Input.Len()) * execNanos(tc)
	m.score[id] = score
	for _, idx := range touchedIndices(tc) {
		best, has := m.topRated[idx]
		if !has || score < m.score[best] || (score == m.score[best] && id < best) {
			m.topRated[idx] = id
		}
	}
	m.markFavored(c)
	return nil
}

func (m *IndexesLenTimeMinimizer) markFavored(c corpus.Corpus) {
	favored := make(map[corpus.Id]bool)
	for _, id := range m.topRated {
		favored[id] = true
	}
	for _, id := range c.Ids() {
		if tc, ok := c.Get(id); ok {
			tc.Favored = favored[id]
		}
	}
}

// Next prefers the lowest-scoring favored id other than the corpus's
// current entry; it falls back to the inner scheduler's order when no
// favored candidate is available.
func (m *IndexesLenTimeMinimizer) Next(c corpus.Corpus) (corpus.Id, error) {
	cur, hasCur := c.Current()
	var bestID corpus.Id
	found := false
	for _, id := range m.topRated {
		if hasCur && id == cur {
			continue
		}
		if !found || m.score[id] < m.score[bestID] || (m.score[id] == m.score[bestID] && id < bestID) {
			bestID = id
			found = true
		}
	}
	if found {
		c.SetCurrent(bestID)
		return bestID, nil
	}
	return m.inner.Next(c)
}

func (m *IndexesLenTimeMinimizer) OnRemove(c corpus.Corpus, id corpus.Id, removed *corpus.Testcase) error {
	delete(m.score, id)
	for idx, owner := range m.topRated {
		if owner == id {
			delete(m.topRated, idx)
		}
	}
	return m.inner.OnRemove(c, id, removed)
}

func (m *IndexesLenTimeMinimizer) OnReplace(c corpus.Corpus, id corpus.Id, previous *corpus.Testcase) error {
	return m.inner.OnReplace(c, id, previous)
}

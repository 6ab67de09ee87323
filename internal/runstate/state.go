// Package runstate holds the fuzzer's per-worker mutable state: rng,
// corpus, solutions, execution counters, and the named-metadata bag every
// other component reads and writes by name, matching the ownership rule
// that feedbacks/scheduler/stages never own the corpus themselves.
package runstate

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corefuzz/corefuzz/internal/corpus"
)

// State is the fuzzer's single mutable state object for one worker.
type State struct {
	Rand       *rand.Rand
	Corpus     corpus.Corpus
	Solutions  corpus.Corpus
	MaxSize    int
	StageIdx   int
	CorpusID   corpus.Id
	hasCurID   bool
	executions uint64
	lastReport time.Time
	stopping   int32

	mu       sync.Mutex
	metadata map[string]any
}

// New builds a State over the given corpus/solutions stores.
func New(c corpus.Corpus, solutions corpus.Corpus, maxSize int) *State {
	return &State{
		Rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		Corpus:    c,
		Solutions: solutions,
		MaxSize:   maxSize,
		metadata:  make(map[string]any),
	}
}

// IncExecutions bumps the execution counter and returns the new total.
func (s *State) IncExecutions() uint64 {
	return atomic.AddUint64(&s.executions, 1)
}

// Executions returns the total number of target runs so far.
func (s *State) Executions() uint64 {
	return atomic.LoadUint64(&s.executions)
}

// SetExecutions overwrites the execution counter (used when restoring state
// after a crash-restart cycle).
func (s *State) SetExecutions(n uint64) {
	atomic.StoreUint64(&s.executions, n)
}

// MarkStopping flips the cooperative stop flag, checked between loop
// iterations by the fuzz_loop driver.
func (s *State) MarkStopping() {
	atomic.StoreInt32(&s.stopping, 1)
}

// Stopping reports whether a stop was requested.
func (s *State) Stopping() bool {
	return atomic.LoadInt32(&s.stopping) != 0
}

// SetMetadata stores a named-metadata entry visible to any component
// holding this State.
func (s *State) SetMetadata(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = v
}

// Metadata retrieves a named-metadata entry.
func (s *State) Metadata(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.metadata[key]
	return v, ok
}

// ShouldReport reports whether at least interval has elapsed since the last
// stats report, and if so, records now as the new last-report time.
func (s *State) ShouldReport(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastReport) < interval {
		return false
	}
	s.lastReport = time.Now()
	return true
}

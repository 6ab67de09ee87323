// Package eventbus implements the message fabric fuzzer workers publish
// discoveries onto and the monitor/broker consume from: new testcases,
// solutions, periodic stats, log lines, and heartbeats. The node registry
// and HTTP wire shape generalize a master/worker cluster coordinator's
// task/result RPC into a broadcast event stream; the in-process fan-out
// queue reuses internal/parallel's lock-free queue instead of a buffered
// channel, so a slow subscriber can't block a publisher.
package eventbus

import (
	"sync"
	"time"

	"github.com/corefuzz/corefuzz/internal/parallel"
)

// Kind is the closed set of event message kinds carried on the bus.
type Kind int

const (
	NewTestcase Kind = iota
	Solution
	Stats
	Log
	Heartbeat
)

func (k Kind) String() string {
	switch k {
	case NewTestcase:
		return "new_testcase"
	case Solution:
		return "solution"
	case Stats:
		return "stats"
	case Log:
		return "log"
	case Heartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Event is one message on the bus. Fields not relevant to Kind are left
// zero; this mirrors the reference runtime's tagged-union event enum
// without needing a Go sum type.
type Event struct {
	Kind      Kind      `json:"kind"`
	NodeID    string    `json:"node_id"`
	Time      time.Time `json:"time"`
	CorpusID  uint64    `json:"corpus_id,omitempty"`
	InputHash string    `json:"input_hash,omitempty"`
	// InputData carries the raw testcase bytes for NewTestcase/Solution
	// events, so a receiving node can re-execute and judge the candidate
	// itself instead of only learning that some other node found something.
	// JSON base64-encodes it automatically; left empty for event kinds that
	// don't need it (Stats, Log, Heartbeat).
	InputData []byte         `json:"input_data,omitempty"`
	CrashKind string         `json:"crash_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
	Stats     *StatsSnapshot `json:"stats,omitempty"`
}

// StatsSnapshot is the periodic per-worker counters the monitor renders.
type StatsSnapshot struct {
	Executions   uint64  `json:"executions"`
	CorpusCount  int     `json:"corpus_count"`
	Solutions    int     `json:"solutions"`
	ExecPerSec   float64 `json:"exec_per_sec"`
	CoverageBits int     `json:"coverage_bits"`
}

// subscriberQueueCap bounds how far a subscriber may lag before Publish
// starts dropping events for it. A TUI or web monitor that stalls (window
// resize, a blocked websocket write) must never make the fuzzing loop's
// Publish calls slow down or block.
const subscriberQueueCap = 16384

// Subscriber is a single consumer's inbound queue.
type Subscriber struct {
	id    string
	queue *parallel.LockFreeQueue
	bp    *parallel.BackpressureController
}

func newSubscriber(id string) *Subscriber {
	cfg := parallel.DefaultBackpressureConfig()
	cfg.Strategy = parallel.StrategyDrop
	cfg.MaxQueueSize = subscriberQueueCap
	return &Subscriber{
		id:    id,
		queue: parallel.NewLockFreeQueue(),
		bp:    parallel.NewBackpressureController(cfg),
	}
}

// Poll pops the next queued event for this subscriber, if any.
func (s *Subscriber) Poll() (Event, bool) {
	v, ok := s.queue.Dequeue()
	if !ok {
		return Event{}, false
	}
	return v.(Event), true
}

// Pending reports how many events are queued for this subscriber.
func (s *Subscriber) Pending() int64 { return s.queue.Len() }

// LocalBus is the in-process event fabric: every published event is fanned
// out to every current subscriber's lock-free queue. A single-machine
// launcher run wires one LocalBus per broker process; cross-machine
// topology wraps it in the HTTP Broker below.
type LocalBus struct {
	subsMu sync.RWMutex
	subs   map[string]*Subscriber
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]*Subscriber)}
}

// Subscribe registers a new subscriber under id, replacing any existing
// one with the same id.
func (b *LocalBus) Subscribe(id string) *Subscriber {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	s := newSubscriber(id)
	b.subs[id] = s
	return s
}

// Get returns the subscriber registered under id, if any.
func (b *LocalBus) Get(id string) (*Subscriber, bool) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	s, ok := b.subs[id]
	return s, ok
}

// Unsubscribe removes a subscriber.
func (b *LocalBus) Unsubscribe(id string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	delete(b.subs, id)
}

// Publish fans out ev to every current subscriber except skipID (typically
// the publisher's own id, so a node never re-receives its own event). A
// subscriber whose queue has backed up past its backpressure watermark has
// this event dropped rather than queued, so one lagging monitor can't grow
// without bound or stall the publisher.
func (b *LocalBus) Publish(ev Event, skipID string) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for id, s := range b.subs {
		if id == skipID {
			continue
		}
		if !s.bp.CheckPressure(int(s.queue.Len()), subscriberQueueCap) {
			continue
		}
		s.bp.RecordProcessed()
		s.queue.Enqueue(ev)
	}
}

// SubscriberCount reports the number of registered subscribers.
func (b *LocalBus) SubscriberCount() int {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	return len(b.subs)
}

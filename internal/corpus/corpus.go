// Package corpus implements the content-addressed test case and solution
// stores described for the fuzzing runtime: an ordered collection of
// Testcases identified by dense CorpusId values, in-memory or persisted to
// disk one file per entry, using a queue/crashes directory layout keyed
// by sha256 file naming.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corefuzz/corefuzz/internal/errs"
	"github.com/corefuzz/corefuzz/internal/input"
)

// Id is the dense integer identity of a corpus entry. Ids are never reused
// within the lifetime of a Corpus, even across remove/replace.
type Id uint64

// CrashCause tags why a Testcase landed in the solutions store.
type CrashCause int

const (
	CauseCrash CrashCause = iota
	CauseOom
	CauseTimeout
)

func (c CrashCause) String() string {
	switch c {
	case CauseCrash:
		return "crash"
	case CauseOom:
		return "oom"
	case CauseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Testcase wraps an Input with the mutable metadata the runtime accumulates
// about it: discovery-time execution count, parent id, a metadata bag keyed
// by string tag, and (for on-disk corpora) the backing file path.
type Testcase struct {
	Input          *input.Input
	ExecutionCount uint64
	ParentID       Id
	DiscoveredAt   time.Time
	FilePath       string
	Favored        bool
	Metadata       map[string]any
}

// NewTestcase builds a Testcase wrapping in.
func NewTestcase(in *input.Input) *Testcase {
	return &Testcase{
		Input:        in,
		DiscoveredAt: time.Now(),
		Metadata:     make(map[string]any),
	}
}

// SetMetadata stores a metadata value under tag.
func (tc *Testcase) SetMetadata(tag string, v any) {
	tc.Metadata[tag] = v
}

// CrashCauseMetadata annotates a Testcase stored in the Solutions corpus.
type CrashCauseMetadata struct {
	Kind CrashCause
}

const crashCauseTag = "crash_cause"

// SetCrashCause records why this testcase is a solution.
func (tc *Testcase) SetCrashCause(kind CrashCause) {
	tc.SetMetadata(crashCauseTag, &CrashCauseMetadata{Kind: kind})
}

// CrashCause returns the recorded crash cause, if any.
func (tc *Testcase) CrashCause() (*CrashCauseMetadata, bool) {
	v, ok := tc.Metadata[crashCauseTag]
	if !ok {
		return nil, false
	}
	cc, ok := v.(*CrashCauseMetadata)
	return cc, ok
}

// Corpus is the contract shared by the in-memory and on-disk flavors. All
// implementations guarantee: ids never repeat for the lifetime of the
// store; next(last) == (0, false); first() returns some id iff Count() > 0.
type Corpus interface {
	Add(tc *Testcase) (Id, error)
	Replace(id Id, tc *Testcase) (*Testcase, error)
	Remove(id Id) (*Testcase, error)
	Get(id Id) (*Testcase, bool)
	First() (Id, bool)
	Next(id Id) (Id, bool)
	Current() (Id, bool)
	SetCurrent(id Id)
	Count() int
	Ids() []Id
}

// InMemory is a fast, volatile Corpus: entries live only in the process
// that owns it, an entries slice plus hash index with no disk
// persistence.
type InMemory struct {
	mu      sync.RWMutex
	order   []Id // insertion order, authoritative for First/Next
	entries map[Id]*Testcase
	nextID  Id
	current Id
	hasCur  bool
}

// NewInMemory creates an empty in-memory corpus.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[Id]*Testcase)}
}

func (c *InMemory) Add(tc *Testcase) (Id, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.entries[id] = tc
	c.order = append(c.order, id)
	return id, nil
}

func (c *InMemory) Replace(id Id, tc *Testcase) (*Testcase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.entries[id]
	if !ok {
		return nil, errs.New(errs.IllegalState, "replace: unknown corpus id")
	}
	c.entries[id] = tc
	return prev, nil
}

func (c *InMemory) Remove(id Id) (*Testcase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc, ok := c.entries[id]
	if !ok {
		return nil, errs.New(errs.IllegalState, "remove: unknown corpus id")
	}
	delete(c.entries, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return tc, nil
}

func (c *InMemory) Get(id Id) (*Testcase, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tc, ok := c.entries[id]
	return tc, ok
}

func (c *InMemory) First() (Id, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.order) == 0 {
		return 0, false
	}
	return c.order[0], true
}

func (c *InMemory) Next(id Id) (Id, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, oid := range c.order {
		if oid == id {
			if i+1 < len(c.order) {
				return c.order[i+1], true
			}
			return 0, false
		}
	}
	return 0, false
}

func (c *InMemory) Current() (Id, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.hasCur
}

func (c *InMemory) SetCurrent(id Id) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = id
	c.hasCur = true
}

func (c *InMemory) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *InMemory) Ids() []Id {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Id, len(c.order))
	copy(out, c.order)
	return out
}

// OnDisk persists every Testcase's input bytes to dir, one file named by
// content hash, plus a JSON metadata sidecar, the layout a queue/
// directory's save/load pair uses.
type OnDisk struct {
	*InMemory
	dir string
	sim *SimilarityIndex
}

// NewOnDisk creates (or reopens) an on-disk corpus rooted at dir.
func NewOnDisk(dir string) (*OnDisk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.IO, "create corpus dir", err)
	}
	return &OnDisk{InMemory: NewInMemory(), dir: dir, sim: NewSimilarityIndex()}, nil
}

func (c *OnDisk) Add(tc *Testcase) (Id, error) {
	id, err := c.InMemory.Add(tc)
	if err != nil {
		return id, err
	}
	if err := c.save(id, tc); err != nil {
		// Roll back the in-memory add so ids stay consistent with what's
		// actually on disk.
		c.InMemory.Remove(id)
		return 0, err
	}
	c.sim.Index(id, tc)
	return id, nil
}

// Remove also drops id from the similarity index so Nearest never points
// at a stale entry.
func (c *OnDisk) Remove(id Id) (*Testcase, error) {
	tc, err := c.InMemory.Remove(id)
	if err != nil {
		return nil, err
	}
	c.sim.Remove(id)
	return tc, nil
}

// Nearest reports the already-stored entry whose input is fuzzy-closest to
// tc, for the monitor and minimizer scheduler to surface near-duplicate
// clusters. It never blocks or vetoes Add.
func (c *OnDisk) Nearest(tc *Testcase) (Id, int, bool) {
	return c.sim.Nearest(tc)
}

func (c *OnDisk) Replace(id Id, tc *Testcase) (*Testcase, error) {
	prev, err := c.InMemory.Replace(id, tc)
	if err != nil {
		return nil, err
	}
	if err := c.save(id, tc); err != nil {
		return nil, err
	}
	return prev, nil
}

func (c *OnDisk) save(id Id, tc *Testcase) error {
	name := hashName(tc.Input.Hash(), id)
	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, tc.Input.Bytes(), 0644); err != nil {
		return errs.Wrap(errs.IO, "write corpus entry", err)
	}
	tc.FilePath = path

	sidecar := struct {
		ExecutionCount uint64
		ParentID       Id
		DiscoveredAt   time.Time
		Favored        bool
		CrashCause     string `json:"CrashCause,omitempty"`
	}{tc.ExecutionCount, tc.ParentID, tc.DiscoveredAt, tc.Favored, ""}
	if cc, ok := tc.CrashCause(); ok {
		sidecar.CrashCause = cc.Kind.String()
	}
	meta, _ := json.Marshal(sidecar)
	if err := os.WriteFile(path+".metadata", meta, 0644); err != nil {
		return errs.Wrap(errs.IO, "write corpus metadata", err)
	}
	return nil
}

func hashName(hash string, id Id) string {
	if len(hash) >= 16 {
		return hash[:16]
	}
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:8])
}

// Solutions is a Corpus specialization that only ever receives Testcases
// carrying a CrashCauseMetadata tag; it persists to an output directory the
// way the launcher's solutions directory is specified.
type Solutions struct {
	*OnDisk
}

// NewSolutions creates a Solutions store rooted at dir.
func NewSolutions(dir string) (*Solutions, error) {
	d, err := NewOnDisk(dir)
	if err != nil {
		return nil, err
	}
	return &Solutions{OnDisk: d}, nil
}

// Add requires the Testcase to already carry a CrashCauseMetadata tag.
func (s *Solutions) Add(tc *Testcase) (Id, error) {
	if _, ok := tc.CrashCause(); !ok {
		return 0, errs.New(errs.IllegalState, "solution testcase missing crash cause")
	}
	return s.OnDisk.Add(tc)
}

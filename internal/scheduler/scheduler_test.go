package scheduler

import (
	"testing"

	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/corefuzz/corefuzz/internal/observer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCorpus(t *testing.T, n int) (*corpus.InMemory, []corpus.Id) {
	t.Helper()
	c := corpus.NewInMemory()
	ids := make([]corpus.Id, n)
	for i := 0; i < n; i++ {
		id, err := c.Add(corpus.NewTestcase(input.New([]byte{byte(i)})))
		require.NoError(t, err)
		ids[i] = id
	}
	return c, ids
}

func TestQueueScheduleCoversAllInNCalls(t *testing.T) {
	c, ids := seedCorpus(t, 4)
	q := NewQueue()

	seen := make(map[corpus.Id]bool)
	for i := 0; i < len(ids); i++ {
		id, err := q.Next(c)
		require.NoError(t, err)
		seen[id] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id])
	}
}

func TestQueueSchedulerWrapS4(t *testing.T) {
	c, ids := seedCorpus(t, 3)
	q := NewQueue()

	var got []corpus.Id
	for i := 0; i < 7; i++ {
		id, err := q.Next(c)
		require.NoError(t, err)
		got = append(got, id)
	}

	want := []corpus.Id{ids[0], ids[1], ids[2], ids[0], ids[1], ids[2], ids[0]}
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(2), q.Cycles())
}

func TestQueueNextOnEmptyCorpusFails(t *testing.T) {
	c := corpus.NewInMemory()
	q := NewQueue()
	_, err := q.Next(c)
	assert.ErrorContains(t, err, "not properly instrumented")
}

func TestNFuzzBoundAndHashInRange(t *testing.T) {
	pq := NewPowerQueue(Explore)
	assert.Len(t, pq.Meta.NFuzz, NFuzzSize)

	m := observer.NewEdges("edges", 128)
	m.Map[10] = 7
	count := pq.RecordPath(m.Map)
	assert.Equal(t, uint32(1), count)

	idx := observer.PathHash(m.Map) % NFuzzSize
	assert.True(t, idx < NFuzzSize)
}

func TestIndexesLenTimeMinimizerPrefersSmallerFavoredSet(t *testing.T) {
	c, ids := seedCorpus(t, 2)
	min := NewIndexesLenTimeMinimizer(NewQueue())

	tc0, _ := c.Get(ids[0])
	tc0.SetMetadata("touched_indices", []int{1, 2})
	tc0.SetMetadata("exec_time_ns", int64(100))

	tc1, _ := c.Get(ids[1])
	tc1.SetMetadata("touched_indices", []int{1})
	tc1.SetMetadata("exec_time_ns", int64(10))

	require.NoError(t, min.OnAdd(c, ids[0]))
	require.NoError(t, min.OnAdd(c, ids[1]))

	next, err := min.Next(c)
	require.NoError(t, err)
	assert.Equal(t, ids[1], next, "lower score entry should be favored first")
}

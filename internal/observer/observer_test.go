package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHitCountBucketBoundaries(t *testing.T) {
	cases := map[byte]byte{
		0: 0, 1: 1, 2: 2, 3: 3,
		4: 4, 7: 4,
		8: 5, 15: 5,
		16: 6, 31: 6,
		32: 7, 127: 7,
		128: 8, 255: 8,
	}
	for count, want := range cases {
		assert.Equal(t, want, HitCountBucket(count), "count=%d", count)
	}
}

func TestEdgesPreExecZeroes(t *testing.T) {
	e := NewEdges("edges", 16)
	e.Map[3] = 42
	e.PreExec()
	for _, v := range e.Map {
		assert.Zero(t, v)
	}
}

func TestHitCountsRewritesMap(t *testing.T) {
	e := NewEdges("edges", 4)
	hc := NewHitCounts(e)
	e.Map[0] = 5
	e.Map[1] = 200
	hc.PostExec(Ok)
	assert.Equal(t, byte(4), e.Map[0])
	assert.Equal(t, byte(8), e.Map[1])
}

func TestIndexTrackingRecordsTouched(t *testing.T) {
	e := NewEdges("edges", 8)
	it := NewIndexTracking(e)
	e.Map[2] = 1
	e.Map[5] = 3
	it.PostExec(Ok)
	assert.ElementsMatch(t, []int{2, 5}, it.Touched)
}

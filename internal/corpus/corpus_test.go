package corpus

import (
	"testing"

	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryMonotonicIds(t *testing.T) {
	c := NewInMemory()
	var ids []Id
	for i := 0; i < 5; i++ {
		id, err := c.Add(NewTestcase(input.New([]byte{byte(i)})))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	_, err := c.Remove(ids[2])
	require.NoError(t, err)

	id, err := c.Add(NewTestcase(input.New([]byte{9})))
	require.NoError(t, err)

	seen := make(map[Id]bool)
	for _, existing := range append(ids, id) {
		assert.False(t, seen[existing], "corpus id %d reused", existing)
		seen[existing] = true
	}
}

func TestInMemoryFirstNext(t *testing.T) {
	c := NewInMemory()
	require.Equal(t, 0, c.Count())
	_, ok := c.First()
	assert.False(t, ok)

	var ids []Id
	for i := 0; i < 3; i++ {
		id, _ := c.Add(NewTestcase(input.New([]byte{byte(i)})))
		ids = append(ids, id)
	}

	first, ok := c.First()
	require.True(t, ok)
	assert.Equal(t, ids[0], first)

	_, ok = c.Next(ids[len(ids)-1])
	assert.False(t, ok, "next(last) must be None")

	cur := ids[0]
	for i := 1; i < len(ids); i++ {
		next, ok := c.Next(cur)
		require.True(t, ok)
		assert.Equal(t, ids[i], next)
		cur = next
	}
}

func TestReplaceAndRemoveUnknownIdFails(t *testing.T) {
	c := NewInMemory()
	_, err := c.Replace(Id(999), NewTestcase(input.New(nil)))
	assert.Error(t, err)

	_, err = c.Remove(Id(999))
	assert.Error(t, err)
}

func TestOnDiskPersistsEntries(t *testing.T) {
	dir := t.TempDir()
	c, err := NewOnDisk(dir)
	require.NoError(t, err)

	id, err := c.Add(NewTestcase(input.New([]byte("hello"))))
	require.NoError(t, err)

	tc, ok := c.Get(id)
	require.True(t, ok)
	assert.NotEmpty(t, tc.FilePath)
}

func TestSolutionsRequireCrashCause(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSolutions(dir)
	require.NoError(t, err)

	_, err = s.Add(NewTestcase(input.New([]byte("no cause"))))
	assert.Error(t, err)

	tc := NewTestcase(input.New([]byte("crashes")))
	tc.SetCrashCause(CauseCrash)
	_, err = s.Add(tc)
	assert.NoError(t, err)
}

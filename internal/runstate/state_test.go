package runstate

import (
	"testing"
	"time"

	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/stretchr/testify/assert"
)

func TestIncExecutionsIsMonotonic(t *testing.T) {
	s := New(corpus.NewInMemory(), corpus.NewInMemory(), 1<<16)
	for i := 0; i < 5; i++ {
		s.IncExecutions()
	}
	assert.Equal(t, uint64(5), s.Executions())
}

func TestSetExecutionsOverwrites(t *testing.T) {
	s := New(corpus.NewInMemory(), corpus.NewInMemory(), 1<<16)
	s.SetExecutions(42)
	assert.Equal(t, uint64(42), s.Executions())
}

func TestMetadataRoundTrip(t *testing.T) {
	s := New(corpus.NewInMemory(), corpus.NewInMemory(), 1<<16)
	_, ok := s.Metadata("missing")
	assert.False(t, ok)

	s.SetMetadata("strategy", "explore")
	v, ok := s.Metadata("strategy")
	assert.True(t, ok)
	assert.Equal(t, "explore", v)
}

func TestStoppingFlag(t *testing.T) {
	s := New(corpus.NewInMemory(), corpus.NewInMemory(), 1<<16)
	assert.False(t, s.Stopping())
	s.MarkStopping()
	assert.True(t, s.Stopping())
}

func TestShouldReportRespectsInterval(t *testing.T) {
	s := New(corpus.NewInMemory(), corpus.NewInMemory(), 1<<16)
	assert.True(t, s.ShouldReport(time.Hour))
	assert.False(t, s.ShouldReport(time.Hour))
}

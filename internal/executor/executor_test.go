package executor

import (
	"context"
	"testing"
	"time"

	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/corefuzz/corefuzz/internal/observer"
	"github.com/stretchr/testify/assert"
)

func newTestExecutor(run func([]byte) int, timeout time.Duration) *InProcess {
	e := NewInProcess(Harness{Run: run}, nil, timeout)
	e.exit = func(int) {} // swallow the simulated worker-exit in tests
	return e
}

func TestRunTargetOk(t *testing.T) {
	e := newTestExecutor(func([]byte) int { return 0 }, time.Second)
	kind := e.RunTarget(context.Background(), input.New([]byte("ok")))
	assert.Equal(t, observer.Ok, kind)
}

func TestRunTargetCrash(t *testing.T) {
	var captured observer.ExitKind
	e := newTestExecutor(func(data []byte) int {
		panic("boom")
	}, time.Second)
	e.OnFatal = func(in *input.Input, kind observer.ExitKind) { captured = kind }

	kind := e.RunTarget(context.Background(), input.New([]byte{0xFF}))
	assert.Equal(t, observer.Crash, kind)
	assert.Equal(t, observer.Crash, captured)
}

func TestRunTargetOom(t *testing.T) {
	e := newTestExecutor(func([]byte) int {
		panic(&OOMError{Msg: "out of memory"})
	}, time.Second)
	kind := e.RunTarget(context.Background(), input.New(nil))
	assert.Equal(t, observer.Oom, kind)
}

func TestRunTargetTimeout(t *testing.T) {
	e := newTestExecutor(func([]byte) int {
		time.Sleep(200 * time.Millisecond)
		return 0
	}, 10*time.Millisecond)
	kind := e.RunTarget(context.Background(), input.New(nil))
	assert.Equal(t, observer.Timeout, kind)
}

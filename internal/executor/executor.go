// Package executor runs the harness against a candidate input with
// observers attached, catching crashes/timeouts and handing control back to
// the stage/fuzzer layer above it, around the byte-harness ABI and
// exit-kind taxonomy this runtime specifies.
package executor

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/corefuzz/corefuzz/internal/corelog"
	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/corefuzz/corefuzz/internal/observer"
)

// Harness is the C-ABI-shaped contract an in-process target satisfies:
// LLVMFuzzerInitialize plus LLVMFuzzerTestOneInput, called in-process.
type Harness struct {
	// Init runs once before the fuzz loop starts. A -1 return is logged as
	// a warning, not fatal (matches the ABI note in the interfaces spec).
	Init func(args []string) int
	// Run executes one input. It signals a crash by panicking (the in-
	// process executor recovers it and reports ExitKind Crash) and an OOM
	// by panicking with an *OOMError.
	Run func(data []byte) int
}

// OOMError lets a harness distinguish an allocation-limit abort from a
// generic crash.
type OOMError struct{ Msg string }

func (e *OOMError) Error() string { return e.Msg }

// Executor is the contract every stage drives: pre_exec_observers,
// run_target, post_exec_observers.
type Executor interface {
	PreExecObservers()
	RunTarget(ctx context.Context, in *input.Input) observer.ExitKind
	PostExecObservers(kind observer.ExitKind)
	Observers() []observer.Observer
}

// InProcess runs the harness in the calling process. Crash detection uses
// Go's panic/recover in place of a signal handler (Go programs cannot
// install arbitrary async-signal-safe handlers the way a C harness can);
// timeouts are enforced with a watchdog goroutine racing the harness call.
// On a non-Ok outcome OnFatal (if set) is invoked and then the exit hook;
// the hook NewInProcess installs does nothing, so the process keeps
// running and the caller receives the exit kind.
type InProcess struct {
	harness  Harness
	observer []observer.Observer
	timeout  time.Duration
	OnFatal  func(in *input.Input, kind observer.ExitKind)
	exit     func(code int)
}

// NewInProcess builds an in-process executor bound to harness and obs,
// enforcing timeout per run.
func NewInProcess(harness Harness, obs []observer.Observer, timeout time.Duration) *InProcess {
	return &InProcess{harness: harness, observer: obs, timeout: timeout, exit: defaultExit}
}

func (e *InProcess) Observers() []observer.Observer { return e.observer }

func (e *InProcess) PreExecObservers() {
	for _, o := range e.observer {
		o.PreExec()
	}
}

func (e *InProcess) PostExecObservers(kind observer.ExitKind) {
	for _, o := range e.observer {
		o.PostExec(kind)
	}
}

// RunTarget executes the harness once, returning Ok, Crash, Oom, or
// Timeout. On any non-Ok kind, it calls OnFatal (if set) and then the exit
// hook with the kind's exit code, and returns the kind. It does not end
// the worker process, and on Timeout the harness call keeps running in its
// goroutine.
func (e *InProcess) RunTarget(ctx context.Context, in *input.Input) observer.ExitKind {
	type outcome struct {
		kind observer.ExitKind
	}
	done := make(chan outcome, 1)

	go func() {
		kind := observer.Ok
		defer func() {
			if r := recover(); r != nil {
				if _, isOOM := r.(*OOMError); isOOM {
					kind = observer.Oom
				} else {
					kind = observer.Crash
				}
			}
			done <- outcome{kind: kind}
		}()
		e.harness.Run(in.Bytes())
	}()

	timeout := e.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	select {
	case o := <-done:
		if o.kind != observer.Ok {
			e.terminate(in, o.kind)
		}
		return o.kind
	case <-time.After(timeout):
		e.terminate(in, observer.Timeout)
		return observer.Timeout
	case <-ctx.Done():
		return observer.Ok
	}
}

func (e *InProcess) terminate(in *input.Input, kind observer.ExitKind) {
	if e.OnFatal != nil {
		e.OnFatal(in, kind)
	}
	corelog.Logf(0, "worker terminating after %s exit kind", kind)
	e.exit(fatalExitCode(kind))
}

func fatalExitCode(kind observer.ExitKind) int {
	switch kind {
	case observer.Crash:
		return 71
	case observer.Oom:
		return 72
	case observer.Timeout:
		return 73
	default:
		return 1
	}
}

func defaultExit(code int) {
	// The exit hook NewInProcess installs. It does nothing: the field is
	// unexported and only this package's tests replace it, so a fatal
	// outcome never exits the process.
}

// Tracing wraps any executor to additionally run a secondary, separately
// instrumented binary (e.g. with CmpLog-style comparison tracing) whose
// output enriches testcase metadata. It must run out-of-process — it
// expects a genuine process boundary, unlike InProcess.
type Tracing struct {
	inner      Executor
	tracerPath string
	lastTrace  []byte
}

// NewTracing wraps inner, running tracerPath as the secondary binary.
func NewTracing(inner Executor, tracerPath string) *Tracing {
	return &Tracing{inner: inner, tracerPath: tracerPath}
}

func (t *Tracing) Observers() []observer.Observer { return t.inner.Observers() }
func (t *Tracing) PreExecObservers()               { t.inner.PreExecObservers() }
func (t *Tracing) PostExecObservers(k observer.ExitKind) { t.inner.PostExecObservers(k) }

func (t *Tracing) RunTarget(ctx context.Context, in *input.Input) observer.ExitKind {
	kind := t.inner.RunTarget(ctx, in)
	if kind != observer.Ok {
		return kind
	}
	if t.tracerPath == "" {
		return kind
	}
	cmd := exec.CommandContext(ctx, t.tracerPath)
	cmd.Stdin = bytes.NewReader(in.Bytes())
	out, err := cmd.Output()
	if err != nil {
		corelog.Logf(1, "tracer run failed: %v", err)
		return kind
	}
	t.lastTrace = out
	return kind
}

// LastTrace returns the most recent tracer binary output, for the tracing
// stage to attach as testcase metadata.
func (t *Tracing) LastTrace() []byte { return t.lastTrace }

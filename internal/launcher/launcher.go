// Package launcher spawns and supervises one worker process per requested
// CPU core, binds each to its core, and restarts any worker that exits
// non-zero — the process-per-core topology the reference runtime's
// Launcher implements. The scaling/restart shape generalizes an
// auto-scaling worker-pool loop from in-process goroutine workers to real
// OS processes, so a worker crash can never take the whole fleet down
// with it.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/corefuzz/corefuzz/internal/corelog"
	"github.com/corefuzz/corefuzz/internal/errs"
	"golang.org/x/sys/unix"
)

// ParseCoreList parses an AFL/LibAFL-style core spec: comma-separated
// single cores and dash ranges, e.g. "0-3,5,7", or "all" for every core
// runtime.NumCPU() reports.
func ParseCoreList(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "all" {
		n := runtime.NumCPU()
		cores := make([]int, n)
		for i := range cores {
			cores[i] = i
		}
		return cores, nil
	}

	var cores []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, errs.Wrap(errs.IllegalArgument, "parse core range start", err)
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, errs.Wrap(errs.IllegalArgument, "parse core range end", err)
			}
			for c := lo; c <= hi; c++ {
				cores = append(cores, c)
			}
			continue
		}
		c, err := strconv.Atoi(part)
		if err != nil {
			return nil, errs.Wrap(errs.IllegalArgument, "parse core", err)
		}
		cores = append(cores, c)
	}
	if len(cores) == 0 {
		return nil, errs.New(errs.IllegalArgument, "core list is empty")
	}
	return cores, nil
}

// BindCurrentThread pins the calling OS thread to the given core. Callers
// must have already called runtime.LockOSThread(), since Go may otherwise
// migrate the goroutine to an unpinned thread.
func BindCurrentThread(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errs.Wrap(errs.IO, fmt.Sprintf("bind to core %d", core), err)
	}
	return nil
}

// CloseFDMask bit 0 mutes stdout, bit 1 mutes stderr. These are checked
// independently: passing 3 mutes both. This intentionally corrects the
// destroy_output_fds defect the reference runtime carries (there, bit 1
// erroneously re-closed stdout instead of stderr).
const (
	CloseStdout = 1 << 0
	CloseStderr = 1 << 1
)

// Spec configures one worker process: the binary to exec, its arguments,
// and which standard fds to mute.
type Spec struct {
	Program      string
	Args         []string
	Env          []string
	CloseFDMask  int
	RestartLimit int // 0 means unlimited restarts
}

// crashExitCodes are the worker exit codes internal/executor's InProcess
// reports on a fatal outcome; the launcher treats any of these (or any
// non-zero code) as "restart", but logs them distinctly for operators.
var crashExitCodes = map[int]string{71: "crash", 72: "oom", 73: "timeout"}

// Launcher supervises one worker process per core, restarting any that
// exit, until Stop is called.
type Launcher struct {
	Cores []int
	Spec  Spec

	mu       sync.Mutex
	cancelled bool
	wg       sync.WaitGroup
}

// New builds a Launcher over the given cores running spec.
func New(cores []int, spec Spec) *Launcher {
	return &Launcher{Cores: cores, Spec: spec}
}

// Run spawns one supervised worker per core and blocks until Stop is
// called or every worker's restart budget is exhausted.
func (l *Launcher) Run() {
	for _, core := range l.Cores {
		l.wg.Add(1)
		go l.supervise(core)
	}
	l.wg.Wait()
}

// Stop requests every supervised worker stop restarting after its current
// run exits.
func (l *Launcher) Stop() {
	l.mu.Lock()
	l.cancelled = true
	l.mu.Unlock()
}

func (l *Launcher) stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled
}

func (l *Launcher) supervise(core int) {
	defer l.wg.Done()
	restarts := 0
	for {
		if l.stopped() {
			return
		}
		code, err := l.runOnce(core)
		if err != nil {
			corelog.Errorf("core %d: failed to start worker: %v", core, err)
			return
		}
		if code == 0 {
			return
		}
		if reason, ok := crashExitCodes[code]; ok {
			corelog.Logf(0, "core %d: worker exited (%s), restarting", core, reason)
		} else {
			corelog.Logf(0, "core %d: worker exited with code %d, restarting", core, code)
		}
		restarts++
		if l.Spec.RestartLimit > 0 && restarts >= l.Spec.RestartLimit {
			corelog.Errorf("core %d: restart budget exhausted", core)
			return
		}
	}
}

func (l *Launcher) runOnce(core int) (int, error) {
	cmd := exec.Command(l.Spec.Program, append(l.Spec.Args, "--core", strconv.Itoa(core))...)
	cmd.Env = append(os.Environ(), l.Spec.Env...)

	if l.Spec.CloseFDMask&CloseStdout == 0 {
		cmd.Stdout = os.Stdout
	}
	if l.Spec.CloseFDMask&CloseStderr == 0 {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return 0, errs.Wrap(errs.IO, "start worker process", err)
	}

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, errs.Wrap(errs.IO, "wait for worker process", err)
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// Signal sends signal sig to the process with the given pid, e.g. to force
// a worker through a crash-restart cycle without a real target bug.
func Signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errs.Wrap(errs.IO, "find worker process", err)
	}
	return proc.Signal(sig)
}

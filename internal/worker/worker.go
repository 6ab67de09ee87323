// Package worker assembles one fuzz-loop worker: corpus/solutions stores,
// observers, feedback/objective engine, scheduler, mutator, stage set, and
// the fuzzer orchestrator that drives them, wired together in one place
// before running. Both the single-process ("cores none") and the
// per-core launched path share this constructor.
package worker

import (
	"os"
	"path/filepath"
	"time"

	"github.com/corefuzz/corefuzz/internal/asyncjobs"
	"github.com/corefuzz/corefuzz/internal/config"
	"github.com/corefuzz/corefuzz/internal/corelog"
	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/corefuzz/corefuzz/internal/errs"
	"github.com/corefuzz/corefuzz/internal/executor"
	"github.com/corefuzz/corefuzz/internal/feedback"
	"github.com/corefuzz/corefuzz/internal/fuzzer"
	"github.com/corefuzz/corefuzz/internal/harness"
	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/corefuzz/corefuzz/internal/mutator"
	"github.com/corefuzz/corefuzz/internal/observer"
	"github.com/corefuzz/corefuzz/internal/runstate"
	"github.com/corefuzz/corefuzz/internal/scheduler"
	"github.com/corefuzz/corefuzz/internal/stage"
)

const edgesHandle = "edges"
const timeHandle = "time"

// powerStrategy maps the config string onto scheduler.PowerSchedule,
// defaulting to Explore (round-robin-equivalent power) on an unknown name.
func powerStrategy(name string) scheduler.PowerSchedule {
	switch name {
	case "exploit":
		return scheduler.Exploit
	case "fast":
		return scheduler.Fast
	case "coe":
		return scheduler.Coe
	case "lin":
		return scheduler.Lin
	case "quad":
		return scheduler.Quad
	default:
		return scheduler.Explore
	}
}

// Worker bundles one core's fuzz loop plus the side channel (new testcase /
// solution) callbacks the caller wires to the event bus.
type Worker struct {
	Fuzzer *fuzzer.Fuzzer
	State  *runstate.State
}

// New builds a worker: loads seeds from cfg.Target.InputDirs into an
// on-disk corpus rooted under queueDir, opens the solutions store at
// solutionsDir, loads the harness plugin, and wires together the
// observer/feedback/scheduler/mutator/stage set the fuzz loop needs.
func New(cfg *config.Config, queueDir, solutionsDir string, timeout time.Duration, jobs *asyncjobs.Pool) (*Worker, error) {
	cs, err := corpus.NewOnDisk(queueDir)
	if err != nil {
		return nil, err
	}
	sol, err := corpus.NewSolutions(solutionsDir)
	if err != nil {
		return nil, err
	}

	st := runstate.New(cs, sol, cfg.Engine.MaxInputSize)

	if err := loadSeeds(cs, cfg.Target.InputDirs); err != nil {
		return nil, err
	}
	if cs.Count() == 0 {
		return nil, errs.New(errs.Empty, "no seed inputs loaded from --input directories")
	}

	h, err := harness.Load(cfg.Target.Harness)
	if err != nil {
		return nil, err
	}
	if h.Init != nil {
		if rc := h.Init(nil); rc == -1 {
			corelog.Logf(0, "harness LLVMFuzzerInitialize returned -1, continuing anyway")
		}
	}

	edges := observer.NewEdges(edgesHandle, cfg.Engine.MapSize)
	hitCounts := observer.NewHitCounts(edges)
	timeObs := observer.NewTime(timeHandle)
	obs := []observer.Observer{hitCounts, timeObs}

	ex := executor.NewInProcess(h, obs, timeout)

	var sched scheduler.Scheduler = scheduler.NewPowerQueue(powerStrategy(cfg.Schedule.Strategy))
	if cfg.Schedule.Minimize {
		sched = scheduler.NewIndexesLenTimeMinimizer(sched)
	}

	dict := append(mutator.Dictionary(nil), mutator.PNGDictionary...)
	if len(cfg.Target.Dictionary) > 0 && jobs != nil {
		dict = append(dict, mutator.LoadDictionaryFiles(jobs, cfg.Target.Dictionary)...)
	}
	mut := mutator.NewHavoc(dict, cfg.Engine.HavocStack)

	fb := feedback.EagerOr("map",
		feedback.NewMaxMapFeedback("max_map", edgesHandle, cfg.Engine.MapSize),
		feedback.NewTimeFeedback("time", timeHandle),
	)
	objective := feedback.ShortCircuitOr("objective",
		feedback.NewCrashFeedback(),
		feedback.NewOomFeedback(),
		feedback.NewTimeoutFeedback(),
	)

	stages := []stage.Stage{
		stage.NewMutationalStage(),
		stage.NewTminStage(edgesHandle),
	}

	fz := fuzzer.New(st, ex, sched, mut, stages, fb, objective)
	fz.EdgesHandle = edgesHandle

	return &Worker{Fuzzer: fz, State: st}, nil
}

func loadSeeds(c corpus.Corpus, dirs []string) error {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return errs.Wrap(errs.IO, "read seed directory", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return errs.Wrap(errs.IO, "read seed file", err)
			}
			tc := corpus.NewTestcase(input.New(data))
			if _, err := c.Add(tc); err != nil {
				return err
			}
		}
	}
	return nil
}

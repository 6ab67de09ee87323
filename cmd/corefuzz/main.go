// Command corefuzz is the launcher/worker entrypoint: invoked bare it binds
// one process per requested core and supervises them; invoked with the
// hidden --core flag (the form the launcher re-execs itself with) it runs
// that single core's fuzz loop until a crash, timeout, or shutdown signal.
// Flag/command wiring follows the same cobra layering convention as the
// rest of this tree's CLI surfaces, with cores/broker/input/output/
// timeout/topology flags in place of a scan target's url/wordlist/rate.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corefuzz/corefuzz/internal/asyncjobs"
	"github.com/corefuzz/corefuzz/internal/config"
	"github.com/corefuzz/corefuzz/internal/corelog"
	"github.com/corefuzz/corefuzz/internal/corpus"
	"github.com/corefuzz/corefuzz/internal/errs"
	"github.com/corefuzz/corefuzz/internal/eventbus"
	"github.com/corefuzz/corefuzz/internal/input"
	"github.com/corefuzz/corefuzz/internal/launcher"
	"github.com/corefuzz/corefuzz/internal/monitor/tui"
	monitorweb "github.com/corefuzz/corefuzz/internal/monitor/web"
	"github.com/corefuzz/corefuzz/internal/worker"
)

const version = "0.1.0"

type flags struct {
	cores             string
	brokerPort        int
	remoteBroker      string
	inputs            []string
	output            string
	timeoutMS         int
	parentAddr        string
	nodeListeningPort int
	configPath        string
	verbose           bool
	enableWeb         bool
	core              int // -1 means "I am the supervising launcher process"
}

func main() {
	f := &flags{}
	root := &cobra.Command{
		Use:     "corefuzz",
		Short:   "Coverage-guided in-process fuzzing runtime",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	root.Flags().StringVarP(&f.cores, "cores", "c", "all", `core spec, e.g. "1,2-4,6", "all", or "none"`)
	root.Flags().IntVarP(&f.brokerPort, "broker-port", "p", 1337, "event bus broker port")
	root.Flags().StringVarP(&f.remoteBroker, "remote-broker", "a", "", "connect to a broker on another machine instead of running one locally")
	root.Flags().StringArrayVarP(&f.inputs, "input", "i", nil, "initial corpus directory (repeatable)")
	root.Flags().StringVarP(&f.output, "output", "o", "./out", "solutions output directory")
	root.Flags().IntVarP(&f.timeoutMS, "timeout", "t", 10000, "per-execution timeout in milliseconds")
	root.Flags().StringVar(&f.parentAddr, "parent-addr", "", "parent broker address in a multi-machine topology")
	root.Flags().IntVar(&f.nodeListeningPort, "node-listening-port", 0, "port this node listens on for its own children")
	root.Flags().StringVar(&f.configPath, "config", "", "YAML config file; flags override its values")
	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "enable verbose logging")
	root.Flags().BoolVar(&f.enableWeb, "web", false, "also serve a read-only live dashboard on broker-port+1")
	root.Flags().IntVar(&f.core, "core", -1, "internal: the core id this process should bind to and fuzz on")
	root.Flags().MarkHidden("core")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the corefuzz version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("corefuzz " + version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	if f.verbose {
		corelog.SetVerbosity(1)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, f)

	if cfg.Target.Harness == "" {
		return errs.New(errs.IllegalArgument, "target harness plugin must be set via --config (target.harness)")
	}
	if len(cfg.Target.InputDirs) == 0 {
		return errs.New(errs.IllegalArgument, "at least one --input directory is required")
	}

	if f.core >= 0 {
		return runWorkerProcess(cfg, f)
	}
	return runSupervisor(cfg, f)
}

func applyFlagOverrides(cfg *config.Config, f *flags) {
	cfg.Engine.Cores = f.cores
	cfg.Engine.Timeout = time.Duration(f.timeoutMS) * time.Millisecond
	cfg.Cluster.BrokerPort = f.brokerPort
	cfg.Cluster.RemoteBroker = f.remoteBroker
	cfg.Cluster.ParentAddr = f.parentAddr
	cfg.Cluster.NodeListeningPort = f.nodeListeningPort
	cfg.Target.OutputDir = f.output
	cfg.Output.Verbose = f.verbose
	cfg.Output.EnableWeb = f.enableWeb
	if len(f.inputs) > 0 {
		cfg.Target.InputDirs = f.inputs
	}
}

// runWorkerProcess is the body executed by every per-core process the
// launcher spawns (and, for "--cores none", the single inline process this
// same binary becomes without re-exec).
func runWorkerProcess(cfg *config.Config, f *flags) error {
	core := f.core
	if core < 0 {
		core = 0
	}
	if core > 0 {
		runtime.LockOSThread()
		if err := launcher.BindCurrentThread(core); err != nil {
			corelog.Logf(0, "core %d: bind failed, continuing unbound: %v", core, err)
		}
	}

	jobs, err := asyncjobs.New(4)
	if err != nil {
		return errs.Wrap(errs.IO, "create async job pool", err)
	}
	defer jobs.Release()

	queueDir := filepath.Join(cfg.Target.OutputDir, "queue", "core-"+strconv.Itoa(core))
	solutionsDir := filepath.Join(cfg.Target.OutputDir, "solutions")

	w, err := worker.New(cfg, queueDir, solutionsDir, cfg.Engine.Timeout, jobs)
	if err != nil {
		return err
	}

	nodeID := "node-" + strconv.Itoa(core)
	brokerAddr := cfg.Cluster.RemoteBroker
	if brokerAddr == "" {
		brokerAddr = fmt.Sprintf("127.0.0.1:%d", cfg.Cluster.BrokerPort)
	}
	client := eventbus.NewClient(brokerAddr, nodeID)
	client.Register(nodeID)

	w.Fuzzer.OnNewTestcase = func(id corpus.Id, tc *corpus.Testcase) {
		client.Publish(eventbus.Event{Kind: eventbus.NewTestcase, CorpusID: uint64(id), InputHash: tc.Input.Hash(), InputData: tc.Input.Bytes()})
	}
	w.Fuzzer.OnSolution = func(id corpus.Id, tc *corpus.Testcase) {
		kind := "crash"
		if cc, ok := tc.CrashCause(); ok {
			kind = cc.Kind.String()
		}
		client.Publish(eventbus.Event{Kind: eventbus.Solution, CorpusID: uint64(id), InputHash: tc.Input.Hash(), InputData: tc.Input.Bytes(), CrashKind: kind})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		w.State.MarkStopping()
		cancel()
	}()

	// pollTicker drains the broker's event batch for this node and feeds any
	// sibling-published testcase back through this worker's own evaluate
	// path, so a discovery on one core amplifies across the whole fleet
	// instead of staying siloed per core.
	pollTicker := time.NewTicker(250 * time.Millisecond)
	defer pollTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pollTicker.C:
			}
			events, err := client.Poll()
			if err != nil {
				continue
			}
			for _, ev := range events {
				if ev.NodeID == nodeID || len(ev.InputData) == 0 {
					continue
				}
				if ev.Kind != eventbus.NewTestcase && ev.Kind != eventbus.Solution {
					continue
				}
				if _, err := w.Fuzzer.IngestRemote(ctx, input.New(ev.InputData)); err != nil {
					corelog.Logf(1, "ingest remote testcase from %s: %v", ev.NodeID, err)
				}
			}
		}
	}()

	reportTicker := time.NewTicker(2 * time.Second)
	defer reportTicker.Stop()
	go func() {
		for range reportTicker.C {
			client.Heartbeat(eventbus.NodeInfo{
				Executions: w.State.Executions(),
				Corpus:     w.State.Corpus.Count(),
				Solutions:  w.State.Solutions.Count(),
			})
			client.Publish(eventbus.Event{
				Kind: eventbus.Stats,
				Stats: &eventbus.StatsSnapshot{
					Executions:  w.State.Executions(),
					CorpusCount: w.State.Corpus.Count(),
					Solutions:   w.State.Solutions.Count(),
				},
			})
		}
	}()

	err = w.Fuzzer.FuzzLoop(ctx)
	if errs.Is(err, errs.ShuttingDown) {
		return nil
	}
	return err
}

// runSupervisor is the parent process: it opens the event bus broker (and
// optionally the read-only web dashboard alongside it), renders the TUI
// monitor, and launches one supervised worker process per requested core.
func runSupervisor(cfg *config.Config, f *flags) error {
	if cfg.Engine.Cores == "none" {
		f.core = 0
		return runWorkerProcess(cfg, f)
	}
	cores, err := launcher.ParseCoreList(cfg.Engine.Cores)
	if err != nil {
		return err
	}

	bus := eventbus.NewLocalBus()
	monitorSub := bus.Subscribe("monitor")

	var broker *eventbus.Broker
	if cfg.Cluster.RemoteBroker == "" {
		broker = eventbus.NewBroker(fmt.Sprintf(":%d", cfg.Cluster.BrokerPort))
		go func() {
			if err := broker.Start(); err != nil {
				corelog.Logf(0, "broker stopped: %v", err)
			}
		}()
		defer broker.Stop(context.Background())
	}

	webStop := make(chan struct{})
	if cfg.Output.EnableWeb {
		webSub := bus.Subscribe("web")
		webServer := monitorweb.NewServer(webSub)
		go webServer.Pump(webStop)
		addr := fmt.Sprintf(":%d", cfg.Cluster.BrokerPort+1)
		go func() {
			if err := webServer.Start(addr); err != nil {
				corelog.Logf(0, "web monitor stopped: %v", err)
			}
		}()
		defer close(webStop)
		defer webServer.Stop()
	}
	_ = monitorSub

	exe, err := os.Executable()
	if err != nil {
		return errs.Wrap(errs.IO, "resolve executable path", err)
	}

	spec := launcher.Spec{
		Program: exe,
		Args:    reexecArgs(f),
	}
	l := launcher.New(cores, spec)

	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	if cfg.Output.EnableTUI {
		go func() {
			select {
			case <-sigs:
				l.Stop()
			case <-done:
			}
		}()
		return tui.Run(monitorSub)
	}

	select {
	case <-sigs:
		l.Stop()
		<-done
		fmt.Println("Fuzzing stopped by user. Good bye.")
	case <-done:
	}
	return nil
}

// reexecArgs rebuilds the flag list the launcher passes to each spawned
// worker process, carrying every flag except --core (which the launcher
// appends itself per worker).
func reexecArgs(f *flags) []string {
	args := []string{
		"--cores", f.cores,
		"--broker-port", strconv.Itoa(f.brokerPort),
		"--output", f.output,
		"--timeout", strconv.Itoa(f.timeoutMS),
	}
	for _, in := range f.inputs {
		args = append(args, "--input", in)
	}
	if f.remoteBroker != "" {
		args = append(args, "--remote-broker", f.remoteBroker)
	}
	if f.parentAddr != "" {
		args = append(args, "--parent-addr", f.parentAddr)
	}
	if f.nodeListeningPort != 0 {
		args = append(args, "--node-listening-port", strconv.Itoa(f.nodeListeningPort))
	}
	if f.configPath != "" {
		args = append(args, "--config", f.configPath)
	}
	if f.verbose {
		args = append(args, "--verbose")
	}
	if f.enableWeb {
		args = append(args, "--web")
	}
	return args
}

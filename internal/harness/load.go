// Package harness loads the target's C-ABI-shaped entry points out of a
// separately built Go plugin, the idiomatic Go stand-in for linking an
// instrumented target into the runtime: a harness author builds their
// target with `go build -buildmode=plugin` exporting
// LLVMFuzzerTestOneInput and (optionally) LLVMFuzzerInitialize, and this
// package turns that into an executor.Harness. Uses the standard
// library's own plugin-loading idiom rather than a bespoke loader, since
// a target linked directly into this process has no network-endpoint
// equivalent to reach for instead.
package harness

import (
	"plugin"

	"github.com/corefuzz/corefuzz/internal/errs"
	"github.com/corefuzz/corefuzz/internal/executor"
)

// Load opens the plugin at path and resolves its two exported harness
// functions. LLVMFuzzerInitialize is optional; LLVMFuzzerTestOneInput is
// required.
func Load(path string) (executor.Harness, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return executor.Harness{}, errs.Wrap(errs.IO, "open harness plugin", err)
	}

	runSym, err := p.Lookup("LLVMFuzzerTestOneInput")
	if err != nil {
		return executor.Harness{}, errs.Wrap(errs.IllegalArgument, "harness plugin missing LLVMFuzzerTestOneInput", err)
	}
	run, ok := runSym.(func([]byte) int)
	if !ok {
		return executor.Harness{}, errs.New(errs.IllegalArgument, "LLVMFuzzerTestOneInput has the wrong signature")
	}

	h := executor.Harness{Run: run}

	if initSym, err := p.Lookup("LLVMFuzzerInitialize"); err == nil {
		if init, ok := initSym.(func([]string) int); ok {
			h.Init = init
		}
	}
	return h, nil
}

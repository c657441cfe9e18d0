// Package sequence implements the sequence/subshell orchestrator (C10):
// &&/||/; short-circuit evaluation over a list of deferred Runner builders,
// and cwd save/restore scoping around a subshell body.
package sequence

import (
	"os"
	"sync"

	"github.com/link-foundation/command-stream-sub001/runner"
	"github.com/link-foundation/command-stream-sub001/syntax"
)

// Member is one element of a Sequence: the operator joining it to the
// previous member (ignored for index 0) and a builder that produces the
// Runner to execute for it. The builder is deferred so that a skipped
// member never starts its underlying process/handler.
type Member struct {
	Op    syntax.Op
	Build func() *runner.Runner
}

// NewDrive returns a runner.DriveFunc that runs members in order,
// honoring And/Or/Semi short-circuiting per spec.md §4.10: And skips the
// next command when the running last-code is non-zero, Or skips when it
// is zero, Semi never skips. Output of non-skipped commands concatenates
// in execution order; the Sequence's code is the last non-skipped
// command's code.
func NewDrive(members []Member) runner.DriveFunc {
	return func(rt *runner.Runtime) (runner.Result, error) {
		return run(rt, members)
	}
}

func run(rt *runner.Runtime, members []Member) (runner.Result, error) {
	var (
		mu      sync.Mutex
		runners []*runner.Runner
	)
	rt.SetKill(func(sig os.Signal) error {
		mu.Lock()
		defer mu.Unlock()
		var firstErr error
		for _, r := range runners {
			if err := r.Kill(sig); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})

	lastCode := 0
	ranAny := false

	for i, m := range members {
		if i > 0 {
			skip := false
			switch m.Op {
			case syntax.And:
				skip = lastCode != 0
			case syntax.Or:
				skip = lastCode == 0
			case syntax.Semi:
				skip = false
			}
			if skip {
				continue
			}
		}

		select {
		case <-rt.Context().Done():
			return runner.Result{Code: 130, Stderr: "Process killed with SIGINT\n"}, nil
		default:
		}

		r := m.Build()
		mu.Lock()
		runners = append(runners, r)
		mu.Unlock()

		res, err := r.Wait(rt.Context())
		if ee, ok := err.(*runner.ExitError); ok {
			res = ee.Result
		}
		ranAny = true
		lastCode = res.Code

		if res.Stdout != "" {
			rt.Emit(runner.Stdout, []byte(res.Stdout))
		}
		if res.Stderr != "" {
			rt.Emit(runner.Stderr, []byte(res.Stderr))
		}
	}

	if !ranAny {
		return runner.Result{}, nil
	}
	return runner.Result{Code: lastCode}, nil
}

// RunSubshell executes body inside a saved/restored cwd scope, per
// spec.md §4.10: snapshot the process cwd before execution, run body,
// then restore it. If the saved directory no longer exists by the time
// restore runs, fall back to $HOME/USERPROFILE, then "/". Shell-option
// and environment changes inside body are never isolated by this helper
// (documented cwd-only limitation, spec.md §4.10/§9).
func RunSubshell(body func() (runner.Result, error)) (runner.Result, error) {
	saved, err := os.Getwd()
	if err != nil {
		saved = ""
	}
	defer restoreCwd(saved)
	return body()
}

func restoreCwd(saved string) {
	if saved != "" {
		if _, err := os.Stat(saved); err == nil {
			os.Chdir(saved)
			return
		}
	}
	if home := os.Getenv("HOME"); home != "" {
		if os.Chdir(home) == nil {
			return
		}
	}
	if profile := os.Getenv("USERPROFILE"); profile != "" {
		if os.Chdir(profile) == nil {
			return
		}
	}
	os.Chdir("/")
}

// Package pipeline implements the pipeline orchestrator (C9): wiring a
// sequence of virtual and/or external stages through byte streams,
// honoring pipefail semantics and the streaming-hazard tee variant for
// commands whose buffering behavior must not be externally observable.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/link-foundation/command-stream-sub001/execvirt"
	"github.com/link-foundation/command-stream-sub001/procutil"
	"github.com/link-foundation/command-stream-sub001/registry"
	"github.com/link-foundation/command-stream-sub001/runner"
	"github.com/link-foundation/command-stream-sub001/shellpath"
	"github.com/link-foundation/command-stream-sub001/streamio"
)

// Stage is one element of a parsed Pipeline AST node, resolved against
// the virtual registry: Handler is non-nil for a virtual stage, nil for
// an external one.
type Stage struct {
	Name    string
	Args    []string
	Handler registry.Handler
}

// streamingHazard is the command-name set from spec.md §4.9 whose
// buffering behavior must not be externally observable when used as a
// non-last pipeline stage. Every external stage in this orchestrator is
// already connected to its neighbors by a live OS pipe (see
// runExternalChain), which is what actually defeats the hazard; this set
// exists so the orchestrator can log when it is operating in that
// regime, per spec.md's naming of the variant as distinct.
var streamingHazard = map[string]bool{
	"jq": true, "grep": true, "sed": true, "cat": true, "awk": true,
}

// IsStreamingHazard reports whether name is in the tee-streaming-hazard
// set.
func IsStreamingHazard(name string) bool { return streamingHazard[name] }

// NewDrive returns a runner.DriveFunc running stages as one pipeline.
// The first stage's stdin is the Runner's configured input; the last
// stage's stdout becomes the Runner's stdout. pipefail is read from the
// Runner's shell-settings snapshot at drive time.
func NewDrive(stages []Stage, shell shellpath.Shell, logger *slog.Logger) runner.DriveFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(rt *runner.Runtime) (runner.Result, error) {
		return run(rt, stages, shell, logger)
	}
}

func run(rt *runner.Runtime, stages []Stage, shell shellpath.Shell, logger *slog.Logger) (runner.Result, error) {
	opts := rt.Options()

	var cmdsMu sync.Mutex
	var cmds []*exec.Cmd
	rt.SetKill(func(sig os.Signal) error {
		s, _ := sig.(syscall.Signal)
		if s == 0 {
			s = syscall.SIGTERM
		}
		cmdsMu.Lock()
		defer cmdsMu.Unlock()
		var firstErr error
		for _, cmd := range cmds {
			if err := procutil.Signal(cmd, s); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})

	var current io.Reader
	if opts.Stdin == runner.StdinBytes {
		current = bytes.NewReader(opts.StdinBytes)
	}

	codes := make([]int, len(stages))

	// Stages are walked in maximal runs: a lone virtual stage is driven
	// through execvirt with materialized input/output, while a run of
	// one or more consecutive external stages is wired as a single live
	// chain of OS pipes and started together, so an all-external
	// pipeline (and the external prefix/suffix of a mixed one) streams
	// instead of running each stage to completion before the next
	// starts. Only a virtual stage, which has no OS pipe of its own to
	// offer, forces a collect-to-bytes boundary.
	i := 0
	for i < len(stages) {
		stage := stages[i]
		if stage.Handler != nil {
			isLast := i == len(stages)-1
			if IsStreamingHazard(stage.Name) && !isLast {
				logger.Debug("pipeline: tee-streaming stage", "stage", stage.Name)
			}
			next, code, err := runVirtualStage(rt, stage, current, isLast)
			if err != nil {
				return runner.Result{}, err
			}
			codes[i] = code
			current = next
			i++
			continue
		}

		j := i
		for j < len(stages) && stages[j].Handler == nil {
			j++
		}
		chainIsOverallLast := j == len(stages)
		for k := i; k < j; k++ {
			if IsStreamingHazard(stages[k].Name) && k != len(stages)-1 {
				logger.Debug("pipeline: tee-streaming stage", "stage", stages[k].Name)
			}
		}
		next, chainCodes, err := runExternalChain(rt, stages[i:j], current, chainIsOverallLast, shell, &cmdsMu, &cmds)
		if err != nil {
			return runner.Result{}, err
		}
		for k, c := range chainCodes {
			codes[i+k] = c
		}
		current = next
		i = j
	}

	finalCode := 0
	if len(codes) > 0 {
		finalCode = codes[len(codes)-1]
	}
	if opts.Shell.Pipefail {
		for _, c := range codes {
			if c != 0 {
				finalCode = c
				break
			}
		}
	}
	return runner.Result{Code: finalCode}, nil
}

func runVirtualStage(rt *runner.Runtime, stage Stage, stdin io.Reader, isLast bool) (io.Reader, int, error) {
	var inputBytes []byte
	if stdin != nil {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, 1, err
		}
		inputBytes = b
	}

	driveOpts := []runner.Option{
		runner.WithMirror(false),
		runner.WithCapture(true),
	}
	if len(inputBytes) > 0 {
		driveOpts = append(driveOpts, runner.WithStdin(runner.StdinBytes, inputBytes))
	}
	drive := execvirt.NewDrive(stage.Name, stage.Args, stage.Handler, shellpath.Locate())
	sub := runner.New(drive, driveOpts...)
	res, _ := sub.Wait(rt.Context())

	if isLast {
		if res.Stdout != "" {
			rt.Emit(runner.Stdout, []byte(res.Stdout))
		}
		if res.Stderr != "" {
			rt.Emit(runner.Stderr, []byte(res.Stderr))
		}
		return nil, res.Code, nil
	}
	rt.CaptureOnly(runner.Stderr, []byte(res.Stderr))
	return strings.NewReader(res.Stdout), res.Code, nil
}

// runExternalChain starts every stage in a maximal external run as one
// live chain: each non-final stage's stdout pipe is handed directly to
// the next stage's Stdin before either process starts, so os/exec dups
// the underlying pipe fd straight into the child rather than routing
// bytes through this process. All stages in the run are started before
// any of them is read, so a never-terminating producer piped into a
// consumer streams instead of blocking the whole pipeline on EOF.
//
// It returns a reader over the run's final stage's stdout for a
// following virtual stage (nil when chainIsOverallLast, since that
// stage's stdout is instead streamed straight to rt.Emit as it
// produces it) and each stage's exit code.
func runExternalChain(
	rt *runner.Runtime,
	stages []Stage,
	stdin io.Reader,
	chainIsOverallLast bool,
	shell shellpath.Shell,
	cmdsMu *sync.Mutex,
	cmds *[]*exec.Cmd,
) (io.Reader, []int, error) {
	opts := rt.Options()
	n := len(stages)
	built := make([]*exec.Cmd, n)
	stdoutPipes := make([]io.ReadCloser, n)
	stderrPipes := make([]io.ReadCloser, n)

	for k, stage := range stages {
		cmd := exec.CommandContext(rt.Context(), stage.Name, stage.Args...)
		cmd.Dir = opts.Cwd
		if k == 0 {
			cmd.Stdin = stdin
		} else {
			cmd.Stdin = stdoutPipes[k-1]
		}
		procutil.Prepare(cmd)

		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, err
		}
		stderrPipe, err := cmd.StderrPipe()
		if err != nil {
			return nil, nil, err
		}
		built[k] = cmd
		stdoutPipes[k] = stdoutPipe
		stderrPipes[k] = stderrPipe
	}

	for _, cmd := range built {
		if err := cmd.Start(); err != nil {
			return nil, nil, err
		}
	}
	cmdsMu.Lock()
	*cmds = append(*cmds, built...)
	cmdsMu.Unlock()

	lastIdx := n - 1
	stderrBufs := make([]bytes.Buffer, n)
	stderrDone := make([]chan struct{}, n)
	for k := range built {
		k := k
		liveStderr := chainIsOverallLast && k == lastIdx
		stderrDone[k] = make(chan struct{})
		go func() {
			streamio.Pump(stderrPipes[k], opts.ANSI, func(b []byte) error {
				if liveStderr {
					return rt.Emit(runner.Stderr, b)
				}
				stderrBufs[k].Write(b)
				return nil
			})
			close(stderrDone[k])
		}()
	}

	var finalOut io.Reader
	var stdoutErr error
	if chainIsOverallLast {
		stdoutErr = streamio.Pump(stdoutPipes[lastIdx], opts.ANSI, func(b []byte) error {
			return rt.Emit(runner.Stdout, b)
		})
	} else {
		out, err := io.ReadAll(stdoutPipes[lastIdx])
		stdoutErr = err
		finalOut = bytes.NewReader(out)
	}

	codes := make([]int, n)
	for k, cmd := range built {
		waitErr := cmd.Wait()
		<-stderrDone[k]
		liveStderr := chainIsOverallLast && k == lastIdx
		if !liveStderr {
			rt.CaptureOnly(runner.Stderr, stderrBufs[k].Bytes())
		}
		codes[k] = exitCode(cmd, waitErr)
	}
	if stdoutErr != nil {
		return nil, codes, stdoutErr
	}
	return finalOut, codes, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
		if status, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
	}
	if waitErr != nil {
		return 1
	}
	return 0
}

// Pipe implements the programmatic pipe(source, dest) operation from
// spec.md §4.9: await source to completion, take its stdout as a bytes
// buffer, construct dest's Runner from buildDest with that buffer as
// Bytes stdin, and return dest's result with both stages' stderr
// concatenated.
func Pipe(ctx context.Context, source *runner.Runner, buildDest func(stdinBytes []byte) *runner.Runner) (*runner.Runner, error) {
	srcRes, err := source.Wait(ctx)
	if err != nil {
		if _, ok := err.(*runner.ExitError); !ok {
			return nil, err
		}
	}
	dest := buildDest([]byte(srcRes.Stdout))
	destDrive := dest
	wrapped := runner.New(func(rt *runner.Runtime) (runner.Result, error) {
		res, werr := destDrive.Wait(rt.Context())
		res.Stderr = srcRes.Stderr + res.Stderr
		if werr != nil {
			if ee, ok := werr.(*runner.ExitError); ok {
				return res, ee
			}
			return res, werr
		}
		return res, nil
	})
	return wrapped, nil
}

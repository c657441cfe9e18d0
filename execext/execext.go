// Package execext implements the external executor (C7): spawning a
// child process either in shell mode (a raw command string handed to a
// located system shell) or exec mode (file + args, bypassing the shell),
// wiring its stdio per the Options.Stdin mode, and translating its exit
// into a runner.Result.
package execext

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/link-foundation/command-stream-sub001/procutil"
	"github.com/link-foundation/command-stream-sub001/runner"
	"github.com/link-foundation/command-stream-sub001/shellpath"
	"github.com/link-foundation/command-stream-sub001/streamio"
)

// Spec describes what to spawn: either Raw (shell mode, the command
// string is handed to the located shell) or File+Args (exec mode).
type Spec struct {
	Raw  string
	File string
	Args []string
}

// SpawnError wraps a failure to start the child process.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return "execext: spawn failed: " + e.Err.Error() }
func (e *SpawnError) Unwrap() error { return e.Err }

// StreamIOError wraps a non-EPIPE failure pumping or mirroring a child's
// stdout/stderr, per spec.md §7: such a failure is treated as a run
// failure rather than silently dropped.
type StreamIOError struct {
	Err error
}

func (e *StreamIOError) Error() string { return "execext: stream io failed: " + e.Err.Error() }
func (e *StreamIOError) Unwrap() error { return e.Err }

// NewDrive returns a runner.DriveFunc that spawns spec under the Runner's
// Options (cwd, env, stdin mode, mirror/capture via rt.Emit, xtrace,
// errexit-affecting exit code). shell is consulted only in shell mode.
func NewDrive(spec Spec, shell shellpath.Shell) runner.DriveFunc {
	return func(rt *runner.Runtime) (runner.Result, error) {
		return spawn(rt, spec, shell)
	}
}

func spawn(rt *runner.Runtime, spec Spec, shell shellpath.Shell) (runner.Result, error) {
	opts := rt.Options()

	var name string
	var args []string
	if spec.Raw != "" || (spec.File == "" && len(spec.Args) == 0) {
		name = shell.Path
		args = shell.CommandArgs(spec.Raw)
	} else {
		name = spec.File
		args = spec.Args
	}

	displayCmd := spec.Raw
	if displayCmd == "" {
		displayCmd = strings.Join(append([]string{spec.File}, spec.Args...), " ")
	}
	if opts.Shell.Xtrace {
		fmt.Fprintf(opts.MirrorStderr, "+ %s\n", displayCmd)
	}
	if opts.Shell.Verbose {
		fmt.Fprintf(opts.MirrorStderr, "%s\n", displayCmd)
	}

	cmd := exec.CommandContext(rt.Context(), name, args...)
	cmd.Dir = opts.Cwd
	if opts.Env != nil {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	procutil.Prepare(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return runner.Result{}, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return runner.Result{}, err
	}

	allTTY := opts.Interactive &&
		term.IsTerminal(int(os.Stdin.Fd())) &&
		term.IsTerminal(int(os.Stdout.Fd())) &&
		term.IsTerminal(int(os.Stderr.Fd()))

	var stdinCloser io.Closer
	var ttyDone chan struct{}
	var ttyDoneOnce sync.Once
	closeTTYDone := func() {
		if ttyDone != nil {
			ttyDoneOnce.Do(func() { close(ttyDone) })
		}
	}

	switch {
	case opts.Stdin == runner.StdinInherit && allTTY:
		cmd.Stdin = os.Stdin
	case opts.Stdin == runner.StdinInherit && isPipe(os.Stdin):
		pr, pw := io.Pipe()
		cmd.Stdin = pr
		stdinCloser = pw
		go func() {
			buf := make([]byte, 32*1024)
			for {
				n, rerr := os.Stdin.Read(buf)
				if n > 0 {
					rt.RecordStdin(buf[:n])
					if _, werr := pw.Write(buf[:n]); werr != nil {
						break
					}
				}
				if rerr != nil {
					break
				}
			}
			pw.Close()
		}()
	case opts.Stdin == runner.StdinInherit && term.IsTerminal(int(os.Stdin.Fd())):
		pr, pw := io.Pipe()
		cmd.Stdin = pr
		stdinCloser = pw
		ttyDone = make(chan struct{})
		go func() {
			streamio.ForwardTTYStdin(os.Stdin, pw, func() {
				_ = rt.Kill(os.Interrupt)
			}, ttyDone)
			pw.Close()
		}()
	case opts.Stdin == runner.StdinIgnore:
		cmd.Stdin = nil
	case opts.Stdin == runner.StdinPipe:
		pr, pw := io.Pipe()
		cmd.Stdin = pr
		stdinCloser = pw
		rt.SetStdinWriter(recordingWriter{w: pw, rt: rt})
	case opts.Stdin == runner.StdinBytes:
		cmd.Stdin = bytes.NewReader(opts.StdinBytes)
		rt.RecordStdin(opts.StdinBytes)
	}

	if err := cmd.Start(); err != nil {
		return runner.Result{Code: 1, Stderr: err.Error() + "\n"}, &SpawnError{Err: err}
	}

	rt.SetKill(func(sig os.Signal) error {
		closeTTYDone()
		s, _ := sig.(syscall.Signal)
		if s == 0 {
			s = syscall.SIGTERM
		}
		return procutil.Signal(cmd, s)
	})

	var eg errgroup.Group
	eg.Go(func() error {
		return streamio.Pump(stdoutPipe, opts.ANSI, func(b []byte) error {
			return rt.Emit(runner.Stdout, b)
		})
	})
	eg.Go(func() error {
		return streamio.Pump(stderrPipe, opts.ANSI, func(b []byte) error {
			return rt.Emit(runner.Stderr, b)
		})
	})

	pumpErr := eg.Wait()
	waitErr := cmd.Wait()
	if stdinCloser != nil {
		stdinCloser.Close()
	}
	closeTTYDone()

	result := runner.Result{Code: exitCode(cmd, waitErr)}
	if pumpErr != nil {
		return result, &StreamIOError{Err: pumpErr}
	}
	return result, nil
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

func isPipe(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeNamedPipe != 0
}

// recordingWriter is the writer exposed to callers for runner.StdinPipe
// mode: every write is mirrored into the Runner's captured stdin buffer,
// and Close lets the caller signal EOF to the child, the same way
// streams.stdin is expected to be closable per the ProcessRunner
// contract.
type recordingWriter struct {
	w  io.WriteCloser
	rt *runner.Runtime
}

func (r recordingWriter) Write(p []byte) (int, error) {
	r.rt.RecordStdin(p)
	return r.w.Write(p)
}

func (r recordingWriter) Close() error {
	return r.w.Close()
}

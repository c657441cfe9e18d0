// shellrun is a small CLI front end over the engine package, in the
// manner of the teacher's gosh: it runs one command string (-c) or each
// path given as an argument, and translates the last command's exit code
// into the process's own.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/link-foundation/command-stream-sub001/engine"
	"github.com/link-foundation/command-stream-sub001/runner"
)

var command = flag.String("c", "", "command to execute")

func main() {
	os.Exit(main1())
}

// main1 returns the process exit code instead of calling os.Exit
// directly, so testscript.RunMain can invoke it as a subprocess
// simulation within the test binary itself, the same harness the
// teacher's cmd/shfmt test uses.
func main1() int {
	flag.Parse()
	code, err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func run() (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := engine.New()
	// This CLI installs its own SIGINT handling above (for graceful
	// ctx-based shutdown), so the engine's active-runner set must not
	// also call os.Exit(130) on SIGINT: that would race this handler's
	// own unwind and short-circuit it.
	e.SetOtherSigintHandlerInstalled(true)

	if *command != "" {
		return runOne(ctx, e, *command)
	}
	if flag.NArg() == 0 {
		return runReader(ctx, e, os.Stdin)
	}
	var code int
	for _, path := range flag.Args() {
		c, err := runPath(ctx, e, path)
		code = c
		if err != nil {
			return code, err
		}
	}
	return code, nil
}

// runOne runs cmd to completion and returns its Result.Code as the exit
// code a CLI caller observes, regardless of whether errexit is set: a
// *runner.ExitError is just the library's errexit-aware signal, but the
// result it wraps is already the code this CLI wants to report.
func runOne(ctx context.Context, e *engine.Engine, cmd string) (int, error) {
	r, err := e.Run(ctx, engine.ShellSpec{Command: cmd},
		runner.WithMirror(true), runner.WithCapture(false))
	if err != nil {
		return 1, err
	}
	res, err := r.Wait(ctx)
	var exitErr *runner.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res.Code, err
	}
	return res.Code, nil
}

func runPath(ctx context.Context, e *engine.Engine, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 1, err
	}
	defer f.Close()
	return runReader(ctx, e, f)
}

// runReader runs each newline-terminated statement in r in turn,
// stopping at the first error, mirroring the teacher's simple
// one-statement-at-a-time script-file handling without attempting full
// multi-line construct continuation (that belongs to the interactive
// prompt the out-of-scope host CLI owns, per spec.md §1).
func runReader(ctx context.Context, e *engine.Engine, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	var code int
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c, err := runOne(ctx, e, line)
		code = c
		if err != nil {
			return code, err
		}
	}
	return code, scanner.Err()
}

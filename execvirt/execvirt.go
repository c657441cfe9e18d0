// Package execvirt implements the virtual executor (C8): dispatching a
// command name to a registry.Handler instead of spawning a process,
// while still honoring the Runner's cancellation, mirror, and capture
// contracts exactly as the external executor does.
package execvirt

import (
	"context"
	"os"

	"github.com/link-foundation/command-stream-sub001/execext"
	"github.com/link-foundation/command-stream-sub001/registry"
	"github.com/link-foundation/command-stream-sub001/runner"
	"github.com/link-foundation/command-stream-sub001/shellpath"
)

// NewDrive returns a runner.DriveFunc dispatching name/args to handler.
// If the Runner's stdin mode is Pipe and name is in the stdin-sensitive
// bypass set, dispatch is rewritten to an external execution of
// name/args instead (the "_bypass_virtual" rule of spec.md §4.3/§4.8),
// so the registry is never consulted again for this invocation.
func NewDrive(name string, args []string, handler registry.Handler, shell shellpath.Shell) runner.DriveFunc {
	return func(rt *runner.Runtime) (runner.Result, error) {
		opts := rt.Options()
		if opts.Stdin == runner.StdinPipe && registry.BypassesOnPipeStdin(name) {
			return execext.NewDrive(execext.Spec{File: name, Args: args}, shell)(rt)
		}

		// Virtual handlers have no process of their own to signal, so
		// Kill must be able to terminate the handler-cancellation race
		// on its own: derive a context whose cancel is the kill hook,
		// independent of whatever opts.Cancel the caller supplied.
		ctx, cancel := context.WithCancel(rt.Context())
		defer cancel()
		rt.SetKill(func(os.Signal) error {
			cancel()
			return nil
		})

		in := registry.Input{
			Args:  args,
			Stdin: string(opts.StdinBytes),
			Cwd:   opts.Cwd,
			Env:   opts.Env,
		}

		switch h := handler.(type) {
		case registry.ValueHandler:
			return driveValue(ctx, rt, h, in)
		case registry.StreamHandler:
			return driveStream(ctx, rt, h, in)
		default:
			return runner.Result{Code: 1, Stderr: "execvirt: unknown handler kind\n"}, nil
		}
	}
}

func driveValue(ctx context.Context, rt *runner.Runtime, h registry.ValueHandler, in registry.Input) (runner.Result, error) {
	type outcome struct {
		res registry.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := h(ctx, in)
		ch <- outcome{res, err}
	}()

	select {
	case o := <-ch:
		if o.res.Stdout != "" {
			rt.Emit(runner.Stdout, []byte(o.res.Stdout))
		}
		if o.res.Stderr != "" {
			rt.Emit(runner.Stderr, []byte(o.res.Stderr))
		}
		code := o.res.Code
		if o.err != nil {
			if coder, ok := o.err.(interface{ ExitCode() int }); ok {
				code = coder.ExitCode()
			} else {
				code = 1
				rt.Emit(runner.Stderr, []byte(o.err.Error()+"\n"))
			}
		}
		return runner.Result{Code: code}, nil
	case <-ctx.Done():
		return cancelledResult(), nil
	}
}

func driveStream(ctx context.Context, rt *runner.Runtime, h registry.StreamHandler, in registry.Input) (runner.Result, error) {
	stream, err := h(ctx, in)
	if err != nil {
		return runner.Result{Code: 1, Stderr: err.Error() + "\n"}, nil
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			stream.Close()
			return cancelledResult(), nil
		default:
		}
		chunk, ok, err := stream.Next(ctx)
		if err != nil {
			stream.Close()
			return runner.Result{Code: 1, Stderr: err.Error() + "\n"}, nil
		}
		if !ok {
			return runner.Result{}, nil
		}
		if len(chunk) > 0 {
			rt.Emit(runner.Stdout, chunk)
		}
	}
}

// cancelledResult synthesizes the code-130 outcome for a cancelled
// virtual handler. Virtual handlers have no process signal of their own;
// cancellation is always reported as the SIGINT code, matching the
// "yes stream broken after 3 chunks" testable property.
func cancelledResult() runner.Result {
	return runner.Result{Code: 130, Stderr: "Process killed with SIGINT\n"}
}

// Package engine is the composition root: it wires the virtual registry
// (C3), shell locator (C4), shell options (C12), and signal/lifecycle
// manager (C11) into one handle, and turns a CommandSpec into a
// runner.Runner by driving the tokenizer/parser (C2), the two executors
// (C7/C8), and the two orchestrators (C9/C10).
//
// Packaging these process-wide concerns behind one handle (rather than
// bare package-level globals) is what spec.md §9's "package them in a
// single engine handle" design note asks for: tests can reset an Engine
// atomically, and a host that wants two isolated engines in one process
// can construct two.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/link-foundation/command-stream-sub001/activeset"
	"github.com/link-foundation/command-stream-sub001/execext"
	"github.com/link-foundation/command-stream-sub001/execvirt"
	"github.com/link-foundation/command-stream-sub001/pipeline"
	"github.com/link-foundation/command-stream-sub001/registry"
	"github.com/link-foundation/command-stream-sub001/runner"
	"github.com/link-foundation/command-stream-sub001/sequence"
	"github.com/link-foundation/command-stream-sub001/shellopts"
	"github.com/link-foundation/command-stream-sub001/shellpath"
	"github.com/link-foundation/command-stream-sub001/syntax"
)

// Engine is a self-contained instance of the process-wide state spec.md
// describes: a virtual registry, shell options, and an active-runner set
// with its SIGINT handler.
type Engine struct {
	registry *registry.Registry
	shell    *shellopts.Flags
	active   *activeset.Set
	logger   *slog.Logger
}

// Option configures a new Engine.
type Option func(*Engine)

// WithLogger overrides the *slog.Logger used for internal diagnostics
// (the active-runner set's signal-handler install/uninstall and SIGINT
// delivery failures, and the pipeline's tee-streaming stage notes).
// Shell-locator resolution and registry mutation are not logged.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New constructs an Engine with a registry populated with the builtins
// (registry.New followed by registry.RegisterBuiltins), default shell
// options, and a fresh active-runner set.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry: registry.New(),
		shell:    shellopts.New(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.active = activeset.New(e.logger)
	registry.RegisterBuiltins(e.registry)
	return e
}

// Registry exposes the virtual command registry for host-side
// registration of additional commands.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// ShellOptions exposes the errexit/xtrace/verbose/nounset/pipefail flags.
func (e *Engine) ShellOptions() *shellopts.Flags { return e.shell }

// SetOtherSigintHandlerInstalled tells the active-runner set's own SIGINT
// handler that a host-level handler already claims SIGINT, per spec.md
// §4.11: "If no other SIGINT handler is registered at the process level,
// exit the host with code 130. Otherwise, defer to the other handlers." A
// host that installs its own signal.Notify/NotifyContext for SIGINT must
// call this with v=true so the two handlers don't race each other on a
// single Ctrl-C.
func (e *Engine) SetOtherSigintHandlerInstalled(v bool) {
	e.active.SetOtherSigintHandlerInstalled(v)
}

// Reset restores an Engine's process-wide state to its construction-time
// defaults: shell options cleared, shell-locator cache cleared. The
// registry and active-runner set are left as-is (the registry holds
// caller-registered commands the reset contract does not describe
// spec.md as clearing, and the active set drains on its own as Runners
// finish).
func (e *Engine) Reset() {
	e.shell.Reset()
	shellpath.Reset()
}

// Run builds spec into a Runner under the Engine's process-wide state,
// registers it with the active-runner set for SIGINT fan-out, and
// returns it unstarted (per spec.md's auto-start invariant: Start fires
// on first observation, which Run itself does not trigger).
func (e *Engine) Run(ctx context.Context, spec CommandSpec, opts ...runner.Option) (*runner.Runner, error) {
	full := append([]runner.Option{runner.WithShellSettings(e.shell.Snapshot())}, opts...)
	r, err := e.build(ctx, spec, full)
	if err != nil {
		return nil, err
	}
	activeset.Watch(e.active, r)
	return r, nil
}

func (e *Engine) build(ctx context.Context, spec CommandSpec, opts []runner.Option) (*runner.Runner, error) {
	switch s := spec.(type) {
	case ShellSpec:
		return e.buildShell(s.Command, opts)
	case ExecSpec:
		drive := execext.NewDrive(execext.Spec{File: s.File, Args: s.Args}, shellpath.Locate())
		return runner.New(drive, opts...), nil
	case PipeSpec:
		return pipeline.Pipe(ctx, s.Source, s.DestBuilder)
	default:
		return nil, fmt.Errorf("engine: unknown CommandSpec type %T", spec)
	}
}

// buildShell implements the literal-shell-string branch of spec.md §2's
// control flow: structured parsing via syntax.Parse unless the
// conservative needs_real_shell oracle (or a disabled shell_operators
// option) forces delegation to execext's shell mode, or unless the
// parsed AST contains a redirect anywhere. Per spec.md §9's Open
// Question on redirects on non-terminal stages, this engine resolves
// the ambiguity uniformly: ANY redirect, anywhere in the AST, routes the
// whole command to the real-shell delegation path, since the restricted
// parser's node shapes (Simple/Pipeline/Sequence/Subshell) carry no
// general file-descriptor model to honor a redirect's interaction with
// piping or subshell scoping correctly. A pipeline with a non-Simple stage
// anywhere in the AST (e.g. "(a && b) | c") is delegated the same way.
func (e *Engine) buildShell(command string, opts []runner.Option) (*runner.Runner, error) {
	shellOperators := optShellOperators(opts)
	if shellOperators && !syntax.NeedsRealShell(command) {
		if ast, err := syntax.Parse(command); err == nil && !hasAnyRedirect(ast) && !hasNonSimpleStage(ast) {
			return e.buildNode(ast, opts)
		}
	}
	drive := execext.NewDrive(execext.Spec{Raw: command}, shellpath.Locate())
	return runner.New(drive, opts...), nil
}

func hasAnyRedirect(cmd syntax.Command) bool {
	found := false
	syntax.Walk(cmd, func(c syntax.Command) bool {
		if simple, ok := c.(*syntax.Simple); ok && len(simple.Redirects) > 0 {
			found = true
		}
		return !found
	})
	return found
}

func hasNonSimpleStage(cmd syntax.Command) bool {
	found := false
	syntax.Walk(cmd, func(c syntax.Command) bool {
		if p, ok := c.(*syntax.Pipeline); ok {
			for _, s := range p.Stages {
				if _, simple := s.(*syntax.Simple); !simple {
					found = true
				}
			}
		}
		return !found
	})
	return found
}

// buildNode turns one parsed AST node into a Runner, recursing for
// Sequence and Subshell. A Pipeline whose stages are not all Simple
// commands (e.g. "(a && b) | c", a subshell-as-stage) is not modeled
// structurally: the pipeline orchestrator's Stage type (spec.md §4.9)
// only wires Simple stages, so buildPipeline returns an error for one.
// buildShell never hands such an AST to buildNode; it delegates the
// whole original command string to the located shell instead, and this
// engine does not attempt to reconstruct a raw string from the AST.
func (e *Engine) buildNode(cmd syntax.Command, opts []runner.Option) (*runner.Runner, error) {
	switch c := cmd.(type) {
	case *syntax.Simple:
		return e.buildSimple(c, opts)
	case *syntax.Pipeline:
		return e.buildPipeline(c, opts)
	case *syntax.Sequence:
		return e.buildSequence(c, opts)
	case *syntax.Subshell:
		return e.buildSubshell(c, opts)
	default:
		return nil, fmt.Errorf("engine: unknown AST node %T", cmd)
	}
}

func (e *Engine) buildSimple(s *syntax.Simple, opts []runner.Option) (*runner.Runner, error) {
	name := s.Cmd.Value
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.Value
	}
	if h, ok := e.registry.Lookup(name); ok && !bypassesOnPipeStdin(opts, name) {
		drive := execvirt.NewDrive(name, args, h, shellpath.Locate())
		return runner.New(drive, opts...), nil
	}
	drive := execext.NewDrive(execext.Spec{File: name, Args: args}, shellpath.Locate())
	return runner.New(drive, opts...), nil
}

func bypassesOnPipeStdin(opts []runner.Option, name string) bool {
	o := runner.BuildOptionsForInspection(opts)
	return o.Stdin == runner.StdinPipe && registry.BypassesOnPipeStdin(name)
}

func (e *Engine) buildPipeline(p *syntax.Pipeline, opts []runner.Option) (*runner.Runner, error) {
	stages := make([]pipeline.Stage, len(p.Stages))
	for i, stageCmd := range p.Stages {
		simple, ok := stageCmd.(*syntax.Simple)
		if !ok {
			return nil, fmt.Errorf("engine: pipeline stage %d is not a simple command (%T); not representable without the raw command string", i, stageCmd)
		}
		args := make([]string, len(simple.Args))
		for j, a := range simple.Args {
			args[j] = a.Value
		}
		h, _ := e.registry.Lookup(simple.Cmd.Value)
		stages[i] = pipeline.Stage{Name: simple.Cmd.Value, Args: args, Handler: h}
	}
	drive := pipeline.NewDrive(stages, shellpath.Locate(), e.logger)
	return runner.New(drive, opts...), nil
}

func (e *Engine) buildSequence(seq *syntax.Sequence, opts []runner.Option) (*runner.Runner, error) {
	memberOpts := append(append([]runner.Option{}, opts...), runner.WithMirror(false))
	members := make([]sequence.Member, len(seq.Commands))
	for i, c := range seq.Commands {
		c := c
		op := syntax.Semi
		if i > 0 {
			op = seq.Operators[i-1]
		}
		members[i] = sequence.Member{
			Op: op,
			Build: func() *runner.Runner {
				r, err := e.buildNode(c, memberOpts)
				if err != nil {
					return runner.New(func(rt *runner.Runtime) (runner.Result, error) {
						return runner.Result{Code: 1, Stderr: err.Error() + "\n"}, nil
					})
				}
				return r
			},
		}
	}
	return runner.New(sequence.NewDrive(members), opts...), nil
}

func (e *Engine) buildSubshell(sub *syntax.Subshell, opts []runner.Option) (*runner.Runner, error) {
	drive := func(rt *runner.Runtime) (runner.Result, error) {
		inner, err := e.buildNode(sub.Body, opts)
		if err != nil {
			return runner.Result{Code: 1, Stderr: err.Error() + "\n"}, nil
		}
		return sequence.RunSubshell(func() (runner.Result, error) {
			return inner.Wait(rt.Context())
		})
	}
	return runner.New(drive, opts...), nil
}

func optShellOperators(opts []runner.Option) bool {
	return runner.BuildOptionsForInspection(opts).ShellOperators
}

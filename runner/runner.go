// Package runner implements the ProcessRunner core (C6): a single
// lifecycle (created -> started -> finished) shared by every executor
// kind (external, virtual, pipeline, sequence). Executors are plugged in
// as a DriveFunc; Runner itself owns auto-start, completion ordering,
// capture buffers, chunk fan-out, and cancellation bookkeeping, so that
// behavior spec.md requires once (event ordering, idempotent finish,
// kill synthesis) is implemented exactly once.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/link-foundation/command-stream-sub001/ansi"
	"github.com/link-foundation/command-stream-sub001/shellopts"
	"github.com/link-foundation/command-stream-sub001/streamio"
)

var sigterm os.Signal = syscall.SIGTERM

// State is a Runner's lifecycle stage.
type State int32

const (
	Created State = iota
	Started
	Finished
)

// StdinMode selects how a Runner's stdin is supplied.
type StdinMode int

const (
	StdinInherit StdinMode = iota
	StdinIgnore
	StdinPipe
	StdinBytes
)

// ChunkKind distinguishes an emitted chunk's originating stream.
type ChunkKind int

const (
	Stdout ChunkKind = iota
	Stderr
)

// Chunk is one emitted unit of child output.
type Chunk struct {
	Kind  ChunkKind
	Bytes []byte
}

// Result is a finished Runner's outcome.
type Result struct {
	Code   int
	Stdout string
	Stderr string
	Stdin  string
}

// ExitError wraps a non-zero Result when errexit is in effect, mirroring
// the teacher's ExitStatus-carrying error returned from a shell run.
type ExitError struct {
	Result Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Result.Code)
}

// Options configures a Runner. Build with functional options; the zero
// value is never used directly.
type Options struct {
	Mirror         bool
	Capture        bool
	Stdin          StdinMode
	StdinBytes     []byte
	Cwd            string
	Env            map[string]string
	Interactive    bool
	ShellOperators bool
	Cancel         context.Context
	ANSI           ansi.Options
	Shell          shellopts.Options
	MirrorStdout   io.Writer
	MirrorStderr   io.Writer
}

// Option mutates an Options being built.
type Option func(*Options)

func WithMirror(v bool) Option      { return func(o *Options) { o.Mirror = v } }
func WithCapture(v bool) Option     { return func(o *Options) { o.Capture = v } }
func WithCwd(v string) Option       { return func(o *Options) { o.Cwd = v } }
func WithInteractive(v bool) Option { return func(o *Options) { o.Interactive = v } }

func WithShellOperators(v bool) Option { return func(o *Options) { o.ShellOperators = v } }

func WithEnv(env map[string]string) Option {
	return func(o *Options) { o.Env = env }
}

func WithStdin(mode StdinMode, data []byte) Option {
	return func(o *Options) {
		o.Stdin = mode
		o.StdinBytes = data
	}
}

func WithCancel(ctx context.Context) Option { return func(o *Options) { o.Cancel = ctx } }
func WithANSI(a ansi.Options) Option        { return func(o *Options) { o.ANSI = a } }
func WithShellSettings(s shellopts.Options) Option {
	return func(o *Options) { o.Shell = s }
}
func WithMirrorWriters(stdout, stderr io.Writer) Option {
	return func(o *Options) { o.MirrorStdout, o.MirrorStderr = stdout, stderr }
}

func defaultOptions() Options {
	return Options{
		Mirror:         true,
		Capture:        true,
		Stdin:          StdinInherit,
		ShellOperators: true,
		ANSI:           ansi.Options{PreserveANSI: true, PreserveControl: true},
		MirrorStdout:   os.Stdout,
		MirrorStderr:   os.Stderr,
	}
}

func buildOptions(opts []Option) Options {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// BuildOptionsForInspection applies opts over the defaults and returns
// the result, without constructing a Runner. Callers that must decide
// how to build a DriveFunc based on effective options (e.g. the engine
// package picking a pipeline stage's dispatch path based on
// Options.Stdin) use this instead of duplicating defaultOptions' zero
// values.
func BuildOptionsForInspection(opts []Option) Options { return buildOptions(opts) }

// Runtime is the handle a DriveFunc uses to talk back to its owning
// Runner: emitting chunks (which mirrors and captures per Options),
// reading the effective Options, registering a kill hook, and exposing a
// stdin writer when one is meaningful.
type Runtime struct {
	ctx context.Context
	r   *Runner
}

func (rt *Runtime) Context() context.Context { return rt.ctx }
func (rt *Runtime) Options() Options         { return rt.r.opts }

// Emit mirrors (if enabled) and captures (if enabled) b, then publishes
// it on the chunk channel to any active consumer. It never blocks
// indefinitely on a disinterested consumer: if nobody is ranging over
// Chunks, the send is dropped rather than stalling the driver.
func (rt *Runtime) Emit(kind ChunkKind, b []byte) error {
	filtered := ansi.Filter(b, rt.r.opts.ANSI)
	if len(filtered) == 0 {
		return nil
	}
	if rt.r.opts.Capture {
		rt.r.mu.Lock()
		switch kind {
		case Stdout:
			rt.r.outBuf.Write(filtered)
		case Stderr:
			rt.r.errBuf.Write(filtered)
		}
		rt.r.mu.Unlock()
	}
	if rt.r.opts.Mirror {
		var w io.Writer
		if kind == Stdout {
			w = rt.r.opts.MirrorStdout
		} else {
			w = rt.r.opts.MirrorStderr
		}
		if w != nil {
			if err := streamio.SafeWrite(w, filtered); err != nil {
				return err
			}
		}
	}
	// The chunk outlives this call, so it must not alias the caller's
	// buffer (streamio.Pump reuses its read buffer between chunks).
	owned := append([]byte(nil), filtered...)
	select {
	case rt.r.chunks <- Chunk{Kind: kind, Bytes: owned}:
	default:
	}
	return nil
}

// CaptureOnly appends b to the capture buffer for kind without mirroring
// it or publishing a chunk event. The pipeline orchestrator uses this for
// a non-last stage's stderr, which spec.md says must surface in the
// final Result but never mirror live during execution.
func (rt *Runtime) CaptureOnly(kind ChunkKind, b []byte) {
	if !rt.r.opts.Capture || len(b) == 0 {
		return
	}
	rt.r.mu.Lock()
	switch kind {
	case Stdout:
		rt.r.outBuf.Write(b)
	case Stderr:
		rt.r.errBuf.Write(b)
	}
	rt.r.mu.Unlock()
}

// SetKill registers the function Kill invokes to signal the underlying
// child/handler. Only the driver calls this, once, early in its run.
func (rt *Runtime) SetKill(fn func(sig os.Signal) error) {
	rt.r.killFn.Store(&fn)
}

// Kill forwards to the owning Runner's Kill.
func (rt *Runtime) Kill(sig os.Signal) error { return rt.r.Kill(sig) }

// SetStdinWriter exposes a raw stdin writer for StdinPipe mode.
func (rt *Runtime) SetStdinWriter(w io.Writer) {
	rt.r.mu.Lock()
	rt.r.stdinWriter = w
	rt.r.mu.Unlock()
}

// RecordStdin appends to the captured stdin buffer (Bytes mode or piped
// writes the caller wants reflected in Result.Stdin).
func (rt *Runtime) RecordStdin(b []byte) {
	rt.r.mu.Lock()
	rt.r.inBuf.Write(b)
	rt.r.mu.Unlock()
}

// DriveFunc implements one executor kind's actual work. It must respect
// rt.Context() cancellation and return the final Result once the
// underlying process/handler has completed or been killed.
type DriveFunc func(rt *Runtime) (Result, error)

// Runner is the shared lifecycle wrapper around a DriveFunc.
type Runner struct {
	opts  Options
	drive DriveFunc

	state      atomic.Int32
	startOnce  sync.Once
	finishOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	outBuf      bytes.Buffer
	errBuf      bytes.Buffer
	inBuf       bytes.Buffer
	stdinWriter io.Writer

	killFn    atomic.Pointer[func(os.Signal) error]
	cancelled atomic.Bool

	done      chan struct{}
	chunks    chan Chunk
	result    Result
	resultErr error

	listenerMu    sync.Mutex
	endListeners  []func(Result)
	exitListeners []func(int)

	onFinish func(*Runner)
}

// New constructs a Runner bound to drive, in the Created state.
func New(drive DriveFunc, opts ...Option) *Runner {
	return &Runner{
		opts:   buildOptions(opts),
		drive:  drive,
		done:   make(chan struct{}),
		chunks: make(chan Chunk, 64),
	}
}

// SetOnFinish registers the cleanup hook (e.g. active-set removal) run
// after the exit event and after State reports Finished, but before Wait
// returns. Must be called before Start.
func (r *Runner) SetOnFinish(fn func(*Runner)) { r.onFinish = fn }

// OnEnd registers a listener for the end(result) event. Must be called
// before Start to be guaranteed delivery; listeners are cleared once
// fanned out, so late registration after finish sees nothing, per the
// emitter's listeners-cleared-after-fan-out contract.
func (r *Runner) OnEnd(fn func(Result)) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.endListeners = append(r.endListeners, fn)
}

// OnExit registers a listener for the exit(code) event.
func (r *Runner) OnExit(fn func(int)) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.exitListeners = append(r.exitListeners, fn)
}

// State reports the current lifecycle stage.
func (r *Runner) State() State { return State(r.state.Load()) }

// Start triggers the single drive goroutine if this is the first
// observation; concurrent/repeated calls are idempotent and share the
// same outcome. Wait and Chunks call Start themselves; StdinWriter,
// State, and CloseStdin do not start the Runner.
func (r *Runner) Start(ctx context.Context) *Runner {
	r.startOnce.Do(func() {
		r.state.Store(int32(Started))
		runCtx := ctx
		if r.opts.Cancel != nil {
			var cancel context.CancelFunc
			runCtx, cancel = contextWithParent(ctx, r.opts.Cancel)
			r.cancel = cancel
		} else {
			var cancel context.CancelFunc
			runCtx, cancel = contextCancel(ctx)
			r.cancel = cancel
		}
		r.ctx = runCtx
		go r.run()
	})
	return r
}

func (r *Runner) run() {
	rt := &Runtime{ctx: r.ctx, r: r}
	result, err := r.drive(rt)
	r.finish(result, err)
}

// finish performs the fixed completion sequence from spec.md 4.6: publish
// result, emit end, emit exit, mark finished, cleanup. Idempotent. With
// capture on, the captured bytes come first, followed by any
// Stdout/Stderr/Stdin text the driver put in its returned Result.
func (r *Runner) finish(result Result, err error) {
	r.finishOnce.Do(func() {
		r.mu.Lock()
		if r.opts.Capture {
			result.Stdout = r.outBuf.String() + result.Stdout
			result.Stderr = r.errBuf.String() + result.Stderr
			result.Stdin = r.inBuf.String() + result.Stdin
		}
		r.mu.Unlock()

		r.result = result
		r.resultErr = err

		r.listenerMu.Lock()
		endListeners := r.endListeners
		exitListeners := r.exitListeners
		r.endListeners = nil
		r.exitListeners = nil
		r.listenerMu.Unlock()

		for _, fn := range endListeners {
			fn(result)
		}
		for _, fn := range exitListeners {
			fn(result.Code)
		}

		r.state.Store(int32(Finished))

		if r.onFinish != nil {
			r.onFinish(r)
		}
		close(r.chunks)
		if r.cancel != nil {
			r.cancel()
		}
		close(r.done)
	})
}

// Wait blocks until the Runner is finished, auto-starting it if needed,
// and returns its Result. If errexit is set and the result code is
// non-zero, the second return is a *ExitError wrapping the result.
// Repeated calls return the same Result.
func (r *Runner) Wait(ctx context.Context) (Result, error) {
	r.Start(ctx)
	<-r.done
	if r.opts.Shell.Errexit && r.result.Code != 0 {
		return r.result, &ExitError{Result: r.result}
	}
	return r.result, r.resultErr
}

// Chunks starts the Runner (if needed) and returns a channel of output
// chunks plus a cancel function. The caller must call cancel when it
// stops ranging early ("breaking the iterator"); cancel both releases
// Runner resources and triggers Kill, matching the
// break-cancels-in-flight-iteration contract.
func (r *Runner) Chunks(ctx context.Context) (<-chan Chunk, context.CancelFunc) {
	r.Start(ctx)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.cancelled.Store(true)
			_ = r.Kill(nil)
		})
	}
	return r.chunks, cancel
}

// StdinWriter returns the Runner's raw stdin writer when one exists
// (StdinPipe mode on a started, unfinished Runner), or ok=false.
func (r *Runner) StdinWriter() (w io.Writer, ok bool) {
	if r.State() == Finished {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdinWriter, r.stdinWriter != nil
}

// Kill is idempotent. It invokes the registered kill hook (if any) with
// sig (SIGTERM if nil). It does not finish the Runner itself and builds
// no result of its own: the Runner finishes when its driver returns, with
// the Result that driver produces. Before a driver has registered a hook,
// Kill does nothing.
func (r *Runner) Kill(sig os.Signal) error {
	if sig == nil {
		sig = sigterm
	}
	if fn := r.killFn.Load(); fn != nil {
		if err := (*fn)(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

// Cancelled reports whether this Runner was cancelled via a broken chunk
// iterator (distinct from an external Cancel context or Kill call).
func (r *Runner) Cancelled() bool { return r.cancelled.Load() }

// CloseStdin closes the Runner's stdin writer, if one is open and
// closable. Used by the lifecycle manager's parent-stream-closure
// handling (spec.md §4.6): ending a child's stdin before escalating to
// SIGTERM.
func (r *Runner) CloseStdin() {
	r.mu.Lock()
	w := r.stdinWriter
	r.mu.Unlock()
	if closer, ok := w.(io.Closer); ok {
		_ = closer.Close()
	}
}

func contextWithParent(base, extra context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(base)
	stop := context.AfterFunc(extra, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func contextCancel(base context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(base)
}

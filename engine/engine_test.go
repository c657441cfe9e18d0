package engine

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/link-foundation/command-stream-sub001/runner"
)

func TestShellSpecBuiltinEcho(t *testing.T) {
	c := qt.New(t)
	e := New()
	r, err := e.Run(context.Background(), ShellSpec{Command: "echo hello"},
		runner.WithMirror(false))
	c.Assert(err, qt.IsNil)
	res, err := r.Wait(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(res.Code, qt.Equals, 0)
	c.Assert(res.Stdout, qt.Equals, "hello\n")
}

func TestShellSpecSequenceShortCircuit(t *testing.T) {
	c := qt.New(t)
	e := New()
	r, err := e.Run(context.Background(), ShellSpec{Command: "false && echo x || echo y"},
		runner.WithMirror(false))
	c.Assert(err, qt.IsNil)
	res, _ := r.Wait(context.Background())
	c.Assert(res.Stdout, qt.Equals, "y\n")
	c.Assert(res.Code, qt.Equals, 0)
}

func TestShellSpecVirtualSeq(t *testing.T) {
	c := qt.New(t)
	e := New()
	r, err := e.Run(context.Background(), ShellSpec{Command: "seq 1 3"},
		runner.WithMirror(false))
	c.Assert(err, qt.IsNil)
	res, _ := r.Wait(context.Background())
	c.Assert(res.Stdout, qt.Equals, "1\n2\n3\n")
}

func TestExecSpecBypassesShell(t *testing.T) {
	c := qt.New(t)
	e := New()
	r, err := e.Run(context.Background(), ExecSpec{File: "true"}, runner.WithMirror(false))
	c.Assert(err, qt.IsNil)
	res, _ := r.Wait(context.Background())
	c.Assert(res.Code, qt.Equals, 0)
}

func TestNeedsRealShellDelegatesWithoutError(t *testing.T) {
	c := qt.New(t)
	e := New()
	r, err := e.Run(context.Background(), ShellSpec{Command: "echo $HOME"}, runner.WithMirror(false))
	c.Assert(err, qt.IsNil)
	_, err = r.Wait(context.Background())
	c.Assert(err, qt.IsNil)
}

func TestRedirectDelegatesToRealShell(t *testing.T) {
	c := qt.New(t)
	e := New()
	// A redirect is representable by the restricted grammar but this
	// engine chooses (per the buildShell doc comment) to delegate the
	// whole command whenever any redirect appears, so this must not
	// error during the structural-build path.
	r, err := e.Run(context.Background(), ShellSpec{Command: "echo hi > /dev/null"}, runner.WithMirror(false))
	c.Assert(err, qt.IsNil)
	_, err = r.Wait(context.Background())
	c.Assert(err, qt.IsNil)
}

package registry

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestRegisterLookupUnregister(t *testing.T) {
	c := qt.New(t)
	r := New()

	h := ValueHandler(func(ctx context.Context, in Input) (Result, error) {
		return Result{Stdout: "ok"}, nil
	})
	r.Register("foo", h)

	got, ok := r.Lookup("foo")
	c.Assert(ok, qt.IsTrue)
	c.Assert(got, qt.Not(qt.IsNil))

	c.Assert(r.Unregister("foo"), qt.IsTrue)
	c.Assert(r.Unregister("foo"), qt.IsFalse)

	_, ok = r.Lookup("foo")
	c.Assert(ok, qt.IsFalse)
}

func TestDisableHidesWithoutClearing(t *testing.T) {
	c := qt.New(t)
	r := New()
	r.Register("foo", ValueHandler(builtinTrue))

	r.Disable()
	_, ok := r.Lookup("foo")
	c.Assert(ok, qt.IsFalse)

	r.Enable()
	_, ok = r.Lookup("foo")
	c.Assert(ok, qt.IsTrue)
}

func TestBypassOnPipeStdinSet(t *testing.T) {
	c := qt.New(t)
	c.Assert(BypassesOnPipeStdin("sleep"), qt.IsTrue)
	c.Assert(BypassesOnPipeStdin("cat"), qt.IsTrue)
	c.Assert(BypassesOnPipeStdin("echo"), qt.IsFalse)
}

func TestBuiltinEcho(t *testing.T) {
	c := qt.New(t)
	res, err := builtinEcho(context.Background(), Input{Args: []string{"hello", "world"}})
	c.Assert(err, qt.IsNil)
	c.Assert(res, qt.DeepEquals, Result{Stdout: "hello world\n"})
}

func TestBuiltinSeq(t *testing.T) {
	c := qt.New(t)
	res, err := builtinSeq(context.Background(), Input{Args: []string{"1", "3"}})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Stdout, qt.Equals, "1\n2\n3\n")
	c.Assert(res.Code, qt.Equals, 0)
}

func TestBuiltinCatReadsStdinWithNoArgs(t *testing.T) {
	c := qt.New(t)
	res, err := builtinCat(context.Background(), Input{Stdin: "x\ny\n"})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Stdout, qt.Equals, "x\ny\n")
}

func TestBuiltinYesStreamProducesUntilClosed(t *testing.T) {
	c := qt.New(t)
	s, err := builtinYes(context.Background(), Input{})
	c.Assert(err, qt.IsNil)

	for i := 0; i < 3; i++ {
		chunk, ok, err := s.Next(context.Background())
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue)
		c.Assert(string(chunk), qt.Equals, "y\n")
	}
	c.Assert(s.Close(), qt.IsNil)

	_, ok, err := s.Next(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestBuiltinTestPredicates(t *testing.T) {
	c := qt.New(t)

	ok, err := evalTest([]string{"-z", ""})
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	ok, err = evalTest([]string{"a", "=", "a"})
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	ok, err = evalTest([]string{"a", "!=", "b"})
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestBuiltinExitCarriesCode(t *testing.T) {
	c := qt.New(t)
	_, err := builtinExit(context.Background(), Input{Args: []string{"7"}})
	c.Assert(err, qt.Not(qt.IsNil))
	type exitCoder interface{ ExitCode() int }
	ec, ok := err.(exitCoder)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ec.ExitCode(), qt.Equals, 7)
}

func TestRegisterBuiltinsBindsFullSet(t *testing.T) {
	c := qt.New(t)
	r := New()
	RegisterBuiltins(r)

	names := []string{
		"cd", "pwd", "echo", "sleep", "true", "false", "which", "exit",
		"env", "cat", "ls", "mkdir", "rm", "mv", "cp", "touch",
		"basename", "dirname", "yes", "seq", "test",
	}
	for _, name := range names {
		_, ok := r.Lookup(name)
		c.Assert(ok, qt.IsTrue, qt.Commentf("missing builtin %q", name))
	}
}

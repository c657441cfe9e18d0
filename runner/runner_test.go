package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/link-foundation/command-stream-sub001/shellopts"
)

func echoDrive(stdout, stderr string, code int) DriveFunc {
	return func(rt *Runtime) (Result, error) {
		if stdout != "" {
			_ = rt.Emit(Stdout, []byte(stdout))
		}
		if stderr != "" {
			_ = rt.Emit(Stderr, []byte(stderr))
		}
		return Result{Code: code}, nil
	}
}

func TestWaitReturnsCapturedResult(t *testing.T) {
	c := qt.New(t)
	r := New(echoDrive("hello\n", "", 0))
	res, err := r.Wait(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(res.Stdout, qt.Equals, "hello\n")
	c.Assert(res.Code, qt.Equals, 0)
}

func TestWaitTwiceReturnsSameResult(t *testing.T) {
	c := qt.New(t)
	r := New(echoDrive("x", "", 0))
	res1, _ := r.Wait(context.Background())
	res2, _ := r.Wait(context.Background())
	c.Assert(res1, qt.DeepEquals, res2)
}

func TestErrexitProducesExitError(t *testing.T) {
	c := qt.New(t)
	r := New(echoDrive("", "boom", 7), WithShellSettings(shellopts.Options{Errexit: true}))
	_, err := r.Wait(context.Background())
	c.Assert(err, qt.Not(qt.IsNil))
	var exitErr *ExitError
	c.Assert(errors.As(err, &exitErr), qt.IsTrue)
	c.Assert(exitErr.Result.Code, qt.Equals, 7)
}

func TestEndThenExitListenerOrder(t *testing.T) {
	c := qt.New(t)
	r := New(echoDrive("a", "", 0))
	var order []string
	r.OnEnd(func(Result) { order = append(order, "end") })
	r.OnExit(func(int) { order = append(order, "exit") })
	r.Wait(context.Background())
	c.Assert(order, qt.DeepEquals, []string{"end", "exit"})
}

func TestListenersClearedAfterFinish(t *testing.T) {
	c := qt.New(t)
	r := New(echoDrive("a", "", 0))
	r.Wait(context.Background())

	called := false
	r.OnEnd(func(Result) { called = true })
	// finish already happened; a late listener registration must not be
	// retroactively invoked.
	time.Sleep(10 * time.Millisecond)
	c.Assert(called, qt.IsFalse)
}

func TestChunksDeliversInOrder(t *testing.T) {
	c := qt.New(t)
	r := New(func(rt *Runtime) (Result, error) {
		rt.Emit(Stdout, []byte("a"))
		rt.Emit(Stdout, []byte("b"))
		return Result{}, nil
	})
	ch, cancel := r.Chunks(context.Background())
	defer cancel()

	var got []byte
	for chunk := range ch {
		got = append(got, chunk.Bytes...)
	}
	c.Assert(string(got), qt.Equals, "ab")
}

package sequence

import (
	"context"
	"os"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/link-foundation/command-stream-sub001/runner"
	"github.com/link-foundation/command-stream-sub001/syntax"
)

func drive(stdout string, code int) runner.DriveFunc {
	return func(rt *runner.Runtime) (runner.Result, error) {
		if stdout != "" {
			rt.Emit(runner.Stdout, []byte(stdout))
		}
		return runner.Result{Code: code}, nil
	}
}

func TestAndSkipsOnFailure(t *testing.T) {
	c := qt.New(t)
	var ran []string
	members := []Member{
		{Build: func() *runner.Runner {
			ran = append(ran, "a")
			return runner.New(drive("", 1))
		}},
		{Op: syntax.And, Build: func() *runner.Runner {
			ran = append(ran, "b")
			return runner.New(drive("x\n", 0))
		}},
	}
	r := runner.New(NewDrive(members))
	res, _ := r.Wait(context.Background())
	c.Assert(ran, qt.DeepEquals, []string{"a"})
	c.Assert(res.Code, qt.Not(qt.Equals), 0)
}

func TestOrRunsOnFailure(t *testing.T) {
	c := qt.New(t)
	members := []Member{
		{Build: func() *runner.Runner { return runner.New(drive("", 1)) }},
		{Op: syntax.Or, Build: func() *runner.Runner { return runner.New(drive("y\n", 0)) }},
	}
	r := runner.New(NewDrive(members))
	res, _ := r.Wait(context.Background())
	c.Assert(res.Code, qt.Equals, 0)
}

func TestSemiAlwaysRuns(t *testing.T) {
	c := qt.New(t)
	var ran []string
	members := []Member{
		{Build: func() *runner.Runner {
			ran = append(ran, "a")
			return runner.New(drive("", 0))
		}},
		{Op: syntax.Semi, Build: func() *runner.Runner {
			ran = append(ran, "b")
			return runner.New(drive("", 9))
		}},
	}
	r := runner.New(NewDrive(members))
	res, _ := r.Wait(context.Background())
	c.Assert(ran, qt.DeepEquals, []string{"a", "b"})
	c.Assert(res.Code, qt.Equals, 9)
}

func TestRunSubshellRestoresCwd(t *testing.T) {
	c := qt.New(t)
	before, err := os.Getwd()
	c.Assert(err, qt.IsNil)

	_, _ = RunSubshell(func() (runner.Result, error) {
		return runner.Result{}, nil
	})

	after, err := os.Getwd()
	c.Assert(err, qt.IsNil)
	c.Assert(after, qt.Equals, before)
}

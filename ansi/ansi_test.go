package ansi

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestStripCSIColor(t *testing.T) {
	c := qt.New(t)
	in := []byte("\x1b[31mred\x1b[0m plain")
	out := Filter(in, Options{PreserveANSI: false, PreserveControl: true})
	c.Assert(string(out), qt.Equals, "red plain")
}

func TestPreserveANSIWhenRequested(t *testing.T) {
	c := qt.New(t)
	in := []byte("\x1b[31mred\x1b[0m")
	out := Filter(in, Options{PreserveANSI: true, PreserveControl: true})
	c.Assert(string(out), qt.Equals, string(in))
}

func TestStripControlPreservesTabNewlineReturn(t *testing.T) {
	c := qt.New(t)
	in := []byte("a\tb\nc\rd\x00e\x7f")
	out := Filter(in, Options{PreserveANSI: true, PreserveControl: false})
	c.Assert(string(out), qt.Equals, "a\tb\nc\rde")
}

func TestNoOpReturnsSameBytes(t *testing.T) {
	c := qt.New(t)
	in := []byte("plain text")
	out := Filter(in, Options{PreserveANSI: true, PreserveControl: true})
	c.Assert(&out[0], qt.Equals, &in[0], qt.Commentf("no-op filter must not copy"))
}

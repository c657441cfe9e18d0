// Package shellopts implements the process-wide shell option flags
// (errexit, xtrace, verbose, nounset, pipefail). Errexit is read by the
// runner package, xtrace and verbose by execext, and pipefail by pipeline;
// nounset is stored but not read by any package.
package shellopts

import "sync/atomic"

// Options is an immutable snapshot of the five shell flags. Callers never
// mutate a value in place; Set/Unset build a new snapshot and swap it in.
type Options struct {
	Errexit  bool
	Xtrace   bool
	Verbose  bool
	Nounset  bool
	Pipefail bool
}

// Flags holds the current Options behind an atomic pointer so that readers
// never observe a torn update and writers never block readers. engine.Run
// takes a snapshot when it builds a Runner (see runner.Options), not when
// the Runner starts; later Set/Unset calls never affect a Runner that has
// already been built.
type Flags struct {
	v atomic.Pointer[Options]
}

// New returns a Flags initialized to the zero Options (all flags unset).
func New() *Flags {
	f := &Flags{}
	f.v.Store(&Options{})
	return f
}

// Snapshot returns the current Options by value.
func (f *Flags) Snapshot() Options {
	return *f.v.Load()
}

// Set enables the named option. Short spellings (e, x, v, u) and the long
// form of pipefail ("o pipefail" in a real shell, spelled "pipefail" here)
// are both accepted.
func (f *Flags) Set(name string) error {
	return f.mutate(name, true)
}

// Unset disables the named option.
func (f *Flags) Unset(name string) error {
	return f.mutate(name, false)
}

func (f *Flags) mutate(name string, value bool) error {
	cur := f.Snapshot()
	switch name {
	case "e", "errexit":
		cur.Errexit = value
	case "x", "xtrace":
		cur.Xtrace = value
	case "v", "verbose":
		cur.Verbose = value
	case "u", "nounset":
		cur.Nounset = value
	case "pipefail", "o pipefail":
		cur.Pipefail = value
	default:
		return &UnknownOptionError{Name: name}
	}
	f.v.Store(&cur)
	return nil
}

// Reset restores all flags to their default (unset) values. Intended for
// tests and for an explicit engine reset; never called implicitly.
func (f *Flags) Reset() {
	f.v.Store(&Options{})
}

// UnknownOptionError is returned by Set/Unset for an unrecognized name.
type UnknownOptionError struct {
	Name string
}

func (e *UnknownOptionError) Error() string {
	return "shellopts: unknown option " + e.Name
}

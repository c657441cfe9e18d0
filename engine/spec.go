package engine

import "github.com/link-foundation/command-stream-sub001/runner"

// CommandSpec is the closed set of ways a caller can describe what to
// run, mirroring spec.md §3's tagged CommandSpec variants as small Go
// types instead of one tagged union.
type CommandSpec interface {
	isCommandSpec()
}

// ShellSpec is a literal shell command string, parsed structurally when
// possible (syntax.Parse) and otherwise delegated to a located system
// shell (execext shell mode).
type ShellSpec struct {
	Command string
}

func (ShellSpec) isCommandSpec() {}

// ExecSpec bypasses shell parsing entirely: file + args are handed
// straight to the external executor.
type ExecSpec struct {
	File string
	Args []string
}

func (ExecSpec) isCommandSpec() {}

// PipeSpec is the programmatic pipe(source, dest) operation of
// spec.md §4.9: Source is awaited to completion, its stdout becomes
// Dest's Bytes stdin, and Dest's Runner is constructed by DestBuilder.
type PipeSpec struct {
	Source      *runner.Runner
	DestBuilder func(stdinBytes []byte) *runner.Runner
}

func (PipeSpec) isCommandSpec() {}

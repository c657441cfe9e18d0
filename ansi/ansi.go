// Package ansi implements the optional post-processing filter applied to
// emitted stdout/stderr chunks: stripping ANSI CSI sequences and/or raw
// control bytes before a chunk reaches a mirror sink, a capture buffer, or
// an emitted event.
package ansi

import "regexp"

// csiPattern matches the subset of ANSI CSI sequences that color/cursor
// output in practice: ESC '[' then digits/semicolons then one of the
// terminating letters used by SGR, cursor, and erase sequences.
var csiPattern = regexp.MustCompile("\x1b\\[[0-9;]*[mGKHFJ]")

// Options configures Filter.
type Options struct {
	// PreserveANSI, if false, strips CSI sequences matched by csiPattern.
	PreserveANSI bool
	// PreserveControl, if false, strips control bytes other than tab,
	// newline, and carriage return.
	PreserveControl bool
}

// Filter applies Options to a chunk, returning the (possibly unmodified)
// result. The input slice is never mutated in place; Filter returns b
// itself when no stripping is configured, to avoid needless allocation on
// the hot emission path.
func Filter(b []byte, opts Options) []byte {
	if opts.PreserveANSI && opts.PreserveControl {
		return b
	}
	out := b
	if !opts.PreserveANSI {
		out = csiPattern.ReplaceAll(out, nil)
	}
	if !opts.PreserveControl {
		out = stripControl(out)
	}
	return out
}

func stripControl(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if isStrippedControl(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isStrippedControl(c byte) bool {
	switch {
	case c == '\t' || c == '\n' || c == '\r':
		return false
	case c <= 0x08, c == 0x0B, c == 0x0C, c >= 0x0E && c <= 0x1F, c == 0x7F:
		return true
	default:
		return false
	}
}

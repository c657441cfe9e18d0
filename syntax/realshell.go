package syntax

import "strings"

// realShellMarkers are substrings whose presence means the restricted
// grammar cannot represent the construct faithfully: command substitution,
// parameter/brace expansion, home-dir expansion, globbing, stderr and
// combined-fd redirection, and here-docs/here-strings. NeedsRealShell is
// intentionally conservative: a false positive only costs a delegation to
// a system shell, never a miscompile.
var realShellMarkers = []string{
	"`",   // backtick command substitution
	"$(",  // $() command substitution
	"${",  // parameter expansion
	"~",   // home directory expansion
	"*",   // glob
	"?",   // glob
	"[",   // glob character class
	"2>",  // stderr redirection
	"&>",  // combined redirection
	">&",  // fd duplication
	"<<",  // heredoc / herestring (also matches "<<<")
}

// NeedsRealShell reports whether s contains a construct the restricted
// parser cannot represent, meaning the caller must delegate execution to a
// discovered system shell instead of using the CommandAST path. It is a
// conservative, string-level oracle: it never inspects the parse result,
// so it stays cheap enough to run before attempting to parse at all.
func NeedsRealShell(s string) bool {
	for _, m := range realShellMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Package shellpath implements the shell locator (C4): a one-time,
// cached probe for a usable system shell, used by the external executor
// whenever a command string must be delegated to a real shell instead of
// the restricted parser in the syntax package.
package shellpath

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

// Shell is a resolved shell executable plus the flags that precede the
// raw command string, which is appended as the final argument.
type Shell struct {
	// Path is the executable to run.
	Path string
	// Args are the flags preceding the raw command string, e.g.
	// []string{"-l", "-c"} for /bin/sh, or []string{"/c"} for cmd.exe.
	Args []string
}

// CommandArgs returns the full argv for running raw via this shell.
func (s Shell) CommandArgs(raw string) []string {
	args := make([]string, 0, len(s.Args)+1)
	args = append(args, s.Args...)
	args = append(args, raw)
	return args
}

var (
	mu     sync.Mutex
	cached *Shell
)

// unixCandidates are tried in order via direct stat, then again by PATH
// lookup under their bare names.
var unixCandidates = []string{"/bin/sh", "/bin/bash", "/bin/zsh"}

// windowsGitBashPaths are common Git-for-Windows install locations.
var windowsGitBashPaths = []string{
	`C:\Program Files\Git\bin\bash.exe`,
	`C:\Program Files (x86)\Git\bin\bash.exe`,
}

var windowsCandidates = []string{"bash.exe", "wsl.exe", "powershell", "pwsh", "cmd"}

// lookPath is overridable in tests.
var lookPath = exec.LookPath

// statExists is overridable in tests.
var statExists = func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Locate returns the cached shell, probing on first call. The probe order
// and fallback follow spec: on Windows, Git Bash at common paths then
// bash.exe/wsl.exe/powershell/pwsh/cmd; otherwise /bin/sh, /bin/bash,
// /bin/zsh directly, then the same names via PATH. If nothing resolves,
// Locate falls back to cmd.exe /c (Windows) or /bin/sh -l -c (elsewhere);
// this fallback is always returned, never an error.
func Locate() Shell {
	mu.Lock()
	defer mu.Unlock()
	if cached != nil {
		return *cached
	}
	s := probe()
	cached = &s
	return s
}

// Reset clears the cache. Only an explicit engine reset calls this.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}

func probe() Shell {
	if runtime.GOOS == "windows" {
		return probeWindows()
	}
	return probeUnix()
}

func probeUnix() Shell {
	for _, path := range unixCandidates {
		if statExists(path) {
			return Shell{Path: path, Args: []string{"-l", "-c"}}
		}
	}
	for _, path := range unixCandidates {
		if resolved, err := lookPath(filepath.Base(path)); err == nil {
			return Shell{Path: resolved, Args: []string{"-l", "-c"}}
		}
	}
	return Shell{Path: "/bin/sh", Args: []string{"-l", "-c"}}
}

func probeWindows() Shell {
	for _, path := range windowsGitBashPaths {
		if statExists(path) {
			return Shell{Path: path, Args: []string{"-c"}}
		}
	}
	for _, name := range windowsCandidates {
		if resolved, err := lookPath(name); err == nil {
			args := []string{"-c"}
			if name == "cmd" {
				args = []string{"/c"}
			} else if name == "powershell" || name == "pwsh" {
				args = []string{"-Command"}
			}
			return Shell{Path: resolved, Args: args}
		}
	}
	return Shell{Path: "cmd.exe", Args: []string{"/c"}}
}

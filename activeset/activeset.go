// Package activeset implements the signal & lifecycle manager (C11): a
// process-wide set of currently-live Runners, a single installed SIGINT
// handler fanned out to every member while the set is non-empty, and
// parent-stream-closure propagation (stdin close, then a deferred
// SIGTERM) when the host's own stdout or stderr goes away.
package activeset

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/link-foundation/command-stream-sub001/runner"
)

// Set is the active-runner set. The zero value is not usable; construct
// with New. A Set is process-wide state by convention (an *Engine holds
// exactly one), but nothing here prevents multiple independent Sets for
// tests that want isolation.
type Set struct {
	logger *slog.Logger

	mu      sync.Mutex
	members map[uint64]*runner.Runner
	nextID  atomic.Uint64

	sigMu        sync.Mutex
	sigInstalled bool
	sigCh        chan os.Signal
	sigDone      chan struct{}

	otherHandlerInstalled atomic.Bool
}

// New returns an empty Set. logger is used for install/uninstall and
// fan-out diagnostics; a nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{logger: logger, members: make(map[uint64]*runner.Runner)}
}

// Add registers m as active and installs the process SIGINT handler if
// this is the first member. It returns a token that Remove uses to
// unregister exactly this membership.
func (s *Set) Add(m *runner.Runner) (token uint64) {
	id := s.nextID.Add(1)
	s.mu.Lock()
	s.members[id] = m
	n := len(s.members)
	s.mu.Unlock()
	if n == 1 {
		s.installSigint()
	}
	return id
}

// Remove unregisters the member added under token, uninstalling the
// SIGINT handler if the set becomes empty. Idempotent.
func (s *Set) Remove(token uint64) {
	s.mu.Lock()
	delete(s.members, token)
	n := len(s.members)
	s.mu.Unlock()
	if n == 0 {
		s.uninstallSigint()
	}
}

// snapshot copies the current member list. The SIGINT handler iterates a
// snapshot so concurrent Add/Remove during fan-out never races the map.
func (s *Set) snapshot() []*runner.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*runner.Runner, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	return out
}

// SetOtherSigintHandlerInstalled tells the Set that some other part of
// the host process has already registered its own SIGINT handling, so
// this Set's handler must fan out to Runners but never call os.Exit
// itself, per spec.md §4.11's "If no other SIGINT handler is registered
// at the process level, exit the host with code 130. Otherwise, defer to
// the other handlers" rule.
func (s *Set) SetOtherSigintHandlerInstalled(v bool) {
	s.otherHandlerInstalled.Store(v)
}

func (s *Set) installSigint() {
	s.sigMu.Lock()
	defer s.sigMu.Unlock()
	if s.sigInstalled {
		return
	}
	s.sigInstalled = true
	s.sigCh = make(chan os.Signal, 1)
	s.sigDone = make(chan struct{})
	signal.Notify(s.sigCh, syscall.SIGINT)
	s.logger.Debug("activeset: installed SIGINT handler")

	go func() {
		for {
			select {
			case <-s.sigDone:
				return
			case <-s.sigCh:
				s.handleSigint()
			}
		}
	}()
}

func (s *Set) uninstallSigint() {
	s.sigMu.Lock()
	defer s.sigMu.Unlock()
	if !s.sigInstalled {
		return
	}
	s.sigInstalled = false
	signal.Stop(s.sigCh)
	close(s.sigDone)
	s.logger.Debug("activeset: uninstalled SIGINT handler")
}

// handleSigint implements spec.md §4.11's SIGINT handler behavior:
// enumerate a snapshot of active Runners and deliver SIGINT to each
// (Kill handles the process-group-vs-virtual-handler distinction
// internally), then exit(130) unless another handler has claimed the
// process-level signal.
func (s *Set) handleSigint() {
	for _, m := range s.snapshot() {
		if err := m.Kill(os.Interrupt); err != nil {
			s.logger.Debug("activeset: SIGINT delivery failed", "error", err)
		}
	}
	if !s.otherHandlerInstalled.Load() {
		os.Exit(130)
	}
}

// NotifyParentStreamClosed implements the parent-stream-closure rule of
// spec.md §4.6/§4.11: when the host's own stdout or stderr closes, every
// active Runner first has its child's stdin ended, then, one tick later,
// is sent SIGTERM. This prevents a process tree from continuing to write
// into a pipe whose reader has gone away.
func (s *Set) NotifyParentStreamClosed() {
	members := s.snapshot()
	for _, m := range members {
		m.CloseStdin()
	}
	time.AfterFunc(time.Millisecond, func() {
		for _, m := range members {
			_ = m.Kill(syscall.SIGTERM)
		}
	})
}

// Watch registers r so that it participates in SIGINT fan-out and
// parent-stream-closure handling, removing it automatically once r
// finishes. Registration happens when Watch is called, whether or not r
// has started: engine.Run calls it on every Runner it builds, before the
// Runner starts, so an unstarted Runner is already a member of the set.
func Watch(s *Set, r *runner.Runner) {
	token := s.Add(r)
	r.SetOnFinish(func(*runner.Runner) {
		s.Remove(token)
	})
}

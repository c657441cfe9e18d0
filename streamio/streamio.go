// Package streamio implements the stream plumbing (C5) shared by the
// external and pipeline executors: chunked pumping of a readable stream to
// a callback, EPIPE-tolerant writes, and raw-mode TTY stdin forwarding
// with a Ctrl-C interception policy.
package streamio

import (
	"errors"
	"io"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/link-foundation/command-stream-sub001/ansi"
)

// ChunkFunc receives one chunk read from a pumped stream. It must not
// retain b past the call; Pump reuses its read buffer.
type ChunkFunc func(b []byte) error

// Pump reads r in chunks until EOF or error, applying the ANSI filter
// (the zero Options strips both CSI sequences and control bytes; Filter
// is a no-op only when both Preserve flags are set) and invoking fn for
// each non-empty chunk. It returns nil on a clean EOF, or the first error
// from r.Read or fn.
func Pump(r io.Reader, filt ansi.Options, fn ChunkFunc) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := ansi.Filter(buf[:n], filt)
			if len(chunk) > 0 {
				if ferr := fn(chunk); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// SafeWrite writes b to w, swallowing EPIPE and already-closed-stream
// errors so a downstream reader going away does not propagate as a
// failure to the writer's caller. Any other error is returned.
func SafeWrite(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, syscall.EPIPE) {
		return nil
	}
	return err
}

// KeystrokeSink receives forwarded stdin bytes (everything but the Ctrl-C
// byte, which instead triggers onInterrupt).
type KeystrokeSink interface {
	Write(p []byte) (int, error)
}

// ForwardTTYStdin reads raw keystrokes from in (which must be a TTY) and
// forwards them to sink, except that byte 0x03 (Ctrl-C) is intercepted and
// routed to onInterrupt instead of being forwarded. in is placed into raw
// mode for the duration and restored on return, via golang.org/x/term.
// done is closed by the caller to stop forwarding.
func ForwardTTYStdin(in *os.File, sink KeystrokeSink, onInterrupt func(), done <-chan struct{}) error {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return errNotATTY
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 1024)
	type readResult struct {
		n   int
		err error
	}
	reads := make(chan readResult, 1)
	go func() {
		for {
			n, err := in.Read(buf)
			reads <- readResult{n, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case r := <-reads:
			if r.n > 0 {
				if err := forwardKeystrokes(buf[:r.n], sink, onInterrupt); err != nil {
					return err
				}
			}
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil
				}
				return r.err
			}
		}
	}
}

func forwardKeystrokes(b []byte, sink KeystrokeSink, onInterrupt func()) error {
	start := 0
	for i, c := range b {
		if c != 0x03 {
			continue
		}
		if i > start {
			if _, err := sink.Write(b[start:i]); err != nil {
				return err
			}
		}
		if onInterrupt != nil {
			onInterrupt()
		}
		start = i + 1
	}
	if start < len(b) {
		if _, err := sink.Write(b[start:]); err != nil {
			return err
		}
	}
	return nil
}

var errNotATTY = errors.New("streamio: stdin is not a terminal")

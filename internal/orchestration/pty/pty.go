// Package pty implements the PTY Session (C1): one OS pseudo-terminal bound
// to a single worker process, with a blocking pattern-match primitive
// (Expect) that joins streaming capture with confirmation-prompt detection.
package pty

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"
)

// ErrSpawnFailed is returned by Spawn when the executable is missing or PTY
// allocation fails.
var ErrSpawnFailed = errors.New("pty: spawn failed")

// ErrWouldBlock is returned by ReadNonblocking when no bytes are available
// right now; it is not a real error, callers should treat it as "try later".
var ErrWouldBlock = errors.New("pty: would block")

// ErrTimedOut is returned by Expect when no pattern matched before the
// deadline.
var ErrTimedOut = errors.New("pty: expect timed out")

// Session owns one worker process attached to a pseudo-terminal. All public
// methods are safe for concurrent use; in practice only the owning
// Interactive Worker Session calls them, serially.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu       sync.Mutex
	pending  bytes.Buffer // bytes read but not yet consumed by Expect/ReadNonblocking
	readErr  error
	closed   bool
	closedCh chan struct{}
}

// Spawn starts command with env and cwd attached to a new PTY and begins
// background reading into an internal buffer immediately, so no output is
// lost between Spawn and the first ReadNonblocking/Expect call.
func Spawn(ctx context.Context, command []string, env []string, cwd string) (*Session, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrSpawnFailed)
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = cwd
	if env != nil {
		cmd.Env = env
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	s := &Session{
		cmd:      cmd,
		ptmx:     ptmx,
		closedCh: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// pump continuously drains the PTY master into the pending buffer so that
// Expect's blocking wait and ReadNonblocking's polling share one source of
// truth; it exits on read error or EOF.
func (s *Session) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.pending.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}
	}
}

// ReadNonblocking drains whatever bytes have accumulated since the last
// call. It returns ErrWouldBlock if nothing is pending and the underlying
// process hasn't exited, or the pump's terminal read error (returned as is:
// io.EOF, or EIO on Linux once the child side closes) once the pump has
// observed end-of-stream and the buffer is drained.
func (s *Session) ReadNonblocking(maxBytes int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending.Len() > 0 {
		n := maxBytes
		if n <= 0 || n > s.pending.Len() {
			n = s.pending.Len()
		}
		return s.pending.Next(n), nil
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	return nil, ErrWouldBlock
}

// ExpectResult is returned by Expect on a successful pattern match.
type ExpectResult struct {
	Index  int    // index into the patterns slice that matched
	Prefix []byte // ANSI-stripped bytes read up to and including the match; the matched text is not reported separately
}

// Expect blocks (up to timeout) until one of patterns matches the
// accumulated stream, EOF is observed, or the timeout elapses. Patterns
// must already be compiled; order is preserved in Index, satisfying
// positional capture-group semantics for callers.
func (s *Session) Expect(patterns []*regexp.Regexp, timeout time.Duration) (ExpectResult, error) {
	deadline := time.Now().Add(timeout)
	pollInterval := 50 * time.Millisecond

	for {
		s.mu.Lock()
		data := s.pending.Bytes()
		stripped := ansi.Strip(string(data))
		var matchedIdx = -1
		var matchEnd int
		for i, p := range patterns {
			if loc := p.FindStringIndex(stripped); loc != nil {
				if matchedIdx == -1 || loc[0] < matchEnd {
					matchedIdx = i
					matchEnd = loc[1]
				}
			}
		}
		if matchedIdx != -1 {
			prefix := []byte(stripped[:matchEnd])
			s.pending.Reset()
			s.mu.Unlock()
			return ExpectResult{Index: matchedIdx, Prefix: prefix}, nil
		}
		eof := s.readErr != nil
		s.mu.Unlock()

		if eof {
			return ExpectResult{}, s.readErr
		}
		if time.Now().After(deadline) {
			return ExpectResult{}, ErrTimedOut
		}
		time.Sleep(pollInterval)
	}
}

// WriteLine appends a newline and writes to the worker's stdin via the PTY.
func (s *Session) WriteLine(line string) error {
	_, err := s.ptmx.Write([]byte(line + "\n"))
	return err
}

// Close requests graceful shutdown (SIGTERM, then wait up to grace) before
// force-killing. Returns the exit code, or (-1, nil) if the exit status
// could not be determined.
func (s *Session) Close(grace time.Duration) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return -1, nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(grace):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		waitErr = <-done
	}

	_ = s.ptmx.Close()
	close(s.closedCh)

	return exitCodeFrom(waitErr)
}

func exitCodeFrom(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal()), nil
			}
			return ws.ExitStatus(), nil
		}
		return -1, nil
	}
	return -1, nil
}

// Resize propagates a terminal size change (SIGWINCH) to the worker
// process, for parity with interactive sizing semantics.
func (s *Session) Resize(cols, rows uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Package transcript is the Transcript & Artifact Writer (C9): durable,
// per-worker logs of raw PTY output, the dialogue between worker and
// orchestrator, and the orchestrator's decision trace.
//
// Unlike a buffered log writer that amortizes disk I/O across a ring
// buffer and a periodic flush, every Write call here flushes immediately:
// spec.md §4.9 requires each record visible on disk before the next one is
// produced, since a downstream tailer must see an entry within 1s of
// persistence and a crash must never lose the last write.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/foreflux/conductor/internal/log"
)

const (
	taskFile        = "task.txt"
	rawTerminalFile = "raw_terminal.log"
	orchLogFile     = "orchestrator_terminal.log"
	dialogueJSONL   = "dialogue_transcript.jsonl"
	dialogueTxt     = "dialogue_transcript.txt"
)

// Direction identifies which side produced a DialogueEntry.
type Direction string

const (
	DirectionWorkerToOrchestrator Direction = "worker→orchestrator"
	DirectionOrchestratorToWorker Direction = "orchestrator→worker"
)

// Kind identifies a DialogueEntry's role within the direction.
type Kind string

const (
	KindOutput   Kind = "output"
	KindResponse Kind = "response"
)

// DialogueEntry mirrors the §3 DialogueEntry record exactly, so that JSON
// round-trips byte-for-byte (spec.md testable property 7).
type DialogueEntry struct {
	Timestamp        float64   `json:"timestamp"`
	Direction        Direction `json:"direction"`
	Content          string    `json:"content"`
	Type             Kind      `json:"type"`
	ConfirmationKind string    `json:"confirmation_kind,omitempty"`
	MatchedMessage   string    `json:"matched_message,omitempty"`
}

// immediateWriter appends to a single file handle, flushing synchronously
// after every write. Errors are tracked, never panicked on: a write
// failure must never halt the worker per spec.md §4.9/§7.
type immediateWriter struct {
	mu          sync.Mutex
	file        *os.File
	writeErrors atomic.Int64
}

func newImmediateWriter(path string) (*immediateWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path built from trusted workspace dir
	if err != nil {
		return nil, err
	}
	return &immediateWriter{file: f}, nil
}

func (w *immediateWriter) write(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(data); err != nil {
		w.writeErrors.Add(1)
		log.Warn(log.CatTranscript, "transcript write failed", "error", err, "path", w.file.Name())
		return
	}
	if err := w.file.Sync(); err != nil {
		w.writeErrors.Add(1)
		log.Warn(log.CatTranscript, "transcript sync failed", "error", err, "path", w.file.Name())
	}
}

func (w *immediateWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Writer owns the four per-worker artifacts named in spec.md §4.9/§6. It is
// safe for concurrent use, though in practice only the owning Interactive
// Worker Session writes to it.
type Writer struct {
	workerID string
	dir      string

	rawTerminal *immediateWriter
	orchLog     *immediateWriter
	dialogueJS  *immediateWriter
	dialogueTx  *immediateWriter

	mu     sync.Mutex
	closed bool
}

// New creates the worker's workspace directory (if needed) and opens all
// four artifacts in append mode, writing the task prompt once.
func New(workspaceDir, workerID, taskPrompt string) (*Writer, error) {
	if err := os.MkdirAll(workspaceDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(workspaceDir, taskFile), []byte(taskPrompt), 0o600); err != nil {
		return nil, fmt.Errorf("writing task prompt: %w", err)
	}

	raw, err := newImmediateWriter(filepath.Join(workspaceDir, rawTerminalFile))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", rawTerminalFile, err)
	}
	orch, err := newImmediateWriter(filepath.Join(workspaceDir, orchLogFile))
	if err != nil {
		_ = raw.close()
		return nil, fmt.Errorf("opening %s: %w", orchLogFile, err)
	}
	djs, err := newImmediateWriter(filepath.Join(workspaceDir, dialogueJSONL))
	if err != nil {
		_ = raw.close()
		_ = orch.close()
		return nil, fmt.Errorf("opening %s: %w", dialogueJSONL, err)
	}
	dtx, err := newImmediateWriter(filepath.Join(workspaceDir, dialogueTxt))
	if err != nil {
		_ = raw.close()
		_ = orch.close()
		_ = djs.close()
		return nil, fmt.Errorf("opening %s: %w", dialogueTxt, err)
	}

	return &Writer{
		workerID:    workerID,
		dir:         workspaceDir,
		rawTerminal: raw,
		orchLog:     orch,
		dialogueJS:  djs,
		dialogueTx:  dtx,
	}, nil
}

// AppendRaw strips ANSI control sequences from data and appends the result
// to raw_terminal.log, per spec.md §4.1's persistence contract.
func (w *Writer) AppendRaw(data []byte) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	stripped := ansi.Strip(string(data))
	if stripped == "" {
		return
	}
	w.rawTerminal.write([]byte(stripped))
}

// AppendOrchestratorEvent records one line of the internal decision trace
// (output observed, decision made, response sent).
func (w *Writer) AppendOrchestratorEvent(line string) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	w.orchLog.write([]byte(fmt.Sprintf("[%s] %s\n", ts, line)))
}

// AppendDialogue writes entry to both dialogue artifacts. Invariant 1
// (§3) requires that the corresponding raw bytes were already appended via
// AppendRaw before this is called for an "output" entry — enforcing that
// ordering is the caller's (Interactive Worker Session's) responsibility.
func (w *Writer) AppendDialogue(entry DialogueEntry) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return fmt.Errorf("transcript writer closed")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling dialogue entry: %w", err)
	}
	data = append(data, '\n')
	w.dialogueJS.write(data)

	w.dialogueTx.write([]byte(renderHumanReadable(entry)))
	return nil
}

func renderHumanReadable(e DialogueEntry) string {
	ts := time.Unix(0, int64(e.Timestamp*float64(time.Second))).UTC().Format(time.RFC3339)
	if e.Type == KindResponse && e.ConfirmationKind != "" {
		return fmt.Sprintf("[%s] %s (%s): %s\n", ts, e.Direction, e.ConfirmationKind, e.Content)
	}
	return fmt.Sprintf("[%s] %s: %s\n", ts, e.Direction, e.Content)
}

// WriteErrorCounts returns the cumulative write-error count across all four
// artifacts, for diagnostics; callers never treat a nonzero count as fatal.
func (w *Writer) WriteErrorCounts() int64 {
	return w.rawTerminal.writeErrors.Load() +
		w.orchLog.writeErrors.Load() +
		w.dialogueJS.writeErrors.Load() +
		w.dialogueTx.writeErrors.Load()
}

// Close closes all four artifact files. Safe to call once; subsequent
// calls are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	var firstErr error
	for _, c := range []*immediateWriter{w.rawTerminal, w.orchLog, w.dialogueJS, w.dialogueTx} {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

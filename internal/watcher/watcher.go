// Package watcher provides file system watching with debouncing for a
// worker's transcript artifacts. It exists for external tailers — a
// process other than the orchestrator itself (e.g. the HTTP/WebSocket
// surface) that wants to follow raw_terminal.log and
// dialogue_transcript.jsonl from outside the in-process Event Publisher —
// and answers DESIGN NOTES' "subscribers see an entry within 1s of its
// persistence" contract with OS-level notification instead of a polling
// loop.
package watcher

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/foreflux/conductor/internal/log"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a worker's workspace directory for transcript writes
// and sends debounced change notifications.
type Watcher struct {
	fsWatcher    *fsnotify.Watcher
	workspaceDir string
	debounce     time.Duration
	onChange     chan struct{}
	done         chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	// WorkspaceDir is one worker's artifact directory (the directory
	// containing raw_terminal.log and dialogue_transcript.jsonl), not the
	// shared workspace root; it must already exist.
	WorkspaceDir string
	DebounceDur  time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(workspaceDir string) Config {
	return Config{
		WorkspaceDir: workspaceDir,
		DebounceDur:  100 * time.Millisecond,
	}
}

// New creates a new transcript watcher for one worker's workspace
// directory.
func New(cfg Config) (*Watcher, error) {
	log.Debug(log.CatWatcher, "creating transcript watcher", "workspaceDir", cfg.WorkspaceDir, "debounce", cfg.DebounceDur)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.ErrorErr(log.CatWatcher, "failed to create fsnotify watcher", err)
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher:    fsw,
		workspaceDir: cfg.WorkspaceDir,
		debounce:     cfg.DebounceDur,
		onChange:     make(chan struct{}, 1),
		done:         make(chan struct{}),
	}, nil
}

// Start begins watching the workspace directory. Returns a channel that
// receives a signal whenever raw_terminal.log or dialogue_transcript.jsonl
// changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.fsWatcher.Add(w.workspaceDir); err != nil {
		log.ErrorErr(log.CatWatcher, "failed to watch workspace directory", err, "dir", w.workspaceDir)
		return nil, fmt.Errorf("watching directory %s: %w", w.workspaceDir, err)
	}

	log.Info(log.CatWatcher, "started watching transcript directory", "dir", w.workspaceDir)
	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	log.Debug(log.CatWatcher, "stopping transcript watcher")
	close(w.done)
	return w.fsWatcher.Close()
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !w.isRelevantEvent(event) {
				continue
			}

			log.Debug(log.CatWatcher, "transcript file event received", "file", event.Name, "op", event.Op.String())

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				pending = true
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
				pending = true
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				log.Debug(log.CatWatcher, "debounce complete, notifying tailers")
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "transcript watcher error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent reports whether event touches one of the two files
// external tailers follow.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}

	base := filepath.Base(event.Name)
	return base == "raw_terminal.log" || base == "dialogue_transcript.jsonl"
}

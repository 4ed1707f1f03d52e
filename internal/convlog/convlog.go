// Package convlog writes conversation transcripts as NDJSON, one file per
// user plus an optional combined file.
package convlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Direction of a logged message.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Event is one transcript line.
type Event struct {
	Timestamp string         `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Direction string         `json:"direction"`
	State     string         `json:"state,omitempty"`
	NextState string         `json:"next_state,omitempty"`
	Text      string         `json:"text,omitempty"`
	Template  string         `json:"template,omitempty"`
	Params    []string       `json:"params,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Logger records transcript events without blocking the caller.
type Logger interface {
	Log(Event)
	Close() error
}

// Config controls transcript logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Noop discards every event.
type Noop struct{}

// Log implements Logger.
func (Noop) Log(Event) {}

// Close implements Logger.
func (Noop) Close() error { return nil }

// Writer is the file-backed Logger. Events are queued and written by one
// goroutine; a full queue drops the event.
type Writer struct {
	dir        string
	globalPath string
	queue      chan Event
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.Mutex // guards closed against Log
	closed     bool
	logger     *slog.Logger
}

// New returns Noop when logging is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return NewWriter(cfg, logger)
}

// NewWriter creates the transcript directory and starts the writer goroutine.
func NewWriter(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	w := &Writer{
		dir:    cfg.Dir,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "convlog"),
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		w.globalPath = cfg.GlobalPath
	}

	go w.run()
	return w, nil
}

// Log enqueues ev. It never blocks.
func (w *Writer) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- ev:
	default:
		w.logger.Warn("conversation log queue full, dropping event", "user_id", ev.UserID)
	}
}

// Close flushes queued events and stops the writer.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
	})
	<-w.done
	return nil
}

func (w *Writer) run() {
	defer close(w.done)
	for ev := range w.queue {
		line, err := json.Marshal(ev)
		if err != nil {
			w.logger.Warn("failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := appendLine(w.userPath(ev.UserID), line); err != nil {
			w.logger.Warn("failed to write conversation log", "user_id", ev.UserID, "error", err)
		}
		if w.globalPath != "" {
			if err := appendLine(w.globalPath, line); err != nil {
				w.logger.Warn("failed to write global conversation log", "error", err)
			}
		}
	}
}

func (w *Writer) userPath(userID string) string {
	return filepath.Join(w.dir, safeName(userID)+".ndjson")
}

// safeName keeps letters, digits, '-' and '_' so user IDs cannot escape dir.
func safeName(s string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return -1
	}, s)
	if name == "" {
		return "unknown"
	}
	return name
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Package transcript provides NDJSON conversation and audit logging.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event is one logged conversation or audit entry.
type Event struct {
	Timestamp  string         `json:"ts"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Logger appends events to per-session NDJSON files through a bounded async
// queue so logging never blocks the event-delivery path.
type Logger interface {
	Log(event Event)
	Close() error
}

type fileLogger struct {
	dir     string
	queue   chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	log     *slog.Logger
	mu      sync.Mutex
	files   map[string]*os.File
	closing bool
}

// NewLogger creates a transcript logger. When cfg.Enabled is false a no-op
// logger is returned.
func NewLogger(cfg Config, log *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &fileLogger{
		dir:   cfg.Dir,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
		log:   log,
		files: make(map[string]*os.File),
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Noop returns a logger that discards all events.
func Noop() Logger {
	return noop{}
}

type noop struct{}

func (noop) Log(Event)    {}
func (noop) Close() error { return nil }

// Log enqueues an event. If the queue is full the event is dropped with a
// warning; transcripts are best-effort and must not apply backpressure.
func (l *fileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = CleanForReadability(event.ContentRaw)
	}

	l.mu.Lock()
	closing := l.closing
	l.mu.Unlock()
	if closing {
		return
	}

	select {
	case l.queue <- event:
	default:
		l.log.Warn("transcript queue full, dropping event",
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

func (l *fileLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.queue:
			l.write(event)
		case <-l.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case event := <-l.queue:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *fileLogger) write(event Event) {
	sessionID := sanitizeFileComponent(event.SessionID)
	if sessionID == "" {
		sessionID = "default"
	}

	f, err := l.file(sessionID)
	if err != nil {
		l.log.Warn("failed to open transcript file", "session_id", sessionID, "error", err)
		return
	}

	line, err := json.Marshal(event)
	if err != nil {
		l.log.Warn("failed to marshal transcript event", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.log.Warn("failed to write transcript event", "session_id", sessionID, "error", err)
	}
}

func (l *fileLogger) file(sessionID string) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.files[sessionID]; ok {
		return f, nil
	}
	path := filepath.Join(l.dir, sessionID+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	l.files[sessionID] = f
	return f, nil
}

// Close stops the worker, drains the queue, and closes open files.
func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return nil
	}
	l.closing = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = make(map[string]*os.File)
	return firstErr
}

var (
	ansiPattern          = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	fileComponentPattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// CleanForReadability strips ANSI escape sequences and control characters so
// transcripts stay readable when terminal output is logged.
func CleanForReadability(raw string) string {
	clean := ansiPattern.ReplaceAllString(raw, "")
	clean = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, clean)
	return clean
}

func sanitizeFileComponent(s string) string {
	return fileComponentPattern.ReplaceAllString(s, "_")
}

package tui

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// LogLine is one captured log entry.
type LogLine struct {
	Level   string
	Message string
}

// LogHook is a logrus hook that forwards entries at Info and above to the
// login view. When the buffer is full the oldest line is dropped.
type LogHook struct {
	ch     chan LogLine
	mu     sync.Mutex
	closed bool
}

// NewLogHook creates a hook buffering up to bufSize lines.
func NewLogHook(bufSize int) *LogHook {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &LogHook{ch: make(chan LogLine, bufSize)}
}

// Levels returns the log levels this hook should fire on.
func (h *LogHook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel, log.InfoLevel}
}

// Fire is called by logrus when a log entry is fired.
func (h *LogHook) Fire(entry *log.Entry) error {
	line := LogLine{Level: entry.Level.String(), Message: entry.Message}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	select {
	case h.ch <- line:
	default:
		select {
		case <-h.ch:
		default:
		}
		select {
		case h.ch <- line:
		default:
		}
	}
	return nil
}

// Chan returns the channel to read log lines from.
func (h *LogHook) Chan() <-chan LogLine {
	return h.ch
}

// Close stops forwarding. Later entries are discarded.
func (h *LogHook) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.ch)
	}
}

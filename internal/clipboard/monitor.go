package clipboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	errorBackoff        = 2 * time.Second
)

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// System is the OS clipboard.
type System struct{}

func (System) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (System) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Supported reports whether a clipboard utility is available on this system.
func Supported() bool { return !clipboard.Unsupported }

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// Interval between polls, 500ms by default.
	Interval time.Duration
	// HistoryPath, when set, receives the history after every change.
	HistoryPath string
	// OnChange is called with each new entry.
	OnChange func(Entry)
}

// Monitor polls the clipboard and records new text in a History.
type Monitor struct {
	board   Clipboard
	history *History
	opts    MonitorOptions

	mu      sync.Mutex
	last    string
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a stopped monitor.
func NewMonitor(board Clipboard, history *History, opts MonitorOptions) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	return &Monitor{board: board, history: history, opts: opts}
}

// History returns the history the monitor writes to.
func (m *Monitor) History() *History { return m.history }

// Start begins polling in the background. Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	log.Info("clipboard: monitoring started")
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
	log.Info("clipboard: monitoring stopped")
}

// IsRunning reports whether the poll loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Run polls until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	m.Start(ctx)
	<-ctx.Done()
	m.Stop()
	return nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := m.poll(); err != nil {
			log.Debugf("clipboard: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
		}
	}
}

// poll records the clipboard content when it changed since the last poll.
func (m *Monitor) poll() error {
	content, err := m.board.ReadAll()
	if err != nil {
		return fmt.Errorf("read clipboard: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	m.mu.Lock()
	if content == m.last {
		m.mu.Unlock()
		return nil
	}
	m.last = content
	m.mu.Unlock()

	entry := NewEntry(content, false, "")
	m.history.Add(entry)
	log.Debugf("clipboard: content changed, %d chars", entry.CharCount)
	if m.opts.HistoryPath != "" {
		if errSave := m.history.Save(m.opts.HistoryPath); errSave != nil {
			log.Warnf("clipboard: %v", errSave)
		}
	}
	if m.opts.OnChange != nil {
		m.opts.OnChange(entry)
	}
	return nil
}

// Paste writes the history entry with id back to the clipboard. The monitor
// does not record it again as a new entry.
func (m *Monitor) Paste(id string) error {
	entry, ok := m.history.Get(id)
	if !ok {
		return fmt.Errorf("clipboard: no history entry %s", id)
	}
	m.mu.Lock()
	m.last = entry.Content
	m.mu.Unlock()
	if err := m.board.WriteAll(entry.Content); err != nil {
		return fmt.Errorf("clipboard: write: %w", err)
	}
	return nil
}

package clipboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/router-for-me/clipify/internal/util"
)

// DefaultMaxEntries bounds the history when nothing else is configured.
const DefaultMaxEntries = 10

// HistoryFile is the history file name inside the data directory.
const HistoryFile = "clipboard_history.json"

// History is a most-recent-first list of clipboard entries without duplicate content.
type History struct {
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

type historyFile struct {
	Entries    []Entry `json:"entries"`
	MaxEntries int     `json:"max_entries"`
}

// NewHistory creates an empty history holding at most maxEntries items.
func NewHistory(maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &History{maxEntries: maxEntries}
}

// MaxEntries returns the capacity.
func (h *History) MaxEntries() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxEntries
}

// SetMaxEntries changes the capacity, dropping the oldest entries beyond it.
func (h *History) SetMaxEntries(n int) {
	if n <= 0 {
		n = DefaultMaxEntries
	}
	h.mu.Lock()
	h.maxEntries = n
	h.truncateLocked()
	h.mu.Unlock()
}

// Add inserts entry at the front, removing older entries with the same content.
func (h *History) Add(entry Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.Content != entry.Content {
			kept = append(kept, e)
		}
	}
	h.entries = append([]Entry{entry}, kept...)
	h.truncateLocked()
}

func (h *History) truncateLocked() {
	if len(h.entries) > h.maxEntries {
		h.entries = h.entries[:h.maxEntries]
	}
}

// Remove deletes the entry with id and reports whether one was found.
func (h *History) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.ID == id {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the history.
func (h *History) Clear() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}

// Entries returns a copy of all entries, most recent first.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Entry(nil), h.entries...)
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Search returns entries matching query. An empty query returns everything.
func (h *History) Search(query string) []Entry {
	if query == "" {
		return h.Entries()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Entry
	for _, e := range h.entries {
		if e.MatchesSearch(query) {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the entry with id.
func (h *History) Get(id string) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Save writes the history as JSON to path.
func (h *History) Save(path string) error {
	h.mu.RLock()
	data, err := json.MarshalIndent(historyFile{Entries: h.entries, MaxEntries: h.maxEntries}, "", "  ")
	h.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("clipboard history: encode: %w", err)
	}
	if err = util.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("clipboard history: %w", err)
	}
	return nil
}

// LoadHistory reads a history file. A missing file yields an empty history
// with DefaultMaxEntries; a file without a capacity is repaired to it.
func LoadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewHistory(DefaultMaxEntries), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clipboard history: read: %w", err)
	}
	var file historyFile
	if err = json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("clipboard history: decode: %w", err)
	}
	h := NewHistory(file.MaxEntries)
	h.entries = file.Entries
	h.truncateLocked()
	return h, nil
}

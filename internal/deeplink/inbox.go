package deeplink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/router-for-me/clipify/internal/auth/clipify"
	log "github.com/sirupsen/logrus"
)

const inboxExt = ".url"

// unclaimedTTL is how long a link nobody claimed stays in the inbox.
const unclaimedTTL = clipify.AuthRequestTTL

// InboxSource delivers deep links dropped into a directory.
//
// The OS launches a second process for each custom-scheme URL; that process
// calls WriteInbox and exits, and whichever clipify process claims the link
// picks the file up through fsnotify. Each file is consumed (read and removed)
// at most once. Links this process does not claim stay in place for the
// process that owns them.
type InboxSource struct {
	dir   string
	claim ClaimFunc

	consumeMu sync.Mutex
}

// InboxOption customises an InboxSource.
type InboxOption func(*InboxSource)

// WithClaim restricts the source to links claim accepts.
func WithClaim(claim ClaimFunc) InboxOption {
	return func(s *InboxSource) { s.claim = claim }
}

// NewInboxSource creates a source watching dir.
func NewInboxSource(dir string, opts ...InboxOption) *InboxSource {
	s := &InboxSource{dir: filepath.Clean(dir)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the watched directory.
func (s *InboxSource) Dir() string { return s.dir }

// Subscribe starts watching the inbox. Links already waiting are delivered first.
func (s *InboxSource) Subscribe(ctx context.Context, deliver func(rawURL string)) (func(), error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("deeplink: create inbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("deeplink: create watcher: %w", err)
	}
	if err = watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("deeplink: watch inbox %s: %w", s.dir, err)
	}
	log.Debugf("deeplink: watching inbox %s", s.dir)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.drain(deliver)
		s.processEvents(ctx, watcher, deliver)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			_ = watcher.Close()
			<-done
		})
	}
	return stop, nil
}

func (s *InboxSource) processEvents(ctx context.Context, watcher *fsnotify.Watcher, deliver func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, inboxExt) {
				continue
			}
			s.consume(event.Name, deliver)
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("deeplink: inbox watcher error: %v", errWatch)
		}
	}
}

// drain delivers links that arrived before the watcher started, oldest first.
func (s *InboxSource) drain(deliver func(string)) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Warnf("deeplink: read inbox: %v", err)
		return
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), inboxExt) {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	for _, name := range names {
		s.consume(filepath.Join(s.dir, name), deliver)
	}
}

func (s *InboxSource) consume(path string, deliver func(string)) {
	if link, ok := s.take(path); ok && link != "" {
		deliver(link)
	}
}

// take reads and removes the file at path if this process claims its link.
func (s *InboxSource) take(path string) (string, bool) {
	s.consumeMu.Lock()
	defer s.consumeMu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("deeplink: read %s: %v", filepath.Base(path), err)
		}
		return "", false
	}
	link := strings.TrimSpace(string(data))
	if link != "" && s.claim != nil && !s.claim(link) {
		s.expireUnclaimed(path)
		return "", false
	}
	// A failed remove means another process took the file first.
	if err = os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("deeplink: consume %s: %v", filepath.Base(path), err)
		}
		return "", false
	}
	return link, true
}

func (s *InboxSource) expireUnclaimed(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) < unclaimedTTL {
		log.Debugf("deeplink: leaving %s for the process that owns it", filepath.Base(path))
		return
	}
	if err = os.Remove(path); err == nil {
		log.Infof("deeplink: discarded unclaimed link %s", filepath.Base(path))
	}
}

// WriteInbox drops rawURL into the inbox at dir for a running agent to pick up.
// The file appears atomically, named so that lexical order is arrival order.
func WriteInbox(dir, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("deeplink: empty url")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("deeplink: create inbox: %w", err)
	}
	name := fmt.Sprintf("%020d-%s%s", time.Now().UnixNano(), uuid.NewString(), inboxExt)
	tmp := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, []byte(rawURL), 0o600); err != nil {
		return "", fmt.Errorf("deeplink: write inbox file: %w", err)
	}
	final := filepath.Join(dir, name)
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("deeplink: publish inbox file: %w", err)
	}
	return final, nil
}

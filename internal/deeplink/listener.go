// Package deeplink receives custom-URI-scheme callbacks (clipify://auth/callback?...)
// and routes validated OAuth results to a handler.
package deeplink

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	log "github.com/sirupsen/logrus"
)

// ErrListenerInactive is returned by SimulateDeepLink when the listener has not been started.
var ErrListenerInactive = errors.New("deeplink: listener is not active")

// CallbackHandler receives the outcome of an OAuth callback deep link.
type CallbackHandler interface {
	OnAuthCallback(code, state string)
	OnError(err error)
}

// CallbackValidator turns a raw callback URL into a validated code.
type CallbackValidator interface {
	HandleCallback(raw string) (*clipify.CallbackResult, error)
}

// Source is an OS-level deep-link delivery channel. Subscribe starts delivering
// raw URLs to deliver until stop is called or ctx ends.
type Source interface {
	Subscribe(ctx context.Context, deliver func(rawURL string)) (stop func(), err error)
}

// Listener subscribes once to a Source and routes auth callbacks to a handler.
type Listener struct {
	source    Source
	validator CallbackValidator

	mu      sync.Mutex
	active  bool
	handler CallbackHandler
	stop    func()
	cancel  context.CancelFunc
}

// NewListener creates a listener. source may be nil, in which case only
// SimulateDeepLink delivers links.
func NewListener(source Source, validator CallbackValidator) *Listener {
	return &Listener{source: source, validator: validator}
}

// StartListening subscribes to the source and routes callbacks to handler.
// Calling it while already active is a no-op.
func (l *Listener) StartListening(handler CallbackHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		log.Warn("deeplink: listener already active")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	var stop func()
	if l.source != nil {
		var err error
		stop, err = l.source.Subscribe(ctx, l.deliver)
		if err != nil {
			cancel()
			return err
		}
	}

	l.handler = handler
	l.stop = stop
	l.cancel = cancel
	l.active = true
	log.Debug("deeplink: listener started")
	return nil
}

// StopListening tears the subscription down. Calling it while inactive is a no-op.
func (l *Listener) StopListening() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	stop, cancel := l.stop, l.cancel
	l.active = false
	l.handler = nil
	l.stop = nil
	l.cancel = nil
	l.mu.Unlock()

	cancel()
	if stop != nil {
		stop()
	}
	log.Debug("deeplink: listener stopped")
}

// IsActive reports whether the listener is subscribed.
func (l *Listener) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// SimulateDeepLink injects a deep link as if the OS had delivered it.
func (l *Listener) SimulateDeepLink(raw string) error {
	if !l.IsActive() {
		return ErrListenerInactive
	}
	l.deliver(raw)
	return nil
}

func (l *Listener) deliver(raw string) {
	raw = strings.TrimSpace(raw)

	l.mu.Lock()
	handler := l.handler
	active := l.active
	l.mu.Unlock()

	if !active || handler == nil {
		log.Debug("deeplink: dropping link received while inactive")
		return
	}
	if !IsAuthCallback(raw) {
		log.Debugf("deeplink: ignoring non-callback link %s", redact(raw))
		return
	}

	result, err := l.validator.HandleCallback(raw)
	if err != nil {
		handler.OnError(err)
		return
	}
	handler.OnAuthCallback(result.Code, result.State)
}

// IsAuthCallback reports whether raw has the form <scheme>://auth/callback[...].
func IsAuthCallback(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return false
	}
	return strings.EqualFold(u.Host, "auth") && strings.TrimRight(u.Path, "/") == "/callback"
}

func redact(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i] + "?..."
	}
	return raw
}

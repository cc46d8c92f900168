package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/router-for-me/clipify/internal/api"
	"github.com/router-for-me/clipify/internal/auth/clipify"
	"github.com/router-for-me/clipify/internal/browser"
	"github.com/router-for-me/clipify/internal/config"
	"github.com/router-for-me/clipify/internal/deeplink"
	"github.com/router-for-me/clipify/sdk/auth"
	log "github.com/sirupsen/logrus"
)

// app wires the authentication components for one command invocation.
type app struct {
	cfg     *config.Config
	dataDir string

	store    *auth.SecureTokenStore
	backend  auth.Backend
	flow     *clipify.OAuthFlow
	client   *clipify.BackendClient
	inbox    *deeplink.InboxSource
	claim    deeplink.ClaimFunc
	listener *deeplink.Listener
	session  *auth.Session
}

// newApp opens the configured token store and builds the session. The
// listener reads the deep-link inbox but is not started yet.
func newApp(ctx context.Context, opts *globalOptions, sink auth.EventSink) (*app, error) {
	cfg := opts.cfg
	store, backend, err := auth.OpenTokenStore(ctx, cfg, opts.resolvedDir)
	if err != nil {
		return nil, err
	}

	flow := clipify.NewOAuthFlow(cfg)
	// Processes share the inbox; each takes only the callbacks of its own login.
	claim := deeplink.ClaimPending(flow)
	inbox := deeplink.NewInboxSource(cfg.InboxDir(opts.resolvedDir), deeplink.WithClaim(claim))
	listener := deeplink.NewListener(inbox, flow)
	client := clipify.NewBackendClient(cfg)

	session, err := auth.NewSession(auth.SessionDeps{
		Flow:            flow,
		Client:          client,
		Store:           store,
		Listener:        listener,
		Launcher:        browser.NewLauncher(),
		Sink:            sink,
		RefreshInterval: cfg.RefreshInterval(),
		RefreshBuffer:   cfg.RefreshBuffer(),
	})
	if err != nil {
		closeBackend(backend)
		return nil, err
	}

	return &app{
		cfg:      cfg,
		dataDir:  opts.resolvedDir,
		store:    store,
		backend:  backend,
		flow:     flow,
		client:   client,
		inbox:    inbox,
		claim:    claim,
		listener: listener,
		session:  session,
	}, nil
}

// newBridge builds the loopback bridge. Callbacks for a login running in
// another process are handed to it through the inbox.
func (a *app) newBridge() *api.Server {
	return api.NewServer(a.cfg, a.listener, a.session, api.WithInboxHandoff(a.inbox.Dir(), a.claim))
}

// Close stops the listener and releases the token store backend.
func (a *app) Close() {
	a.listener.StopListening()
	closeBackend(a.backend)
}

func closeBackend(backend auth.Backend) {
	if closer, ok := backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warnf("token store: close: %v", err)
		}
	}
}

// consoleSink prints session events for the user.
type consoleSink struct {
	out io.Writer
}

func (s consoleSink) AuthSuccess(user clipify.UserProfile) {
	name := user.Email
	if name == "" {
		name = user.Name
	}
	fmt.Fprintf(s.out, "Signed in as %s\n", name)
}

func (s consoleSink) AuthError(err *clipify.AuthError) {
	if err.Kind == clipify.KindUserCancelled {
		return
	}
	fmt.Fprintf(s.out, "Authentication error: %s\n", err.Message)
}

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	log "github.com/sirupsen/logrus"
)

const refreshFlightKey = "refresh"

// errSessionEnded reports a refresh whose session was logged out while the
// backend call was in flight. Its result is discarded.
var errSessionEnded = errors.New("clipify auth: session ended during refresh")

// RefreshToken refreshes the current token and persists the result. It reports
// false on any failure; a failure the session cannot survive signs the user out.
// Concurrent callers share one backend round trip.
func (s *Session) RefreshToken(ctx context.Context) bool {
	record := s.currentRecord(ctx)
	if _, err := s.refresh(ctx); err != nil {
		if record != nil && !errors.Is(err, errSessionEnded) {
			s.handleRefreshFailure(ctx, record, err)
		}
		return false
	}
	return true
}

// Run drives the auto-refresh timer until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.deps.RefreshInterval)
	defer ticker.Stop()
	log.Debugf("clipify auth: auto-refresh every %s", s.deps.RefreshInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.checkAndRefresh(ctx)
		}
	}
}

// checkAndRefresh refreshes the session token once it is within RefreshBuffer of expiry.
func (s *Session) checkAndRefresh(ctx context.Context) {
	s.mu.Lock()
	record := s.record.Clone()
	authenticated := s.state.IsAuthenticated
	s.mu.Unlock()

	if !authenticated || record == nil {
		return
	}
	if s.deps.Now().Add(s.deps.RefreshBuffer).Before(record.ExpiryTime()) {
		return
	}
	log.Info("clipify auth: token nearing expiry, refreshing")
	if _, err := s.refresh(ctx); err != nil && !errors.Is(err, errSessionEnded) {
		s.handleRefreshFailure(ctx, record, err)
	}
}

func (s *Session) currentRecord(ctx context.Context) *clipify.TokenRecord {
	s.mu.Lock()
	record := s.record.Clone()
	s.mu.Unlock()
	if record != nil {
		return record
	}
	stored, err := s.deps.Store.Peek(ctx)
	if err != nil {
		return nil
	}
	return stored
}

func (s *Session) refresh(ctx context.Context) (*clipify.TokenRecord, error) {
	v, err, shared := s.refreshGroup.Do(refreshFlightKey, func() (any, error) {
		return s.doRefresh(ctx)
	})
	if shared {
		log.Debug("clipify auth: joined in-flight refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*clipify.TokenRecord).Clone(), nil
}

func (s *Session) doRefresh(ctx context.Context) (*clipify.TokenRecord, error) {
	current := s.currentRecord(ctx)
	if !current.HasRefreshToken() {
		err := clipify.NewAuthError(clipify.KindRefreshFailed, "No refresh token available", nil)
		s.update(func(st *SessionState) { st.Error = err })
		return nil, err
	}

	var previous SessionStatus
	s.genMu.Lock()
	generation := s.generation
	s.update(func(st *SessionState) {
		previous = st.Status
		if st.IsAuthenticated {
			st.Status = StatusRefreshing
		}
		st.IsLoading = true
	})
	s.genMu.Unlock()
	restore := func(err error) {
		authErr := classify(err)
		s.update(func(st *SessionState) {
			st.Status = previous
			st.IsLoading = false
			st.Error = authErr
		})
	}

	next, err := s.deps.Client.RefreshTokenWithRetry(ctx, current.RefreshToken, s.deps.RefreshRetries)

	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generation != generation {
		log.Info("clipify auth: signed out during refresh, discarding result")
		return nil, errSessionEnded
	}
	if err != nil {
		restore(err)
		return nil, err
	}
	if next.User.ID == "" && next.User.Email == "" {
		next.User = current.User
	}
	if err = s.deps.Store.StoreToken(ctx, next); err != nil {
		restore(err)
		return nil, err
	}
	s.setAuthenticated(next)
	log.Infof("clipify auth: token refreshed, expires %s", next.ExpiryTime().Format(time.RFC3339))
	return next, nil
}

// handleRefreshFailure keeps the session while a retryable failure leaves the
// token within its real expiry, and signs out otherwise.
func (s *Session) handleRefreshFailure(ctx context.Context, record *clipify.TokenRecord, err error) bool {
	authErr := classify(err)
	if clipify.IsRetryable(err) && s.deps.Now().Before(record.ExpiryTime()) {
		log.Warnf("clipify auth: refresh failed, keeping session until %s: %v",
			record.ExpiryTime().Format(time.RFC3339), err)
		s.mu.Lock()
		s.record = record.Clone()
		s.mu.Unlock()
		user := record.User
		s.update(func(st *SessionState) {
			st.Status = StatusAuthenticated
			st.IsAuthenticated = true
			st.IsLoading = false
			st.User = &user
			st.Error = authErr
		})
		return true
	}

	log.Warnf("clipify auth: refresh failed, signing out: %v", err)
	s.clearStored(ctx)
	s.fail(clipify.WrapAuthError(clipify.ErrTokenExpired, authErr))
	return false
}

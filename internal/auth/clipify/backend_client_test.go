package clipify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/router-for-me/clipify/internal/config"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) *BackendClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.APIBaseURL = srv.URL
	cfg.ConnectTimeout = 5
	return NewBackendClient(cfg,
		WithHTTPClient(srv.Client()),
		WithClientClock(func() time.Time { return fixedNow }),
		WithRetryBackoff(func(error, int) time.Duration { return time.Millisecond }),
	)
}

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("read body: %v", err)
		return nil
	}
	out := map[string]string{}
	if err = json.Unmarshal(raw, &out); err != nil {
		t.Errorf("decode body %q: %v", raw, err)
	}
	return out
}

func TestExchangeCodeForTokenSuccess(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/auth/desktop/exchange" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		body := decodeBody(t, r)
		if body["authCode"] != "abc123" || body["state"] != "s1" || body["codeVerifier"] != "v1" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"token":"at","refreshToken":"rt","expiresIn":3600,
			"user":{"id":"u1","email":"a@b.c","name":"Ann","plan":"free"}}`))
	})

	record, err := client.ExchangeCodeForToken(context.Background(), "abc123", "s1", "v1")
	if err != nil {
		t.Fatalf("ExchangeCodeForToken() error = %v", err)
	}
	want := &TokenRecord{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    fixedNow.Unix() + 3600,
		User:         UserProfile{ID: "u1", Email: "a@b.c", Name: "Ann", Plan: "free"},
	}
	if *record != *want {
		t.Fatalf("record = %+v, want %+v", record, want)
	}
}

func TestExchangeCodeForTokenOmitsEmptyVerifier(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if _, ok := decodeBody(t, r)["codeVerifier"]; ok {
			t.Error("codeVerifier should be omitted")
		}
		_, _ = w.Write([]byte(`{"token":"at","expiresIn":60,"user":{"id":"u"}}`))
	})
	if _, err := client.ExchangeCodeForToken(context.Background(), "c", "s", ""); err != nil {
		t.Fatalf("ExchangeCodeForToken() error = %v", err)
	}
}

func TestExchangeCodeForTokenServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"server_error"}`))
	})

	_, err := client.ExchangeCodeForToken(context.Background(), "c", "s", "v")
	authErr, ok := AsAuthError(err)
	if !ok {
		t.Fatalf("error = %v, want *AuthError", err)
	}
	if authErr.Message != "server_error" {
		t.Fatalf("message = %q, want server_error", authErr.Message)
	}
	if authErr.Kind != KindBackend || authErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("error = %+v", authErr)
	}
}

func TestErrorMessageExtraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		body string
		want string
	}{
		{body: `{"error":{"message":"nested"}}`, want: "nested"},
		{body: `{"message":"top","error":"code"}`, want: "top"},
		{body: `{"error":"invalid_grant","error_description":"expired code"}`, want: "expired code"},
		{body: `<html>bad gateway</html>`, want: "HTTP 502: <html>bad gateway</html>"},
		{body: `{"detail":1}`, want: `HTTP 502: {"detail":1}`},
	}
	for _, tt := range tests {
		if got := errorMessage(http.StatusBadGateway, []byte(tt.body)); got != tt.want {
			t.Errorf("errorMessage(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestExchangeClassifiesStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   ErrorKind
	}{
		{status: http.StatusBadRequest, want: KindExchangeFailed},
		{status: http.StatusUnauthorized, want: KindInvalidToken},
		{status: http.StatusServiceUnavailable, want: KindBackend},
	}
	for _, tt := range tests {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := client.ExchangeCodeForToken(context.Background(), "c", "s", "v")
		if KindOf(err) != tt.want {
			t.Errorf("status %d: kind = %q, want %q", tt.status, KindOf(err), tt.want)
		}
	}
}

func TestExchangeNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := config.Default()
	cfg.APIBaseURL = srv.URL
	srv.Close()

	client := NewBackendClient(cfg)
	_, err := client.ExchangeCodeForToken(context.Background(), "c", "s", "v")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("error = %v, want network error", err)
	}
}

func TestExchangeUsesJWTExpiryWhenExpiresInMissing(t *testing.T) {
	t.Parallel()

	exp := fixedNow.Add(2 * time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": signed, "user": map[string]string{"id": "u"}})
	})

	record, err := client.ExchangeCodeForToken(context.Background(), "c", "s", "v")
	if err != nil {
		t.Fatalf("ExchangeCodeForToken() error = %v", err)
	}
	if record.ExpiresAt != exp.Unix() {
		t.Fatalf("ExpiresAt = %d, want %d", record.ExpiresAt, exp.Unix())
	}
}

func TestExchangeRejectsUnsuccessfulBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"code already used"}`))
	})
	_, err := client.ExchangeCodeForToken(context.Background(), "c", "s", "v")
	authErr, ok := AsAuthError(err)
	if !ok || authErr.Kind != KindExchangeFailed || authErr.Message != "code already used" {
		t.Fatalf("error = %v", err)
	}
}

func TestRefreshTokenKeepsPriorRefreshToken(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/desktop/refresh" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if decodeBody(t, r)["refreshToken"] != "old-rt" {
			t.Error("refresh token not sent")
		}
		_, _ = w.Write([]byte(`{"success":true,"token":"new-at","expiresIn":600,"user":{"id":"u1"}}`))
	})

	record, err := client.RefreshToken(context.Background(), "old-rt")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if record.AccessToken != "new-at" || record.RefreshToken != "old-rt" || record.ExpiresAt != fixedNow.Unix()+600 {
		t.Fatalf("record = %+v", record)
	}
}

func TestRefreshTokenFailureIsRefreshFailed(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"refresh token revoked"}`))
	})

	_, err := client.RefreshToken(context.Background(), "rt")
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("error = %v, want refresh failed", err)
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("cause should stay reachable: %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("a rejected refresh token is not retryable")
	}

	if _, err = client.RefreshToken(context.Background(), " "); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("empty refresh token error = %v", err)
	}
}

func TestRefreshTokenWithRetryRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"token":"at2","expiresIn":600}`))
	})

	record, err := client.RefreshTokenWithRetry(context.Background(), "rt", 2)
	if err != nil {
		t.Fatalf("RefreshTokenWithRetry() error = %v", err)
	}
	if record.AccessToken != "at2" || calls.Load() != 2 {
		t.Fatalf("record = %+v calls = %d", record, calls.Load())
	}
}

func TestRefreshTokenWithRetryStopsOnPermanentFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	if _, err := client.RefreshTokenWithRetry(context.Background(), "rt", 3); err == nil {
		t.Fatal("expected failure")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestValidateTokenIsSoft(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" && r.Header.Get("Authorization") != "Bearer bad" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if decodeBody(t, r)["token"] == "good" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})

	if !client.ValidateToken(context.Background(), "good") {
		t.Fatal("good token rejected")
	}
	if client.ValidateToken(context.Background(), "bad") {
		t.Fatal("bad token accepted")
	}

	cfg := config.Default()
	cfg.APIBaseURL = "http://127.0.0.1:1"
	if NewBackendClient(cfg).ValidateToken(context.Background(), "good") {
		t.Fatal("unreachable backend must report false")
	}
}

func TestGetUserProfile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "wrapped", body: `{"user":{"id":"u1","email":"a@b.c","name":"Ann","plan":"pro"}}`},
		{name: "bare", body: `{"id":"u1","email":"a@b.c","name":"Ann","plan":"pro"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.Header.Get("Authorization") != "Bearer at" {
					t.Errorf("unexpected request %s %q", r.Method, r.Header.Get("Authorization"))
				}
				_, _ = w.Write([]byte(tt.body))
			})
			profile, err := client.GetUserProfile(context.Background(), "at")
			if err != nil {
				t.Fatalf("GetUserProfile() error = %v", err)
			}
			if *profile != (UserProfile{ID: "u1", Email: "a@b.c", Name: "Ann", Plan: "pro"}) {
				t.Fatalf("profile = %+v", profile)
			}
		})
	}
}

func TestGetUserProfileRaisesOnFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := client.GetUserProfile(context.Background(), "at"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("error = %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if !client.TestConnection(context.Background()) {
		t.Fatal("health probe should succeed")
	}

	down := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if down.TestConnection(context.Background()) {
		t.Fatal("503 should report false")
	}
}

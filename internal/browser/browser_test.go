package browser

import (
	"errors"
	"testing"
)

func TestLauncherOpenURL(t *testing.T) {
	t.Parallel()

	errPrimary := errors.New("no opener")
	errFallback := errors.New("no browser")

	cases := []struct {
		name         string
		url          string
		primary      error
		fallback     error
		wantErr      error
		wantFallback bool
		wantAnyErr   bool
	}{
		{name: "primary succeeds", url: "https://example.com/login"},
		{name: "falls back", url: "http://example.com", primary: errPrimary, wantFallback: true},
		{name: "both fail", url: "https://example.com", primary: errPrimary, fallback: errFallback, wantErr: errFallback, wantFallback: true},
		{name: "rejects custom scheme", url: "clipify://auth/callback", wantAnyErr: true},
		{name: "rejects file scheme", url: "file:///etc/passwd", wantAnyErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var opened, fellBack bool
			l := &Launcher{
				open:     func(string) error { opened = true; return tc.primary },
				fallback: func(string) error { fellBack = true; return tc.fallback },
			}
			err := l.OpenURL(tc.url)
			switch {
			case tc.wantAnyErr:
				if err == nil {
					t.Fatal("expected error")
				}
				if opened {
					t.Fatal("rejected url must not reach the opener")
				}
				return
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("OpenURL() error = %v, want %v", err, tc.wantErr)
				}
			case err != nil:
				t.Fatalf("OpenURL() error = %v", err)
			}
			if fellBack != tc.wantFallback {
				t.Fatalf("fallback used = %v, want %v", fellBack, tc.wantFallback)
			}
		})
	}
}

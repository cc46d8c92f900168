// Package browser opens the sign-in page in the user's default web browser.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// Launcher opens http(s) URLs, first through open-golang and then through
// platform commands.
type Launcher struct {
	open     func(string) error
	fallback func(string) error
}

// NewLauncher returns a launcher using the system browser.
func NewLauncher() *Launcher {
	return &Launcher{open: open.Run, fallback: openURLPlatformSpecific}
}

// OpenURL opens rawURL in the default browser. Only http and https URLs are accepted.
func (l *Launcher) OpenURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("browser: invalid url: %w", err)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return fmt.Errorf("browser: refusing to open %q url", u.Scheme)
	}

	errOpen := l.open(rawURL)
	if errOpen == nil {
		log.Debug("browser: opened url with open-golang")
		return nil
	}
	log.Debugf("browser: open-golang failed: %v, trying platform-specific commands", errOpen)
	if l.fallback == nil {
		return errOpen
	}
	return l.fallback(rawURL)
}

func openURLPlatformSpecific(rawURL string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL)
	case "linux":
		if name := firstAvailable(linuxBrowsers); name != "" {
			cmd = exec.Command(name, rawURL)
		}
		if cmd == nil {
			return fmt.Errorf("browser: no suitable browser found")
		}
	default:
		return fmt.Errorf("browser: unsupported operating system: %s", runtime.GOOS)
	}

	log.Debugf("browser: running %s", cmd.Path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: start command: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func firstAvailable(candidates []string) string {
	for _, name := range candidates {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return ""
}

// IsAvailable reports whether a browser command exists on this system. It never opens anything.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		return firstAvailable(linuxBrowsers) != ""
	default:
		return false
	}
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/router-for-me/clipify/internal/auth/clipify"
	"github.com/router-for-me/clipify/sdk/auth"
)

// RenderStatus formats the session state and the stored token for `clipify status`.
// record may be nil.
func RenderStatus(state auth.SessionState, record *clipify.TokenRecord, now time.Time) string {
	rows := [][2]string{{"Status", statusLabel(state)}}

	if state.User != nil {
		rows = append(rows, [2]string{"User", displayName(state.User)})
		if state.User.Plan != "" {
			rows = append(rows, [2]string{"Plan", state.User.Plan})
		}
	}
	if record != nil {
		rows = append(rows, [2]string{"Expires", expiryLabel(record, now)})
		refresh := "no"
		if record.HasRefreshToken() {
			refresh = "yes"
		}
		rows = append(rows, [2]string{"Refreshable", refresh})
	}
	if state.Error != nil {
		rows = append(rows, [2]string{"Last error", errorStyle.Render(state.Error.Message)})
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render(row[0]), valueStyle.Render(row[1])))
	}
	body := titleStyle.Render("Clipify") + "\n" + strings.Join(lines, "\n")
	return sectionStyle.Render(body)
}

func statusLabel(state auth.SessionState) string {
	switch state.Status {
	case auth.StatusAuthenticated:
		return successStyle.Render("signed in")
	case auth.StatusRefreshing:
		return warningStyle.Render("refreshing")
	case auth.StatusAuthenticating:
		return warningStyle.Render("signing in")
	default:
		return helpStyle.Render("signed out")
	}
}

func expiryLabel(record *clipify.TokenRecord, now time.Time) string {
	expiry := record.ExpiryTime()
	stamp := expiry.Local().Format("2006-01-02 15:04")
	left := expiry.Sub(now)
	switch {
	case left <= 0:
		return errorStyle.Render(stamp + " (expired)")
	case record.ExpiredAt(now):
		return warningStyle.Render(fmt.Sprintf("%s (in %s, refresh due)", stamp, left.Truncate(time.Second)))
	default:
		return fmt.Sprintf("%s (in %s)", stamp, left.Truncate(time.Minute))
	}
}

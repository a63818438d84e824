// Package alerting delivers fraud alerts to notification channels.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"fraudwatch/pkg/models"
)

type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert models.Alert) error
}

// FormatAlert renders alert as plain text for chat channels.
func FormatAlert(alert models.Alert) string {
	var b strings.Builder
	b.WriteString("FRAUD ALERT")
	if alert.Critical {
		b.WriteString(" (critical)")
	}
	fmt.Fprintf(&b, "\nChat: %s\nUser: %s\nRules: %s\nSeverity: %d",
		alert.ChatID, userLabel(alert), strings.Join(alert.MatchedRules, ", "), alert.Severity)
	if alert.Excerpt != "" {
		fmt.Fprintf(&b, "\nExcerpt: %s", alert.Excerpt)
	}
	return b.String()
}

func userLabel(alert models.Alert) string {
	if alert.Username != "" {
		return alert.Username
	}
	if alert.UserID != "" {
		return alert.UserID
	}
	return "unknown"
}

// Excerpt truncates content to at most n runes, marking the cut with "...".
func Excerpt(content string, n int) string {
	if n <= 0 || utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)
	return string(runes[:n]) + "..."
}

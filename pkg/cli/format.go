// Package cli provides output helpers for the netsyncd command line.
package cli

import (
	"os"
	"time"
)

// colorEnabled is false when NO_COLOR is set (per no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return paint("32", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return paint("33", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return paint("31", s) }

// Dim wraps s in ANSI dim.
func Dim(s string) string { return paint("2", s) }

// Level colors a health level or warm-restart state for display.
func Level(s string) string {
	switch s {
	case "healthy", "InitialSyncComplete", "up":
		return Green(s)
	case "degraded", "InitialSyncInProgress", "WarmStart":
		return Yellow(s)
	case "unhealthy", "down":
		return Red(s)
	default:
		return s
	}
}

// Timestamp formats t for tables. The zero time prints as a dimmed dash.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return Dim("-")
	}
	return t.Local().Format(time.RFC3339)
}

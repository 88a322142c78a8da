// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatPrice formats a price with two decimals, "-" when not positive.
func FormatPrice(price float64) string {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return "-"
	}
	return strconv.FormatFloat(price, 'f', 2, 64)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatChange returns the signed percentage move from base to value.
func FormatChange(base, value float64) string {
	if base == 0 {
		return "-"
	}
	return FormatPercent((value - base) / base * 100)
}

// FormatRatio formats a dimensionless ratio with three decimals.
func FormatRatio(r float64) string {
	return strconv.FormatFloat(r, 'f', 3, 64)
}

// FormatThousands groups the digits of n in threes.
func FormatThousands(n int64) string {
	negative := n < 0
	if negative {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if negative {
		return "-" + b.String()
	}
	return b.String()
}

// FormatVolume formats volume compactly (K, M, B).
func FormatVolume(volume int64) string {
	v := float64(volume)
	switch {
	case volume >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", v/1e9)
	case volume >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1e6)
	case volume >= 10_000:
		return fmt.Sprintf("%.1fK", v/1e3)
	}
	return FormatThousands(volume)
}

// FormatDate formats a bar date, "-" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// TruncateString truncates s to maxLen runes, marking the cut with "...".
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

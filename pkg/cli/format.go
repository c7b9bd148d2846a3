package cli

import "fmt"

// FormatDuration renders a millisecond count for humans: "640ms",
// "12.5s", "2m5.5s".
func FormatDuration(ms int) string {
	switch {
	case ms < 1000:
		return fmt.Sprintf("%dms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	default:
		mins := ms / 60_000
		rest := float64(ms%60_000) / 1000
		return fmt.Sprintf("%dm%.1fs", mins, rest)
	}
}

// FormatBytes renders a byte count with a binary-unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	val, suffix := float64(n), ""
	for _, s := range []string{"KB", "MB", "GB"} {
		val /= unit
		suffix = s
		if val < unit {
			break
		}
	}
	return fmt.Sprintf("%.2f %s", val, suffix)
}

// FormatBytesInt is FormatBytes for int counts.
func FormatBytesInt(n int) string {
	return FormatBytes(int64(n))
}

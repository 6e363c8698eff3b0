package utils

import "fmt"

// FormatVoiceTime formats seconds as "Xh Ym"
func FormatVoiceTime(totalSeconds int64) string {
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	return fmt.Sprintf("%dh %dm", h, m)
}

// FormatHours formats seconds as whole hours, e.g. "20h"
func FormatHours(totalSeconds int64) string {
	return fmt.Sprintf("%dh", totalSeconds/3600)
}

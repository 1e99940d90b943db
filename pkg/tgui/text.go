package tgui

import "errors"

// Telegram Bot API limits.
const (
	MaxTextLen         = 4096 // characters per message
	MaxCallbackDataLen = 64   // bytes of callback_data
)

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// TruncRunes keeps the first n runes of s and marks a cut with "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i] + "…"
		}
		seen++
	}
	return s
}

package tgui

import "castbot/internal/transport"

// ConfirmInline builds a two-button keyboard on a single row.
func ConfirmInline(first, second transport.Button) *Inline {
	return NewInline().Row(first, second)
}

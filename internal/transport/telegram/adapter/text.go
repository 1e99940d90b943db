package adapter

import (
	"strings"

	"castbot/pkg/tgui"
)

const textLimit = tgui.MaxTextLen

// fitText shortens text to the API limit. In HTML mode a tag cut in half
// is dropped so the result still parses.
func fitText(s string, parseMode string) string {
	out := tgui.TruncRunes(s, textLimit-1)
	if out == s || !strings.EqualFold(parseMode, "HTML") {
		return out
	}
	body := strings.TrimSuffix(out, "…")
	if open, closing := strings.LastIndexByte(body, '<'), strings.LastIndexByte(body, '>'); open > closing {
		body = body[:open]
	}
	return body + "…"
}

package tgui

import "castbot/internal/transport"

// Inline is a small builder for inline keyboards.
type Inline struct {
	rows transport.Keyboard
}

func NewInline() *Inline {
	return &Inline{}
}

// Row appends a new row of buttons. Empty rows are skipped.
func (i *Inline) Row(btn ...transport.Button) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, append([]transport.Button(nil), btn...))
	return i
}

// Keyboard returns the rows built so far.
func (i *Inline) Keyboard() transport.Keyboard {
	if i == nil {
		return nil
	}
	return i.rows
}

// Btn creates a callback button with raw callback data.
func Btn(text, data string) transport.Button {
	return transport.Button{Text: text, Data: data}
}

// Grid splits buttons into rows of cols.
func Grid(cols int, buttons []transport.Button) *Inline {
	if cols <= 0 {
		cols = 1
	}
	in := NewInline()
	for start := 0; start < len(buttons); start += cols {
		end := start + cols
		if end > len(buttons) {
			end = len(buttons)
		}
		in.Row(buttons[start:end]...)
	}
	return in
}

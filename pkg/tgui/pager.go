package tgui

import "fmt"

// Page is one window over a list.
type Page[T any] struct {
	Items   []T
	Offset  int // index of Items[0] in the full list
	Size    int
	Total   int
	HasPrev bool
	HasNext bool
}

// PaginateOffset returns the page starting at offset. Offsets past the end
// snap back to the last page. size must be > 0.
func PaginateOffset[T any](items []T, offset, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	if offset < 0 {
		offset = 0
	}
	if offset >= total && total > 0 {
		offset = ((total - 1) / size) * size
	}
	if total == 0 {
		offset = 0
	}
	end := offset + size
	if end > total {
		end = total
	}
	return Page[T]{
		Items:   items[offset:end],
		Offset:  offset,
		Size:    size,
		Total:   total,
		HasPrev: offset > 0,
		HasNext: end < total,
	}
}

// PrevOffset is the offset of the previous page, never negative.
func (p Page[T]) PrevOffset() int {
	if p.Offset-p.Size < 0 {
		return 0
	}
	return p.Offset - p.Size
}

func (p Page[T]) NextOffset() int { return p.Offset + p.Size }

// Label returns a compact pagination label.
func (p Page[T]) Label() string {
	if p.Total <= 0 {
		return "Страница 1/1"
	}
	pages := (p.Total + p.Size - 1) / p.Size
	return fmt.Sprintf("Страница %d/%d • %d–%d из %d", p.Offset/p.Size+1, pages, p.Offset+1, p.Offset+len(p.Items), p.Total)
}

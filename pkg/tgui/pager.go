package tgui

import (
	"fmt"
	"strconv"

	kit "sigrelay/internal/transport"
)

// NoopData is callback data for buttons that only display state.
const NoopData = "noop"

// Page is one 1-based window over a list.
type Page[T any] struct {
	Items  []T
	Number int
	Pages  int
	// From is the 0-based index of Items[0] in the full list.
	From int
}

// Paginate returns page number (1-based) of items. ok is false when the
// list is empty or number is out of range.
func Paginate[T any](items []T, number, size int) (p Page[T], ok bool) {
	if size <= 0 {
		size = 10
	}
	pages := (len(items) + size - 1) / size
	if number < 1 || number > pages {
		return Page[T]{Number: number, Pages: pages}, false
	}
	from := (number - 1) * size
	to := min(from+size, len(items))
	return Page[T]{Items: items[from:to], Number: number, Pages: pages, From: from}, true
}

// Label renders "Page x/y".
func (p Page[T]) Label() string { return fmt.Sprintf("Page %d/%d", p.Number, p.Pages) }

// NavRow builds a Back / label / Next row whose buttons carry
// "<prefix>:<page>". A single page needs no keyboard and yields nil.
func (p Page[T]) NavRow(prefix string) []kit.Button {
	if p.Pages <= 1 {
		return nil
	}
	var row []kit.Button
	if p.Number > 1 {
		row = append(row, kit.Button{Text: "⬅️ Back", Data: prefix + ":" + strconv.Itoa(p.Number-1)})
	}
	row = append(row, kit.Button{Text: p.Label(), Data: NoopData})
	if p.Number < p.Pages {
		row = append(row, kit.Button{Text: "Next ➡️", Data: prefix + ":" + strconv.Itoa(p.Number+1)})
	}
	return row
}

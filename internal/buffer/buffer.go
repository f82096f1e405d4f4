// Package buffer holds captured entries newest first under a fixed cap and
// projects them through the active filter.
package buffer

import "apimon/internal/types"

// MaxItems is the default number of entries kept.
const MaxItems = 200

// Buffer is a newest-first list of entries that evicts the oldest entries
// once its cap is exceeded. It is not safe for concurrent use.
type Buffer struct {
	items   []types.Entry
	max     int
	version uint64
}

// New returns an empty buffer holding at most max entries. A non-positive max
// selects MaxItems.
func New(max int) *Buffer {
	if max <= 0 {
		max = MaxItems
	}
	return &Buffer{max: max}
}

// Insert prepends e and drops tail entries beyond the cap. It returns the
// number of evicted entries.
func (b *Buffer) Insert(e types.Entry) int {
	next := make([]types.Entry, 0, min(len(b.items)+1, b.max))
	next = append(next, e)
	next = append(next, b.items...)
	evicted := 0
	if len(next) > b.max {
		evicted = len(next) - b.max
		next = next[:b.max]
	}
	b.items = next
	b.version++
	return evicted
}

// Reset replaces the content with items, already ordered newest first.
func (b *Buffer) Reset(items []types.Entry) {
	if len(items) > b.max {
		items = items[:b.max]
	}
	b.items = append([]types.Entry(nil), items...)
	b.version++
}

// Clear removes every entry.
func (b *Buffer) Clear() {
	b.items = nil
	b.version++
}

// Items returns a copy of the entries, newest first.
func (b *Buffer) Items() []types.Entry {
	out := make([]types.Entry, len(b.items))
	copy(out, b.items)
	return out
}

// Find returns the entry with the given id.
func (b *Buffer) Find(id string) (types.Entry, bool) {
	for _, e := range b.items {
		if e.ID == id {
			return e, true
		}
	}
	return types.Entry{}, false
}

func (b *Buffer) Len() int { return len(b.items) }

func (b *Buffer) Cap() int { return b.max }

// Version changes on every mutation.
func (b *Buffer) Version() uint64 { return b.version }

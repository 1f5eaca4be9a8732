// Package queue implements the ordered party queue with a "now playing"
// cursor. The engine is purely structural: it never touches vote sets or
// member data.
package queue

import (
	"fmt"
	"sync"

	"github.com/partyplay/partyplay/internal/party"
)

// Engine is an ordered sequence of queue items plus a cursor denoting the
// item currently playing. All mutations are serialized behind one mutex;
// the cursor arithmetic depends on a stable snapshot between read and
// write, so at most one structural mutation is in flight at a time.
type Engine struct {
	mu     sync.Mutex
	items  []*party.QueueItem
	cursor int // index into items, -1 when unset
}

// New returns an empty engine with no cursor.
func New() *Engine {
	return &Engine{cursor: -1}
}

// Append pushes an item to the end. The first item to arrive becomes the
// current one.
func (e *Engine) Append(item *party.QueueItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendLocked(item)
}

func (e *Engine) appendLocked(item *party.QueueItem) {
	e.items = append(e.items, item)
	if e.cursor < 0 {
		e.cursor = 0
	}
}

// Remove deletes the item with the given ID and returns it. A removal
// before the cursor pulls the cursor back one; removing the current item
// leaves the cursor at the same numeric position, which now denotes what
// used to be next, clamped into bounds or unset when the list empties.
func (e *Engine) Remove(id string) (*party.QueueItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(id)
}

func (e *Engine) removeLocked(id string) (*party.QueueItem, bool) {
	idx := e.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	item := e.items[idx]
	e.items = append(e.items[:idx], e.items[idx+1:]...)

	switch {
	case len(e.items) == 0:
		e.cursor = -1
	case idx < e.cursor:
		e.cursor--
	case idx == e.cursor && e.cursor > len(e.items)-1:
		e.cursor = len(e.items) - 1
	}
	return item, true
}

// MoveToEnd removes the item and re-appends it. Cursor adjustment follows
// the removal rule, since the removal step is shared.
func (e *Engine) MoveToEnd(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.removeLocked(id)
	if !ok {
		return false
	}
	e.appendLocked(item)
	return true
}

// MoveBehindCurrent relocates the item to the position immediately after
// the cursor. Moving the current item is a no-op. With no cursor the item
// moves to the front and becomes current.
func (e *Engine) MoveBehindCurrent(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexLocked(id)
	if idx < 0 {
		return false
	}
	if idx == e.cursor {
		return true
	}
	item, _ := e.removeLocked(id)

	pos := 0
	if e.cursor >= 0 {
		pos = e.cursor + 1
	}
	if pos > len(e.items) {
		pos = len(e.items)
	}
	e.items = append(e.items, nil)
	copy(e.items[pos+1:], e.items[pos:])
	e.items[pos] = item
	if e.cursor < 0 {
		e.cursor = 0
	}
	return true
}

// Advance moves the cursor to the next index. It returns false at the end
// of the queue; the caller decides what end-of-queue means.
func (e *Engine) Advance() (*party.QueueItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor < 0 || e.cursor+1 >= len(e.items) {
		return nil, false
	}
	e.cursor++
	return e.items[e.cursor], true
}

// Current returns the item under the cursor.
func (e *Engine) Current() (*party.QueueItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor < 0 || e.cursor >= len(e.items) {
		return nil, false
	}
	return e.items[e.cursor], true
}

// NextUp returns the item immediately after the cursor.
func (e *Engine) NextUp() (*party.QueueItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor < 0 || e.cursor+1 >= len(e.items) {
		return nil, false
	}
	return e.items[e.cursor+1], true
}

// SetCursorTo points the cursor at the item with the given ID. Used when
// the playback engine reports a track change that did not come from
// Advance.
func (e *Engine) SetCursorTo(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexLocked(id)
	if idx < 0 {
		return false
	}
	e.cursor = idx
	return true
}

// IsPlayed reports whether the item lies before the cursor.
func (e *Engine) IsPlayed(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexLocked(id)
	return idx >= 0 && e.cursor >= 0 && idx < e.cursor
}

// Items returns a copy of the item slice in queue order.
func (e *Engine) Items() []*party.QueueItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*party.QueueItem, len(e.items))
	copy(out, e.items)
	return out
}

// Len returns the number of items.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

// CursorIndex returns the current cursor index, -1 when unset.
func (e *Engine) CursorIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// IndexOf returns the absolute index of the item, -1 when absent.
func (e *Engine) IndexOf(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexLocked(id)
}

func (e *Engine) indexLocked(id string) int {
	for i, it := range e.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// ReorderUpcoming moves the items at sourceOffsets to destOffset. Offsets
// are relative to the position just after the cursor (or the whole list
// when no cursor exists). The current item cannot be selected.
func (e *Engine) ReorderUpcoming(sourceOffsets []int, destOffset int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := 0
	if e.cursor >= 0 {
		base = e.cursor + 1
	}
	upcoming := len(e.items) - base

	abs := make([]int, 0, len(sourceOffsets))
	seen := make(map[int]bool, len(sourceOffsets))
	for _, off := range sourceOffsets {
		if off < 0 || off >= upcoming {
			return fmt.Errorf("source offset %d outside upcoming region (0..%d)", off, upcoming-1)
		}
		idx := base + off
		if idx == e.cursor {
			return fmt.Errorf("cannot move the current item")
		}
		if seen[idx] {
			return fmt.Errorf("duplicate source offset %d", off)
		}
		seen[idx] = true
		abs = append(abs, idx)
	}
	if len(abs) == 0 {
		return nil
	}

	// Collect moved items in the order given, then remove from the end so
	// earlier indices stay valid.
	moved := make([]*party.QueueItem, len(abs))
	for i, idx := range abs {
		moved[i] = e.items[idx]
	}
	desc := append([]int(nil), abs...)
	for i := 0; i < len(desc); i++ {
		for j := i + 1; j < len(desc); j++ {
			if desc[j] > desc[i] {
				desc[i], desc[j] = desc[j], desc[i]
			}
		}
	}
	for _, idx := range desc {
		e.items = append(e.items[:idx], e.items[idx+1:]...)
	}

	// Destination shifts down by one for every removal that preceded it.
	dest := base + destOffset
	for _, idx := range abs {
		if idx < dest {
			dest--
		}
	}
	if dest < base {
		dest = base
	}
	if dest > len(e.items) {
		dest = len(e.items)
	}

	tail := append([]*party.QueueItem(nil), e.items[dest:]...)
	e.items = append(e.items[:dest], append(moved, tail...)...)
	return nil
}

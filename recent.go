package stoat

import "sync"

// DefaultRecentBufferSize is the number of events kept in memory by default.
const DefaultRecentBufferSize = 1000

// recentBuffer is a fixed-size ring of the most recently appended events.
type recentBuffer struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

func newRecentBuffer(size int) *recentBuffer {
	if size < 0 {
		size = 0
	}
	return &recentBuffer{events: make([]Event, size)}
}

func (b *recentBuffer) add(events ...Event) {
	if len(b.events) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range events {
		b.events[b.next] = e
		b.next = (b.next + 1) % len(b.events)
		if b.next == 0 {
			b.full = true
		}
	}
}

// newest returns up to limit events, newest first. limit <= 0 returns all.
func (b *recentBuffer) newest(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.next
	if b.full {
		count = len(b.events)
	}
	if limit > 0 && limit < count {
		count = limit
	}

	out := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		idx := (b.next - 1 - i + len(b.events)) % len(b.events)
		out = append(out, b.events[idx])
	}
	return out
}

package api

import (
	"sync"

	"github.com/rawblock/botwall-engine/internal/escalate"
)

// RecentBuffer is an in-memory ring of the latest detection events. It
// backs /api/v1/detections/recent when no database is configured, and
// keeps the endpoint fast when one is.
type RecentBuffer struct {
	mu     sync.Mutex
	events []escalate.Event
	next   int
	filled bool
}

// NewRecentBuffer allocates a ring holding the last `size` events
// (0 selects 256).
func NewRecentBuffer(size int) *RecentBuffer {
	if size <= 0 {
		size = 256
	}
	return &RecentBuffer{events: make([]escalate.Event, size)}
}

// Name implements escalate.Subscriber.
func (b *RecentBuffer) Name() string { return "recent-buffer" }

// Handle implements escalate.Subscriber.
func (b *RecentBuffer) Handle(ev escalate.Event) {
	b.mu.Lock()
	b.events[b.next] = ev
	b.next++
	if b.next == len(b.events) {
		b.next = 0
		b.filled = true
	}
	b.mu.Unlock()
}

// Snapshot returns up to limit events, newest first.
func (b *RecentBuffer) Snapshot(limit int) []escalate.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.next
	if b.filled {
		n = len(b.events)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]escalate.Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (b.next - 1 - i + len(b.events)) % len(b.events)
		out = append(out, b.events[idx])
	}
	return out
}

package monitor

import "sync"

// DefaultHistorySize is the number of recent turns replayed to new subscribers.
const DefaultHistorySize = 100

// History is a fixed-size ring of recent events. When full, the oldest
// event is overwritten.
type History struct {
	mu   sync.RWMutex
	buf  []Event
	size int
	head int // next write position
	full bool
}

// NewHistory creates a ring holding at most size events.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		buf:  make([]Event, size),
		size: size,
	}
}

// Add appends ev, evicting the oldest event when full.
func (h *History) Add(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.head] = ev
	h.head = (h.head + 1) % h.size
	if h.head == 0 {
		h.full = true
	}
}

// Events returns stored events oldest first. A non-empty userID keeps only
// that user's events.
func (h *History) Events(userID string) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start, n := 0, h.head
	if h.full {
		start, n = h.head, h.size
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := h.buf[(start+i)%h.size]
		if userID != "" && ev.UserID != userID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Len returns the number of stored events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return h.size
	}
	return h.head
}

// Reset clears the ring.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buf)
	h.head = 0
	h.full = false
}

// Capacity returns the maximum number of stored events.
func (h *History) Capacity() int {
	return h.size
}

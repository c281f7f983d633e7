package chat

// DefaultHistoryLimit is the number of envelopes replayed to a joining session.
const DefaultHistoryLimit = 20

// History is a bounded FIFO of recently broadcast envelopes. It is not safe
// for concurrent use; the Manager serializes access to it.
type History struct {
	limit   int
	entries []Envelope
}

// NewHistory returns an empty history holding at most limit entries.
// A non-positive limit falls back to DefaultHistoryLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		limit:   limit,
		entries: make([]Envelope, 0, limit),
	}
}

// Append adds env at the tail, evicting from the head once the limit is exceeded.
func (h *History) Append(env Envelope) {
	h.entries = append(h.entries, env)
	if over := len(h.entries) - h.limit; over > 0 {
		n := copy(h.entries, h.entries[over:])
		clear(h.entries[n:])
		h.entries = h.entries[:n]
	}
}

// Snapshot returns a copy of the buffered envelopes, oldest first. Later
// appends never change a returned snapshot.
func (h *History) Snapshot() []Envelope {
	out := make([]Envelope, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of buffered envelopes.
func (h *History) Len() int {
	return len(h.entries)
}

// Limit returns the capacity of the buffer.
func (h *History) Limit() int {
	return h.limit
}

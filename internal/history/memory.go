package history

import (
	"context"
	"sync"
	"time"
)

const defaultMemorySize = 1000

// Memory is a bounded ring of records. The oldest record is overwritten when full.
type Memory struct {
	mu     sync.Mutex
	buf    []Record
	next   int
	full   bool
	closed bool
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = defaultMemorySize
	}
	return &Memory{buf: make([]Record, size)}
}

func (m *Memory) Append(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.buf[m.next] = r
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, link string, n int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	count := m.next
	if m.full {
		count = len(m.buf)
	}
	out := make([]Record, 0, min(max(n, 0), count))
	for i := 0; i < count && len(out) < n; i++ {
		idx := (m.next - 1 - i + len(m.buf)) % len(m.buf)
		if r := m.buf[idx]; link == "" || r.Link == link {
			out = append(out, r)
		}
	}
	return out, nil
}

// Prune compacts the ring, keeping records started at or after cutoff.
func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	count := m.next
	start := 0
	if m.full {
		count = len(m.buf)
		start = m.next
	}
	kept := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		r := m.buf[(start+i)%len(m.buf)]
		if !r.Started.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	dropped := int64(count - len(kept))
	if dropped == 0 {
		return 0, nil
	}
	clear(m.buf)
	copy(m.buf, kept)
	m.next = len(kept) % len(m.buf)
	m.full = len(kept) == len(m.buf)
	return dropped, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

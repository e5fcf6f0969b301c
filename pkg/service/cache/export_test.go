package cache

import "time"

// WithClockForTest replaces the clock used for expiry
func WithClockForTest(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

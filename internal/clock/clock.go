package clock

import "time"

// Clock abstracts time for policy checks and bucket refills so tests can
// inject a fixed instant.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed is a test clock pinned to an instant that can be advanced.
type Fixed struct {
	Instant time.Time
}

func (f *Fixed) Now() time.Time { return f.Instant }

func (f *Fixed) Advance(d time.Duration) { f.Instant = f.Instant.Add(d) }

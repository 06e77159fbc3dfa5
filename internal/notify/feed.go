// internal/notify/feed.go
package notify

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 5 * time.Second

// Feed keeps notifications in memory until they expire.
type Feed struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items []Notification
}

// NewFeed creates a feed; a non-positive ttl means DefaultTTL.
func NewFeed(ttl time.Duration) *Feed {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Feed{ttl: ttl, now: time.Now}
}

func (f *Feed) Publish(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.now().UTC()
	}
	f.items = append(f.items, n)
	return nil
}

// Active returns unexpired notifications, oldest first. A memberID of 0
// returns every notification; otherwise that member's plus the global ones.
func (f *Feed) Active(memberID int64) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pruneLocked()
	out := make([]Notification, 0, len(f.items))
	for _, n := range f.items {
		if memberID == 0 || n.MemberID == 0 || n.MemberID == memberID {
			out = append(out, n)
		}
	}
	return out
}

// Prune drops expired notifications and returns how many were removed.
func (f *Feed) Prune() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pruneLocked()
}

// Run prunes on every interval until ctx is done.
func (f *Feed) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Prune()
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *Feed) pruneLocked() int {
	cutoff := f.now().Add(-f.ttl)
	kept := f.items[:0]
	for _, n := range f.items {
		if n.CreatedAt.After(cutoff) {
			kept = append(kept, n)
		}
	}
	removed := len(f.items) - len(kept)
	f.items = kept
	return removed
}

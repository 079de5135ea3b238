package risk

import (
	"context"
	"sync"
)

// LatchStore persists tripped drawdown latches across restarts.
// Entries map profile name to the trading day the latch was tripped on.
type LatchStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, profile, day string) error
	Clear(ctx context.Context, profile string) error
}

// Latch records profiles that hit their daily drawdown limit.
// A tripped profile stays tripped for that day until Reset.
type Latch struct {
	mu      sync.RWMutex
	tripped map[ProfileName]string
}

// NewLatch creates an empty latch.
func NewLatch() *Latch {
	return &Latch{tripped: make(map[ProfileName]string)}
}

// Tripped reports whether the profile is latched for day.
func (l *Latch) Tripped(profile ProfileName, day string) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.tripped[profile]
	return ok && d == day
}

// Trip latches the profile for day and reports whether it was newly tripped.
func (l *Latch) Trip(profile ProfileName, day string) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.tripped[profile]; ok && d == day {
		return false
	}
	l.tripped[profile] = day
	return true
}

// Reset clears the profile latch.
func (l *Latch) Reset(profile ProfileName) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tripped, profile)
}

// Restore loads persisted entries, ignoring unknown profile names.
func (l *Latch) Restore(entries map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, day := range entries {
		if p := ProfileName(name); p.Valid() {
			l.tripped[p] = day
		}
	}
}

// Entries returns a copy of the tripped latches.
func (l *Latch) Entries() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]string, len(l.tripped))
	for p, d := range l.tripped {
		out[string(p)] = d
	}
	return out
}

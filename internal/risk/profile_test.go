package risk

import (
	"errors"
	"testing"

	"execcore/pkg/exception"
)

func TestDefaultProfilesValid(t *testing.T) {
	for name, p := range DefaultProfiles() {
		if p.Name != name {
			t.Fatalf("profile name mismatch: %s vs %s", p.Name, name)
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("profile %s invalid: %v", name, err)
		}
	}
}

func TestProfileValidate(t *testing.T) {
	bad := []Profile{
		{Name: "reckless", KellyMultiplier: 0.5, MaxPositionPct: 10, MaxDailyDrawdownPct: 5},
		{Name: Moderate, KellyMultiplier: 0, MaxPositionPct: 10, MaxDailyDrawdownPct: 5},
		{Name: Moderate, KellyMultiplier: 1.5, MaxPositionPct: 10, MaxDailyDrawdownPct: 5},
		{Name: Moderate, KellyMultiplier: 0.5, MaxPositionPct: 101, MaxDailyDrawdownPct: 5},
		{Name: Moderate, KellyMultiplier: 0.5, MaxPositionPct: 10, MaxDailyDrawdownPct: 0},
	}
	for _, p := range bad {
		if err := p.Validate(); !errors.Is(err, exception.ErrInvalidConfig) {
			t.Fatalf("validate(%+v): expected ErrInvalidConfig, got %v", p, err)
		}
	}
}

func TestLookup(t *testing.T) {
	if _, err := Lookup(DefaultProfiles(), "reckless"); !errors.Is(err, exception.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	p, err := Lookup(DefaultProfiles(), Aggressive)
	if err != nil || p.KellyMultiplier != 1.0 {
		t.Fatalf("lookup aggressive: %+v %v", p, err)
	}
}

func TestLatchRestoreIgnoresUnknown(t *testing.T) {
	l := NewLatch()
	l.Restore(map[string]string{"moderate": "2026-10-19", "reckless": "2026-10-19"})
	if !l.Tripped(Moderate, "2026-10-19") {
		t.Fatalf("restored latch missing")
	}
	if len(l.Entries()) != 1 {
		t.Fatalf("unknown profile restored: %v", l.Entries())
	}
	if !l.Trip(Aggressive, "2026-10-19") || l.Trip(Aggressive, "2026-10-19") {
		t.Fatalf("trip must report only the first latch")
	}
}

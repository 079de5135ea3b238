package risk

import (
	"sort"

	"execcore/pkg/exception"

	"github.com/yanun0323/errors"
)

// ProfileName is one of the recognized risk tolerances.
type ProfileName string

const (
	Conservative ProfileName = "conservative"
	Moderate     ProfileName = "moderate"
	Aggressive   ProfileName = "aggressive"
)

// Valid reports whether n is in the closed set of profile names.
func (n ProfileName) Valid() bool {
	switch n {
	case Conservative, Moderate, Aggressive:
		return true
	default:
		return false
	}
}

// Profile is an immutable set of sizing and limit parameters.
type Profile struct {
	Name                ProfileName `yaml:"-" json:"name"`
	KellyMultiplier     float64     `yaml:"kellyMultiplier" json:"kellyMultiplier" validate:"gt=0,lte=1"`
	MaxPositionPct      float64     `yaml:"maxPositionPct" json:"maxPositionPct" validate:"gt=0,lte=100"`
	MaxDailyDrawdownPct float64     `yaml:"maxDailyDrawdownPct" json:"maxDailyDrawdownPct" validate:"gt=0,lte=100"`
}

// Validate checks the profile ranges.
func (p Profile) Validate() error {
	if !p.Name.Valid() {
		return errors.Wrapf(exception.ErrInvalidConfig, "unknown risk profile: %q", p.Name)
	}
	if !(p.KellyMultiplier > 0 && p.KellyMultiplier <= 1) {
		return errors.Wrapf(exception.ErrInvalidConfig, "%s kellyMultiplier must be in (0, 1]: %v", p.Name, p.KellyMultiplier)
	}
	if !(p.MaxPositionPct > 0 && p.MaxPositionPct <= 100) {
		return errors.Wrapf(exception.ErrInvalidConfig, "%s maxPositionPct must be in (0, 100]: %v", p.Name, p.MaxPositionPct)
	}
	if !(p.MaxDailyDrawdownPct > 0 && p.MaxDailyDrawdownPct <= 100) {
		return errors.Wrapf(exception.ErrInvalidConfig, "%s maxDailyDrawdownPct must be in (0, 100]: %v", p.Name, p.MaxDailyDrawdownPct)
	}
	return nil
}

// DefaultProfiles returns the built-in profiles.
func DefaultProfiles() map[ProfileName]Profile {
	return map[ProfileName]Profile{
		Conservative: {Name: Conservative, KellyMultiplier: 0.25, MaxPositionPct: 5, MaxDailyDrawdownPct: 2},
		Moderate:     {Name: Moderate, KellyMultiplier: 0.5, MaxPositionPct: 10, MaxDailyDrawdownPct: 5},
		Aggressive:   {Name: Aggressive, KellyMultiplier: 1.0, MaxPositionPct: 25, MaxDailyDrawdownPct: 10},
	}
}

// Lookup returns the named profile.
func Lookup(profiles map[ProfileName]Profile, name ProfileName) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		known := make([]string, 0, len(profiles))
		for n := range profiles {
			known = append(known, string(n))
		}
		sort.Strings(known)
		return Profile{}, errors.Wrapf(exception.ErrInvalidConfig, "risk profile %q not configured, known: %v", name, known)
	}
	return p, nil
}

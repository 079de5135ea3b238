package risk

import (
	"math"

	"execcore/pkg/exception"

	"github.com/yanun0323/errors"
)

// DefaultFloor is the minimum exposure the sizer ever recommends.
const DefaultFloor = 0.01

// SizingRequest carries the odds of a single opportunity.
type SizingRequest struct {
	WinProbability float64 `json:"winProbability"`
	WinLossRatio   float64 `json:"winLossRatio"`
}

// SizingResult is the bankroll fraction to commit.
type SizingResult struct {
	Raw      float64
	Fraction float64
}

// Sizer computes Kelly fractions scaled by the profile multiplier.
type Sizer struct {
	floor float64
}

// NewSizer creates a sizer with the given floor, DefaultFloor when floor <= 0.
func NewSizer(floor float64) *Sizer {
	if !(floor > 0) {
		floor = DefaultFloor
	}
	return &Sizer{floor: floor}
}

// Floor returns the minimum fraction.
func (s *Sizer) Floor() float64 {
	return s.floor
}

// Size returns max(floor, kelly * multiplier).
//
// A losing edge still yields the floor. The limiter, not the sizer, decides whether
// an order goes out.
func (s *Sizer) Size(req SizingRequest, profile Profile) (SizingResult, error) {
	w, b := req.WinProbability, req.WinLossRatio
	if math.IsNaN(w) || w < 0 || w > 1 {
		return SizingResult{}, errors.Wrapf(exception.ErrInvalidInput, "winProbability must be in [0, 1], winProbability: %v, winLossRatio: %v", w, b)
	}
	if math.IsNaN(b) || math.IsInf(b, 0) || b <= 0 {
		return SizingResult{}, errors.Wrapf(exception.ErrInvalidInput, "winLossRatio must be > 0, winProbability: %v, winLossRatio: %v", w, b)
	}

	raw := (w*(b+1) - 1) / b
	return SizingResult{
		Raw:      raw,
		Fraction: math.Max(s.floor, raw*profile.KellyMultiplier),
	}, nil
}

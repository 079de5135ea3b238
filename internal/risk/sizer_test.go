package risk

import (
	"errors"
	"math"
	"testing"

	"execcore/pkg/exception"
)

func TestSizeExamples(t *testing.T) {
	s := NewSizer(0)
	profiles := DefaultProfiles()

	res, err := s.Size(SizingRequest{WinProbability: 0.6, WinLossRatio: 2}, profiles[Moderate])
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if math.Abs(res.Raw-0.4) > 1e-12 || math.Abs(res.Fraction-0.2) > 1e-12 {
		t.Fatalf("fraction mismatch: got %+v want raw 0.4 fraction 0.2", res)
	}

	res, err = s.Size(SizingRequest{WinProbability: 0.1, WinLossRatio: 1}, profiles[Aggressive])
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if math.Abs(res.Raw+0.8) > 1e-12 {
		t.Fatalf("raw mismatch: got %v want -0.8", res.Raw)
	}
	if res.Fraction != DefaultFloor {
		t.Fatalf("negative edge must clamp to floor: got %v", res.Fraction)
	}
}

func TestSizeInvalidInput(t *testing.T) {
	s := NewSizer(0)
	p := DefaultProfiles()[Moderate]
	cases := []SizingRequest{
		{WinProbability: 0.5, WinLossRatio: 0},
		{WinProbability: 0.5, WinLossRatio: -1},
		{WinProbability: -0.01, WinLossRatio: 1},
		{WinProbability: 1.01, WinLossRatio: 1},
		{WinProbability: math.NaN(), WinLossRatio: 1},
		{WinProbability: 0.5, WinLossRatio: math.Inf(1)},
	}
	for _, req := range cases {
		_, err := s.Size(req, p)
		if !errors.Is(err, exception.ErrInvalidInput) {
			t.Fatalf("size(%+v): expected ErrInvalidInput, got %v", req, err)
		}
	}
}

func TestSizeNeverBelowFloor(t *testing.T) {
	s := NewSizer(0)
	for _, p := range DefaultProfiles() {
		for w := 0.0; w <= 1.0; w += 0.05 {
			for _, b := range []float64{0.01, 0.1, 0.5, 1, 2, 5, 100} {
				res, err := s.Size(SizingRequest{WinProbability: w, WinLossRatio: b}, p)
				if err != nil {
					t.Fatalf("size(%v, %v): %v", w, b, err)
				}
				if res.Fraction < s.Floor() {
					t.Fatalf("fraction %v under floor for w=%v b=%v profile=%s", res.Fraction, w, b, p.Name)
				}
			}
		}
	}
}

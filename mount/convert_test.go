package mount

import (
	"math"
	"testing"
)

func TestWrapPi(t *testing.T) {
	for _, test := range []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi / 2, math.Pi / 2},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{2 * math.Pi, 0},
		{-3 * math.Pi / 2, math.Pi / 2},
		{5 * math.Pi, math.Pi},
	} {
		if got := wrapPi(test.in); math.Abs(got-test.want) > 1e-12 {
			t.Errorf("wrapPi(%v) = %v, want %v", test.in, got, test.want)
		}
	}
}

func TestRadHoursRoundTrip(t *testing.T) {
	for _, hours := range []float64{0, 1.5, 12, 23.999} {
		if got := rad2hours(hours2rad(hours)); math.Abs(got-hours) > 1e-9 {
			t.Errorf("rad2hours(hours2rad(%v)) = %v", hours, got)
		}
	}
	// Negative angles wrap into [0, 24).
	if got := rad2hours(hours2rad(-1)); math.Abs(got-23) > 1e-9 {
		t.Errorf("rad2hours(hours2rad(-1)) = %v, want 23", got)
	}
}

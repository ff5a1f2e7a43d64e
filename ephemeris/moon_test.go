package ephemeris

import (
	"math"
	"testing"
	"time"
)

var testSite = Site{LatitudeDeg: 42.36, LongitudeDeg: -71.09, ElevationM: 40}

func TestMoonStaysInBounds(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 60; day++ {
		p := Moon(start.AddDate(0, 0, day), testSite)
		if p.RAHours < 0 || p.RAHours >= 24 {
			t.Errorf("day %d: RA %v hours out of range", day, p.RAHours)
		}
		// Max lunar declination plus the series error margin.
		if math.Abs(p.DEDegrees) > 30 {
			t.Errorf("day %d: DE %v degrees out of range", day, p.DEDegrees)
		}
		if p.DistanceER < 52 || p.DistanceER > 68 {
			t.Errorf("day %d: distance %v earth radii out of range", day, p.DistanceER)
		}
	}
}

func TestMoonMeanMotion(t *testing.T) {
	// The Moon moves about 13.2 degrees/day along its orbit. The RA rate
	// varies with declination and the diurnal parallax but its daily
	// average must land in that neighborhood.
	start := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	var sum float64
	const days = 28
	for day := 0; day < days; day++ {
		p := Moon(start.AddDate(0, 0, day), testSite)
		sum += p.RateRA
	}
	avgDegPerDay := sum / days * 86400 * 180 / math.Pi
	if avgDegPerDay < 10 || avgDegPerDay > 17 {
		t.Errorf("mean RA motion %v deg/day, want roughly 13.2", avgDegPerDay)
	}
}

func TestMoonPositionContinuous(t *testing.T) {
	at := time.Date(2022, 3, 15, 22, 0, 0, 0, time.UTC)
	p0 := Moon(at, testSite)
	p1 := Moon(at.Add(time.Minute), testSite)
	dra := p1.RAHours - p0.RAHours
	if dra > 12 {
		dra -= 24
	}
	if dra < -12 {
		dra += 24
	}
	// One minute of lunar motion is under an arcminute of RA.
	if math.Abs(dra) > 0.005 {
		t.Errorf("RA jumped %v hours in one minute", dra)
	}
	if math.Abs(p1.DEDegrees-p0.DEDegrees) > 0.05 {
		t.Errorf("DE jumped %v degrees in one minute", p1.DEDegrees-p0.DEDegrees)
	}
}

func TestRatesMatchFiniteDifference(t *testing.T) {
	at := time.Date(2023, 9, 1, 4, 0, 0, 0, time.UTC)
	p := Moon(at, testSite)
	p2 := Moon(at.Add(10*time.Minute), testSite)

	predicted := p.RAHours + p.RateRA*600*(12/math.Pi)
	diff := math.Abs(predicted - p2.RAHours)
	if diff > 12 {
		diff = 24 - diff
	}
	// The rate is not constant over ten minutes; allow a loose tolerance.
	if diff > 0.01 {
		t.Errorf("extrapolated RA off by %v hours over 10 minutes", diff)
	}
}

func TestParallaxShiftsPosition(t *testing.T) {
	at := time.Date(2024, 2, 10, 1, 0, 0, 0, time.UTC)
	north := Moon(at, Site{LatitudeDeg: 60})
	south := Moon(at, Site{LatitudeDeg: -60})
	// Two degrees of latitude-dependent parallax near the horizon, always
	// a nonzero split between hemispheres.
	if north.DEDegrees == south.DEDegrees {
		t.Error("expected parallax to separate northern and southern observers")
	}
	sep := math.Abs(north.DEDegrees - south.DEDegrees)
	if sep > 2.5 {
		t.Errorf("parallax split %v degrees, expected under 2.5", sep)
	}
}

package mount

import "math"

// All angles inside this package are radians. The driver boundary uses the
// conventional units: hours for right ascension, degrees for declination.

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

func hours2rad(x float64) float64 {
	return deg2rad(x * 15)
}

func rad2hours(x float64) float64 {
	h := math.Mod(rad2deg(x)/15, 24)
	if h < 0 {
		h += 24
	}
	return h
}

// wrapPi reduces an angle difference into (-pi, pi] to avoid the full-circle
// ambiguity when comparing right ascensions.
func wrapPi(x float64) float64 {
	x = math.Mod(x+math.Pi, 2*math.Pi)
	if x <= 0 {
		x += 2 * math.Pi
	}
	return x - math.Pi
}

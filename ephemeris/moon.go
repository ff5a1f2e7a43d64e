// Package ephemeris computes the topocentric position and apparent motion of
// the Moon. The series is the truncated low-precision expansion from the
// Astronomical Almanac (good to about 0.3 degrees), which is plenty for
// pointing a mount that refines by plate solving afterwards.
package ephemeris

import (
	"math"
	"time"
)

// Site is the observing location. Longitude is positive east.
type Site struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	ElevationM   float64
}

// Position is a topocentric equatorial position with apparent rates.
type Position struct {
	RAHours    float64
	DEDegrees  float64
	RateRA     float64 // radians/second, motion relative to the stars
	RateDE     float64 // radians/second
	DistanceER float64 // earth radii
}

const (
	deg        = math.Pi / 180
	j2000      = 2451545.0
	rateWindow = 60 * time.Second
)

// julianDay converts a time to a Julian day number.
func julianDay(t time.Time) float64 {
	return float64(t.UTC().UnixNano())/86400e9 + 2440587.5
}

// moonEcliptic returns geocentric ecliptic longitude and latitude in radians
// and the horizontal parallax in radians, for Julian centuries T from J2000.
func moonEcliptic(T float64) (lon, lat, parallax float64) {
	s := func(a, b float64) float64 { return math.Sin((a + b*T) * deg) }
	c := func(a, b float64) float64 { return math.Cos((a + b*T) * deg) }

	lonDeg := 218.32 + 481267.883*T +
		6.29*s(134.9, 477198.85) -
		1.27*s(259.2, -413335.38) +
		0.66*s(235.7, 890534.23) +
		0.21*s(269.9, 954397.70) -
		0.19*s(357.5, 35999.05) -
		0.11*s(186.6, 966404.05)
	latDeg := 5.13*s(93.3, 483202.03) +
		0.28*s(228.2, 960400.87) -
		0.28*s(318.3, 6003.18) -
		0.17*s(217.6, -407332.20)
	parDeg := 0.9508 +
		0.0518*c(134.9, 477198.85) +
		0.0095*c(259.2, -413335.38) +
		0.0078*c(235.7, 890534.23) +
		0.0028*c(269.9, 954397.70)
	return lonDeg * deg, latDeg * deg, parDeg * deg
}

// gmst returns Greenwich mean sidereal time in radians.
func gmst(jd float64) float64 {
	d := jd - j2000
	theta := math.Mod(280.46061837+360.98564736629*d, 360)
	if theta < 0 {
		theta += 360
	}
	return theta * deg
}

// topocentric returns RA and DE in radians and the distance in earth radii
// for the given instant and site.
func topocentric(t time.Time, site Site) (ra, de, dist float64) {
	jd := julianDay(t)
	T := (jd - j2000) / 36525
	lon, lat, par := moonEcliptic(T)

	// Geocentric direction cosines with the mean obliquity folded in.
	const cosEps, sinEps = 0.9175, 0.3978
	l := math.Cos(lat) * math.Cos(lon)
	m := cosEps*math.Cos(lat)*math.Sin(lon) - sinEps*math.Sin(lat)
	n := sinEps*math.Cos(lat)*math.Sin(lon) + cosEps*math.Sin(lat)

	r := 1 / math.Sin(par) // earth radii
	x := r * l
	y := r * m
	z := r * n

	// Observer position in the same frame. Elevation matters at the tenth
	// of an arcsecond level only, but it is one line.
	phi := site.LatitudeDeg * deg
	lst := gmst(jd) + site.LongitudeDeg*deg
	rho := 1 + site.ElevationM/6378137
	x -= rho * math.Cos(phi) * math.Cos(lst)
	y -= rho * math.Cos(phi) * math.Sin(lst)
	z -= rho * math.Sin(phi)

	dist = math.Sqrt(x*x + y*y + z*z)
	ra = math.Atan2(y, x)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	de = math.Asin(z / dist)
	return ra, de, dist
}

// Moon returns the topocentric position of the Moon at t as seen from site.
// Rates come from a central difference over one minute, which smooths the
// series' small discontinuities without blurring the diurnal parallax term.
func Moon(t time.Time, site Site) Position {
	ra, de, dist := topocentric(t, site)
	ra0, de0, _ := topocentric(t.Add(-rateWindow/2), site)
	ra1, de1, _ := topocentric(t.Add(rateWindow/2), site)

	dra := math.Mod(ra1-ra0+3*math.Pi, 2*math.Pi) - math.Pi
	secs := rateWindow.Seconds()
	return Position{
		RAHours:    ra / deg / 15,
		DEDegrees:  de / deg,
		RateRA:     dra / secs,
		RateDE:     (de1 - de0) / secs,
		DistanceER: dist,
	}
}

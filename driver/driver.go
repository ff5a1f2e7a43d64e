package driver

import (
	"errors"
	"fmt"
	"time"
)

// Direction is a true-sky direction as seen by the caller. Whether a given
// Direction maps onto GuideNorth or GuideSouth on the wire depends on the
// mount's wiring and is discovered at run time by calibration.
type Direction int

const (
	North Direction = iota
	South
	East
	West
)

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// GuideDirection is the raw pulse-guide code understood by the mount driver.
// The values follow the ASCOM GuideDirections enumeration.
type GuideDirection int

const (
	GuideNorth GuideDirection = 0
	GuideSouth GuideDirection = 1
	GuideEast  GuideDirection = 2
	GuideWest  GuideDirection = 3
)

// Capabilities reports which operations a connected mount supports. All four
// are required by the instruction queue worker.
type Capabilities struct {
	CanSlew          bool
	CanSetTracking   bool
	CanPulseGuide    bool
	CanSetGuideRates bool
}

// Mount is the contract between the instruction queue worker and a concrete
// mount binding (serial protocol, simulator, ...). Position read-back uses
// the conventional driver units: hours for right ascension, degrees for
// declination. Implementations need not be safe for concurrent use; the
// worker serializes all calls.
type Mount interface {
	Connect() error
	Connected() bool
	Capabilities() (Capabilities, error)
	SetTracking(enabled bool) error
	// SetGuideRates sets the pulse-guide rates in degrees/second.
	SetGuideRates(ra, de float64) error
	SlewToCoordinates(raHours, deDegrees float64) error
	RightAscension() (float64, error)
	Declination() (float64, error)
	// PulseGuide nudges the mount in the given raw direction. It may return
	// before the pulse has completed; callers pace themselves.
	PulseGuide(dir GuideDirection, duration time.Duration) error
	Close() error
}

// ErrNotConnected is returned by mount operations before Connect succeeds or
// after the connection is lost.
var ErrNotConnected = errors.New("driver: mount not connected")

// ConnectError reports a failure to reach or negotiate with the mount driver.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("driver: connecting to mount: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CapabilityError reports a mount that connected but lacks a required
// capability.
type CapabilityError struct {
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("driver: mount does not support %s", e.Capability)
}

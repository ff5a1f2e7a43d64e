package mount

import (
	"math/rand"
	"sync"
	"time"

	"github.com/moonpano/mount_interface/driver"
)

// Simulator is a software mount used in place of hardware by tests and by
// mount_server in simulator mode. It models a tracking equatorial mount:
// read-back stays put unless slewed or pulsed.
//
// The quirk fields must be set before Connect. MirrorRA / MirrorDE reproduce
// a mirror-reversed mount wiring; BiasRAHours / BiasDEDegrees a systematic
// offset between the true position and the read-back.
type Simulator struct {
	Caps driver.Capabilities
	// SettleSteps is the number of position samples a slew needs before the
	// read-back stops moving.
	SettleSteps int
	// ConnectDelay stalls Connect, for exercising the startup timeout.
	ConnectDelay time.Duration

	MirrorRA bool
	MirrorDE bool

	BiasRAHours   float64
	BiasDEDegrees float64

	// NoiseRAHours / NoiseDEDegrees add uniform read-back noise.
	NoiseRAHours   float64
	NoiseDEDegrees float64

	mu        sync.Mutex
	connected bool
	tracking  bool
	rateRA    float64 // degrees/second
	rateDE    float64

	raHours   float64 // true position
	deDegrees float64
	targetRA  float64
	targetDE  float64
	settling  int

	pulses []SimPulse
}

// SimPulse records one PulseGuide call.
type SimPulse struct {
	Code     driver.GuideDirection
	Duration time.Duration
}

func NewSimulator() *Simulator {
	return &Simulator{
		Caps: driver.Capabilities{
			CanSlew:          true,
			CanSetTracking:   true,
			CanPulseGuide:    true,
			CanSetGuideRates: true,
		},
		SettleSteps: 4,
	}
}

func (s *Simulator) Connect() error {
	if s.ConnectDelay > 0 {
		time.Sleep(s.ConnectDelay)
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) Capabilities() (driver.Capabilities, error) {
	return s.Caps, nil
}

func (s *Simulator) SetTracking(enabled bool) error {
	s.mu.Lock()
	s.tracking = enabled
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetGuideRates(ra, de float64) error {
	s.mu.Lock()
	s.rateRA = ra
	s.rateDE = de
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SlewToCoordinates(raHours, deDegrees float64) error {
	s.mu.Lock()
	s.targetRA = raHours
	s.targetDE = deDegrees
	s.settling = s.SettleSteps
	s.mu.Unlock()
	return nil
}

// advance moves a pending slew one settle step forward. It is driven by
// position reads so a settling detector sees the read-back converge.
func (s *Simulator) advance() {
	if s.settling <= 0 {
		return
	}
	if s.settling == 1 {
		s.raHours = s.targetRA
		s.deDegrees = s.targetDE
	} else {
		s.raHours += (s.targetRA - s.raHours) / 2
		s.deDegrees += (s.targetDE - s.deDegrees) / 2
	}
	s.settling--
}

func (s *Simulator) RightAscension() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, driver.ErrNotConnected
	}
	s.advance()
	ra := s.raHours + s.BiasRAHours
	if s.NoiseRAHours > 0 {
		ra += (rand.Float64() - 0.5) * s.NoiseRAHours
	}
	return ra, nil
}

func (s *Simulator) Declination() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, driver.ErrNotConnected
	}
	de := s.deDegrees + s.BiasDEDegrees
	if s.NoiseDEDegrees > 0 {
		de += (rand.Float64() - 0.5) * s.NoiseDEDegrees
	}
	return de, nil
}

func (s *Simulator) PulseGuide(code driver.GuideDirection, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return driver.ErrNotConnected
	}
	s.pulses = append(s.pulses, SimPulse{Code: code, Duration: duration})
	switch code {
	case driver.GuideEast:
		s.raHours += s.raDelta(duration, s.MirrorRA)
	case driver.GuideWest:
		s.raHours -= s.raDelta(duration, s.MirrorRA)
	case driver.GuideNorth:
		s.deDegrees += s.deDelta(duration, s.MirrorDE)
	case driver.GuideSouth:
		s.deDegrees -= s.deDelta(duration, s.MirrorDE)
	}
	return nil
}

func (s *Simulator) raDelta(duration time.Duration, mirrored bool) float64 {
	delta := s.rateRA * duration.Seconds() / 15 // degrees to hours
	if mirrored {
		delta = -delta
	}
	return delta
}

func (s *Simulator) deDelta(duration time.Duration, mirrored bool) float64 {
	delta := s.rateDE * duration.Seconds()
	if mirrored {
		delta = -delta
	}
	return delta
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// TruePosition returns the simulated position without bias or noise.
func (s *Simulator) TruePosition() (raHours, deDegrees float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raHours, s.deDegrees
}

// Pulses returns a copy of every PulseGuide call so far.
func (s *Simulator) Pulses() []SimPulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimPulse, len(s.pulses))
	copy(out, s.pulses)
	return out
}

// PulseCount counts pulses issued with the given raw code.
func (s *Simulator) PulseCount(code driver.GuideDirection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pulses {
		if p.Code == code {
			n++
		}
	}
	return n
}

// Package mount implements the telescope command-queue subsystem: a single
// worker goroutine owns the mount driver and executes instructions one at a
// time, while callers submit blocking and non-blocking requests through the
// Mount facade.
package mount

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/moonpano/mount_interface/driver"
)

// Config holds the externally supplied numeric parameters of the subsystem.
type Config struct {
	// PollingInterval paces the worker startup wait and the jog pulses.
	PollingInterval time.Duration
	// GuidingInterval is both the guiding cadence and the guide pulse length.
	GuidingInterval time.Duration
	// WaitInterval is the sleep between settling samples.
	WaitInterval time.Duration
	// LookupPrecision is the settling threshold in arcseconds.
	LookupPrecision float64
	// LookupMaxIterations bounds the settling loop.
	LookupMaxIterations int
	// CalibratePulse is the length of the calibration test pulses.
	CalibratePulse time.Duration
	// GuideRate is the pulse-guide rate in degrees/second, set on the driver
	// at startup for both axes.
	GuideRate float64
	// StartupTimeoutPolls is the number of polling intervals New waits for
	// the worker to initialize.
	StartupTimeoutPolls int
}

func (c *Config) applyDefaults() {
	if c.PollingInterval <= 0 {
		c.PollingInterval = 100 * time.Millisecond
	}
	if c.GuidingInterval <= 0 {
		c.GuidingInterval = 500 * time.Millisecond
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = c.PollingInterval
	}
	if c.LookupPrecision <= 0 {
		c.LookupPrecision = 30
	}
	if c.LookupMaxIterations <= 0 {
		c.LookupMaxIterations = 120
	}
	if c.CalibratePulse <= 0 {
		c.CalibratePulse = time.Second
	}
	if c.GuideRate <= 0 {
		// Sidereal rate.
		c.GuideRate = 360.0 / 86164.0
	}
	if c.StartupTimeoutPolls <= 0 {
		c.StartupTimeoutPolls = 50
	}
}

// Mount is the high-level interface to the telescope. All methods may be
// called from any goroutine; the underlying operations are serialized by the
// worker.
type Mount struct {
	cfg Config
	w   *worker

	mu            sync.Mutex
	correctionRA  float64
	correctionDE  float64
	guidingActive bool
}

// New connects to the mount and starts the worker. It blocks until the driver
// is initialized or the startup timeout elapses; initialization failures are
// returned as the driver's own error, a timeout as ErrStartupTimeout.
//
// The status callback, if non-nil, is invoked after every executed
// instruction with the readout correction already applied.
func New(cfg Config, drv driver.Mount, cb StatusCallback) (*Mount, error) {
	cfg.applyDefaults()
	m := &Mount{cfg: cfg}
	internal := cb
	if cb != nil {
		// Layer the readout correction into the status stream.
		internal = func(status Status) {
			m.mu.Lock()
			status.RA += m.correctionRA
			status.DE += m.correctionDE
			m.mu.Unlock()
			status.RAHours = rad2hours(status.RA)
			status.DEDegrees = rad2deg(status.DE)
			cb(status)
		}
	}
	m.w = newWorker(cfg, drv, internal)
	go m.w.run()

	timeout := time.Duration(cfg.StartupTimeoutPolls) * cfg.PollingInterval
	select {
	case <-m.w.initialized:
	case <-m.w.done:
		return nil, m.w.initError()
	case <-time.After(timeout):
		return nil, ErrStartupTimeout
	}
	return m, nil
}

func (m *Mount) submitFront(ctx context.Context, in *instruction) error {
	if !m.w.q.pushFront(in) {
		return ErrShutdown
	}
	return in.wait(ctx)
}

func (m *Mount) submitBack(ctx context.Context, in *instruction) error {
	if !m.w.q.pushBack(in) {
		return ErrShutdown
	}
	return in.wait(ctx)
}

// Calibrate determines whether motor directions are mirror-reversed relative
// to the sky. Directions are corrected in all future pulses. Blocking.
func (m *Mount) Calibrate(ctx context.Context) error {
	in := newInstruction(kindCalibrate)
	in.pulse = m.cfg.CalibratePulse
	return m.submitFront(ctx, in)
}

// SlewTo moves the telescope to the given position (radians) and waits for
// the mount to settle. The discrepancy between the commanded position and the
// settled read-back becomes the readout correction applied to Position until
// the next slew.
func (m *Mount) SlewTo(ctx context.Context, ra, de float64) error {
	raHours := math.Mod(rad2deg(ra)/15, 24)
	if raHours < 0 {
		raHours += 24
	}
	in := newInstruction(kindSlew)
	in.raHours = raHours
	in.deDegrees = rad2deg(de)
	if err := m.submitFront(ctx, in); err != nil {
		return err
	}
	measuredRA, measuredDE, err := m.RawPosition(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.correctionRA = wrapPi(ra - measuredRA)
	m.correctionDE = de - measuredDE
	correctionRA, correctionDE := m.correctionRA, m.correctionDE
	m.mu.Unlock()
	log.Printf("mount: readout correction RA %.5f deg, DE %.5f deg",
		rad2deg(correctionRA), rad2deg(correctionDE))
	return nil
}

// RawPosition waits for the mount to settle and returns where the driver says
// it is pointing (radians), without the readout correction.
func (m *Mount) RawPosition(ctx context.Context) (ra, de float64, err error) {
	in := newInstruction(kindLookup)
	if err := m.submitFront(ctx, in); err != nil {
		return 0, 0, err
	}
	return in.ra, in.de, nil
}

// Position is RawPosition with the correction measured during the last slew
// applied.
func (m *Mount) Position(ctx context.Context) (ra, de float64, err error) {
	ra, de, err = m.RawPosition(ctx)
	if err != nil {
		return 0, 0, err
	}
	m.mu.Lock()
	ra += m.correctionRA
	de += m.correctionDE
	m.mu.Unlock()
	return ra, de, nil
}

// StartGuiding starts correcting the mount to follow a target moving at the
// given rates (radians/second). Non-blocking; guiding continues, interleaved
// with other instructions, until StopGuiding.
func (m *Mount) StartGuiding(rateRA, rateDE float64) error {
	if rateRA == 0 && rateDE == 0 {
		return ErrZeroRate
	}
	in := newInstruction(kindStartGuiding)
	in.rateRA = rateRA
	in.rateDE = rateDE
	if !m.w.q.pushFront(in) {
		return ErrShutdown
	}
	log.Printf("mount: start guiding, rate RA %.3f arcmin/h, rate DE %.3f arcmin/h",
		rad2deg(rateRA)*216000, rad2deg(rateDE)*216000)
	m.mu.Lock()
	m.guidingActive = true
	m.mu.Unlock()
	// If the worker fails to start the session (the initial position read
	// can fail), no session exists and the flag must not stay set.
	go func() {
		<-in.done
		if in.err != nil {
			log.Printf("mount: start guiding failed: %v", in.err)
			m.mu.Lock()
			m.guidingActive = false
			m.mu.Unlock()
		}
	}()
	return nil
}

// StopGuiding removes the guiding session and every pending guide tick.
// Blocking; once it returns no further guide pulses will be issued.
func (m *Mount) StopGuiding(ctx context.Context) error {
	in := newInstruction(kindStopGuiding)
	err := m.submitFront(ctx, in)
	if err == nil {
		m.mu.Lock()
		m.guidingActive = false
		m.mu.Unlock()
	}
	return err
}

// GuidingActive reports whether guiding has been started and not yet stopped.
func (m *Mount) GuidingActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guidingActive
}

// Move starts continuous motion in a sky direction. Non-blocking; motion
// continues until the matching StopMove call.
func (m *Mount) Move(d driver.Direction) {
	m.w.startJog(d)
}

// StopMove ends continuous motion in a direction. The stop is appended at the
// queue tail so an in-flight pulse finishes first; at most one more pulse is
// issued after the call is observed. Blocking.
func (m *Mount) StopMove(ctx context.Context, d driver.Direction) error {
	in := newInstruction(kindStopJog)
	in.dir = d
	return m.submitBack(ctx, in)
}

func (m *Mount) MoveNorth() { m.Move(driver.North) }
func (m *Mount) MoveSouth() { m.Move(driver.South) }
func (m *Mount) MoveEast()  { m.Move(driver.East) }
func (m *Mount) MoveWest()  { m.Move(driver.West) }

func (m *Mount) StopMoveNorth(ctx context.Context) error { return m.StopMove(ctx, driver.North) }
func (m *Mount) StopMoveSouth(ctx context.Context) error { return m.StopMove(ctx, driver.South) }
func (m *Mount) StopMoveEast(ctx context.Context) error  { return m.StopMove(ctx, driver.East) }
func (m *Mount) StopMoveWest(ctx context.Context) error  { return m.StopMove(ctx, driver.West) }

// PulseCorrection issues a single pulse of the given length in a sky
// direction, translated through the calibrated mapping. It is appended at the
// tail so queued motion drains first. Blocking.
func (m *Mount) PulseCorrection(ctx context.Context, d driver.Direction, length time.Duration) error {
	in := newInstruction(kindPulse)
	in.dir = d
	in.pulse = length
	return m.submitBack(ctx, in)
}

// Close terminates the worker, cancels active sessions, fails everything
// still queued and closes the driver. It blocks until the worker goroutine
// has exited.
func (m *Mount) Close() error {
	in := newInstruction(kindTerminate)
	m.w.q.pushFront(in)
	<-m.w.done
	return nil
}

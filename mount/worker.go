package mount

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/moonpano/mount_interface/driver"
)

// Status is a snapshot of the mount state, published through the status
// callback after every executed instruction. Angles are radians; the raw
// driver units are included for display.
type Status struct {
	RA        float64 `json:"ra"`
	DE        float64 `json:"de"`
	RAHours   float64 `json:"ra_hours"`
	DEDegrees float64 `json:"de_degrees"`
	// Valid is false until the position has been read at least once.
	Valid   bool    `json:"valid"`
	Guiding bool    `json:"guiding"`
	Jogging [4]bool `json:"jogging"`
	// ReversedRA and ReversedDE report the calibration result: whether the
	// mount's east/west (north/south) motor directions are mirror-reversed
	// relative to the sky.
	ReversedRA  bool `json:"reversed_ra"`
	ReversedDE  bool `json:"reversed_de"`
	QueueLength int  `json:"queue_length"`
}

type StatusCallback func(status Status)

// worker owns the physical mount connection. It drains the instruction queue
// one instruction at a time; nothing else in the process touches the driver.
type worker struct {
	cfg            Config
	drv            driver.Mount
	q              *queue
	statusCallback StatusCallback

	initialized chan struct{}
	done        chan struct{}

	mu      sync.Mutex
	initErr error
	dirs    [4]driver.GuideDirection
	guide   *guideSession
	jogs    [4]*jogSession
	lastRA  float64 // radians, uncorrected
	lastDE  float64
	havePos bool
}

func newWorker(cfg Config, drv driver.Mount, cb StatusCallback) *worker {
	return &worker{
		cfg:            cfg,
		drv:            drv,
		q:              newQueue(),
		statusCallback: cb,
		initialized:    make(chan struct{}),
		done:           make(chan struct{}),
		// Default direction mapping until calibration runs.
		dirs: [4]driver.GuideDirection{
			driver.North: driver.GuideNorth,
			driver.South: driver.GuideSouth,
			driver.East:  driver.GuideEast,
			driver.West:  driver.GuideWest,
		},
	}
}

// initialize connects to the driver and negotiates capabilities. Any failure
// here is fatal to the subsystem.
func (w *worker) initialize() error {
	if err := w.drv.Connect(); err != nil {
		return err
	}
	if !w.drv.Connected() {
		return &driver.ConnectError{Err: errors.New("driver reports not connected")}
	}
	caps, err := w.drv.Capabilities()
	if err != nil {
		return &driver.ConnectError{Err: fmt.Errorf("capability lookup: %w", err)}
	}
	switch {
	case !caps.CanSlew:
		return &driver.CapabilityError{Capability: "slewing to RA/DE"}
	case !caps.CanSetTracking:
		return &driver.CapabilityError{Capability: "tracking in RA/DE"}
	case !caps.CanPulseGuide:
		return &driver.CapabilityError{Capability: "pulse guide corrections"}
	case !caps.CanSetGuideRates:
		return &driver.CapabilityError{Capability: "setting guide rates"}
	}
	if err := w.drv.SetTracking(true); err != nil {
		return fmt.Errorf("enabling tracking: %w", err)
	}
	if err := w.drv.SetGuideRates(w.cfg.GuideRate, w.cfg.GuideRate); err != nil {
		return fmt.Errorf("setting guide rate to %v deg/s: %w", w.cfg.GuideRate, err)
	}
	return nil
}

func (w *worker) run() {
	defer close(w.done)
	if err := w.initialize(); err != nil {
		w.mu.Lock()
		w.initErr = err
		w.mu.Unlock()
		log.Printf("mount: worker initialization failed: %v", err)
		for _, in := range w.q.close() {
			in.complete(ErrShutdown)
		}
		return
	}
	log.Printf("mount: driver connected, tracking enabled")
	close(w.initialized)

	for {
		in, ok := w.q.pop()
		if !ok {
			break
		}
		if in.kind == kindTerminate {
			in.complete(nil)
			break
		}
		err := w.execute(in)
		if err != nil {
			log.Printf("mount: %v: %v", in.kind, err)
		}
		in.complete(err)
		w.notifyStatus()
	}
	w.shutdown()
}

func (w *worker) shutdown() {
	w.mu.Lock()
	guide := w.guide
	w.guide = nil
	jogs := w.jogs
	w.jogs = [4]*jogSession{}
	w.mu.Unlock()
	for _, in := range w.q.close() {
		in.complete(ErrShutdown)
	}
	if guide != nil {
		guide.cancel()
		<-guide.finished
	}
	for _, s := range jogs {
		if s != nil {
			s.cancel()
			<-s.finished
		}
	}
	if err := w.drv.Close(); err != nil {
		log.Printf("mount: closing driver: %v", err)
	}
	log.Printf("mount: worker stopped")
}

func (w *worker) initError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initErr
}

func (w *worker) execute(in *instruction) error {
	switch in.kind {
	case kindSlew:
		log.Printf("mount: slewing to RA %.5f h, DE %.5f deg", in.raHours, in.deDegrees)
		return w.drv.SlewToCoordinates(in.raHours, in.deDegrees)
	case kindLookup:
		return w.execLookup(in)
	case kindCalibrate:
		return w.execCalibrate(in)
	case kindStartGuiding:
		return w.execStartGuiding(in)
	case kindGuideTick:
		return w.execGuideTick(in)
	case kindStopGuiding:
		return w.execStopGuiding(in)
	case kindJogPulse:
		return w.execJogPulse(in)
	case kindStopJog:
		return w.execStopJog(in)
	case kindPulse:
		return w.pulse(in.dir, in.pulse)
	}
	return fmt.Errorf("unknown instruction %v", in.kind)
}

// execLookup samples the driver position until two successive samples agree
// within the configured precision: the mount has physically settled. The
// iteration ceiling turns a mount that never settles into an error instead of
// a hang.
func (w *worker) execLookup(in *instruction) error {
	raThresh := w.cfg.LookupPrecision / 54000 // arcsec to hours
	deThresh := w.cfg.LookupPrecision / 3600  // arcsec to degrees
	// Impossible previous coordinates force at least two samples.
	prevRA, prevDE := 25.0, 91.0
	for i := 0; ; i++ {
		ra, err := w.drv.RightAscension()
		if err != nil {
			return err
		}
		de, err := w.drv.Declination()
		if err != nil {
			return err
		}
		if math.Abs(ra-prevRA) <= raThresh && math.Abs(de-prevDE) <= deThresh {
			in.ra = hours2rad(ra)
			in.de = deg2rad(de)
			w.setPosition(in.ra, in.de)
			log.Printf("mount: position settled at RA %.5f h, DE %.5f deg after %d samples", ra, de, i+1)
			return nil
		}
		if i >= w.cfg.LookupMaxIterations {
			return ErrSettleTimeout
		}
		prevRA, prevDE = ra, de
		time.Sleep(w.cfg.WaitInterval)
	}
}

// execCalibrate discovers whether the mount motor directions are
// mirror-reversed by pulsing the raw east and north codes and watching which
// way the coordinates move. The mapping is assigned absolutely, so running
// calibration again is idempotent.
func (w *worker) execCalibrate(in *instruction) error {
	raBegin, err := w.drv.RightAscension()
	if err != nil {
		return err
	}
	if err := w.drv.PulseGuide(driver.GuideEast, in.pulse); err != nil {
		return err
	}
	time.Sleep(2 * in.pulse)
	raEnd, err := w.drv.RightAscension()
	if err != nil {
		return err
	}

	deBegin, err := w.drv.Declination()
	if err != nil {
		return err
	}
	if err := w.drv.PulseGuide(driver.GuideNorth, in.pulse); err != nil {
		return err
	}
	time.Sleep(2 * in.pulse)
	deEnd, err := w.drv.Declination()
	if err != nil {
		return err
	}

	w.mu.Lock()
	if raEnd < raBegin {
		// The east pulse moved the mount west in the sky.
		w.dirs[driver.East] = driver.GuideWest
		w.dirs[driver.West] = driver.GuideEast
	} else {
		w.dirs[driver.East] = driver.GuideEast
		w.dirs[driver.West] = driver.GuideWest
	}
	if deEnd < deBegin {
		w.dirs[driver.North] = driver.GuideSouth
		w.dirs[driver.South] = driver.GuideNorth
	} else {
		w.dirs[driver.North] = driver.GuideNorth
		w.dirs[driver.South] = driver.GuideSouth
	}
	reversedRA := w.dirs[driver.East] != driver.GuideEast
	reversedDE := w.dirs[driver.North] != driver.GuideNorth
	w.mu.Unlock()
	log.Printf("mount: calibrated, RA reversed: %v, DE reversed: %v", reversedRA, reversedDE)
	return nil
}

func (w *worker) execStartGuiding(in *instruction) error {
	raHours, err := w.drv.RightAscension()
	if err != nil {
		return err
	}
	deDeg, err := w.drv.Declination()
	if err != nil {
		return err
	}
	s := newGuideSession(in.rateRA, in.rateDE)
	s.start = time.Now()
	s.startRA = hours2rad(raHours)
	s.startDE = deg2rad(deDeg)
	w.setPosition(s.startRA, s.startDE)

	w.mu.Lock()
	old := w.guide
	w.guide = s
	w.mu.Unlock()
	if old != nil {
		// Callers are expected to stop guiding before restarting it; recover
		// anyway rather than leaving two sessions pulsing.
		log.Printf("mount: start guiding while already guiding; replacing session")
		w.q.cancelSession(old.cancel, func(qi *instruction) bool {
			return qi.kind == kindGuideTick && qi.guide == old
		})
		<-old.finished
	}
	go w.runGuideSession(s)
	return nil
}

// execGuideTick is the closed-loop guiding law. It predicts where the target
// has moved since the session started and pulses only when the mount has
// under-shot the prediction, so it never reverses past the target.
func (w *worker) execGuideTick(in *instruction) error {
	s := in.guide
	select {
	case <-s.stop:
		return nil
	default:
	}
	raHours, err := w.drv.RightAscension()
	if err != nil {
		return err
	}
	deDeg, err := w.drv.Declination()
	if err != nil {
		return err
	}
	curRA := hours2rad(raHours)
	curDE := deg2rad(deDeg)
	w.setPosition(curRA, curDE)

	elapsed := time.Since(s.start).Seconds()
	targetRA := s.startRA + s.rateRA*elapsed
	targetDE := s.startDE + s.rateDE*elapsed
	if math.Abs(targetRA-s.startRA) > math.Abs(curRA-s.startRA) {
		if err := w.pulse(s.dirRA, w.cfg.GuidingInterval); err != nil {
			return err
		}
	}
	if math.Abs(targetDE-s.startDE) > math.Abs(curDE-s.startDE) {
		if err := w.pulse(s.dirDE, w.cfg.GuidingInterval); err != nil {
			return err
		}
	}
	return nil
}

func (w *worker) execStopGuiding(in *instruction) error {
	w.mu.Lock()
	s := w.guide
	w.guide = nil
	w.mu.Unlock()
	if s == nil {
		return nil
	}
	removed := w.q.cancelSession(s.cancel, func(qi *instruction) bool {
		return qi.kind == kindGuideTick && qi.guide == s
	})
	<-s.finished
	log.Printf("mount: guiding stopped, %d pending ticks removed", removed)
	return nil
}

// startJog begins continuous motion in a direction. A second start for the
// same direction while one is active is a no-op.
func (w *worker) startJog(d driver.Direction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jogs[d] != nil {
		return
	}
	s := newJogSession(d)
	w.jogs[d] = s
	go w.runJogSession(s)
}

func (w *worker) execJogPulse(in *instruction) error {
	s := in.jog
	select {
	case <-s.stop:
		return nil
	default:
	}
	if err := w.pulse(s.dir, w.cfg.PollingInterval); err != nil {
		return err
	}
	// PulseGuide may return before the motion ends; pace the next pulse.
	time.Sleep(w.cfg.PollingInterval)
	return nil
}

func (w *worker) execStopJog(in *instruction) error {
	w.mu.Lock()
	s := w.jogs[in.dir]
	w.jogs[in.dir] = nil
	w.mu.Unlock()
	if s == nil {
		return nil
	}
	w.q.cancelSession(s.cancel, func(qi *instruction) bool {
		return qi.kind == kindJogPulse && qi.jog == s
	})
	<-s.finished
	return nil
}

// pulse translates a sky direction through the calibrated mapping and issues
// one pulse-guide.
func (w *worker) pulse(d driver.Direction, duration time.Duration) error {
	w.mu.Lock()
	code := w.dirs[d]
	w.mu.Unlock()
	return w.drv.PulseGuide(code, duration)
}

func (w *worker) setPosition(ra, de float64) {
	w.mu.Lock()
	w.lastRA = ra
	w.lastDE = de
	w.havePos = true
	w.mu.Unlock()
}

func (w *worker) notifyStatus() {
	if w.statusCallback == nil {
		return
	}
	w.mu.Lock()
	status := Status{
		RA:         w.lastRA,
		DE:         w.lastDE,
		Valid:      w.havePos,
		Guiding:    w.guide != nil,
		ReversedRA: w.dirs[driver.East] != driver.GuideEast,
		ReversedDE: w.dirs[driver.North] != driver.GuideNorth,
	}
	for d, s := range w.jogs {
		status.Jogging[d] = s != nil
	}
	w.mu.Unlock()
	status.QueueLength = w.q.len()
	status.RAHours = rad2hours(status.RA)
	status.DEDegrees = rad2deg(status.DE)
	w.statusCallback(status)
}

package mount

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/moonpano/mount_interface/driver"
)

var _ driver.Mount = (*Simulator)(nil)

func testConfig() Config {
	return Config{
		PollingInterval:     2 * time.Millisecond,
		GuidingInterval:     5 * time.Millisecond,
		WaitInterval:        time.Millisecond,
		LookupPrecision:     1,
		LookupMaxIterations: 200,
		CalibratePulse:      2 * time.Millisecond,
		GuideRate:           1, // fast so calibration deltas are visible
		StartupTimeoutPolls: 200,
	}
}

func newTestMount(t *testing.T, sim *Simulator, cfg Config) *Mount {
	t.Helper()
	m, err := New(cfg, sim, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSlewUpdatesReadoutCorrection(t *testing.T) {
	sim := NewSimulator()
	sim.BiasRAHours = 0.1
	sim.BiasDEDegrees = 0.5
	m := newTestMount(t, sim, testConfig())

	ctx := context.Background()
	wantRA := hours2rad(2)
	wantDE := deg2rad(30)
	if err := m.SlewTo(ctx, wantRA, wantDE); err != nil {
		t.Fatalf("SlewTo: %v", err)
	}

	ra, de, err := m.Position(ctx)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if math.Abs(ra-wantRA) > 1e-9 || math.Abs(de-wantDE) > 1e-9 {
		t.Errorf("corrected position = (%v, %v), want (%v, %v)", ra, de, wantRA, wantDE)
	}

	rawRA, rawDE, err := m.RawPosition(ctx)
	if err != nil {
		t.Fatalf("RawPosition: %v", err)
	}
	if math.Abs(rawRA-(wantRA+hours2rad(0.1))) > 1e-9 {
		t.Errorf("raw RA = %v, want biased %v", rawRA, wantRA+hours2rad(0.1))
	}
	if math.Abs(rawDE-(wantDE+deg2rad(0.5))) > 1e-9 {
		t.Errorf("raw DE = %v, want biased %v", rawDE, wantDE+deg2rad(0.5))
	}
}

func TestLookupSettleTimeout(t *testing.T) {
	sim := NewSimulator()
	// Noise far above the precision threshold: successive samples never
	// agree and the iteration ceiling must fire.
	sim.NoiseRAHours = 0.5
	cfg := testConfig()
	cfg.LookupMaxIterations = 10
	m := newTestMount(t, sim, cfg)

	_, _, err := m.RawPosition(context.Background())
	if err != ErrSettleTimeout {
		t.Fatalf("RawPosition error = %v, want ErrSettleTimeout", err)
	}
	// The worker survives a settle timeout; a quiet read still works.
	sim.NoiseRAHours = 0
	if _, _, err := m.RawPosition(context.Background()); err != nil {
		t.Fatalf("RawPosition after timeout: %v", err)
	}
}

func TestCalibrateMirroredRA(t *testing.T) {
	sim := NewSimulator()
	sim.MirrorRA = true
	m := newTestMount(t, sim, testConfig())

	if err := m.Calibrate(context.Background()); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	m.w.mu.Lock()
	dirs := m.w.dirs
	m.w.mu.Unlock()
	if dirs[driver.East] != driver.GuideWest || dirs[driver.West] != driver.GuideEast {
		t.Errorf("east/west not swapped: %v", dirs)
	}
	if dirs[driver.North] != driver.GuideNorth || dirs[driver.South] != driver.GuideSouth {
		t.Errorf("north/south changed: %v", dirs)
	}
}

func TestCalibrateIdempotent(t *testing.T) {
	for _, mirrored := range []bool{false, true} {
		sim := NewSimulator()
		sim.MirrorRA = mirrored
		sim.MirrorDE = mirrored
		m := newTestMount(t, sim, testConfig())

		ctx := context.Background()
		if err := m.Calibrate(ctx); err != nil {
			t.Fatalf("first Calibrate: %v", err)
		}
		m.w.mu.Lock()
		first := m.w.dirs
		m.w.mu.Unlock()
		if err := m.Calibrate(ctx); err != nil {
			t.Fatalf("second Calibrate: %v", err)
		}
		m.w.mu.Lock()
		second := m.w.dirs
		m.w.mu.Unlock()
		if first != second {
			t.Errorf("mirrored=%v: mapping changed between runs: %v then %v", mirrored, first, second)
		}
	}
}

func TestCalibratedPulseUsesMapping(t *testing.T) {
	sim := NewSimulator()
	sim.MirrorRA = true
	m := newTestMount(t, sim, testConfig())

	ctx := context.Background()
	if err := m.Calibrate(ctx); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	before := sim.PulseCount(driver.GuideWest)
	if err := m.PulseCorrection(ctx, driver.East, time.Millisecond); err != nil {
		t.Fatalf("PulseCorrection: %v", err)
	}
	// A logical east pulse on a mirrored mount must go out as the west code.
	if got := sim.PulseCount(driver.GuideWest); got != before+1 {
		t.Errorf("west-code pulses = %d, want %d", got, before+1)
	}
}

func TestStartStopGuidingEmptiesQueue(t *testing.T) {
	sim := NewSimulator()
	m := newTestMount(t, sim, testConfig())

	ctx := context.Background()
	if err := m.StartGuiding(1e-5, 0); err != nil {
		t.Fatalf("StartGuiding: %v", err)
	}
	if !m.GuidingActive() {
		t.Error("GuidingActive = false after StartGuiding")
	}
	time.Sleep(20 * time.Millisecond)
	if err := m.StopGuiding(ctx); err != nil {
		t.Fatalf("StopGuiding: %v", err)
	}
	if m.GuidingActive() {
		t.Error("GuidingActive = true after StopGuiding")
	}
	if n := m.w.q.count(func(in *instruction) bool { return in.kind == kindGuideTick }); n != 0 {
		t.Errorf("%d guide ticks still queued after StopGuiding", n)
	}
	// No pulses at all may arrive once StopGuiding has returned.
	before := len(sim.Pulses())
	time.Sleep(30 * time.Millisecond)
	if after := len(sim.Pulses()); after != before {
		t.Errorf("%d pulses issued after StopGuiding returned", after-before)
	}
}

func TestGuidingNeverOvershoots(t *testing.T) {
	// One guide pulse moves the simulator far further than the target moves
	// during the whole test, so after the first corrective pulse the mount
	// leads the target and no further pulse is permitted.
	sim := NewSimulator()
	m := newTestMount(t, sim, testConfig())

	if err := m.StartGuiding(1e-7, 0); err != nil {
		t.Fatalf("StartGuiding: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := m.StopGuiding(context.Background()); err != nil {
		t.Fatalf("StopGuiding: %v", err)
	}

	if got := sim.PulseCount(driver.GuideEast); got != 1 {
		t.Errorf("east pulses = %d, want exactly 1 (no overshoot correction)", got)
	}
	if n := sim.PulseCount(driver.GuideNorth) + sim.PulseCount(driver.GuideSouth); n != 0 {
		t.Errorf("%d declination pulses despite zero DE rate", n)
	}
}

func TestGuidingPulseCountProportional(t *testing.T) {
	// A tiny guide rate makes each pulse almost worthless, so the controller
	// lags chronically and must pulse close to once per guiding interval,
	// bounded by elapsed/interval.
	cfg := testConfig()
	cfg.GuideRate = 1e-6
	sim := NewSimulator()
	m := newTestMount(t, sim, cfg)

	const duration = 100 * time.Millisecond
	if err := m.StartGuiding(1e-4, 0); err != nil {
		t.Fatalf("StartGuiding: %v", err)
	}
	time.Sleep(duration)
	if err := m.StopGuiding(context.Background()); err != nil {
		t.Fatalf("StopGuiding: %v", err)
	}

	got := sim.PulseCount(driver.GuideEast)
	limit := int(duration/cfg.GuidingInterval) + 5
	if got < 1 {
		t.Error("no guide pulses issued under chronic lag")
	}
	if got > limit {
		t.Errorf("east pulses = %d, want at most %d", got, limit)
	}
}

func TestJogStopBoundsOverrun(t *testing.T) {
	sim := NewSimulator()
	m := newTestMount(t, sim, testConfig())

	ctx := context.Background()
	m.MoveNorth()
	time.Sleep(15 * time.Millisecond)
	if err := m.StopMoveNorth(ctx); err != nil {
		t.Fatalf("StopMoveNorth: %v", err)
	}
	if got := sim.PulseCount(driver.GuideNorth); got == 0 {
		t.Error("no north pulses issued while jogging")
	}
	before := sim.PulseCount(driver.GuideNorth)
	time.Sleep(30 * time.Millisecond)
	if after := sim.PulseCount(driver.GuideNorth); after != before {
		t.Errorf("%d north pulses after StopMoveNorth returned", after-before)
	}
}

func TestJogRestartAfterStop(t *testing.T) {
	sim := NewSimulator()
	m := newTestMount(t, sim, testConfig())

	ctx := context.Background()
	m.MoveEast()
	time.Sleep(10 * time.Millisecond)
	if err := m.StopMoveEast(ctx); err != nil {
		t.Fatalf("StopMoveEast: %v", err)
	}
	before := sim.PulseCount(driver.GuideEast)
	m.MoveEast()
	time.Sleep(15 * time.Millisecond)
	if err := m.StopMoveEast(ctx); err != nil {
		t.Fatalf("second StopMoveEast: %v", err)
	}
	if after := sim.PulseCount(driver.GuideEast); after <= before {
		t.Error("jog did not restart after stop")
	}
}

func TestStartGuidingZeroRates(t *testing.T) {
	sim := NewSimulator()
	m := newTestMount(t, sim, testConfig())
	if err := m.StartGuiding(0, 0); err != ErrZeroRate {
		t.Errorf("StartGuiding(0, 0) = %v, want ErrZeroRate", err)
	}
}

// failingReadMount is a simulator whose position reads can be made to fail.
type failingReadMount struct {
	*Simulator
	mu   sync.Mutex
	fail bool
}

func (f *failingReadMount) setFail(on bool) {
	f.mu.Lock()
	f.fail = on
	f.mu.Unlock()
}

func (f *failingReadMount) RightAscension() (float64, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return 0, errors.New("read failed")
	}
	return f.Simulator.RightAscension()
}

func TestStartGuidingFailureClearsActive(t *testing.T) {
	drv := &failingReadMount{Simulator: NewSimulator()}
	m, err := New(testConfig(), drv, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	drv.setFail(true)
	if err := m.StartGuiding(1e-6, 0); err != nil {
		t.Fatalf("StartGuiding: %v", err)
	}
	// The start instruction fails its position read on the worker; no
	// session exists, so the guiding flag must clear.
	deadline := time.Now().Add(time.Second)
	for m.GuidingActive() {
		if time.Now().After(deadline) {
			t.Fatal("GuidingActive still true after failed session start")
		}
		time.Sleep(time.Millisecond)
	}

	drv.setFail(false)
	if err := m.StartGuiding(1e-6, 0); err != nil {
		t.Fatalf("StartGuiding after recovery: %v", err)
	}
	if !m.GuidingActive() {
		t.Error("GuidingActive false after successful start")
	}
	if err := m.StopGuiding(context.Background()); err != nil {
		t.Fatalf("StopGuiding: %v", err)
	}
}

func TestInitMissingCapability(t *testing.T) {
	sim := NewSimulator()
	sim.Caps.CanPulseGuide = false
	_, err := New(testConfig(), sim, nil)
	var capErr *driver.CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("New = %v, want CapabilityError", err)
	}
}

func TestInitStartupTimeout(t *testing.T) {
	sim := NewSimulator()
	sim.ConnectDelay = time.Second
	cfg := testConfig()
	cfg.StartupTimeoutPolls = 5
	if _, err := New(cfg, sim, nil); err != ErrStartupTimeout {
		t.Fatalf("New = %v, want ErrStartupTimeout", err)
	}
}

func TestCloseFailsPendingSubmissions(t *testing.T) {
	sim := NewSimulator()
	m := newTestMount(t, sim, testConfig())
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Calibrate(context.Background()); err != ErrShutdown {
		t.Errorf("Calibrate after Close = %v, want ErrShutdown", err)
	}
}

func TestStatusCallbackAppliesCorrection(t *testing.T) {
	sim := NewSimulator()
	sim.BiasRAHours = 0.2
	statusCh := make(chan Status, 64)
	cfg := testConfig()
	m, err := New(cfg, sim, func(s Status) {
		select {
		case statusCh <- s:
		default:
		}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	wantRA := hours2rad(3)
	if err := m.SlewTo(ctx, wantRA, 0); err != nil {
		t.Fatalf("SlewTo: %v", err)
	}
	if _, _, err := m.Position(ctx); err != nil {
		t.Fatalf("Position: %v", err)
	}

	var last Status
	for {
		select {
		case s := <-statusCh:
			if s.Valid {
				last = s
			}
			continue
		default:
		}
		break
	}
	if !last.Valid {
		t.Fatal("no valid status received")
	}
	if math.Abs(last.RA-wantRA) > 1e-9 {
		t.Errorf("status RA = %v, want corrected %v", last.RA, wantRA)
	}
}

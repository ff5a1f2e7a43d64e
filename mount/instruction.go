package mount

import (
	"context"
	"errors"
	"time"

	"github.com/moonpano/mount_interface/driver"
)

var (
	// ErrStartupTimeout is returned by New when the worker never reports
	// initialized within the configured number of polling intervals.
	ErrStartupTimeout = errors.New("mount: timeout connecting to mount driver")
	// ErrShutdown is returned for instructions submitted to, or left in, a
	// queue that has shut down.
	ErrShutdown = errors.New("mount: worker has shut down")
	// ErrCanceled is returned for instructions removed from the queue by a
	// stop instruction before they could execute.
	ErrCanceled = errors.New("mount: instruction canceled")
	// ErrSettleTimeout is returned when the mount position does not
	// stabilize within the configured iteration limit.
	ErrSettleTimeout = errors.New("mount: mount did not settle")
	// ErrZeroRate is returned by StartGuiding when both rates are zero.
	ErrZeroRate = errors.New("mount: both guide rates are zero")
)

type kind int

const (
	kindSlew kind = iota
	kindLookup
	kindCalibrate
	kindStartGuiding
	kindGuideTick
	kindStopGuiding
	kindJogPulse
	kindStopJog
	kindPulse
	kindTerminate
)

func (k kind) String() string {
	switch k {
	case kindSlew:
		return "slew to"
	case kindLookup:
		return "lookup position"
	case kindCalibrate:
		return "calibrate"
	case kindStartGuiding:
		return "start guiding"
	case kindGuideTick:
		return "continue guiding"
	case kindStopGuiding:
		return "stop guiding"
	case kindJogPulse:
		return "jog pulse"
	case kindStopJog:
		return "stop jog"
	case kindPulse:
		return "pulse correction"
	case kindTerminate:
		return "terminate"
	}
	return "unknown"
}

// instruction is a single command for the queue worker. Each is a fresh value
// constructed per call; the worker delivers the result by filling the result
// fields and closing done.
type instruction struct {
	kind kind

	// Slew target in driver units.
	raHours   float64
	deDegrees float64
	// Guide rates in radians/second.
	rateRA float64
	rateDE float64
	// Jog / pulse correction direction and pulse length.
	dir   driver.Direction
	pulse time.Duration
	// Owning session for repeating kinds.
	guide *guideSession
	jog   *jogSession

	// Lookup result in radians.
	ra float64
	de float64

	err  error
	done chan struct{}
}

func newInstruction(k kind) *instruction {
	return &instruction{kind: k, done: make(chan struct{})}
}

// complete must be called exactly once.
func (in *instruction) complete(err error) {
	in.err = err
	close(in.done)
}

// wait blocks until the worker completes the instruction or ctx is canceled.
// Cancellation does not withdraw the instruction; it will still execute.
func (in *instruction) wait(ctx context.Context) error {
	select {
	case <-in.done:
		return in.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

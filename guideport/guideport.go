// Package guideport drives an ST-4 guide port through a Modbus RTU relay
// board, one relay per direction.
package guideport

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/moonpano/mount_interface/driver"
)

// coilClient is the slice of modbus.Client the guider uses.
type coilClient interface {
	WriteSingleCoil(address, value uint16) ([]byte, error)
	ReadCoils(address, quantity uint16) ([]byte, error)
}

// Relay board coil assignment, matching the ST-4 pinout order.
var coilForDirection = map[driver.GuideDirection]uint16{
	driver.GuideNorth: 0,
	driver.GuideSouth: 1,
	driver.GuideEast:  2,
	driver.GuideWest:  3,
}

// Status reports which relays are currently energized, by direction.
type Status struct {
	Active map[driver.GuideDirection]bool
}

type Guider struct {
	handler *modbus.RTUClientHandler
	mu      sync.Mutex
	client  coilClient
	sleep   func(time.Duration)
}

func Connect(port string, baud int) (*Guider, error) {
	handler := modbus.NewRTUClientHandler(port)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = 1
	handler.Logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Llongfile)
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("opening %q: %w", port, err)
	}
	g := &Guider{handler: handler, client: modbus.NewClient(handler), sleep: time.Sleep}
	if err := g.AllOff(); err != nil {
		handler.Close()
		return nil, err
	}
	return g, nil
}

func (g *Guider) writeCoil(coil uint16, value bool) error {
	var v uint16
	if value {
		v = 0xFF00
	}
	_, err := g.client.WriteSingleCoil(coil, v)
	return err
}

// Pulse closes the relay for dir for the given duration. It blocks until the
// relay is released again.
func (g *Guider) Pulse(dir driver.GuideDirection, duration time.Duration) error {
	coil, ok := coilForDirection[dir]
	if !ok {
		return fmt.Errorf("guideport: unknown direction %d", dir)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.writeCoil(coil, true); err != nil {
		return err
	}
	g.sleep(duration)
	if err := g.writeCoil(coil, false); err != nil {
		// A stuck relay would drive the mount continuously. Retry the
		// release once before giving up.
		if retry := g.writeCoil(coil, false); retry != nil {
			return fmt.Errorf("releasing relay %d: %w", coil, err)
		}
	}
	return nil
}

// Status polls the board for the current relay states. A relay energized
// outside a Pulse call means the board wedged and the mount is being driven.
func (g *Guider) Status() (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bits, err := g.client.ReadCoils(0, 4)
	if err != nil {
		return Status{}, fmt.Errorf("reading coils: %w", err)
	}
	st := Status{Active: make(map[driver.GuideDirection]bool)}
	for dir, coil := range coilForDirection {
		st.Active[dir] = len(bits) > 0 && bits[coil/8]>>(coil%8)&1 == 1
	}
	return st, nil
}

// AllOff releases every relay.
func (g *Guider) AllOff() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	for _, coil := range coilForDirection {
		if err := g.writeCoil(coil, false); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (g *Guider) Close() error {
	err := g.AllOff()
	if g.handler != nil {
		if cerr := g.handler.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Wrap returns a driver.Mount that routes pulse guiding through the relay
// board and delegates everything else to m. Useful for mounts whose serial
// protocol lacks timed guide commands but that expose an ST-4 socket.
func Wrap(m driver.Mount, g *Guider) driver.Mount {
	return &wrapped{Mount: m, guider: g}
}

type wrapped struct {
	driver.Mount
	guider *Guider
}

func (w *wrapped) Capabilities() (driver.Capabilities, error) {
	caps, err := w.Mount.Capabilities()
	if err != nil {
		return caps, err
	}
	caps.CanPulseGuide = true
	return caps, nil
}

// SetGuideRates is a no-op for the relay path: the rate is fixed by the
// mount's own guide speed setting.
func (w *wrapped) SetGuideRates(ra, de float64) error {
	return nil
}

func (w *wrapped) PulseGuide(dir driver.GuideDirection, duration time.Duration) error {
	return w.guider.Pulse(dir, duration)
}

func (w *wrapped) Close() error {
	err := w.guider.Close()
	if cerr := w.Mount.Close(); err == nil {
		err = cerr
	}
	return err
}

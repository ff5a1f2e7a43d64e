// Package lx200 implements the driver.Mount contract over the Meade LX200
// serial command set.
package lx200

import (
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/moonpano/mount_interface/driver"
)

// Command reference: Meade Telescope Serial Command Protocol, rev L.

type Mount struct {
	port string
	baud int

	mu   sync.Mutex
	conn io.ReadWriteCloser
}

func New(port string, baud int) *Mount {
	if baud == 0 {
		baud = 9600
	}
	return &Mount{port: port, baud: baud}
}

func (m *Mount) Connect() error {
	c := &serial.Config{Name: m.port, Baud: m.baud, ReadTimeout: 2 * time.Second}
	s, err := serial.OpenPort(c)
	if err != nil {
		return &driver.ConnectError{Err: fmt.Errorf("opening %q: %w", m.port, err)}
	}
	m.mu.Lock()
	m.conn = s
	m.mu.Unlock()
	// Handshake: a position read proves something LX200-shaped is answering.
	if _, err := m.RightAscension(); err != nil {
		m.Close()
		return &driver.ConnectError{Err: fmt.Errorf("handshake on %q: %w", m.port, err)}
	}
	log.Printf("lx200: opened %q", m.port)
	return nil
}

func (m *Mount) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Capabilities are static: every Autostar-era LX200 supports the four
// operations the worker needs.
func (m *Mount) Capabilities() (driver.Capabilities, error) {
	return driver.Capabilities{
		CanSlew:          true,
		CanSetTracking:   true,
		CanPulseGuide:    true,
		CanSetGuideRates: true,
	}, nil
}

// send writes a command that produces no reply.
func (m *Mount) send(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendLocked(cmd)
}

func (m *Mount) sendLocked(cmd string) error {
	if m.conn == nil {
		return driver.ErrNotConnected
	}
	if _, err := m.conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("writing %q: %w", cmd, err)
	}
	return nil
}

// command writes a command and reads a '#'-terminated reply.
func (m *Mount) command(cmd string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendLocked(cmd); err != nil {
		return "", err
	}
	var out []byte
	buf := make([]byte, 1)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			return "", fmt.Errorf("reading reply to %q: %w", cmd, err)
		}
		if n == 0 {
			return "", fmt.Errorf("timeout reading reply to %q", cmd)
		}
		if buf[0] == '#' {
			return string(out), nil
		}
		out = append(out, buf[0])
	}
}

// commandAck writes a command answered by a single '0'/'1' byte.
func (m *Mount) commandAck(cmd string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendLocked(cmd); err != nil {
		return false, err
	}
	buf := make([]byte, 1)
	n, err := m.conn.Read(buf)
	if err != nil {
		return false, fmt.Errorf("reading ack for %q: %w", cmd, err)
	}
	if n == 0 {
		return false, fmt.Errorf("timeout reading ack for %q", cmd)
	}
	return buf[0] == '1', nil
}

func (m *Mount) SetTracking(enabled bool) error {
	if enabled {
		// Sidereal tracking rate.
		return m.send(":TQ#")
	}
	// There is no explicit tracking switch; land alignment mode stops the
	// RA drive.
	return m.send(":AL#")
}

// guideRateResolution is the smallest nonzero rate the :Rg field (SS.S,
// degrees/second) can express.
const guideRateResolution = 0.05

func (m *Mount) SetGuideRates(ra, de float64) error {
	// The LX200 has a single guide rate for both axes, in degrees/second.
	// Rates below the field resolution would serialize as 00.0 and disable
	// pulse guiding outright; keep the rate stored in the mount instead.
	if ra < guideRateResolution {
		log.Printf("lx200: guide rate %v deg/s below the :Rg resolution, keeping the mount's setting", ra)
		return nil
	}
	return m.send(fmt.Sprintf(":Rg%04.1f#", ra))
}

func (m *Mount) SlewToCoordinates(raHours, deDegrees float64) error {
	ok, err := m.commandAck(":Sr" + formatRA(raHours) + "#")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lx200: target RA %v rejected", raHours)
	}
	ok, err = m.commandAck(":Sd" + formatDE(deDegrees) + "#")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lx200: target DE %v rejected", deDegrees)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendLocked(":MS#"); err != nil {
		return err
	}
	// :MS# answers a bare '0' on success, or '1'/'2' followed by a
	// '#'-terminated explanation.
	buf := make([]byte, 1)
	if _, err := m.conn.Read(buf); err != nil {
		return fmt.Errorf("reading slew status: %w", err)
	}
	if buf[0] == '0' {
		return nil
	}
	var msg []byte
	for {
		n, err := m.conn.Read(buf)
		if err != nil || n == 0 || buf[0] == '#' {
			break
		}
		msg = append(msg, buf[0])
	}
	return fmt.Errorf("lx200: slew refused: %s", strings.TrimSpace(string(msg)))
}

func (m *Mount) RightAscension() (float64, error) {
	resp, err := m.command(":GR#")
	if err != nil {
		return 0, err
	}
	return parseRA(resp)
}

func (m *Mount) Declination() (float64, error) {
	resp, err := m.command(":GD#")
	if err != nil {
		return 0, err
	}
	return parseDE(resp)
}

var guideLetters = map[driver.GuideDirection]byte{
	driver.GuideNorth: 'n',
	driver.GuideSouth: 's',
	driver.GuideEast:  'e',
	driver.GuideWest:  'w',
}

func (m *Mount) PulseGuide(dir driver.GuideDirection, duration time.Duration) error {
	letter, ok := guideLetters[dir]
	if !ok {
		return fmt.Errorf("lx200: unknown guide direction %d", dir)
	}
	ms := duration.Milliseconds()
	// The protocol field is four digits.
	if ms > 9999 {
		ms = 9999
	}
	if ms < 0 {
		ms = 0
	}
	return m.send(fmt.Sprintf(":Mg%c%04d#", letter, ms))
}

func (m *Mount) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

// formatRA renders hours as HH:MM:SS (long format).
func formatRA(hours float64) string {
	hours = math.Mod(hours, 24)
	if hours < 0 {
		hours += 24
	}
	total := int(math.Round(hours * 3600))
	total %= 24 * 3600
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// formatDE renders degrees as sDD*MM:SS.
func formatDE(degrees float64) string {
	sign := "+"
	if degrees < 0 {
		sign = "-"
		degrees = -degrees
	}
	total := int(math.Round(degrees * 3600))
	return fmt.Sprintf("%s%02d*%02d:%02d", sign, total/3600, (total/60)%60, total%60)
}

// parseRA accepts both reply formats: HH:MM:SS and HH:MM.T (tenths of a
// minute).
func parseRA(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("lx200: malformed RA %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("lx200: malformed RA %q", s)
	}
	if len(parts) == 2 {
		min, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return 0, fmt.Errorf("lx200: malformed RA %q", s)
		}
		return float64(h) + min/60, nil
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("lx200: malformed RA %q", s)
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("lx200: malformed RA %q", s)
	}
	return float64(h) + float64(min)/60 + float64(sec)/3600, nil
}

// parseDE accepts sDD*MM'SS and sDD*MM. Some firmware sends 0xDF for the
// degree separator.
func parseDE(s string) (float64, error) {
	norm := strings.Map(func(r rune) rune {
		if r == '*' || r == 0xDF || r == '\'' {
			return ':'
		}
		return r
	}, s)
	parts := strings.Split(norm, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("lx200: malformed DE %q", s)
	}
	sign := 1.0
	head := parts[0]
	switch {
	case strings.HasPrefix(head, "-"):
		sign = -1
		head = head[1:]
	case strings.HasPrefix(head, "+"):
		head = head[1:]
	}
	deg, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("lx200: malformed DE %q", s)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("lx200: malformed DE %q", s)
	}
	out := float64(deg) + float64(min)/60
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil {
			return 0, fmt.Errorf("lx200: malformed DE %q", s)
		}
		out += float64(sec) / 3600
	}
	return sign * out, nil
}

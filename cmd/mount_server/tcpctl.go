package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/moonpano/mount_interface/driver"
)

// ListenControl serves a line-based control protocol modeled on rotctld:
// single-character commands, or `+\` followed by a command name for the
// extended form, each answered with an RPRT code.
func (s *Server) ListenControl(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing control socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("failed to accept: %v", err)
				continue
			}
			go s.handleControl(ctx, conn)
		}
	}()
	return nil
}

func (s *Server) handleControl(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log.Printf("accepted connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Split(cmd, " ")
			cmd = parts[0][2:]
			if len(parts) > 1 {
				args = parts[1:]
			}
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else {
			if len(cmd) > 1 {
				args = strings.Fields(strings.TrimLeft(cmd[1:], " "))
			}
			cmd = string(cmd[0])
		}
		log.Printf("%v command: %q args: %#v", conn.RemoteAddr(), cmd, args)
		rprt := -1
		switch cmd {
		case "1", "dump_caps":
			fmt.Fprintf(conn, `Model name: MountQueue
Mount type: Equatorial
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Calibrate: Y
Can Track: Y
`)
			rprt = 0
		case "S", "stop":
			extended = true
			if err := s.stopEverything(ctx); err != nil {
				log.Printf("stop: %v", err)
				break
			}
			rprt = 0
		case "P", "set_pos":
			extended = true
			if len(args) != 2 {
				rprt = -22
				break
			}
			ra, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				rprt = -22
				break
			}
			de, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				rprt = -22
				break
			}
			if err := s.m.SlewTo(ctx, hours2rad(ra), deg2rad(de)); err != nil {
				log.Printf("set_pos: %v", err)
				break
			}
			rprt = 0
		case "p", "get_pos":
			ra, de, err := s.m.Position(ctx)
			if err != nil {
				log.Printf("get_pos: %v", err)
				break
			}
			raHours := math.Mod(ra*12/math.Pi, 24)
			if raHours < 0 {
				raHours += 24
			}
			if extended {
				fmt.Fprintf(conn, "RA: %.6f\nDE: %.6f\n", raHours, de*180/math.Pi)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", raHours, de*180/math.Pi)
			}
			rprt = 0
		case "M", "move":
			extended = true
			if len(args) < 1 {
				rprt = -22
				break
			}
			d, ok := directionNames[strings.ToLower(args[0])]
			if !ok {
				rprt = -22
				break
			}
			s.m.Move(d)
			rprt = 0
		case "m", "stop_move":
			extended = true
			if len(args) < 1 {
				rprt = -22
				break
			}
			d, ok := directionNames[strings.ToLower(args[0])]
			if !ok {
				rprt = -22
				break
			}
			if err := s.m.StopMove(ctx, d); err != nil {
				log.Printf("stop_move: %v", err)
				break
			}
			rprt = 0
		case "G", "start_guiding":
			extended = true
			if len(args) != 2 {
				rprt = -22
				break
			}
			// Rates in arcseconds per second.
			rateRA, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				rprt = -22
				break
			}
			rateDE, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				rprt = -22
				break
			}
			const arcsec = math.Pi / 180 / 3600
			if err := s.m.StartGuiding(rateRA*arcsec, rateDE*arcsec); err != nil {
				log.Printf("start_guiding: %v", err)
				break
			}
			rprt = 0
		case "g", "pulse":
			extended = true
			if len(args) != 2 {
				rprt = -22
				break
			}
			d, ok := directionNames[strings.ToLower(args[0])]
			if !ok {
				rprt = -22
				break
			}
			ms, err := strconv.Atoi(args[1])
			if err != nil || ms < 0 {
				rprt = -22
				break
			}
			if err := s.m.PulseCorrection(ctx, d, time.Duration(ms)*time.Millisecond); err != nil {
				log.Printf("pulse: %v", err)
				break
			}
			rprt = 0
		case "C", "calibrate":
			extended = true
			if err := s.m.Calibrate(ctx); err != nil {
				log.Printf("calibrate: %v", err)
				break
			}
			rprt = 0
		case "T", "track_moon":
			extended = true
			if len(args) == 1 && args[0] == "0" {
				if err := s.StopTracking(ctx); err != nil {
					log.Printf("stop_tracking: %v", err)
					break
				}
			} else {
				if err := s.StartTracking(ctx); err != nil {
					log.Printf("track_moon: %v", err)
					break
				}
			}
			rprt = 0
		}
		if extended || rprt != 0 {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) stopEverything(ctx context.Context) error {
	if err := s.StopTracking(ctx); err != nil {
		return err
	}
	if s.m.GuidingActive() {
		if err := s.m.StopGuiding(ctx); err != nil {
			return err
		}
	}
	for _, d := range []driver.Direction{driver.North, driver.South, driver.East, driver.West} {
		if err := s.m.StopMove(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

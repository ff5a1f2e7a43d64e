package main

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moonpano/mount_interface/driver"
	"github.com/moonpano/mount_interface/ephemeris"
	"github.com/moonpano/mount_interface/mount"
)

// trackRefresh is how often the moon tracker re-reads the ephemeris and
// restarts guiding with fresh rates.
const trackRefresh = 5 * time.Minute

func deg2rad(d float64) float64   { return d * math.Pi / 180 }
func hours2rad(h float64) float64 { return h * 15 * math.Pi / 180 }

// Status is the mount status plus the server's own tracking state.
type Status struct {
	mount.Status
	Tracking bool `json:"tracking"`
}

type Server struct {
	mu   sync.Mutex
	m    *mount.Mount
	site ephemeris.Site

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status

	trackStop chan struct{}
}

func NewServer(site ephemeris.Site) *Server {
	s := &Server{site: site}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

func (s *Server) statusCallback(status mount.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Status = status
	s.statusCond.Broadcast()
}

func (s *Server) setTracking(on bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Tracking = on
	s.statusCond.Broadcast()
}

func (s *Server) currentStatus() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(s.currentStatus())
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command    string  `json:"command"`
	RAHours    float64 `json:"ra_hours"`
	DEDegrees  float64 `json:"de_degrees"`
	RateRA     float64 `json:"rate_ra"` // radians/second
	RateDE     float64 `json:"rate_de"`
	Direction  string  `json:"direction"`
	DurationMs int     `json:"duration_ms"`
}

var directionNames = map[string]driver.Direction{
	"north": driver.North,
	"south": driver.South,
	"east":  driver.East,
	"west":  driver.West,
}

func (s *Server) handleCommand(ctx context.Context, msg Command) {
	var err error
	switch msg.Command {
	case "slew":
		err = s.m.SlewTo(ctx, hours2rad(msg.RAHours), deg2rad(msg.DEDegrees))
	case "calibrate":
		err = s.m.Calibrate(ctx)
	case "start_guiding":
		err = s.m.StartGuiding(msg.RateRA, msg.RateDE)
	case "stop_guiding":
		err = s.m.StopGuiding(ctx)
	case "move":
		if d, ok := directionNames[msg.Direction]; ok {
			s.m.Move(d)
		}
	case "stop_move":
		if d, ok := directionNames[msg.Direction]; ok {
			err = s.m.StopMove(ctx, d)
		}
	case "pulse":
		if d, ok := directionNames[msg.Direction]; ok {
			err = s.m.PulseCorrection(ctx, d, time.Duration(msg.DurationMs)*time.Millisecond)
		}
	case "track_moon":
		err = s.StartTracking(ctx)
	case "stop_tracking":
		err = s.StopTracking(ctx)
	default:
		log.Printf("unknown command %q", msg.Command)
		return
	}
	if err != nil {
		log.Printf("command %q: %v", msg.Command, err)
	}
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	// Read and process incoming messages
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				conn.Close()
				break
			}
			s.handleCommand(ctx, msg)
		}
	}()

	send := func(status Status) bool {
		data, err := json.Marshal(status)
		if err != nil {
			log.Print(err)
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return false
		}
		return true
	}

	if !send(s.currentStatus()) {
		return
	}
	for {
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if !send(status) {
			return
		}
	}
}

// StartTracking slews to the moon and keeps guiding on it, refreshing the
// rates from the ephemeris periodically, until StopTracking.
func (s *Server) StartTracking(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackStop != nil {
		return nil
	}
	if err := s.trackOnce(ctx); err != nil {
		return err
	}
	stop := make(chan struct{})
	s.trackStop = stop
	s.setTracking(true)
	go s.trackLoop(stop)
	return nil
}

func (s *Server) trackOnce(ctx context.Context) error {
	p := ephemeris.Moon(time.Now(), s.site)
	if s.m.GuidingActive() {
		if err := s.m.StopGuiding(ctx); err != nil {
			return err
		}
	}
	if err := s.m.SlewTo(ctx, hours2rad(p.RAHours), deg2rad(p.DEDegrees)); err != nil {
		return err
	}
	return s.m.StartGuiding(p.RateRA, p.RateDE)
}

func (s *Server) trackLoop(stop chan struct{}) {
	ticker := time.NewTicker(trackRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		p := ephemeris.Moon(time.Now(), s.site)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := s.m.StopGuiding(ctx); err != nil {
			log.Printf("tracking: stopping guiding: %v", err)
			cancel()
			continue
		}
		cancel()
		if err := s.m.StartGuiding(p.RateRA, p.RateDE); err != nil {
			log.Printf("tracking: restarting guiding: %v", err)
		}
	}
}

func (s *Server) StopTracking(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackStop == nil {
		return nil
	}
	close(s.trackStop)
	s.trackStop = nil
	s.setTracking(false)
	if s.m.GuidingActive() {
		return s.m.StopGuiding(ctx)
	}
	return nil
}

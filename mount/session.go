package mount

import (
	"log"
	"sync"
	"time"

	"github.com/moonpano/mount_interface/driver"
)

// guideSession is the state of one active guiding run. It lives from the
// "start guiding" instruction until a stop, a driver error, or shutdown. The
// session goroutine only paces ticks; every driver access still happens on
// the worker so hardware ownership stays total.
type guideSession struct {
	rateRA, rateDE float64 // radians/second
	dirRA, dirDE   driver.Direction
	start          time.Time
	startRA        float64 // radians
	startDE        float64

	stop     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

func newGuideSession(rateRA, rateDE float64) *guideSession {
	s := &guideSession{
		rateRA:   rateRA,
		rateDE:   rateDE,
		dirRA:    driver.West,
		dirDE:    driver.South,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	// The sign of a rate selects the pulse direction per axis.
	if rateRA >= 0 {
		s.dirRA = driver.East
	}
	if rateDE >= 0 {
		s.dirDE = driver.North
	}
	return s
}

func (s *guideSession) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (w *worker) runGuideSession(s *guideSession) {
	defer func() {
		w.mu.Lock()
		if w.guide == s {
			w.guide = nil
		}
		w.mu.Unlock()
		close(s.finished)
	}()
	t := time.NewTicker(w.cfg.GuidingInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}
		in := newInstruction(kindGuideTick)
		in.guide = s
		if !w.q.pushBackUnless(in, s.stop) {
			return
		}
		<-in.done
		if in.err != nil {
			if in.err != ErrCanceled && in.err != ErrShutdown {
				log.Printf("mount: guiding aborted: %v", in.err)
			}
			return
		}
	}
}

// jogSession produces continuous motion in one direction by issuing one short
// pulse per polling interval until stopped.
type jogSession struct {
	dir      driver.Direction
	stop     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

func newJogSession(dir driver.Direction) *jogSession {
	return &jogSession{
		dir:      dir,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (s *jogSession) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (w *worker) runJogSession(s *jogSession) {
	defer func() {
		w.mu.Lock()
		if w.jogs[s.dir] == s {
			w.jogs[s.dir] = nil
		}
		w.mu.Unlock()
		close(s.finished)
	}()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		in := newInstruction(kindJogPulse)
		in.jog = s
		in.dir = s.dir
		if !w.q.pushBackUnless(in, s.stop) {
			return
		}
		// The worker paces each pulse, so waiting for completion is what
		// spaces the pulses out.
		<-in.done
		if in.err != nil {
			if in.err != ErrCanceled && in.err != ErrShutdown {
				log.Printf("mount: jog %v aborted: %v", s.dir, in.err)
			}
			return
		}
	}
}

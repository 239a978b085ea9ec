package httpd

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/s00inx/webserv/internal/config"
	"github.com/s00inx/webserv/internal/obs"
	"github.com/s00inx/webserv/internal/reactor"
)

// sweepInterval bounds how often the timeout sweep runs, so it never
// starves WaitForEvents on a busy server.
const sweepInterval = time.Second

// maxEventsPerWait bounds one WaitForEvents call's batch size.
const maxEventsPerWait = 256

// EventLoop owns every Endpoint plus the single Reactor they share, and
// drives the cooperative, single-threaded main loop. There is exactly
// one EventLoop per process.
type EventLoop struct {
	log       *zap.Logger
	rx        reactor.Reactor
	endpoints []*Endpoint

	running   atomic.Bool
	lastSweep time.Time
}

// NewEventLoop constructs an Endpoint for every configured endpoint and
// binds them all to a single shared Reactor.
func NewEventLoop(cfgs []config.Endpoint, log *zap.Logger, rx reactor.Reactor) (*EventLoop, error) {
	el := &EventLoop{log: log, rx: rx}
	usable := 0
	for _, cfg := range cfgs {
		ep := NewEndpoint(cfg, obs.Named(log, fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)), rx)
		el.endpoints = append(el.endpoints, ep)
		if ep.IsUsable() {
			usable++
		}
	}
	if usable == 0 {
		return nil, fmt.Errorf("httpd: no endpoint could bind its listen socket")
	}
	return el, nil
}

// Run executes the main loop until Stop is called or WaitForEvents
// returns a non-interrupted error.
func (el *EventLoop) Run() error {
	el.running.Store(true)
	el.lastSweep = time.Now()

	for _, ep := range el.endpoints {
		if !ep.IsUsable() {
			continue
		}
		if err := ep.Start(); err != nil {
			return fmt.Errorf("httpd: start endpoint: %w", err)
		}
	}

	for el.running.Load() {
		now := time.Now()
		if now.Sub(el.lastSweep) >= sweepInterval {
			el.sweep(now)
			el.lastSweep = now
		}

		events, err := el.rx.WaitForEvents(maxEventsPerWait)
		if err != nil {
			if err == reactor.ErrInterrupted {
				el.log.Debug("wait interrupted, continuing")
				continue
			}
			return fmt.Errorf("httpd: wait for events: %w", err)
		}

		// Two-pass dispatch: every readable event first, then every
		// writable event, so all responses installed by this batch's
		// reads are in place before any write in the batch is handled.
		// A response installed here gets its first write from a
		// writable event of a later WaitForEvents batch.
		for _, ev := range events {
			if ev.Direction != reactor.Read {
				continue
			}
			if ep := el.owner(ev.Handle); ep != nil {
				ep.HandleReadable(ev.Handle, ev.EndOfStream)
			}
		}
		for _, ev := range events {
			if ev.Direction != reactor.Write {
				continue
			}
			if ep := el.owner(ev.Handle); ep != nil {
				ep.HandleWritable(ev.Handle)
			}
		}
	}

	return nil
}

// Stop requests the loop exit after its current WaitForEvents call
// returns; safe to call from a signal handler goroutine.
func (el *EventLoop) Stop() {
	el.running.Store(false)
}

// Shutdown releases every resource every Endpoint and the shared Reactor
// own. Call after Run returns.
func (el *EventLoop) Shutdown() {
	for _, ep := range el.endpoints {
		ep.Shutdown()
	}
	if err := el.rx.Close(); err != nil {
		el.log.Warn("close reactor", zap.Error(err))
	}
}

func (el *EventLoop) owner(h reactor.Handle) *Endpoint {
	for _, ep := range el.endpoints {
		if ep.OwnsHandle(h) {
			return ep
		}
	}
	return nil
}

func (el *EventLoop) sweep(now time.Time) {
	for _, ep := range el.endpoints {
		if !ep.IsUsable() {
			continue
		}
		ep.SweepClients(now)
		ep.SweepCgi(now)
	}
}

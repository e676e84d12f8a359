// Package dispatch bridges the pull-based request engine to the backend
// packet transport. A dispatcher drives one request at a time: it drains the
// request's ready packets, sends them, collects replies in whatever order
// they arrive, enforces per-packet timeout and resend budgets, and feeds
// everything back until the request reports done.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/fleetnav/navserver/packet"
	"github.com/fleetnav/navserver/request"
)

var (
	packetSendMeter     = metrics.NewRegisteredMeter("navserver/dispatch/sends", nil)
	packetResendMeter   = metrics.NewRegisteredMeter("navserver/dispatch/resends", nil)
	packetTimeoutMeter  = metrics.NewRegisteredMeter("navserver/dispatch/timeouts", nil)
	packetFallbackMeter = metrics.NewRegisteredMeter("navserver/dispatch/fallbacks", nil)
	packetStaleMeter    = metrics.NewRegisteredMeter("navserver/dispatch/stale", nil)
)

// ErrStalled is returned when a request is neither done nor waiting on any
// outstanding packet, which would otherwise spin the run loop forever. It
// indicates a broken request implementation.
var ErrStalled = errors.New("request stalled with no outstanding packets")

// StatusError carries a request's terminal failure status across the
// dispatcher boundary.
type StatusError struct {
	Status packet.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: %v", e.Status)
}

// maxReceiveWait caps a single transport wait so expiry processing never
// lags far behind the nearest deadline.
const maxReceiveWait = 50 * time.Millisecond

// Dispatcher is the run loop for one caller. It owns no request state
// beyond a run; requests are exclusively owned by their caller for their
// whole lifetime and never shared across concurrent runs.
type Dispatcher struct {
	transport Transport
	clock     mclock.Clock
	timeout   time.Duration // overrides per-envelope attempt timeouts when set
	logger    log.Logger
}

// Option configures a dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the wall clock, for tests driving simulated time.
func WithClock(clock mclock.Clock) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithAttemptTimeout overrides every envelope's per-attempt timeout. Zero
// keeps the envelopes' own values.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// New creates a dispatcher over the given transport.
func New(transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		clock:     mclock.System{},
		logger:    log.New("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drives the request to completion and returns its answer. The calling
// goroutine blocks until the request is done; the request's own interface is
// never called concurrently. A request that ends in error yields a nil
// answer and a StatusError carrying the terminal code.
func (d *Dispatcher) Run(req request.Request) (*request.Answer, error) {
	pending := newPendingSet()
	logger := d.logger.New("req", req.Name(), "reqid", req.ID())

	for !req.Done() {
		// Drain everything the request is ready to send right now.
		for env := req.NextPacket(); env != nil; env = req.NextPacket() {
			if err := d.transport.Send(env); err != nil {
				return nil, err
			}
			pending.add(env, d.clock.Now().Add(d.attemptTimeout(env)))
			packetSendMeter.Mark(1)
			logger.Trace("Packet sent", "module", env.Module, "tag", env.Tag, "packet", env.PacketID)
		}
		if req.Done() {
			break
		}
		if pending.len() == 0 {
			logger.Error("Request neither done nor waiting on packets")
			return nil, ErrStalled
		}

		// Wait for the next reply, but never past the nearest deadline.
		wait := time.Duration(pending.earliest().deadline - d.clock.Now())
		if wait > maxReceiveWait {
			wait = maxReceiveWait
		}
		if wait < 0 {
			wait = 0
		}

		reply, err := d.transport.Receive(wait)
		if err != nil {
			return nil, err
		}
		if reply != nil {
			if p := pending.remove(reply.PacketID); p == nil {
				// A reply racing its own resend, or one addressed to an
				// abandoned request. Drop it.
				packetStaleMeter.Mark(1)
				logger.Debug("Discarding stale reply", "packet", reply.PacketID, "tag", reply.Tag)
			} else {
				req.Deliver(reply)
			}
		}

		d.expire(req, pending, logger)
	}

	if answer := req.Answer(); answer != nil {
		return answer, nil
	}
	return nil, &StatusError{Status: req.Status()}
}

func (d *Dispatcher) attemptTimeout(env *packet.Envelope) time.Duration {
	if d.timeout > 0 {
		return d.timeout
	}
	return env.AttemptTimeout()
}

// expire walks the overdue packets: resend while the budget lasts, then
// synthesize a timeout reply so the request's own partial-failure logic
// decides between a degraded answer and an error. Resends reuse the original
// tag so the eventual reply still correlates.
func (d *Dispatcher) expire(req request.Request, pending *pendingSet, logger log.Logger) {
	now := d.clock.Now()

	for p := pending.earliest(); p != nil && p.deadline <= now; p = pending.earliest() {
		if p.resends > 0 {
			p.resends--
			if err := d.transport.Send(p.env); err != nil {
				logger.Warn("Resend failed", "packet", p.env.PacketID, "err", err)
			}
			pending.reschedule(p, now.Add(d.attemptTimeout(p.env)))
			packetResendMeter.Mark(1)
			logger.Debug("Packet resent", "module", p.env.Module, "tag", p.env.Tag,
				"left", p.resends)
			continue
		}

		pending.remove(p.env.PacketID)

		var reply *packet.Envelope
		if p.env.Fallback != nil {
			// Pre-baked benign reply: aggregation proceeds with an
			// empty-but-valid partial result.
			reply = p.env.Reply(packet.StatusOK, p.env.Fallback)
			packetFallbackMeter.Mark(1)
			logger.Debug("Substituting fallback for silent module",
				"module", p.env.Module, "tag", p.env.Tag)
		} else {
			reply = p.env.Reply(packet.StatusTimeout, nil)
			packetTimeoutMeter.Mark(1)
			logger.Warn("Packet timed out", "module", p.env.Module, "tag", p.env.Tag)
		}
		req.Deliver(reply)
	}
}

package dispatch

import (
	"errors"
	"time"

	"github.com/fleetnav/navserver/packet"
)

// ErrTransportClosed is returned by transport operations after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport is the backend IPC boundary the dispatcher drives: fire-and-
// forget sends addressed by module type, and a bounded wait for whatever
// reply arrives next, from any module, in any order.
type Transport interface {
	// Send hands an envelope to its destination module.
	Send(env *packet.Envelope) error

	// Receive waits up to timeout for the next reply. It returns nil, nil
	// when the timeout passes with nothing arriving.
	Receive(timeout time.Duration) (*packet.Envelope, error)
}

// Handler serves one module type on a loopback transport. Returning nil
// simulates a module that never answers.
type Handler func(env *packet.Envelope) *packet.Envelope

// Loopback is an in-process transport: sends are served by per-module
// handlers on a worker pool and replies funnel through a single receive
// queue, preserving the any-order delivery the engine has to cope with.
// It backs the tests and the standalone simulator mode.
type Loopback struct {
	handlers map[packet.ModuleType]Handler
	pool     *Pool
	replies  chan *packet.Envelope
	closed   chan struct{}
}

const loopbackBacklog = 256

// NewLoopback creates an empty loopback transport.
func NewLoopback(workers int) *Loopback {
	return &Loopback{
		handlers: make(map[packet.ModuleType]Handler),
		pool:     NewPool(workers),
		replies:  make(chan *packet.Envelope, loopbackBacklog),
		closed:   make(chan struct{}),
	}
}

// Handle registers the handler serving a module type. Not safe to call once
// traffic is flowing.
func (l *Loopback) Handle(module packet.ModuleType, handler Handler) {
	l.handlers[module] = handler
}

// Send schedules the envelope on its module's handler. A module with no
// handler answers NotOK, mirroring a pool with no such module registered.
func (l *Loopback) Send(env *packet.Envelope) error {
	select {
	case <-l.closed:
		return ErrTransportClosed
	default:
	}

	handler := l.handlers[env.Module]
	l.pool.Run(func() {
		var reply *packet.Envelope
		if handler == nil {
			reply = env.Reply(packet.StatusNotOK, nil)
		} else {
			reply = handler(env)
		}
		if reply == nil {
			// Silent module: the dispatcher's timeout policy takes over.
			return
		}
		select {
		case l.replies <- reply:
		case <-l.closed:
		}
	})

	return nil
}

// Receive waits for the next reply.
func (l *Loopback) Receive(timeout time.Duration) (*packet.Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-l.replies:
		return reply, nil
	case <-timer.C:
		return nil, nil
	case <-l.closed:
		return nil, ErrTransportClosed
	}
}

// Close shuts the transport down and drains the worker pool.
func (l *Loopback) Close() {
	close(l.closed)
	l.pool.Stop()
}

// Package request implements the asynchronous multi-packet aggregation
// engine. A Request is a stateful unit of work that produces a lazy stream of
// outbound packets, consumes replies in whatever order the module pool
// delivers them, and eventually exposes a terminal answer or error through
// its status code. Requests never block and are driven by a single
// dispatcher at a time.
package request

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/fleetnav/navserver/packet"
)

// Request is the pull-based contract between a unit of work and the
// dispatcher driving it. NextPacket and Deliver must be called from one
// logical driver at a time; there is no internal locking because there is no
// concurrent mutation.
type Request interface {
	// NextPacket returns the next outbound packet ready to send, or nil
	// when the request is waiting on already-sent packets before it can
	// decide what to send next.
	NextPacket() *packet.Envelope

	// Deliver feeds one inbound reply, or a synthesized timeout record,
	// back into the request.
	Deliver(reply *packet.Envelope)

	// Done reports whether a terminal answer or error has been produced.
	Done() bool

	// Answer returns the terminal result and transfers ownership of it;
	// a second call returns nil. Valid only once Done reports true. A
	// request that ended in error returns nil and carries the reason in
	// Status.
	Answer() *Answer

	// Status is the terminal status code, StatusOK meaning success.
	Status() packet.Status

	// ID is the unique request ID assigned at creation.
	ID() uint32

	// Name is a short debug name for logging.
	Name() string
}

// Answer is the terminal result of a request. For send-style requests the
// payload is empty and only the status matters.
type Answer struct {
	Status  packet.Status
	Payload []byte
}

// Base carries the bookkeeping every concrete request shares: the request
// identity, the ordered buffer of not-yet-sent packets, the pending set of
// sent-but-unanswered ones, and the terminal answer slot. Packet IDs are
// drawn from the root of the request tree so that children nested inside a
// composite never collide with their parent.
type Base struct {
	id     uint32
	parent *Base

	packetID uint32

	queue    []*packet.Envelope // ordered, not yet handed to the dispatcher
	sent     int
	received int

	done   bool
	status packet.Status
	answer *Answer

	logger log.Logger
}

// NewBase creates the bookkeeping for a root request.
func NewBase(id uint32, name string) Base {
	return Base{
		id:     id,
		status: packet.StatusTimeout, // pessimistic until an answer lands
		logger: log.New("req", name, "reqid", id),
	}
}

// NewChildBase creates bookkeeping for a request owned by a composite
// parent. The child shares the parent's request ID and packet ID space.
func NewChildBase(parent *Base, name string) Base {
	return Base{
		id:     parent.id,
		parent: parent,
		status: packet.StatusTimeout,
		logger: parent.logger.New("sub", name),
	}
}

// ID returns the unique request ID, shared across a composite family.
func (b *Base) ID() uint32 {
	return b.id
}

// Log returns the contextual logger for this request.
func (b *Base) Log() log.Logger {
	return b.logger
}

// NextPacketID hands out the next packet ID, delegating to the root of the
// request tree so IDs stay unique across nested children.
func (b *Base) NextPacketID() uint32 {
	if b.parent != nil {
		return b.parent.NextPacketID()
	}
	b.packetID++
	return b.packetID
}

// Enqueue stamps the envelope with the request identity and buffers it for
// the dispatcher.
func (b *Base) Enqueue(env *packet.Envelope) {
	env.RequestID = b.id
	if env.PacketID == 0 {
		env.PacketID = b.NextPacketID()
	}
	b.queue = append(b.queue, env)
}

// NextPacket pops the next buffered envelope, or nil when nothing is ready.
func (b *Base) NextPacket() *packet.Envelope {
	if b.done || len(b.queue) == 0 {
		return nil
	}
	env := b.queue[0]
	b.queue = b.queue[1:]
	b.sent++
	return env
}

// MarkSent records one packet handed out past the buffered queue, for
// stages that release packets one acknowledgement at a time.
func (b *Base) MarkSent() {
	b.sent++
}

// MarkReceived records one consumed reply. Concrete requests call it at the
// top of Deliver.
func (b *Base) MarkReceived() {
	b.received++
}

// Outstanding is the number of replies still expected: queued plus sent
// minus received.
func (b *Base) Outstanding() int {
	return len(b.queue) + b.sent - b.received
}

// Sent returns the number of packets handed to the dispatcher.
func (b *Base) Sent() int {
	return b.sent
}

// Done reports whether the request reached a terminal state.
func (b *Base) Done() bool {
	return b.done
}

// Status returns the terminal status code.
func (b *Base) Status() packet.Status {
	return b.status
}

// Finish records the terminal answer and status. Once finished a request
// produces no further packets.
func (b *Base) Finish(status packet.Status, payload []byte) {
	b.status = status
	b.answer = &Answer{Status: status, Payload: payload}
	b.done = true
	b.queue = nil
}

// Fail records a terminal error without an answer.
func (b *Base) Fail(status packet.Status) {
	b.status = status
	b.answer = nil
	b.done = true
	b.queue = nil
}

// Answer transfers ownership of the terminal answer; the second caller gets
// nil.
func (b *Base) Answer() *Answer {
	ans := b.answer
	b.answer = nil
	return ans
}

package dispatch

import (
	"container/heap"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/fleetnav/navserver/packet"
)

// pendingPacket is one sent-but-unanswered envelope with its resend budget
// and next deadline.
type pendingPacket struct {
	env      *packet.Envelope
	deadline mclock.AbsTime
	resends  int // attempts left after the current one

	index int
}

// pendingSet tracks the outstanding envelopes of one dispatcher run: a map
// for reply correlation by packet ID and a deadline-ordered heap for
// timeout handling.
type pendingSet struct {
	byID map[uint32]*pendingPacket
	heap pendingHeap
}

func newPendingSet() *pendingSet {
	return &pendingSet{byID: make(map[uint32]*pendingPacket)}
}

func (s *pendingSet) len() int {
	return len(s.byID)
}

func (s *pendingSet) add(env *packet.Envelope, deadline mclock.AbsTime) {
	p := &pendingPacket{env: env, deadline: deadline, resends: env.Resends}
	s.byID[env.PacketID] = p
	heap.Push(&s.heap, p)
}

// remove untracks a packet by ID, returning nil when the ID is unknown
// (a stale or duplicate reply).
func (s *pendingSet) remove(packetID uint32) *pendingPacket {
	p, ok := s.byID[packetID]
	if !ok {
		return nil
	}
	delete(s.byID, packetID)
	heap.Remove(&s.heap, p.index)
	return p
}

// earliest peeks at the packet with the nearest deadline.
func (s *pendingSet) earliest() *pendingPacket {
	if len(s.heap) == 0 {
		return nil
	}
	return s.heap[0]
}

// reschedule pushes a packet's deadline forward after a resend.
func (s *pendingSet) reschedule(p *pendingPacket, deadline mclock.AbsTime) {
	p.deadline = deadline
	heap.Fix(&s.heap, p.index)
}

type pendingHeap []*pendingPacket

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	return h[i].deadline < h[j].deadline
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x interface{}) {
	p := x.(*pendingPacket)
	p.index = len(*h)
	*h = append(*h, p)
}

func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	p.index = -1 // for safety
	*h = old[0 : n-1]
	return p
}

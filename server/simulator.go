package server

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/fleetnav/navserver/dispatch"
	"github.com/fleetnav/navserver/packet"
	"github.com/fleetnav/navserver/request"
)

// RegisterSimulator installs deterministic stand-ins for the backend module
// pool on a loopback transport. It backs the standalone mode and the
// integration tests: every module answers from its request payload alone, so
// identical requests always produce identical answers.
func RegisterSimulator(l *dispatch.Loopback) {
	l.Handle(packet.ModuleMap, simMap)
	l.Handle(packet.ModuleRoute, simRoute)
	l.Handle(packet.ModuleGfx, simGfx)
	l.Handle(packet.ModuleTraffic, simTraffic)
	l.Handle(packet.ModuleSMTP, simAck)
	l.Handle(packet.ModuleUser, simAck)
	l.Handle(packet.ModuleSMS, simAck)
}

// simMap serves both coverage lookups (16-byte bounding box) and feature
// fetches. Coverage is derived from the box so the same view always hits the
// same simulated maps.
func simMap(env *packet.Envelope) *packet.Envelope {
	if len(env.Payload) == 16 {
		seed := crc32.ChecksumIEEE(env.Payload)
		ids := []uint32{seed%100 + 1, seed%100 + 2}
		return env.Reply(packet.StatusOK, request.EncodeMapIDs(ids))
	}

	mapID := uint32(0)
	if len(env.Payload) >= 4 {
		mapID = binary.BigEndian.Uint32(env.Payload)
	}
	return env.Reply(packet.StatusOK, []byte(fmt.Sprintf("features(map=%d)\n", mapID)))
}

func simRoute(env *packet.Envelope) *packet.Envelope {
	return env.Reply(packet.StatusOK,
		[]byte("Turn left onto Main St\nTurn right onto 2nd Ave\nYou have arrived\n"))
}

// simGfx "renders" by checksumming the merged feature data, which keeps the
// merge-order invariant observable end to end.
func simGfx(env *packet.Envelope) *packet.Envelope {
	sum := crc32.ChecksumIEEE(env.Payload)
	return env.Reply(packet.StatusOK, []byte(fmt.Sprintf("png:%08x", sum)))
}

func simTraffic(env *packet.Envelope) *packet.Envelope {
	return env.Reply(packet.StatusOK, []byte{})
}

func simAck(env *packet.Envelope) *packet.Envelope {
	return env.Reply(packet.StatusOK, nil)
}

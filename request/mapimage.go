package request

import (
	"encoding/binary"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/fleetnav/navserver/packet"
)

var (
	mapImageDuplicateMeter = metrics.NewRegisteredMeter("navserver/request/mapimage/duplicates", nil)
	mapImageDroppedMeter   = metrics.NewRegisteredMeter("navserver/request/mapimage/dropped", nil)
)

// BoundingBox is a latitude/longitude box in the internal coordinate space.
// A box whose MinLon exceeds its MaxLon wraps around the antimeridian and is
// swept as two separate boxes.
type BoundingBox struct {
	MaxLat int32
	MinLon int32
	MinLat int32
	MaxLon int32
}

// Wraps reports whether the box straddles the antimeridian.
func (b BoundingBox) Wraps() bool {
	return b.MinLon > b.MaxLon
}

// split cuts a wrapping box into its two non-wrapping halves.
func (b BoundingBox) split() []BoundingBox {
	if !b.Wraps() {
		return []BoundingBox{b}
	}
	east, west := b, b
	east.MaxLon = 1<<31 - 1
	west.MinLon = -1 << 31
	return []BoundingBox{east, west}
}

// RouteLeg is one map-bound segment of a stored route.
type RouteLeg struct {
	MapID   uint32
	NodeIDs []uint32
}

// MapImageParams configures a MapImageRequest.
type MapImageParams struct {
	Bounds BoundingBox

	// CityCentres, when valid, adds an extra sweep for city-centre symbols.
	CityCentres *BoundingBox

	// Route, when non-empty, adds one route-category packet per leg.
	Route []RouteLeg

	// ShowTraffic adds an info-module packet per covered map, each with an
	// empty fallback payload so a silent traffic module degrades to "no
	// overlay" instead of failing the image.
	ShowTraffic bool

	// Render, when set, sends the merged feature data to the gfx module
	// and the rendered image becomes the answer. Otherwise the merged
	// feature data itself is the answer.
	Render bool

	ScreenWidth  uint16
	ScreenHeight uint16

	// Recoverable decides which reply statuses count as absence of data.
	// Nil means packet.DefaultRecoverable.
	Recoverable packet.RecoverablePolicy

	// AllowedMaps restricts which map IDs are fetched; nil allows all.
	AllowedMaps map[uint32]bool
}

// packetKind classifies a pending packet so its reply is dispatched exactly
// once, at the boundary, instead of being re-examined at every call site.
type packetKind uint8

const (
	kindBBox packetKind = iota
	kindMap
	kindInfo
	kindRoute
	kindRender
)

// MapImageRequest aggregates a map image from many backend replies: one
// bounding-box lookup per sweep, then one map-fetch packet per covered map
// (plus traffic overlays and route legs), and finally an optional render
// round trip. Replies are correlated by tag and merged in tag order so the
// output is byte-identical for every arrival order; downstream clients
// checksum the result for caching.
type MapImageRequest struct {
	Base

	params MapImageParams
	alloc  packet.TagAllocator

	kinds   map[uint32]packetKind // pending packet ID -> kind
	replies []*packet.Envelope    // accumulated data replies, unordered
}

// NewMapImageRequest builds a standalone map image request.
func NewMapImageRequest(id uint32, params MapImageParams) *MapImageRequest {
	r := &MapImageRequest{
		Base:   NewBase(id, "mapimage"),
		params: params,
		kinds:  make(map[uint32]packetKind),
	}
	r.start()
	return r
}

// newChildMapImage builds a map image request owned by a composite parent.
func newChildMapImage(parent *Base, params MapImageParams) *MapImageRequest {
	r := &MapImageRequest{
		Base:   NewChildBase(parent, "mapimage"),
		params: params,
		kinds:  make(map[uint32]packetKind),
	}
	r.start()
	return r
}

func (r *MapImageRequest) Name() string { return "mapimage" }

func (r *MapImageRequest) start() {
	if r.params.Recoverable == nil {
		r.params.Recoverable = packet.DefaultRecoverable
	}
	r.makeInitialSweeps()
	r.makeRoutePackets()

	// Nothing to wait for at all, e.g. an empty route with no sweeps.
	if r.Outstanding() == 0 {
		r.merge()
	}
}

// makeInitialSweeps issues one bounding-box lookup per sweep. Wrapping boxes
// are swept twice to avoid querying the backside of the earth.
func (r *MapImageRequest) makeInitialSweeps() {
	boxes := r.params.Bounds.split()
	if cc := r.params.CityCentres; cc != nil {
		boxes = append(boxes, cc.split()...)
	}
	for _, box := range boxes {
		tag := r.alloc.NextSweep()
		env := &packet.Envelope{
			Module:  packet.ModuleMap,
			Tag:     tag,
			Payload: encodeBBox(box),
			Timeout: packet.DefaultTimeout,
			Resends: packet.DefaultResends,
		}
		r.Enqueue(env)
		r.kinds[env.PacketID] = kindBBox
	}
}

// makeRoutePackets issues one route-category map fetch per leg. The leg
// index is the tag ordinal; only the order matters for the merge.
func (r *MapImageRequest) makeRoutePackets() {
	for i, leg := range r.params.Route {
		if !r.allowed(leg.MapID) {
			r.Log().Debug("Skipping route leg on disallowed map", "map", leg.MapID)
			continue
		}
		env := &packet.Envelope{
			Module:  packet.ModuleMap,
			Tag:     packet.RouteTag(uint32(i)),
			Payload: encodeRouteLeg(leg),
			Timeout: packet.DefaultTimeout,
			Resends: packet.DefaultResends,
		}
		r.Enqueue(env)
		r.kinds[env.PacketID] = kindRoute
	}
}

// Deliver consumes one reply or synthesized timeout record.
func (r *MapImageRequest) Deliver(reply *packet.Envelope) {
	if r.Done() {
		r.Log().Error("Reply delivered to finished map image request", "tag", reply.Tag)
		return
	}
	kind, ok := r.kinds[reply.PacketID]
	if !ok {
		// A retransmitted reply for a packet already consumed; it must
		// not advance the outstanding count.
		mapImageDuplicateMeter.Mark(1)
		r.Log().Warn("Reply for unknown packet", "packet", reply.PacketID, "tag", reply.Tag)
		return
	}
	delete(r.kinds, reply.PacketID)
	r.MarkReceived()

	switch kind {
	case kindBBox:
		r.handleBBoxReply(reply)

	case kindMap, kindInfo, kindRoute:
		if r.params.Recoverable(reply.Status) {
			// Absence of data, not failure: the tile is simply left out
			// of the merge.
			mapImageDroppedMeter.Mark(1)
			r.Log().Debug("Dropping absent map reply", "tag", reply.Tag, "status", reply.Status)
			break
		}
		r.replies = append(r.replies, reply)

	case kindRender:
		if reply.Status != packet.StatusOK {
			r.Fail(reply.Status)
			return
		}
		r.Finish(packet.StatusOK, reply.Payload)
		return
	}

	if r.Outstanding() == 0 {
		r.merge()
	}
}

// handleBBoxReply fans the sweep out into per-map fetches, and traffic
// overlay fetches when requested.
func (r *MapImageRequest) handleBBoxReply(reply *packet.Envelope) {
	if reply.Status != packet.StatusOK {
		// A failed sweep means the whole request cannot know its map
		// coverage; record it like any hard failure.
		r.replies = append(r.replies, reply)
		return
	}
	mapIDs := decodeMapIDs(reply.Payload)
	sweep := packet.SweepTag(reply.Tag.Sweep())

	count := uint32(0)
	for _, mapID := range mapIDs {
		if !r.allowed(mapID) {
			continue
		}
		env := &packet.Envelope{
			Module:  packet.ModuleMap,
			Tag:     sweep.WithOrdinal(count),
			Payload: encodeMapFetch(mapID, r.params.Bounds),
			Timeout: packet.DefaultTimeout,
			Resends: packet.DefaultResends,
		}
		r.Enqueue(env)
		r.kinds[env.PacketID] = kindMap
		count++
	}

	if r.params.ShowTraffic {
		for _, mapID := range mapIDs {
			if !r.allowed(mapID) {
				continue
			}
			env := &packet.Envelope{
				Module:   packet.ModuleTraffic,
				Tag:      packet.InfoTag(sweep, count),
				Payload:  encodeMapFetch(mapID, r.params.Bounds),
				Fallback: []byte{}, // empty overlay is a valid answer
				Timeout:  packet.DefaultTimeout,
				Resends:  2,
			}
			r.Enqueue(env)
			r.kinds[env.PacketID] = kindInfo
			count++
		}
	}
}

// merge runs once the last outstanding reply has arrived: it validates the
// accumulated replies, sorts them by tag for a reproducible concatenation,
// and either finishes or stages the render round trip.
func (r *MapImageRequest) merge() {
	// A single hard failure fails the stage with the first such status.
	for _, reply := range r.replies {
		if reply.Status != packet.StatusOK {
			r.Log().Warn("Not all map replies were OK", "status", reply.Status, "tag", reply.Tag)
			r.Fail(reply.Status)
			return
		}
	}

	// Sort for the same checksum each time, independent of arrival order.
	// Stable, so among same-tag duplicates the earliest arrival wins.
	sort.SliceStable(r.replies, func(i, j int) bool {
		return r.replies[i].Tag.Less(r.replies[j].Tag)
	})

	// Clients sometimes retransmit the same tile twice; keep the
	// first-seen reply per tag and log the rest.
	seen := mapset.NewThreadUnsafeSet[packet.Tag]()
	merged := make([]byte, 0)
	for _, reply := range r.replies {
		if !seen.Add(reply.Tag) {
			mapImageDuplicateMeter.Mark(1)
			r.Log().Warn("Duplicate map reply dropped from merge", "tag", reply.Tag)
			continue
		}
		merged = append(merged, reply.Payload...)
	}
	r.replies = nil

	if !r.params.Render {
		r.Finish(packet.StatusOK, merged)
		return
	}

	env := &packet.Envelope{
		Module:  packet.ModuleGfx,
		Tag:     r.alloc.NextSweep(),
		Payload: merged,
		Timeout: packet.DefaultTimeout,
		Resends: 2,
	}
	r.Enqueue(env)
	r.kinds[env.PacketID] = kindRender
}

func (r *MapImageRequest) allowed(mapID uint32) bool {
	if r.params.AllowedMaps == nil {
		return true
	}
	return r.params.AllowedMaps[mapID]
}

// Module boundary formats. The payloads stay opaque to the dispatcher; only
// the map module and this request agree on them.

func encodeBBox(b BoundingBox) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:], uint32(b.MaxLat))
	binary.BigEndian.PutUint32(buf[4:], uint32(b.MinLon))
	binary.BigEndian.PutUint32(buf[8:], uint32(b.MinLat))
	binary.BigEndian.PutUint32(buf[12:], uint32(b.MaxLon))
	return buf
}

// EncodeMapIDs builds a bounding-box reply payload: a count followed by the
// covered map IDs. Exported for transports and backend simulators.
func EncodeMapIDs(ids []uint32) []byte {
	buf := make([]byte, 4+4*len(ids))
	binary.BigEndian.PutUint32(buf, uint32(len(ids)))
	for i, id := range ids {
		binary.BigEndian.PutUint32(buf[4+4*i:], id)
	}
	return buf
}

func decodeMapIDs(payload []byte) []uint32 {
	if len(payload) < 4 {
		return nil
	}
	n := binary.BigEndian.Uint32(payload)
	if uint32(len(payload)-4)/4 < n {
		return nil
	}
	ids := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		ids = append(ids, binary.BigEndian.Uint32(payload[4+4*i:]))
	}
	return ids
}

func encodeMapFetch(mapID uint32, b BoundingBox) []byte {
	buf := make([]byte, 4, 20)
	binary.BigEndian.PutUint32(buf, mapID)
	return append(buf, encodeBBox(b)...)
}

func encodeRouteLeg(leg RouteLeg) []byte {
	buf := make([]byte, 8+4*len(leg.NodeIDs))
	binary.BigEndian.PutUint32(buf, leg.MapID)
	binary.BigEndian.PutUint32(buf[4:], uint32(len(leg.NodeIDs)))
	for i, id := range leg.NodeIDs {
		binary.BigEndian.PutUint32(buf[8+4*i:], id)
	}
	return buf
}

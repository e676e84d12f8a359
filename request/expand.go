package request

import (
	"bytes"
	"encoding/binary"

	"github.com/fleetnav/navserver/packet"
)

// ExpandRouteRequest fetches a stored route from the route module and
// expands it into turn-by-turn items. It is a single round trip, used both
// standalone and as the seed of a RouteMessageRequest.
type ExpandRouteRequest struct {
	Base

	routeID    uint32
	createTime uint32
}

// NewExpandRouteRequest builds a standalone expand request.
func NewExpandRouteRequest(id, routeID, createTime uint32) *ExpandRouteRequest {
	r := &ExpandRouteRequest{
		Base:       NewBase(id, "expandroute"),
		routeID:    routeID,
		createTime: createTime,
	}
	r.start()
	return r
}

// NewChildExpandRoute builds an expand request owned by a composite parent.
func NewChildExpandRoute(parent *Base, routeID, createTime uint32) *ExpandRouteRequest {
	r := &ExpandRouteRequest{
		Base:       NewChildBase(parent, "expandroute"),
		routeID:    routeID,
		createTime: createTime,
	}
	r.start()
	return r
}

func (r *ExpandRouteRequest) Name() string { return "expandroute" }

func (r *ExpandRouteRequest) start() {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf, r.routeID)
	binary.BigEndian.PutUint32(buf[4:], r.createTime)
	r.Enqueue(&packet.Envelope{
		Module:  packet.ModuleRoute,
		Tag:     packet.SweepTag(1),
		Payload: buf,
		Timeout: packet.DefaultTimeout,
		Resends: packet.DefaultResends,
	})
}

// Deliver consumes the single expand reply.
func (r *ExpandRouteRequest) Deliver(reply *packet.Envelope) {
	if r.Done() {
		return
	}
	r.MarkReceived()

	if reply.Status != packet.StatusOK {
		r.Fail(reply.Status)
		return
	}
	r.Finish(packet.StatusOK, reply.Payload)
}

// Turns splits an expand reply payload into its turn descriptions. The route
// module answers with newline-separated turn items.
func Turns(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	lines := bytes.Split(bytes.TrimRight(payload, "\n"), []byte("\n"))
	turns := make([]string, 0, len(lines))
	for _, line := range lines {
		turns = append(turns, string(line))
	}
	return turns
}

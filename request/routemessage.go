package request

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fleetnav/navserver/packet"
)

// routeValidityExtension is how far a delivered route's expiry is bumped
// after its message went out.
const routeValidityExtension = 30 * 24 * time.Hour

// MessageBundle is the boilerplate set wrapped around route turns when a
// message is composed: format strings plus the static resources every
// message embeds. Bundles come from explicit configuration, never globals.
type MessageBundle struct {
	StartFmt    string // opens the first message
	RestartFmt  string // opens each continuation message
	TurnFmt     string // one per route turn, %s for the description
	PreLandFmt  string // landmark before the turn, %s for the name
	PostLandFmt string // landmark after the turn, %s for the name
	EndFmt      string // closes the final message
	ContFmt     string // closes each continued message

	Resources []Resource
}

// Valid reports whether the bundle carries everything composition needs.
// A partial bundle is a configuration error, caught before any packet is
// sent.
func (b *MessageBundle) Valid() bool {
	return b != nil &&
		b.StartFmt != "" && b.RestartFmt != "" && b.TurnFmt != "" &&
		b.EndFmt != "" && b.ContFmt != ""
}

// Turn is one turn-by-turn item of an expanded route, with the optional
// landmarks flanking it.
type Turn struct {
	Description  string
	PreLandmark  string
	PostLandmark string
	Bounds       BoundingBox
}

// RouteMessageParams configures a RouteMessageRequest.
type RouteMessageParams struct {
	To      string
	From    string
	Subject string

	Bundle *MessageBundle

	Turns    []Turn
	Overview BoundingBox

	// MakeImages renders one map image per turn plus an overview and
	// embeds them in the composed message.
	MakeImages bool

	// SendEmail queues the composed messages to the SMTP module. Without
	// it the request finishes with the composed payload as its answer.
	SendEmail bool

	// MaxMessageSize and MaxParts bound each composed message; zero means
	// unbounded.
	MaxMessageSize int
	MaxParts       int

	// RouteID and RouteCreateTime, when set, trigger a best-effort expiry
	// bump in route storage after the message is delivered.
	RouteID         uint32
	RouteCreateTime uint32

	ScreenWidth  uint16
	ScreenHeight uint16

	// Recoverable is passed through to the child image requests. Nil
	// means packet.DefaultRecoverable.
	Recoverable packet.RecoverablePolicy
}

// rmState is the composite's stage. Transitions are strictly forward,
// except that the error state is reachable from every non-terminal one.
type rmState uint8

const (
	stateInitial rmState = iota
	stateImageRequests
	stateEmailRequest
	stateUpdateRoute
	stateDone
	stateError
)

func (s rmState) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateImageRequests:
		return "image-requests"
	case stateEmailRequest:
		return "email-request"
	case stateUpdateRoute:
		return "update-route"
	case stateDone:
		return "done"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

// RouteMessageRequest drives the full route-notification workflow: render a
// map image per route turn plus an overview, compose the size-bounded
// message run, mail the messages one ack at a time, then bump the stored
// route's expiry. It owns its child requests exclusively; exactly one child
// is active at a time and packet IDs are drawn from the shared root space.
type RouteMessageRequest struct {
	Base

	params RouteMessageParams
	alloc  packet.TagAllocator
	state  rmState

	images  []*MapImageRequest
	imgData [][]byte // child answers, nil where rendering failed
	current int

	emailQueue []*packet.Envelope
	nextEmail  *packet.Envelope
}

// NewRouteMessageRequest builds and starts the composite. An invalid bundle
// moves it straight to the error state before any packet is produced.
func NewRouteMessageRequest(id uint32, params RouteMessageParams) *RouteMessageRequest {
	r := &RouteMessageRequest{
		Base:   NewBase(id, "routemessage"),
		params: params,
		state:  stateInitial,
	}
	r.start()
	return r
}

func (r *RouteMessageRequest) Name() string { return "routemessage" }

func (r *RouteMessageRequest) start() {
	if !r.params.Bundle.Valid() {
		// Configuration error, not a transient one: be loud.
		r.Log().Error("Route message bundle is incomplete, aborting before send")
		r.toError(packet.StatusNotOK)
		return
	}

	if r.params.MakeImages {
		// One image per turn plus the overview, rendered sequentially.
		r.images = append(r.images, newChildMapImage(&r.Base, MapImageParams{
			Bounds:       r.params.Overview,
			Render:       true,
			ScreenWidth:  r.params.ScreenWidth,
			ScreenHeight: r.params.ScreenHeight,
			Recoverable:  r.params.Recoverable,
		}))
		for _, turn := range r.params.Turns {
			r.images = append(r.images, newChildMapImage(&r.Base, MapImageParams{
				Bounds:       turn.Bounds,
				Render:       true,
				ScreenWidth:  r.params.ScreenWidth,
				ScreenHeight: r.params.ScreenHeight,
				Recoverable:  r.params.Recoverable,
			}))
		}
		r.imgData = make([][]byte, len(r.images))
		r.state = stateImageRequests
		return
	}

	r.composeAndMail()
}

// NextPacket delegates to whichever stage is active.
func (r *RouteMessageRequest) NextPacket() *packet.Envelope {
	switch r.state {
	case stateImageRequests:
		if r.current < len(r.images) {
			return r.images[r.current].NextPacket()
		}
		return nil

	case stateEmailRequest:
		env := r.nextEmail
		if env != nil {
			r.nextEmail = nil
			r.MarkSent()
		}
		return env

	case stateUpdateRoute:
		return r.Base.NextPacket()

	case stateDone, stateError:
		return nil

	default:
		r.Log().Error("NextPacket called in wrong state", "state", r.state)
		return nil
	}
}

// Deliver feeds a reply into the active stage and advances the state
// machine when the stage completes.
func (r *RouteMessageRequest) Deliver(reply *packet.Envelope) {
	switch r.state {
	case stateImageRequests:
		r.deliverImage(reply)

	case stateEmailRequest:
		r.deliverEmailAck(reply)

	case stateUpdateRoute:
		r.MarkReceived()
		// Best-effort housekeeping: the caller's answer does not depend
		// on whether the expiry bump landed.
		if reply.Status != packet.StatusOK {
			r.Log().Debug("Route expiry update failed", "status", reply.Status)
		}
		r.state = stateDone
		r.Finish(packet.StatusOK, nil)

	case stateDone, stateError:
		r.Log().Error("Reply delivered in terminal state", "state", r.state, "tag", reply.Tag)

	default:
		r.Log().Error("Reply delivered in wrong state", "state", r.state, "tag", reply.Tag)
	}
}

// deliverImage forwards the reply to the current child and advances to the
// next child, or to composition, as children finish.
func (r *RouteMessageRequest) deliverImage(reply *packet.Envelope) {
	if r.current >= len(r.images) {
		r.Log().Error("Image reply after all images finished", "tag", reply.Tag)
		return
	}

	child := r.images[r.current]
	child.Deliver(reply)
	if !child.Done() {
		return
	}

	if ans := child.Answer(); ans != nil && ans.Status == packet.StatusOK {
		r.imgData[r.current] = ans.Payload
	} else {
		// A missing image degrades the message, it does not fail it.
		r.Log().Warn("Map image rendering failed, omitting from message",
			"image", r.current, "status", child.Status())
	}

	r.current++
	r.Log().Debug("Image request done", "finished", r.current, "total", len(r.images))
	if r.current >= len(r.images) {
		r.composeAndMail()
	}
}

// composeAndMail assembles the message run from turn texts and rendered
// images, then either queues the emails or finishes with the composed
// payload.
func (r *RouteMessageRequest) composeAndMail() {
	bundle := r.params.Bundle

	parts := make([]Part, 0, len(r.params.Turns))
	for i, turn := range r.params.Turns {
		var text []byte
		if turn.PreLandmark != "" && bundle.PreLandFmt != "" {
			text = append(text, fmt.Sprintf(bundle.PreLandFmt, turn.PreLandmark)...)
		}
		text = append(text, fmt.Sprintf(bundle.TurnFmt, turn.Description)...)
		if turn.PostLandmark != "" && bundle.PostLandFmt != "" {
			text = append(text, fmt.Sprintf(bundle.PostLandFmt, turn.PostLandmark)...)
		}
		part := Part{Text: text}
		// Image index 0 is the overview, turn images follow.
		if r.params.MakeImages && r.imgData != nil && r.imgData[i+1] != nil {
			part.Resources = []Resource{{
				URI:  fmt.Sprintf("turn%d.png", i),
				Data: r.imgData[i+1],
			}}
		}
		parts = append(parts, part)
	}

	header := []byte(bundle.StartFmt)
	messages := Compose(ComposerConfig{
		Header:          header,
		RestartHeader:   []byte(bundle.RestartFmt),
		ContinuedFooter: []byte(bundle.ContFmt),
		EndFooter:       []byte(bundle.EndFmt),
		MaxSize:         r.params.MaxMessageSize,
		MaxParts:        r.params.MaxParts,
	}, parts)

	// The overview image and the bundle's static resources ride on the
	// first message only.
	if r.params.MakeImages && r.imgData != nil && r.imgData[0] != nil {
		messages[0].Resources = append([]Resource{{
			URI:  "overview.png",
			Data: r.imgData[0],
		}}, messages[0].Resources...)
	}
	messages[0].Resources = append(messages[0].Resources, bundle.Resources...)

	if !r.params.SendEmail {
		var payload []byte
		for _, msg := range messages {
			payload = append(payload, msg.Body...)
		}
		r.state = stateDone
		r.Finish(packet.StatusOK, payload)
		return
	}

	r.alloc.NextSweep()
	for _, msg := range messages {
		env := &packet.Envelope{
			Module:   packet.ModuleSMTP,
			Tag:      r.alloc.Next(),
			Payload:  encodeEmail(r.params.To, r.params.From, r.params.Subject, msg),
			Timeout:  packet.DefaultTimeout,
			Resends:  2,
			PacketID: r.NextPacketID(),
		}
		env.RequestID = r.ID()
		r.emailQueue = append(r.emailQueue, env)
	}

	// One part at a time: the next one is released only on an OK ack.
	r.nextEmail = r.emailQueue[0]
	r.emailQueue = r.emailQueue[1:]
	r.state = stateEmailRequest
}

// deliverEmailAck releases the next message part on an OK ack, or moves on
// to the expiry update once all parts are delivered.
func (r *RouteMessageRequest) deliverEmailAck(ack *packet.Envelope) {
	r.MarkReceived()

	if ack.Status != packet.StatusOK {
		r.Log().Warn("Email send failed", "status", ack.Status)
		r.toError(ack.Status)
		return
	}

	if len(r.emailQueue) > 0 {
		r.nextEmail = r.emailQueue[0]
		r.emailQueue = r.emailQueue[1:]
		return
	}

	if r.params.RouteID != 0 && r.params.RouteCreateTime != 0 {
		r.stageRouteUpdate()
		return
	}

	r.state = stateDone
	r.Finish(packet.StatusOK, nil)
}

// stageRouteUpdate issues the single best-effort packet that bumps the
// stored route's validity.
func (r *RouteMessageRequest) stageRouteUpdate() {
	validUntil := uint32(time.Now().Add(routeValidityExtension).Unix())

	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf, r.params.RouteID)
	binary.BigEndian.PutUint32(buf[4:], r.params.RouteCreateTime)
	binary.BigEndian.PutUint32(buf[8:], validUntil)

	r.Enqueue(&packet.Envelope{
		Module:  packet.ModuleUser,
		Tag:     r.alloc.Next(),
		Payload: buf,
		Timeout: packet.DefaultTimeout,
		Resends: 1,
	})
	r.state = stateUpdateRoute
}

func (r *RouteMessageRequest) toError(status packet.Status) {
	r.state = stateError
	r.Fail(status)
}

// encodeEmail is the SMTP module boundary format: a textual header block
// followed by the body and the attached resources.
func encodeEmail(to, from, subject string, msg *Message) []byte {
	buf := make([]byte, 0, msg.Size()+128)
	buf = append(buf, fmt.Sprintf("To: %s\nFrom: %s\nSubject: %s\nParts: %d\n\n",
		to, from, subject, len(msg.Resources))...)
	buf = append(buf, msg.Body...)
	for _, res := range msg.Resources {
		buf = append(buf, fmt.Sprintf("\n--attach %s %d\n", res.URI, len(res.Data))...)
		buf = append(buf, res.Data...)
	}
	return buf
}

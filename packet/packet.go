// Package packet defines the unit of work exchanged with backend compute
// modules: an opaque payload addressed to a module type, correlated back to
// its originating request by a composite tag.
package packet

import "time"

// ModuleType identifies the backend module a packet is addressed to. The
// enumeration is open; unknown values are routed but never interpreted.
type ModuleType uint8

const (
	ModuleInvalid ModuleType = iota
	ModuleMap                // map lookups and feature extraction
	ModuleRoute              // route calculation and expansion
	ModuleGfx                // map image rendering
	ModuleSMTP               // outbound email relay
	ModuleSMS                // outbound SMS relay
	ModuleTraffic            // traffic/info overlays
	ModuleUser               // user and route storage
)

func (m ModuleType) String() string {
	switch m {
	case ModuleMap:
		return "map"
	case ModuleRoute:
		return "route"
	case ModuleGfx:
		return "gfx"
	case ModuleSMTP:
		return "smtp"
	case ModuleSMS:
		return "sms"
	case ModuleTraffic:
		return "traffic"
	case ModuleUser:
		return "user"
	default:
		return "invalid"
	}
}

// Status is the reply status vocabulary shared by all modules.
type Status uint16

const (
	StatusOK          Status = 0
	StatusNotOK       Status = 1 // generic hard failure
	StatusTimeout     Status = 2 // no reply within the resend budget
	StatusMapNotFound Status = 3 // recoverable absence, not a failure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotOK:
		return "not ok"
	case StatusTimeout:
		return "timeout"
	case StatusMapNotFound:
		return "map not found"
	default:
		return "unknown"
	}
}

// RecoverablePolicy decides which non-OK statuses count as tolerable absence
// of data rather than failure of the whole aggregation stage. The boundary is
// product policy, so it is injectable rather than hard-coded.
type RecoverablePolicy func(Status) bool

// DefaultRecoverable treats a missing map as absence and everything else as
// failure.
func DefaultRecoverable(s Status) bool {
	return s == StatusMapNotFound
}

// Default per-attempt delivery policy, matching the module pool's historical
// behaviour.
const (
	DefaultTimeout = 5 * time.Second
	DefaultResends = 3
)

// Envelope is one outbound unit of work and, on the way back, the matching
// reply. Payloads are opaque to the aggregation engine.
type Envelope struct {
	Module ModuleType // destination backend kind
	Tag    Tag        // demultiplexing tag, unique within one request
	Status Status     // reply status, zero on the way out

	RequestID uint32 // owning request, for transport-level bookkeeping
	PacketID  uint32 // unique per packet, stable across resends

	Payload []byte

	// Fallback, when non-nil, is substituted for the payload if no reply
	// ever arrives, letting aggregation proceed with a benign empty result
	// instead of failing the request.
	Fallback []byte

	Timeout time.Duration // per-attempt timeout, zero means DefaultTimeout
	Resends int           // resend budget after the first attempt
}

// AttemptTimeout returns the per-attempt timeout with the default applied.
func (e *Envelope) AttemptTimeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultTimeout
	}
	return e.Timeout
}

// Reply builds the inbound counterpart of an outbound envelope, preserving
// the correlation identifiers.
func (e *Envelope) Reply(status Status, payload []byte) *Envelope {
	return &Envelope{
		Module:    e.Module,
		Tag:       e.Tag,
		Status:    status,
		RequestID: e.RequestID,
		PacketID:  e.PacketID,
		Payload:   payload,
	}
}

package dispatch

import (
	"bytes"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetnav/navserver/packet"
	"github.com/fleetnav/navserver/request"
)

// fakeTransport records sends and serves scripted replies. When its queue is
// empty, Receive advances the simulated clock by the full wait so timeout
// handling can be tested without real sleeping.
type fakeTransport struct {
	clock   *mclock.Simulated
	handler func(env *packet.Envelope) *packet.Envelope
	sends   []*packet.Envelope
	queue   []*packet.Envelope
}

func (t *fakeTransport) Send(env *packet.Envelope) error {
	t.sends = append(t.sends, env)
	if t.handler != nil {
		if reply := t.handler(env); reply != nil {
			t.queue = append(t.queue, reply)
		}
	}
	return nil
}

func (t *fakeTransport) Receive(timeout time.Duration) (*packet.Envelope, error) {
	if len(t.queue) > 0 {
		reply := t.queue[0]
		t.queue = t.queue[1:]
		return reply, nil
	}
	t.clock.Run(timeout)
	return nil, nil
}

// echoRequest is a minimal request collecting replies and concatenating
// their payloads on success.
type echoRequest struct {
	request.Base
	replies []*packet.Envelope
}

func newEchoRequest(envs ...*packet.Envelope) *echoRequest {
	r := &echoRequest{Base: request.NewBase(7, "echo")}
	for _, env := range envs {
		r.Enqueue(env)
	}
	return r
}

func (r *echoRequest) Name() string { return "echo" }

func (r *echoRequest) Deliver(reply *packet.Envelope) {
	r.MarkReceived()
	if reply.Status != packet.StatusOK {
		r.Fail(reply.Status)
		return
	}
	r.replies = append(r.replies, reply)
	if r.Outstanding() == 0 {
		var buf bytes.Buffer
		for _, rep := range r.replies {
			buf.Write(rep.Payload)
		}
		r.Finish(packet.StatusOK, buf.Bytes())
	}
}

func newTestDispatcher(handler func(env *packet.Envelope) *packet.Envelope) (*Dispatcher, *fakeTransport) {
	clock := new(mclock.Simulated)
	transport := &fakeTransport{clock: clock, handler: handler}
	return New(transport, WithClock(clock)), transport
}

func TestRunRoundTrip(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(func(env *packet.Envelope) *packet.Envelope {
		return env.Reply(packet.StatusOK, append([]byte("re:"), env.Payload...))
	})
	req := newEchoRequest(
		&packet.Envelope{Module: packet.ModuleMap, Payload: []byte("a")},
		&packet.Envelope{Module: packet.ModuleMap, Payload: []byte("b")},
	)

	answer, err := d.Run(req)
	require.NoError(t, err)
	require.NotNil(t, answer)
	assert.Equal(t, packet.StatusOK, answer.Status)
	assert.Equal(t, []byte("re:are:b"), answer.Payload)
}

func TestRunTimeoutStatus(t *testing.T) {
	t.Parallel()

	// No handler at all: the packet is never answered and the synthesized
	// reply must carry Timeout, not NotOK.
	d, _ := newTestDispatcher(nil)
	req := newEchoRequest(&packet.Envelope{
		Module:  packet.ModuleRoute,
		Timeout: 100 * time.Millisecond,
	})

	answer, err := d.Run(req)
	require.Error(t, err)
	assert.Nil(t, answer)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, packet.StatusTimeout, serr.Status)
}

func TestRunResendBudget(t *testing.T) {
	t.Parallel()

	d, transport := newTestDispatcher(nil)
	req := newEchoRequest(&packet.Envelope{
		Module:  packet.ModuleMap,
		Timeout: 100 * time.Millisecond,
		Resends: 2,
	})

	_, err := d.Run(req)
	require.Error(t, err)

	// Initial attempt plus two resends, all under the same tag.
	require.Len(t, transport.sends, 3)
	for _, env := range transport.sends[1:] {
		assert.Equal(t, transport.sends[0].Tag, env.Tag)
		assert.Equal(t, transport.sends[0].PacketID, env.PacketID)
	}
}

func TestRunFallbackSubstitution(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(nil)
	req := newEchoRequest(&packet.Envelope{
		Module:   packet.ModuleTraffic,
		Timeout:  50 * time.Millisecond,
		Fallback: []byte("empty"),
	})

	answer, err := d.Run(req)
	require.NoError(t, err)
	require.NotNil(t, answer)
	assert.Equal(t, packet.StatusOK, answer.Status)
	assert.Equal(t, []byte("empty"), answer.Payload)
}

func TestRunStaleReplyDiscarded(t *testing.T) {
	t.Parallel()

	d, transport := newTestDispatcher(func(env *packet.Envelope) *packet.Envelope {
		return env.Reply(packet.StatusOK, []byte("real"))
	})
	// A reply nobody asked for sits ahead of the real one.
	transport.queue = append(transport.queue, &packet.Envelope{
		PacketID: 9999,
		Status:   packet.StatusNotOK,
	})
	req := newEchoRequest(&packet.Envelope{Module: packet.ModuleMap})

	answer, err := d.Run(req)
	require.NoError(t, err)
	require.NotNil(t, answer)
	assert.Equal(t, []byte("real"), answer.Payload)
	assert.Len(t, req.replies, 1)
}

func TestRunStalledRequest(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(nil)
	req := newEchoRequest() // not done, nothing queued, nothing pending

	_, err := d.Run(req)
	require.ErrorIs(t, err, ErrStalled)
}

func TestLoopbackUnknownModule(t *testing.T) {
	t.Parallel()

	transport := NewLoopback(2)
	defer transport.Close()

	d := New(transport)
	req := newEchoRequest(&packet.Envelope{Module: packet.ModuleSMS})

	answer, err := d.Run(req)
	require.Error(t, err)
	assert.Nil(t, answer)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, packet.StatusNotOK, serr.Status)
}

func TestLoopbackRoundTrip(t *testing.T) {
	t.Parallel()

	transport := NewLoopback(2)
	defer transport.Close()
	transport.Handle(packet.ModuleMap, func(env *packet.Envelope) *packet.Envelope {
		return env.Reply(packet.StatusOK, []byte("tile"))
	})

	d := New(transport)
	req := newEchoRequest(&packet.Envelope{Module: packet.ModuleMap})

	answer, err := d.Run(req)
	require.NoError(t, err)
	require.NotNil(t, answer)
	assert.Equal(t, []byte("tile"), answer.Payload)
}

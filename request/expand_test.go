package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetnav/navserver/packet"
)

func TestExpandRouteRoundTrip(t *testing.T) {
	t.Parallel()

	r := NewExpandRouteRequest(5, 42, 1700000000)
	env := r.NextPacket()
	require.NotNil(t, env)
	assert.Equal(t, packet.ModuleRoute, env.Module)
	require.Nil(t, r.NextPacket())

	r.Deliver(env.Reply(packet.StatusOK, []byte("left at Main St\nright at 2nd Ave\n")))
	require.True(t, r.Done())

	answer := r.Answer()
	require.NotNil(t, answer)
	assert.Equal(t, []string{"left at Main St", "right at 2nd Ave"}, Turns(answer.Payload))
}

func TestExpandRouteNotFound(t *testing.T) {
	t.Parallel()

	r := NewExpandRouteRequest(5, 42, 1700000000)
	env := r.NextPacket()
	require.NotNil(t, env)

	r.Deliver(env.Reply(packet.StatusNotOK, nil))
	require.True(t, r.Done())
	assert.Equal(t, packet.StatusNotOK, r.Status())
	assert.Nil(t, r.Answer())
}

func TestTurnsEmptyPayload(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Turns(nil))
	assert.Nil(t, Turns([]byte{}))
	assert.Equal(t, []string{"straight on"}, Turns([]byte("straight on")))
}

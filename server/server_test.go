package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetnav/navserver/request"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	s := New(DefaultConfig())
	t.Cleanup(s.Stop)
	return s
}

func TestMapImageDeterministic(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	params := request.MapImageParams{
		Bounds: request.BoundingBox{MaxLat: 1000, MinLon: -1000, MinLat: -1000, MaxLon: 1000},
		Render: true,
	}

	first, err := s.MapImage(params)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// The simulator's render checksums the merged features, so any merge
	// order instability would show up here.
	second, err := s.MapImage(params)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExpandRoute(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	turns, err := s.ExpandRoute(42, 1700000000)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "Turn left onto Main St", turns[0])
}

func TestRouteMessageDryRun(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	body, err := s.RouteMessage(RouteMessageOptions{
		To:              "driver@example.com",
		RouteID:         42,
		RouteCreateTime: 1700000000,
		DryRun:          true,
	})
	require.NoError(t, err)
	assert.Contains(t, string(body), "Turn left onto Main St")
	assert.Contains(t, string(body), "You have arrived")
}

func TestRouteMessageEndToEnd(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	_, err := s.RouteMessage(RouteMessageOptions{
		To:              "driver@example.com",
		RouteID:         42,
		RouteCreateTime: 1700000000,
		MakeImages:      true,
	})
	require.NoError(t, err)
}

func TestRouteMessageUnknownContentType(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	_, err := s.RouteMessage(RouteMessageOptions{
		To:              "driver@example.com",
		RouteID:         42,
		RouteCreateTime: 1700000000,
		Content:         "pdf",
		DryRun:          true,
	})
	require.Error(t, err)
}

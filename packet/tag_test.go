package packet

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagLayout(t *testing.T) {
	t.Parallel()

	tag := SweepTag(3).WithOrdinal(17)
	assert.Equal(t, uint32(3), tag.Sweep())
	assert.Equal(t, uint32(17), tag.Ordinal())
	assert.Equal(t, CategoryPlain, tag.Category())

	info := InfoTag(SweepTag(3), 17)
	assert.Equal(t, CategoryInfo, info.Category())
	assert.Equal(t, uint32(17), info.Ordinal())

	route := RouteTag(5)
	assert.Equal(t, CategoryRoute, route.Category())
	assert.Equal(t, uint32(5), route.Ordinal())
}

func TestTagMergeOrder(t *testing.T) {
	t.Parallel()

	// Route replies sort after info replies, which sort after plain map
	// replies, regardless of ordinals.
	tags := []Tag{
		RouteTag(0),
		InfoTag(SweepTag(1), 0),
		SweepTag(1).WithOrdinal(2),
		SweepTag(1).WithOrdinal(0),
		InfoTag(SweepTag(1), 3),
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })

	want := []Tag{
		SweepTag(1).WithOrdinal(0),
		SweepTag(1).WithOrdinal(2),
		InfoTag(SweepTag(1), 0),
		InfoTag(SweepTag(1), 3),
		RouteTag(0),
	}
	assert.Equal(t, want, tags)
}

func TestTagAllocatorUniqueness(t *testing.T) {
	t.Parallel()

	var alloc TagAllocator

	seen := make(map[Tag]bool)

	alloc.NextSweep()
	for i := 0; i < 100; i++ {
		tag := alloc.Next()
		require.False(t, seen[tag], "tag %v allocated twice", tag)
		seen[tag] = true
	}

	alloc.NextSweep()
	for i := 0; i < 100; i++ {
		tag := alloc.Next()
		require.False(t, seen[tag], "tag %v collides across sweeps", tag)
		seen[tag] = true
	}
	for i := 0; i < 100; i++ {
		tag := alloc.NextInfo()
		require.False(t, seen[tag], "info tag %v collides", tag)
		seen[tag] = true
	}
}

func TestTagAllocatorSweepBounded(t *testing.T) {
	t.Parallel()

	var alloc TagAllocator
	for i := 0; i < 40; i++ {
		tag := alloc.NextSweep()
		sweep := tag.Sweep()
		require.NotZero(t, sweep, "sweep %d produced a zero tag", i)
		require.LessOrEqual(t, sweep, uint32(15))
		// The ordinal bits stay clean however often the field wraps.
		require.Zero(t, tag.Ordinal())
	}
}

func TestEnvelopeReply(t *testing.T) {
	t.Parallel()

	env := &Envelope{
		Module:    ModuleMap,
		Tag:       SweepTag(1).WithOrdinal(4),
		RequestID: 7,
		PacketID:  42,
	}
	reply := env.Reply(StatusOK, []byte("tile"))
	assert.Equal(t, env.Tag, reply.Tag)
	assert.Equal(t, env.PacketID, reply.PacketID)
	assert.Equal(t, StatusOK, reply.Status)
	assert.Equal(t, []byte("tile"), reply.Payload)
}

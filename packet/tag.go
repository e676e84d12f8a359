package packet

import "fmt"

// Request tags for sorting replies are laid out as follows:
// 4 bits of initial sweep count (bits 31-28), one route bit (27), one info
// bit (26) and 26 bits of packet ordinal that is or:ed in. Replies are merged
// in tag order, plain before info before route, so the concatenated result is
// byte-identical no matter in which order the module pool answered.
const (
	tagSweepShift = 28
	tagSweepMax   = 15 // the sweep field is 4 bits wide
	tagRouteBit   = 1 << 27
	tagInfoBit    = 1 << 26
	tagOrdinal    = tagInfoBit - 1
)

// Tag is the 32-bit composite correlation value carried by every packet.
type Tag uint32

// Category is the coarse tag discriminator used for merge ordering.
type Category uint8

const (
	CategoryPlain Category = iota
	CategoryInfo
	CategoryRoute
)

// SweepTag returns the base tag for the n:th independent bounding-box sweep.
// Ordinals within the sweep are or:ed onto it.
func SweepTag(n uint32) Tag {
	return Tag(n << tagSweepShift)
}

// RouteTag tags a route-sourced packet with its leg ordinal.
func RouteTag(ordinal uint32) Tag {
	return Tag(ordinal&tagOrdinal | tagRouteBit)
}

// InfoTag tags an info-sourced packet derived from the given sweep tag.
func InfoTag(sweep Tag, ordinal uint32) Tag {
	return sweep | Tag(ordinal&tagOrdinal) | tagInfoBit
}

// WithOrdinal ors a packet ordinal onto a sweep tag.
func (t Tag) WithOrdinal(ordinal uint32) Tag {
	return t | Tag(ordinal&tagOrdinal)
}

// Category extracts the coarse discriminator.
func (t Tag) Category() Category {
	switch {
	case t&tagRouteBit != 0:
		return CategoryRoute
	case t&tagInfoBit != 0:
		return CategoryInfo
	default:
		return CategoryPlain
	}
}

// Sweep extracts the sweep counter.
func (t Tag) Sweep() uint32 {
	return uint32(t) >> tagSweepShift
}

// Ordinal extracts the low-bits packet counter.
func (t Tag) Ordinal() uint32 {
	return uint32(t) & tagOrdinal
}

// Less orders tags category-major, then by raw value. This is the merge
// order: plain map replies first, then info, then route.
func (t Tag) Less(other Tag) bool {
	ct, co := t.Category(), other.Category()
	if ct != co {
		return ct < co
	}
	return t < other
}

func (t Tag) String() string {
	return fmt.Sprintf("%#08x", uint32(t))
}

// TagAllocator hands out tags for the packets one request stage creates.
// Ordinals are monotonic within a sweep; bumping the sweep keeps replies from
// independent bounding-box sweeps from colliding.
type TagAllocator struct {
	sweep   uint32
	ordinal uint32
}

// NextSweep starts a new sweep and returns its base tag. The first sweep is 1
// so a zero tag never appears on the wire. The 4-bit field wraps after 15
// sweeps; a single stage issues far fewer, so wrapped tags never coexist
// with their first incarnation.
func (a *TagAllocator) NextSweep() Tag {
	a.sweep = a.sweep%tagSweepMax + 1
	a.ordinal = 0
	return SweepTag(a.sweep)
}

// Next returns the next ordinal tag within the current sweep.
func (a *TagAllocator) Next() Tag {
	tag := SweepTag(a.sweep).WithOrdinal(a.ordinal)
	a.ordinal++
	return tag
}

// NextInfo returns the next info-category tag within the current sweep.
func (a *TagAllocator) NextInfo() Tag {
	tag := InfoTag(SweepTag(a.sweep), a.ordinal)
	a.ordinal++
	return tag
}

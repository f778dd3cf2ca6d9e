package logfs

import (
	"github.com/sushant-115/logfs/core/logfs/marker"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
)

// geometry does page arithmetic on the managed ring [first, first+pages).
type geometry struct {
	first    flash.PageID
	pages    int
	perBlock int
	pageSize int
	slotSize int
	slots    int
}

func newGeometry(cfg Config) geometry {
	return geometry{
		first:    flash.PageID(cfg.PageStart),
		pages:    cfg.PageCount(),
		perBlock: cfg.PagesPerBlock,
		pageSize: cfg.PageSize,
		slotSize: marker.RecordEntrySize(cfg.RecordSize),
		slots:    cfg.SlotsPerPage(),
	}
}

// add moves k pages forward (or backward when negative) around the ring.
func (g geometry) add(p flash.PageID, k int) flash.PageID {
	i := (int(p-g.first) + k) % g.pages
	if i < 0 {
		i += g.pages
	}
	return g.first + flash.PageID(i)
}

// distance is the number of forward steps from one page to another.
func (g geometry) distance(from, to flash.PageID) int {
	d := (int(to) - int(from)) % g.pages
	if d < 0 {
		d += g.pages
	}
	return d
}

func (g geometry) contains(p flash.PageID) bool {
	return p >= g.first && int(p-g.first) < g.pages
}

func (g geometry) aligned(p flash.PageID) bool { return int(p)%g.perBlock == 0 }

func (g geometry) blockStart(p flash.PageID) flash.PageID {
	return p - flash.PageID(int(p)%g.perBlock)
}

// alignUp returns p when it starts a block, else the start of the next block.
func (g geometry) alignUp(p flash.PageID) flash.PageID {
	if g.aligned(p) {
		return p
	}
	return g.add(g.blockStart(p), g.perBlock)
}

func (g geometry) slotOffset(i int) int { return marker.HeaderSize + i*g.slotSize }

func (g geometry) lastSlotOffset() int { return g.slotOffset(g.slots - 1) }

// medium is the whole managed ring as a span.
func (g geometry) medium() span { return span{start: g.first, count: g.pages} }

// span is a run of count pages starting at start, possibly wrapping the ring.
type span struct {
	start flash.PageID
	count int
}

// spanNext returns the page after p, or false past the end of the span.
func (g geometry) spanNext(s span, p flash.PageID) (flash.PageID, bool) {
	if g.distance(s.start, p)+1 >= s.count {
		return 0, false
	}
	return g.add(p, 1), true
}

// spanPrev returns the page before p, or false before the start of the span.
func (g geometry) spanPrev(s span, p flash.PageID) (flash.PageID, bool) {
	if p == s.start || g.distance(s.start, p) >= s.count {
		return 0, false
	}
	return g.add(p, -1), true
}

// spanLast returns the final page of a non-empty span.
func (g geometry) spanLast(s span) flash.PageID { return g.add(s.start, s.count-1) }

// position addresses a record slot. offset 0 means the page header has not
// been written yet.
type position struct {
	page   flash.PageID
	offset int
}

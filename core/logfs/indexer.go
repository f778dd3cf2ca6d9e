package logfs

import (
	"github.com/sushant-115/logfs/core/logfs/marker"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
)

// bounds is the logical start and end of a set of pages sharing a marker.
type bounds struct {
	first    flash.PageID
	last     flash.PageID
	firstHdr marker.PageHeader
	lastHdr  marker.PageHeader
	count    int
}

// scan visits up to steps pages of s, starting at index idx and moving dir
// strides of stride pages, and returns the first page whose header carries
// want. Indexes wrap within the span.
func (fs *FS) scan(want marker.Marker, s span, idx, dir, stride, steps int) (flash.PageID, marker.PageHeader, bool, error) {
	if s.count == 0 {
		return 0, marker.PageHeader{}, false, nil
	}
	for i := 0; i < steps; i++ {
		k := (idx + dir*i*stride) % s.count
		if k < 0 {
			k += s.count
		}
		p := fs.geo.add(s.start, k)
		info, err := fs.inspectPage(p)
		if err != nil {
			return 0, marker.PageHeader{}, false, err
		}
		if info.hdr.Marker == want {
			return p, info.hdr, true, nil
		}
	}
	return 0, marker.PageHeader{}, false, nil
}

func (fs *FS) findFirst(want marker.Marker, s span, stride int) (flash.PageID, marker.PageHeader, bool, error) {
	return fs.scan(want, s, 0, 1, stride, s.count/stride)
}

// findNext scans forward from the page after cur, wrapping once. cur itself
// is never returned.
func (fs *FS) findNext(want marker.Marker, s span, cur flash.PageID, stride int) (flash.PageID, marker.PageHeader, bool, error) {
	return fs.scan(want, s, fs.geo.distance(s.start, cur)+stride, 1, stride, s.count/stride-1)
}

func (fs *FS) findPrev(want marker.Marker, s span, cur flash.PageID, stride int) (flash.PageID, marker.PageHeader, bool, error) {
	return fs.scan(want, s, fs.geo.distance(s.start, cur)-stride, -1, stride, s.count/stride-1)
}

// boundary locates the logical start and end of the pages of s carrying
// want. Walking the pages once around the span, the pair with the largest
// forward rolling-number difference marks the seam: the page after it is
// the start, the page before it the end. No matching page yields false.
func (fs *FS) boundary(want marker.Marker, s span, stride int) (bounds, bool, error) {
	start, startHdr, ok, err := fs.findFirst(want, s, stride)
	if err != nil || !ok {
		return bounds{}, false, err
	}

	b := bounds{first: start, last: start, firstHdr: startHdr, lastHdr: startHdr, count: 1}
	best := -1
	cur, curHdr := start, startHdr
	for i := 0; i < s.count; i++ {
		next, nextHdr, ok, err := fs.findNext(want, s, cur, stride)
		if err != nil {
			return bounds{}, false, err
		}
		if !ok {
			break
		}
		if diff := int(nextHdr.RollingNumber - curHdr.RollingNumber); diff > best {
			best = diff
			b.first, b.firstHdr = next, nextHdr
			b.last, b.lastHdr = cur, curHdr
		}
		if next == start {
			break
		}
		b.count++
		cur, curHdr = next, nextHdr
	}
	return b, true, nil
}

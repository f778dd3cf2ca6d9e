package logfs

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sushant-115/logfs/core/logfs/marker"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
)

// openFile is the record state of the open file.
type openFile struct {
	file File
	span span

	// hasData is set once the file holds at least one RECORD page; first and
	// last are the oldest and newest of them.
	hasData bool
	first   flash.PageID
	last    flash.PageID
	nextRN  uint16

	// write is the next free slot. full means no further page can be used.
	write position
	full  bool

	read    position
	reading bool
}

// load derives the record state of f from the medium without writing to it.
func (fs *FS) load(f File) (*openFile, error) {
	s, err := fs.recordSpan(f)
	if err != nil {
		return nil, err
	}
	o := &openFile{file: f, span: s, write: position{page: f.StartPage}}
	if s.count == 0 {
		o.full = true
		return o, nil
	}

	b, ok, err := fs.boundary(marker.Record, s, 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return o, nil
	}
	o.hasData = true
	o.first, o.last = b.first, b.last
	o.nextRN = b.lastHdr.RollingNumber + 1

	off, ok, err := fs.freeSlot(b.last)
	if err != nil {
		return nil, err
	}
	if ok {
		o.write = position{page: b.last, offset: off}
		return o, nil
	}
	o.write = position{page: b.last, offset: fs.exhausted()}
	if err := fs.advanceWrite(o, true); err != nil {
		return nil, err
	}
	return o, nil
}

// freeSlot returns the offset of the first FREE slot of page p.
func (fs *FS) freeSlot(p flash.PageID) (int, bool, error) {
	for i := 0; i < fs.geo.slots; i++ {
		pos := position{page: p, offset: fs.geo.slotOffset(i)}
		m, _, err := fs.readSlot(pos)
		if err != nil {
			return 0, false, err
		}
		if m == marker.Free {
			return pos.offset, true, nil
		}
	}
	return 0, false, nil
}

func (fs *FS) markFull(o *openFile, p flash.PageID) {
	o.full = true
	o.write = position{page: p}
	fs.logger.Debug("File is full",
		zap.Uint32("file_page", uint32(o.file.Page)),
		zap.Int("record_pages", o.span.count),
	)
}

// exhausted is the write offset of a page whose slots are all used while
// the next page is not yet prepared.
func (fs *FS) exhausted() int { return fs.geo.slotOffset(fs.geo.slots) }

// advanceWrite moves the write cursor to the start of the next record page.
// Entering a block erases it first. With lazy set nothing is erased: a block
// that does not start FREE leaves the cursor exhausted on its page and the
// erase to the next Append. Linear files run out at the end of their span,
// circular ones wrap and evict their oldest block.
func (fs *FS) advanceWrite(o *openFile, lazy bool) error {
	next, ok := fs.geo.spanNext(o.span, o.write.page)
	if !ok {
		if fs.cfg.Mode == Linear {
			fs.markFull(o, fs.geo.add(o.write.page, 1))
			return nil
		}
		next = o.span.start
	}

	info, err := fs.inspectPage(next)
	if err != nil {
		return err
	}
	if info.hdr.Marker == marker.File {
		fs.markFull(o, next)
		return nil
	}
	if fs.geo.aligned(next) && lazy && info.hdr.Marker != marker.Free {
		return nil
	}
	if fs.geo.aligned(next) && !lazy {
		if fs.cfg.Mode == Circular {
			if err := fs.evict(o, next); err != nil {
				return err
			}
		}
		if err := fs.eraseBlock(next); err != nil {
			if errors.Is(err, ErrFull) {
				fs.markFull(o, next)
				return nil
			}
			return err
		}
	}
	o.write = position{page: next}
	return nil
}

// evict drops the bookkeeping that points into the block starting at blk,
// which is about to be erased.
func (fs *FS) evict(o *openFile, blk flash.PageID) error {
	in := func(p flash.PageID) bool { return fs.geo.blockStart(p) == blk }

	if o.reading && in(o.read.page) {
		o.reading = false
	}
	if !o.hasData || !in(o.first) {
		return nil
	}
	if in(o.last) {
		o.hasData = false
	} else {
		idx := fs.geo.distance(o.span.start, blk) + fs.geo.perBlock
		p, _, ok, err := fs.scan(marker.Record, o.span, idx, 1, 1, o.span.count-fs.geo.perBlock)
		if err != nil {
			return err
		}
		if ok {
			o.first = p
		} else {
			o.hasData = false
		}
	}
	fs.count(fs.metrics.BlocksEvicted, &fs.stats.BlocksEvicted)
	fs.logger.Debug("Evicted oldest records",
		zap.Uint32("file_page", uint32(o.file.Page)),
		zap.Uint32("block_start", uint32(blk)),
		zap.Bool("has_data", o.hasData),
	)
	return nil
}

// startRecordPage writes a RECORD header at the write cursor.
func (fs *FS) startRecordPage(o *openFile) error {
	p := o.write.page
	info, err := fs.inspectPage(p)
	if err != nil {
		return err
	}
	switch info.hdr.Marker {
	case marker.Free:
	case marker.File:
		fs.markFull(o, p)
		return ErrFull
	case marker.Record:
		if err := fs.quarantine(p, 0, fmt.Errorf("stale record page at write cursor")); err != nil {
			return err
		}
		return fmt.Errorf("%w: page %d held stale records", ErrWriteFail, p)
	default:
		return fmt.Errorf("%w: page %d is %s", ErrWriteFail, p, info.hdr.Marker)
	}

	hdr := marker.PageHeader{Marker: marker.Record, RollingNumber: o.nextRN}
	if err := fs.writeVerified(p, 0, hdr.Encode()); err != nil {
		return err
	}
	o.nextRN++
	if !o.hasData {
		o.hasData = true
		o.first = p
	}
	o.last = p
	o.write.offset = fs.geo.slotOffset(0)
	return nil
}

// Append writes one record to the open file. data is padded with 0xFF or
// clipped to the record size. A failed page header is skipped and retried
// on the next page. After a verify failure of the record itself the slot is
// lost and ErrWriteFail returned.
func (fs *FS) Append(data []byte) error {
	if err := fs.syncFiles(); err != nil {
		return err
	}
	o := fs.cur
	if o == nil {
		return fmt.Errorf("%w: no file is open", ErrFileInvalid)
	}
	if o.full {
		return ErrFull
	}
	if o.write.offset > fs.geo.lastSlotOffset() {
		if err := fs.advanceWrite(o, false); err != nil {
			return err
		}
		if o.full {
			return ErrFull
		}
	}

	for attempts := 0; o.write.offset == 0; attempts++ {
		if attempts >= o.span.count {
			return fmt.Errorf("%w: no usable record page", ErrFull)
		}
		err := fs.startRecordPage(o)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrWriteFail) {
			return err
		}
		if err := fs.advanceWrite(o, false); err != nil {
			return err
		}
		if o.full {
			return ErrFull
		}
	}

	pos := o.write
	werr := fs.writeVerified(pos.page, pos.offset, marker.EncodeRecord(data, fs.cfg.RecordSize))
	if werr != nil && !errors.Is(werr, ErrWriteFail) {
		return werr
	}

	var aerr error
	if pos.offset+2*fs.geo.slotSize > fs.geo.pageSize {
		aerr = fs.advanceWrite(o, false)
	} else {
		o.write.offset += fs.geo.slotSize
	}
	if werr != nil {
		return werr
	}
	fs.count(fs.metrics.RecordsAppended, &fs.stats.RecordsAppended)
	return aerr
}

// --- Reading ---

// atWrite reports whether pos is at or beyond the write cursor.
func (fs *FS) atWrite(o *openFile, pos position) bool {
	if pos.page != o.write.page {
		return false
	}
	return o.write.offset == 0 || pos.offset >= o.write.offset
}

func (fs *FS) nextRecordPage(o *openFile, p flash.PageID) (flash.PageID, bool) {
	if next, ok := fs.geo.spanNext(o.span, p); ok {
		return next, true
	}
	if fs.cfg.Mode == Circular {
		return o.span.start, true
	}
	return 0, false
}

func (fs *FS) prevRecordPage(o *openFile, p flash.PageID) (flash.PageID, bool) {
	if p == o.first {
		return 0, false
	}
	if prev, ok := fs.geo.spanPrev(o.span, p); ok {
		return prev, true
	}
	if fs.cfg.Mode == Circular {
		return fs.geo.spanLast(o.span), true
	}
	return 0, false
}

func (fs *FS) scanLimit(o *openFile) int { return (o.span.count + 1) * (fs.geo.slots + 1) }

// scanForward returns the first record at or after pos. An offset of zero
// means the page header has not been checked yet; an offset past the last
// slot moves on to the next page.
func (fs *FS) scanForward(o *openFile, pos position) (position, []byte, error) {
	for i := 0; i < fs.scanLimit(o); i++ {
		if fs.atWrite(o, pos) {
			return pos, nil, ErrNoRecord
		}
		if pos.offset == 0 {
			h, err := fs.readHeader(pos.page)
			if err != nil {
				return pos, nil, err
			}
			if h.Marker == marker.Record {
				pos.offset = fs.geo.slotOffset(0)
				continue
			}
		} else if pos.offset <= fs.geo.lastSlotOffset() {
			m, payload, err := fs.readSlot(pos)
			if err != nil {
				return pos, nil, err
			}
			switch m {
			case marker.Record:
				return pos, payload, nil
			case marker.Bad:
				pos.offset += fs.geo.slotSize
				continue
			}
			// A FREE slot ends the page.
		}
		next, ok := fs.nextRecordPage(o, pos.page)
		if !ok {
			return pos, nil, ErrNoRecord
		}
		pos = position{page: next}
	}
	return pos, nil, ErrNoRecord
}

// scanBackward returns the last record at or before pos. checkHeader is set
// when pos.page has not been verified as a RECORD page yet.
func (fs *FS) scanBackward(o *openFile, pos position, checkHeader bool) (position, []byte, error) {
	for i := 0; i < fs.scanLimit(o); i++ {
		if checkHeader {
			h, err := fs.readHeader(pos.page)
			if err != nil {
				return pos, nil, err
			}
			checkHeader = false
			if h.Marker != marker.Record {
				pos.offset = 0
			}
		}
		if pos.offset >= fs.geo.slotOffset(0) {
			if !fs.atWrite(o, pos) {
				m, payload, err := fs.readSlot(pos)
				if err != nil {
					return pos, nil, err
				}
				if m == marker.Record {
					return pos, payload, nil
				}
			}
			pos.offset -= fs.geo.slotSize
			continue
		}
		prev, ok := fs.prevRecordPage(o, pos.page)
		if !ok {
			return pos, nil, ErrNoRecord
		}
		pos = position{page: prev, offset: fs.geo.lastSlotOffset()}
		checkHeader = true
	}
	return pos, nil, ErrNoRecord
}

func (fs *FS) readOpen() (*openFile, error) {
	if fs.cur == nil {
		return nil, fmt.Errorf("%w: no file is open", ErrFileInvalid)
	}
	return fs.cur, nil
}

// deliver moves the read cursor to pos and copies the payload into p.
func (fs *FS) deliver(o *openFile, pos position, payload, p []byte) int {
	o.read, o.reading = pos, true
	fs.count(fs.metrics.RecordsRead, &fs.stats.RecordsRead)
	return copy(p, payload)
}

// ReadFirst reads the oldest record of the open file into p and returns the
// number of bytes copied, at most the record size.
func (fs *FS) ReadFirst(p []byte) (int, error) {
	o, err := fs.readOpen()
	if err != nil {
		return 0, err
	}
	if !o.hasData {
		return 0, ErrNoRecord
	}
	pos, payload, err := fs.scanForward(o, position{page: o.first})
	if err != nil {
		return 0, err
	}
	return fs.deliver(o, pos, payload, p), nil
}

// ReadLast reads the newest record of the open file.
func (fs *FS) ReadLast(p []byte) (int, error) {
	o, err := fs.readOpen()
	if err != nil {
		return 0, err
	}
	if !o.hasData {
		return 0, ErrNoRecord
	}
	pos, payload, err := fs.scanBackward(o, position{page: o.last, offset: fs.geo.lastSlotOffset()}, true)
	if err != nil {
		return 0, err
	}
	return fs.deliver(o, pos, payload, p), nil
}

// ReadNext reads the record after the read cursor. Without a cursor it
// behaves like ReadFirst. At the end the cursor stays put, so records
// appended later are returned by the next call.
func (fs *FS) ReadNext(p []byte) (int, error) {
	o, err := fs.readOpen()
	if err != nil {
		return 0, err
	}
	if !o.reading {
		return fs.ReadFirst(p)
	}
	pos, payload, err := fs.scanForward(o, position{page: o.read.page, offset: o.read.offset + fs.geo.slotSize})
	if err != nil {
		return 0, err
	}
	return fs.deliver(o, pos, payload, p), nil
}

// ReadPrevious reads the record before the read cursor. Without a cursor it
// behaves like ReadLast.
func (fs *FS) ReadPrevious(p []byte) (int, error) {
	o, err := fs.readOpen()
	if err != nil {
		return 0, err
	}
	if !o.reading {
		return fs.ReadLast(p)
	}
	pos, payload, err := fs.scanBackward(o, position{page: o.read.page, offset: o.read.offset - fs.geo.slotSize}, false)
	if err != nil {
		return 0, err
	}
	return fs.deliver(o, pos, payload, p), nil
}

package logfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sushant-115/logfs/core/logfs/marker"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
)

// File identifies a file on the medium. Handles go stale once the file is
// deleted or its page reused; operations taking a File re-check it.
type File struct {
	// Page is the FILE page.
	Page flash.PageID
	// RollingNumber orders files.
	RollingNumber uint16
	// StartPage is the first page of the record area.
	StartPage flash.PageID
	// Created is the creation time, second resolution, UTC.
	Created time.Time
}

func fileFromInfo(p flash.PageID, info pageInfo) File {
	return File{
		Page:          p,
		RollingNumber: info.hdr.RollingNumber,
		StartPage:     flash.PageID(info.entry.StartPage),
		Created:       info.entry.Created.Time(),
	}
}

// recordStart is where the record area of a file on page p begins.
func (fs *FS) recordStart(p flash.PageID) flash.PageID {
	if fs.cfg.Mode == Circular {
		return fs.geo.add(fs.geo.blockStart(p), fs.geo.perBlock)
	}
	return fs.geo.add(p, 1)
}

// nextFilePage returns the FILE page following p in ring order. The newest
// file is followed by the oldest one; a lone file is followed by itself.
func (fs *FS) nextFilePage(p flash.PageID) (flash.PageID, error) {
	if p == fs.files.last {
		return fs.files.first, nil
	}
	next, _, ok, err := fs.findNext(marker.File, fs.geo.medium(), p, fs.fileStride())
	if err != nil {
		return 0, err
	}
	if !ok {
		return p, nil
	}
	return next, nil
}

// ownedSpan is every page between a file's record start and the next file.
func (fs *FS) ownedSpan(f File) (span, error) {
	next, err := fs.nextFilePage(f.Page)
	if err != nil {
		return span{}, err
	}
	return span{start: f.StartPage, count: fs.geo.distance(f.StartPage, next)}, nil
}

// recordSpan is the part of the owned span records may use.
func (fs *FS) recordSpan(f File) (span, error) {
	s, err := fs.ownedSpan(f)
	if err != nil {
		return span{}, err
	}
	if fs.cfg.MaxFilePages > 0 && s.count > fs.cfg.MaxFilePages {
		s.count = fs.cfg.MaxFilePages
	}
	return s, nil
}

// checkFile re-reads f from the medium and rejects stale or corrupt handles.
func (fs *FS) checkFile(f File) error {
	if !fs.files.any || !fs.geo.contains(f.Page) {
		return fmt.Errorf("%w: page %d", ErrFileInvalid, f.Page)
	}
	info, err := fs.inspectPage(f.Page)
	if err != nil {
		return err
	}
	if info.hdr.Marker != marker.File ||
		info.hdr.RollingNumber != f.RollingNumber ||
		flash.PageID(info.entry.StartPage) != f.StartPage ||
		f.StartPage != fs.recordStart(f.Page) {
		return fmt.Errorf("%w: page %d", ErrFileInvalid, f.Page)
	}
	return nil
}

func (fs *FS) fileAt(p flash.PageID) (File, error) {
	info, err := fs.inspectPage(p)
	if err != nil {
		return File{}, err
	}
	if info.hdr.Marker != marker.File {
		return File{}, fmt.Errorf("%w: page %d no longer holds a file", ErrFileInvalid, p)
	}
	return fileFromInfo(p, info), nil
}

// --- Enumeration ---

// FindFirst returns the oldest file.
func (fs *FS) FindFirst() (File, error) {
	return fs.findEnd(func() flash.PageID { return fs.files.first })
}

// FindLast returns the newest file.
func (fs *FS) FindLast() (File, error) {
	return fs.findEnd(func() flash.PageID { return fs.files.last })
}

// findEnd returns the file on the page picked from the file table, retrying
// when reading it loses a FILE page.
func (fs *FS) findEnd(pick func() flash.PageID) (File, error) {
	for {
		if err := fs.syncFiles(); err != nil {
			return File{}, err
		}
		if !fs.files.any {
			return File{}, ErrEmpty
		}
		f, err := fs.fileAt(pick())
		if err == nil || !fs.filesStale {
			return f, err
		}
	}
}

// FindNext returns the file created after f, or ErrNoFile when f is the
// newest.
func (fs *FS) FindNext(f File) (File, error) {
	return fs.findStep(f, func() flash.PageID { return fs.files.last }, fs.findNext)
}

// FindPrevious returns the file created before f, or ErrNoFile when f is
// the oldest.
func (fs *FS) FindPrevious(f File) (File, error) {
	return fs.findStep(f, func() flash.PageID { return fs.files.first }, fs.findPrev)
}

type findFunc func(want marker.Marker, s span, cur flash.PageID, stride int) (flash.PageID, marker.PageHeader, bool, error)

func (fs *FS) findStep(f File, end func() flash.PageID, find findFunc) (File, error) {
	for {
		if err := fs.syncFiles(); err != nil {
			return File{}, err
		}
		if err := fs.checkFile(f); err != nil {
			return File{}, err
		}
		if f.Page == end() {
			return File{}, ErrNoFile
		}
		p, _, ok, err := find(marker.File, fs.geo.medium(), f.Page, fs.fileStride())
		if err != nil {
			return File{}, err
		}
		if fs.filesStale {
			continue
		}
		if !ok {
			return File{}, ErrNoFile
		}
		next, err := fs.fileAt(p)
		if err == nil || !fs.filesStale {
			return next, err
		}
	}
}

// --- Open / Create / Delete ---

// Open makes f the target of appends and record reads.
func (fs *FS) Open(f File) error {
	if err := fs.syncFiles(); err != nil {
		return err
	}
	if err := fs.checkFile(f); err != nil {
		return err
	}
	o, err := fs.load(f)
	if err != nil {
		return err
	}
	fs.cur = o
	return nil
}

// Current returns the open file.
func (fs *FS) Current() (File, bool) {
	if fs.cur == nil {
		return File{}, false
	}
	return fs.cur.file, true
}

// reopen reloads the open file after the pages around it changed. The read
// cursor is kept while it still sits on a RECORD page.
func (fs *FS) reopen() error {
	prev := fs.cur
	if prev == nil {
		return nil
	}
	o, err := fs.load(prev.file)
	if err != nil {
		fs.cur = nil
		return err
	}
	fs.cur = o
	if !prev.reading {
		return nil
	}
	info, err := fs.inspectPage(prev.read.page)
	if err != nil {
		return err
	}
	if info.hdr.Marker == marker.Record {
		o.read, o.reading = prev.read, true
	}
	return nil
}

// tail is the first page the newest file has not used.
func (fs *FS) tail() (flash.PageID, error) {
	if !fs.files.any {
		return fs.geo.first, nil
	}
	o := fs.cur
	if o == nil || o.file.Page != fs.files.last {
		last, err := fs.fileAt(fs.files.last)
		if err != nil {
			return 0, err
		}
		if o, err = fs.load(last); err != nil {
			return 0, err
		}
	}
	if o.write.offset == 0 {
		return o.write.page, nil
	}
	return fs.geo.add(o.write.page, 1), nil
}

// prepare makes p writable: a block start is erased, any other page must
// already be FREE. A FILE page reports ErrFull.
func (fs *FS) prepare(p flash.PageID) error {
	info, err := fs.inspectPage(p)
	if err != nil {
		return err
	}
	switch {
	case info.hdr.Marker == marker.File:
		return fmt.Errorf("%w: page %d holds a file", ErrFull, p)
	case fs.geo.aligned(p):
		return fs.eraseBlock(p)
	case info.hdr.Marker != marker.Free:
		return fmt.Errorf("%w: page %d is %s", errNotFree, p, info.hdr.Marker)
	}
	return nil
}

// claimLinear finds the FILE page and first record page of a new file at or
// after candidate.
func (fs *FS) claimLinear(candidate flash.PageID) (flash.PageID, flash.PageID, error) {
	p := candidate
	for i := 0; ; i++ {
		if i >= fs.geo.pages {
			return 0, 0, fmt.Errorf("%w: no free page for a file", ErrFull)
		}
		err := fs.prepare(p)
		if err == nil {
			break
		}
		if !errors.Is(err, errNotFree) {
			return 0, 0, err
		}
		p = fs.geo.add(p, 1)
	}
	q := fs.geo.add(p, 1)
	if err := fs.prepare(q); err != nil {
		if errors.Is(err, errNotFree) {
			return 0, 0, fmt.Errorf("%w: %w", ErrFull, err)
		}
		return 0, 0, err
	}
	return p, q, nil
}

// claimCircular places a new file on the next block boundary and its records
// on the following block, then erases forward until a free block or a block
// holding a file.
func (fs *FS) claimCircular(candidate flash.PageID) (flash.PageID, flash.PageID, error) {
	p := fs.geo.alignUp(candidate)
	q := fs.geo.add(p, fs.geo.perBlock)
	// Both blocks are checked before either is erased, so ErrFull leaves the
	// medium untouched.
	for _, blk := range []flash.PageID{p, q} {
		info, err := fs.inspectPage(blk)
		if err != nil {
			return 0, 0, err
		}
		if info.hdr.Marker == marker.File {
			return 0, 0, fmt.Errorf("%w: page %d holds a file", ErrFull, blk)
		}
	}
	if err := fs.prepare(p); err != nil {
		return 0, 0, err
	}
	if err := fs.prepare(q); err != nil {
		return 0, 0, err
	}

	b := fs.geo.add(q, fs.geo.perBlock)
	for i := 0; i < fs.geo.pages/fs.geo.perBlock-2; i++ {
		info, err := fs.inspectPage(b)
		if err != nil {
			return 0, 0, err
		}
		if info.hdr.Marker == marker.Free {
			break
		}
		if err := fs.eraseBlock(b); err != nil {
			if errors.Is(err, ErrFull) {
				break
			}
			return 0, 0, err
		}
		b = fs.geo.add(b, fs.geo.perBlock)
	}
	return p, q, nil
}

// Create writes a new file stamped with created and opens it.
func (fs *FS) Create(created time.Time) (File, error) {
	ts, err := marker.NewTimestamp(created)
	if err != nil {
		return File{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := fs.syncFiles(); err != nil {
		return File{}, err
	}
	candidate, err := fs.tail()
	if err != nil {
		return File{}, err
	}

	var p, q flash.PageID
	if fs.cfg.Mode == Circular {
		p, q, err = fs.claimCircular(candidate)
	} else {
		p, q, err = fs.claimLinear(candidate)
	}
	hdr := marker.PageHeader{Marker: marker.File, RollingNumber: fs.files.nextRN}
	if err == nil {
		entry := marker.FileEntry{StartPage: uint16(q), Created: ts}
		err = fs.writeVerified(p, 0, append(hdr.Encode(), entry.Encode()...))
	}
	if err != nil {
		// Blocks may already be erased under the open file.
		if rerr := fs.reopen(); rerr != nil {
			fs.logger.Warn("Failed to reload open file", zap.Error(rerr))
		}
		return File{}, err
	}

	if !fs.files.any {
		fs.files.first = p
	}
	fs.files.any = true
	fs.files.last = p
	fs.files.count++
	fs.files.nextRN++

	f := File{Page: p, RollingNumber: hdr.RollingNumber, StartPage: q, Created: ts.Time()}
	s, err := fs.recordSpan(f)
	if err != nil {
		return File{}, err
	}
	fs.cur = &openFile{file: f, span: s, write: position{page: q}, full: s.count == 0}

	fs.count(fs.metrics.FilesCreated, &fs.stats.FilesCreated)
	fs.metrics.LiveFiles.Add(context.Background(), 1)
	fs.logger.Info("Created file",
		zap.Uint32("page", uint32(p)),
		zap.Uint16("rolling_number", f.RollingNumber),
		zap.Uint32("start_page", uint32(q)),
		zap.Int("record_pages", s.count),
		zap.Time("created", f.Created),
	)
	return f, nil
}

// Delete removes f, which must be the oldest file. Its record pages are
// marked BAD newest first, then its FILE page.
func (fs *FS) Delete(f File) error {
	if err := fs.syncFiles(); err != nil {
		return err
	}
	if err := fs.checkFile(f); err != nil {
		return err
	}
	if f.Page != fs.files.first {
		return fmt.Errorf("%w: page %d is not the oldest file", ErrFileInvalid, f.Page)
	}
	owned, err := fs.ownedSpan(f)
	if err != nil {
		return err
	}
	next := fs.geo.add(owned.start, owned.count)

	for i := owned.count - 1; i >= 0; i-- {
		p := fs.geo.add(owned.start, i)
		info, err := fs.inspectPage(p)
		if err != nil {
			return err
		}
		if info.hdr.Marker == marker.Record {
			if err := fs.markBad(p, 0); err != nil {
				return err
			}
		}
	}
	if err := fs.markBad(f.Page, 0); err != nil {
		return err
	}

	if next == f.Page {
		fs.files = fileTable{nextRN: fs.files.nextRN}
	} else {
		fs.files.first = next
		fs.files.count--
	}

	fs.count(fs.metrics.FilesDeleted, &fs.stats.FilesDeleted)
	fs.metrics.LiveFiles.Add(context.Background(), -1)
	fs.logger.Info("Deleted file",
		zap.Uint32("page", uint32(f.Page)),
		zap.Uint16("rolling_number", f.RollingNumber),
		zap.Int("record_pages", owned.count),
	)

	if fs.cur != nil && fs.cur.file.Page == f.Page {
		fs.cur = nil
	}
	// The newest file now extends up to the new oldest one.
	return fs.reopen()
}

package logfs

import (
	"bytes"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sushant-115/logfs/core/logfs/marker"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
)

// Every structural write and every marker downgrade goes through this file.
// Nothing else in the package programs a BAD marker.

// pageInfo is a decoded page header plus, for FILE pages, the file entry.
type pageInfo struct {
	hdr   marker.PageHeader
	entry marker.FileEntry
}

func (fs *FS) read(p flash.PageID, off, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := fs.dev.ReadPage(p, off, buf); err != nil {
		return nil, fmt.Errorf("failed to read page %d offset %d: %w", p, off, err)
	}
	return buf, nil
}

// markBad programs the BAD marker at p/off. Programming zero always succeeds
// on NOR cells, so the result is not verified.
func (fs *FS) markBad(p flash.PageID, off int) error {
	if err := fs.dev.ProgramPage(p, off, []byte{byte(marker.Bad)}); err != nil {
		return fmt.Errorf("failed to mark page %d offset %d bad: %w", p, off, err)
	}
	return nil
}

// quarantine downgrades a corrupt entry to BAD.
func (fs *FS) quarantine(p flash.PageID, off int, reason error) error {
	if err := fs.markBad(p, off); err != nil {
		return err
	}
	fs.count(fs.metrics.EntriesQuarantined, &fs.stats.EntriesQuarantined)
	fs.logger.Warn("Quarantined corrupt entry",
		zap.Uint32("page", uint32(p)),
		zap.Int("offset", off),
		zap.Error(reason),
	)
	return nil
}

// readMarker returns the marker byte at p/off. Values outside the four known
// markers are quarantined and reported as BAD.
func (fs *FS) readMarker(p flash.PageID, off int) (marker.Marker, error) {
	b, err := fs.read(p, off, 1)
	if err != nil {
		return marker.Bad, err
	}
	m := marker.Marker(b[0])
	if !m.Valid() {
		if err := fs.quarantine(p, off, fmt.Errorf("%w: %s", marker.ErrUnknownMarker, m)); err != nil {
			return marker.Bad, err
		}
		return marker.Bad, nil
	}
	return m, nil
}

// readHeader decodes the header of page p. A header that fails to decode is
// quarantined and reported as BAD.
func (fs *FS) readHeader(p flash.PageID) (marker.PageHeader, error) {
	b, err := fs.read(p, 0, marker.HeaderSize)
	if err != nil {
		return marker.PageHeader{Marker: marker.Bad}, err
	}
	h, derr := marker.DecodePageHeader(b)
	if derr != nil {
		if err := fs.quarantine(p, 0, derr); err != nil {
			return marker.PageHeader{Marker: marker.Bad}, err
		}
		if marker.Marker(b[0]) == marker.File {
			if err := fs.fileLost(p); err != nil {
				return marker.PageHeader{Marker: marker.Bad}, err
			}
		}
		return marker.PageHeader{Marker: marker.Bad, RollingNumber: h.RollingNumber}, nil
	}
	return h, nil
}

// inspectPage reads the header of p and, for FILE pages, the file entry. A
// FILE page whose entry fails its CRC is quarantined as a whole.
func (fs *FS) inspectPage(p flash.PageID) (pageInfo, error) {
	h, err := fs.readHeader(p)
	if err != nil || h.Marker != marker.File {
		return pageInfo{hdr: h}, err
	}
	b, err := fs.read(p, marker.HeaderSize, marker.FileEntrySize)
	if err != nil {
		return pageInfo{hdr: h}, err
	}
	e, derr := marker.DecodeFileEntry(b)
	if derr != nil {
		if err := fs.quarantine(p, 0, derr); err != nil {
			return pageInfo{hdr: h}, err
		}
		if err := fs.fileLost(p); err != nil {
			return pageInfo{hdr: h}, err
		}
		return pageInfo{hdr: marker.PageHeader{Marker: marker.Bad, RollingNumber: h.RollingNumber}}, nil
	}
	return pageInfo{hdr: h, entry: e}, nil
}

// fileLost handles a FILE page that was just quarantined. The RECORD pages
// it owned, up to the next FILE page, are marked BAD so no neighbour adopts
// them, and the file table is flagged for a rebuild.
func (fs *FS) fileLost(p flash.PageID) error {
	fs.filesStale = true
	if fs.cur != nil && fs.cur.file.Page == p {
		fs.cur = nil
	}

	orphans := 0
	q := fs.recordStart(p)
	for i := fs.geo.distance(p, q); i < fs.geo.pages; i++ {
		info, err := fs.inspectPage(q)
		if err != nil {
			return err
		}
		if info.hdr.Marker == marker.File {
			break
		}
		if info.hdr.Marker == marker.Record {
			if err := fs.markBad(q, 0); err != nil {
				return err
			}
			orphans++
		}
		q = fs.geo.add(q, 1)
	}
	fs.logger.Warn("Lost file page",
		zap.Uint32("page", uint32(p)),
		zap.Int("orphaned_record_pages", orphans),
	)
	return nil
}

// readSlot decodes the record slot at pos. Corrupt slots are quarantined and
// reported as BAD.
func (fs *FS) readSlot(pos position) (marker.Marker, []byte, error) {
	b, err := fs.read(pos.page, pos.offset, fs.geo.slotSize)
	if err != nil {
		return marker.Bad, nil, err
	}
	m, payload, derr := marker.DecodeRecord(b, fs.cfg.RecordSize)
	if derr != nil {
		if err := fs.quarantine(pos.page, pos.offset, derr); err != nil {
			return marker.Bad, nil, err
		}
		return marker.Bad, nil, nil
	}
	return m, payload, nil
}

// programVerified programs data and reads it back.
func (fs *FS) programVerified(p flash.PageID, off int, data []byte) error {
	if err := fs.dev.ProgramPage(p, off, data); err != nil {
		return fmt.Errorf("failed to program page %d offset %d: %w", p, off, err)
	}
	back, err := fs.read(p, off, len(data))
	if err != nil {
		return err
	}
	if !bytes.Equal(back, data) {
		return fmt.Errorf("%w: page %d offset %d", ErrWriteFail, p, off)
	}
	return nil
}

// writeVerified writes a structural entry whose first byte is its marker.
// The marker already on the medium must be able to move to the new one. A
// read-back mismatch quarantines the entry.
func (fs *FS) writeVerified(p flash.PageID, off int, entry []byte) error {
	cur, err := fs.readMarker(p, off)
	if err != nil {
		return err
	}
	if _, err := marker.Transition(cur, marker.Marker(entry[0])); err != nil {
		fs.count(fs.metrics.WriteFailures, &fs.stats.WriteFailures)
		return fmt.Errorf("%w: page %d offset %d: %w", ErrWriteFail, p, off, err)
	}

	err = fs.programVerified(p, off, entry)
	if errors.Is(err, ErrWriteFail) {
		fs.count(fs.metrics.WriteFailures, &fs.stats.WriteFailures)
		if qerr := fs.quarantine(p, off, err); qerr != nil {
			return qerr
		}
	}
	return err
}

// eraseBlock erases the block holding p. A block holding a FILE page is never
// erased; that case reports ErrFull.
func (fs *FS) eraseBlock(p flash.PageID) error {
	start := fs.geo.blockStart(p)
	for i := 0; i < fs.geo.perBlock; i++ {
		pg := start + flash.PageID(i)
		info, err := fs.inspectPage(pg)
		if err != nil {
			return err
		}
		if info.hdr.Marker == marker.File {
			return fmt.Errorf("%w: block %d holds file page %d", ErrFull, start, pg)
		}
	}
	if err := fs.dev.EraseBlock(start); err != nil {
		return fmt.Errorf("failed to erase block %d: %w", start, err)
	}
	fs.count(fs.metrics.BlocksErased, &fs.stats.BlocksErased)
	fs.logger.Debug("Erased block", zap.Uint32("block_start", uint32(start)))
	return nil
}

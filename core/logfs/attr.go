package logfs

import (
	"fmt"

	"github.com/sushant-115/logfs/core/logfs/marker"
)

// attrBase is the offset of the attribute area within a FILE page.
const attrBase = marker.HeaderSize + marker.FileEntrySize

// clipAttr bounds an attribute access of n bytes at offset to the area.
func (fs *FS) clipAttr(offset, n int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: attribute offset %d", ErrInvalidArgument, offset)
	}
	if avail := fs.cfg.AttrSize() - offset; n > avail {
		n = max(avail, 0)
	}
	return n, nil
}

// WriteAttr programs data into the attribute area of the open file at
// offset. Bytes past the end of the area are dropped; the number written is
// returned. Each byte can be programmed once per erase, so rewriting set
// bits back to 1 fails verification.
func (fs *FS) WriteAttr(offset int, data []byte) (int, error) {
	if fs.cur == nil {
		return 0, fmt.Errorf("%w: no file is open", ErrFileInvalid)
	}
	n, err := fs.clipAttr(offset, len(data))
	if err != nil || n == 0 {
		return 0, err
	}
	if err := fs.programVerified(fs.cur.file.Page, attrBase+offset, data[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

// ReadAttr reads the attribute area of the open file at offset into p.
func (fs *FS) ReadAttr(offset int, p []byte) (int, error) {
	if fs.cur == nil {
		return 0, fmt.Errorf("%w: no file is open", ErrFileInvalid)
	}
	n, err := fs.clipAttr(offset, len(p))
	if err != nil || n == 0 {
		return 0, err
	}
	if err := fs.dev.ReadPage(fs.cur.file.Page, attrBase+offset, p[:n]); err != nil {
		return 0, fmt.Errorf("failed to read attributes of page %d: %w", fs.cur.file.Page, err)
	}
	return n, nil
}

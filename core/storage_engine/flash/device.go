// Package flash provides the page/erase-block interface the log file system
// uses to reach a physical medium, plus simulated NOR flash backends.
//
// A page is the smallest programmable unit. Programming can only clear bits
// (1 -> 0); the only way back to 0xFF is erasing the whole block that
// contains the page. A block is a power-of-two run of pages.
package flash

import "fmt"

// PageID is an absolute page number on the device.
type PageID uint32

// ErasedByte is the value every byte holds after an erase.
const ErasedByte byte = 0xFF

// Device is the storage glue consumed by the log file system. Implementations
// are not required to be safe for concurrent use.
type Device interface {
	// ReadPage reads len(buf) bytes from page starting at offset.
	ReadPage(page PageID, offset int, buf []byte) error
	// ProgramPage programs buf into page starting at offset. Bits that are
	// already 0 stay 0.
	ProgramPage(page PageID, offset int, buf []byte) error
	// EraseBlock resets every page of the block starting at first to 0xFF.
	EraseBlock(first PageID) error
}

// Geometry describes the physical layout of a device.
type Geometry struct {
	PageSize      int `yaml:"page_size"`
	PageCount     int `yaml:"page_count"`
	PagesPerBlock int `yaml:"pages_per_block"`
}

// Validate checks that the geometry is usable.
func (g Geometry) Validate() error {
	if g.PageSize <= 0 {
		return fmt.Errorf("%w: page size %d", ErrInvalidGeometry, g.PageSize)
	}
	if g.PagesPerBlock <= 0 || g.PagesPerBlock&(g.PagesPerBlock-1) != 0 {
		return fmt.Errorf("%w: pages per block %d is not a power of two", ErrInvalidGeometry, g.PagesPerBlock)
	}
	if g.PageCount <= 0 || g.PageCount%g.PagesPerBlock != 0 {
		return fmt.Errorf("%w: page count %d is not a multiple of %d", ErrInvalidGeometry, g.PageCount, g.PagesPerBlock)
	}
	return nil
}

// Size returns the device size in bytes.
func (g Geometry) Size() int64 { return int64(g.PageSize) * int64(g.PageCount) }

// BlockCount returns the number of erase blocks.
func (g Geometry) BlockCount() int { return g.PageCount / g.PagesPerBlock }

func (g Geometry) checkAccess(page PageID, offset, n int) error {
	if int(page) >= g.PageCount || offset < 0 || offset+n > g.PageSize {
		return fmt.Errorf("%w: page %d offset %d len %d", ErrOutOfRange, page, offset, n)
	}
	return nil
}

func (g Geometry) checkErase(first PageID) error {
	if int(first) >= g.PageCount {
		return fmt.Errorf("%w: erase page %d", ErrOutOfRange, first)
	}
	if int(first)%g.PagesPerBlock != 0 {
		return fmt.Errorf("%w: page %d", ErrUnalignedErase, first)
	}
	return nil
}

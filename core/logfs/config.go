package logfs

import (
	"fmt"
	"strings"

	"github.com/sushant-115/logfs/core/logfs/marker"
)

// Mode selects the capacity policy of a file's record area.
type Mode int

const (
	// Linear stops accepting records once the area is exhausted.
	Linear Mode = iota
	// Circular evicts the oldest record pages to make room.
	Circular
)

func (m Mode) String() string {
	switch m {
	case Linear:
		return "linear"
	case Circular:
		return "circular"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "linear", "":
		*m = Linear
	case "circular":
		*m = Circular
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, string(b))
	}
	return nil
}

// Config describes the medium region managed by the file system.
type Config struct {
	// PageSize is the size of a page in bytes.
	PageSize int `yaml:"page_size"`
	// PageStart and PageEnd bound the managed pages, inclusive. The range is
	// used as a ring.
	PageStart uint32 `yaml:"page_start"`
	PageEnd   uint32 `yaml:"page_end"`
	// PagesPerBlock is the erase granularity, a power of two.
	PagesPerBlock int `yaml:"pages_per_block"`
	// RecordSize is the payload size of every record.
	RecordSize int `yaml:"record_size"`
	// Mode is the capacity policy.
	Mode Mode `yaml:"mode"`
	// MaxFilePages caps the record pages of one file; 0 means up to the next
	// file. In Circular mode it must be a multiple of PagesPerBlock.
	MaxFilePages int `yaml:"max_file_pages"`
}

// DefaultConfig returns a small geometry suited to a 64 KiB NOR part.
func DefaultConfig() Config {
	return Config{
		PageSize:      256,
		PageStart:     0,
		PageEnd:       255,
		PagesPerBlock: 16,
		RecordSize:    16,
		Mode:          Linear,
	}
}

// PageCount returns the number of managed pages.
func (c Config) PageCount() int { return int(c.PageEnd) - int(c.PageStart) + 1 }

// SlotsPerPage returns how many records fit after a page header.
func (c Config) SlotsPerPage() int {
	return (c.PageSize - marker.HeaderSize) / marker.RecordEntrySize(c.RecordSize)
}

// AttrSize returns the attribute bytes available on a FILE page.
func (c Config) AttrSize() int {
	return c.PageSize - marker.HeaderSize - marker.FileEntrySize
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.RecordSize <= 0:
		return fmt.Errorf("%w: record size %d", ErrInvalidConfig, c.RecordSize)
	case c.PageSize < marker.HeaderSize+marker.FileEntrySize:
		return fmt.Errorf("%w: page size %d cannot hold a file entry", ErrInvalidConfig, c.PageSize)
	case c.SlotsPerPage() < 1:
		return fmt.Errorf("%w: page size %d cannot hold a %d byte record", ErrInvalidConfig, c.PageSize, c.RecordSize)
	case c.PagesPerBlock <= 0 || c.PagesPerBlock&(c.PagesPerBlock-1) != 0:
		return fmt.Errorf("%w: pages per block %d is not a power of two", ErrInvalidConfig, c.PagesPerBlock)
	case c.PageEnd < c.PageStart:
		return fmt.Errorf("%w: page range %d..%d", ErrInvalidConfig, c.PageStart, c.PageEnd)
	case c.PageEnd > 0xFFFF:
		return fmt.Errorf("%w: page %d does not fit a 16-bit start page", ErrInvalidConfig, c.PageEnd)
	case int(c.PageStart)%c.PagesPerBlock != 0 || c.PageCount()%c.PagesPerBlock != 0:
		return fmt.Errorf("%w: page range %d..%d is not block aligned", ErrInvalidConfig, c.PageStart, c.PageEnd)
	case c.PageCount() < 2*c.PagesPerBlock:
		return fmt.Errorf("%w: need at least two erase blocks", ErrInvalidConfig)
	case c.Mode != Linear && c.Mode != Circular:
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Mode)
	case c.MaxFilePages < 0:
		return fmt.Errorf("%w: max file pages %d", ErrInvalidConfig, c.MaxFilePages)
	case c.Mode == Circular && c.MaxFilePages%c.PagesPerBlock != 0:
		return fmt.Errorf("%w: max file pages %d is not a multiple of %d", ErrInvalidConfig, c.MaxFilePages, c.PagesPerBlock)
	}
	return nil
}

package marker

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sigurn/crc8"
)

const (
	// HeaderSize is the size of the page header: marker, rolling number, CRC.
	HeaderSize = 1 + 2 + 1
	// FileEntrySize is the size of the file entry that follows a FILE header:
	// start page, six timestamp bytes, CRC.
	FileEntrySize = 2 + 6 + 1
	// RecordOverhead is the marker plus CRC around a record payload.
	RecordOverhead = 1 + 1

	// timestampEpoch is the year stored as zero.
	timestampEpoch = 2000
)

var crcTable = crc8.MakeTable(crc8.CRC8)

// Checksum computes the CRC-8 used by every entry.
func Checksum(b []byte) uint8 {
	return crc8.Checksum(b, crcTable)
}

// --- Page header ---

// PageHeader is stored at offset 0 of every FILE or RECORD page.
type PageHeader struct {
	Marker        Marker
	RollingNumber uint16
}

// Encode serializes the header including its CRC.
func (h PageHeader) Encode() []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.Marker)
	binary.LittleEndian.PutUint16(b[1:3], h.RollingNumber)
	b[3] = Checksum(b[:3])
	return b
}

// DecodePageHeader parses a header. FREE headers must be fully erased; BAD
// headers are returned without checking the CRC.
func DecodePageHeader(b []byte) (PageHeader, error) {
	if len(b) < HeaderSize {
		return PageHeader{}, ErrShortBuffer
	}
	h := PageHeader{
		Marker:        Marker(b[0]),
		RollingNumber: binary.LittleEndian.Uint16(b[1:3]),
	}
	switch h.Marker {
	case Free:
		if !blank(b[:HeaderSize]) {
			return h, ErrNotBlank
		}
	case Bad:
	case File, Record:
		if Checksum(b[:3]) != b[3] {
			return h, fmt.Errorf("%w: page header", ErrChecksum)
		}
	default:
		return h, fmt.Errorf("%w: 0x%02X", ErrUnknownMarker, b[0])
	}
	return h, nil
}

// --- File entry ---

// Timestamp is the six-byte creation time of a file, second resolution.
type Timestamp struct {
	Year   uint16
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// NewTimestamp converts t (in its own location) to the on-medium form.
func NewTimestamp(t time.Time) (Timestamp, error) {
	if t.Year() < timestampEpoch || t.Year() > timestampEpoch+255 {
		return Timestamp{}, fmt.Errorf("year %d outside %d..%d", t.Year(), timestampEpoch, timestampEpoch+255)
	}
	return Timestamp{
		Year:   uint16(t.Year()),
		Month:  uint8(t.Month()),
		Day:    uint8(t.Day()),
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
	}, nil
}

// Time returns the timestamp as a UTC time.
func (ts Timestamp) Time() time.Time {
	return time.Date(int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hour), int(ts.Minute), int(ts.Second), 0, time.UTC)
}

// FileEntry follows the page header of a FILE page.
type FileEntry struct {
	StartPage uint16
	Created   Timestamp
}

// Encode serializes the entry including its CRC.
func (e FileEntry) Encode() []byte {
	b := make([]byte, FileEntrySize)
	binary.LittleEndian.PutUint16(b[0:2], e.StartPage)
	b[2] = uint8(e.Created.Year - timestampEpoch)
	b[3] = e.Created.Month
	b[4] = e.Created.Day
	b[5] = e.Created.Hour
	b[6] = e.Created.Minute
	b[7] = e.Created.Second
	b[8] = Checksum(b[:8])
	return b
}

// DecodeFileEntry parses and verifies a file entry.
func DecodeFileEntry(b []byte) (FileEntry, error) {
	if len(b) < FileEntrySize {
		return FileEntry{}, ErrShortBuffer
	}
	if Checksum(b[:8]) != b[8] {
		return FileEntry{}, fmt.Errorf("%w: file entry", ErrChecksum)
	}
	return FileEntry{
		StartPage: binary.LittleEndian.Uint16(b[0:2]),
		Created: Timestamp{
			Year:   uint16(b[2]) + timestampEpoch,
			Month:  b[3],
			Day:    b[4],
			Hour:   b[5],
			Minute: b[6],
			Second: b[7],
		},
	}, nil
}

// --- Record entry ---

// RecordEntrySize returns the on-medium size of a record with payloadSize
// bytes of data.
func RecordEntrySize(payloadSize int) int { return payloadSize + RecordOverhead }

// EncodeRecord builds a RECORD entry. payload is copied into a payloadSize
// field and padded with 0xFF; extra bytes are dropped.
func EncodeRecord(payload []byte, payloadSize int) []byte {
	b := make([]byte, RecordEntrySize(payloadSize))
	b[0] = byte(Record)
	n := copy(b[1:1+payloadSize], payload)
	for i := 1 + n; i < 1+payloadSize; i++ {
		b[i] = 0xFF
	}
	b[len(b)-1] = Checksum(b[:len(b)-1])
	return b
}

// DecodeRecord returns the payload of a RECORD entry. For any other valid
// marker it returns that marker and a nil payload.
func DecodeRecord(b []byte, payloadSize int) (Marker, []byte, error) {
	size := RecordEntrySize(payloadSize)
	if len(b) < size {
		return Bad, nil, ErrShortBuffer
	}
	m := Marker(b[0])
	switch m {
	case Record:
		if Checksum(b[:size-1]) != b[size-1] {
			return m, nil, fmt.Errorf("%w: record entry", ErrChecksum)
		}
		return m, b[1 : size-1], nil
	case Free:
		if !blank(b[:size]) {
			return m, nil, ErrNotBlank
		}
		return m, nil, nil
	case Bad:
		return m, nil, nil
	case File:
		// FILE is never valid inside a record page.
		return m, nil, fmt.Errorf("%w: %s in record slot", ErrUnknownMarker, m)
	}
	return m, nil, fmt.Errorf("%w: 0x%02X", ErrUnknownMarker, b[0])
}

func blank(b []byte) bool {
	for _, c := range b {
		if c != 0xFF {
			return false
		}
	}
	return true
}

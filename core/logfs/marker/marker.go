// Package marker encodes and validates the structural entries of the log
// file system: page headers, file entries and record entries.
//
// Every entry starts with an 8-bit marker and ends with a CRC-8 computed over
// the entry without its own CRC byte. Marker values are chosen so the only
// legal transitions clear bits:
//
//	FREE (0xFF) -> FILE (0x2F) -> BAD (0x00)
//	FREE (0xFF) -> RECORD (0x1F) -> BAD (0x00)
//
// Multi-byte fields are little-endian.
package marker

import (
	"errors"
	"fmt"
)

// Marker tags a structural entry.
type Marker byte

const (
	Free   Marker = 0xFF
	File   Marker = 0x2F
	Record Marker = 0x1F
	Bad    Marker = 0x00
)

var (
	ErrUnknownMarker     = errors.New("unknown marker value")
	ErrChecksum          = errors.New("entry checksum mismatch")
	ErrNotBlank          = errors.New("free entry is not blank")
	ErrIllegalTransition = errors.New("illegal marker transition")
	ErrShortBuffer       = errors.New("buffer too short for entry")
)

// Valid reports whether m is one of the four defined markers.
func (m Marker) Valid() bool {
	switch m {
	case Free, File, Record, Bad:
		return true
	}
	return false
}

func (m Marker) String() string {
	switch m {
	case Free:
		return "FREE"
	case File:
		return "FILE"
	case Record:
		return "RECORD"
	case Bad:
		return "BAD"
	}
	return fmt.Sprintf("0x%02X", byte(m))
}

// transitions lists every allowed (from, to) pair within one erase cycle.
var transitions = map[Marker][]Marker{
	Free:   {File, Record, Bad},
	File:   {Bad},
	Record: {Bad},
	Bad:    {Bad},
}

// CanTransition reports whether an entry marked from may be rewritten as to
// without an erase.
func CanTransition(from, to Marker) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns to when the move is legal and an error otherwise.
func Transition(from, to Marker) (Marker, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return to, nil
}

package flash

import "errors"

// --- Error Definitions ---

var (
	ErrOutOfRange      = errors.New("flash: access outside device bounds")
	ErrUnalignedErase  = errors.New("flash: erase address is not the first page of a block")
	ErrInvalidGeometry = errors.New("flash: invalid geometry")
	ErrDeviceClosed    = errors.New("flash: device is closed")
	ErrImageMismatch   = errors.New("flash: image size does not match geometry")
)

package flash

import "fmt"

// ProgramFault rewrites the bytes about to be programmed. It lets tests model
// stuck bits or torn writes. Returning nil leaves data untouched.
type ProgramFault func(page PageID, offset int, data []byte) []byte

// MemDevice is an in-memory NOR flash simulation.
type MemDevice struct {
	geo    Geometry
	cells  []byte
	erases []uint32
	fault  ProgramFault
}

// NewMemDevice creates a device in the erased state.
func NewMemDevice(geo Geometry) (*MemDevice, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	cells := make([]byte, geo.Size())
	for i := range cells {
		cells[i] = ErasedByte
	}
	return &MemDevice{
		geo:    geo,
		cells:  cells,
		erases: make([]uint32, geo.BlockCount()),
	}, nil
}

// Geometry returns the device layout.
func (d *MemDevice) Geometry() Geometry { return d.geo }

func (d *MemDevice) addr(page PageID, offset int) int {
	return int(page)*d.geo.PageSize + offset
}

// ReadPage implements Device.
func (d *MemDevice) ReadPage(page PageID, offset int, buf []byte) error {
	if err := d.geo.checkAccess(page, offset, len(buf)); err != nil {
		return err
	}
	a := d.addr(page, offset)
	copy(buf, d.cells[a:a+len(buf)])
	return nil
}

// ProgramPage implements Device. Bits can only be cleared.
func (d *MemDevice) ProgramPage(page PageID, offset int, buf []byte) error {
	if err := d.geo.checkAccess(page, offset, len(buf)); err != nil {
		return err
	}
	data := buf
	if d.fault != nil {
		tmp := make([]byte, len(buf))
		copy(tmp, buf)
		if faulty := d.fault(page, offset, tmp); faulty != nil {
			data = faulty
		}
	}
	a := d.addr(page, offset)
	for i := 0; i < len(buf) && i < len(data); i++ {
		d.cells[a+i] &= data[i]
	}
	return nil
}

// EraseBlock implements Device.
func (d *MemDevice) EraseBlock(first PageID) error {
	if err := d.geo.checkErase(first); err != nil {
		return err
	}
	a := d.addr(first, 0)
	n := d.geo.PageSize * d.geo.PagesPerBlock
	for i := a; i < a+n; i++ {
		d.cells[i] = ErasedByte
	}
	d.erases[int(first)/d.geo.PagesPerBlock]++
	return nil
}

// SetProgramFault installs (or clears, with nil) a fault hook applied to every
// subsequent program operation.
func (d *MemDevice) SetProgramFault(f ProgramFault) { d.fault = f }

// FlipBits XORs mask into a stored byte, bypassing NOR rules. It models bit
// rot or disturb errors.
func (d *MemDevice) FlipBits(page PageID, offset int, mask byte) error {
	if err := d.geo.checkAccess(page, offset, 1); err != nil {
		return err
	}
	d.cells[d.addr(page, offset)] ^= mask
	return nil
}

// EraseCount returns how many times the block holding page was erased.
func (d *MemDevice) EraseCount(page PageID) (uint32, error) {
	if int(page) >= d.geo.PageCount {
		return 0, fmt.Errorf("%w: page %d", ErrOutOfRange, page)
	}
	return d.erases[int(page)/d.geo.PagesPerBlock], nil
}

// Snapshot returns a copy of the whole cell array.
func (d *MemDevice) Snapshot() []byte {
	out := make([]byte, len(d.cells))
	copy(out, d.cells)
	return out
}

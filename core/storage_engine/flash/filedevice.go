package flash

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FileDeviceOptions tunes a FileDevice.
type FileDeviceOptions struct {
	// ThroughputBytesPerSec throttles program and erase traffic to mimic a slow
	// chip. Zero disables throttling.
	ThroughputBytesPerSec int `yaml:"throughput_bytes_per_sec"`
	Logger                *zap.Logger
}

// FileDevice stores a NOR flash image in a regular file. Programming keeps
// NOR semantics: the new bytes are ANDed with the stored ones.
type FileDevice struct {
	path    string
	file    *os.File
	geo     Geometry
	limiter *rate.Limiter
	logger  *zap.Logger
	scratch []byte
	mu      sync.Mutex
}

// OpenFileDevice opens the image at path, creating an erased image when it
// does not exist. An existing image must match the geometry exactly.
func OpenFileDevice(path string, geo Geometry, opts FileDeviceOptions) (*FileDevice, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &FileDevice{
		path:    path,
		geo:     geo,
		logger:  logger.With(zap.String("image", path)),
		scratch: make([]byte, geo.PageSize*geo.PagesPerBlock),
	}
	if opts.ThroughputBytesPerSec > 0 {
		burst := opts.ThroughputBytesPerSec
		if burst < len(d.scratch) {
			burst = len(d.scratch)
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.ThroughputBytesPerSec), burst)
	}

	info, statErr := os.Stat(path)
	switch {
	case os.IsNotExist(statErr):
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return nil, fmt.Errorf("create image %s: %w", path, err)
		}
		d.file = f
		for b := 0; b < geo.BlockCount(); b++ {
			if err := d.eraseLocked(PageID(b * geo.PagesPerBlock)); err != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, fmt.Errorf("format image %s: %w", path, err)
			}
		}
		d.logger.Info("created erased flash image", zap.Int("pages", geo.PageCount), zap.Int("page_size", geo.PageSize))
	case statErr == nil:
		if info.Size() != geo.Size() {
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrImageMismatch, path, info.Size(), geo.Size())
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("open image %s: %w", path, err)
		}
		d.file = f
	default:
		return nil, fmt.Errorf("stat image %s: %w", path, statErr)
	}
	return d, nil
}

// Geometry returns the device layout.
func (d *FileDevice) Geometry() Geometry { return d.geo }

func (d *FileDevice) wait(n int) error {
	if d.limiter == nil {
		return nil
	}
	return d.limiter.WaitN(context.Background(), n)
}

func (d *FileDevice) offset(page PageID, offset int) int64 {
	return int64(page)*int64(d.geo.PageSize) + int64(offset)
}

// ReadPage implements Device.
func (d *FileDevice) ReadPage(page PageID, offset int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrDeviceClosed
	}
	if err := d.geo.checkAccess(page, offset, len(buf)); err != nil {
		return err
	}
	if _, err := d.file.ReadAt(buf, d.offset(page, offset)); err != nil {
		return fmt.Errorf("read page %d: %w", page, err)
	}
	return nil
}

// ProgramPage implements Device.
func (d *FileDevice) ProgramPage(page PageID, offset int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrDeviceClosed
	}
	if err := d.geo.checkAccess(page, offset, len(buf)); err != nil {
		return err
	}
	if err := d.wait(len(buf)); err != nil {
		return err
	}
	cur := d.scratch[:len(buf)]
	off := d.offset(page, offset)
	if _, err := d.file.ReadAt(cur, off); err != nil {
		return fmt.Errorf("program page %d: %w", page, err)
	}
	for i := range cur {
		cur[i] &= buf[i]
	}
	if _, err := d.file.WriteAt(cur, off); err != nil {
		return fmt.Errorf("program page %d: %w", page, err)
	}
	return nil
}

// EraseBlock implements Device.
func (d *FileDevice) EraseBlock(first PageID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrDeviceClosed
	}
	if err := d.geo.checkErase(first); err != nil {
		return err
	}
	return d.eraseLocked(first)
}

func (d *FileDevice) eraseLocked(first PageID) error {
	if err := d.wait(len(d.scratch)); err != nil {
		return err
	}
	for i := range d.scratch {
		d.scratch[i] = ErasedByte
	}
	if _, err := d.file.WriteAt(d.scratch, d.offset(first, 0)); err != nil {
		return fmt.Errorf("erase block at page %d: %w", first, err)
	}
	return nil
}

// Sync flushes the image to stable storage.
func (d *FileDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrDeviceClosed
	}
	return d.file.Sync()
}

// Close syncs and closes the image.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Sync()
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	d.file = nil
	return err
}

// Package logfs implements a log-structured record file system on erasable
// flash.
//
// The managed page range is a ring holding time-stamped files. Each file is
// one FILE page followed by its RECORD pages, and each RECORD page packs
// fixed-size records. Order is never stored explicitly: it is recovered from
// the 16-bit rolling numbers in the page headers by locating the single
// largest forward gap between consecutive numbers.
//
// An FS is not safe for concurrent use. Callers serialize access.
package logfs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/logfs/core/logfs/marker"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
	internaltelemetry "github.com/sushant-115/logfs/internal/telemetry"
)

// FS is the file system state of one medium.
type FS struct {
	cfg     Config
	geo     geometry
	dev     flash.Device
	logger  *zap.Logger
	meter   metric.Meter
	metrics *internaltelemetry.LogFSMetrics

	files fileTable
	cur   *openFile
	stats Stats

	// filesStale is set when a FILE page is quarantined after the file table
	// was built.
	filesStale bool
}

// fileTable is the bookkeeping of the FILE pages on the medium.
type fileTable struct {
	any    bool
	first  flash.PageID
	last   flash.PageID
	count  int
	nextRN uint16
}

// Stats are counters accumulated since New.
type Stats struct {
	FilesCreated       uint64
	FilesDeleted       uint64
	RecordsAppended    uint64
	RecordsRead        uint64
	BlocksErased       uint64
	BlocksEvicted      uint64
	EntriesQuarantined uint64
	WriteFailures      uint64
}

// Option configures an FS.
type Option func(*FS)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(fs *FS) {
		if l != nil {
			fs.logger = l
		}
	}
}

// WithMeter sets the meter used to register metrics.
func WithMeter(m metric.Meter) Option {
	return func(fs *FS) {
		if m != nil {
			fs.meter = m
		}
	}
}

// New validates cfg and mounts the medium behind dev.
func New(dev flash.Device, cfg Config, opts ...Option) (*FS, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if g, ok := dev.(interface{ Geometry() flash.Geometry }); ok {
		if err := checkGeometry(cfg, g.Geometry()); err != nil {
			return nil, err
		}
	}
	fs := &FS{
		cfg:    cfg,
		geo:    newGeometry(cfg),
		dev:    dev,
		logger: zap.NewNop(),
		meter:  noop.NewMeterProvider().Meter(""),
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.logger = fs.logger.With(zap.String("component", "logfs"))

	metrics, err := internaltelemetry.NewLogFSMetrics(fs.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register logfs metrics: %w", err)
	}
	fs.metrics = metrics

	if err := fs.Init(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Init rebuilds the file table from the medium and closes any open file.
func (fs *FS) Init() error {
	prev := fs.files.count
	fs.files = fileTable{}
	fs.cur = nil
	if err := fs.scanFiles(prev); err != nil {
		return err
	}

	fs.logger.Info("Mounted log file system",
		zap.Int("files", fs.files.count),
		zap.Uint32("first_file_page", uint32(fs.files.first)),
		zap.Uint32("last_file_page", uint32(fs.files.last)),
		zap.Stringer("mode", fs.cfg.Mode),
	)
	return nil
}

// scanFiles runs the FILE boundary search until it completes without
// losing another FILE page. prev is the live count already reported.
func (fs *FS) scanFiles(prev int) error {
	for {
		fs.filesStale = false
		b, ok, err := fs.boundary(marker.File, fs.geo.medium(), fs.fileStride())
		if err != nil {
			return err
		}
		if fs.filesStale {
			continue
		}
		if ok {
			fs.files = fileTable{
				any:    true,
				first:  b.first,
				last:   b.last,
				count:  b.count,
				nextRN: b.lastHdr.RollingNumber + 1,
			}
		} else {
			fs.files = fileTable{nextRN: fs.files.nextRN}
		}
		break
	}
	fs.metrics.LiveFiles.Add(context.Background(), int64(fs.files.count-prev))
	return nil
}

// syncFiles rebuilds the file table and reloads the open file when a FILE
// page was lost since the last scan.
func (fs *FS) syncFiles() error {
	if !fs.filesStale {
		return nil
	}
	before := fs.files.count
	if err := fs.scanFiles(before); err != nil {
		return err
	}
	fs.logger.Info("Rebuilt file table",
		zap.Int("files_before", before),
		zap.Int("files", fs.files.count),
	)
	return fs.reopen()
}

// Close drops the in-memory state. The device is left to the caller.
func (fs *FS) Close() error {
	fs.cur = nil
	fs.files = fileTable{}
	_ = fs.logger.Sync()
	return nil
}

// Config returns the configuration the FS was mounted with.
func (fs *FS) Config() Config { return fs.cfg }

// Stats returns the counters accumulated so far.
func (fs *FS) Stats() Stats { return fs.stats }

// FileCount returns the number of files on the medium. A failed rescan
// after a lost FILE page leaves the previous count.
func (fs *FS) FileCount() int {
	_ = fs.syncFiles()
	return fs.files.count
}

// checkGeometry verifies that the managed range fits the device.
func checkGeometry(cfg Config, geo flash.Geometry) error {
	switch {
	case geo.PageSize != cfg.PageSize:
		return fmt.Errorf("%w: page size %d, device has %d", ErrInvalidConfig, cfg.PageSize, geo.PageSize)
	case geo.PagesPerBlock != cfg.PagesPerBlock:
		return fmt.Errorf("%w: pages per block %d, device has %d", ErrInvalidConfig, cfg.PagesPerBlock, geo.PagesPerBlock)
	case int(cfg.PageEnd) >= geo.PageCount:
		return fmt.Errorf("%w: page %d beyond device of %d pages", ErrInvalidConfig, cfg.PageEnd, geo.PageCount)
	}
	return nil
}

// fileStride is the distance between candidate FILE pages.
func (fs *FS) fileStride() int {
	if fs.cfg.Mode == Circular {
		return fs.cfg.PagesPerBlock
	}
	return 1
}

func (fs *FS) count(c metric.Int64Counter, field *uint64) {
	*field++
	c.Add(context.Background(), 1)
}

package logfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/sushant-115/logfs/core/storage_engine/flash"
)

// --- Test Helpers ---

var testEpoch = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

// linearConfig is a 16 byte page layout holding two 4 byte records per page.
func linearConfig() Config {
	return Config{
		PageSize:      16,
		PageStart:     2,
		PageEnd:       9,
		PagesPerBlock: 1,
		RecordSize:    4,
		Mode:          Linear,
	}
}

func circularConfig() Config {
	return Config{
		PageSize:      16,
		PageStart:     0,
		PageEnd:       15,
		PagesPerBlock: 2,
		RecordSize:    4,
		Mode:          Circular,
	}
}

func newTestDevice(t *testing.T, cfg Config) *flash.MemDevice {
	t.Helper()
	dev, err := flash.NewMemDevice(flash.Geometry{
		PageSize:      cfg.PageSize,
		PageCount:     int(cfg.PageEnd) + 1,
		PagesPerBlock: cfg.PagesPerBlock,
	})
	require.NoError(t, err)
	return dev
}

func mount(t *testing.T, dev flash.Device, cfg Config, opts ...Option) *FS {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	fs, err := New(dev, cfg, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs
}

func newTestFS(t *testing.T, cfg Config) (*FS, *flash.MemDevice) {
	t.Helper()
	dev := newTestDevice(t, cfg)
	return mount(t, dev, cfg), dev
}

// rec builds the 4 byte payload of record n.
func rec(n int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return b
}

func appendN(t *testing.T, fs *FS, from, to int) {
	t.Helper()
	for n := from; n < to; n++ {
		require.NoError(t, fs.Append(rec(n)), "append %d", n)
	}
}

// readForward drains the open file with ReadFirst/ReadNext.
func readForward(t *testing.T, fs *FS) [][]byte {
	t.Helper()
	var out [][]byte
	buf := make([]byte, 4)
	n, err := fs.ReadFirst(buf)
	for err == nil {
		out = append(out, append([]byte(nil), buf[:n]...))
		n, err = fs.ReadNext(buf)
	}
	require.ErrorIs(t, err, ErrNoRecord)
	return out
}

// readBackward drains the open file with ReadLast/ReadPrevious.
func readBackward(t *testing.T, fs *FS) [][]byte {
	t.Helper()
	var out [][]byte
	buf := make([]byte, 4)
	n, err := fs.ReadLast(buf)
	for err == nil {
		out = append(out, append([]byte(nil), buf[:n]...))
		n, err = fs.ReadPrevious(buf)
	}
	require.ErrorIs(t, err, ErrNoRecord)
	return out
}

func recs(from, to int) [][]byte {
	var out [][]byte
	for n := from; n < to; n++ {
		out = append(out, rec(n))
	}
	return out
}

func reverse(in [][]byte) [][]byte {
	out := make([][]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}

func readByte(t *testing.T, dev flash.Device, p flash.PageID, off int) byte {
	t.Helper()
	b := make([]byte, 1)
	require.NoError(t, dev.ReadPage(p, off, b))
	return b[0]
}

// --- Test Cases ---

func TestConfig_Validate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(*Config)
		wantErr bool
	}{
		"linear":                   {mutate: func(c *Config) {}},
		"circular":                 {mutate: func(c *Config) { *c = circularConfig() }},
		"zero record size":         {mutate: func(c *Config) { c.RecordSize = 0 }, wantErr: true},
		"record larger than page":  {mutate: func(c *Config) { c.RecordSize = 11 }, wantErr: true},
		"page too small for entry": {mutate: func(c *Config) { c.PageSize = 12; c.RecordSize = 1 }, wantErr: true},
		"block not power of two":   {mutate: func(c *Config) { c.PagesPerBlock = 3 }, wantErr: true},
		"unaligned start":          {mutate: func(c *Config) { c.PagesPerBlock = 4; c.PageStart = 2; c.PageEnd = 9 }, wantErr: true},
		"single block":             {mutate: func(c *Config) { c.PagesPerBlock = 8 }, wantErr: true},
		"reversed range":           {mutate: func(c *Config) { c.PageStart = 9; c.PageEnd = 2 }, wantErr: true},
		"range past 16 bits":       {mutate: func(c *Config) { c.PageStart = 0; c.PageEnd = 0x10000 }, wantErr: true},
		"negative max pages":       {mutate: func(c *Config) { c.MaxFilePages = -1 }, wantErr: true},
		"circular max pages unaligned": {
			mutate:  func(c *Config) { *c = circularConfig(); c.MaxFilePages = 3 },
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := linearConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMode_Text(t *testing.T) {
	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("Circular")))
	require.Equal(t, Circular, m)
	out, err := m.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "circular", string(out))
	require.ErrorIs(t, m.UnmarshalText([]byte("ring")), ErrInvalidConfig)
}

func TestNew_RejectsMismatchedDevice(t *testing.T) {
	cfg := linearConfig()
	dev, err := flash.NewMemDevice(flash.Geometry{PageSize: 32, PageCount: 10, PagesPerBlock: 1})
	require.NoError(t, err)
	_, err = New(dev, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	small, err := flash.NewMemDevice(flash.Geometry{PageSize: 16, PageCount: 8, PagesPerBlock: 1})
	require.NoError(t, err)
	_, err = New(small, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(nil, cfg)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInit_EmptyMedium(t *testing.T) {
	fs, _ := newTestFS(t, linearConfig())
	require.Equal(t, 0, fs.FileCount())

	_, err := fs.FindFirst()
	require.ErrorIs(t, err, ErrEmpty)
	_, err = fs.FindLast()
	require.ErrorIs(t, err, ErrEmpty)
	require.True(t, IsExhausted(err))

	require.ErrorIs(t, fs.Append(rec(1)), ErrFileInvalid)
	_, err = fs.ReadFirst(make([]byte, 4))
	require.ErrorIs(t, err, ErrFileInvalid)
}

func TestInit_RemountRecoversState(t *testing.T) {
	cfg := linearConfig()
	fs, dev := newTestFS(t, cfg)

	first, err := fs.Create(testEpoch)
	require.NoError(t, err)
	appendN(t, fs, 0, 3)
	last, err := fs.Create(testEpoch.Add(time.Hour))
	require.NoError(t, err)
	appendN(t, fs, 3, 4)

	again := mount(t, dev, cfg)
	require.Equal(t, 2, again.FileCount())
	_, open := again.Current()
	require.False(t, open, "mounting leaves no file open")

	got, err := again.FindFirst()
	require.NoError(t, err)
	require.Equal(t, first, got)
	got, err = again.FindLast()
	require.NoError(t, err)
	require.Equal(t, last, got)

	require.NoError(t, again.Open(last))
	appendN(t, again, 4, 6)
	require.Equal(t, recs(3, 6), readForward(t, again))

	// The next file continues the rolling sequence.
	third, err := again.Create(testEpoch.Add(2 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, last.RollingNumber+1, third.RollingNumber)
}

func TestMetrics_CountOperations(t *testing.T) {
	cfg := linearConfig()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	fs := mount(t, newTestDevice(t, cfg), cfg, WithMeter(provider.Meter("logfs-test")))

	_, err := fs.Create(testEpoch)
	require.NoError(t, err)
	appendN(t, fs, 0, 3)
	readForward(t, fs)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	require.Equal(t, int64(1), sums["logfs.files.created_total"])
	require.Equal(t, int64(1), sums["logfs.files.live"])
	require.Equal(t, int64(3), sums["logfs.records.appended_total"])
	require.Equal(t, int64(3), sums["logfs.records.read_total"])

	st := fs.Stats()
	require.Equal(t, uint64(3), st.RecordsAppended)
	require.Equal(t, uint64(1), st.FilesCreated)
	require.Positive(t, st.BlocksErased)
}

func TestDump_AnnotatesPages(t *testing.T) {
	fs, dev := newTestFS(t, linearConfig())
	_, err := fs.Create(testEpoch)
	require.NoError(t, err)
	appendN(t, fs, 0, 3)
	require.NoError(t, dev.FlipBits(9, 1, 0x40))

	var out bytes.Buffer
	require.NoError(t, fs.Dump(&out))
	text := out.String()

	require.Contains(t, text, "PAGE")
	require.Contains(t, text, "FILE")
	require.Contains(t, text, "start=3 created=2024-05-01T12:00:00")
	require.Contains(t, text, "first-file,last-file,open")
	require.Contains(t, text, "records=2/2")
	require.Contains(t, text, "write@10")
	require.Contains(t, text, "not blank")

	// Dump never repairs what it reports.
	require.Equal(t, byte(0xBF), readByte(t, dev, 9, 1))
}

func TestIsExhausted(t *testing.T) {
	require.True(t, IsExhausted(ErrNoRecord))
	require.True(t, IsExhausted(ErrNoFile))
	require.False(t, IsExhausted(ErrFull))
	require.False(t, IsExhausted(errors.New("other")))
}

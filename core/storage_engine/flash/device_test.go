package flash

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Test Helpers ---

func testGeometry() Geometry {
	return Geometry{PageSize: 32, PageCount: 8, PagesPerBlock: 2}
}

// exerciseNOR runs the same NOR-semantics checks against any backend.
func exerciseNOR(t *testing.T, dev Device) {
	t.Helper()

	buf := make([]byte, 4)
	require.NoError(t, dev.ReadPage(3, 0, buf))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf, "fresh device must read erased")

	require.NoError(t, dev.ProgramPage(3, 0, []byte{0x2F, 0xF0, 0x0F, 0xFF}))
	require.NoError(t, dev.ProgramPage(3, 0, []byte{0xFF, 0x3C, 0xFF, 0x00}))
	require.NoError(t, dev.ReadPage(3, 0, buf))
	require.Equal(t, []byte{0x2F, 0x30, 0x0F, 0x00}, buf, "programming must only clear bits")

	// Page 2 shares the block with page 3.
	require.NoError(t, dev.ProgramPage(2, 10, []byte{0x00}))
	require.NoError(t, dev.EraseBlock(2))
	require.NoError(t, dev.ReadPage(3, 0, buf))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf)
	one := make([]byte, 1)
	require.NoError(t, dev.ReadPage(2, 10, one))
	require.Equal(t, byte(0xFF), one[0])

	require.ErrorIs(t, dev.EraseBlock(3), ErrUnalignedErase)
	require.ErrorIs(t, dev.ReadPage(8, 0, one), ErrOutOfRange)
	require.ErrorIs(t, dev.ProgramPage(0, 31, []byte{1, 2}), ErrOutOfRange)
}

// --- Test Cases ---

func TestGeometry_Validate(t *testing.T) {
	tests := map[string]struct {
		geo     Geometry
		wantErr bool
	}{
		"valid":                    {geo: testGeometry()},
		"zero page size":           {geo: Geometry{PageSize: 0, PageCount: 8, PagesPerBlock: 2}, wantErr: true},
		"block not power of two":   {geo: Geometry{PageSize: 16, PageCount: 9, PagesPerBlock: 3}, wantErr: true},
		"count not block multiple": {geo: Geometry{PageSize: 16, PageCount: 7, PagesPerBlock: 2}, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.geo.Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidGeometry)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMemDevice_NORSemantics(t *testing.T) {
	dev, err := NewMemDevice(testGeometry())
	require.NoError(t, err)
	exerciseNOR(t, dev)

	count, err := dev.EraseCount(3)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMemDevice_FaultInjection(t *testing.T) {
	dev, err := NewMemDevice(testGeometry())
	require.NoError(t, err)

	dev.SetProgramFault(func(page PageID, offset int, data []byte) []byte {
		if page == 1 {
			data[0] &^= 0x01
		}
		return data
	})
	require.NoError(t, dev.ProgramPage(1, 0, []byte{0x1F}))
	require.NoError(t, dev.ProgramPage(0, 0, []byte{0x1F}))
	dev.SetProgramFault(nil)

	snap := dev.Snapshot()
	require.Equal(t, byte(0x1E), snap[32])
	require.Equal(t, byte(0x1F), snap[0])

	require.NoError(t, dev.FlipBits(0, 0, 0x20))
	one := make([]byte, 1)
	require.NoError(t, dev.ReadPage(0, 0, one))
	require.Equal(t, byte(0x3F), one[0], "bit flips bypass NOR rules")
}

func TestFileDevice_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	dev, err := OpenFileDevice(path, testGeometry(), FileDeviceOptions{Logger: logger})
	require.NoError(t, err)
	exerciseNOR(t, dev)
	require.NoError(t, dev.ProgramPage(5, 4, []byte("abc")))
	require.NoError(t, dev.Close())
	require.ErrorIs(t, dev.ReadPage(0, 0, make([]byte, 1)), ErrDeviceClosed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, testGeometry().Size(), info.Size())

	dev, err = OpenFileDevice(path, testGeometry(), FileDeviceOptions{ThroughputBytesPerSec: 1 << 20})
	require.NoError(t, err)
	defer dev.Close()
	buf := make([]byte, 3)
	require.NoError(t, dev.ReadPage(5, 4, buf))
	require.True(t, bytes.Equal([]byte("abc"), buf))
}

func TestFileDevice_RejectsMismatchedImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	dev, err := OpenFileDevice(path, testGeometry(), FileDeviceOptions{})
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	bigger := testGeometry()
	bigger.PageCount = 16
	_, err = OpenFileDevice(path, bigger, FileDeviceOptions{})
	require.ErrorIs(t, err, ErrImageMismatch)
}

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/logfs/config"
	"github.com/sushant-115/logfs/core/logfs"
)

func newTestShell(t *testing.T, image string) (*shell, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Medium.PageEnd = 63
	cfg.Device.Image = image

	log, err := zap.NewDevelopment()
	require.NoError(t, err)
	dev, closeDev, err := openDevice(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, closeDev()) })

	fs, err := logfs.New(dev, cfg.Medium, logfs.WithLogger(log))
	require.NoError(t, err)

	var out bytes.Buffer
	return &shell{
		fs:      fs,
		out:     &out,
		logger:  log,
		tracer:  nooptrace.NewTracerProvider().Tracer(""),
		session: "test",
		now:     func() time.Time { return time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC) },
	}, &out
}

func TestShell_RecordLifecycle(t *testing.T) {
	sh, out := newTestShell(t, "")
	ctx := context.Background()

	require.NoError(t, sh.exec(ctx, "create"))
	require.Contains(t, out.String(), "file page=0 rn=0 start=1 created=2024-05-01T08:00:00Z")

	require.NoError(t, sh.exec(ctx, "append hello"))
	require.NoError(t, sh.exec(ctx, "append 0x0102"))
	out.Reset()

	require.NoError(t, sh.exec(ctx, "first"))
	require.Contains(t, out.String(), "68656c6c6f")
	out.Reset()
	require.NoError(t, sh.exec(ctx, "next"))
	require.Contains(t, out.String(), "0102ffff")
	require.ErrorIs(t, sh.exec(ctx, "next"), logfs.ErrNoRecord)

	out.Reset()
	require.NoError(t, sh.exec(ctx, "stats"))
	require.Contains(t, out.String(), "appended=2")

	require.ErrorIs(t, sh.exec(ctx, "quit"), errQuit)
	require.Error(t, sh.exec(ctx, "frobnicate"))
	require.NoError(t, sh.exec(ctx, "   "))
}

func TestShell_FilesOpenDelete(t *testing.T) {
	sh, out := newTestShell(t, "")
	ctx := context.Background()

	require.NoError(t, sh.exec(ctx, "files"))
	require.Contains(t, out.String(), "no files")
	require.ErrorIs(t, sh.exec(ctx, "delete"), logfs.ErrEmpty)

	require.NoError(t, sh.exec(ctx, "create 2024-01-01T00:00:00Z"))
	require.NoError(t, sh.exec(ctx, "append a"))
	require.NoError(t, sh.exec(ctx, "create 2024-01-02T00:00:00Z"))
	out.Reset()
	require.NoError(t, sh.exec(ctx, "files"))
	require.Contains(t, out.String(), "rn=0")
	require.Contains(t, out.String(), "rn=1")

	require.NoError(t, sh.exec(ctx, "open 0"))
	out.Reset()
	require.NoError(t, sh.exec(ctx, "last"))
	require.Contains(t, out.String(), `"a`)
	require.ErrorIs(t, sh.exec(ctx, "open 7"), logfs.ErrFileInvalid)
	require.ErrorIs(t, sh.exec(ctx, "create yesterday"), logfs.ErrInvalidArgument)

	require.NoError(t, sh.exec(ctx, "delete"))
	require.Equal(t, 1, sh.fs.FileCount())
}

func TestShell_Attributes(t *testing.T) {
	sh, out := newTestShell(t, "")
	ctx := context.Background()

	require.ErrorIs(t, sh.exec(ctx, "attr-write 0 x"), logfs.ErrFileInvalid)
	require.NoError(t, sh.exec(ctx, "create"))
	require.NoError(t, sh.exec(ctx, "attr-write 2 0xa0a1"))
	out.Reset()
	require.NoError(t, sh.exec(ctx, "attr-read 0 4"))
	require.Equal(t, "ffffa0a1\n", out.String())
	require.ErrorIs(t, sh.exec(ctx, "attr-read 0"), logfs.ErrInvalidArgument)
	require.ErrorIs(t, sh.exec(ctx, "attr-write 0 0xzz"), logfs.ErrInvalidArgument)
}

func TestRunScript_PersistsToImage(t *testing.T) {
	image := filepath.Join(t.TempDir(), "flash.img")
	sh, out := newTestShell(t, image)
	ctx := context.Background()

	require.NoError(t, runScript(ctx, sh, "create; append one; append two; next; next; next; dump"))
	require.Contains(t, out.String(), "no more records")
	require.Contains(t, out.String(), "PAGE")
	require.Error(t, runScript(ctx, sh, "open x"))
	require.NoError(t, runScript(ctx, sh, "quit; frobnicate"))

	again, out := newTestShell(t, image)
	require.Equal(t, 1, again.fs.FileCount())
	require.NoError(t, runScript(ctx, again, "open 0; last"))
	require.Contains(t, out.String(), `"two`)
}

func TestParseData(t *testing.T) {
	b, err := parseData("0XFF00")
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0x00}, b)

	b, err = parseData("plain text")
	require.NoError(t, err)
	require.Equal(t, []byte("plain text"), b)
}

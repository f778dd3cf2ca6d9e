package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sushant-115/logfs/core/logfs"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
)

// errQuit ends the session.
var errQuit = errors.New("quit")

// shell runs CLI commands against one mounted file system.
type shell struct {
	fs      *logfs.FS
	out     io.Writer
	logger  *zap.Logger
	tracer  trace.Tracer
	session string
	now     func() time.Time
}

var commandHelp = [][2]string{
	{"init", "rescan the medium"},
	{"create [RFC3339 time]", "start a new file and open it"},
	{"files", "list files, oldest first"},
	{"open <page>", "open the file whose entry is on page"},
	{"current", "show the open file"},
	{"delete", "delete the oldest file"},
	{"append <text|0xHEX>", "append one record to the open file"},
	{"first | next | prev | last", "read a record of the open file"},
	{"attr-write <offset> <text|0xHEX>", "program attribute bytes"},
	{"attr-read <offset> <n>", "read attribute bytes"},
	{"dump", "print every managed page"},
	{"stats", "print counters"},
	{"help", "show this help"},
	{"exit | quit", "leave the shell"},
}

// commandNames feeds readline completion.
func commandNames() []string {
	return []string{
		"init", "create", "files", "open", "current", "delete", "append",
		"first", "next", "prev", "last", "attr-write", "attr-read",
		"dump", "stats", "help", "exit", "quit",
	}
}

// exec runs one command line inside its own span.
func (s *shell) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd := strings.ToLower(args[0])

	_, span := s.tracer.Start(ctx, "logfs.cli."+cmd, trace.WithAttributes(
		attribute.String("session.id", s.session),
		attribute.String("command.line", line),
	))
	defer span.End()

	err := s.dispatch(cmd, args[1:])
	switch {
	case err == nil, errors.Is(err, errQuit):
	case logfs.IsExhausted(err):
		span.SetAttributes(attribute.Bool("exhausted", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("Command failed", zap.String("command", cmd), zap.Error(err))
	}
	return err
}

func (s *shell) dispatch(cmd string, args []string) error {
	switch cmd {
	case "init":
		if err := s.fs.Init(); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "mounted, %d files\n", s.fs.FileCount())
	case "create":
		return s.create(args)
	case "files":
		return s.listFiles()
	case "open":
		return s.open(args)
	case "current":
		f, ok := s.fs.Current()
		if !ok {
			fmt.Fprintln(s.out, "no file open")
			return nil
		}
		s.printFile(f)
	case "delete":
		f, err := s.fs.FindFirst()
		if err != nil {
			return err
		}
		if err := s.fs.Delete(f); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "deleted file at page %d\n", f.Page)
	case "append":
		if len(args) == 0 {
			return fmt.Errorf("%w: append needs data", logfs.ErrInvalidArgument)
		}
		data, err := parseData(strings.Join(args, " "))
		if err != nil {
			return err
		}
		return s.fs.Append(data)
	case "first", "next", "prev", "last":
		return s.read(cmd)
	case "attr-write":
		return s.attrWrite(args)
	case "attr-read":
		return s.attrRead(args)
	case "dump":
		return s.fs.Dump(s.out)
	case "stats":
		s.printStats()
	case "help":
		for _, h := range commandHelp {
			fmt.Fprintf(s.out, "  %-34s %s\n", h[0], h[1])
		}
	case "exit", "quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return nil
}

func (s *shell) create(args []string) error {
	at := s.now()
	if len(args) > 0 {
		t, err := time.Parse(time.RFC3339, args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", logfs.ErrInvalidArgument, err)
		}
		at = t
	}
	f, err := s.fs.Create(at)
	if err != nil {
		return err
	}
	s.printFile(f)
	return nil
}

func (s *shell) listFiles() error {
	f, err := s.fs.FindFirst()
	for err == nil {
		s.printFile(f)
		f, err = s.fs.FindNext(f)
	}
	if errors.Is(err, logfs.ErrEmpty) {
		fmt.Fprintln(s.out, "no files")
		return nil
	}
	if errors.Is(err, logfs.ErrNoFile) {
		return nil
	}
	return err
}

func (s *shell) open(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: open needs a page", logfs.ErrInvalidArgument)
	}
	page, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("%w: %v", logfs.ErrInvalidArgument, err)
	}
	f, err := s.fs.FindFirst()
	for err == nil && f.Page != flash.PageID(page) {
		f, err = s.fs.FindNext(f)
	}
	if err != nil {
		if logfs.IsExhausted(err) {
			return fmt.Errorf("%w: no file at page %d", logfs.ErrFileInvalid, page)
		}
		return err
	}
	if err := s.fs.Open(f); err != nil {
		return err
	}
	s.printFile(f)
	return nil
}

func (s *shell) read(cmd string) error {
	buf := make([]byte, s.fs.Config().RecordSize)
	var (
		n   int
		err error
	)
	switch cmd {
	case "first":
		n, err = s.fs.ReadFirst(buf)
	case "next":
		n, err = s.fs.ReadNext(buf)
	case "prev":
		n, err = s.fs.ReadPrevious(buf)
	case "last":
		n, err = s.fs.ReadLast(buf)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s  %q\n", hex.EncodeToString(buf[:n]), buf[:n])
	return nil
}

func (s *shell) attrWrite(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: attr-write needs an offset and data", logfs.ErrInvalidArgument)
	}
	off, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", logfs.ErrInvalidArgument, err)
	}
	data, err := parseData(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	n, err := s.fs.WriteAttr(off, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "wrote %d bytes\n", n)
	return nil
}

func (s *shell) attrRead(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: attr-read needs an offset and a length", logfs.ErrInvalidArgument)
	}
	off, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", logfs.ErrInvalidArgument, err)
	}
	size, err := strconv.Atoi(args[1])
	if err != nil || size < 0 {
		return fmt.Errorf("%w: bad length %q", logfs.ErrInvalidArgument, args[1])
	}
	buf := make([]byte, size)
	n, err := s.fs.ReadAttr(off, buf)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s\n", hex.EncodeToString(buf[:n]))
	return nil
}

func (s *shell) printFile(f logfs.File) {
	fmt.Fprintf(s.out, "file page=%d rn=%d start=%d created=%s\n",
		f.Page, f.RollingNumber, f.StartPage, f.Created.Format(time.RFC3339))
}

func (s *shell) printStats() {
	st := s.fs.Stats()
	fmt.Fprintf(s.out, "files=%d created=%d deleted=%d appended=%d read=%d erased=%d evicted=%d quarantined=%d write_failures=%d\n",
		s.fs.FileCount(), st.FilesCreated, st.FilesDeleted, st.RecordsAppended, st.RecordsRead,
		st.BlocksErased, st.BlocksEvicted, st.EntriesQuarantined, st.WriteFailures)
}

// parseData reads "0x" prefixed input as hex and anything else as text.
func parseData(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", logfs.ErrInvalidArgument, err)
		}
		return b, nil
	}
	return []byte(s), nil
}

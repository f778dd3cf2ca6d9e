// Command logfs_cli mounts a log file system on a flash image and exposes
// its operations in an interactive shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/logfs/config"
	"github.com/sushant-115/logfs/core/logfs"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
	"github.com/sushant-115/logfs/pkg/logger"
	"github.com/sushant-115/logfs/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	image := flag.String("image", "", "flash image file, overrides device.image")
	create := flag.Bool("create", false, "create and open a new file after mounting")
	eval := flag.String("eval", "", "';' separated commands to run instead of the shell")
	flag.Parse()

	if err := run(*configPath, *image, *create, *eval); err != nil {
		fmt.Fprintln(os.Stderr, "logfs_cli:", err)
		os.Exit(1)
	}
}

func run(configPath, image string, create bool, eval string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if image != "" {
		cfg.Device.Image = image
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	session := uuid.NewString()
	log = log.With(zap.String("session", session))

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	dev, closeDev, err := openDevice(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDev(); err != nil {
			log.Error("Failed to close flash image", zap.Error(err))
		}
	}()

	fs, err := logfs.New(dev, cfg.Medium, logfs.WithLogger(log), logfs.WithMeter(tel.Meter))
	if err != nil {
		return err
	}
	defer fs.Close()

	sh := &shell{
		fs:      fs,
		out:     os.Stdout,
		logger:  log,
		tracer:  tel.Tracer,
		session: session,
		now:     time.Now,
	}
	ctx := context.Background()

	if create {
		if err := sh.exec(ctx, "create"); err != nil {
			return err
		}
	}
	if eval != "" {
		return runScript(ctx, sh, eval)
	}
	return interactive(ctx, sh)
}

// openDevice returns the configured backend and a function releasing it.
func openDevice(cfg config.Config, log *zap.Logger) (flash.Device, func() error, error) {
	geo := cfg.Device.Geometry(cfg.Medium)
	if cfg.Device.Image == "" {
		dev, err := flash.NewMemDevice(geo)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using in-memory flash, contents are lost on exit")
		return dev, func() error { return nil }, nil
	}
	dev, err := flash.OpenFileDevice(cfg.Device.Image, geo, flash.FileDeviceOptions{
		ThroughputBytesPerSec: cfg.Device.ThroughputBytesPerSec,
		Logger:                log,
	})
	if err != nil {
		return nil, nil, err
	}
	return dev, dev.Close, nil
}

// runScript executes commands separated by ';'. Exhaustion is reported but
// does not stop the script.
func runScript(ctx context.Context, sh *shell, script string) error {
	for _, line := range strings.Split(script, ";") {
		err := sh.exec(ctx, line)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		case logfs.IsExhausted(err):
			fmt.Fprintln(sh.out, err)
		default:
			return fmt.Errorf("%s: %w", strings.TrimSpace(line), err)
		}
	}
	return nil
}

func interactive(ctx context.Context, sh *shell) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(commandNames()))
	for _, name := range commandNames() {
		items = append(items, readline.PcItem(name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "logfs> ",
		HistoryFile:     filepath.Join(os.TempDir(), "logfs_cli.history"),
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer rl.Close()
	sh.out = rl.Stdout()

	fmt.Fprintf(sh.out, "logfs shell, %d files on the medium. Type 'help' for commands.\n", sh.fs.FileCount())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		err = sh.exec(ctx, line)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		default:
			fmt.Fprintln(sh.out, "error:", err)
		}
	}
}

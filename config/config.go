// Package config loads the YAML configuration shared by the logfs tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/logfs/core/logfs"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
	"github.com/sushant-115/logfs/pkg/logger"
	"github.com/sushant-115/logfs/pkg/telemetry"
)

// Config is the top-level configuration file.
type Config struct {
	Medium    logfs.Config     `yaml:"medium"`
	Device    DeviceConfig     `yaml:"device"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// DeviceConfig selects the backend holding the medium.
type DeviceConfig struct {
	// Image is the flash image file. Empty means an in-memory device.
	Image string `yaml:"image"`
	// PageCount is the device size in pages. Zero sizes the device to the
	// managed range, rounded up to whole blocks.
	PageCount int `yaml:"page_count"`
	// ThroughputBytesPerSec throttles program and erase traffic.
	ThroughputBytesPerSec int `yaml:"throughput_bytes_per_sec"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Medium: logfs.DefaultConfig(),
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
			Service:    "logfs-cli",
		},
		Telemetry: telemetry.Config{
			ServiceName: "logfs-cli",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults. Unknown keys are errors.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the medium and that the device can hold it.
func (c Config) Validate() error {
	if err := c.Medium.Validate(); err != nil {
		return err
	}
	if c.Device.ThroughputBytesPerSec < 0 {
		return fmt.Errorf("%w: negative device throughput", logfs.ErrInvalidConfig)
	}
	if err := c.Device.Geometry(c.Medium).Validate(); err != nil {
		return fmt.Errorf("%w: %v", logfs.ErrInvalidConfig, err)
	}
	if c.Device.PageCount != 0 && int(c.Medium.PageEnd) >= c.Device.PageCount {
		return fmt.Errorf("%w: page_end %d beyond device of %d pages", logfs.ErrInvalidConfig, c.Medium.PageEnd, c.Device.PageCount)
	}
	return nil
}

// Geometry returns the device layout for medium.
func (d DeviceConfig) Geometry(medium logfs.Config) flash.Geometry {
	count := d.PageCount
	if count == 0 {
		ppb := medium.PagesPerBlock
		count = int(medium.PageEnd) + 1
		if ppb > 0 {
			count = (count + ppb - 1) / ppb * ppb
		}
	}
	return flash.Geometry{
		PageSize:      medium.PageSize,
		PageCount:     count,
		PagesPerBlock: medium.PagesPerBlock,
	}
}

// Marshal renders cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

package eeprom

import (
	"fmt"
	"io"
)

// Largest addressable store: 0 <-> (0x1FFF << 1), fixed by the log entry
// address field.
const maxDensityBytes = 0x4000

// Config describes the flash geometry the store lives in and the hooks it
// calls out to.
type Config struct {
	// PageSize is the erase granularity of the flash, in bytes.
	PageSize int
	// PageCount is how many pages the store owns (snapshot + write log).
	PageCount int
	// BaseAddress is the device address of the first page.
	BaseAddress uint32
	// FlashSize is the total device flash in bytes, used as a sanity check
	// that the store fits. Zero skips the check.
	FlashSize int

	// DensityBytes is the size of the emulated eeprom. Defaults to half the
	// owned flash; the rest becomes write log.
	DensityBytes int
	// WriteLogBytes is the size of the write log. Defaults to all space left
	// after DensityBytes.
	WriteLogBytes int

	// Watchdog, when set, is kicked from the replay, compaction and dump
	// loops so a hardware supervisor doesn't reset mid-operation.
	Watchdog func()

	// Trace, when set, receives a line per flash operation the store
	// performs. Debugging aid, off by default.
	Trace io.Writer
}

// DefaultConfig returns a config for the given geometry with density split
// evenly between snapshot and write log.
func DefaultConfig(base uint32, pageSize, pageCount int) Config {
	cfg := Config{
		PageSize:    pageSize,
		PageCount:   pageCount,
		BaseAddress: base,
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DensityBytes == 0 {
		c.DensityBytes = c.PageSize * c.PageCount / 2
	}
	if c.WriteLogBytes == 0 {
		c.WriteLogBytes = c.PageSize*c.PageCount - c.DensityBytes
	}
}

// Validate checks the geometry. The checks mirror what a misconfigured
// build would otherwise hit at runtime as mystery corruption.
func (c *Config) Validate() error {
	if c.PageSize <= 0 || c.PageSize%2 != 0 {
		return fmt.Errorf("page size %d must be positive and even", c.PageSize)
	}
	if c.PageCount <= 0 {
		return fmt.Errorf("page count %d must be positive", c.PageCount)
	}
	area := c.PageSize * c.PageCount
	if c.FlashSize > 0 && area > c.FlashSize {
		return fmt.Errorf("store area %d is greater than available flash size %d", area, c.FlashSize)
	}
	if c.DensityBytes > area {
		return fmt.Errorf("density %d exceeds store area %d", c.DensityBytes, area)
	}
	if c.DensityBytes > maxDensityBytes {
		return fmt.Errorf("density %d is greater than the addressable %d", c.DensityBytes, maxDensityBytes)
	}
	if c.DensityBytes%2 != 0 {
		return fmt.Errorf("density %d must be even", c.DensityBytes)
	}
	if c.WriteLogBytes%2 != 0 {
		return fmt.Errorf("write log size %d must be even", c.WriteLogBytes)
	}
	if c.DensityBytes+c.WriteLogBytes > area {
		return fmt.Errorf("density %d + write log %d exceed store area %d", c.DensityBytes, c.WriteLogBytes, area)
	}
	if c.WriteLogBytes < logHeaderBytes {
		return fmt.Errorf("write log size %d cannot hold the magic header", c.WriteLogBytes)
	}
	return nil
}

// Derived addresses. The snapshot sits at the bottom of the store, the
// write log directly after it.

func (c *Config) snapshotBase() uint32 { return c.BaseAddress }

func (c *Config) snapshotEnd() uint32 { return c.BaseAddress + uint32(c.DensityBytes) }

func (c *Config) logBase() uint32 { return c.snapshotEnd() }

func (c *Config) logEnd() uint32 { return c.logBase() + uint32(c.WriteLogBytes) }

func (c *Config) watchdog() {
	if c.Watchdog != nil {
		c.Watchdog()
	}
}

func (c *Config) tracef(format string, args ...any) {
	if c.Trace != nil {
		fmt.Fprintf(c.Trace, format+"\n", args...)
	}
}

// Command flashee pokes at a file-backed emulated eeprom image the way
// firmware pokes at the real flash window.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/inancgumus/screen"
	"github.com/sigurn/crc16"

	"github.com/mvaleed/flashee/internal/eeprom"
	"github.com/mvaleed/flashee/internal/flash"
	"github.com/mvaleed/flashee/internal/imagefile"
)

var cli struct {
	Create CreateCmd `cmd:"" help:"Create an erased image file with its geometry sidecar."`
	Info   InfoCmd   `cmd:"" help:"Show geometry, write log usage and content checksum."`
	Dump   DumpCmd   `cmd:"" help:"Hex dump of the emulated eeprom contents."`
	Get    GetCmd    `cmd:"" help:"Read a byte, word or dword."`
	Set    SetCmd    `cmd:"" help:"Write a byte, word or dword."`
	Erase  EraseCmd  `cmd:"" help:"Wipe the emulated eeprom."`
	Watch  WatchCmd  `cmd:"" help:"Redraw the dump periodically."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("flashee"),
		kong.Description("Emulated eeprom over a NOR flash image file."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

var (
	headColor = color.New(color.FgCyan, color.Bold)
	warnColor = color.New(color.FgYellow)
)

type CreateCmd struct {
	Path      string `arg:"" help:"Image file to create."`
	PageSize  int    `default:"4096" help:"Erase page size in bytes."`
	Pages     int    `default:"4" help:"Number of pages (snapshot + write log)."`
	Base      uint32 `default:"0" help:"Device base address of the first page."`
	Density   int    `default:"0" help:"Emulated eeprom size; 0 means half the pages."`
	WriteLog  int    `name:"write-log" default:"0" help:"Write log size; 0 means the rest."`
}

func (c *CreateCmd) Run() error {
	dev, err := flash.CreateFileDevice(c.Path, c.Base, c.PageSize, c.Pages)
	if err != nil {
		return err
	}
	defer dev.Close()

	cfg := eeprom.DefaultConfig(c.Base, c.PageSize, c.Pages)
	if c.Density != 0 {
		cfg.DensityBytes = c.Density
	}
	if c.WriteLog != 0 {
		cfg.WriteLogBytes = c.WriteLog
	}
	store, err := eeprom.New(dev, cfg)
	if err != nil {
		return err
	}
	density, err := store.Init()
	if err != nil {
		return err
	}
	if err := dev.Sync(); err != nil {
		return err
	}

	logBytes := c.PageSize*c.Pages - density
	if c.WriteLog != 0 {
		logBytes = c.WriteLog
	}
	if err := imagefile.Save(c.Path, imagefile.Geometry{
		PageSize:     c.PageSize,
		PageCount:    c.Pages,
		BaseAddress:  c.Base,
		DensityBytes: density,
		LogBytes:     logBytes,
	}); err != nil {
		return err
	}

	fmt.Printf("created %s: %d pages of %d bytes, %d byte eeprom\n",
		c.Path, c.Pages, c.PageSize, density)
	return nil
}

// openStore maps an image by its sidecar geometry and replays it.
func openStore(path string) (*eeprom.Store, *flash.FileDevice, error) {
	g, err := imagefile.Load(path)
	if err != nil {
		return nil, nil, err
	}
	dev, err := flash.OpenFileDevice(path, g.BaseAddress, g.PageSize, g.PageCount)
	if err != nil {
		return nil, nil, err
	}
	cfg := eeprom.DefaultConfig(g.BaseAddress, g.PageSize, g.PageCount)
	cfg.DensityBytes = g.DensityBytes
	cfg.WriteLogBytes = g.LogBytes
	store, err := eeprom.New(dev, cfg)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	if _, err := store.Init(); err != nil {
		dev.Close()
		return nil, nil, err
	}
	return store, dev, nil
}

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

type InfoCmd struct {
	Path string `arg:"" help:"Image file."`
}

func (c *InfoCmd) Run() error {
	g, err := imagefile.Load(c.Path)
	if err != nil {
		return err
	}
	store, dev, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer dev.Close()

	headColor.Println(c.Path)
	fmt.Printf("  geometry:  %d x %d byte pages at 0x%08x\n", g.PageCount, g.PageSize, g.BaseAddress)
	fmt.Printf("  eeprom:    %d bytes\n", store.Density())

	used, capacity := store.LogUsage()
	fmt.Printf("  write log: %d/%d bytes used\n", used, capacity)
	if capacity-used < 64 {
		warnColor.Println("  write log nearly full; next writes may trigger compaction")
	}

	contents := make([]byte, store.Density())
	store.ReadBlock(contents, 0)
	fmt.Printf("  crc16:     0x%04x\n", crc16.Checksum(contents, crcTable))
	return nil
}

type DumpCmd struct {
	Path string `arg:"" help:"Image file."`
}

func (c *DumpCmd) Run() error {
	store, dev, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer dev.Close()

	headColor.Printf("%s (%d bytes)\n", c.Path, store.Density())
	return store.Dump(os.Stdout)
}

type GetCmd struct {
	Path  string `arg:"" help:"Image file."`
	Addr  string `arg:"" help:"Address, decimal or 0x hex."`
	Word  bool   `help:"Read a 16-bit word." xor:"width"`
	DWord bool   `name:"dword" help:"Read a 32-bit dword." xor:"width"`
}

func (c *GetCmd) Run() error {
	addr, err := parseNum(c.Addr)
	if err != nil {
		return err
	}
	store, dev, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer dev.Close()

	switch {
	case c.DWord:
		fmt.Printf("0x%08x\n", store.ReadDWord(int(addr)))
	case c.Word:
		fmt.Printf("0x%04x\n", store.ReadWord(int(addr)))
	default:
		fmt.Printf("0x%02x\n", store.ReadByte(int(addr)))
	}
	return nil
}

type SetCmd struct {
	Path  string `arg:"" help:"Image file."`
	Addr  string `arg:"" help:"Address, decimal or 0x hex."`
	Value string `arg:"" help:"Value, decimal or 0x hex."`
	Word  bool   `help:"Write a 16-bit word." xor:"width"`
	DWord bool   `name:"dword" help:"Write a 32-bit dword." xor:"width"`
}

func (c *SetCmd) Run() error {
	addr, err := parseNum(c.Addr)
	if err != nil {
		return err
	}
	value, err := parseNum(c.Value)
	if err != nil {
		return err
	}
	store, dev, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer dev.Close()

	switch {
	case c.DWord:
		err = store.WriteDWord(int(addr), uint32(value))
	case c.Word:
		if value > 0xFFFF {
			return fmt.Errorf("value 0x%x does not fit in a word", value)
		}
		err = store.WriteWord(int(addr), uint16(value))
	default:
		if value > 0xFF {
			return fmt.Errorf("value 0x%x does not fit in a byte", value)
		}
		err = store.WriteByte(int(addr), byte(value))
	}
	if err != nil {
		return err
	}
	return dev.Sync()
}

type EraseCmd struct {
	Path string `arg:"" help:"Image file."`
}

func (c *EraseCmd) Run() error {
	store, dev, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := store.Erase(); err != nil {
		return err
	}
	return dev.Sync()
}

type WatchCmd struct {
	Path     string        `arg:"" help:"Image file."`
	Interval time.Duration `default:"1s" help:"Redraw interval."`
}

func (c *WatchCmd) Run() error {
	for {
		store, dev, err := openStore(c.Path)
		if err != nil {
			return err
		}

		screen.Clear()
		screen.MoveTopLeft()
		used, capacity := store.LogUsage()
		headColor.Printf("%s  log %d/%d  %s\n", c.Path, used, capacity, time.Now().Format(time.TimeOnly))
		err = store.Dump(os.Stdout)
		dev.Close()
		if err != nil {
			return err
		}

		time.Sleep(c.Interval)
	}
}

func parseNum(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return v, nil
}

package flash

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice is the same flash contract over a read-write memory-mapped
// file, so a tool can poke at a persistent image the way firmware pokes at
// the real flash window. The file holds exactly the flash region; file
// offset 0 corresponds to the device base address.
type FileDevice struct {
	base   uint32
	size   int
	page   uint32
	file   *os.File
	data   []byte
	locked bool
}

// CreateFileDevice allocates an image file of pageCount erased pages and
// maps it. The file must not already exist.
func CreateFileDevice(path string, base uint32, pageSize, pageCount int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create image file: %w", err)
	}

	size := pageSize * pageCount
	erased := make([]byte, size)
	for i := range erased {
		erased[i] = Erased
	}
	if _, err := f.Write(erased); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to fill image file: %w", err)
	}

	return mapFileDevice(f, base, pageSize, size)
}

// OpenFileDevice maps an existing image file.
func OpenFileDevice(path string, base uint32, pageSize, pageCount int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image file: %w", err)
	}
	size := pageSize * pageCount
	if info.Size() != int64(size) {
		f.Close()
		return nil, fmt.Errorf("image file is %d bytes, geometry says %d", info.Size(), size)
	}

	return mapFileDevice(f, base, pageSize, size)
}

func mapFileDevice(f *os.File, base uint32, pageSize, size int) (*FileDevice, error) {
	// MAP_SHARED so programmed half-words land in the file, not a private
	// copy-on-write view.
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap image file: %w", err)
	}
	return &FileDevice{
		base:   base,
		size:   size,
		page:   uint32(pageSize),
		file:   f,
		data:   data,
		locked: true,
	}, nil
}

func (d *FileDevice) Unlock() { d.locked = false }

func (d *FileDevice) Lock() { d.locked = true }

func (d *FileDevice) ErasePage(addr uint32) error {
	if d.locked {
		return ErrLocked
	}
	off, err := d.offset(addr, 1)
	if err != nil {
		return err
	}
	pageStart := off - off%int(d.page)
	for i := pageStart; i < pageStart+int(d.page); i++ {
		d.data[i] = Erased
	}
	return nil
}

func (d *FileDevice) ProgramHalfWord(addr uint32, value uint16) error {
	if d.locked {
		return ErrLocked
	}
	if addr%2 != 0 {
		return fmt.Errorf("program at 0x%08x: %w", addr, ErrMisaligned)
	}
	off, err := d.offset(addr, 2)
	if err != nil {
		return err
	}
	current := uint16(d.data[off]) | uint16(d.data[off+1])<<8
	if value&^current != 0 {
		return fmt.Errorf("program 0x%04x over 0x%04x at 0x%08x: %w", value, current, addr, ErrNotErased)
	}
	d.data[off] = byte(value)
	d.data[off+1] = byte(value >> 8)
	return nil
}

func (d *FileDevice) ReadHalfWord(addr uint32) uint16 {
	if addr%2 != 0 {
		return EmptyHalfWord
	}
	off, err := d.offset(addr, 2)
	if err != nil {
		return EmptyHalfWord
	}
	return uint16(d.data[off]) | uint16(d.data[off+1])<<8
}

// Sync flushes the mapped image to disk.
func (d *FileDevice) Sync() error {
	if len(d.data) == 0 {
		return nil
	}
	if err := unix.Msync(d.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync failed: %w", err)
	}
	return nil
}

// Close unmaps and closes the image file.
func (d *FileDevice) Close() error {
	if len(d.data) > 0 {
		if err := unix.Munmap(d.data); err != nil {
			// Try to close the file anyway before returning
			d.file.Close()
			return fmt.Errorf("munmap failed: %w", err)
		}
		d.data = nil
	}
	return d.file.Close()
}

func (d *FileDevice) offset(addr uint32, n int) (int, error) {
	if addr < d.base || addr+uint32(n) > d.base+uint32(d.size) {
		return 0, fmt.Errorf("address 0x%08x: %w", addr, ErrOutOfRange)
	}
	return int(addr - d.base), nil
}

package flash

import "fmt"

// MemDevice is an in-memory flash region with strict NOR behaviour. It backs
// the engine in tests and anywhere a real flash window isn't available.
//
// Strictness is the point: a program that tries to raise a 0 bit back to 1
// fails with ErrNotErased instead of silently ANDing, so a caller that
// forgot an erase shows up immediately.
type MemDevice struct {
	base     uint32
	pageSize uint32
	data     []byte
	locked   bool
}

// NewMemDevice creates a locked device of pageCount erased pages starting at
// base.
func NewMemDevice(base uint32, pageSize, pageCount int) *MemDevice {
	data := make([]byte, pageSize*pageCount)
	for i := range data {
		data[i] = Erased
	}
	return &MemDevice{
		base:     base,
		pageSize: uint32(pageSize),
		data:     data,
		locked:   true,
	}
}

func (d *MemDevice) Unlock() { d.locked = false }

func (d *MemDevice) Lock() { d.locked = true }

func (d *MemDevice) ErasePage(addr uint32) error {
	if d.locked {
		return ErrLocked
	}
	off, err := d.offset(addr, 1)
	if err != nil {
		return err
	}
	pageStart := off - off%int(d.pageSize)
	for i := pageStart; i < pageStart+int(d.pageSize); i++ {
		d.data[i] = Erased
	}
	return nil
}

func (d *MemDevice) ProgramHalfWord(addr uint32, value uint16) error {
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

func (d *MemDevice) ReadHalfWord(addr uint32) uint16 {
	if addr%2 != 0 {
		return EmptyHalfWord
	}
	off, err := d.offset(addr, 2)
	if err != nil {
		return EmptyHalfWord
	}
	return uint16(d.data[off]) | uint16(d.data[off+1])<<8
}

// Bytes exposes the raw contents. Tests use this to assert on the persisted
// layout; nothing in the engine does.
func (d *MemDevice) Bytes() []byte { return d.data }

func (d *MemDevice) offset(addr uint32, n int) (int, error) {
	if addr < d.base || addr+uint32(n) > d.base+uint32(len(d.data)) {
		return 0, fmt.Errorf("address 0x%08x: %w", addr, ErrOutOfRange)
	}
	return int(addr - d.base), nil
}

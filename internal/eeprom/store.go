// Package eeprom emulates an erasable, word-programmable eeprom on top of a
// block-erasable NOR flash region.
//
// The flash region holds a snapshot followed by a write log:
//
//	┌─ Snapshot ─┬ Write Log ─┐
//	│............│[BYTE][BYTE]│
//	│FFFF....FFFF│[WRD0][WRD1]│
//	│FFFFFFFFFFFF│[WORD][NEXT]│
//	│....FFFFFFFF│[BYTE][WRD0]│
//	└────────────┴────────────┘
//
// The snapshot stores the one's complement of the logical contents, so an
// erased 0xFFFF half-word reads back as logical 0x0000. The write log is an
// append-only stream of 16-bit entries, each encoding one byte or half-word
// mutation, terminated by the first unprogrammed 0xFFFF.
//
// On init the snapshot is loaded into a RAM image and the log replayed over
// it. Reads come straight from the RAM image. A write updates the image,
// then programs the snapshot cell directly if it is still erased, otherwise
// appends a log entry; when the log is full the whole region is erased and
// the image rewritten as a fresh snapshot.
//
// A store has a single logical owner. Nothing here locks; callers that
// share a store across goroutines must serialize themselves.
package eeprom

import (
	"errors"
	"fmt"

	"github.com/mvaleed/flashee/internal/flash"
)

var ErrBadAddress = errors.New("address outside the emulated eeprom")

// writeOutcome says how a mutation reached flash. The zero value means the
// image already held the value and nothing was persisted. Ordered so that a
// split write can report the strongest path it took.
type writeOutcome int

const (
	outcomeNoop writeOutcome = iota
	outcomeSnapshot
	outcomeLogged
	outcomeCompacted
)

type Store struct {
	cfg Config
	dev flash.Device
	img *image

	// emptySlot is the device address of the first free log slot. Invariant
	// between compactions: it only moves forward, and the half-word there
	// still reads 0xFFFF.
	emptySlot uint32
}

// New validates the geometry and builds a store over dev. The store is not
// usable until Init has run.
func New(dev flash.Device, cfg Config) (*Store, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bad eeprom geometry: %w", err)
	}
	return &Store{
		cfg: cfg,
		dev: dev,
		img: newImage(cfg.DensityBytes),
	}, nil
}

// Density returns the size of the emulated eeprom in bytes.
func (s *Store) Density() int { return s.cfg.DensityBytes }

// Init loads the snapshot into the RAM image and replays the write log over
// it. A log region without the magic header gets the whole region wiped and
// no replay; the RAM image keeps what was loaded from the snapshot before
// the wipe. Returns the density.
func (s *Store) Init() (int, error) {
	density := s.cfg.DensityBytes

	// Snapshot is stored complemented: an erased 0xFFFF half-word is a
	// logical zero.
	for off := 0; off < density; off += 2 {
		s.img.setWord(off, ^s.dev.ReadHalfWord(s.cfg.snapshotBase()+uint32(off)))
	}

	low := s.dev.ReadHalfWord(s.cfg.logBase())
	high := s.dev.ReadHalfWord(s.cfg.logBase() + 2)
	if uint32(low)|uint32(high)<<16 != magicDWord {
		s.cfg.tracef("init: no magic, clearing store")
		if err := s.clear(); err != nil {
			return 0, fmt.Errorf("failed to clear unformatted store: %w", err)
		}
		return density, nil
	}

	addr := s.cfg.logBase() + logHeaderBytes
replay:
	for ; addr < s.cfg.logEnd(); addr += 2 {
		s.cfg.watchdog()

		entry := s.dev.ReadHalfWord(addr)
		if entry == emptyWord {
			break
		}
		switch {
		case isByteEntry(entry):
			a, v := decodeByteEntry(entry)
			if a < density {
				s.img.setByte(a, v)
				s.cfg.tracef("replay: image[0x%02x] = 0x%02x", a, v)
			}
		case isWordNext(entry):
			// Value lives in the next word, complemented.
			addr += 2
			if addr >= s.cfg.logEnd() {
				break replay
			}
			value := ^s.dev.ReadHalfWord(addr)
			if value == 0 {
				// Power died between the two programs. Skip.
				s.cfg.tracef("replay: torn entry at 0x%08x", addr-2)
				continue
			}
			a := decodeWordNextAddr(entry)
			if a < density {
				s.img.setWord(a, value)
				s.cfg.tracef("replay: image[0x%04x] = 0x%04x", a, value)
			}
		case isReserved(entry):
			s.cfg.tracef("replay: reserved entry 0x%04x at 0x%08x", entry, addr)
		default:
			a, v := decodeWordEncoded(entry)
			if a < density {
				s.img.setWord(a, v)
				s.cfg.tracef("replay: image[0x%04x] = 0x%04x", a, v)
			}
		}
	}
	s.emptySlot = addr

	s.cfg.tracef("init: write log usage %d/%d bytes",
		s.emptySlot-s.cfg.logBase(), s.cfg.WriteLogBytes)

	return density, nil
}

// Erase wipes the persistent state and re-initializes in place, leaving an
// all-zero store.
func (s *Store) Erase() error {
	s.cfg.tracef("erase")
	if err := s.clear(); err != nil {
		return err
	}
	_, err := s.Init()
	return err
}

// clear erases every page and programs the magic header at the top of the
// now-empty log. The RAM image is not touched.
func (s *Store) clear() error {
	s.dev.Unlock()
	defer s.dev.Lock()

	for page := 0; page < s.cfg.PageCount; page++ {
		addr := s.cfg.BaseAddress + uint32(page*s.cfg.PageSize)
		s.cfg.tracef("erase page 0x%08x", addr)
		if err := s.dev.ErasePage(addr); err != nil {
			return fmt.Errorf("failed to erase page 0x%08x: %w", addr, err)
		}
	}

	if err := s.dev.ProgramHalfWord(s.cfg.logBase(), magicLow); err != nil {
		return fmt.Errorf("failed to program magic: %w", err)
	}
	if err := s.dev.ProgramHalfWord(s.cfg.logBase()+2, magicHigh); err != nil {
		return fmt.Errorf("failed to program magic: %w", err)
	}

	s.emptySlot = s.cfg.logBase() + logHeaderBytes
	return nil
}

// compact folds the write log into a fresh snapshot: erase everything, then
// program the complement of every non-zero image half-word. Zero words stay
// unprogrammed; erased flash already encodes them.
//
// This is destructive-then-rebuild. Power loss mid-compaction corrupts the
// persistent image, and the RAM image is the only recovery authority while
// power holds. The log is sized to keep compaction rare.
func (s *Store) compact() error {
	if err := s.clear(); err != nil {
		return err
	}

	s.dev.Unlock()
	defer s.dev.Lock()

	var firstErr error
	base := s.cfg.snapshotBase()
	for off := 0; off < s.cfg.DensityBytes; off += 2 {
		s.cfg.watchdog()

		value := s.img.wordAt(off)
		if value == 0 {
			continue
		}
		s.cfg.tracef("compact: program 0x%08x = 0x%04x", base+uint32(off), ^value)
		if err := s.dev.ProgramHalfWord(base+uint32(off), ^value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// writeDirect programs the snapshot cell for addr if it is still erased.
// Returns whether the direct path handled the write. The cheapest case is a
// new value of zero: erased flash already encodes it, so nothing is
// programmed at all.
func (s *Store) writeDirect(addr int) (bool, error) {
	wordAddr := addr &^ 1
	flashAddr := s.cfg.snapshotBase() + uint32(wordAddr)
	if s.dev.ReadHalfWord(flashAddr) != emptyWord {
		return false, nil
	}

	value := ^s.img.wordAt(wordAddr)
	if value == emptyWord {
		return true, nil
	}

	s.dev.Unlock()
	defer s.dev.Lock()

	s.cfg.tracef("direct: program 0x%08x = 0x%04x", flashAddr, value)
	if err := s.dev.ProgramHalfWord(flashAddr, value); err != nil {
		return true, fmt.Errorf("failed direct snapshot write at 0x%08x: %w", flashAddr, err)
	}
	return true, nil
}

// appendByteEntry appends a one-word byte entry for addr. addr must be
// below byteRange. Compacts instead when the log is full; the entry is not
// retried, the fresh snapshot already carries the value.
func (s *Store) appendByteEntry(addr int) (writeOutcome, error) {
	if s.emptySlot+2 > s.cfg.logEnd() {
		return outcomeCompacted, s.compact()
	}

	s.dev.Unlock()
	defer s.dev.Lock()

	entry := encodeByteEntry(addr, s.img.byteAt(addr))
	s.cfg.tracef("log: program 0x%08x = 0x%04x", s.emptySlot, entry)
	err := s.dev.ProgramHalfWord(s.emptySlot, entry)
	s.emptySlot += 2
	if err != nil {
		return outcomeLogged, fmt.Errorf("failed log append: %w", err)
	}
	return outcomeLogged, nil
}

// appendWordEntry appends a word entry for the half-word at even address
// addr: one word for values 0/1, two words otherwise. Compacts instead when
// the entry doesn't fit.
func (s *Store) appendWordEntry(addr int) (writeOutcome, error) {
	value := s.img.wordAt(addr)
	primary, rest, twoWords := encodeWordEntry(addr, value)

	if s.emptySlot+uint32(entrySize(addr, value)) > s.cfg.logEnd() {
		return outcomeCompacted, s.compact()
	}

	s.dev.Unlock()
	defer s.dev.Lock()

	s.cfg.tracef("log: program 0x%08x = 0x%04x", s.emptySlot, primary)
	err := s.dev.ProgramHalfWord(s.emptySlot, primary)
	s.emptySlot += 2

	if twoWords {
		// The entry commits only once this value word lands. Until then a
		// replay sees 0xFFFF here and drops the entry as torn.
		s.cfg.tracef("log: program 0x%08x = 0x%04x", s.emptySlot, rest)
		if err2 := s.dev.ProgramHalfWord(s.emptySlot, rest); err2 != nil && err == nil {
			err = err2
		}
		s.emptySlot += 2
	}
	if err != nil {
		return outcomeLogged, fmt.Errorf("failed log append: %w", err)
	}
	return outcomeLogged, nil
}

func (s *Store) writeByte(addr int, value byte) (writeOutcome, error) {
	if addr < 0 || addr >= s.cfg.DensityBytes {
		return outcomeNoop, fmt.Errorf("write byte at %d: %w", addr, ErrBadAddress)
	}
	if s.img.byteAt(addr) == value {
		return outcomeNoop, nil
	}
	s.img.setByte(addr, value)

	handled, err := s.writeDirect(addr)
	if handled {
		return outcomeSnapshot, err
	}
	if addr < byteRange {
		return s.appendByteEntry(addr)
	}
	return s.appendWordEntry(addr &^ 1)
}

func (s *Store) writeWord(addr int, value uint16) (writeOutcome, error) {
	if addr < 0 || addr >= s.cfg.DensityBytes {
		return outcomeNoop, fmt.Errorf("write word at %d: %w", addr, ErrBadAddress)
	}

	if addr%2 == 1 {
		// Unaligned: two byte writes, low byte first. Not atomic under
		// power loss, same as the aligned low-range split below.
		out, err := s.writeByte(addr, byte(value))
		out2, err2 := s.writeByte(addr+1, byte(value>>8))
		if out2 > out {
			out = out2
		}
		if err2 != nil && err == nil {
			err = err2
		}
		return out, err
	}

	old := s.img.wordAt(addr)
	if old == value {
		return outcomeNoop, nil
	}
	s.img.setWord(addr, value)

	handled, err := s.writeDirect(addr)
	if handled {
		return outcomeSnapshot, err
	}

	if addr < byteRange {
		// The low range logs per byte, and only the bytes that changed. If
		// both changed this is two independent entries; power loss between
		// them persists the first without the second.
		out := outcomeNoop
		if byte(old) != byte(value) {
			out, err = s.appendByteEntry(addr)
		}
		if byte(old>>8) != byte(value>>8) {
			out2, err2 := s.appendByteEntry(addr + 1)
			if out2 > out {
				out = out2
			}
			if err2 != nil && err == nil {
				err = err2
			}
		}
		return out, err
	}
	return s.appendWordEntry(addr)
}

// LogUsage reports how many write log bytes are in use (magic header
// included) and the log's total capacity.
func (s *Store) LogUsage() (used, capacity int) {
	return int(s.emptySlot - s.cfg.logBase()), s.cfg.WriteLogBytes
}

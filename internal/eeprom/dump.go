package eeprom

import (
	"fmt"
	"io"
)

const dumpRowBytes = 16

// Dump writes a hex dump of the RAM image, 16 bytes per row. In a run of
// all-zero rows the first row prints and the rest collapse to a single "*"
// marker; the final row always prints so the dump shows where the store
// ends.
func (s *Store) Dump(w io.Writer) error {
	emptyRows := 0
	for row := 0; row < s.cfg.DensityBytes; row += dumpRowBytes {
		s.cfg.watchdog()

		if row >= s.cfg.DensityBytes-dumpRowBytes {
			emptyRows = 0
		}

		zero := true
		for i := row; i < row+dumpRowBytes && i < s.cfg.DensityBytes; i++ {
			if s.img.byteAt(i) != 0 {
				zero = false
				break
			}
		}
		if zero {
			emptyRows++
			if emptyRows > 1 {
				if emptyRows == 2 {
					if _, err := fmt.Fprintln(w, "*"); err != nil {
						return err
					}
				}
				continue
			}
		} else {
			emptyRows = 0
		}

		if _, err := fmt.Fprintf(w, "%04x", row); err != nil {
			return err
		}
		for i := row; i < row+dumpRowBytes && i < s.cfg.DensityBytes; i++ {
			if (i-row)%8 == 0 {
				if _, err := fmt.Fprint(w, " "); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, " %02x", s.img.byteAt(i)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

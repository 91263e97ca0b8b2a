package eeprom

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvaleed/flashee/internal/flash"
)

func TestDump(t *testing.T) {
	t.Run("collapses runs of zero rows", func(t *testing.T) {
		s, _ := newTestStore(t)
		require.NoError(t, s.WriteByte(0x00, 0xAA))
		require.NoError(t, s.WriteByte(0x105, 0x5A))

		var buf bytes.Buffer
		require.NoError(t, s.Dump(&buf))
		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

		// Row 0 has data, row 0x10 is the first zero row and prints, the
		// run after it collapses to one "*", then the 0x100 row, another
		// run, and the always-printed final row.
		require.Equal(t, []string{
			"0000  aa 00 00 00 00 00 00 00  00 00 00 00 00 00 00 00",
			"0010  00 00 00 00 00 00 00 00  00 00 00 00 00 00 00 00",
			"*",
			"0100  00 00 00 00 00 5a 00 00  00 00 00 00 00 00 00 00",
			"0110  00 00 00 00 00 00 00 00  00 00 00 00 00 00 00 00",
			"*",
			"03f0  00 00 00 00 00 00 00 00  00 00 00 00 00 00 00 00",
		}, lines)
	})

	t.Run("empty store is the first row, one star and the last row", func(t *testing.T) {
		s, _ := newTestStore(t)

		var buf bytes.Buffer
		require.NoError(t, s.Dump(&buf))
		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		require.Equal(t, []string{
			"0000  00 00 00 00 00 00 00 00  00 00 00 00 00 00 00 00",
			"*",
			"03f0  00 00 00 00 00 00 00 00  00 00 00 00 00 00 00 00",
		}, lines)
	})

	t.Run("kicks the watchdog per row", func(t *testing.T) {
		kicks := 0
		dev := flash.NewMemDevice(testBase, testPageSize, testPages)
		cfg := DefaultConfig(testBase, testPageSize, testPages)
		cfg.Watchdog = func() { kicks++ }
		s, err := New(dev, cfg)
		require.NoError(t, err)
		_, err = s.Init()
		require.NoError(t, err)

		kicks = 0
		require.NoError(t, s.Dump(&bytes.Buffer{}))
		require.Equal(t, testDensity/dumpRowBytes, kicks)
	})
}

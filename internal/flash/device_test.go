package flash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDevice_EraseAndProgram(t *testing.T) {
	t.Run("starts erased", func(t *testing.T) {
		d := NewMemDevice(0x1000, 256, 2)
		require.Equal(t, EmptyHalfWord, d.ReadHalfWord(0x1000))
		require.Equal(t, EmptyHalfWord, d.ReadHalfWord(0x1000+510))
	})

	t.Run("program clears bits", func(t *testing.T) {
		d := NewMemDevice(0x1000, 256, 2)
		d.Unlock()
		require.NoError(t, d.ProgramHalfWord(0x1000, 0xA55A))
		d.Lock()
		require.Equal(t, uint16(0xA55A), d.ReadHalfWord(0x1000))
	})

	t.Run("cannot raise bits without erase", func(t *testing.T) {
		d := NewMemDevice(0x1000, 256, 2)
		d.Unlock()
		defer d.Lock()
		require.NoError(t, d.ProgramHalfWord(0x1002, 0x0000))
		err := d.ProgramHalfWord(0x1002, 0x0001)
		require.ErrorIs(t, err, ErrNotErased)
		require.Equal(t, uint16(0x0000), d.ReadHalfWord(0x1002))
	})

	t.Run("erase restores all-ones", func(t *testing.T) {
		d := NewMemDevice(0x1000, 256, 2)
		d.Unlock()
		defer d.Lock()
		require.NoError(t, d.ProgramHalfWord(0x1004, 0x1234))
		require.NoError(t, d.ErasePage(0x1004))
		require.Equal(t, EmptyHalfWord, d.ReadHalfWord(0x1004))
	})

	t.Run("erase only touches its page", func(t *testing.T) {
		d := NewMemDevice(0x1000, 256, 2)
		d.Unlock()
		defer d.Lock()
		require.NoError(t, d.ProgramHalfWord(0x1000, 0x0000))
		require.NoError(t, d.ProgramHalfWord(0x1100, 0x0000))
		require.NoError(t, d.ErasePage(0x1100))
		require.Equal(t, uint16(0x0000), d.ReadHalfWord(0x1000))
		require.Equal(t, EmptyHalfWord, d.ReadHalfWord(0x1100))
	})

	t.Run("locked device refuses writes", func(t *testing.T) {
		d := NewMemDevice(0x1000, 256, 2)
		require.ErrorIs(t, d.ProgramHalfWord(0x1000, 0x0000), ErrLocked)
		require.ErrorIs(t, d.ErasePage(0x1000), ErrLocked)
	})

	t.Run("misaligned program", func(t *testing.T) {
		d := NewMemDevice(0x1000, 256, 2)
		d.Unlock()
		defer d.Lock()
		require.ErrorIs(t, d.ProgramHalfWord(0x1001, 0x0000), ErrMisaligned)
	})

	t.Run("out of range", func(t *testing.T) {
		d := NewMemDevice(0x1000, 256, 2)
		d.Unlock()
		defer d.Lock()
		require.ErrorIs(t, d.ProgramHalfWord(0x0ffe, 0x0000), ErrOutOfRange)
		require.ErrorIs(t, d.ProgramHalfWord(0x1200, 0x0000), ErrOutOfRange)
		require.Equal(t, EmptyHalfWord, d.ReadHalfWord(0x1200))
	})
}

func TestFileDevice(t *testing.T) {
	t.Run("create fills with erased pattern", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")
		d, err := CreateFileDevice(path, 0, 256, 2)
		require.NoError(t, err)
		defer d.Close()

		contents, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Len(t, contents, 512)
		for _, b := range contents {
			require.EqualValues(t, Erased, b)
		}
	})

	t.Run("programs persist across reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")
		d, err := CreateFileDevice(path, 0, 256, 2)
		require.NoError(t, err)

		d.Unlock()
		require.NoError(t, d.ProgramHalfWord(0x10, 0xBEEF))
		d.Lock()
		require.NoError(t, d.Sync())
		require.NoError(t, d.Close())

		d, err = OpenFileDevice(path, 0, 256, 2)
		require.NoError(t, err)
		defer d.Close()
		require.Equal(t, uint16(0xBEEF), d.ReadHalfWord(0x10))
	})

	t.Run("rejects wrong geometry", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")
		d, err := CreateFileDevice(path, 0, 256, 2)
		require.NoError(t, err)
		require.NoError(t, d.Close())

		_, err = OpenFileDevice(path, 0, 256, 4)
		require.Error(t, err)
	})

	t.Run("create refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.bin")
		d, err := CreateFileDevice(path, 0, 256, 2)
		require.NoError(t, err)
		require.NoError(t, d.Close())

		_, err = CreateFileDevice(path, 0, 256, 2)
		require.Error(t, err)
	})
}

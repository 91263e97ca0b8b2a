package eeprom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImage_ByteWordAliasing(t *testing.T) {
	m := newImage(8)

	m.setWord(2, 0xBEEF)
	require.EqualValues(t, 0xEF, m.byteAt(2))
	require.EqualValues(t, 0xBE, m.byteAt(3))

	m.setByte(2, 0x12)
	require.Equal(t, uint16(0xBE12), m.wordAt(2))
	m.setByte(3, 0x34)
	require.Equal(t, uint16(0x3412), m.wordAt(2))

	// Neighbours untouched.
	require.Equal(t, uint16(0), m.wordAt(0))
	require.Equal(t, uint16(0), m.wordAt(4))
}

func TestImage_CloneAndEqual(t *testing.T) {
	m := newImage(8)
	m.setWord(0, 0x1234)

	c := m.clone()
	require.True(t, m.equal(c))

	c.setByte(5, 1)
	require.False(t, m.equal(c))
	require.EqualValues(t, 0, m.byteAt(5))
}

package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlot(t *testing.T) {
	s, err := ParseSlot("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSlot, s)

	s, err = ParseSlot("screen_1")
	require.NoError(t, err)
	assert.Equal(t, Slot("screen_1"), s)

	_, err = ParseSlot(strings.Repeat("a", MaxSlotLen+1))
	assert.ErrorIs(t, err, ErrSlotTooLong)

	_, err = ParseSlot("cam/1")
	assert.ErrorIs(t, err, ErrSlotInvalid)
}

func TestNewClientID_Unique(t *testing.T) {
	a, b := NewClientID(), NewClientID()
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(a), MaxClientIDLen)
}

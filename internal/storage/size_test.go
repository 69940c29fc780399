package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSizeChange(t *testing.T) {
	for _, tt := range []struct {
		in   string
		cur  float64
		want float64
	}{
		{"500", 1000, 500},
		{"+500", 1000, 1500},
		{"-500", 1000, 500},
		{"+1M", 1000, 2024},
		{"2G", 0, 2 * 1024 * 1024},
		{"1.5k", 0, 1.5},
		{"+10KiB", 0, 10},
		{"-1t", 2 << 30, 1 << 30},
	} {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseSizeChange(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Apply(tt.cur))
		})
	}
}

func TestParseSizeChangeSigned(t *testing.T) {
	c, err := ParseSizeChange("-500")
	require.NoError(t, err)
	assert.Equal(t, SizeChange{Relative: true, Value: -500}, c)

	c, err = ParseSizeChange("+2k")
	require.NoError(t, err)
	assert.Equal(t, SizeChange{Relative: true, Value: 2}, c)

	c, err = ParseSizeChange("700")
	require.NoError(t, err)
	assert.Equal(t, SizeChange{Value: 700}, c)
}

func TestParseSizeChangeInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "+-5", "5x", "--1", "1.2.3"} {
		_, err := ParseSizeChange(in)
		assert.ErrorIs(t, err, ErrInvalidSize, in)
	}
	_, err := ParseSizeChange("huge")
	assert.EqualError(t, err, "'huge' is not valid number for the resize: invalid size")
}

func TestParseSize(t *testing.T) {
	kb, err := ParseSize("1M")
	require.NoError(t, err)
	assert.Equal(t, float64(1024), kb)

	kb, err = ParseSize("300")
	require.NoError(t, err)
	assert.Equal(t, float64(300), kb)

	for _, in := range []string{"+1M", "-1", "0", "x"} {
		_, err := ParseSize(in)
		assert.ErrorIs(t, err, ErrInvalidSize, in)
	}
}

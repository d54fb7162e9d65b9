package strip

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestBuffer(t *testing.T, n int) *Buffer {
	t.Helper()
	b, err := NewBuffer(n)
	require.NoError(t, err)
	return b
}

func checkInvariant(t require.TestingT, b *Buffer) {
	snap := b.Snapshot()
	require.Len(t, snap.Values(), b.Len()*Channels)
	for i, v := range snap.Values() {
		require.True(t, v >= 0 && v <= MaxChannel, "value %d at %d out of range", v, i)
	}
}

func TestNewBuffer(t *testing.T) {
	b := newTestBuffer(t, 300)
	assert.Equal(t, 300, b.Len())
	assert.Len(t, b.Snapshot().Values(), 1200)

	_, err := NewBuffer(0)
	assert.Error(t, err)
}

func TestBuffer_SetUniform(t *testing.T) {
	b := newTestBuffer(t, 10)
	color := []int{150, 0, 0, 100}

	require.NoError(t, b.SetUniform(color))

	snap := b.Snapshot()
	for i := 0; i < snap.Len(); i++ {
		assert.Equal(t, color, snap.Pixel(i))
	}
	assert.Equal(t, Repeat(color, 10), snap.Values())
}

func TestBuffer_SetUniformRejectsBadColor(t *testing.T) {
	b := newTestBuffer(t, 4)
	require.NoError(t, b.SetUniform([]int{1, 1, 1, 1}))

	assert.ErrorIs(t, b.SetUniform([]int{1, 2, 3}), ErrInvalidColorShape)
	assert.ErrorIs(t, b.SetUniform([]int{1, 2, 3, 256}), ErrChannelOutOfRange)
	assert.Equal(t, Repeat([]int{1, 1, 1, 1}, 4), b.Snapshot().Values(), "buffer untouched after rejection")
}

func TestBuffer_SetRaw(t *testing.T) {
	b := newTestBuffer(t, 2)

	require.NoError(t, b.SetRaw([]int{1, 2, 3, 4, 5, 6, 7, 8}))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, b.Snapshot().Values())

	assert.ErrorIs(t, b.SetRaw([]int{1, 2, 3, 4}), ErrInvalidMotifLength)
	assert.ErrorIs(t, b.SetRaw(make([]int, 12)), ErrMotifTooLong)
	assert.ErrorIs(t, b.SetRaw(make([]int, 7)), ErrInvalidMotifLength)
}

func TestBuffer_SetRange(t *testing.T) {
	b := newTestBuffer(t, 5)
	red := []int{255, 0, 0, 0}

	require.NoError(t, b.SetRange(3, Repeat(red, 2)))
	assert.Equal(t, Dark(), b.Snapshot().Pixel(2))
	assert.Equal(t, red, b.Snapshot().Pixel(3))
	assert.Equal(t, red, b.Snapshot().Pixel(4))

	assert.ErrorIs(t, b.SetRange(4, Repeat(red, 2)), ErrRangeOutOfBounds)
	assert.ErrorIs(t, b.SetRange(-1, red), ErrRangeOutOfBounds)
	assert.ErrorIs(t, b.SetRange(0, []int{1, 2}), ErrInvalidMotifLength)
	checkInvariant(t, b)
}

func TestBuffer_PixelAccess(t *testing.T) {
	b := newTestBuffer(t, 3)
	require.NoError(t, b.SetPixel(1, []int{9, 8, 7, 6}))

	assert.Equal(t, []int{9, 8, 7, 6}, b.Pixel(1))
	assert.Nil(t, b.Pixel(3))
	assert.ErrorIs(t, b.SetPixel(3, []int{1, 1, 1, 1}), ErrRangeOutOfBounds)

	p := b.Pixel(1)
	p[0] = 0
	assert.Equal(t, 9, b.Pixel(1)[0], "Pixel returns a copy")
}

func TestBuffer_ScaleAll(t *testing.T) {
	b := newTestBuffer(t, 2)
	require.NoError(t, b.SetRaw([]int{255, 100, 10, 0, 1, 2, 200, 250}))

	b.ScaleAll(1 / 1.1)
	assert.Equal(t, []int{231, 90, 9, 0, 0, 1, 181, 227}, b.Snapshot().Values())

	b.ScaleAll(1.1)
	assert.Equal(t, []int{254, 99, 9, 0, 0, 1, 199, 249}, b.Snapshot().Values())

	b.ScaleAll(10)
	assert.Equal(t, []int{255, 255, 90, 0, 0, 10, 255, 255}, b.Snapshot().Values(), "clamped at 255")

	b.ScaleAll(-1)
	assert.Equal(t, make([]int, 8), b.Snapshot().Values(), "negative factor turns the strip off")
}

func TestBuffer_ScaleAllProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(t, "n")
		values := rapid.SliceOfN(rapid.IntRange(0, MaxChannel), n*Channels, n*Channels).Draw(t, "values")
		b, err := NewBuffer(n)
		require.NoError(t, err)
		require.NoError(t, b.SetRaw(values))

		b.ScaleAll(1)
		require.Equal(t, values, b.Snapshot().Values(), "factor 1 leaves the buffer unchanged")

		f := rapid.Float64Range(0, 0.999).Draw(t, "fade")
		b.ScaleAll(f)
		after := b.Snapshot().Values()
		for i := range values {
			require.LessOrEqual(t, after[i], values[i], "fade never brightens a channel")
		}
		checkInvariant(t, b)
	})
}

func TestBuffer_Clear(t *testing.T) {
	b := newTestBuffer(t, 3)
	require.NoError(t, b.SetUniform([]int{1, 2, 3, 4}))
	b.Clear()
	assert.Equal(t, make([]int, 12), b.Snapshot().Values())
}

func TestSnapshot_IsImmutable(t *testing.T) {
	b := newTestBuffer(t, 2)
	require.NoError(t, b.SetUniform([]int{5, 5, 5, 5}))
	snap := b.Snapshot()

	require.NoError(t, b.SetUniform([]int{9, 9, 9, 9}))
	vals := snap.Values()
	vals[0] = 100

	assert.Equal(t, Repeat([]int{5, 5, 5, 5}, 2), snap.Values())
	assert.False(t, snap.Equal(b.Snapshot()))
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	b := newTestBuffer(t, 1)
	require.NoError(t, b.SetUniform([]int{1, 2, 3, 4}))

	data, err := json.Marshal(b.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"pixels":1,"values":[1,2,3,4]}`, string(data))

	data, err = json.Marshal(Snapshot{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pixels":0,"values":[]}`, string(data))
}

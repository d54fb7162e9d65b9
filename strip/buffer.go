package strip

import (
	"encoding/json"
	"fmt"
)

// Buffer holds the color of every pixel on a strip of fixed length as a flat
// run of 4*N channel values. Every operation leaves it at exactly 4*N values,
// each in [0, 255].
//
// A Buffer has a single owner. It does no locking; whoever owns it (normally
// an animation.Engine) must not let two writers at it concurrently.
type Buffer struct {
	values []int
	n      int
}

// NewBuffer returns an all-dark buffer of n pixels.
func NewBuffer(n int) (*Buffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("strip length must be positive, got %d", n)
	}
	return &Buffer{values: make([]int, n*Channels), n: n}, nil
}

// Len is the strip length in pixels.
func (b *Buffer) Len() int { return b.n }

// Clear turns every pixel off.
func (b *Buffer) Clear() {
	clear(b.values)
}

// SetUniform sets every pixel to color.
func (b *Buffer) SetUniform(color []int) error {
	if err := ValidateColor(color); err != nil {
		return err
	}
	for i := 0; i < len(b.values); i += Channels {
		copy(b.values[i:i+Channels], color)
	}
	return nil
}

// SetRaw replaces the whole buffer. values must hold exactly 4*N channels.
func (b *Buffer) SetRaw(values []int) error {
	if err := ValidateMotif(values, b.n); err != nil {
		return err
	}
	if len(values) != len(b.values) {
		return invalid(ErrInvalidMotifLength, values, -1)
	}
	copy(b.values, values)
	return nil
}

// SetRange overwrites the pixels starting at offset with values.
func (b *Buffer) SetRange(offset int, values []int) error {
	if len(values)%Channels != 0 {
		return invalid(ErrInvalidMotifLength, values, -1)
	}
	if err := checkRange(values); err != nil {
		return err
	}
	if offset < 0 || offset+len(values)/Channels > b.n {
		return invalid(ErrRangeOutOfBounds, values, -1)
	}
	copy(b.values[offset*Channels:], values)
	return nil
}

// SetPattern tiles motif across the whole strip. See Render.
func (b *Buffer) SetPattern(motif []int) error {
	snap, err := Render(motif, b.n)
	if err != nil {
		return err
	}
	copy(b.values, snap.values)
	return nil
}

// Pixel returns a copy of pixel i.
func (b *Buffer) Pixel(i int) []int {
	if i < 0 || i >= b.n {
		return nil
	}
	return append([]int(nil), b.values[i*Channels:(i+1)*Channels]...)
}

// SetPixel sets pixel i to color.
func (b *Buffer) SetPixel(i int, color []int) error {
	if err := ValidateColor(color); err != nil {
		return err
	}
	return b.SetRange(i, color)
}

// ScaleAll multiplies every channel by factor. Each product is truncated
// toward zero and then clamped into [0, 255], so factors of zero or below
// simply turn the strip off.
func (b *Buffer) ScaleAll(factor float64) {
	for i, v := range b.values {
		b.values[i] = scale(v, factor)
	}
}

func scale(v int, factor float64) int {
	x := float64(v) * factor
	switch {
	case x <= 0:
		return 0
	case x >= MaxChannel:
		return MaxChannel
	}
	return int(x)
}

// Snapshot copies the current state for transmission.
func (b *Buffer) Snapshot() Snapshot {
	return Snapshot{values: append([]int(nil), b.values...)}
}

// Snapshot is an immutable copy of a Buffer at one point in time.
type Snapshot struct {
	values []int
}

// Len is the number of pixels in the snapshot.
func (s Snapshot) Len() int { return len(s.values) / Channels }

// Values returns a copy of the flat channel values.
func (s Snapshot) Values() []int { return append([]int(nil), s.values...) }

// Pixel returns a copy of pixel i.
func (s Snapshot) Pixel(i int) []int {
	if i < 0 || i >= s.Len() {
		return nil
	}
	return append([]int(nil), s.values[i*Channels:(i+1)*Channels]...)
}

// Equal reports whether both snapshots hold the same values.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.values) != len(o.values) {
		return false
	}
	for i := range s.values {
		if s.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	values := s.values
	if values == nil {
		values = []int{}
	}
	return json.Marshal(struct {
		Pixels int   `json:"pixels"`
		Values []int `json:"values"`
	}{s.Len(), values})
}

package strip

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Channels is the number of values per pixel: red, green, blue and white.
const Channels = 4

// MaxChannel is the brightest value a single channel can hold.
const MaxChannel = 255

var (
	ErrInvalidColorShape  = errors.New("color must have exactly 4 channels")
	ErrChannelOutOfRange  = errors.New("channel value outside 0-255")
	ErrInvalidMotifLength = errors.New("motif length must be a positive multiple of 4")
	ErrMotifTooLong       = errors.New("motif has more pixels than the strip")
	ErrRangeOutOfBounds   = errors.New("range runs past the end of the strip")
)

// ValidationError reports a rejected color, motif or range together with the
// offending values. Match the cause with errors.Is against the Err* sentinels.
type ValidationError struct {
	Err   error
	Value []int
	// Index of the offending channel value, -1 when the whole value is at fault.
	Index int
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 && e.Index < len(e.Value) {
		return fmt.Sprintf("%v: value %d at index %d", e.Err, e.Value[e.Index], e.Index)
	}
	return fmt.Sprintf("%v: %s", e.Err, summarize(e.Value))
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, value []int, index int) *ValidationError {
	return &ValidationError{Err: err, Value: append([]int(nil), value...), Index: index}
}

// summarize keeps error messages readable when a whole strip is rejected.
func summarize(v []int) string {
	if len(v) <= 16 {
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("%v... (%d values)", v[:16], len(v))
}

// ValidateColor checks that c is one pixel: 4 channels, each in [0, 255].
func ValidateColor(c []int) error {
	if len(c) != Channels {
		return invalid(ErrInvalidColorShape, c, -1)
	}
	return checkRange(c)
}

// ValidateMotif checks that m is a whole number of pixels, non-empty, in range,
// and no longer than a strip of n pixels.
func ValidateMotif(m []int, n int) error {
	if len(m) == 0 || len(m)%Channels != 0 {
		return invalid(ErrInvalidMotifLength, m, -1)
	}
	if err := checkRange(m); err != nil {
		return err
	}
	if len(m)/Channels > n {
		return invalid(ErrMotifTooLong, m, -1)
	}
	return nil
}

func checkRange(v []int) error {
	for i, x := range v {
		if x < 0 || x > MaxChannel {
			return invalid(ErrChannelOutOfRange, v, i)
		}
	}
	return nil
}

// Dark is the all-off pixel.
func Dark() []int { return make([]int, Channels) }

// ParseHex turns "#RRGGBB" or "#RRGGBBWW" into a pixel. The optional last byte
// drives the white channel.
func ParseHex(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	var white int64
	switch len(s) {
	case 7:
	case 9:
		w, err := strconv.ParseUint(s[7:], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("parse white channel of %q: %w", s, err)
		}
		white = int64(w)
		s = s[:7]
	default:
		return nil, fmt.Errorf("parse color %q: want #RRGGBB or #RRGGBBWW", s)
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return nil, fmt.Errorf("parse color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return []int{int(r), int(g), int(b), int(white)}, nil
}

// HueWheel builds a motif of k fully saturated colors evenly spaced around the
// hue circle, white channel off.
func HueWheel(k int) []int {
	if k <= 0 {
		return nil
	}
	out := make([]int, 0, k*Channels)
	for i := 0; i < k; i++ {
		r, g, b := colorful.Hsv(360*float64(i)/float64(k), 1, 1).Clamped().RGB255()
		out = append(out, int(r), int(g), int(b), 0)
	}
	return out
}

// Repeat returns color tiled count times.
func Repeat(color []int, count int) []int {
	if count <= 0 {
		return nil
	}
	out := make([]int, 0, len(color)*count)
	for i := 0; i < count; i++ {
		out = append(out, color...)
	}
	return out
}

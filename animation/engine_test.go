package animation

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/elijahnyp/strip_controller/strip"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	red   = []int{255, 0, 0, 0}
	green = []int{0, 255, 0, 0}
	blue  = []int{0, 0, 255, 0}
	dark  = []int{0, 0, 0, 0}
)

// fakeDevice records every call in order as "push", "push-failed" or "off".
type fakeDevice struct {
	mu      sync.Mutex
	events  []string
	frames  [][]int
	pushErr error
	offErr  error
	// failAfter makes pushes fail once this many have succeeded; 0 disables.
	failAfter int
}

func (d *fakeDevice) Push(ctx context.Context, values []int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pushErr != nil && (d.failAfter == 0 || len(d.frames) >= d.failAfter) {
		d.events = append(d.events, "push-failed")
		return d.pushErr
	}
	d.events = append(d.events, "push")
	d.frames = append(d.frames, append([]int(nil), values...))
	return nil
}

func (d *fakeDevice) Shutoff(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, "off")
	return d.offErr
}

func (d *fakeDevice) Frames() [][]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]int(nil), d.frames...)
}

func (d *fakeDevice) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *fakeDevice) count(event string) int {
	n := 0
	for _, e := range d.Events() {
		if e == event {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T, n int, dev Device, opts ...Option) (*Engine, *VirtualClock) {
	t.Helper()
	buf, err := strip.NewBuffer(n)
	require.NoError(t, err)
	clock := NewVirtualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewEngine(buf, dev, opts...), clock
}

func uniform(color []int, n int) []int {
	return strip.Repeat(color, n)
}

func litPixels(frame []int) []int {
	var lit []int
	for i := 0; i < len(frame)/strip.Channels; i++ {
		px := frame[i*strip.Channels : (i+1)*strip.Channels]
		for _, v := range px {
			if v != 0 {
				lit = append(lit, i)
				break
			}
		}
	}
	return lit
}

func TestUniform(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 5, dev)

	require.NoError(t, e.Uniform(context.Background(), blue))

	assert.Equal(t, [][]int{uniform(blue, 5)}, dev.Frames())
	assert.Equal(t, []string{"push"}, dev.Events())
}

func TestPattern_GreenRed(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 4, dev)

	require.NoError(t, e.Pattern(context.Background(), append(append([]int{}, green...), red...)))

	frames := dev.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, []int{
		0, 255, 0, 0,
		255, 0, 0, 0,
		0, 255, 0, 0,
		255, 0, 0, 0,
	}, frames[0])
}

func TestAlternate(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 3, dev)

	require.NoError(t, e.Alternate(context.Background(), red, blue))

	frames := dev.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, []int{255, 0, 0, 0, 0, 0, 255, 0, 255, 0, 0, 0}, frames[0])
}

func TestValidationFailsBeforeTransmission(t *testing.T) {
	tests := []struct {
		name string
		run  func(e *Engine) error
		want error
	}{
		{"uniform short", func(e *Engine) error { return e.Uniform(context.Background(), []int{1, 2, 3}) }, strip.ErrInvalidColorShape},
		{"uniform range", func(e *Engine) error { return e.Uniform(context.Background(), []int{256, 0, 0, 0}) }, strip.ErrChannelOutOfRange},
		{"grow negative", func(e *Engine) error { return e.Grow(context.Background(), []int{0, -1, 0, 0}) }, strip.ErrChannelOutOfRange},
		{"chase shape", func(e *Engine) error { return e.Chase(context.Background(), []int{0, 0, 0, 0, 0}) }, strip.ErrInvalidColorShape},
		{"pattern length", func(e *Engine) error { return e.Pattern(context.Background(), []int{1, 2, 3, 4, 5}) }, strip.ErrInvalidMotifLength},
		{"pattern too long", func(e *Engine) error { return e.Pattern(context.Background(), uniform(red, 5)) }, strip.ErrMotifTooLong},
		{"alternate", func(e *Engine) error { return e.Alternate(context.Background(), red, []int{0, 0, 300, 0}) }, strip.ErrChannelOutOfRange},
		{"alternate loop", func(e *Engine) error {
			return e.AlternateLoop(context.Background(), []int{1}, red, time.Second)
		}, strip.ErrInvalidColorShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{}
			e, _ := newTestEngine(t, 4, dev)

			err := tt.run(e)

			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, dev.Events())
		})
	}
}

func TestGrow(t *testing.T) {
	const n = 300
	dev := &fakeDevice{}
	e, clock := newTestEngine(t, n, dev)

	require.NoError(t, e.Grow(context.Background(), red))

	frames := dev.Frames()
	require.Len(t, frames, 61)
	want := 1
	for i, f := range frames {
		require.Len(t, f, n*strip.Channels, "frame %d", i)
		lit := litPixels(f)
		require.Len(t, lit, want, "frame %d", i)
		assert.Equal(t, want-1, lit[len(lit)-1])
		want = min(want+5, n)
	}
	assert.Equal(t, uniform(red, n), frames[len(frames)-1])

	events := dev.Events()
	assert.Equal(t, "off", events[len(events)-1])
	assert.Equal(t, 1, dev.count("off"))
	// 60 steps plus the settle delay.
	assert.Equal(t, 61, clock.Sleeps())
}

func TestGrow_ShortStrip(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 1, dev)

	require.NoError(t, e.Grow(context.Background(), green))

	assert.Equal(t, [][]int{green}, dev.Frames())
	assert.Equal(t, []string{"push", "off"}, dev.Events())
}

func TestChase(t *testing.T) {
	const n = 10
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, n, dev)

	require.NoError(t, e.Chase(context.Background(), blue))

	frames := dev.Frames()
	require.Len(t, frames, n, "one step per starting offset")
	for i, f := range frames {
		var want []int
		for p := i; p < min(i+4, n); p++ {
			want = append(want, p)
		}
		assert.Equal(t, want, litPixels(f), "step %d", i)
		for _, p := range litPixels(f) {
			assert.Equal(t, blue, f[p*strip.Channels:(p+1)*strip.Channels])
		}
	}
	events := dev.Events()
	assert.Len(t, events, n+1)
	assert.Equal(t, "off", events[n])
	assert.Equal(t, 1, dev.count("off"))
}

func TestChase_ClippedTail(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 10, dev)

	require.NoError(t, e.Chase(context.Background(), red))

	frames := dev.Frames()
	require.Len(t, frames, 10)
	assert.Equal(t, []int{7, 8, 9}, litPixels(frames[7]))
	assert.Equal(t, []int{8, 9}, litPixels(frames[8]))
	assert.Equal(t, []int{9}, litPixels(frames[9]))
	for _, f := range frames {
		assert.Len(t, f, 10*strip.Channels)
	}
}

func TestChase_WindowWiderThanStrip(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 2, dev)

	require.NoError(t, e.Chase(context.Background(), red))

	assert.Equal(t, [][]int{uniform(red, 2), {0, 0, 0, 0, 255, 0, 0, 0}}, dev.Frames())
	assert.Equal(t, 1, dev.count("off"))
}

func TestBreathe(t *testing.T) {
	dev := &fakeDevice{}
	e, clock := newTestEngine(t, 2, dev)
	require.NoError(t, e.Uniform(context.Background(), []int{200, 100, 10, 0}))

	require.NoError(t, e.Breathe(context.Background(), true, 10*time.Second))

	frames := dev.Frames()
	// One uniform frame then two rounds of four steps: the first round ends
	// at 6.67s, before the ten second deadline.
	require.Len(t, frames, 9)
	assert.Equal(t, []int{181, 90, 9, 0, 181, 90, 9, 0}, frames[1])
	assert.Equal(t, []int{164, 81, 8, 0, 164, 81, 8, 0}, frames[2])
	events := dev.Events()
	assert.Equal(t, 1, dev.count("off"))
	assert.Equal(t, "off", events[len(events)-1])
	assert.Equal(t, 8, clock.Sleeps())
}

func TestBreathe_Brighten(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 1, dev)
	require.NoError(t, e.Uniform(context.Background(), []int{100, 250, 0, 1}))

	require.NoError(t, e.Breathe(context.Background(), false, 6*time.Second))

	frames := dev.Frames()
	require.Len(t, frames, 9)
	assert.Equal(t, []int{110, 255, 0, 1}, frames[1])
	for _, f := range frames {
		for _, v := range f {
			assert.LessOrEqual(t, v, 255)
		}
	}
}

func TestBreathe_InvalidDuration(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 1, dev)

	assert.Error(t, e.Breathe(context.Background(), true, 0))
	assert.Empty(t, dev.Events())
}

func TestBreathe_CancelledAtSecondSuspension(t *testing.T) {
	dev := &fakeDevice{}
	e, clock := newTestEngine(t, 3, dev)
	require.NoError(t, e.Uniform(context.Background(), red))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.OnSleep = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	require.NoError(t, e.Breathe(ctx, true, 10*time.Second))

	// One uniform push, one breathe push, then exactly one shutoff.
	assert.Equal(t, []string{"push", "push", "off"}, dev.Events())
	_, running := e.Current()
	assert.False(t, running)
}

func TestBreatheLoop_Cycles(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 1, dev)
	require.NoError(t, e.Uniform(context.Background(), []int{100, 100, 100, 100}))

	require.NoError(t, BreatheLoop(context.Background(), e, true, 6*time.Second, 2))

	frames := dev.Frames()
	require.Len(t, frames, 17)
	assert.Equal(t, 44, frames[8][0])
	assert.Greater(t, frames[16][0], frames[8][0])
	// the halves share one session, so the strip only goes dark at the end
	assert.Equal(t, append(slices.Repeat([]string{"push"}, 17), "off"), dev.Events())
}

func TestBreatheLoop_StopsOnCancel(t *testing.T) {
	dev := &fakeDevice{}
	e, clock := newTestEngine(t, 1, dev)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.OnSleep = func(n int) {
		if n == 6 {
			cancel()
		}
	}

	require.NoError(t, BreatheLoop(ctx, e, true, 6*time.Second, 0))

	assert.Equal(t, 5, dev.count("push"))
	assert.Equal(t, 1, dev.count("off"))
}

func TestAlternateLoop(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 2, dev)

	require.NoError(t, e.AlternateLoop(context.Background(), red, green, 10*time.Second))

	frames := dev.Frames()
	require.Len(t, frames, 10)
	for i, f := range frames {
		if i%2 == 0 {
			assert.Equal(t, []int{255, 0, 0, 0, 0, 255, 0, 0}, f, "swap %d", i)
		} else {
			assert.Equal(t, []int{0, 255, 0, 0, 255, 0, 0, 0}, f, "swap %d", i)
		}
	}
	events := dev.Events()
	assert.Equal(t, "off", events[len(events)-1])
	assert.Equal(t, 1, dev.count("off"))
}

func TestAlternateLoop_InvalidDuration(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 2, dev)

	assert.Error(t, e.AlternateLoop(context.Background(), red, green, -time.Second))
	assert.Empty(t, dev.Events())
}

func TestFadeEveryOther(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 3, dev)
	require.NoError(t, e.Uniform(context.Background(), []int{255, 100, 2, 9}))

	require.NoError(t, e.FadeEveryOther(context.Background()))

	frames := dev.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []int{
		85, 33, 0, 3,
		255, 100, 2, 9,
		85, 33, 0, 3,
	}, frames[1])
}

func TestOff(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 2, dev)
	require.NoError(t, e.Uniform(context.Background(), red))

	require.NoError(t, e.Off(context.Background()))

	assert.Equal(t, []string{"push", "off"}, dev.Events())
}

func TestDeviceErrorHaltsAndShutsOff(t *testing.T) {
	boom := errors.New("boom")
	dev := &fakeDevice{pushErr: boom, failAfter: 3}
	e, _ := newTestEngine(t, 20, dev)

	err := e.Grow(context.Background(), red)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"push", "push", "push", "push-failed", "off"}, dev.Events())
}

func TestShutoffFailureReported(t *testing.T) {
	offErr := errors.New("unreachable")
	dev := &fakeDevice{offErr: offErr}
	e, _ := newTestEngine(t, 2, dev)

	err := e.Chase(context.Background(), red)

	assert.ErrorIs(t, err, offErr)
	assert.Equal(t, 1, dev.count("off"))
}

func TestShutoffAfterCancelledContext(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 10, dev)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, e.Grow(ctx, red))

	// The first frame goes out before the first suspension notices.
	assert.Equal(t, []string{"push", "off"}, dev.Events())
}

// blockingDevice holds every push until released.
type blockingDevice struct {
	fakeDevice
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDevice) Push(ctx context.Context, values []int) error {
	d.entered <- struct{}{}
	<-d.release
	return d.fakeDevice.Push(ctx, values)
}

func TestBusy(t *testing.T) {
	dev := &blockingDevice{entered: make(chan struct{}), release: make(chan struct{})}
	e, _ := newTestEngine(t, 2, dev)

	done := make(chan error, 1)
	go func() { done <- e.Uniform(context.Background(), red) }()
	<-dev.entered

	info, running := e.Current()
	require.True(t, running)
	assert.Equal(t, "uniform", info.Name)
	assert.Equal(t, PhaseRunning, info.Phase)
	assert.NotEmpty(t, info.ID)

	assert.ErrorIs(t, e.Uniform(context.Background(), green), ErrBusy)
	assert.ErrorIs(t, e.Off(context.Background()), ErrBusy)

	close(dev.release)
	require.NoError(t, <-done)
	_, running = e.Current()
	assert.False(t, running)
	assert.Equal(t, [][]int{uniform(red, 2)}, dev.Frames())
}

func TestObserver(t *testing.T) {
	var seen []strip.Snapshot
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 2, dev, WithObserver(func(s strip.Snapshot) { seen = append(seen, s) }))

	require.NoError(t, e.Chase(context.Background(), red))

	require.Len(t, seen, 3)
	assert.Equal(t, uniform(red, 2), seen[0].Values())
	assert.Equal(t, []int{0, 0, 0, 0, 255, 0, 0, 0}, seen[1].Values())
	assert.Equal(t, uniform(dark, 2), seen[2].Values())
}

func TestShutoffClearsBuffer(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 3, dev)
	require.NoError(t, e.Grow(context.Background(), red))

	require.NoError(t, e.FadeEveryOther(context.Background()))

	frames := dev.Frames()
	assert.Equal(t, uniform(dark, 3), frames[len(frames)-1], "nothing stale is pushed after a shutoff")
}

func TestBreatheLoop_InvalidDuration(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := newTestEngine(t, 1, dev)

	assert.Error(t, BreatheLoop(context.Background(), e, true, 0, 2))
	assert.Empty(t, dev.Events())
}

func TestNewEngine_ConfigDefaults(t *testing.T) {
	buf, err := strip.NewBuffer(1)
	require.NoError(t, err)

	e := NewEngine(buf, &fakeDevice{}, WithConfig(Config{}))

	assert.Equal(t, 1, e.cfg.GrowStep)
	assert.Equal(t, 1, e.cfg.ChaseWidth)
	assert.Equal(t, time.Second, e.cfg.AlternatePeriod)
	assert.Equal(t, 30*time.Second, e.cfg.CleanupTimeout)
	assert.Equal(t, 1, e.Len())
}

// Package animation runs timed lighting effects against a strip.Buffer and
// transmits every intermediate state to a Device.
package animation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/elijahnyp/strip_controller/strip"
)

// ErrBusy is returned when an animation is started while another one owns the
// buffer.
var ErrBusy = errors.New("an animation is already running")

// Device receives strip states. device.Client is the production
// implementation.
type Device interface {
	Push(ctx context.Context, values []int) error
	Shutoff(ctx context.Context) error
}

// Config holds the timing and geometry of the built-in effects.
type Config struct {
	// StepInterval spaces the steps of Grow and Chase.
	StepInterval time.Duration
	// SettleDelay holds the final frame of Grow and Chase before shutoff.
	SettleDelay time.Duration
	// AlternatePeriod is how long each half of AlternateLoop is shown.
	AlternatePeriod time.Duration
	// CleanupTimeout bounds the shutoff sent when a session ends.
	CleanupTimeout time.Duration
	GrowStep       int
	ChaseWidth     int
}

func DefaultConfig() Config {
	return Config{
		StepInterval:    10 * time.Millisecond,
		SettleDelay:     2 * time.Second,
		AlternatePeriod: time.Second,
		CleanupTimeout:  30 * time.Second,
		GrowStep:        5,
		ChaseWidth:      4,
	}
}

// Engine owns a strip buffer and is the only thing allowed to write to it.
// At most one animation runs at a time; a second caller gets ErrBusy.
type Engine struct {
	buf   *strip.Buffer
	dev   Device
	clock Clock
	cfg   Config
	log   zerolog.Logger

	active   atomic.Bool
	mu       sync.Mutex
	current  *Session
	observer func(strip.Snapshot)
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l.With().Str("component", "animation").Logger() }
}

// WithObserver registers fn to receive every snapshot the device accepted.
// It runs on the animation goroutine and must not block.
func WithObserver(fn func(strip.Snapshot)) Option { return func(e *Engine) { e.observer = fn } }

// NewEngine takes ownership of buf.
func NewEngine(buf *strip.Buffer, dev Device, opts ...Option) *Engine {
	e := &Engine{
		buf:   buf,
		dev:   dev,
		clock: RealClock{},
		cfg:   DefaultConfig(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.GrowStep <= 0 {
		e.cfg.GrowStep = 1
	}
	if e.cfg.ChaseWidth <= 0 {
		e.cfg.ChaseWidth = 1
	}
	if e.cfg.AlternatePeriod <= 0 {
		e.cfg.AlternatePeriod = time.Second
	}
	if e.cfg.CleanupTimeout <= 0 {
		e.cfg.CleanupTimeout = DefaultConfig().CleanupTimeout
	}
	return e
}

// Len is the strip length in pixels.
func (e *Engine) Len() int { return e.buf.Len() }

// Current describes the running session, if any.
func (e *Engine) Current() (SessionInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return SessionInfo{}, false
	}
	return e.current.Info(), true
}

func (e *Engine) setCurrent(s *Session) {
	e.mu.Lock()
	e.current = s
	e.mu.Unlock()
}

// run executes body as one session. It claims the buffer, and on the way out
// sends exactly one shutoff when the session failed, was cancelled, or
// offOnDone is set. A successful shutoff also clears the buffer so it matches
// the dark strip. Cancellation is a normal end and returns nil.
func (e *Engine) run(ctx context.Context, name string, d time.Duration, offOnDone bool, body func(ctx context.Context, s *Session) error) (err error) {
	if !e.active.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer e.active.Store(false)

	s := newSession(name, e.clock.Now(), d)
	e.setCurrent(s)
	defer e.setCurrent(nil)
	log := e.log.With().Str("session", s.ID).Str("animation", name).Logger()
	log.Debug().Msg("session started")

	defer func() {
		phase := s.Phase()
		if phase == PhaseDone && !offOnDone {
			return
		}
		if offErr := e.shutoff(ctx); offErr != nil {
			log.Error().Err(offErr).Str("phase", string(phase)).Msg("cleanup shutoff failed")
			if err == nil {
				err = fmt.Errorf("%s: shutoff: %w", name, offErr)
			}
			return
		}
		log.Debug().Str("phase", string(phase)).Msg("strip shut off")
		e.buf.Clear()
		if e.observer != nil {
			e.observer(e.buf.Snapshot())
		}
	}()

	err = body(ctx, s)
	switch {
	case ctx.Err() != nil:
		s.setPhase(PhaseCancelled)
		log.Info().Int("pushes", s.Info().Pushes).Msg("session cancelled")
		err = nil
	case err != nil:
		s.setPhase(PhaseFailed)
		log.Warn().Err(err).Msg("session failed")
	default:
		s.setPhase(PhaseDone)
		log.Debug().Int("pushes", s.Info().Pushes).Msg("session finished")
	}
	return err
}

// shutoff runs on a context detached from the caller's cancellation so a
// cancelled session still leaves the strip dark.
func (e *Engine) shutoff(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CleanupTimeout)
	defer cancel()
	return e.dev.Shutoff(ctx)
}

// push transmits the current buffer.
func (e *Engine) push(ctx context.Context, s *Session) error {
	snap := e.buf.Snapshot()
	if err := e.dev.Push(ctx, snap.Values()); err != nil {
		return fmt.Errorf("%s: push: %w", s.Name, err)
	}
	s.pushed()
	if e.observer != nil {
		e.observer(snap)
	}
	return nil
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	return e.clock.Sleep(ctx, d)
}

package animation

import (
	"context"
	"fmt"
	"time"

	"github.com/elijahnyp/strip_controller/strip"
)

const (
	fadeFactor     = 1 / 1.1
	brightenFactor = 1.1
	breatheSteps   = 4
)

// Uniform lights the whole strip in one color and leaves it on.
func (e *Engine) Uniform(ctx context.Context, color []int) error {
	if err := strip.ValidateColor(color); err != nil {
		return err
	}
	return e.run(ctx, "uniform", 0, false, func(ctx context.Context, s *Session) error {
		if err := e.buf.SetUniform(color); err != nil {
			return err
		}
		return e.push(ctx, s)
	})
}

// Alternate colors every other pixel a, b, a, b... and leaves it on.
func (e *Engine) Alternate(ctx context.Context, a, b []int) error {
	motif, err := e.pair(a, b)
	if err != nil {
		return err
	}
	return e.run(ctx, "alternate", 0, false, func(ctx context.Context, s *Session) error {
		if err := e.buf.SetPattern(motif); err != nil {
			return err
		}
		return e.push(ctx, s)
	})
}

// Pattern tiles motif across the strip and leaves it on.
func (e *Engine) Pattern(ctx context.Context, motif []int) error {
	if err := strip.ValidateMotif(motif, e.buf.Len()); err != nil {
		return err
	}
	return e.run(ctx, "pattern", 0, false, func(ctx context.Context, s *Session) error {
		if err := e.buf.SetPattern(motif); err != nil {
			return err
		}
		return e.push(ctx, s)
	})
}

// FadeEveryOther divides every channel of the even-numbered pixels by three
// and transmits once.
func (e *Engine) FadeEveryOther(ctx context.Context) error {
	return e.run(ctx, "fade_every_other", 0, false, func(ctx context.Context, s *Session) error {
		for i := 0; i < e.buf.Len(); i += 2 {
			px := e.buf.Pixel(i)
			for j := range px {
				px[j] /= 3
			}
			if err := e.buf.SetPixel(i, px); err != nil {
				return err
			}
		}
		return e.push(ctx, s)
	})
}

// Off clears the buffer and shuts the strip off.
func (e *Engine) Off(ctx context.Context) error {
	return e.run(ctx, "off", 0, true, func(ctx context.Context, s *Session) error {
		e.buf.Clear()
		return nil
	})
}

// Grow starts from a dark strip and lights it from pixel 0 upward, GrowStep
// pixels at a time, until the whole strip shows color. The last frame is held
// for SettleDelay and then the strip is shut off.
func (e *Engine) Grow(ctx context.Context, color []int) error {
	if err := strip.ValidateColor(color); err != nil {
		return err
	}
	return e.run(ctx, "grow", 0, true, func(ctx context.Context, s *Session) error {
		n := e.buf.Len()
		e.buf.Clear()
		p := newPacer(e.clock, e.cfg.StepInterval)
		prev := 0
		for lit := 1; ; lit += e.cfg.GrowStep {
			lit = min(lit, n)
			if err := e.buf.SetRange(prev, strip.Repeat(color, lit-prev)); err != nil {
				return err
			}
			prev = lit
			if err := e.push(ctx, s); err != nil {
				return err
			}
			if lit == n {
				break
			}
			if err := p.wait(ctx); err != nil {
				return err
			}
		}
		s.setPhase(PhaseSettling)
		return e.sleep(ctx, e.cfg.SettleDelay)
	})
}

// Chase slides a window of ChaseWidth lit pixels one pixel at a time, taking
// one step for every starting offset 0..N-1. Near the end the window is
// clipped at the last pixel. Everything outside the window is dark. The last
// frame is held for SettleDelay and then the strip is shut off.
func (e *Engine) Chase(ctx context.Context, color []int) error {
	if err := strip.ValidateColor(color); err != nil {
		return err
	}
	return e.run(ctx, "chase", 0, true, func(ctx context.Context, s *Session) error {
		n := e.buf.Len()
		window := strip.Repeat(color, min(e.cfg.ChaseWidth, n))
		p := newPacer(e.clock, e.cfg.StepInterval)
		for i := 0; i < n; i++ {
			e.buf.Clear()
			lit := min(len(window), (n-i)*strip.Channels)
			if err := e.buf.SetRange(i, window[:lit]); err != nil {
				return err
			}
			if err := e.push(ctx, s); err != nil {
				return err
			}
			if i == n-1 {
				break
			}
			if err := p.wait(ctx); err != nil {
				return err
			}
		}
		s.setPhase(PhaseSettling)
		return e.sleep(ctx, e.cfg.SettleDelay)
	})
}

// Breathe dims (fade) or brightens the whole strip for duration. Each round
// is four steps spaced duration/6 apart; each step scales every channel by
// 1/1.1 or 1.1 and transmits. Rounds repeat until duration has passed, then
// the strip is shut off.
//
// Breathe does not reverse direction by itself; BreatheLoop alternates
// directions within one session for a continuous effect.
func (e *Engine) Breathe(ctx context.Context, fade bool, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("breathe: duration must be positive, got %v", duration)
	}
	return e.run(ctx, "breathe", duration, true, func(ctx context.Context, s *Session) error {
		return e.breathe(ctx, s, fade, duration)
	})
}

// BreatheLoop breathes over and over, flipping between fading and
// brightening, for cycles halves or until ctx ends when cycles <= 0. All
// halves share one session so the strip stays lit between them and is shut
// off once at the end.
func BreatheLoop(ctx context.Context, e *Engine, fadeFirst bool, duration time.Duration, cycles int) error {
	if duration <= 0 {
		return fmt.Errorf("breathe_loop: duration must be positive, got %v", duration)
	}
	var total time.Duration
	if cycles > 0 {
		total = duration * time.Duration(cycles)
	}
	return e.run(ctx, "breathe_loop", total, true, func(ctx context.Context, s *Session) error {
		fade := fadeFirst
		for i := 0; cycles <= 0 || i < cycles; i++ {
			if err := e.breathe(ctx, s, fade, duration); err != nil {
				return err
			}
			fade = !fade
		}
		return nil
	})
}

// breathe runs one direction for duration inside session s.
func (e *Engine) breathe(ctx context.Context, s *Session, fade bool, duration time.Duration) error {
	factor, phase := brightenFactor, PhaseBrightening
	if fade {
		factor, phase = fadeFactor, PhaseFading
	}
	s.setPhase(phase)
	end := e.clock.Now().Add(duration)
	p := newPacer(e.clock, duration/6)
	for e.clock.Now().Before(end) {
		for i := 0; i < breatheSteps; i++ {
			if err := p.wait(ctx); err != nil {
				return err
			}
			e.buf.ScaleAll(factor)
			if err := e.push(ctx, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// AlternateLoop swaps the every-other-pixel coloring between (a, b) and
// (b, a) once per AlternatePeriod until duration has passed, then shuts the
// strip off.
func (e *Engine) AlternateLoop(ctx context.Context, a, b []int, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("alternate_loop: duration must be positive, got %v", duration)
	}
	ab, err := e.pair(a, b)
	if err != nil {
		return err
	}
	ba, _ := e.pair(b, a)
	return e.run(ctx, "alternate_loop", duration, true, func(ctx context.Context, s *Session) error {
		p := newPacer(e.clock, e.cfg.AlternatePeriod)
		for swap := 0; e.clock.Now().Before(s.End); swap++ {
			motif := ab
			if swap%2 == 1 {
				motif = ba
			}
			if err := e.buf.SetPattern(motif); err != nil {
				return err
			}
			if err := e.push(ctx, s); err != nil {
				return err
			}
			if err := p.wait(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) pair(a, b []int) ([]int, error) {
	if err := strip.ValidateColor(a); err != nil {
		return nil, err
	}
	if err := strip.ValidateColor(b); err != nil {
		return nil, err
	}
	motif := append(append(make([]int, 0, 2*strip.Channels), a...), b...)
	if err := strip.ValidateMotif(motif, e.buf.Len()); err != nil {
		return nil, err
	}
	return motif, nil
}

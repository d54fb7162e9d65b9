package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elijahnyp/strip_controller/animation"
	"github.com/elijahnyp/strip_controller/strip"
	. "github.com/elijahnyp/strip_controller/util"
)

const ( // controller states
	STATE_IDLE    = "idle"
	STATE_RUNNING = "running"
	STATE_ERROR   = "error"
)

// Status is what the controller reports on <topic_base>/status, /api/status
// and the websocket.
type Status struct {
	State   string                 `json:"state"`
	Action  string                 `json:"action,omitempty"`
	Session *animation.SessionInfo `json:"session,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Lit     bool                   `json:"lit"`
}

// haState is the Home Assistant JSON-schema light state.
type haState struct {
	State  string `json:"state"`
	Effect string `json:"effect,omitempty"`
}

// demo colors
var (
	demoRed    = []int{150, 0, 0, 100}
	demoYellow = []int{251, 236, 93, 100}
	demoBlue   = []int{0, 117, 228, 0}
)

const (
	demoHold          = 5 * time.Second
	demoFadeHold      = 3 * time.Second
	demoAlternateTime = 10 * time.Second
	demoBreath        = 600 * time.Millisecond
	demoBreathCycles  = 4
)

// Controller runs one command at a time against an engine. stop cancels the
// running command; off preempts it; anything else while busy gets
// animation.ErrBusy.
type Controller struct {
	mu      sync.Mutex
	engine  *animation.Engine
	presets *strip.Presets
	clock   animation.Clock

	cancel context.CancelFunc
	done   chan struct{}
	status Status

	publish func(topic string, retained bool, payload interface{}) error
	notify  func(messageType string, data interface{})
	log     zerolog.Logger
}

type ControllerOption func(*Controller)

// WithPublisher replaces the MQTT publisher.
func WithPublisher(fn func(topic string, retained bool, payload interface{}) error) ControllerOption {
	return func(c *Controller) { c.publish = fn }
}

// WithNotifier receives every status change, typically the websocket hub.
func WithNotifier(fn func(messageType string, data interface{})) ControllerOption {
	return func(c *Controller) { c.notify = fn }
}

func WithControllerClock(clock animation.Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

func NewController(engine *animation.Engine, presets *strip.Presets, opts ...ControllerOption) *Controller {
	c := &Controller{
		engine:  engine,
		presets: presets,
		clock:   animation.RealClock{},
		status:  Status{State: STATE_IDLE},
		publish: Publish,
		notify:  func(string, interface{}) {},
		log:     *ComponentLogger("controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.presets == nil {
		c.presets = strip.BuiltinPresets()
	}
	return c
}

// Status reports the last known state plus the live session, if any.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := c.status
	engine := c.engine
	c.mu.Unlock()
	if info, ok := engine.Current(); ok {
		st.Session = &info
	}
	return st
}

// Presets lists the preset names the controller can run.
func (c *Controller) Presets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presets.Names()
}

// Submit validates cmd and starts it in the background.
func (c *Controller) Submit(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if cmd.Interrupts() {
		c.Stop()
		if cmd.Action == ACTION_STOP {
			return nil
		}
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", cmd, animation.ErrBusy)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	engine := c.engine
	c.status = Status{State: STATE_RUNNING, Action: cmd.String(), Lit: c.status.Lit}
	c.mu.Unlock()

	c.log.Info().Msgf("starting %v", cmd)
	c.report(cmd)
	go func() {
		defer close(done)
		err := c.execute(ctx, engine, cmd)
		cancelled := ctx.Err() != nil
		cancel()
		c.finish(cmd, err, cancelled)
	}()
	return nil
}

// finish records the outcome and only then releases the controller, so Wait
// returns after the final status has been reported.
func (c *Controller) finish(cmd Command, err error, cancelled bool) {
	c.mu.Lock()
	if err != nil {
		c.status = Status{State: STATE_ERROR, Action: cmd.String(), Error: err.Error()}
	} else {
		c.status = Status{State: STATE_IDLE, Action: cmd.String(), Lit: !cancelled && leavesLit(cmd.Action)}
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.log.Error().Msgf("%v failed: %v", cmd, err)
	case cancelled:
		c.log.Info().Msgf("%v stopped", cmd)
	default:
		c.log.Info().Msgf("%v finished", cmd)
	}
	c.report(cmd)

	c.mu.Lock()
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
}

// leavesLit reports whether a completed action leaves the strip showing
// color. The others end with a shutoff.
func leavesLit(action string) bool {
	switch action {
	case ACTION_UNIFORM, ACTION_ALTERNATE, ACTION_PATTERN, ACTION_PRESET,
		ACTION_FADE_EVERY_OTHER:
		return true
	}
	return false
}

func (c *Controller) report(cmd Command) {
	st := c.Status()
	c.notify("status", st)
	if err := c.publish(Topic("status"), true, mustJSON(st)); err != nil {
		c.log.Debug().Msgf("status not published: %v", err)
	}
	ha := haState{State: "OFF"}
	if st.State == STATE_RUNNING || st.Lit {
		ha.State = "ON"
		if st.State == STATE_RUNNING && isEffect(cmd.Action) {
			ha.Effect = cmd.Action
		}
	}
	if err := c.publish(Topic("state"), true, mustJSON(ha)); err != nil {
		c.log.Debug().Msgf("state not published: %v", err)
	}
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		Logger.Error().Msgf("Error marshalling %T: %v", v, err)
		return ""
	}
	return string(data)
}

func isEffect(action string) bool {
	for _, e := range Effects() {
		if e == action {
			return true
		}
	}
	return false
}

// Stop cancels the running command and waits for its cleanup shutoff.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the running command, if any, has finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Replace swaps in a new engine and preset library after a config change.
// The running command is stopped first.
func (c *Controller) Replace(engine *animation.Engine, presets *strip.Presets) {
	c.Stop()
	c.mu.Lock()
	c.engine = engine
	if presets != nil {
		c.presets = presets
	}
	c.mu.Unlock()
}

func (c *Controller) execute(ctx context.Context, e *animation.Engine, cmd Command) error {
	switch cmd.Action {
	case ACTION_UNIFORM:
		return e.Uniform(ctx, cmd.Color)
	case ACTION_ALTERNATE:
		return e.Alternate(ctx, cmd.Color, cmd.Color2)
	case ACTION_ALTERNATE_LOOP:
		return e.AlternateLoop(ctx, cmd.Color, cmd.Color2, cmd.DurationValue())
	case ACTION_PATTERN:
		return e.Pattern(ctx, cmd.Motif)
	case ACTION_PRESET:
		c.mu.Lock()
		presets := c.presets
		c.mu.Unlock()
		motif, err := presets.Lookup(cmd.Preset, e.Len())
		if err != nil {
			return err
		}
		return e.Pattern(ctx, motif)
	case ACTION_FADE_EVERY_OTHER:
		return e.FadeEveryOther(ctx)
	case ACTION_GROW:
		return e.Grow(ctx, cmd.Color)
	case ACTION_CHASE:
		return e.Chase(ctx, cmd.Color)
	case ACTION_BREATHE:
		return e.Breathe(ctx, cmd.Fade, cmd.DurationValue())
	case ACTION_BREATHE_LOOP:
		return animation.BreatheLoop(ctx, e, cmd.Fade, cmd.DurationValue(), cmd.Cycles)
	case ACTION_OFF:
		return e.Off(ctx)
	case ACTION_DEMO:
		return c.demo(ctx, e)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
}

// hold keeps the strip as it is for d. Being cancelled is not an error here;
// the caller notices and shuts the strip off.
func (c *Controller) hold(d time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := c.clock.Sleep(ctx, d); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

// demo replays the showcase sequence: a held uniform color, an alternating
// loop, the rainbow, every other pixel faded, grow, chase and a few breaths.
func (c *Controller) demo(ctx context.Context, e *animation.Engine) error {
	rainbow, err := strip.BuiltinPresets().Lookup("rainbow", e.Len())
	if err != nil {
		return err
	}
	steps := []func(ctx context.Context) error{
		func(ctx context.Context) error { return e.Uniform(ctx, demoRed) },
		c.hold(demoHold),
		e.Off,
		func(ctx context.Context) error {
			return e.AlternateLoop(ctx, demoYellow, demoBlue, demoAlternateTime)
		},
		func(ctx context.Context) error { return e.Pattern(ctx, rainbow) },
		func(ctx context.Context) error { return e.Uniform(ctx, demoRed) },
		e.FadeEveryOther,
		c.hold(demoFadeHold),
		e.Off,
		func(ctx context.Context) error { return e.Grow(ctx, demoRed) },
		func(ctx context.Context) error { return e.Chase(ctx, demoRed) },
		func(ctx context.Context) error { return e.Uniform(ctx, demoRed) },
		func(ctx context.Context) error {
			return animation.BreatheLoop(ctx, e, true, demoBreath, demoBreathCycles)
		},
		e.Off,
	}
	for i, step := range steps {
		if err := step(ctx); err != nil {
			return fmt.Errorf("demo step %d: %w", i, err)
		}
		if ctx.Err() != nil {
			// A hold, or a step that finished just before the cancel, leaves
			// the strip lit. Off is idempotent so it is always sent.
			if offErr := e.Off(context.WithoutCancel(ctx)); offErr != nil {
				return fmt.Errorf("demo shutoff: %w", offErr)
			}
			return nil
		}
	}
	return nil
}

package util

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elijahnyp/strip_controller/strip"
)

const ( // actions
	ACTION_UNIFORM          = "uniform"
	ACTION_ALTERNATE        = "alternate"
	ACTION_ALTERNATE_LOOP   = "alternate_loop"
	ACTION_PATTERN          = "pattern"
	ACTION_PRESET           = "preset"
	ACTION_FADE_EVERY_OTHER = "fade_every_other"
	ACTION_GROW             = "grow"
	ACTION_CHASE            = "chase"
	ACTION_BREATHE          = "breathe"
	ACTION_BREATHE_LOOP     = "breathe_loop"
	ACTION_OFF              = "off"
	ACTION_STOP             = "stop"
	ACTION_DEMO             = "demo"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrMissingField   = errors.New("missing field")
	ErrInvalidCommand = errors.New("invalid command")
)

// DefaultColor is used when a Home Assistant command turns the strip on
// without choosing a color.
var DefaultColor = []int{0, 0, 0, 255}

const DefaultDuration = 10 * time.Second

var knownActions = map[string]bool{
	ACTION_UNIFORM: true, ACTION_ALTERNATE: true, ACTION_ALTERNATE_LOOP: true,
	ACTION_PATTERN: true, ACTION_PRESET: true, ACTION_FADE_EVERY_OTHER: true,
	ACTION_GROW: true, ACTION_CHASE: true, ACTION_BREATHE: true,
	ACTION_BREATHE_LOOP: true, ACTION_OFF: true, ACTION_STOP: true, ACTION_DEMO: true,
}

// Effects are the actions offered to Home Assistant as light effects.
func Effects() []string {
	return []string{
		ACTION_GROW, ACTION_CHASE, ACTION_BREATHE, ACTION_BREATHE_LOOP,
		ACTION_ALTERNATE_LOOP, ACTION_FADE_EVERY_OTHER, ACTION_DEMO,
	}
}

// ColorValue is a four channel color that unmarshals from either [r,g,b,w]
// or a "#RRGGBB" / "#RRGGBBWW" string.
type ColorValue []int

func (c *ColorValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strip.ParseHex(s)
		if err != nil {
			return err
		}
		*c = v
		return nil
	}
	var v []int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = v
	return nil
}

// Command is one request to the controller, shared by MQTT and HTTP.
type Command struct {
	Action   string     `json:"action"`
	Color    ColorValue `json:"color,omitempty"`
	Color2   ColorValue `json:"color2,omitempty"`
	Motif    []int      `json:"motif,omitempty"`
	Preset   string     `json:"preset,omitempty"`
	Duration float64    `json:"duration,omitempty"` // seconds
	Fade     bool       `json:"fade,omitempty"`
	Cycles   int        `json:"cycles,omitempty"`
}

func (c Command) DurationValue() time.Duration {
	return time.Duration(c.Duration * float64(time.Second))
}

// Interrupts reports whether the command may preempt a running animation.
func (c Command) Interrupts() bool {
	return c.Action == ACTION_STOP || c.Action == ACTION_OFF
}

func (c Command) String() string {
	if c.Preset != "" {
		return c.Action + ":" + c.Preset
	}
	return c.Action
}

func missing(action, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMissingField, action, field)
}

// Validate checks that the command names a known action and carries what
// that action needs. Colors are range checked here so a bad request never
// reaches the engine.
func (c Command) Validate() error {
	if !knownActions[c.Action] {
		return fmt.Errorf("%w: %q", ErrUnknownAction, c.Action)
	}
	needColor := func(name string, v ColorValue) error {
		if v == nil {
			return missing(c.Action, name)
		}
		return strip.ValidateColor(v)
	}
	needDuration := func() error {
		if c.Duration <= 0 {
			return missing(c.Action, "a positive duration")
		}
		return nil
	}
	switch c.Action {
	case ACTION_UNIFORM, ACTION_GROW, ACTION_CHASE:
		return needColor("color", c.Color)
	case ACTION_ALTERNATE:
		if err := needColor("color", c.Color); err != nil {
			return err
		}
		return needColor("color2", c.Color2)
	case ACTION_ALTERNATE_LOOP:
		if err := needColor("color", c.Color); err != nil {
			return err
		}
		if err := needColor("color2", c.Color2); err != nil {
			return err
		}
		return needDuration()
	case ACTION_PATTERN:
		if len(c.Motif) == 0 {
			return missing(c.Action, "motif")
		}
		if len(c.Motif)%strip.Channels != 0 {
			return fmt.Errorf("%w: %d values", strip.ErrInvalidMotifLength, len(c.Motif))
		}
	case ACTION_PRESET:
		if strings.TrimSpace(c.Preset) == "" {
			return missing(c.Action, "preset")
		}
	case ACTION_BREATHE:
		return needDuration()
	case ACTION_BREATHE_LOOP:
		if c.Cycles < 0 {
			return fmt.Errorf("%w: cycles must not be negative", ErrInvalidCommand)
		}
		return needDuration()
	}
	return nil
}

type haColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
	W int `json:"w"`
}

type haCommand struct {
	State  string   `json:"state"`
	Effect string   `json:"effect"`
	Color  *haColor `json:"color"`
}

func (h haCommand) toCommand() Command {
	if strings.EqualFold(h.State, "OFF") {
		return Command{Action: ACTION_OFF}
	}
	color := ColorValue(append([]int(nil), DefaultColor...))
	if h.Color != nil {
		color = ColorValue{h.Color.R, h.Color.G, h.Color.B, h.Color.W}
	}
	cmd := Command{Action: ACTION_UNIFORM, Color: color}
	if h.Effect != "" {
		cmd.Action = h.Effect
		cmd.Duration = DefaultDuration.Seconds()
		cmd.Color2 = strip.Dark()
		cmd.Fade = true
	}
	return cmd
}

// ParseCommand decodes a command payload. It accepts the native JSON model,
// a Home Assistant JSON-schema light command, or a bare action word such as
// "off". The result is validated.
func ParseCommand(payload []byte) (Command, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return Command{}, fmt.Errorf("%w: empty payload", ErrInvalidCommand)
	}
	var cmd Command
	if payload[0] != '{' {
		cmd.Action = strings.ToLower(strings.Trim(string(payload), `"`))
	} else {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(payload, &probe); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		_, hasAction := probe["action"]
		_, hasState := probe["state"]
		if hasState && !hasAction {
			var ha haCommand
			if err := json.Unmarshal(payload, &ha); err != nil {
				return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
			}
			cmd = ha.toCommand()
		} else if err := json.Unmarshal(payload, &cmd); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
	}
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// PresetCommand builds the command for a bare preset name.
func PresetCommand(name string) (Command, error) {
	cmd := Command{Action: ACTION_PRESET, Preset: strings.TrimSpace(name)}
	return cmd, cmd.Validate()
}

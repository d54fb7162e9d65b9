package strip

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrUnknownPreset = errors.New("unknown preset")

// hueWheelPrefix names generated presets, e.g. "hue_wheel:12".
const hueWheelPrefix = "hue_wheel:"

// Preset is a named motif. Exactly one of Motif or Colors is set; Colors are
// "#RRGGBB" / "#RRGGBBWW" strings.
type Preset struct {
	Name   string   `yaml:"name" json:"name"`
	Motif  []int    `yaml:"motif,omitempty" json:"motif,omitempty"`
	Colors []string `yaml:"colors,omitempty" json:"colors,omitempty"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// Presets is a library of named motifs.
type Presets struct {
	byName map[string][]int
}

var builtin = []Preset{
	{Name: "default", Motif: []int{77, 77, 77, 77}},
	{Name: "pink", Motif: []int{150, 0, 0, 100}},
	{Name: "st_patrick", Motif: []int{0, 255, 0, 0}},
	{Name: "independence", Motif: []int{0, 0, 255, 0, 255, 0, 0, 0, 0, 0, 0, 255}},
	{Name: "halloween", Motif: []int{77, 0, 99, 0, 255, 130, 0, 0}},
	{Name: "thanksgiving", Motif: []int{255, 130, 0, 0, 33, 22, 22, 0}},
	{Name: "christmas", Motif: []int{0, 200, 0, 33, 0, 0, 0, 220, 244, 0, 0, 0}},
	{Name: "rainbow", Motif: []int{
		255, 0, 0, 0, 255, 165, 0, 0,
		255, 255, 0, 0, 0, 128, 0, 0,
		0, 100, 100, 0, 0, 0, 255, 0, 148, 0, 211, 0,
	}},
}

// BuiltinPresets returns the library shipped with the controller.
func BuiltinPresets() *Presets {
	p := &Presets{byName: make(map[string][]int)}
	for _, pr := range builtin {
		if err := p.Add(pr); err != nil {
			panic(err)
		}
	}
	return p
}

// LoadPresets reads a YAML preset file on top of the built-in library.
// Presets in the file replace built-ins of the same name.
func LoadPresets(path string) (*Presets, error) {
	p := BuiltinPresets()
	b, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	var f presetFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return p, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, pr := range f.Presets {
		if err := p.Add(pr); err != nil {
			return p, fmt.Errorf("%s: %w", path, err)
		}
	}
	return p, nil
}

// Add registers pr, replacing any preset of the same name.
func (p *Presets) Add(pr Preset) error {
	name := strings.ToLower(strings.TrimSpace(pr.Name))
	if name == "" {
		return errors.New("preset has no name")
	}
	motif := pr.Motif
	if len(pr.Colors) > 0 {
		if len(motif) > 0 {
			return fmt.Errorf("preset %q: set motif or colors, not both", name)
		}
		for _, c := range pr.Colors {
			px, err := ParseHex(c)
			if err != nil {
				return fmt.Errorf("preset %q: %w", name, err)
			}
			motif = append(motif, px...)
		}
	}
	if len(motif) == 0 || len(motif)%Channels != 0 {
		return fmt.Errorf("preset %q: %w", name, invalid(ErrInvalidMotifLength, motif, -1))
	}
	if err := checkRange(motif); err != nil {
		return fmt.Errorf("preset %q: %w", name, err)
	}
	p.byName[name] = append([]int(nil), motif...)
	return nil
}

// Lookup returns the motif for name, validated against a strip of n pixels.
func (p *Presets) Lookup(name string, n int) ([]int, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	var motif []int
	if rest, ok := strings.CutPrefix(name, hueWheelPrefix); ok {
		k, err := strconv.Atoi(rest)
		if err != nil || k <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
		}
		motif = HueWheel(k)
	} else {
		m, ok := p.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
		}
		motif = append([]int(nil), m...)
	}
	if err := ValidateMotif(motif, n); err != nil {
		return nil, fmt.Errorf("preset %q: %w", name, err)
	}
	return motif, nil
}

// Names lists the registered presets in order.
func (p *Presets) Names() []string {
	names := make([]string, 0, len(p.byName))
	for name := range p.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

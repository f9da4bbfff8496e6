// Package colors maps flight categories to LED colors.
package colors

import (
	"fmt"
	"strings"

	"github.com/kjstillabower/metar-led-map/internal/flightcat"
)

// Color is a 3-channel value in logical RGB order.
type Color struct {
	R, G, B uint8
}

// Off is the background color for unassigned LEDs.
var Off = Color{}

// Pair holds the day (high intensity) and night (low intensity) variants.
type Pair struct {
	Day   Color
	Night Color
}

// defaults is never mutated; DefaultPalette hands out copies.
var defaults = map[flightcat.Category]Pair{
	flightcat.VFR:     {Day: Color{0, 140, 0}, Night: Color{0, 45, 0}},
	flightcat.MVFR:    {Day: Color{0, 0, 140}, Night: Color{0, 0, 45}},
	flightcat.IFR:     {Day: Color{140, 0, 0}, Night: Color{45, 0, 0}},
	flightcat.LIFR:    {Day: Color{120, 0, 80}, Night: Color{64, 0, 64}},
	flightcat.Unknown: {Day: Color{100, 100, 100}, Night: Color{50, 50, 50}},
}

// Default returns the built-in pair for cat; unrecognized categories get the Unknown pair.
func Default(cat flightcat.Category) Pair {
	if p, ok := defaults[cat]; ok {
		return p
	}
	return defaults[flightcat.Unknown]
}

// Override replaces individual variants of a category. Nil fields keep the default.
type Override struct {
	Day   *Color
	Night *Color
}

// Palette is a two-tier lookup: overrides first, then the built-in defaults.
type Palette struct {
	overrides map[flightcat.Category]Override
}

// DefaultPalette returns a palette with no overrides.
func DefaultPalette() Palette {
	return Palette{}
}

// NewPalette returns a palette layering overrides over the defaults.
func NewPalette(overrides map[flightcat.Category]Override) Palette {
	p := Palette{overrides: make(map[flightcat.Category]Override, len(overrides))}
	for k, v := range overrides {
		p.overrides[k] = v
	}
	return p
}

// Pair returns the merged day/night pair for cat.
func (p Palette) Pair(cat flightcat.Category) Pair {
	pair := Default(cat)
	ov, ok := p.overrides[cat]
	if !ok {
		return pair
	}
	if ov.Day != nil {
		pair.Day = *ov.Day
	}
	if ov.Night != nil {
		pair.Night = *ov.Night
	}
	return pair
}

// ColorFor returns the night variant when isNight, else the day variant.
func (p Palette) ColorFor(cat flightcat.Category, isNight bool) Color {
	pair := p.Pair(cat)
	if isNight {
		return pair.Night
	}
	return pair.Day
}

// ChannelOrder is the byte order a particular LED string expects on the wire.
type ChannelOrder string

const (
	RGB ChannelOrder = "rgb"
	GRB ChannelOrder = "grb"
)

// ParseChannelOrder accepts "rgb" or "grb" in any case.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch ChannelOrder(strings.ToLower(strings.TrimSpace(s))) {
	case RGB:
		return RGB, nil
	case GRB:
		return GRB, nil
	}
	return "", fmt.Errorf("unknown channel order %q", s)
}

// Bytes returns c in the given wire order.
func (o ChannelOrder) Bytes(c Color) [3]byte {
	if o == GRB {
		return [3]byte{c.G, c.R, c.B}
	}
	return [3]byte{c.R, c.G, c.B}
}

// Scale applies a 0..255 brightness to each channel.
func (c Color) Scale(brightness uint8) Color {
	if brightness == 255 {
		return c
	}
	s := func(v uint8) uint8 { return uint8(uint16(v) * uint16(brightness) / 255) }
	return Color{R: s(c.R), G: s(c.G), B: s(c.B)}
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

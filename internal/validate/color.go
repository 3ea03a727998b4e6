package validate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Color is an RGBA color with 8-bit channels
type Color struct {
	R, G, B, A uint8
}

// Hex formats the color as #rrggbb, or #rrggbbaa when not fully opaque
func (c Color) Hex() string {
	if c.A == 0xff {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

var (
	hexColorRe  = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	rgbColorRe  = regexp.MustCompile(`^rgb\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*\)$`)
	rgbaColorRe = regexp.MustCompile(`^rgba\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*([01](?:\.\d+)?|\.\d+)\s*\)$`)
)

// ParseColor accepts #rgb, #rgba, #rrggbb, #rrggbbaa, rgb(r,g,b) and
// rgba(r,g,b,a) with integer channels 0-255 and alpha 0.0-1.0.
func ParseColor(value string) (Color, error) {
	if m := hexColorRe.FindStringSubmatch(value); m != nil {
		return parseHex(m[1]), nil
	}

	if m := rgbColorRe.FindStringSubmatch(value); m != nil {
		r, g, b, err := parseChannels(value, m[1], m[2], m[3])
		if err != nil {
			return Color{}, err
		}
		return Color{R: r, G: g, B: b, A: 0xff}, nil
	}

	if m := rgbaColorRe.FindStringSubmatch(value); m != nil {
		r, g, b, err := parseChannels(value, m[1], m[2], m[3])
		if err != nil {
			return Color{}, err
		}
		alpha, err := strconv.ParseFloat(m[4], 64)
		if err != nil || alpha < 0 || alpha > 1 {
			return Color{}, newError(InvalidFormat, value, "alpha must be between 0.0 and 1.0")
		}
		return Color{R: r, G: g, B: b, A: uint8(math.Round(alpha * 255))}, nil
	}

	return Color{}, newError(InvalidFormat, value, "not a hex, rgb() or rgba() color")
}

func parseHex(digits string) Color {
	if len(digits) == 3 || len(digits) == 4 {
		var b strings.Builder
		for _, d := range digits {
			b.WriteRune(d)
			b.WriteRune(d)
		}
		digits = b.String()
	}
	if len(digits) == 6 {
		digits += "ff"
	}
	v, _ := strconv.ParseUint(digits, 16, 32) //nolint:errcheck // regexp guarantees hex digits
	return Color{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}
}

func parseChannels(value string, rs, gs, bs string) (uint8, uint8, uint8, error) {
	var out [3]uint8
	for i, s := range []string{rs, gs, bs} {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 255 {
			return 0, 0, 0, newError(InvalidFormat, value, fmt.Sprintf("channel %q out of range 0-255", s))
		}
		out[i] = uint8(n)
	}
	return out[0], out[1], out[2], nil
}

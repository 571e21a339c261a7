package style

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// Transparent is the colour value that hides a fill or stroke.
const Transparent = "rgba(0,0,0,0)"

// ParseColor understands #rgb, #rgba, #rrggbb, #rrggbbaa, rgb(), rgba(),
// "transparent" and the CSS colour keywords.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return color.NRGBA{}, fmt.Errorf("empty colour")
	case s == "transparent":
		return color.NRGBA{}, nil
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:])
	case strings.HasPrefix(s, "rgba(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[5:len(s)-1], true)
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[4:len(s)-1], false)
	}
	if c, ok := colornames.Map[s]; ok {
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}, nil
	}
	return color.NRGBA{}, fmt.Errorf("unknown colour %q", s)
}

// IsTransparent reports whether s parses to a colour with zero alpha.
func IsTransparent(s string) bool {
	if s == "" {
		return false
	}
	c, err := ParseColor(s)
	return err == nil && c.A == 0
}

func parseHex(h string) (color.NRGBA, error) {
	if len(h) == 3 || len(h) == 4 {
		var b strings.Builder
		for _, r := range h {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		h = b.String()
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("bad hex colour %q", h)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("bad hex colour %q: %w", h, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func parseFunc(args string, alpha bool) (color.NRGBA, error) {
	parts := strings.Split(args, ",")
	want := 3
	if alpha {
		want = 4
	}
	if len(parts) != want {
		return color.NRGBA{}, fmt.Errorf("want %d colour components, got %d", want, len(parts))
	}
	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		p := strings.TrimSpace(parts[i])
		var v float64
		var err error
		if strings.HasSuffix(p, "%") {
			v, err = strconv.ParseFloat(strings.TrimSuffix(p, "%"), 64)
			v = v * 255 / 100
		} else {
			v, err = strconv.ParseFloat(p, 64)
		}
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("bad colour component %q: %w", p, err)
		}
		rgb[i] = clampByte(v)
	}
	a := uint8(255)
	if alpha {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("bad alpha %q: %w", parts[3], err)
		}
		a = clampByte(v * 255)
	}
	return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: a}, nil
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

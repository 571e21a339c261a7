package tile

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

const (
	// Size is the base edge length of a raster tile in pixels.
	Size     = 256
	maxLevel = 30
)

var (
	ErrMissingURL = errors.New("tile: url template is empty")
	ErrOutOfRange = errors.New("tile: coordinates out of range")
)

// Coordinates addresses a tile in the quadtree pyramid.
type Coordinates struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Level int `json:"level"`
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Level, c.X, c.Y)
}

// Validate reports ErrOutOfRange when the address does not exist at its level.
func (c Coordinates) Validate() error {
	if c.Level < 0 || c.Level > maxLevel {
		return fmt.Errorf("%w: level %d", ErrOutOfRange, c.Level)
	}
	n := 1 << uint(c.Level)
	if c.X < 0 || c.Y < 0 || c.X >= n || c.Y >= n {
		return fmt.Errorf("%w: %s", ErrOutOfRange, c)
	}
	return nil
}

func (c Coordinates) MapTile() maptile.Tile {
	return maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Level))
}

// BuildURL percent-decodes the template and substitutes the {z}, {x} and {y} tokens.
func BuildURL(template string, c Coordinates) (string, error) {
	if template == "" {
		return "", ErrMissingURL
	}
	decoded, err := url.PathUnescape(template)
	if err != nil {
		return "", fmt.Errorf("decode url template: %w", err)
	}
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(c.Level),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
	)
	return r.Replace(decoded), nil
}

package dispatch

import (
	"time"

	"mvtview/internal/tile_renderer"
)

// Options is the plain data a pool worker needs to build a renderer.
type Options struct {
	URLTemplate        string
	LayerNames         []string
	MaximumNativeLevel int
	PointHitRadius     float64
	LineHitWidth       float64
	FetchTimeout       time.Duration
}

type messageKind int

const (
	kindInit messageKind = iota
	kindRender
	kindPick
)

func (k messageKind) String() string {
	switch k {
	case kindInit:
		return "init"
	case kindRender:
		return "render"
	case kindPick:
		return "pick"
	default:
		return "unknown"
	}
}

// message is a request to a pool worker. The render surface is owned by the
// worker until the matching response arrives.
type message struct {
	Kind    messageKind
	ID      string
	Options Options
	Render  tile_renderer.RenderRequest
	Pick    tile_renderer.PickRequest

	reply chan<- response
	done  <-chan struct{}
}

type responseKind int

const (
	respOK responseKind = iota
	respError
	respPickResult
)

type response struct {
	Kind     responseKind
	ID       string
	Error    string
	Features []tile_renderer.FeatureInfo
}

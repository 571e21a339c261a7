package style

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Layer is a declarative style definition for one set of vector layers.
// Appearance blocks apply to every feature of their kind; rules override them
// for features whose property matches.
type Layer struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name,omitempty" json:"name,omitempty"`
	Polygon  *Polygon  `yaml:"polygon,omitempty" json:"polygon,omitempty"`
	Polyline *Polyline `yaml:"polyline,omitempty" json:"polyline,omitempty"`
	Marker   *Marker   `yaml:"marker,omitempty" json:"marker,omitempty"`
	Rules    []Rule    `yaml:"rules,omitempty" json:"rules,omitempty"`

	key string
}

// Key identifies the layer by id and content, so replacing a layer under
// the same id gives a different key. A nil layer has the empty key.
func (l *Layer) Key() string {
	if l == nil {
		return ""
	}
	if strings.HasPrefix(l.key, l.ID+"@") {
		return l.key
	}
	return l.contentKey()
}

func (l *Layer) contentKey() string {
	b, err := json.Marshal(l)
	if err != nil {
		return l.ID
	}
	sum := sha256.Sum256(b)
	return l.ID + "@" + hex.EncodeToString(sum[:8])
}

type Polygon struct {
	Show        *bool    `yaml:"show,omitempty" json:"show,omitempty"`
	Fill        *bool    `yaml:"fill,omitempty" json:"fill,omitempty"`
	FillColor   string   `yaml:"fillColor,omitempty" json:"fillColor,omitempty"`
	Stroke      *bool    `yaml:"stroke,omitempty" json:"stroke,omitempty"`
	StrokeColor string   `yaml:"strokeColor,omitempty" json:"strokeColor,omitempty"`
	StrokeWidth *float64 `yaml:"strokeWidth,omitempty" json:"strokeWidth,omitempty"`
	LineJoin    string   `yaml:"lineJoin,omitempty" json:"lineJoin,omitempty"`
}

type Polyline struct {
	Show        *bool    `yaml:"show,omitempty" json:"show,omitempty"`
	StrokeColor string   `yaml:"strokeColor,omitempty" json:"strokeColor,omitempty"`
	StrokeWidth *float64 `yaml:"strokeWidth,omitempty" json:"strokeWidth,omitempty"`
}

type Marker struct {
	Show       *bool    `yaml:"show,omitempty" json:"show,omitempty"`
	PointColor string   `yaml:"pointColor,omitempty" json:"pointColor,omitempty"`
	PointSize  *float64 `yaml:"pointSize,omitempty" json:"pointSize,omitempty"`
}

// Rule matches features whose FilterProp equals FilterValue. An empty
// FilterValue matches any feature that has the property.
type Rule struct {
	FilterProp  string    `yaml:"filterProp" json:"filterProp"`
	FilterValue string    `yaml:"filterValue,omitempty" json:"filterValue,omitempty"`
	Polygon     *Polygon  `yaml:"polygon,omitempty" json:"polygon,omitempty"`
	Polyline    *Polyline `yaml:"polyline,omitempty" json:"polyline,omitempty"`
	Marker      *Marker   `yaml:"marker,omitempty" json:"marker,omitempty"`
}

func (r Rule) matches(props map[string]any) bool {
	v, ok := props[r.FilterProp]
	if !ok {
		return false
	}
	return r.FilterValue == "" || fmt.Sprint(v) == r.FilterValue
}

// Computed is the evaluated appearance of one feature.
type Computed struct {
	Polygon  *Polygon  `json:"polygon,omitempty"`
	Polyline *Polyline `json:"polyline,omitempty"`
	Marker   *Marker   `json:"marker,omitempty"`
}

// Evaluate merges the base appearance with the first matching rule.
func (l *Layer) Evaluate(props map[string]any) Computed {
	c := Computed{
		Polygon:  clonePolygon(l.Polygon),
		Polyline: clonePolyline(l.Polyline),
		Marker:   cloneMarker(l.Marker),
	}
	for _, r := range l.Rules {
		if !r.matches(props) {
			continue
		}
		c.Polygon = mergePolygon(c.Polygon, r.Polygon)
		c.Polyline = mergePolyline(c.Polyline, r.Polyline)
		c.Marker = mergeMarker(c.Marker, r.Marker)
		break
	}
	return c
}

// LoadLayer reads a YAML style layer.
func LoadLayer(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read style layer: %w", err)
	}
	return ParseLayer(data)
}

func ParseLayer(data []byte) (*Layer, error) {
	var l Layer
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse style layer: %w", err)
	}
	l.key = l.contentKey()
	return &l, nil
}

func clonePolygon(p *Polygon) *Polygon {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func clonePolyline(p *Polyline) *Polyline {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneMarker(m *Marker) *Marker {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

func mergePolygon(base, over *Polygon) *Polygon {
	if over == nil {
		return base
	}
	if base == nil {
		return clonePolygon(over)
	}
	if over.Show != nil {
		base.Show = over.Show
	}
	if over.Fill != nil {
		base.Fill = over.Fill
	}
	if over.FillColor != "" {
		base.FillColor = over.FillColor
	}
	if over.Stroke != nil {
		base.Stroke = over.Stroke
	}
	if over.StrokeColor != "" {
		base.StrokeColor = over.StrokeColor
	}
	if over.StrokeWidth != nil {
		base.StrokeWidth = over.StrokeWidth
	}
	if over.LineJoin != "" {
		base.LineJoin = over.LineJoin
	}
	return base
}

func mergePolyline(base, over *Polyline) *Polyline {
	if over == nil {
		return base
	}
	if base == nil {
		return clonePolyline(over)
	}
	if over.Show != nil {
		base.Show = over.Show
	}
	if over.StrokeColor != "" {
		base.StrokeColor = over.StrokeColor
	}
	if over.StrokeWidth != nil {
		base.StrokeWidth = over.StrokeWidth
	}
	return base
}

func mergeMarker(base, over *Marker) *Marker {
	if over == nil {
		return base
	}
	if base == nil {
		return cloneMarker(over)
	}
	if over.Show != nil {
		base.Show = over.Show
	}
	if over.PointColor != "" {
		base.PointColor = over.PointColor
	}
	if over.PointSize != nil {
		base.PointSize = over.PointSize
	}
	return base
}

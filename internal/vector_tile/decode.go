package vector_tile

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
)

var ErrEmptyTile = errors.New("vector_tile: empty tile data")

var gzipMagic = []byte{0x1f, 0x8b}

// View is the transient result of decoding. Geometry still belongs to the
// decoder; call Snapshot before caching or handing it to another goroutine.
type View struct {
	layers mvt.Layers
	ids    [][]uint64

	// Skipped lists the features dropped for an unreadable geometry type.
	Skipped []SkippedFeature
}

// Decode parses raw or gzip-compressed MVT bytes. Features with an unknown
// geometry type are dropped and listed in View.Skipped; the rest of their
// layer is kept.
func Decode(data []byte) (*View, error) {
	if len(data) == 0 {
		return nil, ErrEmptyTile
	}

	if bytes.HasPrefix(data, gzipMagic) {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gunzip mvt: %w", err)
		}
		data, err = io.ReadAll(gz)
		gz.Close()
		if err != nil {
			return nil, fmt.Errorf("gunzip mvt: %w", err)
		}
	}

	scan, err := scanTile(data)
	if err != nil {
		return nil, err
	}
	layers, err := mvt.Unmarshal(scan.data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal mvt: %w", err)
	}
	return &View{layers: layers, ids: scan.ids, Skipped: scan.skipped}, nil
}

func (v *View) LayerNames() []string {
	names := make([]string, 0, len(v.layers))
	for _, l := range v.layers {
		names = append(names, l.Name)
	}
	return names
}

// Snapshot copies every layer out of the view. Rings and bounds are computed
// once here and never change afterwards.
func (v *View) Snapshot() *Tile {
	t := &Tile{Layers: make(map[string]*Layer, len(v.layers))}
	for li, l := range v.layers {
		var exact []uint64
		if li < len(v.ids) && len(v.ids[li]) == len(l.Features) {
			exact = v.ids[li]
		}
		extent := int(l.Extent)
		if extent == 0 {
			extent = DefaultExtent
		}
		layer := &Layer{
			Name:     l.Name,
			Extent:   extent,
			Version:  int(l.Version),
			Features: make([]*Feature, 0, len(l.Features)),
		}
		for fi, f := range l.Features {
			kind, rings := ringsOf(f.Geometry)
			feature := &Feature{
				ID:         featureID(f.ID),
				Kind:       kind,
				Rings:      rings,
				Properties: maps.Clone(map[string]any(f.Properties)),
			}
			if f.Geometry != nil {
				feature.GeometryType = f.Geometry.GeoJSONType()
				feature.Bound = f.Geometry.Bound()
			}
			if exact != nil {
				feature.ID = exact[fi]
			}
			if feature.Properties == nil {
				feature.Properties = map[string]any{}
			}
			layer.Features = append(layer.Features, feature)
		}
		t.Layers[l.Name] = layer
	}
	return t
}

// DecodeTile decodes and snapshots in one step.
func DecodeTile(data []byte) (*Tile, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return v.Snapshot(), nil
}

func ringsOf(g orb.Geometry) (Kind, []orb.Ring) {
	switch g := g.(type) {
	case orb.Point:
		return KindPoint, []orb.Ring{{g}}
	case orb.MultiPoint:
		rings := make([]orb.Ring, 0, len(g))
		for _, p := range g {
			rings = append(rings, orb.Ring{p})
		}
		return KindPoint, rings
	case orb.LineString:
		return KindLineString, []orb.Ring{orb.Ring(slices.Clone(g))}
	case orb.MultiLineString:
		rings := make([]orb.Ring, 0, len(g))
		for _, ls := range g {
			rings = append(rings, orb.Ring(slices.Clone(ls)))
		}
		return KindLineString, rings
	case orb.Polygon:
		rings := make([]orb.Ring, 0, len(g))
		for _, r := range g {
			rings = append(rings, slices.Clone(r))
		}
		return KindPolygon, rings
	case orb.MultiPolygon:
		var rings []orb.Ring
		for _, p := range g {
			for _, r := range p {
				rings = append(rings, slices.Clone(r))
			}
		}
		return KindPolygon, rings
	default:
		return KindUnknown, nil
	}
}

// featureID converts the decoder's id, a float64 for MVT input. Snapshot
// prefers the exact ids from the pre-scan.
func featureID(id any) uint64 {
	switch v := id.(type) {
	case uint64:
		return v
	case int64:
		if v > 0 {
			return uint64(v)
		}
	case int:
		if v > 0 {
			return uint64(v)
		}
	case float64:
		if v > 0 {
			return uint64(v)
		}
	case uint32:
		return uint64(v)
	}
	return 0
}

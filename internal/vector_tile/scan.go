package vector_tile

import (
	"encoding/binary"
	"fmt"

	"github.com/paulmach/protoscan"
)

// Field numbers from the vector tile protobuf schema.
const (
	tileLayerField   = 3
	layerNameField   = 1
	layerFeatField   = 2
	featureIDField   = 1
	featureTypeField = 3
)

// SkippedFeature is a feature left out of a decoded tile because its
// geometry type is not point, linestring or polygon.
type SkippedFeature struct {
	Layer        string
	ID           uint64
	GeometryType uint32
}

// scanned is the result of a pre-decode pass over a tile.
type scanned struct {
	// data has the unreadable features removed. It is the input slice when
	// nothing was removed.
	data    []byte
	skipped []SkippedFeature
	// ids holds the exact feature ids of each layer, in message order.
	ids [][]uint64
}

// scanTile drops the features whose geometry type the decoder cannot read,
// so one bad feature does not fail the whole tile, and records feature ids
// at full uint64 precision.
func scanTile(data []byte) (*scanned, error) {
	var (
		out     []byte
		skipped []SkippedFeature
		ids     [][]uint64
	)

	msg := protoscan.New(data)
	for {
		start := msg.Index
		if !msg.Next() {
			break
		}
		if msg.FieldNumber() != tileLayerField || msg.WireType() != protoscan.WireTypeLengthDelimited {
			msg.Skip()
			if msg.Err() != nil {
				return nil, fmt.Errorf("scan tile: %w", msg.Err())
			}
			out = append(out, data[start:msg.Index]...)
			continue
		}

		layer, err := msg.MessageData()
		if err != nil {
			return nil, fmt.Errorf("scan tile: %w", err)
		}
		kept, layerIDs, dropped, err := filterLayer(layer)
		if err != nil {
			return nil, err
		}
		ids = append(ids, layerIDs)
		if len(dropped) == 0 {
			out = append(out, data[start:msg.Index]...)
			continue
		}
		skipped = append(skipped, dropped...)
		out = appendMessage(out, tileLayerField, kept)
	}
	if msg.Err() != nil {
		return nil, fmt.Errorf("scan tile: %w", msg.Err())
	}

	if len(skipped) == 0 {
		out = data
	}
	return &scanned{data: out, skipped: skipped, ids: ids}, nil
}

func filterLayer(data []byte) ([]byte, []uint64, []SkippedFeature, error) {
	var (
		out     []byte
		name    string
		ids     []uint64
		skipped []SkippedFeature
	)

	msg := protoscan.New(data)
	for {
		start := msg.Index
		if !msg.Next() {
			break
		}
		switch {
		case msg.FieldNumber() == layerNameField && msg.WireType() == protoscan.WireTypeLengthDelimited:
			s, err := msg.String()
			if err != nil {
				return nil, nil, nil, fmt.Errorf("scan layer name: %w", err)
			}
			name = s
		case msg.FieldNumber() == layerFeatField && msg.WireType() == protoscan.WireTypeLengthDelimited:
			feature, err := msg.MessageData()
			if err != nil {
				return nil, nil, nil, fmt.Errorf("scan feature: %w", err)
			}
			id, geomType, err := featureHeader(feature)
			if err != nil {
				return nil, nil, nil, err
			}
			if geomType < 1 || geomType > 3 {
				skipped = append(skipped, SkippedFeature{ID: id, GeometryType: geomType})
				continue
			}
			ids = append(ids, id)
		default:
			msg.Skip()
			if msg.Err() != nil {
				return nil, nil, nil, fmt.Errorf("scan layer: %w", msg.Err())
			}
		}
		out = append(out, data[start:msg.Index]...)
	}
	if msg.Err() != nil {
		return nil, nil, nil, fmt.Errorf("scan layer: %w", msg.Err())
	}

	for i := range skipped {
		skipped[i].Layer = name
	}
	return out, ids, skipped, nil
}

// featureHeader reads a feature's id and geometry type. A missing type is
// UNKNOWN (0).
func featureHeader(data []byte) (uint64, uint32, error) {
	var (
		id       uint64
		geomType uint32
		err      error
	)

	msg := protoscan.New(data)
	for msg.Next() {
		switch {
		case msg.FieldNumber() == featureIDField && msg.WireType() == protoscan.WireTypeVarint:
			id, err = msg.Uint64()
		case msg.FieldNumber() == featureTypeField && msg.WireType() == protoscan.WireTypeVarint:
			geomType, err = msg.Uint32()
		default:
			msg.Skip()
			err = msg.Err()
		}
		if err != nil {
			return 0, 0, fmt.Errorf("scan feature: %w", err)
		}
	}
	if msg.Err() != nil {
		return 0, 0, fmt.Errorf("scan feature: %w", msg.Err())
	}
	return id, geomType, nil
}

func appendMessage(out []byte, field int, payload []byte) []byte {
	out = binary.AppendUvarint(out, uint64(field)<<3|protoscan.WireTypeLengthDelimited)
	out = binary.AppendUvarint(out, uint64(len(payload)))
	return append(out, payload...)
}

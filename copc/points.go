package copc

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// LoadedNode holds one node's decoded point attributes as parallel arrays
// indexed 0..Len()-1. Positions are world-space coordinates (scale and offset
// applied); colors are normalized to [0,1]. Immutable once stored in a cache.
type LoadedNode struct {
	Positions       []float32 // xyz triples
	Colors          []float32 // rgb triples
	Intensities     []float32
	Classifications []uint8
}

// Len returns the number of points.
func (n *LoadedNode) Len() int { return len(n.Classifications) }

// FetchNode reads and decodes the point chunk of one node.
func FetchNode(ctx context.Context, reader RangeReader, idx *FileIndex, key VoxelKey) (*LoadedNode, error) {
	meta, ok := idx.Nodes[key]
	if !ok {
		return nil, errors.Errorf("copc %s: no node %s in index", idx.Path, key)
	}
	begin := int64(meta.offset)
	end := begin + int64(meta.byteSize)
	buf, err := reader.Read(ctx, begin, end)
	if err != nil {
		return nil, err
	}
	return decodeChunk(idx.Path, idx.Header, meta, begin, buf)
}

// decodeChunk decodes point data record formats 6 through 8, the layouts COPC
// mandates. Compressed chunks are rejected; there is no laszip decoder here.
func decodeChunk(path string, header *Header, meta *NodeMetadata, begin int64, buf []byte) (*LoadedNode, error) {
	n := int(meta.PointCount)
	recLen := int(header.PointRecordLen)
	end := begin + int64(len(buf))
	if header.PointFormat < 6 || header.PointFormat > 8 {
		return nil, newFormatError(path, begin, end, buf,
			fmt.Sprintf("unsupported point record format %d", header.PointFormat))
	}
	if header.Compressed {
		return nil, newFormatError(path, begin, end, buf, "laszip-compressed chunk; only uncompressed point data is supported")
	}
	if len(buf) != n*recLen {
		return nil, newFormatError(path, begin, end, buf,
			fmt.Sprintf("chunk holds %d bytes, want %d for %d records of %d bytes", len(buf), n*recLen, n, recLen))
	}

	node := &LoadedNode{
		Positions:       make([]float32, 0, 3*n),
		Colors:          make([]float32, 0, 3*n),
		Intensities:     make([]float32, 0, n),
		Classifications: make([]uint8, 0, n),
	}
	le := binary.LittleEndian
	hasColor := header.PointFormat >= 7
	for i := 0; i < n; i++ {
		rec := buf[i*recLen : (i+1)*recLen]
		node.Positions = append(node.Positions,
			float32(float64(int32(le.Uint32(rec[0:4])))*header.Scale.X+header.Offset.X),
			float32(float64(int32(le.Uint32(rec[4:8])))*header.Scale.Y+header.Offset.Y),
			float32(float64(int32(le.Uint32(rec[8:12])))*header.Scale.Z+header.Offset.Z),
		)
		node.Intensities = append(node.Intensities, float32(le.Uint16(rec[12:14])))
		node.Classifications = append(node.Classifications, rec[16])
		if hasColor {
			node.Colors = append(node.Colors,
				float32(le.Uint16(rec[30:32]))/65535,
				float32(le.Uint16(rec[32:34]))/65535,
				float32(le.Uint16(rec[34:36]))/65535,
			)
		} else {
			node.Colors = append(node.Colors, 1, 1, 1)
		}
	}
	return node, nil
}

// NodeSummary aggregates per-node attribute statistics.
type NodeSummary struct {
	Points          int
	IntensityMean   float64
	IntensityStdDev float64
	Classifications map[uint8]int
}

// Summarize computes intensity statistics and a classification histogram for
// a decoded node.
func Summarize(node *LoadedNode) NodeSummary {
	s := NodeSummary{
		Points:          node.Len(),
		Classifications: map[uint8]int{},
	}
	if s.Points == 0 {
		return s
	}
	vals := make([]float64, s.Points)
	for i, v := range node.Intensities {
		vals[i] = float64(v)
	}
	s.IntensityMean, s.IntensityStdDev = stat.MeanStdDev(vals, nil)
	for _, c := range node.Classifications {
		s.Classifications[c]++
	}
	return s
}

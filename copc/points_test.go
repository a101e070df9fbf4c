package copc

import (
	"context"
	"errors"
	"testing"

	"go.viam.com/test"

	"github.com/vaxelben/lidar-viewer/logging"
)

func TestFetchNodeDecodesAttributes(t *testing.T) {
	logger := logging.NewTestLogger(t)
	key := VoxelKey{Level: 1, X: 1, Y: 0, Z: 1}
	const points = 10
	blob := BuildTestFile([]TestNode{
		{Key: VoxelKey{}, Points: 4},
		{Key: key, Points: points},
	}, TestFileOptions{})
	url, _ := ServeBlob(t, blob)

	loader := NewLoader(logger)
	idx, err := loader.Load(context.Background(), url)
	test.That(t, err, test.ShouldBeNil)
	reader, err := loader.Reader(url)
	test.That(t, err, test.ShouldBeNil)

	node, err := FetchNode(context.Background(), reader, idx, key)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, node.Len(), test.ShouldEqual, points)
	test.That(t, len(node.Positions), test.ShouldEqual, 3*points)
	test.That(t, len(node.Colors), test.ShouldEqual, 3*points)
	test.That(t, len(node.Intensities), test.ShouldEqual, points)

	cube := idx.Info.Cube()
	bounds := NodeBounds(cube, key)
	for i := 0; i < points; i++ {
		want := TestPointPosition(cube, key, i, points)
		test.That(t, float64(node.Positions[3*i]), test.ShouldAlmostEqual, want.X, 0.01)
		test.That(t, float64(node.Positions[3*i+1]), test.ShouldAlmostEqual, want.Y, 0.01)
		test.That(t, float64(node.Positions[3*i+2]), test.ShouldAlmostEqual, want.Z, 0.01)

		// every point lands inside the node's bounds
		test.That(t, float64(node.Positions[3*i]), test.ShouldBeBetweenOrEqual, bounds.Min.X, bounds.Max.X)

		test.That(t, node.Intensities[i], test.ShouldEqual, float32(1000+i))
		test.That(t, node.Classifications[i], test.ShouldEqual, uint8(2+i%3))
		test.That(t, float64(node.Colors[3*i]), test.ShouldAlmostEqual, float64(key.Level)*10000/65535, 1e-3)
	}

	_, err = FetchNode(context.Background(), reader, idx, VoxelKey{Level: 5, X: 9, Y: 9, Z: 9})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeRejectsCompressedChunks(t *testing.T) {
	logger := logging.NewTestLogger(t)
	blob := BuildTestFile([]TestNode{{Key: VoxelKey{}, Points: 8}}, TestFileOptions{})
	blob[104] |= compressionBit
	url, _ := ServeBlob(t, blob)

	loader := NewLoader(logger)
	idx, err := loader.Load(context.Background(), url)
	test.That(t, err, test.ShouldBeNil)
	reader, err := loader.Reader(url)
	test.That(t, err, test.ShouldBeNil)

	_, err = FetchNode(context.Background(), reader, idx, VoxelKey{})
	var formatErr *FormatError
	test.That(t, errors.As(err, &formatErr), test.ShouldBeTrue)
	test.That(t, formatErr.Reason, test.ShouldContainSubstring, "laszip")
}

func TestDecodeReportsTruncatedChunks(t *testing.T) {
	header := &Header{PointFormat: 7, PointRecordLen: 36}
	meta := &NodeMetadata{PointCount: 4}

	// a short uncompressed chunk is truncation, not compression
	_, err := decodeChunk("cloud.copc.laz", header, meta, 0, make([]byte, 3*36))
	var formatErr *FormatError
	test.That(t, errors.As(err, &formatErr), test.ShouldBeTrue)
	test.That(t, formatErr.Reason, test.ShouldContainSubstring, "108 bytes, want 144")
	test.That(t, formatErr.Reason, test.ShouldNotContainSubstring, "laszip")
}

func TestSummarize(t *testing.T) {
	node := &LoadedNode{
		Positions:       make([]float32, 12),
		Colors:          make([]float32, 12),
		Intensities:     []float32{10, 20, 30, 40},
		Classifications: []uint8{2, 2, 6, 2},
	}
	s := Summarize(node)
	test.That(t, s.Points, test.ShouldEqual, 4)
	test.That(t, s.IntensityMean, test.ShouldAlmostEqual, 25.0)
	test.That(t, s.Classifications[2], test.ShouldEqual, 3)
	test.That(t, s.Classifications[6], test.ShouldEqual, 1)

	empty := Summarize(&LoadedNode{})
	test.That(t, empty.Points, test.ShouldEqual, 0)
}

package copc

import (
	"bytes"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/geo/r3"
)

// TestNode describes one populated node of a synthetic COPC file.
type TestNode struct {
	Key    VoxelKey
	Points int
}

// TestFileOptions controls BuildTestFile.
type TestFileOptions struct {
	// Cube is the level-0 bounds; zero value means a 200-unit cube at the
	// origin.
	Cube Bounds
	// SplitHierarchy moves all entries above level 0 into a child hierarchy
	// page referenced from the root page.
	SplitHierarchy bool
	// ZeroPointKeys are recorded in the hierarchy with zero points and must
	// be discarded by the loader.
	ZeroPointKeys []VoxelKey
}

const (
	testScale  = 0.001
	testRecLen = 36 // PDRF 7
)

// BuildTestFile assembles a complete uncompressed COPC blob (LAS 1.4 header,
// COPC info VLR, point chunks, hierarchy pages) holding the given nodes with
// point data record format 7.
func BuildTestFile(nodes []TestNode, opts TestFileOptions) []byte {
	cube := opts.Cube
	if cube.Diagonal() == 0 {
		cube = Bounds{Min: r3.Vector{X: -100, Y: -100, Z: -100}, Max: r3.Vector{X: 100, Y: 100, Z: 100}}
	}

	chunkBase := uint64(HeaderSize + vlrHeaderSize + copcInfoSize)
	chunks := make([][]byte, len(nodes))
	offsets := make([]uint64, len(nodes))
	next := chunkBase
	totalPoints := uint64(0)
	for i, n := range nodes {
		chunks[i] = buildTestChunk(cube, n)
		offsets[i] = next
		next += uint64(len(chunks[i]))
		totalPoints += uint64(n.Points)
	}

	entry := func(buf *bytes.Buffer, key VoxelKey, offset uint64, size, count int32) {
		le := binary.LittleEndian
		_ = binary.Write(buf, le, key.Level)
		_ = binary.Write(buf, le, key.X)
		_ = binary.Write(buf, le, key.Y)
		_ = binary.Write(buf, le, key.Z)
		_ = binary.Write(buf, le, offset)
		_ = binary.Write(buf, le, size)
		_ = binary.Write(buf, le, count)
	}

	var rootPage, childPage bytes.Buffer
	for i, n := range nodes {
		dst := &rootPage
		if opts.SplitHierarchy && n.Key.Level > 0 {
			dst = &childPage
		}
		entry(dst, n.Key, offsets[i], int32(len(chunks[i])), int32(n.Points))
	}
	for _, key := range opts.ZeroPointKeys {
		entry(&rootPage, key, 0, 0, 0)
	}
	rootOffset := next
	if opts.SplitHierarchy && childPage.Len() > 0 {
		childOffset := next
		next += uint64(childPage.Len())
		rootOffset = next
		// reference the child page from the root page under the subtree root
		entry(&rootPage, VoxelKey{}, childOffset, int32(childPage.Len()), childPageMarker)
	}

	blob := &bytes.Buffer{}
	writeTestHeader(blob, cube, totalPoints)
	writeTestInfo(blob, cube, rootOffset, uint64(rootPage.Len()))
	for _, c := range chunks {
		blob.Write(c)
	}
	if opts.SplitHierarchy {
		blob.Write(childPage.Bytes())
	}
	blob.Write(rootPage.Bytes())
	return blob.Bytes()
}

// TestPointPosition returns the world position BuildTestFile gave point i of
// a node: points are spread along the diagonal of the middle half of the
// node's bounds.
func TestPointPosition(cube Bounds, key VoxelKey, i, points int) r3.Vector {
	b := NodeBounds(cube, key)
	frac := 0.25
	if points > 1 {
		frac = 0.25 + 0.5*float64(i)/float64(points-1)
	}
	return r3.Vector{
		X: b.Min.X + (b.Max.X-b.Min.X)*frac,
		Y: b.Min.Y + (b.Max.Y-b.Min.Y)*frac,
		Z: b.Min.Z + (b.Max.Z-b.Min.Z)*frac,
	}
}

func buildTestChunk(cube Bounds, n TestNode) []byte {
	buf := &bytes.Buffer{}
	le := binary.LittleEndian
	for i := 0; i < n.Points; i++ {
		pos := TestPointPosition(cube, n.Key, i, n.Points)
		rec := make([]byte, testRecLen)
		le.PutUint32(rec[0:4], uint32(int32(math.Round(pos.X/testScale))))
		le.PutUint32(rec[4:8], uint32(int32(math.Round(pos.Y/testScale))))
		le.PutUint32(rec[8:12], uint32(int32(math.Round(pos.Z/testScale))))
		le.PutUint16(rec[12:14], uint16(1000+i))
		rec[14] = 0x11 // single return
		rec[16] = uint8(2 + i%3)
		le.PutUint64(rec[22:30], math.Float64bits(float64(i)))
		le.PutUint16(rec[30:32], uint16(n.Key.Level)*10000)
		le.PutUint16(rec[32:34], 20000)
		le.PutUint16(rec[34:36], 30000)
		buf.Write(rec)
	}
	return buf.Bytes()
}

func writeTestHeader(buf *bytes.Buffer, cube Bounds, points uint64) {
	hdr := make([]byte, HeaderSize)
	le := binary.LittleEndian
	copy(hdr[0:4], lasMagic)
	hdr[24] = 1 // version 1.4
	hdr[25] = 4
	le.PutUint16(hdr[94:96], HeaderSize)
	le.PutUint32(hdr[96:100], HeaderSize+vlrHeaderSize+copcInfoSize)
	le.PutUint32(hdr[100:104], 1)
	hdr[104] = 7
	le.PutUint16(hdr[105:107], testRecLen)
	putTestF64 := func(off int, v float64) {
		le.PutUint64(hdr[off:off+8], math.Float64bits(v))
	}
	putTestF64(131, testScale)
	putTestF64(139, testScale)
	putTestF64(147, testScale)
	putTestF64(179, cube.Max.X)
	putTestF64(187, cube.Min.X)
	putTestF64(195, cube.Max.Y)
	putTestF64(203, cube.Min.Y)
	putTestF64(211, cube.Max.Z)
	putTestF64(219, cube.Min.Z)
	le.PutUint64(hdr[247:255], points)
	buf.Write(hdr)
}

func writeTestInfo(buf *bytes.Buffer, cube Bounds, rootOffset, rootSize uint64) {
	vlr := make([]byte, vlrHeaderSize+copcInfoSize)
	le := binary.LittleEndian
	copy(vlr[2:18], copcUserID)
	le.PutUint16(vlr[18:20], copcInfoRecordID)
	le.PutUint16(vlr[20:22], copcInfoSize)
	rec := vlr[vlrHeaderSize:]
	center := cube.Center()
	half := (cube.Max.X - cube.Min.X) / 2
	le.PutUint64(rec[0:8], math.Float64bits(center.X))
	le.PutUint64(rec[8:16], math.Float64bits(center.Y))
	le.PutUint64(rec[16:24], math.Float64bits(center.Z))
	le.PutUint64(rec[24:32], math.Float64bits(half))
	le.PutUint64(rec[32:40], math.Float64bits(half/128))
	le.PutUint64(rec[40:48], rootOffset)
	le.PutUint64(rec[48:56], rootSize)
	buf.Write(vlr)
}

// ServeBlob starts an HTTP server with byte-range support for blob and
// returns its URL alongside a counter of requests served. The server is shut
// down when the test finishes.
func ServeBlob(tb testing.TB, blob []byte) (string, *atomic.Int64) {
	tb.Helper()
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.ServeContent(w, r, "cloud.copc.laz", time.Time{}, bytes.NewReader(blob))
	}))
	tb.Cleanup(server.Close)
	return server.URL + "/cloud.copc.laz", &requests
}

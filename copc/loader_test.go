package copc

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/vaxelben/lidar-viewer/logging"
)

func TestLoaderBuildsIndex(t *testing.T) {
	logger := logging.NewTestLogger(t)
	nodes := []TestNode{
		{Key: VoxelKey{}, Points: 32},
		{Key: VoxelKey{Level: 1, X: 0, Y: 0, Z: 0}, Points: 16},
		{Key: VoxelKey{Level: 1, X: 1, Y: 1, Z: 1}, Points: 16},
		{Key: VoxelKey{Level: 2, X: 3, Y: 3, Z: 3}, Points: 8},
	}
	blob := BuildTestFile(nodes, TestFileOptions{
		ZeroPointKeys: []VoxelKey{{Level: 1, X: 0, Y: 1, Z: 0}},
	})
	url, _ := ServeBlob(t, blob)

	loader := NewLoader(logger)
	idx, err := loader.Load(context.Background(), url)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, idx.Path, test.ShouldEqual, url)
	test.That(t, idx.MaxLevel, test.ShouldEqual, int32(2))

	// zero-point entries are discarded
	test.That(t, len(idx.Nodes), test.ShouldEqual, 4)
	_, ok := idx.Nodes[VoxelKey{Level: 1, X: 0, Y: 1, Z: 0}]
	test.That(t, ok, test.ShouldBeFalse)

	// bounds follow the subdivision rule, not point data
	cube := idx.Info.Cube()
	for _, n := range nodes {
		meta, ok := idx.Nodes[n.Key]
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, meta.PointCount, test.ShouldEqual, int32(n.Points))
		test.That(t, meta.Bounds, test.ShouldResemble, NodeBounds(cube, n.Key))
	}
	half := idx.Info.HalfSize
	test.That(t, half, test.ShouldEqual, 100.0)
	level1 := idx.Nodes[VoxelKey{Level: 1, X: 1, Y: 1, Z: 1}]
	test.That(t, level1.Bounds.Diagonal(), test.ShouldAlmostEqual, cube.Diagonal()/2)
}

func TestLoaderFollowsChildPages(t *testing.T) {
	logger := logging.NewTestLogger(t)
	blob := BuildTestFile([]TestNode{
		{Key: VoxelKey{}, Points: 8},
		{Key: VoxelKey{Level: 1, X: 0, Y: 1, Z: 0}, Points: 4},
		{Key: VoxelKey{Level: 2, X: 0, Y: 2, Z: 1}, Points: 2},
	}, TestFileOptions{SplitHierarchy: true})
	url, _ := ServeBlob(t, blob)

	idx, err := NewLoader(logger).Load(context.Background(), url)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(idx.Nodes), test.ShouldEqual, 3)
	test.That(t, idx.MaxLevel, test.ShouldEqual, int32(2))
}

func TestLoaderMemoizesConcurrentLoads(t *testing.T) {
	logger := logging.NewTestLogger(t)
	blob := BuildTestFile([]TestNode{{Key: VoxelKey{}, Points: 8}}, TestFileOptions{})
	url, requests := ServeBlob(t, blob)
	loader := NewLoader(logger)

	const callers = 8
	indexes := make([]*FileIndex, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := loader.Load(context.Background(), url)
			test.That(t, err, test.ShouldBeNil)
			indexes[i] = idx
		}()
	}
	wg.Wait()

	// one build: header, info VLR, one hierarchy page
	test.That(t, requests.Load(), test.ShouldEqual, int64(3))
	for i := 1; i < callers; i++ {
		test.That(t, indexes[i], test.ShouldEqual, indexes[0])
	}

	// later loads hit the memo without new requests
	idx, err := loader.Load(context.Background(), url)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, idx, test.ShouldEqual, indexes[0])
	test.That(t, requests.Load(), test.ShouldEqual, int64(3))
}

func TestLoaderMemoizesFailure(t *testing.T) {
	logger := logging.NewTestLogger(t)
	blob := testBlob()
	blob[0] = '<' // origin serving an error page
	url, requests := ServeBlob(t, blob)
	loader := NewLoader(logger)

	_, err := loader.Load(context.Background(), url)
	var formatErr *FormatError
	test.That(t, errors.As(err, &formatErr), test.ShouldBeTrue)
	after := requests.Load()

	// the file is unavailable for the session; no new fetches happen
	_, err = loader.Load(context.Background(), url)
	test.That(t, errors.As(err, &formatErr), test.ShouldBeTrue)
	test.That(t, requests.Load(), test.ShouldEqual, after)
}

func TestLoaderRetriesAfterTransportFailure(t *testing.T) {
	logger := logging.NewTestLogger(t)
	blob := testBlob()

	// origin is down for the first request, then healthy
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		http.ServeContent(w, r, "cloud.copc.laz", time.Time{}, bytes.NewReader(blob))
	}))
	defer server.Close()
	url := server.URL + "/cloud.copc.laz"
	loader := NewLoader(logger)

	_, err := loader.Load(context.Background(), url)
	var transportErr *TransportError
	test.That(t, errors.As(err, &transportErr), test.ShouldBeTrue)
	test.That(t, requests.Load(), test.ShouldEqual, int64(1))

	// a transient fault is not held against the path
	idx, err := loader.Load(context.Background(), url)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(idx.Nodes), test.ShouldEqual, 2)
	test.That(t, requests.Load(), test.ShouldBeGreaterThan, int64(1))

	// the successful build is memoized as usual
	again, err := loader.Load(context.Background(), url)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldEqual, idx)
}

func TestLoaderRetriesAfterCanceledContext(t *testing.T) {
	logger := logging.NewTestLogger(t)
	url, _ := ServeBlob(t, testBlob())
	loader := NewLoader(logger)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loader.Load(canceled, url)
	test.That(t, err, test.ShouldNotBeNil)

	idx, err := loader.Load(context.Background(), url)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(idx.Nodes), test.ShouldEqual, 2)
}

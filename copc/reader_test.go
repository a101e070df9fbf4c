package copc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func testBlob() []byte {
	return BuildTestFile([]TestNode{
		{Key: VoxelKey{}, Points: 16},
		{Key: VoxelKey{Level: 1, X: 1, Y: 1, Z: 1}, Points: 8},
	}, TestFileOptions{})
}

func TestHTTPRangeReader(t *testing.T) {
	blob := testBlob()
	url, requests := ServeBlob(t, blob)
	reader, err := NewRangeReader(url)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reader.Path(), test.ShouldEqual, url)

	got, err := reader.Read(context.Background(), 0, HeaderSize)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, blob[:HeaderSize])

	got, err = reader.Read(context.Background(), 100, 200)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, blob[100:200])
	test.That(t, requests.Load(), test.ShouldEqual, int64(2))

	_, err = reader.Read(context.Background(), 200, 200)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHTTPRangeReaderFullContentFallback(t *testing.T) {
	blob := testBlob()
	// an origin that ignores Range headers and always sends the whole file
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(blob)
	}))
	t.Cleanup(server.Close)

	reader, err := NewRangeReader(server.URL + "/cloud.copc.laz")
	test.That(t, err, test.ShouldBeNil)
	got, err := reader.Read(context.Background(), 400, 500)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, blob[400:500])
}

func TestRangeReaderRejectsMarkup(t *testing.T) {
	page := []byte("<!DOCTYPE html><html><body>not found, sorry</body></html>")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(page)
	}))
	t.Cleanup(server.Close)

	reader, err := NewRangeReader(server.URL + "/cloud.copc.laz")
	test.That(t, err, test.ShouldBeNil)
	_, err = reader.Read(context.Background(), 1000, 1000+int64(len(page)))

	var formatErr *FormatError
	test.That(t, errors.As(err, &formatErr), test.ShouldBeTrue)
	test.That(t, formatErr.Begin, test.ShouldEqual, int64(1000))
	test.That(t, string(formatErr.Preview), test.ShouldContainSubstring, "<!DOCTYPE")
}

func TestRangeReaderRejectsBadMagic(t *testing.T) {
	blob := testBlob()
	blob[0] = 'X'
	url, _ := ServeBlob(t, blob)
	reader, err := NewRangeReader(url)
	test.That(t, err, test.ShouldBeNil)

	_, err = reader.Read(context.Background(), 0, HeaderSize)
	var formatErr *FormatError
	test.That(t, errors.As(err, &formatErr), test.ShouldBeTrue)
	test.That(t, formatErr.Reason, test.ShouldContainSubstring, "LASF")

	// non-zero offsets carry no magic and stay readable
	_, err = reader.Read(context.Background(), 4, HeaderSize)
	test.That(t, err, test.ShouldBeNil)
}

func TestRangeReaderTransportFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	reader, err := NewRangeReader(server.URL + "/cloud.copc.laz")
	test.That(t, err, test.ShouldBeNil)
	_, err = reader.Read(context.Background(), 0, 64)
	var transportErr *TransportError
	test.That(t, errors.As(err, &transportErr), test.ShouldBeTrue)

	// truncated body
	short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0x01, 0x02})
	}))
	t.Cleanup(short.Close)
	reader, err = NewRangeReader(short.URL + "/cloud.copc.laz")
	test.That(t, err, test.ShouldBeNil)
	_, err = reader.Read(context.Background(), 100, 200)
	test.That(t, errors.As(err, &transportErr), test.ShouldBeTrue)
}

func TestFileRangeReader(t *testing.T) {
	blob := testBlob()
	path := filepath.Join(t.TempDir(), "cloud.copc.laz")
	test.That(t, os.WriteFile(path, blob, 0o600), test.ShouldBeNil)

	reader, err := NewRangeReader(path)
	test.That(t, err, test.ShouldBeNil)
	got, err := reader.Read(context.Background(), 0, HeaderSize)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, blob[:HeaderSize])

	got, err = reader.Read(context.Background(), 375, 589)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, blob[375:589])
}

package copc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
)

// A RangeReader reads byte ranges of one immutable file. Ranges are
// half-open: Read(ctx, begin, end) returns exactly end-begin bytes or an
// error. Implementations classify failures as *FormatError or
// *TransportError and never retry; retry is the fetch scheduler's job.
type RangeReader interface {
	Path() string
	Read(ctx context.Context, begin, end int64) ([]byte, error)
}

type readerOptions struct {
	client *http.Client
}

// ReaderOption configures range readers produced by NewRangeReader.
type ReaderOption func(*readerOptions)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ReaderOption {
	return func(o *readerOptions) {
		o.client = client
	}
}

// NewRangeReader returns an HTTP-backed reader for http(s) URLs and a local
// file reader for anything else.
func NewRangeReader(path string, opts ...ReaderOption) (RangeReader, error) {
	options := readerOptions{
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if u, err := url.Parse(path); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return &httpRangeReader{path: path, client: options.client}, nil
	}
	return &fileRangeReader{path: path}, nil
}

// validatePayload applies the format checks shared by all readers: a payload
// whose leading bytes decode as markup is an origin error page served with a
// success status, and a read covering offset zero must begin with the LASF
// signature.
func validatePayload(path string, begin, end int64, payload []byte) error {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return newFormatError(path, begin, end, payload, "non-binary response")
	}
	if begin == 0 && !bytes.HasPrefix(payload, lasMagic) {
		return newFormatError(path, begin, end, payload, "missing LASF signature")
	}
	return nil
}

type httpRangeReader struct {
	path   string
	client *http.Client
}

func (r *httpRangeReader) Path() string { return r.path }

func (r *httpRangeReader) Read(ctx context.Context, begin, end int64) ([]byte, error) {
	if begin < 0 || end <= begin {
		return nil, errors.Errorf("invalid range [%d,%d)", begin, end)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.path, nil)
	if err != nil {
		return nil, &TransportError{Path: r.path, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", begin, end-1))
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &TransportError{Path: r.path, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// Origin ignored the range header and is sending the whole file.
		if begin > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, begin); err != nil {
				return nil, &TransportError{Path: r.path, Err: errors.Wrap(err, "skipping to range start")}
			}
		}
	default:
		return nil, &TransportError{Path: r.path, Err: errors.Errorf("unexpected status %s", resp.Status)}
	}

	payload := make([]byte, end-begin)
	n, err := io.ReadFull(resp.Body, payload)
	if err != nil {
		// Short markup payloads still want the format classification.
		if verr := validatePayload(r.path, begin, end, payload[:n]); verr != nil {
			return nil, verr
		}
		return nil, &TransportError{Path: r.path, Err: errors.Wrapf(err, "short read (%d of %d bytes)", n, end-begin)}
	}
	if err := validatePayload(r.path, begin, end, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

type fileRangeReader struct {
	path string
}

func (r *fileRangeReader) Path() string { return r.path }

func (r *fileRangeReader) Read(ctx context.Context, begin, end int64) ([]byte, error) {
	if begin < 0 || end <= begin {
		return nil, errors.Errorf("invalid range [%d,%d)", begin, end)
	}
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Path: r.path, Err: err}
	}
	f, err := os.Open(r.path)
	if err != nil {
		return nil, &TransportError{Path: r.path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()
	payload := make([]byte, end-begin)
	if _, err := f.ReadAt(payload, begin); err != nil {
		return nil, &TransportError{Path: r.path, Err: err}
	}
	if err := validatePayload(r.path, begin, end, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

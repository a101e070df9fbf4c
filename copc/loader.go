package copc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/vaxelben/lidar-viewer/logging"
)

// maxHierarchyPages caps hierarchy traversal so a malformed page graph cannot
// loop the loader.
const maxHierarchyPages = 4096

// NodeMetadata describes one octree node of a COPC file. Immutable once the
// index is built.
type NodeMetadata struct {
	Key        VoxelKey
	PointCount int32
	Bounds     Bounds

	// chunk location within the file
	offset   uint64
	byteSize int32
}

// FileIndex is the parsed octree index of one COPC file. It is built exactly
// once per path and read-only afterwards.
type FileIndex struct {
	Path     string
	Header   *Header
	Info     *Info
	Nodes    map[VoxelKey]*NodeMetadata
	MaxLevel int32
}

// Loader builds and memoizes one FileIndex per path. Concurrent loads of the
// same path share a single fetch sequence. A load that fails with a
// FormatError is memoized too, so a file whose metadata cannot be parsed
// stays unavailable for the session; transport failures are not held against
// the path and a later Load starts over.
type Loader struct {
	logger    logging.Logger
	newReader func(path string) (RangeReader, error)

	group singleflight.Group

	mu      sync.Mutex
	indexes map[string]*FileIndex
	failed  map[string]error
	readers map[string]RangeReader
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithReaderOptions forwards options to every range reader the loader
// creates.
func WithReaderOptions(opts ...ReaderOption) LoaderOption {
	return func(l *Loader) {
		l.newReader = func(path string) (RangeReader, error) {
			return NewRangeReader(path, opts...)
		}
	}
}

// WithReaderFactory replaces range reader construction entirely.
func WithReaderFactory(factory func(path string) (RangeReader, error)) LoaderOption {
	return func(l *Loader) {
		l.newReader = factory
	}
}

// NewLoader returns an empty loader.
func NewLoader(logger logging.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		logger: logger,
		newReader: func(path string) (RangeReader, error) {
			return NewRangeReader(path)
		},
		indexes: map[string]*FileIndex{},
		failed:  map[string]error{},
		readers: map[string]RangeReader{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the index for path, building it on first call. All concurrent
// callers for one path await the same build and receive the same instance.
func (l *Loader) Load(ctx context.Context, path string) (*FileIndex, error) {
	l.mu.Lock()
	if idx, ok := l.indexes[path]; ok {
		l.mu.Unlock()
		return idx, nil
	}
	if err, ok := l.failed[path]; ok {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(path, func() (interface{}, error) {
		idx, err := l.build(ctx, path)
		l.mu.Lock()
		defer l.mu.Unlock()
		if err != nil {
			// Only a malformed file is unavailable for the whole session.
			// Transport faults and canceled contexts leave no trace, so a
			// later Load retries against the origin.
			var formatErr *FormatError
			if errors.As(err, &formatErr) {
				l.failed[path] = err
			}
			return nil, err
		}
		l.indexes[path] = idx
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FileIndex), nil
}

// Reader returns the shared range reader for a path, creating it if needed.
func (l *Loader) Reader(path string) (RangeReader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.readers[path]; ok {
		return r, nil
	}
	r, err := l.newReader(path)
	if err != nil {
		return nil, err
	}
	l.readers[path] = r
	return r, nil
}

func (l *Loader) build(ctx context.Context, path string) (*FileIndex, error) {
	reader, err := l.Reader(path)
	if err != nil {
		return nil, err
	}

	headerBuf, err := reader.Read(ctx, 0, HeaderSize)
	if err != nil {
		return nil, err
	}
	header, err := ParseHeader(path, headerBuf)
	if err != nil {
		return nil, err
	}

	infoBuf, err := reader.Read(ctx, HeaderSize, HeaderSize+vlrHeaderSize+copcInfoSize)
	if err != nil {
		return nil, err
	}
	info, err := ParseInfo(path, infoBuf)
	if err != nil {
		return nil, err
	}
	cube := info.Cube()

	idx := &FileIndex{
		Path:   path,
		Header: header,
		Info:   info,
		Nodes:  map[VoxelKey]*NodeMetadata{},
	}

	type page struct{ offset, size uint64 }
	pages := []page{{info.RootHierOffset, info.RootHierSize}}
	seen := map[uint64]struct{}{info.RootHierOffset: {}}
	for visited := 0; len(pages) > 0; visited++ {
		if visited >= maxHierarchyPages {
			return nil, newFormatError(path, 0, 0, nil, "hierarchy page graph too deep")
		}
		p := pages[0]
		pages = pages[1:]
		buf, err := reader.Read(ctx, int64(p.offset), int64(p.offset+p.size))
		if err != nil {
			return nil, err
		}
		entries, err := parseHierarchyPage(path, int64(p.offset), buf)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			switch {
			case e.isChildPage():
				if _, ok := seen[e.Offset]; ok {
					return nil, newFormatError(path, int64(p.offset), int64(p.offset+p.size), nil,
						"hierarchy page referenced twice")
				}
				seen[e.Offset] = struct{}{}
				pages = append(pages, page{e.Offset, uint64(e.ByteSize)})
			case e.PointCount == 0:
				// no points at this cell, nothing to fetch
			default:
				if _, ok := idx.Nodes[e.Key]; ok {
					return nil, newFormatError(path, int64(p.offset), int64(p.offset+p.size), nil,
						"duplicate hierarchy entry for "+e.Key.String())
				}
				idx.Nodes[e.Key] = &NodeMetadata{
					Key:        e.Key,
					PointCount: e.PointCount,
					Bounds:     NodeBounds(cube, e.Key),
					offset:     e.Offset,
					byteSize:   e.ByteSize,
				}
				if e.Key.Level > idx.MaxLevel {
					idx.MaxLevel = e.Key.Level
				}
			}
		}
	}
	if len(idx.Nodes) == 0 {
		return nil, newFormatError(path, 0, 0, nil, "hierarchy holds no populated nodes")
	}

	l.logger.Debugw("indexed file",
		"path", path,
		"nodes", len(idx.Nodes),
		"maxLevel", idx.MaxLevel,
		"points", header.PointCount,
	)
	return idx, nil
}

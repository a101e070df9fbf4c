package stream

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/vaxelben/lidar-viewer/copc"
	"github.com/vaxelben/lidar-viewer/lod"
	"github.com/vaxelben/lidar-viewer/logging"
)

// Config gathers the engine's knobs. The zero value gives usable defaults.
type Config struct {
	Selector  lod.SelectorConfig
	Scheduler SchedulerConfig
	Publisher PublisherConfig
	// ReaderOptions configure the range readers used for every file.
	ReaderOptions []copc.ReaderOption
	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock
}

// EngineStats snapshots all engine subsystems.
type EngineStats struct {
	Files     int
	Cache     CacheStats
	Scheduler SchedulerStats
	Publishes int
}

// Engine is the streaming façade the render loop talks to: AddFile tracks a
// COPC file, Update feeds it the camera once per frame, and stable render
// sets arrive on the publish callback. Node buffers are fetched on demand
// with bounded concurrency and kept for the lifetime of the engine.
type Engine struct {
	logger logging.Logger
	loader *copc.Loader
	cache  *NodeCache
	sched  *Scheduler
	pub    *Publisher
	sel    *lod.Selector

	mu    sync.Mutex
	files map[string]*copc.FileIndex
}

// New returns a running engine delivering render sets to publish.
func New(cfg Config, publish PublishFunc, logger logging.Logger) *Engine {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	e := &Engine{
		logger: logger,
		loader: copc.NewLoader(logger.Sublogger("loader"), copc.WithReaderOptions(cfg.ReaderOptions...)),
		cache:  NewNodeCache(),
		sel:    lod.NewSelector(cfg.Selector),
		files:  map[string]*copc.FileIndex{},
	}
	e.pub = NewPublisher(cfg.Publisher, publish, logger.Sublogger("publisher"))
	e.sched = NewScheduler(cfg.Scheduler, clk, e.cache, e.fetchNode, e.onStored, logger.Sublogger("scheduler"))
	return e
}

// AddFile loads and tracks a COPC file. A file whose metadata cannot be
// loaded is excluded for the session and the error returned; other files are
// unaffected.
func (e *Engine) AddFile(ctx context.Context, path string) error {
	idx, err := e.loader.Load(ctx, path)
	if err != nil {
		e.logger.Errorw("file unavailable", "path", path, "error", err)
		return err
	}
	e.mu.Lock()
	e.files[path] = idx
	e.mu.Unlock()
	e.sel.MarkDirty()
	e.logger.Infow("tracking file", "path", path, "nodes", len(idx.Nodes), "maxLevel", idx.MaxLevel)
	return nil
}

// Update is the per-frame entry point. It recomputes the render set when the
// selector decides to, enqueues missing nodes closest first, and offers the
// set to the publisher. It never blocks on I/O. Call it from a single update
// loop.
func (e *Engine) Update(cam lod.Camera) {
	e.mu.Lock()
	files := make(map[string]*copc.FileIndex, len(e.files))
	for path, idx := range e.files {
		files[path] = idx
	}
	e.mu.Unlock()
	if len(files) == 0 {
		return
	}

	render, candidates, ok := e.sel.Select(cam, files, func(path string, key copc.VoxelKey) bool {
		_, cached := e.cache.Get(NodeID{Path: path, Key: key})
		return cached
	})
	if !ok {
		return
	}

	if len(candidates) > 0 {
		tasks := make([]LoadTask, len(candidates))
		for i, c := range candidates {
			tasks[i] = LoadTask{ID: NodeID{Path: c.Path, Key: c.Key}, Distance: c.Distance}
		}
		e.sched.Enqueue(tasks)
	}
	e.pub.Offer(render)
}

// Node returns the decoded buffers for a render entry's node, if fetched.
func (e *Engine) Node(path string, key copc.VoxelKey) (*copc.LoadedNode, bool) {
	return e.cache.Get(NodeID{Path: path, Key: key})
}

// Index returns the octree index of a tracked file.
func (e *Engine) Index(path string) (*copc.FileIndex, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.files[path]
	return idx, ok
}

// Stats snapshots the engine.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	files := len(e.files)
	e.mu.Unlock()
	return EngineStats{
		Files:     files,
		Cache:     e.cache.Stats(),
		Scheduler: e.sched.Stats(),
		Publishes: e.pub.Published(),
	}
}

// Close stops the scheduler and waits for in-flight fetches.
func (e *Engine) Close() {
	e.sched.Close()
}

func (e *Engine) fetchNode(ctx context.Context, task LoadTask) (*copc.LoadedNode, error) {
	e.mu.Lock()
	idx := e.files[task.ID.Path]
	e.mu.Unlock()
	if idx == nil {
		return nil, errors.Errorf("no index for %s", task.ID.Path)
	}
	reader, err := e.loader.Reader(task.ID.Path)
	if err != nil {
		return nil, err
	}
	return copc.FetchNode(ctx, reader, idx, task.ID.Key)
}

// onStored forces a recompute on the next Update so newly cached nodes reach
// the publisher without camera movement.
func (e *Engine) onStored(NodeID) {
	e.sel.MarkDirty()
}

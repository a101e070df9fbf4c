package stream

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/utils"

	"github.com/vaxelben/lidar-viewer/copc"
	"github.com/vaxelben/lidar-viewer/logging"
)

// LoadTask is one pending or in-flight node fetch. Attempts counts failures
// so far; the task is dropped once it exceeds the retry budget.
type LoadTask struct {
	ID       NodeID
	Distance float64
	Attempts int
}

// SchedulerConfig tunes the fetch scheduler. Zero values take defaults;
// negative durations disable the delay.
type SchedulerConfig struct {
	// MaxConcurrent is the hard ceiling on in-flight fetches.
	MaxConcurrent int
	// InterTaskDelay is waited before each task starts, to avoid saturating
	// the transport.
	InterTaskDelay time.Duration
	// Backoff is waited before a failed task re-enters the queue.
	Backoff time.Duration
	// MaxRetries is how many times a failed task is retried before it is
	// dropped; coarser cached levels keep covering the gap.
	MaxRetries int
}

const (
	defaultMaxConcurrent  = 2
	defaultInterTaskDelay = 25 * time.Millisecond
	defaultBackoff        = time.Second
	defaultMaxRetries     = 2
)

// FetchFunc fetches and decodes one node.
type FetchFunc func(ctx context.Context, task LoadTask) (*copc.LoadedNode, error)

// SchedulerStats is a point-in-time snapshot of scheduler progress.
type SchedulerStats struct {
	Queued    int
	Active    int
	Succeeded int
	Retried   int
	Dropped   int
}

// Scheduler bounds how many node fetches run concurrently, preserves
// approximate nearest-first ordering, and retries transient failures without
// blocking callers. Each Enqueue batch is expected pre-sorted by distance;
// batches are appended, not merged, so strict nearest-first ordering is not
// guaranteed across selection cycles.
type Scheduler struct {
	cfg      SchedulerConfig
	clock    clock.Clock
	cache    *NodeCache
	fetch    FetchFunc
	onStored func(NodeID)
	logger   logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	mu     sync.Mutex
	queue  []LoadTask
	active int
	closed bool
	stats  SchedulerStats
}

// NewScheduler returns a running scheduler. onStored may be nil.
func NewScheduler(
	cfg SchedulerConfig,
	clk clock.Clock,
	cache *NodeCache,
	fetch FetchFunc,
	onStored func(NodeID),
	logger logging.Logger,
) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.InterTaskDelay == 0 {
		cfg.InterTaskDelay = defaultInterTaskDelay
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		clock:    clk,
		cache:    cache,
		fetch:    fetch,
		onStored: onStored,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue appends the batch's uncached, unclaimed tasks to the wait queue and
// starts workers while slots are free. Tasks whose node is already cached or
// in flight are no-ops.
func (s *Scheduler) Enqueue(tasks []LoadTask) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for _, task := range tasks {
		if s.cache.Begin(task.ID) != beginStarted {
			continue
		}
		s.queue = append(s.queue, task)
	}
	s.mu.Unlock()
	s.drain()
}

// drain starts queued tasks until the concurrency ceiling is reached.
func (s *Scheduler) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && s.active < s.cfg.MaxConcurrent && len(s.queue) > 0 {
		task := s.queue[0]
		s.queue = s.queue[1:]
		s.active++
		s.workers.Add(1)
		utils.PanicCapturingGo(func() {
			defer s.workers.Done()
			s.run(task)
		})
	}
}

func (s *Scheduler) run(task LoadTask) {
	if !s.wait(s.cfg.InterTaskDelay) {
		s.cache.Abort(task.ID)
		s.finish()
		return
	}

	node, err := s.fetch(s.ctx, task)
	if err == nil {
		if serr := s.cache.Store(task.ID, node); serr != nil {
			s.logger.Errorw("cache consistency violation", "node", task.ID, "error", serr)
		} else {
			s.mu.Lock()
			s.stats.Succeeded++
			s.mu.Unlock()
			if s.onStored != nil {
				s.onStored(task.ID)
			}
		}
		s.finish()
		s.drain()
		return
	}

	if s.ctx.Err() != nil {
		// shutting down, not a real failure
		s.cache.Abort(task.ID)
		s.finish()
		return
	}

	if task.Attempts < s.cfg.MaxRetries {
		task.Attempts++
		s.logger.Debugw("node fetch failed, backing off",
			"node", task.ID, "attempt", task.Attempts, "error", err)
		// The in-flight claim is kept through the backoff so other cycles
		// cannot double-fetch; the slot is released.
		s.clock.AfterFunc(s.cfg.Backoff, func() {
			s.requeue(task)
		})
		s.mu.Lock()
		s.stats.Retried++
		s.mu.Unlock()
		s.finish()
		s.drain()
		return
	}

	s.logger.Warnw("node fetch failed permanently, skipping",
		"node", task.ID, "attempts", task.Attempts+1, "error", err)
	s.cache.Abort(task.ID)
	s.mu.Lock()
	s.stats.Dropped++
	s.mu.Unlock()
	s.finish()
	s.drain()
}

// wait blocks for d, returning false if the scheduler shut down first.
func (s *Scheduler) wait(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	timer := s.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) requeue(task LoadTask) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.cache.Abort(task.ID)
		return
	}
	s.queue = append(s.queue, task)
	s.mu.Unlock()
	s.drain()
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

// Stats returns a snapshot of scheduler progress.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Queued = len(s.queue)
	stats.Active = s.active
	return stats
}

// Close stops accepting work, releases queued claims, and waits for active
// workers to wind down.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, task := range queued {
		s.cache.Abort(task.ID)
	}
	s.cancel()
	s.workers.Wait()
}

package stream

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/vaxelben/lidar-viewer/lod"
	"github.com/vaxelben/lidar-viewer/logging"
)

// PublisherConfig tunes the update publisher.
type PublisherConfig struct {
	// Quiet is how long a candidate set must go unsuperseded before it can
	// publish.
	Quiet time.Duration
}

const defaultQuiet = 100 * time.Millisecond

// PublishFunc receives each stable render set. The slice is owned by the
// receiver.
type PublishFunc func([]lod.RenderEntry)

// Publisher debounces render-set updates so consumers only see stable
// changes: a burst of candidate sets within the quiet window yields at most
// one publish, carrying the last set of the burst, and sets whose canonical
// signature matches the previously published one are dropped.
type Publisher struct {
	quiet     time.Duration
	debounced func(func())
	publish   PublishFunc
	logger    logging.Logger

	mu        sync.Mutex
	pending   []lod.RenderEntry
	lastSig   string
	published int
}

// NewPublisher returns a publisher delivering to publish.
func NewPublisher(cfg PublisherConfig, publish PublishFunc, logger logging.Logger) *Publisher {
	if cfg.Quiet <= 0 {
		cfg.Quiet = defaultQuiet
	}
	return &Publisher{
		quiet:     cfg.Quiet,
		debounced: debounce.New(cfg.Quiet),
		publish:   publish,
		logger:    logger,
	}
}

// Offer replaces the pending render set and restarts the quiet timer.
func (p *Publisher) Offer(entries []lod.RenderEntry) {
	p.mu.Lock()
	p.pending = entries
	p.mu.Unlock()
	p.debounced(p.flush)
}

func (p *Publisher) flush() {
	p.mu.Lock()
	entries := p.pending
	sig := signature(entries)
	if sig == p.lastSig {
		p.mu.Unlock()
		return
	}
	p.lastSig = sig
	p.published++
	count := p.published
	p.mu.Unlock()

	p.logger.Debugw("publishing render set", "entries", len(entries), "publishes", count)
	p.publish(entries)
}

// Published returns how many sets have been delivered.
func (p *Publisher) Published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// signature is the canonical identity of a render set. Distance is excluded
// so camera drift alone never republishes an identical set; ordering is
// normalized by sorting.
func signature(entries []lod.RenderEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s:%s:%d", e.Path, e.Key, e.Level)
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}

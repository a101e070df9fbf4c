// Package stream turns per-frame LOD selections into bounded, retried node
// fetches and publishes stable render sets to the renderer.
package stream

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/vaxelben/lidar-viewer/copc"
)

// NodeID identifies one node of one file.
type NodeID struct {
	Path string
	Key  copc.VoxelKey
}

func (id NodeID) String() string {
	return id.Path + ":" + id.Key.String()
}

// ErrCacheInconsistency means a node was decoded twice; the at-most-once
// fetch invariant was broken upstream.
var ErrCacheInconsistency = errors.New("node stored twice")

type beginState int

const (
	// beginStarted means the caller claimed the fetch.
	beginStarted beginState = iota
	beginCached
	beginInFlight
)

// CacheStats is a point-in-time snapshot of cache occupancy.
type CacheStats struct {
	Nodes    int
	Points   int
	InFlight int
}

// NodeCache stores decoded nodes for the lifetime of the session. Entries
// are written once and never evicted or mutated; the in-flight set makes
// check-cache/check-in-flight/claim one atomic step.
type NodeCache struct {
	mu       sync.Mutex
	nodes    map[NodeID]*copc.LoadedNode
	inflight map[NodeID]struct{}
	points   int
}

// NewNodeCache returns an empty cache.
func NewNodeCache() *NodeCache {
	return &NodeCache{
		nodes:    map[NodeID]*copc.LoadedNode{},
		inflight: map[NodeID]struct{}{},
	}
}

// Get returns the decoded node, if present.
func (c *NodeCache) Get(id NodeID) (*copc.LoadedNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes[id]
	return node, ok
}

// Begin atomically checks the cache and the in-flight set, claiming the
// fetch when both miss. Exactly one concurrent caller per id observes
// beginStarted before the entry is stored or aborted.
func (c *NodeCache) Begin(id NodeID) beginState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[id]; ok {
		return beginCached
	}
	if _, ok := c.inflight[id]; ok {
		return beginInFlight
	}
	c.inflight[id] = struct{}{}
	return beginStarted
}

// Store writes the decoded node and releases the in-flight claim. A second
// store for the same id fails with ErrCacheInconsistency.
func (c *NodeCache) Store(id NodeID, node *copc.LoadedNode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[id]; ok {
		return errors.Wrap(ErrCacheInconsistency, id.String())
	}
	c.nodes[id] = node
	c.points += node.Len()
	delete(c.inflight, id)
	return nil
}

// Abort releases the in-flight claim without storing; the node may be
// claimed again by a later cycle.
func (c *NodeCache) Abort(id NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

// Stats returns a snapshot of cache occupancy.
func (c *NodeCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Nodes: len(c.nodes), Points: c.points, InFlight: len(c.inflight)}
}

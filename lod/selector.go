package lod

import (
	"math"
	"sort"
	"sync/atomic"

	"github.com/golang/geo/r3"

	"github.com/vaxelben/lidar-viewer/copc"
)

// RenderEntry is one element of the published render set.
type RenderEntry struct {
	Path     string
	Key      copc.VoxelKey
	Level    int32
	Distance float64
}

// Candidate is a node the render set wants but the node cache lacks.
// Candidates are handed to the fetch scheduler closest first.
type Candidate struct {
	Path     string
	Key      copc.VoxelKey
	Distance float64
}

// SelectorConfig tunes recomputation gating.
type SelectorConfig struct {
	// MoveFraction of the scene diagonal the camera must travel before the
	// next cycle recomputes ahead of the forced interval.
	MoveFraction float64
	// ForceInterval recomputes unconditionally every n cycles, covering LOD
	// changes from cache population without camera movement.
	ForceInterval int
}

const (
	defaultMoveFraction  = 0.001
	defaultForceInterval = 30

	// lodBase and lodFalloff shape the distance-to-LOD curve:
	// theoretical = lodBase - (distance/width)/lodFalloff. The curve is
	// scale-invariant: distance is normalized by the node's own diagonal.
	lodBase    = 5.0
	lodFalloff = 2.0

	// minLOD is the floor applied everywhere, including outside the frustum,
	// so a coarse placeholder exists before a node scrolls into view.
	minLOD = 1
)

// Selector decides each cycle whether to recompute, and if so produces the
// render set and fetch candidates. Drive Select from one update loop;
// MarkDirty may be called from any goroutine.
type Selector struct {
	cfg SelectorConfig

	hasLast     bool
	lastPos     r3.Vector
	cyclesSince int
	dirty       atomic.Bool
}

// NewSelector returns a selector with defaults applied.
func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.MoveFraction <= 0 {
		cfg.MoveFraction = defaultMoveFraction
	}
	if cfg.ForceInterval <= 0 {
		cfg.ForceInterval = defaultForceInterval
	}
	return &Selector{cfg: cfg}
}

// MarkDirty forces the next Select to recompute; called when the node cache
// gains an entry without the camera moving.
func (s *Selector) MarkDirty() {
	s.dirty.Store(true)
}

// RequiredLOD returns the level budget for a node: nodes outside the frustum
// are floored at the minimum, visible nodes get more detail the closer the
// camera is relative to the node's own size, clamped to the file's deepest
// level.
func RequiredLOD(cam Camera, frustum Frustum, bounds copc.Bounds, maxLevel int32) (int32, float64) {
	distance := cam.Position.Sub(bounds.Center()).Norm()
	if !frustum.Intersects(bounds) {
		return minLOD, distance
	}
	width := bounds.Diagonal()
	if width == 0 {
		return minLOD, distance
	}
	theoretical := int32(math.Floor(lodBase - distance/width/lodFalloff))
	if theoretical < minLOD {
		theoretical = minLOD
	}
	if theoretical > maxLevel {
		theoretical = maxLevel
	}
	return theoretical, distance
}

// Select scans every node of every file. It returns false without output
// when the camera has not moved far enough and no forced recompute is due.
// Selection is cumulative: a node is included iff its own level lies in
// [1, requiredLOD], so coarser levels always accompany finer ones; level 0
// is never rendered. Missing included nodes come back as candidates sorted
// by ascending distance.
func (s *Selector) Select(
	cam Camera,
	files map[string]*copc.FileIndex,
	cached func(path string, key copc.VoxelKey) bool,
) ([]RenderEntry, []Candidate, bool) {
	s.cyclesSince++
	if !s.shouldRecompute(cam, files) {
		return nil, nil, false
	}
	s.hasLast = true
	s.lastPos = cam.Position
	s.cyclesSince = 0
	s.dirty.Store(false)

	frustum := FrustumFromMatrix(cam.ViewProjection)
	var render []RenderEntry
	var candidates []Candidate
	for path, idx := range files {
		for key, node := range idx.Nodes {
			required, distance := RequiredLOD(cam, frustum, node.Bounds, idx.MaxLevel)
			if key.Level < minLOD || key.Level > required {
				continue
			}
			render = append(render, RenderEntry{
				Path:     path,
				Key:      key,
				Level:    key.Level,
				Distance: distance,
			})
			if !cached(path, key) {
				candidates = append(candidates, Candidate{Path: path, Key: key, Distance: distance})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})
	return render, candidates, true
}

func (s *Selector) shouldRecompute(cam Camera, files map[string]*copc.FileIndex) bool {
	if s.dirty.Load() || !s.hasLast || s.cyclesSince >= s.cfg.ForceInterval {
		return true
	}
	moved := cam.Position.Sub(s.lastPos).Norm()
	return moved > s.cfg.MoveFraction*sceneDiagonal(files)
}

// sceneDiagonal is the diagonal of the union of all file cubes; it scales the
// camera-movement threshold so multi-file scenes behave like one scene.
func sceneDiagonal(files map[string]*copc.FileIndex) float64 {
	var union copc.Bounds
	first := true
	for _, idx := range files {
		cube := idx.Info.Cube()
		if first {
			union = cube
			first = false
			continue
		}
		union = union.Union(cube)
	}
	if first {
		return 0
	}
	return union.Diagonal()
}

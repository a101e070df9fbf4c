package copc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// VoxelKey addresses one octree cell as (level, x, y, z). Level increases
// with depth; x, y, z are grid coordinates within that level. The zero value
// is the root cell.
type VoxelKey struct {
	Level int32
	X     int32
	Y     int32
	Z     int32
}

func (k VoxelKey) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", k.Level, k.X, k.Y, k.Z)
}

// Parent returns the cell one level up that contains this one. Calling it on
// the root returns the root.
func (k VoxelKey) Parent() VoxelKey {
	if k.Level == 0 {
		return k
	}
	return VoxelKey{Level: k.Level - 1, X: k.X >> 1, Y: k.Y >> 1, Z: k.Z >> 1}
}

// Child returns the child cell in octant i, where bit 0 selects +x, bit 1 +y
// and bit 2 +z.
func (k VoxelKey) Child(i int) VoxelKey {
	return VoxelKey{
		Level: k.Level + 1,
		X:     k.X<<1 | int32(i&1),
		Y:     k.Y<<1 | int32(i>>1&1),
		Z:     k.Z<<1 | int32(i>>2&1),
	}
}

// ParseVoxelKey parses the "level-x-y-z" form produced by String.
func ParseVoxelKey(s string) (VoxelKey, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return VoxelKey{}, errors.Errorf("invalid voxel key %q", s)
	}
	var vals [4]int32
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return VoxelKey{}, errors.Wrapf(err, "invalid voxel key %q", s)
		}
		vals[i] = int32(v)
	}
	if vals[0] < 0 {
		return VoxelKey{}, errors.Errorf("invalid voxel key %q: negative level", s)
	}
	return VoxelKey{Level: vals[0], X: vals[1], Y: vals[2], Z: vals[3]}, nil
}

// Bounds is an axis-aligned box in world space.
type Bounds struct {
	Min r3.Vector
	Max r3.Vector
}

// Center returns the box midpoint.
func (b Bounds) Center() r3.Vector {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Diagonal returns the Euclidean length of the box diagonal.
func (b Bounds) Diagonal() float64 {
	return b.Max.Sub(b.Min).Norm()
}

// Union returns the smallest box containing both boxes.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		Min: r3.Vector{X: min(b.Min.X, o.Min.X), Y: min(b.Min.Y, o.Min.Y), Z: min(b.Min.Z, o.Min.Z)},
		Max: r3.Vector{X: max(b.Max.X, o.Max.X), Y: max(b.Max.Y, o.Max.Y), Z: max(b.Max.Z, o.Max.Z)},
	}
}

// NodeBounds derives the bounds of the cell addressed by key within the
// file's level-0 cube: each level halves the extent per axis, so level L has
// 2^L cells per axis. Bounds are never recomputed from point data.
func NodeBounds(cube Bounds, key VoxelKey) Bounds {
	cells := float64(int64(1) << uint(key.Level))
	size := r3.Vector{
		X: (cube.Max.X - cube.Min.X) / cells,
		Y: (cube.Max.Y - cube.Min.Y) / cells,
		Z: (cube.Max.Z - cube.Min.Z) / cells,
	}
	lo := r3.Vector{
		X: cube.Min.X + float64(key.X)*size.X,
		Y: cube.Min.Y + float64(key.Y)*size.Y,
		Z: cube.Min.Z + float64(key.Z)*size.Z,
	}
	return Bounds{Min: lo, Max: lo.Add(size)}
}

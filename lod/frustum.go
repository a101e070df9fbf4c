package lod

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"

	"github.com/vaxelben/lidar-viewer/copc"
)

type plane struct {
	normal r3.Vector
	d      float64
}

// Frustum is the camera's view volume as six inward-facing planes.
type Frustum [6]plane

// FrustumFromMatrix extracts the clip planes of a view-projection matrix
// (Gribb-Hartmann).
func FrustumFromMatrix(m mgl64.Mat4) Frustum {
	row := func(i int) mgl64.Vec4 {
		return mgl64.Vec4{m.At(i, 0), m.At(i, 1), m.At(i, 2), m.At(i, 3)}
	}
	r0, r1, r2, r3v := row(0), row(1), row(2), row(3)

	var f Frustum
	for i, v := range [6]mgl64.Vec4{
		r3v.Add(r0), // left
		r3v.Sub(r0), // right
		r3v.Add(r1), // bottom
		r3v.Sub(r1), // top
		r3v.Add(r2), // near
		r3v.Sub(r2), // far
	} {
		n := r3.Vector{X: v.X(), Y: v.Y(), Z: v.Z()}
		length := n.Norm()
		if length == 0 || math.IsNaN(length) {
			continue
		}
		f[i] = plane{normal: n.Mul(1 / length), d: v.W() / length}
	}
	return f
}

// Intersects reports whether the box touches the view volume, testing the
// box vertex farthest along each plane normal.
func (f Frustum) Intersects(b copc.Bounds) bool {
	for _, p := range f {
		if p.normal == (r3.Vector{}) {
			continue
		}
		v := b.Min
		if p.normal.X >= 0 {
			v.X = b.Max.X
		}
		if p.normal.Y >= 0 {
			v.Y = b.Max.Y
		}
		if p.normal.Z >= 0 {
			v.Z = b.Max.Z
		}
		if p.normal.Dot(v)+p.d < 0 {
			return false
		}
	}
	return true
}

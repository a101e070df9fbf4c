// Package lod computes, per update cycle, which octree nodes belong in the
// render set and which missing nodes should be fetched, based on camera
// distance and frustum visibility.
package lod

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// Camera is the read-only per-frame view input supplied by the render loop.
// Position is world space relative to the fixed global origin shared by all
// files; ViewProjection is projection multiplied by view.
type Camera struct {
	Position       r3.Vector
	ViewProjection mgl64.Mat4
}

// LookAt builds a camera at eye looking toward target with a perspective
// projection. fovy is in radians, up is +z.
func LookAt(eye, target r3.Vector, fovy, aspect, near, far float64) Camera {
	proj := mgl64.Perspective(fovy, aspect, near, far)
	view := mgl64.LookAtV(
		mgl64.Vec3{eye.X, eye.Y, eye.Z},
		mgl64.Vec3{target.X, target.Y, target.Z},
		mgl64.Vec3{0, 0, 1},
	)
	return Camera{Position: eye, ViewProjection: proj.Mul4(view)}
}

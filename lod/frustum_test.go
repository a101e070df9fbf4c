package lod

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/vaxelben/lidar-viewer/copc"
)

func boxAt(center r3.Vector, half float64) copc.Bounds {
	h := r3.Vector{X: half, Y: half, Z: half}
	return copc.Bounds{Min: center.Sub(h), Max: center.Add(h)}
}

func TestFrustumCulling(t *testing.T) {
	// camera at origin looking down +x
	cam := LookAt(r3.Vector{}, r3.Vector{X: 1}, math.Pi/3, 1, 0.1, 1000)
	frustum := FrustumFromMatrix(cam.ViewProjection)

	test.That(t, frustum.Intersects(boxAt(r3.Vector{X: 100}, 5)), test.ShouldBeTrue)
	// behind the camera
	test.That(t, frustum.Intersects(boxAt(r3.Vector{X: -100}, 5)), test.ShouldBeFalse)
	// far off to the side
	test.That(t, frustum.Intersects(boxAt(r3.Vector{X: 10, Y: 500}, 5)), test.ShouldBeFalse)
	// beyond the far plane
	test.That(t, frustum.Intersects(boxAt(r3.Vector{X: 5000}, 5)), test.ShouldBeFalse)
	// straddling the near plane
	test.That(t, frustum.Intersects(boxAt(r3.Vector{}, 1)), test.ShouldBeTrue)
	// large box surrounding the whole frustum
	test.That(t, frustum.Intersects(boxAt(r3.Vector{}, 5000)), test.ShouldBeTrue)
}

func TestRequiredLODScenarios(t *testing.T) {
	bounds := boxAt(r3.Vector{X: 50}, 10)
	width := bounds.Diagonal()
	target := bounds.Center()
	const maxLevel = 4

	eyeAt := func(widths float64) Camera {
		eye := target.Sub(r3.Vector{X: widths * width})
		return LookAt(eye, target, math.Pi/3, 1, 0.01, 1e6)
	}

	// distance 0.4 widths: floor(5 - 0.2) = 4
	cam := eyeAt(0.4)
	frustum := FrustumFromMatrix(cam.ViewProjection)
	required, distance := RequiredLOD(cam, frustum, bounds, maxLevel)
	test.That(t, required, test.ShouldEqual, int32(4))
	test.That(t, distance, test.ShouldAlmostEqual, 0.4*width, 1e-9)

	// distance 3 widths: floor(5 - 1.5) = 3
	required, _ = RequiredLOD(eyeAt(3), FrustumFromMatrix(eyeAt(3).ViewProjection), bounds, maxLevel)
	test.That(t, required, test.ShouldEqual, int32(3))

	// very far: floored at the minimum
	required, _ = RequiredLOD(eyeAt(50), FrustumFromMatrix(eyeAt(50).ViewProjection), bounds, maxLevel)
	test.That(t, required, test.ShouldEqual, int32(1))

	// very close: clamped to the file's deepest level
	required, _ = RequiredLOD(eyeAt(0.01), FrustumFromMatrix(eyeAt(0.01).ViewProjection), bounds, maxLevel)
	test.That(t, required, test.ShouldEqual, int32(maxLevel))

	// outside the frustum: forced to the minimum regardless of distance
	behind := LookAt(target.Sub(r3.Vector{X: 0.4 * width}), target.Sub(r3.Vector{X: 2 * width}), math.Pi/3, 1, 0.01, 1e6)
	required, _ = RequiredLOD(behind, FrustumFromMatrix(behind.ViewProjection), bounds, maxLevel)
	test.That(t, required, test.ShouldEqual, int32(1))
}

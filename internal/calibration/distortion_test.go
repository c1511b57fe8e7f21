package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectUnproject_RoundTrip(t *testing.T) {
	t.Parallel()

	rational := syntheticDepthNative
	rational.Model = ModelRational6KT

	lenses := map[string]Intrinsics{
		"depth":          syntheticDepthNative,
		"color":          syntheticColorNative,
		"depth rational": rational,
		"pinhole":        {Fx: 500, Fy: 500, Cx: 320, Cy: 240},
	}

	for name, in := range lenses {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			for x := -0.45; x <= 0.45; x += 0.15 {
				for y := -0.45; y <= 0.45; y += 0.15 {
					xy := Point2{X: x, Y: y}
					uv, ok := in.Project(xy)
					if !ok {
						t.Fatalf("Project(%v) invalid", xy)
					}
					back, ok := in.Unproject(uv)
					if !ok {
						t.Fatalf("Unproject(%v) invalid", uv)
					}
					assert.InDelta(t, xy.X, back.X, 1e-6, "x for %v", xy)
					assert.InDelta(t, xy.Y, back.Y, 1e-6, "y for %v", xy)
				}
			}
		})
	}
}

func TestProject_PrincipalPoint(t *testing.T) {
	t.Parallel()

	uv, ok := syntheticColorNative.Project(Point2{})
	assert.True(t, ok)
	assert.Equal(t, syntheticColorNative.Cx, uv.X)
	assert.Equal(t, syntheticColorNative.Cy, uv.Y)
}

func TestProject_OutsideMetricRadius(t *testing.T) {
	t.Parallel()

	in := syntheticDepthNative
	_, ok := in.Project(Point2{X: 1.8, Y: 0})
	assert.False(t, ok)

	_, ok = in.Project(Point2{X: 1.3, Y: 1.3})
	assert.False(t, ok)

	// A zero radius disables the bound.
	in = Intrinsics{Fx: 100, Fy: 100}
	uv, ok := in.Project(Point2{X: 10, Y: -10})
	assert.True(t, ok)
	assert.InDelta(t, 1000, uv.X, 1e-9)
	assert.InDelta(t, -1000, uv.Y, 1e-9)
}

func TestProject_TangentialCrossTerm(t *testing.T) {
	t.Parallel()

	bc := Intrinsics{Fx: 1, Fy: 1, P1: 0.01}
	kt := bc
	kt.Model = ModelRational6KT

	xy := Point2{X: 0.3, Y: 0.2}
	a, _ := bc.Project(xy)
	b, _ := kt.Project(xy)

	// With only p1 set the x term is cross·x·y·p1.
	assert.InDelta(t, 0.3+2*0.06*0.01, a.X, 1e-12)
	assert.InDelta(t, 0.3+1*0.06*0.01, b.X, 1e-12)
}

func TestUnproject_ZeroFocalLength(t *testing.T) {
	t.Parallel()

	in := syntheticDepthNative
	in.Fx = 0
	xy, ok := in.Unproject(Point2{X: 100, Y: 100})
	assert.False(t, ok)
	assert.Equal(t, Point2{}, xy)
}

func TestUnproject_OutsideLensIsInvalid(t *testing.T) {
	t.Parallel()

	// Far corner of a wide image: no point inside the metric radius maps there.
	in := syntheticDepthNative
	_, ok := in.Unproject(Point2{X: in.Cx + 4*in.Fx, Y: in.Cy + 4*in.Fy})
	assert.False(t, ok)
}

func TestProject_NonFiniteIsInvalid(t *testing.T) {
	t.Parallel()

	in := Intrinsics{Fx: 100, Fy: 100}
	_, ok := in.Project(Point2{X: math.Inf(1), Y: 0})
	assert.False(t, ok)
}

package calibration

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depth.capture/internal/testutil"
)

func newTestCalibration(t *testing.T, depthMode DepthMode, colorRes ColorResolution) *Calibration {
	t.Helper()
	raw, err := Synthetic(depthMode, colorRes)
	require.NoError(t, err)
	c, err := New(raw)
	require.NoError(t, err)
	return c
}

func TestNew_ValidatesRotation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Raw)
	}{
		{"scaled color rotation", func(r *Raw) {
			r.Color.Extrinsics.Rotation = [9]float64{2, 0, 0, 0, 2, 0, 0, 0, 2}
		}},
		{"reflected gyro rotation", func(r *Raw) {
			r.Gyro.Rotation = [9]float64{-1, 0, 0, 0, 1, 0, 0, 0, 1}
		}},
		{"sheared accel rotation", func(r *Raw) {
			r.Accel.Rotation = [9]float64{1, 0.2, 0, 0, 1, 0, 0, 0, 1}
		}},
		{"nan translation", func(r *Raw) {
			r.Color.Extrinsics.Translation[1] = math.NaN()
		}},
		{"zero depth focal length", func(r *Raw) {
			r.Depth.Intrinsics.Fx = 0
		}},
		{"negative metric radius", func(r *Raw) {
			r.Color.Intrinsics.MetricRadius = -1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Synthetic(DepthModeNFOVUnbinned, ColorResolution720P)
			require.NoError(t, err)
			tt.mutate(&raw)

			_, err = New(raw)
			assert.ErrorIs(t, err, ErrInvalidCalibration)
		})
	}
}

func TestNew_CopiesRecord(t *testing.T) {
	t.Parallel()

	raw, err := Synthetic(DepthModeNFOVUnbinned, ColorResolution720P)
	require.NoError(t, err)
	c, err := New(raw)
	require.NoError(t, err)

	raw.Depth.Intrinsics.Fx = 1
	raw.Color.Extrinsics.Translation[0] = 1000

	in, err := c.Intrinsics(SpaceDepth)
	require.NoError(t, err)
	assert.InDelta(t, 504.5, in.Fx, 1e-9)

	origin, err := c.Transform3DTo3D(r3.Vec{}, SpaceDepth, SpaceColor)
	require.NoError(t, err)
	assert.InDelta(t, -32.0, origin.X, 1e-9)
}

func TestIntrinsicMatrix(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	for _, space := range []Space{SpaceDepth, SpaceColor} {
		in, err := c.Intrinsics(space)
		require.NoError(t, err)
		k, err := c.IntrinsicMatrix(space)
		require.NoError(t, err)

		want := [3][3]float64{
			{in.Fx, 0, in.Cx},
			{0, in.Fy, in.Cy},
			{0, 0, 1},
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				if got := k.At(i, j); got != want[i][j] {
					t.Errorf("%s K[%d][%d] = %g, want %g", space, i, j, got, want[i][j])
				}
			}
		}
	}

	k, err := c.IntrinsicMatrix(SpaceDepth)
	require.NoError(t, err)
	assert.InDelta(t, 504.5, k.At(0, 0), 1e-9)
	assert.InDelta(t, 322.2, k.At(0, 2), 1e-9)
	assert.InDelta(t, 289.4, k.At(1, 2), 1e-9)
}

func TestIntrinsicMatrix_NonCameraSpace(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	for _, space := range []Space{SpaceGyro, SpaceAccel, Space(42), Space(-1)} {
		_, err := c.IntrinsicMatrix(space)
		if !errors.Is(err, ErrUnknownCameraSpace) {
			t.Errorf("IntrinsicMatrix(%s) error = %v, want ErrUnknownCameraSpace", space, err)
		}
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("IntrinsicMatrix(%s) error should also be an invalid argument", space)
		}
	}
}

func TestTransform3DTo3D_RoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeWFOV2x2Binned, ColorResolution1080P)

	points := []r3.Vec{
		{},
		{X: 100, Y: -50, Z: 1500},
		{X: -731.5, Y: 402.25, Z: 3210},
		{X: 1, Y: 1, Z: -1},
	}
	spaces := []Space{SpaceDepth, SpaceColor, SpaceGyro, SpaceAccel}

	for _, src := range spaces {
		for _, dst := range spaces {
			if src == dst {
				continue
			}
			for _, p := range points {
				q, err := c.Transform3DTo3D(p, src, dst)
				require.NoError(t, err)
				back, err := c.Transform3DTo3D(q, dst, src)
				require.NoError(t, err)
				testutil.AssertVecNear(t, back, p, 1e-6)
			}
		}
	}
}

func TestTransform3DTo3D_SameSpaceIsIdentity(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	p := r3.Vec{X: 12.5, Y: -3, Z: 800}
	for s := SpaceDepth; s < numSpaces; s++ {
		q, err := c.Transform3DTo3D(p, s, s)
		require.NoError(t, err)
		assert.Equal(t, p, q)
	}
}

func TestTransform3DTo3D_Composes(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	p := r3.Vec{X: -220, Y: 140, Z: 2100}
	viaGyro, err := c.Transform3DTo3D(p, SpaceColor, SpaceGyro)
	require.NoError(t, err)
	viaGyro, err = c.Transform3DTo3D(viaGyro, SpaceGyro, SpaceAccel)
	require.NoError(t, err)
	direct, err := c.Transform3DTo3D(p, SpaceColor, SpaceAccel)
	require.NoError(t, err)

	testutil.AssertVecNear(t, viaGyro, direct, 1e-6)
}

func TestTransform3DTo3D_DepthOriginIsColorTranslation(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	q, err := c.Transform3DTo3D(r3.Vec{}, SpaceDepth, SpaceColor)
	require.NoError(t, err)
	testutil.AssertVecNear(t, q, r3.Vec{X: -32.0, Y: -2.1, Z: 3.9}, 1e-9)
}

func TestTransform3DTo3D_UnknownSpace(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	_, err := c.Transform3DTo3D(r3.Vec{Z: 1}, SpaceDepth, Space(7))
	assert.ErrorIs(t, err, ErrUnknownCameraSpace)
	_, err = c.Transform3DTo3D(r3.Vec{Z: 1}, numSpaces, SpaceDepth)
	assert.ErrorIs(t, err, ErrUnknownCameraSpace)
}

func TestTransform2DTo3D_RoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	for _, x := range []float64{160, 240, 320, 400, 480} {
		for _, y := range []float64{144, 288, 432} {
			p := Point2{X: x, Y: y}
			for _, depth := range []float64{600, 1500, 4000} {
				q, ok, err := c.Transform2DTo3D(p, depth, SpaceDepth, SpaceColor)
				require.NoError(t, err)
				require.True(t, ok, "depth pixel %v at %gmm should unproject", p, depth)

				back, ok, err := c.Transform3DTo2D(q, SpaceColor, SpaceDepth)
				require.NoError(t, err)
				require.True(t, ok)
				assert.InDelta(t, p.X, back.X, 1e-2, "x for %v at %gmm", p, depth)
				assert.InDelta(t, p.Y, back.Y, 1e-2, "y for %v at %gmm", p, depth)
			}
		}
	}
}

func TestTransform2DTo3D_DepthAlongOpticalAxis(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	q, ok, err := c.Transform2DTo3D(Point2{X: 322.2, Y: 289.4}, 1234, SpaceDepth, SpaceDepth)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1234, q.Z, 1e-9)
	assert.InDelta(t, 0, q.X, 0.5)
	assert.InDelta(t, 0, q.Y, 0.5)
}

func TestTransform2DTo3D_NonPositiveDepthIsInvalid(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	for _, depth := range []float64{0, -1, -1500, math.NaN(), math.Inf(1)} {
		q, ok, err := c.Transform2DTo3D(Point2{X: 320, Y: 288}, depth, SpaceDepth, SpaceColor)
		require.NoError(t, err)
		assert.False(t, ok, "depth %g", depth)
		assert.Equal(t, r3.Vec{}, q)
	}
}

func TestTransform2DTo3D_NonCameraSource(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	_, _, err := c.Transform2DTo3D(Point2{X: 1, Y: 1}, 1000, SpaceGyro, SpaceDepth)
	assert.ErrorIs(t, err, ErrUnknownCameraSpace)
	_, _, err = c.Transform3DTo2D(r3.Vec{Z: 1000}, SpaceDepth, SpaceAccel)
	assert.ErrorIs(t, err, ErrUnknownCameraSpace)
}

func TestTransform3DTo2D_BehindCameraIsInvalid(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	for _, p := range []r3.Vec{{Z: 0}, {X: 10, Y: 10, Z: -500}} {
		uv, ok, err := c.Transform3DTo2D(p, SpaceDepth, SpaceDepth)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, Point2{}, uv)
	}
}

func TestTransform3DTo2D_OutsideMetricRadiusIsInvalid(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeWFOVUnbinned, ColorResolution720P)

	// 80 degrees off axis is well beyond either lens.
	_, ok, err := c.Transform3DTo2D(r3.Vec{X: 5671, Y: 0, Z: 1000}, SpaceDepth, SpaceDepth)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransform2DTo2D_ColorRoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeWFOV2x2Binned, ColorResolution720P)

	for _, p := range []Point2{{X: 640, Y: 360}, {X: 400, Y: 250}, {X: 900, Y: 480}} {
		d, ok, err := c.Transform2DTo2D(p, 2000, SpaceColor, SpaceDepth)
		require.NoError(t, err)
		require.True(t, ok, "color pixel %v", p)

		// The depth of the same surface seen from the depth camera.
		q, _, err := c.Transform2DTo3D(p, 2000, SpaceColor, SpaceDepth)
		require.NoError(t, err)

		back, ok, err := c.Transform2DTo2D(d, q.Z, SpaceDepth, SpaceColor)
		require.NoError(t, err)
		require.True(t, ok)
		assert.InDelta(t, p.X, back.X, 1e-2)
		assert.InDelta(t, p.Y, back.Y, 1e-2)
	}
}

func TestTransform2DTo2D_SameSpace(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	p := Point2{X: 17.25, Y: 600.5}
	q, ok, err := c.Transform2DTo2D(p, 900, SpaceColor, SpaceColor)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, p, q)

	_, ok, err = c.Transform2DTo2D(p, 0, SpaceColor, SpaceColor)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.Transform2DTo2D(p, 900, SpaceGyro, SpaceGyro)
	assert.ErrorIs(t, err, ErrUnknownCameraSpace)
}

func TestCamera(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOV2x2Binned, ColorResolution1536P)

	depth, err := c.Camera(SpaceDepth)
	require.NoError(t, err)
	assert.Equal(t, 320, depth.Width)
	assert.Equal(t, 288, depth.Height)
	assert.Equal(t, IdentityExtrinsics(), depth.Extrinsics)

	color, err := c.Camera(SpaceColor)
	require.NoError(t, err)
	assert.Equal(t, 2048, color.Width)
	assert.Equal(t, 1536, color.Height)

	_, err = c.Camera(SpaceAccel)
	assert.ErrorIs(t, err, ErrUnknownCameraSpace)

	assert.Equal(t, DepthModeNFOV2x2Binned, c.DepthMode())
	assert.Equal(t, ColorResolution1536P, c.ColorResolution())
}

func TestMarshalJSON(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution2160P)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded Raw
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(c.Raw(), decoded); diff != "" {
		t.Errorf("decoded calibration mismatch (-want +got):\n%s", diff)
	}
}

func TestString(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	s := c.String()
	rgb := strings.Index(s, "Rgb Intrinsic parameters:")
	depth := strings.Index(s, "Depth Intrinsic parameters:")
	require.GreaterOrEqual(t, rgb, 0)
	require.Greater(t, depth, rgb)
	assert.Contains(t, s, "\tfx: 504.5\n")
	assert.Contains(t, s, "\tmetric_radius: 1.74\n")
	assert.Equal(t, 2, strings.Count(s, "metric_radius"))
}

func TestSpace(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "depth", SpaceDepth.String())
	assert.Equal(t, "accel", SpaceAccel.String())
	assert.Equal(t, "Space(9)", Space(9).String())
	assert.True(t, SpaceGyro.Valid())
	assert.False(t, numSpaces.Valid())
	assert.True(t, SpaceColor.IsCamera())
	assert.False(t, SpaceGyro.IsCamera())
}

func TestRotateVector(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	g := r3.Vec{X: 0.1, Y: -9.7, Z: 1.2}
	inDepth, err := c.RotateVector(g, SpaceAccel, SpaceDepth)
	require.NoError(t, err)
	assert.InDelta(t, r3.Norm(g), r3.Norm(inDepth), 1e-9)

	// Rotation is the difference of two transformed points.
	a, err := c.Transform3DTo3D(g, SpaceAccel, SpaceDepth)
	require.NoError(t, err)
	o, err := c.Transform3DTo3D(r3.Vec{}, SpaceAccel, SpaceDepth)
	require.NoError(t, err)
	testutil.AssertVecNear(t, inDepth, r3.Sub(a, o), 1e-9)

	_, err = c.RotateVector(g, SpaceAccel, Space(12))
	assert.ErrorIs(t, err, ErrUnknownCameraSpace)
}

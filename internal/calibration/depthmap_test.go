package calibration

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatDepthMap(w, h int, mm uint16) *DepthMap {
	m := NewDepthMap(w, h)
	for i := range m.Data {
		m.Data[i] = mm
	}
	return m
}

func TestMapColorPixelToDepthPixel_FlatSurface(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)
	depth := flatDepthMap(640, 576, 1000)

	for _, want := range []Point2{{X: 320, Y: 288}, {X: 250, Y: 300}, {X: 400, Y: 200}} {
		p, ok, err := c.Transform2DTo2D(want, 1000, SpaceDepth, SpaceColor)
		require.NoError(t, err)
		require.True(t, ok)

		got, ok, err := c.MapColorPixelToDepthPixel(p, depth)
		require.NoError(t, err)
		require.True(t, ok, "color pixel %v should find a depth match", p)
		assert.Equal(t, want, got)
	}
}

func TestMapColorPixelToDepthPixel_NoMeasurements(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	got, ok, err := c.MapColorPixelToDepthPixel(Point2{X: 640, Y: 360}, NewDepthMap(640, 576))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Point2{}, got)
}

func TestMapColorPixelToDepthPixel_BadInput(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	_, _, err := c.MapColorPixelToDepthPixel(Point2{X: 640, Y: 360}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = c.MapColorPixelToDepthPixel(Point2{X: 640, Y: 360}, NewDepthMap(320, 288))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = c.MapColorPixelToDepthPixel(Point2{X: 640, Y: 360}, &DepthMap{Width: 640, Height: 576})
	assert.ErrorIs(t, err, ErrInvalidArgument, "missing samples")

	_, _, err = c.MapColorPixelToDepthPixel(Point2{X: 640, Y: 360}, (*DepthMap)(nil))
	assert.ErrorIs(t, err, ErrInvalidArgument, "typed nil")
}

// stepDepthMap is a box at near mm covering columns left of edge, in front
// of a wall at far mm.
func stepDepthMap(w, h, edge int, near, far uint16) *DepthMap {
	m := NewDepthMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mm := far
			if x < edge {
				mm = near
			}
			m.Set(x, y, mm)
		}
	}
	return m
}

func TestMapColorPixelToDepthPixel_StepEdge(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)
	const edge, near, far = 320, 800, 3000
	depth := stepDepthMap(640, 576, edge, near, far)
	tol := c.colorMatchTolerance()

	for _, y := range []int{250, 288, 330} {
		for x := edge - 10; x < edge+10; x++ {
			want := Point2{X: float64(x), Y: float64(y)}
			mm := float64(depth.DepthAt(x, y))
			p, ok, err := c.Transform2DTo2D(want, mm, SpaceDepth, SpaceColor)
			require.NoError(t, err)
			require.True(t, ok)

			got, ok, err := c.MapColorPixelToDepthPixel(p, depth)
			require.NoError(t, err)
			require.True(t, ok, "color pixel %v should find a depth match", p)
			assert.Equal(t, want, got)

			back, ok, err := c.Transform2DTo2D(got, float64(depth.DepthAt(int(got.X), int(got.Y))), SpaceDepth, SpaceColor)
			require.NoError(t, err)
			require.True(t, ok)
			assert.LessOrEqual(t, math.Hypot(back.X-p.X, back.Y-p.Y), tol)
		}
	}
}

func TestMapColorPixelToDepthPixel_NarrowBoxDefeatsFlatAssumption(t *testing.T) {
	t.Parallel()
	c := newTestCalibration(t, DepthModeNFOVUnbinned, ColorResolution720P)

	// A 16 pixel wide box at 800mm in front of a 3000mm wall. The disparity
	// between the two depths is about 15 depth pixels, so assuming the wall
	// depth for a box pixel lands on the wall whichever way it shifts.
	const boxLeft, boxRight, near, far = 312, 328, 800, 3000
	depth := NewDepthMap(640, 576)
	for y := 0; y < 576; y++ {
		for x := 0; x < 640; x++ {
			mm := uint16(far)
			if x >= boxLeft && x < boxRight {
				mm = near
			}
			depth.Set(x, y, mm)
		}
	}

	src := Point2{X: 320, Y: 288}
	p, ok, err := c.Transform2DTo2D(src, near, SpaceDepth, SpaceColor)
	require.NoError(t, err)
	require.True(t, ok)

	guess, ok, err := c.Transform2DTo2D(p, far, SpaceColor, SpaceDepth)
	require.NoError(t, err)
	require.True(t, ok)
	gx := int(math.Round(guess.X))
	assert.False(t, gx >= boxLeft && gx < boxRight, "flat guess %v should miss the box", guess)
	assert.Equal(t, uint16(far), depth.DepthAt(gx, int(math.Round(guess.Y))))

	got, ok, err := c.MapColorPixelToDepthPixel(p, depth)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, src, got)
}

func TestDepthMap(t *testing.T) {
	t.Parallel()

	m := NewDepthMap(4, 3)
	m.Set(1, 2, 1500)
	m.Set(-1, 0, 9)
	m.Set(4, 0, 9)

	w, h := m.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, h)
	assert.Equal(t, uint16(1500), m.DepthAt(1, 2))
	assert.Equal(t, uint16(0), m.DepthAt(0, 0))
	assert.Equal(t, uint16(0), m.DepthAt(10, 10))
	assert.Equal(t, uint16(1500), m.Data[2*4+1])
}

func TestDepthMap_Valid(t *testing.T) {
	t.Parallel()

	var nilMap *DepthMap
	assert.False(t, nilMap.Valid())
	w, h := nilMap.Size()
	assert.Zero(t, w)
	assert.Zero(t, h)
	assert.Equal(t, uint16(0), nilMap.DepthAt(0, 0))

	short := &DepthMap{Width: 4, Height: 3, Data: make([]uint16, 5)}
	assert.False(t, short.Valid())
	assert.Equal(t, uint16(0), short.DepthAt(3, 2))
	short.Set(3, 2, 100)

	assert.True(t, NewDepthMap(4, 3).Valid())
}

func TestDepthMapFromGray16(t *testing.T) {
	t.Parallel()

	img := image.NewGray16(image.Rect(10, 20, 13, 22))
	img.SetGray16(11, 21, color.Gray16{Y: 2345})

	m := DepthMapFromGray16(img)
	assert.Equal(t, 3, m.Width)
	assert.Equal(t, 2, m.Height)
	assert.Equal(t, uint16(2345), m.DepthAt(1, 1))
	assert.Equal(t, uint16(0), m.DepthAt(0, 0))
}

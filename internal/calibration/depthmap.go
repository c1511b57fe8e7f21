package calibration

import (
	"fmt"
	"image"
	"math"
)

const (
	// Depth search range for MapColorPixelToDepthPixel, in millimetres.
	searchMinDepthMM = 50
	searchMaxDepthMM = 14000

	// searchStepPx is the nominal sampling step along the epipolar curve.
	searchStepPx = 0.5
	// searchFallbackSteps is used when either end of the range falls outside
	// the depth camera's lens model.
	searchFallbackSteps = 4096

	// ColorMatchTolerance is the largest distance, in depth-pixel footprints
	// measured in the color image, at which a depth sample still counts as
	// the match for a color pixel.
	ColorMatchTolerance = 1.5
)

// DepthReader is a read-only depth image in millimetres. Zero means no
// measurement.
type DepthReader interface {
	Size() (width, height int)
	DepthAt(x, y int) uint16
}

// DepthMap is a row-major depth image in millimetres.
type DepthMap struct {
	Width  int
	Height int
	Data   []uint16
}

// NewDepthMap allocates a zeroed depth map.
func NewDepthMap(width, height int) *DepthMap {
	return &DepthMap{Width: width, Height: height, Data: make([]uint16, width*height)}
}

// DepthMapFromGray16 copies a 16-bit grayscale image whose samples are
// millimetres.
func DepthMapFromGray16(img *image.Gray16) *DepthMap {
	b := img.Bounds()
	m := NewDepthMap(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			m.Data[y*m.Width+x] = img.Gray16At(b.Min.X+x, b.Min.Y+y).Y
		}
	}
	return m
}

// Valid reports whether m is non-nil and Data holds exactly Width*Height
// samples.
func (m *DepthMap) Valid() bool {
	return m != nil && m.Width >= 0 && m.Height >= 0 && len(m.Data) == m.Width*m.Height
}

// Size implements DepthReader. A nil map is 0x0.
func (m *DepthMap) Size() (int, int) {
	if m == nil {
		return 0, 0
	}
	return m.Width, m.Height
}

// DepthAt implements DepthReader. Out-of-range coordinates read as 0.
func (m *DepthMap) DepthAt(x, y int) uint16 {
	if !m.Valid() || x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Data[y*m.Width+x]
}

// Set stores a depth sample. Out-of-range coordinates are ignored.
func (m *DepthMap) Set(x, y int, mm uint16) {
	if !m.Valid() || x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Data[y*m.Width+x] = mm
}

// MapColorPixelToDepthPixel finds the depth pixel that observes the same
// surface as a color pixel. A color ray crosses many depth pixels, each
// with its own measured depth, so the whole depth image is needed: the
// search walks the ray's image in the depth camera between the minimum and
// maximum range, re-projects every depth pixel it crosses into the color
// image and keeps the closest. valid is false when no sample lands within
// ColorMatchTolerance.
func (c *Calibration) MapColorPixelToDepthPixel(p Point2, depth DepthReader) (Point2, bool, error) {
	if depth == nil {
		return Point2{}, false, fmt.Errorf("%w: nil depth image", ErrInvalidArgument)
	}
	if m, ok := depth.(*DepthMap); ok && !m.Valid() {
		if m == nil {
			return Point2{}, false, fmt.Errorf("%w: nil depth image", ErrInvalidArgument)
		}
		return Point2{}, false, fmt.Errorf("%w: depth image has %d samples for %dx%d",
			ErrInvalidArgument, len(m.Data), m.Width, m.Height)
	}
	w, h := depth.Size()
	if dw, dh := c.raw.Depth.Width, c.raw.Depth.Height; dw > 0 && dh > 0 && (w != dw || h != dh) {
		return Point2{}, false, fmt.Errorf("%w: depth image is %dx%d, calibration expects %dx%d",
			ErrInvalidArgument, w, h, dw, dh)
	}

	// Lens distortion bends the epipolar line, so the walk follows the ray
	// itself. Pixel position is close to linear in inverse depth; the step
	// count is doubled to keep consecutive samples under a pixel apart.
	steps := searchFallbackSteps
	start, okStart, err := c.Transform2DTo2D(p, searchMinDepthMM, SpaceColor, SpaceDepth)
	if err != nil {
		return Point2{}, false, err
	}
	stop, okStop, _ := c.Transform2DTo2D(p, searchMaxDepthMM, SpaceColor, SpaceDepth)
	if okStart && okStop {
		steps = 2 * int(math.Ceil(math.Hypot(stop.X-start.X, stop.Y-start.Y)/searchStepPx))
	}
	nearW := 1.0 / searchMinDepthMM
	farW := 1.0 / searchMaxDepthMM

	best := Point2{}
	bestErr := math.MaxFloat64
	lastX, lastY := math.MinInt, math.MinInt
	for i := 0; i <= steps; i++ {
		t := 0.0
		if steps > 0 {
			t = float64(i) / float64(steps)
		}
		along, ok, _ := c.Transform2DTo2D(p, 1/(nearW+t*(farW-nearW)), SpaceColor, SpaceDepth)
		if !ok {
			continue
		}
		x := int(math.Round(along.X))
		y := int(math.Round(along.Y))
		if x == lastX && y == lastY {
			continue
		}
		lastX, lastY = x, y
		if x < 0 || y < 0 || x >= w || y >= h {
			continue
		}

		mm := depth.DepthAt(x, y)
		if mm < searchMinDepthMM || mm > searchMaxDepthMM {
			continue
		}
		candidate := Point2{X: float64(x), Y: float64(y)}
		q, ok, _ := c.Transform2DTo2D(candidate, float64(mm), SpaceDepth, SpaceColor)
		if !ok {
			continue
		}
		if e := math.Hypot(q.X-p.X, q.Y-p.Y); e < bestErr {
			bestErr = e
			best = candidate
		}
	}

	if bestErr > c.colorMatchTolerance() {
		return Point2{}, false, nil
	}
	return best, true, nil
}

// colorMatchTolerance scales ColorMatchTolerance by how many color pixels
// one depth pixel covers.
func (c *Calibration) colorMatchTolerance() float64 {
	ratio := c.raw.Color.Intrinsics.Fx / c.raw.Depth.Intrinsics.Fx
	return ColorMatchTolerance * math.Max(1, ratio)
}

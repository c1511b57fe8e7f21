package calibration

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RotationTolerance is the allowed deviation of a rotation matrix from
// orthonormality (R·Rᵀ = I, det R = 1).
const RotationTolerance = 1e-3

// rigid is a precomputed source-to-target transform q = R·p + T.
type rigid struct {
	rot   *r3.Mat
	trans r3.Vec
}

func (t rigid) apply(p r3.Vec) r3.Vec {
	return r3.Add(t.rot.MulVec(p), t.trans)
}

// Calibration is the immutable geometry of one device for one pair of modes.
type Calibration struct {
	raw     Raw
	cameras [numSpaces]*CameraCalibration
	pairs   [numSpaces][numSpaces]rigid
}

// New validates raw and builds the transform tables. The record is copied;
// later changes to raw do not affect the returned Calibration.
func New(raw Raw) (*Calibration, error) {
	c := &Calibration{raw: raw}

	extrinsics := [numSpaces]Extrinsics{
		SpaceDepth: raw.Depth.Extrinsics,
		SpaceColor: raw.Color.Extrinsics,
		SpaceGyro:  raw.Gyro,
		SpaceAccel: raw.Accel,
	}
	for s, e := range extrinsics {
		if err := validateRotation(e); err != nil {
			return nil, fmt.Errorf("%w: %s extrinsics: %v", ErrInvalidCalibration, Space(s), err)
		}
	}
	if err := validateCamera(raw.Depth); err != nil {
		return nil, fmt.Errorf("%w: depth camera: %v", ErrInvalidCalibration, err)
	}
	if err := validateCamera(raw.Color); err != nil {
		return nil, fmt.Errorf("%w: color camera: %v", ErrInvalidCalibration, err)
	}

	c.cameras[SpaceDepth] = &c.raw.Depth
	c.cameras[SpaceColor] = &c.raw.Color

	// p_dst = R_dst·R_srcᵀ·(p_src - T_src) + T_dst
	for src := Space(0); src < numSpaces; src++ {
		rSrc := extrinsics[src].Matrix()
		tSrc := extrinsics[src].Offset()
		for dst := Space(0); dst < numSpaces; dst++ {
			rDst := extrinsics[dst].Matrix()
			rot := r3.NewMat(nil)
			rot.Mul(rDst, rSrc.T())
			trans := r3.Sub(extrinsics[dst].Offset(), rot.MulVec(tSrc))
			c.pairs[src][dst] = rigid{rot: rot, trans: trans}
		}
	}

	return c, nil
}

func validateRotation(e Extrinsics) error {
	for _, v := range e.Rotation {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("rotation contains non-finite values")
		}
	}
	for _, v := range e.Translation {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("translation contains non-finite values")
		}
	}

	r := e.Matrix()
	if det := r.Det(); math.Abs(det-1) > RotationTolerance {
		return fmt.Errorf("rotation determinant %.6f, want 1", det)
	}
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	if !mat.EqualApprox(&rrt, mat.NewDiagDense(3, []float64{1, 1, 1}), RotationTolerance) {
		return fmt.Errorf("rotation is not orthonormal")
	}
	return nil
}

func validateCamera(cc CameraCalibration) error {
	in := cc.Intrinsics
	if in.Fx <= 0 || in.Fy <= 0 {
		return fmt.Errorf("focal length must be positive, got fx=%g fy=%g", in.Fx, in.Fy)
	}
	if in.MetricRadius < 0 {
		return fmt.Errorf("metric radius must be non-negative, got %g", in.MetricRadius)
	}
	if cc.Width < 0 || cc.Height < 0 {
		return fmt.Errorf("negative image size %dx%d", cc.Width, cc.Height)
	}
	return nil
}

// DepthMode returns the depth mode the calibration was built for.
func (c *Calibration) DepthMode() DepthMode { return c.raw.DepthMode }

// ColorResolution returns the color resolution the calibration was built for.
func (c *Calibration) ColorResolution() ColorResolution { return c.raw.ColorResolution }

// Raw returns a copy of the underlying record.
func (c *Calibration) Raw() Raw { return c.raw }

// MarshalJSON encodes the underlying record.
func (c *Calibration) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.raw)
}

// Camera returns the calibration of a camera space.
func (c *Calibration) Camera(space Space) (CameraCalibration, error) {
	cc, err := c.camera(space)
	if err != nil {
		return CameraCalibration{}, err
	}
	return *cc, nil
}

// Intrinsics returns the lens parameters of a camera space.
func (c *Calibration) Intrinsics(space Space) (Intrinsics, error) {
	cc, err := c.camera(space)
	if err != nil {
		return Intrinsics{}, err
	}
	return cc.Intrinsics, nil
}

func (c *Calibration) camera(space Space) (*CameraCalibration, error) {
	if !space.IsCamera() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCameraSpace, space)
	}
	return c.cameras[space], nil
}

// IntrinsicMatrix returns the pinhole matrix [[fx,0,cx],[0,fy,cy],[0,0,1]]
// for the color or depth camera.
func (c *Calibration) IntrinsicMatrix(space Space) (*mat.Dense, error) {
	cc, err := c.camera(space)
	if err != nil {
		return nil, err
	}
	in := cc.Intrinsics
	return mat.NewDense(3, 3, []float64{
		in.Fx, 0, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	}), nil
}

// Transform3DTo3D re-expresses a point from one sensor space in another.
func (c *Calibration) Transform3DTo3D(p r3.Vec, src, dst Space) (r3.Vec, error) {
	if !src.Valid() || !dst.Valid() {
		return r3.Vec{}, fmt.Errorf("%w: %s -> %s", ErrUnknownCameraSpace, src, dst)
	}
	if src == dst {
		return p, nil
	}
	return c.pairs[src][dst].apply(p), nil
}

// RotateVector re-expresses a direction (an acceleration or angular rate,
// say) in another space. Only the rotation applies.
func (c *Calibration) RotateVector(v r3.Vec, src, dst Space) (r3.Vec, error) {
	if !src.Valid() || !dst.Valid() {
		return r3.Vec{}, fmt.Errorf("%w: %s -> %s", ErrUnknownCameraSpace, src, dst)
	}
	if src == dst {
		return v, nil
	}
	return c.pairs[src][dst].rot.MulVec(v), nil
}

// Transform2DTo3D unprojects a pixel of camera src at the given depth and
// returns the point in dst. valid is false for depth <= 0 or when the pixel
// falls outside the lens model's trusted radius; the point is then zero.
func (c *Calibration) Transform2DTo3D(p Point2, depth float64, src, dst Space) (r3.Vec, bool, error) {
	cc, err := c.camera(src)
	if err != nil {
		return r3.Vec{}, false, err
	}
	if !dst.Valid() {
		return r3.Vec{}, false, fmt.Errorf("%w: %s", ErrUnknownCameraSpace, dst)
	}
	if !(depth > 0) || math.IsInf(depth, 0) {
		return r3.Vec{}, false, nil
	}

	xy, ok := cc.Intrinsics.Unproject(p)
	if !ok {
		return r3.Vec{}, false, nil
	}
	q := r3.Vec{X: xy.X * depth, Y: xy.Y * depth, Z: depth}
	if src != dst {
		q = c.pairs[src][dst].apply(q)
	}
	return q, true, nil
}

// Transform3DTo2D projects a point given in src into the image of camera
// dst. valid is false when the point is behind the camera or outside the
// trusted radius; the pixel is then zero.
func (c *Calibration) Transform3DTo2D(p r3.Vec, src, dst Space) (Point2, bool, error) {
	cc, err := c.camera(dst)
	if err != nil {
		return Point2{}, false, err
	}
	if !src.Valid() {
		return Point2{}, false, fmt.Errorf("%w: %s", ErrUnknownCameraSpace, src)
	}

	q := p
	if src != dst {
		q = c.pairs[src][dst].apply(p)
	}
	if !(q.Z > 0) {
		return Point2{}, false, nil
	}
	uv, ok := cc.Intrinsics.Project(Point2{X: q.X / q.Z, Y: q.Y / q.Z})
	if !ok {
		return Point2{}, false, nil
	}
	return uv, true, nil
}

// Transform2DTo2D maps a pixel of camera src at the given depth to the
// corresponding pixel of camera dst.
func (c *Calibration) Transform2DTo2D(p Point2, depth float64, src, dst Space) (Point2, bool, error) {
	if _, err := c.camera(dst); err != nil {
		return Point2{}, false, err
	}
	if src == dst {
		if _, err := c.camera(src); err != nil {
			return Point2{}, false, err
		}
		if !(depth > 0) {
			return Point2{}, false, nil
		}
		return p, true, nil
	}

	q, ok, err := c.Transform2DTo3D(p, depth, src, dst)
	if err != nil || !ok {
		return Point2{}, false, err
	}
	return c.Transform3DTo2D(q, dst, dst)
}

// String prints the intrinsic parameters of both cameras.
func (c *Calibration) String() string {
	var b strings.Builder
	writeIntrinsics(&b, "Rgb", c.raw.Color.Intrinsics)
	writeIntrinsics(&b, "Depth", c.raw.Depth.Intrinsics)
	return b.String()
}

func writeIntrinsics(b *strings.Builder, label string, in Intrinsics) {
	fmt.Fprintf(b, "%s Intrinsic parameters: \n", label)
	for _, kv := range []struct {
		name string
		v    float64
	}{
		{"cx", in.Cx}, {"cy", in.Cy}, {"fx", in.Fx}, {"fy", in.Fy},
		{"k1", in.K1}, {"k2", in.K2}, {"k3", in.K3},
		{"k4", in.K4}, {"k5", in.K5}, {"k6", in.K6},
		{"codx", in.Codx}, {"cody", in.Cody},
		{"p2", in.P2}, {"p1", in.P1},
		{"metric_radius", in.MetricRadius},
	} {
		fmt.Fprintf(b, "\t%s: %g\n", kv.name, kv.v)
	}
}

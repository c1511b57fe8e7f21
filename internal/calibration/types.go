package calibration

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrInvalidArgument is the root of every argument error in this package.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownCameraSpace is returned when an operation needs a space that
	// has no intrinsics, or a space value outside the known set.
	ErrUnknownCameraSpace = fmt.Errorf("unknown camera space: %w", ErrInvalidArgument)
	// ErrInvalidCalibration is returned by New when the record cannot describe
	// a physical device.
	ErrInvalidCalibration = errors.New("invalid calibration")
)

// Space identifies one sensor coordinate system on the device.
type Space int

const (
	SpaceDepth Space = iota
	SpaceColor
	SpaceGyro
	SpaceAccel

	numSpaces
)

func (s Space) String() string {
	switch s {
	case SpaceDepth:
		return "depth"
	case SpaceColor:
		return "color"
	case SpaceGyro:
		return "gyro"
	case SpaceAccel:
		return "accel"
	}
	return fmt.Sprintf("Space(%d)", int(s))
}

// Valid reports whether s is a known sensor space.
func (s Space) Valid() bool { return s >= SpaceDepth && s < numSpaces }

// IsCamera reports whether s has intrinsics (depth or color).
func (s Space) IsCamera() bool { return s == SpaceDepth || s == SpaceColor }

// Model selects how the tangential terms enter the distortion polynomial.
type Model int

const (
	// ModelBrownConrady doubles the cross term (2·x·y·p), as reported by the
	// depth and color cameras.
	ModelBrownConrady Model = iota
	// ModelRational6KT uses a single cross term.
	ModelRational6KT
)

func (m Model) String() string {
	switch m {
	case ModelBrownConrady:
		return "brown_conrady"
	case ModelRational6KT:
		return "rational_6kt"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// Intrinsics are the lens parameters of one camera.
type Intrinsics struct {
	Model Model `json:"model"`

	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`

	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`
	K4 float64 `json:"k4"`
	K5 float64 `json:"k5"`
	K6 float64 `json:"k6"`

	Codx float64 `json:"codx"`
	Cody float64 `json:"cody"`
	P1   float64 `json:"p1"`
	P2   float64 `json:"p2"`

	// MetricRadius bounds the normalized image radius within which the
	// distortion polynomial is trusted. Zero means unbounded.
	MetricRadius float64 `json:"metric_radius"`
}

// Extrinsics map a point expressed in depth space into the owning sensor's
// space: p_sensor = R·p_depth + T. Rotation is row-major, translation in mm.
type Extrinsics struct {
	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

// IdentityExtrinsics is the depth camera's own pose.
func IdentityExtrinsics() Extrinsics {
	return Extrinsics{Rotation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// Matrix returns the rotation as a gonum 3x3 matrix.
func (e Extrinsics) Matrix() *r3.Mat {
	return r3.NewMat(e.Rotation[:])
}

// Offset returns the translation vector.
func (e Extrinsics) Offset() r3.Vec {
	return r3.Vec{X: e.Translation[0], Y: e.Translation[1], Z: e.Translation[2]}
}

// CameraCalibration is the full description of one camera.
type CameraCalibration struct {
	Intrinsics Intrinsics `json:"intrinsics"`
	Extrinsics Extrinsics `json:"extrinsics"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
}

// Raw is the calibration record as the device reports it for one pair of
// modes. It is plain data; New validates it and builds the transform engine.
type Raw struct {
	DepthMode       DepthMode         `json:"depth_mode"`
	ColorResolution ColorResolution   `json:"color_resolution"`
	Depth           CameraCalibration `json:"depth"`
	Color           CameraCalibration `json:"color"`
	Gyro            Extrinsics        `json:"gyro"`
	Accel           Extrinsics        `json:"accel"`
}

// Point2 is a pixel coordinate.
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

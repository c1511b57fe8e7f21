package calibration

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Reference lens parameters used by Synthetic. The values are typical of a
// factory-calibrated unit: depth sensor at its native 1024x1024 and color
// sensor at its native 4096x3072.
var (
	syntheticDepthNative = Intrinsics{
		Model: ModelBrownConrady,
		Cx:    514.2, Cy: 513.4,
		Fx: 504.5, Fy: 504.6,
		K1: 3.37, K2: 2.19, K3: 0.105,
		K4: 3.69, K5: 3.20, K6: 0.56,
		P1: 6.55e-5, P2: -8.67e-5,
		MetricRadius: 1.74,
	}
	syntheticColorNative = Intrinsics{
		Model: ModelBrownConrady,
		Cx:    2043.2, Cy: 1540.6,
		Fx: 1960.3, Fy: 1959.8,
		K1: 0.56, K2: -2.76, K3: 1.64,
		K4: 0.44, K5: -2.58, K6: 1.56,
		P1: 6.6e-4, P2: -3.4e-4,
		MetricRadius: 1.7,
	}
)

// Synthetic returns a plausible calibration record for the given modes. It
// backs the simulated device and the package tests. Off modes keep the
// reference intrinsics of the most common mode with a 0x0 image size.
func Synthetic(depthMode DepthMode, colorRes ColorResolution) (Raw, error) {
	if !depthMode.Valid() {
		return Raw{}, fmt.Errorf("%w: depth mode %s", ErrInvalidArgument, depthMode)
	}
	if !colorRes.Valid() {
		return Raw{}, fmt.Errorf("%w: color resolution %s", ErrInvalidArgument, colorRes)
	}

	raw := Raw{
		DepthMode:       depthMode,
		ColorResolution: colorRes,
		Depth: CameraCalibration{
			Intrinsics: syntheticDepth(depthMode),
			Extrinsics: IdentityExtrinsics(),
		},
		Color: CameraCalibration{
			Intrinsics: syntheticColor(colorRes),
			Extrinsics: Extrinsics{
				Rotation:    rotationValues(tilt(0.1047, 0.002)),
				Translation: [3]float64{-32.0, -2.1, 3.9},
			},
		},
	}
	raw.Depth.Width, raw.Depth.Height = depthMode.Resolution()
	raw.Color.Width, raw.Color.Height = colorRes.Resolution()

	// The IMU axes are a proper permutation of the depth axes, then tilted
	// with the sensor bar.
	imu := r3.NewMat([]float64{
		0, 0, 1,
		-1, 0, 0,
		0, -1, 0,
	})
	imu.Mul(imu, tilt(-0.1047, 0))
	raw.Gyro = Extrinsics{
		Rotation:    rotationValues(imu),
		Translation: [3]float64{-51.0, 3.5, 1.2},
	}
	raw.Accel = Extrinsics{
		Rotation:    rotationValues(imu),
		Translation: [3]float64{-51.3, 13.8, 1.4},
	}
	return raw, nil
}

func syntheticDepth(mode DepthMode) Intrinsics {
	in := syntheticDepthNative
	switch mode {
	case DepthModeNFOVUnbinned, DepthModeOff:
		in.Cx -= 192
		in.Cy -= 224
	case DepthModeNFOV2x2Binned:
		in.Cx -= 192
		in.Cy -= 224
		in = binned(in)
	case DepthModeWFOV2x2Binned:
		in = binned(in)
	}
	return in
}

func binned(in Intrinsics) Intrinsics {
	in.Cx = (in.Cx+0.5)/2 - 0.5
	in.Cy = (in.Cy+0.5)/2 - 0.5
	in.Fx /= 2
	in.Fy /= 2
	return in
}

func syntheticColor(res ColorResolution) Intrinsics {
	in := syntheticColorNative
	width, height := res.Resolution()
	if res == ColorResolutionOff {
		width, height = ColorResolution720P.Resolution()
	}
	// 16:9 modes crop 4096x2304 out of the middle of the 4:3 sensor.
	if width*9 == height*16 {
		in.Cy -= (3072 - 2304) / 2
	}
	s := float64(width) / 4096
	in.Cx = (in.Cx+0.5)*s - 0.5
	in.Cy = (in.Cy+0.5)*s - 0.5
	in.Fx *= s
	in.Fy *= s
	return in
}

// tilt returns a rotation about x by pitch followed by a rotation about z
// by roll, both in radians.
func tilt(pitch, roll float64) *r3.Mat {
	m := r3.NewMat(nil)
	m.Mul(
		r3.NewRotation(roll, r3.Vec{Z: 1}).Mat(),
		r3.NewRotation(pitch, r3.Vec{X: 1}).Mat(),
	)
	return m
}

func rotationValues(m *r3.Mat) [9]float64 {
	var v [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v[i*3+j] = m.At(i, j)
		}
	}
	return v
}

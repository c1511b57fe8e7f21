package device

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depth.capture/internal/calibration"
)

// IMUSample is the session's reusable IMU record, refreshed in place by
// AcquireIMUSample. Acceleration is in m/s² and angular rate in rad/s, both
// in the sensors' own axes.
type IMUSample struct {
	TemperatureC   float32       `json:"temperature_c"`
	AccelSample    [3]float32    `json:"accel"`
	AccelTimestamp time.Duration `json:"accel_timestamp"`
	GyroSample     [3]float32    `json:"gyro"`
	GyroTimestamp  time.Duration `json:"gyro_timestamp"`
}

// Acceleration returns the accelerometer reading as a vector.
func (s *IMUSample) Acceleration() r3.Vec {
	return r3.Vec{X: float64(s.AccelSample[0]), Y: float64(s.AccelSample[1]), Z: float64(s.AccelSample[2])}
}

// AngularVelocity returns the gyroscope reading as a vector.
func (s *IMUSample) AngularVelocity() r3.Vec {
	return r3.Vec{X: float64(s.GyroSample[0]), Y: float64(s.GyroSample[1]), Z: float64(s.GyroSample[2])}
}

// AccelerationIn rotates the accelerometer reading into another sensor space,
// typically SpaceDepth or SpaceColor to find gravity in a camera frame.
func (s *IMUSample) AccelerationIn(c *calibration.Calibration, dst calibration.Space) (r3.Vec, error) {
	return c.RotateVector(s.Acceleration(), calibration.SpaceAccel, dst)
}

// AngularVelocityIn rotates the gyroscope reading into another sensor space.
func (s *IMUSample) AngularVelocityIn(c *calibration.Calibration, dst calibration.Space) (r3.Vec, error) {
	return c.RotateVector(s.AngularVelocity(), calibration.SpaceGyro, dst)
}

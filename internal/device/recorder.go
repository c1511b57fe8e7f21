package device

import "github.com/banshee-data/depth.capture/internal/calibration"

// Recorder consumes captures while a session records. WriteCapture borrows
// the capture for the duration of the call only.
type Recorder interface {
	WriteCapture(c *Capture) error
	Close() error
}

// RecorderFactory creates the recorder for a session that starts with
// recording enabled.
type RecorderFactory func(h DeviceHandle, cfg Config, path string) (Recorder, error)

// IMURecorder is implemented by recorders that also store IMU samples.
type IMURecorder interface {
	WriteIMUSample(s *IMUSample) error
}

// CalibrationRecorder is implemented by recorders that store the session's
// calibration alongside the captures.
type CalibrationRecorder interface {
	SetCalibration(c *calibration.Calibration) error
}

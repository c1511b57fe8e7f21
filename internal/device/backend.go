package device

import (
	"fmt"
	"time"

	"github.com/banshee-data/depth.capture/internal/calibration"
)

// DeviceHandle is the backend's opaque reference to an open device.
type DeviceHandle uintptr

// CaptureToken is the backend's opaque reference to one acquired capture.
type CaptureToken uintptr

// Result is the status code every backend operation reports.
type Result int

const (
	ResultSucceeded Result = iota
	ResultFailed
	ResultTimeout
	ResultBufferTooSmall
	ResultNotFound
	ResultBusy
	ResultUnsupported
)

func (r Result) String() string {
	switch r {
	case ResultSucceeded:
		return "succeeded"
	case ResultFailed:
		return "failed"
	case ResultTimeout:
		return "timeout"
	case ResultBufferTooSmall:
		return "buffer too small"
	case ResultNotFound:
		return "not found"
	case ResultBusy:
		return "busy"
	case ResultUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// WaitInfinite blocks an acquisition until data arrives or the stream fails.
const WaitInfinite time.Duration = -1

// Backend is every native operation the session consumes. Implementations
// wrap a vendor library or simulate one; none of them are called
// concurrently for the same handle.
type Backend interface {
	// InstalledCount reports how many devices are attached.
	InstalledCount() int
	Open(index int) (DeviceHandle, Result)
	Close(h DeviceHandle)

	StartCameras(h DeviceHandle, cfg Config) Result
	StopCameras(h DeviceHandle)
	StartIMU(h DeviceHandle) Result
	StopIMU(h DeviceHandle)

	// GetCapture blocks for up to timeout (or forever for WaitInfinite).
	GetCapture(h DeviceHandle, timeout time.Duration) (CaptureToken, Result)
	ReleaseCapture(t CaptureToken)
	CaptureInfo(t CaptureToken) (CaptureInfo, Result)
	CaptureDepth(t CaptureToken) (*calibration.DepthMap, Result)

	// GetIMUSample blocks like GetCapture and fills dst in place.
	GetIMUSample(h DeviceHandle, timeout time.Duration, dst *IMUSample) Result

	GetCalibration(h DeviceHandle, depthMode calibration.DepthMode, colorRes calibration.ColorResolution) (calibration.Raw, Result)

	// SerialNumber copies the NUL-terminated serial into buf. When buf is
	// too small it reports the required size with ResultBufferTooSmall.
	SerialNumber(h DeviceHandle, buf []byte) (int, Result)

	SyncJack(h DeviceHandle) (in, out bool, r Result)
	Version(h DeviceHandle) (HardwareVersion, Result)
}

// InstalledCount reports how many devices backend can open.
func InstalledCount(backend Backend) int {
	if backend == nil {
		return 0
	}
	return backend.InstalledCount()
}

// verify turns a non-success result into a *HardwareError.
func verify(r Result, format string, args ...any) error {
	if r == ResultSucceeded {
		return nil
	}
	return &HardwareError{Msg: fmt.Sprintf(format, args...), Code: r}
}

// FirmwareVersion is a major.minor.iteration triple.
type FirmwareVersion struct {
	Major     int `json:"major"`
	Minor     int `json:"minor"`
	Iteration int `json:"iteration"`
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Iteration)
}

// HardwareVersion describes the firmware running on each processor.
type HardwareVersion struct {
	RGB            FirmwareVersion `json:"rgb"`
	Depth          FirmwareVersion `json:"depth"`
	Audio          FirmwareVersion `json:"audio"`
	DepthSensor    FirmwareVersion `json:"depth_sensor"`
	FirmwareBuild  string          `json:"firmware_build"`
	FirmwareSigned bool            `json:"firmware_signed"`
}

// SyncJack reports which wired sync jacks have a cable attached.
type SyncJack struct {
	In  bool `json:"in"`
	Out bool `json:"out"`
}

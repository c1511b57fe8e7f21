package device

import (
	"fmt"
	"time"

	"github.com/banshee-data/depth.capture/internal/calibration"
)

// ImageInfo describes one image in a capture.
type ImageInfo struct {
	Format          ImageFormat   `json:"format"`
	Width           int           `json:"width"`
	Height          int           `json:"height"`
	StrideBytes     int           `json:"stride_bytes"`
	DeviceTimestamp time.Duration `json:"device_timestamp"`
	SystemTimestamp time.Duration `json:"system_timestamp"`
}

// CaptureInfo is the metadata of a capture. Images the device did not
// deliver are nil.
type CaptureInfo struct {
	Color        *ImageInfo `json:"color,omitempty"`
	Depth        *ImageInfo `json:"depth,omitempty"`
	IR           *ImageInfo `json:"ir,omitempty"`
	TemperatureC float32    `json:"temperature_c"`
}

// Capture is the session's single capture slot. It is refreshed in place by
// every AcquireFrame and borrowed by callers; do not keep it past the next
// acquisition.
type Capture struct {
	h     *handles
	token CaptureToken
	seq   uint64
	calib *calibration.Calibration
}

// Handle returns the backend token of the current capture.
func (c *Capture) Handle() CaptureToken { return c.token }

// Sequence numbers acquisitions within a session, starting at 1.
func (c *Capture) Sequence() uint64 { return c.seq }

// Valid reports whether the capture still refers to live backend data.
func (c *Capture) Valid() bool {
	return c != nil && c.h != nil && !c.h.closed && c.h.hasCapture && c.h.capture == c.token
}

// Calibration returns the geometry the capture was taken with.
func (c *Capture) Calibration() *calibration.Calibration { return c.calib }

// Info reads the capture metadata.
func (c *Capture) Info() (CaptureInfo, error) {
	if !c.Valid() {
		return CaptureInfo{}, ErrReleased
	}
	info, r := c.h.backend.CaptureInfo(c.token)
	if err := verify(r, "read capture %d", c.seq); err != nil {
		return CaptureInfo{}, err
	}
	return info, nil
}

// DepthMap copies the depth image out of the capture.
func (c *Capture) DepthMap() (*calibration.DepthMap, error) {
	if !c.Valid() {
		return nil, ErrReleased
	}
	m, r := c.h.backend.CaptureDepth(c.token)
	if err := verify(r, "read depth image of capture %d", c.seq); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("capture %d has no depth image: %w", c.seq, ErrHardware)
	}
	return m, nil
}

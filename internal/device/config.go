package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/depth.capture/internal/calibration"
)

// ImageFormat is the pixel layout of an image in a capture.
type ImageFormat int

const (
	ImageFormatMJPG ImageFormat = iota
	ImageFormatNV12
	ImageFormatYUY2
	ImageFormatBGRA32
	ImageFormatDepth16
	ImageFormatIR16
)

var imageFormatNames = map[ImageFormat]string{
	ImageFormatMJPG:    "mjpg",
	ImageFormatNV12:    "nv12",
	ImageFormatYUY2:    "yuy2",
	ImageFormatBGRA32:  "bgra32",
	ImageFormatDepth16: "depth16",
	ImageFormatIR16:    "ir16",
}

func (f ImageFormat) String() string {
	if name, ok := imageFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("ImageFormat(%d)", int(f))
}

// IsColor reports whether the color camera can produce f.
func (f ImageFormat) IsColor() bool {
	return f >= ImageFormatMJPG && f <= ImageFormatBGRA32
}

// ParseImageFormat accepts the names produced by ImageFormat.String.
func ParseImageFormat(s string) (ImageFormat, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for f, name := range imageFormatNames {
		if name == want {
			return f, nil
		}
	}
	return ImageFormatMJPG, fmt.Errorf("%w: unknown image format %q", ErrInvalidConfig, s)
}

// FPS is the camera frame rate.
type FPS int

const (
	FPS5 FPS = iota
	FPS15
	FPS30
)

// Hz returns the frame rate in frames per second.
func (f FPS) Hz() int {
	switch f {
	case FPS5:
		return 5
	case FPS15:
		return 15
	case FPS30:
		return 30
	}
	return 0
}

// Period returns the time between frames.
func (f FPS) Period() time.Duration {
	if hz := f.Hz(); hz > 0 {
		return time.Second / time.Duration(hz)
	}
	return 0
}

func (f FPS) String() string {
	if hz := f.Hz(); hz > 0 {
		return fmt.Sprintf("%dfps", hz)
	}
	return fmt.Sprintf("FPS(%d)", int(f))
}

// ParseFPS accepts a frame rate in Hz.
func ParseFPS(hz int) (FPS, error) {
	switch hz {
	case 5:
		return FPS5, nil
	case 15:
		return FPS15, nil
	case 30:
		return FPS30, nil
	}
	return FPS30, fmt.Errorf("%w: unsupported frame rate %d", ErrInvalidConfig, hz)
}

// WiredSyncMode selects the device's role on the sync cable.
type WiredSyncMode int

const (
	WiredSyncStandalone WiredSyncMode = iota
	WiredSyncMaster
	WiredSyncSubordinate
)

var wiredSyncNames = map[WiredSyncMode]string{
	WiredSyncStandalone:  "standalone",
	WiredSyncMaster:      "master",
	WiredSyncSubordinate: "subordinate",
}

func (m WiredSyncMode) String() string {
	if name, ok := wiredSyncNames[m]; ok {
		return name
	}
	return fmt.Sprintf("WiredSyncMode(%d)", int(m))
}

// ParseWiredSyncMode accepts the names produced by WiredSyncMode.String.
func ParseWiredSyncMode(s string) (WiredSyncMode, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for m, name := range wiredSyncNames {
		if name == want {
			return m, nil
		}
	}
	return WiredSyncStandalone, fmt.Errorf("%w: unknown wired sync mode %q", ErrInvalidConfig, s)
}

// Config selects what the device streams.
type Config struct {
	ColorFormat     ImageFormat                 `json:"color_format"`
	ColorResolution calibration.ColorResolution `json:"color_resolution"`
	DepthMode       calibration.DepthMode       `json:"depth_mode"`
	FPS             FPS                         `json:"fps"`

	// SynchronizedImagesOnly drops captures that lack either image.
	SynchronizedImagesOnly bool `json:"synchronized_images_only"`
	// DepthDelayOffColor shifts the depth exposure relative to color.
	DepthDelayOffColor time.Duration `json:"depth_delay_off_color"`

	WiredSyncMode             WiredSyncMode `json:"wired_sync_mode"`
	SubordinateDelayOffMaster time.Duration `json:"subordinate_delay_off_master"`
	DisableStreamingIndicator bool          `json:"disable_streaming_indicator"`
}

// DefaultConfig streams 720p MJPG color and unbinned narrow depth at 30 fps.
func DefaultConfig() Config {
	return Config{
		ColorFormat:     ImageFormatMJPG,
		ColorResolution: calibration.ColorResolution720P,
		DepthMode:       calibration.DepthModeNFOVUnbinned,
		FPS:             FPS30,
		WiredSyncMode:   WiredSyncStandalone,
	}
}

// Validate rejects combinations the hardware cannot stream.
func (c Config) Validate() error {
	if !c.ColorFormat.IsColor() {
		return fmt.Errorf("%w: color format %s", ErrInvalidConfig, c.ColorFormat)
	}
	if !c.ColorResolution.Valid() {
		return fmt.Errorf("%w: color resolution %s", ErrInvalidConfig, c.ColorResolution)
	}
	if !c.DepthMode.Valid() {
		return fmt.Errorf("%w: depth mode %s", ErrInvalidConfig, c.DepthMode)
	}
	if c.FPS.Hz() == 0 {
		return fmt.Errorf("%w: frame rate %s", ErrInvalidConfig, c.FPS)
	}
	if _, ok := wiredSyncNames[c.WiredSyncMode]; !ok {
		return fmt.Errorf("%w: wired sync mode %s", ErrInvalidConfig, c.WiredSyncMode)
	}

	colorOn := c.ColorResolution != calibration.ColorResolutionOff
	depthOn := c.DepthMode != calibration.DepthModeOff
	if !colorOn && !depthOn {
		return fmt.Errorf("%w: both cameras are off", ErrInvalidConfig)
	}
	if c.FPS == FPS30 && (c.DepthMode == calibration.DepthModeWFOVUnbinned || c.ColorResolution == calibration.ColorResolution3072P) {
		return fmt.Errorf("%w: 30fps is not available with %s/%s", ErrInvalidConfig, c.DepthMode, c.ColorResolution)
	}
	if colorOn && (c.ColorFormat == ImageFormatNV12 || c.ColorFormat == ImageFormatYUY2) &&
		c.ColorResolution != calibration.ColorResolution720P {
		return fmt.Errorf("%w: %s is only available at 720p", ErrInvalidConfig, c.ColorFormat)
	}
	if c.SynchronizedImagesOnly && (!colorOn || !depthOn) {
		return fmt.Errorf("%w: synchronized images need both cameras", ErrInvalidConfig)
	}

	period := c.FPS.Period()
	if c.DepthDelayOffColor < -period || c.DepthDelayOffColor > period {
		return fmt.Errorf("%w: depth delay %v exceeds one frame period", ErrInvalidConfig, c.DepthDelayOffColor)
	}
	if c.SubordinateDelayOffMaster < 0 {
		return fmt.Errorf("%w: negative subordinate delay %v", ErrInvalidConfig, c.SubordinateDelayOffMaster)
	}
	return nil
}

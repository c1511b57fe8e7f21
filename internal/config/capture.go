package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/depth.capture/internal/calibration"
	"github.com/banshee-data/depth.capture/internal/device"
)

// DefaultConfigPath is where the capture tool looks for a config file when
// none is given.
const DefaultConfigPath = "config/capture.json"

// CaptureConfig is the JSON configuration of a capture run. Every field is
// optional; the Get* methods supply the default for omitted keys.
type CaptureConfig struct {
	DeviceIndex *int `json:"device_index,omitempty"`

	// Stream params
	DepthMode                 *string `json:"depth_mode,omitempty"`       // e.g. "nfov_unbinned"
	ColorResolution           *string `json:"color_resolution,omitempty"` // e.g. "720p"
	ColorFormat               *string `json:"color_format,omitempty"`     // e.g. "mjpg"
	FPS                       *int    `json:"fps,omitempty"`
	WiredSyncMode             *string `json:"wired_sync_mode,omitempty"`
	SynchronizedImagesOnly    *bool   `json:"synchronized_images_only,omitempty"`
	DepthDelayOffColor        *string `json:"depth_delay_off_color,omitempty"`        // duration string like "-10ms"
	SubordinateDelayOffMaster *string `json:"subordinate_delay_off_master,omitempty"` // duration string like "160us"
	DisableStreamingIndicator *bool   `json:"disable_streaming_indicator,omitempty"`

	// Acquisition params
	FrameTimeout *string `json:"frame_timeout,omitempty"` // duration string; negative waits forever
	IMUTimeout   *string `json:"imu_timeout,omitempty"`
	SyncJackTTL  *string `json:"sync_jack_ttl,omitempty"`

	// Recording params
	Record     *bool   `json:"record,omitempty"`
	RecordPath *string `json:"record_path,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyCaptureConfig returns a CaptureConfig with all fields unset.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// DefaultCaptureConfig returns a config with every field set to its default.
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		DeviceIndex:               ptrInt(0),
		DepthMode:                 ptrString(calibration.DepthModeNFOVUnbinned.String()),
		ColorResolution:           ptrString(calibration.ColorResolution720P.String()),
		ColorFormat:               ptrString(device.ImageFormatMJPG.String()),
		FPS:                       ptrInt(30),
		WiredSyncMode:             ptrString(device.WiredSyncStandalone.String()),
		SynchronizedImagesOnly:    ptrBool(false),
		DepthDelayOffColor:        ptrString("0s"),
		SubordinateDelayOffMaster: ptrString("0s"),
		DisableStreamingIndicator: ptrBool(false),
		FrameTimeout:              ptrString("1s"),
		IMUTimeout:                ptrString("100ms"),
		SyncJackTTL:               ptrString(device.DefaultSyncJackTTL.String()),
		Record:                    ptrBool(false),
		RecordPath:                ptrString("capture.db"),
	}
}

// LoadCaptureConfig loads a CaptureConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to their defaults, so partial configs are safe.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCaptureConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that every set field parses and that the resulting
// stream configuration is one the device supports.
func (c *CaptureConfig) Validate() error {
	if c.DeviceIndex != nil && *c.DeviceIndex < 0 {
		return fmt.Errorf("device_index must be non-negative, got %d", *c.DeviceIndex)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"depth_delay_off_color", c.DepthDelayOffColor},
		{"subordinate_delay_off_master", c.SubordinateDelayOffMaster},
		{"frame_timeout", c.FrameTimeout},
		{"imu_timeout", c.IMUTimeout},
		{"sync_jack_ttl", c.SyncJackTTL},
	}
	for _, d := range durations {
		if d.v != nil && *d.v != "" {
			if _, err := time.ParseDuration(*d.v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
			}
		}
	}
	if ttl := c.GetSyncJackTTL(); ttl < 0 {
		return fmt.Errorf("sync_jack_ttl must be non-negative, got %s", ttl)
	}

	dc, err := c.DeviceConfig()
	if err != nil {
		return err
	}
	return dc.Validate()
}

// DeviceConfig converts the stream fields to a device.Config.
func (c *CaptureConfig) DeviceConfig() (device.Config, error) {
	dc := device.DefaultConfig()
	var err error
	if c.DepthMode != nil {
		if dc.DepthMode, err = calibration.ParseDepthMode(*c.DepthMode); err != nil {
			return dc, fmt.Errorf("invalid depth_mode: %w", err)
		}
	}
	if c.ColorResolution != nil {
		if dc.ColorResolution, err = calibration.ParseColorResolution(*c.ColorResolution); err != nil {
			return dc, fmt.Errorf("invalid color_resolution: %w", err)
		}
	}
	if c.ColorFormat != nil {
		if dc.ColorFormat, err = device.ParseImageFormat(*c.ColorFormat); err != nil {
			return dc, fmt.Errorf("invalid color_format: %w", err)
		}
	}
	if c.FPS != nil {
		if dc.FPS, err = device.ParseFPS(*c.FPS); err != nil {
			return dc, fmt.Errorf("invalid fps: %w", err)
		}
	}
	if c.WiredSyncMode != nil {
		if dc.WiredSyncMode, err = device.ParseWiredSyncMode(*c.WiredSyncMode); err != nil {
			return dc, fmt.Errorf("invalid wired_sync_mode: %w", err)
		}
	}
	dc.SynchronizedImagesOnly = c.GetSynchronizedImagesOnly()
	dc.DepthDelayOffColor = parseDuration(c.DepthDelayOffColor, 0)
	dc.SubordinateDelayOffMaster = parseDuration(c.SubordinateDelayOffMaster, 0)
	dc.DisableStreamingIndicator = c.GetDisableStreamingIndicator()
	return dc, nil
}

// parseDuration returns def for an unset, empty or malformed value.
func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetDeviceIndex returns the device_index value or the default.
func (c *CaptureConfig) GetDeviceIndex() int {
	if c.DeviceIndex == nil {
		return 0
	}
	return *c.DeviceIndex
}

// GetSynchronizedImagesOnly returns the synchronized_images_only value or the default.
func (c *CaptureConfig) GetSynchronizedImagesOnly() bool {
	if c.SynchronizedImagesOnly == nil {
		return false
	}
	return *c.SynchronizedImagesOnly
}

// GetDisableStreamingIndicator returns the disable_streaming_indicator value or the default.
func (c *CaptureConfig) GetDisableStreamingIndicator() bool {
	if c.DisableStreamingIndicator == nil {
		return false
	}
	return *c.DisableStreamingIndicator
}

// GetFrameTimeout returns the frame_timeout value or the default.
func (c *CaptureConfig) GetFrameTimeout() time.Duration {
	return parseDuration(c.FrameTimeout, time.Second)
}

// GetIMUTimeout returns the imu_timeout value or the default.
func (c *CaptureConfig) GetIMUTimeout() time.Duration {
	return parseDuration(c.IMUTimeout, 100*time.Millisecond)
}

// GetSyncJackTTL returns the sync_jack_ttl value or the default.
func (c *CaptureConfig) GetSyncJackTTL() time.Duration {
	return parseDuration(c.SyncJackTTL, device.DefaultSyncJackTTL)
}

// GetRecord returns the record value or the default.
func (c *CaptureConfig) GetRecord() bool {
	if c.Record == nil {
		return false
	}
	return *c.Record
}

// GetRecordPath returns the record_path value or the default.
func (c *CaptureConfig) GetRecordPath() string {
	if c.RecordPath == nil || *c.RecordPath == "" {
		return "capture.db"
	}
	return *c.RecordPath
}

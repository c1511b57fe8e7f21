package calibration

import (
	"fmt"
	"strings"
)

// DepthMode selects the depth sensor's field of view and binning.
type DepthMode int

const (
	DepthModeOff DepthMode = iota
	DepthModeNFOV2x2Binned
	DepthModeNFOVUnbinned
	DepthModeWFOV2x2Binned
	DepthModeWFOVUnbinned
	DepthModePassiveIR
)

var depthModeNames = map[DepthMode]string{
	DepthModeOff:           "off",
	DepthModeNFOV2x2Binned: "nfov_2x2binned",
	DepthModeNFOVUnbinned:  "nfov_unbinned",
	DepthModeWFOV2x2Binned: "wfov_2x2binned",
	DepthModeWFOVUnbinned:  "wfov_unbinned",
	DepthModePassiveIR:     "passive_ir",
}

func (m DepthMode) String() string {
	if name, ok := depthModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("DepthMode(%d)", int(m))
}

// Valid reports whether m is one of the known modes.
func (m DepthMode) Valid() bool {
	_, ok := depthModeNames[m]
	return ok
}

// Resolution returns the depth image size for the mode. Off returns 0x0.
func (m DepthMode) Resolution() (width, height int) {
	switch m {
	case DepthModeNFOV2x2Binned:
		return 320, 288
	case DepthModeNFOVUnbinned:
		return 640, 576
	case DepthModeWFOV2x2Binned:
		return 512, 512
	case DepthModeWFOVUnbinned, DepthModePassiveIR:
		return 1024, 1024
	}
	return 0, 0
}

// ParseDepthMode accepts the names produced by DepthMode.String,
// case-insensitively.
func ParseDepthMode(s string) (DepthMode, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for mode, name := range depthModeNames {
		if name == want {
			return mode, nil
		}
	}
	return DepthModeOff, fmt.Errorf("%w: unknown depth mode %q", ErrInvalidArgument, s)
}

// ColorResolution selects the color camera output size.
type ColorResolution int

const (
	ColorResolutionOff ColorResolution = iota
	ColorResolution720P
	ColorResolution1080P
	ColorResolution1440P
	ColorResolution1536P
	ColorResolution2160P
	ColorResolution3072P
)

var colorResolutionNames = map[ColorResolution]string{
	ColorResolutionOff:   "off",
	ColorResolution720P:  "720p",
	ColorResolution1080P: "1080p",
	ColorResolution1440P: "1440p",
	ColorResolution1536P: "1536p",
	ColorResolution2160P: "2160p",
	ColorResolution3072P: "3072p",
}

func (r ColorResolution) String() string {
	if name, ok := colorResolutionNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ColorResolution(%d)", int(r))
}

// Valid reports whether r is one of the known resolutions.
func (r ColorResolution) Valid() bool {
	_, ok := colorResolutionNames[r]
	return ok
}

// Resolution returns the color image size. Off returns 0x0.
func (r ColorResolution) Resolution() (width, height int) {
	switch r {
	case ColorResolution720P:
		return 1280, 720
	case ColorResolution1080P:
		return 1920, 1080
	case ColorResolution1440P:
		return 2560, 1440
	case ColorResolution1536P:
		return 2048, 1536
	case ColorResolution2160P:
		return 3840, 2160
	case ColorResolution3072P:
		return 4096, 3072
	}
	return 0, 0
}

// ParseColorResolution accepts the names produced by ColorResolution.String,
// case-insensitively.
func ParseColorResolution(s string) (ColorResolution, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for res, name := range colorResolutionNames {
		if name == want {
			return res, nil
		}
	}
	return ColorResolutionOff, fmt.Errorf("%w: unknown color resolution %q", ErrInvalidArgument, s)
}

package device

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/depth.capture/internal/calibration"
	"github.com/banshee-data/depth.capture/internal/monitoring"
	"github.com/banshee-data/depth.capture/internal/timeutil"
)

var logf = monitoring.Tagged("device")

// DefaultSyncJackTTL is how long a sync-jack query is reused.
const DefaultSyncJackTTL = time.Second

// handles is the native state a session owns. It is shared with the
// session's Capture and with the cleanup that runs if a session is dropped
// without Close, so it must not point back at the Session.
type handles struct {
	backend Backend
	dev     DeviceHandle

	capture    CaptureToken
	hasCapture bool

	cameras bool
	imu     bool
	closed  bool
}

func (h *handles) releaseCapture() {
	if h.hasCapture {
		h.backend.ReleaseCapture(h.capture)
		h.hasCapture = false
		h.capture = 0
	}
}

func (h *handles) stopStreams() {
	if h.imu {
		h.backend.StopIMU(h.dev)
		h.imu = false
	}
	if h.cameras {
		h.backend.StopCameras(h.dev)
		h.cameras = false
	}
}

func (h *handles) close() {
	if h.closed {
		return
	}
	h.stopStreams()
	h.releaseCapture()
	h.backend.Close(h.dev)
	h.closed = true
}

// StartOptions control what Start does besides streaming.
type StartOptions struct {
	Record     bool
	RecordPath string
}

// Option configures a Session at Open.
type Option func(*Session)

// WithClock sets the clock used for cache expiry.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithRecorderFactory sets how recorders are created when Start is asked to
// record.
func WithRecorderFactory(f RecorderFactory) Option {
	return func(s *Session) { s.newRecorder = f }
}

// WithSyncJackTTL sets how long a sync-jack query is reused. Zero queries
// the hardware every time.
func WithSyncJackTTL(d time.Duration) Option {
	return func(s *Session) { s.syncTTL = d }
}

// Session owns one open device. It is not safe for concurrent use; callers
// serialize access.
type Session struct {
	h       *handles
	cleanup runtime.Cleanup

	id    uuid.UUID
	index int

	clock       timeutil.Clock
	newRecorder RecorderFactory
	syncTTL     time.Duration

	started  bool
	cfg      Config
	calib    *calibration.Calibration
	capture  *Capture
	imu      *IMUSample
	recorder Recorder
	frames   uint64

	syncJack   SyncJack
	syncJackAt time.Time
	syncCached bool
}

// Open claims the device at index. It fails with ErrNotFound when no such
// device is attached and ErrBusy when another session holds it.
func Open(backend Backend, index int, opts ...Option) (*Session, error) {
	if backend == nil {
		return nil, fmt.Errorf("open device %d: no backend: %w", index, ErrNotFound)
	}
	if n := backend.InstalledCount(); index < 0 || index >= n {
		return nil, fmt.Errorf("open device %d of %d installed: %w", index, n, ErrNotFound)
	}

	dev, r := backend.Open(index)
	if err := verify(r, "open device %d", index); err != nil {
		return nil, err
	}

	h := &handles{backend: backend, dev: dev}
	s := &Session{
		h:       h,
		id:      uuid.New(),
		index:   index,
		clock:   timeutil.RealClock{},
		syncTTL: DefaultSyncJackTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cleanup = runtime.AddCleanup(s, func(h *handles) {
		if !h.closed {
			logf("device handle %d dropped without Close; releasing", h.dev)
			h.close()
		}
	}, h)

	logf("opened device %d (session %s)", index, s.id)
	return s, nil
}

// Start validates cfg, derives the calibration for its modes and starts the
// cameras followed by the IMU. Start is all or nothing: if the IMU or the
// recorder fails, the streams already started are stopped again.
func (s *Session) Start(cfg Config, opts StartOptions) error {
	if s.h.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if s.calib == nil || s.calib.DepthMode() != cfg.DepthMode || s.calib.ColorResolution() != cfg.ColorResolution {
		calib, err := s.GetCalibration(cfg.DepthMode, cfg.ColorResolution)
		if err != nil {
			return err
		}
		s.calib = calib
	}

	if err := verify(s.h.backend.StartCameras(s.h.dev, cfg), "start cameras"); err != nil {
		return err
	}
	s.h.cameras = true

	if err := verify(s.h.backend.StartIMU(s.h.dev), "start imu"); err != nil {
		s.h.stopStreams()
		logf("imu failed to start on device %d, cameras stopped: %v", s.index, err)
		if !errors.Is(err, ErrHardware) {
			err = fmt.Errorf("%w: %w", ErrHardware, err)
		}
		return fmt.Errorf("%w: %w", ErrPartialStart, err)
	}
	s.h.imu = true

	if opts.Record {
		rec, err := s.openRecorder(cfg, opts.RecordPath)
		if err != nil {
			s.h.stopStreams()
			logf("recorder failed to start on device %d, streams stopped: %v", s.index, err)
			return err
		}
		s.recorder = rec
	}

	s.cfg = cfg
	s.started = true
	s.frames = 0
	logf("started device %d: depth %s, color %s %s at %s", s.index, cfg.DepthMode, cfg.ColorResolution, cfg.ColorFormat, cfg.FPS)
	return nil
}

func (s *Session) openRecorder(cfg Config, path string) (Recorder, error) {
	if s.newRecorder == nil {
		return nil, errors.New("start recording: no recorder factory configured")
	}
	rec, err := s.newRecorder(s.h.dev, cfg, path)
	if err != nil {
		return nil, fmt.Errorf("start recording: %w", err)
	}
	if cr, ok := rec.(CalibrationRecorder); ok {
		if err := cr.SetCalibration(s.calib); err != nil {
			_ = rec.Close()
			return nil, fmt.Errorf("store calibration: %w", err)
		}
	}
	return rec, nil
}

// Stop stops the IMU and cameras, releases the held capture and closes the
// recorder. The device stays open and can be started again.
func (s *Session) Stop() error {
	if !s.started {
		return nil
	}
	s.h.stopStreams()
	s.h.releaseCapture()
	s.started = false

	err := s.closeRecorder()
	logf("stopped device %d after %d frames", s.index, s.frames)
	return err
}

func (s *Session) closeRecorder() error {
	if s.recorder == nil {
		return nil
	}
	err := s.recorder.Close()
	s.recorder = nil
	if err != nil {
		logf("closing recorder for device %d: %v", s.index, err)
		return fmt.Errorf("close recorder: %w", err)
	}
	return nil
}

// AcquireFrame releases the previous capture and blocks for the next one.
// A negative timeout waits forever. The returned capture is the session's
// single slot and is only valid until the next call.
func (s *Session) AcquireFrame(timeout time.Duration) (*Capture, error) {
	if s.h.closed {
		return nil, ErrClosed
	}
	if !s.started {
		return nil, ErrNotStarted
	}
	if timeout < 0 {
		timeout = WaitInfinite
	}

	s.h.releaseCapture()
	token, r := s.h.backend.GetCapture(s.h.dev, timeout)
	if err := verify(r, "get capture"); err != nil {
		return nil, err
	}
	s.h.capture = token
	s.h.hasCapture = true
	s.frames++

	if s.capture == nil {
		s.capture = &Capture{h: s.h}
	}
	s.capture.token = token
	s.capture.seq = s.frames
	s.capture.calib = s.calib

	if s.recorder != nil {
		if err := s.recorder.WriteCapture(s.capture); err != nil {
			return nil, fmt.Errorf("record capture %d: %w", s.frames, err)
		}
	}
	return s.capture, nil
}

// AcquireIMUSample blocks for the next IMU sample and refreshes the
// session's sample record in place.
func (s *Session) AcquireIMUSample(timeout time.Duration) (*IMUSample, error) {
	if s.h.closed {
		return nil, ErrClosed
	}
	if !s.started || !s.h.imu {
		return nil, ErrNotStarted
	}
	if timeout < 0 {
		timeout = WaitInfinite
	}

	if s.imu == nil {
		s.imu = &IMUSample{}
	}
	if err := verify(s.h.backend.GetIMUSample(s.h.dev, timeout, s.imu), "get imu sample"); err != nil {
		return nil, err
	}

	if ir, ok := s.recorder.(IMURecorder); ok {
		if err := ir.WriteIMUSample(s.imu); err != nil {
			return nil, fmt.Errorf("record imu sample: %w", err)
		}
	}
	return s.imu, nil
}

// Close stops every stream, releases the held capture, closes the recorder
// and the device. Calling Close again does nothing.
func (s *Session) Close() error {
	if s.h.closed {
		return nil
	}
	s.cleanup.Stop()

	s.h.stopStreams()
	s.h.releaseCapture()
	err := s.closeRecorder()
	s.h.close()

	s.started = false
	s.calib = nil
	s.capture = nil
	s.imu = nil
	logf("closed device %d (session %s)", s.index, s.id)
	return err
}

// GetCalibration reads the device calibration for a pair of modes.
func (s *Session) GetCalibration(depthMode calibration.DepthMode, colorRes calibration.ColorResolution) (*calibration.Calibration, error) {
	if s.h.closed {
		return nil, ErrClosed
	}
	raw, r := s.h.backend.GetCalibration(s.h.dev, depthMode, colorRes)
	if err := verify(r, "get calibration for %s/%s", depthMode, colorRes); err != nil {
		return nil, err
	}
	calib, err := calibration.New(raw)
	if err != nil {
		return nil, fmt.Errorf("device calibration for %s/%s: %w: %w", depthMode, colorRes, ErrHardware, err)
	}
	return calib, nil
}

// Calibration returns the calibration of the current or last started modes.
func (s *Session) Calibration() *calibration.Calibration { return s.calib }

// SerialNumber reads the device serial. The backend is asked for the size
// first and then filled into a buffer of exactly that size.
func (s *Session) SerialNumber() (string, error) {
	if s.h.closed {
		return "", ErrClosed
	}
	size, r := s.h.backend.SerialNumber(s.h.dev, nil)
	switch r {
	case ResultBufferTooSmall:
	case ResultSucceeded:
		return "", &HardwareError{Msg: "serial number size probe returned no size", Code: ResultFailed}
	default:
		return "", verify(r, "probe serial number size")
	}
	if size <= 0 {
		return "", &HardwareError{Msg: fmt.Sprintf("serial number size probe reported %d bytes", size), Code: ResultFailed}
	}

	buf := make([]byte, size)
	n, r := s.h.backend.SerialNumber(s.h.dev, buf)
	if err := verify(r, "read serial number"); err != nil {
		return "", err
	}
	if n > len(buf) || n <= 0 {
		n = len(buf)
	}
	return strings.TrimRight(string(buf[:n]), "\x00"), nil
}

// SyncJack reports the wired sync cable state. One hardware query serves
// both jacks and is reused for the sync-jack TTL.
func (s *Session) SyncJack() (SyncJack, error) {
	if s.h.closed {
		return SyncJack{}, ErrClosed
	}
	if s.syncCached && s.clock.Since(s.syncJackAt) < s.syncTTL {
		return s.syncJack, nil
	}
	in, out, r := s.h.backend.SyncJack(s.h.dev)
	if err := verify(r, "read sync jack state"); err != nil {
		return SyncJack{}, err
	}
	s.syncJack = SyncJack{In: in, Out: out}
	s.syncJackAt = s.clock.Now()
	s.syncCached = true
	return s.syncJack, nil
}

// IsSyncInConnected reports whether a cable is attached to sync in.
func (s *Session) IsSyncInConnected() (bool, error) {
	j, err := s.SyncJack()
	return j.In, err
}

// IsSyncOutConnected reports whether a cable is attached to sync out.
func (s *Session) IsSyncOutConnected() (bool, error) {
	j, err := s.SyncJack()
	return j.Out, err
}

// HardwareVersion reads the firmware versions.
func (s *Session) HardwareVersion() (HardwareVersion, error) {
	if s.h.closed {
		return HardwareVersion{}, ErrClosed
	}
	v, r := s.h.backend.Version(s.h.dev)
	if err := verify(r, "read hardware version"); err != nil {
		return HardwareVersion{}, err
	}
	return v, nil
}

// ID identifies this session; recorders use it to group captures.
func (s *Session) ID() uuid.UUID { return s.id }

// Index returns the device index passed to Open.
func (s *Session) Index() int { return s.index }

// Handle returns the backend handle, valid until Close.
func (s *Session) Handle() DeviceHandle { return s.h.dev }

// IsOpen reports whether Close has not yet been called.
func (s *Session) IsOpen() bool { return !s.h.closed }

// IsStarted reports whether the streams are running.
func (s *Session) IsStarted() bool { return s.started }

// IsRecording reports whether a recorder is attached to the running streams.
func (s *Session) IsRecording() bool { return s.recorder != nil }

// Config returns the configuration of the running or last started streams.
func (s *Session) Config() Config { return s.cfg }

// Capture returns the capture slot, nil before the first acquisition.
func (s *Session) Capture() *Capture { return s.capture }

// IMUSample returns the IMU record, nil before the first acquisition.
func (s *Session) IMUSample() *IMUSample { return s.imu }

// FrameCount returns the number of captures acquired since Start.
func (s *Session) FrameCount() uint64 { return s.frames }

// Package recorder stores capture metadata, IMU samples and calibration in a
// sqlite capture log. A Recorder implements device.Recorder; a Log reads a
// finished capture log back for offline use.
package recorder

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/depth.capture/internal/calibration"
	"github.com/banshee-data/depth.capture/internal/device"
	"github.com/banshee-data/depth.capture/internal/monitoring"
)

// DefaultPath is used when a session records without naming a file.
const DefaultPath = "capture.db"

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("recorder closed")

var logf = monitoring.Tagged("recorder")

// Recorder appends one session to a capture log.
type Recorder struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	id     uuid.UUID
	frames uint64
	imu    uint64
	closed bool
}

// New opens or creates the capture log at path, migrates it and starts a
// session row for the device.
func New(h device.DeviceHandle, cfg device.Config, path string) (*Recorder, error) {
	if path == "" {
		path = DefaultPath
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("encode config: %w", err)
	}

	r := &Recorder{db: db, path: path, id: uuid.New()}
	_, err = db.Exec(`
		INSERT INTO sessions (session_id, device_handle, config_json, started_unix_nanos)
		VALUES (?, ?, ?, ?)`,
		r.id.String(), int64(h), string(cfgJSON), time.Now().UnixNano())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("insert session: %w", err)
	}

	logf("recording session %s to %s", r.id, path)
	return r, nil
}

// Factory adapts New to device.RecorderFactory.
func Factory() device.RecorderFactory {
	return func(h device.DeviceHandle, cfg device.Config, path string) (device.Recorder, error) {
		r, err := New(h, cfg, path)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func openDB(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open capture log %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate capture log %s: %w", path, err)
	}
	return db, nil
}

// ID identifies the recorded session within the log.
func (r *Recorder) ID() uuid.UUID { return r.id }

// Path returns the capture log file.
func (r *Recorder) Path() string { return r.path }

// DB exposes the underlying database for debug tooling.
func (r *Recorder) DB() *sql.DB { return r.db }

// FrameCount returns the number of captures written.
func (r *Recorder) FrameCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// SetCalibration stores the session calibration as JSON.
func (r *Recorder) SetCalibration(c *calibration.Calibration) error {
	if c == nil {
		return fmt.Errorf("%w: nil calibration", calibration.ErrInvalidArgument)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	_, err = r.db.Exec(`UPDATE sessions SET calibration_json = ? WHERE session_id = ?`, string(data), r.id.String())
	return err
}

// WriteCapture stores the metadata of a capture. The capture is only read
// during the call.
func (r *Recorder) WriteCapture(c *device.Capture) error {
	info, err := c.Info()
	if err != nil {
		return fmt.Errorf("read capture %d: %w", c.Sequence(), err)
	}

	var (
		colorFormat            sql.NullString
		colorW, colorH         int
		depthW, depthH         int
		colorTS, depthTS, irTS sql.NullInt64
	)
	if info.Color != nil {
		colorFormat = sql.NullString{String: info.Color.Format.String(), Valid: true}
		colorW, colorH = info.Color.Width, info.Color.Height
		colorTS = usec(info.Color.DeviceTimestamp)
	}
	if info.Depth != nil {
		depthW, depthH = info.Depth.Width, info.Depth.Height
		depthTS = usec(info.Depth.DeviceTimestamp)
	}
	if info.IR != nil {
		if info.Depth == nil {
			depthW, depthH = info.IR.Width, info.IR.Height
		}
		irTS = usec(info.IR.DeviceTimestamp)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	_, err = r.db.Exec(`
		INSERT INTO captures (
			session_id, sequence, color_format, color_width, color_height, color_ts_usec,
			depth_width, depth_height, depth_ts_usec, ir_ts_usec, temperature_c, recorded_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.id.String(), int64(c.Sequence()), colorFormat, colorW, colorH, colorTS,
		depthW, depthH, depthTS, irTS, float64(info.TemperatureC), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert capture %d: %w", c.Sequence(), err)
	}
	r.frames++
	return nil
}

// WriteIMUSample stores one IMU sample.
func (r *Recorder) WriteIMUSample(s *device.IMUSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	_, err := r.db.Exec(`
		INSERT INTO imu_samples (
			session_id, sequence, temperature_c,
			accel_x, accel_y, accel_z, accel_ts_usec,
			gyro_x, gyro_y, gyro_z, gyro_ts_usec
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.id.String(), int64(r.imu+1), float64(s.TemperatureC),
		float64(s.AccelSample[0]), float64(s.AccelSample[1]), float64(s.AccelSample[2]), s.AccelTimestamp.Microseconds(),
		float64(s.GyroSample[0]), float64(s.GyroSample[1]), float64(s.GyroSample[2]), s.GyroTimestamp.Microseconds())
	if err != nil {
		return fmt.Errorf("insert imu sample: %w", err)
	}
	r.imu++
	return nil
}

// Close finishes the session row and closes the log. Calling Close again
// does nothing.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	_, err := r.db.Exec(`
		UPDATE sessions SET ended_unix_nanos = ?, frame_count = ?, imu_count = ?
		WHERE session_id = ?`,
		time.Now().UnixNano(), int64(r.frames), int64(r.imu), r.id.String())
	if err != nil {
		err = fmt.Errorf("finish session %s: %w", r.id, err)
	}
	if cerr := r.db.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close capture log: %w", cerr)
	}
	logf("session %s recorded %d frames, %d imu samples", r.id, r.frames, r.imu)
	return err
}

func usec(d time.Duration) sql.NullInt64 {
	return sql.NullInt64{Int64: d.Microseconds(), Valid: true}
}

var (
	_ device.Recorder            = (*Recorder)(nil)
	_ device.IMURecorder         = (*Recorder)(nil)
	_ device.CalibrationRecorder = (*Recorder)(nil)
)

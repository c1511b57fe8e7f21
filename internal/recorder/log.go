package recorder

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/depth.capture/internal/calibration"
	"github.com/banshee-data/depth.capture/internal/device"
)

// ErrNoCalibration is returned when a session was recorded without one.
var ErrNoCalibration = errors.New("session has no calibration")

// Log is a capture log opened for reading.
type Log struct {
	*sql.DB
	path string
}

// SessionInfo summarises one recorded session.
type SessionInfo struct {
	ID           uuid.UUID
	DeviceHandle device.DeviceHandle
	Config       device.Config
	Started      time.Time
	Ended        time.Time // zero while the session is still recording
	Frames       uint64
	IMUSamples   uint64
}

// CaptureRecord is the stored metadata of one capture. Timestamps are only
// meaningful when the matching image was present.
type CaptureRecord struct {
	Sequence       uint64
	ColorFormat    string
	ColorWidth     int
	ColorHeight    int
	ColorTimestamp time.Duration
	HasColor       bool
	DepthWidth     int
	DepthHeight    int
	DepthTimestamp time.Duration
	HasDepth       bool
	IRTimestamp    time.Duration
	HasIR          bool
	TemperatureC   float32
	Recorded       time.Time
}

// OpenLog opens an existing capture log, migrating it if it predates the
// current schema.
func OpenLog(path string) (*Log, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Log{DB: db, path: path}, nil
}

// Path returns the sqlite file the log was opened from.
func (l *Log) Path() string { return l.path }

// Sessions lists the recorded sessions, oldest first.
func (l *Log) Sessions() ([]SessionInfo, error) {
	rows, err := l.Query(`
		SELECT session_id, device_handle, config_json, started_unix_nanos,
		       ended_unix_nanos, frame_count, imu_count
		FROM sessions
		ORDER BY started_unix_nanos, session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var (
			s       SessionInfo
			id      string
			handle  int64
			cfgJSON string
			started int64
			ended   sql.NullInt64
			frames  int64
			imu     int64
		)
		if err := rows.Scan(&id, &handle, &cfgJSON, &started, &ended, &frames, &imu); err != nil {
			return nil, err
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("session id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(cfgJSON), &s.Config); err != nil {
			return nil, fmt.Errorf("session %s config: %w", id, err)
		}
		s.DeviceHandle = device.DeviceHandle(handle)
		s.Started = time.Unix(0, started)
		if ended.Valid {
			s.Ended = time.Unix(0, ended.Int64)
		}
		s.Frames = uint64(frames)
		s.IMUSamples = uint64(imu)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Captures returns the captures of a session in acquisition order.
func (l *Log) Captures(session uuid.UUID) ([]CaptureRecord, error) {
	rows, err := l.Query(`
		SELECT sequence, color_format, color_width, color_height, color_ts_usec,
		       depth_width, depth_height, depth_ts_usec, ir_ts_usec,
		       temperature_c, recorded_unix_nanos
		FROM captures
		WHERE session_id = ?
		ORDER BY sequence`, session.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []CaptureRecord
	for rows.Next() {
		var (
			c                      CaptureRecord
			seq                    int64
			format                 sql.NullString
			colorTS, depthTS, irTS sql.NullInt64
			temp                   sql.NullFloat64
			recorded               int64
		)
		if err := rows.Scan(&seq, &format, &c.ColorWidth, &c.ColorHeight, &colorTS,
			&c.DepthWidth, &c.DepthHeight, &depthTS, &irTS, &temp, &recorded); err != nil {
			return nil, err
		}
		c.Sequence = uint64(seq)
		c.ColorFormat = format.String
		c.ColorTimestamp, c.HasColor = fromUsec(colorTS)
		c.DepthTimestamp, c.HasDepth = fromUsec(depthTS)
		c.IRTimestamp, c.HasIR = fromUsec(irTS)
		c.TemperatureC = float32(temp.Float64)
		c.Recorded = time.Unix(0, recorded)
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

// IMUSamples returns the IMU samples of a session in acquisition order.
func (l *Log) IMUSamples(session uuid.UUID) ([]device.IMUSample, error) {
	rows, err := l.Query(`
		SELECT temperature_c, accel_x, accel_y, accel_z, accel_ts_usec,
		       gyro_x, gyro_y, gyro_z, gyro_ts_usec
		FROM imu_samples
		WHERE session_id = ?
		ORDER BY sequence`, session.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []device.IMUSample
	for rows.Next() {
		var (
			temp, ax, ay, az, gx, gy, gz float64
			accelTS, gyroTS              int64
		)
		if err := rows.Scan(&temp, &ax, &ay, &az, &accelTS, &gx, &gy, &gz, &gyroTS); err != nil {
			return nil, err
		}
		samples = append(samples, device.IMUSample{
			TemperatureC:   float32(temp),
			AccelSample:    [3]float32{float32(ax), float32(ay), float32(az)},
			AccelTimestamp: time.Duration(accelTS) * time.Microsecond,
			GyroSample:     [3]float32{float32(gx), float32(gy), float32(gz)},
			GyroTimestamp:  time.Duration(gyroTS) * time.Microsecond,
		})
	}
	return samples, rows.Err()
}

// Calibration rebuilds the calibration stored with a session so recorded
// pixels can be transformed offline.
func (l *Log) Calibration(session uuid.UUID) (*calibration.Calibration, error) {
	var data sql.NullString
	err := l.QueryRow(`SELECT calibration_json FROM sessions WHERE session_id = ?`, session.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s not found", session)
	}
	if err != nil {
		return nil, err
	}
	if !data.Valid {
		return nil, fmt.Errorf("session %s: %w", session, ErrNoCalibration)
	}
	var raw calibration.Raw
	if err := json.Unmarshal([]byte(data.String), &raw); err != nil {
		return nil, fmt.Errorf("session %s calibration: %w", session, err)
	}
	return calibration.New(raw)
}

func fromUsec(v sql.NullInt64) (time.Duration, bool) {
	if !v.Valid {
		return 0, false
	}
	return time.Duration(v.Int64) * time.Microsecond, true
}

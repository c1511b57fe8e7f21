// Package deviceadmin serves debug pages for a running capture session.
package deviceadmin

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"text/tabwriter"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/depth.capture/internal/calibration"
	"github.com/banshee-data/depth.capture/internal/device"
	"github.com/banshee-data/depth.capture/internal/recorder"
)

// Status is a snapshot of a session for the debug pages.
type Status struct {
	SessionID string                 `json:"session_id"`
	Index     int                    `json:"index"`
	Serial    string                 `json:"serial"`
	Version   device.HardwareVersion `json:"version"`
	Started   bool                   `json:"started"`
	Recording bool                   `json:"recording"`
	Frames    uint64                 `json:"frames"`
	SyncJack  device.SyncJack        `json:"sync_jack"`
	Config    device.Config          `json:"config"`
}

// StatusSource provides what the debug pages show.
type StatusSource interface {
	Status() (Status, error)
	Calibration() *calibration.Calibration
}

// SessionSource shares a session between its owner and the debug pages.
// Sessions are not safe for concurrent use, so the owner must also go
// through Do while the routes are attached.
type SessionSource struct {
	mu sync.Mutex
	s  *device.Session
}

// NewSessionSource wraps s.
func NewSessionSource(s *device.Session) *SessionSource {
	return &SessionSource{s: s}
}

// Do runs fn with exclusive access to the session.
func (src *SessionSource) Do(fn func(*device.Session) error) error {
	src.mu.Lock()
	defer src.mu.Unlock()
	return fn(src.s)
}

// Status implements StatusSource.
func (src *SessionSource) Status() (Status, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	s := src.s

	st := Status{
		SessionID: s.ID().String(),
		Index:     s.Index(),
		Started:   s.IsStarted(),
		Recording: s.IsRecording(),
		Frames:    s.FrameCount(),
		Config:    s.Config(),
	}
	var err error
	if st.Serial, err = s.SerialNumber(); err != nil {
		return st, fmt.Errorf("serial number: %w", err)
	}
	if st.Version, err = s.HardwareVersion(); err != nil {
		return st, fmt.Errorf("hardware version: %w", err)
	}
	if st.SyncJack, err = s.SyncJack(); err != nil {
		return st, fmt.Errorf("sync jack: %w", err)
	}
	return st, nil
}

// Calibration implements StatusSource.
func (src *SessionSource) Calibration() *calibration.Calibration {
	src.mu.Lock()
	defer src.mu.Unlock()
	return src.s.Calibration()
}

// AttachAdminRoutes mounts the device pages under /debug/. When db is not
// nil the capture log at dbPath is browsable through tailsql.
func AttachAdminRoutes(mux *http.ServeMux, src StatusSource, db *sql.DB, dbPath string) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("device", "Device session status", func(w http.ResponseWriter, r *http.Request) {
		st, err := src.Status()
		if err != nil {
			writeError(w, fmt.Errorf("failed to read device status: %w", err))
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		writeStatus(w, st)
	})

	debug.HandleFunc("device.json", "Device session status as JSON", func(w http.ResponseWriter, r *http.Request) {
		st, err := src.Status()
		if err != nil {
			writeError(w, fmt.Errorf("failed to read device status: %w", err))
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	debug.HandleFunc("calibration.json", "Calibration of the running modes", func(w http.ResponseWriter, r *http.Request) {
		calib := src.Calibration()
		if calib == nil {
			writeError(w, fmt.Errorf("no calibration: %w", device.ErrNotStarted))
			return
		}
		writeJSON(w, http.StatusOK, calib)
	})

	if db == nil {
		return
	}
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB(tailSQLSource(dbPath), db, &tailsql.DBOptions{
		Label: "Capture log " + filepath.Base(dbPath),
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}

// tailSQLSource names the capture log for tailsql. An empty path falls back
// to the recorder's default file name.
func tailSQLSource(path string) string {
	if path == "" {
		path = recorder.DefaultPath
	}
	return "sqlite://" + filepath.ToSlash(path)
}

func writeStatus(w http.ResponseWriter, st Status) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session\t%s\n", st.SessionID)
	fmt.Fprintf(tw, "index\t%d\n", st.Index)
	fmt.Fprintf(tw, "serial\t%s\n", st.Serial)
	fmt.Fprintf(tw, "firmware rgb\t%s\n", st.Version.RGB)
	fmt.Fprintf(tw, "firmware depth\t%s\n", st.Version.Depth)
	fmt.Fprintf(tw, "firmware audio\t%s\n", st.Version.Audio)
	fmt.Fprintf(tw, "depth sensor\t%s\n", st.Version.DepthSensor)
	fmt.Fprintf(tw, "started\t%t\n", st.Started)
	fmt.Fprintf(tw, "recording\t%t\n", st.Recording)
	fmt.Fprintf(tw, "frames\t%d\n", st.Frames)
	fmt.Fprintf(tw, "sync in\t%t\n", st.SyncJack.In)
	fmt.Fprintf(tw, "sync out\t%t\n", st.SyncJack.Out)
	if st.Started {
		c := st.Config
		fmt.Fprintf(tw, "depth mode\t%s\n", c.DepthMode)
		fmt.Fprintf(tw, "color\t%s %s\n", c.ColorResolution, c.ColorFormat)
		fmt.Fprintf(tw, "fps\t%s\n", c.FPS)
		fmt.Fprintf(tw, "wired sync\t%s\n", c.WiredSyncMode)
	}
	tw.Flush()
}

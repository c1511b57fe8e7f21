package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/depth.capture/internal/config"
	"github.com/banshee-data/depth.capture/internal/device"
	"github.com/banshee-data/depth.capture/internal/monitoring"
	"github.com/banshee-data/depth.capture/internal/recorder"
)

func TestFlagDefaults(t *testing.T) {
	if *frames != 30 {
		t.Errorf("expected frames default 30, got %d", *frames)
	}
	if *index != -1 {
		t.Errorf("expected index default -1, got %d", *index)
	}
	if *listen != "" {
		t.Errorf("expected listen to be off by default, got %q", *listen)
	}
}

func TestRun_Simulated(t *testing.T) {
	monitoring.SetLogger(nil)
	backend := device.NewSimulatedBackend(1)

	var out bytes.Buffer
	opts := options{cfg: config.DefaultCaptureConfig(), frames: 3, imu: true}
	if err := run(context.Background(), backend, opts, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{"serial 000001234567", "frame 1:", "frame 3:", "color 1280x720", "color centre", "imu @"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if backend.IsOpen(0) {
		t.Error("device left open after run")
	}
}

func TestRun_Records(t *testing.T) {
	monitoring.SetLogger(nil)
	path := filepath.Join(t.TempDir(), "run.db")
	cfg := config.DefaultCaptureConfig()
	on := true
	cfg.Record = &on
	cfg.RecordPath = &path

	var out bytes.Buffer
	if err := run(context.Background(), device.NewSimulatedBackend(1), options{cfg: cfg, frames: 2}, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	capLog, err := recorder.OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}
	defer capLog.Close()
	sessions, err := capLog.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Frames != 2 {
		t.Fatalf("expected one session with 2 frames, got %+v", sessions)
	}
}

func TestRun_MissingDevice(t *testing.T) {
	monitoring.SetLogger(nil)
	cfg := config.DefaultCaptureConfig()
	idx := 4
	cfg.DeviceIndex = &idx

	err := run(context.Background(), device.NewSimulatedBackend(1), options{cfg: cfg, frames: 1}, &bytes.Buffer{})
	if !errors.Is(err, device.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	monitoring.SetLogger(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := device.NewSimulatedBackend(1)
	var out bytes.Buffer
	if err := run(ctx, backend, options{cfg: config.DefaultCaptureConfig()}, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if strings.Contains(out.String(), "frame 1:") {
		t.Error("captured frames after cancellation")
	}
}

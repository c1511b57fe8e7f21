// Command capture streams from a depth camera, prints per-frame timing and
// optionally records the session to a sqlite capture log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/depth.capture/internal/calibration"
	"github.com/banshee-data/depth.capture/internal/config"
	"github.com/banshee-data/depth.capture/internal/device"
	"github.com/banshee-data/depth.capture/internal/deviceadmin"
	"github.com/banshee-data/depth.capture/internal/recorder"
	"github.com/banshee-data/depth.capture/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a capture config JSON file")
	index       = flag.Int("index", -1, "Device index (overrides the config file)")
	frames      = flag.Int("frames", 30, "Number of frames to capture, 0 runs until interrupted")
	imu         = flag.Bool("imu", false, "Read one IMU sample per frame")
	record      = flag.String("record", "", "Record to this capture log (overrides the config file)")
	listen      = flag.String("listen", "", "Serve debug pages on this address, e.g. localhost:8080")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// simulatedDevices is how many devices the simulated backend exposes.
const simulatedDevices = 2

type options struct {
	cfg    *config.CaptureConfig
	frames int
	imu    bool
	listen string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := config.EmptyCaptureConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadCaptureConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *index >= 0 {
		cfg.DeviceIndex = index
	}
	if *record != "" {
		on := true
		cfg.Record = &on
		cfg.RecordPath = record
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend := device.NewSimulatedBackend(simulatedDevices)
	opts := options{cfg: cfg, frames: *frames, imu: *imu, listen: *listen}
	if err := run(ctx, backend, opts, os.Stdout); err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

// run opens the configured device, streams opts.frames frames and closes it.
func run(ctx context.Context, backend device.Backend, opts options, out io.Writer) error {
	cfg := opts.cfg
	devCfg, err := cfg.DeviceConfig()
	if err != nil {
		return err
	}

	log.Printf("%d device(s) attached", device.InstalledCount(backend))
	session, err := device.Open(backend, cfg.GetDeviceIndex(),
		device.WithRecorderFactory(recorder.Factory()),
		device.WithSyncJackTTL(cfg.GetSyncJackTTL()),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("failed to close device: %v", err)
		}
	}()

	if err := printDevice(out, session); err != nil {
		return err
	}

	startOpts := device.StartOptions{Record: cfg.GetRecord(), RecordPath: cfg.GetRecordPath()}
	if err := session.Start(devCfg, startOpts); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	fmt.Fprintln(out, session.Calibration())

	src := deviceadmin.NewSessionSource(session)
	var wg sync.WaitGroup
	if opts.listen != "" {
		var capLog *recorder.Log
		if startOpts.Record {
			if capLog, err = recorder.OpenLog(startOpts.RecordPath); err != nil {
				return fmt.Errorf("open capture log for debugging: %w", err)
			}
			defer capLog.Close()
		}
		serveCtx, cancel := context.WithCancel(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(serveCtx, opts.listen, src, capLog)
		}()
		defer func() {
			cancel()
			wg.Wait()
		}()
	}

	for n := 0; opts.frames == 0 || n < opts.frames; n++ {
		if ctx.Err() != nil {
			break
		}
		err := src.Do(func(s *device.Session) error {
			return captureOne(out, s, cfg, opts.imu)
		})
		if errors.Is(err, device.ErrTimeout) {
			log.Printf("frame %d timed out", n+1)
			continue
		}
		if err != nil {
			return err
		}
	}

	return src.Do(func(s *device.Session) error {
		log.Printf("captured %d frames", s.FrameCount())
		return s.Stop()
	})
}

func printDevice(out io.Writer, s *device.Session) error {
	serial, err := s.SerialNumber()
	if err != nil {
		return err
	}
	v, err := s.HardwareVersion()
	if err != nil {
		return err
	}
	jack, err := s.SyncJack()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "device %d serial %s\n", s.Index(), serial)
	fmt.Fprintf(out, "firmware rgb %s depth %s audio %s sensor %s (%s)\n",
		v.RGB, v.Depth, v.Audio, v.DepthSensor, v.FirmwareBuild)
	fmt.Fprintf(out, "sync in %t, sync out %t\n", jack.In, jack.Out)
	return nil
}

func captureOne(out io.Writer, s *device.Session, cfg *config.CaptureConfig, withIMU bool) error {
	c, err := s.AcquireFrame(cfg.GetFrameTimeout())
	if err != nil {
		return err
	}
	info, err := c.Info()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "frame %d:", c.Sequence())
	if info.Color != nil {
		fmt.Fprintf(out, " color %dx%d @%v", info.Color.Width, info.Color.Height, info.Color.DeviceTimestamp)
	}
	if info.Depth != nil {
		fmt.Fprintf(out, " depth %dx%d @%v", info.Depth.Width, info.Depth.Height, info.Depth.DeviceTimestamp)
	}
	fmt.Fprintf(out, " %.1f°C\n", info.TemperatureC)

	if c.Sequence() == 1 && info.Color != nil && info.Depth != nil {
		if err := printCentreMapping(out, c, info); err != nil {
			return err
		}
	}

	if withIMU {
		sample, err := s.AcquireIMUSample(cfg.GetIMUTimeout())
		if err != nil {
			return fmt.Errorf("imu: %w", err)
		}
		up, err := sample.AccelerationIn(s.Calibration(), calibration.SpaceDepth)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  imu @%v accel (depth axes) %.3f %.3f %.3f m/s²\n",
			sample.AccelTimestamp, up.X, up.Y, up.Z)
	}
	return nil
}

// printCentreMapping finds the depth pixel behind the centre of the color
// image and where that surface lies in color camera space.
func printCentreMapping(out io.Writer, c *device.Capture, info device.CaptureInfo) error {
	depth, err := c.DepthMap()
	if err != nil {
		return err
	}
	calib := c.Calibration()
	centre := calibration.Point2{X: float64(info.Color.Width) / 2, Y: float64(info.Color.Height) / 2}

	p, ok, err := calib.MapColorPixelToDepthPixel(centre, depth)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "  color centre (%.0f, %.0f) has no depth\n", centre.X, centre.Y)
		return nil
	}
	mm := depth.DepthAt(int(p.X), int(p.Y))
	pt, ok, err := calib.Transform2DTo3D(p, float64(mm), calibration.SpaceDepth, calibration.SpaceColor)
	if err != nil || !ok {
		return err
	}
	fmt.Fprintf(out, "  color centre (%.0f, %.0f) -> depth (%.0f, %.0f) at %dmm -> color space (%.1f, %.1f, %.1f)mm\n",
		centre.X, centre.Y, p.X, p.Y, mm, pt.X, pt.Y, pt.Z)
	return nil
}

func serveDebug(ctx context.Context, addr string, src deviceadmin.StatusSource, capLog *recorder.Log) {
	mux := http.NewServeMux()
	if capLog != nil {
		deviceadmin.AttachAdminRoutes(mux, src, capLog.DB, capLog.Path())
	} else {
		deviceadmin.AttachAdminRoutes(mux, src, nil, "")
	}

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()
	log.Printf("debug pages on http://%s/debug/", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}

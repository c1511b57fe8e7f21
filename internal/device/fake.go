package device

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depth.capture/internal/calibration"
	"github.com/banshee-data/depth.capture/internal/timeutil"
)

// FakeOp names a FakeBackend operation for fault injection.
type FakeOp string

const (
	OpOpen         FakeOp = "open"
	OpStartCameras FakeOp = "start_cameras"
	OpStartIMU     FakeOp = "start_imu"
	OpGetCapture   FakeOp = "get_capture"
	OpCaptureInfo  FakeOp = "capture_info"
	OpGetIMUSample FakeOp = "get_imu_sample"
	OpCalibration  FakeOp = "calibration"
	OpSerialNumber FakeOp = "serial_number"
	OpSyncJack     FakeOp = "sync_jack"
	OpVersion      FakeOp = "version"
)

// fakeQueueDepth bounds queued frames and IMU samples per device. A full
// queue drops new data, as the hardware does when nobody reads.
const fakeQueueDepth = 64

// imuPeriod is the IMU sample interval of the simulated device (1.6 kHz).
const imuPeriod = 625 * time.Microsecond

// standardGravity in m/s².
const standardGravity = 9.80665

// FakeDevice describes one simulated device.
type FakeDevice struct {
	Serial  string
	Version HardwareVersion
	SyncIn  bool
	SyncOut bool

	// Calibration overrides the synthetic calibration record.
	Calibration func(calibration.DepthMode, calibration.ColorResolution) (calibration.Raw, error)
}

// FakeCounters is a snapshot of how often each operation was called.
type FakeCounters struct {
	Open          int
	Close         int
	StartCameras  int
	StopCameras   int
	StartIMU      int
	StopIMU       int
	GetCapture    int
	Release       int
	DoubleRelease int
	GetIMUSample  int
	Calibration   int
	SyncJack      int
	Version       int

	// SerialBufferSizes records the buffer length of every serial number
	// call, 0 for the size probe.
	SerialBufferSizes []int
}

// FakeBackend is an in-memory Backend. Frames and IMU samples are either
// pushed by the test or, with Generate set, produced like a real device at
// the configured frame rate. It is safe for concurrent use so tests can feed
// it from another goroutine.
type FakeBackend struct {
	// Clock paces generated frames and times out blocking reads. Set it
	// before the first call; nil means the real clock.
	Clock timeutil.Clock
	// Generate makes started devices produce frames and IMU samples.
	Generate bool

	mu         sync.Mutex
	devices    []*fakeDevice
	byHandle   map[DeviceHandle]*fakeDevice
	nextHandle DeviceHandle
	captures   map[CaptureToken]*fakeFrame
	nextToken  CaptureToken
	counters   FakeCounters
	faults     map[FakeOp]Result
}

type fakeDevice struct {
	FakeDevice
	index int

	open    bool
	handle  DeviceHandle
	cfg     Config
	cameras bool
	imu     bool
	started time.Time

	frames  chan *fakeFrame
	imuCh   chan IMUSample
	stop    chan struct{}
	seq     uint64
	imuSeq  uint64
	gravity r3.Vec
}

type fakeFrame struct {
	seq   uint64
	info  CaptureInfo
	depth *calibration.DepthMap
}

// NewFakeBackend creates a backend with the given attached devices.
func NewFakeBackend(devices ...FakeDevice) *FakeBackend {
	f := &FakeBackend{
		byHandle: make(map[DeviceHandle]*fakeDevice),
		captures: make(map[CaptureToken]*fakeFrame),
		faults:   make(map[FakeOp]Result),
	}
	for i, d := range devices {
		f.devices = append(f.devices, &fakeDevice{
			FakeDevice: d,
			index:      i,
			frames:     make(chan *fakeFrame, fakeQueueDepth),
			imuCh:      make(chan IMUSample, fakeQueueDepth),
		})
	}
	return f
}

// NewSimulatedBackend creates count devices that stream synthetic data.
func NewSimulatedBackend(count int) *FakeBackend {
	devices := make([]FakeDevice, count)
	for i := range devices {
		devices[i] = FakeDevice{
			Serial:  fmt.Sprintf("%012d", 1234567+i*1111),
			Version: SimulatedVersion(),
		}
	}
	f := NewFakeBackend(devices...)
	f.Generate = true
	return f
}

// SimulatedVersion is the firmware reported by simulated devices.
func SimulatedVersion() HardwareVersion {
	return HardwareVersion{
		RGB:            FirmwareVersion{1, 6, 110},
		Depth:          FirmwareVersion{1, 6, 80},
		Audio:          FirmwareVersion{1, 6, 14},
		DepthSensor:    FirmwareVersion{6109, 7, 0},
		FirmwareBuild:  "release",
		FirmwareSigned: true,
	}
}

func (f *FakeBackend) clock() timeutil.Clock {
	if f.Clock == nil {
		return timeutil.RealClock{}
	}
	return f.Clock
}

// SetFault makes every following call of op report r. ResultSucceeded
// clears the fault.
func (f *FakeBackend) SetFault(op FakeOp, r Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r == ResultSucceeded {
		delete(f.faults, op)
		return
	}
	f.faults[op] = r
}

// Counters returns a snapshot of the call counters.
func (f *FakeBackend) Counters() FakeCounters {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.counters
	c.SerialBufferSizes = append([]int(nil), f.counters.SerialBufferSizes...)
	return c
}

// LiveCaptures returns the number of captures handed out and not released.
func (f *FakeBackend) LiveCaptures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.captures)
}

// IsOpen reports whether the device at index is claimed.
func (f *FakeBackend) IsOpen(index int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return index >= 0 && index < len(f.devices) && f.devices[index].open
}

// Streaming reports whether the cameras and IMU of the device are running.
func (f *FakeBackend) Streaming(index int) (cameras, imu bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.devices) {
		return false, false
	}
	d := f.devices[index]
	return d.cameras, d.imu
}

// PushFrame queues a capture on the device at index. A nil depth map is
// synthesized on demand when info has a depth image.
func (f *FakeBackend) PushFrame(index int, info CaptureInfo, depth *calibration.DepthMap) error {
	f.mu.Lock()
	if index < 0 || index >= len(f.devices) {
		f.mu.Unlock()
		return fmt.Errorf("push frame to device %d: %w", index, ErrNotFound)
	}
	d := f.devices[index]
	d.seq++
	fr := &fakeFrame{seq: d.seq, info: info, depth: depth}
	f.mu.Unlock()

	select {
	case d.frames <- fr:
		return nil
	default:
		return fmt.Errorf("push frame to device %d: queue full", index)
	}
}

// PushIMUSample queues an IMU sample on the device at index.
func (f *FakeBackend) PushIMUSample(index int, s IMUSample) error {
	if index < 0 || index >= len(f.devices) {
		return fmt.Errorf("push imu sample to device %d: %w", index, ErrNotFound)
	}
	select {
	case f.devices[index].imuCh <- s:
		return nil
	default:
		return fmt.Errorf("push imu sample to device %d: queue full", index)
	}
}

func (f *FakeBackend) InstalledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

func (f *FakeBackend) Open(index int) (DeviceHandle, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.Open++
	if r, ok := f.faults[OpOpen]; ok {
		return 0, r
	}
	if index < 0 || index >= len(f.devices) {
		return 0, ResultNotFound
	}
	d := f.devices[index]
	if d.open {
		return 0, ResultBusy
	}
	f.nextHandle++
	d.open = true
	d.handle = f.nextHandle
	f.byHandle[d.handle] = d
	return d.handle, ResultSucceeded
}

func (f *FakeBackend) Close(h DeviceHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.Close++
	d, ok := f.byHandle[h]
	if !ok {
		return
	}
	f.stopCamerasLocked(d)
	d.imu = false
	d.open = false
	delete(f.byHandle, h)
}

func (f *FakeBackend) StartCameras(h DeviceHandle, cfg Config) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.StartCameras++
	if r, ok := f.faults[OpStartCameras]; ok {
		return r
	}
	d, ok := f.byHandle[h]
	if !ok {
		return ResultFailed
	}
	if d.cameras {
		return ResultFailed
	}

	// Frames queued before the start belong to nobody.
	for drained := false; !drained; {
		select {
		case <-d.frames:
		default:
			drained = true
		}
	}

	d.cfg = cfg
	d.cameras = true
	d.started = f.clock().Now()
	d.stop = make(chan struct{})
	d.gravity = fakeGravity(d, cfg)
	if f.Generate {
		go f.produce(d, cfg.FPS.Period(), d.stop)
	}
	return ResultSucceeded
}

func (f *FakeBackend) StopCameras(h DeviceHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.StopCameras++
	if d, ok := f.byHandle[h]; ok {
		f.stopCamerasLocked(d)
	}
}

func (f *FakeBackend) stopCamerasLocked(d *fakeDevice) {
	if !d.cameras {
		return
	}
	d.cameras = false
	close(d.stop)
}

func (f *FakeBackend) StartIMU(h DeviceHandle) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.StartIMU++
	if r, ok := f.faults[OpStartIMU]; ok {
		return r
	}
	d, ok := f.byHandle[h]
	if !ok || !d.cameras || d.imu {
		return ResultFailed
	}
	d.imu = true
	d.imuSeq = 0
	return ResultSucceeded
}

func (f *FakeBackend) StopIMU(h DeviceHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.StopIMU++
	if d, ok := f.byHandle[h]; ok {
		d.imu = false
	}
}

func (f *FakeBackend) GetCapture(h DeviceHandle, timeout time.Duration) (CaptureToken, Result) {
	f.mu.Lock()
	f.counters.GetCapture++
	if r, ok := f.faults[OpGetCapture]; ok {
		f.mu.Unlock()
		return 0, r
	}
	d, ok := f.byHandle[h]
	if !ok || !d.cameras {
		f.mu.Unlock()
		return 0, ResultFailed
	}
	frames, stop := d.frames, d.stop
	f.mu.Unlock()

	fr, r := waitFor(f.clock(), frames, stop, timeout)
	if r != ResultSucceeded {
		return 0, r
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextToken++
	f.captures[f.nextToken] = fr
	return f.nextToken, ResultSucceeded
}

// waitFor receives from ch for up to timeout. A zero timeout polls and
// WaitInfinite waits until data arrives or stop is closed.
func waitFor[T any](clock timeutil.Clock, ch <-chan T, stop <-chan struct{}, timeout time.Duration) (T, Result) {
	var zero T
	if timeout == 0 {
		select {
		case v := <-ch:
			return v, ResultSucceeded
		default:
			return zero, ResultTimeout
		}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := clock.NewTimer(timeout)
		defer t.Stop()
		expired = t.C()
	}
	select {
	case v := <-ch:
		return v, ResultSucceeded
	case <-expired:
		return zero, ResultTimeout
	case <-stop:
		return zero, ResultFailed
	}
}

func (f *FakeBackend) ReleaseCapture(t CaptureToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.Release++
	if _, ok := f.captures[t]; !ok {
		f.counters.DoubleRelease++
		return
	}
	delete(f.captures, t)
}

func (f *FakeBackend) CaptureInfo(t CaptureToken) (CaptureInfo, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.faults[OpCaptureInfo]; ok {
		return CaptureInfo{}, r
	}
	fr, ok := f.captures[t]
	if !ok {
		return CaptureInfo{}, ResultFailed
	}
	return fr.info, ResultSucceeded
}

func (f *FakeBackend) CaptureDepth(t CaptureToken) (*calibration.DepthMap, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.captures[t]
	if !ok {
		return nil, ResultFailed
	}
	if fr.depth == nil && fr.info.Depth != nil {
		fr.depth = syntheticScene(fr.info.Depth.Width, fr.info.Depth.Height, fr.seq)
	}
	if fr.depth == nil {
		return nil, ResultSucceeded
	}
	m := calibration.NewDepthMap(fr.depth.Width, fr.depth.Height)
	copy(m.Data, fr.depth.Data)
	return m, ResultSucceeded
}

func (f *FakeBackend) GetIMUSample(h DeviceHandle, timeout time.Duration, dst *IMUSample) Result {
	f.mu.Lock()
	f.counters.GetIMUSample++
	if r, ok := f.faults[OpGetIMUSample]; ok {
		f.mu.Unlock()
		return r
	}
	d, ok := f.byHandle[h]
	if !ok || !d.imu {
		f.mu.Unlock()
		return ResultFailed
	}
	if f.Generate {
		d.imuSeq++
		*dst = fakeIMUSample(d.imuSeq, d.gravity)
		f.mu.Unlock()
		return ResultSucceeded
	}
	ch, stop := d.imuCh, d.stop
	f.mu.Unlock()

	s, r := waitFor(f.clock(), ch, stop, timeout)
	if r == ResultSucceeded {
		*dst = s
	}
	return r
}

func (f *FakeBackend) GetCalibration(h DeviceHandle, depthMode calibration.DepthMode, colorRes calibration.ColorResolution) (calibration.Raw, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.Calibration++
	if r, ok := f.faults[OpCalibration]; ok {
		return calibration.Raw{}, r
	}
	d, ok := f.byHandle[h]
	if !ok {
		return calibration.Raw{}, ResultFailed
	}
	source := calibration.Synthetic
	if d.Calibration != nil {
		source = d.Calibration
	}
	raw, err := source(depthMode, colorRes)
	if err != nil {
		return calibration.Raw{}, ResultUnsupported
	}
	return raw, ResultSucceeded
}

func (f *FakeBackend) SerialNumber(h DeviceHandle, buf []byte) (int, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.SerialBufferSizes = append(f.counters.SerialBufferSizes, len(buf))
	if r, ok := f.faults[OpSerialNumber]; ok {
		return 0, r
	}
	d, ok := f.byHandle[h]
	if !ok {
		return 0, ResultFailed
	}
	need := len(d.Serial) + 1
	if len(buf) < need {
		return need, ResultBufferTooSmall
	}
	copy(buf, d.Serial)
	buf[len(d.Serial)] = 0
	return need, ResultSucceeded
}

func (f *FakeBackend) SyncJack(h DeviceHandle) (bool, bool, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.SyncJack++
	if r, ok := f.faults[OpSyncJack]; ok {
		return false, false, r
	}
	d, ok := f.byHandle[h]
	if !ok {
		return false, false, ResultFailed
	}
	return d.SyncIn, d.SyncOut, ResultSucceeded
}

// SetSyncJack changes the cable state reported by the device at index.
func (f *FakeBackend) SetSyncJack(index int, in, out bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= 0 && index < len(f.devices) {
		f.devices[index].SyncIn = in
		f.devices[index].SyncOut = out
	}
}

func (f *FakeBackend) Version(h DeviceHandle) (HardwareVersion, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.Version++
	if r, ok := f.faults[OpVersion]; ok {
		return HardwareVersion{}, r
	}
	d, ok := f.byHandle[h]
	if !ok {
		return HardwareVersion{}, ResultFailed
	}
	return d.Version, ResultSucceeded
}

// produce emits one frame per period until stop is closed.
func (f *FakeBackend) produce(d *fakeDevice, period time.Duration, stop <-chan struct{}) {
	ticker := f.clock().NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C():
			f.mu.Lock()
			d.seq++
			fr := &fakeFrame{seq: d.seq, info: FrameInfo(d.cfg, now.Sub(d.started))}
			f.mu.Unlock()
			select {
			case d.frames <- fr:
			default:
			}
		}
	}
}

// FrameInfo describes the images a device streaming cfg delivers at the
// given device time.
func FrameInfo(cfg Config, ts time.Duration) CaptureInfo {
	info := CaptureInfo{TemperatureC: 31.5}
	if w, h := cfg.ColorResolution.Resolution(); w > 0 {
		info.Color = &ImageInfo{
			Format:          cfg.ColorFormat,
			Width:           w,
			Height:          h,
			StrideBytes:     colorStride(cfg.ColorFormat, w),
			DeviceTimestamp: ts,
		}
	}
	if w, h := cfg.DepthMode.Resolution(); w > 0 {
		depthTS := ts + cfg.DepthDelayOffColor
		if cfg.DepthMode != calibration.DepthModePassiveIR {
			info.Depth = &ImageInfo{Format: ImageFormatDepth16, Width: w, Height: h, StrideBytes: 2 * w, DeviceTimestamp: depthTS}
		}
		info.IR = &ImageInfo{Format: ImageFormatIR16, Width: w, Height: h, StrideBytes: 2 * w, DeviceTimestamp: depthTS}
	}
	return info
}

func colorStride(format ImageFormat, width int) int {
	switch format {
	case ImageFormatBGRA32:
		return 4 * width
	case ImageFormatYUY2:
		return 2 * width
	case ImageFormatNV12:
		return width
	}
	return 0
}

// syntheticScene is a back wall at 2.5 m with a box at 1.2 m drifting
// across the middle third of the image. Frames differ by their sequence.
func syntheticScene(width, height int, seq uint64) *calibration.DepthMap {
	m := calibration.NewDepthMap(width, height)
	boxW, boxH := width/4, height/3
	x0 := int(seq*4) % (width - boxW + 1)
	y0 := height / 3
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			mm := uint16(2500 + y/4)
			if x >= x0 && x < x0+boxW && y >= y0 && y < y0+boxH {
				mm = 1200
			}
			m.Data[y*width+x] = mm
		}
	}
	return m
}

// fakeGravity is the accelerometer reading of a level device: 1 g upwards
// in depth camera axes (whose y points down), expressed in accelerometer
// axes.
func fakeGravity(d *fakeDevice, cfg Config) r3.Vec {
	up := r3.Vec{Y: -standardGravity}
	source := calibration.Synthetic
	if d.Calibration != nil {
		source = d.Calibration
	}
	raw, err := source(cfg.DepthMode, cfg.ColorResolution)
	if err != nil {
		return up
	}
	c, err := calibration.New(raw)
	if err != nil {
		return up
	}
	g, err := c.RotateVector(up, calibration.SpaceDepth, calibration.SpaceAccel)
	if err != nil {
		return up
	}
	return g
}

func fakeIMUSample(seq uint64, gravity r3.Vec) IMUSample {
	ts := time.Duration(seq) * imuPeriod
	wobble := 0.002 * math.Sin(float64(seq)/50)
	return IMUSample{
		TemperatureC:   32.25,
		AccelSample:    [3]float32{float32(gravity.X), float32(gravity.Y), float32(gravity.Z)},
		AccelTimestamp: ts,
		GyroSample:     [3]float32{float32(wobble), float32(-wobble / 2), 0},
		GyroTimestamp:  ts + 12*time.Microsecond,
	}
}

var _ Backend = (*FakeBackend)(nil)

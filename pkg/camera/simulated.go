package camera

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"agcentroid/pkg/centroid"
)

const (
	simPollInterval = 20 * time.Millisecond
	simFullWell     = 65535
)

// Star is a Gaussian source on the simulated sensor, in unbinned pixels.
// Flux is the integrated ADU of the star in one light frame.
type Star struct {
	X, Y  float64
	Flux  float64
	Sigma float64
}

// SimConfig describes a simulated sensor.
type SimConfig struct {
	Model       string
	Width       int
	Height      int
	PixelSize   float64
	Background  float64 // ADU per unbinned pixel
	ReadNoise   float64 // ADU rms per read-out pixel
	ReadoutTime time.Duration
	Stars       []Star
	Seed        uint64
}

// NewSimConfig returns a MicroLine-sized sensor with no stars.
func NewSimConfig() SimConfig {
	return SimConfig{
		Model:       "MicroLine ML4720",
		Width:       1072,
		Height:      1033,
		PixelSize:   13e-6,
		Background:  1000,
		ReadNoise:   10,
		ReadoutTime: 350 * time.Millisecond,
	}
}

// SimDriver hands out simulated devices that all share one configuration.
type SimDriver struct {
	Cameras int
	Config  SimConfig
}

func (d *SimDriver) Count() int { return d.Cameras }

func (d *SimDriver) Open(id int) (Device, error) {
	if id < 0 || id >= d.Cameras {
		return nil, fmt.Errorf("%w: %d", ErrNoDevice, id)
	}
	cfg := d.Config
	cfg.Seed += uint64(id)
	return NewSimulatedDevice(fmt.Sprintf("SIM%04d", id), cfg)
}

// SimulatedDevice renders Gaussian stars on a flat background with read noise.
type SimulatedDevice struct {
	mu        sync.Mutex
	cfg       SimConfig
	serial    string
	status    Status
	area      Area
	hbin      int
	vbin      int
	exposure  time.Duration
	frameType FrameType
	frame     *Frame
	rng       *rand.Rand
}

// NewSimulatedDevice returns a ready device with full-frame 1x1 readout.
func NewSimulatedDevice(serial string, cfg SimConfig) (*SimulatedDevice, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: sensor %dx%d", ErrInvalidConfig, cfg.Width, cfg.Height)
	}
	if cfg.ReadNoise < 0 || cfg.Background < 0 {
		return nil, fmt.Errorf("%w: negative background or read noise", ErrInvalidConfig)
	}
	return &SimulatedDevice{
		cfg:    cfg,
		serial: serial,
		status: StatusReady,
		area:   Area{Width: cfg.Width, Height: cfg.Height},
		hbin:   1,
		vbin:   1,
		rng:    rand.New(rand.NewPCG(cfg.Seed, 0x5eed)),
	}, nil
}

func (d *SimulatedDevice) Info() Info {
	return Info{
		Model:      d.cfg.Model,
		Serial:     d.serial,
		Width:      d.cfg.Width,
		Height:     d.cfg.Height,
		PixelSizeX: d.cfg.PixelSize,
		PixelSizeY: d.cfg.PixelSize,
	}
}

func (d *SimulatedDevice) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// ready must be called with mu held.
func (d *SimulatedDevice) ready() error {
	switch d.status {
	case StatusClosed:
		return ErrNotOpen
	case StatusExposing:
		return ErrBusy
	}
	return nil
}

func (d *SimulatedDevice) SetFrame(area Area) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if area.X < 0 || area.Y < 0 || area.Width <= 0 || area.Height <= 0 ||
		area.X+area.Width > d.cfg.Width || area.Y+area.Height > d.cfg.Height {
		return fmt.Errorf("%w: %+v on %dx%d sensor", ErrInvalidArea, area, d.cfg.Width, d.cfg.Height)
	}
	d.area = area
	return nil
}

func (d *SimulatedDevice) ResetFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	d.area = Area{Width: d.cfg.Width, Height: d.cfg.Height}
	d.hbin, d.vbin = 1, 1
	return nil
}

func (d *SimulatedDevice) SetBinning(hbin, vbin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if hbin < 1 || vbin < 1 {
		return fmt.Errorf("%w: binning %dx%d", ErrInvalidConfig, hbin, vbin)
	}
	d.hbin, d.vbin = hbin, vbin
	return nil
}

func (d *SimulatedDevice) SetExposure(exp time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if exp < 0 {
		return fmt.Errorf("%w: exposure %s", ErrInvalidConfig, exp)
	}
	d.exposure = exp
	return nil
}

func (d *SimulatedDevice) SetFrameType(t FrameType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	d.frameType = t
	return nil
}

// Expose waits out the exposure plus readout time, polling ctx, and renders
// the frame.
func (d *SimulatedDevice) Expose(ctx context.Context) error {
	d.mu.Lock()
	if err := d.ready(); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.area.Width < d.hbin || d.area.Height < d.vbin {
		d.mu.Unlock()
		return fmt.Errorf("%w: binning %dx%d larger than frame %dx%d", ErrInvalidConfig, d.hbin, d.vbin, d.area.Width, d.area.Height)
	}
	d.status = StatusExposing
	d.frame = nil
	start := time.Now()
	total := d.exposure + d.cfg.ReadoutTime
	d.mu.Unlock()

	ticker := time.NewTicker(simPollInterval)
	defer ticker.Stop()
	for time.Since(start) < total {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.status = StatusReady
			d.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = d.render(start)
	d.status = StatusReady
	return nil
}

func (d *SimulatedDevice) ReadFrame() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusClosed {
		return nil, ErrNotOpen
	}
	if d.frame == nil {
		return nil, ErrNoFrame
	}
	return d.frame, nil
}

func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusClosed {
		return ErrNotOpen
	}
	d.status = StatusClosed
	d.frame = nil
	return nil
}

// render must be called with mu held. Binned pixels sum their unbinned
// signal; read noise is added once per output pixel.
func (d *SimulatedDevice) render(start time.Time) *Frame {
	w := d.area.Width / d.hbin
	h := d.area.Height / d.vbin
	binArea := float64(d.hbin * d.vbin)

	signal := make([]float64, w*h)
	for i := range signal {
		signal[i] = d.cfg.Background * binArea
	}

	if d.frameType == FrameLight {
		for _, s := range d.cfg.Stars {
			if s.Sigma <= 0 || s.Flux <= 0 {
				continue
			}
			norm := s.Flux / (2 * math.Pi * s.Sigma * s.Sigma)
			reach := 5 * s.Sigma
			x0 := max(int(math.Floor(s.X-reach)), d.area.X)
			x1 := min(int(math.Ceil(s.X+reach)), d.area.X+w*d.hbin-1)
			y0 := max(int(math.Floor(s.Y-reach)), d.area.Y)
			y1 := min(int(math.Ceil(s.Y+reach)), d.area.Y+h*d.vbin-1)
			for sy := y0; sy <= y1; sy++ {
				dy := float64(sy) - s.Y
				by := (sy - d.area.Y) / d.vbin
				for sx := x0; sx <= x1; sx++ {
					dx := float64(sx) - s.X
					bx := (sx - d.area.X) / d.hbin
					signal[by*w+bx] += norm * math.Exp(-(dx*dx+dy*dy)/(2*s.Sigma*s.Sigma))
				}
			}
		}
	}

	img := centroid.NewImage(w, h)
	for i, v := range signal {
		v += d.rng.NormFloat64() * d.cfg.ReadNoise
		img.Pix[i] = int32(math.Round(math.Max(0, math.Min(simFullWell, v))))
	}

	return &Frame{
		Image:    img,
		Start:    start,
		Exposure: d.exposure,
		Type:     d.frameType,
		Area:     d.area,
		HBin:     d.hbin,
		VBin:     d.vbin,
	}
}

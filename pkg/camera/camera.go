// Package camera models the guide camera collaborator of the centroiding
// pipeline: a Session that owns a set of devices and a Device interface for
// frame geometry, exposure and readout.
package camera

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agcentroid/pkg/centroid"
)

var (
	ErrNoDevice      = errors.New("no such device")
	ErrAlreadyOpen   = errors.New("device already open")
	ErrNotOpen       = errors.New("device not open")
	ErrBusy          = errors.New("device busy")
	ErrNoFrame       = errors.New("no frame available")
	ErrInvalidArea   = errors.New("invalid frame area")
	ErrInvalidConfig = errors.New("invalid device setting")
)

// Status is the state of a device.
type Status int

const (
	StatusClosed Status = iota
	StatusReady
	StatusExposing
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "CLOSED"
	case StatusReady:
		return "READY"
	case StatusExposing:
		return "EXPOSING"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// FrameType selects a light or dark exposure.
type FrameType int

const (
	FrameLight FrameType = iota
	FrameDark
)

// Area is a readout window in unbinned sensor pixels.
type Area struct {
	X, Y          int
	Width, Height int
}

// Info describes a device.
type Info struct {
	Model      string
	Serial     string
	Width      int // full sensor, unbinned
	Height     int
	PixelSizeX float64 // metres
	PixelSizeY float64
}

// Frame is one read-out exposure.
type Frame struct {
	Image    centroid.Image
	Start    time.Time
	Exposure time.Duration
	Type     FrameType
	Area     Area
	HBin     int
	VBin     int
}

// Headers returns FITS keywords describing the frame.
func (f *Frame) Headers(info Info) map[string]string {
	shutter := "OPEN"
	if f.Type == FrameDark {
		shutter = "CLOSE"
	}
	return map[string]string{
		"DATE-OBS": f.Start.UTC().Format("2006-01-02T15:04:05.000"),
		"INSTRUME": info.Model,
		"SERIAL":   info.Serial,
		"EXPTIME":  fmt.Sprintf("%g", f.Exposure.Seconds()),
		"XBINNING": fmt.Sprint(f.HBin),
		"YBINNING": fmt.Sprint(f.VBin),
		"SHUTTER":  shutter,
		"CCDAREA":  fmt.Sprintf("[%d:%d,%d:%d]", f.Area.X, f.Area.X+f.Area.Width, f.Area.Y, f.Area.Y+f.Area.Height),
	}
}

// Device is an open camera.
type Device interface {
	Info() Info
	Status() Status
	SetFrame(area Area) error
	// ResetFrame restores full-sensor readout and 1x1 binning.
	ResetFrame() error
	SetBinning(hbin, vbin int) error
	SetExposure(d time.Duration) error
	SetFrameType(t FrameType) error
	// Expose blocks until the exposure is read out or ctx is done. A
	// cancelled exposure leaves no frame behind.
	Expose(ctx context.Context) error
	ReadFrame() (*Frame, error)
	Close() error
}

// Driver creates devices for a Session.
type Driver interface {
	Count() int
	Open(id int) (Device, error)
}

// Session owns the devices opened through one driver.
type Session struct {
	mu      sync.Mutex
	driver  Driver
	devices map[int]Device
	log     *zerolog.Logger
}

// NewSession wraps driver. logger may be nil.
func NewSession(driver Driver, logger *zerolog.Logger) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Session{driver: driver, devices: make(map[int]Device), log: logger}
}

// Enumerate lists the device ids the driver offers.
func (s *Session) Enumerate() []int {
	n := s.driver.Count()
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// Open opens device id.
func (s *Session) Open(id int) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 0 || id >= s.driver.Count() {
		return nil, fmt.Errorf("%w: %d", ErrNoDevice, id)
	}
	if _, ok := s.devices[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrAlreadyOpen, id)
	}
	dev, err := s.driver.Open(id)
	if err != nil {
		return nil, fmt.Errorf("opening camera %d: %w", id, err)
	}
	s.devices[id] = dev
	info := dev.Info()
	s.log.Info().Int("id", id).Str("model", info.Model).Str("serial", info.Serial).Msg("camera opened")
	return dev, nil
}

// Device returns an open device.
func (s *Session) Device(id int) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotOpen, id)
	}
	return dev, nil
}

// Close closes device id.
func (s *Session) Close(id int) error {
	s.mu.Lock()
	dev, ok := s.devices[id]
	delete(s.devices, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrNotOpen, id)
	}
	if err := dev.Close(); err != nil {
		return fmt.Errorf("closing camera %d: %w", id, err)
	}
	s.log.Info().Int("id", id).Msg("camera closed")
	return nil
}

// CloseAll closes every open device and returns the first error.
func (s *Session) CloseAll() error {
	s.mu.Lock()
	ids := make([]int, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)

	var first error
	for _, id := range ids {
		if err := s.Close(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// host.go - Host-Backend (reines Go, CPU-Geraet)
//
// Enthaelt:
// - Driver, Platform und Device fuer die Ausfuehrung ohne OpenCL-Treiber
// - Context mit Buffer- und Programm-Erzeugung
//
// Das Host-Backend stellt genau eine Plattform mit genau einem CPU-Geraet
// bereit. Kernel werden als Go-Funktionen ueber RegisterKernel hinterlegt.

package host

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/ml"
)

const (
	backendName  = "host"
	platformName = "fiteval host"
)

func init() {
	ml.RegisterBackend(backendName, func() (ml.Driver, error) {
		return New(envconfig.NumThreads()), nil
	})
}

// Driver is the host driver. Threads bounds the number of work items that run
// concurrently.
type Driver struct {
	threads int
}

// New creates a host driver with the given worker count (NumCPU if <= 0).
func New(threads int) *Driver {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &Driver{threads: threads}
}

func (d *Driver) Name() string { return backendName }

func (d *Driver) Platforms() ([]ml.Platform, error) {
	return []ml.Platform{&platform{driver: d}}, nil
}

type platform struct {
	driver *Driver
}

func (p *platform) Info() ml.PlatformInfo {
	return ml.PlatformInfo{
		Index:   0,
		Name:    platformName,
		Vendor:  "fiteval",
		Version: runtime.Version(),
	}
}

func (p *platform) Devices(t ml.DeviceType) ([]ml.Device, error) {
	switch t {
	case ml.DeviceTypeCPU, ml.DeviceTypeAll:
		return []ml.Device{&device{driver: p.driver}}, nil
	default:
		return nil, fmt.Errorf("%w: host platform has no %s devices", ml.ErrDeviceNotFound, t)
	}
}

type device struct {
	driver *Driver
}

func (d *device) Info() ml.DeviceInfo {
	return ml.DeviceInfo{
		Backend:          backendName,
		Platform:         platformName,
		Name:             fmt.Sprintf("Host CPU (%s/%s)", runtime.GOOS, runtime.GOARCH),
		Vendor:           runtime.GOARCH,
		Type:             ml.DeviceTypeCPU,
		ComputeUnits:     d.driver.threads,
		MaxWorkGroupSize: 1,
		DriverVersion:    runtime.Version(),
	}
}

func (d *device) CreateContext() (ml.Context, error) {
	return &hostContext{device: d}, nil
}

var errReleased = errors.New("resource already released")

type hostContext struct {
	device *device

	mu       sync.Mutex
	released bool
}

func (c *hostContext) CreateQueue(d ml.Device) (ml.Queue, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	hd, ok := d.(*device)
	if !ok || hd != c.device {
		return nil, errors.New("invalid device: not bound to this context")
	}
	return &queue{threads: hd.driver.threads}, nil
}

func (c *hostContext) CreateBuffer(flags ml.MemFlags, size int) (ml.Buffer, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	if size%ml.Float32Size != 0 {
		return nil, fmt.Errorf("invalid buffer size %d: not a multiple of %d", size, ml.Float32Size)
	}
	return &buffer{flags: flags, data: make([]float32, size/ml.Float32Size)}, nil
}

func (c *hostContext) CreateProgram(source string) (ml.Program, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if source == "" {
		return nil, errors.New("invalid value: empty program source")
	}
	return &program{source: source, device: c.device}, nil
}

func (c *hostContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	return nil
}

func (c *hostContext) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return fmt.Errorf("context: %w", errReleased)
	}
	return nil
}

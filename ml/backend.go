// backend.go - Backend-Interface und Registrierung fuer Compute-Treiber
// Dieses Modul definiert die Handle-Interfaces (Platform, Device, Context,
// Queue, Program, Kernel, Buffer) und die Backend-Factory-Funktionen.
package ml

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
)

// Driver represents a compute runtime (e.g. OpenCL) able to enumerate
// platforms and the devices they expose.
type Driver interface {
	// Name is the name the driver was registered under
	Name() string

	// Platforms enumerates the available platforms in driver order
	Platforms() ([]Platform, error)
}

// Platform is one vendor implementation exposed by a driver.
type Platform interface {
	Info() PlatformInfo

	// Devices returns the devices of the requested class. An empty result
	// without error is never returned; drivers report ErrDeviceNotFound.
	Devices(t DeviceType) ([]Device, error)
}

// Device is a single compute device on a platform.
type Device interface {
	Info() DeviceInfo

	// CreateContext creates a context bound to this device only
	CreateContext() (Context, error)
}

// Context owns buffers and programs for one device.
type Context interface {
	Releaser

	CreateQueue(d Device) (Queue, error)
	CreateBuffer(flags MemFlags, size int) (Buffer, error)
	CreateProgram(source string) (Program, error)
}

// Queue is an in-order command queue. Reads and writes with blocking set do
// not return until the transfer has completed.
type Queue interface {
	Releaser

	WriteBuffer(b Buffer, blocking bool, src []float32) error
	ReadBuffer(b Buffer, blocking bool, dst []float32) error

	// EnqueueKernel launches k over a one-dimensional range of global work items
	EnqueueKernel(k Kernel, global int) error

	// Finish blocks until every command in the queue has completed
	Finish() error
}

// Program is compiled device code.
type Program interface {
	Releaser

	// Build compiles the program for d with the given compiler options
	Build(d Device, options string) error

	// BuildLog returns the compiler output of the last Build for d
	BuildLog(d Device) string

	// KernelNames lists the entry points the program declares
	KernelNames() []string

	CreateKernel(name string) (Kernel, error)
}

// Kernel is one entry point of a built program with its bound arguments.
type Kernel interface {
	Releaser

	Name() string
	SetArgBuffer(index int, b Buffer) error
	SetArgInt32(index int, v int32) error
}

// Buffer is device memory.
type Buffer interface {
	Releaser

	// Size is the allocation size in bytes
	Size() int
	Flags() MemFlags
}

// Releaser frees a driver resource. Release must be safe to call more than once.
type Releaser interface {
	Release() error
}

// ErrDeviceNotFound is returned by Platform.Devices when no device of the
// requested class exists.
var ErrDeviceNotFound = errors.New("device not found")

// preferred is the order NewBackend tries when no backend is named
var preferred = []string{"opencl", "host"}

var backends = make(map[string]func() (Driver, error))

// RegisterBackend registers a backend factory function.
func RegisterBackend(name string, f func() (Driver, error)) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend creates the named driver. With an empty name the preferred
// backends are tried in order and the first that initialises is returned.
func NewBackend(name string) (Driver, error) {
	if name != "" {
		backend, ok := backends[name]
		if !ok {
			return nil, fmt.Errorf("unsupported backend %q (available: %v)", name, Backends())
		}
		return backend()
	}

	var errs []error
	for _, name := range preferred {
		backend, ok := backends[name]
		if !ok {
			continue
		}

		d, err := backend()
		if err != nil {
			slog.Debug("backend unavailable", "backend", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		return d, nil
	}

	for _, name := range Backends() {
		if slices.Contains(preferred, name) {
			continue
		}
		if d, err := backends[name](); err == nil {
			return d, nil
		}
	}

	return nil, fmt.Errorf("no usable backend: %w", errors.Join(errs...))
}

//go:build opencl && cgo

// opencl.go - OpenCL-Treiber, Plattformen und Geraete
//
// Enthaelt:
// - init(): Registrierung als Backend "opencl"
// - Driver.Platforms, platform.Devices
// - Abfrage von Plattform- und Geraeteinformationen

package opencl

/*
#cgo CFLAGS: -DCL_TARGET_OPENCL_VERSION=120 -DCL_USE_DEPRECATED_OPENCL_1_2_APIS
#cgo linux LDFLAGS: -lOpenCL
#cgo windows LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unsafe"

	"github.com/genevo/fiteval/ml"
)

const backendName = "opencl"

func init() {
	ml.RegisterBackend(backendName, func() (ml.Driver, error) {
		return New()
	})
}

// Driver talks to the installed OpenCL ICD loader.
type Driver struct{}

// New returns a driver after checking that at least one platform is
// installed.
func New() (*Driver, error) {
	var n C.cl_uint
	if err := callError("clGetPlatformIDs", Status(C.clGetPlatformIDs(0, nil, &n))); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("no OpenCL platforms installed")
	}
	return &Driver{}, nil
}

func (d *Driver) Name() string { return backendName }

func (d *Driver) Platforms() ([]ml.Platform, error) {
	var n C.cl_uint
	status := Status(C.clGetPlatformIDs(0, nil, &n))
	if status == StatusPlatformNotFoundKHR || n == 0 {
		return nil, nil
	}
	if err := callError("clGetPlatformIDs", status); err != nil {
		return nil, err
	}

	ids := make([]C.cl_platform_id, n)
	if err := callError("clGetPlatformIDs", Status(C.clGetPlatformIDs(n, &ids[0], nil))); err != nil {
		return nil, err
	}

	platforms := make([]ml.Platform, len(ids))
	for i, id := range ids {
		p := &platform{id: id, index: i}
		p.info = ml.PlatformInfo{
			Index:   i,
			Name:    p.infoString(C.CL_PLATFORM_NAME),
			Vendor:  p.infoString(C.CL_PLATFORM_VENDOR),
			Version: p.infoString(C.CL_PLATFORM_VERSION),
		}
		slog.Debug("opencl platform", "index", i, "name", p.info.Name, "version", p.info.Version)
		platforms[i] = p
	}
	return platforms, nil
}

type platform struct {
	id    C.cl_platform_id
	index int
	info  ml.PlatformInfo
}

func (p *platform) Info() ml.PlatformInfo { return p.info }

func (p *platform) infoString(param C.cl_platform_info) string {
	var size C.size_t
	if C.clGetPlatformInfo(p.id, param, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if C.clGetPlatformInfo(p.id, param, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00")
}

func deviceTypeMask(t ml.DeviceType) C.cl_device_type {
	switch t {
	case ml.DeviceTypeGPU:
		return C.CL_DEVICE_TYPE_GPU
	case ml.DeviceTypeCPU:
		return C.CL_DEVICE_TYPE_CPU
	case ml.DeviceTypeAccelerator:
		return C.CL_DEVICE_TYPE_ACCELERATOR
	default:
		return C.CL_DEVICE_TYPE_ALL
	}
}

func (p *platform) Devices(t ml.DeviceType) ([]ml.Device, error) {
	mask := deviceTypeMask(t)

	var n C.cl_uint
	status := Status(C.clGetDeviceIDs(p.id, mask, 0, nil, &n))
	if status == StatusDeviceNotFound || (status == StatusSuccess && n == 0) {
		return nil, fmt.Errorf("%w: platform %q has no %s devices", ml.ErrDeviceNotFound, p.info.Name, t)
	}
	if err := callError("clGetDeviceIDs", status); err != nil {
		return nil, err
	}

	ids := make([]C.cl_device_id, n)
	if err := callError("clGetDeviceIDs", Status(C.clGetDeviceIDs(p.id, mask, n, &ids[0], nil))); err != nil {
		return nil, err
	}

	devices := make([]ml.Device, len(ids))
	for i, id := range ids {
		devices[i] = newDevice(id, p.info.Name)
	}
	return devices, nil
}

type device struct {
	id   C.cl_device_id
	info ml.DeviceInfo
}

func newDevice(id C.cl_device_id, platformName string) *device {
	d := &device{id: id}

	var kind C.cl_device_type
	var units C.cl_uint
	var mem C.cl_ulong
	var wg C.size_t
	d.infoValue(C.CL_DEVICE_TYPE, unsafe.Sizeof(kind), unsafe.Pointer(&kind))
	d.infoValue(C.CL_DEVICE_MAX_COMPUTE_UNITS, unsafe.Sizeof(units), unsafe.Pointer(&units))
	d.infoValue(C.CL_DEVICE_GLOBAL_MEM_SIZE, unsafe.Sizeof(mem), unsafe.Pointer(&mem))
	d.infoValue(C.CL_DEVICE_MAX_WORK_GROUP_SIZE, unsafe.Sizeof(wg), unsafe.Pointer(&wg))

	t := ml.DeviceTypeAll
	switch {
	case kind&C.CL_DEVICE_TYPE_GPU != 0:
		t = ml.DeviceTypeGPU
	case kind&C.CL_DEVICE_TYPE_CPU != 0:
		t = ml.DeviceTypeCPU
	case kind&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		t = ml.DeviceTypeAccelerator
	}

	d.info = ml.DeviceInfo{
		Backend:          backendName,
		Platform:         platformName,
		Name:             d.infoString(C.CL_DEVICE_NAME),
		Vendor:           d.infoString(C.CL_DEVICE_VENDOR),
		Type:             t,
		ComputeUnits:     int(units),
		GlobalMemory:     uint64(mem),
		MaxWorkGroupSize: int(wg),
		DriverVersion:    d.infoString(C.CL_DRIVER_VERSION),
	}
	return d
}

func (d *device) Info() ml.DeviceInfo { return d.info }

func (d *device) infoValue(param C.cl_device_info, size uintptr, ptr unsafe.Pointer) {
	if status := Status(C.clGetDeviceInfo(d.id, param, C.size_t(size), ptr, nil)); status != StatusSuccess {
		slog.Debug("clGetDeviceInfo failed", "param", int(param), "status", status)
	}
}

func (d *device) infoString(param C.cl_device_info) string {
	var size C.size_t
	if C.clGetDeviceInfo(d.id, param, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if C.clGetDeviceInfo(d.id, param, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00")
}

func (d *device) CreateContext() (ml.Context, error) {
	var status C.cl_int
	id := d.id
	ctx := C.clCreateContext(nil, 1, &id, nil, nil, &status)
	if err := callError("clCreateContext", Status(status)); err != nil {
		return nil, err
	}
	return &clContext{ctx: ctx, device: d}, nil
}

//go:build opencl && cgo

// program.go - OpenCL-Programme und Kernel
//
// Enthaelt:
// - clProgram: Build, Build-Log, Kernel-Namen, Kernel-Erzeugung
// - clKernel: Argument-Bindung fuer Buffer und int32-Skalare

package opencl

/*
#cgo CFLAGS: -DCL_TARGET_OPENCL_VERSION=120 -DCL_USE_DEPRECATED_OPENCL_1_2_APIS

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"strings"
	"sync"
	"unsafe"

	"github.com/genevo/fiteval/ml"
)

type clProgram struct {
	program C.cl_program
	once    sync.Once
}

func (p *clProgram) Build(d ml.Device, options string) error {
	cd, ok := d.(*device)
	if !ok {
		return errors.New("device does not belong to the opencl backend")
	}
	copts := C.CString(options)
	defer C.free(unsafe.Pointer(copts))

	id := cd.id
	return callError("clBuildProgram", Status(C.clBuildProgram(p.program, 1, &id, copts, nil, nil)))
}

func (p *clProgram) BuildLog(d ml.Device) string {
	cd, ok := d.(*device)
	if !ok {
		return ""
	}
	var size C.size_t
	if C.clGetProgramBuildInfo(p.program, cd.id, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size) != C.CL_SUCCESS || size <= 1 {
		return ""
	}
	buf := make([]byte, size)
	if C.clGetProgramBuildInfo(p.program, cd.id, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(string(buf), "\x00"))
}

// KernelNames requires a built program.
func (p *clProgram) KernelNames() []string {
	var size C.size_t
	if C.clGetProgramInfo(p.program, C.CL_PROGRAM_KERNEL_NAMES, 0, nil, &size) != C.CL_SUCCESS || size <= 1 {
		return nil
	}
	buf := make([]byte, size)
	if C.clGetProgramInfo(p.program, C.CL_PROGRAM_KERNEL_NAMES, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return nil
	}
	names := strings.TrimRight(string(buf), "\x00")
	if names == "" {
		return nil
	}
	return strings.Split(names, ";")
}

func (p *clProgram) CreateKernel(name string) (ml.Kernel, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var status C.cl_int
	k := C.clCreateKernel(p.program, cname, &status)
	if err := callError("clCreateKernel", Status(status)); err != nil {
		return nil, err
	}
	return &clKernel{kernel: k, name: name}, nil
}

func (p *clProgram) Release() error {
	var err error
	p.once.Do(func() {
		err = callError("clReleaseProgram", Status(C.clReleaseProgram(p.program)))
	})
	return err
}

type clKernel struct {
	kernel C.cl_kernel
	name   string
	once   sync.Once
}

func (k *clKernel) Name() string { return k.name }

func (k *clKernel) SetArgBuffer(index int, b ml.Buffer) error {
	cb, err := bufferOf(b)
	if err != nil {
		return err
	}
	mem := cb.mem
	return callError("clSetKernelArg", Status(C.clSetKernelArg(
		k.kernel, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))))
}

func (k *clKernel) SetArgInt32(index int, v int32) error {
	cv := C.cl_int(v)
	return callError("clSetKernelArg", Status(C.clSetKernelArg(
		k.kernel, C.cl_uint(index), C.size_t(unsafe.Sizeof(cv)), unsafe.Pointer(&cv))))
}

func (k *clKernel) Release() error {
	var err error
	k.once.Do(func() {
		err = callError("clReleaseKernel", Status(C.clReleaseKernel(k.kernel)))
	})
	return err
}

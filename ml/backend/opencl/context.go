//go:build opencl && cgo

// context.go - OpenCL-Kontext, Command-Queue und Buffer
//
// Enthaelt:
// - clContext: Queue-, Buffer- und Programm-Erzeugung
// - clQueue: Transfers, NDRange-Start und Finish
// - clBuffer

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
	"fmt"
	"sync"
	"unsafe"

	"github.com/genevo/fiteval/ml"
)

type clContext struct {
	ctx    C.cl_context
	device *device

	once sync.Once
}

func (c *clContext) CreateQueue(d ml.Device) (ml.Queue, error) {
	cd, ok := d.(*device)
	if !ok {
		return nil, errors.New("device does not belong to the opencl backend")
	}
	var status C.cl_int
	q := C.clCreateCommandQueue(c.ctx, cd.id, 0, &status)
	if err := callError("clCreateCommandQueue", Status(status)); err != nil {
		return nil, err
	}
	return &clQueue{queue: q}, nil
}

func memFlags(f ml.MemFlags) C.cl_mem_flags {
	switch f {
	case ml.MemReadOnly:
		return C.CL_MEM_READ_ONLY
	case ml.MemWriteOnly:
		return C.CL_MEM_WRITE_ONLY
	default:
		return C.CL_MEM_READ_WRITE
	}
}

func (c *clContext) CreateBuffer(flags ml.MemFlags, size int) (ml.Buffer, error) {
	if size <= 0 {
		return nil, callError("clCreateBuffer", Status(C.CL_INVALID_BUFFER_SIZE))
	}
	var status C.cl_int
	mem := C.clCreateBuffer(c.ctx, memFlags(flags), C.size_t(size), nil, &status)
	if err := callError("clCreateBuffer", Status(status)); err != nil {
		return nil, err
	}
	return &clBuffer{mem: mem, size: size, flags: flags}, nil
}

func (c *clContext) CreateProgram(source string) (ml.Program, error) {
	csrc := C.CString(source)
	defer C.free(unsafe.Pointer(csrc))
	length := C.size_t(len(source))

	var status C.cl_int
	p := C.clCreateProgramWithSource(c.ctx, 1, &csrc, &length, &status)
	if err := callError("clCreateProgramWithSource", Status(status)); err != nil {
		return nil, err
	}
	return &clProgram{program: p}, nil
}

func (c *clContext) Release() error {
	var err error
	c.once.Do(func() {
		err = callError("clReleaseContext", Status(C.clReleaseContext(c.ctx)))
	})
	return err
}

type clQueue struct {
	queue C.cl_command_queue
	once  sync.Once
}

func bufferOf(b ml.Buffer) (*clBuffer, error) {
	cb, ok := b.(*clBuffer)
	if !ok || cb == nil {
		return nil, callError("clEnqueue", Status(C.CL_INVALID_MEM_OBJECT))
	}
	return cb, nil
}

// WriteBuffer always blocks. Go memory may not be retained by the driver
// after the call returns, so the blocking flag only documents intent.
func (q *clQueue) WriteBuffer(b ml.Buffer, blocking bool, src []float32) error {
	cb, err := bufferOf(b)
	if err != nil {
		return err
	}
	size := len(src) * ml.Float32Size
	if size > cb.size {
		return fmt.Errorf("write of %d bytes exceeds buffer of %d bytes: %w", size, cb.size, Status(C.CL_INVALID_VALUE))
	}
	if size == 0 {
		return nil
	}
	return callError("clEnqueueWriteBuffer", Status(C.clEnqueueWriteBuffer(
		q.queue, cb.mem, C.CL_TRUE, 0, C.size_t(size), unsafe.Pointer(&src[0]), 0, nil, nil)))
}

// ReadBuffer always blocks, see WriteBuffer.
func (q *clQueue) ReadBuffer(b ml.Buffer, blocking bool, dst []float32) error {
	cb, err := bufferOf(b)
	if err != nil {
		return err
	}
	size := len(dst) * ml.Float32Size
	if size > cb.size {
		return fmt.Errorf("read of %d bytes exceeds buffer of %d bytes: %w", size, cb.size, Status(C.CL_INVALID_VALUE))
	}
	if size == 0 {
		return nil
	}
	return callError("clEnqueueReadBuffer", Status(C.clEnqueueReadBuffer(
		q.queue, cb.mem, C.CL_TRUE, 0, C.size_t(size), unsafe.Pointer(&dst[0]), 0, nil, nil)))
}

func (q *clQueue) EnqueueKernel(k ml.Kernel, global int) error {
	ck, ok := k.(*clKernel)
	if !ok || ck == nil {
		return callError("clEnqueueNDRangeKernel", Status(C.CL_INVALID_KERNEL))
	}
	if global <= 0 {
		return callError("clEnqueueNDRangeKernel", Status(C.CL_INVALID_GLOBAL_WORK_SIZE))
	}
	gws := C.size_t(global)
	return callError("clEnqueueNDRangeKernel", Status(C.clEnqueueNDRangeKernel(
		q.queue, ck.kernel, 1, nil, &gws, nil, 0, nil, nil)))
}

func (q *clQueue) Finish() error {
	return callError("clFinish", Status(C.clFinish(q.queue)))
}

func (q *clQueue) Release() error {
	var err error
	q.once.Do(func() {
		err = callError("clReleaseCommandQueue", Status(C.clReleaseCommandQueue(q.queue)))
	})
	return err
}

type clBuffer struct {
	mem   C.cl_mem
	size  int
	flags ml.MemFlags
	once  sync.Once
}

func (b *clBuffer) Size() int { return b.size }

func (b *clBuffer) Flags() ml.MemFlags { return b.flags }

func (b *clBuffer) Release() error {
	var err error
	b.once.Do(func() {
		err = callError("clReleaseMemObject", Status(C.clReleaseMemObject(b.mem)))
	})
	return err
}

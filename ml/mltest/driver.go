// Package mltest provides an in-memory ml.Driver that records every call and
// can be told to fail any of them.
package mltest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/genevo/fiteval/ml"
)

// Operations understood by Driver.Fail and Driver.Count.
const (
	OpPlatforms = "platforms"
	OpDevices   = "devices"
	OpContext   = "context"
	OpQueue     = "queue"
	OpBuffer    = "buffer"
	OpProgram   = "program"
	OpBuild     = "build"
	OpKernel    = "kernel"
	OpSetArg    = "setarg"
	OpWrite     = "write"
	OpRead      = "read"
	OpEnqueue   = "enqueue"
	OpFinish    = "finish"
	OpRelease   = "release"
)

// ComputeFunc runs a kernel launch of global work items. Buffer arguments are
// passed as []float32, scalars as int32.
type ComputeFunc func(global int, args []any) error

// Driver is a fake compute driver with one platform and one device per
// entry in DeviceTypes.
type Driver struct {
	// DeviceTypes lists the devices the platform exposes. Empty means a
	// single GPU. NoPlatforms makes Platforms return nothing.
	DeviceTypes []ml.DeviceType
	NoPlatforms bool

	// Fail maps an operation to the error it returns.
	Fail map[string]error

	// FailBufferAt fails the n-th buffer creation (1-based) when set.
	FailBufferAt int

	// FailSetArgAt fails binding of the given argument indices.
	FailSetArgAt map[int]error

	// BuildLog is reported by every program.
	BuildLog string

	// Kernels are the entry points programs declare. Empty means any
	// name is accepted.
	Kernels []string

	// Compute runs kernel launches. Nil leaves output buffers untouched.
	Compute ComputeFunc

	// BuildOptions records the options of the last build.
	BuildOptions string

	mu    sync.Mutex
	count map[string]int
	live  int
}

func (d *Driver) Name() string { return "mltest" }

func (d *Driver) call(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count == nil {
		d.count = make(map[string]int)
	}
	d.count[op]++
	if d.Fail != nil {
		if err := d.Fail[op]; err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) acquire() {
	d.mu.Lock()
	d.live++
	d.mu.Unlock()
}

// Count returns how often op was called.
func (d *Driver) Count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count[op]
}

// Live returns the number of created resources not yet released.
func (d *Driver) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *Driver) Platforms() ([]ml.Platform, error) {
	if err := d.call(OpPlatforms); err != nil {
		return nil, err
	}
	if d.NoPlatforms {
		return nil, nil
	}
	return []ml.Platform{&platform{d: d}}, nil
}

type platform struct {
	d *Driver
}

func (p *platform) Info() ml.PlatformInfo {
	return ml.PlatformInfo{Name: "mltest", Vendor: "fiteval", Version: "OpenCL 1.2 mltest"}
}

func (p *platform) Devices(t ml.DeviceType) ([]ml.Device, error) {
	if err := p.d.call(OpDevices); err != nil {
		return nil, err
	}
	types := p.d.DeviceTypes
	if len(types) == 0 {
		types = []ml.DeviceType{ml.DeviceTypeGPU}
	}

	var devices []ml.Device
	for i, dt := range types {
		if t == ml.DeviceTypeAll || t == dt {
			devices = append(devices, &device{d: p.d, index: i, typ: dt})
		}
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: mltest has no %s devices", ml.ErrDeviceNotFound, t)
	}
	return devices, nil
}

type device struct {
	d     *Driver
	index int
	typ   ml.DeviceType
}

func (dv *device) Info() ml.DeviceInfo {
	return ml.DeviceInfo{
		Backend:      "mltest",
		Platform:     "mltest",
		Name:         fmt.Sprintf("mltest %s %d", dv.typ, dv.index),
		Type:         dv.typ,
		ComputeUnits: 4,
		GlobalMemory: 1 << 30,
	}
}

func (dv *device) CreateContext() (ml.Context, error) {
	if err := dv.d.call(OpContext); err != nil {
		return nil, err
	}
	dv.d.acquire()
	return &context{res: res{d: dv.d}}, nil
}

// res counts a resource as live until its first Release.
type res struct {
	d        *Driver
	once     sync.Once
	released bool
}

func (r *res) Release() error {
	err := r.d.call(OpRelease)
	r.once.Do(func() {
		r.d.mu.Lock()
		r.d.live--
		r.released = true
		r.d.mu.Unlock()
	})
	return err
}

type context struct {
	res
	buffers int
}

func (c *context) CreateQueue(ml.Device) (ml.Queue, error) {
	if err := c.d.call(OpQueue); err != nil {
		return nil, err
	}
	c.d.acquire()
	return &queue{res: res{d: c.d}}, nil
}

func (c *context) CreateBuffer(flags ml.MemFlags, size int) (ml.Buffer, error) {
	if err := c.d.call(OpBuffer); err != nil {
		return nil, err
	}
	c.buffers++
	if c.d.FailBufferAt > 0 && c.buffers == c.d.FailBufferAt {
		return nil, errors.New("mltest: out of device memory")
	}
	if size <= 0 || size%ml.Float32Size != 0 {
		return nil, fmt.Errorf("mltest: invalid buffer size %d", size)
	}
	c.d.acquire()
	return &buffer{res: res{d: c.d}, flags: flags, data: make([]float32, size/ml.Float32Size)}, nil
}

func (c *context) CreateProgram(source string) (ml.Program, error) {
	if err := c.d.call(OpProgram); err != nil {
		return nil, err
	}
	c.d.acquire()
	return &program{res: res{d: c.d}, source: source}, nil
}

type buffer struct {
	res
	flags ml.MemFlags
	data  []float32
}

func (b *buffer) Size() int          { return len(b.data) * ml.Float32Size }
func (b *buffer) Flags() ml.MemFlags { return b.flags }

// Data exposes the contents of a buffer created by this driver.
func Data(b ml.Buffer) []float32 {
	if fb, ok := b.(*buffer); ok {
		return fb.data
	}
	return nil
}

type program struct {
	res
	source string
	built  bool
}

func (p *program) Build(_ ml.Device, options string) error {
	p.d.mu.Lock()
	p.d.BuildOptions = options
	p.d.mu.Unlock()
	if err := p.d.call(OpBuild); err != nil {
		return err
	}
	p.built = true
	return nil
}

func (p *program) BuildLog(ml.Device) string { return p.d.BuildLog }

func (p *program) KernelNames() []string { return p.d.Kernels }

func (p *program) CreateKernel(name string) (ml.Kernel, error) {
	if err := p.d.call(OpKernel); err != nil {
		return nil, err
	}
	if len(p.d.Kernels) > 0 {
		found := false
		for _, k := range p.d.Kernels {
			found = found || k == name
		}
		if !found {
			return nil, fmt.Errorf("CL_INVALID_KERNEL_NAME: %s", name)
		}
	}
	p.d.acquire()
	return &kernel{res: res{d: p.d}, name: name, args: make(map[int]any)}, nil
}

type kernel struct {
	res
	name string
	args map[int]any
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArgBuffer(index int, b ml.Buffer) error {
	if err := k.setArg(index); err != nil {
		return err
	}
	fb, ok := b.(*buffer)
	if !ok {
		return errors.New("mltest: foreign buffer")
	}
	k.args[index] = fb
	return nil
}

func (k *kernel) SetArgInt32(index int, v int32) error {
	if err := k.setArg(index); err != nil {
		return err
	}
	k.args[index] = v
	return nil
}

func (k *kernel) setArg(index int) error {
	if err := k.d.call(OpSetArg); err != nil {
		return err
	}
	if err := k.d.FailSetArgAt[index]; err != nil {
		return err
	}
	return nil
}

type queue struct {
	res
}

func (q *queue) WriteBuffer(b ml.Buffer, _ bool, src []float32) error {
	if err := q.d.call(OpWrite); err != nil {
		return err
	}
	fb := b.(*buffer)
	if len(src) > len(fb.data) {
		return errors.New("mltest: write out of bounds")
	}
	copy(fb.data, src)
	return nil
}

func (q *queue) ReadBuffer(b ml.Buffer, _ bool, dst []float32) error {
	if err := q.d.call(OpRead); err != nil {
		return err
	}
	fb := b.(*buffer)
	if len(dst) > len(fb.data) {
		return errors.New("mltest: read out of bounds")
	}
	copy(dst, fb.data)
	return nil
}

func (q *queue) EnqueueKernel(k ml.Kernel, global int) error {
	if err := q.d.call(OpEnqueue); err != nil {
		return err
	}
	if q.d.Compute == nil {
		return nil
	}
	fk := k.(*kernel)
	args := make([]any, len(fk.args))
	for i := range args {
		switch v := fk.args[i].(type) {
		case *buffer:
			args[i] = v.data
		default:
			args[i] = v
		}
	}
	return q.d.Compute(global, args)
}

func (q *queue) Finish() error {
	return q.d.call(OpFinish)
}

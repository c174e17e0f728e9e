package host

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/genevo/fiteval/ml"
)

const doubleSource = `
// doubles every element
__kernel void double_it(__global const float *in, __global float *out, const int n) {
    int gid = get_global_id(0);
    if (gid < n) {
        out[gid] = in[gid] * 2.0f + SHIFT;
    }
}
`

func init() {
	RegisterKernel("double_it", func(defines Defines, args Args, gid int) {
		in, out := args.Float32s(0), args.Float32s(1)
		if gid < int(args.Int32(2)) {
			out[gid] = in[gid]*2 + float32(defines.Int("SHIFT", 0))
		}
	})
	RegisterKernel("boom", func(Defines, Args, int) {
		panic("out of range")
	})
}

func setup(t *testing.T) (ml.Device, ml.Context, ml.Queue) {
	t.Helper()
	platforms, err := New(2).Platforms()
	if err != nil {
		t.Fatal(err)
	}
	devices, err := platforms[0].Devices(ml.DeviceTypeCPU)
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := devices[0].CreateContext()
	if err != nil {
		t.Fatal(err)
	}
	q, err := ctx.CreateQueue(devices[0])
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		q.Release()
		ctx.Release()
	})
	return devices[0], ctx, q
}

func TestDevices(t *testing.T) {
	platforms, err := New(3).Platforms()
	if err != nil {
		t.Fatal(err)
	}
	if len(platforms) != 1 {
		t.Fatalf("expected 1 platform, got %d", len(platforms))
	}

	if _, err := platforms[0].Devices(ml.DeviceTypeGPU); !errors.Is(err, ml.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound for gpu, got %v", err)
	}

	devices, err := platforms[0].Devices(ml.DeviceTypeAll)
	if err != nil {
		t.Fatal(err)
	}
	info := devices[0].Info()
	if info.Type != ml.DeviceTypeCPU || info.ComputeUnits != 3 || info.Backend != "host" {
		t.Errorf("unexpected device info %+v", info)
	}
}

func TestRunKernel(t *testing.T) {
	d, ctx, q := setup(t)

	p, err := ctx.CreateProgram(doubleSource)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	if err := p.Build(d, "-D SHIFT=1 -cl-fast-relaxed-math"); err != nil {
		t.Fatalf("build: %v\n%s", err, p.BuildLog(d))
	}
	if diff := cmp.Diff([]string{"double_it"}, p.KernelNames()); diff != "" {
		t.Errorf("kernel names mismatch (-want +got):\n%s", diff)
	}

	k, err := p.CreateKernel("double_it")
	if err != nil {
		t.Fatal(err)
	}
	defer k.Release()

	const n = 1000
	in := make([]float32, n)
	for i := range in {
		in[i] = float32(i)
	}

	inBuf, err := ctx.CreateBuffer(ml.MemReadOnly, n*ml.Float32Size)
	if err != nil {
		t.Fatal(err)
	}
	outBuf, err := ctx.CreateBuffer(ml.MemWriteOnly, n*ml.Float32Size)
	if err != nil {
		t.Fatal(err)
	}

	if err := q.WriteBuffer(inBuf, true, in); err != nil {
		t.Fatal(err)
	}
	for i, err := range []error{
		k.SetArgBuffer(0, inBuf),
		k.SetArgBuffer(1, outBuf),
		k.SetArgInt32(2, n),
	} {
		if err != nil {
			t.Fatalf("arg %d: %v", i, err)
		}
	}

	if err := q.EnqueueKernel(k, n); err != nil {
		t.Fatal(err)
	}
	if err := q.Finish(); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, n)
	if err := q.ReadBuffer(outBuf, true, out); err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if want := float32(i)*2 + 1; v != want {
			t.Fatalf("out[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestUnsetArgument(t *testing.T) {
	d, ctx, q := setup(t)

	p, _ := ctx.CreateProgram(doubleSource)
	if err := p.Build(d, ""); err != nil {
		t.Fatal(err)
	}
	k, err := p.CreateKernel("double_it")
	if err != nil {
		t.Fatal(err)
	}
	buf, _ := ctx.CreateBuffer(ml.MemReadWrite, 16)
	k.SetArgBuffer(0, buf)
	k.SetArgInt32(2, 4)

	err = q.EnqueueKernel(k, 4)
	if err == nil || !strings.Contains(err.Error(), "argument 1 is not set") {
		t.Fatalf("expected unset argument error, got %v", err)
	}
}

func TestKernelPanic(t *testing.T) {
	d, ctx, q := setup(t)

	p, _ := ctx.CreateProgram("__kernel void boom(void) {}")
	if err := p.Build(d, ""); err != nil {
		t.Fatal(err)
	}
	k, err := p.CreateKernel("boom")
	if err != nil {
		t.Fatal(err)
	}
	if err := q.EnqueueKernel(k, 8); err != nil {
		t.Fatal(err)
	}
	err = q.Finish()
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("expected work item failure, got %v", err)
	}
}

func TestBuild(t *testing.T) {
	cases := []struct {
		name    string
		source  string
		options string
		wantErr bool
		log     string
	}{
		{
			name:   "ok",
			source: doubleSource,
		},
		{
			name:    "missing brace",
			source:  "__kernel void double_it(__global float *a) {\n  a[0] = 1;\n",
			wantErr: true,
			log:     "<kernel>:1:44: error: unmatched '{'",
		},
		{
			name:    "extra paren",
			source:  "__kernel void double_it() {\n  foo());\n}\n",
			wantErr: true,
			log:     "<kernel>:2:8: error: extraneous closing ')'",
		},
		{
			name:    "error directive",
			source:  "#ifndef GRID_WIDTH\n#error GRID_WIDTH must be defined\n#endif\n__kernel void double_it() {}\n",
			wantErr: true,
			log:     "<kernel>:2:2: error: GRID_WIDTH must be defined",
		},
		{
			name:    "error directive satisfied",
			source:  "#ifndef GRID_WIDTH\n#error GRID_WIDTH must be defined\n#endif\n__kernel void double_it() {}\n",
			options: "-DGRID_WIDTH=20",
		},
		{
			name:    "unterminated conditional",
			source:  "#if defined(X)\n__kernel void double_it() {}\n",
			wantErr: true,
			log:     "<kernel>:1:2: error: unterminated conditional directive",
		},
		{
			name:    "invalid option",
			source:  doubleSource,
			options: "--bogus",
			wantErr: true,
			log:     "error: invalid build option '--bogus'",
		},
		{
			name:   "comments and strings",
			source: "/* { */ __kernel void double_it() { printf(\"(\"); } // )\n",
		},
		{
			name:   "char literal",
			source: "__kernel void double_it() { char c = '}'; }\n",
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			d, ctx, _ := setup(t)
			p, err := ctx.CreateProgram(tt.source)
			if err != nil {
				t.Fatal(err)
			}
			err = p.Build(d, tt.options)
			if tt.wantErr != (err != nil) {
				t.Fatalf("build error = %v, wantErr %v\n%s", err, tt.wantErr, p.BuildLog(d))
			}
			if tt.log != "" && !strings.Contains(p.BuildLog(d), tt.log) {
				t.Errorf("build log %q does not contain %q", p.BuildLog(d), tt.log)
			}
		})
	}
}

func TestCreateKernelErrors(t *testing.T) {
	d, ctx, _ := setup(t)

	p, _ := ctx.CreateProgram(doubleSource + "\n__kernel void unregistered_kernel() {}\n")
	if _, err := p.CreateKernel("double_it"); err == nil {
		t.Error("expected error creating kernel before build")
	}
	if err := p.Build(d, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := p.CreateKernel("missing"); err == nil || !strings.Contains(err.Error(), "invalid kernel name") {
		t.Errorf("expected invalid kernel name, got %v", err)
	}
	if _, err := p.CreateKernel("unregistered_kernel"); err == nil || !strings.Contains(err.Error(), "no host implementation") {
		t.Errorf("expected missing implementation, got %v", err)
	}
}

func TestBufferBounds(t *testing.T) {
	_, ctx, q := setup(t)

	if _, err := ctx.CreateBuffer(ml.MemReadWrite, 0); err == nil {
		t.Error("expected error for zero-size buffer")
	}
	if _, err := ctx.CreateBuffer(ml.MemReadWrite, 6); err == nil {
		t.Error("expected error for unaligned buffer")
	}

	b, err := ctx.CreateBuffer(ml.MemReadWrite, 8)
	if err != nil {
		t.Fatal(err)
	}
	if b.Size() != 8 {
		t.Errorf("size = %d, want 8", b.Size())
	}
	if err := q.WriteBuffer(b, true, []float32{1, 2, 3}); err == nil {
		t.Error("expected error writing past buffer end")
	}

	b.Release()
	if err := q.ReadBuffer(b, true, []float32{0}); !errors.Is(err, errReleased) {
		t.Errorf("expected errReleased, got %v", err)
	}
}

func TestReleasedContext(t *testing.T) {
	_, ctx, _ := setup(t)
	ctx.Release()
	if _, err := ctx.CreateBuffer(ml.MemReadWrite, 4); !errors.Is(err, errReleased) {
		t.Errorf("expected errReleased, got %v", err)
	}
	// second release is harmless
	if err := ctx.Release(); err != nil {
		t.Error(err)
	}
}

package program

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genevo/fiteval/discover"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/ml/backend/host"
	"github.com/genevo/fiteval/ml/mltest"
)

const testSource = `
#ifndef GRID_WIDTH
#error GRID_WIDTH must be defined
#endif

__kernel void fill_steps(__global const float *weights, __global float *fitness,
                         const int num_genomes, const int num_weights) {
    int gid = get_global_id(0);
    if (gid < num_genomes) {
        fitness[gid] = MAX_STEPS;
    }
}
`

func init() {
	host.RegisterKernel("fill_steps", func(d host.Defines, args host.Args, gid int) {
		args.Float32s(1)[gid] = float32(d.Int("MAX_STEPS", -1))
	})
}

func locateHost(t *testing.T) *discover.Handles {
	t.Helper()
	h, err := discover.Locate(t.Context(), host.New(2), discover.PreferAuto)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestCompile(t *testing.T) {
	t.Setenv("FITEVAL_BUILD_OPTIONS", "")
	h := locateHost(t)

	p, err := Compile(t.Context(), h, testSource, Default(), "fill_steps")
	require.NoError(t, err)
	defer p.Release()

	require.Equal(t, "fill_steps", p.Kernel().Name())
	require.Equal(t, Default(), p.Config())
	require.Equal(t, Default().Key(testSource), p.Key)

	// release is idempotent
	require.NoError(t, p.Release())
	require.NoError(t, p.Release())
}

func TestCompileDistinctConfigs(t *testing.T) {
	h := locateHost(t)

	a, err := Compile(t.Context(), h, testSource, Default(), "fill_steps")
	require.NoError(t, err)
	defer a.Release()

	b, err := Compile(t.Context(), h, testSource, Config{}, "fill_steps")
	require.NoError(t, err)
	defer b.Release()

	require.NotEqual(t, a.Key, b.Key)
	require.NotEqual(t, a.Config(), b.Config())
	require.NotSame(t, a.Kernel(), b.Kernel())
}

func TestCompileBuildFailure(t *testing.T) {
	h := locateHost(t)

	broken := strings.Replace(testSource, "fitness[gid] = MAX_STEPS;\n    }", "fitness[gid] = MAX_STEPS;\n", 1)
	_, err := Compile(t.Context(), h, broken, Default(), "fill_steps")

	var e *ml.Error
	require.ErrorAs(t, err, &e)
	require.ErrorIs(t, err, ml.ErrCompilation)
	require.Equal(t, ml.OpBuildFailed, e.Op)
	require.Equal(t, ml.StageCompile, e.Stage)
	require.Contains(t, e.Diagnostic, "error: unmatched '{'")
}

func TestCompileEntryPointNotFound(t *testing.T) {
	h := locateHost(t)

	_, err := Compile(t.Context(), h, testSource, Default(), "fill_step")
	var e *ml.Error
	require.ErrorAs(t, err, &e)
	require.ErrorIs(t, err, ml.ErrCompilation)
	require.Equal(t, ml.OpEntryPointNotFound, e.Op)
	require.Contains(t, e.Diagnostic, "declared kernels: fill_steps")
	require.Contains(t, e.Diagnostic, `did you mean "fill_steps"?`)
}

func TestCompileBuildLogFromDriver(t *testing.T) {
	d := &mltest.Driver{
		Fail:     map[string]error{mltest.OpBuild: errors.New("CL_BUILD_PROGRAM_FAILURE")},
		BuildLog: "<kernel>:7:5: error: use of undeclared identifier 'foo'",
	}
	h, err := discover.Locate(t.Context(), d, discover.PreferAuto)
	require.NoError(t, err)

	_, err = Compile(t.Context(), h, testSource, Default(), "fill_steps")
	var e *ml.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, d.BuildLog, e.Diagnostic)
	require.Equal(t, Default().BuildOptions(), d.BuildOptions)

	// only the context and queue remain
	require.Equal(t, 2, d.Live())
	require.NoError(t, h.Close())
	require.Equal(t, 0, d.Live())
}

func TestCompileCanceled(t *testing.T) {
	d := &mltest.Driver{}
	h, err := discover.Locate(t.Context(), d, discover.PreferAuto)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = Compile(ctx, h, testSource, Default(), "fill_steps")
	require.ErrorIs(t, err, context.Canceled)
	var e *ml.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, ml.StageCompile, e.Stage)
	require.Zero(t, d.Count(mltest.OpProgram))
}

func TestSuggest(t *testing.T) {
	names := []string{"snake_kernel", "evaluate"}
	cases := map[string]string{
		"snake_kernal": "snake_kernel",
		"snakekernel":  "snake_kernel",
		"evalute":      "evaluate",
		"main":         "",
	}
	for entry, want := range cases {
		if got := suggest(entry, names); got != want {
			t.Errorf("suggest(%q) = %q, want %q", entry, got, want)
		}
	}
}

func TestLoadSource(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSource(filepath.Join(dir, "missing.cl"))
	var e *ml.Error
	require.ErrorAs(t, err, &e)
	require.ErrorIs(t, err, ml.ErrCompilation)
	require.Equal(t, ml.OpSourceNotFound, e.Op)
	require.NotEmpty(t, e.Diagnostic)

	empty := filepath.Join(dir, "empty.cl")
	require.NoError(t, os.WriteFile(empty, []byte("\n  \n"), 0o644))
	_, err = LoadSource(empty)
	require.ErrorIs(t, err, ml.ErrCompilation)

	ok := filepath.Join(dir, "ok.cl")
	require.NoError(t, os.WriteFile(ok, []byte(testSource), 0o644))
	src, err := LoadSource(ok)
	require.NoError(t, err)
	require.Equal(t, testSource, src)
}

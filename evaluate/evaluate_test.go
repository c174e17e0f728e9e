package evaluate

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/genevo/fiteval/discover"
	"github.com/genevo/fiteval/kernels/snake"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/ml/backend/host"
	"github.com/genevo/fiteval/ml/mltest"
	"github.com/genevo/fiteval/population"
	"github.com/genevo/fiteval/program"
)

var snakeSource = filepath.Join("..", "source", "snake_kernel.cl")

// writeSource puts a kernel source accepted by mltest into a temp dir.
func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernel.cl")
	require.NoError(t, os.WriteFile(path, []byte("__kernel void snake_kernel() {}\n"), 0o644))
	return path
}

// sumCompute writes the sum of each genome's weights as its fitness.
func sumCompute(global int, args []any) error {
	weights, fitness := args[0].([]float32), args[1].([]float32)
	numWeights := int(args[3].(int32))
	for g := range global {
		var sum float32
		for _, w := range weights[g*numWeights : (g+1)*numWeights] {
			sum += w
		}
		fitness[g] = sum
	}
	return nil
}

func randomPopulation(rows, cols int, seed uint64) *population.Matrix {
	r := rand.New(rand.NewPCG(seed, seed^0x5eed))
	return population.Generate(rows, cols, func(int, int) float32 {
		return float32(r.NormFloat64())
	})
}

func TestEvaluateInvalidInput(t *testing.T) {
	complexWeights, err := population.NewTyped(2, 2, population.C64, make([]complex64, 4))
	require.NoError(t, err)
	doubleWeights, err := population.NewTyped(2, 2, population.F64, make([]float64, 4))
	require.NoError(t, err)
	negative := program.Default()
	negative.MaxSteps = -1

	cases := []struct {
		name    string
		weights *population.Matrix
		cfg     *program.Config
	}{
		{"nil matrix", nil, nil},
		{"complex", complexWeights, nil},
		{"double precision", doubleWeights, nil},
		{"no genomes", population.New(3, 0, nil), nil},
		{"no weights", population.New(0, 3, nil), nil},
		{"length mismatch", population.New(2, 2, []float32{1, 2, 3}), nil},
		{"negative config", population.New(2, 2, make([]float32, 4)), &negative},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			d := &mltest.Driver{}
			e := &Evaluator{Driver: d, SourcePath: writeSource(t)}

			_, err := e.Evaluate(t.Context(), tt.weights, tt.cfg)
			if !errors.Is(err, ml.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}

			var mlErr *ml.Error
			require.ErrorAs(t, err, &mlErr)
			require.Equal(t, ml.StageValidate, mlErr.Stage)

			// nothing reached the driver
			require.Zero(t, d.Count(mltest.OpPlatforms))
			require.Zero(t, d.Count(mltest.OpContext))
		})
	}
}

func TestEvaluateSourceNotFound(t *testing.T) {
	d := &mltest.Driver{}
	e := &Evaluator{Driver: d, SourcePath: filepath.Join(t.TempDir(), "missing.cl")}

	_, err := e.Evaluate(t.Context(), population.New(2, 3, make([]float32, 6)), nil)
	require.ErrorIs(t, err, ml.ErrCompilation)

	var mlErr *ml.Error
	require.ErrorAs(t, err, &mlErr)
	require.Equal(t, ml.StageCompile, mlErr.Stage)
	require.Equal(t, ml.OpSourceNotFound, mlErr.Op)
	require.NotEmpty(t, mlErr.Diagnostic)

	require.Zero(t, d.Count(mltest.OpBuffer))
	require.Zero(t, d.Live())
}

func TestEvaluate(t *testing.T) {
	d := &mltest.Driver{Compute: sumCompute}
	e := &Evaluator{Driver: d, SourcePath: writeSource(t), EntryPoint: "snake_kernel"}

	weights := population.Generate(3, 4, func(w, g int) float32 { return float32(g*10 + w) })
	r, err := e.EvaluateDetailed(t.Context(), weights, nil)
	require.NoError(t, err)

	if diff := cmp.Diff([]float32{3, 33, 63, 93}, r.Fitness); diff != "" {
		t.Errorf("fitness mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, program.Default(), r.Config)
	require.Equal(t, "mltest", r.Device.Backend)
	require.Equal(t, ml.DeviceTypeGPU, r.Device.Type)
	require.NotEmpty(t, r.Key)
	require.Contains(t, d.BuildOptions, "-D INPUT_SIZE=24")
	require.Contains(t, d.BuildOptions, "-D BONUS_STEPS=100")

	require.Equal(t, 1, d.Count(mltest.OpEnqueue))
	require.Equal(t, 1, d.Count(mltest.OpFinish))
	require.Zero(t, d.Live(), "every resource is released")
}

func TestEvaluateCPUFallback(t *testing.T) {
	d := &mltest.Driver{DeviceTypes: []ml.DeviceType{ml.DeviceTypeCPU}, Compute: sumCompute}
	e := &Evaluator{Driver: d, SourcePath: writeSource(t)}

	r, err := e.EvaluateDetailed(t.Context(), population.New(1, 2, []float32{5, 7}), nil)
	require.NoError(t, err)
	require.Equal(t, ml.DeviceTypeCPU, r.Device.Type)
	require.Equal(t, []float32{5, 7}, r.Fitness)

	// gpu only forbids the fallback
	e.DevicePreference = discover.PreferGPU
	_, err = e.Evaluate(t.Context(), population.New(1, 2, []float32{5, 7}), nil)
	require.ErrorIs(t, err, ml.ErrPlatform)
	require.Zero(t, d.Live())
}

func TestEvaluateReleasesOnFailure(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name  string
		d     *mltest.Driver
		kind  error
		stage ml.Stage
	}{
		{"no platform", &mltest.Driver{NoPlatforms: true}, ml.ErrPlatform, ml.StageLocate},
		{"queue", &mltest.Driver{Fail: map[string]error{mltest.OpQueue: boom}}, ml.ErrResourceCreation, ml.StageLocate},
		{"build", &mltest.Driver{Fail: map[string]error{mltest.OpBuild: boom}, BuildLog: "<kernel>:1:1: error: boom"}, ml.ErrCompilation, ml.StageCompile},
		{"entry point", &mltest.Driver{Kernels: []string{"snake_kernal"}}, ml.ErrCompilation, ml.StageCompile},
		{"weights buffer", &mltest.Driver{FailBufferAt: 1}, ml.ErrResourceCreation, ml.StageUpload},
		{"fitness buffer", &mltest.Driver{FailBufferAt: 2}, ml.ErrResourceCreation, ml.StageUpload},
		{"upload", &mltest.Driver{Fail: map[string]error{mltest.OpWrite: boom}}, ml.ErrTransfer, ml.StageUpload},
		{"binding", &mltest.Driver{FailSetArgAt: map[int]error{2: boom}}, ml.ErrArgumentBinding, ml.StageDispatch},
		{"launch", &mltest.Driver{Fail: map[string]error{mltest.OpEnqueue: boom}}, ml.ErrDispatch, ml.StageDispatch},
		{"barrier", &mltest.Driver{Fail: map[string]error{mltest.OpFinish: boom}}, ml.ErrDispatch, ml.StageDispatch},
		{"download", &mltest.Driver{Fail: map[string]error{mltest.OpRead: boom}}, ml.ErrTransfer, ml.StageDownload},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			e := &Evaluator{Driver: tt.d, SourcePath: writeSource(t)}
			_, err := e.Evaluate(t.Context(), population.New(2, 2, make([]float32, 4)), nil)
			require.ErrorIs(t, err, tt.kind)

			var mlErr *ml.Error
			require.ErrorAs(t, err, &mlErr)
			require.Equal(t, tt.stage, mlErr.Stage)
			require.Zero(t, tt.d.Live(), "leaked resources")
		})
	}
}

func TestEvaluateReleaseErrorsDoNotMask(t *testing.T) {
	boom := errors.New("boom")
	d := &mltest.Driver{
		Compute: sumCompute,
		Fail:    map[string]error{mltest.OpRelease: boom},
	}
	e := &Evaluator{Driver: d, SourcePath: writeSource(t)}

	fitness, err := e.Evaluate(t.Context(), population.New(1, 2, []float32{1, 2}), nil)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2}, fitness)
	require.Zero(t, d.Live())
}

func TestEvaluateCanceled(t *testing.T) {
	d := &mltest.Driver{}
	e := &Evaluator{Driver: d, SourcePath: writeSource(t)}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := e.Evaluate(ctx, population.New(1, 1, []float32{0}), nil)
	require.ErrorIs(t, err, context.Canceled)
	var mlErr *ml.Error
	require.ErrorAs(t, err, &mlErr)
	require.Equal(t, ml.StageLocate, mlErr.Stage)
	require.Zero(t, d.Count(mltest.OpPlatforms))
}

func hostEvaluator() *Evaluator {
	return &Evaluator{Driver: host.New(4), SourcePath: snakeSource, EntryPoint: snake.EntryPoint}
}

func TestEvaluateSnake(t *testing.T) {
	cfg := program.Default()
	weights := randomPopulation(snake.GenomeSize(cfg), 4, 1)

	fitness, err := hostEvaluator().Evaluate(t.Context(), weights, &cfg)
	require.NoError(t, err)
	require.Len(t, fitness, 4)
	for i, f := range fitness {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) || f < 0 {
			t.Errorf("fitness[%d] = %v", i, f)
		}
		if want := snake.Simulate(cfg, weights.Genome(i)); f != want {
			t.Errorf("fitness[%d] = %v, reference %v", i, f, want)
		}
	}
}

func TestEvaluateSnakeShortGenomes(t *testing.T) {
	// ten weights per genome: the network reads zeros past the end
	fitness, err := hostEvaluator().Evaluate(t.Context(), randomPopulation(10, 4, 2), nil)
	require.NoError(t, err)
	require.Len(t, fitness, 4)
	for _, f := range fitness {
		require.False(t, math.IsNaN(float64(f)) || math.IsInf(float64(f), 0))
	}
}

func TestEvaluateSnakePermutation(t *testing.T) {
	cfg := program.Default()
	weights := randomPopulation(snake.GenomeSize(cfg), 16, 3)
	perm := rand.New(rand.NewPCG(4, 5)).Perm(16)
	permuted, err := weights.Permute(perm)
	require.NoError(t, err)

	e := hostEvaluator()
	a, err := e.Evaluate(t.Context(), weights, &cfg)
	require.NoError(t, err)
	b, err := e.Evaluate(t.Context(), permuted, &cfg)
	require.NoError(t, err)

	for i, p := range perm {
		if b[i] != a[p] {
			t.Errorf("permuted fitness[%d] = %v, want fitness[%d] = %v", i, b[i], p, a[p])
		}
	}
}

func TestEvaluateSnakeDeterministic(t *testing.T) {
	weights := randomPopulation(snake.GenomeSize(program.Default()), 8, 6)
	e := hostEvaluator()

	first, err := e.Evaluate(t.Context(), weights, nil)
	require.NoError(t, err)
	for range 3 {
		again, err := e.Evaluate(t.Context(), weights, nil)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("fitness changed between calls (-first +again):\n%s", diff)
		}
	}
}

func TestCompileDistinctPrograms(t *testing.T) {
	e := hostEvaluator()

	zero := program.Config{}
	a, err := e.Compile(t.Context(), &zero)
	require.NoError(t, err)
	b, err := e.Compile(t.Context(), nil)
	require.NoError(t, err)

	require.NotEqual(t, a.Key, b.Key)
	require.Equal(t, zero, a.Config)
	require.Equal(t, program.Default(), b.Config)
	require.Equal(t, ml.DeviceTypeCPU, b.Device.Type)
}

func TestCompileBuildError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cl")
	require.NoError(t, os.WriteFile(path, []byte("__kernel void snake_kernel(__global float *w {\n}\n"), 0o644))

	e := &Evaluator{Driver: host.New(1), SourcePath: path}
	_, err := e.Compile(t.Context(), nil)
	require.ErrorIs(t, err, ml.ErrCompilation)

	var mlErr *ml.Error
	require.ErrorAs(t, err, &mlErr)
	require.Equal(t, ml.OpBuildFailed, mlErr.Op)
	require.True(t, strings.Contains(mlErr.Diagnostic, "error:"), mlErr.Diagnostic)
}

func TestEvaluateFromEnvironment(t *testing.T) {
	t.Setenv("FITEVAL_BACKEND", "host")
	t.Setenv("FITEVAL_DEVICE", "auto")
	t.Setenv("FITEVAL_KERNEL_PATH", snakeSource)
	t.Setenv("FITEVAL_ENTRY_POINT", "")
	t.Setenv("FITEVAL_BUILD_OPTIONS", "")

	cfg := program.Default()
	fitness, err := Evaluate(t.Context(), randomPopulation(snake.GenomeSize(cfg), 10, 7), &cfg)
	require.NoError(t, err)
	require.Len(t, fitness, 10)

	t.Setenv("FITEVAL_BACKEND", "nonexistent")
	_, err = Evaluate(t.Context(), randomPopulation(4, 1, 8), nil)
	require.ErrorIs(t, err, ml.ErrPlatform)
}

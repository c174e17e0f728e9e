// Package evaluate runs a population through the device pipeline: locate a
// device, compile the evaluation program for a configuration, upload the
// weights, dispatch one work item per genome and read the fitness back.
//
// Every handle is acquired and released within a single call.
package evaluate

import (
	"context"
	"log/slog"
	"time"

	"github.com/genevo/fiteval/discover"
	"github.com/genevo/fiteval/dispatch"
	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/population"
	"github.com/genevo/fiteval/program"
	"github.com/genevo/fiteval/transfer"

	_ "github.com/genevo/fiteval/kernels/snake"
	_ "github.com/genevo/fiteval/ml/backend"
)

// Evaluator holds what stays fixed across evaluations. The zero value uses
// the backend, kernel source and device preference from the environment.
type Evaluator struct {
	// Driver is the compute driver. Nil selects FITEVAL_BACKEND.
	Driver ml.Driver

	SourcePath       string
	EntryPoint       string
	DevicePreference discover.Preference
}

// Result is a completed evaluation.
type Result struct {
	Fitness  []float32
	Device   ml.DeviceInfo
	Config   program.Config
	Key      string
	Duration time.Duration

	// BuildLog is set by Compile
	BuildLog string
}

// Evaluate evaluates weights with an Evaluator configured from the
// environment. A nil cfg selects the default topology.
func Evaluate(ctx context.Context, weights *population.Matrix, cfg *program.Config) ([]float32, error) {
	var e Evaluator
	return e.Evaluate(ctx, weights, cfg)
}

// Evaluate returns one fitness value per genome of weights, index aligned
// with the matrix columns.
func (e *Evaluator) Evaluate(ctx context.Context, weights *population.Matrix, cfg *program.Config) ([]float32, error) {
	r, err := e.EvaluateDetailed(ctx, weights, cfg)
	if err != nil {
		return nil, err
	}
	return r.Fitness, nil
}

// EvaluateDetailed is Evaluate, additionally reporting the device, the
// program key and the elapsed time.
func (e *Evaluator) EvaluateDetailed(ctx context.Context, weights *population.Matrix, cfg *program.Config) (*Result, error) {
	start := time.Now()

	c, err := resolveConfig(weights, cfg)
	if err != nil {
		return nil, err
	}
	numGenomes, numWeights := weights.NumGenomes(), weights.NumWeights()

	h, prog, err := e.prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	defer closeHandles(h)
	defer release("program", prog)

	t := time.Now()
	in, err := transfer.Upload(ctx, h, weights.Float32())
	if err != nil {
		return nil, err
	}
	defer release("weights buffer", in)

	out, err := transfer.AllocateOutput(h, numGenomes)
	if err != nil {
		return nil, err
	}
	defer release("fitness buffer", out)
	slog.Debug("uploaded weights", "genomes", numGenomes, "weights", numWeights, "duration", time.Since(t))

	if err := ctx.Err(); err != nil {
		return nil, ml.Canceled(ml.StageDispatch, err)
	}

	t = time.Now()
	if err := dispatch.Dispatch(h, prog.Kernel(), in, out, numGenomes, numWeights); err != nil {
		return nil, err
	}
	slog.Debug("dispatched kernel", "entry", prog.Entry, "duration", time.Since(t))

	t = time.Now()
	fitness, err := transfer.Download(h, out, numGenomes)
	if err != nil {
		return nil, err
	}
	slog.Debug("downloaded fitness", "duration", time.Since(t))

	r := &Result{
		Fitness:  fitness,
		Device:   h.Device.Info(),
		Config:   c,
		Key:      prog.Key,
		Duration: time.Since(start),
	}
	slog.Info("evaluated population", "genomes", numGenomes, "device", r.Device.Name, "duration", r.Duration)
	return r, nil
}

// Compile locates a device and builds the program for cfg without running
// it. The result carries no fitness.
func (e *Evaluator) Compile(ctx context.Context, cfg *program.Config) (*Result, error) {
	start := time.Now()

	c := program.Default()
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	h, prog, err := e.prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	defer closeHandles(h)
	defer release("program", prog)

	return &Result{
		Device:   h.Device.Info(),
		Config:   c,
		Key:      prog.Key,
		Duration: time.Since(start),
		BuildLog: prog.BuildLog(),
	}, nil
}

// Devices lists every device the driver reports.
func (e *Evaluator) Devices(ctx context.Context) ([]ml.DeviceInfo, error) {
	drv, err := e.driver()
	if err != nil {
		return nil, err
	}
	return discover.Devices(ctx, drv)
}

// resolveConfig validates the inputs before any driver call.
func resolveConfig(weights *population.Matrix, cfg *program.Config) (program.Config, error) {
	if err := weights.Validate(); err != nil {
		return program.Config{}, err
	}

	c := program.Default()
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return program.Config{}, err
	}
	return c, nil
}

// prepare acquires the device handles and compiles the program. On error
// nothing stays acquired.
func (e *Evaluator) prepare(ctx context.Context, cfg program.Config) (*discover.Handles, *program.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, ml.Canceled(ml.StageLocate, err)
	}

	drv, err := e.driver()
	if err != nil {
		return nil, nil, err
	}

	t := time.Now()
	h, err := discover.Locate(ctx, drv, e.preference())
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("located device", "device", h.Device.Info(), "duration", time.Since(t))

	t = time.Now()
	source, err := program.LoadSource(e.sourcePath())
	if err != nil {
		closeHandles(h)
		return nil, nil, err
	}

	prog, err := program.Compile(ctx, h, source, cfg, e.entryPoint())
	if err != nil {
		closeHandles(h)
		return nil, nil, err
	}
	slog.Debug("compiled program", "config", cfg, "duration", time.Since(t))
	return h, prog, nil
}

func (e *Evaluator) driver() (ml.Driver, error) {
	if e.Driver != nil {
		return e.Driver, nil
	}

	drv, err := ml.NewBackend(envconfig.Backend())
	if err != nil {
		return nil, ml.NewError(ml.StageLocate, ml.ErrPlatform, ml.OpNoPlatform, err)
	}
	return drv, nil
}

func (e *Evaluator) preference() discover.Preference {
	if e.DevicePreference != "" {
		return e.DevicePreference
	}
	return discover.PreferenceFromEnv()
}

func (e *Evaluator) sourcePath() string {
	if e.SourcePath != "" {
		return e.SourcePath
	}
	return envconfig.KernelPath()
}

func (e *Evaluator) entryPoint() string {
	if e.EntryPoint != "" {
		return e.EntryPoint
	}
	return envconfig.EntryPoint()
}

func release(what string, r ml.Releaser) {
	if err := r.Release(); err != nil {
		slog.Warn("failed to release "+what, "error", err)
	}
}

func closeHandles(h *discover.Handles) {
	if err := h.Close(); err != nil {
		slog.Warn("failed to release device handles", "error", err)
	}
}

// Package dispatch binds the evaluation arguments to the entry kernel and runs
// one work item per genome.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/genevo/fiteval/discover"
	"github.com/genevo/fiteval/ml"
)

// Argument positions of the entry kernel.
const (
	ArgWeights = iota
	ArgFitness
	ArgNumGenomes
	ArgNumWeights
)

// Dispatch binds weights, fitness, numGenomes and numWeights to k, launches
// numGenomes work items and waits until they have all completed.
func Dispatch(h *discover.Handles, k ml.Kernel, weights, fitness ml.Buffer, numGenomes, numWeights int) error {
	if numGenomes <= 0 || numGenomes > math.MaxInt32 {
		return ml.NewError(ml.StageDispatch, ml.ErrInvalidInput, ml.OpInvalidMatrix,
			fmt.Errorf("genome count %d outside of (0, %d]", numGenomes, math.MaxInt32))
	}
	if numWeights <= 0 || numWeights > math.MaxInt32 {
		return ml.NewError(ml.StageDispatch, ml.ErrInvalidInput, ml.OpInvalidMatrix,
			fmt.Errorf("weight count %d outside of (0, %d]", numWeights, math.MaxInt32))
	}

	var errs []error
	bind := func(index int, name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("argument %d (%s): %w", index, name, err))
		}
	}
	bind(ArgWeights, "weights", k.SetArgBuffer(ArgWeights, weights))
	bind(ArgFitness, "fitness", k.SetArgBuffer(ArgFitness, fitness))
	bind(ArgNumGenomes, "numGenomes", k.SetArgInt32(ArgNumGenomes, int32(numGenomes)))
	bind(ArgNumWeights, "numWeights", k.SetArgInt32(ArgNumWeights, int32(numWeights)))
	if len(errs) > 0 {
		return ml.NewError(ml.StageDispatch, ml.ErrArgumentBinding, ml.OpArgumentBinding, errors.Join(errs...))
	}

	start := time.Now()
	if err := h.Queue.EnqueueKernel(k, numGenomes); err != nil {
		return ml.NewError(ml.StageDispatch, ml.ErrDispatch, ml.OpLaunch, err)
	}
	if err := h.Queue.Finish(); err != nil {
		return ml.NewError(ml.StageDispatch, ml.ErrDispatch, ml.OpBarrier, err)
	}
	slog.Debug("dispatch complete", "kernel", k.Name(), "work_items", numGenomes, "duration", time.Since(start))
	return nil
}

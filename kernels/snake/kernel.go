// Package snake is the reference evaluation routine: every genome controls
// a snake through a small fully connected network, and its fitness is the
// food eaten plus the steps survived.
//
// The same routine ships as OpenCL C in source/snake_kernel.cl. Importing
// this package registers the Go version with the host backend.
package snake

import (
	"github.com/genevo/fiteval/ml/backend/host"
	"github.com/genevo/fiteval/program"
)

// EntryPoint is the kernel name of the routine.
const EntryPoint = "snake_kernel"

func init() {
	host.RegisterKernel(EntryPoint, Kernel)
}

// ConfigFromDefines reads the build defines back into a Config. Missing
// defines read as zero.
func ConfigFromDefines(d host.Defines) program.Config {
	return program.Config{
		InputSize:  d.Int("INPUT_SIZE", 0),
		HiddenSize: d.Int("HIDDEN_SIZE", 0),
		OutputSize: d.Int("OUTPUT_SIZE", 0),
		NumHidden:  d.Int("N_HIDDEN", 0),
		GridWidth:  d.Int("GRID_WIDTH", 0),
		GridHeight: d.Int("GRID_HEIGHT", 0),
		MaxSteps:   d.Int("MAX_STEPS", 0),
		BonusSteps: d.Int("BONUS_STEPS", 0),
	}
}

// Kernel evaluates genome gid. Arguments: weights, fitness, numGenomes,
// numWeights.
func Kernel(d host.Defines, args host.Args, gid int) {
	weights, fitness := args.Float32s(0), args.Float32s(1)
	numGenomes, numWeights := int(args.Int32(2)), int(args.Int32(3))
	if gid >= numGenomes {
		return
	}

	lo := gid * numWeights
	hi := min(lo+numWeights, len(weights))
	fitness[gid] = Simulate(ConfigFromDefines(d), weights[lo:hi])
}

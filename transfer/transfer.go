// Package transfer moves population data between host memory and device
// buffers.
package transfer

import (
	"context"
	"fmt"

	"github.com/genevo/fiteval/discover"
	"github.com/genevo/fiteval/format"
	"github.com/genevo/fiteval/logutil"
	"github.com/genevo/fiteval/ml"
)

// Upload allocates a read-only buffer sized for data and copies data into it
// with a blocking write. The caller owns the returned buffer.
func Upload(ctx context.Context, h *discover.Handles, data []float32) (ml.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, ml.Canceled(ml.StageUpload, err)
	}

	size := len(data) * ml.Float32Size
	buf, err := h.Context.CreateBuffer(ml.MemReadOnly, size)
	if err != nil {
		return nil, ml.NewError(ml.StageUpload, ml.ErrResourceCreation, ml.OpBufferCreation,
			fmt.Errorf("weights buffer of %s: %w", format.HumanBytes2(uint64(size)), err))
	}
	logutil.Trace("allocated weights buffer", "size", format.HumanBytes2(uint64(buf.Size())))

	if err := checkSize(ml.StageUpload, buf, size); err != nil {
		release(buf)
		return nil, err
	}

	if err := h.Queue.WriteBuffer(buf, true, data); err != nil {
		release(buf)
		return nil, ml.NewError(ml.StageUpload, ml.ErrTransfer, ml.OpUpload, err)
	}
	return buf, nil
}

// AllocateOutput allocates a write-only buffer holding one float per genome.
func AllocateOutput(h *discover.Handles, numGenomes int) (ml.Buffer, error) {
	size := numGenomes * ml.Float32Size
	buf, err := h.Context.CreateBuffer(ml.MemWriteOnly, size)
	if err != nil {
		return nil, ml.NewError(ml.StageUpload, ml.ErrResourceCreation, ml.OpBufferCreation,
			fmt.Errorf("fitness buffer of %s: %w", format.HumanBytes2(uint64(size)), err))
	}
	logutil.Trace("allocated fitness buffer", "size", format.HumanBytes2(uint64(buf.Size())))

	if err := checkSize(ml.StageUpload, buf, size); err != nil {
		release(buf)
		return nil, err
	}
	return buf, nil
}

// Download reads numGenomes floats out of buf with a blocking read.
func Download(h *discover.Handles, buf ml.Buffer, numGenomes int) ([]float32, error) {
	if err := checkSize(ml.StageDownload, buf, numGenomes*ml.Float32Size); err != nil {
		return nil, err
	}

	out := make([]float32, numGenomes)
	if err := h.Queue.ReadBuffer(buf, true, out); err != nil {
		return nil, ml.NewError(ml.StageDownload, ml.ErrTransfer, ml.OpDownload, err)
	}
	logutil.Trace("downloaded fitness", "genomes", numGenomes)
	return out, nil
}

func checkSize(stage ml.Stage, buf ml.Buffer, want int) error {
	if got := buf.Size(); got != want {
		return ml.NewError(stage, ml.ErrTransfer, ml.OpSizeMismatch,
			fmt.Errorf("transfer of %d bytes does not match buffer of %d bytes", want, got))
	}
	return nil
}

func release(buf ml.Buffer) {
	if err := buf.Release(); err != nil {
		logutil.Trace("buffer release failed", "error", err)
	}
}

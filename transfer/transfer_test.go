package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/genevo/fiteval/discover"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/ml/backend/host"
	"github.com/genevo/fiteval/ml/mltest"
)

func locate(t *testing.T, drv ml.Driver) *discover.Handles {
	t.Helper()
	h, err := discover.Locate(t.Context(), drv, discover.PreferAuto)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRoundTrip(t *testing.T) {
	h := locate(t, host.New(1))

	data := []float32{0.5, -1, 2, 3.25}
	in, err := Upload(t.Context(), h, data)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Release()

	if in.Size() != 16 || in.Flags() != ml.MemReadOnly {
		t.Errorf("unexpected buffer size %d flags %s", in.Size(), in.Flags())
	}

	got, err := Download(h, in, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAllocateOutput(t *testing.T) {
	h := locate(t, host.New(1))

	out, err := AllocateOutput(h, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()
	if out.Size() != 12 || out.Flags() != ml.MemWriteOnly {
		t.Errorf("unexpected buffer size %d flags %s", out.Size(), out.Flags())
	}
}

func TestDownloadSizeMismatch(t *testing.T) {
	h := locate(t, host.New(1))

	out, err := AllocateOutput(h, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()

	_, err = Download(h, out, 5)
	var e *ml.Error
	if !errors.As(err, &e) || e.Op != ml.OpSizeMismatch || !errors.Is(err, ml.ErrTransfer) {
		t.Fatalf("expected size mismatch, got %v", err)
	}
}

func TestUploadFailures(t *testing.T) {
	cases := []struct {
		name   string
		driver *mltest.Driver
		kind   error
		op     string
	}{
		{
			name:   "allocation",
			driver: &mltest.Driver{Fail: map[string]error{mltest.OpBuffer: errors.New("CL_MEM_OBJECT_ALLOCATION_FAILURE")}},
			kind:   ml.ErrResourceCreation,
			op:     ml.OpBufferCreation,
		},
		{
			name:   "write",
			driver: &mltest.Driver{Fail: map[string]error{mltest.OpWrite: errors.New("CL_OUT_OF_RESOURCES")}},
			kind:   ml.ErrTransfer,
			op:     ml.OpUpload,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			h := locate(t, tt.driver)
			before := tt.driver.Live()

			_, err := Upload(t.Context(), h, []float32{1, 2})
			var e *ml.Error
			if !errors.As(err, &e) || !errors.Is(err, tt.kind) || e.Op != tt.op {
				t.Fatalf("expected %v/%s, got %v", tt.kind, tt.op, err)
			}
			if e.Stage != ml.StageUpload {
				t.Errorf("stage = %s", e.Stage)
			}
			if live := tt.driver.Live(); live != before {
				t.Errorf("buffer leaked: live %d, want %d", live, before)
			}
		})
	}
}

func TestDownloadReadFailure(t *testing.T) {
	d := &mltest.Driver{Fail: map[string]error{mltest.OpRead: errors.New("CL_INVALID_COMMAND_QUEUE")}}
	h := locate(t, d)

	out, err := AllocateOutput(h, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()

	_, err = Download(h, out, 2)
	var e *ml.Error
	if !errors.As(err, &e) || e.Op != ml.OpDownload || e.Stage != ml.StageDownload {
		t.Fatalf("expected download failure, got %v", err)
	}
}

func TestUploadCanceled(t *testing.T) {
	d := &mltest.Driver{}
	h := locate(t, d)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := Upload(ctx, h, []float32{1})
	var e *ml.Error
	if !errors.Is(err, context.Canceled) || !errors.As(err, &e) || e.Stage != ml.StageUpload {
		t.Fatalf("expected canceled upload, got %v", err)
	}
	if n := d.Count(mltest.OpBuffer); n != 0 {
		t.Errorf("%d buffers created after cancellation", n)
	}
}

//go:build !opencl || !cgo

package opencl

import (
	"errors"

	"github.com/genevo/fiteval/ml"
)

// ErrUnavailable is returned when the binary was built without OpenCL support.
var ErrUnavailable = errors.New("opencl backend unavailable in this build; rebuild with -tags opencl")

func init() {
	ml.RegisterBackend("opencl", func() (ml.Driver, error) {
		return nil, ErrUnavailable
	})
}

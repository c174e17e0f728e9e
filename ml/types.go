// types.go - Datentypen und Konstanten fuer Compute-Treiber
// Dieses Modul definiert grundlegende Typen wie DeviceType und MemFlags.
package ml

import (
	"fmt"
	"log/slog"
)

// DeviceType is the class of a compute device.
type DeviceType int

const (
	DeviceTypeGPU DeviceType = iota
	DeviceTypeCPU
	DeviceTypeAccelerator
	DeviceTypeAll
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeGPU:
		return "gpu"
	case DeviceTypeCPU:
		return "cpu"
	case DeviceTypeAccelerator:
		return "accelerator"
	case DeviceTypeAll:
		return "all"
	default:
		return "unknown"
	}
}

func (t DeviceType) LogValue() slog.Value {
	return slog.StringValue(t.String())
}

func (t DeviceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DeviceType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "gpu":
		*t = DeviceTypeGPU
	case "cpu":
		*t = DeviceTypeCPU
	case "accelerator":
		*t = DeviceTypeAccelerator
	case "all":
		*t = DeviceTypeAll
	default:
		return fmt.Errorf("unknown device type %q", b)
	}
	return nil
}

// MemFlags describes how kernels access a buffer.
type MemFlags int

const (
	MemReadWrite MemFlags = iota
	MemReadOnly
	MemWriteOnly
)

func (f MemFlags) String() string {
	switch f {
	case MemReadOnly:
		return "read-only"
	case MemWriteOnly:
		return "write-only"
	default:
		return "read-write"
	}
}

// Float32Size is the size in bytes of one element in every buffer the
// evaluation pipeline allocates.
const Float32Size = 4

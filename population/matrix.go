// matrix.go - Gewichtsmatrix einer Population
//
// Enthaelt:
// - DType: Element-Typen, die Loader liefern koennen
// - Matrix: numWeights x numGenomes, spaltenweise (ein Genom pro Spalte)
// - Validate, Convert, FromDense, Permute

package population

import (
	"errors"
	"fmt"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"

	"github.com/genevo/fiteval/ml"
)

// DType is the element type of a matrix.
type DType int

const (
	F32 DType = iota
	F64
	F16
	BF16
	C64
	C128
)

func (t DType) String() string {
	switch t {
	case F32:
		return "f32"
	case F64:
		return "f64"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	case C64:
		return "c64"
	case C128:
		return "c128"
	default:
		return fmt.Sprintf("dtype(%d)", int(t))
	}
}

// ParseDType accepts the names returned by String and a few common aliases.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32", "single", "":
		return F32, nil
	case "f64", "float64", "double":
		return F64, nil
	case "f16", "float16", "half":
		return F16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	case "c64", "complex64":
		return C64, nil
	case "c128", "complex128":
		return C128, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// IsComplex reports whether t holds complex values.
func (t DType) IsComplex() bool { return t == C64 || t == C128 }

func (t DType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Matrix holds one genome per column. Genome g occupies
// data[g*Rows : (g+1)*Rows].
type Matrix struct {
	Rows  int
	Cols  int
	DType DType

	// data is []float32, []float64, []float16.Float16, []uint16 (bf16 bits),
	// []complex64 or []complex128 according to DType
	data any
}

// New wraps single precision data.
func New(rows, cols int, data []float32) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, DType: F32, data: data}
}

// NewTyped wraps data of the given dtype. The Go type of data must match.
func NewTyped(rows, cols int, dtype DType, data any) (*Matrix, error) {
	var ok bool
	switch dtype {
	case F32:
		_, ok = data.([]float32)
	case F64:
		_, ok = data.([]float64)
	case F16:
		_, ok = data.([]float16.Float16)
	case BF16:
		_, ok = data.([]uint16)
	case C64:
		_, ok = data.([]complex64)
	case C128:
		_, ok = data.([]complex128)
	}
	if !ok {
		return nil, fmt.Errorf("%T is not %s data", data, dtype)
	}
	return &Matrix{Rows: rows, Cols: cols, DType: dtype, data: data}, nil
}

// Generate builds a single precision matrix by calling fn for every weight.
func Generate(rows, cols int, fn func(weight, genome int) float32) *Matrix {
	data := make([]float32, rows*cols)
	for g := range cols {
		for w := range rows {
			data[g*rows+w] = fn(w, g)
		}
	}
	return New(rows, cols, data)
}

// FromDense converts a gonum matrix with one genome per column.
func FromDense(d mat.Matrix) *Matrix {
	rows, cols := d.Dims()
	return Generate(rows, cols, func(w, g int) float32 {
		return float32(d.At(w, g))
	})
}

func (m *Matrix) NumWeights() int { return m.Rows }
func (m *Matrix) NumGenomes() int { return m.Cols }

// Len returns the number of stored elements.
func (m *Matrix) Len() int {
	switch d := m.data.(type) {
	case []float32:
		return len(d)
	case []float64:
		return len(d)
	case []float16.Float16:
		return len(d)
	case []uint16:
		return len(d)
	case []complex64:
		return len(d)
	case []complex128:
		return len(d)
	default:
		return 0
	}
}

// Float32 returns the data of a single precision matrix, nil otherwise.
func (m *Matrix) Float32() []float32 {
	d, _ := m.data.([]float32)
	return d
}

// Genome returns the weights of genome g of a single precision matrix.
func (m *Matrix) Genome(g int) []float32 {
	return m.Float32()[g*m.Rows : (g+1)*m.Rows]
}

func invalid(format string, args ...any) error {
	return ml.NewError(ml.StageValidate, ml.ErrInvalidInput, ml.OpInvalidMatrix, fmt.Errorf(format, args...))
}

// Validate checks that m can be evaluated: real single precision values,
// at least one weight and one genome, and data matching the dimensions.
func (m *Matrix) Validate() error {
	if m == nil {
		return invalid("weight matrix is required")
	}
	if m.DType.IsComplex() {
		return invalid("weight matrix must be real, got %s", m.DType)
	}
	if m.DType != F32 {
		return invalid("weight matrix must be single precision (f32), got %s", m.DType)
	}
	if m.Rows <= 0 || m.Cols <= 0 {
		return invalid("weight matrix must not be empty, got %dx%d", m.Rows, m.Cols)
	}
	if n := m.Len(); n != m.Rows*m.Cols {
		return invalid("weight matrix has %d elements, %dx%d requires %d", n, m.Rows, m.Cols, m.Rows*m.Cols)
	}
	return nil
}

var errComplex = errors.New("complex values cannot be converted to real")

// Convert returns m converted to dtype. Only conversion to F32 is
// supported; complex matrices are never converted.
func (m *Matrix) Convert(to DType) (*Matrix, error) {
	if to != F32 {
		return nil, fmt.Errorf("conversion to %s is not supported", to)
	}

	var out []float32
	switch d := m.data.(type) {
	case []float32:
		return m, nil
	case []float64:
		out = make([]float32, len(d))
		for i, v := range d {
			out[i] = float32(v)
		}
	case []float16.Float16:
		out = make([]float32, len(d))
		for i, v := range d {
			out[i] = v.Float32()
		}
	case []uint16:
		b := make([]byte, 2*len(d))
		for i, v := range d {
			b[2*i] = byte(v)
			b[2*i+1] = byte(v >> 8)
		}
		out = bfloat16.DecodeFloat32(b)
	case []complex64, []complex128:
		return nil, fmt.Errorf("%s: %w", m.DType, errComplex)
	default:
		return nil, fmt.Errorf("unsupported matrix data %T", m.data)
	}
	return New(m.Rows, m.Cols, out), nil
}

// Permute returns a matrix whose column i is column perm[i] of m.
func (m *Matrix) Permute(perm []int) (*Matrix, error) {
	if len(perm) != m.Cols {
		return nil, fmt.Errorf("permutation of %d columns for %d genomes", len(perm), m.Cols)
	}
	src := m.Float32()
	if src == nil {
		return nil, fmt.Errorf("permute requires f32 data, got %s", m.DType)
	}
	out := make([]float32, len(src))
	for i, p := range perm {
		if p < 0 || p >= m.Cols {
			return nil, fmt.Errorf("permutation index %d out of range", p)
		}
		copy(out[i*m.Rows:(i+1)*m.Rows], src[p*m.Rows:(p+1)*m.Rows])
	}
	return New(m.Rows, m.Cols, out), nil
}

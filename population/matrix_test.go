package population

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"

	"github.com/genevo/fiteval/ml"
)

func TestValidate(t *testing.T) {
	c64, _ := NewTyped(2, 1, C64, []complex64{1, 2i})
	f64, _ := NewTyped(2, 1, F64, []float64{1, 2})

	cases := []struct {
		name string
		m    *Matrix
		ok   bool
	}{
		{"valid", New(2, 3, make([]float32, 6)), true},
		{"nil", nil, false},
		{"complex", c64, false},
		{"double", f64, false},
		{"no genomes", New(4, 0, nil), false},
		{"no weights", New(0, 4, nil), false},
		{"short data", New(2, 3, make([]float32, 5)), false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.ok {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			var e *ml.Error
			if !errors.As(err, &e) || !errors.Is(err, ml.ErrInvalidInput) || e.Stage != ml.StageValidate {
				t.Errorf("expected invalid input at validate, got %v", err)
			}
		})
	}
}

func TestNewTypedMismatch(t *testing.T) {
	if _, err := NewTyped(1, 1, F16, []float32{1}); err == nil {
		t.Error("expected error for mismatched data type")
	}
}

func TestConvert(t *testing.T) {
	want := []float32{0.5, -2, 1.25, 8}

	f64, _ := NewTyped(2, 2, F64, []float64{0.5, -2, 1.25, 8})
	f16, _ := NewTyped(2, 2, F16, []float16.Float16{
		float16.Fromfloat32(0.5), float16.Fromfloat32(-2), float16.Fromfloat32(1.25), float16.Fromfloat32(8),
	})
	// bfloat16 keeps the upper half of the float32 bits
	bits := make([]uint16, len(want))
	for i, v := range want {
		bits[i] = uint16(math.Float32bits(v) >> 16)
	}
	bf16, _ := NewTyped(2, 2, BF16, bits)

	for _, m := range []*Matrix{New(2, 2, want), f64, f16, bf16} {
		t.Run(m.DType.String(), func(t *testing.T) {
			got, err := m.Convert(F32)
			if err != nil {
				t.Fatal(err)
			}
			if err := got.Validate(); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got.Float32()); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}

	c128, _ := NewTyped(1, 1, C128, []complex128{1 + 1i})
	if _, err := c128.Convert(F32); !errors.Is(err, errComplex) {
		t.Errorf("expected complex conversion error, got %v", err)
	}
	if _, err := New(1, 1, []float32{1}).Convert(F64); err == nil {
		t.Error("expected error converting to f64")
	}
}

func TestFromDense(t *testing.T) {
	d := mat.NewDense(3, 2, []float64{
		1, 4,
		2, 5,
		3, 6,
	})
	m := FromDense(d)
	if m.NumWeights() != 3 || m.NumGenomes() != 2 {
		t.Fatalf("dims %dx%d", m.Rows, m.Cols)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4, 5, 6}, m.Float32()); diff != "" {
		t.Errorf("column-major layout mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{4, 5, 6}, m.Genome(1)); diff != "" {
		t.Errorf("genome 1 mismatch (-want +got):\n%s", diff)
	}
}

func TestPermute(t *testing.T) {
	m := Generate(2, 3, func(w, g int) float32 { return float32(10*g + w) })
	p, err := m.Permute([]int{2, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{20, 21, 0, 1, 10, 11}, p.Float32()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if _, err := m.Permute([]int{0, 1}); err == nil {
		t.Error("expected length error")
	}
	if _, err := m.Permute([]int{0, 1, 3}); err == nil {
		t.Error("expected range error")
	}
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{
		"single": F32, "F32": F32, "double": F64, "half": F16, "bfloat16": BF16, "complex64": C64,
	} {
		got, err := ParseDType(in)
		if err != nil || got != want {
			t.Errorf("ParseDType(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseDType("int8"); err == nil {
		t.Error("expected error for int8")
	}
}

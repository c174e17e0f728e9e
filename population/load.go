// load.go - Einlesen von Populationen aus Dateien
//
// Enthaelt:
// - LoadFile: Auswahl des Formats anhand der Dateiendung
// - ReadCSV: Zeilen = Gewichte, Spalten = Genome
// - ReadJSON: {"rows","cols","dtype","data"[,"imag"]}
// - ReadRaw: little-endian Binaerdaten (.f32, .f64, .f16, .bf16)

package population

import (
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// LoadOptions control LoadFile.
type LoadOptions struct {
	// Rows is the number of weights per genome. Required for raw files,
	// checked against the file otherwise.
	Rows int
}

// LoadFile reads a population from path. The format is chosen by extension:
// .csv, .json, or a raw .f32/.f64/.f16/.bf16 dump.
func LoadFile(path string, opts LoadOptions) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m *Matrix
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		m, err = ReadCSV(f)
	case ".json":
		m, err = ReadJSON(f)
	case ".f32", ".f64", ".f16", ".bf16":
		var dtype DType
		dtype, err = ParseDType(ext[1:])
		if err == nil {
			m, err = ReadRaw(f, dtype, opts.Rows)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported population format %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if opts.Rows > 0 && m.Rows != opts.Rows {
		return nil, fmt.Errorf("%s: population has %d weights per genome, expected %d", path, m.Rows, opts.Rows)
	}
	return m, nil
}

// ReadCSV reads one weight per line and one genome per column.
func ReadCSV(r io.Reader) (*Matrix, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("empty csv")
	}

	rows, cols := len(records), len(records[0])
	data := make([]float32, rows*cols)
	for w, record := range records {
		for g, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %d: %w", w+1, g+1, err)
			}
			data[g*rows+w] = float32(v)
		}
	}
	return New(rows, cols, data), nil
}

type jsonMatrix struct {
	Rows  int       `json:"rows"`
	Cols  int       `json:"cols"`
	DType DType     `json:"dtype"`
	Data  []float64 `json:"data"`
	Imag  []float64 `json:"imag,omitempty"`
}

// ReadJSON reads a matrix document. Data is in genome-major order, the
// same layout Matrix uses.
func ReadJSON(r io.Reader) (*Matrix, error) {
	var doc jsonMatrix
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.DType.IsComplex() && len(doc.Imag) != len(doc.Data) {
		return nil, fmt.Errorf("%s data needs %d imaginary parts, got %d", doc.DType, len(doc.Data), len(doc.Imag))
	}

	var data any
	switch doc.DType {
	case F32:
		d := make([]float32, len(doc.Data))
		for i, v := range doc.Data {
			d[i] = float32(v)
		}
		data = d
	case F64:
		data = doc.Data
	case F16:
		d := make([]float16.Float16, len(doc.Data))
		for i, v := range doc.Data {
			d[i] = float16.Fromfloat32(float32(v))
		}
		data = d
	case BF16:
		f := make([]float32, len(doc.Data))
		for i, v := range doc.Data {
			f[i] = float32(v)
		}
		data = bf16Bits(bfloat16.EncodeFloat32(f))
	case C64:
		d := make([]complex64, len(doc.Data))
		for i := range doc.Data {
			d[i] = complex(float32(doc.Data[i]), float32(doc.Imag[i]))
		}
		data = d
	case C128:
		d := make([]complex128, len(doc.Data))
		for i := range doc.Data {
			d[i] = complex(doc.Data[i], doc.Imag[i])
		}
		data = d
	}
	return NewTyped(doc.Rows, doc.Cols, doc.DType, data)
}

func bf16Bits(b []byte) []uint16 {
	bits := make([]uint16, len(b)/2)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return bits
}

// ReadRaw reads little-endian values of dtype. rows weights make up one
// genome; the genome count follows from the data length.
func ReadRaw(r io.Reader, dtype DType, rows int) (*Matrix, error) {
	if rows <= 0 {
		return nil, errors.New("raw populations need the number of weights per genome")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var width int
	switch dtype {
	case F32:
		width = 4
	case F64:
		width = 8
	case F16, BF16:
		width = 2
	default:
		return nil, fmt.Errorf("raw %s populations are not supported", dtype)
	}
	if len(b)%(width*rows) != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of %d-weight %s genomes", len(b), rows, dtype)
	}
	n := len(b) / width
	cols := n / rows

	var data any
	switch dtype {
	case F32:
		d := make([]float32, n)
		for i := range d {
			d[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
		data = d
	case F64:
		d := make([]float64, n)
		for i := range d {
			d[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
		}
		data = d
	case F16:
		d := make([]float16.Float16, n)
		for i := range d {
			d[i] = float16.Frombits(binary.LittleEndian.Uint16(b[2*i:]))
		}
		data = d
	case BF16:
		data = bf16Bits(b)
	}
	return NewTyped(rows, cols, dtype, data)
}

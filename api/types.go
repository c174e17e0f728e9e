// types.go - API-Typen des Evaluierungs-Servers
// Enthaelt: StatusError, EvaluateRequest/-Response, Geraete- und Run-Typen, Duration
package api

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/population"
	"github.com/genevo/fiteval/program"
)

// StatusError is an error with an HTTP status code and message. Stage and
// Diagnostic are set for pipeline failures.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
	Stage        string `json:"stage,omitempty"`
	Diagnostic   string `json:"diagnostic,omitempty"`
}

func (e StatusError) Error() string {
	var msg string
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		msg = fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		msg = e.Status
	case e.ErrorMessage != "":
		msg = e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the fiteval server logs for details"
	}
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	Stage      string `json:"stage,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// EvaluateRequest asks the server to evaluate a population. Weights holds
// one slice per genome; all genomes must have the same length.
type EvaluateRequest struct {
	Weights [][]float32     `json:"weights"`
	Config  *program.Config `json:"config,omitempty"`

	// Save stores the run. Nil stores unless the server runs with
	// FITEVAL_NOSTORE.
	Save *bool `json:"save,omitempty"`
}

// Population packs the genomes into a weight matrix.
func (r *EvaluateRequest) Population() (*population.Matrix, error) {
	if len(r.Weights) == 0 {
		return nil, fmt.Errorf("weights: at least one genome is required")
	}

	rows := len(r.Weights[0])
	data := make([]float32, 0, rows*len(r.Weights))
	for g, genome := range r.Weights {
		if len(genome) != rows {
			return nil, fmt.Errorf("weights: genome %d has %d weights, genome 0 has %d", g, len(genome), rows)
		}
		data = append(data, genome...)
	}
	return population.New(rows, len(r.Weights), data), nil
}

// Genomes splits a single precision matrix into per-genome slices.
func Genomes(m *population.Matrix) [][]float32 {
	genomes := make([][]float32, m.NumGenomes())
	for g := range genomes {
		genomes[g] = m.Genome(g)
	}
	return genomes
}

type EvaluateResponse struct {
	// ID is the stored run, empty when the run was not saved
	ID string `json:"id,omitempty"`

	Fitness  []float32          `json:"fitness"`
	Summary  population.Summary `json:"summary"`
	Device   ml.DeviceInfo      `json:"device"`
	Config   program.Config     `json:"config"`
	Key      string             `json:"key"`
	Duration Duration           `json:"duration"`
}

type DevicesResponse struct {
	Devices []ml.DeviceInfo `json:"devices"`
}

// RunSummary describes a stored run without its fitness vector.
type RunSummary struct {
	ID         string             `json:"id"`
	CreatedAt  time.Time          `json:"created_at"`
	Key        string             `json:"key"`
	Config     program.Config     `json:"config"`
	Device     ml.DeviceInfo      `json:"device"`
	NumGenomes int                `json:"num_genomes"`
	NumWeights int                `json:"num_weights"`
	Duration   Duration           `json:"duration"`
	Summary    population.Summary `json:"summary"`
}

type Run struct {
	RunSummary
	Fitness []float32 `json:"fitness"`
}

type ListRunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

type VersionResponse struct {
	Version  string   `json:"version"`
	Backends []string `json:"backends,omitempty"`
}

// Duration marshals as a Go duration string. Numbers unmarshal as seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.Duration < 0 {
		return []byte("-1"), nil
	}
	return []byte("\"" + d.Duration.String() + "\""), nil
}

func (d *Duration) UnmarshalJSON(b []byte) (err error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch t := v.(type) {
	case float64:
		d.Duration = time.Duration(t * float64(time.Second))
	case string:
		d.Duration, err = time.ParseDuration(t)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported type: '%s'", reflect.TypeOf(v))
	}

	return nil
}

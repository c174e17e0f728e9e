package cmd

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genevo/fiteval/api"
	"github.com/genevo/fiteval/evaluate"
	"github.com/genevo/fiteval/kernels/snake"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/ml/backend/host"
	"github.com/genevo/fiteval/program"
	"github.com/genevo/fiteval/server"
	"github.com/genevo/fiteval/store"
)

const snakeSource = "../source/snake_kernel.cl"

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FITEVAL_BACKEND", "host")
	t.Setenv("FITEVAL_DEVICE", "auto")
	t.Setenv("FITEVAL_KERNEL_PATH", snakeSource)
	t.Setenv("FITEVAL_DB", filepath.Join(dir, "runs.db"))
	t.Setenv("FITEVAL_BUILD_OPTIONS", "")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := NewCLI()
	cli.SetOut(&out)
	cli.SetErr(&out)
	cli.SetArgs(args)
	err := cli.ExecuteContext(t.Context())
	return out.String(), err
}

// testGenomes returns n genomes of size weights each.
func testGenomes(n, size int) [][]float32 {
	genomes := make([][]float32, n)
	for g := range genomes {
		genomes[g] = make([]float32, size)
		for i := range genomes[g] {
			genomes[g][i] = float32((i*5+g*17)%13-6) / 6
		}
	}
	return genomes
}

// writeCSV writes one weight per line and one genome per column.
func writeCSV(t *testing.T, dir string, genomes [][]float32) string {
	t.Helper()
	var sb strings.Builder
	for w := range genomes[0] {
		for g := range genomes {
			if g > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprint(&sb, genomes[g][w])
		}
		sb.WriteByte('\n')
	}

	path := filepath.Join(dir, "population.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func writeF64(t *testing.T, dir string, genomes [][]float32) string {
	t.Helper()
	var b []byte
	for _, genome := range genomes {
		for _, v := range genome {
			b = binary.LittleEndian.AppendUint64(b, math.Float64bits(float64(v)))
		}
	}

	path := filepath.Join(dir, "population.f64")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestEvaluateCommand(t *testing.T) {
	dir := setup(t)
	genomes := testGenomes(3, snake.GenomeSize(program.Default()))
	path := writeCSV(t, dir, genomes)

	out, err := run(t, "evaluate", path, "-o", "json", "--save")
	require.NoError(t, err)

	var resp api.EvaluateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Fitness, 3)
	for g, genome := range genomes {
		assert.Equal(t, snake.Simulate(program.Default(), genome), resp.Fitness[g], "genome %d", g)
	}
	assert.Equal(t, "host", resp.Device.Backend)
	assert.Equal(t, program.Default(), resp.Config)
	require.NotEmpty(t, resp.ID)

	// the saved run is listed and can be shown and deleted
	out, err = run(t, "runs", "-o", "json")
	require.NoError(t, err)
	var runs api.ListRunsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, resp.ID, runs.Runs[0].ID)
	assert.Equal(t, 3, runs.Runs[0].NumGenomes)

	out, err = run(t, "runs", resp.ID, "-o", "json")
	require.NoError(t, err)
	var stored api.Run
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	assert.Equal(t, resp.Fitness, stored.Fitness)

	out, err = run(t, "runs", resp.ID, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, resp.ID)

	_, err = run(t, "runs", resp.ID, "--delete")
	require.NoError(t, err)

	_, err = run(t, "runs", resp.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvaluateCommandTable(t *testing.T) {
	dir := setup(t)
	path := writeCSV(t, dir, testGenomes(2, snake.GenomeSize(program.Default())))

	out, err := run(t, "evaluate", path, "--output", "table")
	require.NoError(t, err)
	for _, want := range []string{"GENOME", "FITNESS", "best", "topology", "24,16,4,2,20,20,200,100"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "run ", "unsaved runs have no id")
}

func TestEvaluateCommandTopology(t *testing.T) {
	dir := setup(t)
	cfg := program.Config{InputSize: 4, OutputSize: 4, GridWidth: 5, GridHeight: 5, MaxSteps: 10}
	path := writeCSV(t, dir, testGenomes(2, snake.GenomeSize(cfg)))

	out, err := run(t, "evaluate", path, "--topology", cfg.String(), "-o", "json")
	require.NoError(t, err)
	var resp api.EvaluateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, cfg, resp.Config)

	configPath := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("input_size: 4\nhidden_size: 0\noutput_size: 4\nnum_hidden: 0\ngrid_width: 5\ngrid_height: 5\nmax_steps: 10\nbonus_steps: 0\n"), 0o644))
	out, err = run(t, "evaluate", path, "--config", configPath, "-o", "json")
	require.NoError(t, err)
	var fromFile api.EvaluateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &fromFile))
	assert.Equal(t, resp.Fitness, fromFile.Fitness)

	_, err = run(t, "evaluate", path, "--config", configPath, "--topology", cfg.String())
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = run(t, "evaluate", path, "--topology", "1,2,3")
	assert.ErrorIs(t, err, ml.ErrInvalidInput)
}

func TestEvaluateCommandConvert(t *testing.T) {
	dir := setup(t)
	cfg := program.Config{InputSize: 4, OutputSize: 4, GridWidth: 5, GridHeight: 5, MaxSteps: 10}
	genomes := testGenomes(2, snake.GenomeSize(cfg))
	path := writeF64(t, dir, genomes)

	// double precision is rejected unless converted
	_, err := run(t, "evaluate", path, "--topology", cfg.String(), "-o", "json")
	require.ErrorIs(t, err, ml.ErrInvalidInput)
	var e *ml.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ml.StageValidate, e.Stage)

	out, err := run(t, "evaluate", path, "--topology", cfg.String(), "--convert", "-o", "json")
	require.NoError(t, err)
	var resp api.EvaluateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Fitness, 2)
	for g, genome := range genomes {
		assert.Equal(t, snake.Simulate(cfg, genome), resp.Fitness[g])
	}
}

func TestEvaluateCommandErrors(t *testing.T) {
	dir := setup(t)
	path := writeCSV(t, dir, testGenomes(1, 8))

	_, err := run(t, "evaluate", filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	_, err = run(t, "evaluate", path, "-o", "yaml")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = run(t, "evaluate", path, "--rows", "9")
	assert.ErrorContains(t, err, "expected 9")

	t.Setenv("FITEVAL_KERNEL_PATH", filepath.Join(dir, "missing.cl"))
	_, err = run(t, "evaluate", path, "-o", "json")
	assert.ErrorIs(t, err, ml.ErrCompilation)
}

func TestCompileCommand(t *testing.T) {
	setup(t)

	out, err := run(t, "compile")
	require.NoError(t, err)
	assert.Contains(t, out, "-D INPUT_SIZE=24 -D HIDDEN_SIZE=16")
	assert.Contains(t, out, "740")
	assert.Contains(t, out, program.Default().Key(mustRead(t, snakeSource)))

	t.Setenv("FITEVAL_BUILD_OPTIONS", "-D EXTRA=1")
	out, err = run(t, "compile", "-t", "4,0,4,0,5,5,10,0")
	require.NoError(t, err)
	assert.Contains(t, out, "-D BONUS_STEPS=0 -D EXTRA=1")
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestDevicesCommand(t *testing.T) {
	setup(t)

	out, err := run(t, "devices", "-o", "json")
	require.NoError(t, err)
	var resp api.DevicesResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Devices)
	assert.Equal(t, "host", resp.Devices[0].Backend)
	assert.Equal(t, ml.DeviceTypeCPU, resp.Devices[0].Type)

	out, err = run(t, "devices", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "BACKEND")
}

func TestRemoteCommands(t *testing.T) {
	dir := setup(t)

	st := &store.Store{DBPath: filepath.Join(dir, "server.db")}
	t.Cleanup(func() { st.Close() })
	e := &evaluate.Evaluator{Driver: host.New(2), SourcePath: snakeSource}
	h, err := server.NewServer(nil, e, st, 1).GenerateRoutes()
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	t.Setenv("FITEVAL_HOST", ts.URL)

	genomes := testGenomes(2, snake.GenomeSize(program.Default()))
	path := writeCSV(t, dir, genomes)

	out, err := run(t, "evaluate", path, "--remote", "--save", "-o", "json")
	require.NoError(t, err)
	var resp api.EvaluateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Fitness, 2)
	assert.Equal(t, snake.Simulate(program.Default(), genomes[1]), resp.Fitness[1])
	assert.NotEmpty(t, resp.ID)

	// the run went to the server's database
	_, err = st.Run(resp.ID)
	require.NoError(t, err)

	out, err = run(t, "devices", "--remote", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"backend": "host"`)

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "fiteval version is")
	assert.NotContains(t, out, "could not connect")

	// server side validation errors come back as status errors
	_, err = run(t, "evaluate", path, "--remote", "--topology", "1,0,1,0,-5,5,10,0")
	assert.ErrorIs(t, err, ml.ErrInvalidInput, "client side validation runs first")
}

func TestRemoteUnavailable(t *testing.T) {
	dir := setup(t)
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()
	t.Setenv("FITEVAL_HOST", url)

	path := writeCSV(t, dir, testGenomes(1, 8))
	_, err := run(t, "evaluate", path, "--remote")
	assert.ErrorContains(t, err, "not responding")

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "could not connect")
}

// cmd_evaluate.go - Evaluate und Compile Commands
// Hauptfunktionen: EvaluateHandler, CompileHandler, loadConfig, loadPopulation
package cmd

import (
	"cmp"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/genevo/fiteval/api"
	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/evaluate"
	"github.com/genevo/fiteval/kernels/snake"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/population"
	"github.com/genevo/fiteval/program"
	"github.com/genevo/fiteval/store"
)

// EvaluateHandler - Bewertet eine Population lokal oder auf dem Server
func EvaluateHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	weights, err := loadPopulation(cmd, args[0], cfg)
	if err != nil {
		return err
	}

	output, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	save, _ := cmd.Flags().GetBool("save")
	var resp *api.EvaluateResponse
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		resp, err = evaluateRemote(cmd, weights, cfg, save)
	} else {
		resp, err = evaluateLocal(cmd, weights, cfg, save)
	}
	if err != nil {
		return err
	}

	if output == "json" {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	renderFitness(cmd.OutOrStdout(), resp)
	return nil
}

func evaluateLocal(cmd *cobra.Command, weights *population.Matrix, cfg *program.Config, save bool) (*api.EvaluateResponse, error) {
	var e evaluate.Evaluator
	r, err := e.EvaluateDetailed(cmd.Context(), weights, cfg)
	if err != nil {
		return nil, err
	}

	resp := &api.EvaluateResponse{
		Fitness:  r.Fitness,
		Summary:  population.Summarize(r.Fitness),
		Device:   r.Device,
		Config:   r.Config,
		Key:      r.Key,
		Duration: api.Duration{Duration: r.Duration},
	}

	if save {
		st := &store.Store{DBPath: envconfig.DB()}
		defer st.Close()

		run := &store.Run{
			Key:        r.Key,
			Config:     r.Config,
			Device:     r.Device,
			NumGenomes: weights.NumGenomes(),
			NumWeights: weights.NumWeights(),
			Duration:   r.Duration,
			Fitness:    r.Fitness,
		}
		if err := st.SaveRun(run); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
		resp.ID = run.ID
	}
	return resp, nil
}

func evaluateRemote(cmd *cobra.Command, weights *population.Matrix, cfg *program.Config, save bool) (*api.EvaluateResponse, error) {
	// the server takes genomes as single precision slices
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}
	if err := checkServerHeartbeat(cmd, client); err != nil {
		return nil, err
	}

	return client.Evaluate(cmd.Context(), &api.EvaluateRequest{
		Weights: api.Genomes(weights),
		Config:  cfg,
		Save:    &save,
	})
}

// CompileHandler - Kompiliert den Kernel und zeigt Schluessel und Build-Optionen
func CompileHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var e evaluate.Evaluator
	r, err := e.Compile(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-16s %s\n", "device", r.Device.Name)
	fmt.Fprintf(out, "%-16s %s\n", "backend", r.Device.Backend)
	fmt.Fprintf(out, "%-16s %s\n", "topology", r.Config)
	fmt.Fprintf(out, "%-16s %d\n", "genome size", snake.GenomeSize(r.Config))
	fmt.Fprintf(out, "%-16s %s\n", "build options", r.Config.BuildOptions())
	fmt.Fprintf(out, "%-16s %s\n", "key", r.Key)
	fmt.Fprintf(out, "%-16s %s\n", "duration", r.Duration.Round(time.Microsecond))
	if r.BuildLog != "" {
		fmt.Fprintf(out, "\n%s\n", r.BuildLog)
	}
	return nil
}

// loadConfig returns nil when neither --config nor --topology is set, which
// selects the default topology.
func loadConfig(cmd *cobra.Command) (*program.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	topology, _ := cmd.Flags().GetString("topology")

	switch {
	case path != "" && topology != "":
		return nil, errors.New("--config and --topology are mutually exclusive")
	case path != "":
		cfg, err := program.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return &cfg, nil
	case topology != "":
		cfg, err := program.ParseTopology(topology)
		if err != nil {
			return nil, err
		}
		return &cfg, nil
	default:
		return nil, nil
	}
}

func loadPopulation(cmd *cobra.Command, path string, cfg *program.Config) (*population.Matrix, error) {
	rows, _ := cmd.Flags().GetInt("rows")
	if rows == 0 && isRaw(path) {
		rows = snake.GenomeSize(cmp.Or(derefConfig(cfg), program.Default()))
	}

	m, err := population.LoadFile(path, population.LoadOptions{Rows: rows})
	if err != nil {
		return nil, err
	}

	if convert, _ := cmd.Flags().GetBool("convert"); convert && m.DType != population.F32 {
		if m, err = m.Convert(population.F32); err != nil {
			return nil, ml.NewError(ml.StageValidate, ml.ErrInvalidInput, ml.OpInvalidMatrix, err)
		}
	}
	return m, nil
}

func derefConfig(cfg *program.Config) program.Config {
	if cfg == nil {
		return program.Config{}
	}
	return *cfg
}

func isRaw(path string) bool {
	return slices.Contains([]string{".f32", ".f64", ".f16", ".bf16"}, strings.ToLower(filepath.Ext(path)))
}

// cmd_list.go - Devices und Runs Commands, Tabellen- und JSON-Ausgabe
// Hauptfunktionen: DevicesHandler, RunsHandler, renderFitness
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/genevo/fiteval/api"
	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/evaluate"
	"github.com/genevo/fiteval/format"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/store"
)

// DevicesHandler - Listet die Compute-Geraete auf
func DevicesHandler(cmd *cobra.Command, _ []string) error {
	output, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	var devices []ml.DeviceInfo
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}
		if err := checkServerHeartbeat(cmd, client); err != nil {
			return err
		}
		resp, err := client.Devices(cmd.Context())
		if err != nil {
			return err
		}
		devices = resp.Devices
	} else {
		var e evaluate.Evaluator
		if devices, err = e.Devices(cmd.Context()); err != nil {
			return err
		}
	}

	if output == "json" {
		if devices == nil {
			devices = []ml.DeviceInfo{}
		}
		return writeJSON(cmd.OutOrStdout(), api.DevicesResponse{Devices: devices})
	}

	var data [][]string
	for _, d := range devices {
		data = append(data, []string{
			d.Name,
			d.Type.String(),
			d.Backend,
			d.Platform,
			strconv.Itoa(d.ComputeUnits),
			format.HumanBytes2(d.GlobalMemory),
		})
	}
	renderTable(cmd.OutOrStdout(), []string{"NAME", "TYPE", "BACKEND", "PLATFORM", "UNITS", "MEMORY"}, data)
	return nil
}

// RunsHandler - Listet gespeicherte Runs, zeigt oder loescht einen Run
func RunsHandler(cmd *cobra.Command, args []string) error {
	output, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	st := &store.Store{DBPath: envconfig.DB()}
	defer st.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		if del, _ := cmd.Flags().GetBool("delete"); del {
			if err := st.DeleteRun(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted '%s'\n", args[0])
			return nil
		}

		r, err := st.Run(args[0])
		if err != nil {
			return err
		}
		if output == "json" {
			return writeJSON(out, api.Run{RunSummary: runSummary(r), Fitness: r.Fitness})
		}
		renderFitness(out, &api.EvaluateResponse{
			ID:       r.ID,
			Fitness:  r.Fitness,
			Summary:  r.Summary,
			Device:   r.Device,
			Config:   r.Config,
			Key:      r.Key,
			Duration: api.Duration{Duration: r.Duration},
		})
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := st.Runs(limit)
	if err != nil {
		return err
	}

	if output == "json" {
		resp := api.ListRunsResponse{Runs: []api.RunSummary{}}
		for _, r := range runs {
			resp.Runs = append(resp.Runs, runSummary(r))
		}
		return writeJSON(out, resp)
	}

	var data [][]string
	for _, r := range runs {
		data = append(data, []string{
			r.ID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.Config.String(),
			strconv.Itoa(r.NumGenomes),
			r.Device.Name,
			formatFitness(r.Summary.Max),
			formatFitness(r.Summary.Mean),
		})
	}
	renderTable(out, []string{"ID", "CREATED", "TOPOLOGY", "GENOMES", "DEVICE", "BEST", "MEAN"}, data)
	return nil
}

func runSummary(r *store.Run) api.RunSummary {
	return api.RunSummary{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		Key:        r.Key,
		Config:     r.Config,
		Device:     r.Device,
		NumGenomes: r.NumGenomes,
		NumWeights: r.NumWeights,
		Duration:   api.Duration{Duration: r.Duration},
		Summary:    r.Summary,
	}
}

// renderFitness prints one line per genome followed by the summary.
func renderFitness(w io.Writer, resp *api.EvaluateResponse) {
	data := make([][]string, 0, len(resp.Fitness))
	for g, f := range resp.Fitness {
		data = append(data, []string{strconv.Itoa(g), formatFitness(float64(f))})
	}
	renderTable(w, []string{"GENOME", "FITNESS"}, data)

	s := resp.Summary
	fmt.Fprintln(w)
	if resp.ID != "" {
		fmt.Fprintf(w, "%-10s %s\n", "run", resp.ID)
	}
	fmt.Fprintf(w, "%-10s %s (%s)\n", "device", resp.Device.Name, resp.Device.Backend)
	fmt.Fprintf(w, "%-10s %s\n", "topology", resp.Config)
	if s.Best >= 0 {
		fmt.Fprintf(w, "%-10s genome %d, fitness %s\n", "best", s.Best, formatFitness(s.Max))
		fmt.Fprintf(w, "%-10s %s (median %s, stddev %s)\n", "mean", formatFitness(s.Mean), formatFitness(s.Median), formatFitness(s.StdDev))
	}
	fmt.Fprintf(w, "%-10s %s\n", "duration", resp.Duration.Round(time.Microsecond))
}

func formatFitness(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputFormat resolves --output. Without the flag, tables go to terminals
// and JSON everywhere else.
func outputFormat(cmd *cobra.Command) (string, error) {
	output, _ := cmd.Flags().GetString("output")
	switch output {
	case "table", "json":
		return output, nil
	case "":
		if f, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return "table", nil
		}
		return "json", nil
	default:
		return "", fmt.Errorf("unknown output format %q, use table or json", output)
	}
}

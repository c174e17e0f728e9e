// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/genevo/fiteval/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "fiteval",
		Short:         "Population fitness evaluator",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	evaluateCmd := newEvaluateCmd()
	compileCmd := newCompileCmd()
	devicesCmd := newDevicesCmd()
	runsCmd := newRunsCmd()
	serveCmd := newServeCmd()
	versionCmd := newVersionCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	pipeline := []envconfig.EnvVar{
		envVars["FITEVAL_DEBUG"],
		envVars["FITEVAL_BACKEND"],
		envVars["FITEVAL_DEVICE"],
		envVars["FITEVAL_KERNEL_PATH"],
		envVars["FITEVAL_ENTRY_POINT"],
		envVars["FITEVAL_BUILD_OPTIONS"],
		envVars["FITEVAL_NUM_THREADS"],
	}

	for _, cmd := range []*cobra.Command{
		evaluateCmd,
		compileCmd,
		devicesCmd,
		runsCmd,
		serveCmd,
		versionCmd,
	} {
		switch cmd {
		case evaluateCmd:
			appendEnvDocs(cmd, append(pipeline, envVars["FITEVAL_HOST"], envVars["FITEVAL_DB"]))
		case compileCmd, devicesCmd:
			appendEnvDocs(cmd, pipeline)
		case runsCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["FITEVAL_DB"]})
		case serveCmd:
			appendEnvDocs(cmd, append(pipeline,
				envVars["FITEVAL_HOST"],
				envVars["FITEVAL_ORIGINS"],
				envVars["FITEVAL_MAX_QUEUE"],
				envVars["FITEVAL_DB"],
				envVars["FITEVAL_NOSTORE"],
			))
		default:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["FITEVAL_HOST"]})
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		evaluateCmd,
		compileCmd,
		devicesCmd,
		runsCmd,
		versionCmd,
	)

	return rootCmd
}

func newEvaluateCmd() *cobra.Command {
	evaluateCmd := &cobra.Command{
		Use:   "evaluate FILE",
		Short: "Evaluate the fitness of a population",
		Long: `Evaluate the fitness of every genome in FILE.

FILE holds one genome per column: a .csv with one weight per line, a .json
matrix, or a raw .f32/.f64/.f16/.bf16 dump (see --rows).`,
		Args: cobra.ExactArgs(1),
		RunE: EvaluateHandler,
	}

	addConfigFlags(evaluateCmd)
	evaluateCmd.Flags().Int("rows", 0, "Weights per genome (default: genome size of the topology for raw files)")
	evaluateCmd.Flags().Bool("convert", false, "Convert non single precision populations to f32 before evaluating")
	evaluateCmd.Flags().StringP("output", "o", "", "Output format: table or json (default: table on a terminal)")
	evaluateCmd.Flags().Bool("save", false, "Record the run in the runs database")
	evaluateCmd.Flags().Bool("remote", false, "Evaluate on the fiteval server instead of locally")

	return evaluateCmd
}

func newCompileCmd() *cobra.Command {
	compileCmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the kernel for a topology and report the build",
		Args:  cobra.NoArgs,
		RunE:  CompileHandler,
	}

	addConfigFlags(compileCmd)
	return compileCmd
}

func newDevicesCmd() *cobra.Command {
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List compute devices",
		Args:  cobra.NoArgs,
		RunE:  DevicesHandler,
	}

	devicesCmd.Flags().StringP("output", "o", "", "Output format: table or json (default: table on a terminal)")
	devicesCmd.Flags().Bool("remote", false, "List the devices of the fiteval server")
	return devicesCmd
}

func newRunsCmd() *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs [ID]",
		Short: "List recorded runs or show one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunsHandler,
	}

	runsCmd.Flags().Int("limit", 20, "Number of runs to list (0 lists all)")
	runsCmd.Flags().Bool("delete", false, "Delete the run ID")
	runsCmd.Flags().StringP("output", "o", "", "Output format: table or json (default: table on a terminal)")
	return runsCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the fiteval server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run:   versionHandler,
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Topology file (.yaml or .json)")
	cmd.Flags().StringP("topology", "t", "", "Topology as eight comma separated values: "+
		"input,hidden,output,layers,width,height,steps,bonus")
}

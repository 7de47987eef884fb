package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fabrik/fabrik/config"
	"github.com/fabrik/fabrik/stack"
	"github.com/fabrik/fabrik/topology"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Fabrik is the root command.
var Fabrik = &cobra.Command{
	Use:           "fabrik",
	Short:         "Compile a declarative deployment topology into a template",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	Fabrik.PersistentFlags().StringP("config", "c", config.DefaultFilename, "Deployment config file")
	Fabrik.PersistentFlags().BoolP("verbose", "v", false, "Verbose logs")
}

// loadProject loads the config file from the --config flag, or the
// environment-resolved defaults if the file does not exist.
func loadProject(cmd *cobra.Command) (*config.Project, error) {
	file, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(file)
}

// buildTopology constructs and finalizes the deployment topology. On
// failure the aggregated diagnostics are written to stderr.
func buildTopology(cfg *config.Project) (*topology.Topology, error) {
	top, err := stack.Build(cfg)
	if err != nil {
		writeDiagnostics(os.Stderr, err)
		return nil, err
	}
	for _, w := range top.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
	}
	return top, nil
}

// writeDiagnostics writes every error in a possibly aggregated error on its
// own line, wrapped for terminal output.
func writeDiagnostics(w io.Writer, err error) {
	for _, e := range multierr.Errors(err) {
		fmt.Fprintln(w, wordwrap.WrapString("error: "+e.Error(), 78))
	}
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}
	logCfg := zap.NewDevelopmentConfig()
	if !verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return logCfg.Build()
}

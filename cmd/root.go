package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/bias-runner/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "bias-runner",
	Short: "Resumable batch runner for LLM hourly-rate bias probes",
	Long:  "Builds bias-probing prompt variants from freelancer profiles, asks each configured model for an hourly rate, and appends every outcome to a resumable results file.",
	// An incomplete run is reported as an error; usage would only bury it.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// setup loads config.yaml and BIAS_* overrides into cfg and installs the
// global logger.
func setup() error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

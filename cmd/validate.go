package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowprobe/fprobe/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the global configuration file",
	Long: `Validate loads the config file given by --config, applies the same
defaults and checks the daemon applies at startup, and reports any error
without starting the pipeline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Printf("INVALID: %v\n", err)
		return err
	}

	fmt.Printf("VALID: node=%s partitions=%d source=%s sink=%s\n",
		cfg.Node.Hostname, cfg.Pipeline.Partitions, cfg.Pipeline.Source.Type, cfg.Sink.Type)
	return nil
}

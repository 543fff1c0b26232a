package cmd

import (
	"github.com/spf13/cobra"

	"github.com/flowprobe/fprobe/internal/daemon"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fprobe daemon in the foreground",
	Long: `Run loads configuration, starts the worker pipeline, metrics server,
and control-plane socket, then blocks until a shutdown signal (SIGTERM,
SIGINT) is received. A reload signal (SIGHUP) reloads the configuration
and the daemon keeps running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(configFile)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}
		return d.Run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

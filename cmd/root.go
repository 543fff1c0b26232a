// Package cmd implements the fprobe CLI using cobra, adapted from the
// teacher's cmd/root.go: same persistent --config/--socket flag shape and
// Execute() entry point, subcommands replaced with fprobe's run/stop/
// reload/stats/validate set.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "fprobe",
	Short: "fprobe - high-throughput network flow exporter",
	Long: `fprobe captures network traffic, tracks bidirectional flows, and exports
flow records once a flow ends or times out. It includes a process plugin
for QUIC Initial-packet crypto parsing (SNI/ALPN extraction) alongside
DNS and HTTP plugins.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and parses flags.
// Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/fprobe/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"control-plane socket path (overrides the value in --config)")
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

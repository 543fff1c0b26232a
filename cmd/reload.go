package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowprobe/fprobe/internal/config"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the fprobe daemon's configuration",
	Long: `Reload sends SIGHUP to the running daemon, which hot-reloads log
level/format. Partition count, cache sizing, and source/sink selection
require a full restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload()
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}

func runReload() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pid, err := readPIDFile(cfg.Control.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file %s: %w", cfg.Control.PIDFile, err)
	}

	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	fmt.Printf("sent SIGHUP to fprobe daemon (pid %d)\n", pid)
	return nil
}

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowprobe/fprobe/internal/config"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fprobe daemon",
	Long: `Stop reads the daemon's PID file and sends it SIGTERM, triggering the
same graceful shutdown path (pipeline drain, sink flush, PID file removal)
as an operator-sent signal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop()
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pid, err := readPIDFile(cfg.Control.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file %s: %w", cfg.Control.PIDFile, err)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	fmt.Printf("sent SIGTERM to fprobe daemon (pid %d)\n", pid)
	return nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file: %w", err)
	}
	return pid, nil
}

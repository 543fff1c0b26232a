package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowprobe/fprobe/internal/config"
	"github.com/flowprobe/fprobe/internal/telemetry"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-worker runtime statistics",
	Long: `Stats queries the daemon's control-plane socket and prints
per-worker packet/flow/cache/ring counters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats() error {
	path := socketPath
	if path == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path = cfg.Control.Socket
	}

	inputs, outputs, err := telemetry.Query(path, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}

	fmt.Println("INPUT WORKERS")
	printStatsTable(inputs)
	fmt.Println()
	fmt.Println("OUTPUT WORKERS")
	printStatsTable(outputs)
	return nil
}

func printStatsTable(rows []telemetry.QueriedStats) {
	fmt.Printf("%-20s %12s %12s %12s %12s %12s %10s/%-10s\n",
		"NAME", "PACKETS_IN", "FLOWS_ACT", "FLOWS_EXP", "CACHE_HIT", "CACHE_MISS", "RING_LEN", "RING_CAP")
	for _, r := range rows {
		fmt.Printf("%-20s %12d %12d %12d %12d %12d %10d/%-10d\n",
			r.Name, r.PacketsIn, r.FlowsActive, r.FlowsExported, r.CacheHits, r.CacheMisses, r.RingLen, r.RingCap)
	}
}

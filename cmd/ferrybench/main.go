// Ferrybench runs the communication benchmarks of the messaging
// substrate over an in-process cluster: a barrier latency test and a
// point-to-point throughput sweep. Defaults can be set in a .env file
// through FERRY_* variables.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	numRanks    int
	windowSize  uint64
	statsDB     string
	monitorPort int
)

var rootCmd = &cobra.Command{
	Use:   "ferrybench",
	Short: "Benchmarks for the cluster messaging substrate.",
	Long: `Ferrybench spins up an in-process cluster of messaging endpoints ` +
		`and measures barrier latency and point-to-point throughput, ` +
		`mirroring the workloads the graph database puts on the substrate.`,
}

func init() {
	godotenv.Load()

	rootCmd.PersistentFlags().IntVar(&numRanks,
		"ranks", envInt("FERRY_RANKS", 2),
		"number of in-process ranks")
	rootCmd.PersistentFlags().Uint64Var(&windowSize,
		"window", envUint64("FERRY_WINDOW", 64*1024*1024),
		"send window size per endpoint, in bytes")
	rootCmd.PersistentFlags().StringVar(&statsDB,
		"stats-db", os.Getenv("FERRY_STATS_DB"),
		"record per-flush statistics into this SQLite database")
	rootCmd.PersistentFlags().IntVar(&monitorPort,
		"monitor-port", envInt("FERRY_MONITOR_PORT", 0),
		"serve the monitoring API on this port (0 disables)")
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}

func envUint64(name string, def uint64) uint64 {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			return v
		}
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

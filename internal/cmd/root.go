// Package cmd provides the CLI for the gcra demo server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gcra-server",
	Short: "HTTP server fronted by a GCRA rate limiter",
	Long: `gcra-server answers HTTP requests behind a per-client rate limiter
built on the Generic Cell Rate Algorithm.

Configuration is read from the environment (optionally via a .env file):

  GCRA_ADDR              listen address       (default :8080)
  GCRA_RATE              requests per second  (default 5)
  GCRA_BURST             extra burst requests (default 10)
  GCRA_SHARDS            store shard count    (default 64)
  GCRA_KEY_TTL           idle key eviction    (default 1h)
  GCRA_SWEEP_INTERVAL    eviction cadence     (default 5m)
  GCRA_SHUTDOWN_TIMEOUT  graceful stop bound  (default 10s)
  GCRA_LOG_LEVEL         zap log level        (default info)`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

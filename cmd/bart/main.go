// Command bart runs the Balloon Analogue Risk Task: a loopback HTTP API for
// a presentation front end, scripted participant simulations, and offline
// rescoring of exported results.
//
// Version information is set at build time:
//
//	go build -ldflags "-X github.com/MJE43/bart-task-go/internal/api.EngineVersion=v1.0.0 \
//	  -X github.com/MJE43/bart-task-go/internal/api.GitCommit=$(git rev-parse HEAD)" ./cmd/bart
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MJE43/bart-task-go/internal/api"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bart",
		Short: "Balloon Analogue Risk Task engine",
		Long: `bart runs BART sessions: 3 practice balloons followed by 60 scored
balloons of three risk levels, with deterministic burst points.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", api.EngineVersion, api.GitCommit, api.BuildTime),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default $BART_CONFIG or ./bart.yaml)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSequenceCmd(),
		buildSimulateCmd(),
		buildScoreCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

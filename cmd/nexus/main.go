package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/go-lynx/nexus/cmd/nexus/internal/order"
	"github.com/go-lynx/nexus/cmd/nexus/internal/run"
	"github.com/go-lynx/nexus/log"
)

// release is set at build time with -ldflags "-X main.release=...".
var release = "v0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:     "nexus",
	Short:   "Nexus: an in-process module orchestrator",
	Long:    `Nexus runs a set of modules with dependency ordered startup, an event bus and fault recovery.`,
	Version: release,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		if env := os.Getenv("NEXUS_LOG_LEVEL"); level == "" && env != "" {
			level = env
		}
		console, _ := cmd.Flags().GetBool("console")
		log.Init(log.Options{
			Level:   log.ParseLevel(level),
			Console: console,
			Output:  os.Stderr,
			Fields:  []any{"service.name", "nexus", "service.version", release},
		})
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(run.CmdRun)
	rootCmd.AddCommand(order.CmdOrder)
	rootCmd.PersistentFlags().String("log-level", "", "log level: error|warn|info|debug")
	rootCmd.PersistentFlags().Bool("console", true, "human readable log output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

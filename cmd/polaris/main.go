// Command polaris runs the research assistant: the agent router with
// its memory, skill, tool, approval, and trace subsystems, plus
// maintenance subcommands for the vault index and the trace log.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"polaris/internal/config"
	"polaris/internal/logging"
)

var version = "2.0.0-dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "polaris",
	Short: "Polaris — personal research assistant",
	Long: `Polaris routes natural-language requests through a ReAct agent
loop over a restricted toolset: paper search, mail triage, HPC job
monitoring, calendar briefing, and an Obsidian knowledge vault.

Tool executions are risk-gated (AUTO / CONFIRM / CRITICAL) and every
invocation lands in an append-only trace log.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		if err := logging.Init(level); err != nil {
			return fmt.Errorf("failed to init logging: %w", err)
		}
		cmd.SetContext(withConfig(cmd.Context(), cfg))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("polaris %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"polaris/internal/embedding"
	"polaris/internal/memory"
	"polaris/internal/trace"
	"polaris/internal/vault"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the Obsidian vault into the knowledge store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFrom(cmd.Context())

		store, err := memory.Open(cfg.Memory.DBPath, embedding.NewEmbedder(cfg.Embed))
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		defer store.Close()

		reader := vault.NewReader(cfg.Vault.Path, cfg.Vault.IndexPath, store)
		stats, err := reader.IndexVault(cmd.Context(), indexForce)
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		fmt.Printf("indexed %d notes: %d new, %d updated, %d skipped, %d errors\n",
			stats.Total, stats.New, stats.Updated, stats.Skipped, stats.Errors)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Import the corrections JSONL log into the feedback table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFrom(cmd.Context())

		store, err := memory.Open(cfg.Memory.DBPath, embedding.NewEmbedder(cfg.Embed))
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		defer store.Close()

		imported, skipped, err := store.ImportCorrectionsLog(cmd.Context(), cfg.Memory.CorrectionsLog)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Printf("imported %d corrections, skipped %d\n", imported, skipped)
		return nil
	},
}

var (
	traceLimit   int
	traceSession string
	traceTool    string
	traceExport  bool
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Query the append-only action trace",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFrom(cmd.Context())

		store, err := trace.Open(cfg.Memory.TraceDBPath)
		if err != nil {
			return fmt.Errorf("failed to open trace store: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()
		if traceExport {
			data, err := store.ExportJSON(ctx)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		var rows []trace.Row
		switch {
		case traceSession != "":
			rows, err = store.BySession(ctx, traceSession, traceLimit)
		case traceTool != "":
			rows, err = store.ByTool(ctx, traceTool, traceLimit)
		default:
			rows, err = store.Recent(ctx, traceLimit)
		}
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("no traces recorded")
			return nil
		}
		for _, row := range rows {
			fmt.Printf("%s | %-24s | %-8s | %s | %s\n",
				row.Timestamp, row.Tool, row.ApprovalLevel, row.ApprovedBy, row.SessionID)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "Re-index every note regardless of mtime")

	traceCmd.Flags().IntVar(&traceLimit, "limit", 20, "Maximum rows to show")
	traceCmd.Flags().StringVar(&traceSession, "session", "", "Filter by session id")
	traceCmd.Flags().StringVar(&traceTool, "tool", "", "Filter by tool name")
	traceCmd.Flags().BoolVar(&traceExport, "json", false, "Export the whole trace as JSON")
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the embedding index snapshot",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the embedding index from the database",
	Long: `Load every active member's embedding from the database and write the
index snapshot to INDEX_SNAPSHOT_PATH (or --output), so servers can warm
start without a full load.`,
	RunE: runIndexRebuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)

	indexRebuildCmd.Flags().String("output", "", "Snapshot path (defaults to INDEX_SNAPSHOT_PATH)")
	indexRebuildCmd.Flags().Bool("json", false, "Output as JSON")
}

// IndexRebuildResult represents the result of an index rebuild.
type IndexRebuildResult struct {
	Loaded       int    `json:"loaded"`
	Skipped      int    `json:"skipped"`
	Dim          int    `json:"dim"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	output := mustGetString(cmd, "output")
	if output == "" {
		output = cfg.Matching.IndexSnapshotPath
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	index := facematch.NewEmbeddingIndex(store, cfg.Embedding.Dim)
	stats, err := index.Rebuild(ctx)
	if err != nil {
		return err
	}
	if output != "" {
		if err := index.SaveSnapshot(output); err != nil {
			return err
		}
	}

	result := IndexRebuildResult{
		Loaded:       stats.Loaded,
		Skipped:      stats.Skipped,
		Dim:          index.Dim(),
		SnapshotPath: output,
		DurationMs:   time.Since(start).Milliseconds(),
	}
	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println("Index rebuilt")
	fmt.Printf("  Members loaded: %d\n", result.Loaded)
	if result.Skipped > 0 {
		fmt.Printf("  Rows skipped:   %d\n", result.Skipped)
	}
	if output != "" {
		fmt.Printf("  Snapshot:       %s\n", output)
	}
	fmt.Printf("  Duration:       %s\n", formatDuration(time.Since(start)))
	return nil
}

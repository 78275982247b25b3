package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/logger"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <event-id> <image>",
	Short: "Record attendance from a single frame",
	Long: `Run one frame through detection, matching and attendance recording.

The image may be a raw image file or a text file holding a base64 data URL.

Examples:
  face-attendance ingest 7 frame.jpg
  face-attendance ingest 7 frame.txt --json`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Bool("json", false, "Output as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	eventID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || eventID <= 0 {
		return fmt.Errorf("invalid event id %q", args[0])
	}
	payload, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading frame: %w", err)
	}

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	svc, err := newServices(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.pipeline.Ingest(ctx, eventID, payload)
	if result == nil {
		return err
	}

	if jsonOutput {
		if outErr := outputJSON(result); outErr != nil {
			return outErr
		}
		return err
	}

	fmt.Println(result.Message)
	fmt.Printf("  Faces detected: %d\n", result.FacesDetected)
	for _, r := range result.Recognized {
		fmt.Printf("  %-30s id=%d confidence=%.2f%%\n", r.DisplayName, r.MemberID, r.ConfidencePercent)
	}
	for _, f := range result.Failed {
		fmt.Printf("  failed member %d: %s\n", f.MemberID, f.Reason)
	}
	if err != nil {
		return fmt.Errorf("attendance not recorded: %w", err)
	}
	return nil
}

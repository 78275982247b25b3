package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Seed and inspect members",
}

var memberAddCmd = &cobra.Command{
	Use:   "add <member-id> <full-name>",
	Short: "Create or update a member",
	Long: `Create or update a member record. Members normally come from the
membership system; this command seeds them for local setups and tests.

Examples:
  face-attendance member add 42 "Ana Horvat"
  face-attendance member add 43 "Marko Kovač" --status pending`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMemberAdd,
}

var memberAttendanceCmd = &cobra.Command{
	Use:   "attendance <event-id>",
	Short: "List attendance recorded for an event",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberAttendance,
}

func init() {
	rootCmd.AddCommand(memberCmd)
	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberAttendanceCmd)

	memberAddCmd.Flags().String("status", string(database.MemberActive), "Member status (active or pending)")
	memberAttendanceCmd.Flags().Bool("json", false, "Output as JSON")
}

func runMemberAdd(cmd *cobra.Command, args []string) error {
	memberID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || memberID <= 0 {
		return fmt.Errorf("invalid member id %q", args[0])
	}
	name := strings.TrimSpace(strings.Join(args[1:], " "))
	status := database.MemberStatus(mustGetString(cmd, "status"))
	if status != database.MemberActive && status != database.MemberPending {
		return fmt.Errorf("invalid status %q (want active or pending)", status)
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
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveMember(ctx, database.Member{ID: memberID, FullName: name, Status: status}); err != nil {
		return err
	}
	fmt.Printf("Member %d saved (%s, %s)\n", memberID, name, status)
	return nil
}

type attendanceRow struct {
	MemberID     int64   `json:"member_id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	RecognizedAt string  `json:"recognized_at"`
	Confidence   float64 `json:"confidence"`
}

func runMemberAttendance(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	eventID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || eventID <= 0 {
		return fmt.Errorf("invalid event id %q", args[0])
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
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListAttendance(ctx, eventID)
	if err != nil {
		return err
	}
	rows := make([]attendanceRow, len(records))
	for i, rec := range records {
		name, err := store.DisplayName(ctx, rec.MemberID)
		if err != nil {
			name = fmt.Sprintf("Member #%d", rec.MemberID)
		}
		rows[i] = attendanceRow{
			MemberID:     rec.MemberID,
			Name:         name,
			Status:       rec.Status,
			RecognizedAt: rec.RecognizedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Confidence:   rec.Confidence,
		}
	}

	if jsonOutput {
		return outputJSON(rows)
	}
	fmt.Printf("Event %d: %d member(s) present\n", eventID, len(rows))
	for _, r := range rows {
		fmt.Printf("  %6d  %-30s %s  %.2f\n", r.MemberID, r.Name, r.RecognizedAt, r.Confidence)
	}
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "face-attendance",
	Short: "Record event attendance by recognizing members' faces",
	Long: `Face Attendance matches faces in camera frames against enrolled members
and records their attendance for an event.

Members are enrolled with reference photos; each submitted frame is sent to a
face embedding server, matched against the enrolled embeddings and every
recognized member is marked present.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads and validates the configuration and installs the logger
// it describes as the default.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	cfg := config.Load()
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log := logger.New(&cfg.Log, nil)
	logger.SetDefault(log)
	return cfg, log, nil
}

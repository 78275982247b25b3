package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Build metadata variables, set by -ldflags at compile time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

// VersionInfo is the build metadata of the attendance service binary.
type VersionInfo struct {
	Version   string   `json:"version"`
	Commit    string   `json:"commit"`
	BuildDate string   `json:"build_date"`
	GoVersion string   `json:"go_version"`
	Backends  []string `json:"backends"`
}

func versionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Commit:    CommitSHA,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Backends:  database.Backends(),
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and storage backend information",
	Long: `Print the build metadata of the attendance service together with the
storage backends compiled into this binary (selectable via DATABASE_DRIVER).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo()
		if mustGetBool(cmd, "json") {
			return outputJSON(info)
		}
		fmt.Printf("face-attendance %s\n", info.Version)
		fmt.Printf("  Commit:   %s\n", info.Commit)
		fmt.Printf("  Built:    %s\n", info.BuildDate)
		fmt.Printf("  Go:       %s\n", info.GoVersion)
		fmt.Printf("  Backends: %s\n", strings.Join(info.Backends, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().Bool("json", false, "Output as JSON")
}

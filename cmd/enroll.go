package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/ingest"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [member-id] [image...]",
	Short: "Enroll members' reference face images",
	Long: `Enroll reference face images.

With a member id, every listed image is enrolled for that member in order and
the last accepted one becomes the stored embedding.

With --dir, images are grouped by the member id prefix of their file name
(42.jpg, 42_front.png) and members are enrolled in parallel.

Examples:
  # Enroll one member from two photos
  face-attendance enroll 42 front.jpg side.jpg

  # Enroll a whole directory with 8 workers
  face-attendance enroll --dir ./faces --concurrency 8

  # JSON output for scripting
  face-attendance enroll --dir ./faces --json`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("dir", "", "Directory of <member-id>[_suffix].<ext> images")
	enrollCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Number of members enrolled in parallel")
	enrollCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// EnrollMemberResult is the per-member outcome of the enroll command.
type EnrollMemberResult struct {
	MemberID  int64    `json:"member_id"`
	Images    int      `json:"images"`
	Succeeded int      `json:"succeeded"`
	Indexed   bool     `json:"indexed"`
	Errors    []string `json:"errors,omitempty"`
}

// EnrollResult represents the result of an enroll run.
type EnrollResult struct {
	Success       bool                 `json:"success"`
	Members       []EnrollMemberResult `json:"members"`
	Enrolled      int                  `json:"enrolled"`
	Failed        int                  `json:"failed"`
	DurationMs    int64                `json:"duration_ms"`
	DurationHuman string               `json:"duration_human,omitempty"`
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".webp": {},
}

// groupImagesByMember maps member ids to the sorted image paths in dir whose
// base name starts with the id.
func groupImagesByMember(dir string) (map[int64][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	groups := make(map[int64][]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := imageExtensions[ext]; !ok {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		prefix, _, _ := strings.Cut(stem, "_")
		id, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		groups[id] = append(groups[id], filepath.Join(dir, name))
	}
	for id := range groups {
		sort.Strings(groups[id])
	}
	return groups, nil
}

func readImages(paths []string) ([][]byte, error) {
	images := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p) //nolint:gosec // paths come from the operator
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		images = append(images, data)
	}
	return images, nil
}

func enrollMember(ctx context.Context, enroller *ingest.Enroller, memberID int64, paths []string) EnrollMemberResult {
	res := EnrollMemberResult{MemberID: memberID, Images: len(paths)}
	images, err := readImages(paths)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	batch := enroller.EnrollBatch(ctx, memberID, images)
	res.Succeeded = batch.Succeeded
	if batch.Last != nil {
		res.Indexed = batch.Last.Indexed
	}
	for _, ie := range batch.Errors {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", filepath.Base(paths[ie.Index]), ie.Err))
	}
	return res
}

func runEnroll(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "dir")
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")

	groups := make(map[int64][]string)
	switch {
	case dir != "":
		if len(args) > 0 {
			return errors.New("--dir cannot be combined with a member id")
		}
		var err error
		if groups, err = groupImagesByMember(dir); err != nil {
			return err
		}
		if len(groups) == 0 {
			return fmt.Errorf("no <member-id>.<ext> images found in %s", dir)
		}
	case len(args) >= 2:
		memberID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || memberID <= 0 {
			return fmt.Errorf("invalid member id %q", args[0])
		}
		groups[memberID] = args[1:]
	default:
		return errors.New("usage: enroll <member-id> <image>... or enroll --dir <directory>")
	}
	if concurrency < 1 {
		concurrency = 1
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
	startTime := time.Now()

	svc, err := newServices(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	memberIDs := make([]int64, 0, len(groups))
	for id := range groups {
		memberIDs = append(memberIDs, id)
	}
	sort.Slice(memberIDs, func(i, j int) bool { return memberIDs[i] < memberIDs[j] })

	// Create progress bar (only for non-JSON output)
	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(memberIDs),
			progressbar.OptionSetDescription("Enrolling members"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("members"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	results := make([]EnrollMemberResult, len(memberIDs))
	var barMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range memberIDs {
		g.Go(func() error {
			results[i] = enrollMember(gctx, svc.enroller, id, groups[id])
			if bar != nil {
				barMu.Lock()
				bar.Add(1)
				barMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if bar != nil {
		fmt.Println()
	}

	duration := time.Since(startTime)
	result := EnrollResult{Members: results, DurationMs: duration.Milliseconds()}
	for _, r := range results {
		if r.Succeeded > 0 {
			result.Enrolled++
		} else {
			result.Failed++
		}
	}
	result.Success = result.Failed == 0

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println("\nEnrollment complete!")
	fmt.Printf("  Members enrolled: %d\n", result.Enrolled)
	if result.Failed > 0 {
		fmt.Printf("  Members failed:   %d\n", result.Failed)
	}
	for _, r := range results {
		for _, e := range r.Errors {
			fmt.Printf("  member %d: %s\n", r.MemberID, e)
		}
	}
	fmt.Printf("  Duration:         %s\n", formatDuration(duration))

	if !result.Success {
		return fmt.Errorf("%d member(s) could not be enrolled", result.Failed)
	}
	return nil
}

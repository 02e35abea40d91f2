package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/inference"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <dir>",
	Short: "Run recognition over a directory of frames",
	Long: `Replay a recorded stream through the recognition pipeline.

Frames are read from the directory in lexical order, so zero-padded names
(frame_00001.jpg, ...) replay in capture order. Frame timestamps are derived
from --fps, which makes the attendance cooldown behave as it would live.

Use --dry-run to recognize faces without writing attendance events.`,
	Example: `  face-attendance replay ./recording --fps 15
  face-attendance replay ./recording --dry-run --json`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().Int("fps", constants.DefaultReplayFPS, "Frame rate used to derive frame timestamps")
	replayCmd.Flags().Bool("dry-run", false, "Do not write attendance events")
	replayCmd.Flags().Bool("json", false, "Output the summary as JSON")
}

// ReplaySummary is printed when a replay finishes.
type ReplaySummary struct {
	Frames     int                `json:"frames"`
	FullPasses int                `json:"full_passes"`
	Detections int                `json:"detections"`
	Failures   int                `json:"failures"`
	Skipped    []string           `json:"skipped,omitempty"`
	Events     []attendance.Event `json:"events"`
	Duration   string             `json:"duration"`
}

// listFrames returns the image files in dir sorted by name.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var frames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if slices.Contains(constants.FrameExtensions, ext) {
			frames = append(frames, filepath.Join(dir, entry.Name()))
		}
	}
	slices.Sort(frames)
	return frames, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	fps := mustGetInt(cmd, "fps")
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")
	if fps < 1 {
		return fmt.Errorf("--fps must be at least 1, got %d", fps)
	}

	frames, err := listFrames(args[0])
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames found in %s", args[0])
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res := newResources(cfg)
	defer res.Close()

	index, err := res.openIndex(ctx)
	if err != nil {
		return fmt.Errorf("failed to open identity index: %w", err)
	}
	if index.Count() == 0 {
		fmt.Fprintln(os.Stderr, "Warning: no identities registered, every face will be unknown")
	}

	var sink attendance.Sink
	if !dryRun {
		opened, _, err := res.openSink(ctx)
		if err != nil {
			return fmt.Errorf("failed to open attendance sink: %w", err)
		}
		sink = opened
	}

	client := newInferenceClient(cfg)
	if !checkInference(ctx, client) {
		return fmt.Errorf("inference server at %s is required for replay", cfg.Inference.URL)
	}

	stream, err := newStream(cfg, client, index, sink)
	if err != nil {
		return fmt.Errorf("failed to create recognition stream: %w", err)
	}

	base := time.Now()
	frameInterval := time.Second / time.Duration(fps)
	var current int
	stream.Now = func() time.Time {
		return base.Add(time.Duration(current) * frameInterval)
	}

	bar := progressbar.NewOptions(len(frames),
		progressbar.OptionSetDescription("Replaying frames"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	summary := ReplaySummary{Events: []attendance.Event{}}
	started := time.Now()
	for i, path := range frames {
		if ctx.Err() != nil {
			break
		}
		current = i

		data, err := os.ReadFile(path) //nolint:gosec // path comes from the replay directory
		if err != nil {
			summary.Skipped = append(summary.Skipped, filepath.Base(path))
			bar.Add(1)
			continue
		}
		img, err := inference.DecodeImage(data)
		if err != nil {
			summary.Skipped = append(summary.Skipped, filepath.Base(path))
			bar.Add(1)
			continue
		}

		result, err := stream.Process(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			bar.Finish()
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}

		summary.Frames++
		if result.Refreshed {
			summary.FullPasses++
			summary.Detections += len(result.Detections)
		}
		summary.Failures += len(result.Failures)
		summary.Events = append(summary.Events, result.Events...)
		bar.Add(1)
	}
	bar.Finish()
	summary.Duration = time.Since(started).Round(time.Millisecond).String()

	if jsonOutput {
		return outputJSON(summary)
	}
	printReplaySummary(summary, dryRun)
	return nil
}

func printReplaySummary(s ReplaySummary, dryRun bool) {
	fmt.Printf("\nReplay complete in %s\n", s.Duration)
	fmt.Printf("  Frames processed: %d\n", s.Frames)
	fmt.Printf("  Full passes:      %d\n", s.FullPasses)
	fmt.Printf("  Faces detected:   %d\n", s.Detections)
	if s.Failures > 0 {
		fmt.Printf("  Failures:         %d\n", s.Failures)
	}
	if len(s.Skipped) > 0 {
		fmt.Printf("  Unreadable:       %d\n", len(s.Skipped))
	}

	if dryRun {
		fmt.Printf("\nAttendance (dry run, not recorded): %d\n", len(s.Events))
	} else {
		fmt.Printf("\nAttendance recorded: %d\n", len(s.Events))
	}
	for _, e := range s.Events {
		fmt.Printf("  %s  %s (label %d)\n", e.Timestamp.Format(time.RFC3339), e.Name, e.Label)
	}
}

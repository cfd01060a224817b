package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <dir>",
	Short: "Enroll every face photo in a directory",
	Long: `Enroll one person per image file in a directory.

The person's name is taken from the file name: the extension is dropped and
underscores become spaces, so "Jiri_Novak.jpg" enrolls "Jiri Novak".
Ids are assigned in completion order.

Examples:
  # Enroll with the default concurrency (4 workers)
  face-attendance enroll-dir ./faces

  # Skip people already in the gallery
  face-attendance enroll-dir ./faces --skip-existing

  # JSON output for scripting
  face-attendance enroll-dir ./faces --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollDir,
}

func init() {
	rootCmd.AddCommand(enrollDirCmd)

	enrollDirCmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Number of parallel workers")
	enrollDirCmd.Flags().Bool("skip-existing", false, "Skip files whose name is already enrolled")
	enrollDirCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// EnrollDirResult represents the result of a bulk enrollment
type EnrollDirResult struct {
	Success       bool              `json:"success"`
	FilesScanned  int               `json:"files_scanned"`
	Enrolled      int               `json:"enrolled"`
	Skipped       int               `json:"skipped"`
	Errors        int               `json:"errors"`
	Failures      map[string]string `json:"failures,omitempty"`
	DurationMs    int64             `json:"duration_ms"`
	DurationHuman string            `json:"duration_human,omitempty"`
}

// enrollJob is one image file and the name it enrolls.
type enrollJob struct {
	path string
	name string
}

func runEnrollDir(cmd *cobra.Command, args []string) error {
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	skipExisting := mustGetBool(cmd, "skip-existing")
	jsonOutput := mustGetBool(cmd, "json")

	jobs, err := collectEnrollJobs(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	startTime := time.Now()

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	var skipped int
	if skipExisting {
		jobs = slices.DeleteFunc(jobs, func(j enrollJob) bool {
			if len(eng.gallery.FindByName(j.name)) > 0 {
				skipped++
				return true
			}
			return false
		})
	}

	if len(jobs) == 0 {
		result := EnrollDirResult{
			Success:    true,
			Skipped:    skipped,
			DurationMs: time.Since(startTime).Milliseconds(),
		}
		if jsonOutput {
			return outputJSON(result)
		}
		fmt.Println("No new face photos found.")
		return nil
	}

	if !jsonOutput {
		fmt.Printf("Found %d face photos to enroll\n\n", len(jobs))
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(jobs),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var enrolled int64
	var mu sync.Mutex
	failures := make(map[string]string)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Add(1)
		go func(j enrollJob) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if _, err := enrollFile(ctx, eng, j.name, j.path, cfg.Web.MaxImageSide); err != nil {
				log.WithError(err).WithField("file", j.path).Debug("Enrollment failed")
				mu.Lock()
				failures[filepath.Base(j.path)] = err.Error()
				mu.Unlock()
			} else {
				atomic.AddInt64(&enrolled, 1)
			}

			if bar != nil {
				_ = bar.Add(1)
			}
		}(job)
	}

	wg.Wait()

	if bar != nil {
		fmt.Println()
	}

	duration := time.Since(startTime)
	result := EnrollDirResult{
		Success:       len(failures) == 0,
		FilesScanned:  len(jobs) + skipped,
		Enrolled:      int(enrolled),
		Skipped:       skipped,
		Errors:        len(failures),
		Failures:      failures,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}

	if jsonOutput {
		// Remove human-readable duration for JSON output
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Println("\nEnrollment complete!")
	fmt.Printf("  Files scanned: %d\n", result.FilesScanned)
	fmt.Printf("  Enrolled:      %d\n", result.Enrolled)
	if result.Skipped > 0 {
		fmt.Printf("  Skipped:       %d\n", result.Skipped)
	}
	if result.Errors > 0 {
		fmt.Printf("  Errors:        %d\n", result.Errors)
		for _, file := range slices.Sorted(maps.Keys(failures)) {
			fmt.Printf("    %s: %s\n", file, failures[file])
		}
	}
	fmt.Printf("  Duration:      %s\n", result.DurationHuman)

	return nil
}

// collectEnrollJobs lists the image files directly inside dir, sorted by name.
func collectEnrollJobs(dir string) ([]enrollJob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var jobs []enrollJob
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !constants.ImageExtensions[ext] {
			continue
		}
		name := nameFromFile(entry.Name())
		if name == "" {
			continue
		}
		jobs = append(jobs, enrollJob{path: filepath.Join(dir, entry.Name()), name: name})
	}
	return jobs, nil
}

// nameFromFile derives a display name from an image file name.
func nameFromFile(file string) string {
	base := strings.TrimSuffix(file, filepath.Ext(file))
	return strings.Join(strings.Fields(strings.ReplaceAll(base, "_", " ")), " ")
}

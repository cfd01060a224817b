package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/imageutil"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> <image>",
	Short: "Enroll a person from a face photo",
	Long: `Enroll a person into the gallery from a single photo of their face.

The photo is normalized, sent to the face service for detection and
embedding, and the person gets the next sequential id.

Examples:
  face-attendance enroll "Jiří Novák" ./faces/jiri.jpg
  face-attendance enroll Alice alice.png --json`,
	Args: cobra.ExactArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	name := strings.TrimSpace(args[0])
	if name == "" {
		return errors.New("name is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	identity, err := enrollFile(ctx, eng, name, args[1], cfg.Web.MaxImageSide)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(identity)
	}
	fmt.Printf("Enrolled %s as %s\n", identity.Name, identity.ID)
	return nil
}

// enrollFile reads and normalizes the photo at path and enrolls it under name.
func enrollFile(ctx context.Context, eng *engine, name, path string, maxSide int) (gallery.Identity, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return gallery.Identity{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	image, _, err := imageutil.Normalize(data, maxSide)
	if err != nil {
		return gallery.Identity{}, fmt.Errorf("%s: %w", path, err)
	}

	identity, err := eng.orchestrator.Enroll(ctx, name, image)
	if err != nil {
		return gallery.Identity{}, fmt.Errorf("failed to enroll %s: %w", name, err)
	}
	return identity, nil
}

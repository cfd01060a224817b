package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/gallery"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "List enrolled identities",
	Long: `List enrolled identities in enrollment order.

Examples:
  face-attendance identities
  face-attendance identities --name jiri
  face-attendance identities --json`,
	Args: cobra.NoArgs,
	RunE: runIdentities,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)

	identitiesCmd.Flags().String("name", "", "Only show identities with this name (case and accent insensitive)")
	identitiesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runIdentities(cmd *cobra.Command, args []string) error {
	name := mustGetString(cmd, "name")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := openEngine(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	var identities []gallery.Identity
	if name != "" {
		identities = eng.gallery.FindByName(name)
	} else {
		identities = eng.gallery.List()
	}

	if jsonOutput {
		if identities == nil {
			identities = []gallery.Identity{}
		}
		return outputJSON(identities)
	}

	if len(identities) == 0 {
		fmt.Println("No identities enrolled.")
		return nil
	}
	fmt.Printf("%-4s  %-32s  %s\n", "ID", "NAME", "ENROLLED")
	for _, id := range identities {
		fmt.Printf("%-4s  %-32s  %s\n", id.ID, id.Name, id.EnrolledAt.Local().Format(time.DateTime))
	}
	fmt.Printf("\n%d of %d identities\n", len(identities), eng.gallery.Len())
	return nil
}

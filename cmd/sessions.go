package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fusecapture/internal/catalog"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	Long:  `List sessions from the catalog, most recent first, with how each one ended.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cat, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		defer cat.Close()

		sessions, err := cat.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded yet")
			return nil
		}

		for _, s := range sessions {
			fmt.Printf("%s  %-10s %-24s rows=%-8d windows=%-4d %s\n",
				s.StartedAt.Local().Format(time.DateTime), s.Status, s.Name, s.RowsWritten, s.WindowsWritten, s.Artifact)
			if s.Error != "" {
				fmt.Printf("    error: %s\n", s.Error)
			}
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Int("limit", 20, "number of sessions to show (0 = all)")
}

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/fusecapture/internal/artifact"
	"github.com/audiolibrelab/fusecapture/internal/service"
)

var infoCmd = &cobra.Command{
	Use:   "info [session-name]",
	Short: "Show resolved configuration and the artifact for a session",
	Long:  `Display the resolved configuration with inheritance indicators and the artifact path for the given session name. Shows which values are inherited from default vs profile-specific. If the artifact exists, its rows are summarized by label.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cleanName := service.CleanFileName(args[0])
		artifactPath := filepath.Join(cfg.Output.Directory, cleanName+".csv")

		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("artifact: %s\n", artifactPath)
		fmt.Printf("clean_name: %s\n", cleanName)
		fmt.Printf("catalog: %s\n", cfg.Catalog.Path)

		fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", cfg.Name)

		fmt.Printf("\n[Sources]\n")
		fmt.Printf("sample_source: %s (%s) %s\n", cfg.SampleSource.ID, cfg.SampleSource.Kind, getInheritanceIndicator(cfg.Inheritance.SampleSource))
		if cfg.SampleSource.Channels > 0 {
			fmt.Printf("   channels: %d\n", cfg.SampleSource.Channels)
		}
		if cfg.SampleSource.Path != "" {
			fmt.Printf("   path: %s\n", cfg.SampleSource.Path)
		}
		fmt.Printf("event_source: %s (%s) %s\n", cfg.EventSource.ID, cfg.EventSource.Kind, getInheritanceIndicator(cfg.Inheritance.EventSource))
		if cfg.EventSource.Broker != "" {
			fmt.Printf("   broker: %s topic: %s\n", cfg.EventSource.Broker, cfg.EventSource.Topic)
		}
		if cfg.EventSource.Script != "" {
			fmt.Printf("   script: %s\n", cfg.EventSource.Script)
		}

		fmt.Printf("\n[Window]\n")
		fmt.Printf("capacity: %d %s\n", cfg.Window.Capacity, getInheritanceIndicator(cfg.Inheritance.Window))

		fmt.Printf("\n[Flush]\n")
		fmt.Printf("max_retries: %d, backoff: %s..%s, cooldown: %s %s\n",
			cfg.Flush.MaxRetries, cfg.Flush.BackoffBase, cfg.Flush.BackoffMax, cfg.Flush.Cooldown,
			getInheritanceIndicator(cfg.Inheritance.Flush.Retry))
		fmt.Printf("memory_ceiling: %d bytes %s\n", cfg.Flush.MemoryCeiling, getInheritanceIndicator(cfg.Inheritance.Flush.MemoryCeiling))

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(cfg.Inheritance.Output.Directory))
		fmt.Printf("one_hot: %t %s\n", cfg.Output.OneHot, getInheritanceIndicator(cfg.Inheritance.Output.OneHot))
		fmt.Printf("image_count: %d\n", cfg.Output.ImageCount)

		summary, err := artifact.Summarize(afero.NewOsFs(), artifactPath)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Printf("\n(no artifact recorded yet)\n")
			return nil
		}
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

func printSummary(s *artifact.Summary) {
	fmt.Printf("\n=== ARTIFACT ===\n")
	fmt.Printf("rows: %d\n", s.Rows)
	fmt.Printf("channels: %d\n", s.Channels)
	fmt.Printf("timestamps: %.6f .. %.6f (ordered: %t)\n", s.FirstTimestamp, s.LastTimestamp, s.Ordered)
	if s.HeaderCount != 1 {
		fmt.Printf("WARNING: %d header rows\n", s.HeaderCount)
	}

	fmt.Printf("status rows:\n")
	for _, st := range s.StatusesSorted() {
		fmt.Printf("  %-20s %d\n", st.String(), s.StatusRows[st])
	}

	images := make([]int32, 0, len(s.ImageRows))
	for img := range s.ImageRows {
		images = append(images, img)
	}
	sort.Slice(images, func(i, j int) bool { return images[i] < images[j] })
	fmt.Printf("image rows:\n")
	for _, img := range images {
		fmt.Printf("  %-20d %d\n", img, s.ImageRows[img])
	}
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

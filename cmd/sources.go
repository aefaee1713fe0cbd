package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/fusecapture/internal/source"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List supported and configured sources",
	Long: `List the sample and event source kinds this build supports and, when a
configuration is given, the sources bound by the selected profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Sample source kinds: %s\n", strings.Join(source.AvailableSampleKinds(), ", "))
		fmt.Printf("Event source kinds:  %s\n", strings.Join(source.AvailableEventKinds(), ", "))

		if cfg == nil {
			fmt.Printf("\nPass --config to show the sources of a profile\n")
			return nil
		}

		fmt.Printf("\nProfile '%s':\n", cfg.Name)
		ss := cfg.SampleSource
		fmt.Printf("  sample: %s kind=%s channels=%d", ss.ID, ss.Kind, ss.Channels)
		if ss.RateHz > 0 {
			fmt.Printf(" rate=%gHz", ss.RateHz)
		}
		if ss.Path != "" {
			fmt.Printf(" path=%s", ss.Path)
		}
		fmt.Printf(" realtime=%t\n", ss.Realtime)

		es := cfg.EventSource
		fmt.Printf("  event:  %s kind=%s", es.ID, es.Kind)
		if es.Broker != "" {
			fmt.Printf(" broker=%s topic=%s qos=%d", es.Broker, es.Topic, es.QoS)
		}
		if es.Script != "" {
			fmt.Printf(" script=%s", es.Script)
		}
		fmt.Println()
		return nil
	},
}

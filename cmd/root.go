package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/fusecapture/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "fusecapture [session-name]",
	Short: "Fuse an EEG sample stream and a marker stream into a labeled CSV",
	Long: `FuseCapture records a multi-channel EEG sample stream and labels every
sample with the stimulus state announced by a marker stream (status and
image). Rows are buffered in fixed-size windows and appended to a CSV
artifact, one per session.

When a session name is provided, it acts as 'fusecapture record [session-name]'.`,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// The server loads its own configuration and reloads it on profile changes
		if cmd.Name() == "serve" {
			return nil
		}

		// For sources command, only load config if explicitly provided
		if cmd.Name() == "sources" && cfgFile == "" {
			return nil
		}

		if cfgFile == "" {
			cfgFile = defaultConfigPath()
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// If a session name is provided, delegate to record command
		if len(args) == 1 {
			return recordCmd.RunE(cmd, args)
		}
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fusecapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=per-event tracing")

	rootCmd.Flags().Duration("duration", 0, "stop recording after this long (0 = until interrupted)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(serveCmd)
}

func defaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/fusecapture.yaml")
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
		// Source locations help when tracing individual label transitions
		AddSource: level >= 2,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/fusecapture/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [session-name]",
	Short: "Record a labeled session",
	Long: `Record samples from the profile's sample source, labeled by its event source,
into <output.directory>/<session-name>.csv.

The session runs until the sample source is exhausted, the duration elapses or
Ctrl+C is pressed. Send SIGUSR1 to pause acquisition and SIGUSR2 to resume it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionName := args[0]
		duration, _ := cmd.Flags().GetDuration("duration")
		slog.Info("Record command started", "session_name", sessionName, "profile", cfg.Name)

		svc, err := service.New(cfg, cfgFile)
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.StartRecording(sessionName); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		_, session := svc.GetRecordingStatus()
		slog.Info("Recording - Press Ctrl+C to stop",
			"artifact", session.Artifact, "pid", os.Getpid())

		done := make(chan error, 1)
		go func() { done <- svc.WaitRecording() }()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
		defer signal.Stop(sigChan)

		var timeout <-chan time.Time
		if duration > 0 {
			timeout = time.After(duration)
		}

		for {
			select {
			case err := <-done:
				return reportSession(svc, err)

			case <-timeout:
				slog.Info("Duration reached, stopping recording", "duration", duration)
				return reportSession(svc, svc.StopRecording())

			case sig := <-sigChan:
				switch sig {
				case syscall.SIGUSR1:
					if err := svc.PauseRecording(); err != nil {
						slog.Warn("Pause failed", "error", err)
					} else {
						slog.Info("Recording paused")
					}
				case syscall.SIGUSR2:
					if err := svc.ResumeRecording(); err != nil {
						slog.Warn("Resume failed", "error", err)
					} else {
						slog.Info("Recording resumed")
					}
				default:
					slog.Info("Stopping recording...")
					return reportSession(svc, svc.StopRecording())
				}
			}
		}
	},
}

// reportSession prints how the session ended and passes err through
func reportSession(svc service.Service, err error) error {
	status, session := svc.GetRecordingStatus()
	stats := svc.GetStats()

	fmt.Printf("=== SESSION ===\n")
	if session != nil {
		fmt.Printf("id: %s\n", session.ID)
		fmt.Printf("artifact: %s\n", session.Artifact)
		if session.StopTime != nil {
			fmt.Printf("duration: %s\n", session.StopTime.Sub(session.StartTime).Round(time.Millisecond))
		}
	}
	fmt.Printf("status: %s\n", status)
	fmt.Printf("rows_written: %d (%d windows)\n", stats.Flush.RowsWritten, stats.Flush.WindowsWritten)
	fmt.Printf("discarded_while_paused: %d\n", stats.Discarded)
	fmt.Printf("skipped_malformed: %d\n", stats.Skipped)
	fmt.Printf("protocol_warnings: %d\n", stats.ProtocolWarnings)
	if stats.Flush.AbandonedRows > 0 {
		fmt.Printf("abandoned_rows: %d (%d windows)\n", stats.Flush.AbandonedRows, stats.Flush.AbandonedWindows)
	}

	if err != nil {
		return fmt.Errorf("recording failed: %w", err)
	}
	return nil
}

func init() {
	recordCmd.Flags().Duration("duration", 0, "stop recording after this long (0 = until interrupted)")
}

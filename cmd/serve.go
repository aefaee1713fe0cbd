package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/fusecapture/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the FuseCapture web server to control recording over HTTP.
The stimulus front end can start and stop sessions and inject markers
(POST /events) when the profile uses a queue event source.

The server will display the local network URL for access from other machines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		configPath := cfgFile
		if configPath == "" {
			configPath = defaultConfigPath()
		}

		srv, err := server.New(configPath, port)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		defer srv.Close()

		slog.Info("FuseCapture web server starting", "port", port, "config", configPath)

		// Start server (this blocks)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/voxclone/internal/server"
	"github.com/audiolibrelab/voxclone/internal/service"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voice cloning backend",
	Long: `Start the voxclone backend. It accepts voice samples, builds a reference
recording from them and synthesizes speech in that voice through the
configured TTS engine.

The server will display the local network URL so clients on other machines
can point client.base_url at it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		if cfg.TTS.EngineURL == "" {
			slog.Warn("No TTS engine configured, synthesis requests will fail", "setting", "tts.engine_url")
		}

		svc := service.New(cfg, nil)
		defer func() {
			if err := svc.Close(); err != nil {
				slog.Error("Service shutdown failed", "error", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(svc, port)
		slog.Info("voxclone backend starting", "port", port, "data_dir", cfg.Server.DataDir)

		// Start server (this blocks until interrupted)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the backend (overrides server.port)")
}

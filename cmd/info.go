package cmd

import (
	"fmt"
	"time"

	"github.com/audiolibrelab/voxclone/internal/service"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show backend file paths and training state",
	Long:  `Display where the backend keeps samples, the reference audio and the status file, along with the current training state read from the local data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg, nil)
		defer svc.Close()

		// Display file paths
		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("data_dir: %s\n", cfg.Server.DataDir)
		fmt.Printf("audio_dir: %s\n", cfg.Server.AudioDir())
		fmt.Printf("model_dir: %s\n", cfg.Server.ModelDir())
		fmt.Printf("status_file: %s\n", cfg.Server.StatusFile())

		st, err := svc.Status()
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}

		fmt.Printf("\n=== TRAINING ===\n")
		fmt.Printf("status: %s\n", st.Status)
		fmt.Printf("samples: %d\n", st.AudioCount)
		if st.LastTrained != nil {
			fmt.Printf("last_trained: %s\n", st.LastTrained.Format(time.RFC3339))
		} else {
			fmt.Printf("last_trained: never\n")
		}
		if st.ModelPath != nil {
			fmt.Printf("reference: %s\n", *st.ModelPath)
		}

		// TTS configuration
		fmt.Printf("\n=== TTS ENGINE ===\n")
		if cfg.TTS.EngineURL == "" {
			fmt.Printf("engine_url: (not configured)\n")
		} else {
			fmt.Printf("engine_url: %s\n", cfg.TTS.EngineURL)
		}
		fmt.Printf("language: %s\n", cfg.TTS.Language)
		fmt.Printf("device: %s\n", cfg.TTS.Device)
		fmt.Printf("timeout: %s\n", cfg.TTS.Timeout)
		return nil
	},
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/audiolibrelab/voxclone/internal/config"
	"github.com/audiolibrelab/voxclone/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play an audio file",
	Long: `Play a recorded sample or synthesized speech file with the first
available player (ffplay, mpv, vlc, aplay).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Playing: %s\n", path)

		handle, err := play.New().Start(ctx, data, mediaTypeFor(path))
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		defer handle.Release()
		return handle.Wait()
	},
}

func mediaTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return config.FormatWebmOpus
	case ".ogg", ".opus":
		return config.FormatOggOpus
	default:
		return config.FormatWAV
	}
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/audiolibrelab/voxclone/internal/controller"
	"github.com/audiolibrelab/voxclone/internal/play"
	"github.com/audiolibrelab/voxclone/internal/remote"

	"github.com/spf13/cobra"
)

var sayCmd = &cobra.Command{
	Use:   "say [text]",
	Short: "Speak text in the cloned voice",
	Long: `Send text to the backend and play the synthesized speech, or write it
to a file with --output. Text is limited to 500 characters.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		output, _ := cmd.Flags().GetString("output")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := remote.NewFromConfig(&cfg.Client)

		snap, err := client.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}
		if !controller.CanSynthesize(snap) {
			return fmt.Errorf("%w (status %s, %d samples)", controller.ErrSynthesisNotReady, snap.State, snap.SampleCount)
		}

		slog.Debug("Requesting synthesis", "chars", len([]rune(text)))
		speech, err := client.Synthesize(ctx, text)
		if err != nil {
			return fmt.Errorf("synthesis failed: %w", err)
		}

		if output != "" {
			if err := os.WriteFile(output, speech.Bytes(), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Printf("Speech written to %s\n", output)
			return nil
		}

		handle, err := play.New().Start(ctx, speech.Bytes(), speech.MediaType())
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		defer handle.Release()
		return handle.Wait()
	},
}

func init() {
	sayCmd.Flags().StringP("output", "o", "", "write the speech to this file instead of playing it")
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/audiolibrelab/voxclone/internal/controller"
	"github.com/audiolibrelab/voxclone/internal/display"
	"github.com/audiolibrelab/voxclone/internal/remote"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backend training status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := remote.NewFromConfig(&cfg.Client)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.RequestTimeout)
		defer cancel()

		snap, err := client.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status from %s: %w", cfg.Client.BaseURL, err)
		}

		progress := controller.Progress(snap.SampleCount, cfg.Client.ProgressTarget)
		fmt.Printf("%s %s %d/%d samples\n",
			display.Badge(snap.State),
			display.ProgressBar(progress, 20),
			snap.SampleCount, cfg.Client.ProgressTarget)

		if snap.LastTrainedAt != nil {
			fmt.Printf("Last trained: %s\n", snap.LastTrainedAt.Local().Format(time.DateTime))
		}
		if h, err := client.Health(ctx); err == nil {
			fmt.Printf("Backend: %s (%s)\n", h.Status, h.Environment)
			if h.LastError != "" {
				fmt.Printf("Last error: %s\n", h.LastError)
			}
		}
		if controller.CanSynthesize(snap) {
			fmt.Println("Synthesis available")
		} else {
			fmt.Println("Synthesis unavailable until training is ready")
		}
		return nil
	},
}

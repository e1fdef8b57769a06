package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/voxclone/internal/service"

	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Rebuild the reference voice from stored samples",
	Long: `Concatenate every stored sample in upload order and keep the most recent
seconds as the reference audio used for synthesis. The backend does this
automatically after each upload; this command runs it in the foreground
against the local data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, _ := cmd.Flags().GetInt("seconds")
		if seconds > 0 {
			cfg.Server.ReferenceSeconds = seconds
		}

		svc := service.New(cfg, nil)
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Training from %s\n", cfg.Server.AudioDir())
		fmt.Printf("Reference length: %ds\n", cfg.Server.ReferenceSeconds)

		if err := svc.Train(ctx); err != nil {
			return fmt.Errorf("training failed: %w", err)
		}

		st, err := svc.Status()
		if err != nil {
			return err
		}
		fmt.Printf("Training completed successfully (%d samples)\n", st.AudioCount)
		return nil
	},
}

func init() {
	trainCmd.Flags().IntP("seconds", "s", 0, "reference length in seconds (overrides config)")
}

package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/voxclone/internal/audio"
	"github.com/audiolibrelab/voxclone/internal/config"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List available audio input devices",
	Long:    `List the input devices each capture backend can record from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("🎙  Audio Inputs (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		for _, bt := range audio.GetAvailableBackends() {
			listBackendDevices(bt)
		}

		fmt.Printf("💡 Usage:\n")
		fmt.Printf("  • Configured backend: %s\n", cfg.Audio.Backend)
		fmt.Printf("  • Set audio.device to one of the names above, or leave it empty for the default input\n\n")
		return nil
	},
}

func listBackendDevices(bt audio.BackendType) {
	backend := audio.NewBackend(&config.AudioConfig{Backend: string(bt)})
	devices, err := backend.ListDevices()
	if err != nil {
		slog.Warn("Could not list devices", "backend", bt, "error", err)
		fmt.Printf("📋 %s: unavailable (%v)\n\n", bt, err)
		return
	}

	fmt.Printf("📋 %s (%d found):\n", bt, len(devices))
	for i, device := range devices {
		fmt.Printf("  %d. %s\n", i+1, device)
	}
	fmt.Println()
}

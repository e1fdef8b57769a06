package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// listPulseSources returns the PulseAudio/PipeWire source names
func listPulseSources() ([]string, error) {
	output, err := exec.Command("pactl", "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PulseAudio sources: %w", err)
	}
	return parsePulseSources(string(output)), nil
}

// parsePulseSources extracts the name column from `pactl list short sources`.
// Monitor sources capture playback, not a microphone, and are skipped.
func parsePulseSources(output string) []string {
	var sources []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if strings.HasSuffix(fields[1], ".monitor") {
			continue
		}
		sources = append(sources, fields[1])
	}
	return sources
}

// validateSource checks that a configured input exists exactly once.
// An empty name or "default" selects the server default and always passes.
func validateSource(name string, available []string) error {
	if name == "" || name == "default" {
		return nil
	}

	duplicates := findDuplicates(name, available)
	switch {
	case len(duplicates) == 0:
		return fmt.Errorf("%w: input not found: %s", ErrDeviceUnavailable, name)
	case len(duplicates) > 1:
		return fmt.Errorf("%w: duplicate inputs named '%s', close conflicting applications", ErrDeviceUnavailable, name)
	}
	return nil
}

func findDuplicates(name string, available []string) []string {
	var duplicates []string
	for _, source := range available {
		if source == name {
			duplicates = append(duplicates, source)
		}
	}
	return duplicates
}

// checkLinuxSource validates the configured input before ffmpeg is started.
// When sources cannot be listed, ffmpeg reports the problem itself.
func checkLinuxSource(name string) error {
	if name == "" || name == "default" {
		return nil
	}
	sources, err := listPulseSources()
	if err != nil {
		slog.Debug("Skipping input validation", "device", name, "error", err)
		return nil
	}
	return validateSource(name, sources)
}

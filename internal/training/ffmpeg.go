package training

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// runFFmpeg runs ffmpeg to completion and includes its output in the error
func runFFmpeg(ctx context.Context, binary string, args ...string) error {
	cmd := exec.CommandContext(ctx, binary, append([]string{"-hide_banner", "-nostdin", "-y"}, args...)...)

	slog.Debug("Running FFmpeg", "command", strings.Join(cmd.Args, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("FFmpeg failed: %w\nOutput: %s", err, lastLines(string(output), 10))
	}
	return nil
}

// lastLines keeps the tail of ffmpeg's output, where the error is
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// InputFormat maps an upload content type to an ffmpeg demuxer
func InputFormat(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "webm"):
		return "webm"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4a"):
		return "mp4"
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	default:
		return "wav"
	}
}

// demuxer returns the ffmpeg -f value for an input format
func demuxer(format string) string {
	switch format {
	case "webm":
		return "matroska"
	case "mp4":
		return "mov"
	default:
		return format
	}
}

// concatList renders an ffmpeg concat demuxer script
func concatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return b.String()
}

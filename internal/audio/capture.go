package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermissionDenied is returned when the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable covers every other acquisition failure.
	ErrDeviceUnavailable = errors.New("microphone unavailable")
)

// CaptureConfig is the fixed capture configuration requested from a backend.
type CaptureConfig struct {
	Device           string
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// Device acquires exclusive access to a microphone.
type Device interface {
	// Supports reports whether the device can encode mediaType.
	Supports(mediaType string) bool
	// Open acquires the microphone and starts producing fragments encoded as
	// mediaType. Errors wrap ErrPermissionDenied or ErrDeviceUnavailable.
	Open(ctx context.Context, cfg CaptureConfig, mediaType string) (Stream, error)
}

// Stream is a live capture. Fragments are delivered in order on the channel
// returned by Fragments, which is closed after the final fragment once Stop
// has flushed the engine or the engine exited.
type Stream interface {
	Fragments() <-chan []byte
	// Stop asks the engine to flush its final fragment. It does not block.
	Stop() error
	// Close halts every track of the underlying stream. Safe to call more than once.
	Close() error
}

// SelectFormat returns the first media type in preferences the device supports.
func SelectFormat(d Device, preferences []string) (string, error) {
	for _, mediaType := range preferences {
		if d.Supports(mediaType) {
			return mediaType, nil
		}
	}
	return "", fmt.Errorf("%w: no supported format among [%s]", ErrDeviceUnavailable, strings.Join(preferences, ", "))
}

// Extension returns the file extension conventionally used for mediaType.
func Extension(mediaType string) string {
	base := strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0])
	switch base {
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	default:
		return "wav"
	}
}

// classifyOpenError maps backend error output onto the acquisition error taxonomy.
func classifyOpenError(detail string) error {
	lower := strings.ToLower(detail)
	for _, marker := range []string{"permission denied", "operation not permitted", "not authorized", "access denied", "not permitted"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(detail))
		}
	}
	if strings.TrimSpace(detail) == "" {
		return ErrDeviceUnavailable
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, strings.TrimSpace(detail))
}

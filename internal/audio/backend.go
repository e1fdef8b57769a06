package audio

import (
	"strings"

	"github.com/audiolibrelab/voxclone/internal/config"
)

// BackendType represents the type of capture backend
type BackendType string

const (
	BackendTypeFFmpeg    BackendType = "ffmpeg"
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeAuto      BackendType = "auto"
)

// Backend is a Device that can also enumerate its inputs.
type Backend interface {
	Device

	// List available input devices
	ListDevices() ([]string, error)

	// Get the backend type
	GetType() BackendType
}

// NewBackend creates a capture backend based on configuration
func NewBackend(cfg *config.AudioConfig) Backend {
	switch determineBackend(cfg) {
	case BackendTypePortAudio:
		return NewPortAudioBackend()
	default:
		return NewFFmpegBackend()
	}
}

// CaptureConfigFrom builds the fixed capture configuration: mono at the
// configured rate, with the configured processing toggles.
func CaptureConfigFrom(cfg *config.AudioConfig) CaptureConfig {
	return CaptureConfig{
		Device:           cfg.Device,
		SampleRate:       cfg.SampleRate,
		Channels:         1,
		EchoCancellation: cfg.EchoCancellation,
		NoiseSuppression: cfg.NoiseSuppression,
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.AudioConfig) BackendType {
	switch strings.ToLower(cfg.Backend) {
	case "portaudio":
		return BackendTypePortAudio
	case "ffmpeg":
		return BackendTypeFFmpeg
	}

	// PortAudio needs the native library, so auto never picks it
	return BackendTypeFFmpeg
}

// GetAvailableBackends returns the selectable backends
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeFFmpeg, BackendTypePortAudio}
}

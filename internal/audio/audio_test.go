package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/audiolibrelab/voxclone/internal/config"
)

type stubDevice struct {
	supported map[string]bool
}

func (d stubDevice) Supports(mediaType string) bool { return d.supported[mediaType] }

func (d stubDevice) Open(ctx context.Context, cfg CaptureConfig, mediaType string) (Stream, error) {
	return nil, errors.New("not implemented")
}

var preferences = []string{config.FormatWebmOpus, config.FormatOggOpus, config.FormatWAV}

func TestSelectFormat_PrefersOpusInWebm(t *testing.T) {
	d := stubDevice{supported: map[string]bool{config.FormatWebmOpus: true, config.FormatWAV: true}}

	got, err := SelectFormat(d, preferences)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != config.FormatWebmOpus {
		t.Errorf("Expected %s, got %s", config.FormatWebmOpus, got)
	}
}

func TestSelectFormat_FallsBackInOrder(t *testing.T) {
	d := stubDevice{supported: map[string]bool{config.FormatOggOpus: true, config.FormatWAV: true}}
	if got, _ := SelectFormat(d, preferences); got != config.FormatOggOpus {
		t.Errorf("Expected secondary container %s, got %s", config.FormatOggOpus, got)
	}

	d = stubDevice{supported: map[string]bool{config.FormatWAV: true}}
	if got, _ := SelectFormat(d, preferences); got != config.FormatWAV {
		t.Errorf("Expected baseline %s, got %s", config.FormatWAV, got)
	}
}

func TestSelectFormat_NothingSupported(t *testing.T) {
	_, err := SelectFormat(stubDevice{}, preferences)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got: %v", err)
	}
}

func TestPortAudioBackend_SupportsOnlyWAV(t *testing.T) {
	b := NewPortAudioBackend()
	got, err := SelectFormat(b, preferences)
	if err != nil || got != config.FormatWAV {
		t.Errorf("Expected portaudio to negotiate %s, got %s (err %v)", config.FormatWAV, got, err)
	}
}

const encoderListing = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 A....D pcm_s16le            PCM signed 16-bit little-endian
 A....D libopus              libopus Opus (codec opus)
 A..X.D opus                 Opus
`

func TestFFmpegBackend_NegotiatesOpusWhenAvailable(t *testing.T) {
	b := NewFFmpegBackend()
	b.listEncoders = func() (string, error) { return encoderListing, nil }

	got, err := SelectFormat(b, preferences)
	if err != nil || got != config.FormatWebmOpus {
		t.Errorf("Expected %s, got %s (err %v)", config.FormatWebmOpus, got, err)
	}
}

func TestFFmpegBackend_FallsBackToWAVWithoutLibopus(t *testing.T) {
	calls := 0
	b := NewFFmpegBackend()
	b.listEncoders = func() (string, error) {
		calls++
		return strings.Replace(encoderListing, "libopus", "libvorbis", -1), nil
	}

	got, err := SelectFormat(b, preferences)
	if err != nil || got != config.FormatWAV {
		t.Errorf("Expected %s, got %s (err %v)", config.FormatWAV, got, err)
	}
	if calls != 1 {
		t.Errorf("Expected encoders listed once, got %d", calls)
	}
}

func TestFFmpegBackend_ListingFailureFallsBackToWAV(t *testing.T) {
	b := NewFFmpegBackend()
	b.listEncoders = func() (string, error) { return "", errors.New("exec: not found") }

	if got, _ := SelectFormat(b, preferences); got != config.FormatWAV {
		t.Errorf("Expected %s, got %s", config.FormatWAV, got)
	}
}

func TestClassifyOpenError(t *testing.T) {
	tests := []struct {
		detail string
		want   error
	}{
		{"default: Permission denied", ErrPermissionDenied},
		{"[avfoundation] Operation not permitted", ErrPermissionDenied},
		{"default: No such process", ErrDeviceUnavailable},
		{"", ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		err := classifyOpenError(tt.detail)
		if !errors.Is(err, tt.want) {
			t.Errorf("classifyOpenError(%q): expected %v, got %v", tt.detail, tt.want, err)
		}
	}
}

func TestBuildCaptureArgs_Linux(t *testing.T) {
	cfg := CaptureConfig{SampleRate: 16000, Channels: 1, NoiseSuppression: true}
	args := strings.Join(buildCaptureArgs("linux", cfg, config.FormatWebmOpus), " ")

	for _, want := range []string{"-f pulse -i default", "-ac 1", "-ar 16000", "-af afftdn", "-c:a libopus -f webm", "pipe:1"} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected args to contain %q, got: %s", want, args)
		}
	}
}

func TestBuildCaptureArgs_DarwinWAVWithoutNoiseSuppression(t *testing.T) {
	cfg := CaptureConfig{SampleRate: 16000, Channels: 1}
	args := strings.Join(buildCaptureArgs("darwin", cfg, config.FormatWAV), " ")

	if !strings.Contains(args, "-f avfoundation -i :default") {
		t.Errorf("Expected avfoundation default input, got: %s", args)
	}
	if !strings.Contains(args, "-c:a pcm_s16le -f wav") {
		t.Errorf("Expected wav encoding, got: %s", args)
	}
	if strings.Contains(args, "afftdn") {
		t.Errorf("Expected no noise suppression filter, got: %s", args)
	}
}

func TestStreamingWAVHeader(t *testing.T) {
	h := streamingWAVHeader(16000, 1)

	if len(h) != 44 {
		t.Fatalf("Expected 44-byte header, got %d", len(h))
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[36:40]) != "data" {
		t.Errorf("Unexpected chunk ids in header: %q", h)
	}
	if rate := binary.LittleEndian.Uint32(h[24:28]); rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(h[28:32]); byteRate != 32000 {
		t.Errorf("Expected byte rate 32000, got %d", byteRate)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		config.FormatWebmOpus: "webm",
		config.FormatOggOpus:  "ogg",
		config.FormatWAV:      "wav",
		"audio/mp4":           "m4a",
		"application/unknown": "wav",
	}
	for mediaType, want := range tests {
		if got := Extension(mediaType); got != want {
			t.Errorf("Extension(%q): expected %s, got %s", mediaType, want, got)
		}
	}
}

func TestParsePulseSources(t *testing.T) {
	output := "0\talsa_output.pci.analog-stereo.monitor\tPipeWire\ts32le 2ch 48000Hz\tSUSPENDED\n" +
		"1\talsa_input.usb-Blue_Yeti.analog-stereo\tPipeWire\ts16le 2ch 48000Hz\tRUNNING\n" +
		"\n"

	sources := parsePulseSources(output)
	if len(sources) != 1 || sources[0] != "alsa_input.usb-Blue_Yeti.analog-stereo" {
		t.Errorf("Expected only the microphone source, got %v", sources)
	}
}

func TestValidateSource(t *testing.T) {
	available := []string{"mic-a", "mic-b", "mic-b"}

	tests := []struct {
		name    string
		wantErr bool
	}{
		{"", false},
		{"default", false},
		{"mic-a", false},
		{"missing", true},
		{"mic-b", true},
	}

	for _, tt := range tests {
		err := validateSource(tt.name, available)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateSource(%q): expected error=%v, got %v", tt.name, tt.wantErr, err)
		}
		if err != nil && !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("validateSource(%q): expected ErrDeviceUnavailable, got %v", tt.name, err)
		}
	}
}

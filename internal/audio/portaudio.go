package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/audiolibrelab/voxclone/internal/config"
)

// FramesPerBuffer is the PortAudio read size (64ms at 16kHz).
const FramesPerBuffer = 1024

// PortAudioBackend captures through the native PortAudio library. It only
// produces WAV: a streaming header followed by 16-bit PCM fragments.
type PortAudioBackend struct{}

// NewPortAudioBackend creates a PortAudio backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// GetType returns the backend type
func (b *PortAudioBackend) GetType() BackendType {
	return BackendTypePortAudio
}

// Supports reports whether mediaType is WAV
func (b *PortAudioBackend) Supports(mediaType string) bool {
	return mediaType == config.FormatWAV
}

// Open acquires the configured (or default) input device
func (b *PortAudioBackend) Open(ctx context.Context, cfg CaptureConfig, mediaType string) (Stream, error) {
	if !b.Supports(mediaType) {
		return nil, fmt.Errorf("%w: portaudio cannot encode %s", ErrDeviceUnavailable, mediaType)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, classifyOpenError(err.Error())
	}

	if cfg.EchoCancellation {
		slog.Debug("Echo cancellation is not available with the portaudio backend")
	}
	if cfg.NoiseSuppression {
		slog.Debug("Noise suppression is not available with the portaudio backend")
	}

	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	s := &portAudioStream{
		buffer:    make([]int16, FramesPerBuffer*channels),
		fragments: make(chan []byte, fragmentBacklog),
		done:      make(chan struct{}),
	}

	stream, err := openInputStream(cfg.Device, channels, float64(cfg.SampleRate), s.buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, classifyOpenError(err.Error())
	}

	s.fragments <- streamingWAVHeader(cfg.SampleRate, channels)
	go s.recordLoop()

	slog.Info("PortAudio capture started", "device", cfg.Device, "sample_rate", cfg.SampleRate)
	return s, nil
}

func openInputStream(deviceName string, channels int, sampleRate float64, buffer []int16) (*portaudio.Stream, error) {
	if deviceName == "" {
		stream, err := portaudio.OpenDefaultStream(channels, 0, sampleRate, FramesPerBuffer, buffer)
		if err != nil {
			return nil, classifyOpenError(err.Error())
		}
		return stream, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, classifyOpenError(err.Error())
	}
	for _, dev := range devices {
		if dev.Name != deviceName || dev.MaxInputChannels < channels {
			continue
		}
		params := portaudio.LowLatencyParameters(dev, nil)
		params.Input.Channels = channels
		params.SampleRate = sampleRate
		params.FramesPerBuffer = FramesPerBuffer
		stream, err := portaudio.OpenStream(params, buffer)
		if err != nil {
			return nil, classifyOpenError(err.Error())
		}
		return stream, nil
	}
	return nil, fmt.Errorf("%w: input device not found: %s", ErrDeviceUnavailable, deviceName)
}

// ListDevices returns the names of devices with input channels
func (b *PortAudioBackend) ListDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list portaudio devices: %w", err)
	}

	var names []string
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			names = append(names, dev.Name)
		}
	}
	return names, nil
}

type portAudioStream struct {
	stream    *portaudio.Stream
	buffer    []int16
	fragments chan []byte
	stopping  atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func (s *portAudioStream) Fragments() <-chan []byte {
	return s.fragments
}

func (s *portAudioStream) recordLoop() {
	defer close(s.done)
	defer close(s.fragments)

	for !s.stopping.Load() {
		if err := s.stream.Read(); err != nil {
			// Overflow drops samples but the capture continues
			if err == portaudio.InputOverflowed {
				continue
			}
			slog.Error("PortAudio read failed", "error", err)
			return
		}

		frag := make([]byte, len(s.buffer)*2)
		for i, sample := range s.buffer {
			binary.LittleEndian.PutUint16(frag[i*2:], uint16(sample))
		}
		s.fragments <- frag
	}
}

// Stop lets the read loop finish its current buffer and close the fragment channel
func (s *portAudioStream) Stop() error {
	s.stopping.Store(true)
	return nil
}

// Close stops the loop, closes the stream and terminates PortAudio
func (s *portAudioStream) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.stopping.Store(true)
		go func() {
			for range s.fragments {
			}
		}()
		<-s.done

		if err := s.stream.Stop(); err != nil {
			slog.Debug("PortAudio stream stop failed", "error", err)
		}
		closeErr = s.stream.Close()
		portaudio.Terminate()
		slog.Debug("PortAudio capture released")
	})
	return closeErr
}

package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/voxclone/internal/config"
)

const (
	fragmentSize    = 4096
	openTimeout     = 5 * time.Second
	stopTimeout     = 5 * time.Second
	fragmentBacklog = 256
)

// FFmpegBackend captures the platform default input through an ffmpeg subprocess
type FFmpegBackend struct {
	binary string

	// listEncoders returns the output of `ffmpeg -encoders`
	listEncoders func() (string, error)
	encodersOnce sync.Once
	hasOpus      bool
}

// NewFFmpegBackend creates a backend using ffmpeg from PATH
func NewFFmpegBackend() *FFmpegBackend {
	b := &FFmpegBackend{binary: "ffmpeg"}
	b.listEncoders = b.runEncoderListing
	return b
}

// GetType returns the backend type
func (b *FFmpegBackend) GetType() BackendType {
	return BackendTypeFFmpeg
}

// Supports reports whether ffmpeg can produce mediaType. Opus containers
// need an ffmpeg build with libopus; the encoder list is probed once.
func (b *FFmpegBackend) Supports(mediaType string) bool {
	switch mediaType {
	case config.FormatWebmOpus, config.FormatOggOpus:
		b.encodersOnce.Do(b.probeEncoders)
		return b.hasOpus
	default:
		return config.IsKnownFormat(mediaType)
	}
}

func (b *FFmpegBackend) probeEncoders() {
	listing, err := b.listEncoders()
	if err != nil {
		slog.Debug("Could not list ffmpeg encoders, assuming no opus support", "error", err)
		return
	}
	b.hasOpus = hasEncoder(listing, "libopus")
	if !b.hasOpus {
		slog.Info("ffmpeg was built without libopus, recording WAV")
	}
}

func (b *FFmpegBackend) runEncoderListing() (string, error) {
	out, err := exec.Command(b.binary, "-hide_banner", "-encoders").Output()
	if err != nil {
		return "", fmt.Errorf("failed to list ffmpeg encoders: %w", err)
	}
	return string(out), nil
}

// hasEncoder looks for name in the encoder column of `ffmpeg -encoders`,
// whose rows read " A....D libopus   libopus Opus".
func hasEncoder(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

// Open starts ffmpeg and blocks until the first fragment arrives, the process
// exits, or the open timeout elapses.
func (b *FFmpegBackend) Open(ctx context.Context, cfg CaptureConfig, mediaType string) (Stream, error) {
	if _, err := exec.LookPath(b.binary); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", ErrDeviceUnavailable)
	}

	if runtime.GOOS == "linux" {
		if err := checkLinuxSource(cfg.Device); err != nil {
			return nil, err
		}
	}

	args := buildCaptureArgs(runtime.GOOS, cfg, mediaType)
	slog.Debug("Starting ffmpeg capture", "command", b.binary+" "+strings.Join(args, " "))

	cmd := exec.Command(b.binary, args...)
	cmd.Env = os.Environ()
	if cfg.EchoCancellation && runtime.GOOS == "linux" {
		// PulseAudio/PipeWire route streams carrying this property through the echo-cancel filter
		cmd.Env = append(cmd.Env, "PULSE_PROP=filter.want=echo-cancel media.role=phone")
	} else if cfg.EchoCancellation {
		slog.Debug("Echo cancellation not available for this platform", "os", runtime.GOOS)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create stdout pipe: %v", ErrDeviceUnavailable, err)
	}
	s := &ffmpegStream{
		cmd:       cmd,
		fragments: make(chan []byte, fragmentBacklog),
		firstData: make(chan struct{}),
		readDone:  make(chan struct{}),
		exited:    make(chan struct{}),
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return nil, classifyOpenError(err.Error())
	}

	go s.readOutput(stdout)
	go s.wait()

	timer := time.NewTimer(openTimeout)
	defer timer.Stop()

	select {
	case <-s.firstData:
		slog.Info("ffmpeg capture started", "format", mediaType, "pid", cmd.Process.Pid)
		return s, nil
	case <-s.exited:
		// Data and exit can race; data wins.
		select {
		case <-s.firstData:
			return s, nil
		default:
		}
		return nil, classifyOpenError(s.stderr.String())
	case <-ctx.Done():
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, ctx.Err())
	case <-timer.C:
		s.Close()
		return nil, fmt.Errorf("%w: no audio received within %s", ErrDeviceUnavailable, openTimeout)
	}
}

// ListDevices returns available capture inputs for the current platform
func (b *FFmpegBackend) ListDevices() ([]string, error) {
	switch runtime.GOOS {
	case "linux":
		return listPulseSources()
	case "darwin":
		return b.parseListing("avfoundation", "AVFoundation audio devices:", "")
	case "windows":
		return b.parseListing("dshow", "", "(audio)")
	default:
		return nil, fmt.Errorf("device listing not supported on %s", runtime.GOOS)
	}
}

// parseListing runs ffmpeg's device listing, which always exits non-zero and
// prints to stderr.
func (b *FFmpegBackend) parseListing(format, sectionHeader, suffix string) ([]string, error) {
	cmd := exec.Command(b.binary, "-hide_banner", "-f", format, "-list_devices", "true", "-i", "")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()

	var devices []string
	inSection := sectionHeader == ""
	for _, line := range strings.Split(stderr.String(), "\n") {
		if sectionHeader != "" && strings.Contains(line, sectionHeader) {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		if suffix != "" && !strings.Contains(line, suffix) {
			continue
		}
		if idx := strings.Index(line, "] "); idx != -1 {
			name := strings.TrimSpace(line[idx+2:])
			name = strings.TrimSpace(strings.TrimSuffix(name, suffix))
			if name != "" && !strings.HasSuffix(name, "devices:") {
				devices = append(devices, name)
			}
		}
	}
	return devices, nil
}

// buildCaptureArgs constructs the ffmpeg command line for a mono capture
// written to stdout in the negotiated container
func buildCaptureArgs(goos string, cfg CaptureConfig, mediaType string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}

	switch goos {
	case "darwin":
		device := ":default"
		if cfg.Device != "" {
			device = ":" + cfg.Device
		}
		args = append(args, "-f", "avfoundation", "-i", device)
	case "windows":
		device := cfg.Device
		if device == "" {
			device = "default"
		}
		args = append(args, "-f", "dshow", "-i", "audio="+device)
	default:
		device := cfg.Device
		if device == "" {
			device = "default"
		}
		args = append(args, "-f", "pulse", "-i", device)
	}

	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	args = append(args,
		"-ac", fmt.Sprintf("%d", channels),
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
	)

	if cfg.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}

	switch mediaType {
	case config.FormatWebmOpus:
		args = append(args, "-c:a", "libopus", "-f", "webm")
	case config.FormatOggOpus:
		args = append(args, "-c:a", "libopus", "-f", "ogg")
	default:
		args = append(args, "-c:a", "pcm_s16le", "-f", "wav")
	}

	return append(args, "-flush_packets", "1", "pipe:1")
}

// ffmpegStream is one running ffmpeg capture process
type ffmpegStream struct {
	cmd       *exec.Cmd
	stderr    lockedBuffer
	fragments chan []byte

	firstData chan struct{}
	readDone  chan struct{}
	exited    chan struct{}
	waitErr   error

	stopOnce  sync.Once
	closeOnce sync.Once
}

func (s *ffmpegStream) Fragments() <-chan []byte {
	return s.fragments
}

// readOutput splits stdout into fragments until EOF
func (s *ffmpegStream) readOutput(pipe io.ReadCloser) {
	defer close(s.readDone)
	defer close(s.fragments)

	var signalled bool
	for {
		buf := make([]byte, fragmentSize)
		n, err := pipe.Read(buf)
		if n > 0 {
			if !signalled {
				close(s.firstData)
				signalled = true
			}
			s.fragments <- buf[:n]
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("ffmpeg stdout read ended", "error", err)
			}
			return
		}
	}
}

// wait reaps the process once stdout has been drained
func (s *ffmpegStream) wait() {
	<-s.readDone
	s.waitErr = s.cmd.Wait()
	close(s.exited)

	if s.waitErr != nil && !isInterruptExit(s.waitErr) {
		slog.Debug("ffmpeg exited with error", "error", s.waitErr, "stderr", s.stderr.String())
	} else {
		slog.Debug("ffmpeg exited")
	}
}

// Stop sends SIGINT so ffmpeg finalizes the container, force killing after a timeout
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.cmd.Process == nil {
			return
		}
		slog.Debug("Sending SIGINT to ffmpeg process")
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to send interrupt to ffmpeg, killing", "error", err)
			s.cmd.Process.Kill()
			return
		}
		go func() {
			select {
			case <-s.exited:
			case <-time.After(stopTimeout):
				slog.Warn("ffmpeg did not exit within timeout, force killing")
				s.cmd.Process.Kill()
			}
		}()
	})
	return nil
}

// Close kills the process if it is still running and waits for it to be reaped
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.exited:
		default:
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			// Drain anything left so the reader can reach EOF
			go func() {
				for range s.fragments {
				}
			}()
			<-s.exited
		}
		slog.Debug("ffmpeg capture released")
	})
	return nil
}

func isInterruptExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	// Exit code 255 often means the process was interrupted gracefully
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}

// lockedBuffer is a bytes.Buffer safe for the exec copier and readers
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Package session manages one microphone-backed capture lifecycle and exposes
// its result as an immutable artifact.
//
// A Session is reused across record/clear cycles. The device stream is held
// only between a successful Start and the matching Stop, and is released
// exactly once per capture.
package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/voxclone/internal/audio"
	"github.com/audiolibrelab/voxclone/internal/play"
)

// State is the capture state of a Session
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
	StateStopped   State = "STOPPED"
)

// Player starts transient playback of in-memory audio
type Player interface {
	Start(ctx context.Context, data []byte, mediaType string) (play.Handle, error)
}

// Options configures a Session
type Options struct {
	Device  audio.Device
	Player  Player
	Capture audio.CaptureConfig
	// Formats is the encoding preference list, most preferred first
	Formats []string
	Clock   clockwork.Clock
}

// Session is a reusable recording session
type Session struct {
	device  audio.Device
	player  Player
	capture audio.CaptureConfig
	formats []string
	clock   clockwork.Clock

	mu        sync.Mutex
	state     State
	starting  bool
	stopping  chan struct{} // non-nil while a Stop is in flight
	stream    audio.Stream  // device handle
	mediaType string
	gen       uint64 // capture generation, guards late fragments
	chunks    [][]byte
	sealed    bool
	collected chan struct{}
	artifact  *Artifact
	startedAt time.Time
	stoppedAt time.Time
}

// New creates an idle session
func New(opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		device:  opts.Device,
		player:  opts.Player,
		capture: opts.Capture,
		formats: append([]string(nil), opts.Formats...),
		clock:   clock,
		state:   StateIdle,
	}
}

// Start acquires the microphone and transitions to RECORDING. Acquisition
// failures wrap ErrPermissionDenied or ErrDeviceUnavailable and leave the
// session as it was.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRecording || s.starting {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	mediaType, err := audio.SelectFormat(s.device, s.formats)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}
	s.starting = true
	s.mu.Unlock()

	slog.Debug("Acquiring microphone", "format", mediaType, "sample_rate", s.capture.SampleRate)
	stream, err := s.device.Open(ctx, s.capture, mediaType)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false

	if err != nil {
		slog.Debug("Microphone acquisition failed", "error", err)
		return fmt.Errorf("failed to start capture: %w", err)
	}

	s.gen++
	s.stream = stream
	s.mediaType = mediaType
	s.chunks = nil
	s.sealed = false
	s.artifact = nil
	s.startedAt = s.clock.Now()
	s.stoppedAt = time.Time{}
	s.state = StateRecording
	s.collected = make(chan struct{})

	go s.collect(s.gen, stream, s.collected)

	slog.Info("Recording started", "format", mediaType)
	return nil
}

// collect drains the fragment queue of one capture
func (s *Session) collect(gen uint64, stream audio.Stream, done chan struct{}) {
	defer close(done)
	for frag := range stream.Fragments() {
		s.appendFragment(gen, frag)
	}
}

func (s *Session) appendFragment(gen uint64, frag []byte) {
	if len(frag) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.sealed || s.state != StateRecording {
		slog.Debug("Dropping late fragment", "bytes", len(frag))
		return
	}
	s.chunks = append(s.chunks, frag)
}

// Stop waits for the engine to flush its final fragment, merges the buffered
// fragments into the artifact, releases the device and transitions to
// STOPPED. It is a no-op when no capture is in progress.
//
// If ctx ends before the flush completes the device is still released and
// the artifact is built from what arrived so far; ctx.Err() is returned.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping != nil {
		wait := s.stopping
		s.mu.Unlock()
		<-wait
		return nil
	}
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil
	}
	stopping := make(chan struct{})
	s.stopping = stopping
	stream := s.stream
	collected := s.collected
	s.mu.Unlock()

	defer close(stopping)

	if err := stream.Stop(); err != nil {
		slog.Debug("Capture stop request failed", "error", err)
	}

	var waitErr error
	select {
	case <-collected:
	case <-ctx.Done():
		waitErr = ctx.Err()
		slog.Warn("Capture flush interrupted, sealing buffered fragments", "error", waitErr)
	}

	// No fragment may be appended after this merge
	s.mu.Lock()
	s.sealed = true
	artifact := newArtifact(bytes.Join(s.chunks, nil), s.mediaType)
	s.stream = nil
	s.mu.Unlock()

	if err := stream.Close(); err != nil {
		slog.Debug("Device release reported an error", "error", err)
	}

	s.mu.Lock()
	s.stoppedAt = s.clock.Now()
	s.state = StateStopped
	s.stopping = nil
	s.artifact = artifact
	s.mu.Unlock()

	slog.Info("Recording stopped", "bytes", artifact.Len(), "format", artifact.MediaType())
	return waitErr
}

// Play starts playback of the current artifact
func (s *Session) Play(ctx context.Context) (play.Handle, error) {
	s.mu.Lock()
	artifact := s.artifact
	s.mu.Unlock()

	if artifact == nil {
		return nil, ErrNoRecordingAvailable
	}
	if s.player == nil {
		return nil, fmt.Errorf("no player configured")
	}
	return s.player.Start(ctx, artifact.Bytes(), artifact.MediaType())
}

// Artifact returns the finalized capture, or nil
func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Elapsed returns the time since the capture started, frozen once it stopped.
// It is zero if no capture has started since the last Clear.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startedAt.IsZero() {
		return 0
	}
	if !s.stoppedAt.IsZero() {
		return s.stoppedAt.Sub(s.startedAt)
	}
	return s.clock.Since(s.startedAt)
}

// IsRecording reports whether a capture is live
func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRecording
}

// State returns the current capture state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Clear drops the buffered fragments, the artifact and the start time.
// Clearing a live capture is rejected with ErrRecordingInProgress.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRecording || s.starting {
		return ErrRecordingInProgress
	}

	s.chunks = nil
	s.artifact = nil
	s.startedAt = time.Time{}
	s.stoppedAt = time.Time{}
	s.state = StateIdle
	return nil
}

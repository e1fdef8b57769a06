// Package controller sequences user intent into recording session and
// remote service calls and keeps the view in sync with both.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/voxclone/internal/config"
	"github.com/audiolibrelab/voxclone/internal/play"
	"github.com/audiolibrelab/voxclone/internal/remote"
	"github.com/audiolibrelab/voxclone/internal/session"
)

// Phase is the user facing state of the controller
type Phase string

const (
	PhaseReadyToRecord Phase = "ready-to-record"
	PhaseRecording     Phase = "recording"
	PhaseReviewable    Phase = "reviewable"
	PhaseUploading     Phase = "uploading"
	PhaseUploadFailed  Phase = "upload-failed"
)

// Severity tags a toast notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

const (
	DefaultPollInterval   = 3 * time.Second
	DefaultTickInterval   = 100 * time.Millisecond
	DefaultProgressTarget = 10
)

var (
	ErrTextEmpty           = errors.New("text is empty")
	ErrTextTooLong         = fmt.Errorf("text exceeds %d characters", config.MaxSynthesisChars)
	ErrSynthesisInProgress = errors.New("synthesis already in progress")
	ErrSynthesisNotReady   = errors.New("voice model is not ready")
	ErrUploadInProgress    = errors.New("upload in progress")
	ErrClosed              = errors.New("controller closed")
)

// View renders controller notifications. Calls may arrive from background
// goroutines and are never made while the controller holds its lock.
type View interface {
	PhaseChanged(phase Phase)
	// ElapsedChanged receives the recording time formatted as MM:SS
	ElapsedChanged(elapsed string)
	// StatusChanged receives every refreshed snapshot and the sample progress in [0,1]
	StatusChanged(snap remote.Snapshot, progress float64)
	SynthesisAllowed(allowed bool)
	SynthesisBusy(busy bool)
	Toast(severity Severity, message string)
	SynthesisReady(artifact *session.Artifact)
}

// RemoteService is the voice cloning backend
type RemoteService interface {
	Upload(ctx context.Context, artifact *session.Artifact) (remote.UploadResult, error)
	Status(ctx context.Context) (remote.Snapshot, error)
	Synthesize(ctx context.Context, text string) (*session.Artifact, error)
}

type Options struct {
	Session *session.Session
	Remote  RemoteService
	View    View
	// Player plays synthesized speech when AutoPlay is set
	Player         session.Player
	Clock          clockwork.Clock
	PollInterval   time.Duration
	TickInterval   time.Duration
	ProgressTarget int
	AutoPlay       bool
}

// Controller drives one recording session against a remote service
type Controller struct {
	session *session.Session
	remote  RemoteService
	view    View
	player  session.Player
	clock   clockwork.Clock

	pollInterval   time.Duration
	tickInterval   time.Duration
	progressTarget int
	autoPlay       bool

	mu           sync.Mutex
	phase        Phase
	beginning    bool
	snapshot     *remote.Snapshot
	refreshSeq   uint64
	appliedSeq   uint64
	synthBusy    bool
	tick         *periodic
	poller       *periodic
	reviewHandle play.Handle
	speechHandle play.Handle
	closed       bool
}

func New(opts Options) *Controller {
	c := &Controller{
		session:        opts.Session,
		remote:         opts.Remote,
		view:           opts.View,
		player:         opts.Player,
		clock:          opts.Clock,
		pollInterval:   opts.PollInterval,
		tickInterval:   opts.TickInterval,
		progressTarget: opts.ProgressTarget,
		autoPlay:       opts.AutoPlay,
		phase:          PhaseReadyToRecord,
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.tickInterval <= 0 {
		c.tickInterval = DefaultTickInterval
	}
	if c.progressTarget <= 0 {
		c.progressTarget = DefaultProgressTarget
	}
	return c
}

// Start publishes the initial state and starts the status poller. The first
// poll runs immediately.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.poller != nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.poller = startPeriodic(c.clock, c.pollInterval, true, func(ctx context.Context) {
		c.RefreshStatus(ctx)
	})
	c.mu.Unlock()

	c.view.PhaseChanged(PhaseReadyToRecord)
	c.view.ElapsedChanged(FormatElapsed(0))
	c.view.SynthesisAllowed(false)
}

// Close stops the poller and the elapsed tick, stops a live capture so the
// microphone is released, and ends any playback.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	poller, tick := c.poller, c.tick
	c.poller, c.tick = nil, nil
	handles := []play.Handle{c.reviewHandle, c.speechHandle}
	c.reviewHandle, c.speechHandle = nil, nil
	c.mu.Unlock()

	poller.stop()
	tick.stop()

	var result *multierror.Error
	if c.session.IsRecording() {
		if err := c.session.Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop capture: %w", err))
		}
	}
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.Release(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	slog.Debug("Controller closed")
	return result.ErrorOrNil()
}

// Phase returns the current phase
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Snapshot returns the latest polled status, if any
func (c *Controller) Snapshot() (remote.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return remote.Snapshot{}, false
	}
	return *c.snapshot, true
}

// SynthesisAllowed applies the synthesis gate to the latest snapshot
func (c *Controller) SynthesisAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot != nil && CanSynthesize(*c.snapshot)
}

// CanSynthesize reports whether a snapshot permits synthesis: the model is
// ready and at least one sample exists.
func CanSynthesize(snap remote.Snapshot) bool {
	return snap.State == remote.StateReady && snap.SampleCount > 0
}

func (c *Controller) setPhase(phase Phase) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
	c.view.PhaseChanged(phase)
}

// BeginCapture starts a new capture
func (c *Controller) BeginCapture(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.phase == PhaseRecording || c.beginning:
		c.mu.Unlock()
		c.view.Toast(SeverityWarning, "Already recording")
		return session.ErrAlreadyRecording
	case c.phase == PhaseUploading:
		c.mu.Unlock()
		c.view.Toast(SeverityWarning, "Wait for the upload to finish")
		return ErrUploadInProgress
	}
	c.beginning = true
	c.mu.Unlock()

	err := c.session.Start(ctx)

	c.mu.Lock()
	c.beginning = false
	if err != nil {
		c.mu.Unlock()
		slog.Warn("Failed to start recording", "error", err)
		c.view.Toast(SeverityError, err.Error())
		return err
	}
	if c.closed {
		// Close ran while the device was being acquired
		c.mu.Unlock()
		if err := c.session.Stop(ctx); err != nil {
			slog.Warn("Failed to release capture after close", "error", err)
		}
		return ErrClosed
	}
	c.phase = PhaseRecording
	c.tick = startPeriodic(c.clock, c.tickInterval, false, func(context.Context) {
		c.view.ElapsedChanged(FormatElapsed(c.session.Elapsed()))
	})
	c.mu.Unlock()

	c.view.PhaseChanged(PhaseRecording)
	c.view.ElapsedChanged(FormatElapsed(0))
	return nil
}

// EndCapture stops the live capture. The controller becomes reviewable once
// the session has stopped, even when the stop reported an error.
func (c *Controller) EndCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseRecording {
		c.mu.Unlock()
		return nil
	}
	tick := c.tick
	c.tick = nil
	c.mu.Unlock()

	err := c.session.Stop(ctx)
	tick.stop()

	if err != nil {
		slog.Warn("Recording stopped before the final fragment arrived", "error", err)
	}

	c.view.ElapsedChanged(FormatElapsed(c.session.Elapsed()))
	c.setPhase(PhaseReviewable)

	if a := c.session.Artifact(); a != nil && a.Empty() {
		c.view.Toast(SeverityWarning, "The recording is empty")
	}
	return err
}

// Review plays back the current capture, replacing any playback in progress
func (c *Controller) Review(ctx context.Context) error {
	handle, err := c.session.Play(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoRecordingAvailable) {
			c.view.Toast(SeverityWarning, "No recording available")
		} else {
			c.view.Toast(SeverityError, err.Error())
		}
		return err
	}

	c.mu.Lock()
	previous := c.reviewHandle
	c.reviewHandle = handle
	c.mu.Unlock()

	if previous != nil {
		previous.Release()
	}
	return nil
}

// Commit uploads the current capture. On success the session is cleared and
// the status refreshed; on failure the capture is kept for a retry.
func (c *Controller) Commit(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == PhaseUploading {
		c.mu.Unlock()
		return ErrUploadInProgress
	}
	artifact := c.session.Artifact()
	if artifact == nil {
		c.mu.Unlock()
		c.view.Toast(SeverityWarning, "No recording available")
		return session.ErrNoRecordingAvailable
	}
	c.phase = PhaseUploading
	c.mu.Unlock()
	c.view.PhaseChanged(PhaseUploading)

	slog.Info("Uploading sample", "bytes", artifact.Len(), "format", artifact.MediaType())
	result, err := c.remote.Upload(ctx, artifact)
	if err != nil {
		slog.Error("Upload failed", "error", err)
		c.setPhase(PhaseUploadFailed)
		c.view.Toast(SeverityError, err.Error())
		return err
	}

	if err := c.session.Clear(); err != nil {
		slog.Warn("Failed to clear uploaded recording", "error", err)
	}
	c.setPhase(PhaseReadyToRecord)
	c.view.ElapsedChanged(FormatElapsed(0))
	c.view.Toast(SeveritySuccess, fmt.Sprintf("Sample uploaded (%d total)", result.SampleCount))

	c.RefreshStatus(ctx)
	return nil
}

// RefreshStatus polls the remote status and re-derives the synthesis gate.
// Failures are logged and leave the previous snapshot in place.
func (c *Controller) RefreshStatus(ctx context.Context) error {
	c.mu.Lock()
	c.refreshSeq++
	seq := c.refreshSeq
	c.mu.Unlock()

	snap, err := c.remote.Status(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Status refresh failed", "error", err)
		}
		return err
	}

	c.mu.Lock()
	if seq < c.appliedSeq {
		// A newer poll already landed
		c.mu.Unlock()
		return nil
	}
	c.appliedSeq = seq
	c.snapshot = &snap
	c.mu.Unlock()

	c.view.StatusChanged(snap, Progress(snap.SampleCount, c.progressTarget))
	c.view.SynthesisAllowed(CanSynthesize(snap))
	return nil
}

// Progress maps a sample count to [0,1], full at target
func Progress(count, target int) float64 {
	if target <= 0 || count <= 0 {
		return 0
	}
	if count >= target {
		return 1
	}
	return float64(count) / float64(target)
}

// RequestSynthesis renders text in the cloned voice. Text is trimmed and
// validated locally before any request is made.
func (c *Controller) RequestSynthesis(ctx context.Context, text string) (*session.Artifact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.view.Toast(SeverityWarning, "Enter some text to synthesize")
		return nil, ErrTextEmpty
	}
	if utf8.RuneCountInString(text) > config.MaxSynthesisChars {
		c.view.Toast(SeverityWarning, fmt.Sprintf("Text must be at most %d characters", config.MaxSynthesisChars))
		return nil, ErrTextTooLong
	}

	c.mu.Lock()
	if c.synthBusy {
		c.mu.Unlock()
		return nil, ErrSynthesisInProgress
	}
	if c.snapshot == nil || !CanSynthesize(*c.snapshot) {
		c.mu.Unlock()
		c.view.Toast(SeverityWarning, "Record and upload samples until the voice is ready")
		return nil, ErrSynthesisNotReady
	}
	c.synthBusy = true
	c.mu.Unlock()

	c.view.SynthesisBusy(true)
	artifact, err := c.remote.Synthesize(ctx, text)

	c.mu.Lock()
	c.synthBusy = false
	c.mu.Unlock()
	c.view.SynthesisBusy(false)

	if err != nil {
		slog.Error("Synthesis failed", "error", err)
		c.view.Toast(SeverityError, err.Error())
		return nil, err
	}

	c.view.SynthesisReady(artifact)
	c.view.Toast(SeveritySuccess, "Speech generated")

	if c.autoPlay && c.player != nil {
		c.playSpeech(ctx, artifact)
	}
	return artifact, nil
}

func (c *Controller) playSpeech(ctx context.Context, artifact *session.Artifact) {
	handle, err := c.player.Start(ctx, artifact.Bytes(), artifact.MediaType())
	if err != nil {
		slog.Warn("Auto-play failed", "error", err)
		c.view.Toast(SeverityWarning, err.Error())
		return
	}

	c.mu.Lock()
	previous := c.speechHandle
	c.speechHandle = handle
	c.mu.Unlock()

	if previous != nil {
		previous.Release()
	}
}

// FormatElapsed renders a duration as MM:SS
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Package display renders controller notifications in a terminal.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/audiolibrelab/voxclone/internal/controller"
	"github.com/audiolibrelab/voxclone/internal/remote"
	"github.com/audiolibrelab/voxclone/internal/session"
)

const progressWidth = 20

var (
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.Faint)
)

// Terminal is a controller.View writing to a terminal
type Terminal struct {
	out      io.Writer
	notifier *Notifier

	mu        sync.Mutex
	inline    bool // an elapsed line is waiting for its newline
	recording bool
	lastSnap  *remote.Snapshot
	allowed   *bool
	speech    *session.Artifact
}

var _ controller.View = (*Terminal)(nil)

// NewTerminal creates a view. notifier may be nil.
func NewTerminal(out io.Writer, notifier *Notifier) *Terminal {
	return &Terminal{out: out, notifier: notifier}
}

// println ends a pending inline line first. Callers hold t.mu.
func (t *Terminal) println(line string) {
	if t.inline {
		fmt.Fprintln(t.out)
		t.inline = false
	}
	fmt.Fprintln(t.out, line)
}

func (t *Terminal) PhaseChanged(phase controller.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recording = phase == controller.PhaseRecording

	var line string
	switch phase {
	case controller.PhaseReadyToRecord:
		line = infoColor.Sprint("Ready to record")
	case controller.PhaseRecording:
		line = errorColor.Sprint("● Recording")
	case controller.PhaseReviewable:
		line = infoColor.Sprint("Recording stopped: review or commit it")
	case controller.PhaseUploading:
		line = dimColor.Sprint("Uploading sample...")
	case controller.PhaseUploadFailed:
		line = warningColor.Sprint("Upload failed: commit again to retry")
	default:
		line = string(phase)
	}
	t.println(line)
}

// ElapsedChanged rewrites the elapsed line in place while recording
func (t *Terminal) ElapsedChanged(elapsed string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.recording {
		return
	}
	fmt.Fprintf(t.out, "\r  %s", elapsed)
	t.inline = true
}

// StatusChanged prints the status line when the snapshot differs from the
// last one shown
func (t *Terminal) StatusChanged(snap remote.Snapshot, progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastSnap != nil && t.lastSnap.State == snap.State && t.lastSnap.SampleCount == snap.SampleCount {
		return
	}
	t.lastSnap = &snap

	// Do not break the elapsed line of a live capture
	if t.recording {
		return
	}

	line := fmt.Sprintf("%s %s %d sample(s)", Badge(snap.State), ProgressBar(progress, progressWidth), snap.SampleCount)
	if snap.LastTrainedAt != nil {
		line += dimColor.Sprintf(" (trained %s)", snap.LastTrainedAt.Local().Format("2006-01-02 15:04"))
	}
	t.println(line)
}

func (t *Terminal) SynthesisAllowed(allowed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowed != nil && *t.allowed == allowed {
		return
	}
	first := t.allowed == nil
	t.allowed = &allowed

	if allowed {
		t.println(successColor.Sprint("Voice ready: synthesis available"))
	} else if !first {
		t.println(dimColor.Sprint("Synthesis unavailable"))
	}
}

func (t *Terminal) SynthesisBusy(busy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if busy {
		t.println(dimColor.Sprint("Generating speech..."))
	}
}

func (t *Terminal) Toast(severity controller.Severity, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch severity {
	case controller.SeveritySuccess:
		t.println(successColor.Sprint("✓ ") + message)
	case controller.SeverityWarning:
		t.println(warningColor.Sprint("! ") + message)
		t.notifier.notify("Warning", message)
	case controller.SeverityError:
		t.println(errorColor.Sprint("✗ ") + message)
		t.notifier.notify("Error", message)
	default:
		t.println(infoColor.Sprint("i ") + message)
	}
}

func (t *Terminal) SynthesisReady(artifact *session.Artifact) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.speech = artifact
	t.println(fmt.Sprintf("Speech ready (%s, %s)", formatBytes(int64(artifact.Len())), artifact.MediaType()))
}

// LastSpeech returns the most recent synthesis result, or nil
func (t *Terminal) LastSpeech() *session.Artifact {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speech
}

// Badge renders a readiness state
func Badge(state remote.ReadinessState) string {
	label := "[" + strings.ToUpper(string(state)) + "]"
	switch state {
	case remote.StateReady:
		return successColor.Sprint(label)
	case remote.StateTraining:
		return warningColor.Sprint(label)
	case remote.StateError:
		return errorColor.Sprint(label)
	default:
		return dimColor.Sprint(label)
	}
}

// ProgressBar renders progress in [0,1] as a fixed width bar
func ProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress*float64(width) + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Package training builds the reference voice profile from uploaded samples.
//
// Samples are normalized to mono WAV on upload. Training concatenates them
// in upload order and keeps the most recent seconds as the reference audio
// handed to the TTS engine.
package training

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/voxclone/internal/config"
)

const referenceName = "reference.wav"

var ErrNoSamples = errors.New("no audio files found to concatenate")

// Trainer stores samples and runs training
type Trainer struct {
	cfg    *config.Config
	ffmpeg string
	clock  clockwork.Clock

	// train is Train unless replaced in tests
	train func(ctx context.Context) error

	trainMu sync.Mutex // one training run at a time

	mu      sync.Mutex
	running bool
	pending bool
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(cfg *config.Config) *Trainer {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Trainer{
		cfg:    cfg,
		ffmpeg: "ffmpeg",
		clock:  clockwork.NewRealClock(),
		ctx:    ctx,
		cancel: cancel,
	}
	t.train = t.Train
	return t
}

// ReferencePath is where the reference audio is written
func (t *Trainer) ReferencePath() string {
	return filepath.Join(t.cfg.Server.ModelDir(), referenceName)
}

// HasReference reports whether training has produced reference audio
func (t *Trainer) HasReference() bool {
	_, err := os.Stat(t.ReferencePath())
	return err == nil
}

// StoreSample converts an uploaded sample to mono WAV in the audio directory
// and returns its path
func (t *Trainer) StoreSample(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty audio upload")
	}

	audioDir := t.cfg.Server.AudioDir()
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create audio directory: %w", err)
	}

	format := InputFormat(contentType)
	tmp, err := os.CreateTemp("", "voxclone-upload-*."+format)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	name := fmt.Sprintf("%s_%s.wav", t.clock.Now().Format("20060102_150405"), uuid.NewString()[:8])
	output := filepath.Join(audioDir, name)

	err = runFFmpeg(ctx, t.ffmpeg,
		"-f", demuxer(format),
		"-i", tmp.Name(),
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", t.cfg.Audio.SampleRate),
		"-c:a", "pcm_s16le",
		output,
	)
	if err != nil {
		os.Remove(output)
		return "", fmt.Errorf("failed to convert %s upload: %w", format, err)
	}

	slog.Info("Audio converted and saved", "file", output, "bytes", len(data), "format", format)
	return output, nil
}

// Samples lists stored WAV samples, oldest first
func (t *Trainer) Samples() ([]string, error) {
	entries, err := os.ReadDir(t.cfg.Server.AudioDir())
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audio directory: %w", err)
	}

	type sample struct {
		path    string
		modTime time.Time
	}
	var samples []sample
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		samples = append(samples, sample{filepath.Join(t.cfg.Server.AudioDir(), e.Name()), info.ModTime()})
	}

	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].modTime.Equal(samples[j].modTime) {
			return samples[i].path < samples[j].path
		}
		return samples[i].modTime.Before(samples[j].modTime)
	})

	paths := make([]string, len(samples))
	for i, s := range samples {
		paths[i] = s.path
	}
	return paths, nil
}

// SampleCount returns the number of stored samples
func (t *Trainer) SampleCount() int {
	paths, err := t.Samples()
	if err != nil {
		slog.Warn("Failed to count samples", "error", err)
		return 0
	}
	return len(paths)
}

// Status returns the persisted status, or idle with the current sample
// count when training never ran
func (t *Trainer) Status() (*Status, error) {
	st, err := readStatus(t.cfg.Server.StatusFile())
	if err != nil {
		if isNotExist(err) {
			return &Status{Status: StateIdle, AudioCount: t.SampleCount()}, nil
		}
		return nil, err
	}
	return st, nil
}

func (t *Trainer) updateStatus(state State) error {
	st := &Status{
		Status:     state,
		AudioCount: t.SampleCount(),
	}

	if prev, err := readStatus(t.cfg.Server.StatusFile()); err == nil {
		st.LastTrained = prev.LastTrained
	}
	if state == StateReady {
		now := t.clock.Now()
		st.LastTrained = &now
	}
	if t.HasReference() {
		p := t.ReferencePath()
		st.ModelPath = &p
	}

	if err := writeStatus(t.cfg.Server.StatusFile(), st); err != nil {
		return err
	}
	slog.Info("Status updated", "status", st.Status, "audio_count", st.AudioCount)
	return nil
}

// Train rebuilds the reference audio from all samples
func (t *Trainer) Train(ctx context.Context) error {
	t.trainMu.Lock()
	defer t.trainMu.Unlock()

	slog.Info("Starting training")
	if err := t.updateStatus(StateTraining); err != nil {
		return err
	}

	if err := t.buildReference(ctx); err != nil {
		if statusErr := t.updateStatus(StateError); statusErr != nil {
			err = multierror.Append(err, statusErr)
		}
		return fmt.Errorf("training failed: %w", err)
	}

	if err := t.updateStatus(StateReady); err != nil {
		return err
	}
	slog.Info("Training completed successfully")
	return nil
}

func (t *Trainer) buildReference(ctx context.Context) error {
	paths, err := t.Samples()
	if err != nil {
		return err
	}

	// Unreadable samples are skipped, not fatal
	var skipped *multierror.Error
	var usable []string
	for _, p := range paths {
		if err := checkWAV(p); err != nil {
			skipped = multierror.Append(skipped, fmt.Errorf("%s: %w", filepath.Base(p), err))
			continue
		}
		usable = append(usable, p)
	}
	if skipped != nil {
		slog.Warn("Skipping unreadable samples", "error", skipped.Error())
	}
	if len(usable) == 0 {
		return ErrNoSamples
	}

	slog.Info("Concatenating samples", "count", len(usable))

	modelDir := t.cfg.Server.ModelDir()
	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	listFile := filepath.Join(modelDir, "concat.txt")
	if err := os.WriteFile(listFile, []byte(concatList(usable)), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listFile)

	combined := filepath.Join(modelDir, "combined.wav")
	defer os.Remove(combined)

	err = runFFmpeg(ctx, t.ffmpeg,
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", t.cfg.Audio.SampleRate),
		"-c:a", "pcm_s16le",
		combined,
	)
	if err != nil {
		return fmt.Errorf("failed to concatenate samples: %w", err)
	}

	// Keep the last seconds only; shorter audio is used whole
	partial := filepath.Join(modelDir, "reference.partial.wav")
	err = runFFmpeg(ctx, t.ffmpeg,
		"-sseof", fmt.Sprintf("-%d", t.cfg.Server.ReferenceSeconds),
		"-i", combined,
		"-c:a", "pcm_s16le",
		"-f", "wav",
		partial,
	)
	if err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to trim reference audio: %w", err)
	}

	if err := os.Rename(partial, t.ReferencePath()); err != nil {
		return fmt.Errorf("failed to save reference audio: %w", err)
	}

	slog.Info("Reference audio saved", "file", t.ReferencePath())
	return nil
}

// checkWAV verifies the RIFF/WAVE header
func checkWAV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("not a WAV file: %w", err)
	}
	if !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("WAVE")) {
		return fmt.Errorf("not a WAV file")
	}
	return nil
}

// Schedule runs training in the background after delay. A request arriving
// while training runs queues exactly one more run.
func (t *Trainer) Schedule(delay time.Duration) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		select {
		case <-t.clock.After(delay):
		case <-t.ctx.Done():
			return
		}
		t.runCoalesced()
	}()
}

func (t *Trainer) runCoalesced() {
	t.mu.Lock()
	if t.running {
		t.pending = true
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	for {
		if err := t.train(t.ctx); err != nil {
			slog.Error("Training failed", "error", err)
		}

		t.mu.Lock()
		if !t.pending || t.ctx.Err() != nil {
			t.running = false
			t.pending = false
			t.mu.Unlock()
			return
		}
		t.pending = false
		t.mu.Unlock()
	}
}

// Close cancels scheduled and running training and waits for it to stop
func (t *Trainer) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	return nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/voxclone/internal/audio"
	"github.com/audiolibrelab/voxclone/internal/config"
	"github.com/audiolibrelab/voxclone/internal/play"
)

type fakeStream struct {
	frags chan []byte
	// flush is emitted when Stop is requested
	flush [][]byte
	// hold keeps the stream open after Stop until Close
	hold bool

	stopCalls  atomic.Int32
	closeCalls atomic.Int32
	stopOnce   sync.Once
	closeOnce  sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{frags: make(chan []byte, 16)}
}

func (f *fakeStream) Fragments() <-chan []byte {
	return f.frags
}

func (f *fakeStream) Stop() error {
	f.stopCalls.Add(1)
	if f.hold {
		return nil
	}
	f.stopOnce.Do(func() {
		go func() {
			for _, b := range f.flush {
				f.frags <- b
			}
			f.closeOnce.Do(func() { close(f.frags) })
		}()
	})
	return nil
}

func (f *fakeStream) Close() error {
	f.closeCalls.Add(1)
	if f.hold {
		f.closeOnce.Do(func() { close(f.frags) })
	}
	return nil
}

type fakeDevice struct {
	supported map[string]bool
	openErr   error
	next      *fakeStream

	mu      sync.Mutex
	opened  []*fakeStream
	formats []string
}

func (d *fakeDevice) Supports(mediaType string) bool {
	return d.supported[mediaType]
}

func (d *fakeDevice) Open(ctx context.Context, cfg audio.CaptureConfig, mediaType string) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.formats = append(d.formats, mediaType)
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := d.next
	if s == nil {
		s = newFakeStream()
	}
	d.next = nil
	d.opened = append(d.opened, s)
	return s, nil
}

func (d *fakeDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.formats)
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened[len(d.opened)-1]
}

type fakePlayer struct {
	data      []byte
	mediaType string
}

func (p *fakePlayer) Start(ctx context.Context, data []byte, mediaType string) (play.Handle, error) {
	p.data = data
	p.mediaType = mediaType
	return nil, nil
}

func newTestSession(dev *fakeDevice, clock clockwork.Clock) *Session {
	return New(Options{
		Device:  dev,
		Player:  &fakePlayer{},
		Capture: audio.CaptureConfig{SampleRate: 16000, Channels: 1},
		Formats: []string{config.FormatWebmOpus, config.FormatWAV},
		Clock:   clock,
	})
}

func webmDevice() *fakeDevice {
	return &fakeDevice{supported: map[string]bool{config.FormatWebmOpus: true, config.FormatWAV: true}}
}

// waitForChunks blocks until the collector has buffered n fragments
func waitForChunks(t *testing.T, s *Session, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.chunks)
		s.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d buffered fragments", n)
}

func TestStartStopProducesConcatenatedArtifact(t *testing.T) {
	dev := webmDevice()
	stream := newFakeStream()
	stream.flush = [][]byte{[]byte("ef")}
	dev.next = stream
	s := newTestSession(dev, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRecording() {
		t.Fatal("Expected session to be recording")
	}

	stream.frags <- []byte("ab")
	stream.frags <- []byte("cd")

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	artifact := s.Artifact()
	if artifact == nil {
		t.Fatal("Expected an artifact after stop")
	}
	if string(artifact.Bytes()) != "abcdef" {
		t.Errorf("Expected artifact 'abcdef', got %q", artifact.Bytes())
	}
	if artifact.MediaType() != config.FormatWebmOpus {
		t.Errorf("Expected media type %s, got %s", config.FormatWebmOpus, artifact.MediaType())
	}
	if s.State() != StateStopped {
		t.Errorf("Expected state %s, got %s", StateStopped, s.State())
	}
	if got := stream.closeCalls.Load(); got != 1 {
		t.Errorf("Expected device released once, got %d", got)
	}
}

func TestFormatFallsBackToSupportedType(t *testing.T) {
	dev := &fakeDevice{supported: map[string]bool{config.FormatWAV: true}}
	s := newTestSession(dev, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := s.Artifact().MediaType(); got != config.FormatWAV {
		t.Errorf("Expected media type %s, got %s", config.FormatWAV, got)
	}
}

func TestLateFragmentIsDropped(t *testing.T) {
	dev := webmDevice()
	s := newTestSession(dev, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev.last().frags <- []byte("abc")
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	s.appendFragment(s.gen, []byte("late"))

	if got := string(s.Artifact().Bytes()); got != "abc" {
		t.Errorf("Expected artifact 'abc', got %q", got)
	}
	s.mu.Lock()
	chunks := len(s.chunks)
	s.mu.Unlock()
	if chunks != 1 {
		t.Errorf("Expected 1 buffered fragment, got %d", chunks)
	}
}

func TestEmptyCaptureYieldsEmptyArtifact(t *testing.T) {
	s := newTestSession(webmDevice(), nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	artifact := s.Artifact()
	if artifact == nil {
		t.Fatal("Expected an empty artifact, got nil")
	}
	if !artifact.Empty() {
		t.Errorf("Expected empty artifact, got %d bytes", artifact.Len())
	}
}

func TestStartWhileRecording(t *testing.T) {
	dev := webmDevice()
	s := newTestSession(dev, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := s.Start(context.Background())
	if !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}
	if dev.openCount() != 1 {
		t.Errorf("Expected 1 device acquisition, got %d", dev.openCount())
	}

	s.Stop(context.Background())
}

func TestStartAcquisitionFailures(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{"permission denied", fmt.Errorf("%w: access denied", audio.ErrPermissionDenied), ErrPermissionDenied},
		{"no device", fmt.Errorf("%w: no such device", audio.ErrDeviceUnavailable), ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := webmDevice()
			dev.openErr = tt.openErr
			s := newTestSession(dev, nil)

			err := s.Start(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if s.State() != StateIdle {
				t.Errorf("Expected state %s, got %s", StateIdle, s.State())
			}
			if s.Artifact() != nil {
				t.Error("Expected no artifact after failed start")
			}
		})
	}
}

func TestStartWithoutSupportedFormat(t *testing.T) {
	dev := &fakeDevice{supported: map[string]bool{}}
	s := newTestSession(dev, nil)

	err := s.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if dev.openCount() != 0 {
		t.Errorf("Expected no device acquisition, got %d", dev.openCount())
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	s := newTestSession(webmDevice(), nil)

	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected state %s, got %s", StateIdle, s.State())
	}
	if s.Artifact() != nil {
		t.Error("Expected no artifact")
	}
}

func TestConcurrentStopReleasesOnce(t *testing.T) {
	dev := webmDevice()
	s := newTestSession(dev, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop(context.Background())
		}()
	}
	wg.Wait()

	if got := dev.last().closeCalls.Load(); got != 1 {
		t.Errorf("Expected device released once, got %d", got)
	}
	if s.State() != StateStopped {
		t.Errorf("Expected state %s, got %s", StateStopped, s.State())
	}
}

func TestStopContextCanceledStillReleases(t *testing.T) {
	dev := webmDevice()
	stream := newFakeStream()
	stream.hold = true
	dev.next = stream
	s := newTestSession(dev, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream.frags <- []byte("partial")
	waitForChunks(t, s, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Stop(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if got := stream.closeCalls.Load(); got != 1 {
		t.Errorf("Expected device released once, got %d", got)
	}
	if got := string(s.Artifact().Bytes()); got != "partial" {
		t.Errorf("Expected artifact 'partial', got %q", got)
	}
}

func TestClearWhileRecording(t *testing.T) {
	s := newTestSession(webmDevice(), nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Clear(); !errors.Is(err, ErrRecordingInProgress) {
		t.Errorf("Expected ErrRecordingInProgress, got %v", err)
	}
	if !s.IsRecording() {
		t.Error("Expected capture to continue after rejected clear")
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if s.Artifact() != nil {
		t.Error("Expected no artifact after clear")
	}
	if s.Elapsed() != 0 {
		t.Errorf("Expected zero elapsed after clear, got %v", s.Elapsed())
	}
	if s.State() != StateIdle {
		t.Errorf("Expected state %s, got %s", StateIdle, s.State())
	}
}

func TestElapsedFollowsClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(webmDevice(), clock)

	if s.Elapsed() != 0 {
		t.Errorf("Expected zero elapsed before start, got %v", s.Elapsed())
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	clock.Advance(1500 * time.Millisecond)

	if got := s.Elapsed(); got != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s elapsed, got %v", got)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	clock.Advance(10 * time.Second)

	if got := s.Elapsed(); got != 1500*time.Millisecond {
		t.Errorf("Expected elapsed frozen at 1.5s, got %v", got)
	}
}

func TestNewCaptureReplacesArtifact(t *testing.T) {
	dev := webmDevice()
	s := newTestSession(dev, nil)

	s.Start(context.Background())
	dev.last().frags <- []byte("first")
	s.Stop(context.Background())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if s.Artifact() != nil {
		t.Error("Expected no artifact while recording")
	}
	dev.last().frags <- []byte("second")
	s.Stop(context.Background())

	if got := string(s.Artifact().Bytes()); got != "second" {
		t.Errorf("Expected artifact 'second', got %q", got)
	}
}

func TestPlay(t *testing.T) {
	player := &fakePlayer{}
	dev := webmDevice()
	s := New(Options{
		Device:  dev,
		Player:  player,
		Formats: []string{config.FormatWebmOpus},
	})

	if _, err := s.Play(context.Background()); !errors.Is(err, ErrNoRecordingAvailable) {
		t.Errorf("Expected ErrNoRecordingAvailable, got %v", err)
	}

	s.Start(context.Background())
	dev.last().frags <- []byte("voice")
	s.Stop(context.Background())

	if _, err := s.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if string(player.data) != "voice" {
		t.Errorf("Expected player to receive 'voice', got %q", player.data)
	}
	if player.mediaType != config.FormatWebmOpus {
		t.Errorf("Expected media type %s, got %s", config.FormatWebmOpus, player.mediaType)
	}
}

func TestNewArtifactCopiesData(t *testing.T) {
	data := []byte("abc")
	a := NewArtifact(data, config.FormatWAV)
	data[0] = 'x'

	if string(a.Bytes()) != "abc" {
		t.Errorf("Expected artifact to keep 'abc', got %q", a.Bytes())
	}
}

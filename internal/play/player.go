package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/audiolibrelab/voxclone/internal/audio"
)

// Handle is a transient playback. Its temporary file lives until playback
// ends or Release is called, whichever comes first.
type Handle interface {
	// Wait blocks until playback ends and returns the player's error.
	Wait() error
	// Release stops playback if it is still running and removes the temporary file.
	Release() error
}

type candidate struct {
	name string
	args func(path string) []string
	// wavOnly players cannot decode compressed containers
	wavOnly bool
}

// Preferred audio players, in order
var defaultCandidates = []candidate{
	{name: "ffplay", args: func(p string) []string { return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", p} }},
	{name: "mpv", args: func(p string) []string { return []string{"--no-video", "--really-quiet", p} }},
	{name: "vlc", args: func(p string) []string { return []string{"--intf", "dummy", "--play-and-exit", p} }},
	{name: "aplay", args: func(p string) []string { return []string{"-q", p} }, wavOnly: true},
}

// Player plays in-memory audio through an external player binary
type Player struct {
	candidates []candidate
	tempDir    string
}

func New() *Player {
	return &Player{candidates: defaultCandidates}
}

// Start writes data to a temporary file and starts playing it. The file is
// removed when playback ends.
func (p *Player) Start(ctx context.Context, data []byte, mediaType string) (Handle, error) {
	player, err := p.findAudioPlayer(mediaType)
	if err != nil {
		return nil, fmt.Errorf("no suitable audio player found: %w", err)
	}

	f, err := os.CreateTemp(p.tempDir, "voxclone-*."+audio.Extension(mediaType))
	if err != nil {
		return nil, fmt.Errorf("failed to create playback file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write playback file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write playback file: %w", err)
	}

	cmd := exec.CommandContext(ctx, player.name, player.args(f.Name())...)
	if err := cmd.Start(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("playback failed with %s: %w", player.name, err)
	}

	pb := &Playback{
		cmd:  cmd,
		path: f.Name(),
		done: make(chan struct{}),
	}
	go pb.wait()

	slog.Debug("Playback started", "player", player.name, "bytes", len(data), "format", mediaType)
	return pb, nil
}

func (p *Player) findAudioPlayer(mediaType string) (candidate, error) {
	var tried []string
	for _, c := range p.candidates {
		tried = append(tried, c.name)
		if c.wavOnly && audio.Extension(mediaType) != "wav" {
			continue
		}
		if _, err := exec.LookPath(c.name); err == nil {
			return c, nil
		}
	}
	return candidate{}, fmt.Errorf("no audio player found (tried: %s)", strings.Join(tried, ", "))
}

// Playback is one running player process and its temporary file
type Playback struct {
	cmd  *exec.Cmd
	path string

	done    chan struct{}
	waitErr error

	releaseOnce sync.Once
	releaseErr  error
}

func (pb *Playback) wait() {
	pb.waitErr = pb.cmd.Wait()
	close(pb.done)
	pb.Release()
}

// Wait blocks until playback ends
func (pb *Playback) Wait() error {
	<-pb.done
	return pb.waitErr
}

// Release kills a running player and removes the temporary file
func (pb *Playback) Release() error {
	pb.releaseOnce.Do(func() {
		select {
		case <-pb.done:
		default:
			if pb.cmd.Process != nil {
				pb.cmd.Process.Kill()
			}
			<-pb.done
		}
		if err := os.Remove(pb.path); err != nil && !os.IsNotExist(err) {
			pb.releaseErr = fmt.Errorf("failed to remove playback file: %w", err)
		}
		slog.Debug("Playback released", "path", pb.path)
	})
	return pb.releaseErr
}

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/audiolibrelab/voxclone/internal/audio"
	"github.com/audiolibrelab/voxclone/internal/controller"
	"github.com/audiolibrelab/voxclone/internal/display"
	"github.com/audiolibrelab/voxclone/internal/play"
	"github.com/audiolibrelab/voxclone/internal/remote"
	"github.com/audiolibrelab/voxclone/internal/session"

	"github.com/spf13/cobra"
)

const recordHelp = `Commands:
  <enter>      start or stop recording
  r, record    start recording
  s, stop      stop recording
  p, play      play back the last recording
  u, upload    upload the last recording
  say <text>   speak text in the cloned voice
  replay       play the last synthesized speech again
  status       refresh the training status
  h, help      show this help
  q, quit      exit`

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record voice samples interactively",
	Long: `Start an interactive session that records voice samples from the
microphone, lets you review them and uploads them to the backend at
client.base_url. Once the backend has trained on enough samples, 'say'
speaks text in the recorded voice.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := audio.NewBackend(&cfg.Audio)
		slog.Debug("Using capture backend", "backend", backend.GetType(), "device", cfg.Audio.Device)

		player := play.New()
		sess := session.New(session.Options{
			Device:  backend,
			Player:  player,
			Capture: audio.CaptureConfigFrom(&cfg.Audio),
			Formats: cfg.Audio.Formats,
		})

		view := display.NewTerminal(os.Stdout, display.NewNotifier(cfg.Client.Notifications))
		ctrl := controller.New(controller.Options{
			Session:        sess,
			Remote:         remote.NewFromConfig(&cfg.Client),
			View:           view,
			Player:         player,
			PollInterval:   cfg.Client.PollInterval,
			TickInterval:   cfg.Client.TickInterval,
			ProgressTarget: cfg.Client.ProgressTarget,
			AutoPlay:       cfg.Client.AutoPlay,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Recording voice samples for %s\n", cfg.Client.BaseURL)
		fmt.Println(recordHelp)
		ctrl.Start()

		replCtx, cancelRepl := context.WithCancel(ctx)
		r := &repl{ctx: replCtx, ctrl: ctrl, view: view, player: player}
		err := r.run(os.Stdin)
		cancelRepl()

		slog.Debug("Shutting down recording session")
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := ctrl.Close(closeCtx); cerr != nil {
			slog.Error("Failed to close recording session", "error", cerr)
		}
		r.wait()
		return err
	},
}

// repl maps input lines to controller intents
type repl struct {
	ctx    context.Context
	ctrl   *controller.Controller
	view   *display.Terminal
	player *play.Player

	wg     sync.WaitGroup
	mu     sync.Mutex
	replay play.Handle
}

func (r *repl) run(in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-r.ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one command and reports whether the session should end.
// Errors are already shown by the view, so they are only logged here.
func (r *repl) handle(line string) bool {
	command, arg, _ := strings.Cut(line, " ")
	var err error

	switch strings.ToLower(command) {
	case "":
		if r.ctrl.Phase() == controller.PhaseRecording {
			err = r.ctrl.EndCapture(r.ctx)
		} else {
			err = r.ctrl.BeginCapture(r.ctx)
		}
	case "r", "record":
		err = r.ctrl.BeginCapture(r.ctx)
	case "s", "stop":
		err = r.ctrl.EndCapture(r.ctx)
	case "p", "play":
		err = r.ctrl.Review(r.ctx)
	case "u", "upload":
		err = r.ctrl.Commit(r.ctx)
	case "say":
		// Synthesis can take a while; keep accepting commands meanwhile
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if _, err := r.ctrl.RequestSynthesis(r.ctx, arg); err != nil {
				slog.Debug("Synthesis request failed", "error", err)
			}
		}()
	case "replay":
		err = r.replaySpeech()
	case "status":
		err = r.ctrl.RefreshStatus(r.ctx)
	case "h", "help", "?":
		fmt.Println(recordHelp)
	case "q", "quit", "exit":
		return true
	default:
		fmt.Printf("Unknown command %q, type 'help' for a list\n", command)
	}

	if err != nil {
		slog.Debug("Command failed", "command", command, "error", err)
	}
	return false
}

func (r *repl) replaySpeech() error {
	speech := r.view.LastSpeech()
	if speech == nil {
		fmt.Println("Nothing synthesized yet")
		return nil
	}

	handle, err := r.player.Start(r.ctx, speech.Bytes(), speech.MediaType())
	if err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.replay
	r.replay = handle
	r.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
	return nil
}

// wait lets pending synthesis finish and releases replay playback
func (r *repl) wait() {
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replay != nil {
		r.replay.Release()
		r.replay = nil
	}
}

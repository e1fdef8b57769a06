package controller

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// periodic runs fn on a fixed interval until stopped
type periodic struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startPeriodic runs fn every interval. With immediate set fn also runs once
// right away.
func startPeriodic(clock clockwork.Clock, interval time.Duration, immediate bool, fn func(ctx context.Context)) *periodic {
	ctx, cancel := context.WithCancel(context.Background())
	p := &periodic{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ticker := clock.NewTicker(interval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()

		if immediate {
			fn(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()

	return p
}

// stop cancels the task and waits for a running fn to return. Safe on nil.
func (p *periodic) stop() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}

package entity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pollLoop periodically runs the poll cycle while observers are
// attached. It has two states, stopped and running; start and stop are
// idempotent and stop waits for any in-flight cycle to finish, so a
// stopped loop can never schedule another cycle.
type pollLoop struct {
	interval time.Duration
	refresh  func(ctx context.Context)
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newPollLoop(interval time.Duration, refresh func(ctx context.Context), logger *slog.Logger) *pollLoop {
	return &pollLoop{
		interval: interval,
		refresh:  refresh,
		logger:   logger,
	}
}

// start transitions stopped to running. An already-running loop is left
// alone.
func (p *pollLoop) start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// stop transitions running to stopped and waits for the in-flight cycle
// (if any) to complete before returning.
func (p *pollLoop) stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// running reports whether the loop is currently running.
func (p *pollLoop) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *pollLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Fill the snapshot immediately rather than waiting one interval.
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

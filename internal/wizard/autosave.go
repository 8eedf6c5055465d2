package wizard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultAutosaveInterval is how often an Autosaver writes progress.
const DefaultAutosaveInterval = 30 * time.Second

// Saver is anything with an idempotent full-state Save. *Engine implements it.
type Saver interface {
	Save(ctx context.Context) error
}

// Autosaver periodically saves a session in the background.
type Autosaver struct {
	saver    Saver
	interval time.Duration
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewAutosaver creates an Autosaver. A non-positive interval uses DefaultAutosaveInterval.
func NewAutosaver(saver Saver, interval time.Duration, logger *slog.Logger) *Autosaver {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Autosaver{
		saver:    saver,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the save loop. The loop ends when Stop is called or ctx is done.
func (a *Autosaver) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		go a.run(ctx)
	})
}

func (a *Autosaver) run(ctx context.Context) {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("autosave loop panicked", "panic", r)
		}
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.saver.Save(ctx); err != nil {
				a.logger.Warn("periodic autosave failed", "error", err)
			}
		}
	}
}

// Flush saves immediately, e.g. when the client is hidden or unloading.
func (a *Autosaver) Flush(ctx context.Context) error {
	return a.saver.Save(ctx)
}

// Stop ends the loop, waits for it and writes a final snapshot.
func (a *Autosaver) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stop) })
	// Never started: mark the loop done so a later Start is a no-op.
	a.startOnce.Do(func() { close(a.done) })
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.saver.Save(ctx)
}

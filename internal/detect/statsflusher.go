package detect

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/pillars.detect/internal/timeutil"
)

// StatsLogger is an interface for types that can log and reset their
// counters. Stats implements this interface.
type StatsLogger interface {
	LogStats()
}

// StatsFlusher periodically logs pipeline throughput and resets the
// counting window. It provides context-aware lifecycle management for
// long-running serve mode.
type StatsFlusher struct {
	stats    StatsLogger
	clock    timeutil.Clock
	interval time.Duration
	logger   *log.Logger
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// StatsFlusherConfig contains configuration for StatsFlusher.
type StatsFlusherConfig struct {
	// Stats is the counter set to flush (typically *Stats)
	Stats StatsLogger
	// Interval is how often to flush (e.g., 60*time.Second)
	Interval time.Duration
	// Clock is optional; if nil, uses timeutil.RealClock
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default()
	Logger *log.Logger
}

// NewStatsFlusher creates a new StatsFlusher.
func NewStatsFlusher(cfg StatsFlusherConfig) *StatsFlusher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &StatsFlusher{
		stats:    cfg.Stats,
		clock:    clock,
		interval: cfg.Interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run starts the periodic flushing loop. It blocks until the context is
// cancelled or Stop() is called. Returns nil on clean shutdown.
func (f *StatsFlusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil // already running
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	if f.interval <= 0 {
		f.logger.Printf("StatsFlusher: interval is zero or negative, not starting")
		return nil
	}

	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Printf("StatsFlusher started: interval=%v", f.interval)

	for {
		select {
		case <-ctx.Done():
			f.logger.Printf("StatsFlusher stopping due to context cancellation")
			f.flush()
			return nil
		case <-f.stopCh:
			f.logger.Printf("StatsFlusher stopping due to Stop() call")
			f.flush()
			return nil
		case <-ticker.C():
			f.flush()
		}
	}
}

// Stop requests the flusher to stop. It is safe to call multiple times.
func (f *StatsFlusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
		// already closed
	default:
		close(f.stopCh)
	}
	f.mu.Unlock()

	// Wait for completion
	<-f.doneCh
}

// IsRunning returns whether the flusher is currently running.
func (f *StatsFlusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// flush performs a single flush operation.
func (f *StatsFlusher) flush() {
	if f.stats == nil {
		return
	}
	f.stats.LogStats()
}

// FlushNow triggers an immediate flush outside the regular interval.
func (f *StatsFlusher) FlushNow() {
	f.flush()
}

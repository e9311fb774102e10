// Package maintenance runs the periodic housekeeping that stays off the
// planning hot path: the confidence-floor pattern sweep and database
// compaction.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/zero-day-ai/goap/internal/pattern"
)

const (
	// DefaultConfidenceFloor is the confidence below which a pattern is
	// eligible for pruning.
	DefaultConfidenceFloor = 0.1

	// DefaultRetention is how long a low-confidence pattern must sit
	// unused before the sweep removes it.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultSchedule runs the sweep daily at 03:00.
	DefaultSchedule = "0 3 * * *"
)

// cronParser parses standard 5-field cron expressions.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Compactor is the optional post-sweep compaction hook. database.DB
// satisfies this through Vacuum.
type Compactor interface {
	Vacuum(ctx context.Context) error
}

// Pruner periodically hard-deletes patterns whose confidence stayed below
// the floor for the retention window. Each sweep holds only a batch-scoped
// transaction and is cancellable through the context given to Start.
type Pruner struct {
	patterns  *pattern.Store
	compactor Compactor
	floor     float64
	retention time.Duration
	schedule  string
	logger    *slog.Logger

	mu     sync.Mutex
	cron   *cronlib.Cron
	cancel context.CancelFunc
}

// Option is a functional option for configuring Pruner.
type Option func(*Pruner)

// WithConfidenceFloor overrides the pruning confidence floor.
func WithConfidenceFloor(floor float64) Option {
	return func(p *Pruner) {
		p.floor = floor
	}
}

// WithRetention overrides the retention window.
func WithRetention(retention time.Duration) Option {
	return func(p *Pruner) {
		p.retention = retention
	}
}

// WithSchedule overrides the cron schedule for the sweep.
func WithSchedule(schedule string) Option {
	return func(p *Pruner) {
		p.schedule = schedule
	}
}

// WithCompactor vacuums the store after a sweep that removed patterns.
func WithCompactor(c Compactor) Option {
	return func(p *Pruner) {
		p.compactor = c
	}
}

// WithLogger configures the logger for the pruner.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pruner) {
		p.logger = l
	}
}

// New creates a pruner over the pattern store.
func New(patterns *pattern.Store, opts ...Option) *Pruner {
	p := &Pruner{
		patterns:  patterns,
		floor:     DefaultConfidenceFloor,
		retention: DefaultRetention,
		schedule:  DefaultSchedule,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sweep runs one pruning pass immediately and returns how many patterns
// were removed.
func (p *Pruner) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-p.retention)

	removed, err := p.patterns.Prune(ctx, p.floor, cutoff)
	if err != nil {
		return 0, err
	}

	if removed > 0 && p.compactor != nil {
		if err := p.compactor.Vacuum(ctx); err != nil {
			// The sweep itself succeeded; compaction can wait for the
			// next run.
			p.logger.Warn("post-sweep vacuum failed", "error", err)
		}
	}
	return removed, nil
}

// Start schedules periodic sweeps. The loop stops when ctx is cancelled
// or Stop is called.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return nil // already running
	}

	ctx, cancel := context.WithCancel(ctx)

	c := cronlib.New(cronlib.WithParser(cronParser))
	_, err := c.AddFunc(p.schedule, func() {
		if ctx.Err() != nil {
			return
		}
		removed, err := p.Sweep(ctx)
		if err != nil {
			p.logger.Error("pattern sweep failed", "error", err)
			return
		}
		p.logger.Debug("pattern sweep completed", "removed", removed)
	})
	if err != nil {
		cancel()
		return err
	}

	c.Start()
	p.cron = c
	p.cancel = cancel

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	p.logger.Info("pattern pruner started",
		"schedule", p.schedule,
		"floor", p.floor,
		"retention", p.retention)
	return nil
}

// Stop halts scheduled sweeps and waits for a running sweep's jobs to
// finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	c := p.cron
	cancel := p.cancel
	p.cron = nil
	p.cancel = nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	p.logger.Info("pattern pruner stopped")
}

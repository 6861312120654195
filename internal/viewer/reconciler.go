package viewer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/knolmark/internal/geometry"
)

// ReconcilerConfig tunes a Reconciler.
type ReconcilerConfig struct {
	// Debounce is how long Notify waits for further notifications.
	Debounce time.Duration
	// RetryDelay is the pause between attempts while no page is mounted.
	RetryDelay time.Duration
	// RetryLimit caps those attempts.
	RetryLimit int
}

// DefaultReconcilerConfig returns the settings used by the viewer.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Debounce:   150 * time.Millisecond,
		RetryDelay: 200 * time.Millisecond,
		RetryLimit: 10,
	}
}

// Reconciler coalesces change notifications into a single apply call. When
// the view has no mounted page yet it retries after a fixed delay, up to the
// configured limit.
type Reconciler struct {
	cfg    ReconcilerConfig
	pages  func() []geometry.PageBox
	apply  func([]geometry.PageBox)
	logger *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	attempts int
	stopped  bool
}

// NewReconciler returns an idle reconciler.
func NewReconciler(cfg ReconcilerConfig, pages func() []geometry.PageBox, apply func([]geometry.PageBox), logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{cfg: cfg, pages: pages, apply: apply, logger: logger}
}

// Notify schedules a reconciliation after the debounce delay, replacing any
// pending one.
func (r *Reconciler) Notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.attempts = 0
	r.scheduleLocked(r.cfg.Debounce)
}

func (r *Reconciler) scheduleLocked(d time.Duration) {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(d, r.run)
}

func (r *Reconciler) run() {
	pages := r.pages()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if len(pages) == 0 {
		if r.attempts < r.cfg.RetryLimit {
			r.attempts++
			r.scheduleLocked(r.cfg.RetryDelay)
		} else {
			r.logger.Warn("No mounted pages, giving up", "attempts", r.attempts)
		}
		r.mu.Unlock()
		return
	}
	r.attempts = 0
	r.mu.Unlock()

	r.apply(pages)
}

// Stop cancels any pending reconciliation. Later notifications are ignored.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}

package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/1broseidon/backdrop/internal/loop"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/policy"
	"github.com/1broseidon/backdrop/internal/screensaver"
	"github.com/1broseidon/backdrop/internal/session"
)

const (
	defaultDebounce     = 500 * time.Millisecond
	defaultHealInterval = 30 * time.Second
)

// RecordPurger drops expired persisted records.
type RecordPurger interface {
	PurgeExpired() (int, error)
}

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	Debounce     time.Duration
	HealInterval time.Duration
	// Retention is how long a disconnected display keeps its record before
	// the reconciler purges it.
	Retention time.Duration
	Logger    *slog.Logger
}

// Reconciler reacts to topology, power and occlusion signals and runs the
// periodic self-healing sweep. Signal handlers may be called from any
// goroutine; all work runs on the control loop after a debounce.
type Reconciler struct {
	loop        *loop.Loop
	clock       clockwork.Clock
	sessions    *session.Manager
	screensaver *screensaver.Machine
	displays    platform.DisplayLister
	records     RecordPurger
	logger      *slog.Logger

	interval  time.Duration
	retention time.Duration

	topology  *loop.Debouncer
	wake      *loop.Debouncer
	occlusion *loop.Debouncer
	policy    *loop.Debouncer

	detachedAt map[platform.Identity]time.Time
	limiters   map[platform.Identity]*rate.Limiter
}

// NewReconciler creates a reconciler. records may be nil.
func NewReconciler(cfg ReconcilerConfig, l *loop.Loop, sessions *session.Manager, saver *screensaver.Machine, displays platform.DisplayLister, records RecordPurger) *Reconciler {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	interval := cfg.HealInterval
	if interval <= 0 {
		interval = defaultHealInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		loop:        l,
		clock:       l.Clock(),
		sessions:    sessions,
		screensaver: saver,
		displays:    displays,
		records:     records,
		logger:      logger,
		interval:    interval,
		retention:   cfg.Retention,
		topology:    loop.NewDebouncer(l, debounce),
		wake:        loop.NewDebouncer(l, debounce),
		occlusion:   loop.NewDebouncer(l, debounce),
		policy:      loop.NewDebouncer(l, debounce),
		detachedAt:  make(map[platform.Identity]time.Time),
		limiters:    make(map[platform.Identity]*rate.Limiter),
	}
}

// Start performs the initial topology pass and restores every connected
// display. It must be called from the loop.
func (r *Reconciler) Start() {
	r.reconcileTopology()
	r.screensaver.Arm()
}

// Run starts the self-healing sweep. Blocks until context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.Chan():
			r.loop.Post(r.heal)
		}
	}
}

// TopologyChanged schedules a topology pass.
func (r *Reconciler) TopologyChanged() {
	r.loop.Post(func() { r.topology.Trigger(r.reconcileTopology) })
}

// Sleep pauses every display before the system suspends. It acts
// immediately since the system will not wait for a debounce.
func (r *Reconciler) Sleep() {
	r.loop.Post(func() {
		r.logger.Info("system going to sleep")
		r.wake.Cancel()
		r.sessions.Suspend()
		r.screensaver.Disarm()
	})
}

// Wake schedules resumption after the system wakes.
func (r *Reconciler) Wake() {
	r.loop.Post(func() {
		r.wake.Trigger(func() {
			r.logger.Info("system woke, resuming playback")
			r.sessions.Resume()
			r.reconcileTopology()
			r.screensaver.Arm()
		})
	})
}

// OcclusionChanged schedules a policy evaluation after probe coverage
// changed. It must be called from the loop.
func (r *Reconciler) OcclusionChanged(occlusion, saver bool) {
	if occlusion {
		r.occlusion.Trigger(r.sessions.UpdatePlaybackStateForAllScreens)
	}
	if saver {
		r.screensaver.Refresh()
	}
}

// PolicyChanged schedules a switch to a new policy mode.
func (r *Reconciler) PolicyChanged(mode policy.Mode) {
	r.loop.Post(func() {
		r.policy.Trigger(func() {
			r.sessions.SetMode(mode)
			r.screensaver.Refresh()
		})
	})
}

// ContentChanged re-checks the screensaver arming conditions.
func (r *Reconciler) ContentChanged() {
	r.loop.Post(r.screensaver.Refresh)
}

// reconcileTopology diffs known displays against connected ones. Sessions of
// removed displays are detached, keeping their records; new displays get
// their content back from memory or from the recovery chain.
func (r *Reconciler) reconcileTopology() {
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("topology pass panic recovered", "error", err)
		}
	}()

	displays, err := r.displays.Displays()
	if err != nil {
		r.logger.Error("reconciler: failed to list displays", "error", err)
		return
	}
	diff := r.sessions.SetDisplays(displays)
	if diff.Empty() {
		return
	}
	r.logger.Info("display topology changed",
		"added", diff.Added,
		"removed", diff.Removed,
		"moved", diff.Moved)

	now := r.clock.Now()
	for _, id := range diff.Removed {
		r.sessions.Detach(id)
		r.detachedAt[id] = now
	}
	for _, id := range diff.Moved {
		if !r.sessions.Has(id) {
			continue
		}
		if _, err := r.sessions.EnsureSession(id); err != nil {
			r.logger.Warn("rebuild moved display", "display", id, "error", err)
		}
	}
	for _, id := range diff.Added {
		delete(r.detachedAt, id)
		if r.sessions.Reattach(id) {
			r.logger.Info("display content restored", "display", id)
		}
	}
	r.sessions.UpdatePlaybackStateForAllScreens()
	r.screensaver.Refresh()
}

// HealNow runs a self-healing pass on the loop.
func (r *Reconciler) HealNow() {
	r.loop.Post(r.heal)
}

// heal performs a single self-healing pass.
func (r *Reconciler) heal() {
	// Recover from panics to prevent crashing the daemon
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("reconciler panic recovered", "error", err)
		}
	}()

	now := r.clock.Now()
	for _, id := range r.sessions.BlackScreens() {
		if !r.limiter(id).AllowN(now, 1) {
			r.logger.Debug("reconciler: repair rate limited", "display", id)
			continue
		}
		r.logger.Warn("reconciler: black screen detected", "display", id)
		if r.sessions.Heal(id) {
			r.logger.Info("reconciler: display repaired", "display", id)
		} else {
			r.logger.Warn("reconciler: display could not be repaired", "display", id)
		}
	}

	r.sessions.TouchRecords()

	if r.retention > 0 {
		for id, at := range r.detachedAt {
			if now.Sub(at) <= r.retention {
				continue
			}
			r.logger.Info("reconciler: forgetting long-disconnected display", "display", id, "since", at)
			if err := r.sessions.Clear(id, true, false); err != nil {
				r.logger.Warn("reconciler: failed to purge display", "display", id, "error", err)
				continue
			}
			delete(r.detachedAt, id)
			delete(r.limiters, id)
		}
	}

	if r.records != nil {
		if n, err := r.records.PurgeExpired(); err != nil {
			r.logger.Warn("reconciler: failed to purge expired records", "error", err)
		} else if n > 0 {
			r.logger.Info("reconciler: purged expired records", "count", n)
		}
	}
}

// limiter returns the repair limiter for a display. A display that keeps
// failing is retried at most once every four sweeps.
func (r *Reconciler) limiter(id platform.Identity) *rate.Limiter {
	l, ok := r.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(4*r.interval), 1)
		r.limiters[id] = l
	}
	return l
}

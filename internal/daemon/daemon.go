// Package daemon wires the control loop, the session manager, the
// screensaver and the reconciler together and serves the command socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/1broseidon/backdrop/internal/config"
	"github.com/1broseidon/backdrop/internal/ipc"
	"github.com/1broseidon/backdrop/internal/loop"
	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/notify"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/player"
	"github.com/1broseidon/backdrop/internal/policy"
	"github.com/1broseidon/backdrop/internal/recovery"
	"github.com/1broseidon/backdrop/internal/screensaver"
	"github.com/1broseidon/backdrop/internal/session"
	"github.com/1broseidon/backdrop/internal/store"
)

const shutdownTimeout = 5 * time.Second

// ErrDisplayRequired is returned when a command names no display and more
// than one is connected.
var ErrDisplayRequired = errors.New("display is required when more than one display is connected")

// TopologySource reports display hot-plug and mode changes.
type TopologySource interface {
	WatchTopology(ctx context.Context, onChange func()) error
}

// Options wires a daemon to its environment.
type Options struct {
	Config *config.Config
	// ConfigPath is where settings changed over the socket are saved. When
	// Watch is set the file is also watched for edits.
	ConfigPath string
	Watch      bool

	Backend   platform.Backend
	Engine    player.Engine
	Store     *store.Store
	Bookmarks store.Bookmarker

	// Topology, when set, triggers topology passes.
	Topology TopologySource
	// Inhibitors, when set, is polled for idle inhibitors.
	Inhibitors InhibitSource
	// WatchSleep listens for logind sleep and wake signals.
	WatchSleep bool

	SocketPath string
	Clock      clockwork.Clock
	// LogLevel is adjusted when the config is reloaded.
	LogLevel *slog.LevelVar
	Logger   *slog.Logger
}

// Daemon is the running wallpaper coordinator.
type Daemon struct {
	opts   Options
	loop   *loop.Loop
	clock  clockwork.Clock
	bus    *notify.Bus
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sessions   *session.Manager
	saver      *screensaver.Machine
	reconciler *Reconciler
	poller     *OcclusionPoller
	server     *ipc.Server

	// cfg is owned by the loop.
	cfg    *config.Config
	saveMu sync.Mutex

	started time.Time
}

// New builds a daemon. Nothing runs until Run.
func New(opts Options) (*Daemon, error) {
	if opts.Backend == nil || opts.Engine == nil {
		return nil, fmt.Errorf("daemon requires a platform backend and a player engine")
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.ConfigPath == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		opts.ConfigPath = path
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := opts.Config
	logger := opts.Logger

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		opts:    opts,
		clock:   opts.Clock,
		bus:     notify.NewBus(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		started: opts.Clock.Now(),
	}
	d.loop = loop.New(opts.Clock, logger.With("component", "loop"))

	var (
		records session.Records
		purger  RecordPurger
		restore session.Restorer
	)
	if opts.Store != nil {
		records = opts.Store
		purger = opts.Store
		restore = recovery.New(opts.Store, opts.Bookmarks, logger.With("component", "recovery"))
	}

	sessions, err := session.NewManager(session.Config{
		Context:   ctx,
		Loop:      d.loop,
		Surfaces:  opts.Backend,
		Engine:    opts.Engine,
		Loader:    media.NewLoader(cfg.Media.CacheMaxBytes, cfg.Media.CacheEntries),
		Records:   records,
		Bookmarks: opts.Bookmarks,
		Recovery:  restore,
		Bus:       d.bus,
		Mode:      cfg.PolicyMode(),
		Muted:     cfg.Audio.Muted,
		Logger:    logger.With("component", "session"),
	})
	if err != nil {
		cancel()
		return nil, err
	}
	d.sessions = sessions

	d.saver = screensaver.New(screensaver.Config{
		Loop:     d.loop,
		Host:     sessions,
		Idle:     opts.Backend,
		Overlays: opts.Backend,
		Enabled:  cfg.Screensaver.Enabled,
		Delay:    cfg.Screensaver.Delay,
		Grace:    cfg.Screensaver.Grace,
		Clock:    cfg.Screensaver.Clock,
		Fade:     cfg.Screensaver.Fade,
		OnChange: func(s screensaver.State) {
			d.bus.Publish(notify.Event{Kind: notify.ScreensaverChanged, Detail: s.String()})
		},
		Logger: logger.With("component", "screensaver"),
	})

	d.reconciler = NewReconciler(ReconcilerConfig{
		Debounce:     cfg.Reconcile.Debounce,
		HealInterval: cfg.Reconcile.HealInterval,
		Retention:    cfg.Reconcile.Retention,
		Logger:       logger.With("component", "reconciler"),
	}, d.loop, sessions, d.saver, opts.Backend, purger)

	d.poller = NewOcclusionPoller(d.loop, sessions, opts.Backend, d.reconciler,
		cfg.Reconcile.ProbeInterval, logger.With("component", "occlusion"))

	d.server, err = ipc.NewServer(ipc.ServerConfig{
		SocketPath: opts.SocketPath,
		Controller: d,
		Logger:     logger.With("component", "ipc"),
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return d, nil
}

// SocketPath returns the command socket path.
func (d *Daemon) SocketPath() string { return d.server.SocketPath() }

// Run starts every component and blocks until ctx is cancelled. On return
// every session has been torn down.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.cancel()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = d.loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	if err := d.loop.Call(ctx, func() error {
		d.reconciler.Start()
		return nil
	}); err != nil {
		return fmt.Errorf("initial topology pass: %w", err)
	}

	if err := d.server.Start(); err != nil {
		d.shutdown()
		return err
	}
	d.logger.Info("backdrop daemon started", "socket", d.server.SocketPath(), "policy", d.opts.Config.Policy)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		d.server.Stop()
		return nil
	})
	g.Go(func() error {
		d.reconciler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return d.poller.Run(gctx)
	})
	g.Go(func() error {
		d.forwardContentChanges(gctx)
		return nil
	})
	if d.opts.Topology != nil {
		g.Go(func() error {
			if err := d.opts.Topology.WatchTopology(gctx, d.reconciler.TopologyChanged); err != nil {
				d.logger.Warn("topology events unavailable", "error", err)
			}
			return nil
		})
	}
	if d.opts.WatchSleep {
		monitor := NewSleepMonitor(d.reconciler, d.logger.With("component", "sleep"))
		g.Go(func() error {
			if err := monitor.Run(gctx); err != nil {
				d.logger.Warn("sleep monitor disabled", "error", err)
			}
			return nil
		})
	}
	if d.opts.Inhibitors != nil {
		monitor := NewSuppressionMonitor(d.opts.Inhibitors, d.clock, d.opts.Config.Reconcile.SuppressionInterval,
			d.setSuppressed, d.logger.With("component", "suppression"))
		g.Go(func() error {
			return monitor.Run(gctx)
		})
	}
	if d.opts.Watch {
		watcher := config.NewWatcher(d.opts.ConfigPath, d.configChanged, d.logger.With("component", "config"))
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				d.logger.Warn("config watcher disabled", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	d.shutdown()
	d.logger.Info("backdrop daemon stopped")
	return err
}

// shutdown tears every session down on the loop.
func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.loop.Call(ctx, func() error {
		d.saver.Disarm()
		d.sessions.Shutdown()
		return nil
	}); err != nil {
		d.logger.Warn("session shutdown incomplete", "error", err)
	}
}

// forwardContentChanges re-checks the screensaver whenever content changes.
func (d *Daemon) forwardContentChanges(ctx context.Context) {
	events, unsubscribe := d.bus.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == notify.ContentChanged {
				d.reconciler.ContentChanged()
			}
		}
	}
}

func (d *Daemon) setSuppressed(suppressed bool) {
	d.loop.Post(func() {
		d.logger.Info("idle inhibition changed", "suppressed", suppressed)
		d.saver.SetSuppressed(suppressed)
	})
}

// configChanged reloads the config file after an edit. The policy mode goes
// through the reconciler's debounce; everything else applies directly.
func (d *Daemon) configChanged() {
	res, err := config.LoadFromPath(d.opts.ConfigPath)
	if err != nil {
		d.logger.Warn("ignoring invalid config change", "path", d.opts.ConfigPath, "error", err)
		return
	}
	d.reconciler.PolicyChanged(res.Config.PolicyMode())
	d.loop.Post(func() { d.apply(res.Config, false) })
}

// apply adopts cfg as the running configuration. It must run on the loop.
func (d *Daemon) apply(cfg *config.Config, withMode bool) {
	old := d.cfg
	d.cfg = cfg

	if withMode && cfg.PolicyMode() != d.sessions.Mode() {
		d.sessions.SetMode(cfg.PolicyMode())
	}
	ss := cfg.Screensaver
	if ss.Enabled != old.Screensaver.Enabled || ss.Delay != old.Screensaver.Delay || ss.Clock != old.Screensaver.Clock {
		d.saver.Configure(ss.Enabled, ss.Delay, ss.Clock)
	}
	d.saver.Refresh()
	if cfg.Audio.Muted != d.sessions.Muted() {
		if cfg.Audio.Muted {
			d.sessions.MuteAll()
		} else {
			d.sessions.RestoreAll()
		}
	}
	if d.opts.LogLevel != nil {
		d.opts.LogLevel.Set(cfg.SlogLevel())
	}
}

// call runs fn on the loop.
func (d *Daemon) call(ctx context.Context, fn func() error) error {
	return d.loop.Call(ctx, fn)
}

// update changes the running config on the loop and saves the result.
func (d *Daemon) update(ctx context.Context, fn func(cfg *config.Config) error) error {
	var snapshot config.Config
	if err := d.call(ctx, func() error {
		next := *d.cfg
		if err := fn(&next); err != nil {
			return err
		}
		d.cfg = &next
		snapshot = next
		return nil
	}); err != nil {
		return err
	}
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	if err := snapshot.SaveToPath(d.opts.ConfigPath); err != nil {
		d.logger.Warn("failed to save config", "path", d.opts.ConfigPath, "error", err)
		return fmt.Errorf("setting applied but not saved: %w", err)
	}
	return nil
}

// resolve maps a display selector to an identity. It accepts an identity or
// an output name; an empty selector picks the only connected display. It
// must run on the loop.
func (d *Daemon) resolve(display string) (platform.Identity, error) {
	displays := d.sessions.Displays()
	if display == "" {
		if len(displays) == 1 {
			return displays[0].Identity, nil
		}
		return "", ErrDisplayRequired
	}
	for _, disp := range displays {
		if string(disp.Identity) == display {
			return disp.Identity, nil
		}
	}
	for _, disp := range displays {
		if disp.Name == display {
			return disp.Identity, nil
		}
	}
	return "", fmt.Errorf("%w: %s", session.ErrUnknownDisplay, display)
}

func (d *Daemon) onDisplay(ctx context.Context, display string, fn func(id platform.Identity) error) error {
	return d.call(ctx, func() error {
		id, err := d.resolve(display)
		if err != nil {
			return err
		}
		return fn(id)
	})
}

func (d *Daemon) screensaverData() ipc.ScreensaverData {
	return ipc.ScreensaverData{
		State:        d.saver.State().String(),
		Enabled:      d.saver.Enabled(),
		DelaySeconds: int(d.saver.Delay() / time.Second),
		Clock:        d.cfg.Screensaver.Clock,
		Suppressed:   d.saver.Suppressed(),
	}
}

// Status implements ipc.Controller.
func (d *Daemon) Status(ctx context.Context) (ipc.StatusData, error) {
	var out ipc.StatusData
	err := d.call(ctx, func() error {
		out = ipc.StatusData{
			Policy:        string(d.sessions.Mode()),
			Muted:         d.sessions.Muted(),
			Suspended:     d.sessions.Suspended(),
			Screensaver:   d.screensaverData(),
			UptimeSeconds: int64(d.clock.Since(d.started) / time.Second),
			DaemonRunning: true,
			Sessions:      d.sessions.Sessions(),
		}
		return nil
	})
	return out, err
}

// Displays implements ipc.Controller.
func (d *Daemon) Displays(ctx context.Context) (ipc.DisplaysData, error) {
	var out ipc.DisplaysData
	err := d.call(ctx, func() error {
		for _, disp := range d.sessions.Displays() {
			out.Displays = append(out.Displays, ipc.DisplayInfo{
				Identity: disp.Identity,
				Name:     disp.Name,
				X:        disp.Bounds.X,
				Y:        disp.Bounds.Y,
				Width:    disp.Bounds.Width,
				Height:   disp.Bounds.Height,
				Session:  d.sessions.Has(disp.Identity),
			})
		}
		return nil
	})
	return out, err
}

// SetContent implements ipc.Controller.
func (d *Daemon) SetContent(ctx context.Context, p ipc.SetContentPayload) (session.Status, error) {
	desc := media.Descriptor{Locator: p.Locator, Stretch: p.Stretch}
	if p.Kind != "" {
		kind, err := media.ParseKind(p.Kind)
		if err != nil {
			return session.Status{}, err
		}
		desc.Kind = kind
	} else {
		kind, ok := media.GuessKind(p.Locator)
		if !ok {
			return session.Status{}, fmt.Errorf("%w: cannot tell the media kind of %s, pass it explicitly", media.ErrUnsupported, p.Locator)
		}
		desc.Kind = kind
	}
	if p.Volume != nil {
		desc.Volume = media.Volume(*p.Volume)
	}

	var out session.Status
	err := d.onDisplay(ctx, p.Display, func(id platform.Identity) error {
		if err := d.sessions.Assign(id, desc); err != nil {
			return err
		}
		for _, st := range d.sessions.Sessions() {
			if st.Identity == id {
				out = st
			}
		}
		return nil
	})
	return out, err
}

// Clear implements ipc.Controller.
func (d *Daemon) Clear(ctx context.Context, p ipc.ClearPayload) error {
	return d.onDisplay(ctx, p.Display, func(id platform.Identity) error {
		return d.sessions.Clear(id, p.Purge, false)
	})
}

// Play implements ipc.Controller.
func (d *Daemon) Play(ctx context.Context, display string) error {
	return d.onDisplay(ctx, display, d.sessions.Play)
}

// Pause implements ipc.Controller.
func (d *Daemon) Pause(ctx context.Context, display string) error {
	return d.onDisplay(ctx, display, d.sessions.Pause)
}

// SetVolume implements ipc.Controller. A volume above zero also lifts the
// global mute, which is saved.
func (d *Daemon) SetVolume(ctx context.Context, p ipc.VolumePayload) error {
	var unmuted bool
	if err := d.onDisplay(ctx, p.Display, func(id platform.Identity) error {
		was := d.sessions.Muted()
		if err := d.sessions.SetVolume(id, p.Volume); err != nil {
			return err
		}
		unmuted = was && !d.sessions.Muted()
		return nil
	}); err != nil {
		return err
	}
	if unmuted {
		return d.saveMuted(ctx, false)
	}
	return nil
}

// SetGlobalVolume implements ipc.Controller.
func (d *Daemon) SetGlobalVolume(ctx context.Context, volume float64) error {
	var muted bool
	if err := d.call(ctx, func() error {
		d.sessions.SetGlobalVolume(volume)
		muted = d.sessions.Muted()
		return nil
	}); err != nil {
		return err
	}
	return d.saveMuted(ctx, muted)
}

// MuteAll implements ipc.Controller.
func (d *Daemon) MuteAll(ctx context.Context) error {
	if err := d.call(ctx, func() error {
		d.sessions.MuteAll()
		return nil
	}); err != nil {
		return err
	}
	return d.saveMuted(ctx, true)
}

// UnmuteAll implements ipc.Controller.
func (d *Daemon) UnmuteAll(ctx context.Context) error {
	if err := d.call(ctx, func() error {
		d.sessions.RestoreAll()
		return nil
	}); err != nil {
		return err
	}
	return d.saveMuted(ctx, false)
}

func (d *Daemon) saveMuted(ctx context.Context, muted bool) error {
	return d.update(ctx, func(cfg *config.Config) error {
		cfg.Audio.Muted = muted
		return nil
	})
}

// SetStretch implements ipc.Controller.
func (d *Daemon) SetStretch(ctx context.Context, p ipc.StretchPayload) error {
	return d.onDisplay(ctx, p.Display, func(id platform.Identity) error {
		return d.sessions.SetStretch(id, p.Stretch)
	})
}

// SetPolicy implements ipc.Controller. The mode applies at once and is
// saved to the config file.
func (d *Daemon) SetPolicy(ctx context.Context, mode policy.Mode) error {
	return d.update(ctx, func(cfg *config.Config) error {
		cfg.Policy = string(mode)
		d.sessions.SetMode(mode)
		d.saver.Refresh()
		d.logger.Info("policy mode changed", "mode", mode)
		return nil
	})
}

// ConfigureScreensaver implements ipc.Controller.
func (d *Daemon) ConfigureScreensaver(ctx context.Context, p ipc.ScreensaverPayload) (ipc.ScreensaverData, error) {
	var out ipc.ScreensaverData
	err := d.update(ctx, func(cfg *config.Config) error {
		ss := cfg.Screensaver
		if p.Enabled != nil {
			ss.Enabled = *p.Enabled
		}
		if p.DelaySeconds != nil {
			ss.Delay = time.Duration(*p.DelaySeconds) * time.Second
		}
		if p.Clock != nil {
			ss.Clock = *p.Clock
		}
		cfg.Screensaver = ss
		if err := cfg.Validate(); err != nil {
			return err
		}
		d.saver.Configure(ss.Enabled, ss.Delay, ss.Clock)
		out = d.screensaverData()
		out.Clock = ss.Clock
		return nil
	})
	return out, err
}

// TriggerScreensaver implements ipc.Controller.
func (d *Daemon) TriggerScreensaver(ctx context.Context) (ipc.TriggerData, error) {
	var out ipc.TriggerData
	err := d.call(ctx, func() error {
		out.Activated = d.saver.Trigger()
		return nil
	})
	return out, err
}

// SyncSameNamed implements ipc.Controller.
func (d *Daemon) SyncSameNamed(ctx context.Context) (ipc.SyncData, error) {
	var out ipc.SyncData
	err := d.call(ctx, func() error {
		out.Synced = d.sessions.SyncSameNamed()
		return nil
	})
	return out, err
}

// Reload implements ipc.Controller. It re-reads the config file and applies
// it without waiting for the debounce.
func (d *Daemon) Reload(ctx context.Context) error {
	res, err := config.LoadFromPath(d.opts.ConfigPath)
	if err != nil {
		return err
	}
	d.logger.Info("reloading config", "path", d.opts.ConfigPath, "exists", res.Exists)
	return d.call(ctx, func() error {
		d.apply(res.Config, true)
		return nil
	})
}

// Subscribe implements ipc.Controller.
func (d *Daemon) Subscribe() (<-chan notify.Event, func()) {
	return d.bus.Subscribe(32)
}

// HealNow runs a self-healing pass.
func (d *Daemon) HealNow() {
	d.reconciler.HealNow()
}

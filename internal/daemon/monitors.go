package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"

	"github.com/1broseidon/backdrop/internal/loop"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/session"
)

const (
	logindDest      = "org.freedesktop.login1"
	logindPath      = dbus.ObjectPath("/org/freedesktop/login1")
	logindInterface = "org.freedesktop.login1.Manager"

	defaultProbeInterval       = time.Second
	defaultSuppressionInterval = 10 * time.Second
)

// PowerHandler receives system sleep transitions.
type PowerHandler interface {
	Sleep()
	Wake()
}

// SleepMonitor listens for logind PrepareForSleep signals on the system bus.
type SleepMonitor struct {
	handler PowerHandler
	logger  *slog.Logger
}

// NewSleepMonitor creates a sleep monitor.
func NewSleepMonitor(handler PowerHandler, logger *slog.Logger) *SleepMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SleepMonitor{handler: handler, logger: logger}
}

// Run blocks until ctx is cancelled. It returns an error only if the
// system bus cannot be reached, in which case sleep handling is disabled.
func (m *SleepMonitor) Run(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(logindInterface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return fmt.Errorf("subscribe to PrepareForSleep: %w", err)
	}

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	m.logger.Debug("sleep monitor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			m.handle(sig)
		}
	}
}

func (m *SleepMonitor) handle(sig *dbus.Signal) {
	if sig == nil || sig.Name != logindInterface+".PrepareForSleep" || len(sig.Body) == 0 {
		return
	}
	entering, ok := sig.Body[0].(bool)
	if !ok {
		return
	}
	if entering {
		m.handler.Sleep()
	} else {
		m.handler.Wake()
	}
}

// InhibitSource reports the lock types currently blocked by inhibitors.
type InhibitSource interface {
	BlockInhibited() (string, error)
}

// LogindInhibitors reads the BlockInhibited property from logind.
type LogindInhibitors struct {
	conn *dbus.Conn
}

// NewLogindInhibitors connects to the system bus.
func NewLogindInhibitors() (*LogindInhibitors, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &LogindInhibitors{conn: conn}, nil
}

// BlockInhibited returns the colon-separated list of blocked lock types.
func (l *LogindInhibitors) BlockInhibited() (string, error) {
	v, err := l.conn.Object(logindDest, logindPath).GetProperty(logindInterface + ".BlockInhibited")
	if err != nil {
		return "", err
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected BlockInhibited type %T", v.Value())
	}
	return s, nil
}

// Close closes the bus connection.
func (l *LogindInhibitors) Close() error {
	return l.conn.Close()
}

// SuppressionMonitor polls for idle inhibitors held by other applications,
// such as video players, and forwards changes.
type SuppressionMonitor struct {
	source   InhibitSource
	clock    clockwork.Clock
	interval time.Duration
	onChange func(suppressed bool)
	logger   *slog.Logger

	last  bool
	known bool
}

// NewSuppressionMonitor creates a monitor. onChange is called from the
// monitor goroutine.
func NewSuppressionMonitor(source InhibitSource, clock clockwork.Clock, interval time.Duration, onChange func(bool), logger *slog.Logger) *SuppressionMonitor {
	if interval <= 0 {
		interval = defaultSuppressionInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SuppressionMonitor{
		source:   source,
		clock:    clock,
		interval: interval,
		onChange: onChange,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (m *SuppressionMonitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.check()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.check()
		}
	}
}

func (m *SuppressionMonitor) check() {
	blocked, err := m.source.BlockInhibited()
	if err != nil {
		m.logger.Debug("read idle inhibitors", "error", err)
		return
	}
	suppressed := slices.Contains(strings.Split(blocked, ":"), "idle")
	if m.known && suppressed == m.last {
		return
	}
	m.known, m.last = true, suppressed
	m.onChange(suppressed)
}

// OcclusionHandler receives probe coverage changes on the loop.
type OcclusionHandler interface {
	OcclusionChanged(occlusion, saver bool)
}

// OcclusionPoller measures probe coverage off the loop and posts the results
// back to the session manager.
type OcclusionPoller struct {
	loop     *loop.Loop
	sessions *session.Manager
	checker  platform.CoverageChecker
	handler  OcclusionHandler
	interval time.Duration
	logger   *slog.Logger
}

// NewOcclusionPoller creates a poller.
func NewOcclusionPoller(l *loop.Loop, sessions *session.Manager, checker platform.CoverageChecker, handler OcclusionHandler, interval time.Duration, logger *slog.Logger) *OcclusionPoller {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OcclusionPoller{
		loop:     l,
		sessions: sessions,
		checker:  checker,
		handler:  handler,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (p *OcclusionPoller) Run(ctx context.Context) error {
	ticker := p.loop.Clock().NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.logger.Debug("probe poll failed", "error", err)
			}
		}
	}
}

// Poll performs one measurement pass.
func (p *OcclusionPoller) Poll(ctx context.Context) error {
	var probes []session.Probe
	var exclude []uint32
	if err := p.loop.Call(ctx, func() error {
		probes, exclude = p.sessions.Probes()
		return nil
	}); err != nil {
		return err
	}
	if len(probes) == 0 {
		return nil
	}

	regions := make([]platform.Rect, len(probes))
	for i, probe := range probes {
		regions[i] = probe.Region
	}
	covered, err := p.checker.Covered(regions, exclude)
	if err != nil {
		return fmt.Errorf("measure coverage: %w", err)
	}

	results := make([]session.ProbeResult, len(probes))
	for i, probe := range probes {
		results[i] = session.ProbeResult{Probe: probe, Covered: i < len(covered) && covered[i]}
	}
	p.loop.Post(func() {
		occ, saver := p.sessions.SetProbeCoverage(results)
		if occ || saver {
			p.handler.OcclusionChanged(occ, saver)
		}
	})
	return nil
}

// Package screensaver runs the idle screensaver: it arms an idle timer,
// lifts every wallpaper surface above the desktop with a clock overlay once
// the user has been idle long enough, and hands the desktop back on input.
package screensaver

import (
	"log/slog"
	"time"

	"github.com/1broseidon/backdrop/internal/loop"
	"github.com/1broseidon/backdrop/internal/platform"
)

// State is the screensaver state.
type State int

const (
	Idle State = iota
	Armed
	Active
	Closing
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Active:
		return "active"
	case Closing:
		return "closing"
	default:
		return "idle"
	}
}

const (
	DefaultDelay = 5 * time.Minute
	DefaultGrace = 750 * time.Millisecond

	minPollInterval   = time.Second
	inputPollInterval = 250 * time.Millisecond
	clockInterval     = time.Second
	defaultFade       = 400 * time.Millisecond
	fadeSteps         = 8

	// inputTolerance absorbs drift between the server's idle counter and
	// the loop clock.
	inputTolerance = 100 * time.Millisecond
)

// Host is the part of the session manager the screensaver drives. The
// screensaver never holds surfaces itself.
type Host interface {
	HasAnyContent() bool
	AnySaverProbeCovered() bool
	SessionDisplays() []platform.Display
	PromoteSurfaces() error
	DemoteSurfaces() error
	SetSurfaceOpacity(opacity float64) error
	SetProbesHidden(hidden bool)
	SetScreensaverActive(active bool)
}

// Config configures a Machine.
type Config struct {
	Loop     *loop.Loop
	Host     Host
	Idle     platform.IdleSource
	Overlays platform.OverlayFactory
	Enabled  bool
	Delay    time.Duration
	Grace    time.Duration
	// Clock shows a time and date overlay on every display while active.
	Clock bool
	Fade  time.Duration
	// OnChange is called on the loop after every state transition.
	OnChange func(State)
	Logger   *slog.Logger
}

// Machine is the screensaver state machine. Every method must be called
// from the control loop.
type Machine struct {
	loop     *loop.Loop
	host     Host
	idle     platform.IdleSource
	overlays platform.OverlayFactory
	onChange func(State)
	logger   *slog.Logger

	enabled bool
	delay   time.Duration
	grace   time.Duration
	clock   bool
	fade    time.Duration

	state      State
	suppressed bool

	pollTimer  *loop.Timer
	graceTimer *loop.Timer
	inputTimer *loop.Timer
	clockTimer *loop.Timer
	fadeTimer  *loop.Timer

	shown    []platform.Overlay
	lastIdle time.Duration
	lastRead time.Time
}

// New creates a machine in the Idle state.
func New(cfg Config) *Machine {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Fade < 0 {
		cfg.Fade = 0
	} else if cfg.Fade == 0 {
		cfg.Fade = defaultFade
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Machine{
		loop:     cfg.Loop,
		host:     cfg.Host,
		idle:     cfg.Idle,
		overlays: cfg.Overlays,
		onChange: cfg.OnChange,
		logger:   cfg.Logger,
		enabled:  cfg.Enabled,
		delay:    cfg.Delay,
		grace:    cfg.Grace,
		clock:    cfg.Clock,
		fade:     cfg.Fade,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Suppressed reports whether another application is holding the
// screensaver off.
func (m *Machine) Suppressed() bool { return m.suppressed }

// Enabled reports whether the idle timer may arm.
func (m *Machine) Enabled() bool { return m.enabled }

// Delay returns the configured idle delay.
func (m *Machine) Delay() time.Duration { return m.delay }

func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("screensaver state", "from", m.state, "to", s)
	m.state = s
	if m.onChange != nil {
		m.onChange(s)
	}
}

func (m *Machine) canArm() (bool, string) {
	switch {
	case !m.enabled:
		return false, "disabled"
	case m.suppressed:
		return false, "suppressed by another application"
	case !m.host.HasAnyContent():
		return false, "no content on any display"
	case m.host.AnySaverProbeCovered():
		return false, "desktop already hidden"
	}
	return true, ""
}

// Arm starts the idle timer when the screensaver is Idle and allowed to run.
func (m *Machine) Arm() {
	if m.state != Idle {
		return
	}
	if ok, reason := m.canArm(); !ok {
		m.logger.Debug("screensaver not armed", "reason", reason)
		return
	}
	m.setState(Armed)
	m.schedulePoll()
}

// Disarm cancels the idle timer and, if active, hands the desktop back
// immediately.
func (m *Machine) Disarm() {
	switch m.state {
	case Armed:
		m.stopPolling()
		m.setState(Idle)
	case Active, Closing:
		m.restore()
	}
}

// Refresh re-checks the arming conditions after content, coverage or
// topology changed.
func (m *Machine) Refresh() {
	switch m.state {
	case Idle:
		m.Arm()
	case Armed:
		if ok, reason := m.canArm(); !ok {
			m.logger.Debug("screensaver disarmed", "reason", reason)
			m.stopPolling()
			m.setState(Idle)
		}
	case Active:
		m.showOverlays()
	}
}

// Configure applies new settings. Disabling hands the desktop back.
func (m *Machine) Configure(enabled bool, delay time.Duration, clock bool) {
	if delay <= 0 {
		delay = DefaultDelay
	}
	changed := m.delay != delay
	m.enabled, m.delay, m.clock = enabled, delay, clock
	if !enabled {
		m.Disarm()
		return
	}
	switch m.state {
	case Idle:
		m.Arm()
	case Armed:
		if changed {
			m.stopPolling()
			m.schedulePoll()
		}
	case Active:
		m.showOverlays()
	}
}

// SetSuppressed records whether another application inhibits idle.
// Suppression forces Idle and blocks arming until it clears.
func (m *Machine) SetSuppressed(suppressed bool) {
	if m.suppressed == suppressed {
		return
	}
	m.suppressed = suppressed
	m.logger.Info("screensaver suppression changed", "suppressed", suppressed)
	if suppressed {
		m.Disarm()
		return
	}
	m.Arm()
}

// Trigger activates the screensaver immediately.
func (m *Machine) Trigger() bool {
	if m.state == Active || m.state == Closing {
		return false
	}
	if m.suppressed || !m.host.HasAnyContent() {
		m.logger.Info("screensaver trigger ignored", "suppressed", m.suppressed)
		return false
	}
	m.stopPolling()
	m.activate()
	return true
}

// Exit hands the desktop back with a fade and re-arms.
func (m *Machine) Exit() {
	if m.state != Active {
		return
	}
	m.setState(Closing)
	m.stopMonitors()
	m.hideOverlays()
	m.fadeOut(0)
}

func (m *Machine) pollInterval() time.Duration {
	if iv := m.delay / 10; iv > minPollInterval {
		return iv
	}
	return minPollInterval
}

func (m *Machine) schedulePoll() {
	m.pollTimer.Stop()
	m.pollTimer = m.loop.AfterFunc(m.pollInterval(), m.poll)
}

func (m *Machine) stopPolling() {
	m.pollTimer.Stop()
	m.graceTimer.Stop()
	m.pollTimer, m.graceTimer = nil, nil
}

func (m *Machine) poll() {
	if m.state != Armed {
		return
	}
	if ok, reason := m.canArm(); !ok {
		m.logger.Debug("screensaver disarmed", "reason", reason)
		m.stopPolling()
		m.setState(Idle)
		return
	}
	idle, err := m.idle.IdleTime()
	if err != nil {
		m.logger.Warn("read idle time", "error", err)
		m.schedulePoll()
		return
	}
	if idle < m.delay {
		m.schedulePoll()
		return
	}
	m.graceTimer = m.loop.AfterFunc(m.grace, m.confirm)
}

// confirm re-reads idle time after the grace period so input that arrived
// just as the delay expired does not start the screensaver.
func (m *Machine) confirm() {
	if m.state != Armed {
		return
	}
	idle, err := m.idle.IdleTime()
	if err != nil || idle < m.delay {
		m.schedulePoll()
		return
	}
	m.activate()
}

func (m *Machine) activate() {
	m.logger.Info("screensaver activated")
	m.setState(Active)
	m.host.SetProbesHidden(true)
	if err := m.host.PromoteSurfaces(); err != nil {
		m.logger.Warn("promote surfaces", "error", err)
	}
	if err := m.host.SetSurfaceOpacity(1); err != nil {
		m.logger.Warn("set surface opacity", "error", err)
	}
	m.host.SetScreensaverActive(true)
	m.showOverlays()

	idle, err := m.idle.IdleTime()
	if err != nil {
		idle = 0
	}
	m.lastIdle, m.lastRead = idle, m.loop.Clock().Now()
	m.inputTimer = m.loop.AfterFunc(inputPollInterval, m.watchInput)
}

// watchInput treats idle time that grew less than the wall clock since the
// previous reading as user input.
func (m *Machine) watchInput() {
	if m.state != Active {
		return
	}
	now := m.loop.Clock().Now()
	idle, err := m.idle.IdleTime()
	if err == nil {
		expected := m.lastIdle + now.Sub(m.lastRead)
		if idle+inputTolerance < expected {
			m.logger.Debug("input detected, leaving screensaver", "idle", idle, "expected", expected)
			m.Exit()
			return
		}
		m.lastIdle, m.lastRead = idle, now
	}
	m.inputTimer = m.loop.AfterFunc(inputPollInterval, m.watchInput)
}

func (m *Machine) showOverlays() {
	m.hideOverlays()
	if !m.clock || m.overlays == nil {
		return
	}
	for _, d := range m.host.SessionDisplays() {
		o, err := m.overlays.CreateOverlay(d)
		if err != nil {
			m.logger.Warn("create clock overlay", "display", d.Identity, "error", err)
			continue
		}
		m.shown = append(m.shown, o)
	}
	m.tickClock()
}

func (m *Machine) tickClock() {
	if m.state != Active || len(m.shown) == 0 {
		return
	}
	now := m.loop.Clock().Now()
	lines := []string{now.Format("15:04"), now.Format("Monday, January 2")}
	for _, o := range m.shown {
		if err := o.SetLines(lines); err != nil {
			m.logger.Debug("update clock overlay", "error", err)
		}
	}
	m.clockTimer = m.loop.AfterFunc(clockInterval, m.tickClock)
}

func (m *Machine) hideOverlays() {
	m.clockTimer.Stop()
	m.clockTimer = nil
	for _, o := range m.shown {
		if err := o.Destroy(); err != nil {
			m.logger.Debug("destroy clock overlay", "error", err)
		}
	}
	m.shown = nil
}

func (m *Machine) stopMonitors() {
	m.inputTimer.Stop()
	m.inputTimer = nil
	m.stopPolling()
}

func (m *Machine) fadeOut(step int) {
	if m.state != Closing {
		return
	}
	if step >= fadeSteps || m.fade == 0 {
		m.finishExit()
		return
	}
	opacity := 1 - float64(step+1)/float64(fadeSteps+1)
	if err := m.host.SetSurfaceOpacity(opacity); err != nil {
		m.logger.Debug("fade surfaces", "error", err)
	}
	m.fadeTimer = m.loop.AfterFunc(m.fade/fadeSteps, func() { m.fadeOut(step + 1) })
}

func (m *Machine) finishExit() {
	m.fadeTimer = nil
	m.restoreDesktop()
	m.setState(Idle)
	m.logger.Info("screensaver closed")
	m.Arm()
}

// restore hands the desktop back without a fade and stays Idle.
func (m *Machine) restore() {
	m.stopMonitors()
	m.hideOverlays()
	m.fadeTimer.Stop()
	m.fadeTimer = nil
	m.restoreDesktop()
	m.setState(Idle)
}

func (m *Machine) restoreDesktop() {
	if err := m.host.DemoteSurfaces(); err != nil {
		m.logger.Warn("demote surfaces", "error", err)
	}
	if err := m.host.SetSurfaceOpacity(1); err != nil {
		m.logger.Warn("restore surface opacity", "error", err)
	}
	m.host.SetProbesHidden(false)
	m.host.SetScreensaverActive(false)
}

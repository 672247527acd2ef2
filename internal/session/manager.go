// Package session owns one wallpaper session per connected display: its
// surface, occlusion probes, content and player.
//
// Manager methods must be called from the control loop. Other packages refer
// to sessions by display identity only and never hold session resources.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/1broseidon/backdrop/internal/loop"
	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/notify"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/player"
	"github.com/1broseidon/backdrop/internal/policy"
	"github.com/1broseidon/backdrop/internal/recovery"
	"github.com/1broseidon/backdrop/internal/store"
)

var (
	ErrNoSession      = errors.New("no session for display")
	ErrUnknownDisplay = errors.New("display not connected")
)

// screensaverProbeFraction is the share of each display dimension the
// screensaver probe covers. A window hiding the middle of the screen is
// enough to keep the screensaver from arming.
const screensaverProbeFraction = 0.5

// Records is the persisted record store.
type Records interface {
	Put(rec store.Record) error
	Get(id platform.Identity) (store.Record, error)
	Delete(id platform.Identity) error
	Touch(id platform.Identity) error
	List() ([]store.Record, error)
}

// Restorer replays the recovery chain for a display.
type Restorer interface {
	Restore(id platform.Identity, show recovery.ShowFunc) bool
}

// Config wires a manager to its collaborators.
type Config struct {
	Context   context.Context
	Loop      *loop.Loop
	Surfaces  platform.SurfaceFactory
	Engine    player.Engine
	Loader    *media.Loader
	Records   Records
	Bookmarks store.Bookmarker
	Recovery  Restorer
	Bus       *notify.Bus
	Mode      policy.Mode
	Muted     bool
	Logger    *slog.Logger
}

// ProbeKind distinguishes the two probes each session carries.
type ProbeKind int

const (
	// ProbeOcclusion covers the whole display and feeds playback policy.
	ProbeOcclusion ProbeKind = iota
	// ProbeScreensaver covers the middle of the display and gates arming the
	// screensaver.
	ProbeScreensaver
)

func (k ProbeKind) String() string {
	if k == ProbeScreensaver {
		return "screensaver"
	}
	return "occlusion"
}

// Probe is a region whose coverage by other windows is tracked.
type Probe struct {
	Identity platform.Identity
	Kind     ProbeKind
	Region   platform.Rect
}

type probe struct {
	region  platform.Rect
	covered bool
}

// session is the arena entry for one display.
type session struct {
	identity platform.Identity
	display  platform.Display
	// gen changes whenever the session's player or surface is replaced.
	// Deferred completions carrying an older generation are dropped.
	gen uint64

	surface   platform.Surface
	occlusion *probe
	saver     *probe

	content  *media.Descriptor
	resource *media.Resource
	token    []byte
	player   player.Player

	paused     bool
	userPaused bool
}

// Manager is the session arena.
type Manager struct {
	ctx       context.Context
	loop      *loop.Loop
	surfaces  platform.SurfaceFactory
	engine    player.Engine
	loader    *media.Loader
	records   Records
	bookmarks store.Bookmarker
	recovery  Restorer
	bus       *notify.Bus
	logger    *slog.Logger

	sessions  map[platform.Identity]*session
	displays  map[platform.Identity]platform.Display
	discovery map[platform.Identity]uint64
	nextSeq   uint64
	// relocated holds descriptors of sessions detached by a topology change
	// so they can be shown again when the display returns.
	relocated map[platform.Identity]media.Descriptor
	// cleared marks displays the user cleared while keeping their record.
	// The heal sweep leaves them alone until content is shown again.
	cleared map[platform.Identity]bool

	mode              policy.Mode
	muted             bool
	suspended         bool
	screensaverActive bool
	promoted          bool
	probesHidden      bool
}

// NewManager creates an empty manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Loop == nil {
		return nil, fmt.Errorf("session manager requires a control loop")
	}
	if cfg.Surfaces == nil || cfg.Engine == nil {
		return nil, fmt.Errorf("session manager requires a surface factory and a player engine")
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Loader == nil {
		cfg.Loader = media.NewLoader(0, 0)
	}
	if cfg.Bus == nil {
		cfg.Bus = notify.NewBus()
	}
	if cfg.Mode == "" {
		cfg.Mode = policy.Automatic
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		ctx:       cfg.Context,
		loop:      cfg.Loop,
		surfaces:  cfg.Surfaces,
		engine:    cfg.Engine,
		loader:    cfg.Loader,
		records:   cfg.Records,
		bookmarks: cfg.Bookmarks,
		recovery:  cfg.Recovery,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		sessions:  make(map[platform.Identity]*session),
		displays:  make(map[platform.Identity]platform.Display),
		discovery: make(map[platform.Identity]uint64),
		relocated: make(map[platform.Identity]media.Descriptor),
		cleared:   make(map[platform.Identity]bool),
		mode:      cfg.Mode,
		muted:     cfg.Muted,
	}, nil
}

// Bus returns the signal bus the manager publishes on.
func (m *Manager) Bus() *notify.Bus { return m.bus }

// TopologyDiff is the result of SetDisplays.
type TopologyDiff struct {
	Added   []platform.Identity
	Removed []platform.Identity
	// Moved lists displays still connected whose bounds changed.
	Moved []platform.Identity
}

// Empty reports whether nothing changed.
func (d TopologyDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Moved) == 0
}

// SetDisplays records the connected displays and reports what changed
// since the previous call. It does not touch sessions.
func (m *Manager) SetDisplays(displays []platform.Display) TopologyDiff {
	var diff TopologyDiff
	next := make(map[platform.Identity]platform.Display, len(displays))
	for _, d := range displays {
		next[d.Identity] = d
		if _, seen := m.discovery[d.Identity]; !seen {
			m.nextSeq++
			m.discovery[d.Identity] = m.nextSeq
		}
		prev, ok := m.displays[d.Identity]
		switch {
		case !ok:
			diff.Added = append(diff.Added, d.Identity)
		case prev.Bounds != d.Bounds:
			diff.Moved = append(diff.Moved, d.Identity)
		}
	}
	for id := range m.displays {
		if _, ok := next[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	m.displays = next
	m.sortByDiscovery(diff.Added)
	m.sortByDiscovery(diff.Removed)
	m.sortByDiscovery(diff.Moved)
	return diff
}

// Displays returns the connected displays in discovery order.
func (m *Manager) Displays() []platform.Display {
	ids := make([]platform.Identity, 0, len(m.displays))
	for id := range m.displays {
		ids = append(ids, id)
	}
	m.sortByDiscovery(ids)
	out := make([]platform.Display, len(ids))
	for i, id := range ids {
		out[i] = m.displays[id]
	}
	return out
}

// Connected reports whether a display with this identity is connected.
func (m *Manager) Connected(id platform.Identity) bool {
	_, ok := m.displays[id]
	return ok
}

func (m *Manager) sortByDiscovery(ids []platform.Identity) {
	sort.Slice(ids, func(i, j int) bool {
		return m.discovery[ids[i]] < m.discovery[ids[j]]
	})
}

// orderedSessions returns sessions in display discovery order.
func (m *Manager) orderedSessions() []*session {
	ids := make([]platform.Identity, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.sortByDiscovery(ids)
	out := make([]*session, len(ids))
	for i, id := range ids {
		out[i] = m.sessions[id]
	}
	return out
}

// Has reports whether a session exists for id.
func (m *Manager) Has(id platform.Identity) bool {
	_, ok := m.sessions[id]
	return ok
}

// EnsureSession returns the session for id, creating it if needed. A session
// whose surface no longer matches the display's current geometry is torn
// down and rebuilt, and its content is shown again on the new surface.
func (m *Manager) EnsureSession(id platform.Identity) (Status, error) {
	s, err := m.ensure(id)
	if err != nil {
		return Status{}, err
	}
	return m.status(s), nil
}

func (m *Manager) ensure(id platform.Identity) (*session, error) {
	disp, ok := m.displays[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDisplay, id)
	}
	if s, ok := m.sessions[id]; ok {
		if s.surface.Display() == id && s.surface.Bounds() == disp.Bounds {
			s.display = disp
			return s, nil
		}
		m.logger.Info("rebuilding session bound to stale surface", "display", id,
			"surface_bounds", s.surface.Bounds(), "display_bounds", disp.Bounds)
		return m.rebuild(s, disp)
	}
	return m.create(disp)
}

func (m *Manager) create(disp platform.Display) (*session, error) {
	surface, err := m.surfaces.CreateSurface(disp)
	if err != nil {
		return nil, fmt.Errorf("create surface for %s: %w", disp.Identity, err)
	}
	if m.promoted {
		if err := surface.Promote(); err != nil {
			m.logger.Warn("promote new surface", "display", disp.Identity, "error", err)
		}
	}
	s := &session{
		identity:  disp.Identity,
		display:   disp,
		surface:   surface,
		occlusion: &probe{region: disp.Bounds},
		saver:     &probe{region: disp.Bounds.Inset(screensaverProbeFraction)},
	}
	m.sessions[disp.Identity] = s
	m.logger.Debug("session created", "display", disp.Identity, "surface", surface.ID())
	return s, nil
}

func (m *Manager) rebuild(old *session, disp platform.Display) (*session, error) {
	var content *media.Descriptor
	if old.content != nil {
		d := old.content.Clone()
		content = &d
	}
	userPaused := old.userPaused
	token := old.token
	m.teardown(old)

	s, err := m.create(disp)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return s, nil
	}
	if err := m.load(s, *content); err != nil {
		m.logger.Warn("reshow content after rebuild", "display", disp.Identity, "error", err)
		return s, nil
	}
	s.token = token
	s.userPaused = userPaused
	m.UpdatePlaybackStateForAllScreens()
	return s, nil
}

// Teardown releases every resource of the session for id. It is a no-op when
// no session exists.
func (m *Manager) Teardown(id platform.Identity) {
	if s, ok := m.sessions[id]; ok {
		m.teardown(s)
	}
}

// teardown is the only exit path for a session. Sub-resources are released
// in a fixed order: invalidate deferred completions, stop and close the
// player, drop the probes, destroy the surface, remove the arena entry.
func (m *Manager) teardown(s *session) {
	s.gen++

	m.releasePlayer(s)

	s.occlusion = nil
	s.saver = nil

	if s.surface != nil {
		if err := s.surface.Destroy(); err != nil {
			m.logger.Warn("destroy surface", "display", s.identity, "error", err)
		}
		s.surface = nil
	}
	delete(m.sessions, s.identity)
	m.logger.Debug("session torn down", "display", s.identity)
}

func (m *Manager) releasePlayer(s *session) {
	if s.player == nil {
		return
	}
	if err := s.player.Pause(); err != nil {
		m.logger.Debug("pause before close", "display", s.identity, "error", err)
	}
	if err := s.player.Close(); err != nil {
		m.logger.Warn("close player", "display", s.identity, "error", err)
	}
	s.player = nil
	s.paused = true
}

// Shutdown tears down every session.
func (m *Manager) Shutdown() {
	for _, s := range m.orderedSessions() {
		m.teardown(s)
	}
}

// Status is a read-only snapshot of one session.
type Status struct {
	Identity     platform.Identity `json:"identity"`
	Display      string            `json:"display"`
	Bounds       platform.Rect     `json:"bounds"`
	SurfaceID    uint32            `json:"surface_id"`
	Content      *media.Descriptor `json:"content,omitempty"`
	Direct       bool              `json:"direct,omitempty"`
	HasPlayer    bool              `json:"has_player"`
	Playing      bool              `json:"playing"`
	UserPaused   bool              `json:"user_paused"`
	Covered      bool              `json:"covered"`
	SaverCovered bool              `json:"saver_covered"`
}

func (m *Manager) status(s *session) Status {
	st := Status{
		Identity:   s.identity,
		Display:    s.display.Name,
		Bounds:     s.display.Bounds,
		HasPlayer:  s.player != nil,
		Playing:    s.player != nil && !s.paused,
		UserPaused: s.userPaused,
	}
	if s.surface != nil {
		st.SurfaceID = s.surface.ID()
	}
	if s.content != nil {
		d := s.content.Clone()
		st.Content = &d
	}
	if s.resource != nil {
		st.Direct = s.resource.Direct
	}
	if s.occlusion != nil {
		st.Covered = s.occlusion.covered
	}
	if s.saver != nil {
		st.SaverCovered = s.saver.covered
	}
	return st
}

// Sessions returns a snapshot of every session in discovery order.
func (m *Manager) Sessions() []Status {
	ordered := m.orderedSessions()
	out := make([]Status, len(ordered))
	for i, s := range ordered {
		out[i] = m.status(s)
	}
	return out
}

// Descriptor returns the content shown on id.
func (m *Manager) Descriptor(id platform.Identity) (media.Descriptor, bool) {
	s, ok := m.sessions[id]
	if !ok || s.content == nil {
		return media.Descriptor{}, false
	}
	return s.content.Clone(), true
}

// Relocated returns the descriptor kept for a detached display.
func (m *Manager) Relocated(id platform.Identity) (media.Descriptor, bool) {
	d, ok := m.relocated[id]
	return d, ok
}

// Mode returns the current policy mode.
func (m *Manager) Mode() policy.Mode { return m.mode }

// Muted reports the global mute flag.
func (m *Manager) Muted() bool { return m.muted }

// ScreensaverActive reports whether the screensaver owns the surfaces.
func (m *Manager) ScreensaverActive() bool { return m.screensaverActive }

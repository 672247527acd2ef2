package session

import (
	"fmt"

	"github.com/1broseidon/backdrop/internal/notify"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/policy"
)

// UpdatePlaybackStateForAllScreens is the single entry point for playback
// policy. It snapshots coverage for every session, decides them all at once
// and then applies the decisions.
func (m *Manager) UpdatePlaybackStateForAllScreens() {
	covered := make(map[platform.Identity]bool, len(m.sessions))
	for id, s := range m.sessions {
		covered[id] = !m.probesHidden && s.occlusion != nil && s.occlusion.covered
	}
	decisions := policy.Evaluate(m.mode, covered, m.screensaverActive)

	for _, s := range m.orderedSessions() {
		if s.player == nil {
			continue
		}
		play := decisions[s.identity] == policy.Play
		if s.userPaused && !m.screensaverActive {
			play = false
		}
		if m.suspended {
			play = false
		}
		m.setPlaying(s, play)
	}
}

func (m *Manager) setPlaying(s *session, play bool) {
	if s.player == nil || play == !s.paused {
		return
	}
	if play {
		if err := s.player.Play(); err != nil {
			m.logger.Warn("resume playback", "display", s.identity, "error", err)
			return
		}
		s.paused = false
	} else {
		if err := s.player.Pause(); err != nil {
			m.logger.Warn("pause playback", "display", s.identity, "error", err)
			return
		}
		s.paused = true
	}
	m.logger.Debug("playback changed", "display", s.identity, "playing", play, "mode", m.mode)
	m.publish(notify.PlaybackChanged, s.identity)
}

// SetMode selects the policy mode and re-evaluates every session.
func (m *Manager) SetMode(mode policy.Mode) {
	if m.mode == mode {
		return
	}
	m.logger.Info("playback policy changed", "from", m.mode, "to", mode)
	m.mode = mode
	m.UpdatePlaybackStateForAllScreens()
}

// Play clears a user pause on id and lets policy decide.
func (m *Manager) Play(id platform.Identity) error {
	s, err := m.contentSession(id)
	if err != nil {
		return err
	}
	s.userPaused = false
	m.UpdatePlaybackStateForAllScreens()
	return nil
}

// Pause pauses id until Play is called. The pause outlasts policy changes.
func (m *Manager) Pause(id platform.Identity) error {
	s, err := m.contentSession(id)
	if err != nil {
		return err
	}
	s.userPaused = true
	m.UpdatePlaybackStateForAllScreens()
	return nil
}

// Suspend pauses every session for system sleep.
func (m *Manager) Suspend() {
	m.suspended = true
	m.UpdatePlaybackStateForAllScreens()
}

// Resume lifts Suspend and resumes whatever policy allows.
func (m *Manager) Resume() {
	m.suspended = false
	m.UpdatePlaybackStateForAllScreens()
}

// Suspended reports whether playback is held for sleep.
func (m *Manager) Suspended() bool { return m.suspended }

// Probes returns the visible probes in discovery order together with the
// surface windows coverage checks must ignore.
func (m *Manager) Probes() ([]Probe, []uint32) {
	var probes []Probe
	var exclude []uint32
	for _, s := range m.orderedSessions() {
		if s.surface != nil {
			exclude = append(exclude, s.surface.ID())
		}
		if m.probesHidden || s.occlusion == nil {
			continue
		}
		probes = append(probes,
			Probe{Identity: s.identity, Kind: ProbeOcclusion, Region: s.occlusion.region},
			Probe{Identity: s.identity, Kind: ProbeScreensaver, Region: s.saver.region},
		)
	}
	return probes, exclude
}

// ProbeResult is the measured coverage of one probe.
type ProbeResult struct {
	Probe
	Covered bool
}

// SetProbeCoverage stores measured coverage. It reports whether any
// occlusion probe and whether any screensaver probe changed. Results for
// sessions that no longer exist, or whose probe moved, are ignored.
func (m *Manager) SetProbeCoverage(results []ProbeResult) (occlusionChanged, saverChanged bool) {
	if m.probesHidden {
		return false, false
	}
	for _, r := range results {
		s, ok := m.sessions[r.Identity]
		if !ok || s.occlusion == nil {
			continue
		}
		p := s.occlusion
		if r.Kind == ProbeScreensaver {
			p = s.saver
		}
		if p.region != r.Region || p.covered == r.Covered {
			continue
		}
		p.covered = r.Covered
		m.logger.Debug("probe coverage changed", "display", r.Identity, "probe", r.Kind, "covered", r.Covered)
		if r.Kind == ProbeScreensaver {
			saverChanged = true
		} else {
			occlusionChanged = true
		}
	}
	return occlusionChanged, saverChanged
}

// HasAnyContent reports whether at least one display shows content.
func (m *Manager) HasAnyContent() bool {
	for _, s := range m.sessions {
		if s.content != nil {
			return true
		}
	}
	return false
}

// AnySaverProbeCovered reports whether something already hides the middle
// of any display.
func (m *Manager) AnySaverProbeCovered() bool {
	if m.probesHidden {
		return false
	}
	for _, s := range m.sessions {
		if s.saver != nil && s.saver.covered {
			return true
		}
	}
	return false
}

// SessionDisplays returns the displays that currently have a session.
func (m *Manager) SessionDisplays() []platform.Display {
	ordered := m.orderedSessions()
	out := make([]platform.Display, 0, len(ordered))
	for _, s := range ordered {
		out = append(out, s.display)
	}
	return out
}

// PromoteSurfaces lifts every surface above all windows with pointer input
// passing through. Surfaces created while promoted are promoted too.
func (m *Manager) PromoteSurfaces() error {
	if m.promoted {
		return nil
	}
	m.promoted = true
	return m.eachSurface("promote", func(s platform.Surface) error { return s.Promote() })
}

// DemoteSurfaces returns every surface to desktop level.
func (m *Manager) DemoteSurfaces() error {
	if !m.promoted {
		return nil
	}
	m.promoted = false
	return m.eachSurface("demote", func(s platform.Surface) error { return s.Demote() })
}

// Promoted reports whether surfaces are lifted for the screensaver.
func (m *Manager) Promoted() bool { return m.promoted }

// SetSurfaceOpacity sets the opacity of every surface.
func (m *Manager) SetSurfaceOpacity(opacity float64) error {
	return m.eachSurface("set opacity", func(s platform.Surface) error { return s.SetOpacity(opacity) })
}

func (m *Manager) eachSurface(op string, fn func(platform.Surface) error) error {
	var first error
	for _, s := range m.orderedSessions() {
		if s.surface == nil {
			continue
		}
		if err := fn(s.surface); err != nil {
			m.logger.Warn(op+" surface", "display", s.identity, "error", err)
			if first == nil {
				first = fmt.Errorf("%s surface on %s: %w", op, s.identity, err)
			}
		}
	}
	return first
}

// SetProbesHidden hides or restores every probe. Hidden probes never report
// coverage, so the screensaver covering the desktop cannot pause playback.
func (m *Manager) SetProbesHidden(hidden bool) {
	if m.probesHidden == hidden {
		return
	}
	m.probesHidden = hidden
	for _, s := range m.sessions {
		if s.occlusion != nil {
			s.occlusion.covered = false
			s.saver.covered = false
		}
	}
	m.UpdatePlaybackStateForAllScreens()
}

// ProbesHidden reports whether probes are hidden.
func (m *Manager) ProbesHidden() bool { return m.probesHidden }

// SetScreensaverActive records screensaver state and re-evaluates playback.
func (m *Manager) SetScreensaverActive(active bool) {
	if m.screensaverActive == active {
		return
	}
	m.screensaverActive = active
	m.publish(notify.ScreensaverChanged, "")
	m.UpdatePlaybackStateForAllScreens()
}

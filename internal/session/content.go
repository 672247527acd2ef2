package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/notify"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/player"
	"github.com/1broseidon/backdrop/internal/store"
)

// Assign shows d on the display. When the display already shows the same
// locator only stretch and volume are updated and playback resumes.
// Otherwise the old player is released, the new resource is loaded and a
// record is persisted. On failure the previous content is left in place.
func (m *Manager) Assign(id platform.Identity, d media.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if !m.Connected(id) {
		return fmt.Errorf("%w: %s", ErrUnknownDisplay, id)
	}
	if s, ok := m.sessions[id]; ok && m.canReuse(s, d) {
		if s, err := m.ensure(id); err == nil && m.canReuse(s, d) {
			m.updateInPlace(s, d)
			return nil
		}
	}
	return m.show(id, d, true)
}

func (m *Manager) canReuse(s *session, d media.Descriptor) bool {
	return s.content != nil &&
		s.content.Locator == d.Locator &&
		s.content.Kind == d.Kind &&
		s.player != nil &&
		s.player.Alive()
}

func (m *Manager) updateInPlace(s *session, d media.Descriptor) {
	next := d.Clone()
	s.content = &next
	if err := s.player.SetStretch(next.Stretch); err != nil {
		m.logger.Warn("update stretch", "display", s.identity, "error", err)
	}
	if err := s.player.SetVolume(m.volumeFor(s)); err != nil {
		m.logger.Warn("update volume", "display", s.identity, "error", err)
	}
	s.userPaused = false
	m.persist(s)
	m.publish(notify.ContentChanged, s.identity)
	m.UpdatePlaybackStateForAllScreens()
}

// show loads d onto the display's session, creating the session if needed.
// A session left without content by a failure is torn down.
func (m *Manager) show(id platform.Identity, d media.Descriptor, persist bool) error {
	s, err := m.ensure(id)
	if err != nil {
		return err
	}
	if err := m.load(s, d); err != nil {
		m.logger.Warn("content not shown", "display", id, "locator", d.Locator, "error", err)
		if s.content == nil {
			m.teardown(s)
		}
		m.UpdatePlaybackStateForAllScreens()
		return err
	}
	s.userPaused = false
	delete(m.relocated, id)
	delete(m.cleared, id)
	if persist {
		m.persist(s)
	}
	m.publish(notify.ContentChanged, id)
	m.UpdatePlaybackStateForAllScreens()
	return nil
}

// load swaps the session's player for one showing d. The new player starts
// paused; policy evaluation decides whether it plays.
func (m *Manager) load(s *session, d media.Descriptor) error {
	res, err := m.loader.Load(d)
	if err != nil {
		return fmt.Errorf("load %s: %w", d.Locator, err)
	}

	prevContent, prevResource := s.content, s.resource
	s.gen++
	m.releasePlayer(s)

	next := d.Clone()
	p, err := m.engine.Open(m.ctx, s.surface, res, m.playerOptions(next))
	if err != nil {
		m.reopen(s, prevContent, prevResource)
		return fmt.Errorf("open player for %s: %w", d.Locator, err)
	}

	if prevContent == nil || prevContent.Locator != d.Locator {
		s.token = nil
	}
	s.player = p
	s.paused = true
	s.content = &next
	s.resource = res
	if err := s.surface.Show(); err != nil {
		m.logger.Warn("show surface", "display", s.identity, "error", err)
	}
	m.logger.Info("content loaded", "display", s.identity, "locator", d.Locator,
		"kind", d.Kind, "direct", res.Direct)
	return nil
}

// reopen brings back the previous content after a failed swap.
func (m *Manager) reopen(s *session, content *media.Descriptor, res *media.Resource) {
	if content == nil || res == nil {
		return
	}
	p, err := m.engine.Open(m.ctx, s.surface, res, m.playerOptions(*content))
	if err != nil {
		m.logger.Error("previous content could not be reopened", "display", s.identity, "error", err)
		s.content = nil
		s.resource = nil
		return
	}
	s.player = p
	s.paused = true
}

func (m *Manager) playerOptions(d media.Descriptor) player.Options {
	vol := d.EffectiveVolume()
	if m.muted {
		vol = 0
	}
	return player.Options{Stretch: d.Stretch, Volume: vol, StartPaused: true}
}

func (m *Manager) volumeFor(s *session) float64 {
	if m.muted || s.content == nil {
		return 0
	}
	return s.content.EffectiveVolume()
}

// persist writes the session's record, creating a bookmark token for new
// content.
func (m *Manager) persist(s *session) {
	if m.records == nil || s.content == nil {
		return
	}
	if s.token == nil && m.bookmarks != nil && s.resource != nil {
		tok, err := m.bookmarks.Create(s.resource.Path)
		if err != nil {
			m.logger.Warn("bookmark content", "display", s.identity, "path", s.resource.Path, "error", err)
		} else {
			s.token = tok
		}
	}
	rec := store.Record{
		Identity: s.identity,
		Token:    s.token,
		Locator:  s.content.Locator,
		Kind:     s.content.Kind,
		Stretch:  s.content.Stretch,
	}
	if s.content.Volume != nil {
		v := *s.content.Volume
		rec.Volume = &v
	}
	if err := m.records.Put(rec); err != nil {
		m.logger.Error("persist display record", "display", s.identity, "error", err)
	}
}

// Clear releases the session for id. purge also removes the persisted
// record; keep retains the descriptor in memory so the content can be shown
// again when the display returns. Without keep the display is left alone by
// Heal until content is assigned again.
func (m *Manager) Clear(id platform.Identity, purge, keep bool) error {
	s, ok := m.sessions[id]
	if ok {
		if keep && s.content != nil {
			m.relocated[id] = s.content.Clone()
		}
		m.teardown(s)
	}
	if !keep {
		delete(m.relocated, id)
		m.cleared[id] = true
	}
	if purge && m.records != nil {
		if err := m.records.Delete(id); err != nil {
			return fmt.Errorf("delete record for %s: %w", id, err)
		}
	}
	if ok || purge {
		m.publish(notify.ContentChanged, id)
	}
	m.UpdatePlaybackStateForAllScreens()
	return nil
}

// Detach tears down the session of a disconnected display, keeping its
// descriptor for reattachment. The persisted record is left alone.
func (m *Manager) Detach(id platform.Identity) {
	if !m.Has(id) {
		return
	}
	m.logger.Info("detaching session from disconnected display", "display", id)
	if err := m.Clear(id, false, true); err != nil {
		m.logger.Warn("detach session", "display", id, "error", err)
	}
}

// Restore replays the recovery chain for a connected display and reports
// whether content was shown.
func (m *Manager) Restore(id platform.Identity) bool {
	if m.recovery == nil || !m.Connected(id) {
		return false
	}
	ok := m.recovery.Restore(id, func(d media.Descriptor) error {
		return m.show(id, d, false)
	})
	if !ok {
		return false
	}
	if s, exists := m.sessions[id]; exists && m.records != nil {
		if rec, err := m.records.Get(id); err == nil {
			s.token = rec.Token
		}
	}
	return true
}

// Reattach shows content on a newly connected display, preferring the
// descriptor kept when it was detached and falling back to the recovery
// chain.
func (m *Manager) Reattach(id platform.Identity) bool {
	delete(m.cleared, id)
	if d, ok := m.relocated[id]; ok {
		if err := m.show(id, d, false); err == nil {
			return true
		}
		delete(m.relocated, id)
	}
	return m.Restore(id)
}

// Heal repairs a display that should show content but does not. The
// recovery chain runs first; a descriptor still held in memory is the
// fallback.
func (m *Manager) Heal(id platform.Identity) bool {
	if m.cleared[id] {
		return false
	}
	var inMemory *media.Descriptor
	if s, ok := m.sessions[id]; ok && s.content != nil {
		d := s.content.Clone()
		inMemory = &d
	} else if d, ok := m.relocated[id]; ok {
		inMemory = &d
	}
	if m.Restore(id) {
		return true
	}
	if inMemory != nil {
		return m.show(id, *inMemory, false) == nil
	}
	return false
}

// BlackScreens lists connected displays that should show content but are
// missing a surface or a live player. Displays the user cleared are skipped.
func (m *Manager) BlackScreens() []platform.Identity {
	seen := make(map[platform.Identity]bool)
	var out []platform.Identity
	broken := func(id platform.Identity) bool {
		s, ok := m.sessions[id]
		return !ok || s.surface == nil || s.content == nil || s.player == nil || !s.player.Alive()
	}
	if m.records != nil {
		recs, err := m.records.List()
		if err != nil {
			m.logger.Warn("list display records", "error", err)
		}
		for _, rec := range recs {
			if m.cleared[rec.Identity] {
				continue
			}
			if m.Connected(rec.Identity) && broken(rec.Identity) && !seen[rec.Identity] {
				seen[rec.Identity] = true
				out = append(out, rec.Identity)
			}
		}
	}
	for id, s := range m.sessions {
		if s.content != nil && broken(id) && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	m.sortByDiscovery(out)
	return out
}

// TouchRecords refreshes the timestamp of every live session's record so
// displays in use never age out of the retention window.
func (m *Manager) TouchRecords() {
	if m.records == nil {
		return
	}
	for _, s := range m.orderedSessions() {
		if s.content == nil {
			continue
		}
		err := m.records.Touch(s.identity)
		if errors.Is(err, store.ErrNotFound) {
			m.persist(s)
		} else if err != nil {
			m.logger.Warn("refresh display record", "display", s.identity, "error", err)
		}
	}
}

func (m *Manager) contentSession(id platform.Identity) (*session, error) {
	s, ok := m.sessions[id]
	if !ok || s.content == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return s, nil
}

// SetVolume changes one display's volume. A non-zero volume cancels the
// global mute.
func (m *Manager) SetVolume(id platform.Identity, volume float64) error {
	s, err := m.contentSession(id)
	if err != nil {
		return err
	}
	s.content.Volume = media.Volume(volume)
	if *s.content.Volume > 0 && m.muted {
		m.muted = false
		m.logger.Info("global mute cancelled by per-display volume", "display", id)
		m.applyVolumes()
	} else if s.player != nil {
		if err := s.player.SetVolume(m.volumeFor(s)); err != nil {
			m.logger.Warn("set volume", "display", id, "error", err)
		}
	}
	m.persist(s)
	m.publish(notify.ContentChanged, id)
	return nil
}

// SetGlobalVolume sets every display to the same volume.
func (m *Manager) SetGlobalVolume(volume float64) {
	volume = media.ClampVolume(volume)
	sessions := m.orderedSessions()
	for _, s := range sessions {
		if s.content == nil {
			continue
		}
		s.content.Volume = media.Volume(volume)
		m.persist(s)
	}
	if volume > 0 {
		m.muted = false
	}
	m.applyVolumes()
	m.publish(notify.ContentChanged, "")
}

// MuteAll silences every display without touching their stored volumes.
func (m *Manager) MuteAll() {
	m.muted = true
	m.applyVolumes()
	m.publish(notify.PlaybackChanged, "")
}

// RestoreAll lifts the global mute, returning each display to its own
// volume.
func (m *Manager) RestoreAll() {
	m.muted = false
	m.applyVolumes()
	m.publish(notify.PlaybackChanged, "")
}

func (m *Manager) applyVolumes() {
	for _, s := range m.orderedSessions() {
		if s.player == nil {
			continue
		}
		if err := s.player.SetVolume(m.volumeFor(s)); err != nil {
			m.logger.Warn("apply volume", "display", s.identity, "error", err)
		}
	}
}

// SetStretch toggles stretch-to-fill on one display.
func (m *Manager) SetStretch(id platform.Identity, stretch bool) error {
	s, err := m.contentSession(id)
	if err != nil {
		return err
	}
	s.content.Stretch = stretch
	if s.player != nil {
		if err := s.player.SetStretch(stretch); err != nil {
			m.logger.Warn("set stretch", "display", id, "error", err)
		}
	}
	m.persist(s)
	m.publish(notify.ContentChanged, id)
	return nil
}

type syncPlan struct {
	position   time.Duration
	paused     bool
	userPaused bool
	followers  []*session
}

// SyncSameNamed aligns displays showing files with the same name. Within
// each group the first display by discovery order is the reference; every
// other member seeks to its position and takes its play state. It returns
// the number of displays asked to align.
func (m *Manager) SyncSameNamed() int {
	groups := make(map[string][]*session)
	var names []string
	for _, s := range m.orderedSessions() {
		if s.content == nil || s.player == nil {
			continue
		}
		name := s.content.Name()
		if _, ok := groups[name]; !ok {
			names = append(names, name)
		}
		groups[name] = append(groups[name], s)
	}

	var plans []syncPlan
	for _, name := range names {
		members := groups[name]
		if len(members) < 2 {
			continue
		}
		ref := members[0]
		pos, err := ref.player.Position()
		if err != nil {
			m.logger.Warn("read reference position", "display", ref.identity, "file", name, "error", err)
			continue
		}
		plans = append(plans, syncPlan{
			position:   pos,
			paused:     ref.paused,
			userPaused: ref.userPaused,
			followers:  members[1:],
		})
	}

	aligned := 0
	for _, plan := range plans {
		for _, s := range plan.followers {
			m.align(s, plan)
			aligned++
		}
	}
	return aligned
}

// align seeks off the loop and applies the play state when the seek
// completes, unless the session changed in the meantime.
func (m *Manager) align(s *session, plan syncPlan) {
	id, gen, p := s.identity, s.gen, s.player
	go func() {
		err := p.Seek(m.ctx, plan.position)
		m.loop.Post(func() {
			cur, ok := m.sessions[id]
			if !ok || cur.gen != gen || cur.player != p {
				m.logger.Debug("dropping stale seek completion", "display", id)
				return
			}
			if err != nil {
				m.logger.Warn("seek for sync", "display", id, "error", err)
				return
			}
			cur.userPaused = plan.userPaused
			if plan.paused {
				m.setPlaying(cur, false)
				return
			}
			m.setPlaying(cur, true)
			m.UpdatePlaybackStateForAllScreens()
		})
	}()
}

func (m *Manager) publish(kind notify.Kind, id platform.Identity) {
	m.bus.Publish(notify.Event{Kind: kind, Identity: id})
}

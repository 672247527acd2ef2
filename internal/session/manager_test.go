package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/backdrop/internal/loop"
	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/notify"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/platform/platformtest"
	"github.com/1broseidon/backdrop/internal/player/playertest"
	"github.com/1broseidon/backdrop/internal/policy"
	"github.com/1broseidon/backdrop/internal/recovery"
	"github.com/1broseidon/backdrop/internal/store"
)

var mp4Header = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2', 0, 0, 0, 0, 'm', 'p', '4', '2', 'i', 's', 'o', 'm'}

type harness struct {
	t       *testing.T
	dir     string
	clock   *clockwork.FakeClock
	loop    *loop.Loop
	backend *platformtest.Backend
	engine  *playertest.Engine
	store   *store.Store
	logger  *slog.Logger
	m       *Manager
}

func newHarness(t *testing.T, displays ...platform.Display) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		dir:     t.TempDir(),
		clock:   clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		backend: platformtest.NewBackend(displays...),
		engine:  playertest.NewEngine(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.loop = loop.New(h.clock, h.logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	st, err := store.Open(store.Options{Clock: h.clock, Logger: h.logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	h.store = st

	h.m = h.newManager(policy.AlwaysPlay)
	h.do(func(m *Manager) { m.SetDisplays(displays) })
	return h
}

// newManager builds a manager sharing the harness store, as a restarted
// process would.
func (h *harness) newManager(mode policy.Mode) *Manager {
	h.t.Helper()
	m, err := NewManager(Config{
		Loop:      h.loop,
		Surfaces:  h.backend,
		Engine:    h.engine,
		Loader:    media.NewLoader(0, 0),
		Records:   h.store,
		Bookmarks: store.FileBookmarker{},
		Recovery:  recovery.New(h.store, store.FileBookmarker{}, h.logger),
		Mode:      mode,
		Logger:    h.logger,
	})
	require.NoError(h.t, err)
	return m
}

func (h *harness) do(fn func(m *Manager)) {
	h.t.Helper()
	h.doWith(h.m, fn)
}

func (h *harness) doWith(m *Manager, fn func(m *Manager)) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Call(context.Background(), func() error {
		fn(m)
		return nil
	}))
}

func (h *harness) video(name string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, mp4Header, 0o644))
	return path
}

func (h *harness) assign(id platform.Identity, d media.Descriptor) error {
	h.t.Helper()
	var err error
	h.do(func(m *Manager) { err = m.Assign(id, d) })
	return err
}

func (h *harness) status(id platform.Identity) Status {
	h.t.Helper()
	var out Status
	found := false
	h.do(func(m *Manager) {
		for _, st := range m.Sessions() {
			if st.Identity == id {
				out, found = st, true
			}
		}
	})
	require.True(h.t, found, "no session for %s", id)
	return out
}

func videoOf(path string) media.Descriptor {
	return media.Descriptor{Kind: media.KindVideo, Locator: path}
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	require.NoError(t, h.assign("A", videoOf(h.video("beach.mp4"))))

	var first, second Status
	h.do(func(m *Manager) {
		var err error
		first, err = m.EnsureSession("A")
		require.NoError(t, err)
		second, err = m.EnsureSession("A")
		require.NoError(t, err)
	})
	require.Equal(t, first.SurfaceID, second.SurfaceID)
	require.Len(t, h.backend.Surfaces, 1)
	require.Equal(t, 1, h.engine.Opened())
}

func TestEnsureSessionRebuildsStaleSurface(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	path := h.video("beach.mp4")
	require.NoError(t, h.assign("A", videoOf(path)))
	oldSurface := h.backend.Surfaces[0]
	oldPlayer := h.engine.Last()

	moved := platformtest.Display("A", 1)
	var diff TopologyDiff
	h.do(func(m *Manager) {
		diff = m.SetDisplays([]platform.Display{moved})
		_, err := m.EnsureSession("A")
		require.NoError(t, err)
	})
	require.Equal(t, []platform.Identity{"A"}, diff.Moved)

	require.True(t, oldSurface.IsDestroyed())
	require.True(t, oldPlayer.Closed())
	st := h.status("A")
	require.Equal(t, moved.Bounds, st.Bounds)
	require.NotEqual(t, oldSurface.ID(), st.SurfaceID)
	require.Equal(t, path, st.Content.Locator)
	require.True(t, st.Playing)
	require.Equal(t, 2, h.engine.Opened())
}

func TestAssignFastPathReusesPlayer(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	path := h.video("beach.mp4")
	require.NoError(t, h.assign("A", videoOf(path)))
	p := h.engine.Last()

	h.do(func(m *Manager) { require.NoError(t, m.Pause("A")) })
	require.False(t, p.Playing())

	require.NoError(t, h.assign("A", media.Descriptor{Kind: media.KindVideo, Locator: path, Stretch: true, Volume: media.Volume(0.7)}))
	require.Equal(t, 1, h.engine.Opened())
	require.True(t, p.Playing())
	require.True(t, p.Stretch())
	require.InDelta(t, 0.7, p.Volume(), 1e-9)

	rec, err := h.store.Get("A")
	require.NoError(t, err)
	require.True(t, rec.Stretch)
}

func TestAssignSlowPathReplacesPlayer(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	events, cancel := h.m.Bus().Subscribe(16)
	defer cancel()

	require.NoError(t, h.assign("A", videoOf(h.video("beach.mp4"))))
	first := h.engine.Last()
	forest := h.video("forest.mp4")
	require.NoError(t, h.assign("A", videoOf(forest)))

	require.True(t, first.Closed())
	require.Equal(t, []string{"play", "pause", "close"}, first.Calls())
	require.Equal(t, 2, h.engine.Opened())
	require.True(t, h.engine.Last().Playing())

	rec, err := h.store.Get("A")
	require.NoError(t, err)
	require.Equal(t, forest, rec.Locator)
	require.NotEmpty(t, rec.Token)

	var changed int
	for len(events) > 0 {
		if e := <-events; e.Kind == notify.ContentChanged && e.Identity == "A" {
			changed++
		}
	}
	require.Equal(t, 2, changed)
}

func TestAssignLoadFailureKeepsPreviousContent(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	path := h.video("beach.mp4")
	require.NoError(t, h.assign("A", videoOf(path)))
	p := h.engine.Last()

	err := h.assign("A", videoOf(filepath.Join(h.dir, "missing.mp4")))
	require.ErrorIs(t, err, media.ErrUnreadable)

	require.False(t, p.Closed())
	require.True(t, p.Playing())
	require.Equal(t, path, h.status("A").Content.Locator)
}

func TestAssignFailureOnNewDisplayLeavesNoSession(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	notes := filepath.Join(h.dir, "notes.mp4")
	require.NoError(t, os.WriteFile(notes, []byte("just some text\n"), 0o644))

	err := h.assign("A", videoOf(notes))
	require.ErrorIs(t, err, media.ErrUnsupported)
	h.do(func(m *Manager) { require.False(t, m.Has("A")) })
	require.Empty(t, h.backend.LiveSurfaces())
}

func TestAssignOpenFailureReopensPrevious(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	beach := h.video("beach.mp4")
	forest := h.video("forest.mp4")
	require.NoError(t, h.assign("A", videoOf(beach)))
	h.engine.SetFail(forest, true)

	require.Error(t, h.assign("A", videoOf(forest)))
	st := h.status("A")
	require.Equal(t, beach, st.Content.Locator)
	require.True(t, st.HasPlayer)
	require.Equal(t, beach, h.engine.Last().Locator)
	require.True(t, h.engine.Last().Playing())
}

func TestAssignUnknownDisplay(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	require.ErrorIs(t, h.assign("B", videoOf(h.video("beach.mp4"))), ErrUnknownDisplay)
}

func TestRestoreAfterRestartRoundTrip(t *testing.T) {
	display := platformtest.Display("A", 0)
	h := newHarness(t, display)
	want := media.Descriptor{Kind: media.KindVideo, Locator: h.video("beach.mp4"), Stretch: true, Volume: media.Volume(0.25)}
	require.NoError(t, h.assign("A", want))
	h.do(func(m *Manager) { m.Shutdown() })

	h.clock.Advance(23 * time.Hour)
	restarted := h.newManager(policy.AlwaysPlay)
	var restored bool
	var got media.Descriptor
	h.doWith(restarted, func(m *Manager) {
		m.SetDisplays([]platform.Display{display})
		restored = m.Restore("A")
		got, _ = m.Descriptor("A")
	})
	require.True(t, restored)
	require.Equal(t, want, got)
}

func TestRestoreIgnoresExpiredRecord(t *testing.T) {
	display := platformtest.Display("A", 0)
	h := newHarness(t, display)
	require.NoError(t, h.assign("A", videoOf(h.video("beach.mp4"))))
	h.do(func(m *Manager) { m.Shutdown() })

	h.clock.Advance(25 * time.Hour)
	restarted := h.newManager(policy.AlwaysPlay)
	h.doWith(restarted, func(m *Manager) {
		m.SetDisplays([]platform.Display{display})
		require.False(t, m.Restore("A"))
		require.False(t, m.Has("A"))
	})
	_, err := h.store.Get("A")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetVolumeCancelsGlobalMute(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0), platformtest.Display("B", 1))
	require.NoError(t, h.assign("A", media.Descriptor{Kind: media.KindVideo, Locator: h.video("a.mp4"), Volume: media.Volume(0.5)}))
	require.NoError(t, h.assign("B", media.Descriptor{Kind: media.KindVideo, Locator: h.video("b.mp4"), Volume: media.Volume(0.8)}))
	a, b := h.engine.Players[0], h.engine.Players[1]

	h.do(func(m *Manager) {
		m.MuteAll()
		require.True(t, m.Muted())
	})
	require.Zero(t, a.Volume())
	require.Zero(t, b.Volume())

	h.do(func(m *Manager) {
		require.NoError(t, m.SetVolume("A", 0.3))
		require.False(t, m.Muted())
	})
	require.InDelta(t, 0.3, a.Volume(), 1e-9)
	require.InDelta(t, 0.8, b.Volume(), 1e-9)
}

func TestSetZeroVolumeKeepsMute(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	require.NoError(t, h.assign("A", media.Descriptor{Kind: media.KindVideo, Locator: h.video("a.mp4"), Volume: media.Volume(0.5)}))
	h.do(func(m *Manager) {
		m.MuteAll()
		require.NoError(t, m.SetVolume("A", 0))
		require.True(t, m.Muted())
	})
}

func TestMuteAllThenRestoreAll(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0), platformtest.Display("B", 1))
	require.NoError(t, h.assign("A", media.Descriptor{Kind: media.KindVideo, Locator: h.video("a.mp4"), Volume: media.Volume(0.6)}))
	require.NoError(t, h.assign("B", media.Descriptor{Kind: media.KindVideo, Locator: h.video("b.mp4"), Volume: media.Volume(0)}))
	a, b := h.engine.Players[0], h.engine.Players[1]

	h.do(func(m *Manager) {
		m.MuteAll()
		m.RestoreAll()
		require.False(t, m.Muted())
	})
	require.InDelta(t, 0.6, a.Volume(), 1e-9)
	require.Zero(t, b.Volume())
}

func TestSetGlobalVolume(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0), platformtest.Display("B", 1))
	require.NoError(t, h.assign("A", videoOf(h.video("a.mp4"))))
	require.NoError(t, h.assign("B", videoOf(h.video("b.mp4"))))

	h.do(func(m *Manager) {
		m.MuteAll()
		m.SetGlobalVolume(0.4)
		require.False(t, m.Muted())
	})
	for _, p := range h.engine.Players {
		require.InDelta(t, 0.4, p.Volume(), 1e-9)
	}
	rec, err := h.store.Get("B")
	require.NoError(t, err)
	require.InDelta(t, 0.4, *rec.Volume, 1e-9)
}

func TestSyncSameNamedAlignsMatchingFiles(t *testing.T) {
	h := newHarness(t,
		platformtest.Display("A", 0),
		platformtest.Display("B", 1),
		platformtest.Display("C", 2),
	)
	beach := h.video("beach.mp4")
	require.NoError(t, h.assign("A", videoOf(beach)))
	require.NoError(t, h.assign("B", videoOf(beach)))
	require.NoError(t, h.assign("C", videoOf(h.video("forest.mp4"))))
	a, b, c := h.engine.Players[0], h.engine.Players[1], h.engine.Players[2]

	a.SetPosition(42 * time.Second)
	h.do(func(m *Manager) { require.NoError(t, m.Pause("B")) })

	var aligned int
	h.do(func(m *Manager) { aligned = m.SyncSameNamed() })
	require.Equal(t, 1, aligned)

	require.Eventually(t, func() bool {
		h.do(func(*Manager) {})
		return b.Playing()
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []time.Duration{42 * time.Second}, b.Seeks())
	require.Empty(t, a.Seeks())
	require.Empty(t, c.Seeks())
	require.False(t, h.status("B").UserPaused)
}

func TestSyncFollowsPausedReference(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0), platformtest.Display("B", 1))
	beach := h.video("beach.mp4")
	require.NoError(t, h.assign("A", videoOf(beach)))
	require.NoError(t, h.assign("B", videoOf(beach)))
	b := h.engine.Players[1]

	h.do(func(m *Manager) {
		require.NoError(t, m.Pause("A"))
		m.SyncSameNamed()
	})
	require.Eventually(t, func() bool {
		h.do(func(*Manager) {})
		return !b.Playing() && len(b.Seeks()) == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, h.status("B").UserPaused)
}

func TestSyncDropsStaleCompletion(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0), platformtest.Display("B", 1))
	beach := h.video("beach.mp4")
	require.NoError(t, h.assign("A", videoOf(beach)))
	require.NoError(t, h.assign("B", videoOf(beach)))
	b := h.engine.Players[1]
	release := b.HoldSeeks()

	h.do(func(m *Manager) {
		require.NoError(t, m.Pause("A"))
		m.SyncSameNamed()
	})
	// Replacing B's content supersedes the pending seek.
	require.NoError(t, h.assign("B", videoOf(h.video("forest.mp4"))))
	release()

	require.Eventually(t, func() bool { return len(b.Seeks()) == 1 }, time.Second, 5*time.Millisecond)
	for i := 0; i < 5; i++ {
		h.do(func(*Manager) {})
	}
	st := h.status("B")
	require.False(t, st.UserPaused)
	require.True(t, st.Playing)
}

func TestPolicyPowerSavePlusPausesEverySession(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0), platformtest.Display("B", 1), platformtest.Display("C", 2))
	for _, id := range []platform.Identity{"A", "B", "C"} {
		require.NoError(t, h.assign(id, videoOf(h.video(string(id)+".mp4"))))
	}

	h.do(func(m *Manager) {
		m.SetMode(policy.PowerSavePlus)
		probes, exclude := m.Probes()
		require.Len(t, probes, 6)
		require.Len(t, exclude, 3)
		var results []ProbeResult
		for _, p := range probes {
			results = append(results, ProbeResult{Probe: p, Covered: p.Identity == "A" && p.Kind == ProbeOcclusion})
		}
		occ, saver := m.SetProbeCoverage(results)
		require.True(t, occ)
		require.False(t, saver)
		m.UpdatePlaybackStateForAllScreens()
	})
	for _, p := range h.engine.Players {
		require.False(t, p.Playing(), "%s should be paused", p.Locator)
	}

	h.do(func(m *Manager) { m.SetMode(policy.PowerSave) })
	for _, p := range h.engine.Players {
		require.True(t, p.Playing(), "%s should be playing", p.Locator)
	}

	h.do(func(m *Manager) { m.SetMode(policy.Automatic) })
	require.False(t, h.engine.Players[0].Playing())
	require.True(t, h.engine.Players[1].Playing())
}

func TestUserPauseIsStickyButScreensaverPlays(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	require.NoError(t, h.assign("A", videoOf(h.video("beach.mp4"))))
	p := h.engine.Last()

	h.do(func(m *Manager) {
		require.NoError(t, m.Pause("A"))
		m.SetMode(policy.AlwaysPlay)
		m.UpdatePlaybackStateForAllScreens()
	})
	require.False(t, p.Playing())

	h.do(func(m *Manager) { m.SetScreensaverActive(true) })
	require.True(t, p.Playing())
	h.do(func(m *Manager) { m.SetScreensaverActive(false) })
	require.False(t, p.Playing())

	h.do(func(m *Manager) { require.NoError(t, m.Play("A")) })
	require.True(t, p.Playing())
}

func TestSuspendAndResume(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	require.NoError(t, h.assign("A", videoOf(h.video("beach.mp4"))))
	p := h.engine.Last()

	h.do(func(m *Manager) { m.Suspend() })
	require.False(t, p.Playing())
	h.do(func(m *Manager) { m.Resume() })
	require.True(t, p.Playing())
}

func TestTeardownReleasesInOrder(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	require.NoError(t, h.assign("A", videoOf(h.video("beach.mp4"))))
	p := h.engine.Last()
	surface := h.backend.Surfaces[0]

	h.do(func(m *Manager) {
		require.NoError(t, m.Clear("A", false, false))
		require.False(t, m.Has("A"))
		_, ok := m.Relocated("A")
		require.False(t, ok)
	})
	calls := p.Calls()
	require.Equal(t, []string{"pause", "close"}, calls[len(calls)-2:])
	require.True(t, surface.IsDestroyed())

	_, err := h.store.Get("A")
	require.NoError(t, err, "clear without purge keeps the record")

	h.do(func(m *Manager) { require.NoError(t, m.Clear("A", true, false)) })
	_, err = h.store.Get("A")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDetachThenReattach(t *testing.T) {
	display := platformtest.Display("A", 0)
	h := newHarness(t, display)
	want := media.Descriptor{Kind: media.KindVideo, Locator: h.video("beach.mp4"), Volume: media.Volume(0.5)}
	require.NoError(t, h.assign("A", want))

	h.do(func(m *Manager) {
		diff := m.SetDisplays(nil)
		require.Equal(t, []platform.Identity{"A"}, diff.Removed)
		m.Detach("A")
		require.False(t, m.Has("A"))
		kept, ok := m.Relocated("A")
		require.True(t, ok)
		require.Equal(t, want, kept)
	})
	require.Empty(t, h.backend.LiveSurfaces())

	h.do(func(m *Manager) {
		diff := m.SetDisplays([]platform.Display{display})
		require.Equal(t, []platform.Identity{"A"}, diff.Added)
		require.True(t, m.Reattach("A"))
		got, ok := m.Descriptor("A")
		require.True(t, ok)
		require.Equal(t, want, got)
		_, ok = m.Relocated("A")
		require.False(t, ok)
	})
	require.True(t, h.engine.Last().Playing())
}

func TestBlackScreenDetectionAndHeal(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0), platformtest.Display("B", 1))
	path := h.video("beach.mp4")
	require.NoError(t, h.assign("A", videoOf(path)))
	require.NoError(t, h.assign("B", videoOf(h.video("forest.mp4"))))

	h.do(func(m *Manager) { require.Empty(t, m.BlackScreens()) })

	h.engine.Players[0].Kill()
	h.do(func(m *Manager) {
		require.Equal(t, []platform.Identity{"A"}, m.BlackScreens())
		require.True(t, m.Heal("A"))
		require.Empty(t, m.BlackScreens())
	})
	require.Equal(t, path, h.engine.Last().Locator)
	require.True(t, h.engine.Last().Playing())
}

func TestClearIsNotUndoneByHeal(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	require.NoError(t, h.assign("A", videoOf(h.video("beach.mp4"))))

	h.do(func(m *Manager) {
		require.NoError(t, m.Clear("A", false, false))
		require.Empty(t, m.BlackScreens())
		require.False(t, m.Heal("A"))
		require.False(t, m.Has("A"))
	})
	_, err := h.store.Get("A")
	require.NoError(t, err, "clear without purge keeps the record")

	forest := h.video("forest.mp4")
	require.NoError(t, h.assign("A", videoOf(forest)))
	h.engine.Last().Kill()
	h.do(func(m *Manager) {
		require.Equal(t, []platform.Identity{"A"}, m.BlackScreens())
		require.True(t, m.Heal("A"))
	})
	require.Equal(t, forest, h.engine.Last().Locator)
}

func TestScreensaverHostHooks(t *testing.T) {
	h := newHarness(t, platformtest.Display("A", 0))
	h.do(func(m *Manager) { require.False(t, m.HasAnyContent()) })
	require.NoError(t, h.assign("A", videoOf(h.video("beach.mp4"))))
	surface := h.backend.Surfaces[0]

	h.do(func(m *Manager) {
		require.True(t, m.HasAnyContent())
		probes, _ := m.Probes()
		var results []ProbeResult
		for _, p := range probes {
			results = append(results, ProbeResult{Probe: p, Covered: p.Kind == ProbeScreensaver})
		}
		_, saver := m.SetProbeCoverage(results)
		require.True(t, saver)
		require.True(t, m.AnySaverProbeCovered())

		require.NoError(t, m.PromoteSurfaces())
		m.SetProbesHidden(true)
		require.False(t, m.AnySaverProbeCovered())
		probes, _ = m.Probes()
		require.Empty(t, probes)
	})
	require.True(t, surface.IsPromoted())

	h.do(func(m *Manager) {
		require.NoError(t, m.DemoteSurfaces())
		m.SetProbesHidden(false)
		require.False(t, m.ProbesHidden())
		probes, _ := m.Probes()
		require.Len(t, probes, 2)
	})
	require.False(t, surface.IsPromoted())
}

package screensaver

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/1broseidon/backdrop/internal/loop"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/platform/platformtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// host is only touched from the loop.
type host struct {
	content      bool
	saverCovered bool
	displays     []platform.Display
	promoted     bool
	probesHidden bool
	active       bool
	opacities    []float64
}

func (h *host) HasAnyContent() bool                 { return h.content }
func (h *host) AnySaverProbeCovered() bool          { return h.saverCovered }
func (h *host) SessionDisplays() []platform.Display { return h.displays }
func (h *host) PromoteSurfaces() error              { h.promoted = true; return nil }
func (h *host) DemoteSurfaces() error               { h.promoted = false; return nil }
func (h *host) SetProbesHidden(hidden bool)         { h.probesHidden = hidden }
func (h *host) SetScreensaverActive(active bool)    { h.active = active }

func (h *host) SetSurfaceOpacity(o float64) error {
	h.opacities = append(h.opacities, o)
	return nil
}

type rig struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	loop    *loop.Loop
	backend *platformtest.Backend
	host    *host
	m       *Machine
}

func newRig(t *testing.T, enabled, content bool) *rig {
	t.Helper()
	r := &rig{
		t:       t,
		clock:   clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)),
		backend: platformtest.NewBackend(platformtest.Display("A", 0), platformtest.Display("B", 1)),
	}
	r.backend.UseClock(r.clock)
	r.host = &host{
		content:  content,
		displays: []platform.Display{platformtest.Display("A", 0), platformtest.Display("B", 1)},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r.loop = loop.New(r.clock, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	r.m = New(Config{
		Loop:     r.loop,
		Host:     r.host,
		Idle:     r.backend,
		Overlays: r.backend,
		Enabled:  enabled,
		Delay:    time.Minute,
		Clock:    true,
		Logger:   logger,
	})
	return r
}

func (r *rig) do(fn func()) {
	r.t.Helper()
	require.NoError(r.t, r.loop.Call(context.Background(), func() error {
		fn()
		return nil
	}))
}

func (r *rig) state() State {
	var s State
	r.do(func() { s = r.m.State() })
	return s
}

// advanceUntil moves the clock forward in steps until cond holds on the loop.
func (r *rig) advanceUntil(step time.Duration, cond func() bool) {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		r.clock.Advance(step)
		ok := false
		_ = r.loop.Call(context.Background(), func() error {
			ok = cond()
			return nil
		})
		return ok
	}, 2*time.Second, time.Millisecond)
}

// settle lets any timer callbacks already fired reach the loop.
func (r *rig) settle() {
	for i := 0; i < 20; i++ {
		r.do(func() {})
		time.Sleep(time.Millisecond)
	}
}

func (r *rig) activate() {
	r.t.Helper()
	r.backend.SetIdle(2 * time.Minute)
	r.do(r.m.Arm)
	r.advanceUntil(500*time.Millisecond, func() bool { return r.m.State() == Active })
}

func TestDisabledNeverArms(t *testing.T) {
	r := newRig(t, false, true)
	r.backend.SetIdle(time.Hour)
	r.do(r.m.Arm)
	require.Equal(t, Idle, r.state())

	for i := 0; i < 10; i++ {
		r.clock.Advance(time.Minute)
	}
	r.settle()
	require.Equal(t, Idle, r.state())
	require.False(t, r.host.promoted)
}

func TestNoContentNeverArms(t *testing.T) {
	r := newRig(t, true, false)
	r.backend.SetIdle(time.Hour)
	r.do(r.m.Arm)
	for i := 0; i < 10; i++ {
		r.clock.Advance(time.Minute)
	}
	r.settle()
	require.Equal(t, Idle, r.state())
}

func TestCoveredDesktopBlocksArming(t *testing.T) {
	r := newRig(t, true, true)
	r.host.saverCovered = true
	r.do(r.m.Arm)
	require.Equal(t, Idle, r.state())

	r.do(func() {
		r.host.saverCovered = false
		r.m.Refresh()
	})
	require.Equal(t, Armed, r.state())
}

func TestActivatesAfterIdleDelay(t *testing.T) {
	r := newRig(t, true, true)
	r.do(r.m.Arm)
	require.Equal(t, Armed, r.state())

	r.activate()
	r.do(func() {
		require.True(t, r.host.promoted)
		require.True(t, r.host.probesHidden)
		require.True(t, r.host.active)
	})
	require.Len(t, r.backend.Overlays, 2)
	require.Equal(t, []string{"09:30", "Saturday, March 1"}, r.backend.Overlays[0].Lines)
}

func TestGraceRecheckCancelsActivation(t *testing.T) {
	r := newRig(t, true, true)
	r.backend.SetIdle(2 * time.Minute)
	r.do(r.m.Arm)

	r.do(func() {
		r.m.poll()
		require.True(t, r.m.graceTimer.Active())
	})
	r.backend.SetIdle(0)
	r.clock.Advance(DefaultGrace)
	r.settle()
	require.Equal(t, Armed, r.state())
	r.do(func() { require.False(t, r.host.promoted) })
}

func TestInputExitsAndRestoresProbes(t *testing.T) {
	r := newRig(t, true, true)
	r.activate()

	r.backend.SetIdle(0)
	r.advanceUntil(100*time.Millisecond, func() bool { return r.m.State() != Active })
	r.do(func() { require.Empty(t, r.m.shown) })
	for _, o := range r.backend.Overlays {
		require.True(t, o.IsDestroyed())
	}

	r.advanceUntil(100*time.Millisecond, func() bool { return r.m.State() != Closing })
	r.do(func() {
		require.False(t, r.host.probesHidden)
		require.False(t, r.host.promoted)
		require.False(t, r.host.active)
		require.Equal(t, 1.0, r.host.opacities[len(r.host.opacities)-1])
		require.Equal(t, Armed, r.m.State(), "closing re-arms the idle timer")
	})
}

func TestInputRightAfterTriggerExits(t *testing.T) {
	r := newRig(t, false, true)
	r.backend.SetIdle(50 * time.Millisecond)
	r.do(func() { require.True(t, r.m.Trigger()) })

	for i := 0; i < 4; i++ {
		r.clock.Advance(inputPollInterval)
		r.settle()
	}
	require.Equal(t, Active, r.state(), "no input keeps the screensaver up")

	r.clock.Advance(150 * time.Millisecond)
	r.backend.SetIdle(0)
	r.advanceUntil(50*time.Millisecond, func() bool { return r.m.State() != Active })
	r.do(func() { require.Empty(t, r.m.shown) })
}

func TestSuppressionForcesIdle(t *testing.T) {
	r := newRig(t, true, true)
	r.activate()

	r.do(func() { r.m.SetSuppressed(true) })
	r.do(func() {
		require.Equal(t, Idle, r.m.State())
		require.False(t, r.host.promoted)
		require.False(t, r.host.probesHidden)
		r.m.Arm()
		require.Equal(t, Idle, r.m.State())
		require.False(t, r.m.Trigger())
	})

	r.do(func() { r.m.SetSuppressed(false) })
	require.Equal(t, Armed, r.state())
}

func TestTriggerAndIdempotentTransitions(t *testing.T) {
	r := newRig(t, false, true)
	r.do(func() {
		require.True(t, r.m.Trigger())
		require.Equal(t, Active, r.m.State())
		require.False(t, r.m.Trigger())
		r.m.Arm()
		require.Equal(t, Active, r.m.State())
	})

	r.do(func() { r.m.Disarm() })
	r.do(func() {
		require.Equal(t, Idle, r.m.State())
		r.m.Exit()
		r.m.Disarm()
		require.Equal(t, Idle, r.m.State())
	})
}

func TestConfigureDisableHandsBackDesktop(t *testing.T) {
	r := newRig(t, true, true)
	r.activate()
	r.do(func() {
		r.m.Configure(false, time.Minute, true)
		require.Equal(t, Idle, r.m.State())
		require.False(t, r.host.promoted)
		r.m.Configure(true, 2*time.Minute, false)
		require.Equal(t, Armed, r.m.State())
		require.Equal(t, 2*time.Minute, r.m.Delay())
	})
}

// Package platformtest provides in-memory implementations of the platform
// interfaces for tests.
package platformtest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/1broseidon/backdrop/internal/platform"
)

// Surface records every call made against it.
type Surface struct {
	mu        sync.Mutex
	id        uint32
	display   platform.Identity
	bounds    platform.Rect
	Visible   bool
	Promoted  bool
	Opacity   float64
	Destroyed bool
	Opacities []float64
}

func (s *Surface) ID() uint32                  { return s.id }
func (s *Surface) Display() platform.Identity { return s.display }

func (s *Surface) Bounds() platform.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

func (s *Surface) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Visible = true
	return nil
}

func (s *Surface) Hide() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Visible = false
	return nil
}

func (s *Surface) Promote() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Promoted = true
	return nil
}

func (s *Surface) Demote() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Promoted = false
	return nil
}

func (s *Surface) SetOpacity(opacity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Opacity = opacity
	s.Opacities = append(s.Opacities, opacity)
	return nil
}

func (s *Surface) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Destroyed = true
	s.Visible = false
	return nil
}

// IsPromoted reports the promotion state under the lock.
func (s *Surface) IsPromoted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Promoted
}

// IsDestroyed reports whether Destroy was called.
func (s *Surface) IsDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Destroyed
}

// Overlay is a fake clock/text overlay.
type Overlay struct {
	mu        sync.Mutex
	Display   platform.Identity
	Lines     []string
	Updates   int
	Destroyed bool
}

func (o *Overlay) SetLines(lines []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Lines = append([]string(nil), lines...)
	o.Updates++
	return nil
}

func (o *Overlay) Destroy() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Destroyed = true
	return nil
}

// IsDestroyed reports whether Destroy was called.
func (o *Overlay) IsDestroyed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Destroyed
}

// Backend is a scriptable platform.Backend.
type Backend struct {
	mu       sync.Mutex
	displays []platform.Display
	nextID   uint32
	idle     time.Duration
	idleErr  error
	covered  map[platform.Rect]bool
	// With a clock, idle time keeps growing from the last SetIdle.
	clock  clockwork.Clock
	idleAt time.Time

	Surfaces      []*Surface
	Overlays      []*Overlay
	FailSurfaces  bool
	DisplaysCalls int
}

var _ platform.Backend = (*Backend)(nil)

// NewBackend returns a backend reporting the given displays.
func NewBackend(displays ...platform.Display) *Backend {
	return &Backend{
		displays: displays,
		nextID:   0x400000,
		covered:  make(map[platform.Rect]bool),
	}
}

// SetDisplays replaces the connected display list.
func (b *Backend) SetDisplays(displays ...platform.Display) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.displays = displays
}

// UseClock makes IdleTime advance with clock, like a real idle counter.
func (b *Backend) UseClock(clock clockwork.Clock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	b.idleAt = clock.Now()
}

// SetIdle sets the idle time reported by IdleTime. Setting a lower value
// simulates user input.
func (b *Backend) SetIdle(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idle = d
	if b.clock != nil {
		b.idleAt = b.clock.Now()
	}
}

// SetIdleError makes IdleTime fail.
func (b *Backend) SetIdleError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idleErr = err
}

// SetCovered marks a region as covered or uncovered.
func (b *Backend) SetCovered(region platform.Rect, covered bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.covered[region] = covered
}

func (b *Backend) Displays() ([]platform.Display, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DisplaysCalls++
	return append([]platform.Display(nil), b.displays...), nil
}

func (b *Backend) CreateSurface(d platform.Display) (platform.Surface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailSurfaces {
		return nil, errors.New("surface creation failed")
	}
	b.nextID++
	s := &Surface{id: b.nextID, display: d.Identity, bounds: d.Bounds, Opacity: 1}
	b.Surfaces = append(b.Surfaces, s)
	return s, nil
}

func (b *Backend) CreateOverlay(d platform.Display) (platform.Overlay, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &Overlay{Display: d.Identity}
	b.Overlays = append(b.Overlays, o)
	return o, nil
}

func (b *Backend) Covered(regions []platform.Rect, _ []uint32) ([]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bool, len(regions))
	for i, r := range regions {
		out[i] = b.covered[r]
	}
	return out, nil
}

func (b *Backend) IdleTime() (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clock != nil {
		return b.idle + b.clock.Since(b.idleAt), b.idleErr
	}
	return b.idle, b.idleErr
}

// LiveSurfaces returns the surfaces that have not been destroyed.
func (b *Backend) LiveSurfaces() []*Surface {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Surface
	for _, s := range b.Surfaces {
		if !s.IsDestroyed() {
			out = append(out, s)
		}
	}
	return out
}

// Display builds a display at a horizontal offset, 1920x1080.
func Display(identity string, index int) platform.Display {
	return platform.Display{
		Identity: platform.Identity(identity),
		Name:     fmt.Sprintf("DP-%d", index),
		Bounds:   platform.Rect{X: index * 1920, Y: 0, Width: 1920, Height: 1080},
	}
}

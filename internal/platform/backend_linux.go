//go:build linux

package platform

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/1broseidon/backdrop/internal/x11"
	"github.com/BurntSushi/xgb/xproto"
)

// LinuxBackend wraps an existing X11 connection behind the platform Backend interface.
type LinuxBackend struct {
	conn *x11.Connection
}

var _ Backend = (*LinuxBackend)(nil)

// NewLinuxBackend creates a Linux platform backend from an existing X11 connection.
func NewLinuxBackend(conn *x11.Connection) *LinuxBackend {
	return &LinuxBackend{conn: conn}
}

// NewLinuxBackendFromDisplay creates a new Linux backend by opening a fresh X11 connection.
func NewLinuxBackendFromDisplay() (*LinuxBackend, error) {
	conn, err := x11.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	return &LinuxBackend{conn: conn}, nil
}

// Connection returns the underlying X11 connection.
func (b *LinuxBackend) Connection() *x11.Connection {
	if b == nil {
		return nil
	}
	return b.conn
}

// Disconnect closes the underlying X11 connection.
func (b *LinuxBackend) Disconnect() {
	if b != nil && b.conn != nil {
		b.conn.Close()
	}
}

// EventLoop starts the X11 event loop (blocking).
func (b *LinuxBackend) EventLoop() {
	if b != nil && b.conn != nil {
		b.conn.EventLoop()
	}
}

// Quit stops EventLoop.
func (b *LinuxBackend) Quit() {
	if b != nil && b.conn != nil {
		b.conn.Quit()
	}
}

// Displays returns all active displays, ordered left to right.
func (b *LinuxBackend) Displays() ([]Display, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	monitors, err := conn.GetMonitors()
	if err != nil {
		return nil, err
	}

	displays := make([]Display, 0, len(monitors))
	for _, m := range monitors {
		displays = append(displays, displayFromMonitor(m))
	}

	sort.Slice(displays, func(i, j int) bool {
		if displays[i].Bounds.X != displays[j].Bounds.X {
			return displays[i].Bounds.X < displays[j].Bounds.X
		}
		return displays[i].Bounds.Y < displays[j].Bounds.Y
	})

	return displays, nil
}

// WatchTopology calls onChange whenever displays are connected, removed or
// reconfigured, until ctx is cancelled.
func (b *LinuxBackend) WatchTopology(ctx context.Context, onChange func()) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.WatchTopology(ctx, onChange)
}

// CreateSurface creates an unmapped desktop-level window covering the display.
func (b *LinuxBackend) CreateSurface(d Display) (Surface, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}
	r := d.Bounds
	wid, err := conn.CreateSurfaceWindow(r.X, r.Y, r.Width, r.Height)
	if err != nil {
		return nil, fmt.Errorf("create surface for %s: %w", d.Identity, err)
	}
	return &linuxSurface{conn: conn, window: wid, display: d.Identity, bounds: r}, nil
}

// CreateOverlay creates a text panel centered on the display.
func (b *LinuxBackend) CreateOverlay(d Display) (Overlay, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}
	r := d.Bounds
	panel, err := conn.NewTextPanel(r.X, r.Y, r.Width, r.Height)
	if err != nil {
		return nil, fmt.Errorf("create overlay for %s: %w", d.Identity, err)
	}
	return panel, nil
}

// Covered reports, for each region, whether managed windows on the current
// desktop cover it entirely.
func (b *LinuxBackend) Covered(regions []Rect, exclude []uint32) ([]bool, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	skip := make(map[xproto.Window]bool, len(exclude))
	for _, id := range exclude {
		skip[xproto.Window(id)] = true
	}
	windows, err := conn.VisibleWindows(skip)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}

	covers := make([]Rect, 0, len(windows))
	for _, w := range windows {
		covers = append(covers, Rect{X: w.X, Y: w.Y, Width: w.Width, Height: w.Height})
	}

	out := make([]bool, len(regions))
	for i, r := range regions {
		out[i] = FullyCovered(r, covers)
	}
	return out, nil
}

// IdleTime returns the time since the last user input.
func (b *LinuxBackend) IdleTime() (time.Duration, error) {
	conn, err := b.connection()
	if err != nil {
		return 0, err
	}
	return conn.IdleTime()
}

func (b *LinuxBackend) connection() (*x11.Connection, error) {
	if b == nil || b.conn == nil {
		return nil, fmt.Errorf("x11 backend connection is nil")
	}
	return b.conn, nil
}

func displayFromMonitor(m x11.Monitor) Display {
	return Display{
		Identity: Identity(m.Identity),
		Name:     m.Name,
		Bounds: Rect{
			X:      m.X,
			Y:      m.Y,
			Width:  m.Width,
			Height: m.Height,
		},
	}
}

// linuxSurface is an override-redirect window owned by one display.
type linuxSurface struct {
	conn    *x11.Connection
	window  xproto.Window
	display Identity
	bounds  Rect
}

func (s *linuxSurface) ID() uint32        { return uint32(s.window) }
func (s *linuxSurface) Display() Identity { return s.display }
func (s *linuxSurface) Bounds() Rect      { return s.bounds }

func (s *linuxSurface) Show() error {
	if err := s.conn.MapWindow(s.window); err != nil {
		return err
	}
	s.conn.StackBottom(s.window)
	return nil
}

func (s *linuxSurface) Hide() error {
	return s.conn.UnmapWindow(s.window)
}

func (s *linuxSurface) Promote() error {
	s.conn.StackTop(s.window)
	if s.conn.HasShape() {
		return s.conn.SetInputPassthrough(s.window, true)
	}
	return nil
}

func (s *linuxSurface) Demote() error {
	if s.conn.HasShape() {
		if err := s.conn.SetInputPassthrough(s.window, false); err != nil {
			return err
		}
	}
	s.conn.StackBottom(s.window)
	return nil
}

func (s *linuxSurface) SetOpacity(opacity float64) error {
	return s.conn.SetOpacity(s.window, opacity)
}

func (s *linuxSurface) Destroy() error {
	return s.conn.DestroyWindow(s.window)
}

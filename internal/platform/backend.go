package platform

import "time"

// Identity is the stable key for a physical display. Unlike the output index
// the display server assigns, it survives reconnects and reboots.
type Identity string

// Display describes a connected physical display.
type Display struct {
	Identity Identity
	Name     string
	Bounds   Rect
}

// Surface is a borderless window covering one display that media renders into.
// Surfaces normally sit below every other window.
type Surface interface {
	ID() uint32
	Display() Identity
	Bounds() Rect
	Show() error
	Hide() error
	// Promote lifts the surface above all windows and lets pointer input pass
	// through it.
	Promote() error
	// Demote restores desktop-level stacking and input handling.
	Demote() error
	SetOpacity(opacity float64) error
	Destroy() error
}

// Overlay is a text panel drawn on top of a promoted surface.
type Overlay interface {
	SetLines(lines []string) error
	Destroy() error
}

// DisplayLister enumerates connected displays.
type DisplayLister interface {
	Displays() ([]Display, error)
}

// SurfaceFactory creates surfaces bound to a display.
type SurfaceFactory interface {
	CreateSurface(d Display) (Surface, error)
}

// OverlayFactory creates text overlays bound to a display.
type OverlayFactory interface {
	CreateOverlay(d Display) (Overlay, error)
}

// CoverageChecker reports, for each region, whether other windows fully
// cover it. Windows listed in exclude are ignored.
type CoverageChecker interface {
	Covered(regions []Rect, exclude []uint32) ([]bool, error)
}

// IdleSource reports the time since the last user input.
type IdleSource interface {
	IdleTime() (time.Duration, error)
}

// Backend abstracts window-system operations across platforms.
type Backend interface {
	DisplayLister
	SurfaceFactory
	OverlayFactory
	CoverageChecker
	IdleSource
}

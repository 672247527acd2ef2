package x11

import (
	"fmt"
	"math"

	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xprop"
)

// WindowClass is the WM_CLASS set on every window backdrop creates.
const WindowClass = "backdrop"

// CreateSurfaceWindow creates a borderless override-redirect window covering
// the given geometry, stacked below every other window. The window is left
// unmapped.
func (c *Connection) CreateSurfaceWindow(x, y, width, height int) (xproto.Window, error) {
	wid, err := c.createOverrideRedirectWindow(x, y, width, height, 0)
	if err != nil {
		return 0, err
	}

	// Identify the window to pagers and compositors.
	_ = icccm.WmClassSet(c.XUtil, wid, &icccm.WmClass{Instance: WindowClass, Class: WindowClass})
	_ = ewmh.WmNameSet(c.XUtil, wid, WindowClass)
	_ = ewmh.WmWindowTypeSet(c.XUtil, wid, []string{"_NET_WM_WINDOW_TYPE_DESKTOP"})

	c.StackBottom(wid)
	return wid, nil
}

// createOverrideRedirectWindow creates a single override-redirect window
func (c *Connection) createOverrideRedirectWindow(x, y, width, height int, background uint32) (xproto.Window, error) {
	conn := c.XUtil.Conn()
	screen := c.XUtil.Screen()

	wid, err := xproto.NewWindowId(conn)
	if err != nil {
		return 0, err
	}

	// Create window with override_redirect=true
	// This makes it bypass the window manager
	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		wid,
		c.Root,
		int16(x), int16(y),
		uint16(max(width, 1)), uint16(max(height, 1)),
		0, // border_width
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		xproto.CwBackPixel|xproto.CwOverrideRedirect,
		// Value list order follows the bit positions of the mask (low to high).
		[]uint32{background, 1},
	).Check()
	if err != nil {
		return 0, fmt.Errorf("failed to create window: %w", err)
	}

	return wid, nil
}

// MapWindow shows a window.
func (c *Connection) MapWindow(wid xproto.Window) error {
	return xproto.MapWindowChecked(c.XUtil.Conn(), wid).Check()
}

// UnmapWindow hides a window without destroying it.
func (c *Connection) UnmapWindow(wid xproto.Window) error {
	return xproto.UnmapWindowChecked(c.XUtil.Conn(), wid).Check()
}

// DestroyWindow destroys a window.
func (c *Connection) DestroyWindow(wid xproto.Window) error {
	return xproto.DestroyWindowChecked(c.XUtil.Conn(), wid).Check()
}

// StackBottom lowers a window below all of its siblings.
func (c *Connection) StackBottom(wid xproto.Window) {
	xproto.ConfigureWindow(c.XUtil.Conn(), wid, xproto.ConfigWindowStackMode, []uint32{xproto.StackModeBelow})
}

// StackTop raises a window above all of its siblings.
func (c *Connection) StackTop(wid xproto.Window) {
	xproto.ConfigureWindow(c.XUtil.Conn(), wid, xproto.ConfigWindowStackMode, []uint32{xproto.StackModeAbove})
}

// SetInputPassthrough makes pointer input pass through the window when
// enabled by giving it an empty input shape. Disabling restores the default
// input region.
func (c *Connection) SetInputPassthrough(wid xproto.Window, enabled bool) error {
	if !c.hasShape {
		return fmt.Errorf("SHAPE extension unavailable")
	}
	conn := c.XUtil.Conn()
	if enabled {
		return shape.RectanglesChecked(conn, shape.SoSet, shape.SkInput, xproto.ClipOrderingUnsorted, wid, 0, 0, nil).Check()
	}
	return shape.MaskChecked(conn, shape.SoSet, shape.SkInput, wid, 0, 0, xproto.PixmapNone).Check()
}

// SetOpacity sets _NET_WM_WINDOW_OPACITY, which compositors apply to the
// whole window. opacity is clamped to [0,1].
func (c *Connection) SetOpacity(wid xproto.Window, opacity float64) error {
	return xprop.ChangeProp32(c.XUtil, wid, "_NET_WM_WINDOW_OPACITY", "CARDINAL", opacityValue(opacity))
}

func opacityValue(opacity float64) uint {
	opacity = math.Max(0, math.Min(1, opacity))
	return uint(math.Round(opacity * math.MaxUint32))
}

package x11

import (
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/xwindow"
)

// WindowRect is the on-screen frame of a managed window.
type WindowRect struct {
	ID     xproto.Window
	X      int
	Y      int
	Width  int
	Height int
}

// VisibleWindows returns the frames of the managed windows currently visible
// on the active desktop, bottom to top. Windows in exclude are skipped.
func (c *Connection) VisibleWindows(exclude map[xproto.Window]bool) ([]WindowRect, error) {
	clients, err := ewmh.ClientListStackingGet(c.XUtil)
	if err != nil {
		// Some window managers only publish the unordered list.
		clients, err = ewmh.ClientListGet(c.XUtil)
		if err != nil {
			return nil, err
		}
	}

	current, desktopErr := ewmh.CurrentDesktopGet(c.XUtil)
	filterDesktop := desktopErr == nil

	windows := make([]WindowRect, 0, len(clients))
	for _, windowID := range clients {
		if exclude[windowID] {
			continue
		}
		if !c.IsCoveringWindow(windowID) {
			continue
		}

		if filterDesktop && c.onOtherDesktop(windowID, current) {
			continue
		}

		if c.isHidden(windowID) {
			continue
		}

		geom, err := xwindow.New(c.XUtil, windowID).DecorGeometry()
		if err != nil {
			continue
		}
		windows = append(windows, WindowRect{
			ID:     windowID,
			X:      geom.X(),
			Y:      geom.Y(),
			Width:  geom.Width(),
			Height: geom.Height(),
		})
	}
	return windows, nil
}

// IsCoveringWindow reports whether a window can hide the desktop. Desktop
// windows, docks and transient popups never count.
func (c *Connection) IsCoveringWindow(windowID xproto.Window) bool {
	types, err := ewmh.WmWindowTypeGet(c.XUtil, windowID)
	if err != nil {
		// If we can't determine type, assume it's normal
		return true
	}
	return coveringWindowType(types)
}

func coveringWindowType(types []string) bool {
	for _, t := range types {
		switch t {
		case "_NET_WM_WINDOW_TYPE_NORMAL", "_NET_WM_WINDOW_TYPE_DIALOG":
			return true
		// Reject desktop, dock, splash, etc.
		case "_NET_WM_WINDOW_TYPE_DESKTOP",
			"_NET_WM_WINDOW_TYPE_DOCK",
			"_NET_WM_WINDOW_TYPE_SPLASH",
			"_NET_WM_WINDOW_TYPE_NOTIFICATION",
			"_NET_WM_WINDOW_TYPE_TOOLTIP",
			"_NET_WM_WINDOW_TYPE_DROPDOWN_MENU",
			"_NET_WM_WINDOW_TYPE_POPUP_MENU":
			return false
		}
	}

	// If no specific type is set, assume it's normal
	return true
}

// onOtherDesktop reports whether a window lives on a virtual desktop other
// than current. Windows without _NET_WM_DESKTOP are treated as visible.
func (c *Connection) onOtherDesktop(windowID xproto.Window, current uint) bool {
	desktop, err := ewmh.WmDesktopGet(c.XUtil, windowID)
	if err != nil {
		return false
	}
	return otherDesktop(desktop, current)
}

// stickyDesktop is the _NET_WM_DESKTOP value of windows shown on every
// desktop.
const stickyDesktop = 0xFFFFFFFF

func otherDesktop(desktop, current uint) bool {
	return desktop != stickyDesktop && desktop != current
}

// isHidden reports whether a window is minimized or unmapped.
func (c *Connection) isHidden(windowID xproto.Window) bool {
	attrs, err := xproto.GetWindowAttributes(c.XUtil.Conn(), windowID).Reply()
	if err == nil && attrs.MapState != xproto.MapStateViewable {
		return true
	}
	states, err := ewmh.WmStateGet(c.XUtil, windowID)
	if err != nil {
		return false
	}
	return hiddenState(states)
}

func hiddenState(states []string) bool {
	for _, state := range states {
		if state == "_NET_WM_STATE_HIDDEN" {
			return true
		}
	}
	return false
}

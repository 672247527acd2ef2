package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
)

// Panel colors
const (
	ColorPanelText = 0xf5f7fa // Light text
	ColorPanelBg   = 0x1f2933 // Dark background
)

const (
	panelPaddingX = 24
	panelPaddingY = 16
	panelMinWidth = 220
	// Font metrics assumed when the server does not answer QueryFont.
	defaultCharWidth  = 9
	defaultLineHeight = 18
)

// panelFonts are tried in order; "fixed" is available on every X server.
var panelFonts = []string{
	"-misc-fixed-bold-r-normal--18-*-*-*-*-*-iso8859-1",
	"9x15bold",
	"fixed",
	"9x15",
	"8x13",
	"6x13",
}

// TextPanel is a small override-redirect window that draws lines of text
// centered on an area of the screen, above everything else.
type TextPanel struct {
	conn   *Connection
	area   WindowRect
	window xproto.Window
	gc     xproto.Gcontext
	font   xproto.Font

	charWidth  int
	lineHeight int
	ascent     int
	mapped     bool
}

// NewTextPanel creates an unmapped panel for the given screen area.
func (c *Connection) NewTextPanel(x, y, width, height int) (*TextPanel, error) {
	conn := c.XUtil.Conn()

	window, err := c.createOverrideRedirectWindow(x, y, panelMinWidth, defaultLineHeight, ColorPanelBg)
	if err != nil {
		return nil, err
	}

	font, err := xproto.NewFontId(conn)
	if err != nil {
		xproto.DestroyWindow(conn, window)
		return nil, err
	}

	opened := false
	for _, fontName := range panelFonts {
		err = xproto.OpenFontChecked(conn, font, uint16(len(fontName)), fontName).Check()
		if err == nil {
			opened = true
			break
		}
	}
	if !opened {
		xproto.DestroyWindow(conn, window)
		return nil, fmt.Errorf("no usable font for text panel")
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		xproto.CloseFont(conn, font)
		xproto.DestroyWindow(conn, window)
		return nil, err
	}

	err = xproto.CreateGCChecked(
		conn,
		gc,
		xproto.Drawable(window),
		xproto.GcForeground|xproto.GcBackground|xproto.GcFont|xproto.GcGraphicsExposures,
		[]uint32{
			ColorPanelText, // foreground
			ColorPanelBg,   // background
			uint32(font),   // font
			0,              // graphics_exposures=false
		},
	).Check()
	if err != nil {
		xproto.FreeGC(conn, gc)
		xproto.CloseFont(conn, font)
		xproto.DestroyWindow(conn, window)
		return nil, fmt.Errorf("failed to create GC: %w", err)
	}

	p := &TextPanel{
		conn:       c,
		area:       WindowRect{X: x, Y: y, Width: width, Height: height},
		window:     window,
		gc:         gc,
		font:       font,
		charWidth:  defaultCharWidth,
		lineHeight: defaultLineHeight,
		ascent:     defaultLineHeight - 4,
	}
	if info, err := xproto.QueryFont(conn, xproto.Fontable(font)).Reply(); err == nil {
		if w := int(info.MaxBounds.CharacterWidth); w > 0 {
			p.charWidth = w
		}
		if h := int(info.FontAscent) + int(info.FontDescent); h > 0 {
			p.lineHeight = h
			p.ascent = int(info.FontAscent)
		}
	}
	return p, nil
}

// SetLines redraws the panel with the given lines. An empty slice hides it.
func (p *TextPanel) SetLines(lines []string) error {
	conn := p.conn.XUtil.Conn()
	if len(lines) == 0 {
		if p.mapped {
			p.mapped = false
			return xproto.UnmapWindowChecked(conn, p.window).Check()
		}
		return nil
	}

	x, y, width, height := panelGeometry(p.area, lines, p.charWidth, p.lineHeight)
	if width <= 0 || height <= 0 {
		return fmt.Errorf("panel does not fit in %dx%d", p.area.Width, p.area.Height)
	}

	xproto.ConfigureWindow(
		conn,
		p.window,
		xproto.ConfigWindowX|xproto.ConfigWindowY|xproto.ConfigWindowWidth|xproto.ConfigWindowHeight|xproto.ConfigWindowStackMode,
		[]uint32{
			uint32(x),
			uint32(y),
			uint32(width),
			uint32(height),
			xproto.StackModeAbove,
		},
	)
	if !p.mapped {
		if err := xproto.MapWindowChecked(conn, p.window).Check(); err != nil {
			return err
		}
		p.mapped = true
	}
	xproto.ClearArea(conn, false, p.window, 0, 0, 0, 0)

	for i, line := range lines {
		if line == "" {
			continue
		}
		if len(line) > 255 {
			line = line[:255]
		}
		// Center each line horizontally inside the panel.
		lineX := (width - len(line)*p.charWidth) / 2
		lineY := panelPaddingY + p.ascent + i*p.lineHeight
		xproto.ImageText8(
			conn,
			byte(len(line)),
			xproto.Drawable(p.window),
			p.gc,
			int16(max(lineX, 0)),
			int16(lineY),
			line,
		)
	}
	return nil
}

// Destroy releases the panel's window, GC and font.
func (p *TextPanel) Destroy() error {
	conn := p.conn.XUtil.Conn()
	xproto.FreeGC(conn, p.gc)
	xproto.CloseFont(conn, p.font)
	return xproto.DestroyWindowChecked(conn, p.window).Check()
}

// panelGeometry returns the position and size of a panel holding lines,
// centered in area and clipped to it.
func panelGeometry(area WindowRect, lines []string, charWidth, lineHeight int) (x, y, width, height int) {
	maxChars := 0
	for _, line := range lines {
		if len(line) > maxChars {
			maxChars = len(line)
		}
	}
	width = max(maxChars*charWidth+2*panelPaddingX, panelMinWidth)
	height = len(lines)*lineHeight + 2*panelPaddingY

	width = min(width, area.Width)
	height = min(height, area.Height)
	x = area.X + (area.Width-width)/2
	y = area.Y + (area.Height-height)/2
	return x, y, width, height
}

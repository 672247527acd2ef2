package x11

import (
	"math"
	"testing"
)

func TestIdentityFallsBackToOutputName(t *testing.T) {
	if got := IdentityFromEDID(nil, "HDMI-1"); got != "output:HDMI-1" {
		t.Fatalf("IdentityFromEDID(nil) = %q, want %q", got, "output:HDMI-1")
	}
}

func TestFormatIdentity(t *testing.T) {
	if got := formatIdentity("DEL", 0x40a3, 12345); got != "DEL-40A3-12345" {
		t.Fatalf("formatIdentity() = %q", got)
	}
	if got := formatIdentity("GSM", 0x1, 0); got != "GSM-0001-0" {
		t.Fatalf("formatIdentity() = %q", got)
	}
}

func TestCoveringWindowType(t *testing.T) {
	tests := []struct {
		name  string
		types []string
		want  bool
	}{
		{"untyped", nil, true},
		{"normal", []string{"_NET_WM_WINDOW_TYPE_NORMAL"}, true},
		{"dialog", []string{"_NET_WM_WINDOW_TYPE_DIALOG"}, true},
		{"desktop", []string{"_NET_WM_WINDOW_TYPE_DESKTOP"}, false},
		{"dock", []string{"_NET_WM_WINDOW_TYPE_DOCK"}, false},
		{"notification", []string{"_NET_WM_WINDOW_TYPE_NOTIFICATION"}, false},
		{"first match wins", []string{"_NET_WM_WINDOW_TYPE_NORMAL", "_NET_WM_WINDOW_TYPE_DOCK"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coveringWindowType(tt.types); got != tt.want {
				t.Fatalf("coveringWindowType(%v) = %v, want %v", tt.types, got, tt.want)
			}
		})
	}
}

func TestHiddenState(t *testing.T) {
	if !hiddenState([]string{"_NET_WM_STATE_MAXIMIZED_VERT", "_NET_WM_STATE_HIDDEN"}) {
		t.Fatal("minimized window should be hidden")
	}
	if hiddenState([]string{"_NET_WM_STATE_FULLSCREEN"}) {
		t.Fatal("fullscreen window should not be hidden")
	}
}

func TestOtherDesktop(t *testing.T) {
	tests := []struct {
		desktop, current uint
		want             bool
	}{
		{desktop: 0, current: 0, want: false},
		{desktop: 2, current: 0, want: true},
		{desktop: stickyDesktop, current: 3, want: false},
	}
	for _, tt := range tests {
		if got := otherDesktop(tt.desktop, tt.current); got != tt.want {
			t.Fatalf("otherDesktop(%d, %d) = %v, want %v", tt.desktop, tt.current, got, tt.want)
		}
	}
}

func TestPanelGeometryCentersInArea(t *testing.T) {
	area := WindowRect{X: 1920, Y: 0, Width: 1920, Height: 1080}
	lines := []string{"12:30", "Saturday, 1 March 2025"}

	x, y, w, h := panelGeometry(area, lines, 10, 20)

	wantW := len(lines[1])*10 + 2*panelPaddingX
	wantH := 2*20 + 2*panelPaddingY
	if w != wantW || h != wantH {
		t.Fatalf("size = %dx%d, want %dx%d", w, h, wantW, wantH)
	}
	if x != 1920+(1920-wantW)/2 || y != (1080-wantH)/2 {
		t.Fatalf("position = (%d,%d)", x, y)
	}
}

func TestPanelGeometryMinimumWidthAndClipping(t *testing.T) {
	_, _, w, _ := panelGeometry(WindowRect{Width: 1920, Height: 1080}, []string{"x"}, 10, 20)
	if w != panelMinWidth {
		t.Fatalf("width = %d, want %d", w, panelMinWidth)
	}

	x, y, w, h := panelGeometry(WindowRect{X: 5, Y: 5, Width: 100, Height: 30}, []string{"a long line of text"}, 10, 20)
	if w != 100 || h != 30 || x != 5 || y != 5 {
		t.Fatalf("clipped panel = (%d,%d %dx%d)", x, y, w, h)
	}
}

func TestOpacityValue(t *testing.T) {
	if got := opacityValue(1); got != math.MaxUint32 {
		t.Fatalf("opacityValue(1) = %d", got)
	}
	if got := opacityValue(-0.5); got != 0 {
		t.Fatalf("opacityValue(-0.5) = %d", got)
	}
	if got := opacityValue(2); got != math.MaxUint32 {
		t.Fatalf("opacityValue(2) = %d", got)
	}
}

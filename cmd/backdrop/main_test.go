package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/1broseidon/backdrop/internal/ipc"
	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/notify"
	"github.com/1broseidon/backdrop/internal/session"
)

func TestParseVolume(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0.5", 0.5, false},
		{"50%", 0.5, false},
		{"100%", 1, false},
		{"0", 0, false},
		{"1.5", 0, true},
		{"-1", 0, true},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := parseVolume(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseVolume(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("parseVolume(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDelay(t *testing.T) {
	if d, err := parseDelay("300"); err != nil || d != 5*time.Minute {
		t.Fatalf("parseDelay(300) = %v, %v", d, err)
	}
	if d, err := parseDelay("90s"); err != nil || d != 90*time.Second {
		t.Fatalf("parseDelay(90s) = %v, %v", d, err)
	}
	if _, err := parseDelay("500ms"); err == nil {
		t.Fatal("expected sub-second delay to be rejected")
	}
	if _, err := parseDelay("soon"); err == nil {
		t.Fatal("expected invalid delay to be rejected")
	}
}

func TestParseOnOff(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "1"} {
		if v, err := parseOnOff(s); err != nil || !v {
			t.Fatalf("parseOnOff(%q) = %v, %v", s, v, err)
		}
	}
	if v, err := parseOnOff("off"); err != nil || v {
		t.Fatalf("parseOnOff(off) = %v, %v", v, err)
	}
	if _, err := parseOnOff("maybe"); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolveLocator(t *testing.T) {
	got, err := resolveLocator("file:///home/me/beach.mp4")
	if err != nil || got != "file:///home/me/beach.mp4" {
		t.Fatalf("resolveLocator(url) = %q, %v", got, err)
	}

	got, err = resolveLocator("beach.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(got) || filepath.Base(got) != "beach.mp4" {
		t.Fatalf("resolveLocator(relative) = %q", got)
	}

	if _, err := resolveLocator(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPrintStatus(t *testing.T) {
	status := &ipc.StatusData{
		Policy: "automatic",
		Screensaver: ipc.ScreensaverData{
			State:        "armed",
			Enabled:      true,
			DelaySeconds: 300,
			Clock:        true,
		},
		UptimeSeconds: 65,
		Sessions: []session.Status{
			{
				Identity:  "DEL-40A3-1",
				Display:   "DP-1",
				Content:   &media.Descriptor{Kind: media.KindVideo, Locator: "/videos/beach.mp4", Volume: media.Volume(0.3)},
				HasPlayer: true,
				Covered:   true,
			},
			{Identity: "output:HDMI-1", Display: "HDMI-1"},
		},
	}

	var buf bytes.Buffer
	printStatus(&buf, status)
	out := buf.String()

	for _, want := range []string{
		"policy:      automatic",
		"screensaver: armed, after 5m0s, clock",
		"uptime:      1m5s",
		"beach.mp4",
		"paused (covered)",
		"30%",
		"HDMI-1",
		"idle",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestDescribeScreensaverDisabled(t *testing.T) {
	got := describeScreensaver(ipc.ScreensaverData{State: "idle"})
	if got != "disabled (idle)" {
		t.Fatalf("describeScreensaver() = %q", got)
	}
}

func TestFormatEvent(t *testing.T) {
	got := formatEvent(notify.Event{Kind: notify.ContentChanged, Identity: "DEL-40A3-1"})
	if got != "content-changed DEL-40A3-1" {
		t.Fatalf("formatEvent() = %q", got)
	}
	got = formatEvent(notify.Event{Kind: notify.ScreensaverChanged, Detail: "active"})
	if got != "screensaver-changed active" {
		t.Fatalf("formatEvent() = %q", got)
	}
}

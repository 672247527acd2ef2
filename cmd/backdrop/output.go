package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/1broseidon/backdrop/internal/ipc"
	"github.com/1broseidon/backdrop/internal/notify"
)

// wantJSON reports whether output should be JSON: when asked for, or when
// stdout is not a terminal.
func wantJSON(flagged bool) bool {
	return flagged || !term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, status *ipc.StatusData) {
	fmt.Fprintf(w, "policy:      %s\n", status.Policy)
	fmt.Fprintf(w, "muted:       %v\n", status.Muted)
	fmt.Fprintf(w, "suspended:   %v\n", status.Suspended)
	fmt.Fprintf(w, "screensaver: %s\n", describeScreensaver(status.Screensaver))
	fmt.Fprintf(w, "uptime:      %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())

	if len(status.Sessions) == 0 {
		fmt.Fprintln(w, "sessions:    none")
		return
	}
	fmt.Fprintln(w, "")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISPLAY\tIDENTITY\tCONTENT\tSTATE\tVOLUME")
	for _, s := range status.Sessions {
		content, volume := "-", "-"
		if s.Content != nil {
			content = s.Content.Name()
			volume = fmt.Sprintf("%.0f%%", s.Content.EffectiveVolume()*100)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Display, s.Identity, content, sessionState(s.HasPlayer, s.Playing, s.UserPaused, s.Covered), volume)
	}
	tw.Flush()
}

func sessionState(hasPlayer, playing, userPaused, covered bool) string {
	switch {
	case !hasPlayer:
		return "idle"
	case playing:
		return "playing"
	case userPaused:
		return "paused"
	case covered:
		return "paused (covered)"
	default:
		return "paused (policy)"
	}
}

func describeScreensaver(s ipc.ScreensaverData) string {
	if !s.Enabled {
		return fmt.Sprintf("disabled (%s)", s.State)
	}
	parts := []string{s.State, fmt.Sprintf("after %s", time.Duration(s.DelaySeconds)*time.Second)}
	if s.Clock {
		parts = append(parts, "clock")
	}
	if s.Suppressed {
		parts = append(parts, "inhibited")
	}
	return strings.Join(parts, ", ")
}

func printDisplays(w io.Writer, data *ipc.DisplaysData) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tIDENTITY\tGEOMETRY\tSESSION")
	for _, d := range data.Displays {
		fmt.Fprintf(tw, "%s\t%s\t%dx%d+%d+%d\t%v\n", d.Name, d.Identity, d.Width, d.Height, d.X, d.Y, d.Session)
	}
	tw.Flush()
}

func formatEvent(ev notify.Event) string {
	var b strings.Builder
	b.WriteString(string(ev.Kind))
	if ev.Identity != "" {
		b.WriteString(" ")
		b.WriteString(string(ev.Identity))
	}
	if ev.Detail != "" {
		b.WriteString(" ")
		b.WriteString(ev.Detail)
	}
	return b.String()
}

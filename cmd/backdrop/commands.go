package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/1broseidon/backdrop/internal/ipc"
	"github.com/1broseidon/backdrop/internal/notify"
	"github.com/1broseidon/backdrop/internal/policy"
)

// newFlagSet returns a flag set that prints usage for the command.
func newFlagSet(name, usage, help string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: backdrop "+usage)
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, help)
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags parses args and returns the exit code to use when parsing
// stopped the command.
func parseFlags(fs *flag.FlagSet, args []string, nargs int) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0, false
		}
		return 2, false
	}
	if nargs >= 0 && fs.NArg() != nargs {
		if nargs == 0 {
			fmt.Fprintf(os.Stderr, "%s takes no arguments\n", fs.Name())
		} else {
			fmt.Fprintf(os.Stderr, "%s takes %d argument(s)\n", fs.Name(), nargs)
		}
		fs.Usage()
		return 2, false
	}
	return 0, true
}

func displayFlag(fs *flag.FlagSet) *string {
	display := fs.String("display", "", "Display identity or output name (default: the only display)")
	fs.StringVar(display, "d", "", "Shorthand for --display")
	return display
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func runStatus(args []string) int {
	fs := newFlagSet("status", "status [--json]", "Show daemon and per-display status via IPC.")
	asJSON := fs.Bool("json", false, "Print JSON")
	if code, ok := parseFlags(fs, args, 0); !ok {
		return code
	}

	status, err := ipc.NewClient().GetStatus()
	if err != nil {
		return fail(err)
	}
	if wantJSON(*asJSON) {
		if err := printJSON(os.Stdout, status); err != nil {
			return fail(err)
		}
		return 0
	}
	printStatus(os.Stdout, status)
	return 0
}

func runDisplays(args []string) int {
	fs := newFlagSet("displays", "displays [--json]", "List connected displays.")
	asJSON := fs.Bool("json", false, "Print JSON")
	if code, ok := parseFlags(fs, args, 0); !ok {
		return code
	}

	data, err := ipc.NewClient().GetDisplays()
	if err != nil {
		return fail(err)
	}
	if wantJSON(*asJSON) {
		if err := printJSON(os.Stdout, data); err != nil {
			return fail(err)
		}
		return 0
	}
	printDisplays(os.Stdout, data)
	return 0
}

func runSet(args []string) int {
	fs := newFlagSet("set", "set [--display D] [--kind image|video] [--stretch] [--volume V] <file>",
		"Show an image or looping video on a display. The choice is restored on reconnect.")
	display := displayFlag(fs)
	kind := fs.String("kind", "", "Media kind (default: guessed from the extension)")
	stretch := fs.Bool("stretch", false, "Crop to fill the display")
	volume := fs.Float64("volume", -1, "Video volume from 0 to 1 (default: silent)")
	if code, ok := parseFlags(fs, args, 1); !ok {
		return code
	}

	locator, err := resolveLocator(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	payload := ipc.SetContentPayload{
		Display: *display,
		Locator: locator,
		Kind:    *kind,
		Stretch: *stretch,
	}
	if *volume >= 0 {
		if *volume > 1 {
			return fail(fmt.Errorf("volume must be between 0 and 1, got %g", *volume))
		}
		payload.Volume = volume
	}

	st, err := ipc.NewClient().SetContent(payload)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("%s: %s\n", st.Display, st.Content.Name())
	return 0
}

// resolveLocator makes local paths absolute; URLs pass through.
func resolveLocator(arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("file is required")
	}
	if u, err := url.Parse(arg); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return arg, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", arg, err)
	}
	return abs, nil
}

func runClear(args []string) int {
	fs := newFlagSet("clear", "clear [--display D] [--forget]", "Remove the wallpaper from a display.")
	display := displayFlag(fs)
	forget := fs.Bool("forget", false, "Also forget the saved wallpaper")
	if code, ok := parseFlags(fs, args, 0); !ok {
		return code
	}
	if err := ipc.NewClient().Clear(*display, *forget); err != nil {
		return fail(err)
	}
	return 0
}

func runPlay(args []string) int {
	fs := newFlagSet("play", "play [--display D]", "Resume a display paused with 'backdrop pause'.")
	display := displayFlag(fs)
	if code, ok := parseFlags(fs, args, 0); !ok {
		return code
	}
	if err := ipc.NewClient().Play(*display); err != nil {
		return fail(err)
	}
	return 0
}

func runPause(args []string) int {
	fs := newFlagSet("pause", "pause [--display D]", "Pause a display until 'backdrop play'.")
	display := displayFlag(fs)
	if code, ok := parseFlags(fs, args, 0); !ok {
		return code
	}
	if err := ipc.NewClient().Pause(*display); err != nil {
		return fail(err)
	}
	return 0
}

func runVolume(args []string) int {
	fs := newFlagSet("volume", "volume [--display D | --all] <0..1>", "Set the volume of one display or of all displays.")
	display := displayFlag(fs)
	all := fs.Bool("all", false, "Set every display")
	if code, ok := parseFlags(fs, args, 1); !ok {
		return code
	}

	volume, err := parseVolume(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	client := ipc.NewClient()
	if *all {
		if *display != "" {
			return fail(fmt.Errorf("--display and --all are mutually exclusive"))
		}
		err = client.SetGlobalVolume(volume)
	} else {
		err = client.SetVolume(*display, volume)
	}
	if err != nil {
		return fail(err)
	}
	return 0
}

// parseVolume accepts a fraction ("0.5") or a percentage ("50%").
func parseVolume(s string) (float64, error) {
	scale := 1.0
	if strings.HasSuffix(s, "%") {
		s = strings.TrimSuffix(s, "%")
		scale = 100
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid volume %q", s)
	}
	v /= scale
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("volume must be between 0 and 1 (or 0%% and 100%%)")
	}
	return v, nil
}

func runMute(args []string, muted bool) int {
	name := "unmute"
	help := "Restore each display's saved volume."
	if muted {
		name = "mute"
		help = "Mute every display."
	}
	fs := newFlagSet(name, name, help)
	if code, ok := parseFlags(fs, args, 0); !ok {
		return code
	}

	client := ipc.NewClient()
	var err error
	if muted {
		err = client.MuteAll()
	} else {
		err = client.UnmuteAll()
	}
	if err != nil {
		return fail(err)
	}
	return 0
}

func runStretch(args []string) int {
	fs := newFlagSet("stretch", "stretch [--display D] on|off", "Crop a display's wallpaper to fill the screen, or letterbox it.")
	display := displayFlag(fs)
	if code, ok := parseFlags(fs, args, 1); !ok {
		return code
	}
	on, err := parseOnOff(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	if err := ipc.NewClient().SetStretch(*display, on); err != nil {
		return fail(err)
	}
	return 0
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func runPolicy(args []string) int {
	fs := newFlagSet("policy", "policy [mode]", "Show or set the playback policy. Modes: "+modeNames()+".")
	if code, ok := parseFlags(fs, args, -1); !ok {
		return code
	}
	client := ipc.NewClient()

	switch fs.NArg() {
	case 0:
		status, err := client.GetStatus()
		if err != nil {
			return fail(err)
		}
		fmt.Println(status.Policy)
		return 0
	case 1:
		mode, err := policy.ParseMode(fs.Arg(0))
		if err != nil {
			return fail(err)
		}
		if err := client.SetPolicy(string(mode)); err != nil {
			return fail(err)
		}
		return 0
	default:
		fs.Usage()
		return 2
	}
}

func modeNames() string {
	names := make([]string, len(policy.Modes))
	for i, m := range policy.Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

func printScreensaverUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  backdrop screensaver                 Show screensaver state")
	fmt.Fprintln(os.Stderr, "  backdrop screensaver on|off          Enable or disable the idle screensaver")
	fmt.Fprintln(os.Stderr, "  backdrop screensaver delay <dur>     Idle time before it starts (e.g. 5m, 90s, 300)")
	fmt.Fprintln(os.Stderr, "  backdrop screensaver clock on|off    Show a clock while active")
	fmt.Fprintln(os.Stderr, "  backdrop screensaver trigger         Start it now")
}

func runScreensaver(args []string) int {
	client := ipc.NewClient()
	if len(args) == 0 {
		status, err := client.GetStatus()
		if err != nil {
			return fail(err)
		}
		fmt.Println(describeScreensaver(status.Screensaver))
		return 0
	}

	var payload ipc.ScreensaverPayload
	switch args[0] {
	case "help", "-h", "--help":
		printScreensaverUsage()
		return 0
	case "trigger":
		activated, err := client.TriggerScreensaver()
		if err != nil {
			return fail(err)
		}
		if !activated {
			fmt.Fprintln(os.Stderr, "screensaver not started (no wallpaper, already active, or idle is inhibited)")
			return 1
		}
		return 0
	case "on", "off":
		enabled := args[0] == "on"
		payload.Enabled = &enabled
	case "delay":
		if len(args) != 2 {
			printScreensaverUsage()
			return 2
		}
		delay, err := parseDelay(args[1])
		if err != nil {
			return fail(err)
		}
		seconds := int(delay / time.Second)
		payload.DelaySeconds = &seconds
	case "clock":
		if len(args) != 2 {
			printScreensaverUsage()
			return 2
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			return fail(err)
		}
		payload.Clock = &on
	default:
		fmt.Fprintf(os.Stderr, "Unknown screensaver command: %s\n\n", args[0])
		printScreensaverUsage()
		return 2
	}

	data, err := client.ConfigureScreensaver(payload)
	if err != nil {
		return fail(err)
	}
	fmt.Println(describeScreensaver(*data))
	return 0
}

// parseDelay accepts a Go duration or a number of seconds, at least one second.
func parseDelay(s string) (time.Duration, error) {
	var d time.Duration
	if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("invalid delay %q", s)
	}
	if d < time.Second {
		return 0, fmt.Errorf("delay must be at least 1s, got %s", d)
	}
	return d, nil
}

func runSync(args []string) int {
	fs := newFlagSet("sync", "sync", "Align position and play state of displays showing files with the same name.")
	if code, ok := parseFlags(fs, args, 0); !ok {
		return code
	}
	synced, err := ipc.NewClient().SyncSameNamed()
	if err != nil {
		return fail(err)
	}
	fmt.Printf("synced %d display(s)\n", synced)
	return 0
}

func runWatch(args []string) int {
	fs := newFlagSet("watch", "watch [--json]", "Stream daemon events until interrupted.")
	asJSON := fs.Bool("json", false, "Print one JSON object per event")
	if code, ok := parseFlags(fs, args, 0); !ok {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jsonOut := wantJSON(*asJSON)
	err := ipc.NewClient().Watch(ctx, func(ev notify.Event) {
		if jsonOut {
			_ = printJSON(os.Stdout, ev)
			return
		}
		fmt.Printf("%s %s\n", time.Now().Format("15:04:05"), formatEvent(ev))
	})
	if err != nil {
		return fail(err)
	}
	return 0
}

func runReload(args []string) int {
	fs := newFlagSet("reload", "reload", "Ask the daemon to re-read its configuration file.")
	if code, ok := parseFlags(fs, args, 0); !ok {
		return code
	}
	if err := ipc.NewClient().Reload(); err != nil {
		return fail(err)
	}
	return 0
}

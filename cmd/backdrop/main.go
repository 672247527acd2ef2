package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/1broseidon/backdrop/internal/config"
	"github.com/1broseidon/backdrop/internal/daemon"
	"github.com/1broseidon/backdrop/internal/hotkeys"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/player/mpv"
	"github.com/1broseidon/backdrop/internal/runtimepath"
	"github.com/1broseidon/backdrop/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "displays":
		os.Exit(runDisplays(os.Args[2:]))
	case "set":
		os.Exit(runSet(os.Args[2:]))
	case "clear":
		os.Exit(runClear(os.Args[2:]))
	case "play":
		os.Exit(runPlay(os.Args[2:]))
	case "pause":
		os.Exit(runPause(os.Args[2:]))
	case "volume":
		os.Exit(runVolume(os.Args[2:]))
	case "mute":
		os.Exit(runMute(os.Args[2:], true))
	case "unmute":
		os.Exit(runMute(os.Args[2:], false))
	case "stretch":
		os.Exit(runStretch(os.Args[2:]))
	case "policy":
		os.Exit(runPolicy(os.Args[2:]))
	case "screensaver":
		os.Exit(runScreensaver(os.Args[2:]))
	case "sync":
		os.Exit(runSync(os.Args[2:]))
	case "watch":
		os.Exit(runWatch(os.Args[2:]))
	case "reload":
		os.Exit(runReload(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "mcp":
		os.Exit(runMCP(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: backdrop <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon              Start the backdrop daemon (foreground)")
	fmt.Fprintln(w, "  status              Show daemon and per-display status")
	fmt.Fprintln(w, "  displays            List connected displays")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  set                 Show an image or video on a display")
	fmt.Fprintln(w, "  clear               Remove the wallpaper from a display")
	fmt.Fprintln(w, "  play                Resume a paused display")
	fmt.Fprintln(w, "  pause               Pause a display")
	fmt.Fprintln(w, "  volume              Set per-display or global volume")
	fmt.Fprintln(w, "  mute                Mute every display")
	fmt.Fprintln(w, "  unmute              Restore saved volumes")
	fmt.Fprintln(w, "  stretch             Crop a display's wallpaper to fill the screen")
	fmt.Fprintln(w, "  sync                Align displays showing the same file")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  policy              Show or set the playback policy")
	fmt.Fprintln(w, "  screensaver         Configure or trigger the screensaver")
	fmt.Fprintln(w, "  watch               Stream daemon events")
	fmt.Fprintln(w, "  reload              Re-read the configuration file")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  mcp serve           Start MCP server (stdio transport)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'backdrop <command> --help' for command-specific options.")
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("config", "", "Config file path (default: ~/.config/backdrop/config.yaml)")
	noWatch := fs.Bool("no-watch", false, "Do not reload the config file when it changes")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: backdrop daemon [--config PATH] [--no-watch]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Run the wallpaper daemon in the foreground.")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon takes no arguments")
		fs.Usage()
		return 2
	}

	res, err := loadConfig(*path)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}
	cfg := res.Config

	level := new(slog.LevelVar)
	level.Set(cfg.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Connect to display server
	backend, err := platform.NewLinuxBackendFromDisplay()
	if err != nil {
		logger.Error("failed to connect to display", "error", err)
		return 1
	}
	defer backend.Disconnect()

	storeDir := cfg.StorePath
	if storeDir == "" {
		if storeDir, err = runtimepath.StoreDir(); err != nil {
			logger.Error("failed to resolve store directory", "error", err)
			return 1
		}
	}
	records, err := store.Open(store.Options{Path: storeDir, Retention: cfg.Reconcile.Retention, Logger: logger})
	if err != nil {
		logger.Error("failed to open record store", "error", err)
		return 1
	}
	defer records.Close()

	bookmarks := store.NewBookmarker(logger)
	if closer, ok := bookmarks.(io.Closer); ok {
		defer closer.Close()
	}

	socketDir, err := runtimepath.PlayerSocketDir()
	if err != nil {
		logger.Error("failed to resolve player socket directory", "error", err)
		return 1
	}
	engine := mpv.New(mpv.Config{
		Binary:    cfg.Player.Binary,
		ExtraArgs: cfg.Player.ExtraArgs,
		SocketDir: socketDir,
		Logger:    logger,
	})

	opts := daemon.Options{
		Config:     cfg,
		ConfigPath: res.Path,
		Watch:      !*noWatch,
		Backend:    backend,
		Engine:     engine,
		Store:      records,
		Bookmarks:  bookmarks,
		Topology:   backend,
		WatchSleep: true,
		LogLevel:   level,
		Logger:     logger,
	}
	if inhibitors, err := daemon.NewLogindInhibitors(); err != nil {
		logger.Warn("idle inhibitors unavailable", "error", err)
	} else {
		defer inhibitors.Close()
		opts.Inhibitors = inhibitors
	}

	d, err := daemon.New(opts)
	if err != nil {
		logger.Error("failed to create daemon", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP reloads the config file.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				logger.Info("received SIGHUP, reloading config")
				if err := d.Reload(ctx); err != nil {
					logger.Error("config reload failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	hotkeyHandler := hotkeys.NewHandler(backend.Connection(), logger)
	if err := hotkeyHandler.Register("screensaver", cfg.Screensaver.Hotkey, func() {
		// Hotkey callbacks run on the X event loop; the trigger waits on the
		// control loop.
		go func() {
			if _, err := d.TriggerScreensaver(ctx); err != nil {
				logger.Warn("screensaver hotkey failed", "error", err)
			}
		}()
	}); err != nil {
		logger.Warn("hotkey unavailable", "error", err)
	}

	// Start event loop
	go backend.EventLoop()
	defer backend.Quit()

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon stopped", "error", err)
		return 1
	}
	logger.Info("backdrop daemon stopped")
	return 0
}

func loadConfig(path string) (*config.LoadResult, error) {
	if path == "" {
		return config.LoadWithSources()
	}
	return config.LoadFromPath(path)
}

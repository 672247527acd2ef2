// Package mcp exposes the wallpaper daemon's command surface as MCP tools
// over stdio, forwarding every call to the running daemon.
package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/backdrop/internal/ipc"
	"github.com/1broseidon/backdrop/internal/session"
)

const (
	ServerName    = "backdrop"
	ServerVersion = "0.1.0"
)

// Daemon is the subset of the daemon client the tools call.
type Daemon interface {
	GetStatus() (*ipc.StatusData, error)
	GetDisplays() (*ipc.DisplaysData, error)
	SetContent(p ipc.SetContentPayload) (*session.Status, error)
	Clear(display string, purge bool) error
	Play(display string) error
	Pause(display string) error
	SetVolume(display string, volume float64) error
	SetGlobalVolume(volume float64) error
	MuteAll() error
	UnmuteAll() error
	SetStretch(display string, stretch bool) error
	SetPolicy(mode string) error
	ConfigureScreensaver(p ipc.ScreensaverPayload) (*ipc.ScreensaverData, error)
	TriggerScreensaver() (bool, error)
	SyncSameNamed() (int, error)
}

var _ Daemon = (*ipc.Client)(nil)

// Server is the MCP server for wallpaper control.
type Server struct {
	mcpServer *mcpsdk.Server
	daemon    Daemon
	logger    *slog.Logger
}

// NewServer creates a new MCP server that forwards to daemon.
func NewServer(daemon Daemon, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		daemon: daemon,
		logger: logger.With("component", "mcp"),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_status",
		Description: "Show the daemon state: policy mode, mute, suspension, screensaver state and one entry per display session with its content and playback state.",
	}, s.handleGetStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_displays",
		Description: "List connected displays with their stable identity, output name, geometry and whether they have a wallpaper session.",
	}, s.handleListDisplays)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_wallpaper",
		Description: "Show an image or looping video on a display. The choice is saved and restored when the display reconnects or the daemon restarts (for up to 24 hours).",
	}, s.handleSetWallpaper)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "clear_wallpaper",
		Description: "Remove the wallpaper from a display. Pass forget=true to also drop the saved choice.",
	}, s.handleClearWallpaper)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "play",
		Description: "Resume a video wallpaper the user paused. Policy may still keep it paused (for example on battery).",
	}, s.handlePlay)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pause",
		Description: "Pause a video wallpaper until play is called.",
	}, s.handlePause)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_volume",
		Description: "Set the volume of one display, or of every display with all=true. A volume above zero unmutes.",
	}, s.handleSetVolume)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_muted",
		Description: "Mute every display, or restore each display's saved volume.",
	}, s.handleSetMuted)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_stretch",
		Description: "Crop a display's wallpaper to fill the screen, or letterbox it.",
	}, s.handleSetStretch)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_policy",
		Description: "Choose when video wallpapers pause: always-play, automatic (pause covered displays), power-save, power-save-plus, or stationary.",
	}, s.handleSetPolicy)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "configure_screensaver",
		Description: "Enable or disable the idle screensaver, change its delay or toggle its clock. Omitted fields are unchanged.",
	}, s.handleConfigureScreensaver)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trigger_screensaver",
		Description: "Start the screensaver now. Returns activated=false when no display has a wallpaper or another application inhibits idle.",
	}, s.handleTriggerScreensaver)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sync_same_named",
		Description: "Align position and play state of displays showing files with the same name.",
	}, s.handleSyncSameNamed)
}

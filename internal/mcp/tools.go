package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/backdrop/internal/ipc"
)

func (s *Server) handleGetStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, ipc.StatusData, error) {
	status, err := s.daemon.GetStatus()
	if err != nil {
		return nil, ipc.StatusData{}, err
	}
	return nil, *status, nil
}

func (s *Server) handleListDisplays(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, ListDisplaysOutput, error) {
	data, err := s.daemon.GetDisplays()
	if err != nil {
		return nil, ListDisplaysOutput{}, err
	}
	displays := data.Displays
	if displays == nil {
		displays = []ipc.DisplayInfo{}
	}
	return nil, ListDisplaysOutput{Displays: displays}, nil
}

func (s *Server) handleSetWallpaper(_ context.Context, _ *mcpsdk.CallToolRequest, args SetWallpaperInput) (*mcpsdk.CallToolResult, SetWallpaperOutput, error) {
	if args.Path == "" {
		return nil, SetWallpaperOutput{}, fmt.Errorf("path is required")
	}
	if args.Volume != nil && (*args.Volume < 0 || *args.Volume > 1) {
		return nil, SetWallpaperOutput{}, fmt.Errorf("volume must be between 0 and 1, got %g", *args.Volume)
	}

	st, err := s.daemon.SetContent(ipc.SetContentPayload{
		Display: args.Display,
		Locator: args.Path,
		Kind:    args.Kind,
		Stretch: args.Stretch,
		Volume:  args.Volume,
	})
	if err != nil {
		s.logger.Debug("set_wallpaper failed", "path", args.Path, "error", err)
		return nil, SetWallpaperOutput{}, err
	}
	return nil, SetWallpaperOutput{
		Identity: string(st.Identity),
		Display:  st.Display,
		Playing:  st.Playing,
		Direct:   st.Direct,
	}, nil
}

func (s *Server) handleClearWallpaper(_ context.Context, _ *mcpsdk.CallToolRequest, args ClearWallpaperInput) (*mcpsdk.CallToolResult, OKOutput, error) {
	return ack(s.daemon.Clear(args.Display, args.Forget))
}

func (s *Server) handlePlay(_ context.Context, _ *mcpsdk.CallToolRequest, args DisplayInput) (*mcpsdk.CallToolResult, OKOutput, error) {
	return ack(s.daemon.Play(args.Display))
}

func (s *Server) handlePause(_ context.Context, _ *mcpsdk.CallToolRequest, args DisplayInput) (*mcpsdk.CallToolResult, OKOutput, error) {
	return ack(s.daemon.Pause(args.Display))
}

func (s *Server) handleSetVolume(_ context.Context, _ *mcpsdk.CallToolRequest, args VolumeInput) (*mcpsdk.CallToolResult, OKOutput, error) {
	if args.Volume < 0 || args.Volume > 1 {
		return nil, OKOutput{}, fmt.Errorf("volume must be between 0 and 1, got %g", args.Volume)
	}
	if args.All {
		if args.Display != "" {
			return nil, OKOutput{}, fmt.Errorf("display and all are mutually exclusive")
		}
		return ack(s.daemon.SetGlobalVolume(args.Volume))
	}
	return ack(s.daemon.SetVolume(args.Display, args.Volume))
}

func (s *Server) handleSetMuted(_ context.Context, _ *mcpsdk.CallToolRequest, args MuteInput) (*mcpsdk.CallToolResult, OKOutput, error) {
	if args.Muted {
		return ack(s.daemon.MuteAll())
	}
	return ack(s.daemon.UnmuteAll())
}

func (s *Server) handleSetStretch(_ context.Context, _ *mcpsdk.CallToolRequest, args StretchInput) (*mcpsdk.CallToolResult, OKOutput, error) {
	return ack(s.daemon.SetStretch(args.Display, args.Stretch))
}

func (s *Server) handleSetPolicy(_ context.Context, _ *mcpsdk.CallToolRequest, args PolicyInput) (*mcpsdk.CallToolResult, OKOutput, error) {
	return ack(s.daemon.SetPolicy(args.Mode))
}

func (s *Server) handleConfigureScreensaver(_ context.Context, _ *mcpsdk.CallToolRequest, args ScreensaverInput) (*mcpsdk.CallToolResult, ipc.ScreensaverData, error) {
	if args.DelaySeconds != nil && *args.DelaySeconds < 1 {
		return nil, ipc.ScreensaverData{}, fmt.Errorf("delay_seconds must be at least 1, got %d", *args.DelaySeconds)
	}
	data, err := s.daemon.ConfigureScreensaver(ipc.ScreensaverPayload{
		Enabled:      args.Enabled,
		DelaySeconds: args.DelaySeconds,
		Clock:        args.Clock,
	})
	if err != nil {
		return nil, ipc.ScreensaverData{}, err
	}
	return nil, *data, nil
}

func (s *Server) handleTriggerScreensaver(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, TriggerOutput, error) {
	activated, err := s.daemon.TriggerScreensaver()
	if err != nil {
		return nil, TriggerOutput{}, err
	}
	return nil, TriggerOutput{Activated: activated}, nil
}

func (s *Server) handleSyncSameNamed(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, SyncOutput, error) {
	synced, err := s.daemon.SyncSameNamed()
	if err != nil {
		return nil, SyncOutput{}, err
	}
	return nil, SyncOutput{Synced: synced}, nil
}

func ack(err error) (*mcpsdk.CallToolResult, OKOutput, error) {
	if err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

package mcp

import "github.com/1broseidon/backdrop/internal/ipc"

// DisplayInput selects a display by identity or output name.
type DisplayInput struct {
	Display string `json:"display,omitempty" jsonschema:"Display identity or output name (e.g. DP-1). May be omitted when only one display is connected."`
}

// StatusInput is the input for tools that take no arguments.
type StatusInput struct{}

// ListDisplaysOutput is the output for the list_displays tool.
type ListDisplaysOutput struct {
	Displays []ipc.DisplayInfo `json:"displays"`
}

// SetWallpaperInput is the input for the set_wallpaper tool.
type SetWallpaperInput struct {
	Display string   `json:"display,omitempty" jsonschema:"Display identity or output name. May be omitted when only one display is connected."`
	Path    string   `json:"path" jsonschema:"required,Absolute path or file:// URL of the image or video"`
	Kind    string   `json:"kind,omitempty" jsonschema:"image or video (default: guessed from the file extension)"`
	Stretch bool     `json:"stretch,omitempty" jsonschema:"Crop the media to fill the whole display instead of letterboxing"`
	Volume  *float64 `json:"volume,omitempty" jsonschema:"Video volume from 0 to 1 (default: silent)"`
}

// SetWallpaperOutput is the output for the set_wallpaper tool.
type SetWallpaperOutput struct {
	Identity string `json:"identity"`
	Display  string `json:"display"`
	Playing  bool   `json:"playing"`
	Direct   bool   `json:"direct,omitempty"`
}

// ClearWallpaperInput is the input for the clear_wallpaper tool.
type ClearWallpaperInput struct {
	Display string `json:"display,omitempty" jsonschema:"Display identity or output name"`
	Forget  bool   `json:"forget,omitempty" jsonschema:"Also forget the saved wallpaper so it is not restored on reconnect"`
}

// VolumeInput is the input for the set_volume tool.
type VolumeInput struct {
	Display string  `json:"display,omitempty" jsonschema:"Display identity or output name. Omit together with all=true to set every display."`
	Volume  float64 `json:"volume" jsonschema:"required,Volume from 0 (silent) to 1"`
	All     bool    `json:"all,omitempty" jsonschema:"Apply the volume to every display"`
}

// MuteInput is the input for the set_muted tool.
type MuteInput struct {
	Muted bool `json:"muted" jsonschema:"required,true mutes every display, false restores saved volumes"`
}

// StretchInput is the input for the set_stretch tool.
type StretchInput struct {
	Display string `json:"display,omitempty" jsonschema:"Display identity or output name"`
	Stretch bool   `json:"stretch" jsonschema:"required,Crop the media to fill the display"`
}

// PolicyInput is the input for the set_policy tool.
type PolicyInput struct {
	Mode string `json:"mode" jsonschema:"required,One of: always-play, automatic, power-save, power-save-plus, stationary"`
}

// ScreensaverInput is the input for the configure_screensaver tool.
type ScreensaverInput struct {
	Enabled      *bool `json:"enabled,omitempty" jsonschema:"Enable or disable the idle screensaver"`
	DelaySeconds *int  `json:"delay_seconds,omitempty" jsonschema:"Idle time before the screensaver starts (at least 1)"`
	Clock        *bool `json:"clock,omitempty" jsonschema:"Show a clock while the screensaver is active"`
}

// TriggerOutput is the output for the trigger_screensaver tool.
type TriggerOutput struct {
	Activated bool `json:"activated"`
}

// SyncOutput is the output for the sync_same_named tool.
type SyncOutput struct {
	Synced int `json:"synced"`
}

// OKOutput acknowledges a command without further data.
type OKOutput struct {
	OK bool `json:"ok"`
}

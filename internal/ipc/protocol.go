package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/session"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandReload             CommandType = "RELOAD"
	CommandGetStatus          CommandType = "GET_STATUS"
	CommandGetDisplays        CommandType = "GET_DISPLAYS"
	CommandSetContent         CommandType = "SET_CONTENT"
	CommandClear              CommandType = "CLEAR"
	CommandPlay               CommandType = "PLAY"
	CommandPause              CommandType = "PAUSE"
	CommandSetVolume          CommandType = "SET_VOLUME"
	CommandSetGlobalVolume    CommandType = "SET_GLOBAL_VOLUME"
	CommandMuteAll            CommandType = "MUTE_ALL"
	CommandUnmuteAll          CommandType = "UNMUTE_ALL"
	CommandSetStretch         CommandType = "SET_STRETCH"
	CommandSetPolicy          CommandType = "SET_POLICY"
	CommandSetScreensaver     CommandType = "SET_SCREENSAVER"
	CommandTriggerScreensaver CommandType = "TRIGGER_SCREENSAVER"
	CommandSyncSameNamed      CommandType = "SYNC_SAME_NAMED"
	// CommandWatch keeps the connection open and streams one event per line.
	CommandWatch CommandType = "WATCH"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ScreensaverData describes the screensaver state and settings.
type ScreensaverData struct {
	State        string `json:"state"`
	Enabled      bool   `json:"enabled"`
	DelaySeconds int    `json:"delay_seconds"`
	Clock        bool   `json:"clock"`
	Suppressed   bool   `json:"suppressed"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	Policy        string           `json:"policy"`
	Muted         bool             `json:"muted"`
	Suspended     bool             `json:"suspended"`
	Screensaver   ScreensaverData  `json:"screensaver"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	DaemonRunning bool             `json:"daemon_running"`
	Sessions      []session.Status `json:"sessions"`
}

// DisplayInfo represents information about a single connected display
type DisplayInfo struct {
	Identity platform.Identity `json:"identity"`
	Name     string            `json:"name"`
	X        int               `json:"x"`
	Y        int               `json:"y"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	// Session is true when the display currently has a surface.
	Session bool `json:"session"`
}

// DisplaysData represents the data returned by GET_DISPLAYS
type DisplaysData struct {
	Displays []DisplayInfo `json:"displays"`
}

// DisplayPayload selects a display by identity or output name.
type DisplayPayload struct {
	Display string `json:"display"`
}

// SetContentPayload assigns content to a display.
type SetContentPayload struct {
	Display string   `json:"display"`
	Locator string   `json:"locator"`
	Kind    string   `json:"kind,omitempty"` // guessed from the extension when empty
	Stretch bool     `json:"stretch,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

// ClearPayload clears a display. Purge also forgets the persisted record.
type ClearPayload struct {
	Display string `json:"display"`
	Purge   bool   `json:"purge,omitempty"`
}

type VolumePayload struct {
	Display string  `json:"display"`
	Volume  float64 `json:"volume"`
}

type GlobalVolumePayload struct {
	Volume float64 `json:"volume"`
}

type StretchPayload struct {
	Display string `json:"display"`
	Stretch bool   `json:"stretch"`
}

type PolicyPayload struct {
	Mode string `json:"mode"`
}

// ScreensaverPayload changes screensaver settings; nil fields are unchanged.
type ScreensaverPayload struct {
	Enabled      *bool `json:"enabled,omitempty"`
	DelaySeconds *int  `json:"delay_seconds,omitempty"`
	Clock        *bool `json:"clock,omitempty"`
}

type TriggerData struct {
	Activated bool `json:"activated"`
}

type SyncData struct {
	Synced int `json:"synced"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
	}
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

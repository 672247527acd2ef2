package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/1broseidon/backdrop/internal/notify"
	"github.com/1broseidon/backdrop/internal/runtimepath"
	"github.com/1broseidon/backdrop/internal/session"
)

// Client handles IPC communication with the daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client
func NewClient() *Client {
	socketPath, err := runtimepath.SocketPath()
	if err != nil {
		// Keep constructor non-failing; sendRequest surfaces connection errors.
		socketPath = ""
	}
	return NewClientForSocket(socketPath)
}

// NewClientForSocket creates a client for an explicit socket path.
func NewClientForSocket(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    15 * time.Second,
	}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w (is the daemon running?)", err)
	}
	return conn, nil
}

func writeRequest(conn net.Conn, command CommandType, payload any) error {
	req := Request{Command: command}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		req.Payload = data
	}

	reqData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	reqData = append(reqData, '\n')
	if _, err := conn.Write(reqData); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

func readResponse(reader *bufio.Reader) (*Response, error) {
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Status == "ERROR" {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return &resp, nil
}

// call sends a request and decodes the response data into out, if non-nil.
func (c *Client) call(command CommandType, payload any, out any) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if err := writeRequest(conn, command, payload); err != nil {
		return err
	}
	resp, err := readResponse(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", command, err)
	}
	return nil
}

// Reload asks the daemon to re-read its configuration.
func (c *Client) Reload() error {
	return c.call(CommandReload, nil, nil)
}

// GetStatus retrieves daemon status
func (c *Client) GetStatus() (*StatusData, error) {
	var status StatusData
	if err := c.call(CommandGetStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetDisplays retrieves the connected displays.
func (c *Client) GetDisplays() (*DisplaysData, error) {
	var data DisplaysData
	if err := c.call(CommandGetDisplays, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SetContent assigns content to a display and returns its new state.
func (c *Client) SetContent(p SetContentPayload) (*session.Status, error) {
	var st session.Status
	if err := c.call(CommandSetContent, p, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Clear removes content from a display.
func (c *Client) Clear(display string, purge bool) error {
	return c.call(CommandClear, ClearPayload{Display: display, Purge: purge}, nil)
}

// Play resumes a display the user paused.
func (c *Client) Play(display string) error {
	return c.call(CommandPlay, DisplayPayload{Display: display}, nil)
}

// Pause pauses a display until Play.
func (c *Client) Pause(display string) error {
	return c.call(CommandPause, DisplayPayload{Display: display}, nil)
}

func (c *Client) SetVolume(display string, volume float64) error {
	return c.call(CommandSetVolume, VolumePayload{Display: display, Volume: volume}, nil)
}

func (c *Client) SetGlobalVolume(volume float64) error {
	return c.call(CommandSetGlobalVolume, GlobalVolumePayload{Volume: volume}, nil)
}

func (c *Client) MuteAll() error {
	return c.call(CommandMuteAll, nil, nil)
}

func (c *Client) UnmuteAll() error {
	return c.call(CommandUnmuteAll, nil, nil)
}

func (c *Client) SetStretch(display string, stretch bool) error {
	return c.call(CommandSetStretch, StretchPayload{Display: display, Stretch: stretch}, nil)
}

// SetPolicy switches the playback policy mode.
func (c *Client) SetPolicy(mode string) error {
	return c.call(CommandSetPolicy, PolicyPayload{Mode: mode}, nil)
}

// ConfigureScreensaver changes screensaver settings and returns the result.
func (c *Client) ConfigureScreensaver(p ScreensaverPayload) (*ScreensaverData, error) {
	var data ScreensaverData
	if err := c.call(CommandSetScreensaver, p, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// TriggerScreensaver starts the screensaver immediately.
func (c *Client) TriggerScreensaver() (bool, error) {
	var data TriggerData
	if err := c.call(CommandTriggerScreensaver, nil, &data); err != nil {
		return false, err
	}
	return data.Activated, nil
}

// SyncSameNamed aligns playback of displays showing the same file.
func (c *Client) SyncSameNamed() (int, error) {
	var data SyncData
	if err := c.call(CommandSyncSameNamed, nil, &data); err != nil {
		return 0, err
	}
	return data.Synced, nil
}

// Watch streams daemon events to fn until ctx is cancelled or the daemon
// closes the connection.
func (c *Client) Watch(ctx context.Context, fn func(notify.Event)) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetDeadline(time.Now().Add(c.timeout))
	if err := writeRequest(conn, CommandWatch, nil); err != nil {
		return err
	}
	reader := bufio.NewReader(conn)
	if _, err := readResponse(reader); err != nil {
		return err
	}
	conn.SetDeadline(time.Time{})

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch stream closed: %w", err)
		}
		var ev notify.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("failed to parse event: %w", err)
		}
		fn(ev)
	}
}

// Ping checks if the daemon is responding
func (c *Client) Ping() error {
	_, err := c.GetStatus()
	return err
}

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1broseidon/backdrop/internal/notify"
	"github.com/1broseidon/backdrop/internal/policy"
	"github.com/1broseidon/backdrop/internal/runtimepath"
	"github.com/1broseidon/backdrop/internal/session"
)

const defaultCommandTimeout = 10 * time.Second

// Controller executes commands against the running daemon.
type Controller interface {
	Status(ctx context.Context) (StatusData, error)
	Displays(ctx context.Context) (DisplaysData, error)
	SetContent(ctx context.Context, p SetContentPayload) (session.Status, error)
	Clear(ctx context.Context, p ClearPayload) error
	Play(ctx context.Context, display string) error
	Pause(ctx context.Context, display string) error
	SetVolume(ctx context.Context, p VolumePayload) error
	SetGlobalVolume(ctx context.Context, volume float64) error
	MuteAll(ctx context.Context) error
	UnmuteAll(ctx context.Context) error
	SetStretch(ctx context.Context, p StretchPayload) error
	SetPolicy(ctx context.Context, mode policy.Mode) error
	ConfigureScreensaver(ctx context.Context, p ScreensaverPayload) (ScreensaverData, error)
	TriggerScreensaver(ctx context.Context) (TriggerData, error)
	SyncSameNamed(ctx context.Context) (SyncData, error)
	Reload(ctx context.Context) error
	Subscribe() (<-chan notify.Event, func())
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// SocketPath defaults to runtimepath.SocketPath.
	SocketPath string
	Controller Controller
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Server handles IPC requests from clients
type Server struct {
	socketPath string
	listener   net.Listener
	ctrl       Controller
	timeout    time.Duration
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shuttingDown bool
	shutdownMu   sync.Mutex
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig) (*Server, error) {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		var err error
		socketPath, err = runtimepath.SocketPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve IPC socket path: %w", err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Remove existing socket if present
	os.Remove(socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		ctrl:       cfg.Controller,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Start begins listening for IPC connections
func (s *Server) Start() error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("IPC server listening", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.shutdownMu.Lock()
			if s.shuttingDown {
				s.shutdownMu.Unlock()
				return
			}
			s.shutdownMu.Unlock()
			s.logger.Warn("IPC accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection handles a single IPC connection
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	// Read the request (expect JSON on a single line)
	_ = conn.SetReadDeadline(time.Now().Add(s.timeout))
	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		s.logger.Warn("IPC read error", "error", err)
		return
	}

	req, err := ParseRequest(data)
	if err != nil {
		s.send(conn, NewErrorResponse(fmt.Sprintf("Invalid request: %v", err)))
		return
	}

	if req.Command == CommandWatch {
		_ = conn.SetReadDeadline(time.Time{})
		s.handleWatch(conn, reader)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	s.send(conn, s.handleCommand(ctx, req))
}

// handleCommand processes an IPC command and returns a response
func (s *Server) handleCommand(ctx context.Context, req *Request) *Response {
	switch req.Command {
	case CommandReload:
		return respond(nil, s.ctrl.Reload(ctx))
	case CommandGetStatus:
		return respond(s.ctrl.Status(ctx))
	case CommandGetDisplays:
		return respond(s.ctrl.Displays(ctx))
	case CommandSetContent:
		var p SetContentPayload
		if resp := decode(req.Payload, &p); resp != nil {
			return resp
		}
		if p.Locator == "" {
			return NewErrorResponse("locator is required")
		}
		return respond(s.ctrl.SetContent(ctx, p))
	case CommandClear:
		var p ClearPayload
		if resp := decode(req.Payload, &p); resp != nil {
			return resp
		}
		return respond(nil, s.ctrl.Clear(ctx, p))
	case CommandPlay, CommandPause:
		var p DisplayPayload
		if resp := decode(req.Payload, &p); resp != nil {
			return resp
		}
		if req.Command == CommandPlay {
			return respond(nil, s.ctrl.Play(ctx, p.Display))
		}
		return respond(nil, s.ctrl.Pause(ctx, p.Display))
	case CommandSetVolume:
		var p VolumePayload
		if resp := decode(req.Payload, &p); resp != nil {
			return resp
		}
		return respond(nil, s.ctrl.SetVolume(ctx, p))
	case CommandSetGlobalVolume:
		var p GlobalVolumePayload
		if resp := decode(req.Payload, &p); resp != nil {
			return resp
		}
		return respond(nil, s.ctrl.SetGlobalVolume(ctx, p.Volume))
	case CommandMuteAll:
		return respond(nil, s.ctrl.MuteAll(ctx))
	case CommandUnmuteAll:
		return respond(nil, s.ctrl.UnmuteAll(ctx))
	case CommandSetStretch:
		var p StretchPayload
		if resp := decode(req.Payload, &p); resp != nil {
			return resp
		}
		return respond(nil, s.ctrl.SetStretch(ctx, p))
	case CommandSetPolicy:
		var p PolicyPayload
		if resp := decode(req.Payload, &p); resp != nil {
			return resp
		}
		mode, err := policy.ParseMode(p.Mode)
		if err != nil {
			return NewErrorResponse(err.Error())
		}
		return respond(nil, s.ctrl.SetPolicy(ctx, mode))
	case CommandSetScreensaver:
		var p ScreensaverPayload
		if resp := decode(req.Payload, &p); resp != nil {
			return resp
		}
		if p.DelaySeconds != nil && *p.DelaySeconds < 1 {
			return NewErrorResponse("delay_seconds must be at least 1")
		}
		return respond(s.ctrl.ConfigureScreensaver(ctx, p))
	case CommandTriggerScreensaver:
		return respond(s.ctrl.TriggerScreensaver(ctx))
	case CommandSyncSameNamed:
		return respond(s.ctrl.SyncSameNamed(ctx))
	default:
		return NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

// handleWatch streams events until the client disconnects or the server
// stops.
func (s *Server) handleWatch(conn net.Conn, reader *bufio.Reader) {
	events, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	ok, _ := NewOKResponse(nil)
	if !s.send(conn, ok) {
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = io.Copy(io.Discard, reader)
	}()

	enc := json.NewEncoder(conn)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				s.logger.Debug("IPC watch write failed", "error", err)
				return
			}
		}
	}
}

func decode(payload json.RawMessage, out any) *Response {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return NewErrorResponse(fmt.Sprintf("Invalid payload: %v", err))
	}
	return nil
}

func respond(data any, err error) *Response {
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	resp, merr := NewOKResponse(data)
	if merr != nil {
		return NewErrorResponse(merr.Error())
	}
	return resp
}

func (s *Server) send(conn net.Conn, resp *Response) bool {
	data, err := resp.Marshal()
	if err != nil {
		s.logger.Warn("failed to marshal response", "error", err)
		return false
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logger.Debug("failed to send response", "error", err)
		return false
	}
	return true
}

// Stop gracefully shuts down the IPC server
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}

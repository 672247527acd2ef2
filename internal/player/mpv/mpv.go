// Package mpv implements the player engine on top of mpv processes embedded
// into surface windows and driven over mpv's JSON IPC socket.
package mpv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/player"
	"github.com/google/uuid"
)

const (
	defaultStartTimeout = 5 * time.Second
	dialInterval        = 50 * time.Millisecond
	quitTimeout         = 2 * time.Second
)

// ErrExited is returned by commands sent to a player whose process is gone.
var ErrExited = errors.New("mpv exited")

// Config configures the engine.
type Config struct {
	// Binary is the mpv executable, resolved through PATH.
	Binary    string
	ExtraArgs []string
	// SocketDir holds the per-player IPC sockets.
	SocketDir    string
	StartTimeout time.Duration
	Logger       *slog.Logger
}

// Engine starts one mpv process per opened resource.
type Engine struct {
	binary       string
	extraArgs    []string
	socketDir    string
	startTimeout time.Duration
	logger       *slog.Logger
}

var _ player.Engine = (*Engine)(nil)

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Binary == "" {
		cfg.Binary = "mpv"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		binary:       cfg.Binary,
		extraArgs:    cfg.ExtraArgs,
		socketDir:    cfg.SocketDir,
		startTimeout: cfg.StartTimeout,
		logger:       cfg.Logger.With("component", "mpv"),
	}
}

// Open starts mpv rendering res into surface and waits for its IPC socket.
func (e *Engine) Open(ctx context.Context, surface platform.Surface, res *media.Resource, opts player.Options) (player.Player, error) {
	if res == nil {
		return nil, fmt.Errorf("no resource to play")
	}
	if _, err := exec.LookPath(e.binary); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", e.binary, err)
	}

	socket := filepath.Join(e.socketDir, "mpv-"+uuid.NewString()+".sock")
	args := buildArgs(surface.ID(), socket, res, opts)
	args = append(args, e.extraArgs...)
	args = append(args, "--", res.Path)

	cmd := exec.Command(e.binary, args...)
	configureProcess(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.binary, err)
	}

	p := &mpvPlayer{
		cmd:    cmd,
		socket: socket,
		exited: make(chan struct{}),
		logger: e.logger.With("display", surface.Display(), "pid", cmd.Process.Pid),
	}
	go p.wait()

	conn, err := p.dial(ctx, e.startTimeout)
	if err != nil {
		p.kill()
		return nil, err
	}
	p.ipc = newIPC(conn)
	p.logger.Debug("player started", "path", res.Path, "direct", res.Direct)
	return p, nil
}

// buildArgs returns the mpv flags for embedding res into window wid.
func buildArgs(wid uint32, socket string, res *media.Resource, opts player.Options) []string {
	args := []string{
		"--no-config",
		"--really-quiet",
		"--no-terminal",
		"--no-osc",
		"--no-input-default-bindings",
		"--input-vo-keyboard=no",
		"--wid=" + strconv.FormatUint(uint64(wid), 10),
		"--input-ipc-server=" + socket,
		"--loop-file=inf",
		"--image-display-duration=inf",
		"--keep-open=yes",
		"--hwdec=auto-safe",
		"--volume=" + strconv.Itoa(volumePercent(opts.Volume)),
		"--panscan=" + strconv.FormatFloat(panscan(opts.Stretch), 'f', 1, 64),
	}
	if opts.StartPaused {
		args = append(args, "--pause")
	}
	if res.Direct {
		args = append(args, "--cache=no")
	} else {
		args = append(args, "--cache=yes")
	}
	return args
}

func volumePercent(v float64) int {
	return int(media.ClampVolume(v)*100 + 0.5)
}

// panscan crops the video to fill the window when stretching.
func panscan(stretch bool) float64 {
	if stretch {
		return 1
	}
	return 0
}

// mpvPlayer controls one mpv process.
type mpvPlayer struct {
	cmd    *exec.Cmd
	socket string
	ipc    *ipcConn
	logger *slog.Logger

	exited    chan struct{}
	closeOnce sync.Once
}

var _ player.Player = (*mpvPlayer)(nil)

func (p *mpvPlayer) wait() {
	err := p.cmd.Wait()
	if err != nil {
		p.logger.Debug("player exited", "error", err)
	}
	close(p.exited)
}

func (p *mpvPlayer) dial(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(dialInterval)
	defer ticker.Stop()

	for {
		conn, err := net.Dial("unix", p.socket)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ticker.C:
		case <-p.exited:
			return nil, fmt.Errorf("%w before opening its IPC socket", ErrExited)
		case <-deadline.C:
			return nil, fmt.Errorf("mpv IPC socket not ready after %s: %w", timeout, err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *mpvPlayer) Play() error {
	return p.setProperty(context.Background(), "pause", false)
}

func (p *mpvPlayer) Pause() error {
	return p.setProperty(context.Background(), "pause", true)
}

func (p *mpvPlayer) Position() (time.Duration, error) {
	var seconds float64
	if err := p.getProperty(context.Background(), "time-pos", &seconds); err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (p *mpvPlayer) Seek(ctx context.Context, pos time.Duration) error {
	_, err := p.command(ctx, "seek", pos.Seconds(), "absolute+exact")
	return err
}

func (p *mpvPlayer) SetVolume(volume float64) error {
	return p.setProperty(context.Background(), "volume", volumePercent(volume))
}

func (p *mpvPlayer) SetStretch(stretch bool) error {
	return p.setProperty(context.Background(), "panscan", panscan(stretch))
}

func (p *mpvPlayer) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
	}
	return p.ipc != nil && !p.ipc.Closed()
}

// Close asks mpv to quit and kills it if it does not exit in time.
func (p *mpvPlayer) Close() error {
	p.closeOnce.Do(func() {
		if p.Alive() {
			ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
			_, _ = p.ipc.Command(ctx, "quit")
			cancel()
		}
		if p.ipc != nil {
			p.ipc.Close()
		}
		select {
		case <-p.exited:
		case <-time.After(quitTimeout):
			p.logger.Warn("player did not quit, killing it")
			p.kill()
		}
		_ = os.Remove(p.socket)
	})
	return nil
}

func (p *mpvPlayer) kill() {
	_ = p.cmd.Process.Kill()
	<-p.exited
	_ = os.Remove(p.socket)
}

func (p *mpvPlayer) command(ctx context.Context, args ...any) ([]byte, error) {
	if !p.Alive() {
		return nil, ErrExited
	}
	return p.ipc.Command(ctx, args...)
}

func (p *mpvPlayer) setProperty(ctx context.Context, name string, value any) error {
	_, err := p.command(ctx, "set_property", name, value)
	return err
}

func (p *mpvPlayer) getProperty(ctx context.Context, name string, out any) error {
	data, err := p.command(ctx, "get_property", name)
	if err != nil {
		return err
	}
	return decodeData(data, out)
}

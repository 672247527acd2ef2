package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/player"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBuildArgs(t *testing.T) {
	res := &media.Resource{Path: "/videos/beach.mp4"}
	args := buildArgs(0x2a00003, "/run/bd/mpv-1.sock", res, player.Options{Volume: 0.25, StartPaused: true})

	assert.Contains(t, args, "--wid=44040195")
	assert.Contains(t, args, "--input-ipc-server=/run/bd/mpv-1.sock")
	assert.Contains(t, args, "--loop-file=inf")
	assert.Contains(t, args, "--volume=25")
	assert.Contains(t, args, "--panscan=0.0")
	assert.Contains(t, args, "--pause")
	assert.Contains(t, args, "--cache=yes")
}

func TestBuildArgsDirectAndStretch(t *testing.T) {
	res := &media.Resource{Path: "/videos/huge.mkv", Direct: true}
	args := buildArgs(1, "/tmp/s", res, player.Options{Stretch: true})

	assert.Contains(t, args, "--cache=no")
	assert.Contains(t, args, "--panscan=1.0")
	assert.Contains(t, args, "--volume=0")
	assert.False(t, slices.Contains(args, "--pause"))
}

// fakeMPV answers commands on the server side of a pipe.
type fakeMPV struct {
	mu       sync.Mutex
	commands [][]any
	replies  map[string]string
}

func (f *fakeMPV) serve(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req struct {
			Command   []any `json:"command"`
			RequestID int64 `json:"request_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		key, _ := req.Command[0].(string)
		if len(req.Command) > 1 {
			if name, ok := req.Command[1].(string); ok {
				key += " " + name
			}
		}
		reply, ok := f.replies[key]
		f.mu.Unlock()
		if !ok {
			reply = `{"error":"success"}`
		}

		var msg map[string]any
		_ = json.Unmarshal([]byte(reply), &msg)
		msg["request_id"] = req.RequestID
		out, _ := json.Marshal(msg)

		// Events interleave with replies on a real socket.
		_, _ = conn.Write([]byte(`{"event":"playback-restart"}` + "\n"))
		if _, err := conn.Write(append(out, '\n')); err != nil {
			return
		}
	}
}

func (f *fakeMPV) sent() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

func newTestPlayer(t *testing.T, replies map[string]string) (*mpvPlayer, *fakeMPV) {
	t.Helper()
	client, server := net.Pipe()
	fake := &fakeMPV{replies: replies}
	go fake.serve(server)

	p := &mpvPlayer{ipc: newIPC(client), exited: make(chan struct{})}
	t.Cleanup(func() {
		p.ipc.Close()
	})
	return p, fake
}

func TestPlayerCommands(t *testing.T) {
	p, fake := newTestPlayer(t, nil)

	require.NoError(t, p.Pause())
	require.NoError(t, p.Play())
	require.NoError(t, p.SetVolume(0.5))
	require.NoError(t, p.SetStretch(true))
	require.NoError(t, p.Seek(context.Background(), 90*time.Second))

	sent := fake.sent()
	require.Len(t, sent, 5)
	assert.Equal(t, []any{"set_property", "pause", true}, sent[0])
	assert.Equal(t, []any{"set_property", "pause", false}, sent[1])
	assert.Equal(t, []any{"set_property", "volume", float64(50)}, sent[2])
	assert.Equal(t, []any{"set_property", "panscan", float64(1)}, sent[3])
	assert.Equal(t, []any{"seek", float64(90), "absolute+exact"}, sent[4])
}

func TestPlayerPosition(t *testing.T) {
	p, _ := newTestPlayer(t, map[string]string{
		"get_property time-pos": `{"error":"success","data":12.5}`,
	})

	pos, err := p.Position()
	require.NoError(t, err)
	assert.Equal(t, 12500*time.Millisecond, pos)
}

func TestPlayerErrorReply(t *testing.T) {
	p, _ := newTestPlayer(t, map[string]string{
		"get_property time-pos": `{"error":"property unavailable"}`,
	})

	_, err := p.Position()
	require.ErrorContains(t, err, "property unavailable")
}

func TestPlayerNotAliveAfterExit(t *testing.T) {
	p, _ := newTestPlayer(t, nil)
	require.True(t, p.Alive())

	close(p.exited)
	assert.False(t, p.Alive())
	assert.ErrorIs(t, p.Play(), ErrExited)
}

func TestClosedConnectionFailsCommands(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := newIPC(client)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Command(context.Background(), "get_property", "pause")
		errc <- err
	}()

	// Read the request so the write completes, then close without replying.
	_, err := bufio.NewReader(server).ReadBytes('\n')
	require.NoError(t, err)
	c.Close()

	assert.ErrorIs(t, <-errc, ErrClosed)
	assert.True(t, c.Closed())
	_, err = c.Command(context.Background(), "quit")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommandHonorsContext(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := newIPC(client)
	defer c.Close()
	go func() {
		_, _ = bufio.NewReader(server).ReadBytes('\n')
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Command(ctx, "get_property", "pause")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

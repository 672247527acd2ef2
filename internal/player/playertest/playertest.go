// Package playertest provides a fake player engine for tests.
package playertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/player"
)

// Player is an in-memory player.
type Player struct {
	mu       sync.Mutex
	Locator  string
	Surface  uint32
	playing  bool
	position time.Duration
	volume   float64
	stretch  bool
	closed   bool
	dead     bool
	calls    []string
	seeks    []time.Duration
	seekGate chan struct{}
}

func (p *Player) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("play")
	p.playing = true
	return nil
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("pause")
	p.playing = false
	return nil
}

func (p *Player) Position() (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, nil
}

func (p *Player) Seek(ctx context.Context, pos time.Duration) error {
	p.mu.Lock()
	gate := p.seekGate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("seek")
	p.position = pos
	p.seeks = append(p.seeks, pos)
	return nil
}

func (p *Player) SetVolume(volume float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	return nil
}

func (p *Player) SetStretch(stretch bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stretch = stretch
	return nil
}

func (p *Player) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && !p.dead
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("close")
	p.closed = true
	p.playing = false
	return nil
}

// Playing reports whether the player is playing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Volume returns the last volume set.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Stretch returns the last stretch flag set.
func (p *Player) Stretch() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stretch
}

// Closed reports whether Close was called.
func (p *Player) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// SetPosition moves the playhead without recording a seek.
func (p *Player) SetPosition(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
}

// HoldSeeks blocks Seek until the returned function is called.
func (p *Player) HoldSeeks() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.seekGate = gate
	p.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Kill simulates the engine process dying.
func (p *Player) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
}

// Seeks returns every position passed to Seek.
func (p *Player) Seeks() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.seeks...)
}

// Calls returns the ordered list of control calls.
func (p *Player) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Engine hands out fake players and remembers them.
type Engine struct {
	mu      sync.Mutex
	Players []*Player
	// Fail makes Open fail for the listed locators.
	Fail map[string]bool
}

var _ player.Engine = (*Engine)(nil)

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{Fail: make(map[string]bool)}
}

func (e *Engine) Open(_ context.Context, surface platform.Surface, res *media.Resource, opts player.Options) (player.Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Fail[res.Locator] {
		return nil, errors.New("engine refused to open " + res.Locator)
	}
	p := &Player{
		Locator: res.Locator,
		Surface: surface.ID(),
		playing: !opts.StartPaused,
		volume:  opts.Volume,
		stretch: opts.Stretch,
	}
	e.Players = append(e.Players, p)
	return p, nil
}

// Opened returns the number of players opened so far.
func (e *Engine) Opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Players)
}

// Last returns the most recently opened player.
func (e *Engine) Last() *Player {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Players) == 0 {
		return nil
	}
	return e.Players[len(e.Players)-1]
}

// SetFail toggles failure for a locator.
func (e *Engine) SetFail(locator string, fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Fail[locator] = fail
}

// Package player defines the media player engine that renders content into
// a display surface.
package player

import (
	"context"
	"time"

	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/platform"
)

// Options configure a newly opened player.
type Options struct {
	Stretch bool
	Volume  float64
	// StartPaused opens the player without starting playback.
	StartPaused bool
}

// Engine opens players bound to surfaces.
type Engine interface {
	Open(ctx context.Context, surface platform.Surface, res *media.Resource, opts Options) (Player, error)
}

// Player controls one loaded resource. Videos loop forever; images are shown
// until the player is closed.
type Player interface {
	Play() error
	Pause() error
	Position() (time.Duration, error)
	Seek(ctx context.Context, pos time.Duration) error
	SetVolume(volume float64) error
	SetStretch(stretch bool) error
	// Alive reports whether the engine behind the player is still running.
	Alive() bool
	Close() error
}

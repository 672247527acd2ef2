// Package recovery restores a display's content from its persisted record.
package recovery

import (
	"errors"
	"log/slog"

	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/platform"
	"github.com/1broseidon/backdrop/internal/store"
)

// RecordGetter reads persisted records.
type RecordGetter interface {
	Get(id platform.Identity) (store.Record, error)
}

// ShowFunc displays a descriptor on the display being restored.
type ShowFunc func(d media.Descriptor) error

// Chain tries, in order, the bookmark token and then the raw locator. The
// first step whose descriptor shows successfully wins. When every step fails
// the display is left without content.
type Chain struct {
	records   RecordGetter
	bookmarks store.Bookmarker
	logger    *slog.Logger
}

// New returns a chain. A nil bookmarker skips the token step.
func New(records RecordGetter, bookmarks store.Bookmarker, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{records: records, bookmarks: bookmarks, logger: logger}
}

// Restore runs the chain for id and reports whether content was shown.
// Failures are logged, never returned.
func (c *Chain) Restore(id platform.Identity, show ShowFunc) bool {
	rec, err := c.records.Get(id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrExpired) {
			c.logger.Warn("read display record", "display", id, "error", err)
		}
		return false
	}

	if c.fromToken(rec, show) {
		return true
	}
	if c.fromLocator(rec, show) {
		return true
	}
	c.logger.Info("no restorable content for display", "display", id)
	return false
}

func (c *Chain) fromToken(rec store.Record, show ShowFunc) bool {
	if len(rec.Token) == 0 || c.bookmarks == nil {
		return false
	}
	path, err := c.bookmarks.Resolve(rec.Token)
	if err != nil {
		c.logger.Info("bookmark did not resolve", "display", rec.Identity, "error", err)
		return false
	}
	kind := rec.Kind
	if kind == "" {
		guessed, ok := media.GuessKind(path)
		if !ok {
			return false
		}
		kind = guessed
	}
	if err := show(rec.Descriptor(path, kind)); err != nil {
		c.logger.Warn("show bookmarked content", "display", rec.Identity, "path", path, "error", err)
		return false
	}
	c.logger.Debug("restored display from bookmark", "display", rec.Identity)
	return true
}

func (c *Chain) fromLocator(rec store.Record, show ShowFunc) bool {
	if rec.Locator == "" {
		return false
	}
	kind, ok := media.GuessKind(rec.Locator)
	if !ok {
		kind = rec.Kind
	}
	if kind == "" {
		return false
	}
	if err := show(rec.Descriptor(rec.Locator, kind)); err != nil {
		c.logger.Warn("show saved locator", "display", rec.Identity, "locator", rec.Locator, "error", err)
		return false
	}
	c.logger.Debug("restored display from saved locator", "display", rec.Identity)
	return true
}

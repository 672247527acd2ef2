// Package media describes wallpaper content and loads it from disk.
package media

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Kind is the type of content shown on a display.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var (
	ErrUnsupported = errors.New("unsupported media")
	ErrUnreadable  = errors.New("unreadable media")
)

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".m4v": {}, ".mov": {}, ".mkv": {}, ".webm": {}, ".avi": {}, ".gif": {},
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".heic": {}, ".webp": {}, ".bmp": {}, ".tif": {}, ".tiff": {},
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindImage:
		return KindImage, nil
	case KindVideo:
		return KindVideo, nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// GuessKind infers the kind from the locator's file extension.
func GuessKind(locator string) (Kind, bool) {
	ext := strings.ToLower(filepath.Ext(LocalPath(locator)))
	if _, ok := videoExtensions[ext]; ok {
		return KindVideo, true
	}
	if _, ok := imageExtensions[ext]; ok {
		return KindImage, true
	}
	return "", false
}

// LocalPath strips a file:// scheme from a locator.
func LocalPath(locator string) string {
	if strings.HasPrefix(locator, "file://") {
		if u, err := url.Parse(locator); err == nil {
			return u.Path
		}
	}
	return locator
}

// Descriptor is the content assigned to a display.
type Descriptor struct {
	Kind    Kind     `json:"kind"`
	Locator string   `json:"locator"`
	Stretch bool     `json:"stretch"`
	Volume  *float64 `json:"volume,omitempty"`
}

// Validate checks the descriptor is usable.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Locator) == "" {
		return fmt.Errorf("locator is required")
	}
	if d.Kind != KindImage && d.Kind != KindVideo {
		return fmt.Errorf("unknown media kind %q", d.Kind)
	}
	if d.Volume != nil && (*d.Volume < 0 || *d.Volume > 1) {
		return fmt.Errorf("volume %.2f out of range [0,1]", *d.Volume)
	}
	return nil
}

// Name returns the file name component of the locator.
func (d Descriptor) Name() string {
	return filepath.Base(LocalPath(d.Locator))
}

// EffectiveVolume returns the volume, treating an unset volume as silent.
func (d Descriptor) EffectiveVolume() float64 {
	if d.Volume == nil {
		return 0
	}
	return *d.Volume
}

// Clone returns a deep copy.
func (d Descriptor) Clone() Descriptor {
	out := d
	if d.Volume != nil {
		v := *d.Volume
		out.Volume = &v
	}
	return out
}

// Volume returns a pointer to v clamped to [0,1].
func Volume(v float64) *float64 {
	v = ClampVolume(v)
	return &v
}

// ClampVolume limits v to [0,1].
func ClampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

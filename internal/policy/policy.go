// Package policy decides whether each display's media should play or pause.
package policy

import (
	"fmt"
	"strings"

	"github.com/1broseidon/backdrop/internal/platform"
)

// Mode is the user-selected playback rule set.
type Mode string

const (
	AlwaysPlay    Mode = "always-play"
	Automatic     Mode = "automatic"
	PowerSave     Mode = "power-save"
	PowerSavePlus Mode = "power-save-plus"
	Stationary    Mode = "stationary"
)

// Modes lists every mode in presentation order.
var Modes = []Mode{AlwaysPlay, Automatic, PowerSave, PowerSavePlus, Stationary}

// ParseMode parses a mode name. Underscores and case are ignored.
func ParseMode(s string) (Mode, error) {
	normalized := Mode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	for _, m := range Modes {
		if m == normalized {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown policy mode %q (want one of %s)", s, joinModes())
}

func joinModes() string {
	names := make([]string, len(Modes))
	for i, m := range Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// Action is the outcome for one session.
type Action int

const (
	Play Action = iota
	Pause
)

func (a Action) String() string {
	if a == Pause {
		return "pause"
	}
	return "play"
}

// Signals are the inputs for one session's decision.
type Signals struct {
	// Covered reports whether this session's own occlusion probe is fully
	// covered.
	Covered bool
	// AnyCovered reports whether at least one probe is fully covered.
	AnyCovered bool
	// AllCovered reports whether every probe is fully covered.
	AllCovered bool
	// ScreensaverActive overrides every mode to Play.
	ScreensaverActive bool
}

// Decide maps a mode and signals to an action.
//
// PowerSave pauses only when every probe is covered while PowerSavePlus
// pauses as soon as any probe is covered. Automatic looks only at the
// session's own probe.
func Decide(mode Mode, s Signals) Action {
	if s.ScreensaverActive {
		return Play
	}
	switch mode {
	case Stationary:
		return Pause
	case PowerSave:
		if s.AllCovered {
			return Pause
		}
	case PowerSavePlus:
		if s.AnyCovered {
			return Pause
		}
	case Automatic:
		if s.Covered {
			return Pause
		}
	}
	return Play
}

// Evaluate decides every session at once from a single snapshot of probe
// coverage, so no decision sees partially updated inputs.
func Evaluate(mode Mode, covered map[platform.Identity]bool, screensaverActive bool) map[platform.Identity]Action {
	anyCovered, allCovered := false, len(covered) > 0
	for _, c := range covered {
		if c {
			anyCovered = true
		} else {
			allCovered = false
		}
	}

	out := make(map[platform.Identity]Action, len(covered))
	for id, c := range covered {
		out[id] = Decide(mode, Signals{
			Covered:           c,
			AnyCovered:        anyCovered,
			AllCovered:        allCovered,
			ScreensaverActive: screensaverActive,
		})
	}
	return out
}

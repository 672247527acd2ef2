package policy

import (
	"testing"

	"github.com/1broseidon/backdrop/internal/platform"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"always-play", AlwaysPlay, true},
		{"POWER_SAVE_PLUS", PowerSavePlus, true},
		{" automatic ", Automatic, true},
		{"stationary", Stationary, true},
		{"turbo", "", false},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.ok && err != nil {
			t.Fatalf("ParseMode(%q) error: %v", tt.in, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("ParseMode(%q) expected error", tt.in)
		}
		if got != tt.want {
			t.Fatalf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecideTable(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		sig  Signals
		want Action
	}{
		{"always play ignores coverage", AlwaysPlay, Signals{Covered: true, AnyCovered: true, AllCovered: true}, Play},
		{"stationary always pauses", Stationary, Signals{}, Pause},
		{"automatic own probe covered", Automatic, Signals{Covered: true, AnyCovered: true}, Pause},
		{"automatic other probe covered", Automatic, Signals{AnyCovered: true}, Play},
		{"power save partial coverage", PowerSave, Signals{Covered: true, AnyCovered: true}, Play},
		{"power save full coverage", PowerSave, Signals{Covered: true, AnyCovered: true, AllCovered: true}, Pause},
		{"power save plus any coverage", PowerSavePlus, Signals{AnyCovered: true}, Pause},
		{"power save plus nothing covered", PowerSavePlus, Signals{}, Play},
		{"screensaver overrides stationary", Stationary, Signals{ScreensaverActive: true}, Play},
		{"screensaver overrides automatic", Automatic, Signals{Covered: true, ScreensaverActive: true}, Play},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.mode, tt.sig); got != tt.want {
				t.Fatalf("Decide(%s, %+v) = %s, want %s", tt.mode, tt.sig, got, tt.want)
			}
		})
	}
}

func TestEvaluateOneOfThreeCovered(t *testing.T) {
	covered := map[platform.Identity]bool{"A": true, "B": false, "C": false}

	for id, action := range Evaluate(PowerSavePlus, covered, false) {
		if action != Pause {
			t.Fatalf("power-save-plus: %s = %s, want pause", id, action)
		}
	}
	for id, action := range Evaluate(PowerSave, covered, false) {
		if action != Play {
			t.Fatalf("power-save: %s = %s, want play", id, action)
		}
	}

	auto := Evaluate(Automatic, covered, false)
	if auto["A"] != Pause || auto["B"] != Play || auto["C"] != Play {
		t.Fatalf("automatic decisions = %v", auto)
	}
}

func TestEvaluateAllCovered(t *testing.T) {
	covered := map[platform.Identity]bool{"A": true, "B": true}
	for id, action := range Evaluate(PowerSave, covered, false) {
		if action != Pause {
			t.Fatalf("%s = %s, want pause", id, action)
		}
	}
	for id, action := range Evaluate(PowerSave, covered, true) {
		if action != Play {
			t.Fatalf("screensaver active: %s = %s, want play", id, action)
		}
	}
}

func TestEvaluateEmpty(t *testing.T) {
	if got := Evaluate(PowerSave, nil, false); len(got) != 0 {
		t.Fatalf("expected no decisions, got %v", got)
	}
}

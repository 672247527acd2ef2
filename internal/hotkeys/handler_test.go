package hotkeys

import (
	"slices"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
)

func TestIgnoreMasks(t *testing.T) {
	caps := uint16(xproto.ModMaskLock)
	num := uint16(xproto.ModMask2)
	scroll := uint16(xproto.ModMask5)

	tests := []struct {
		name      string
		num, lock uint16
		want      []uint16
	}{
		{"caps only", 0, 0, []uint16{0, caps}},
		{"caps and numlock", num, 0, []uint16{0, caps, num, caps | num}},
		{"numlock shares caps mask", caps, 0, []uint16{0, caps}},
		{"all three", num, scroll, []uint16{0, caps, num, caps | num, scroll, caps | scroll, num | scroll, caps | num | scroll}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := slices.Clone(tt.want)
			slices.Sort(want)
			got := ignoreMasks(tt.num, tt.lock)
			if !slices.Equal(got, want) {
				t.Fatalf("ignoreMasks(%#x, %#x) = %v, want %v", tt.num, tt.lock, got, want)
			}
		})
	}
}

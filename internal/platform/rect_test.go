package platform

import "testing"

func TestFullyCovered(t *testing.T) {
	region := Rect{X: 0, Y: 0, Width: 100, Height: 100}

	tests := []struct {
		name   string
		covers []Rect
		want   bool
	}{
		{name: "no windows", covers: nil, want: false},
		{name: "single window larger", covers: []Rect{{X: -10, Y: -10, Width: 200, Height: 200}}, want: true},
		{name: "exact match", covers: []Rect{region}, want: true},
		{name: "half only", covers: []Rect{{X: 0, Y: 0, Width: 50, Height: 100}}, want: false},
		{
			name: "two halves",
			covers: []Rect{
				{X: 0, Y: 0, Width: 50, Height: 100},
				{X: 50, Y: 0, Width: 50, Height: 100},
			},
			want: true,
		},
		{
			name: "four quadrants with a one pixel gap",
			covers: []Rect{
				{X: 0, Y: 0, Width: 50, Height: 50},
				{X: 51, Y: 0, Width: 49, Height: 50},
				{X: 0, Y: 50, Width: 50, Height: 50},
				{X: 50, Y: 50, Width: 50, Height: 50},
			},
			want: false,
		},
		{
			name: "overlapping windows",
			covers: []Rect{
				{X: 0, Y: 0, Width: 70, Height: 70},
				{X: 30, Y: 30, Width: 70, Height: 70},
				{X: 60, Y: 0, Width: 40, Height: 40},
				{X: 0, Y: 60, Width: 40, Height: 40},
			},
			want: true,
		},
		{name: "window elsewhere", covers: []Rect{{X: 200, Y: 200, Width: 100, Height: 100}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FullyCovered(region, tt.covers); got != tt.want {
				t.Fatalf("FullyCovered() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFullyCovered_EmptyRegion(t *testing.T) {
	if FullyCovered(Rect{}, []Rect{{X: 0, Y: 0, Width: 10, Height: 10}}) {
		t.Fatal("empty region must not be reported as covered")
	}
}

func TestRectInset(t *testing.T) {
	r := Rect{X: 100, Y: 0, Width: 1000, Height: 800}
	got := r.Inset(0.5)
	want := Rect{X: 350, Y: 200, Width: 500, Height: 400}
	if got != want {
		t.Fatalf("Inset(0.5) = %+v, want %+v", got, want)
	}
	if r.Inset(0) != r {
		t.Fatal("Inset(0) should return the original rect")
	}
}

package platform

// Rect describes a rectangular region in screen coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Intersect returns the overlap of r and o, or the zero Rect.
func (r Rect) Intersect(o Rect) Rect {
	x1 := max(r.X, o.X)
	y1 := max(r.Y, o.Y)
	x2 := min(r.X+r.Width, o.X+o.Width)
	y2 := min(r.Y+r.Height, o.Y+o.Height)
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Inset shrinks r towards its center, keeping the given fraction of each
// dimension.
func (r Rect) Inset(fraction float64) Rect {
	if fraction <= 0 || fraction >= 1 {
		return r
	}
	w := int(float64(r.Width) * fraction)
	h := int(float64(r.Height) * fraction)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return Rect{
		X:      r.X + (r.Width-w)/2,
		Y:      r.Y + (r.Height-h)/2,
		Width:  w,
		Height: h,
	}
}

// subtract returns the parts of r not covered by c, as at most four
// non-overlapping rectangles.
func (r Rect) subtract(c Rect) []Rect {
	isect := r.Intersect(c)
	if isect.Empty() {
		return []Rect{r}
	}

	var out []Rect
	// Band above the intersection.
	if isect.Y > r.Y {
		out = append(out, Rect{X: r.X, Y: r.Y, Width: r.Width, Height: isect.Y - r.Y})
	}
	// Band below.
	if bottom := isect.Y + isect.Height; bottom < r.Y+r.Height {
		out = append(out, Rect{X: r.X, Y: bottom, Width: r.Width, Height: r.Y + r.Height - bottom})
	}
	// Left and right of the intersection, limited to its rows.
	if isect.X > r.X {
		out = append(out, Rect{X: r.X, Y: isect.Y, Width: isect.X - r.X, Height: isect.Height})
	}
	if right := isect.X + isect.Width; right < r.X+r.Width {
		out = append(out, Rect{X: right, Y: isect.Y, Width: r.X + r.Width - right, Height: isect.Height})
	}
	return out
}

// FullyCovered reports whether the union of covers contains region.
// An empty region is never reported as covered.
func FullyCovered(region Rect, covers []Rect) bool {
	if region.Empty() {
		return false
	}
	remaining := []Rect{region}
	for _, c := range covers {
		if c.Empty() {
			continue
		}
		next := remaining[:0:0]
		for _, r := range remaining {
			next = append(next, r.subtract(c)...)
		}
		remaining = next
		if len(remaining) == 0 {
			return true
		}
	}
	return len(remaining) == 0
}
